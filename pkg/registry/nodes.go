package registry

import (
	"log/slog"

	"github.com/dukex/callflow/pkg/models"
)

type descriptor struct {
	id          models.NodeType
	name        string
	description string
	category    string
	outputs     []string
	schema      map[string]any
}

func (d *descriptor) ID() models.NodeType    { return d.id }
func (d *descriptor) Name() string           { return d.name }
func (d *descriptor) Description() string    { return d.description }
func (d *descriptor) Category() string       { return d.category }
func (d *descriptor) Outputs() []string      { return d.outputs }
func (d *descriptor) Schema() map[string]any { return d.schema }

func object(required []string, properties map[string]any) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}

	return s
}

func nonNegativeInt(description string) map[string]any {
	return map[string]any{"type": "integer", "minimum": 0, "description": description}
}

// DefaultNodes returns descriptors for every built-in node type.
func DefaultNodes() []NodeDescriptor {
	return []NodeDescriptor{
		&descriptor{
			id:          models.NodeTypeStart,
			name:        "Start",
			description: "Entry point of the flow. Exactly one per flow.",
			category:    "control",
			outputs:     []string{""},
			schema:      object(nil, map[string]any{}),
		},
		&descriptor{
			id:          models.NodeTypeEnd,
			name:        "End",
			description: "Terminates the conversation.",
			category:    "control",
			schema:      object(nil, map[string]any{}),
		},
		&descriptor{
			id:          models.NodeTypeMessage,
			name:        "Message",
			description: "Speaks or writes text. Supports {{variable}} interpolation.",
			category:    "conversation",
			outputs:     []string{""},
			schema: object([]string{"text"}, map[string]any{
				"text": map[string]any{
					"type":        "string",
					"description": "Text to say",
					"examples":    []string{"Hello {{customer_name}}, thanks for calling."},
				},
				"voice":    map[string]any{"type": "string"},
				"language": map[string]any{"type": "string", "examples": []string{"en-US", "pt-BR"}},
				"ssml":     map[string]any{"type": "boolean"},
			}),
		},
		&descriptor{
			id:          models.NodeTypeCondition,
			name:        "Condition",
			description: "Evaluates branches in order and follows the first that is true, else the default connection.",
			category:    "logic",
			outputs:     []string{"<branch name>", "default"},
			schema: object([]string{"branches"}, map[string]any{
				"branches": map[string]any{
					"type": []string{"array", "null"},
					"items": object([]string{"name", "expression"}, map[string]any{
						"id":   map[string]any{"type": "string"},
						"name": map[string]any{"type": "string", "minLength": 1},
						"expression": map[string]any{
							"type":     "string",
							"examples": []string{"status == \"vip\"", "attempts >= 3 && !verified"},
						},
					}),
				},
			}),
		},
		&descriptor{
			id:          models.NodeTypeDTMF,
			name:        "Keypad Menu",
			description: "Prompts for a keypad key and routes on the key pressed.",
			category:    "input",
			outputs:     []string{"<key>", "default"},
			schema: object([]string{"prompt", "options"}, map[string]any{
				"prompt": map[string]any{"type": "string"},
				"options": map[string]any{
					"type": []string{"array", "null"},
					"items": object([]string{"key"}, map[string]any{
						"key":    map[string]any{"type": "string", "pattern": "^[0-9*#]$"},
						"label":  map[string]any{"type": "string"},
						"target": map[string]any{"type": "string"},
					}),
				},
				"timeout":  nonNegativeInt("Seconds to wait for a key"),
				"retries":  nonNegativeInt("Re-prompts after an unmatched key"),
				"variable": map[string]any{"type": "string", "description": "Variable receiving the pressed key"},
			}),
		},
		&descriptor{
			id:          models.NodeTypeAPI,
			name:        "API Call",
			description: "Calls an HTTP endpoint and binds the response to a variable.",
			category:    "integration",
			outputs:     []string{"", "error"},
			schema: object([]string{"method", "url"}, map[string]any{
				"method": map[string]any{
					"type":    "string",
					"default": "GET",
					"enum":    []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD"},
				},
				"url": map[string]any{
					"type":     "string",
					"examples": []string{"https://crm.example.com/customers/{{caller_id}}"},
				},
				"headers": map[string]any{
					"type":                 "object",
					"additionalProperties": map[string]any{"type": "string"},
				},
				"body":              map[string]any{"type": "string"},
				"response_variable": map[string]any{"type": "string"},
				"response_path": map[string]any{
					"type":        "string",
					"description": "JMESPath expression applied to the response before binding",
					"examples":    []string{"data.customer.tier"},
				},
				"timeout": nonNegativeInt("Request timeout in seconds"),
			}),
		},
		&descriptor{
			id:          models.NodeTypeAssistant,
			name:        "AI Assistant",
			description: "Hands the conversation to an assistant for a bounded number of turns.",
			category:    "conversation",
			outputs:     []string{""},
			schema: object(nil, map[string]any{
				"assistant_id": map[string]any{"type": "string"},
				"prompt":       map[string]any{"type": "string"},
				"max_turns":    nonNegativeInt("Turns before the flow continues"),
				"temperature":  map[string]any{"type": "number", "minimum": 0, "maximum": 2},
			}),
		},
		&descriptor{
			id:          models.NodeTypeTransfer,
			name:        "Transfer",
			description: "Transfers the conversation to a phone number, queue, agent or SIP endpoint.",
			category:    "routing",
			outputs:     []string{""},
			schema: object([]string{"destination"}, map[string]any{
				"destination": map[string]any{"type": "string"},
				"type": map[string]any{
					"type": "string",
					"enum": []string{"phone", "queue", "agent", "sip"},
				},
			}),
		},
		&descriptor{
			id:          models.NodeTypeWait,
			name:        "Wait",
			description: "Pauses the conversation.",
			category:    "control",
			outputs:     []string{""},
			schema: object([]string{"seconds"}, map[string]any{
				"seconds": nonNegativeInt("Pause length"),
			}),
		},
		&descriptor{
			id:          models.NodeTypeVariable,
			name:        "Set Variable",
			description: "Assigns a session variable. The value supports {{variable}} interpolation.",
			category:    "logic",
			outputs:     []string{""},
			schema: object([]string{"name"}, map[string]any{
				"name":  map[string]any{"type": "string"},
				"value": map[string]any{"type": "string"},
			}),
		},
	}
}

// RegisterDefaultNodes registers every built-in node type.
func (r *Registry) RegisterDefaultNodes() error {
	for _, d := range DefaultNodes() {
		if err := r.RegisterNode(d); err != nil {
			return err
		}
	}

	return nil
}

// NewDefaultRegistry returns a registry holding the built-in node types.
func NewDefaultRegistry(log *slog.Logger) (*Registry, error) {
	r := NewRegistry(log)
	if err := r.RegisterDefaultNodes(); err != nil {
		return nil, err
	}

	return r, nil
}
