package models

import (
	"encoding/json"
	"fmt"
)

// Payload is the type-specific data of a node. Exactly one variant exists per
// node type; start and end nodes carry none.
type Payload interface {
	NodeType() NodeType
}

// MessagePayload is spoken or written text.
type MessagePayload struct {
	Text     string `json:"text"`
	Voice    string `json:"voice,omitempty"`
	Language string `json:"language,omitempty"`
	SSML     bool   `json:"ssml,omitempty"`
}

func (*MessagePayload) NodeType() NodeType { return NodeTypeMessage }

// ConditionBranch is a named boolean expression.
type ConditionBranch struct {
	ID         string `json:"id,omitempty"`
	Name       string `json:"name"`
	Expression string `json:"expression"`
}

// ConditionPayload holds ordered branches evaluated first-match-wins.
type ConditionPayload struct {
	Branches []ConditionBranch `json:"branches"`
}

func (*ConditionPayload) NodeType() NodeType { return NodeTypeCondition }

// DTMFOption maps a keypad key to an optional target node.
type DTMFOption struct {
	Key    string `json:"key"`
	Label  string `json:"label,omitempty"`
	Target string `json:"target,omitempty"`
}

// DTMFPayload is a keypad menu.
type DTMFPayload struct {
	Prompt   string       `json:"prompt"`
	Options  []DTMFOption `json:"options"`
	Timeout  int          `json:"timeout,omitempty"` // seconds
	Retries  int          `json:"retries,omitempty"`
	Variable string       `json:"variable,omitempty"` // Receives the pressed key
}

func (*DTMFPayload) NodeType() NodeType { return NodeTypeDTMF }

// Keys returns the option keys in declared order.
func (p *DTMFPayload) Keys() []string {
	keys := make([]string, 0, len(p.Options))
	for _, o := range p.Options {
		keys = append(keys, o.Key)
	}

	return keys
}

// APIPayload describes an outbound HTTP call.
type APIPayload struct {
	Method           string            `json:"method"`
	URL              string            `json:"url"`
	Headers          map[string]string `json:"headers,omitempty"`
	Body             string            `json:"body,omitempty"`
	ResponseVariable string            `json:"response_variable,omitempty"`
	ResponsePath     string            `json:"response_path,omitempty"` // JMESPath applied to the response before binding
	Timeout          int               `json:"timeout,omitempty"`       // seconds
}

func (*APIPayload) NodeType() NodeType { return NodeTypeAPI }

// AssistantPayload is a multi-turn AI assistant exchange.
type AssistantPayload struct {
	AssistantID string  `json:"assistant_id"`
	Prompt      string  `json:"prompt,omitempty"`
	MaxTurns    int     `json:"max_turns,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

func (*AssistantPayload) NodeType() NodeType { return NodeTypeAssistant }

// TransferPayload hands the conversation to another destination.
type TransferPayload struct {
	Destination string `json:"destination"`
	Type        string `json:"type,omitempty"` // phone, queue, agent, sip
}

func (*TransferPayload) NodeType() NodeType { return NodeTypeTransfer }

// WaitPayload pauses the conversation.
type WaitPayload struct {
	Seconds int `json:"seconds"`
}

func (*WaitPayload) NodeType() NodeType { return NodeTypeWait }

// VariablePayload assigns a session variable.
type VariablePayload struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func (*VariablePayload) NodeType() NodeType { return NodeTypeVariable }

// NewPayload returns an empty payload for t, or nil when t carries none.
func NewPayload(t NodeType) Payload {
	switch t {
	case NodeTypeMessage:
		return &MessagePayload{}
	case NodeTypeCondition:
		return &ConditionPayload{}
	case NodeTypeDTMF:
		return &DTMFPayload{}
	case NodeTypeAPI:
		return &APIPayload{Method: "GET"}
	case NodeTypeAssistant:
		return &AssistantPayload{MaxTurns: 1}
	case NodeTypeTransfer:
		return &TransferPayload{}
	case NodeTypeWait:
		return &WaitPayload{}
	case NodeTypeVariable:
		return &VariablePayload{}
	default:
		return nil
	}
}

// DecodePayload decodes raw JSON into the variant for t. Types without a
// payload, including unknown ones, decode to nil.
func DecodePayload(t NodeType, raw json.RawMessage) (Payload, error) {
	payload := NewPayload(t)
	if payload == nil || len(raw) == 0 || string(raw) == "null" {
		return payload, nil
	}

	if err := json.Unmarshal(raw, payload); err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", t, err)
	}

	return payload, nil
}

// PayloadToMap converts a payload into its JSON object form.
func PayloadToMap(p Payload) (map[string]any, error) {
	out := map[string]any{}
	if p == nil {
		return out, nil
	}

	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}

	return out, nil
}

// MergePayload overlays patch onto p and returns a new payload of the same
// variant. Keys absent from patch keep their current values.
func MergePayload(t NodeType, p Payload, patch map[string]any) (Payload, error) {
	base, err := PayloadToMap(p)
	if err != nil {
		return nil, err
	}

	for k, v := range patch {
		base[k] = v
	}

	raw, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}

	return DecodePayload(t, raw)
}

// ClonePayload returns a deep copy of p.
func ClonePayload(t NodeType, p Payload) (Payload, error) {
	return MergePayload(t, p, nil)
}
