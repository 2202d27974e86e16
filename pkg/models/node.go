// Package models defines core flow node models for graph execution
package models

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// NodeType is the tag selecting a node's behavior and payload variant.
type NodeType string

const (
	NodeTypeStart     NodeType = "start"
	NodeTypeEnd       NodeType = "end"
	NodeTypeMessage   NodeType = "message"
	NodeTypeCondition NodeType = "condition"
	NodeTypeDTMF      NodeType = "dtmf"
	NodeTypeAPI       NodeType = "api"
	NodeTypeAssistant NodeType = "assistant"
	NodeTypeTransfer  NodeType = "transfer"
	NodeTypeWait      NodeType = "wait"
	NodeTypeVariable  NodeType = "variable"
)

// NodeTypes lists every node type the engine can interpret.
var NodeTypes = []NodeType{
	NodeTypeStart,
	NodeTypeEnd,
	NodeTypeMessage,
	NodeTypeCondition,
	NodeTypeDTMF,
	NodeTypeAPI,
	NodeTypeAssistant,
	NodeTypeTransfer,
	NodeTypeWait,
	NodeTypeVariable,
}

// IsKnown reports whether t is one of the built-in node types.
func (t NodeType) IsKnown() bool {
	return slices.Contains(NodeTypes, t)
}

// Position is the canvas location of a node. It has no execution meaning.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Connection is a directed, labeled edge to another node in the same flow.
type Connection struct {
	ID           string `json:"id"`
	TargetNodeID string `json:"target_node_id" validate:"required"`
	Label        string `json:"label,omitempty"`
	Default      bool   `json:"default,omitempty"` // Fallback taken when no branch or key matches
}

// AnyKeyLabel marks a dtmf connection taken by any key that no option claims.
const AnyKeyLabel = "any key"

// defaultLabels are labels that mark a connection as the fallback by convention.
var defaultLabels = []string{"default", "else", AnyKeyLabel}

// IsDefault reports whether the connection is a fallback, either explicitly or
// through one of the conventional labels.
func (c *Connection) IsDefault() bool {
	if c.Default {
		return true
	}

	return slices.Contains(defaultLabels, strings.ToLower(strings.TrimSpace(c.Label)))
}

// FlowNode is a unit of conversation behavior.
type FlowNode struct {
	ID          string        `json:"id"       validate:"required"`
	Type        NodeType      `json:"type"     validate:"required"`
	Label       string        `json:"label"`
	Position    Position      `json:"position"`
	Payload     Payload       `json:"-"`
	Connections []*Connection `json:"connections"`
}

type flowNodeJSON struct {
	ID          string          `json:"id"`
	Type        NodeType        `json:"type"`
	Label       string          `json:"label"`
	Position    Position        `json:"position"`
	Data        json.RawMessage `json:"data,omitempty"`
	Connections []*Connection   `json:"connections"`
}

// MarshalJSON encodes the payload under "data".
func (n FlowNode) MarshalJSON() ([]byte, error) {
	out := flowNodeJSON{
		ID:          n.ID,
		Type:        n.Type,
		Label:       n.Label,
		Position:    n.Position,
		Connections: n.Connections,
	}

	if out.Connections == nil {
		out.Connections = []*Connection{}
	}

	if n.Payload != nil {
		data, err := json.Marshal(n.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload for node %s: %w", n.Type, n.ID, err)
		}

		out.Data = data
	}

	return json.Marshal(out)
}

// UnmarshalJSON decodes "data" into the payload variant selected by "type".
func (n *FlowNode) UnmarshalJSON(body []byte) error {
	var in flowNodeJSON
	if err := json.Unmarshal(body, &in); err != nil {
		return err
	}

	payload, err := DecodePayload(in.Type, in.Data)
	if err != nil {
		return fmt.Errorf("node %s: %w", in.ID, err)
	}

	*n = FlowNode{
		ID:          in.ID,
		Type:        in.Type,
		Label:       in.Label,
		Position:    in.Position,
		Payload:     payload,
		Connections: in.Connections,
	}

	return nil
}

// Clone returns a copy of the node with its own connection list.
// The payload is shared; payloads are replaced, never edited.
func (n *FlowNode) Clone() *FlowNode {
	c := *n
	c.Connections = make([]*Connection, 0, len(n.Connections))

	for _, conn := range n.Connections {
		cc := *conn
		c.Connections = append(c.Connections, &cc)
	}

	return &c
}

// DefaultConnection returns the node's fallback connection. An explicit
// Default flag wins over a conventional label. Condition nodes additionally
// treat the connection right after the last branch as the implicit else, and
// dtmf nodes treat their last unlabeled connection as the fallback.
func (n *FlowNode) DefaultConnection() (*Connection, bool) {
	for _, c := range n.Connections {
		if c.Default {
			return c, true
		}
	}

	for _, c := range n.Connections {
		if c.IsDefault() {
			return c, true
		}
	}

	switch p := n.Payload.(type) {
	case *ConditionPayload:
		if idx := len(p.Branches); idx < len(n.Connections) {
			return n.Connections[idx], true
		}
	case *DTMFPayload:
		for i := len(n.Connections) - 1; i >= 0; i-- {
			if strings.TrimSpace(n.Connections[i].Label) == "" {
				return n.Connections[i], true
			}
		}
	}

	return nil, false
}

// ConnectionByLabel returns the first connection whose label equals label,
// ignoring case and surrounding whitespace.
func (n *FlowNode) ConnectionByLabel(label string) (*Connection, bool) {
	want := strings.ToLower(strings.TrimSpace(label))

	for _, c := range n.Connections {
		if strings.ToLower(strings.TrimSpace(c.Label)) == want {
			return c, true
		}
	}

	return nil, false
}

// ConnectionTo returns the first connection pointing at targetID.
func (n *FlowNode) ConnectionTo(targetID string) (*Connection, bool) {
	for _, c := range n.Connections {
		if c.TargetNodeID == targetID {
			return c, true
		}
	}

	return nil, false
}
