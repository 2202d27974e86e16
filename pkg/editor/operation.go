package editor

import (
	"github.com/dukex/callflow/pkg/models"
)

// OpKind names a node-set mutation.
type OpKind string

const (
	OpAdd        OpKind = "add"
	OpUpdate     OpKind = "update"
	OpDelete     OpKind = "delete"
	OpDuplicate  OpKind = "duplicate"
	OpConnect    OpKind = "connect"
	OpDisconnect OpKind = "disconnect"
)

// Operation is one mutation described as data, as received over the API.
type Operation struct {
	Op           OpKind           `json:"op"                      validate:"required,oneof=add update delete duplicate connect disconnect"`
	Node         *models.FlowNode `json:"node,omitempty"`
	NodeID       string           `json:"node_id,omitempty"`
	Patch        *NodePatch       `json:"patch,omitempty"`
	SourceID     string           `json:"source_id,omitempty"`
	TargetID     string           `json:"target_id,omitempty"`
	Label        string           `json:"label,omitempty"`
	Default      bool             `json:"default,omitempty"`
	ConnectionID string           `json:"connection_id,omitempty"`
}

// Apply dispatches op to the matching mutation.
func (e *Editor) Apply(flow *models.Flow, op Operation) (*models.Flow, error) {
	switch op.Op {
	case OpAdd:
		if op.Node == nil {
			return nil, mutationErr(string(op.Op), KindInvalidOperation, "", "node is required")
		}

		return e.AddNode(flow, op.Node)
	case OpUpdate:
		if op.Patch == nil {
			return nil, mutationErr(string(op.Op), KindInvalidOperation, op.NodeID, "patch is required")
		}

		return e.UpdateNode(flow, op.NodeID, *op.Patch)
	case OpDelete:
		return e.DeleteNode(flow, op.NodeID)
	case OpDuplicate:
		next, _, err := e.DuplicateNode(flow, op.NodeID)

		return next, err
	case OpConnect:
		var opts []ConnectOption
		if op.Default {
			opts = append(opts, AsDefault())
		}

		return e.Connect(flow, op.SourceID, op.TargetID, op.Label, opts...)
	case OpDisconnect:
		return e.Disconnect(flow, op.SourceID, op.ConnectionID)
	default:
		return nil, mutationErr(string(op.Op), KindInvalidOperation, "", "unknown operation %q", op.Op)
	}
}
