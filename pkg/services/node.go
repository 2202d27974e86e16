package services

import (
	"context"
	"errors"

	"github.com/dukex/callflow/pkg/editor"
	"github.com/dukex/callflow/pkg/events"
	"github.com/dukex/callflow/pkg/metrics"
	"github.com/dukex/callflow/pkg/models"
	"github.com/dukex/callflow/pkg/otelhelper"
	"github.com/dukex/callflow/pkg/persistence"
	"github.com/dukex/callflow/pkg/registry"
	"go.opentelemetry.io/otel/attribute"
)

// Node applies node-set mutations to stored flows and keeps their undo history.
type Node struct {
	base

	registry *registry.Registry
}

// NewNode creates a new node service. Payloads of added and updated nodes are
// checked against the registry's schemas.
func NewNode(p persistence.Persistence, reg *registry.Registry, opts ...Option) *Node {
	return &Node{
		base:     newBase(p, "node_service", opts),
		registry: reg,
	}
}

// Apply runs one mutation against the stored flow. A rejected mutation leaves
// the flow and its history untouched.
func (n *Node) Apply(ctx context.Context, flowID string, op editor.Operation) (*models.Flow, error) {
	opName := "apply_" + string(op.Op)

	ctx, span := otelhelper.StartSpan(ctx, n.tracer, "node.apply",
		attribute.String(otelhelper.FlowIDKey, flowID),
		attribute.String(otelhelper.MutationOpKey, string(op.Op)),
	)
	defer span.End()

	unlock := n.histories.Lock(flowID)
	defer unlock()

	flow, err := n.load(ctx, opName, flowID)
	if err != nil {
		return nil, err
	}

	next, err := n.editor.Apply(flow, op)
	if err != nil {
		metrics.RecordMutation(string(op.Op), metrics.ResultRejected)
		otelhelper.SetError(span, err)

		return nil, mutationError(opName, err)
	}

	// Idempotent operations hand back the same flow; nothing to store.
	if next == flow {
		return flow, nil
	}

	if err := n.checkPayload(flow, next, op); err != nil {
		metrics.RecordMutation(string(op.Op), metrics.ResultRejected)
		otelhelper.SetError(span, err)

		return nil, err
	}

	if err := n.save(ctx, opName, next); err != nil {
		return nil, err
	}

	n.histories.Get(flowID).Record(flow.Nodes)
	metrics.RecordMutation(string(op.Op), metrics.ResultSuccess)

	n.logger.DebugContext(ctx, "Mutation applied", "flow_id", flowID, "op", op.Op, "node_id", op.NodeID)
	n.publish(ctx, flowID, events.NewFlowUpdated(next, string(op.Op), mutatedNodeID(flow, next, op)))

	return next, nil
}

// checkPayload validates the payload of the node an add or update produced.
func (n *Node) checkPayload(before, after *models.Flow, op editor.Operation) error {
	if n.registry == nil || (op.Op != editor.OpAdd && op.Op != editor.OpUpdate) {
		return nil
	}

	node, ok := after.FindNode(mutatedNodeID(before, after, op))
	if !ok {
		return nil
	}

	err := n.registry.ValidateNode(node)
	if err == nil {
		return nil
	}

	var pe *registry.PayloadError
	if !errors.As(err, &pe) {
		return &ServiceError{Op: "apply_" + string(op.Op), Code: string(editor.KindInvalidPayload), Message: err.Error(), Err: err}
	}

	return mutationError("apply_"+string(op.Op), &editor.MutationError{
		Op:      string(op.Op),
		Kind:    editor.KindInvalidPayload,
		NodeID:  node.ID,
		Message: pe.Error(),
		Err:     pe,
	})
}

// mutatedNodeID names the node an operation created or changed. Added and
// duplicated nodes are appended, so they are the last node of after.
func mutatedNodeID(before, after *models.Flow, op editor.Operation) string {
	switch op.Op {
	case editor.OpAdd, editor.OpDuplicate:
		if len(after.Nodes) > len(before.Nodes) {
			return after.Nodes[len(after.Nodes)-1].ID
		}

		return ""
	case editor.OpConnect, editor.OpDisconnect:
		return op.SourceID
	default:
		return op.NodeID
	}
}

// Undo restores the node set from before the last mutation.
func (n *Node) Undo(ctx context.Context, flowID string) (*models.Flow, error) {
	return n.travel(ctx, flowID, "undo")
}

// Redo reapplies the last undone mutation.
func (n *Node) Redo(ctx context.Context, flowID string) (*models.Flow, error) {
	return n.travel(ctx, flowID, "redo")
}

func (n *Node) travel(ctx context.Context, flowID, op string) (*models.Flow, error) {
	unlock := n.histories.Lock(flowID)
	defer unlock()

	flow, err := n.load(ctx, op, flowID)
	if err != nil {
		return nil, err
	}

	history := n.histories.Get(flowID)

	var (
		next *models.Flow
		ok   bool
	)

	if op == "undo" {
		next, ok = n.editor.UndoFlow(flow, history)
		if !ok {
			return nil, &ServiceError{Op: op, Code: "empty_history", Message: ErrNothingToUndo.Error(), Err: ErrNothingToUndo}
		}
	} else {
		next, ok = n.editor.RedoFlow(flow, history)
		if !ok {
			return nil, &ServiceError{Op: op, Code: "empty_history", Message: ErrNothingToRedo.Error(), Err: ErrNothingToRedo}
		}
	}

	if err := n.save(ctx, op, next); err != nil {
		// Put the stacks back the way they were.
		if op == "undo" {
			n.editor.RedoFlow(next, history)
		} else {
			n.editor.UndoFlow(next, history)
		}

		return nil, err
	}

	n.publish(ctx, flowID, events.NewFlowUpdated(next, op, ""))

	return next, nil
}

// HistoryState reports how many steps can be undone and redone.
type HistoryState struct {
	CanUndo   bool `json:"can_undo"`
	CanRedo   bool `json:"can_redo"`
	UndoDepth int  `json:"undo_depth"`
	RedoDepth int  `json:"redo_depth"`
}

func (n *Node) History(flowID string) HistoryState {
	unlock := n.histories.Lock(flowID)
	defer unlock()

	h := n.histories.Get(flowID)
	undo, redo := h.Depths()

	return HistoryState{CanUndo: undo > 0, CanRedo: redo > 0, UndoDepth: undo, RedoDepth: redo}
}

// Save overwrites the stored draft, clearing its unsaved-changes flag. Notes
// are kept for the next publish.
func (n *Node) Save(ctx context.Context, flowID, notes string) (*models.Flow, error) {
	const op = "save_flow"

	unlock := n.histories.Lock(flowID)
	defer unlock()

	flow, err := n.load(ctx, op, flowID)
	if err != nil {
		return nil, err
	}

	next := n.editor.Save(flow, notes)
	if err := n.save(ctx, op, next); err != nil {
		return nil, err
	}

	n.publish(ctx, flowID, events.NewFlowUpdated(next, "save", ""))

	return next, nil
}
