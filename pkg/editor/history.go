package editor

import (
	"github.com/dukex/callflow/pkg/models"
)

// History is a linear undo/redo stack of whole node-set snapshots. Snapshots
// are stored by reference, which is safe because edits never modify nodes in
// place. A zero limit keeps every snapshot; otherwise only the most recent
// limit snapshots are undoable.
type History struct {
	undo  [][]*models.FlowNode
	redo  [][]*models.FlowNode
	limit int
}

func NewHistory(limit int) *History {
	return &History{limit: limit}
}

// Record pushes the node set as it was before a mutation and clears redo.
func (h *History) Record(before []*models.FlowNode) {
	h.undo = push(h.undo, before, h.limit)
	h.redo = nil
}

// Undo returns the previous node set and remembers current for Redo.
func (h *History) Undo(current []*models.FlowNode) ([]*models.FlowNode, bool) {
	if len(h.undo) == 0 {
		return nil, false
	}

	prev := h.undo[len(h.undo)-1]
	h.undo = h.undo[:len(h.undo)-1]
	h.redo = push(h.redo, current, h.limit)

	return prev, true
}

// Redo returns the node set most recently undone and remembers current for Undo.
func (h *History) Redo(current []*models.FlowNode) ([]*models.FlowNode, bool) {
	if len(h.redo) == 0 {
		return nil, false
	}

	next := h.redo[len(h.redo)-1]
	h.redo = h.redo[:len(h.redo)-1]
	h.undo = push(h.undo, current, h.limit)

	return next, true
}

func (h *History) CanUndo() bool { return len(h.undo) > 0 }

func (h *History) CanRedo() bool { return len(h.redo) > 0 }

// Depths returns the sizes of the undo and redo stacks.
func (h *History) Depths() (undo, redo int) {
	return len(h.undo), len(h.redo)
}

func push(stack [][]*models.FlowNode, nodes []*models.FlowNode, limit int) [][]*models.FlowNode {
	stack = append(stack, nodes)
	if limit > 0 && len(stack) > limit {
		stack = append([][]*models.FlowNode(nil), stack[len(stack)-limit:]...)
	}

	return stack
}

// UndoFlow applies Undo to flow, returning the flow with the previous node set.
func (e *Editor) UndoFlow(flow *models.Flow, h *History) (*models.Flow, bool) {
	nodes, ok := h.Undo(flow.Nodes)
	if !ok {
		return flow, false
	}

	next := e.touch(flow)
	next.Nodes = nodes

	return next, true
}

// RedoFlow applies Redo to flow.
func (e *Editor) RedoFlow(flow *models.Flow, h *History) (*models.Flow, bool) {
	nodes, ok := h.Redo(flow.Nodes)
	if !ok {
		return flow, false
	}

	next := e.touch(flow)
	next.Nodes = nodes

	return next, true
}
