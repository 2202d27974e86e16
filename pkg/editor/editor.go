// Package editor implements structural edits, versioning and undo/redo for
// flows.
//
// Every operation is copy-on-write: it returns a new *models.Flow and leaves its
// argument untouched. Nodes that an operation does not change are shared by
// pointer with the previous flow, which is what lets History keep whole
// snapshots cheaply. Code outside this package must treat nodes as immutable.
package editor

import (
	"time"

	"github.com/dukex/callflow/pkg/models"
	"github.com/google/uuid"
)

// DuplicateOffset is how far a duplicated node is moved on the canvas.
const DuplicateOffset = 40

// Editor applies edits to flows. It holds no flow state.
type Editor struct {
	newID func() string
	now   func() time.Time
}

// Option configures an Editor.
type Option func(*Editor)

// WithIDGenerator sets the generator for node, connection and version IDs.
func WithIDGenerator(f func() string) Option {
	return func(e *Editor) { e.newID = f }
}

// WithClock sets the clock for timestamps.
func WithClock(f func() time.Time) Option {
	return func(e *Editor) { e.now = f }
}

func New(opts ...Option) *Editor {
	e := &Editor{
		newID: uuid.NewString,
		now:   func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// NewFlow creates a draft flow holding start → end and an initial version
// record that snapshots it.
func (e *Editor) NewFlow(name, description string) *models.Flow {
	now := e.now()
	startID, endID := e.newID(), e.newID()

	nodes := []*models.FlowNode{
		{
			ID:       startID,
			Type:     models.NodeTypeStart,
			Label:    "Start",
			Position: models.Position{X: 100, Y: 100},
			Connections: []*models.Connection{
				{ID: e.newID(), TargetNodeID: endID},
			},
		},
		{
			ID:          endID,
			Type:        models.NodeTypeEnd,
			Label:       "End",
			Position:    models.Position{X: 100, Y: 300},
			Connections: []*models.Connection{},
		},
	}

	return &models.Flow{
		ID:             e.newID(),
		Name:           name,
		Description:    description,
		Status:         models.FlowStatusDraft,
		CurrentVersion: models.InitialVersionLabel,
		Versions: []*models.FlowVersion{{
			ID:        e.newID(),
			Label:     models.InitialVersionLabel,
			CreatedAt: now,
			NodeCount: len(nodes),
			Notes:     "Initial version",
			Nodes:     models.CloneNodes(nodes),
		}},
		Nodes:     nodes,
		Tags:      []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// touch returns a copy of flow marked as edited.
func (e *Editor) touch(flow *models.Flow) *models.Flow {
	next := flow.Clone()
	next.HasUnsavedChanges = true
	next.UpdatedAt = e.now()

	return next
}
