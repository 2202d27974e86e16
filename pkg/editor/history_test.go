package editor

import (
	"testing"

	"github.com/dukex/callflow/pkg/models"
	"github.com/dukex/callflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistory_UndoRedo(t *testing.T) {
	ed := newTestEditor()
	h := NewHistory(0)
	v0 := testutil.LinearFlow("Hi")

	h.Record(v0.Nodes)
	v1, err := ed.AddNode(v0, &models.FlowNode{ID: "pause", Type: models.NodeTypeWait})
	require.NoError(t, err)

	h.Record(v1.Nodes)
	v2, err := ed.DeleteNode(v1, "message")
	require.NoError(t, err)

	undone, ok := ed.UndoFlow(v2, h)
	require.True(t, ok)
	assert.Equal(t, v1.Nodes, undone.Nodes)

	undone, ok = ed.UndoFlow(undone, h)
	require.True(t, ok)
	assert.Equal(t, v0.Nodes, undone.Nodes)
	assert.False(t, h.CanUndo())

	_, ok = ed.UndoFlow(undone, h)
	assert.False(t, ok)

	redone, ok := ed.RedoFlow(undone, h)
	require.True(t, ok)
	assert.Equal(t, v1.Nodes, redone.Nodes)
	assert.True(t, h.CanRedo())

	// A new mutation after undo discards the redo branch.
	h.Record(redone.Nodes)
	_, err = ed.Connect(redone, "pause", "end", "")
	require.NoError(t, err)

	assert.False(t, h.CanRedo())

	undoDepth, redoDepth := h.Depths()
	assert.Equal(t, 2, undoDepth)
	assert.Equal(t, 0, redoDepth)
}

func TestHistory_LimitKeepsMostRecent(t *testing.T) {
	h := NewHistory(2)

	snapshots := make([][]*models.FlowNode, 0, 3)
	for _, text := range []string{"a", "b", "c"} {
		nodes := testutil.LinearFlow(text).Nodes
		snapshots = append(snapshots, nodes)
		h.Record(nodes)
	}

	current := testutil.LinearFlow("d").Nodes

	prev, ok := h.Undo(current)
	require.True(t, ok)
	assert.Equal(t, snapshots[2], prev)

	prev, ok = h.Undo(prev)
	require.True(t, ok)
	assert.Equal(t, snapshots[1], prev)

	_, ok = h.Undo(prev)
	assert.False(t, ok, "oldest snapshot was evicted")
}
