package editor

import (
	"fmt"
	"testing"
	"time"

	"github.com/dukex/callflow/pkg/models"
	"github.com/dukex/callflow/pkg/testutil"
	"github.com/dukex/callflow/pkg/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEditor() *Editor {
	seq := 0

	return New(
		WithIDGenerator(func() string {
			seq++

			return fmt.Sprintf("id-%d", seq)
		}),
		WithClock(func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }),
	)
}

func assertNoDangling(t *testing.T, flow *models.Flow) {
	t.Helper()

	for _, n := range flow.Nodes {
		for _, c := range n.Connections {
			_, ok := flow.FindNode(c.TargetNodeID)
			assert.True(t, ok, "connection %s on %s targets missing node %s", c.ID, n.ID, c.TargetNodeID)
		}
	}
}

func TestNewFlow(t *testing.T) {
	flow := newTestEditor().NewFlow("Support line", "Main inbound flow")

	assert.Equal(t, models.FlowStatusDraft, flow.Status)
	assert.Equal(t, models.InitialVersionLabel, flow.CurrentVersion)
	require.Len(t, flow.Versions, 1)
	assert.Equal(t, flow.CurrentVersion, flow.Versions[0].Label)
	assert.Equal(t, 2, flow.Versions[0].NodeCount)

	require.Len(t, flow.Nodes, 2)
	assert.Equal(t, models.NodeTypeStart, flow.Nodes[0].Type)
	assert.Equal(t, models.NodeTypeEnd, flow.Nodes[1].Type)
	assert.True(t, validation.Validate(flow).OK)
}

func TestAddNode(t *testing.T) {
	ed := newTestEditor()
	flow := testutil.LinearFlow("Hi")

	next, err := ed.AddNode(flow, &models.FlowNode{Type: models.NodeTypeWait})
	require.NoError(t, err)

	require.Len(t, next.Nodes, 4)
	added := next.Nodes[3]
	assert.NotEmpty(t, added.ID)
	assert.Equal(t, "wait", added.Label)
	assert.IsType(t, &models.WaitPayload{}, added.Payload)
	assert.True(t, next.HasUnsavedChanges)

	assert.Len(t, flow.Nodes, 3, "original flow must not change")
	assert.Same(t, flow.Nodes[0], next.Nodes[0], "untouched nodes are shared")

	t.Run("duplicate id", func(t *testing.T) {
		_, err := ed.AddNode(flow, testutil.EndNode("end"))
		require.ErrorIs(t, err, ErrDuplicateNodeID)
	})

	t.Run("unknown connection target", func(t *testing.T) {
		_, err := ed.AddNode(flow, testutil.MessageNode("m2", "Hello", "ghost"))
		require.ErrorIs(t, err, ErrUnknownNodeReference)
	})

	t.Run("payload of another type", func(t *testing.T) {
		_, err := ed.AddNode(flow, &models.FlowNode{ID: "x", Type: models.NodeTypeWait, Payload: &models.MessagePayload{}})
		require.ErrorIs(t, err, ErrInvalidPayload)
	})
}

func TestDTMFOptionTargetsMustExist(t *testing.T) {
	ed := newTestEditor()
	flow := testutil.MenuFlow(0)

	menu := func(target string) *models.FlowNode {
		return testutil.CreateTestNode(
			testutil.WithID("menu2"),
			testutil.WithPayload(&models.DTMFPayload{
				Prompt:  "Press 1 to repeat",
				Options: []models.DTMFOption{{Key: "1", Target: target}},
			}),
		)
	}

	t.Run("add with unknown target", func(t *testing.T) {
		_, err := ed.AddNode(flow, menu("ghost"))
		require.ErrorIs(t, err, ErrUnknownNodeReference)

		var me *MutationError
		require.ErrorAs(t, err, &me)
		assert.Equal(t, "menu2", me.NodeID)
	})

	t.Run("add with existing or own target", func(t *testing.T) {
		next, err := ed.AddNode(flow, menu("branchA"))
		require.NoError(t, err)
		assert.Len(t, next.Nodes, len(flow.Nodes)+1)

		_, err = ed.AddNode(flow, menu("menu2"))
		require.NoError(t, err)
	})

	t.Run("update with unknown target", func(t *testing.T) {
		_, err := ed.UpdateNode(flow, "menu", NodePatch{Data: map[string]any{
			"options": []any{map[string]any{"key": "1", "target": "ghost2"}},
		}})
		require.ErrorIs(t, err, ErrUnknownNodeReference)

		original, _ := flow.FindNode("menu")
		assert.Equal(t, "branchA", original.Payload.(*models.DTMFPayload).Options[0].Target)
	})

	t.Run("update with existing target", func(t *testing.T) {
		next, err := ed.UpdateNode(flow, "menu", NodePatch{Data: map[string]any{
			"options": []any{map[string]any{"key": "1", "target": "branchB"}},
		}})
		require.NoError(t, err)

		updated, _ := next.FindNode("menu")
		assert.Equal(t, "branchB", updated.Payload.(*models.DTMFPayload).Options[0].Target)
	})
}

func TestUpdateNode_MergesPayload(t *testing.T) {
	ed := newTestEditor()
	api := testutil.CreateTestNode(
		testutil.WithID("api"),
		testutil.WithPayload(&models.APIPayload{Method: "POST", URL: "https://crm.local/v1", ResponseVariable: "customer"}),
	)
	flow := testutil.CreateTestFlow([]*models.FlowNode{api})

	label := "CRM lookup"
	next, err := ed.UpdateNode(flow, "api", NodePatch{
		Label: &label,
		Data:  map[string]any{"url": "https://crm.local/v2", "timeout": 5},
	})
	require.NoError(t, err)

	updated, _ := next.FindNode("api")
	payload := updated.Payload.(*models.APIPayload)

	assert.Equal(t, "CRM lookup", updated.Label)
	assert.Equal(t, "https://crm.local/v2", payload.URL)
	assert.Equal(t, 5, payload.Timeout)
	assert.Equal(t, "POST", payload.Method)
	assert.Equal(t, "customer", payload.ResponseVariable)

	assert.Equal(t, "https://crm.local/v1", api.Payload.(*models.APIPayload).URL)
	assert.Equal(t, "Test Node", api.Label)

	_, err = ed.UpdateNode(flow, "api", NodePatch{Data: map[string]any{"timeout": "soon"}})
	require.ErrorIs(t, err, ErrInvalidPayload)

	_, err = ed.UpdateNode(flow, "ghost", NodePatch{Label: &label})
	require.ErrorIs(t, err, ErrUnknownNodeReference)
}

func TestDeleteNode_StripsReferences(t *testing.T) {
	ed := newTestEditor()
	flow := testutil.MenuFlow(0)

	next, err := ed.DeleteNode(flow, "branchB")
	require.NoError(t, err)

	_, ok := next.FindNode("branchB")
	assert.False(t, ok)
	assertNoDangling(t, next)

	menu, _ := next.FindNode("menu")
	require.Len(t, menu.Connections, 1)
	assert.Equal(t, "branchA", menu.Connections[0].TargetNodeID)
	assert.Empty(t, menu.Payload.(*models.DTMFPayload).Options[1].Target)

	original, _ := flow.FindNode("menu")
	assert.Len(t, original.Connections, 2, "original node must not change")
	assert.Equal(t, "branchB", original.Payload.(*models.DTMFPayload).Options[1].Target)

	next, err = ed.DeleteNode(next, "end")
	require.NoError(t, err)
	assertNoDangling(t, next)

	_, err = ed.DeleteNode(next, "end")
	require.ErrorIs(t, err, ErrUnknownNodeReference)
}

func TestDuplicateNode(t *testing.T) {
	ed := newTestEditor()
	flow := testutil.MenuFlow(2)

	next, dup, err := ed.DuplicateNode(flow, "menu")
	require.NoError(t, err)

	src, _ := flow.FindNode("menu")

	assert.NotEqual(t, src.ID, dup.ID)
	assert.Equal(t, "Main menu (Copy)", dup.Label)
	assert.Equal(t, src.Type, dup.Type)
	assert.Equal(t, src.Payload, dup.Payload)
	assert.NotSame(t, src.Payload, dup.Payload)
	assert.Empty(t, dup.Connections)
	assert.Equal(t, src.Position.X+DuplicateOffset, dup.Position.X)
	assert.Equal(t, src.Position.Y+DuplicateOffset, dup.Position.Y)

	assert.Len(t, next.Nodes, len(flow.Nodes)+1)
	assert.Len(t, src.Connections, 2)
}

func TestConnect(t *testing.T) {
	ed := newTestEditor()
	flow := testutil.LinearFlow("Hi")

	once, err := ed.Connect(flow, "message", "start", "again")
	require.NoError(t, err)

	twice, err := ed.Connect(once, "message", "start", "again")
	require.NoError(t, err)

	count := 0

	node, _ := twice.FindNode("message")
	for _, c := range node.Connections {
		if c.TargetNodeID == "start" && c.Label == "again" {
			count++
		}
	}

	assert.Equal(t, 1, count)
	assert.Same(t, once, twice)

	withDefault, err := ed.Connect(flow, "message", "end", "", AsDefault())
	require.NoError(t, err)

	node, _ = withDefault.FindNode("message")
	assert.Len(t, node.Connections, 1, "same target and label is a no-op")

	withDefault, err = ed.Connect(flow, "message", "end", "fallback", AsDefault())
	require.NoError(t, err)

	node, _ = withDefault.FindNode("message")
	def, ok := node.DefaultConnection()
	require.True(t, ok)
	assert.Equal(t, "fallback", def.Label)

	_, err = ed.Connect(flow, "message", "ghost", "")
	require.ErrorIs(t, err, ErrUnknownNodeReference)

	_, err = ed.Connect(flow, "ghost", "end", "")
	require.ErrorIs(t, err, ErrUnknownNodeReference)
}

func TestDisconnect(t *testing.T) {
	ed := newTestEditor()
	flow := testutil.LinearFlow("Hi")
	connID := flow.Nodes[1].Connections[0].ID

	next, err := ed.Disconnect(flow, "message", connID)
	require.NoError(t, err)

	node, _ := next.FindNode("message")
	assert.Empty(t, node.Connections)
	assert.Len(t, flow.Nodes[1].Connections, 1)

	_, err = ed.Disconnect(next, "message", connID)
	require.ErrorIs(t, err, ErrUnknownNodeReference)
}

func TestPublish_RejectsFatalIssues(t *testing.T) {
	ed := newTestEditor()
	flow := testutil.CreateTestFlow([]*models.FlowNode{
		testutil.MessageNode("message", "Hi", "end"),
		testutil.EndNode("end"),
	})

	_, err := ed.Publish(flow, PublishOptions{})
	require.ErrorIs(t, err, ErrPublishRejected)

	var pubErr *PublishError
	require.ErrorAs(t, err, &pubErr)
	require.Len(t, pubErr.Issues, 1)
	assert.Equal(t, validation.IssueNoEntryPoint, pubErr.Issues[0].Kind)
	assert.Equal(t, models.FlowStatusDraft, flow.Status)
}

func TestPublishRollbackRoundTrip(t *testing.T) {
	ed := newTestEditor()
	flow := testutil.LinearFlow("Hi")

	published, err := ed.Publish(flow, PublishOptions{Author: "ana", Notes: "first"})
	require.NoError(t, err)

	assert.Equal(t, "v1.1", published.CurrentVersion)
	assert.Equal(t, models.FlowStatusPublished, published.Status)
	require.NotNil(t, published.PublishedAt)
	require.Len(t, published.Versions, 2)
	assert.Equal(t, "v1.1", published.Versions[0].Label, "newest version first")
	assert.Equal(t, "ana", published.Versions[0].Author)
	assert.Equal(t, 3, published.Versions[0].NodeCount)
	v11 := published.Versions[0]

	edited, err := ed.DeleteNode(published, "message")
	require.NoError(t, err)
	edited, err = ed.Connect(edited, "start", "end", "")
	require.NoError(t, err)

	second, err := ed.Publish(edited, PublishOptions{})
	require.NoError(t, err)
	assert.Equal(t, "v1.2", second.CurrentVersion)

	rolled, err := ed.Rollback(second, v11.ID)
	require.NoError(t, err)

	assert.Equal(t, v11.Nodes, rolled.Nodes)
	assert.Equal(t, "v1.1", rolled.CurrentVersion)
	assert.Equal(t, models.FlowStatusDraft, rolled.Status)
	assert.Len(t, rolled.Versions, 3, "rollback keeps later versions")

	third, err := ed.Publish(rolled, PublishOptions{})
	require.NoError(t, err)

	assert.Equal(t, "v1.3", third.CurrentVersion)
	assert.Positive(t, CompareLabels(third.CurrentVersion, v11.Label))

	_, err = ed.Rollback(third, "missing")
	require.ErrorIs(t, err, ErrUnknownVersion)
}

func TestSave_KeepsNotesForNextPublish(t *testing.T) {
	ed := newTestEditor()

	flow, err := ed.AddNode(testutil.LinearFlow("Hi"), &models.FlowNode{Type: models.NodeTypeWait})
	require.NoError(t, err)
	require.True(t, flow.HasUnsavedChanges)

	saved := ed.Save(flow, "added a pause")
	assert.False(t, saved.HasUnsavedChanges)
	assert.Equal(t, flow.Versions, saved.Versions, "save does not mint a version")

	published, err := ed.Publish(saved, PublishOptions{})
	require.NoError(t, err)
	assert.Equal(t, "added a pause", published.Versions[0].Notes)
	assert.Empty(t, published.DraftNotes)
}

func TestSetStatus(t *testing.T) {
	ed := newTestEditor()
	flow := testutil.LinearFlow("Hi")

	inTesting, err := ed.SetStatus(flow, models.FlowStatusTesting)
	require.NoError(t, err)
	assert.Equal(t, models.FlowStatusTesting, inTesting.Status)

	_, err = ed.SetStatus(flow, models.FlowStatusPublished)
	require.ErrorIs(t, err, ErrInvalidStatus)

	_, err = ed.SetStatus(flow, "deleted")
	require.ErrorIs(t, err, ErrInvalidStatus)
}

func TestNextVersionLabel(t *testing.T) {
	versions := func(labels ...string) []*models.FlowVersion {
		out := make([]*models.FlowVersion, 0, len(labels))
		for _, l := range labels {
			out = append(out, &models.FlowVersion{Label: l})
		}

		return out
	}

	assert.Equal(t, "v2.4", NextVersionLabel(versions("v2.3", "v1.9")))
	assert.Equal(t, "v1.10", NextVersionLabel(versions("v1.9", "v1.2")))
	assert.Equal(t, "v3.1", NextVersionLabel(versions("draft", "v3.0")))
	assert.Equal(t, models.InitialVersionLabel, NextVersionLabel(nil))
}

func TestApply(t *testing.T) {
	ed := newTestEditor()
	flow := testutil.LinearFlow("Hi")

	next, err := ed.Apply(flow, Operation{Op: OpDuplicate, NodeID: "message"})
	require.NoError(t, err)
	assert.Len(t, next.Nodes, 4)

	next, err = ed.Apply(next, Operation{Op: OpConnect, SourceID: "start", TargetID: "end", Label: "skip"})
	require.NoError(t, err)
	assert.Len(t, next.OutgoingConnections("start"), 2)

	_, err = ed.Apply(next, Operation{Op: "rename"})
	require.ErrorIs(t, err, ErrInvalidOperation)

	_, err = ed.Apply(next, Operation{Op: OpAdd})
	require.ErrorIs(t, err, ErrInvalidOperation)
}
