// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"time"

	"github.com/dukex/callflow/pkg/models"
	"github.com/google/uuid"
)

// CreateTestNode creates a test FlowNode with default values that can be overridden.
func CreateTestNode(overrides ...func(*models.FlowNode)) *models.FlowNode {
	node := &models.FlowNode{
		ID:          uuid.New().String(),
		Type:        models.NodeTypeMessage,
		Label:       "Test Node",
		Position:    models.Position{X: 100, Y: 200},
		Payload:     &models.MessagePayload{Text: "test"},
		Connections: []*models.Connection{},
	}

	for _, override := range overrides {
		override(node)
	}

	return node
}

// WithID sets the node ID.
func WithID(id string) func(*models.FlowNode) {
	return func(n *models.FlowNode) {
		n.ID = id
	}
}

// WithLabel sets the node label.
func WithLabel(label string) func(*models.FlowNode) {
	return func(n *models.FlowNode) {
		n.Label = label
	}
}

// WithPosition sets the node position.
func WithPosition(x, y int) func(*models.FlowNode) {
	return func(n *models.FlowNode) {
		n.Position = models.Position{X: x, Y: y}
	}
}

// WithPayload sets the node type from the payload variant.
func WithPayload(p models.Payload) func(*models.FlowNode) {
	return func(n *models.FlowNode) {
		n.Type = p.NodeType()
		n.Payload = p
	}
}

// WithType sets the node type and clears the payload.
func WithType(t models.NodeType) func(*models.FlowNode) {
	return func(n *models.FlowNode) {
		n.Type = t
		n.Payload = models.NewPayload(t)
	}
}

// WithConnection appends a connection to targetID with an optional label.
func WithConnection(targetID, label string) func(*models.FlowNode) {
	return func(n *models.FlowNode) {
		n.Connections = append(n.Connections, &models.Connection{
			ID:           uuid.New().String(),
			TargetNodeID: targetID,
			Label:        label,
		})
	}
}

// WithDefaultConnection appends the fallback connection to targetID.
func WithDefaultConnection(targetID string) func(*models.FlowNode) {
	return func(n *models.FlowNode) {
		n.Connections = append(n.Connections, &models.Connection{
			ID:           uuid.New().String(),
			TargetNodeID: targetID,
			Label:        "default",
			Default:      true,
		})
	}
}

// StartNode creates a start node pointing at next.
func StartNode(id, next string) *models.FlowNode {
	node := CreateTestNode(WithID(id), WithType(models.NodeTypeStart), WithLabel("Start"))
	if next != "" {
		WithConnection(next, "")(node)
	}

	return node
}

// EndNode creates an end node.
func EndNode(id string) *models.FlowNode {
	return CreateTestNode(WithID(id), WithType(models.NodeTypeEnd), WithLabel("End"))
}

// MessageNode creates a message node speaking text and continuing to next.
func MessageNode(id, text, next string) *models.FlowNode {
	node := CreateTestNode(WithID(id), WithPayload(&models.MessagePayload{Text: text}), WithLabel(text))
	if next != "" {
		WithConnection(next, "")(node)
	}

	return node
}

// CreateTestFlow creates a draft flow holding nodes with default values that can be overridden.
func CreateTestFlow(nodes []*models.FlowNode, overrides ...func(*models.Flow)) *models.Flow {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	flow := &models.Flow{
		ID:             uuid.New().String(),
		Name:           "Test Flow",
		Description:    "Test flow description",
		Status:         models.FlowStatusDraft,
		CurrentVersion: models.InitialVersionLabel,
		Nodes:          nodes,
		Tags:           []string{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	flow.Versions = []*models.FlowVersion{{
		ID:        uuid.New().String(),
		Label:     models.InitialVersionLabel,
		CreatedAt: now,
		NodeCount: len(nodes),
		Nodes:     models.CloneNodes(nodes),
	}}

	for _, override := range overrides {
		override(flow)
	}

	return flow
}

// WithFlowName sets the flow name.
func WithFlowName(name string) func(*models.Flow) {
	return func(f *models.Flow) {
		f.Name = name
	}
}

// WithFlowStatus sets the flow status.
func WithFlowStatus(status models.FlowStatus) func(*models.Flow) {
	return func(f *models.Flow) {
		f.Status = status
	}
}

// WithOwner sets the owning tenant.
func WithOwner(owner string) func(*models.Flow) {
	return func(f *models.Flow) {
		f.Owner = owner
	}
}

// LinearFlow builds start → message(text) → end.
func LinearFlow(text string) *models.Flow {
	return CreateTestFlow([]*models.FlowNode{
		StartNode("start", "message"),
		MessageNode("message", text, "end"),
		EndNode("end"),
	})
}

// MenuFlow builds start → dtmf(1 → branchA, 2 → branchB) → end, where both
// branches are message nodes leading to end.
func MenuFlow(retries int) *models.Flow {
	menu := CreateTestNode(
		WithID("menu"),
		WithLabel("Main menu"),
		WithPayload(&models.DTMFPayload{
			Prompt: "Press 1 for sales or 2 for support",
			Options: []models.DTMFOption{
				{Key: "1", Label: "Sales", Target: "branchA"},
				{Key: "2", Label: "Support", Target: "branchB"},
			},
			Retries: retries,
		}),
		WithConnection("branchA", "1"),
		WithConnection("branchB", "2"),
	)

	return CreateTestFlow([]*models.FlowNode{
		StartNode("start", "menu"),
		menu,
		MessageNode("branchA", "Connecting you to sales", "end"),
		MessageNode("branchB", "Connecting you to support", "end"),
		EndNode("end"),
	})
}
