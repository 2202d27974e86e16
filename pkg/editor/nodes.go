package editor

import (
	"github.com/dukex/callflow/pkg/models"
)

// NodePatch is a partial node update. Nil fields are left as they are; Data is
// merged key by key into the payload.
type NodePatch struct {
	Label    *string          `json:"label,omitempty"`
	Position *models.Position `json:"position,omitempty"`
	Data     map[string]any   `json:"data,omitempty"`
}

// AddNode appends node. A missing ID is generated and a missing payload is
// initialised for the node type. Connections must target existing nodes.
func (e *Editor) AddNode(flow *models.Flow, node *models.FlowNode) (*models.Flow, error) {
	const op = "add_node"

	n := node.Clone()
	if n.ID == "" {
		n.ID = e.newID()
	}

	if _, exists := flow.FindNode(n.ID); exists {
		return nil, mutationErr(op, KindDuplicateNodeID, n.ID, "node %s already exists", n.ID)
	}

	if !n.Type.IsKnown() {
		return nil, mutationErr(op, KindInvalidPayload, n.ID, "unknown node type %q", n.Type)
	}

	if n.Payload == nil {
		n.Payload = models.NewPayload(n.Type)
	} else if n.Payload.NodeType() != n.Type {
		return nil, mutationErr(op, KindInvalidPayload, n.ID,
			"payload for %s does not fit node type %s", n.Payload.NodeType(), n.Type)
	}

	if n.Label == "" {
		n.Label = string(n.Type)
	}

	for _, c := range n.Connections {
		if c.ID == "" {
			c.ID = e.newID()
		}

		if c.TargetNodeID != n.ID {
			if _, ok := flow.FindNode(c.TargetNodeID); !ok {
				return nil, mutationErr(op, KindUnknownNodeReference, n.ID,
					"connection %s targets unknown node %s", c.ID, c.TargetNodeID)
			}
		}
	}

	if err := checkOptionTargets(op, flow, n); err != nil {
		return nil, err
	}

	next := e.touch(flow)
	next.Nodes = append(next.Nodes, n)

	return next, nil
}

// checkOptionTargets rejects dtmf options routed to nodes that are not in
// flow. An option may route back to its own node.
func checkOptionTargets(op string, flow *models.Flow, n *models.FlowNode) error {
	p, ok := n.Payload.(*models.DTMFPayload)
	if !ok || p == nil {
		return nil
	}

	for _, o := range p.Options {
		if o.Target == "" || o.Target == n.ID {
			continue
		}

		if _, found := flow.FindNode(o.Target); !found {
			return mutationErr(op, KindUnknownNodeReference, n.ID,
				"option %q targets unknown node %s", o.Key, o.Target)
		}
	}

	return nil
}

// UpdateNode applies patch to the node. Payload keys absent from the patch keep
// their values.
func (e *Editor) UpdateNode(flow *models.Flow, nodeID string, patch NodePatch) (*models.Flow, error) {
	const op = "update_node"

	idx := flow.NodeIndex(nodeID)
	if idx < 0 {
		return nil, mutationErr(op, KindUnknownNodeReference, nodeID, "node %s does not exist", nodeID)
	}

	n := flow.Nodes[idx].Clone()

	if patch.Label != nil {
		n.Label = *patch.Label
	}

	if patch.Position != nil {
		n.Position = *patch.Position
	}

	if len(patch.Data) > 0 {
		if models.NewPayload(n.Type) == nil {
			return nil, mutationErr(op, KindInvalidPayload, nodeID, "%s nodes carry no data", n.Type)
		}

		payload, err := models.MergePayload(n.Type, n.Payload, patch.Data)
		if err != nil {
			return nil, &MutationError{Op: op, Kind: KindInvalidPayload, NodeID: nodeID, Message: err.Error(), Err: err}
		}

		n.Payload = payload

		if err := checkOptionTargets(op, flow, n); err != nil {
			return nil, err
		}
	}

	next := e.touch(flow)
	next.Nodes[idx] = n

	return next, nil
}

// DeleteNode removes the node and strips every connection and dtmf option that
// pointed at it, so no dangling reference survives.
func (e *Editor) DeleteNode(flow *models.Flow, nodeID string) (*models.Flow, error) {
	const op = "delete_node"

	if flow.NodeIndex(nodeID) < 0 {
		return nil, mutationErr(op, KindUnknownNodeReference, nodeID, "node %s does not exist", nodeID)
	}

	next := e.touch(flow)
	next.Nodes = make([]*models.FlowNode, 0, len(flow.Nodes)-1)

	for _, n := range flow.Nodes {
		if n.ID == nodeID {
			continue
		}

		next.Nodes = append(next.Nodes, stripReferences(n, nodeID))
	}

	return next, nil
}

// stripReferences returns n without references to target. n itself is
// returned when it holds none.
func stripReferences(n *models.FlowNode, target string) *models.FlowNode {
	_, hasConn := n.ConnectionTo(target)

	dtmf, isDTMF := n.Payload.(*models.DTMFPayload)
	hasOption := false

	if isDTMF {
		for _, o := range dtmf.Options {
			if o.Target == target {
				hasOption = true

				break
			}
		}
	}

	if !hasConn && !hasOption {
		return n
	}

	c := n.Clone()
	c.Connections = c.Connections[:0]

	for _, conn := range n.Connections {
		if conn.TargetNodeID != target {
			cc := *conn
			c.Connections = append(c.Connections, &cc)
		}
	}

	if hasOption {
		p := *dtmf
		p.Options = make([]models.DTMFOption, len(dtmf.Options))
		copy(p.Options, dtmf.Options)

		for i := range p.Options {
			if p.Options[i].Target == target {
				p.Options[i].Target = ""
			}
		}

		c.Payload = &p
	}

	return c
}

// DuplicateNode copies the node's type, label and payload under a new ID,
// offset on the canvas and without connections.
func (e *Editor) DuplicateNode(flow *models.Flow, nodeID string) (*models.Flow, *models.FlowNode, error) {
	const op = "duplicate_node"

	src, ok := flow.FindNode(nodeID)
	if !ok {
		return nil, nil, mutationErr(op, KindUnknownNodeReference, nodeID, "node %s does not exist", nodeID)
	}

	payload, err := models.ClonePayload(src.Type, src.Payload)
	if err != nil {
		return nil, nil, &MutationError{Op: op, Kind: KindInvalidPayload, NodeID: nodeID, Message: err.Error(), Err: err}
	}

	dup := &models.FlowNode{
		ID:    e.newID(),
		Type:  src.Type,
		Label: src.Label + " (Copy)",
		Position: models.Position{
			X: src.Position.X + DuplicateOffset,
			Y: src.Position.Y + DuplicateOffset,
		},
		Payload:     payload,
		Connections: []*models.Connection{},
	}

	next := e.touch(flow)
	next.Nodes = append(next.Nodes, dup)

	return next, dup, nil
}

// ConnectOption tunes a new connection.
type ConnectOption func(*models.Connection)

// AsDefault marks the connection as the node's fallback.
func AsDefault() ConnectOption {
	return func(c *models.Connection) { c.Default = true }
}

// Connect appends a connection from source to target. Connecting the same pair
// with the same label again returns flow unchanged.
func (e *Editor) Connect(
	flow *models.Flow,
	sourceID, targetID, label string,
	opts ...ConnectOption,
) (*models.Flow, error) {
	const op = "connect"

	idx := flow.NodeIndex(sourceID)
	if idx < 0 {
		return nil, mutationErr(op, KindUnknownNodeReference, sourceID, "source node %s does not exist", sourceID)
	}

	if _, ok := flow.FindNode(targetID); !ok {
		return nil, mutationErr(op, KindUnknownNodeReference, targetID, "target node %s does not exist", targetID)
	}

	src := flow.Nodes[idx]

	for _, c := range src.Connections {
		if c.TargetNodeID == targetID && c.Label == label {
			return flow, nil
		}
	}

	conn := &models.Connection{ID: e.newID(), TargetNodeID: targetID, Label: label}
	for _, opt := range opts {
		opt(conn)
	}

	n := src.Clone()
	n.Connections = append(n.Connections, conn)

	next := e.touch(flow)
	next.Nodes[idx] = n

	return next, nil
}

// Disconnect removes one connection from source.
func (e *Editor) Disconnect(flow *models.Flow, sourceID, connectionID string) (*models.Flow, error) {
	const op = "disconnect"

	idx := flow.NodeIndex(sourceID)
	if idx < 0 {
		return nil, mutationErr(op, KindUnknownNodeReference, sourceID, "source node %s does not exist", sourceID)
	}

	src := flow.Nodes[idx]
	n := src.Clone()
	n.Connections = n.Connections[:0]

	for _, c := range src.Connections {
		if c.ID != connectionID {
			cc := *c
			n.Connections = append(n.Connections, &cc)
		}
	}

	if len(n.Connections) == len(src.Connections) {
		return nil, mutationErr(op, KindUnknownNodeReference, sourceID,
			"node %s has no connection %s", sourceID, connectionID)
	}

	next := e.touch(flow)
	next.Nodes[idx] = n

	return next, nil
}
