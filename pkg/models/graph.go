package models

// FindNode returns the node with the given ID.
func (f *Flow) FindNode(id string) (*FlowNode, bool) {
	for _, n := range f.Nodes {
		if n.ID == id {
			return n, true
		}
	}

	return nil, false
}

// NodeIndex returns the position of the node in the node list, or -1.
func (f *Flow) NodeIndex(id string) int {
	for i, n := range f.Nodes {
		if n.ID == id {
			return i
		}
	}

	return -1
}

// OutgoingConnections returns the connections leaving nodeID in evaluation order.
func (f *Flow) OutgoingConnections(nodeID string) []*Connection {
	node, ok := f.FindNode(nodeID)
	if !ok {
		return nil
	}

	return node.Connections
}

// NodesReferencing returns every node holding a connection to nodeID.
func (f *Flow) NodesReferencing(nodeID string) []*FlowNode {
	var refs []*FlowNode

	for _, n := range f.Nodes {
		for _, c := range n.Connections {
			if c.TargetNodeID == nodeID {
				refs = append(refs, n)

				break
			}
		}
	}

	return refs
}

// StartNode returns the first start node, which is the flow entry point.
func (f *Flow) StartNode() (*FlowNode, bool) {
	for _, n := range f.Nodes {
		if n.Type == NodeTypeStart {
			return n, true
		}
	}

	return nil, false
}

// NodesOfType returns the nodes with type t in declared order.
func (f *Flow) NodesOfType(t NodeType) []*FlowNode {
	var nodes []*FlowNode

	for _, n := range f.Nodes {
		if n.Type == t {
			nodes = append(nodes, n)
		}
	}

	return nodes
}

// CloneNodes copies a node set so that connection lists are independent.
func CloneNodes(nodes []*FlowNode) []*FlowNode {
	out := make([]*FlowNode, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Clone())
	}

	return out
}
