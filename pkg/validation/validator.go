// Package validation checks flow graphs for structural problems before they are
// executed or published.
package validation

import (
	"fmt"

	"github.com/dukex/callflow/pkg/models"
)

// Severity ranks how much an issue matters.
type Severity string

const (
	SeverityFatal   Severity = "fatal"   // Blocks publishing
	SeverityWarning Severity = "warning" // Shown to the editor, never blocks
	SeverityInfo    Severity = "info"
)

// IssueKind names a class of structural problem.
type IssueKind string

const (
	IssueNoEntryPoint         IssueKind = "NoEntryPoint"
	IssueMultipleEntryPoints  IssueKind = "MultipleEntryPoints"
	IssueStartHasIncoming     IssueKind = "StartHasIncoming"
	IssueDanglingConnection   IssueKind = "DanglingConnection"
	IssueEmptyBranchSet       IssueKind = "EmptyBranchSet"
	IssueMissingDefaultBranch IssueKind = "MissingDefaultBranch"
	IssueDuplicateKey         IssueKind = "DuplicateKey"
	IssueUnreachableNode      IssueKind = "UnreachableNode"
	IssueNoExitNode           IssueKind = "NoExitNode"
	IssueEndHasOutgoing       IssueKind = "EndHasOutgoing"
	IssueDuplicateNodeID      IssueKind = "DuplicateNodeID"
	IssueUnknownNodeType      IssueKind = "UnknownNodeType"
)

var severities = map[IssueKind]Severity{
	IssueNoEntryPoint:         SeverityFatal,
	IssueMultipleEntryPoints:  SeverityFatal,
	IssueStartHasIncoming:     SeverityInfo,
	IssueDanglingConnection:   SeverityFatal,
	IssueEmptyBranchSet:       SeverityWarning,
	IssueMissingDefaultBranch: SeverityFatal,
	IssueDuplicateKey:         SeverityFatal,
	IssueUnreachableNode:      SeverityWarning,
	IssueNoExitNode:           SeverityWarning,
	IssueEndHasOutgoing:       SeverityWarning,
	IssueDuplicateNodeID:      SeverityFatal,
	IssueUnknownNodeType:      SeverityFatal,
}

// SeverityOf returns the severity assigned to kind.
func SeverityOf(kind IssueKind) Severity {
	if s, ok := severities[kind]; ok {
		return s
	}

	return SeverityWarning
}

// Issue is a single finding. Issues are data, never errors, so a caller can
// show every problem at once.
type Issue struct {
	Kind         IssueKind `json:"kind"`
	Severity     Severity  `json:"severity"`
	NodeID       string    `json:"node_id,omitempty"`
	ConnectionID string    `json:"connection_id,omitempty"`
	Key          string    `json:"key,omitempty"`
	Message      string    `json:"message"`
}

func (i Issue) String() string {
	return fmt.Sprintf("%s %s: %s", i.Severity, i.Kind, i.Message)
}

// Result is the outcome of validating a flow.
type Result struct {
	OK     bool    `json:"ok"`
	Issues []Issue `json:"errors"`
}

// Fatal returns only the issues that block publishing.
func (r Result) Fatal() []Issue {
	var fatal []Issue

	for _, i := range r.Issues {
		if i.Severity == SeverityFatal {
			fatal = append(fatal, i)
		}
	}

	return fatal
}

// Has reports whether any issue of the given kind was found.
func (r Result) Has(kind IssueKind) bool {
	for _, i := range r.Issues {
		if i.Kind == kind {
			return true
		}
	}

	return false
}

// Validate checks flow for structural problems. Issues are reported in node
// order so results are stable across runs.
func Validate(flow *models.Flow) Result {
	v := &validator{flow: flow, ids: map[string]int{}}

	v.checkNodeIDs()
	v.checkEntryPoints()
	v.checkNodes()
	v.checkReachability()

	ok := true

	for _, i := range v.issues {
		if i.Severity == SeverityFatal {
			ok = false

			break
		}
	}

	if v.issues == nil {
		v.issues = []Issue{}
	}

	return Result{OK: ok, Issues: v.issues}
}

type validator struct {
	flow   *models.Flow
	ids    map[string]int
	issues []Issue
}

func (v *validator) add(issue Issue) {
	issue.Severity = SeverityOf(issue.Kind)
	v.issues = append(v.issues, issue)
}

func (v *validator) checkNodeIDs() {
	for _, n := range v.flow.Nodes {
		v.ids[n.ID]++
		if v.ids[n.ID] == 2 {
			v.add(Issue{
				Kind:    IssueDuplicateNodeID,
				NodeID:  n.ID,
				Message: fmt.Sprintf("node id %q is used more than once", n.ID),
			})
		}
	}
}

func (v *validator) checkEntryPoints() {
	starts := v.flow.NodesOfType(models.NodeTypeStart)

	switch {
	case len(starts) == 0:
		v.add(Issue{Kind: IssueNoEntryPoint, Message: "flow has no start node"})
	case len(starts) > 1:
		for _, s := range starts[1:] {
			v.add(Issue{
				Kind:    IssueMultipleEntryPoints,
				NodeID:  s.ID,
				Message: fmt.Sprintf("start node %q competes with %q as entry point", s.ID, starts[0].ID),
			})
		}
	}

	for _, s := range starts {
		if refs := v.flow.NodesReferencing(s.ID); len(refs) > 0 {
			v.add(Issue{
				Kind:    IssueStartHasIncoming,
				NodeID:  s.ID,
				Message: fmt.Sprintf("start node %q has %d incoming connection(s)", s.ID, len(refs)),
			})
		}
	}

	if len(v.flow.NodesOfType(models.NodeTypeEnd)) == 0 {
		v.add(Issue{Kind: IssueNoExitNode, Message: "flow has no end node"})
	}
}

func (v *validator) checkNodes() {
	for _, n := range v.flow.Nodes {
		if !n.Type.IsKnown() {
			v.add(Issue{
				Kind:    IssueUnknownNodeType,
				NodeID:  n.ID,
				Message: fmt.Sprintf("node %q has unknown type %q", n.ID, n.Type),
			})
		}

		for _, c := range n.Connections {
			if v.ids[c.TargetNodeID] == 0 {
				v.add(Issue{
					Kind:         IssueDanglingConnection,
					NodeID:       n.ID,
					ConnectionID: c.ID,
					Message:      fmt.Sprintf("connection %q from %q targets missing node %q", c.ID, n.ID, c.TargetNodeID),
				})
			}
		}

		switch p := n.Payload.(type) {
		case *models.ConditionPayload:
			v.checkCondition(n, p)
		case *models.DTMFPayload:
			v.checkDTMF(n, p)
		}

		if n.Type == models.NodeTypeEnd && len(n.Connections) > 0 {
			v.add(Issue{
				Kind:    IssueEndHasOutgoing,
				NodeID:  n.ID,
				Message: fmt.Sprintf("end node %q has outgoing connections that will never be taken", n.ID),
			})
		}
	}
}

func (v *validator) checkCondition(n *models.FlowNode, p *models.ConditionPayload) {
	if len(p.Branches) == 0 {
		v.add(Issue{
			Kind:    IssueEmptyBranchSet,
			NodeID:  n.ID,
			Message: fmt.Sprintf("condition node %q has no branches", n.ID),
		})

		return
	}

	if _, ok := n.DefaultConnection(); !ok {
		v.add(Issue{
			Kind:    IssueMissingDefaultBranch,
			NodeID:  n.ID,
			Message: fmt.Sprintf("condition node %q has no default connection for when no branch matches", n.ID),
		})
	}
}

func (v *validator) checkDTMF(n *models.FlowNode, p *models.DTMFPayload) {
	seen := map[string]bool{}

	for _, o := range p.Options {
		if seen[o.Key] {
			v.add(Issue{
				Kind:    IssueDuplicateKey,
				NodeID:  n.ID,
				Key:     o.Key,
				Message: fmt.Sprintf("dtmf node %q maps key %q more than once", n.ID, o.Key),
			})
		}

		seen[o.Key] = true

		if o.Target != "" && v.ids[o.Target] == 0 {
			v.add(Issue{
				Kind:    IssueDanglingConnection,
				NodeID:  n.ID,
				Key:     o.Key,
				Message: fmt.Sprintf("dtmf key %q on %q targets missing node %q", o.Key, n.ID, o.Target),
			})
		}
	}
}

// checkReachability walks the graph breadth-first from the entry point.
func (v *validator) checkReachability() {
	start, ok := v.flow.StartNode()
	if !ok {
		return
	}

	visited := map[string]bool{start.ID: true}
	queue := []string{start.ID}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		node, ok := v.flow.FindNode(id)
		if !ok {
			continue
		}

		for _, next := range successors(node) {
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}

	for _, n := range v.flow.Nodes {
		if n.Type == models.NodeTypeStart || visited[n.ID] {
			continue
		}

		v.add(Issue{
			Kind:    IssueUnreachableNode,
			NodeID:  n.ID,
			Message: fmt.Sprintf("node %q cannot be reached from the start node", n.ID),
		})
	}
}

func successors(n *models.FlowNode) []string {
	next := make([]string, 0, len(n.Connections))
	for _, c := range n.Connections {
		next = append(next, c.TargetNodeID)
	}

	if p, ok := n.Payload.(*models.DTMFPayload); ok {
		for _, o := range p.Options {
			if o.Target != "" {
				next = append(next, o.Target)
			}
		}
	}

	return next
}
