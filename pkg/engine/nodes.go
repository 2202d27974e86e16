package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dukex/callflow/pkg/models"
	"github.com/dukex/callflow/pkg/template"
	"github.com/jmespath/go-jmespath"
)

// enter performs the side effect of node and selects where to go next. An end
// node is reported by its flow_completed event alone.
func (e *Engine) enter(ctx context.Context, flow *models.Flow, s *models.Session, node *models.FlowNode) {
	if node.Type == models.NodeTypeEnd {
		e.finish(s, node)

		return
	}

	entered := models.Event{
		Kind:     models.EventNodeEntered,
		NodeID:   node.ID,
		NodeType: node.Type,
		Label:    node.Label,
	}

	if p, ok := node.Payload.(*models.MessagePayload); ok {
		text, err := template.InterpolateWithSession(p.Text, s)
		if err != nil {
			e.fail(s, &ExecutionError{Kind: KindEvaluationFailed, NodeID: node.ID, Message: err.Error(), Err: err})

			return
		}

		entered.Text = text
	}

	e.emit(s, entered)

	switch node.Type {
	case models.NodeTypeStart:
		e.take(flow, s, node, firstConnection(node))
	case models.NodeTypeMessage:
		e.take(flow, s, node, firstConnection(node))
	case models.NodeTypeCondition:
		e.enterCondition(flow, s, node)
	case models.NodeTypeDTMF:
		e.enterDTMF(s, node)
	case models.NodeTypeAPI:
		e.enterAPI(ctx, flow, s, node)
	case models.NodeTypeAssistant:
		e.enterAssistant(ctx, s, node)
	case models.NodeTypeTransfer:
		e.enterTransfer(flow, s, node)
	case models.NodeTypeWait:
		e.enterWait(flow, s, node)
	case models.NodeTypeVariable:
		e.enterVariable(flow, s, node)
	default:
		e.fail(s, newError(KindUnknownNodeType, node.ID, "cannot interpret node type %q", node.Type))
	}
}

// enterCondition takes the connection of the first branch whose expression
// holds. A branch routes through the connection labeled with its name, or by
// position among the non-default connections. When no branch holds the default
// connection is taken, and without one the session completes.
func (e *Engine) enterCondition(flow *models.Flow, s *models.Session, node *models.FlowNode) {
	p, _ := node.Payload.(*models.ConditionPayload)
	if p == nil {
		p = &models.ConditionPayload{}
	}

	routes := branchRoutes(node)

	for i, branch := range p.Branches {
		ok, err := e.evaluator.Evaluate(branch.Expression, s.Variables)
		if err != nil {
			e.fail(s, &ExecutionError{
				Kind:    KindEvaluationFailed,
				NodeID:  node.ID,
				Message: fmt.Sprintf("branch %q: %v", branch.Name, err),
				Err:     err,
			})

			return
		}

		if !ok {
			continue
		}

		conn, found := node.ConnectionByLabel(branch.Name)
		if branch.Name == "" || !found {
			if i >= len(routes) {
				continue
			}

			conn = routes[i]
		}

		e.emit(s, models.Event{
			Kind:     models.EventBranchTaken,
			NodeID:   node.ID,
			NodeType: node.Type,
			Label:    branch.Name,
			Data:     map[string]any{"branch": branch.Name, "index": i, "target": conn.TargetNodeID},
		})
		e.take(flow, s, node, conn)

		return
	}

	conn, ok := node.DefaultConnection()
	if !ok {
		e.complete(s, node.ID)

		return
	}

	e.emit(s, models.Event{
		Kind:     models.EventBranchTaken,
		NodeID:   node.ID,
		NodeType: node.Type,
		Label:    "default",
		Data:     map[string]any{"branch": "default", "default": true, "target": conn.TargetNodeID},
	})
	e.take(flow, s, node, conn)
}

// branchRoutes lists the connections of a condition node that are not flagged
// or labeled as the fallback, in declared order.
func branchRoutes(node *models.FlowNode) []*models.Connection {
	routes := make([]*models.Connection, 0, len(node.Connections))
	for _, c := range node.Connections {
		if !c.IsDefault() {
			routes = append(routes, c)
		}
	}

	return routes
}

func (e *Engine) enterDTMF(s *models.Session, node *models.FlowNode) {
	p, _ := node.Payload.(*models.DTMFPayload)
	if p == nil {
		p = &models.DTMFPayload{}
	}

	e.prompt(s, node, p, 0)
}

func (e *Engine) prompt(s *models.Session, node *models.FlowNode, p *models.DTMFPayload, attempts int) {
	text, err := template.InterpolateWithSession(p.Prompt, s)
	if err != nil {
		e.fail(s, &ExecutionError{Kind: KindEvaluationFailed, NodeID: node.ID, Message: err.Error(), Err: err})

		return
	}

	keys := dtmfKeys(node, p)

	e.emit(s, models.Event{
		Kind:     models.EventInputRequested,
		NodeID:   node.ID,
		NodeType: node.Type,
		Label:    node.Label,
		Text:     text,
		Data:     map[string]any{"keys": keys, "timeout": p.Timeout, "attempt": attempts + 1},
	})
	e.await(s, node, models.PendingInput{Keys: keys, Attempts: attempts})
}

// dtmfKeys lists the option keys followed by any extra keys only present as
// connection labels.
func dtmfKeys(node *models.FlowNode, p *models.DTMFPayload) []string {
	keys := p.Keys()
	seen := map[string]bool{}

	for _, k := range keys {
		seen[k] = true
	}

	for _, c := range node.Connections {
		if c.Label == "" || c.IsDefault() || seen[c.Label] {
			continue
		}

		seen[c.Label] = true
		keys = append(keys, c.Label)
	}

	return keys
}

// acceptKey routes a pressed key. A known key goes to its option target, else
// to the connection labeled with the key, else to an "any key" connection.
// Other keys are retried while attempts remain; after that the default
// connection is taken, or the session fails with InputTimeout.
func (e *Engine) acceptKey(
	_ context.Context,
	flow *models.Flow,
	s *models.Session,
	node *models.FlowNode,
	p *models.DTMFPayload,
	pending *models.PendingInput,
	value string,
) {
	key := strings.TrimSpace(value)

	if target, connID, ok := routeKey(node, p, key); ok {
		if p.Variable != "" {
			s.Variables[p.Variable] = key
		}

		e.emit(s, models.Event{
			Kind:     models.EventBranchTaken,
			NodeID:   node.ID,
			NodeType: node.Type,
			Label:    key,
			Data:     map[string]any{"key": key, "target": target},
		})

		if target == "" {
			e.complete(s, node.ID)

			return
		}

		e.goTo(flow, s, node, connID, target)

		return
	}

	if conn, ok := anyKeyConnection(node, key); ok {
		if p.Variable != "" {
			s.Variables[p.Variable] = key
		}

		e.emit(s, models.Event{
			Kind:     models.EventBranchTaken,
			NodeID:   node.ID,
			NodeType: node.Type,
			Label:    models.AnyKeyLabel,
			Data:     map[string]any{"key": key, "target": conn.TargetNodeID, "any_key": true},
		})
		e.take(flow, s, node, conn)

		return
	}

	attempts := pending.Attempts + 1
	if attempts <= p.Retries {
		e.emit(s, models.Event{
			Kind:     models.EventInputRetry,
			NodeID:   node.ID,
			NodeType: node.Type,
			Label:    node.Label,
			Text:     key,
			Data:     map[string]any{"attempt": attempts, "retries": p.Retries},
		})
		e.prompt(s, node, p, attempts)

		return
	}

	e.emit(s, models.Event{
		Kind:     models.EventInputTimeout,
		NodeID:   node.ID,
		NodeType: node.Type,
		Label:    node.Label,
		Text:     key,
		Data:     map[string]any{"attempts": attempts},
	})

	conn, ok := node.DefaultConnection()
	if !ok {
		e.fail(s, newError(KindInputTimeout, node.ID, "no option matches %q after %d attempt(s) and there is no default connection", key, attempts))

		return
	}

	e.take(flow, s, node, conn)
}

// anyKeyConnection returns the "any key" connection for a real keypress. An
// empty value or TimeoutInput is not a keypress.
func anyKeyConnection(node *models.FlowNode, key string) (*models.Connection, bool) {
	if key == "" || key == TimeoutInput {
		return nil, false
	}

	return node.ConnectionByLabel(models.AnyKeyLabel)
}

// routeKey resolves key to a target node. A matched key with no explicit route
// falls back to the default connection, then to a lone connection, and
// otherwise ends the flow (empty target).
func routeKey(node *models.FlowNode, p *models.DTMFPayload, key string) (target, connID string, matched bool) {
	if key == "" {
		return "", "", false
	}

	for _, o := range p.Options {
		if o.Key != key {
			continue
		}

		if o.Target != "" {
			return o.Target, "", true
		}

		if c, ok := node.ConnectionByLabel(key); ok {
			return c.TargetNodeID, c.ID, true
		}

		if c, ok := node.DefaultConnection(); ok {
			return c.TargetNodeID, c.ID, true
		}

		if len(node.Connections) == 1 {
			return node.Connections[0].TargetNodeID, node.Connections[0].ID, true
		}

		return "", "", true
	}

	if c, ok := node.ConnectionByLabel(key); ok && !c.IsDefault() {
		return c.TargetNodeID, c.ID, true
	}

	return "", "", false
}

func (e *Engine) enterAPI(ctx context.Context, flow *models.Flow, s *models.Session, node *models.FlowNode) {
	p, _ := node.Payload.(*models.APIPayload)
	if p == nil {
		p = &models.APIPayload{Method: "GET"}
	}

	req, err := renderRequest(p, s)
	if err != nil {
		e.fail(s, &ExecutionError{Kind: KindEvaluationFailed, NodeID: node.ID, Message: err.Error(), Err: err})

		return
	}

	data := map[string]any{"method": req.Method, "url": req.URL}

	resp, err := e.caller.Call(ctx, req)
	if err != nil {
		data["error"] = err.Error()
		e.emit(s, models.Event{Kind: models.EventAPICall, NodeID: node.ID, NodeType: node.Type, Label: node.Label, Data: data})

		if conn, ok := node.ConnectionByLabel("error"); ok {
			e.take(flow, s, node, conn)

			return
		}

		e.fail(s, &ExecutionError{Kind: KindAPICallFailed, NodeID: node.ID, Message: err.Error(), Err: err})

		return
	}

	data["status_code"] = resp.StatusCode

	if p.ResponseVariable != "" {
		value := resp.Body

		if p.ResponsePath != "" {
			value, err = jmespath.Search(p.ResponsePath, resp.Body)
			if err != nil {
				e.fail(s, &ExecutionError{
					Kind:    KindEvaluationFailed,
					NodeID:  node.ID,
					Message: fmt.Sprintf("response path %q: %v", p.ResponsePath, err),
					Err:     err,
				})

				return
			}
		}

		s.Variables[p.ResponseVariable] = value
		data["variable"] = p.ResponseVariable
	}

	e.emit(s, models.Event{Kind: models.EventAPICall, NodeID: node.ID, NodeType: node.Type, Label: node.Label, Data: data})
	e.take(flow, s, node, successConnection(node))
}

// successConnection is the first connection not reserved for call errors.
func successConnection(node *models.FlowNode) *models.Connection {
	for _, c := range node.Connections {
		if !strings.EqualFold(c.Label, "error") {
			return c
		}
	}

	return nil
}

func renderRequest(p *models.APIPayload, s *models.Session) (APIRequest, error) {
	url, err := template.InterpolateWithSession(p.URL, s)
	if err != nil {
		return APIRequest{}, fmt.Errorf("url: %w", err)
	}

	body, err := template.InterpolateWithSession(p.Body, s)
	if err != nil {
		return APIRequest{}, fmt.Errorf("body: %w", err)
	}

	headers := make(map[string]string, len(p.Headers))

	for k, v := range p.Headers {
		rendered, err := template.InterpolateWithSession(v, s)
		if err != nil {
			return APIRequest{}, fmt.Errorf("header %s: %w", k, err)
		}

		headers[k] = rendered
	}

	method := strings.ToUpper(p.Method)
	if method == "" {
		method = "GET"
	}

	return APIRequest{
		Method:  method,
		URL:     url,
		Headers: headers,
		Body:    body,
		Timeout: time.Duration(p.Timeout) * time.Second,
	}, nil
}

func (e *Engine) enterAssistant(ctx context.Context, s *models.Session, node *models.FlowNode) {
	p, _ := node.Payload.(*models.AssistantPayload)
	if p == nil {
		p = &models.AssistantPayload{MaxTurns: 1}
	}

	if !e.reply(ctx, s, node, p, 0, "") {
		return
	}

	e.emit(s, models.Event{Kind: models.EventInputRequested, NodeID: node.ID, NodeType: node.Type, Label: node.Label})
	e.await(s, node, models.PendingInput{})
}

// acceptTurn counts one conversational turn. The exchange ends at max turns or
// when the caller sends DoneInput, after which the single outgoing connection
// is taken.
func (e *Engine) acceptTurn(
	ctx context.Context,
	flow *models.Flow,
	s *models.Session,
	node *models.FlowNode,
	p *models.AssistantPayload,
	pending *models.PendingInput,
	value string,
) {
	if strings.TrimSpace(value) == DoneInput {
		e.take(flow, s, node, firstConnection(node))

		return
	}

	turns := pending.Turns + 1
	if !e.reply(ctx, s, node, p, turns, value) {
		return
	}

	maxTurns := p.MaxTurns
	if maxTurns <= 0 {
		maxTurns = 1
	}

	if turns >= maxTurns {
		e.take(flow, s, node, firstConnection(node))

		return
	}

	e.emit(s, models.Event{Kind: models.EventInputRequested, NodeID: node.ID, NodeType: node.Type, Label: node.Label})
	e.await(s, node, models.PendingInput{Turns: turns})
}

func (e *Engine) reply(
	ctx context.Context,
	s *models.Session,
	node *models.FlowNode,
	p *models.AssistantPayload,
	turn int,
	input string,
) bool {
	prompt, err := template.InterpolateWithSession(p.Prompt, s)
	if err != nil {
		e.fail(s, &ExecutionError{Kind: KindEvaluationFailed, NodeID: node.ID, Message: err.Error(), Err: err})

		return false
	}

	text, err := e.responder.Reply(ctx, AssistantTurn{
		NodeID:      node.ID,
		AssistantID: p.AssistantID,
		Prompt:      prompt,
		Temperature: p.Temperature,
		Turn:        turn,
		Input:       input,
		Variables:   s.Variables,
	})
	if err != nil {
		e.fail(s, &ExecutionError{Kind: KindEvaluationFailed, NodeID: node.ID, Message: err.Error(), Err: err})

		return false
	}

	e.emit(s, models.Event{
		Kind:     models.EventAssistantReply,
		NodeID:   node.ID,
		NodeType: node.Type,
		Label:    node.Label,
		Text:     text,
		Data:     map[string]any{"assistant_id": p.AssistantID, "turn": turn},
	})

	return true
}

func (e *Engine) enterTransfer(flow *models.Flow, s *models.Session, node *models.FlowNode) {
	p, _ := node.Payload.(*models.TransferPayload)
	if p == nil {
		p = &models.TransferPayload{}
	}

	e.emit(s, models.Event{
		Kind:     models.EventTransfer,
		NodeID:   node.ID,
		NodeType: node.Type,
		Label:    node.Label,
		Text:     fmt.Sprintf("Transferring to %s", p.Destination),
		Data:     map[string]any{"destination": p.Destination, "type": p.Type},
	})
	e.take(flow, s, node, firstConnection(node))
}

func (e *Engine) enterWait(flow *models.Flow, s *models.Session, node *models.FlowNode) {
	p, _ := node.Payload.(*models.WaitPayload)
	if p == nil {
		p = &models.WaitPayload{}
	}

	e.emit(s, models.Event{
		Kind:     models.EventWait,
		NodeID:   node.ID,
		NodeType: node.Type,
		Label:    node.Label,
		Data:     map[string]any{"seconds": p.Seconds},
	})
	e.take(flow, s, node, firstConnection(node))
}

func (e *Engine) enterVariable(flow *models.Flow, s *models.Session, node *models.FlowNode) {
	p, _ := node.Payload.(*models.VariablePayload)
	if p == nil || p.Name == "" {
		e.take(flow, s, node, firstConnection(node))

		return
	}

	value, err := template.RenderWithSession(p.Value, s)
	if err != nil {
		e.fail(s, &ExecutionError{Kind: KindEvaluationFailed, NodeID: node.ID, Message: err.Error(), Err: err})

		return
	}

	s.Variables[p.Name] = value
	e.emit(s, models.Event{
		Kind:     models.EventVariableSet,
		NodeID:   node.ID,
		NodeType: node.Type,
		Label:    p.Name,
		Data:     map[string]any{"name": p.Name, "value": value},
	})
	e.take(flow, s, node, firstConnection(node))
}
