// Package engine interprets flow graphs node by node to simulate a phone or chat
// conversation.
//
// The engine is a step-driven state machine. It never blocks on user input:
// when a node needs input the session is returned in the awaiting_input state
// and the caller resumes it later with SubmitInput. Sessions are values; every
// operation returns a new session and leaves its argument untouched.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/dukex/callflow/pkg/models"
	"github.com/dukex/callflow/pkg/otelhelper"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultMaxSteps bounds how many nodes one session may enter.
const DefaultMaxSteps = 1000

// TimeoutInput is the value a driver submits when its own wall-clock timer for
// a dtmf prompt expires. It is treated as an unmatched key.
const TimeoutInput = "timeout"

// DoneInput ends an assistant exchange before max turns are reached.
const DoneInput = "/done"

// Engine executes flows. It holds no per-session state and is safe for
// concurrent use.
type Engine struct {
	evaluator models.Evaluator
	caller    APICaller
	responder Responder
	maxSteps  int
	newID     func() string
	now       func() time.Time
	tracer    trace.Tracer
	logger    *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithEvaluator sets the condition expression evaluator.
func WithEvaluator(e models.Evaluator) Option {
	return func(en *Engine) { en.evaluator = e }
}

// WithAPICaller sets how api nodes perform their call.
func WithAPICaller(c APICaller) Option {
	return func(en *Engine) { en.caller = c }
}

// WithResponder sets the assistant reply source.
func WithResponder(r Responder) Option {
	return func(en *Engine) { en.responder = r }
}

// WithMaxSteps bounds the number of node entries per session.
func WithMaxSteps(n int) Option {
	return func(en *Engine) {
		if n > 0 {
			en.maxSteps = n
		}
	}
}

// WithIDGenerator sets the session ID generator.
func WithIDGenerator(f func() string) Option {
	return func(en *Engine) { en.newID = f }
}

// WithClock sets the clock used for session timestamps. Events never carry time.
func WithClock(f func() time.Time) Option {
	return func(en *Engine) { en.now = f }
}

// WithTracer sets the tracer for session spans.
func WithTracer(t trace.Tracer) Option {
	return func(en *Engine) { en.tracer = t }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(en *Engine) { en.logger = l }
}

// New creates an engine with a simulated API caller, synthetic assistant and
// the default expression evaluator unless overridden.
func New(opts ...Option) *Engine {
	e := &Engine{
		evaluator: models.ExpressionEvaluator{},
		caller:    SimulatedCaller{},
		responder: SyntheticResponder{},
		maxSteps:  DefaultMaxSteps,
		newID:     uuid.NewString,
		now:       time.Now,
		tracer:    otelhelper.NoopTracer(),
		logger:    slog.Default(),
	}

	for _, opt := range opts {
		opt(e)
	}

	e.logger = e.logger.With("module", "engine")

	return e
}

// Prepare returns a new running session positioned at the flow's start node
// without entering it. Drivers that pace execution call Advance afterwards.
func (e *Engine) Prepare(_ context.Context, flow *models.Flow) (*models.Session, error) {
	start, ok := flow.StartNode()
	if !ok {
		return nil, newError(KindNoEntryPoint, "", "flow %s has no start node", flow.ID)
	}

	now := e.now()

	return &models.Session{
		ID:            e.newID(),
		FlowID:        flow.ID,
		FlowVersion:   flow.CurrentVersion,
		Status:        models.SessionStatusRunning,
		CurrentNodeID: start.ID,
		Variables:     map[string]any{},
		Events:        []models.Event{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// Start begins a session and runs it until it needs input, completes or fails.
func (e *Engine) Start(ctx context.Context, flow *models.Flow) (*models.Session, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.start",
		attribute.String(otelhelper.FlowIDKey, flow.ID),
		attribute.String(otelhelper.FlowVersionKey, flow.CurrentVersion),
	)
	defer span.End()

	s, err := e.Prepare(ctx, flow)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	span.SetAttributes(attribute.String(otelhelper.SessionIDKey, s.ID))

	s = e.run(ctx, flow, s)
	span.SetAttributes(attribute.String(otelhelper.SessionStatusKey, string(s.Status)))

	e.logger.DebugContext(ctx, "Session started", "session_id", s.ID, "flow_id", flow.ID, "status", s.Status)

	return s, nil
}

// Reset discards nothing and starts over; it is equivalent to Start.
func (e *Engine) Reset(ctx context.Context, flow *models.Flow) (*models.Session, error) {
	return e.Start(ctx, flow)
}

// Advance enters exactly one node. Sessions that are not running are returned
// unchanged.
func (e *Engine) Advance(ctx context.Context, flow *models.Flow, session *models.Session) (*models.Session, error) {
	if session.Status != models.SessionStatusRunning {
		return session, nil
	}

	s := session.Clone()
	e.step(ctx, flow, s)
	s.UpdatedAt = e.now()

	return s, nil
}

// SubmitInput records value as the answer to the pending prompt and runs the
// session until it needs input again, completes or fails.
func (e *Engine) SubmitInput(
	ctx context.Context,
	flow *models.Flow,
	session *models.Session,
	value string,
) (*models.Session, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.submit_input",
		attribute.String(otelhelper.FlowIDKey, flow.ID),
		attribute.String(otelhelper.SessionIDKey, session.ID),
	)
	defer span.End()

	s, err := e.Accept(ctx, flow, session, value)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	s = e.run(ctx, flow, s)
	span.SetAttributes(attribute.String(otelhelper.SessionStatusKey, string(s.Status)))

	return s, nil
}

// Accept records value as the answer to the pending prompt and resolves the
// next node without entering it.
func (e *Engine) Accept(
	ctx context.Context,
	flow *models.Flow,
	session *models.Session,
	value string,
) (*models.Session, error) {
	if session.Status != models.SessionStatusAwaitingInput || session.Awaiting == nil {
		return nil, newError(KindNotAwaitingInput, session.CurrentNodeID,
			"session %s is %s, not awaiting input", session.ID, session.Status)
	}

	s := session.Clone()
	pending := s.Awaiting

	node, ok := flow.FindNode(pending.NodeID)
	if !ok {
		e.fail(s, newError(KindDanglingConnection, pending.NodeID, "awaited node %s no longer exists", pending.NodeID))

		return s, nil
	}

	s.Awaiting = nil
	s.Status = models.SessionStatusRunning
	e.emit(s, models.Event{
		Kind:     models.EventInputReceived,
		NodeID:   node.ID,
		NodeType: node.Type,
		Label:    node.Label,
		Text:     value,
	})

	switch p := node.Payload.(type) {
	case *models.DTMFPayload:
		e.acceptKey(ctx, flow, s, node, p, pending, value)
	case *models.AssistantPayload:
		e.acceptTurn(ctx, flow, s, node, p, pending, value)
	default:
		e.take(flow, s, node, firstConnection(node))
	}

	s.UpdatedAt = e.now()

	return s, nil
}

// Stop ends a session at user request. Terminal sessions are returned unchanged.
func (e *Engine) Stop(session *models.Session) *models.Session {
	if session.Status.IsTerminal() {
		return session
	}

	s := session.Clone()
	s.Awaiting = nil
	s.Status = models.SessionStatusCompleted
	e.emit(s, models.Event{Kind: models.EventFlowStopped, NodeID: s.CurrentNodeID})
	s.UpdatedAt = e.now()

	return s
}

// run steps a session until it leaves the running state.
func (e *Engine) run(ctx context.Context, flow *models.Flow, s *models.Session) *models.Session {
	for s.Status == models.SessionStatusRunning {
		if err := ctx.Err(); err != nil {
			e.logger.DebugContext(ctx, "Session run interrupted", "session_id", s.ID, "error", err)

			break
		}

		e.step(ctx, flow, s)
	}

	s.UpdatedAt = e.now()

	return s
}

// step enters the session's current node.
func (e *Engine) step(ctx context.Context, flow *models.Flow, s *models.Session) {
	if s.Steps >= e.maxSteps {
		e.fail(s, newError(KindStepLimitExceeded, s.CurrentNodeID, "session exceeded %d steps", e.maxSteps))

		return
	}

	node, ok := flow.FindNode(s.CurrentNodeID)
	if !ok {
		e.fail(s, newError(KindDanglingConnection, s.CurrentNodeID, "node %s does not exist", s.CurrentNodeID))

		return
	}

	s.Steps++
	e.enter(ctx, flow, s, node)
}

func (e *Engine) emit(s *models.Session, ev models.Event) {
	ev.Seq = s.NextSeq()
	s.Events = append(s.Events, ev)
}

func (e *Engine) complete(s *models.Session, nodeID string) {
	s.Status = models.SessionStatusCompleted
	s.Awaiting = nil
	e.emit(s, models.Event{Kind: models.EventFlowCompleted, NodeID: nodeID})
}

// finish completes the session on an end node.
func (e *Engine) finish(s *models.Session, node *models.FlowNode) {
	s.Status = models.SessionStatusCompleted
	s.Awaiting = nil
	e.emit(s, models.Event{
		Kind:     models.EventFlowCompleted,
		NodeID:   node.ID,
		NodeType: node.Type,
		Label:    node.Label,
	})
}

func (e *Engine) fail(s *models.Session, err *ExecutionError) {
	s.Status = models.SessionStatusFailed
	s.Awaiting = nil
	s.Failure = &models.Failure{Kind: string(err.Kind), NodeID: err.NodeID, Message: err.Message}
	e.emit(s, models.Event{
		Kind:   models.EventFlowFailed,
		NodeID: err.NodeID,
		Text:   err.Error(),
		Data:   map[string]any{"kind": string(err.Kind)},
	})

	e.logger.Debug("Session failed", "session_id", s.ID, "kind", err.Kind, "node_id", err.NodeID)
}

func (e *Engine) await(s *models.Session, node *models.FlowNode, pending models.PendingInput) {
	pending.NodeID = node.ID
	pending.NodeType = node.Type
	s.Status = models.SessionStatusAwaitingInput
	s.Awaiting = &pending
}

// take follows conn out of node. A nil connection completes the session.
func (e *Engine) take(flow *models.Flow, s *models.Session, node *models.FlowNode, conn *models.Connection) {
	if conn == nil {
		e.complete(s, node.ID)

		return
	}

	e.goTo(flow, s, node, conn.ID, conn.TargetNodeID)
}

func (e *Engine) goTo(flow *models.Flow, s *models.Session, node *models.FlowNode, connID, target string) {
	if _, ok := flow.FindNode(target); !ok {
		err := newError(KindDanglingConnection, node.ID, "connection %s targets missing node %s", connID, target)
		e.fail(s, err)

		return
	}

	s.CurrentNodeID = target
	s.Status = models.SessionStatusRunning
}

// firstConnection is the single outgoing edge of a non-branching node.
func firstConnection(node *models.FlowNode) *models.Connection {
	if len(node.Connections) == 0 {
		return nil
	}

	return node.Connections[0]
}
