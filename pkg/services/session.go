package services

import (
	"context"
	"errors"

	"github.com/dukex/callflow/pkg/engine"
	"github.com/dukex/callflow/pkg/events"
	"github.com/dukex/callflow/pkg/metrics"
	"github.com/dukex/callflow/pkg/models"
	"github.com/dukex/callflow/pkg/persistence"
	"github.com/dukex/callflow/pkg/sessionstore"
)

// Session runs simulations of stored flows. Each session keeps the flow
// snapshot it started with, so edits made mid-run do not affect it. Calls on
// the same session are serialised.
type Session struct {
	base

	engine *engine.Engine
	store  sessionstore.Store
	locks  keyedLocks
}

func NewSession(p persistence.Persistence, eng *engine.Engine, store sessionstore.Store, opts ...Option) *Session {
	return &Session{
		base:   newBase(p, "session_service", opts),
		engine: eng,
		store:  store,
	}
}

// SessionResult is a session and the events appended by the last call.
type SessionResult struct {
	Session   *models.Session `json:"session"`
	NewEvents []models.Event  `json:"new_events"`
}

// Start begins a session on the flow's working node set and runs it until it
// needs input or finishes.
func (s *Session) Start(ctx context.Context, flowID string) (*SessionResult, error) {
	const op = "start_session"

	flow, err := s.load(ctx, op, flowID)
	if err != nil {
		return nil, err
	}

	session, err := s.engine.Start(ctx, flow)
	if err != nil {
		return nil, executionError(op, err)
	}

	metrics.RecordSessionStarted()
	s.publish(ctx, flowID, events.NewSessionStarted(session))

	return s.commit(ctx, op, &sessionstore.Record{Session: session, Flow: flow}, 0)
}

// Get returns a session of the flow.
func (s *Session) Get(ctx context.Context, flowID, sessionID string) (*models.Session, error) {
	rec, err := s.record(ctx, "get_session", flowID, sessionID)
	if err != nil {
		return nil, err
	}

	return rec.Session, nil
}

// List returns the IDs of the flow's live sessions.
func (s *Session) List(ctx context.Context, flowID string) ([]string, error) {
	if _, err := s.load(ctx, "list_sessions", flowID); err != nil {
		return nil, err
	}

	ids, err := s.store.ListByFlow(ctx, flowID)
	if err != nil {
		return nil, &ServiceError{Op: "list_sessions", Message: "failed to list sessions", Err: err}
	}

	return ids, nil
}

// Input answers the pending prompt and runs the session on.
func (s *Session) Input(ctx context.Context, flowID, sessionID, value string) (*SessionResult, error) {
	const op = "submit_input"

	unlock := s.locks.Lock(sessionID)
	defer unlock()

	rec, err := s.record(ctx, op, flowID, sessionID)
	if err != nil {
		return nil, err
	}

	next, err := s.engine.SubmitInput(ctx, rec.Flow, rec.Session, value)
	if err != nil {
		return nil, executionError(op, err)
	}

	return s.commit(ctx, op, &sessionstore.Record{Session: next, Flow: rec.Flow}, len(rec.Session.Events))
}

// Stop ends a session at user request. Stopping a finished session changes
// nothing.
func (s *Session) Stop(ctx context.Context, flowID, sessionID string) (*SessionResult, error) {
	const op = "stop_session"

	unlock := s.locks.Lock(sessionID)
	defer unlock()

	rec, err := s.record(ctx, op, flowID, sessionID)
	if err != nil {
		return nil, err
	}

	next := s.engine.Stop(rec.Session)

	return s.commit(ctx, op, &sessionstore.Record{Session: next, Flow: rec.Flow}, len(rec.Session.Events))
}

// Reset starts a new session on the snapshot of an existing one and drops
// the old session.
func (s *Session) Reset(ctx context.Context, flowID, sessionID string) (*SessionResult, error) {
	const op = "reset_session"

	unlock := s.locks.Lock(sessionID)
	defer unlock()

	rec, err := s.record(ctx, op, flowID, sessionID)
	if err != nil {
		return nil, err
	}

	session, err := s.engine.Reset(ctx, rec.Flow)
	if err != nil {
		return nil, executionError(op, err)
	}

	if err := s.drop(ctx, op, rec); err != nil && !errors.Is(err, ErrSessionNotFound) {
		return nil, err
	}

	metrics.RecordSessionStarted()
	s.publish(ctx, flowID, events.NewSessionStarted(session))

	return s.commit(ctx, op, &sessionstore.Record{Session: session, Flow: rec.Flow}, 0)
}

// Delete drops a session.
func (s *Session) Delete(ctx context.Context, flowID, sessionID string) error {
	const op = "delete_session"

	unlock := s.locks.Lock(sessionID)
	defer unlock()

	rec, err := s.record(ctx, op, flowID, sessionID)
	if err != nil {
		return err
	}

	return s.drop(ctx, op, rec)
}

func (s *Session) drop(ctx context.Context, op string, rec *sessionstore.Record) error {
	if err := s.store.Delete(ctx, rec.Session.ID); err != nil {
		if errors.Is(err, sessionstore.ErrNotFound) {
			return notFound(op, ErrSessionNotFound, rec.Session.ID)
		}

		return &ServiceError{Op: op, Message: "failed to delete session", Err: err}
	}

	if !rec.Session.Status.IsTerminal() {
		metrics.RecordSessionFinished("abandoned")
	}

	return nil
}

func (s *Session) record(ctx context.Context, op, flowID, sessionID string) (*sessionstore.Record, error) {
	rec, err := s.store.Load(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sessionstore.ErrNotFound) || errors.Is(err, sessionstore.ErrInvalidID) {
			return nil, notFound(op, ErrSessionNotFound, sessionID)
		}

		return nil, &ServiceError{Op: op, Message: "failed to load session", Err: err}
	}

	if rec.Session.FlowID != flowID {
		return nil, notFound(op, ErrSessionNotFound, sessionID)
	}

	return rec, nil
}

// commit stores the record and reports what happened since the session had
// seen events.
func (s *Session) commit(ctx context.Context, op string, rec *sessionstore.Record, seen int) (*SessionResult, error) {
	if err := s.store.Save(ctx, rec); err != nil {
		return nil, &ServiceError{Op: op, Message: "failed to store session", Err: err}
	}

	session := rec.Session
	fresh := session.EventsSince(seen)

	for _, ev := range fresh {
		if ev.Kind == models.EventNodeEntered || (ev.Kind == models.EventFlowCompleted && ev.NodeType == models.NodeTypeEnd) {
			metrics.RecordNodeEntered(string(ev.NodeType))
		}
	}

	if session.Status.IsTerminal() && wasTerminal(fresh) {
		metrics.RecordSessionFinished(string(session.Status))
		s.publish(ctx, session.FlowID, events.NewSessionFinished(session))
	}

	s.logger.DebugContext(ctx, "Session advanced", "session_id", session.ID, "status", session.Status, "new_events", len(fresh))

	return &SessionResult{Session: session, NewEvents: fresh}, nil
}

// wasTerminal reports whether events contain the entry that finished the
// session, so a session is counted as finished exactly once.
func wasTerminal(evs []models.Event) bool {
	for _, ev := range evs {
		switch ev.Kind {
		case models.EventFlowCompleted, models.EventFlowStopped, models.EventFlowFailed:
			return true
		}
	}

	return false
}
