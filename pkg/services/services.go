package services

import (
	"context"
	"log/slog"
	"sync"

	"github.com/dukex/callflow/pkg/editor"
	"github.com/dukex/callflow/pkg/eventbus"
	"github.com/dukex/callflow/pkg/models"
	"github.com/dukex/callflow/pkg/otelhelper"
	"github.com/dukex/callflow/pkg/persistence"
	"go.opentelemetry.io/otel/trace"
)

// Option configures the dependencies shared by every service.
type Option func(*base)

// WithEventPublisher publishes lifecycle events after each successful change.
func WithEventPublisher(p eventbus.EventPublisher) Option {
	return func(b *base) { b.events = p }
}

// WithEditor replaces the editor, mainly to fix IDs and clocks in tests.
func WithEditor(e *editor.Editor) Option {
	return func(b *base) { b.editor = e }
}

func WithLogger(l *slog.Logger) Option {
	return func(b *base) { b.logger = l }
}

func WithTracer(t trace.Tracer) Option {
	return func(b *base) { b.tracer = t }
}

// WithHistories shares undo/redo stacks between the node and publishing
// services, so a rollback can be undone.
func WithHistories(h *Histories) Option {
	return func(b *base) { b.histories = h }
}

type base struct {
	persistence persistence.Persistence
	editor      *editor.Editor
	events      eventbus.EventPublisher
	histories   *Histories
	logger      *slog.Logger
	tracer      trace.Tracer
}

func newBase(p persistence.Persistence, module string, opts []Option) base {
	b := base{
		persistence: p,
		editor:      editor.New(),
		logger:      slog.Default(),
		tracer:      otelhelper.NoopTracer(),
	}

	for _, opt := range opts {
		opt(&b)
	}

	if b.histories == nil {
		b.histories = NewHistories(DefaultHistoryLimit)
	}

	b.logger = b.logger.With("module", module)

	return b
}

func (b *base) load(ctx context.Context, op, flowID string) (*models.Flow, error) {
	flow, err := b.persistence.FlowRepository().GetByID(ctx, flowID)
	if err != nil {
		return nil, &ServiceError{Op: op, Message: "failed to get flow", Err: err}
	}

	if flow == nil {
		return nil, notFound(op, ErrFlowNotFound, flowID)
	}

	return flow, nil
}

func (b *base) save(ctx context.Context, op string, flow *models.Flow) error {
	if err := b.persistence.FlowRepository().Save(ctx, flow); err != nil {
		return &ServiceError{Op: op, Message: "failed to save flow", Err: err}
	}

	return nil
}

// publish sends event without failing the calling operation; the change it
// describes is already persisted.
func (b *base) publish(ctx context.Context, key string, event eventbus.Event) {
	if b.events == nil {
		return
	}

	if err := b.events.Publish(ctx, key, event); err != nil {
		b.logger.ErrorContext(ctx, "Failed to publish event", "event_type", event.GetType(), "key", key, "error", err)
	}
}

// DefaultHistoryLimit is the undo depth kept per flow.
const DefaultHistoryLimit = 50

// keyedLocks hands out one mutex per key. A key's mutex is dropped once no
// caller holds or waits for it.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	sync.Mutex
	refs int
}

// Lock acquires the mutex of key and returns its release func.
func (k *keyedLocks) Lock(key string) func() {
	k.mu.Lock()

	if k.locks == nil {
		k.locks = make(map[string]*keyedLock)
	}

	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}

	l.refs++
	k.mu.Unlock()

	l.Lock()

	return func() {
		l.Unlock()

		k.mu.Lock()
		defer k.mu.Unlock()

		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
	}
}

// Len reports how many keys currently have a holder or waiter.
func (k *keyedLocks) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()

	return len(k.locks)
}

// Histories holds one undo/redo stack per flow and serialises edits to the
// same flow. Stacks live in process memory and are lost on restart.
type Histories struct {
	mu     sync.Mutex
	limit  int
	stacks map[string]*editor.History
	locks  keyedLocks
}

func NewHistories(limit int) *Histories {
	return &Histories{
		limit:  limit,
		stacks: make(map[string]*editor.History),
	}
}

// Lock acquires the edit lock of a flow and returns its release func.
func (h *Histories) Lock(flowID string) func() {
	return h.locks.Lock(flowID)
}

// Get returns the stack of a flow, creating it on first use. Callers hold the
// flow's lock.
func (h *Histories) Get(flowID string) *editor.History {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.stacks[flowID]
	if !ok {
		s = editor.NewHistory(h.limit)
		h.stacks[flowID] = s
	}

	return s
}

// Forget drops the stack of a deleted flow.
func (h *Histories) Forget(flowID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.stacks, flowID)
}
