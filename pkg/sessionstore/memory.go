package sessionstore

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSweepSchedule is the cron spec of the expired-session sweep.
const DefaultSweepSchedule = "@every 1m"

type memoryEntry struct {
	rec      *Record
	accessed time.Time
}

// MemoryStore keeps sessions in process. Expired sessions are invisible to
// Load at once and removed by a periodic cron sweep.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]memoryEntry
	ttl      time.Duration
	schedule string
	now      func() time.Time
	logger   *slog.Logger
	cron     *cron.Cron
}

type MemoryOption func(*MemoryStore)

// WithMemoryTTL sets the idle lifetime of a session; zero keeps sessions forever.
func WithMemoryTTL(ttl time.Duration) MemoryOption {
	return func(s *MemoryStore) { s.ttl = ttl }
}

// WithSweepSchedule sets the cron spec of the sweep; an empty spec disables it.
func WithSweepSchedule(spec string) MemoryOption {
	return func(s *MemoryStore) { s.schedule = spec }
}

func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

func WithMemoryLogger(logger *slog.Logger) MemoryOption {
	return func(s *MemoryStore) { s.logger = logger }
}

// NewMemoryStore creates the store and starts its sweeper.
func NewMemoryStore(opts ...MemoryOption) (*MemoryStore, error) {
	s := &MemoryStore{
		sessions: make(map[string]memoryEntry),
		ttl:      DefaultTTL,
		schedule: DefaultSweepSchedule,
		now:      time.Now,
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.schedule != "" && s.ttl > 0 {
		s.cron = cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cron.DefaultLogger),
			cron.Recover(cron.DefaultLogger),
		))

		if _, err := s.cron.AddFunc(s.schedule, func() { s.Sweep() }); err != nil {
			return nil, err
		}

		s.cron.Start()
	}

	return s, nil
}

func (s *MemoryStore) expired(e memoryEntry, now time.Time) bool {
	return s.ttl > 0 && now.Sub(e.accessed) > s.ttl
}

func (s *MemoryStore) Save(_ context.Context, rec *Record) error {
	if err := rec.validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[rec.Session.ID] = memoryEntry{
		rec:      &Record{Session: rec.Session.Clone(), Flow: rec.Flow},
		accessed: s.now(),
	}

	return nil
}

func (s *MemoryStore) Load(_ context.Context, id string) (*Record, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}

	now := s.now()
	if s.expired(e, now) {
		delete(s.sessions, id)

		return nil, ErrNotFound
	}

	e.accessed = now
	s.sessions[id] = e

	return &Record{Session: e.rec.Session.Clone(), Flow: e.rec.Flow}, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	if id == "" {
		return ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return ErrNotFound
	}

	delete(s.sessions, id)

	return nil
}

func (s *MemoryStore) ListByFlow(_ context.Context, flowID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	ids := make([]string, 0)

	for id, e := range s.sessions {
		if e.rec.Session.FlowID == flowID && !s.expired(e, now) {
			ids = append(ids, id)
		}
	}

	sort.Strings(ids)

	return ids, nil
}

// Sweep drops expired sessions and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0

	for id, e := range s.sessions {
		if s.expired(e, now) {
			delete(s.sessions, id)
			removed++
		}
	}

	if removed > 0 {
		s.logger.Debug("swept expired sessions", "removed", removed)
	}

	return removed
}

// Len returns the number of stored sessions, expired ones included until swept.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.sessions)
}

// Close stops the sweeper.
func (s *MemoryStore) Close() error {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}

	return nil
}
