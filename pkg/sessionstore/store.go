// Package sessionstore keeps simulated conversation sessions between requests.
//
// A session is stored together with the flow snapshot it runs against, so a
// session keeps its semantics when the flow is edited or published mid-run.
package sessionstore

import (
	"context"
	"errors"
	"time"

	"github.com/dukex/callflow/pkg/models"
)

// DefaultTTL is how long an idle session is kept.
const DefaultTTL = 24 * time.Hour

var (
	ErrNotFound      = errors.New("session not found")
	ErrInvalidID     = errors.New("invalid session ID")
	ErrInvalidRecord = errors.New("invalid session record")
)

// Record is a session and the flow it executes.
type Record struct {
	Session *models.Session `json:"session"`
	Flow    *models.Flow    `json:"flow"`
}

func (r *Record) validate() error {
	if r == nil || r.Session == nil || r.Flow == nil {
		return ErrInvalidRecord
	}

	if r.Session.ID == "" {
		return ErrInvalidID
	}

	return nil
}

// Store persists session records.
type Store interface {
	Save(ctx context.Context, rec *Record) error
	// Load returns ErrNotFound for unknown or expired sessions.
	Load(ctx context.Context, id string) (*Record, error)
	Delete(ctx context.Context, id string) error
	// ListByFlow returns the IDs of live sessions of a flow.
	ListByFlow(ctx context.Context, flowID string) ([]string, error)
	Close() error
}
