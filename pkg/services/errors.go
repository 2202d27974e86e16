// Package services composes the editor, validator, engine and storage layers
// into the operations exposed over HTTP.
package services

import (
	"errors"
	"fmt"

	"github.com/dukex/callflow/pkg/editor"
	"github.com/dukex/callflow/pkg/engine"
	"github.com/dukex/callflow/pkg/persistence"
	"github.com/dukex/callflow/pkg/sessionstore"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest   = errors.New("invalid request")
	ErrInvalidSortField = persistence.ErrInvalidSortField
	ErrInvalidSortOrder = persistence.ErrInvalidSortOrder
	ErrInvalidStatus    = errors.New("invalid flow status")
	ErrInvalidPayload   = errors.New("invalid node payload")
	ErrFlowNameRequired = errors.New("flow name is required")

	// Not Found Errors (404 Not Found).
	ErrFlowNotFound    = persistence.ErrFlowNotFound
	ErrNodeNotFound    = errors.New("node not found")
	ErrVersionNotFound = errors.New("version not found")
	ErrSessionNotFound = sessionstore.ErrNotFound

	// Business Logic Conflicts (409 Conflict).
	ErrDuplicateNodeID    = errors.New("node ID already in use")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrNothingToUndo      = errors.New("nothing to undo")
	ErrNothingToRedo      = errors.New("nothing to redo")
	ErrNotAwaitingInput   = errors.New("session is not awaiting input")
	ErrSessionNotRunnable = errors.New("flow cannot be simulated")

	// Publishing rejected by validation (422 Unprocessable Entity).
	ErrPublishRejected = editor.ErrPublishRejected
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidSortField) ||
		errors.Is(err, ErrInvalidSortOrder) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrInvalidPayload) ||
		errors.Is(err, ErrFlowNameRequired)
}

// IsNotFound checks if an error should return HTTP 404.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrFlowNotFound) ||
		errors.Is(err, ErrNodeNotFound) ||
		errors.Is(err, ErrVersionNotFound) ||
		errors.Is(err, ErrSessionNotFound)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrDuplicateNodeID) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrNothingToUndo) ||
		errors.Is(err, ErrNothingToRedo) ||
		errors.Is(err, ErrNotAwaitingInput) ||
		errors.Is(err, ErrSessionNotRunnable)
}

// IsUnprocessable checks if a publish was rejected by validation (HTTP 422).
func IsUnprocessable(err error) bool {
	return errors.Is(err, ErrPublishRejected)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func notFound(op string, sentinel error, id string) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    "not_found",
		Message: fmt.Sprintf("%v: %s", sentinel, id),
		Err:     sentinel,
	}
}

// mutationError maps an editor rejection onto the service error classes while
// keeping the *editor.MutationError reachable through errors.As.
func mutationError(op string, err error) error {
	var me *editor.MutationError
	if !errors.As(err, &me) {
		return fmt.Errorf("%s: %w", op, err)
	}

	var class error

	switch me.Kind {
	case editor.KindDuplicateNodeID:
		class = ErrDuplicateNodeID
	case editor.KindUnknownNodeReference:
		class = ErrNodeNotFound
	case editor.KindUnknownVersion:
		class = ErrVersionNotFound
	case editor.KindInvalidPayload:
		class = ErrInvalidPayload
	case editor.KindInvalidStatus:
		class = ErrInvalidTransition
	default:
		class = ErrInvalidRequest
	}

	return &ServiceError{
		Op:      op,
		Code:    string(me.Kind),
		Message: me.Message,
		Err:     fmt.Errorf("%w: %w", class, me),
	}
}

// executionError maps an engine rejection onto the service error classes.
func executionError(op string, err error) error {
	var ee *engine.ExecutionError
	if !errors.As(err, &ee) {
		return fmt.Errorf("%s: %w", op, err)
	}

	class := ErrSessionNotRunnable
	if ee.Kind == engine.KindNotAwaitingInput {
		class = ErrNotAwaitingInput
	}

	return &ServiceError{
		Op:      op,
		Code:    string(ee.Kind),
		Message: ee.Error(),
		Err:     fmt.Errorf("%w: %w", class, ee),
	}
}
