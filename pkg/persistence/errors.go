package persistence

import (
	"errors"
	"fmt"
)

var (
	// ErrFlowNotFound indicates a flow was not found by the given identifier.
	ErrFlowNotFound = errors.New("flow not found")

	// ErrInvalidSortField indicates a listing was requested with a sort field outside the allowlist.
	ErrInvalidSortField = errors.New("invalid sort field")

	ErrInvalidSortOrder = errors.New("invalid sort order")

	// ErrInvalidFlowID indicates an identifier that cannot name a stored flow.
	ErrInvalidFlowID = errors.New("invalid flow id")
)

// FlowError wraps flow storage errors with the operation and flow involved.
type FlowError struct {
	Op      string // Operation being performed (e.g., "GetByID", "Save", "Delete")
	FlowID  string
	Err     error
	Message string
}

func (e *FlowError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s operation failed for flow %s: %s (%v)", e.Op, e.FlowID, e.Message, e.Err)
	}

	return fmt.Sprintf("%s operation failed for flow %s: %v", e.Op, e.FlowID, e.Err)
}

func (e *FlowError) Unwrap() error {
	return e.Err
}

// NewFlowError creates a new flow error with context.
func NewFlowError(op, flowID string, err error) *FlowError {
	return &FlowError{Op: op, FlowID: flowID, Err: err}
}

// IsFlowNotFound checks if an error indicates a flow was not found.
func IsFlowNotFound(err error) bool {
	return errors.Is(err, ErrFlowNotFound)
}

// IsInvalidListOptions reports whether err came from bad listing parameters.
func IsInvalidListOptions(err error) bool {
	return errors.Is(err, ErrInvalidSortField) || errors.Is(err, ErrInvalidSortOrder)
}
