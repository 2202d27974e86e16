package engine

import (
	"errors"
	"fmt"

	"github.com/dukex/callflow/pkg/models"
)

// ErrorKind classifies execution failures.
type ErrorKind string

const (
	KindNoEntryPoint       ErrorKind = "NoEntryPoint"
	KindNotAwaitingInput   ErrorKind = "NotAwaitingInput"
	KindInputTimeout       ErrorKind = "InputTimeout"
	KindUnknownNodeType    ErrorKind = "UnknownNodeType"
	KindDanglingConnection ErrorKind = "DanglingConnection"
	KindEvaluationFailed   ErrorKind = "EvaluationFailed"
	KindStepLimitExceeded  ErrorKind = "StepLimitExceeded"
	KindAPICallFailed      ErrorKind = "APICallFailed"
)

// Sentinels usable with errors.Is; matching compares only the kind.
var (
	ErrNoEntryPoint     = &ExecutionError{Kind: KindNoEntryPoint}
	ErrNotAwaitingInput = &ExecutionError{Kind: KindNotAwaitingInput}
	ErrInputTimeout     = &ExecutionError{Kind: KindInputTimeout}
	ErrUnknownNodeType  = &ExecutionError{Kind: KindUnknownNodeType}
)

// ExecutionError is a tagged execution failure.
type ExecutionError struct {
	Kind    ErrorKind
	NodeID  string
	Message string
	Err     error
}

func (e *ExecutionError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}

	if e.NodeID != "" {
		return fmt.Sprintf("%s at node %s: %s", e.Kind, e.NodeID, msg)
	}

	if msg == "" {
		return string(e.Kind)
	}

	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func (e *ExecutionError) Is(target error) bool {
	var t *ExecutionError
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}

	return false
}

// Recoverable reports whether the caller can continue the conversation after
// this kind of failure, for example by supplying another input.
func (k ErrorKind) Recoverable() bool {
	return k == KindInputTimeout || k == KindNotAwaitingInput
}

// SessionError returns the failure recorded on a failed session as an
// *ExecutionError, or nil when the session did not fail.
func SessionError(s *models.Session) error {
	if s == nil || s.Failure == nil {
		return nil
	}

	return &ExecutionError{
		Kind:    ErrorKind(s.Failure.Kind),
		NodeID:  s.Failure.NodeID,
		Message: s.Failure.Message,
	}
}

func newError(kind ErrorKind, nodeID, format string, args ...any) *ExecutionError {
	return &ExecutionError{Kind: kind, NodeID: nodeID, Message: fmt.Sprintf(format, args...)}
}
