package editor

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dukex/callflow/pkg/validation"
)

// MutationKind classifies rejected edits.
type MutationKind string

const (
	KindDuplicateNodeID      MutationKind = "DuplicateNodeId"
	KindUnknownNodeReference MutationKind = "UnknownNodeReference"
	KindUnknownVersion       MutationKind = "UnknownVersion"
	KindInvalidPayload       MutationKind = "InvalidPayload"
	KindInvalidStatus        MutationKind = "InvalidStatus"
	KindInvalidOperation     MutationKind = "InvalidOperation"
)

// Sentinels usable with errors.Is; matching compares only the kind.
var (
	ErrDuplicateNodeID      = &MutationError{Kind: KindDuplicateNodeID}
	ErrUnknownNodeReference = &MutationError{Kind: KindUnknownNodeReference}
	ErrUnknownVersion       = &MutationError{Kind: KindUnknownVersion}
	ErrInvalidPayload       = &MutationError{Kind: KindInvalidPayload}
	ErrInvalidStatus        = &MutationError{Kind: KindInvalidStatus}
	ErrInvalidOperation     = &MutationError{Kind: KindInvalidOperation}
)

// MutationError reports an edit that was rejected. A rejected edit never
// changes the flow.
type MutationError struct {
	Op      string
	Kind    MutationKind
	NodeID  string
	Message string
	Err     error
}

func (e *MutationError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}

	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}

	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
}

func (e *MutationError) Unwrap() error {
	return e.Err
}

func (e *MutationError) Is(target error) bool {
	var t *MutationError
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}

	return false
}

func mutationErr(op string, kind MutationKind, nodeID, format string, args ...any) *MutationError {
	return &MutationError{Op: op, Kind: kind, NodeID: nodeID, Message: fmt.Sprintf(format, args...)}
}

// ErrPublishRejected matches every PublishError.
var ErrPublishRejected = errors.New("publish rejected by validation")

// PublishError carries the fatal validation issues that blocked a publish.
type PublishError struct {
	Issues []validation.Issue
}

func (e *PublishError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, i := range e.Issues {
		parts = append(parts, string(i.Kind))
	}

	return fmt.Sprintf("%v: %s", ErrPublishRejected, strings.Join(parts, ", "))
}

func (e *PublishError) Unwrap() error {
	return ErrPublishRejected
}
