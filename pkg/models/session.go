package models

import (
	"maps"
	"time"
)

// SessionStatus is the execution state of a simulated conversation.
type SessionStatus string

const (
	SessionStatusRunning       SessionStatus = "running"
	SessionStatusAwaitingInput SessionStatus = "awaiting_input"
	SessionStatusCompleted     SessionStatus = "completed"
	SessionStatusFailed        SessionStatus = "failed"
)

// IsTerminal reports whether no further input or steps are accepted.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusFailed
}

// EventKind names an entry in a session's event log.
type EventKind string

const (
	EventNodeEntered    EventKind = "node_entered"
	EventInputRequested EventKind = "input_requested"
	EventInputReceived  EventKind = "input_received"
	EventBranchTaken    EventKind = "branch_taken"
	EventAPICall        EventKind = "api_call"
	EventTransfer       EventKind = "transfer"
	EventWait           EventKind = "wait"
	EventVariableSet    EventKind = "variable_set"
	EventAssistantReply EventKind = "assistant_reply"
	EventInputRetry     EventKind = "input_retry"
	EventInputTimeout   EventKind = "input_timeout"
	EventFlowCompleted  EventKind = "flow_completed"
	EventFlowStopped    EventKind = "flow_stopped"
	EventFlowFailed     EventKind = "flow_failed"
)

// Event is one entry of the ordered execution log. Events carry a sequence
// number instead of wall-clock time so logs replay identically.
type Event struct {
	Seq      int            `json:"seq"`
	Kind     EventKind      `json:"kind"`
	NodeID   string         `json:"node_id,omitempty"`
	NodeType NodeType       `json:"node_type,omitempty"`
	Label    string         `json:"label,omitempty"`
	Text     string         `json:"text,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// PendingInput describes what a suspended session is waiting for.
type PendingInput struct {
	NodeID   string   `json:"node_id"`
	NodeType NodeType `json:"node_type"`
	Keys     []string `json:"keys,omitempty"`
	Attempts int      `json:"attempts"`
	Turns    int      `json:"turns"`
}

// Failure records why a session ended in the failed state.
type Failure struct {
	Kind    string `json:"kind"`
	NodeID  string `json:"node_id,omitempty"`
	Message string `json:"message"`
}

// Session is the transient state of one simulated conversation.
type Session struct {
	ID            string         `json:"id"`
	FlowID        string         `json:"flow_id"`
	FlowVersion   string         `json:"flow_version"`
	Status        SessionStatus  `json:"status"`
	CurrentNodeID string         `json:"current_node_id"`
	Variables     map[string]any `json:"variables"`
	Events        []Event        `json:"events"`
	Awaiting      *PendingInput  `json:"awaiting,omitempty"`
	Failure       *Failure       `json:"failure,omitempty"`
	Steps         int            `json:"steps"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Clone returns a deep copy of the session's mutable parts.
func (s *Session) Clone() *Session {
	c := *s
	c.Variables = make(map[string]any, len(s.Variables))
	maps.Copy(c.Variables, s.Variables)
	c.Events = append([]Event(nil), s.Events...)

	if s.Awaiting != nil {
		p := *s.Awaiting
		p.Keys = append([]string(nil), s.Awaiting.Keys...)
		c.Awaiting = &p
	}

	if s.Failure != nil {
		f := *s.Failure
		c.Failure = &f
	}

	return &c
}

// NextSeq returns the sequence number for the next event.
func (s *Session) NextSeq() int {
	return len(s.Events) + 1
}

// EventsSince returns the events appended after the given sequence number.
func (s *Session) EventsSince(seq int) []Event {
	if seq < 0 {
		seq = 0
	}

	if seq >= len(s.Events) {
		return []Event{}
	}

	return s.Events[seq:]
}
