// Package events defines event types and structures for flow and session lifecycle notifications.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/callflow/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Topic is the single topic every lifecycle event is published on.
const Topic = "callflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Flow lifecycle events.
	FlowCreatedEvent    EventType = "flow.created"
	FlowUpdatedEvent    EventType = "flow.updated"
	FlowDeletedEvent    EventType = "flow.deleted"
	FlowPublishedEvent  EventType = "flow.published"
	FlowRolledBackEvent EventType = "flow.rolled_back"

	// Simulation session events.
	SessionStartedEvent  EventType = "session.started"
	SessionFinishedEvent EventType = "session.finished"
)

var ErrUnknownEventType = errors.New("unknown event type")

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	FlowID    string         `json:"flow_id"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func (b BaseEvent) validate() error {
	if b.FlowID == "" {
		return errors.New("flow_id is required")
	}

	return nil
}

type FlowCreated struct {
	BaseEvent

	Name  string `json:"name"`
	Owner string `json:"owner,omitempty"`
}

func (FlowCreated) GetType() EventType {
	return FlowCreatedEvent
}

func (e FlowCreated) Validate() error {
	if err := e.validate(); err != nil {
		return err
	}

	if e.Name == "" {
		return errors.New("name is required")
	}

	return nil
}

// FlowUpdated is emitted after a draft mutation is persisted.
type FlowUpdated struct {
	BaseEvent

	Operation string `json:"operation"`
	NodeID    string `json:"node_id,omitempty"`
	NodeCount int    `json:"node_count"`
}

func (FlowUpdated) GetType() EventType {
	return FlowUpdatedEvent
}

func (e FlowUpdated) Validate() error {
	if err := e.validate(); err != nil {
		return err
	}

	if e.Operation == "" {
		return errors.New("operation is required")
	}

	return nil
}

type FlowDeleted struct {
	BaseEvent
}

func (FlowDeleted) GetType() EventType {
	return FlowDeletedEvent
}

func (e FlowDeleted) Validate() error {
	return e.validate()
}

type FlowPublished struct {
	BaseEvent

	Version   string `json:"version"`
	Author    string `json:"author,omitempty"`
	Notes     string `json:"notes,omitempty"`
	NodeCount int    `json:"node_count"`
}

func (FlowPublished) GetType() EventType {
	return FlowPublishedEvent
}

func (e FlowPublished) Validate() error {
	if err := e.validate(); err != nil {
		return err
	}

	if e.Version == "" {
		return errors.New("version is required")
	}

	return nil
}

// FlowRolledBack records that a version's node set was restored as the draft.
type FlowRolledBack struct {
	BaseEvent

	FromVersion string `json:"from_version"`
	Version     string `json:"version"`
}

func (FlowRolledBack) GetType() EventType {
	return FlowRolledBackEvent
}

func (e FlowRolledBack) Validate() error {
	if err := e.validate(); err != nil {
		return err
	}

	if e.FromVersion == "" || e.Version == "" {
		return errors.New("from_version and version are required")
	}

	return nil
}

type SessionStarted struct {
	BaseEvent

	SessionID   string `json:"session_id"`
	FlowVersion string `json:"flow_version"`
}

func (SessionStarted) GetType() EventType {
	return SessionStartedEvent
}

func (e SessionStarted) Validate() error {
	if err := e.validate(); err != nil {
		return err
	}

	if e.SessionID == "" {
		return errors.New("session_id is required")
	}

	return nil
}

// SessionFinished is emitted once a session reaches a terminal status.
type SessionFinished struct {
	BaseEvent

	SessionID string               `json:"session_id"`
	Status    models.SessionStatus `json:"status"`
	Steps     int                  `json:"steps"`
	Failure   *models.Failure      `json:"failure,omitempty"`
}

func (SessionFinished) GetType() EventType {
	return SessionFinishedEvent
}

func (e SessionFinished) Validate() error {
	if err := e.validate(); err != nil {
		return err
	}

	if e.SessionID == "" {
		return errors.New("session_id is required")
	}

	if !e.Status.IsTerminal() {
		return fmt.Errorf("status %q is not terminal", e.Status)
	}

	return nil
}

func NewBaseEvent(eventType EventType, flowID string) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		FlowID:    flowID,
		Metadata:  make(map[string]any),
	}
}

func NewFlowCreated(flow *models.Flow) *FlowCreated {
	return &FlowCreated{
		BaseEvent: NewBaseEvent(FlowCreatedEvent, flow.ID),
		Name:      flow.Name,
		Owner:     flow.Owner,
	}
}

func NewFlowUpdated(flow *models.Flow, operation, nodeID string) *FlowUpdated {
	return &FlowUpdated{
		BaseEvent: NewBaseEvent(FlowUpdatedEvent, flow.ID),
		Operation: operation,
		NodeID:    nodeID,
		NodeCount: len(flow.Nodes),
	}
}

func NewFlowDeleted(flowID string) *FlowDeleted {
	return &FlowDeleted{BaseEvent: NewBaseEvent(FlowDeletedEvent, flowID)}
}

func NewFlowPublished(flow *models.Flow) *FlowPublished {
	e := &FlowPublished{
		BaseEvent: NewBaseEvent(FlowPublishedEvent, flow.ID),
		Version:   flow.CurrentVersion,
		NodeCount: len(flow.Nodes),
	}

	if v, ok := flow.VersionByLabel(flow.CurrentVersion); ok {
		e.Author = v.Author
		e.Notes = v.Notes
	}

	return e
}

func NewFlowRolledBack(flow *models.Flow, fromVersion string) *FlowRolledBack {
	return &FlowRolledBack{
		BaseEvent:   NewBaseEvent(FlowRolledBackEvent, flow.ID),
		FromVersion: fromVersion,
		Version:     flow.CurrentVersion,
	}
}

func NewSessionStarted(s *models.Session) *SessionStarted {
	return &SessionStarted{
		BaseEvent:   NewBaseEvent(SessionStartedEvent, s.FlowID),
		SessionID:   s.ID,
		FlowVersion: s.FlowVersion,
	}
}

func NewSessionFinished(s *models.Session) *SessionFinished {
	return &SessionFinished{
		BaseEvent: NewBaseEvent(SessionFinishedEvent, s.FlowID),
		SessionID: s.ID,
		Status:    s.Status,
		Steps:     s.Steps,
		Failure:   s.Failure,
	}
}

var factories = map[EventType]func() any{
	FlowCreatedEvent:     func() any { return &FlowCreated{} },
	FlowUpdatedEvent:     func() any { return &FlowUpdated{} },
	FlowDeletedEvent:     func() any { return &FlowDeleted{} },
	FlowPublishedEvent:   func() any { return &FlowPublished{} },
	FlowRolledBackEvent:  func() any { return &FlowRolledBack{} },
	SessionStartedEvent:  func() any { return &SessionStarted{} },
	SessionFinishedEvent: func() any { return &SessionFinished{} },
}

// Decode unmarshals payload into the concrete event struct for eventType.
func Decode(eventType EventType, payload []byte) (any, error) {
	factory, ok := factories[eventType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, eventType)
	}

	event := factory()
	if err := json.Unmarshal(payload, event); err != nil {
		return nil, fmt.Errorf("failed to decode %s event: %w", eventType, err)
	}

	return event, nil
}
