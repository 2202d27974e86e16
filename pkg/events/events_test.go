package events

import (
	"encoding/json"
	"testing"

	"github.com/dukex/callflow/pkg/models"
	"github.com/dukex/callflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlowPublished_FromFlow(t *testing.T) {
	flow := testutil.LinearFlow("Hi")
	flow.CurrentVersion = "v1.1"
	flow.Versions = append([]*models.FlowVersion{{
		ID:     "ver-2",
		Label:  "v1.1",
		Author: "ana",
		Notes:  "go live",
	}}, flow.Versions...)

	event := NewFlowPublished(flow)

	assert.Equal(t, FlowPublishedEvent, event.GetType())
	assert.Equal(t, FlowPublishedEvent, event.Type)
	assert.Equal(t, flow.ID, event.FlowID)
	assert.Equal(t, "v1.1", event.Version)
	assert.Equal(t, "ana", event.Author)
	assert.Equal(t, "go live", event.Notes)
	assert.Equal(t, 3, event.NodeCount)
	assert.NoError(t, event.Validate())
}

func TestDecode(t *testing.T) {
	session := &models.Session{
		ID:          "s-1",
		FlowID:      "flow-1",
		FlowVersion: "v1.0",
		Status:      models.SessionStatusFailed,
		Steps:       7,
		Failure:     &models.Failure{Kind: "StepLimitExceeded", Message: "too many steps"},
	}

	original := NewSessionFinished(session)

	payload, err := json.Marshal(original)
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"session_id":"s-1"`)
	assert.Contains(t, string(payload), `"flow_id":"flow-1"`)

	decoded, err := Decode(SessionFinishedEvent, payload)
	require.NoError(t, err)

	finished, ok := decoded.(*SessionFinished)
	require.True(t, ok)
	assert.Equal(t, original.ID, finished.ID)
	assert.Equal(t, models.SessionStatusFailed, finished.Status)
	assert.Equal(t, 7, finished.Steps)
	assert.Equal(t, session.Failure, finished.Failure)

	_, err = Decode("flow.exploded", payload)
	require.ErrorIs(t, err, ErrUnknownEventType)

	_, err = Decode(FlowCreatedEvent, []byte("{"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name        string
		event       interface{ Validate() error }
		expectedErr string
	}{
		{
			name:  "valid created",
			event: &FlowCreated{BaseEvent: NewBaseEvent(FlowCreatedEvent, "f-1"), Name: "Support"},
		},
		{
			name:        "missing flow id",
			event:       &FlowDeleted{BaseEvent: NewBaseEvent(FlowDeletedEvent, "")},
			expectedErr: "flow_id is required",
		},
		{
			name:        "created without name",
			event:       &FlowCreated{BaseEvent: NewBaseEvent(FlowCreatedEvent, "f-1")},
			expectedErr: "name is required",
		},
		{
			name:        "updated without operation",
			event:       &FlowUpdated{BaseEvent: NewBaseEvent(FlowUpdatedEvent, "f-1")},
			expectedErr: "operation is required",
		},
		{
			name:        "rollback without versions",
			event:       &FlowRolledBack{BaseEvent: NewBaseEvent(FlowRolledBackEvent, "f-1"), Version: "v1.0"},
			expectedErr: "from_version and version are required",
		},
		{
			name:        "session started without id",
			event:       &SessionStarted{BaseEvent: NewBaseEvent(SessionStartedEvent, "f-1")},
			expectedErr: "session_id is required",
		},
		{
			name: "session finished while running",
			event: &SessionFinished{
				BaseEvent: NewBaseEvent(SessionFinishedEvent, "f-1"),
				SessionID: "s-1",
				Status:    models.SessionStatusRunning,
			},
			expectedErr: `status "running" is not terminal`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if tt.expectedErr == "" {
				assert.NoError(t, err)

				return
			}

			require.Error(t, err)
			assert.Equal(t, tt.expectedErr, err.Error())
		})
	}
}
