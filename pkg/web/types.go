// Package web provides HTTP request and response types for the flow API.
package web

import (
	"github.com/dukex/callflow/pkg/models"
	"github.com/dukex/callflow/pkg/services"
	"github.com/dukex/callflow/pkg/validation"
)

// CreateFlowRequest represents the request body for creating a new flow.
type CreateFlowRequest struct {
	Name        string   `json:"name"        validate:"required,min=3"`
	Description string   `json:"description"`
	Owner       string   `json:"owner"`
	Tags        []string `json:"tags"        validate:"omitempty,dive,required"`
}

// UpdateFlowRequest represents the request body for updating flow metadata.
// All fields are optional to support partial updates.
type UpdateFlowRequest struct {
	Name        *string  `json:"name,omitempty"        validate:"omitempty,min=3"`
	Description *string  `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"        validate:"omitempty,dive,required"`
	Status      *string  `json:"status,omitempty"      validate:"omitempty,oneof=draft published testing archived"`
}

// SaveFlowRequest carries the notes stored with the draft.
type SaveFlowRequest struct {
	Notes string `json:"notes" validate:"max=2000"`
}

// PublishFlowRequest represents the optional body of a publish.
type PublishFlowRequest struct {
	Author string `json:"author" validate:"max=200"`
	Notes  string `json:"notes"  validate:"max=2000"`
}

// SubmitInputRequest carries the caller's keypress or utterance.
type SubmitInputRequest struct {
	Value string `json:"value" validate:"max=256"`
}

// ValidationResponse is the body of GET /flows/:id/validate.
type ValidationResponse struct {
	OK          bool               `json:"ok"`
	Publishable bool               `json:"publishable"`
	Issues      []validation.Issue `json:"issues"`
}

// SessionResponse is returned by every session operation that runs the
// engine.
type SessionResponse struct {
	SessionID string          `json:"session_id"`
	Status    string          `json:"status"`
	Session   *models.Session `json:"session"`
	NewEvents []models.Event  `json:"new_events"`
}

// TransformValidationResult converts a validation result into its response.
func TransformValidationResult(result validation.Result) ValidationResponse {
	issues := result.Issues
	if issues == nil {
		issues = []validation.Issue{}
	}

	return ValidationResponse{
		OK:          result.OK,
		Publishable: len(result.Fatal()) == 0,
		Issues:      issues,
	}
}

// TransformSessionResult flattens a service result for the wire.
func TransformSessionResult(result *services.SessionResult) SessionResponse {
	newEvents := result.NewEvents
	if newEvents == nil {
		newEvents = []models.Event{}
	}

	return SessionResponse{
		SessionID: result.Session.ID,
		Status:    string(result.Session.Status),
		Session:   result.Session,
		NewEvents: newEvents,
	}
}
