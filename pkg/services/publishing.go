package services

import (
	"context"
	"errors"

	"github.com/dukex/callflow/pkg/editor"
	"github.com/dukex/callflow/pkg/events"
	"github.com/dukex/callflow/pkg/metrics"
	"github.com/dukex/callflow/pkg/models"
	"github.com/dukex/callflow/pkg/otelhelper"
	"github.com/dukex/callflow/pkg/persistence"
	"github.com/dukex/callflow/pkg/validation"
	"go.opentelemetry.io/otel/attribute"
)

// Publishing mints versions, rolls back to them and validates flows.
type Publishing struct {
	base
}

// NewPublishing creates a new flow publishing service.
func NewPublishing(p persistence.Persistence, opts ...Option) *Publishing {
	return &Publishing{base: newBase(p, "publishing_service", opts)}
}

// PublishRequest describes the version being published.
type PublishRequest struct {
	Author string
	Notes  string
}

// PublishRejection carries the fatal issues that blocked a publish. It
// matches ErrPublishRejected.
type PublishRejection struct {
	FlowID string
	Issues []validation.Issue
}

func (e *PublishRejection) Error() string {
	return "publish_flow: " + (&editor.PublishError{Issues: e.Issues}).Error()
}

func (e *PublishRejection) Unwrap() error {
	return ErrPublishRejected
}

// Publish validates the working node set and mints the next version.
func (p *Publishing) Publish(ctx context.Context, flowID string, req PublishRequest) (*models.Flow, error) {
	const op = "publish_flow"

	ctx, span := otelhelper.StartSpan(ctx, p.tracer, "flow.publish", attribute.String(otelhelper.FlowIDKey, flowID))
	defer span.End()

	unlock := p.histories.Lock(flowID)
	defer unlock()

	flow, err := p.load(ctx, op, flowID)
	if err != nil {
		return nil, err
	}

	next, err := p.editor.Publish(flow, editor.PublishOptions{Author: req.Author, Notes: req.Notes})
	if err != nil {
		metrics.RecordPublish(metrics.ResultRejected)
		otelhelper.SetError(span, err)

		var pe *editor.PublishError
		if errors.As(err, &pe) {
			for _, issue := range pe.Issues {
				metrics.RecordValidationIssue(string(issue.Kind), string(issue.Severity))
			}

			p.logger.InfoContext(ctx, "Publish rejected", "flow_id", flowID, "issues", len(pe.Issues))

			return nil, &PublishRejection{FlowID: flowID, Issues: pe.Issues}
		}

		return nil, &ServiceError{Op: op, Err: err}
	}

	if err := p.save(ctx, op, next); err != nil {
		return nil, err
	}

	metrics.RecordPublish(metrics.ResultSuccess)
	span.SetAttributes(attribute.String(otelhelper.FlowVersionKey, next.CurrentVersion))

	p.logger.InfoContext(ctx, "Flow published", "flow_id", flowID, "version", next.CurrentVersion)
	p.publish(ctx, flowID, events.NewFlowPublished(next))

	return next, nil
}

// Rollback restores a version's node set as the working draft. The restore
// can be undone like any other edit.
func (p *Publishing) Rollback(ctx context.Context, flowID, versionID string) (*models.Flow, error) {
	const op = "rollback_flow"

	unlock := p.histories.Lock(flowID)
	defer unlock()

	flow, err := p.load(ctx, op, flowID)
	if err != nil {
		return nil, err
	}

	next, err := p.editor.Rollback(flow, versionID)
	if err != nil {
		return nil, mutationError(op, err)
	}

	if err := p.save(ctx, op, next); err != nil {
		return nil, err
	}

	p.histories.Get(flowID).Record(flow.Nodes)

	p.logger.InfoContext(ctx, "Flow rolled back", "flow_id", flowID, "version", next.CurrentVersion)
	p.publish(ctx, flowID, events.NewFlowRolledBack(next, flow.CurrentVersion))

	return next, nil
}

// Validate reports every structural issue of the working node set.
func (p *Publishing) Validate(ctx context.Context, flowID string) (validation.Result, error) {
	flow, err := p.load(ctx, "validate_flow", flowID)
	if err != nil {
		return validation.Result{}, err
	}

	result := validation.Validate(flow)

	for _, issue := range result.Issues {
		metrics.RecordValidationIssue(string(issue.Kind), string(issue.Severity))
	}

	return result, nil
}

// Versions returns the version history, newest first.
func (p *Publishing) Versions(ctx context.Context, flowID string) ([]*models.FlowVersion, error) {
	flow, err := p.load(ctx, "list_versions", flowID)
	if err != nil {
		return nil, err
	}

	return flow.Versions, nil
}
