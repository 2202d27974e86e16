package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/dukex/callflow/pkg/events"
	"github.com/dukex/callflow/pkg/models"
	"github.com/dukex/callflow/pkg/otelhelper"
	"github.com/dukex/callflow/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
)

// Flow handles flow CRUD.
type Flow struct {
	base
}

// NewFlow creates a new flow service.
func NewFlow(p persistence.Persistence, opts ...Option) *Flow {
	return &Flow{base: newBase(p, "flow_service", opts)}
}

// HealthCheck checks the health of the persistence layer.
func (f *Flow) HealthCheck(ctx context.Context) (string, bool) {
	if f.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := f.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// ListFlowsRequest contains options for listing flows.
type ListFlowsRequest struct {
	Limit     int
	Offset    int
	OwnerID   string
	Status    *models.FlowStatus
	SortBy    string
	SortOrder string
}

// ListFlowsResponse contains the result of listing flows.
type ListFlowsResponse struct {
	Flows       []*models.Flow `json:"flows"`
	TotalCount  int64          `json:"total_count"`
	HasNextPage bool           `json:"has_next_page"`
}

// ListFlows retrieves flows with filtering, sorting, and pagination.
func (f *Flow) ListFlows(ctx context.Context, req ListFlowsRequest) (*ListFlowsResponse, error) {
	const op = "list_flows"

	if req.Status != nil && !models.IsValidStatus(*req.Status) {
		return nil, NewValidationError(op, "invalid_status",
			fmt.Sprintf("unknown status %q", *req.Status), ErrInvalidStatus)
	}

	if req.Limit > persistence.MaxListLimit || req.Limit < 0 || req.Offset < 0 {
		return nil, NewValidationError(op, "invalid_pagination",
			fmt.Sprintf("limit must be between 1 and %d and offset non-negative", persistence.MaxListLimit),
			ErrInvalidRequest)
	}

	result, err := f.persistence.FlowRepository().ListFlows(ctx, persistence.ListFlowsOptions{
		Limit:     req.Limit,
		Offset:    req.Offset,
		OwnerID:   req.OwnerID,
		Status:    req.Status,
		SortBy:    req.SortBy,
		SortOrder: req.SortOrder,
	})
	if err != nil {
		if persistence.IsInvalidListOptions(err) {
			return nil, NewValidationError(op, "invalid_sort", err.Error(), err)
		}

		return nil, fmt.Errorf("failed to list flows: %w", err)
	}

	return &ListFlowsResponse{
		Flows:       result.Flows,
		TotalCount:  result.TotalCount,
		HasNextPage: result.HasNextPage,
	}, nil
}

// CreateFlowRequest describes a new flow.
type CreateFlowRequest struct {
	Name        string
	Description string
	Owner       string
	Tags        []string
}

// Create makes a draft flow holding start → end plus its initial version.
func (f *Flow) Create(ctx context.Context, req CreateFlowRequest) (*models.Flow, error) {
	ctx, span := otelhelper.StartSpan(ctx, f.tracer, "flow.create")
	defer span.End()

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, NewValidationError("create_flow", "name_required", "flow name is required", ErrFlowNameRequired)
	}

	flow := f.editor.NewFlow(name, req.Description)
	flow.Owner = req.Owner

	if req.Tags != nil {
		flow.Tags = req.Tags
	}

	span.SetAttributes(attribute.String(otelhelper.FlowIDKey, flow.ID))

	if err := f.save(ctx, "create_flow", flow); err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	f.logger.InfoContext(ctx, "Flow created", "flow_id", flow.ID, "name", flow.Name)
	f.publish(ctx, flow.ID, events.NewFlowCreated(flow))

	return flow, nil
}

// FetchByID returns the flow or ErrFlowNotFound.
func (f *Flow) FetchByID(ctx context.Context, id string) (*models.Flow, error) {
	return f.load(ctx, "fetch_flow", id)
}

// UpdateFlowRequest is a partial update of flow metadata. Nil fields are
// left unchanged.
type UpdateFlowRequest struct {
	Name        *string
	Description *string
	Tags        []string
	Status      *models.FlowStatus
}

// Update changes flow metadata. Node edits go through the node service.
func (f *Flow) Update(ctx context.Context, id string, req UpdateFlowRequest) (*models.Flow, error) {
	const op = "update_flow"

	unlock := f.histories.Lock(id)
	defer unlock()

	flow, err := f.load(ctx, op, id)
	if err != nil {
		return nil, err
	}

	next := flow.Clone()

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, NewValidationError(op, "name_required", "flow name is required", ErrFlowNameRequired)
		}

		next.Name = name
	}

	if req.Description != nil {
		next.Description = *req.Description
	}

	if req.Tags != nil {
		next.Tags = req.Tags
	}

	if req.Status != nil && *req.Status != next.Status {
		if !models.IsValidStatus(*req.Status) {
			return nil, NewValidationError(op, "invalid_status",
				fmt.Sprintf("unknown status %q", *req.Status), ErrInvalidStatus)
		}

		next, err = f.editor.SetStatus(next, *req.Status)
		if err != nil {
			return nil, mutationError(op, err)
		}
	}

	if err := f.save(ctx, op, next); err != nil {
		return nil, err
	}

	f.publish(ctx, next.ID, events.NewFlowUpdated(next, op, ""))

	return next, nil
}

// Delete removes the flow and its undo history.
func (f *Flow) Delete(ctx context.Context, id string) error {
	const op = "delete_flow"

	unlock := f.histories.Lock(id)
	defer unlock()

	if _, err := f.load(ctx, op, id); err != nil {
		return err
	}

	if err := f.persistence.FlowRepository().Delete(ctx, id); err != nil {
		return &ServiceError{Op: op, Message: "failed to delete flow", Err: err}
	}

	f.histories.Forget(id)

	f.logger.InfoContext(ctx, "Flow deleted", "flow_id", id)
	f.publish(ctx, id, events.NewFlowDeleted(id))

	return nil
}
