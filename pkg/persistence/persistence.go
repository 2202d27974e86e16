// Package persistence provides the storage abstraction for flows and their versions.
package persistence

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"github.com/dukex/callflow/pkg/models"
)

type Persistence interface {
	FlowRepository() FlowRepository
	HealthCheck(ctx context.Context) error

	Close(ctx context.Context) error
}

// FlowRepository stores whole flow documents, version history included.
type FlowRepository interface {
	ListFlows(ctx context.Context, opts ListFlowsOptions) (*FlowListResult, error)
	// GetByID returns nil and no error when the flow does not exist.
	GetByID(ctx context.Context, id string) (*models.Flow, error)
	Save(ctx context.Context, flow *models.Flow) error
	// Delete is a no-op for unknown IDs.
	Delete(ctx context.Context, id string) error
}

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// ListFlowsOptions filters and pages a flow listing.
type ListFlowsOptions struct {
	Limit     int
	Offset    int
	OwnerID   string
	Status    *models.FlowStatus
	SortBy    string // created_at, updated_at or name
	SortOrder string // asc or desc
}

// FlowListResult is one page of flows.
type FlowListResult struct {
	Flows       []*models.Flow `json:"flows"`
	TotalCount  int64          `json:"total_count"`
	HasNextPage bool           `json:"has_next_page"`
}

var sortFields = []string{"created_at", "updated_at", "name"}

// Normalize applies defaults and rejects unknown sort fields and orders.
func (o ListFlowsOptions) Normalize() (ListFlowsOptions, error) {
	if o.Limit <= 0 || o.Limit > MaxListLimit {
		o.Limit = DefaultListLimit
	}

	if o.Offset < 0 {
		o.Offset = 0
	}

	if o.SortBy == "" {
		o.SortBy = "created_at"
	}

	if o.SortOrder == "" {
		o.SortOrder = "desc"
	}

	if !slices.Contains(sortFields, o.SortBy) {
		return o, fmt.Errorf("%w: %s", ErrInvalidSortField, o.SortBy)
	}

	if o.SortOrder != "asc" && o.SortOrder != "desc" {
		return o, fmt.Errorf("%w: %s", ErrInvalidSortOrder, o.SortOrder)
	}

	return o, nil
}

// ApplyListOptions filters, sorts and pages flows in memory. opts must be
// normalized.
func ApplyListOptions(flows []*models.Flow, opts ListFlowsOptions) *FlowListResult {
	filtered := make([]*models.Flow, 0, len(flows))

	for _, flow := range flows {
		if opts.OwnerID != "" && flow.Owner != opts.OwnerID {
			continue
		}

		if opts.Status != nil && flow.Status != *opts.Status {
			continue
		}

		filtered = append(filtered, flow)
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		a, b := filtered[i], filtered[j]

		var less bool

		switch opts.SortBy {
		case "updated_at":
			less = a.UpdatedAt.Before(b.UpdatedAt)
		case "name":
			less = a.Name < b.Name
		default:
			less = a.CreatedAt.Before(b.CreatedAt)
		}

		if opts.SortOrder == "desc" {
			return !less
		}

		return less
	})

	total := int64(len(filtered))

	if opts.Offset >= len(filtered) {
		return &FlowListResult{Flows: []*models.Flow{}, TotalCount: total}
	}

	end := min(opts.Offset+opts.Limit, len(filtered))

	return &FlowListResult{
		Flows:       filtered[opts.Offset:end],
		TotalCount:  total,
		HasNextPage: end < len(filtered),
	}
}
