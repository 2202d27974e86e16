package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/callflow/pkg/models"
	"github.com/dukex/callflow/pkg/persistence"
	"github.com/dukex/callflow/pkg/persistence/sqlbase"
)

const flowColumns = `
			id
		  , name
		  , description
		  , status
		  , current_version
		  , owner
		  , tags
		  , nodes
		  , has_unsaved_changes
		  , draft_notes
		  , created_at
		  , updated_at
		  , published_at`

// FlowRepository handles flow-related database operations.
type FlowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewFlowRepository creates a new flow repository.
func NewFlowRepository(db *sql.DB, logger *slog.Logger) *FlowRepository {
	return &FlowRepository{db: db, logger: logger}
}

// buildListQuery returns the page query, the count query and their shared
// arguments. The sort column comes from an allowlist; everything else is bound.
func (r *FlowRepository) buildListQuery(opts persistence.ListFlowsOptions) (string, string, []any, error) {
	column, ok := sqlbase.FlowColumns[opts.SortBy]
	if !ok {
		return "", "", nil, fmt.Errorf("%w: %s", persistence.ErrInvalidSortField, opts.SortBy)
	}

	direction := "DESC"
	if opts.SortOrder == "asc" {
		direction = "ASC"
	}

	conditions := []string{"deleted_at IS NULL"}
	args := make([]any, 0, 4)

	if opts.OwnerID != "" {
		args = append(args, opts.OwnerID)
		conditions = append(conditions, fmt.Sprintf("owner = $%d", len(args)))
	}

	if opts.Status != nil {
		args = append(args, string(*opts.Status))
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}

	where := strings.Join(conditions, " AND ")

	count := "SELECT COUNT(*) FROM flows WHERE " + where
	query := fmt.Sprintf("SELECT %s FROM flows WHERE %s ORDER BY %s %s, id LIMIT %d OFFSET %d",
		flowColumns, where, column, direction, opts.Limit, opts.Offset)

	return query, count, args, nil
}

// ListFlows returns one page of flows, version history included.
func (r *FlowRepository) ListFlows(ctx context.Context, opts persistence.ListFlowsOptions) (*persistence.FlowListResult, error) {
	opts, err := opts.Normalize()
	if err != nil {
		return nil, err
	}

	query, countQuery, args, err := r.buildListQuery(opts)
	if err != nil {
		return nil, err
	}

	var total int64

	err = r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("failed to count flows: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query flows: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	flows := make([]*models.Flow, 0, opts.Limit)

	for rows.Next() {
		flow, err := r.scanFlow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan flow: %w", err)
		}

		flows = append(flows, flow)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating flows: %w", err)
	}

	for _, flow := range flows {
		if err := r.loadVersions(ctx, flow); err != nil {
			return nil, err
		}
	}

	return &persistence.FlowListResult{
		Flows:       flows,
		TotalCount:  total,
		HasNextPage: int64(opts.Offset+len(flows)) < total,
	}, nil
}

func (r *FlowRepository) GetByID(ctx context.Context, id string) (*models.Flow, error) {
	query := "SELECT " + flowColumns + " FROM flows WHERE id = $1 AND deleted_at IS NULL"

	flow, err := r.scanFlow(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, persistence.NewFlowError("GetByID", id, err)
	}

	if err := r.loadVersions(ctx, flow); err != nil {
		return nil, err
	}

	return flow, nil
}

// Save upserts the flow row and inserts versions not stored yet. Stored
// versions are never rewritten.
func (r *FlowRepository) Save(ctx context.Context, flow *models.Flow) (err error) {
	now := time.Now().UTC()
	if flow.CreatedAt.IsZero() {
		flow.CreatedAt = now
	}

	if flow.UpdatedAt.IsZero() {
		flow.UpdatedAt = now
	}

	enc, err := sqlbase.EncodeFlow(flow)
	if err != nil {
		return persistence.NewFlowError("Save", flow.ID, err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO flows (id, name, description, status, current_version, owner, tags, nodes,
			has_unsaved_changes, draft_notes, created_at, updated_at, published_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NULL)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			status = EXCLUDED.status,
			current_version = EXCLUDED.current_version,
			owner = EXCLUDED.owner,
			tags = EXCLUDED.tags,
			nodes = EXCLUDED.nodes,
			has_unsaved_changes = EXCLUDED.has_unsaved_changes,
			draft_notes = EXCLUDED.draft_notes,
			updated_at = EXCLUDED.updated_at,
			published_at = EXCLUDED.published_at,
			deleted_at = NULL
	`,
		flow.ID,
		flow.Name,
		flow.Description,
		flow.Status,
		flow.CurrentVersion,
		flow.Owner,
		enc.Tags,
		enc.Nodes,
		flow.HasUnsavedChanges,
		flow.DraftNotes,
		flow.CreatedAt,
		flow.UpdatedAt,
		flow.PublishedAt,
	)
	if err != nil {
		return persistence.NewFlowError("Save", flow.ID, err)
	}

	ordinals := sqlbase.VersionOrdinals(flow.Versions)

	for _, v := range flow.Versions {
		nodes, encErr := sqlbase.EncodeNodes(v.Nodes)
		if encErr != nil {
			err = encErr

			return persistence.NewFlowError("Save", flow.ID, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO flow_versions (flow_id, id, ordinal, label, author, node_count, notes, nodes, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (flow_id, id) DO NOTHING
		`, flow.ID, v.ID, ordinals[v.ID], v.Label, v.Author, v.NodeCount, v.Notes, nodes, v.CreatedAt)
		if err != nil {
			return persistence.NewFlowError("Save", flow.ID, fmt.Errorf("version %s: %w", v.Label, err))
		}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Delete soft deletes a flow by setting deleted_at timestamp.
func (r *FlowRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE flows SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("failed to delete flow: %w", err)
	}

	return nil
}

func (r *FlowRepository) loadVersions(ctx context.Context, flow *models.Flow) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, label, author, node_count, notes, nodes, created_at
		FROM flow_versions
		WHERE flow_id = $1
		ORDER BY ordinal DESC
	`, flow.ID)
	if err != nil {
		return fmt.Errorf("failed to query versions of flow %s: %w", flow.ID, err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	flow.Versions = make([]*models.FlowVersion, 0)

	for rows.Next() {
		var (
			v     models.FlowVersion
			nodes []byte
		)

		err := rows.Scan(&v.ID, &v.Label, &v.Author, &v.NodeCount, &v.Notes, &nodes, &v.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to scan version: %w", err)
		}

		v.Nodes, err = sqlbase.DecodeNodes(nodes)
		if err != nil {
			return err
		}

		flow.Versions = append(flow.Versions, &v)
	}

	return rows.Err()
}

func (r *FlowRepository) scanFlow(scanner interface {
	Scan(dest ...any) error
},
) (*models.Flow, error) {
	var (
		flow        models.Flow
		enc         sqlbase.EncodedFlow
		publishedAt sql.NullTime
	)

	err := scanner.Scan(
		&flow.ID,
		&flow.Name,
		&flow.Description,
		&flow.Status,
		&flow.CurrentVersion,
		&flow.Owner,
		&enc.Tags,
		&enc.Nodes,
		&flow.HasUnsavedChanges,
		&flow.DraftNotes,
		&flow.CreatedAt,
		&flow.UpdatedAt,
		&publishedAt,
	)
	if err != nil {
		return nil, err
	}

	if publishedAt.Valid {
		t := publishedAt.Time
		flow.PublishedAt = &t
	}

	if err := sqlbase.DecodeFlow(&flow, enc); err != nil {
		return nil, err
	}

	return &flow, nil
}
