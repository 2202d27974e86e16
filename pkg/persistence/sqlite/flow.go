package sqlite

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

// timeLayout is fixed-width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const flowColumns = `id, name, description, status, current_version, owner, tags, nodes,
	has_unsaved_changes, draft_notes, created_at, updated_at, published_at`

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// FlowRepository handles flow rows in SQLite.
type FlowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewFlowRepository(db *sql.DB, logger *slog.Logger) *FlowRepository {
	return &FlowRepository{db: db, logger: logger}
}

func (r *FlowRepository) ListFlows(ctx context.Context, opts persistence.ListFlowsOptions) (*persistence.FlowListResult, error) {
	opts, err := opts.Normalize()
	if err != nil {
		return nil, err
	}

	column := sqlbase.FlowColumns[opts.SortBy]

	direction := "DESC"
	if opts.SortOrder == "asc" {
		direction = "ASC"
	}

	conditions := []string{"1 = 1"}
	args := make([]any, 0, 2)

	if opts.OwnerID != "" {
		conditions = append(conditions, "owner = ?")
		args = append(args, opts.OwnerID)
	}

	if opts.Status != nil {
		conditions = append(conditions, "status = ?")
		args = append(args, string(*opts.Status))
	}

	where := strings.Join(conditions, " AND ")

	var total int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM flows WHERE "+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count flows: %w", err)
	}

	query := fmt.Sprintf("SELECT %s FROM flows WHERE %s ORDER BY %s %s, id LIMIT %d OFFSET %d",
		flowColumns, where, column, direction, opts.Limit, opts.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query flows: %w", err)
	}

	flows := make([]*models.Flow, 0, opts.Limit)

	for rows.Next() {
		flow, err := scanFlow(rows)
		if err != nil {
			_ = rows.Close()

			return nil, fmt.Errorf("failed to scan flow: %w", err)
		}

		flows = append(flows, flow)
	}

	if err := rows.Close(); err != nil {
		r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
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
	row := r.db.QueryRowContext(ctx, "SELECT "+flowColumns+" FROM flows WHERE id = ?", id)

	flow, err := scanFlow(row)
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

	var publishedAt any
	if flow.PublishedAt != nil {
		publishedAt = formatTime(*flow.PublishedAt)
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
		INSERT INTO flows (`+flowColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			status = excluded.status,
			current_version = excluded.current_version,
			owner = excluded.owner,
			tags = excluded.tags,
			nodes = excluded.nodes,
			has_unsaved_changes = excluded.has_unsaved_changes,
			draft_notes = excluded.draft_notes,
			updated_at = excluded.updated_at,
			published_at = excluded.published_at
	`,
		flow.ID, flow.Name, flow.Description, string(flow.Status), flow.CurrentVersion, flow.Owner,
		string(enc.Tags), string(enc.Nodes), flow.HasUnsavedChanges, flow.DraftNotes,
		formatTime(flow.CreatedAt), formatTime(flow.UpdatedAt), publishedAt,
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
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (flow_id, id) DO NOTHING
		`, flow.ID, v.ID, ordinals[v.ID], v.Label, v.Author, v.NodeCount, v.Notes, string(nodes), formatTime(v.CreatedAt))
		if err != nil {
			return persistence.NewFlowError("Save", flow.ID, fmt.Errorf("version %s: %w", v.Label, err))
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Delete removes the flow and its versions.
func (r *FlowRepository) Delete(ctx context.Context, id string) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, "DELETE FROM flow_versions WHERE flow_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete versions of flow %s: %w", id, err)
	}

	if _, err = tx.ExecContext(ctx, "DELETE FROM flows WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete flow %s: %w", id, err)
	}

	return tx.Commit()
}

func (r *FlowRepository) loadVersions(ctx context.Context, flow *models.Flow) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, label, author, node_count, notes, nodes, created_at
		FROM flow_versions
		WHERE flow_id = ?
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
			v         models.FlowVersion
			nodes     string
			createdAt string
		)

		if err := rows.Scan(&v.ID, &v.Label, &v.Author, &v.NodeCount, &v.Notes, &nodes, &createdAt); err != nil {
			return fmt.Errorf("failed to scan version: %w", err)
		}

		if v.CreatedAt, err = parseTime(createdAt); err != nil {
			return fmt.Errorf("version %s: %w", v.ID, err)
		}

		if v.Nodes, err = sqlbase.DecodeNodes([]byte(nodes)); err != nil {
			return err
		}

		flow.Versions = append(flow.Versions, &v)
	}

	return rows.Err()
}

func scanFlow(scanner interface {
	Scan(dest ...any) error
},
) (*models.Flow, error) {
	var (
		flow                 models.Flow
		status               string
		tags, nodes          string
		createdAt, updatedAt string
		publishedAt          sql.NullString
	)

	err := scanner.Scan(
		&flow.ID, &flow.Name, &flow.Description, &status, &flow.CurrentVersion, &flow.Owner,
		&tags, &nodes, &flow.HasUnsavedChanges, &flow.DraftNotes,
		&createdAt, &updatedAt, &publishedAt,
	)
	if err != nil {
		return nil, err
	}

	flow.Status = models.FlowStatus(status)

	if flow.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}

	if flow.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}

	if publishedAt.Valid {
		t, err := parseTime(publishedAt.String)
		if err != nil {
			return nil, err
		}

		flow.PublishedAt = &t
	}

	if err := sqlbase.DecodeFlow(&flow, sqlbase.EncodedFlow{Tags: []byte(tags), Nodes: []byte(nodes)}); err != nil {
		return nil, err
	}

	return &flow, nil
}
