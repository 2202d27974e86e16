package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/dukex/callflow/pkg/editor"
	"github.com/dukex/callflow/pkg/models"
	"github.com/dukex/callflow/pkg/persistence"
	"github.com/dukex/callflow/pkg/persistence/postgresql"
	"github.com/dukex/callflow/pkg/testutil"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var postgresContainer *postgres.PostgresContainer

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	for _, table := range []string{"flow_versions", "flows", "schema_migrations"} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	err = db.Close()
	require.NoError(t, err)
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context, string) {
	t.Helper()

	if testing.Short() {
		t.Skip("postgres container tests are skipped in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("callflow_test"),
			postgres.WithUsername("callflow"),
			postgres.WithPassword("callflow"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)

		err = p.Close(ctx)
		require.NoError(t, err)

		cancel()
	})

	return p, ctx, databaseURL
}

func TestNewPersistence_Migrations(t *testing.T) {
	p, ctx, databaseURL := setupTestDB(t)

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() {
		require.NoError(t, db.Close())
	}()

	for _, table := range []string{"flows", "flow_versions", "schema_migrations"} {
		var exists bool

		err = db.QueryRowContext(ctx,
			"SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_name = $1)", table,
		).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "table %s", table)
	}

	assert.NoError(t, p.HealthCheck(ctx))
}

func TestFlowRepository_SaveAndGetByID(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.FlowRepository()

	flow := testutil.MenuFlow(2)
	flow.Tags = []string{"support"}
	flow.Owner = "acme"

	require.NoError(t, repo.Save(ctx, flow))

	loaded, err := repo.GetByID(ctx, flow.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)

	assert.Equal(t, flow.Name, loaded.Name)
	assert.Equal(t, flow.Owner, loaded.Owner)
	assert.Equal(t, flow.Tags, loaded.Tags)
	assert.Equal(t, flow.Nodes, loaded.Nodes)
	require.Len(t, loaded.Versions, 1)
	assert.Equal(t, flow.Versions[0].Nodes, loaded.Versions[0].Nodes)
	assert.Nil(t, loaded.PublishedAt)

	missing, err := repo.GetByID(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestFlowRepository_VersionsKeepNewestFirst(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.FlowRepository()
	ed := editor.New()

	flow := testutil.LinearFlow("Hi")
	require.NoError(t, repo.Save(ctx, flow))

	published, err := ed.Publish(flow, editor.PublishOptions{Author: "ana"})
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, published))

	again, err := ed.Publish(published, editor.PublishOptions{})
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, again))

	loaded, err := repo.GetByID(ctx, flow.ID)
	require.NoError(t, err)

	require.Len(t, loaded.Versions, 3)
	assert.Equal(t, "v1.2", loaded.Versions[0].Label)
	assert.Equal(t, "v1.1", loaded.Versions[1].Label)
	assert.Equal(t, "ana", loaded.Versions[1].Author)
	assert.Equal(t, models.InitialVersionLabel, loaded.Versions[2].Label)
	assert.Equal(t, models.FlowStatusPublished, loaded.Status)
	require.NotNil(t, loaded.PublishedAt)
}

func TestFlowRepository_SoftDelete(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.FlowRepository()

	flow := testutil.LinearFlow("Hi")
	require.NoError(t, repo.Save(ctx, flow))
	require.NoError(t, repo.Delete(ctx, flow.ID))

	loaded, err := repo.GetByID(ctx, flow.ID)
	require.NoError(t, err)
	assert.Nil(t, loaded)

	require.NoError(t, repo.Delete(ctx, flow.ID))

	result, err := repo.ListFlows(ctx, persistence.ListFlowsOptions{})
	require.NoError(t, err)
	assert.Empty(t, result.Flows)
}

func TestFlowRepository_ListFlows(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.FlowRepository()
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	for i, name := range []string{"Billing", "Appointments", "Collections"} {
		flow := testutil.LinearFlow("Hi")
		flow.Name = name
		flow.Owner = "acme"
		flow.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, repo.Save(ctx, flow))
	}

	other := testutil.LinearFlow("Hi")
	other.Owner = "globex"
	require.NoError(t, repo.Save(ctx, other))

	result, err := repo.ListFlows(ctx, persistence.ListFlowsOptions{
		OwnerID:   "acme",
		SortBy:    "name",
		SortOrder: "asc",
		Limit:     2,
	})
	require.NoError(t, err)

	require.Len(t, result.Flows, 2)
	assert.Equal(t, "Appointments", result.Flows[0].Name)
	assert.Equal(t, "Billing", result.Flows[1].Name)
	assert.Equal(t, int64(3), result.TotalCount)
	assert.True(t, result.HasNextPage)
	assert.Len(t, result.Flows[0].Versions, 1)
}
