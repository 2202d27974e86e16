package sessionstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dukex/callflow/pkg/models"
	"github.com/dukex/callflow/pkg/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRecord(id string, flow *models.Flow) *Record {
	return &Record{
		Session: &models.Session{
			ID:            id,
			FlowID:        flow.ID,
			FlowVersion:   flow.CurrentVersion,
			Status:        models.SessionStatusAwaitingInput,
			CurrentNodeID: "menu",
			Variables:     map[string]any{"caller": "+5511999990000"},
			Events: []models.Event{
				{Seq: 1, Kind: models.EventNodeEntered, NodeID: "start", NodeType: models.NodeTypeStart},
			},
			Awaiting: &models.PendingInput{NodeID: "menu", NodeType: models.NodeTypeDTMF, Keys: []string{"1", "2"}},
		},
		Flow: flow,
	}
}

func setupRedisStore(t *testing.T, opts ...RedisOption) (*RedisStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	return NewRedisStore(client, opts...), mr
}

// storeContract checks behaviour every Store must share.
func storeContract(t *testing.T, store Store) {
	ctx := context.Background()
	flow := testutil.MenuFlow(1)

	t.Run("save and load", func(t *testing.T) {
		rec := newRecord("s-1", flow)
		require.NoError(t, store.Save(ctx, rec))

		loaded, err := store.Load(ctx, "s-1")
		require.NoError(t, err)

		assert.Equal(t, rec.Session.Status, loaded.Session.Status)
		assert.Equal(t, rec.Session.Events, loaded.Session.Events)
		assert.Equal(t, rec.Session.Awaiting, loaded.Session.Awaiting)
		assert.Equal(t, "+5511999990000", loaded.Session.Variables["caller"])
		assert.Equal(t, flow.ID, loaded.Flow.ID)
		assert.Equal(t, flow.Nodes, loaded.Flow.Nodes)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := store.Load(ctx, "missing")
		require.ErrorIs(t, err, ErrNotFound)

		_, err = store.Load(ctx, "")
		require.ErrorIs(t, err, ErrInvalidID)
	})

	t.Run("invalid record", func(t *testing.T) {
		require.ErrorIs(t, store.Save(ctx, &Record{Flow: flow}), ErrInvalidRecord)
		require.ErrorIs(t, store.Save(ctx, nil), ErrInvalidRecord)
	})

	t.Run("list by flow", func(t *testing.T) {
		other := testutil.LinearFlow("Hi")

		require.NoError(t, store.Save(ctx, newRecord("s-2", flow)))
		require.NoError(t, store.Save(ctx, newRecord("s-3", other)))

		ids, err := store.ListByFlow(ctx, flow.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"s-1", "s-2"}, ids)

		ids, err = store.ListByFlow(ctx, "nobody")
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, "s-2"))

		_, err := store.Load(ctx, "s-2")
		require.ErrorIs(t, err, ErrNotFound)

		require.ErrorIs(t, store.Delete(ctx, "s-2"), ErrNotFound)

		ids, err := store.ListByFlow(ctx, flow.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"s-1"}, ids)
	})
}

func TestMemoryStore(t *testing.T) {
	store, err := NewMemoryStore()
	require.NoError(t, err)

	t.Cleanup(func() { _ = store.Close() })

	storeContract(t, store)
}

func TestRedisStore(t *testing.T) {
	store, _ := setupRedisStore(t)

	storeContract(t, store)
}

func TestMemoryStore_Isolation(t *testing.T) {
	store, err := NewMemoryStore(WithSweepSchedule(""))
	require.NoError(t, err)

	ctx := context.Background()
	rec := newRecord("s-1", testutil.LinearFlow("Hi"))
	require.NoError(t, store.Save(ctx, rec))

	rec.Session.Variables["caller"] = "changed"

	loaded, err := store.Load(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "+5511999990000", loaded.Session.Variables["caller"])

	loaded.Session.Events = append(loaded.Session.Events, models.Event{Seq: 2})

	again, err := store.Load(ctx, "s-1")
	require.NoError(t, err)
	assert.Len(t, again.Session.Events, 1)
}

func TestMemoryStore_Expiry(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	store, err := NewMemoryStore(WithMemoryTTL(10*time.Minute), WithMemoryClock(clock), WithSweepSchedule(""))
	require.NoError(t, err)

	ctx := context.Background()
	flow := testutil.LinearFlow("Hi")

	require.NoError(t, store.Save(ctx, newRecord("old", flow)))

	now = now.Add(6 * time.Minute)
	require.NoError(t, store.Save(ctx, newRecord("new", flow)))

	now = now.Add(5 * time.Minute)

	_, err = store.Load(ctx, "old")
	require.ErrorIs(t, err, ErrNotFound)

	ids, err := store.ListByFlow(ctx, flow.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"new"}, ids)

	now = now.Add(20 * time.Minute)
	assert.Equal(t, 1, store.Sweep())
	assert.Equal(t, 0, store.Len())
}

func TestMemoryStore_LoadRefreshesAccess(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	store, err := NewMemoryStore(WithMemoryTTL(10*time.Minute), WithMemoryClock(clock), WithSweepSchedule(""))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, newRecord("s-1", testutil.LinearFlow("Hi"))))

	for range 3 {
		now = now.Add(8 * time.Minute)

		_, err := store.Load(ctx, "s-1")
		require.NoError(t, err)
	}

	assert.Equal(t, 0, store.Sweep())
}

func TestMemoryStore_InvalidSchedule(t *testing.T) {
	_, err := NewMemoryStore(WithSweepSchedule("every tuesday"))
	require.Error(t, err)
}

func TestRedisStore_TTL(t *testing.T) {
	store, mr := setupRedisStore(t, WithTTL(time.Minute), WithPrefix("test"))
	ctx := context.Background()
	flow := testutil.LinearFlow("Hi")

	require.NoError(t, store.Save(ctx, newRecord("s-1", flow)))
	assert.True(t, mr.Exists("test:session:s-1"))
	assert.Equal(t, time.Minute, mr.TTL("test:session:s-1"))

	mr.FastForward(2 * time.Minute)

	_, err := store.Load(ctx, "s-1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_ListPrunesExpired(t *testing.T) {
	store, mr := setupRedisStore(t, WithTTL(time.Hour))
	ctx := context.Background()
	flow := testutil.LinearFlow("Hi")

	require.NoError(t, store.Save(ctx, newRecord("s-1", flow)))
	require.NoError(t, store.Save(ctx, newRecord("s-2", flow)))

	mr.Del("callflow:session:s-1")

	ids, err := store.ListByFlow(ctx, flow.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"s-2"}, ids)

	members, err := mr.Members("callflow:flow:" + flow.ID + ":sessions")
	require.NoError(t, err)
	assert.Equal(t, []string{"s-2"}, members)
}
