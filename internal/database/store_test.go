package database

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dbconfig "chatrelay/pkg/database"
	"chatrelay/pkg/types"
)

func newSQLiteStore(t *testing.T) Store {
	t.Helper()
	cfg := dbconfig.DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "chat.db")

	store, err := Open(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, Migrate(context.Background(), store, dbconfig.DriverSQLite))
	return store
}

func newPostgresStore(t *testing.T) Store {
	t.Helper()
	url := os.Getenv("CHATRELAY_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("CHATRELAY_TEST_DATABASE_URL not set")
	}
	cfg := dbconfig.DefaultConfig()
	cfg.Driver = dbconfig.DriverPostgres
	cfg.URL = url

	ctx := context.Background()
	store, err := Open(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, Migrate(ctx, store, dbconfig.DriverPostgres))
	_, err = store.GetDB().ExecContext(ctx, "TRUNCATE messages RESTART IDENTITY")
	require.NoError(t, err)
	return store
}

func forEachStore(t *testing.T, fn func(t *testing.T, store Store)) {
	t.Run("sqlite", func(t *testing.T) { fn(t, newSQLiteStore(t)) })
	t.Run("postgres", func(t *testing.T) { fn(t, newPostgresStore(t)) })
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	cfg := dbconfig.DefaultConfig()
	cfg.Driver = "oracle"
	_, err := Open(context.Background(), cfg, zerolog.Nop())
	assert.ErrorIs(t, err, ErrUnsupportedDriver)
}

func TestStore_CreateThenListReturnsNewestLast(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()

		first, err := store.CreateMessage(ctx, 1, 2, "hello")
		require.NoError(t, err)
		_, err = store.CreateMessage(ctx, 1, 3, "someone else")
		require.NoError(t, err)
		last, err := store.CreateMessage(ctx, 2, 1, "hi back")
		require.NoError(t, err)

		assert.Positive(t, last.ID)
		assert.False(t, last.IsRead)
		assert.Nil(t, last.ReadAt)
		assert.False(t, last.CreatedAt.IsZero())

		history, err := store.ListBetween(ctx, 2, 1)
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, first.ID, history[0].ID)
		assert.Equal(t, last.ID, history[1].ID)
		assert.Equal(t, "hi back", history[1].Content)
		assert.Equal(t, types.UserID(2), history[1].SenderID)
		assert.Equal(t, types.UserID(1), history[1].ReceiverID)

		same, err := store.ListBetween(ctx, 1, 2)
		require.NoError(t, err)
		assert.Equal(t, len(history), len(same), "order of arguments does not matter")
	})
}

func TestStore_ListBetweenEmpty(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		history, err := store.ListBetween(context.Background(), 10, 11)
		require.NoError(t, err)
		assert.NotNil(t, history)
		assert.Empty(t, history)
	})
}

func TestStore_MarkReadIsIdempotent(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		a, err := store.CreateMessage(ctx, 1, 2, "a")
		require.NoError(t, err)
		b, err := store.CreateMessage(ctx, 1, 2, "b")
		require.NoError(t, err)

		readAt := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
		n, err := store.MarkRead(ctx, []int64{a.ID}, readAt)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		n, err = store.MarkRead(ctx, []int64{a.ID, b.ID}, readAt.Add(time.Hour))
		require.NoError(t, err)
		assert.EqualValues(t, 1, n, "only b changes")

		n, err = store.MarkRead(ctx, []int64{a.ID, b.ID}, readAt.Add(2*time.Hour))
		require.NoError(t, err)
		assert.Zero(t, n)

		history, err := store.ListBetween(ctx, 1, 2)
		require.NoError(t, err)
		require.Len(t, history, 2)
		require.NotNil(t, history[0].ReadAt)
		assert.True(t, history[0].IsRead)
		assert.True(t, history[0].ReadAt.Equal(readAt), "readAt of a never moves")
		require.NotNil(t, history[1].ReadAt)
		assert.True(t, history[1].ReadAt.Equal(readAt.Add(time.Hour)))

		n, err = store.MarkRead(ctx, nil, readAt)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestStore_CountUnread(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		var ids []int64
		for i := 0; i < 3; i++ {
			m, err := store.CreateMessage(ctx, 5, 6, "x")
			require.NoError(t, err)
			ids = append(ids, m.ID)
		}
		_, err := store.CreateMessage(ctx, 6, 5, "reply")
		require.NoError(t, err)

		n, err := store.CountUnread(ctx, 6, 5)
		require.NoError(t, err)
		assert.EqualValues(t, 3, n)

		_, err = store.MarkRead(ctx, ids[:2], time.Now())
		require.NoError(t, err)
		n, err = store.CountUnread(ctx, 6, 5)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		n, err = store.CountUnread(ctx, 5, 6)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)
	})
}

func TestStore_HealthCheck(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		assert.NoError(t, store.HealthCheck(context.Background()))
	})
}

func TestManager_ConcurrentWritesAreSerialized(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.CreateMessage(ctx, 1, 2, "burst")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	history, err := store.ListBetween(ctx, 1, 2)
	require.NoError(t, err)
	assert.Len(t, history, 20)
	for i := 1; i < len(history); i++ {
		assert.False(t, history[i].CreatedAt.Before(history[i-1].CreatedAt))
	}
}

func TestManager_WriteAfterClose(t *testing.T) {
	cfg := dbconfig.DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "closed.db")
	m, err := NewManager(cfg, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, Migrate(context.Background(), m, dbconfig.DriverSQLite))

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	_, err = m.CreateMessage(context.Background(), 1, 2, "late")
	assert.ErrorIs(t, err, ErrManagerClosed)
}
