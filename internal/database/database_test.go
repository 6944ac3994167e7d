package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryan-buckman/movierec/internal/model"
)

func newTestDB(t *testing.T, ttl time.Duration) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "cache.db"), ttl)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSQLite_PutThenGet(t *testing.T) {
	db := newTestDB(t, time.Minute)
	ctx := context.Background()
	movies := []model.Movie{{ID: 27205, Title: "Inception", Runtime: 148}}

	_, ok, err := db.GetSearch(ctx, "incep")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, db.PutSearch(ctx, "incep", movies))
	got, ok, err := db.GetSearch(ctx, "incep")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, movies, got)
}

func TestSQLite_EmptyResultsAreCached(t *testing.T) {
	db := newTestDB(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, db.PutSearch(ctx, "zzzz", nil))
	got, ok, err := db.GetSearch(ctx, "zzzz")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, got)
}

func TestSQLite_PutReplaces(t *testing.T) {
	db := newTestDB(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, db.PutSearch(ctx, "in", []model.Movie{{ID: 1}}))
	require.NoError(t, db.PutSearch(ctx, "in", []model.Movie{{ID: 2}}))

	got, _, err := db.GetSearch(ctx, "in")
	require.NoError(t, err)
	assert.Equal(t, []model.Movie{{ID: 2}}, got)
}

func TestSQLite_ExpiryAndPurge(t *testing.T) {
	db := newTestDB(t, time.Minute)
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	db.now = func() time.Time { return now }

	require.NoError(t, db.PutSearch(ctx, "old", []model.Movie{{ID: 1}}))
	now = now.Add(45 * time.Second)
	require.NoError(t, db.PutSearch(ctx, "new", []model.Movie{{ID: 2}}))
	now = now.Add(30 * time.Second)

	_, ok, err := db.GetSearch(ctx, "old")
	require.NoError(t, err)
	assert.False(t, ok, "older than the TTL")
	_, ok, err = db.GetSearch(ctx, "new")
	require.NoError(t, err)
	assert.True(t, ok)

	n, err := db.PurgeSearches(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open("mongo", "", time.Minute)
	assert.Error(t, err)
}

func TestJanitor_PurgesUntilCancelled(t *testing.T) {
	db := newTestDB(t, time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, db.PutSearch(ctx, "incep", []model.Movie{{ID: 1}}))

	j := NewJanitor(db, MinPurgeInterval)
	done := make(chan error, 1)
	go func() { done <- j.Serve(ctx) }()

	require.Eventually(t, func() bool {
		var count int
		err := db.conn.QueryRow("SELECT COUNT(*) FROM searches").Scan(&count)
		return err == nil && count == 0
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, "cache-janitor", j.String())
}
