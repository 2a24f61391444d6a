package tokenstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_ExpiresWithin(t *testing.T) {
	rec := &Record{ExpiresAt: time.Now().Add(5 * time.Minute)}
	assert.False(t, rec.ExpiresWithin(time.Minute))
	assert.True(t, rec.ExpiresWithin(10*time.Minute))

	stale := &Record{ExpiresAt: time.Now().Add(-time.Minute)}
	assert.True(t, stale.ExpiresWithin(0))
}

func TestMemoryStore_RoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Load(ctx, "alice")
	assert.ErrorIs(t, err, ErrNotFound)

	rec := &Record{
		AccessToken:  "BQDaccess",
		RefreshToken: "AQ9refresh",
		Scopes:       []string{"user-read-playback-state"},
		ExpiresAt:    time.Now().Add(time.Hour),
	}
	require.NoError(t, store.Save(ctx, "alice", rec))

	got, err := store.Load(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, rec.AccessToken, got.AccessToken)
	assert.Equal(t, rec.Scopes, got.Scopes)

	// Load returns a copy; mutating it must not leak back into the store.
	got.AccessToken = "mutated"
	again, err := store.Load(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "BQDaccess", again.AccessToken)

	require.NoError(t, store.Delete(ctx, "alice"))
	_, err = store.Load(ctx, "alice")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting an absent record is not an error.
	assert.NoError(t, store.Delete(ctx, "alice"))
}

func TestBoltStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.db")
	store, err := NewBoltStore(path)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	_, err = store.Load(ctx, "bob")
	assert.ErrorIs(t, err, ErrNotFound)

	rec := &Record{
		AccessToken:  "BQDaccess",
		RefreshToken: "AQ9refresh",
		ExpiresAt:    time.Now().Add(time.Hour).UTC().Truncate(time.Second),
	}
	require.NoError(t, store.Save(ctx, "bob", rec))

	got, err := store.Load(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, rec.AccessToken, got.AccessToken)
	assert.Equal(t, rec.RefreshToken, got.RefreshToken)
	assert.True(t, rec.ExpiresAt.Equal(got.ExpiresAt))

	require.NoError(t, store.Delete(ctx, "bob"))
	_, err = store.Load(ctx, "bob")
	assert.ErrorIs(t, err, ErrNotFound)
}
