package tokenstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRefreshRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveRefresh(ctx, 1, "refresh-token-a", time.Hour))

	got, err := store.Refresh(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "refresh-token-a", got)

	// A second save replaces the first; one live refresh token per member.
	require.NoError(t, store.SaveRefresh(ctx, 1, "refresh-token-b", time.Hour))
	got, err = store.Refresh(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "refresh-token-b", got)
}

func TestRefreshNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Refresh(context.Background(), 99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteRefreshIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveRefresh(ctx, 5, "tok", time.Hour))
	require.NoError(t, store.DeleteRefresh(ctx, 5))
	require.NoError(t, store.DeleteRefresh(ctx, 5))

	_, err := store.Refresh(ctx, 5)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExpiredRecordIsGone(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveRefresh(ctx, 2, "short-lived", 50*time.Millisecond))
	time.Sleep(120 * time.Millisecond)

	_, err := store.Refresh(ctx, 2)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBlacklist(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	revoked, err := store.IsBlacklisted(ctx, "deadbeef")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, store.Blacklist(ctx, "deadbeef", time.Minute))

	revoked, err = store.IsBlacklisted(ctx, "deadbeef")
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestAccessHashRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveAccessHash(ctx, 3, "hash-one", time.Minute))

	got, err := store.AccessHash(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "hash-one", got)

	require.NoError(t, store.DeleteAccessHash(ctx, 3))
	_, err = store.AccessHash(ctx, 3)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOneTimeKeyIsConsumedOnce(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveOneTimeKey(ctx, "k1", "s3cret", 30*time.Second))

	secret, err := store.TakeOneTimeKey(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", secret)

	_, err = store.TakeOneTimeKey(ctx, "k1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCancelledContext(t *testing.T) {
	store := newTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := store.SaveRefresh(ctx, 1, "tok", time.Hour)
	assert.Error(t, err)
}
