package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, def Limit, overrides map[string]Limit) *Limiter {
	t.Helper()
	l := New(def, overrides, zerolog.Nop())
	t.Cleanup(l.Close)
	return l
}

func TestAcquire_ImmediateWithinCapacity(t *testing.T) {
	l := newTestLimiter(t, Limit{Capacity: 5, Interval: 10 * time.Second}, nil)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Acquire(ctx, "/v1/search"))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond, "first 5 acquires must not block")
}

func TestAcquire_SixthBlocksUntilRefill(t *testing.T) {
	l := newTestLimiter(t, Limit{Capacity: 5, Interval: 300 * time.Millisecond}, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Acquire(ctx, "/v1/search"))
	}

	start := time.Now()
	require.NoError(t, l.Acquire(ctx, "/v1/search"))
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 200*time.Millisecond, "6th acquire must wait for the refill")
	assert.Less(t, elapsed, time.Second)
}

func TestAcquire_EndpointsIndependent(t *testing.T) {
	l := newTestLimiter(t, Limit{Capacity: 1, Interval: 10 * time.Second}, nil)
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx, "/v1/search"))

	// A different endpoint has its own bucket and must not queue behind the
	// exhausted one.
	start := time.Now()
	require.NoError(t, l.Acquire(ctx, "/v1/me"))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestAcquire_SharedBucketAcrossIDs(t *testing.T) {
	l := newTestLimiter(t, Limit{Capacity: 2, Interval: 10 * time.Second}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	require.NoError(t, l.Acquire(ctx, "/v1/tracks/4iV5W9uYEdYUVa79Axb7Rh/audio-features"))
	require.NoError(t, l.Acquire(ctx, "/v1/tracks/0eGsygTp906u18L0Oimnem/audio-features"))
	// Third request against the same pattern exhausts the shared bucket.
	err := l.Acquire(ctx, "/v1/tracks/6rqhFgbbKwnb9MLmUQDhG6/audio-features")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestObserve_ExplicitResetShortensWait(t *testing.T) {
	l := newTestLimiter(t, Limit{Capacity: 180, Interval: 30 * time.Second}, nil)
	ctx := context.Background()

	header := http.Header{}
	header.Set(headerLimit, "180")
	header.Set(headerRemaining, "0")
	header.Set(headerReset, fmt.Sprintf("%d", time.Now().Add(time.Second).Unix()))
	l.Observe("/v1/search", header)

	// Without the explicit reset this would block for most of 30s.
	start := time.Now()
	require.NoError(t, l.Acquire(ctx, "/v1/search"))
	elapsed := time.Since(start)
	assert.Less(t, elapsed, 3*time.Second, "acquire must honor the server reset, not the full interval")
}

func TestObserve_RemainingOverridesTokens(t *testing.T) {
	l := newTestLimiter(t, Limit{Capacity: 100, Interval: 10 * time.Second}, nil)

	header := http.Header{}
	header.Set(headerRemaining, "2")
	l.Observe("/v1/me", header)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, l.Acquire(ctx, "/v1/me"))
	require.NoError(t, l.Acquire(ctx, "/v1/me"))
	err := l.Acquire(ctx, "/v1/me")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestObserve_RemainingClampedToCapacity(t *testing.T) {
	l := newTestLimiter(t, Limit{Capacity: 10, Interval: 10 * time.Second}, nil)

	header := http.Header{}
	header.Set(headerRemaining, "5000")
	l.Observe("/v1/me", header)

	l.mu.Lock()
	b := l.buckets["/v1/me"]
	l.mu.Unlock()
	assert.Equal(t, 10, b.tokens)
}

func TestAcquire_ContextCancelled(t *testing.T) {
	l := newTestLimiter(t, Limit{Capacity: 1, Interval: 10 * time.Second}, nil)
	require.NoError(t, l.Acquire(context.Background(), "/v1/search"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := l.Acquire(ctx, "/v1/search")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestOverrides_SeedBucketBudget(t *testing.T) {
	overrides := map[string]Limit{
		"/v1/me/player/play": {Capacity: 1, Interval: 10 * time.Second},
	}
	l := newTestLimiter(t, DefaultLimit(), overrides)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, l.Acquire(ctx, "/v1/me/player/play"))
	err := l.Acquire(ctx, "/v1/me/player/play")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSweep_EvictsIdleBuckets(t *testing.T) {
	l := newTestLimiter(t, Limit{Capacity: 5, Interval: 200 * time.Millisecond}, nil)
	require.NoError(t, l.Acquire(context.Background(), "/v1/search"))
	assert.Equal(t, 1, l.Len())

	// Bucket refills on the sweep, then sits full and untouched for more than
	// two intervals, which makes it eligible for eviction.
	assert.Eventually(t, func() bool { return l.Len() == 0 }, 3*time.Second, 50*time.Millisecond)
}
