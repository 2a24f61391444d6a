// Package ratelimit implements per-endpoint token-bucket rate limiting for
// the Spotify Web API, corrected from server-supplied quota headers.
package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Quota headers some provider responses carry. When present they override the
// local simulation entirely.
const (
	headerLimit     = "X-RateLimit-Limit"
	headerRemaining = "X-RateLimit-Remaining"
	headerReset     = "X-RateLimit-Reset"
)

// Limit describes one bucket's budget.
type Limit struct {
	Capacity int
	Interval time.Duration
}

// DefaultLimit matches Spotify's documented default of 180 requests per
// rolling 30-second window.
func DefaultLimit() Limit {
	return Limit{Capacity: 180, Interval: 30 * time.Second}
}

type bucket struct {
	tokens        int
	capacity      int
	interval      time.Duration
	lastRefill    time.Time
	explicitReset time.Time // zero unless the server reported a reset epoch
	lastTouched   time.Time
}

// Limiter maintains one token bucket per normalized endpoint. Buckets are
// created lazily and evicted once full and idle for more than two intervals.
type Limiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	def       Limit
	overrides map[string]Limit
	logger    zerolog.Logger
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a limiter with the given default budget. overrides maps
// normalized endpoint patterns to per-endpoint budgets and may be nil.
func New(def Limit, overrides map[string]Limit, logger zerolog.Logger) *Limiter {
	if def.Capacity <= 0 {
		def = DefaultLimit()
	}
	l := &Limiter{
		buckets:   make(map[string]*bucket),
		def:       def,
		overrides: overrides,
		logger:    logger.With().Str("component", "ratelimit").Logger(),
		done:      make(chan struct{}),
	}
	go l.sweep()
	return l
}

// Close stops the background refill sweep.
func (l *Limiter) Close() {
	l.closeOnce.Do(func() { close(l.done) })
}

// Acquire blocks until the endpoint's bucket grants a permit. It never
// rejects; it only delays. Callers needing an upper bound must cancel ctx.
func (l *Limiter) Acquire(ctx context.Context, endpoint string) error {
	key := Normalize(endpoint)
	for {
		l.mu.Lock()
		b := l.bucketLocked(key)
		now := time.Now()
		b.lastTouched = now

		if b.tokens > 0 {
			b.tokens--
			l.mu.Unlock()
			return nil
		}

		wait := b.interval - now.Sub(b.lastRefill)
		if !b.explicitReset.IsZero() && b.explicitReset.After(now) {
			wait = b.explicitReset.Sub(now)
		}
		if wait < 0 {
			wait = 0
		}
		l.mu.Unlock()

		l.logger.Debug().Str("endpoint", key).Dur("wait", wait).Msg("bucket exhausted, waiting for refill")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-l.done:
			timer.Stop()
			return context.Canceled
		case <-timer.C:
		}

		l.mu.Lock()
		b.refill(time.Now())
		l.mu.Unlock()
		// Loop back to take a token; another caller may have raced us.
	}
}

// Observe corrects the endpoint's bucket from server-supplied quota headers.
// Absent headers leave the local simulation untouched.
func (l *Limiter) Observe(endpoint string, header http.Header) {
	key := Normalize(endpoint)
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.bucketLocked(key)
	b.lastTouched = time.Now()

	if v := header.Get(headerLimit); v != "" {
		if limit, err := strconv.Atoi(v); err == nil && limit > 0 {
			b.capacity = limit
		}
	}
	if v := header.Get(headerRemaining); v != "" {
		if remaining, err := strconv.Atoi(v); err == nil && remaining >= 0 {
			if remaining > b.capacity {
				remaining = b.capacity
			}
			b.tokens = remaining
		}
	}
	if v := header.Get(headerReset); v != "" {
		if epoch, err := strconv.ParseInt(v, 10, 64); err == nil && epoch > 0 {
			b.explicitReset = time.Unix(epoch, 0)
		}
	}
}

// bucketLocked returns the bucket for a normalized key, creating it lazily.
// Caller must hold l.mu.
func (l *Limiter) bucketLocked(key string) *bucket {
	b, ok := l.buckets[key]
	if ok {
		return b
	}
	limit := l.def
	if override, ok := l.overrides[key]; ok && override.Capacity > 0 {
		limit = override
		if limit.Interval <= 0 {
			limit.Interval = l.def.Interval
		}
	}
	now := time.Now()
	b = &bucket{
		tokens:      limit.Capacity,
		capacity:    limit.Capacity,
		interval:    limit.Interval,
		lastRefill:  now,
		lastTouched: now,
	}
	l.buckets[key] = b
	return b
}

// refill resets the bucket if its interval elapsed or the server-declared
// reset time passed. Caller must hold l.mu.
func (b *bucket) refill(now time.Time) {
	due := now.Sub(b.lastRefill) >= b.interval
	if !b.explicitReset.IsZero() && !now.Before(b.explicitReset) {
		due = true
	}
	if !due {
		return
	}
	b.tokens = b.capacity
	b.explicitReset = time.Time{}
	b.lastRefill = now
}

// sweep refills elapsed buckets and evicts full, idle ones so memory stays
// bounded no matter how many distinct endpoints a process touches.
func (l *Limiter) sweep() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case now := <-ticker.C:
			l.mu.Lock()
			for key, b := range l.buckets {
				b.refill(now)
				if b.tokens == b.capacity && now.Sub(b.lastTouched) > 2*b.interval {
					delete(l.buckets, key)
				}
			}
			l.mu.Unlock()
		}
	}
}

// Len reports the number of live buckets. Used by tests and metrics.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
