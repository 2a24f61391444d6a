// Package pipeline executes authenticated, rate-limited requests against the
// Spotify Web API with retry and backoff. Control flow is an explicit ordered
// composition per attempt: token fetch, rate-limit acquire, send, observe,
// classify, retry-decide.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	apierrors "github.com/tonearm/spotikit/internal/errors"
	"github.com/tonearm/spotikit/internal/metrics"
)

const maxResponseBytes = 10 << 20

// TokenSource supplies valid bearer tokens and accepts staleness feedback.
type TokenSource interface {
	GetValidToken(ctx context.Context, userID string) (string, error)
	Invalidate(userID string)
}

// Limiter gates outbound calls per endpoint and ingests quota headers.
type Limiter interface {
	Acquire(ctx context.Context, endpoint string) error
	Observe(endpoint string, header http.Header)
}

// Config holds pipeline tuning knobs.
type Config struct {
	BaseURL        string
	MaxAttempts    int           // total network attempts per Execute call
	BaseDelay      time.Duration // first backoff step
	MaxDelay       time.Duration // backoff ceiling
	AttemptTimeout time.Duration // per-attempt network deadline
}

// DefaultConfig returns the documented defaults: 3 attempts, 1s base delay
// doubling to a 30s cap, 10s per attempt.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:        baseURL,
		MaxAttempts:    3,
		BaseDelay:      time.Second,
		MaxDelay:       30 * time.Second,
		AttemptTimeout: 10 * time.Second,
	}
}

// Pipeline is the single execution path for every remote operation.
type Pipeline struct {
	cfg       Config
	auth      TokenSource
	limiter   Limiter
	transport Doer
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// New creates a pipeline. transport may be nil (plain http.Client); metrics
// may be nil (nothing recorded).
func New(cfg Config, auth TokenSource, limiter Limiter, transport Doer, m *metrics.Metrics, logger zerolog.Logger) *Pipeline {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 10 * time.Second
	}
	if transport == nil {
		transport = &http.Client{}
	}
	return &Pipeline{
		cfg:       cfg,
		auth:      auth,
		limiter:   limiter,
		transport: transport,
		metrics:   m,
		logger:    logger.With().Str("component", "pipeline").Logger(),
	}
}

// Execute runs one logical operation: inject a valid token, wait for the
// rate limiter, send, classify, and retry per policy. The returned payload is
// the raw JSON body (nil for 204 responses).
func (p *Pipeline) Execute(ctx context.Context, userID, method, endpoint string, params url.Values, body any) (json.RawMessage, error) {
	attempt := 1
	authRetried := false
	for {
		token, err := p.auth.GetValidToken(ctx, userID)
		if err != nil {
			return nil, err
		}

		waitStart := time.Now()
		if err := p.limiter.Acquire(ctx, endpoint); err != nil {
			return nil, err
		}
		p.metrics.RecordRateLimitWait(endpoint, time.Since(waitStart))

		start := time.Now()
		payload, err := p.attempt(ctx, token, method, endpoint, params, body)
		latency := time.Since(start)

		if err == nil {
			p.metrics.RecordAttempt(endpoint, "success", latency)
			p.logger.Debug().
				Str("endpoint", endpoint).
				Str("method", method).
				Int("attempt", attempt).
				Dur("latency", latency).
				Msg("request succeeded")
			return payload, nil
		}

		var apiErr *apierrors.APIError
		if !errors.As(err, &apiErr) {
			// Context cancellation or a request-building failure; not ours to
			// retry.
			return nil, err
		}

		p.metrics.RecordAttempt(endpoint, string(apiErr.Kind), latency)
		p.logger.Warn().
			Str("endpoint", endpoint).
			Str("method", method).
			Int("attempt", attempt).
			Int("status", apiErr.StatusCode).
			Str("kind", string(apiErr.Kind)).
			Dur("latency", latency).
			Msg("request attempt failed")

		switch {
		case apiErr.Kind == apierrors.KindAuthentication:
			// The server rejected a token we believed valid. Force a refresh
			// and try once more; a second rejection means re-authorization.
			if authRetried {
				return nil, apierrors.ErrRequiresAuthentication
			}
			authRetried = true
			p.auth.Invalidate(userID)
			p.metrics.RecordRetry(endpoint, "authentication")

		case apiErr.Kind == apierrors.KindRateLimit:
			if attempt >= p.cfg.MaxAttempts {
				return nil, apiErr
			}
			// Server-dictated wait; no exponential math.
			if err := sleep(ctx, apiErr.RetryAfter); err != nil {
				return nil, err
			}
			p.metrics.RecordRetry(endpoint, "rate_limit")
			attempt++

		case apiErr.Retryable():
			if attempt >= p.cfg.MaxAttempts {
				return nil, apiErr
			}
			if err := sleep(ctx, p.backoff(attempt)); err != nil {
				return nil, err
			}
			p.metrics.RecordRetry(endpoint, string(apiErr.Kind))
			attempt++

		default:
			return nil, apiErr
		}
	}
}

// backoff computes baseDelay × 2^(attempt−1) capped at MaxDelay.
func (p *Pipeline) backoff(attempt int) time.Duration {
	delay := p.cfg.BaseDelay << (attempt - 1)
	if delay > p.cfg.MaxDelay || delay <= 0 {
		delay = p.cfg.MaxDelay
	}
	return delay
}

// attempt performs exactly one network call and classifies its outcome.
func (p *Pipeline) attempt(ctx context.Context, token, method, endpoint string, params url.Values, body any) (json.RawMessage, error) {
	target := p.cfg.BaseURL + endpoint
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.AttemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, method, target, reqBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.transport.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			// The caller's context ended; surface that, not a retryable kind.
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, apierrors.Timeout(err)
		}
		return nil, apierrors.Transient(err)
	}
	defer resp.Body.Close()

	p.limiter.Observe(endpoint, resp.Header)

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, apierrors.Transient(fmt.Errorf("reading response body: %w", err))
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if len(raw) == 0 {
			return nil, nil
		}
		return json.RawMessage(raw), nil
	}

	return nil, apierrors.Classify(resp.StatusCode, providerMessage(raw), resp.Header)
}

// providerMessage extracts the message from Spotify's error envelope:
// {"error": {"status": 403, "message": "Premium required"}}.
// Falls back to a truncated raw body.
func providerMessage(raw []byte) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	const maxLen = 256
	if len(raw) > maxLen {
		raw = raw[:maxLen]
	}
	return string(raw)
}

func isTimeout(err error) bool {
	var timeoutErr interface{ Timeout() bool }
	return errors.As(err, &timeoutErr) && timeoutErr.Timeout()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
