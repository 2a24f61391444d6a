// Package auth implements the OAuth2 authorization-code-with-PKCE lifecycle
// against the Spotify accounts service: authorization URLs, code exchange,
// and single-flight token refresh.
package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	apierrors "github.com/tonearm/spotikit/internal/errors"
	"github.com/tonearm/spotikit/pkg/tokenstore"
)

const (
	defaultSessionTTL      = 10 * time.Minute
	defaultExpirySkew      = 60 * time.Second
	maxPendingSessions     = 128
	defaultAccountsBaseURL = "https://accounts.spotify.com"
)

// HTTPClient abstracts HTTP calls for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds the OAuth client registration and endpoints.
type Config struct {
	ClientID     string
	ClientSecret string // empty for a public (PKCE-only) client
	RedirectURI  string
	Scopes       []string
	AuthorizeURL string // defaults to accounts.spotify.com/authorize
	TokenURL     string // defaults to accounts.spotify.com/api/token
	SessionTTL   time.Duration
	ExpirySkew   time.Duration
}

// Status describes where a user sits in the authorization state machine.
type Status string

const (
	StatusUnauthenticated      Status = "unauthenticated"
	StatusAuthorizationPending Status = "authorization_pending"
	StatusAuthenticated        Status = "authenticated"
	StatusNeedsRefresh         Status = "needs_refresh"
)

// Authorization is the result of BeginAuthorization.
type Authorization struct {
	// URL is the provider authorization URL the user must visit. Empty when
	// AlreadyAuthenticated is set.
	URL string
	// ExpiresAt is when the pending session stops accepting callbacks.
	ExpiresAt time.Time
	// AlreadyAuthenticated reports that a valid token already exists and no
	// new flow was started.
	AlreadyAuthenticated bool
}

// Flow owns the per-user token lifecycle. It references token records through
// the store but never owns them.
type Flow struct {
	cfg        Config
	store      tokenstore.Store
	httpClient HTTPClient
	sessions   *sessionStore
	logger     zerolog.Logger

	refreshGroup singleflight.Group

	// stale marks users whose cached token the server rejected mid-flight;
	// the next GetValidToken must refresh regardless of local expiry.
	staleMu sync.Mutex
	stale   map[string]struct{}
}

// NewFlow creates an auth flow. httpClient may be nil, in which case a
// 10-second-timeout client is used.
func NewFlow(cfg Config, store tokenstore.Store, httpClient HTTPClient, logger zerolog.Logger) *Flow {
	if cfg.AuthorizeURL == "" {
		cfg.AuthorizeURL = defaultAccountsBaseURL + "/authorize"
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultAccountsBaseURL + "/api/token"
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaultSessionTTL
	}
	if cfg.ExpirySkew <= 0 {
		cfg.ExpirySkew = defaultExpirySkew
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Flow{
		cfg:        cfg,
		store:      store,
		httpClient: httpClient,
		sessions:   newSessionStore(maxPendingSessions, cfg.SessionTTL),
		logger:     logger.With().Str("component", "auth").Logger(),
		stale:      make(map[string]struct{}),
	}
}

// BeginAuthorization mints a PKCE session and returns the authorization URL
// for the user to visit. Re-entrant: if the user already holds a valid token
// it reports AlreadyAuthenticated instead of starting a new flow.
func (f *Flow) BeginAuthorization(ctx context.Context, userID string) (*Authorization, error) {
	rec, err := f.store.Load(ctx, userID)
	if err == nil && !rec.ExpiresWithin(f.cfg.ExpirySkew) && !f.isStale(userID) {
		return &Authorization{AlreadyAuthenticated: true}, nil
	}
	if err != nil && err != tokenstore.ErrNotFound {
		return nil, fmt.Errorf("loading token record: %w", err)
	}

	verifier, err := GenerateVerifier()
	if err != nil {
		return nil, err
	}
	sess := &Session{
		State:     uuid.NewString(),
		UserID:    userID,
		Verifier:  verifier,
		Challenge: Challenge(verifier),
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(f.cfg.SessionTTL),
	}
	f.sessions.put(sess)

	q := url.Values{}
	q.Set("client_id", f.cfg.ClientID)
	q.Set("response_type", "code")
	q.Set("redirect_uri", f.cfg.RedirectURI)
	q.Set("state", sess.State)
	q.Set("code_challenge_method", "S256")
	q.Set("code_challenge", sess.Challenge)
	if len(f.cfg.Scopes) > 0 {
		q.Set("scope", strings.Join(f.cfg.Scopes, " "))
	}

	f.logger.Info().Str("user_id", userID).Time("session_expires", sess.ExpiresAt).Msg("authorization flow started")
	return &Authorization{
		URL:       f.cfg.AuthorizeURL + "?" + q.Encode(),
		ExpiresAt: sess.ExpiresAt,
	}, nil
}

// CompleteAuthorization consumes the session matching state and exchanges the
// authorization code for tokens. Unknown or expired state fails with
// ErrSessionNotFound; a provider rejection fails with ErrAuthExchangeFailed.
func (f *Flow) CompleteAuthorization(ctx context.Context, state, code string) (*tokenstore.Record, error) {
	sess, ok := f.sessions.consume(state)
	if !ok {
		return nil, apierrors.ErrSessionNotFound
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", f.cfg.RedirectURI)
	form.Set("client_id", f.cfg.ClientID)
	form.Set("code_verifier", sess.Verifier)

	tok, err := f.tokenRequest(ctx, form)
	if err != nil {
		f.logger.Warn().Str("user_id", sess.UserID).Err(err).Msg("code exchange rejected")
		return nil, fmt.Errorf("%w: %v", apierrors.ErrAuthExchangeFailed, err)
	}

	rec := recordFromResponse(tok, "")
	if err := f.store.Save(ctx, sess.UserID, rec); err != nil {
		return nil, fmt.Errorf("persisting token record: %w", err)
	}
	f.clearStale(sess.UserID)
	f.logger.Info().Str("user_id", sess.UserID).Time("expires_at", rec.ExpiresAt).Msg("authorization complete")
	return rec, nil
}

// GetValidToken returns a bearer token for the user, refreshing it first if
// it is expired or about to expire. Concurrent callers for the same user
// share a single refresh exchange.
func (f *Flow) GetValidToken(ctx context.Context, userID string) (string, error) {
	rec, err := f.store.Load(ctx, userID)
	if err == tokenstore.ErrNotFound {
		return "", apierrors.ErrRequiresAuthentication
	}
	if err != nil {
		return "", fmt.Errorf("loading token record: %w", err)
	}
	if !rec.ExpiresWithin(f.cfg.ExpirySkew) && !f.isStale(userID) {
		return rec.AccessToken, nil
	}

	token, err, _ := f.refreshGroup.Do(userID, func() (interface{}, error) {
		return f.refresh(ctx, userID)
	})
	if err != nil {
		return "", err
	}
	return token.(string), nil
}

// refresh performs the refresh exchange. It runs inside the singleflight
// group, so at most one exchange is in flight per user id.
func (f *Flow) refresh(ctx context.Context, userID string) (string, error) {
	// Re-check under the flight: a caller that queued behind the winning
	// refresh finds a fresh record here and returns it without a second
	// network exchange.
	rec, err := f.store.Load(ctx, userID)
	if err == tokenstore.ErrNotFound {
		return "", apierrors.ErrRequiresAuthentication
	}
	if err != nil {
		return "", fmt.Errorf("loading token record: %w", err)
	}
	if !rec.ExpiresWithin(f.cfg.ExpirySkew) && !f.isStale(userID) {
		return rec.AccessToken, nil
	}
	if rec.RefreshToken == "" {
		_ = f.store.Delete(ctx, userID)
		return "", apierrors.ErrRequiresAuthentication
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", rec.RefreshToken)
	form.Set("client_id", f.cfg.ClientID)

	tok, err := f.tokenRequest(ctx, form)
	if err != nil {
		if rejected(err) {
			// The provider refused the refresh token; the record is dead and
			// the user must authorize again.
			_ = f.store.Delete(ctx, userID)
			f.logger.Warn().Str("user_id", userID).Err(err).Msg("refresh rejected, record deleted")
			return "", apierrors.ErrRequiresAuthentication
		}
		return "", err
	}

	updated := recordFromResponse(tok, rec.RefreshToken)
	if err := f.store.Save(ctx, userID, updated); err != nil {
		return "", fmt.Errorf("persisting refreshed record: %w", err)
	}
	f.clearStale(userID)
	f.logger.Debug().Str("user_id", userID).Time("expires_at", updated.ExpiresAt).Msg("token refreshed")
	return updated.AccessToken, nil
}

// Invalidate marks the user's cached token stale after a server-side 401 so
// the next GetValidToken refreshes regardless of local expiry.
func (f *Flow) Invalidate(userID string) {
	f.staleMu.Lock()
	f.stale[userID] = struct{}{}
	f.staleMu.Unlock()
}

// Revoke deletes the user's token record. Idempotent.
func (f *Flow) Revoke(ctx context.Context, userID string) error {
	f.clearStale(userID)
	if err := f.store.Delete(ctx, userID); err != nil {
		return fmt.Errorf("deleting token record: %w", err)
	}
	f.logger.Info().Str("user_id", userID).Msg("token record revoked")
	return nil
}

// Status reports the user's position in the authorization state machine.
func (f *Flow) Status(ctx context.Context, userID string) (Status, error) {
	rec, err := f.store.Load(ctx, userID)
	if err == tokenstore.ErrNotFound {
		if f.sessions.pendingFor(userID) {
			return StatusAuthorizationPending, nil
		}
		return StatusUnauthenticated, nil
	}
	if err != nil {
		return StatusUnauthenticated, fmt.Errorf("loading token record: %w", err)
	}
	if rec.ExpiresWithin(f.cfg.ExpirySkew) || f.isStale(userID) {
		return StatusNeedsRefresh, nil
	}
	return StatusAuthenticated, nil
}

func (f *Flow) isStale(userID string) bool {
	f.staleMu.Lock()
	defer f.staleMu.Unlock()
	_, ok := f.stale[userID]
	return ok
}

func (f *Flow) clearStale(userID string) {
	f.staleMu.Lock()
	delete(f.stale, userID)
	f.staleMu.Unlock()
}

// tokenResponse mirrors the accounts service token endpoint payload.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// rejectionError marks a definitive provider refusal (4xx) as opposed to a
// transient failure.
type rejectionError struct {
	statusCode int
	body       string
}

func (e *rejectionError) Error() string {
	return fmt.Sprintf("token endpoint rejected request (status %d): %s", e.statusCode, apierrors.Redact(e.body))
}

func rejected(err error) bool {
	var rej *rejectionError
	return errors.As(err, &rej)
}

// tokenRequest posts a form to the token endpoint and decodes the response.
func (f *Flow) tokenRequest(ctx context.Context, form url.Values) (*tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("creating token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if f.cfg.ClientSecret != "" {
		cred := base64.StdEncoding.EncodeToString([]byte(f.cfg.ClientID + ":" + f.cfg.ClientSecret))
		req.Header.Set("Authorization", "Basic "+cred)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling token endpoint: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading token response: %w", err)
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, &rejectionError{statusCode: resp.StatusCode, body: string(body)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, fmt.Errorf("decoding token response: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("token response missing access_token")
	}
	return &tok, nil
}

// recordFromResponse builds a durable record. The provider may omit the
// refresh token on refresh responses, preserving the original; fall back to
// the one we already hold.
func recordFromResponse(tok *tokenResponse, previousRefreshToken string) *tokenstore.Record {
	refreshToken := tok.RefreshToken
	if refreshToken == "" {
		refreshToken = previousRefreshToken
	}
	var scopes []string
	if tok.Scope != "" {
		scopes = strings.Fields(tok.Scope)
	}
	return &tokenstore.Record{
		AccessToken:  tok.AccessToken,
		RefreshToken: refreshToken,
		Scopes:       scopes,
		ExpiresAt:    time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second),
	}
}
