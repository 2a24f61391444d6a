// Package errors provides the closed error taxonomy for the Spotify client.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"time"
)

// Sentinel errors for auth lifecycle failures.
var (
	// ErrRequiresAuthentication means no usable token exists and the caller
	// must run the authorization flow again.
	ErrRequiresAuthentication = errors.New("authentication required")
	// ErrSessionNotFound means a callback arrived with a state that was never
	// issued or has already expired.
	ErrSessionNotFound = errors.New("authorization session not found")
	// ErrAuthExchangeFailed means the provider rejected the code exchange.
	ErrAuthExchangeFailed = errors.New("authorization code exchange rejected")
)

// Kind discriminates API error classes. Exactly one kind per error.
type Kind string

const (
	KindAuthentication      Kind = "authentication"
	KindRateLimit           Kind = "rate_limit"
	KindPermission          Kind = "permission"
	KindResourceUnavailable Kind = "resource_unavailable"
	KindTransient           Kind = "transient"
	KindTimeout             Kind = "timeout"
	KindValidation          Kind = "validation"
	KindUnknown             Kind = "unknown"
)

// APIError represents a classified failure from the Spotify Web API.
type APIError struct {
	Kind       Kind
	StatusCode int
	Message    string        // sanitized, safe to surface
	RetryAfter time.Duration // only set for KindRateLimit
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("spotify API error (%s, status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("spotify API error (%s): %s", e.Kind, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// Retryable reports whether the pipeline may retry this error on its own.
func (e *APIError) Retryable() bool {
	switch e.Kind {
	case KindRateLimit, KindTransient, KindTimeout:
		return true
	}
	return false
}

// New creates an APIError with a sanitized message.
func New(kind Kind, statusCode int, message string) *APIError {
	return &APIError{Kind: kind, StatusCode: statusCode, Message: Redact(message)}
}

// Classify maps an HTTP status and provider message to exactly one kind.
// retryAfter is taken from the Retry-After header for 429 responses.
func Classify(statusCode int, message string, header http.Header) *APIError {
	apiErr := New(kindForStatus(statusCode, message), statusCode, message)
	if apiErr.Kind == KindRateLimit {
		if secs, err := strconv.Atoi(header.Get("Retry-After")); err == nil && secs >= 0 {
			apiErr.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return apiErr
}

func kindForStatus(statusCode int, message string) Kind {
	switch {
	case statusCode == http.StatusUnauthorized:
		return KindAuthentication
	case statusCode == http.StatusTooManyRequests:
		return KindRateLimit
	case statusCode == http.StatusForbidden:
		return KindPermission
	case statusCode == http.StatusNotFound && isDeviceUnavailable(message):
		return KindResourceUnavailable
	case statusCode == http.StatusBadRequest || statusCode == http.StatusUnprocessableEntity:
		return KindValidation
	case statusCode >= 500 && statusCode <= 599:
		return KindTransient
	case statusCode >= 400 && statusCode <= 499:
		return KindUnknown
	}
	return KindUnknown
}

// Spotify reports a missing playback target as 404 with this phrasing.
var deviceUnavailableRe = regexp.MustCompile(`(?i)no active device|device not found`)

func isDeviceUnavailable(message string) bool {
	return deviceUnavailableRe.MatchString(message)
}

// Timeout wraps a transport timeout as a retryable APIError.
func Timeout(err error) *APIError {
	return &APIError{Kind: KindTimeout, Message: "request timed out", Err: err}
}

// Transient wraps a transport-level failure (connection reset, DNS) as retryable.
func Transient(err error) *APIError {
	return &APIError{Kind: KindTransient, Message: "transient transport failure", Err: err}
}

// IsRetryable returns true if the error is worth retrying.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return false
}

// RetryAfter extracts the server-dictated wait from a rate-limit error.
// Returns false for every other error.
func RetryAfter(err error) (time.Duration, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Kind == KindRateLimit {
		return apiErr.RetryAfter, true
	}
	return 0, false
}

// Bearer tokens and query-string credentials must never reach logs or callers.
var (
	bearerRe = regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9\-._~+/]+=*`)
	credRe   = regexp.MustCompile(`(?i)(access_token|refresh_token|client_secret|code)=[^&\s"]+`)
)

// Redact strips token-shaped material from a provider message.
func Redact(message string) string {
	message = bearerRe.ReplaceAllString(message, "Bearer [redacted]")
	return credRe.ReplaceAllString(message, "$1=[redacted]")
}
