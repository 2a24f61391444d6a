// Package tokenstore persists OAuth token records keyed by user id.
package tokenstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no record exists for a user id.
var ErrNotFound = errors.New("token record not found")

// Record holds the durable token state for one user.
type Record struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Scopes       []string  `json:"scopes,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// ExpiresWithin reports whether the access token expires before now+margin.
// An expired record is not invalid; it just needs a refresh.
func (r *Record) ExpiresWithin(margin time.Duration) bool {
	return !time.Now().Add(margin).Before(r.ExpiresAt)
}

// Store is the persistence contract for token records. Implementations must
// be safe for concurrent access per user id.
type Store interface {
	// Load retrieves the record for a user. Returns ErrNotFound if absent.
	Load(ctx context.Context, userID string) (*Record, error)
	// Save writes or replaces the record for a user.
	Save(ctx context.Context, userID string, rec *Record) error
	// Delete removes the record for a user. Deleting an absent record is not
	// an error.
	Delete(ctx context.Context, userID string) error
}
