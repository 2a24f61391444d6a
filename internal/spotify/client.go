// Package spotify exposes named Web API operations as thin wrappers over the
// request pipeline. Each wrapper only supplies the fixed method, path, and
// parameter shape of one remote operation.
package spotify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Executor is the single pipeline primitive every operation goes through.
type Executor interface {
	Execute(ctx context.Context, userID, method, endpoint string, params url.Values, body any) (json.RawMessage, error)
}

// Client binds a user id to the pipeline.
type Client struct {
	exec   Executor
	userID string
}

// NewClient creates a client acting on behalf of one user.
func NewClient(exec Executor, userID string) *Client {
	return &Client{exec: exec, userID: userID}
}

// Profile is the subset of the current-user payload callers usually need.
type Profile struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Product     string `json:"product"`
	Country     string `json:"country"`
}

// CurrentUserProfile fetches the authenticated user's profile.
func (c *Client) CurrentUserProfile(ctx context.Context) (*Profile, error) {
	raw, err := c.exec.Execute(ctx, c.userID, http.MethodGet, "/v1/me", nil, nil)
	if err != nil {
		return nil, err
	}
	var profile Profile
	if err := json.Unmarshal(raw, &profile); err != nil {
		return nil, fmt.Errorf("decoding profile: %w", err)
	}
	return &profile, nil
}

// Search queries the catalog. types are Spotify item types ("track",
// "artist", ...); limit <= 0 uses the provider default.
func (c *Client) Search(ctx context.Context, query string, types []string, limit int) (json.RawMessage, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("type", strings.Join(types, ","))
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	return c.exec.Execute(ctx, c.userID, http.MethodGet, "/v1/search", params, nil)
}

// AudioFeatures fetches the audio analysis summary for one track.
func (c *Client) AudioFeatures(ctx context.Context, trackID string) (json.RawMessage, error) {
	return c.exec.Execute(ctx, c.userID, http.MethodGet, "/v1/audio-features/"+trackID, nil, nil)
}

// StartPlayback starts or resumes playback, optionally on a specific device
// and with specific track URIs.
func (c *Client) StartPlayback(ctx context.Context, deviceID string, uris []string) error {
	params := url.Values{}
	if deviceID != "" {
		params.Set("device_id", deviceID)
	}
	var body any
	if len(uris) > 0 {
		body = map[string]any{"uris": uris}
	}
	_, err := c.exec.Execute(ctx, c.userID, http.MethodPut, "/v1/me/player/play", params, body)
	return err
}

// PausePlayback pauses the active device.
func (c *Client) PausePlayback(ctx context.Context) error {
	_, err := c.exec.Execute(ctx, c.userID, http.MethodPut, "/v1/me/player/pause", nil, nil)
	return err
}

// CurrentlyPlaying returns the currently playing item, or nil when nothing
// is playing (the provider answers 204).
func (c *Client) CurrentlyPlaying(ctx context.Context) (json.RawMessage, error) {
	return c.exec.Execute(ctx, c.userID, http.MethodGet, "/v1/me/player/currently-playing", nil, nil)
}
