package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SPOTIFY_CLIENT_ID", "client-123")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "client-123", cfg.SpotifyClientID)
	assert.Equal(t, "http://127.0.0.1:8898/callback", cfg.RedirectURI)
	assert.Equal(t, "https://api.spotify.com", cfg.APIBaseURL)
	assert.Equal(t, 180, cfg.RateLimitCapacity)
	assert.Equal(t, 30*time.Second, cfg.RateLimitInterval)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 10*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 60*time.Second, cfg.TokenSkew)
}

func TestLoad_MissingClientID(t *testing.T) {
	t.Setenv("SPOTIFY_CLIENT_ID", "")
	_, err := Load()
	assert.Error(t, err)
}

func TestScopeList(t *testing.T) {
	cfg := &Config{Scopes: "user-read-private, user-modify-playback-state ,,"}
	assert.Equal(t, []string{"user-read-private", "user-modify-playback-state"}, cfg.ScopeList())
}

func TestEndpointLimits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "limits.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
endpoints:
  /v1/search:
    capacity: 30
    interval: 10s
  /v1/me/player/{id}:
    capacity: 5
`), 0o600))

	cfg := &Config{EndpointLimitsPath: path, RateLimitInterval: 30 * time.Second}
	limits, err := cfg.EndpointLimits()
	require.NoError(t, err)

	assert.Equal(t, 30, limits["/v1/search"].Capacity)
	assert.Equal(t, 10*time.Second, limits["/v1/search"].Interval)
	// Interval falls back to the global default when omitted.
	assert.Equal(t, 5, limits["/v1/me/player/{id}"].Capacity)
	assert.Equal(t, 30*time.Second, limits["/v1/me/player/{id}"].Interval)
}

func TestEndpointLimits_InvalidCapacity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "limits.yaml")
	require.NoError(t, os.WriteFile(path, []byte("endpoints:\n  /v1/search:\n    capacity: 0\n"), 0o600))

	cfg := &Config{EndpointLimitsPath: path, RateLimitInterval: 30 * time.Second}
	_, err := cfg.EndpointLimits()
	assert.Error(t, err)
}

func TestEndpointLimits_NoFile(t *testing.T) {
	cfg := &Config{}
	limits, err := cfg.EndpointLimits()
	require.NoError(t, err)
	assert.Nil(t, limits)
}
