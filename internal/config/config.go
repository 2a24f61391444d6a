// Package config loads client configuration from environment variables and
// an optional YAML file of per-endpoint rate-limit overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/tonearm/spotikit/internal/ratelimit"
)

// Config holds all client configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	MetricsAddr string `envconfig:"METRICS_ADDR"` // empty = metrics endpoint disabled

	// Spotify app registration
	SpotifyClientID     string `envconfig:"SPOTIFY_CLIENT_ID" required:"true"`
	SpotifyClientSecret string `envconfig:"SPOTIFY_CLIENT_SECRET"` // empty for a public (PKCE-only) client
	RedirectURI         string `envconfig:"SPOTIFY_REDIRECT_URI" default:"http://127.0.0.1:8898/callback"`
	CallbackAddr        string `envconfig:"CALLBACK_ADDR" default:"127.0.0.1:8898"`
	Scopes              string `envconfig:"SPOTIFY_SCOPES" default:"user-read-private,user-read-playback-state,user-modify-playback-state"`

	// Provider endpoints (overridable for tests and mock servers)
	APIBaseURL   string `envconfig:"SPOTIFY_API_BASE_URL" default:"https://api.spotify.com"`
	AuthorizeURL string `envconfig:"SPOTIFY_AUTHORIZE_URL" default:"https://accounts.spotify.com/authorize"`
	TokenURL     string `envconfig:"SPOTIFY_TOKEN_URL" default:"https://accounts.spotify.com/api/token"`

	// Token lifecycle
	TokenStorePath string        `envconfig:"TOKEN_STORE_PATH"` // empty = in-memory
	SessionTTL     time.Duration `envconfig:"SESSION_TTL" default:"10m"`
	TokenSkew      time.Duration `envconfig:"TOKEN_EXPIRY_SKEW" default:"60s"`

	// Pipeline
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"10s"`
	MaxAttempts    int           `envconfig:"MAX_ATTEMPTS" default:"3"`
	BaseDelay      time.Duration `envconfig:"RETRY_BASE_DELAY" default:"1s"`
	MaxDelay       time.Duration `envconfig:"RETRY_MAX_DELAY" default:"30s"`

	// Rate limiting (Spotify's documented default window)
	RateLimitCapacity  int           `envconfig:"RATE_LIMIT_CAPACITY" default:"180"`
	RateLimitInterval  time.Duration `envconfig:"RATE_LIMIT_INTERVAL" default:"30s"`
	EndpointLimitsPath string        `envconfig:"ENDPOINT_LIMITS_PATH"` // optional YAML file
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &cfg, nil
}

// ScopeList returns the parsed list of requested OAuth scopes.
func (c *Config) ScopeList() []string {
	parts := strings.Split(c.Scopes, ",")
	scopes := make([]string, 0, len(parts))
	for _, s := range parts {
		s = strings.TrimSpace(s)
		if s != "" {
			scopes = append(scopes, s)
		}
	}
	return scopes
}

// DefaultLimit returns the limiter's default bucket budget.
func (c *Config) DefaultLimit() ratelimit.Limit {
	return ratelimit.Limit{Capacity: c.RateLimitCapacity, Interval: c.RateLimitInterval}
}

// endpointLimitsFile is the YAML shape for per-endpoint overrides:
//
//	endpoints:
//	  /v1/search:
//	    capacity: 30
//	    interval: 30s
type endpointLimitsFile struct {
	Endpoints map[string]struct {
		Capacity int    `yaml:"capacity"`
		Interval string `yaml:"interval"`
	} `yaml:"endpoints"`
}

// EndpointLimits loads per-endpoint bucket overrides keyed by normalized
// endpoint pattern. Returns nil when no file is configured.
func (c *Config) EndpointLimits() (map[string]ratelimit.Limit, error) {
	if c.EndpointLimitsPath == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(c.EndpointLimitsPath)
	if err != nil {
		return nil, fmt.Errorf("reading endpoint limits: %w", err)
	}
	var file endpointLimitsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parsing endpoint limits: %w", err)
	}

	limits := make(map[string]ratelimit.Limit, len(file.Endpoints))
	for pattern, entry := range file.Endpoints {
		if entry.Capacity <= 0 {
			return nil, fmt.Errorf("endpoint %q: capacity must be positive", pattern)
		}
		limit := ratelimit.Limit{Capacity: entry.Capacity, Interval: c.RateLimitInterval}
		if entry.Interval != "" {
			interval, err := time.ParseDuration(entry.Interval)
			if err != nil {
				return nil, fmt.Errorf("endpoint %q: invalid interval: %w", pattern, err)
			}
			limit.Interval = interval
		}
		limits[pattern] = limit
	}
	return limits, nil
}
