package source

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Defaults applied by LoadFromEnv.
const (
	DefaultSource      = "overpass"
	DefaultOverpassURL = "https://overpass-api.de/api/interpreter"
	DefaultUserAgent   = "eventflow-roadsync/1.0"
	DefaultMinInterval = 1000 * time.Millisecond
	DefaultTimeout     = 60 * time.Second
	DefaultMaxRetries  = 3
	DefaultBaseBackoff = 2 * time.Second
)

// Config holds configuration for the external way source.
type Config struct {
	// Source is the registered source name (default: "overpass").
	Source string

	BaseURL   string
	UserAgent string

	// MinInterval is the minimum gap between any two dispatched requests.
	MinInterval time.Duration

	// Timeout bounds a single request, including the server-side query.
	Timeout time.Duration

	// MaxRetries is the attempt ceiling per cell, first attempt included.
	MaxRetries int

	// BaseBackoff is multiplied by the attempt number before each retry.
	BaseBackoff time.Duration
}

// LoadFromEnv loads source configuration from environment variables.
//
// Environment variables:
//   - ROADSYNC_SOURCE: registered source name (default: overpass)
//   - OVERPASS_URL: interpreter endpoint
//   - OVERPASS_USER_AGENT: User-Agent header sent on every request
//   - OVERPASS_MIN_INTERVAL_MS: minimum inter-request gap (default: 1000)
//   - OVERPASS_TIMEOUT_MS: request timeout (default: 60000)
//   - OVERPASS_MAX_RETRIES: attempts per cell (default: 3)
//   - OVERPASS_BACKOFF_MS: base backoff (default: 2000)
func LoadFromEnv() Config {
	src := strings.ToLower(strings.TrimSpace(os.Getenv("ROADSYNC_SOURCE")))
	if src == "" {
		src = DefaultSource
	}

	return Config{
		Source:      src,
		BaseURL:     envString("OVERPASS_URL", DefaultOverpassURL),
		UserAgent:   envString("OVERPASS_USER_AGENT", DefaultUserAgent),
		MinInterval: envMillis("OVERPASS_MIN_INTERVAL_MS", DefaultMinInterval),
		Timeout:     envMillis("OVERPASS_TIMEOUT_MS", DefaultTimeout),
		MaxRetries:  envInt("OVERPASS_MAX_RETRIES", DefaultMaxRetries),
		BaseBackoff: envMillis("OVERPASS_BACKOFF_MS", DefaultBaseBackoff),
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return ErrMissingURL
	}
	if c.MaxRetries < 1 {
		return ErrBadRetries
	}
	return nil
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return def
	}
	return v
}

func envMillis(key string, def time.Duration) time.Duration {
	v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil || v < 0 {
		return def
	}
	return time.Duration(v) * time.Millisecond
}
