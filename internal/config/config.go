// Package config loads process-level settings from the environment.
//
// Sync pipeline tuning lives in roadsync.LoadConfigFromEnv; this package only
// covers what main needs to start the server.
package config

import (
	"errors"
	"os"
	"strings"
)

var (
	ErrMissingDatabaseURL = errors.New("DATABASE_URL environment variable is required")
	ErrMissingAdminToken  = errors.New("ROADSYNC_ADMIN_TOKEN_HASH must be a bcrypt hash")
)

// DefaultPort is used when PORT is unset.
const DefaultPort = "5050"

// Config holds server configuration.
type Config struct {
	DatabaseURL string
	Port        string

	// AllowedOrigins is the CORS allow-list.
	AllowedOrigins []string

	// AdminTokenHash is a bcrypt hash of the token required on mutating
	// routes. Empty disables the mutating routes entirely.
	AdminTokenHash string
}

// LoadFromEnv reads the server configuration.
//
// Environment variables:
//   - DATABASE_URL: Postgres DSN (required)
//   - PORT: listen port (default: 5050)
//   - CORS_ALLOWED_ORIGINS: comma-separated origins
//   - ROADSYNC_ADMIN_TOKEN_HASH: bcrypt hash of the admin token
func LoadFromEnv() Config {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = DefaultPort
	}

	return Config{
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		Port:           port,
		AllowedOrigins: SplitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
		AdminTokenHash: strings.TrimSpace(os.Getenv("ROADSYNC_ADMIN_TOKEN_HASH")),
	}
}

// Validate checks required settings.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return ErrMissingDatabaseURL
	}
	if c.AdminTokenHash != "" && !strings.HasPrefix(c.AdminTokenHash, "$2") {
		return ErrMissingAdminToken
	}
	return nil
}

// SplitList splits a comma-separated value, dropping blanks.
func SplitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
