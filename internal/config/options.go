// Package config holds the caller-facing configuration surface: upload
// options with defaults, and environment-derived endpoint settings.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/cloudpin/resumable/internal/retry"
)

// DefaultChunkSize is the maximum bytes sent per chunk request when the
// caller does not override it. One byte over 50 MiB so a file of
// exactly 50 MiB still fits a single chunk.
const DefaultChunkSize = 50*1024*1024 + 1

// Environment variable names consulted by LoadSettings.
const (
	EnvEndpoint = "CLOUDPIN_ENDPOINT"
	EnvToken    = "CLOUDPIN_TOKEN"
)

// UploadOptions is the per-session configuration supplied by the caller.
// Zero values are filled with defaults by Normalize before session start.
type UploadOptions struct {
	// Name is the display name sent as filename metadata. Defaults to
	// the source file's base name for file-backed sources.
	Name string
	// Network selects remote visibility: "public" or "private".
	Network string
	// GroupID optionally assigns the object to a server-side group.
	GroupID string
	// KeyValues are free-form metadata tags attached to the object.
	KeyValues map[string]string
	// CustomHeaders are sent on every request and override defaults.
	CustomHeaders map[string]string
	// ChunkSize is the maximum bytes per chunk request.
	ChunkSize int64
	// Retry configures the per-request backoff policy.
	Retry retry.Config
}

// Normalize fills zero-valued fields with defaults and clamps the retry
// policy. Returns a copy; the caller's options are never mutated after
// session start.
func (o UploadOptions) Normalize() UploadOptions {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.Network == "" {
		o.Network = "public"
	}
	o.Retry = o.Retry.Normalized()
	return o
}

// Validate rejects option combinations that can never produce a valid
// session. Called after Normalize.
func (o UploadOptions) Validate() error {
	if o.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", o.ChunkSize)
	}
	if o.Network != "public" && o.Network != "private" {
		return fmt.Errorf("network must be public or private, got %q", o.Network)
	}
	return nil
}

// Settings carries the remote endpoint and credentials, resolved from
// the environment.
type Settings struct {
	Endpoint  string
	AuthToken string
}

// LoadSettings resolves endpoint settings from the process environment,
// optionally loading an env file first. A missing env file is only an
// error when the caller named one explicitly; the default ".env" is
// best-effort.
func LoadSettings(envFile string) (Settings, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return Settings{}, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	} else {
		_ = godotenv.Load()
	}

	return Settings{
		Endpoint:  os.Getenv(EnvEndpoint),
		AuthToken: os.Getenv(EnvToken),
	}, nil
}
