// Package config loads WorkRail's process-wide configuration: the data
// directory root and logging level, read once at startup and passed
// into every component as an explicit value (spec.md §9's "no global
// singletons" note), matching the teacher's internal/config pattern of
// resolving a default under the user's home directory.
package config

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
)

const dataDirEnvVar = "WORKRAIL_DATA_DIR"

// Config is the resolved, explicit configuration every component needs.
type Config struct {
	// DataDir is the root of the durable data directory: <dir>/sessions,
	// <dir>/snapshots, <dir>/workflows, <dir>/resume_index.db.
	DataDir string

	// LogLevel controls internal/config.NewLogger's verbosity (debug,
	// info, warn, error).
	LogLevel string
}

// Load resolves Config from the environment. WORKRAIL_DATA_DIR overrides
// the default of ~/.workrail. LogLevel defaults to "info".
func Load() (*Config, error) {
	dataDir := os.Getenv(dataDirEnvVar)
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve default data directory: %w", err)
		}
		dataDir = filepath.Join(home, ".workrail")
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dataDir, err)
	}

	logLevel := os.Getenv("WORKRAIL_LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}

	return &Config{DataDir: dataDir, LogLevel: logLevel}, nil
}

// WorkflowsDir is the fixed subpath the catalog loader reads workflow
// definitions from. sessionlog.Store and snapshotstore.Store take
// DataDir directly and own their own "sessions"/"snapshots" subpaths.
func (c *Config) WorkflowsDir() string { return filepath.Join(c.DataDir, "workflows") }

const tokenSecretEnvVar = "WORKRAIL_TOKEN_SECRET"

// tokenSecretBytes is the generated secret's length: long enough that
// token.Codec's "at least 32 bytes" guidance is met with margin.
const tokenSecretBytes = 32

// TokenSecret resolves the HMAC key internal/token.Codec signs and
// verifies tokens with. WORKRAIL_TOKEN_SECRET (base64-encoded) overrides;
// otherwise a secret is generated once and persisted under DataDir so
// tokens minted by one process remain valid across restarts. There is no
// teacher or pack precedent for this exact concern (the teacher has no
// signed-token layer), so this is a minimal stdlib primitive
// (crypto/rand) rather than a borrowed pattern — documented in
// DESIGN.md.
func (c *Config) TokenSecret() ([]byte, error) {
	if encoded := os.Getenv(tokenSecretEnvVar); encoded != "" {
		secret, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", tokenSecretEnvVar, err)
		}
		return secret, nil
	}

	path := filepath.Join(c.DataDir, "token_secret")
	if data, err := os.ReadFile(path); err == nil {
		secret, err := base64.StdEncoding.DecodeString(string(data))
		if err != nil {
			return nil, fmt.Errorf("corrupt token secret at %s: %w", path, err)
		}
		return secret, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read token secret %s: %w", path, err)
	}

	secret := make([]byte, tokenSecretBytes)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate token secret: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(secret)
	if err := os.WriteFile(path, []byte(encoded), 0o600); err != nil {
		return nil, fmt.Errorf("failed to persist token secret %s: %w", path, err)
	}
	return secret, nil
}
