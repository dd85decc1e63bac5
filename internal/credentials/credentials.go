// Package credentials resolves API keys and OAuth bearer tokens from
// the environment and the on-disk credential stores of the official
// provider CLIs. Nothing here talks to the network; expired tokens are
// reported to the caller with guidance to re-run the owning CLI's
// login flow.
package credentials

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// expiryBuffer treats tokens expiring within this window as already
// expired, so a stream never starts with a token about to lapse.
const expiryBuffer = 5 * time.Minute

// BearerToken is an OAuth access token plus the metadata needed to use
// it and detect its expiry.
type BearerToken struct {
	Token     string
	AccountID string
	Expiry    time.Time
}

// Expired reports whether the token is past (or within the buffer of)
// its expiry. Tokens without a known expiry never report expired.
func (t BearerToken) Expired() bool {
	if t.Expiry.IsZero() {
		return false
	}
	return time.Now().After(t.Expiry.Add(-expiryBuffer))
}

// ConfigDir returns the directory used for credentials saved by this
// tool, honoring XDG_CONFIG_HOME.
func ConfigDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "agentloop"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".config", "agentloop"), nil
}
