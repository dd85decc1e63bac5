package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrDisabled is returned by lookups when session persistence is off.
var ErrDisabled = errors.New("session persistence disabled")

// Store is the interface for session persistence.
type Store interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, limit int) ([]Summary, error)

	AddMessage(ctx context.Context, sessionID string, msg *Message) error
	GetMessages(ctx context.Context, sessionID string) ([]Message, error)

	// UpdateMetrics accumulates turn counters onto the session row.
	UpdateMetrics(ctx context.Context, id string, rounds, toolCalls, inputTokens, outputTokens int) error

	Close() error
}

// Config holds session storage configuration.
type Config struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"` // defaults to <data dir>/sessions.db
}

// DataDir returns the XDG data directory for agentloop.
func DataDir() (string, error) {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "agentloop"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "agentloop"), nil
}

// NewStore creates a Store from configuration; a no-op store when
// sessions are disabled.
func NewStore(cfg Config) (Store, error) {
	if !cfg.Enabled {
		return &NoopStore{}, nil
	}
	path := cfg.Path
	if path == "" {
		dataDir, err := DataDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(dataDir, "sessions.db")
	}
	return NewSQLiteStore(path)
}
