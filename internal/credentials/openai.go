package credentials

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// codexAuth matches the structure of ~/.codex/auth.json
type codexAuth struct {
	OpenAIAPIKey *string      `json:"OPENAI_API_KEY,omitempty"`
	Tokens       *codexTokens `json:"tokens,omitempty"`
	LastRefresh  string       `json:"last_refresh,omitempty"`
}

type codexTokens struct {
	AccessToken string  `json:"access_token"`
	AccountID   *string `json:"account_id,omitempty"`
}

// OpenAICredentials is either a static API key or an OAuth bearer token
// from the Codex CLI login.
type OpenAICredentials struct {
	APIKey string
	Bearer *BearerToken
}

func codexAuthPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".codex", "auth.json"), nil
}

// GetOpenAICredentials resolves OpenAI credentials: the OPENAI_API_KEY
// environment variable first, then the Codex CLI auth file, preferring
// its OAuth token (which carries the account id for the backend API)
// over its stored API key.
func GetOpenAICredentials() (*OpenAICredentials, error) {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		return &OpenAICredentials{APIKey: key}, nil
	}

	path, err := codexAuthPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w (set OPENAI_API_KEY or run 'codex login')", path, err)
	}

	var auth codexAuth
	if err := json.Unmarshal(data, &auth); err != nil {
		return nil, fmt.Errorf("parse codex credentials: %w", err)
	}

	if auth.Tokens != nil && auth.Tokens.AccessToken != "" {
		bearer := &BearerToken{Token: auth.Tokens.AccessToken}
		if auth.Tokens.AccountID != nil {
			bearer.AccountID = *auth.Tokens.AccountID
		}
		if auth.LastRefresh != "" {
			// Codex tokens last about a day after their last refresh.
			if t, err := time.Parse(time.RFC3339, auth.LastRefresh); err == nil {
				bearer.Expiry = t.Add(24 * time.Hour)
			}
		}
		return &OpenAICredentials{Bearer: bearer}, nil
	}

	if auth.OpenAIAPIKey != nil && *auth.OpenAIAPIKey != "" {
		return &OpenAICredentials{APIKey: *auth.OpenAIAPIKey}, nil
	}

	return nil, fmt.Errorf("no credentials in %s (run 'codex login')", path)
}
