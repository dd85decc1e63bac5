package credentials

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// AnthropicOAuthCredentials is the OAuth token saved after an
// interactive `claude setup-token` exchange.
type AnthropicOAuthCredentials struct {
	AccessToken string `json:"access_token"`
}

func anthropicOAuthPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "anthropic_oauth.json"), nil
}

// GetAnthropicOAuthCredentials loads the saved OAuth token, if any.
func GetAnthropicOAuthCredentials() (*AnthropicOAuthCredentials, error) {
	path, err := anthropicOAuthPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var creds AnthropicOAuthCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parse anthropic credentials: %w", err)
	}
	if creds.AccessToken == "" {
		return nil, fmt.Errorf("no access token in %s", path)
	}
	return &creds, nil
}

// SaveAnthropicOAuthCredentials persists a validated OAuth token with
// owner-only permissions.
func SaveAnthropicOAuthCredentials(creds *AnthropicOAuthCredentials) error {
	path, err := anthropicOAuthPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
