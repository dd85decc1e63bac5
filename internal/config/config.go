// Package config loads agentloop configuration from
// ~/.config/agentloop/config.yaml with environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/agentloop-dev/agentloop/internal/session"
)

type Config struct {
	Provider string     `mapstructure:"provider"`
	Turn     TurnConfig `mapstructure:"turn"`

	Anthropic ProviderConfig `mapstructure:"anthropic"`
	OpenAI    ProviderConfig `mapstructure:"openai"`
	Gemini    ProviderConfig `mapstructure:"gemini"`

	Sessions session.Config `mapstructure:"sessions"`
	Usage    UsageConfig    `mapstructure:"usage"`
}

// TurnConfig bounds the agent loop.
type TurnConfig struct {
	MaxRounds    int           `mapstructure:"max_rounds"`
	RoundTimeout time.Duration `mapstructure:"round_timeout"`
	ToolTimeout  time.Duration `mapstructure:"tool_timeout"`
}

type ProviderConfig struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
}

// UsageConfig controls the token usage log.
type UsageConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"` // defaults to <data dir>/usage.jsonl
}

func configDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "agentloop"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "agentloop"), nil
}

// Load reads configuration from disk and the AGENTLOOP_* environment.
// A missing config file is not an error; defaults apply.
func Load() (*Config, error) {
	dir, err := configDir()
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	v.AddConfigPath(".")

	v.SetEnvPrefix("AGENTLOOP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("provider", "anthropic")
	v.SetDefault("turn.max_rounds", 8)
	v.SetDefault("turn.round_timeout", "5m")
	v.SetDefault("turn.tool_timeout", "2m")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5")
	v.SetDefault("openai.model", "gpt-5.2")
	v.SetDefault("gemini.model", "gemini-2.5-flash")
	v.SetDefault("sessions.enabled", true)
	v.SetDefault("usage.enabled", true)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// ProviderSettingsFor returns the config block for the named provider.
func (c *Config) ProviderSettingsFor(name string) (ProviderConfig, error) {
	switch name {
	case "anthropic":
		return c.Anthropic, nil
	case "openai":
		return c.OpenAI, nil
	case "gemini":
		return c.Gemini, nil
	}
	return ProviderConfig{}, fmt.Errorf("unknown provider: %s", name)
}
