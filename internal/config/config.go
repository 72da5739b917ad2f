// Package config loads the gchat configuration: an optional JSON file layered
// over built-in defaults, with the API key taken from the environment. The
// surrounding process validates everything here; the pipeline packages assume
// an already-valid Config.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/youruser/gchat/internal/expand"
)

var (
	ErrNoAPIKey     = errors.New("XAI_API_KEY not set")
	ErrInvalidJSON  = errors.New("invalid config JSON")
	ErrInvalidLevel = errors.New("token_level must be between 0 and 5")
	ErrInvalidTemp  = errors.New("temperature must be non-negative")
)

// DefaultPath is the config file consulted when none is given. A missing
// file is not an error; defaults apply.
const DefaultPath = "gchat.json"

// Config holds the full runtime configuration.
type Config struct {
	ChatFile    string `koanf:"chat_file"`
	ProjectRoot string `koanf:"project_root"`

	BaseURL string `koanf:"base_url"`
	Model   string `koanf:"model"`
	APIKey  string `koanf:"-"` // environment only, never from file

	TokenLevel  int     `koanf:"token_level"`
	Temperature float64 `koanf:"temperature"`
	APITimeout  int     `koanf:"api_timeout"` // seconds

	AutoIncreaseTokens bool `koanf:"auto_increase_tokens"`
	AutoFileRequests   bool `koanf:"auto_file_requests"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"chat_file":            "gchat.md",
		"project_root":         ".",
		"base_url":             "https://api.x.ai/v1",
		"model":                "grok-4-0709",
		"token_level":          3,
		"temperature":          1.0,
		"api_timeout":          600,
		"auto_increase_tokens": true,
		"auto_file_requests":   true,
	}
}

// Load reads the config file at path (or the defaults when it doesn't exist)
// and resolves the API key from the environment.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, err
	}

	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), json.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	cfg.APIKey = os.Getenv("XAI_API_KEY")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the ranges the pipeline depends on.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return ErrNoAPIKey
	}
	if c.TokenLevel < expand.MinLevel || c.TokenLevel > expand.MaxLevel {
		return ErrInvalidLevel
	}
	if c.Temperature < 0 {
		return ErrInvalidTemp
	}
	if c.APITimeout <= 0 {
		return errors.New("api_timeout must be positive")
	}
	return nil
}

// RequestTimeout returns the per-call API timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.APITimeout) * time.Second
}
