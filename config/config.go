package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v10"
)

// Config holds all configuration for the storefront client.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// Remote API
	APIBaseURL string `env:"STOREFRONT_API_URL" envDefault:"http://localhost:8000"`

	// Token persistence. TokenFile defaults to a file under the user config dir.
	TokenFile       string `env:"STOREFRONT_TOKEN_FILE" envDefault:""`
	AccessTokenKey  string `env:"STOREFRONT_ACCESS_TOKEN_KEY" envDefault:"access_token"`
	RefreshTokenKey string `env:"STOREFRONT_REFRESH_TOKEN_KEY" envDefault:"refresh_token"`

	// HTTP transport
	HTTPTimeoutSeconds int `env:"STOREFRONT_HTTP_TIMEOUT_SECONDS" envDefault:"30"`
	HTTPMaxRetries     int `env:"STOREFRONT_HTTP_MAX_RETRIES" envDefault:"3"`

	// Outbound request rate limit. 0 disables limiting.
	RequestsPerSecond float64 `env:"STOREFRONT_REQUESTS_PER_SECOND" envDefault:"0"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.TokenFile == "" {
		cfg.TokenFile = defaultTokenFile()
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	u, err := url.Parse(c.APIBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid API base URL: %q", c.APIBaseURL)
	}
	if c.HTTPTimeoutSeconds <= 0 {
		return fmt.Errorf("invalid HTTP timeout: %d", c.HTTPTimeoutSeconds)
	}
	if c.HTTPMaxRetries < 0 {
		return fmt.Errorf("invalid HTTP max retries: %d", c.HTTPMaxRetries)
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("invalid requests per second: %f", c.RequestsPerSecond)
	}
	if c.AccessTokenKey == "" || c.RefreshTokenKey == "" {
		return fmt.Errorf("token storage keys must not be empty")
	}
	if c.AccessTokenKey == c.RefreshTokenKey {
		return fmt.Errorf("access and refresh token storage keys must differ")
	}
	return nil
}

// defaultTokenFile resolves the default token file location, falling back to
// the working directory when no user config dir is available.
func defaultTokenFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".storefront-tokens.json"
	}
	return filepath.Join(dir, "storefront", "tokens.json")
}
