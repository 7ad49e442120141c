// Package config loads service configuration from an optional TOML file,
// with environment variables taking precedence.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

type Config struct {
	DatabaseURL string `toml:"database_url"`
	Port        string `toml:"port"`

	JWTSecret     string `toml:"jwt_secret"`
	OperatorToken string `toml:"operator_token"`

	PublicBaseURL string `toml:"public_base_url"`

	Generation GenerationConfig `toml:"generation"`
	Billing    BillingConfig    `toml:"billing"`
}

type GenerationConfig struct {
	APIURL        string `toml:"api_url"`
	APIKey        string `toml:"api_key"`
	WebhookSecret string `toml:"webhook_secret"`
}

type BillingConfig struct {
	WebhookSecret string `toml:"webhook_secret"`
}

// Load reads path if it exists, then applies environment overrides.
// An empty path skips the file entirely.
func Load(path string) (*Config, error) {
	cfg := &Config{Port: "8080"}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, fmt.Errorf("decode config %s: %w", path, err)
			}
		}
	}

	override(&cfg.DatabaseURL, "DATABASE_URL")
	override(&cfg.Port, "PORT")
	override(&cfg.JWTSecret, "JWT_SECRET")
	override(&cfg.OperatorToken, "OPERATOR_TOKEN")
	override(&cfg.PublicBaseURL, "PUBLIC_BASE_URL")
	override(&cfg.Generation.APIURL, "GENERATION_API_URL")
	override(&cfg.Generation.APIKey, "GENERATION_API_KEY")
	override(&cfg.Generation.WebhookSecret, "GENERATION_WEBHOOK_SECRET")
	override(&cfg.Billing.WebhookSecret, "BILLING_WEBHOOK_SECRET")

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "devsecret"
	}
	return cfg, nil
}

func override(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}
