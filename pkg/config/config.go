// Package config provides configuration file support for PDM.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/pdm-project/pdm/pkg/webhook"
)

// Config represents the PDM configuration, stored at .pdm/config.yaml.
type Config struct {
	Logging  LoggingConfig  `yaml:"logging"`
	Server   ServerConfig   `yaml:"server"`
	Limits   LimitsConfig   `yaml:"limits"`
	Webhooks webhook.Config `yaml:"webhooks"`
}

// LoggingConfig configures logging behavior.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Addr      string `yaml:"addr"`
	JWTSecret string `yaml:"jwt_secret"`

	// TokenTTLMinutes bounds issued token lifetime.
	TokenTTLMinutes int `yaml:"token_ttl_minutes"`

	Users []UserConfig `yaml:"users"`
}

// UserConfig is one account the server will issue tokens for. PasswordSHA256
// is the hex SHA-256 digest of the password; the vault core never sees any
// of this, it only trusts the identity the server extracts.
type UserConfig struct {
	Username       string `yaml:"username"`
	PasswordSHA256 string `yaml:"password_sha256"`
	Role           string `yaml:"role"` // "user" or "admin"
}

// LimitsConfig bounds caller-supplied content.
type LimitsConfig struct {
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info"},
		Server: ServerConfig{
			Addr:            ":8080",
			TokenTTLMinutes: 480,
		},
		Limits:   LimitsConfig{MaxUploadBytes: 64 << 20},
		Webhooks: *webhook.DefaultConfig(),
	}
}

// Load loads configuration from .pdm/config.yaml under the vault root.
// Returns default config if the file doesn't exist.
func Load(vaultRoot string) (*Config, error) {
	cfg := Default()
	cfgPath := filepath.Join(vaultRoot, ".pdm", "config.yaml")

	data, err := os.ReadFile(cfgPath)
	if os.IsNotExist(err) {
		return cfg, nil // No config file is OK, use defaults
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

// Save writes configuration to .pdm/config.yaml.
func Save(vaultRoot string, cfg *Config) error {
	cfgPath := filepath.Join(vaultRoot, ".pdm", "config.yaml")

	if err := os.MkdirAll(filepath.Dir(cfgPath), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(cfgPath, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}
