// Package config provides application configuration with multi-source
// priority.
//
// Sources, highest to lowest:
//  1. Environment variables (prefix CHATBOT_, e.g. CHATBOT_OPENAI_API_KEY)
//  2. Config file (config.yaml in the working directory, optional)
//  3. Defaults
//
// Fatal conditions (missing provider key, unparseable file) surface from
// Load/Validate so the process refuses to start half-configured instead of
// failing on the first request.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/yerroong/lg-chatbot/internal/identity"
)

// Sentinel errors for configuration failures, checked with errors.Is.
var (
	// ErrMissingAPIKey indicates the completion provider key is not set.
	ErrMissingAPIKey = errors.New("missing OpenAI API key")

	// ErrInvalidMode indicates an unrecognised environment mode.
	ErrInvalidMode = errors.New("invalid environment mode")

	// ErrInvalidDatabase indicates incomplete PostgreSQL settings.
	ErrInvalidDatabase = errors.New("invalid database configuration")
)

// Defaults.
const (
	DefaultAddr        = "127.0.0.1:5000"
	DefaultModel       = "gpt-4o-mini"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 500
)

// Config stores the service configuration.
// Sensitive fields must never be logged; see Redacted.
type Config struct {
	// Env is "development" or "production" and drives session identity
	// derivation (identity.Mode).
	Env  string `mapstructure:"env"`
	Addr string `mapstructure:"addr"`

	// Completion provider settings.
	OpenAIAPIKey string  `mapstructure:"openai_api_key"` // SENSITIVE
	OpenAIModel  string  `mapstructure:"openai_model"`
	Temperature  float64 `mapstructure:"temperature"`
	MaxTokens    int     `mapstructure:"max_tokens"`

	// PostgreSQL settings.
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"` // SENSITIVE
	PostgresDBName   string `mapstructure:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode"`

	// TrustProxy enables X-Forwarded-For when a trusted proxy fronts the
	// service. Leave off when clients connect directly.
	TrustProxy bool `mapstructure:"trust_proxy"`

	// CORSOrigins lists origins allowed on the REST surface.
	CORSOrigins []string `mapstructure:"cors_origins"`

	// RateBurst bounds user-message bursts per connection. 0 = default.
	RateBurst int `mapstructure:"rate_burst"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("env", string(identity.ModeDevelopment))
	v.SetDefault("addr", DefaultAddr)
	v.SetDefault("openai_model", DefaultModel)
	v.SetDefault("temperature", DefaultTemperature)
	v.SetDefault("max_tokens", DefaultMaxTokens)
	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "chatbot")
	v.SetDefault("postgres_db_name", "chatbot")
	v.SetDefault("postgres_ssl_mode", "disable")
	v.SetDefault("cors_origins", []string{"http://localhost:5173"})

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("CHATBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only resolves keys viper already knows about, so keys
	// without a default (the API key, the database password) must be bound
	// explicitly or their environment variables are ignored.
	for _, key := range []string{
		"env", "addr",
		"openai_api_key", "openai_model", "temperature", "max_tokens",
		"postgres_host", "postgres_port", "postgres_user",
		"postgres_password", "postgres_db_name", "postgres_ssl_mode",
		"trust_proxy", "cors_origins", "rate_burst",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("binding %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// No config file is fine; env and defaults carry the day.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// Validate checks the configuration for serving. Missing provider credentials
// are fatal at startup, not deferred to the first request.
func (c *Config) Validate() error {
	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("%w: set CHATBOT_OPENAI_API_KEY", ErrMissingAPIKey)
	}

	switch identity.Mode(c.Env) {
	case identity.ModeDevelopment, identity.ModeProduction:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidMode, c.Env)
	}

	return c.ValidateStorage()
}

// ValidateStorage checks only the PostgreSQL settings. Maintenance commands
// that never talk to the completion provider use this instead of Validate.
func (c *Config) ValidateStorage() error {
	if c.PostgresHost == "" || c.PostgresDBName == "" || c.PostgresUser == "" {
		return fmt.Errorf("%w: host, user and db name are required", ErrInvalidDatabase)
	}
	if c.PostgresPort <= 0 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidDatabase, c.PostgresPort)
	}

	return nil
}

// Mode returns the identity derivation mode for this configuration.
func (c *Config) Mode() identity.Mode {
	return identity.Mode(c.Env)
}

// DatabaseURL builds the PostgreSQL connection string.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.PostgresUser, c.PostgresPassword,
		c.PostgresHost, c.PostgresPort,
		c.PostgresDBName, c.PostgresSSLMode)
}

// Redacted returns a loggable copy with sensitive fields masked.
func (c *Config) Redacted() Config {
	out := *c
	if out.OpenAIAPIKey != "" {
		out.OpenAIAPIKey = "***"
	}
	if out.PostgresPassword != "" {
		out.PostgresPassword = "***"
	}
	return out
}
