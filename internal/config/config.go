// Package config loads the fetch layer configuration from YAML with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/SourcePulse/fetch_layer/pkg/logger"
)

// DefaultPath is consulted when FETCH_LAYER_CONFIG is not set.
const DefaultPath = "config/fetch_layer.yaml"

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Host       string   `yaml:"host"`
	Port       int      `yaml:"port"`
	AuthTokens []string `yaml:"auth_tokens"`
	// RateLimitPerMinute bounds requests per client IP; zero disables it.
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`
}

// DatabaseConfig describes the optional Postgres backend. An empty DSN keeps
// the in-memory stores.
type DatabaseConfig struct {
	Driver          string `yaml:"driver"`
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_seconds"`
}

// RedisConfig describes the optional shared response cache. An empty Addr
// falls back to the in-process cache.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// FetchConfig tunes outgoing fetch behaviour.
type FetchConfig struct {
	TimeoutSeconds  int    `yaml:"timeout_seconds"`
	CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
	APIKey          string `yaml:"api_key"`
	UserAgent       string `yaml:"user_agent"`
}

// Config is the root configuration document.
type Config struct {
	Server   ServerConfig         `yaml:"server"`
	Database DatabaseConfig       `yaml:"database"`
	Redis    RedisConfig          `yaml:"redis"`
	Fetch    FetchConfig          `yaml:"fetch"`
	Logging  logger.LoggingConfig `yaml:"logging"`
}

// Load reads the config file named by FETCH_LAYER_CONFIG (falling back to
// DefaultPath, which may be absent) and applies environment overrides.
func Load() (*Config, error) {
	cfg := defaults()

	path := strings.TrimSpace(os.Getenv("FETCH_LAYER_CONFIG"))
	explicit := path != ""
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err) && !explicit:
		// Optional default file; env and defaults carry the config.
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	applyEnv(cfg)

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return nil, fmt.Errorf("invalid server port %d", cfg.Server.Port)
	}
	if cfg.Fetch.TimeoutSeconds <= 0 {
		return nil, fmt.Errorf("fetch timeout must be positive")
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Driver: "postgres",
		},
		Fetch: FetchConfig{
			TimeoutSeconds:  10,
			CacheTTLSeconds: 30,
			UserAgent:       "fetch-layer/1.0",
		},
		Logging: logger.LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

func applyEnv(cfg *Config) {
	setString := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				*dst = parsed
			}
		}
	}

	setString("SERVER_HOST", &cfg.Server.Host)
	setInt("SERVER_PORT", &cfg.Server.Port)
	setInt("SERVER_RATE_LIMIT_PER_MINUTE", &cfg.Server.RateLimitPerMinute)
	if v := strings.TrimSpace(os.Getenv("SERVER_AUTH_TOKENS")); v != "" {
		cfg.Server.AuthTokens = splitTokens(v)
	}

	setString("DATABASE_DRIVER", &cfg.Database.Driver)
	setString("DATABASE_DSN", &cfg.Database.DSN)
	setInt("DATABASE_MAX_OPEN_CONNS", &cfg.Database.MaxOpenConns)
	setInt("DATABASE_MAX_IDLE_CONNS", &cfg.Database.MaxIdleConns)
	setInt("DATABASE_CONN_MAX_LIFETIME_SECONDS", &cfg.Database.ConnMaxLifetime)

	setString("REDIS_ADDR", &cfg.Redis.Addr)
	setString("REDIS_PASSWORD", &cfg.Redis.Password)
	setInt("REDIS_DB", &cfg.Redis.DB)

	setInt("FETCH_TIMEOUT_SECONDS", &cfg.Fetch.TimeoutSeconds)
	setInt("FETCH_CACHE_TTL_SECONDS", &cfg.Fetch.CacheTTLSeconds)
	setString("FETCH_API_KEY", &cfg.Fetch.APIKey)
	setString("FETCH_USER_AGENT", &cfg.Fetch.UserAgent)

	setString("LOG_LEVEL", &cfg.Logging.Level)
	setString("LOG_FORMAT", &cfg.Logging.Format)
	setString("LOG_OUTPUT", &cfg.Logging.Output)
}

func splitTokens(raw string) []string {
	parts := strings.Split(raw, ",")
	tokens := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			tokens = append(tokens, trimmed)
		}
	}
	return tokens
}
