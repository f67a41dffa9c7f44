// Package config loads engine configuration from config.yaml with
// environment variable overrides.
package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Contract limits for query execution. Config may lower these, never raise
// them: they are the hard ceiling every execution is bounded by.
const (
	MaxQueryTimeout = 30 * time.Second
	MaxResultRows   = 10000
)

// Config holds all configuration for the engine. Values come from
// config.yaml with environment variable overrides; secrets are env-only.
type Config struct {
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8080"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Version  string `yaml:"-"` // injected at build time

	Database DatabaseConfig `yaml:"database"`
	Engine   EngineConfig   `yaml:"engine"`
}

// DatabaseConfig holds PostgreSQL settings for the entity store.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"crmx"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // secret, env-only
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"crmx_engine"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`
}

// EngineConfig holds query execution limits and cache sizing.
type EngineConfig struct {
	// QueryTimeoutSeconds bounds a single execution. Clamped to MaxQueryTimeout.
	QueryTimeoutSeconds int `yaml:"query_timeout_seconds" env:"ENGINE_QUERY_TIMEOUT_SECONDS" env-default:"30"`
	// MaxRows caps returned rows before view-level pagination. Clamped to MaxResultRows.
	MaxRows int `yaml:"max_rows" env:"ENGINE_MAX_ROWS" env-default:"10000"`
	// CacheSize is the maximum number of cached result sets per instance.
	CacheSize int `yaml:"cache_size" env:"ENGINE_CACHE_SIZE" env-default:"512"`
}

// QueryTimeout returns the effective execution timeout.
func (c *EngineConfig) QueryTimeout() time.Duration {
	d := time.Duration(c.QueryTimeoutSeconds) * time.Second
	if d <= 0 || d > MaxQueryTimeout {
		return MaxQueryTimeout
	}
	return d
}

// RowCap returns the effective row cap.
func (c *EngineConfig) RowCap() int {
	if c.MaxRows <= 0 || c.MaxRows > MaxResultRows {
		return MaxResultRows
	}
	return c.MaxRows
}

// Load reads configuration from the given YAML path with environment variable
// overrides. The version parameter is injected at build time.
func Load(path, version string) (*Config, error) {
	cfg := &Config{Version: version}
	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return cfg, nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
