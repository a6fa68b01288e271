// Package config loads service configuration from built-in defaults, an
// optional .env file, an optional YAML file and environment variables, in
// that order of precedence (later wins).
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// FileEnv names the environment variable holding the YAML config path.
const FileEnv = "PROJECTONE_CONFIG"

// Config is the root configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Logging     LoggingConfig     `yaml:"logging"`
	Auth        AuthConfig        `yaml:"auth"`
	Cache       CacheConfig       `yaml:"cache"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	CORS        CORSConfig        `yaml:"cors"`
	Audit       AuditConfig       `yaml:"audit"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Tracing     TracingConfig     `yaml:"tracing"`
}

type ServerConfig struct {
	Host            string        `yaml:"host" env:"SERVER_HOST"`
	Port            int           `yaml:"port" env:"SERVER_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT"`
}

// Addr returns host:port.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type DatabaseConfig struct {
	Driver          string `yaml:"driver" env:"DATABASE_DRIVER"`
	DSN             string `yaml:"dsn" env:"DATABASE_DSN"`
	MaxOpenConns    int    `yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `yaml:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime" env:"DATABASE_CONN_MAX_LIFETIME"`
	AutoMigrate     bool   `yaml:"auto_migrate" env:"DATABASE_AUTO_MIGRATE"`
}

type LoggingConfig struct {
	Level      string `yaml:"level" env:"LOG_LEVEL"`
	Format     string `yaml:"format" env:"LOG_FORMAT"`
	Output     string `yaml:"output" env:"LOG_OUTPUT"`
	FilePrefix string `yaml:"file_prefix" env:"LOG_FILE_PREFIX"`
}

type AuthConfig struct {
	// Tokens is a comma-separated list of static bearer tokens, each
	// optionally suffixed with ":role".
	Tokens    string `yaml:"tokens" env:"AUTH_TOKENS"`
	JWTSecret string `yaml:"jwt_secret" env:"AUTH_JWT_SECRET"`
	// Users is a comma-separated list of name:password:role entries.
	Users    string        `yaml:"users" env:"AUTH_USERS"`
	TokenTTL time.Duration `yaml:"token_ttl" env:"AUTH_TOKEN_TTL"`
}

// Enabled reports whether any credential source is configured.
func (c AuthConfig) Enabled() bool {
	return strings.TrimSpace(c.Tokens) != "" || strings.TrimSpace(c.JWTSecret) != ""
}

type CacheConfig struct {
	RedisURL string        `yaml:"redis_url" env:"CACHE_REDIS_URL"`
	TTL      time.Duration `yaml:"ttl" env:"CACHE_TTL"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"rps" env:"RATE_LIMIT_RPS"`
	Burst             int `yaml:"burst" env:"RATE_LIMIT_BURST"`
}

type CORSConfig struct {
	AllowedOrigins string `yaml:"allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
}

type AuditConfig struct {
	MaxEntries int    `yaml:"max_entries" env:"AUDIT_MAX_ENTRIES"`
	File       string `yaml:"file" env:"AUDIT_FILE"`
}

type MaintenanceConfig struct {
	SweepSchedule string `yaml:"sweep_schedule" env:"MAINTENANCE_SWEEP_SCHEDULE"`
	StatsSchedule string `yaml:"stats_schedule" env:"MAINTENANCE_STATS_SCHEDULE"`
}

type TracingConfig struct {
	Enabled     bool    `yaml:"enabled" env:"TRACING_ENABLED"`
	SampleRatio float64 `yaml:"sample_ratio" env:"TRACING_SAMPLE_RATIO"`
}

// Default returns the built-in configuration: embedded in-memory database,
// auth disabled, text logs on stdout.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 300,
			AutoMigrate:     true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stdout",
			FilePrefix: "projectone",
		},
		Auth:        AuthConfig{TokenTTL: time.Hour},
		Cache:       CacheConfig{TTL: 5 * time.Minute},
		RateLimit:   RateLimitConfig{RequestsPerSecond: 50, Burst: 100},
		CORS:        CORSConfig{AllowedOrigins: "*"},
		Audit:       AuditConfig{MaxEntries: 200},
		Maintenance: MaintenanceConfig{SweepSchedule: "@every 1m", StatsSchedule: "@every 5m"},
		Tracing:     TracingConfig{Enabled: true, SampleRatio: 1.0},
	}
}

// Load builds the configuration for the running process.
func Load() (*Config, error) {
	// a missing .env is the normal case outside local development
	_ = godotenv.Load()

	cfg := Default()
	if path := strings.TrimSpace(os.Getenv(FileEnv)); path != "" {
		if err := LoadFile(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail late at startup.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	switch c.Database.Driver {
	case "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.Driver != "sqlite" && c.Database.DSN == "" {
		return fmt.Errorf("database dsn is required for driver %s", c.Database.Driver)
	}
	if c.Database.MaxOpenConns < 0 || c.Database.MaxIdleConns < 0 || c.Database.ConnMaxLifetime < 0 {
		return errors.New("database pool settings must not be negative")
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		return errors.New("rate limit settings must not be negative")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing sample ratio %v must be within [0,1]", c.Tracing.SampleRatio)
	}
	return nil
}

// Origins splits the CORS origin list.
func (c CORSConfig) Origins() []string {
	return SplitList(c.AllowedOrigins)
}

func (c *Config) normalize() {
	c.Database.Driver = NormalizeDriver(c.Database.Driver)
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Auth.TokenTTL <= 0 {
		c.Auth.TokenTTL = time.Hour
	}
	if c.Cache.TTL <= 0 {
		c.Cache.TTL = 5 * time.Minute
	}
	if c.Audit.MaxEntries <= 0 {
		c.Audit.MaxEntries = 200
	}
}

// NormalizeDriver maps accepted driver aliases onto sqlite, postgres or mysql.
// Unknown names are returned lower-cased for Validate to reject.
func NormalizeDriver(name string) string {
	switch d := strings.ToLower(strings.TrimSpace(name)); d {
	case "", "sqlite", "sqlite3", "embedded":
		return "sqlite"
	case "postgres", "postgresql":
		return "postgres"
	case "mysql", "mariadb":
		return "mysql"
	default:
		return d
	}
}

// SplitList splits a comma-separated list, dropping blanks.
func SplitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
