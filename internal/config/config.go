// Package config loads application configuration from YAML files and
// environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "CRONOGRAMA_"

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Database      DatabaseConfig      `koanf:"database"`
	Log           LogConfig           `koanf:"log"`
	CORS          CORSConfig          `koanf:"cors"`
	Notifications NotificationsConfig `koanf:"notifications"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port"`
	MetricsPort       string        `koanf:"metrics_port"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
}

// DatabaseConfig holds PostgreSQL settings.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MinIdleConns    int           `koanf:"min_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	ConnectAttempts int           `koanf:"connect_attempts"`
	MigrationsPath  string        `koanf:"migrations_path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json, text
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// NotificationsConfig holds reminder engine settings.
type NotificationsConfig struct {
	Timezone        string        `koanf:"timezone"`
	HeaderImagePath string        `koanf:"header_image_path"`
	Workers         int           `koanf:"workers"`
	BatchSize       int           `koanf:"batch_size"`
	OpenAttempts    int           `koanf:"open_attempts"`
	PollEnabled     bool          `koanf:"poll_enabled"`
	PollInterval    time.Duration `koanf:"poll_interval"`
	SMTP            SMTPConfig    `koanf:"smtp"`
}

// SMTPConfig holds SMTP transport settings.
type SMTPConfig struct {
	Host          string        `koanf:"host"`
	Port          int           `koanf:"port"`
	User          string        `koanf:"user"`
	Password      string        `koanf:"password"`
	FromAddress   string        `koanf:"from_address"`
	UseSSL        bool          `koanf:"use_ssl"`
	DialTimeout   time.Duration `koanf:"dial_timeout"`
	RatePerSecond float64       `koanf:"rate_per_second"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8080",
			MetricsPort:       "9090",
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MinIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnectTimeout:  30 * time.Second,
			ConnectAttempts: 5,
			MigrationsPath:  "migrations",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Notifications: NotificationsConfig{
			Timezone:     "America/Lima",
			Workers:      8,
			BatchSize:    10,
			OpenAttempts: 3,
			PollEnabled:  true,
			PollInterval: 5 * time.Minute,
			SMTP: SMTPConfig{
				Port:        587,
				DialTimeout: 10 * time.Second,
			},
		},
	}
}

// Load reads configuration from an optional YAML file, then overlays
// CRONOGRAMA_* environment variables. A double underscore separates
// nesting levels, so CRONOGRAMA_SERVER__READ_TIMEOUT maps to
// server.read_timeout.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load config file %s: %w", path, err)
			}
		}
	}

	err := k.Load(env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
			return strings.ReplaceAll(key, "__", "."), value
		},
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error")
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be json or text")
	}
	if _, err := time.LoadLocation(c.Notifications.Timezone); err != nil {
		return fmt.Errorf("notifications.timezone: %w", err)
	}
	return nil
}

// Location returns the configured timezone. Validate guarantees it parses.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Notifications.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
