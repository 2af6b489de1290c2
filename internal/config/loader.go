package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Load reads .env (if present), the YAML file at path (if set), applies
// BOARDWATCH_* environment overrides and defaults, then validates.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg := &Config{}
	if path != "" {
		if err := loadYAML(path, cfg); err != nil {
			return nil, fmt.Errorf("loading %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)

	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadYAML loads a YAML file into a struct
func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, out)
}

func applyEnv(cfg *Config) {
	cfg.Backend.Type = envOr("BOARDWATCH_BACKEND_TYPE", cfg.Backend.Type)
	cfg.Backend.BaseURL = envOr("BOARDWATCH_BACKEND_URL", cfg.Backend.BaseURL)
	cfg.Backend.SQLitePath = envOr("BOARDWATCH_SQLITE_PATH", cfg.Backend.SQLitePath)
	cfg.Backend.PollInterval = envDuration("BOARDWATCH_POLL_INTERVAL", cfg.Backend.PollInterval)
	cfg.Monitor.TickInterval = envDuration("BOARDWATCH_TICK_INTERVAL", cfg.Monitor.TickInterval)
	cfg.API.Port = envInt("BOARDWATCH_PORT", cfg.API.Port)
	cfg.API.GRPCHealthPort = envInt("BOARDWATCH_GRPC_HEALTH_PORT", cfg.API.GRPCHealthPort)
	cfg.Events.KafkaBrokers = envOr("BOARDWATCH_KAFKA_BROKERS", cfg.Events.KafkaBrokers)
	cfg.Sentry.DSN = envOr("BOARDWATCH_SENTRY_DSN", envOr("SENTRY_DSN", cfg.Sentry.DSN))
	cfg.Sentry.Environment = envOr("BOARDWATCH_SENTRY_ENVIRONMENT", cfg.Sentry.Environment)
	cfg.LogLevel = envOr("BOARDWATCH_LOG_LEVEL", cfg.LogLevel)
}

func applyDefaults(cfg *Config) {
	m := &cfg.Monitor
	if m.TickInterval == 0 {
		m.TickInterval = 60 * time.Second
	}
	if m.GraceWindow == 0 {
		m.GraceWindow = 5 * time.Minute
	}
	if m.UpcomingWindow == 0 {
		m.UpcomingWindow = 15 * time.Minute
	}
	if m.UrgentWindow == 0 {
		m.UrgentWindow = 5 * time.Minute
	}
	if m.ReturnWindow == 0 {
		m.ReturnWindow = 10 * time.Minute
	}

	b := &cfg.Backend
	if b.Type == "" {
		b.Type = BackendHTTP
	}
	if b.Timeout == 0 {
		b.Timeout = 10 * time.Second
	}
	if b.PollInterval == 0 {
		b.PollInterval = 30 * time.Second
	}
	if b.MaxBackoff == 0 {
		b.MaxBackoff = 5 * time.Minute
	}
	if b.Type == BackendSQLite && b.SQLitePath == "" {
		b.SQLitePath = "data/boardwatch.db"
	}

	if cfg.API.Port == 0 {
		cfg.API.Port = 8080
	}
	if cfg.API.RateLimitRPS > 0 && cfg.API.RateLimitBurst == 0 {
		cfg.API.RateLimitBurst = int(cfg.API.RateLimitRPS) * 2
	}

	if cfg.Events.StatusTopic == "" {
		cfg.Events.StatusTopic = "booking.status"
	}
	if cfg.Events.Source == "" {
		cfg.Events.Source = "boardwatch"
	}
	if cfg.Sentry.Environment == "" {
		cfg.Sentry.Environment = "production"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

// ValidateConfig validates the configuration
func ValidateConfig(cfg *Config) error {
	m := cfg.Monitor
	if m.TickInterval <= 0 {
		return fmt.Errorf("monitor.tick_interval must be > 0")
	}
	if m.GraceWindow < 0 || m.UpcomingWindow < 0 || m.UrgentWindow < 0 || m.ReturnWindow < 0 {
		return fmt.Errorf("monitor windows must not be negative")
	}
	if m.UrgentWindow > m.UpcomingWindow {
		return fmt.Errorf("monitor.urgent_window (%s) must not exceed upcoming_window (%s)", m.UrgentWindow, m.UpcomingWindow)
	}

	switch cfg.Backend.Type {
	case BackendHTTP:
		if cfg.Backend.BaseURL == "" {
			return fmt.Errorf("backend.base_url is required for http backend")
		}
	case BackendSQLite:
		if cfg.Backend.SQLitePath == "" {
			return fmt.Errorf("backend.sqlite_path is required for sqlite backend")
		}
	default:
		return fmt.Errorf("backend.type must be 'http' or 'sqlite', got %q", cfg.Backend.Type)
	}
	if cfg.Backend.PollInterval < 0 || cfg.Backend.Timeout < 0 {
		return fmt.Errorf("backend durations must not be negative")
	}

	if cfg.API.Port < 1 || cfg.API.Port > 65535 {
		return fmt.Errorf("api.port %d out of range", cfg.API.Port)
	}
	if cfg.API.GRPCHealthPort < 0 || cfg.API.GRPCHealthPort > 65535 {
		return fmt.Errorf("api.grpc_health_port %d out of range", cfg.API.GRPCHealthPort)
	}
	if cfg.API.GRPCHealthPort != 0 && cfg.API.GRPCHealthPort == cfg.API.Port {
		return fmt.Errorf("api.grpc_health_port must differ from api.port")
	}
	if cfg.API.RateLimitRPS < 0 {
		return fmt.Errorf("api.rate_limit_rps must not be negative")
	}

	if _, err := zerolog.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
