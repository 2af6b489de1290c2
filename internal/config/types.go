package config

import "time"

// Backend types
const (
	BackendHTTP   = "http"
	BackendSQLite = "sqlite"
)

// Config represents the complete boardwatch configuration
type Config struct {
	Monitor  MonitorConfig `yaml:"monitor"`
	Backend  BackendConfig `yaml:"backend"`
	API      APIConfig     `yaml:"api"`
	Events   EventsConfig  `yaml:"events"`
	Sentry   SentryConfig  `yaml:"sentry"`
	LogLevel string        `yaml:"log_level"`
}

// MonitorConfig holds the evaluation loop and rule windows
type MonitorConfig struct {
	TickInterval   time.Duration `yaml:"tick_interval"`
	GraceWindow    time.Duration `yaml:"grace_window"`
	UpcomingWindow time.Duration `yaml:"upcoming_window"`
	UrgentWindow   time.Duration `yaml:"urgent_window"`
	ReturnWindow   time.Duration `yaml:"return_window"`
}

// BackendConfig selects where bookings are read from and written to
type BackendConfig struct {
	Type         string        `yaml:"type"` // "http" or "sqlite"
	BaseURL      string        `yaml:"base_url,omitempty"`
	Timeout      time.Duration `yaml:"timeout"`
	SQLitePath   string        `yaml:"sqlite_path,omitempty"`
	SeedFile     string        `yaml:"seed_file,omitempty"` // JSON bookings imported into sqlite at startup
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxBackoff   time.Duration `yaml:"max_backoff"`
}

// APIConfig configures the HTTP API and the gRPC health probe
type APIConfig struct {
	Port           int     `yaml:"port"`
	GRPCHealthPort int     `yaml:"grpc_health_port"` // 0 disables
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`   // 0 disables
	RateLimitBurst int     `yaml:"rate_limit_burst"`
}

// EventsConfig configures status change publishing. Empty brokers disable it.
type EventsConfig struct {
	KafkaBrokers string `yaml:"kafka_brokers,omitempty"`
	StatusTopic  string `yaml:"status_topic"`
	Source       string `yaml:"source"`
}

// SentryConfig configures the error sink. Empty DSN disables it.
type SentryConfig struct {
	DSN         string `yaml:"dsn,omitempty"`
	Environment string `yaml:"environment"`
	Release     string `yaml:"release,omitempty"`
}
