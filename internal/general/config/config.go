package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

type Config struct {
	Driver struct {
		Token string // signed driver JWT used for REST and socket auth
	}
	REST struct {
		BaseURL        string
		TimeoutSeconds int
	}
	Socket struct {
		URL                 string
		AckTimeoutMS        int
		PingIntervalSeconds int
	}
	Location struct {
		MinIntervalSeconds int
		MinDistanceMeters  float64
		StartLat           float64
		StartLng           float64
	}
	Policy struct {
		ForceOfflineOnInactive bool
	}
	Control struct {
		Port int
	}
	Database struct {
		Host     string
		Port     int
		User     string
		Password string
		Name     string // YAML key: "database"
	}
	RabbitMQ struct {
		Host     string
		Port     int
		User     string
		Password string
	}
	JWT struct {
		SecretKey string
	}
}

// LoadFromFile loads config from a YAML file, applies defaults, and validates required fields.
func LoadFromFile(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := parseYAML(file, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// RESTTimeout is the conservative per-call bound for REST requests.
func (c *Config) RESTTimeout() time.Duration {
	return time.Duration(c.REST.TimeoutSeconds) * time.Second
}

// AckTimeout is the default acknowledgment window for socket emissions.
func (c *Config) AckTimeout() time.Duration {
	return time.Duration(c.Socket.AckTimeoutMS) * time.Millisecond
}

// PingInterval is the socket keepalive cadence.
func (c *Config) PingInterval() time.Duration {
	return time.Duration(c.Socket.PingIntervalSeconds) * time.Second
}

// MinSampleInterval is the background sampling interval floor.
func (c *Config) MinSampleInterval() time.Duration {
	return time.Duration(c.Location.MinIntervalSeconds) * time.Second
}

// JournalEnabled reports whether the Postgres session journal is configured.
func (c *Config) JournalEnabled() bool {
	return strings.TrimSpace(c.Database.Host) != ""
}

// TelemetryEnabled reports whether the RabbitMQ telemetry mirror is configured.
func (c *Config) TelemetryEnabled() bool {
	return strings.TrimSpace(c.RabbitMQ.Host) != ""
}

// applyDefaults sets safe defaults for optional fields.
func applyDefaults(cfg *Config) {
	if cfg.REST.TimeoutSeconds == 0 {
		cfg.REST.TimeoutSeconds = 8
	}
	if cfg.Socket.AckTimeoutMS == 0 {
		cfg.Socket.AckTimeoutMS = 5000
	}
	if cfg.Socket.PingIntervalSeconds == 0 {
		cfg.Socket.PingIntervalSeconds = 30
	}
	if cfg.Location.MinIntervalSeconds == 0 {
		cfg.Location.MinIntervalSeconds = 5
	}
	if cfg.Location.MinDistanceMeters == 0 {
		cfg.Location.MinDistanceMeters = 10
	}
	if cfg.Control.Port == 0 {
		cfg.Control.Port = 4090
	}
	if cfg.Database.Host != "" && cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.RabbitMQ.Host != "" && cfg.RabbitMQ.Port == 0 {
		cfg.RabbitMQ.Port = 5672
	}
}

// validate checks required fields and basic ranges.
func (c *Config) validate() error {
	var problems []string

	if strings.TrimSpace(c.REST.BaseURL) == "" {
		problems = append(problems, "rest.base_url is required")
	}
	if c.REST.TimeoutSeconds < 1 || c.REST.TimeoutSeconds > 30 {
		problems = append(problems, "rest.timeout_seconds must be in 1..30")
	}

	if strings.TrimSpace(c.Socket.URL) == "" {
		problems = append(problems, "socket.url is required")
	}
	if c.Socket.AckTimeoutMS < 100 {
		problems = append(problems, "socket.ack_timeout_ms must be at least 100")
	}

	if c.Location.MinIntervalSeconds < 1 {
		problems = append(problems, "location.min_interval_seconds must be at least 1")
	}
	if c.Location.MinDistanceMeters < 0 {
		problems = append(problems, "location.min_distance_meters cannot be negative")
	}

	if c.Control.Port <= 0 || c.Control.Port > 65535 {
		problems = append(problems, "control.port must be in 1..65535")
	}

	if c.JournalEnabled() {
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			problems = append(problems, "database.port must be in 1..65535")
		}
		if c.Database.User == "" {
			problems = append(problems, "database.user is required when database.host is set")
		}
		if c.Database.Name == "" {
			problems = append(problems, "database.database is required when database.host is set")
		}
	}

	if c.TelemetryEnabled() {
		if c.RabbitMQ.Port <= 0 || c.RabbitMQ.Port > 65535 {
			problems = append(problems, "rabbitmq.port must be in 1..65535")
		}
		if c.RabbitMQ.User == "" {
			problems = append(problems, "rabbitmq.user is required when rabbitmq.host is set")
		}
	}

	if strings.TrimSpace(c.JWT.SecretKey) == "" {
		problems = append(problems, "jwt.secret_key is required")
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}
