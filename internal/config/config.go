// Package config provides configuration loading for applyd.
//
// Configuration is loaded from a YAML file, then overridden by APPLYD_*
// environment variables, with hardcoded defaults for everything left
// unset.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete applyd configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	NATS      NATSConfig      `koanf:"nats"`
	History   HistoryConfig   `koanf:"history"`
	Store     StoreConfig     `koanf:"store"`
	Apply     ApplyConfig     `koanf:"apply"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int           `koanf:"http_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds zap logger configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // console or json
}

// TelemetryConfig holds OpenTelemetry configuration.
type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
	Endpoint    string `koanf:"endpoint"` // OTLP endpoint, host:port
	Protocol    string `koanf:"protocol"` // grpc or http
	Insecure    bool   `koanf:"insecure"`
}

// NATSConfig holds the workflow tracker's broker configuration.
type NATSConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`
}

// HistoryConfig holds conversation history configuration.
type HistoryConfig struct {
	Path          string `koanf:"path"`           // SQLite database file
	ScanLimit     int    `koanf:"scan_limit"`     // messages scanned per reconciliation
	MaxCandidates int    `koanf:"max_candidates"` // assistant messages considered per scan
}

// StoreConfig holds artifact store configuration.
type StoreConfig struct {
	Provider          string        `koanf:"provider"` // memory or http
	BaseURL           string        `koanf:"base_url"`
	APIKey            Secret        `koanf:"api_key"`
	Timeout           time.Duration `koanf:"timeout"`
	RequestsPerSecond float64       `koanf:"requests_per_second"`
}

// ApplyConfig holds apply pipeline tuning.
type ApplyConfig struct {
	StabilityWindow   time.Duration `koanf:"stability_window"`
	SaveMaxAttempts   int           `koanf:"save_max_attempts"`
	SaveBaseDelay     time.Duration `koanf:"save_base_delay"`
	SaveMaxDelay      time.Duration `koanf:"save_max_delay"`
	SaveJitterMax     time.Duration `koanf:"save_jitter_max"`
	StateMaxAttempts  int           `koanf:"state_max_attempts"`
	ResetDelay        time.Duration `koanf:"reset_delay"`
	PendingClearDelay time.Duration `koanf:"pending_clear_delay"`
	LargeFileBytes    int64         `koanf:"large_file_bytes"`
	ScanSecrets       bool          `koanf:"scan_secrets"`
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 7430
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "applyd"
	}
	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}

	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://127.0.0.1:4222"
	}

	if cfg.History.Path == "" {
		cfg.History.Path = "history.db"
	}
	if cfg.History.ScanLimit == 0 {
		cfg.History.ScanLimit = 50
	}
	if cfg.History.MaxCandidates == 0 {
		cfg.History.MaxCandidates = 10
	}

	if cfg.Store.Provider == "" {
		cfg.Store.Provider = "memory"
	}
	if cfg.Store.Timeout == 0 {
		cfg.Store.Timeout = 30 * time.Second
	}
	if cfg.Store.RequestsPerSecond == 0 {
		cfg.Store.RequestsPerSecond = 4
	}

	if cfg.Apply.StabilityWindow == 0 {
		cfg.Apply.StabilityWindow = time.Second
	}
	if cfg.Apply.SaveMaxAttempts == 0 {
		cfg.Apply.SaveMaxAttempts = 3
	}
	if cfg.Apply.SaveBaseDelay == 0 {
		cfg.Apply.SaveBaseDelay = time.Second
	}
	if cfg.Apply.SaveMaxDelay == 0 {
		cfg.Apply.SaveMaxDelay = 30 * time.Second
	}
	if cfg.Apply.SaveJitterMax == 0 {
		cfg.Apply.SaveJitterMax = time.Second
	}
	if cfg.Apply.StateMaxAttempts == 0 {
		cfg.Apply.StateMaxAttempts = 2
	}
	if cfg.Apply.ResetDelay == 0 {
		cfg.Apply.ResetDelay = 3 * time.Second
	}
	if cfg.Apply.PendingClearDelay == 0 {
		cfg.Apply.PendingClearDelay = 5 * time.Second
	}
	if cfg.Apply.LargeFileBytes == 0 {
		cfg.Apply.LargeFileBytes = 1 << 20
	}
}

// Validate returns an error describing the first invalid field.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("invalid log format: %q (must be console or json)", c.Logging.Format)
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.ServiceName == "" {
			return errors.New("service name required when telemetry is enabled")
		}
		switch c.Telemetry.Protocol {
		case "grpc", "http":
		default:
			return fmt.Errorf("invalid telemetry protocol: %q (must be grpc or http)", c.Telemetry.Protocol)
		}
	}

	if c.NATS.Enabled && c.NATS.URL == "" {
		return errors.New("nats url required when the tracker is enabled")
	}

	switch c.Store.Provider {
	case "memory":
	case "http":
		if c.Store.BaseURL == "" {
			return errors.New("store base_url required for the http provider")
		}
	default:
		return fmt.Errorf("invalid store provider: %q (must be memory or http)", c.Store.Provider)
	}
	if c.Store.RequestsPerSecond <= 0 {
		return errors.New("store requests_per_second must be positive")
	}

	if c.Apply.StabilityWindow <= 0 {
		return errors.New("stability window must be positive")
	}
	if c.Apply.SaveMaxAttempts < 1 {
		return errors.New("save_max_attempts must be at least 1")
	}
	if c.Apply.StateMaxAttempts < 1 {
		return errors.New("state_max_attempts must be at least 1")
	}

	return nil
}
