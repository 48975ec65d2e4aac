// Package models - Service configuration and operational settings.
// This file defines the configuration structures for every service component.
//
// Configuration Philosophy:
// - Hierarchical configuration with logical grouping (server, storage, limiter, etc.)
// - Defaults that work out of the box for a single process
// - Validation that catches misconfigured limits before any route is served
package models

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// Storage type constants
const (
	StorageTypeJSON     = "json"
	StorageTypeMemory   = "memory"
	StorageTypePostgres = "postgres"
	StorageTypeSQLite   = "sqlite"
)

// Limiter algorithm constants
const (
	AlgorithmGCRA        = "gcra"
	AlgorithmTokenBucket = "token_bucket"
)

// Config is the root configuration structure containing all service settings.
//
// Configuration Structure:
// - Server: HTTP server and network settings
// - Storage: Where named limit rules are kept
// - Limiter: Admission algorithm and sweep settings
// - Limits: Named rules seeded into storage at startup
// - Security: Admin authentication and API throttling
// - Logging: Structured logging and output configuration
// - Metrics / Observability: Prometheus and tracing
type Config struct {
	Server        ServerConfig          `yaml:"server" json:"server"`
	Storage       StorageConfig         `yaml:"storage" json:"storage"`
	Limiter       LimiterConfig         `yaml:"limiter" json:"limiter"`
	Limits        map[string]LimitEntry `yaml:"limits" json:"limits"`
	Security      SecurityConfig        `yaml:"security" json:"security"`
	Logging       LoggingConfig         `yaml:"logging" json:"logging"`
	Metrics       MetricsConfig         `yaml:"metrics" json:"metrics"`
	Observability ObservabilityConfig   `yaml:"observability" json:"observability"`
}

type ServerConfig struct {
	Port         int           `yaml:"port" json:"port"`
	Host         string        `yaml:"host" json:"host"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	TLSEnabled   bool          `yaml:"tls_enabled" json:"tls_enabled"`
	TLSCertFile  string        `yaml:"tls_cert_file" json:"tls_cert_file"`
	TLSKeyFile   string        `yaml:"tls_key_file" json:"tls_key_file"`
}

type StorageConfig struct {
	Type     string         `yaml:"type" json:"type"`
	Path     string         `yaml:"path" json:"path"`
	Database DatabaseConfig `yaml:"database" json:"database"`
}

type DatabaseConfig struct {
	DSN          string `yaml:"dsn" json:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns" json:"max_open_conns"`
}

// LimiterConfig selects the admission algorithm.
//
// ReapInterval enables a background sweep in addition to the sweep that
// runs inside every admission call. Zero disables it.
//
// TrustedHops is the number of reverse proxies that append to
// X-Forwarded-For. Zero keys clients on the connection address.
type LimiterConfig struct {
	Algorithm        string        `yaml:"algorithm" json:"algorithm"`
	ReapInterval     time.Duration `yaml:"reap_interval" json:"reap_interval"`
	ThrottleLoopback bool          `yaml:"throttle_loopback" json:"throttle_loopback"`
	TrustedHops      int           `yaml:"trusted_hops" json:"trusted_hops"`
}

// LimitEntry is a named rule as written in the config file.
type LimitEntry struct {
	Rate        int    `yaml:"rate" json:"rate"`
	Per         int    `yaml:"per" json:"per"`
	Bucket      string `yaml:"bucket" json:"bucket"`
	Description string `yaml:"description" json:"description"`
}

type SecurityConfig struct {
	EnableAuth bool   `yaml:"enable_auth" json:"enable_auth"`
	AdminToken string `yaml:"admin_token" json:"-"`
	// APIRule names the rule applied to the rules API itself. Empty
	// leaves the API unthrottled.
	APIRule string `yaml:"api_rule" json:"api_rule"`
}

type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	Output   string `yaml:"output" json:"output"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	Port    int    `yaml:"port" json:"port"`
}

type ObservabilityConfig struct {
	ServiceName string        `yaml:"service_name" json:"service_name"`
	Tracing     TracingConfig `yaml:"tracing" json:"tracing"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	Exporter     string  `yaml:"exporter" json:"exporter"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate" json:"sample_rate"`
}

// NewDefaultConfig creates a configuration with working defaults.
//
// Default Values Rationale:
// - Port 8080: Standard non-privileged HTTP port
// - Memory storage: no external dependencies; rules come from the limits section
// - GCRA with the in-call sweep only
// - create/redirect limits match the URL shortener's public routes
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			Host:         "0.0.0.0",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Storage: StorageConfig{
			Type: StorageTypeMemory,
			Path: "./data/rules.json",
			Database: DatabaseConfig{
				MaxOpenConns: 10,
			},
		},
		Limiter: LimiterConfig{
			Algorithm: AlgorithmGCRA,
		},
		Limits: map[string]LimitEntry{
			"create":   {Rate: 5, Per: 10, Bucket: "ip", Description: "link creation"},
			"redirect": {Rate: 60, Per: 60, Bucket: "ip", Description: "redirect lookups"},
		},
		Security: SecurityConfig{
			EnableAuth: false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9090,
		},
		Observability: ObservabilityConfig{
			ServiceName: "chii",
			Tracing: TracingConfig{
				Enabled:    false,
				Exporter:   "stdout",
				SampleRate: 1.0,
			},
		},
	}
}

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("invalid storage config: %w", err)
	}

	if err := c.Limiter.Validate(); err != nil {
		return fmt.Errorf("invalid limiter config: %w", err)
	}

	for name, entry := range c.Limits {
		rule := entry.Rule(name)
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("invalid limit %q: %w", name, err)
		}
	}

	if err := c.Security.Validate(); err != nil {
		return fmt.Errorf("invalid security config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("invalid metrics config: %w", err)
	}

	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("invalid observability config: %w", err)
	}

	return nil
}

func (sc *ServerConfig) Validate() error {
	if sc.Port <= 0 || sc.Port > 65535 {
		return errors.New("port must be between 1 and 65535")
	}

	if sc.Host == "" {
		return errors.New("host cannot be empty")
	}

	if sc.ReadTimeout < 0 || sc.WriteTimeout < 0 || sc.IdleTimeout < 0 {
		return errors.New("timeouts cannot be negative")
	}

	if sc.TLSEnabled {
		if sc.TLSCertFile == "" {
			return errors.New("TLS cert file is required when TLS is enabled")
		}
		if sc.TLSKeyFile == "" {
			return errors.New("TLS key file is required when TLS is enabled")
		}
	}

	return nil
}

func (stc *StorageConfig) Validate() error {
	switch stc.Type {
	case StorageTypeMemory:
		return nil
	case StorageTypeJSON:
		if stc.Path == "" {
			return errors.New("path is required for JSON storage")
		}
	case StorageTypePostgres, StorageTypeSQLite:
		if stc.Database.DSN == "" {
			return errors.New("database DSN is required for database storage")
		}
	default:
		return fmt.Errorf("invalid storage type: %s", stc.Type)
	}
	return nil
}

func (lc *LimiterConfig) Validate() error {
	if lc.Algorithm != AlgorithmGCRA && lc.Algorithm != AlgorithmTokenBucket {
		return fmt.Errorf("invalid limiter algorithm: %s", lc.Algorithm)
	}
	if lc.ReapInterval < 0 {
		return errors.New("reap interval cannot be negative")
	}
	if lc.TrustedHops < 0 {
		return errors.New("trusted hops cannot be negative")
	}
	return nil
}

func (sec *SecurityConfig) Validate() error {
	if sec.EnableAuth && sec.AdminToken == "" {
		return errors.New("admin token is required when auth is enabled")
	}
	return nil
}

func (lc *LoggingConfig) Validate() error {
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, lc.Level) {
		return fmt.Errorf("invalid log level: %s", lc.Level)
	}

	if !slices.Contains([]string{"json", "text"}, lc.Format) {
		return fmt.Errorf("invalid log format: %s", lc.Format)
	}

	if !slices.Contains([]string{"stdout", "stderr", "file"}, lc.Output) {
		return fmt.Errorf("invalid log output: %s", lc.Output)
	}

	if lc.Output == "file" && lc.FilePath == "" {
		return errors.New("file path is required when output is file")
	}

	return nil
}

func (mc *MetricsConfig) Validate() error {
	if !mc.Enabled {
		return nil
	}

	if mc.Path == "" {
		return errors.New("metrics path cannot be empty")
	}

	if mc.Port <= 0 || mc.Port > 65535 {
		return errors.New("metrics port must be between 1 and 65535")
	}

	return nil
}

func (oc *ObservabilityConfig) Validate() error {
	if !oc.Tracing.Enabled {
		return nil
	}
	switch oc.Tracing.Exporter {
	case "stdout":
	case "otlp":
		if oc.Tracing.OTLPEndpoint == "" {
			return errors.New("OTLP endpoint is required for the otlp exporter")
		}
	default:
		return fmt.Errorf("invalid trace exporter: %s", oc.Tracing.Exporter)
	}
	if oc.Tracing.SampleRate < 0 || oc.Tracing.SampleRate > 1 {
		return errors.New("sample rate must be between 0 and 1")
	}
	return nil
}

// Rule converts a config entry into a LimitRule named name.
func (e LimitEntry) Rule(name string) *LimitRule {
	return &LimitRule{
		Name:        name,
		Rate:        e.Rate,
		PerSeconds:  e.Per,
		Bucket:      e.Bucket,
		Description: e.Description,
	}
}
