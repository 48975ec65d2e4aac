// Package config loads the service configuration from a YAML file and
// CHII_* environment variables, on top of the built-in defaults.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"chii/internal/models"

	"gopkg.in/yaml.v3"
)

const envPrefix = "CHII_"

// Load loads configuration from file and environment variables
func Load(configPath string) (*models.Config, error) {
	config := models.NewDefaultConfig()

	if configPath != "" {
		if err := loadFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := loadFromEnvironment(config); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// loadFromFile loads configuration from a YAML file. A limits section in the
// file replaces the default limits rather than merging with them.
func loadFromFile(config *models.Config, filePath string) error {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", filePath)
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var present struct {
		Limits map[string]models.LimitEntry `yaml:"limits"`
	}
	if err := yaml.Unmarshal(data, &present); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if present.Limits != nil {
		config.Limits = nil
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return nil
}

func env(name string) (string, bool) {
	v := os.Getenv(envPrefix + name)
	return v, v != ""
}

func envString(name string, dst *string) {
	if v, ok := env(name); ok {
		*dst = v
	}
}

func envInt(name string, dst *int) {
	if v, ok := env(name); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		} else {
			slog.Warn("Ignoring malformed environment variable", "name", envPrefix+name, "value", v)
		}
	}
}

func envBool(name string, dst *bool) {
	if v, ok := env(name); ok {
		*dst = strings.ToLower(v) == "true"
	}
}

func envDuration(name string, dst *time.Duration) {
	if v, ok := env(name); ok {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		} else {
			slog.Warn("Ignoring malformed environment variable", "name", envPrefix+name, "value", v)
		}
	}
}

// loadFromEnvironment overrides configuration from CHII_* variables.
func loadFromEnvironment(config *models.Config) error {
	// Server configuration
	envInt("PORT", &config.Server.Port)
	envString("HOST", &config.Server.Host)
	envDuration("READ_TIMEOUT", &config.Server.ReadTimeout)
	envDuration("WRITE_TIMEOUT", &config.Server.WriteTimeout)
	envDuration("IDLE_TIMEOUT", &config.Server.IdleTimeout)
	envBool("TLS_ENABLED", &config.Server.TLSEnabled)
	envString("TLS_CERT_FILE", &config.Server.TLSCertFile)
	envString("TLS_KEY_FILE", &config.Server.TLSKeyFile)

	// Storage configuration
	envString("STORAGE_TYPE", &config.Storage.Type)
	envString("STORAGE_PATH", &config.Storage.Path)
	envString("DATABASE_DSN", &config.Storage.Database.DSN)
	envInt("DATABASE_MAX_OPEN_CONNS", &config.Storage.Database.MaxOpenConns)

	// Limiter configuration
	envString("LIMITER_ALGORITHM", &config.Limiter.Algorithm)
	envDuration("LIMITER_REAP_INTERVAL", &config.Limiter.ReapInterval)
	envBool("LIMITER_THROTTLE_LOOPBACK", &config.Limiter.ThrottleLoopback)
	envInt("LIMITER_TRUSTED_HOPS", &config.Limiter.TrustedHops)

	if raw, ok := env("LIMITS"); ok {
		limits, err := ParseLimits(raw)
		if err != nil {
			return fmt.Errorf("%sLIMITS: %w", envPrefix, err)
		}
		if config.Limits == nil {
			config.Limits = make(map[string]models.LimitEntry, len(limits))
		}
		for name, entry := range limits {
			if existing, ok := config.Limits[name]; ok {
				entry.Bucket = existing.Bucket
				entry.Description = existing.Description
			}
			config.Limits[name] = entry
		}
	}

	// Security configuration
	envBool("ENABLE_AUTH", &config.Security.EnableAuth)
	envString("ADMIN_TOKEN", &config.Security.AdminToken)
	envString("API_RULE", &config.Security.APIRule)

	// Logging configuration
	envString("LOG_LEVEL", &config.Logging.Level)
	envString("LOG_FORMAT", &config.Logging.Format)
	envString("LOG_OUTPUT", &config.Logging.Output)
	envString("LOG_FILE_PATH", &config.Logging.FilePath)

	// Metrics and tracing configuration
	envBool("METRICS_ENABLED", &config.Metrics.Enabled)
	envString("METRICS_PATH", &config.Metrics.Path)
	envInt("METRICS_PORT", &config.Metrics.Port)
	envString("SERVICE_NAME", &config.Observability.ServiceName)
	envBool("TRACING_ENABLED", &config.Observability.Tracing.Enabled)
	envString("TRACING_EXPORTER", &config.Observability.Tracing.Exporter)
	envString("OTLP_ENDPOINT", &config.Observability.Tracing.OTLPEndpoint)

	return nil
}

// ParseLimits parses a comma separated list of name=rate/per entries, for
// example "create=5/10,redirect=60/60". Per is in seconds.
func ParseLimits(raw string) (map[string]models.LimitEntry, error) {
	limits := make(map[string]models.LimitEntry)
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		name, value, ok := strings.Cut(item, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("malformed limit %q: expected name=rate/per", item)
		}
		rateStr, perStr, ok := strings.Cut(value, "/")
		if !ok {
			return nil, fmt.Errorf("malformed limit %q: expected name=rate/per", item)
		}
		rate, err := strconv.Atoi(strings.TrimSpace(rateStr))
		if err != nil {
			return nil, fmt.Errorf("malformed rate in %q: %w", item, err)
		}
		per, err := strconv.Atoi(strings.TrimSpace(perStr))
		if err != nil {
			return nil, fmt.Errorf("malformed period in %q: %w", item, err)
		}
		limits[strings.TrimSpace(name)] = models.LimitEntry{Rate: rate, Per: per, Bucket: models.BucketIP}
	}
	return limits, nil
}

// SaveExample saves an example configuration file
func SaveExample(filePath string) error {
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	config := models.NewDefaultConfig()
	config.Security.EnableAuth = true
	config.Security.AdminToken = "change-me"
	config.Security.APIRule = "api"
	config.Limits["api"] = models.LimitEntry{Rate: 100, Per: 60, Bucket: models.BucketIP, Description: "rules API"}
	config.Limiter.ReapInterval = time.Minute
	config.Server.TLSCertFile = "/path/to/cert.pem"
	config.Server.TLSKeyFile = "/path/to/key.pem"

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
