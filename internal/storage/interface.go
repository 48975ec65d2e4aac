package storage

import (
	"context"

	"chii/internal/models"
)

// Storage defines persistence for named limit rules. It provides a clean
// abstraction that can be implemented by different backends such as JSON
// files or databases. Limiter state is never stored here.
type Storage interface {
	// Rules returns all rules sorted by name
	Rules(ctx context.Context) ([]*models.LimitRule, error)

	// GetRule retrieves a rule by name. Returns ErrRuleNotFound if absent.
	GetRule(ctx context.Context, name string) (*models.LimitRule, error)

	// SaveRule creates or replaces a rule. CreatedAt of an existing rule is kept.
	SaveRule(ctx context.Context, rule *models.LimitRule) error

	// DeleteRule removes a rule. Returns ErrRuleNotFound if absent.
	DeleteRule(ctx context.Context, name string) error

	// Ping verifies the storage backend is reachable and operational.
	Ping(ctx context.Context) error

	// Close closes the storage connection and cleans up resources
	Close() error
}

// Config holds configuration for storage backends
type Config struct {
	// Type specifies the storage backend type (json, memory, sqlite, postgres)
	Type string `json:"type" yaml:"type"`

	// Path is used for file-based storage backends
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// ConnectionString is used for database backends
	ConnectionString string `json:"connection_string,omitempty" yaml:"connection_string,omitempty"`

	// MaxOpenConns caps database connections; zero uses the driver default
	MaxOpenConns int `json:"max_open_conns,omitempty" yaml:"max_open_conns,omitempty"`
}
