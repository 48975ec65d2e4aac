package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"chii/internal/models"
)

// Factory provides a centralized way to create storage instances based on configuration.
type Factory struct{}

// NewFactory creates a new storage factory
func NewFactory() *Factory {
	return &Factory{}
}

// Create instantiates a storage provider based on the provided configuration.
// Supported providers:
//   - json: JSON file-based storage
//   - memory: In-memory storage (rules come from config only)
//   - postgres: PostgreSQL database storage
//   - sqlite: SQLite database storage
func (f *Factory) Create(config models.StorageConfig) (Storage, error) {
	if err := f.ValidateConfig(config); err != nil {
		return nil, err
	}

	storageConfig := Config{
		Type:             config.Type,
		Path:             config.Path,
		ConnectionString: config.Database.DSN,
		MaxOpenConns:     config.Database.MaxOpenConns,
	}

	switch config.Type {
	case models.StorageTypeJSON:
		return NewJSONStorage(storageConfig)
	case models.StorageTypeMemory:
		return NewMemoryStorage(storageConfig)
	case models.StorageTypePostgres:
		return NewPostgresStorage(storageConfig)
	case models.StorageTypeSQLite:
		return NewSQLiteStorage(storageConfig)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", config.Type)
	}
}

// GetSupportedProviders returns a list of all supported storage provider types
func (f *Factory) GetSupportedProviders() []string {
	return []string{models.StorageTypeJSON, models.StorageTypeMemory, models.StorageTypePostgres, models.StorageTypeSQLite}
}

// ValidateConfig validates that a storage configuration is valid for its type
func (f *Factory) ValidateConfig(config models.StorageConfig) error {
	switch config.Type {
	case models.StorageTypeJSON:
		if config.Path == "" {
			return fmt.Errorf("path is required for JSON storage")
		}
	case models.StorageTypeMemory:
		// Memory storage requires no additional configuration
	case models.StorageTypePostgres, models.StorageTypeSQLite:
		if config.Database.DSN == "" {
			return fmt.Errorf("database DSN is required for %s storage", config.Type)
		}
	default:
		return fmt.Errorf("unsupported storage type: %s", config.Type)
	}
	return nil
}

// Seed inserts the configured limits that are not yet stored. Rules that
// already exist are left alone so edits made through the API survive a
// restart. It returns the number of rules inserted.
func Seed(ctx context.Context, store Storage, limits map[string]models.LimitEntry) (int, error) {
	names := make([]string, 0, len(limits))
	for name := range limits {
		names = append(names, name)
	}
	sort.Strings(names)

	seeded := 0
	for _, name := range names {
		_, err := store.GetRule(ctx, name)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrRuleNotFound) {
			return seeded, fmt.Errorf("seed rule %s: %w", name, err)
		}

		entry := limits[name]
		rule := models.NewLimitRule(name, entry.Rate, entry.Per, entry.Bucket)
		rule.Description = entry.Description
		rule.Normalize()
		if err := rule.Validate(); err != nil {
			return seeded, fmt.Errorf("seed rule %s: %w", name, err)
		}
		if err := store.SaveRule(ctx, rule); err != nil {
			return seeded, fmt.Errorf("seed rule %s: %w", name, err)
		}
		slog.Info("Limit rule seeded", "rule", name, "rate", entry.Rate, "per", entry.Per)
		seeded++
	}
	return seeded, nil
}
