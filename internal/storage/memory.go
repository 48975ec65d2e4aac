package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"chii/internal/models"
)

// MemoryStorage implements the Storage interface using an in-memory map.
// This provider is ideal for development, testing, and deployments where
// rules come entirely from the config file. Data is lost on restart.
type MemoryStorage struct {
	mu    sync.RWMutex
	rules map[string]*models.LimitRule
}

// NewMemoryStorage creates a new memory-based storage instance
func NewMemoryStorage(config Config) (*MemoryStorage, error) {
	return &MemoryStorage{
		rules: make(map[string]*models.LimitRule),
	}, nil
}

// Rules returns all rules sorted by name
func (m *MemoryStorage) Rules(ctx context.Context) ([]*models.LimitRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rules := make([]*models.LimitRule, 0, len(m.rules))
	for _, rule := range m.rules {
		// Return a copy to prevent external modification
		ruleCopy := *rule
		rules = append(rules, &ruleCopy)
	}

	sort.Slice(rules, func(i, j int) bool {
		return rules[i].Name < rules[j].Name
	})

	return rules, nil
}

// GetRule retrieves a rule by name
func (m *MemoryStorage) GetRule(ctx context.Context, name string) (*models.LimitRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rule, exists := m.rules[name]
	if !exists {
		return nil, fmt.Errorf("rule %s: %w", name, ErrRuleNotFound)
	}

	ruleCopy := *rule
	return &ruleCopy, nil
}

// SaveRule stores or replaces a rule
func (m *MemoryStorage) SaveRule(ctx context.Context, rule *models.LimitRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ruleCopy := *rule
	if existing, ok := m.rules[rule.Name]; ok && !existing.CreatedAt.IsZero() {
		ruleCopy.CreatedAt = existing.CreatedAt
	}
	if ruleCopy.CreatedAt.IsZero() {
		ruleCopy.CreatedAt = time.Now().UTC()
	}
	if ruleCopy.UpdatedAt.IsZero() {
		ruleCopy.UpdatedAt = ruleCopy.CreatedAt
	}
	m.rules[rule.Name] = &ruleCopy

	return nil
}

// DeleteRule removes a rule by name
func (m *MemoryStorage) DeleteRule(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.rules[name]; !exists {
		return fmt.Errorf("rule %s: %w", name, ErrRuleNotFound)
	}

	delete(m.rules, name)
	return nil
}

// Ping verifies the storage backend is reachable and operational.
func (m *MemoryStorage) Ping(_ context.Context) error {
	return nil
}

// Close clears all rules
func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = make(map[string]*models.LimitRule)
	return nil
}
