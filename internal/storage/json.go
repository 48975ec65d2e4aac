package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"chii/internal/models"
)

// JSONStorage implements the Storage interface using a JSON file for
// persistence. Rules are cached in memory and reloaded when the file's
// modification time changes, so operators can edit the file in place.
type JSONStorage struct {
	filePath     string
	mu           sync.RWMutex
	data         *JSONData
	lastModified time.Time
}

// JSONData represents the structure of data stored in JSON format
type JSONData struct {
	Rules       []*models.LimitRule `json:"rules"`
	LastUpdated time.Time           `json:"last_updated"`
}

// NewJSONStorage creates a new JSON-based storage instance
func NewJSONStorage(config Config) (*JSONStorage, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("path is required for JSON storage")
	}

	storage := &JSONStorage{
		filePath: config.Path,
	}

	// Initialize with empty data if file doesn't exist
	if err := storage.ensureFileExists(); err != nil {
		return nil, fmt.Errorf("failed to ensure file exists: %w", err)
	}

	if err := storage.loadData(); err != nil {
		return nil, fmt.Errorf("failed to load initial data: %w", err)
	}

	return storage, nil
}

// ensureFileExists creates the JSON file with empty data if it doesn't exist
func (j *JSONStorage) ensureFileExists() error {
	if _, err := os.Stat(j.filePath); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(j.filePath), 0700); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}

		j.mu.Lock()
		defer j.mu.Unlock()
		return j.saveDataLocked(&JSONData{Rules: []*models.LimitRule{}})
	}
	return nil
}

// loadData reloads the file when it changed since the last read.
// It uses double-checked locking: a read-lock stat for the common
// unchanged case, and a write-lock slow path that re-validates.
func (j *JSONStorage) loadData() error {
	info, err := os.Stat(j.filePath)
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	j.mu.RLock()
	fresh := j.data != nil && !info.ModTime().After(j.lastModified)
	j.mu.RUnlock()
	if fresh {
		return nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.data != nil && !info.ModTime().After(j.lastModified) {
		return nil
	}

	fileData, err := os.ReadFile(j.filePath)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var data JSONData
	if err := json.Unmarshal(fileData, &data); err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	if data.Rules == nil {
		data.Rules = []*models.LimitRule{}
	}

	j.data = &data
	j.lastModified = info.ModTime()
	return nil
}

// saveDataLocked writes data to a temporary file and renames it over the
// target. Callers must hold j.mu.
func (j *JSONStorage) saveDataLocked(data *JSONData) error {
	data.LastUpdated = time.Now().UTC()

	fileData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	tmp := j.filePath + ".tmp"
	if err := os.WriteFile(tmp, fileData, 0600); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Rename(tmp, j.filePath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace file: %w", err)
	}

	if info, err := os.Stat(j.filePath); err == nil {
		j.lastModified = info.ModTime()
	}
	j.data = data
	return nil
}

// Rules returns all rules sorted by name
func (j *JSONStorage) Rules(ctx context.Context) ([]*models.LimitRule, error) {
	if err := j.loadData(); err != nil {
		return nil, err
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	rules := make([]*models.LimitRule, 0, len(j.data.Rules))
	for _, rule := range j.data.Rules {
		ruleCopy := *rule
		rules = append(rules, &ruleCopy)
	}
	sort.Slice(rules, func(a, b int) bool {
		return rules[a].Name < rules[b].Name
	})
	return rules, nil
}

// GetRule retrieves a rule by name
func (j *JSONStorage) GetRule(ctx context.Context, name string) (*models.LimitRule, error) {
	if err := j.loadData(); err != nil {
		return nil, err
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	for _, rule := range j.data.Rules {
		if rule.Name == name {
			ruleCopy := *rule
			return &ruleCopy, nil
		}
	}
	return nil, fmt.Errorf("rule %s: %w", name, ErrRuleNotFound)
}

// SaveRule stores or replaces a rule
func (j *JSONStorage) SaveRule(ctx context.Context, rule *models.LimitRule) error {
	if err := j.loadData(); err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	ruleCopy := *rule
	if ruleCopy.CreatedAt.IsZero() {
		ruleCopy.CreatedAt = time.Now().UTC()
	}
	if ruleCopy.UpdatedAt.IsZero() {
		ruleCopy.UpdatedAt = ruleCopy.CreatedAt
	}

	rules := make([]*models.LimitRule, 0, len(j.data.Rules)+1)
	replaced := false
	for _, existing := range j.data.Rules {
		if existing.Name == rule.Name {
			ruleCopy.CreatedAt = existing.CreatedAt
			rules = append(rules, &ruleCopy)
			replaced = true
			continue
		}
		rules = append(rules, existing)
	}
	if !replaced {
		rules = append(rules, &ruleCopy)
	}

	return j.saveDataLocked(&JSONData{Rules: rules})
}

// DeleteRule removes a rule by name
func (j *JSONStorage) DeleteRule(ctx context.Context, name string) error {
	if err := j.loadData(); err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	rules := make([]*models.LimitRule, 0, len(j.data.Rules))
	found := false
	for _, existing := range j.data.Rules {
		if existing.Name == name {
			found = true
			continue
		}
		rules = append(rules, existing)
	}
	if !found {
		return fmt.Errorf("rule %s: %w", name, ErrRuleNotFound)
	}

	return j.saveDataLocked(&JSONData{Rules: rules})
}

// Ping verifies the backing file is still readable.
func (j *JSONStorage) Ping(_ context.Context) error {
	if _, err := os.Stat(j.filePath); err != nil {
		return fmt.Errorf("json storage unavailable: %w", err)
	}
	return nil
}

// Close clears the cache
func (j *JSONStorage) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.data = nil
	j.lastModified = time.Time{}

	return nil
}
