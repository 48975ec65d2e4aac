package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"chii/internal/models"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS limit_rules (
	name        TEXT PRIMARY KEY,
	rate        INTEGER NOT NULL CHECK (rate > 0),
	per_seconds INTEGER NOT NULL CHECK (per_seconds > 0),
	bucket      TEXT NOT NULL DEFAULT 'ip',
	description TEXT NOT NULL DEFAULT '',
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
)`

// SQLiteStorage implements the Storage interface using the pure-Go SQLite
// driver. The schema is created on open.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(config Config) (*SQLiteStorage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for SQLite storage")
	}

	db, err := sql.Open("sqlite", config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Rules returns all rules sorted by name
func (ss *SQLiteStorage) Rules(ctx context.Context) ([]*models.LimitRule, error) {
	rows, err := ss.db.QueryContext(ctx,
		`SELECT name, rate, per_seconds, bucket, description, created_at, updated_at
		 FROM limit_rules ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	rules := []*models.LimitRule{}
	for rows.Next() {
		rule, err := scanSQLiteRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rules: %w", err)
	}
	return rules, nil
}

// GetRule retrieves a rule by name
func (ss *SQLiteStorage) GetRule(ctx context.Context, name string) (*models.LimitRule, error) {
	row := ss.db.QueryRowContext(ctx,
		`SELECT name, rate, per_seconds, bucket, description, created_at, updated_at
		 FROM limit_rules WHERE name = ?`, name)
	rule, err := scanSQLiteRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rule %s: %w", name, ErrRuleNotFound)
	}
	return rule, err
}

// SaveRule stores or replaces a rule, keeping the original created_at
func (ss *SQLiteStorage) SaveRule(ctx context.Context, rule *models.LimitRule) error {
	r := prepareForWrite(rule)
	_, err := ss.db.ExecContext(ctx,
		`INSERT INTO limit_rules (name, rate, per_seconds, bucket, description, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
			rate = excluded.rate,
			per_seconds = excluded.per_seconds,
			bucket = excluded.bucket,
			description = excluded.description,
			updated_at = excluded.updated_at`,
		r.Name, r.Rate, r.PerSeconds, r.Bucket, r.Description,
		formatSQLiteTime(r.CreatedAt), formatSQLiteTime(r.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save rule %s: %w", r.Name, err)
	}
	return nil
}

// DeleteRule removes a rule by name
func (ss *SQLiteStorage) DeleteRule(ctx context.Context, name string) error {
	res, err := ss.db.ExecContext(ctx, `DELETE FROM limit_rules WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete rule %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete rule %s: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("rule %s: %w", name, ErrRuleNotFound)
	}
	return nil
}

// Ping verifies the database connection
func (ss *SQLiteStorage) Ping(ctx context.Context) error {
	return ss.db.PingContext(ctx)
}

// Close closes the storage connection
func (ss *SQLiteStorage) Close() error {
	return ss.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRule(row rowScanner) (*models.LimitRule, error) {
	var (
		rule               models.LimitRule
		createdAt, updated string
	)
	err := row.Scan(&rule.Name, &rule.Rate, &rule.PerSeconds, &rule.Bucket,
		&rule.Description, &createdAt, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan rule: %w", err)
	}
	if rule.CreatedAt, err = parseSQLiteTime(createdAt); err != nil {
		return nil, err
	}
	if rule.UpdatedAt, err = parseSQLiteTime(updated); err != nil {
		return nil, err
	}
	return &rule, nil
}
