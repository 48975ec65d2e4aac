package storage

import (
	"context"
	"errors"
	"fmt"

	"chii/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS limit_rules (
	name        TEXT PRIMARY KEY,
	rate        INTEGER NOT NULL CHECK (rate > 0),
	per_seconds INTEGER NOT NULL CHECK (per_seconds > 0),
	bucket      TEXT NOT NULL DEFAULT 'ip',
	description TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
)`

const selectRuleColumns = `SELECT name, rate, per_seconds, bucket, description, created_at, updated_at FROM limit_rules`

// PostgresStorage implements the Storage interface using PostgreSQL through
// a pgx connection pool.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresStorage creates a new PostgreSQL storage instance.
func NewPostgresStorage(config Config) (*PostgresStorage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for PostgreSQL storage")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if config.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(config.MaxOpenConns)
	}

	ctx := context.Background()
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &PostgresStorage{pool: pool}, nil
}

// Rules returns all rules sorted by name.
func (ps *PostgresStorage) Rules(ctx context.Context) ([]*models.LimitRule, error) {
	rows, err := ps.pool.Query(ctx, selectRuleColumns+` ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to get rules: %w", err)
	}

	rules, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByPos[pgRule])
	if err != nil {
		return nil, fmt.Errorf("failed to scan rules: %w", err)
	}

	result := make([]*models.LimitRule, 0, len(rules))
	for _, r := range rules {
		result = append(result, r.toModel())
	}
	return result, nil
}

// GetRule retrieves a rule by name.
func (ps *PostgresStorage) GetRule(ctx context.Context, name string) (*models.LimitRule, error) {
	rows, err := ps.pool.Query(ctx, selectRuleColumns+` WHERE name = $1`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}

	r, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByPos[pgRule])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("rule %s: %w", name, ErrRuleNotFound)
		}
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return r.toModel(), nil
}

// SaveRule stores or replaces a rule (upsert pattern), keeping created_at.
func (ps *PostgresStorage) SaveRule(ctx context.Context, rule *models.LimitRule) error {
	r := prepareForWrite(rule)
	_, err := ps.pool.Exec(ctx,
		`INSERT INTO limit_rules (name, rate, per_seconds, bucket, description, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (name) DO UPDATE SET
			rate = EXCLUDED.rate,
			per_seconds = EXCLUDED.per_seconds,
			bucket = EXCLUDED.bucket,
			description = EXCLUDED.description,
			updated_at = EXCLUDED.updated_at`,
		r.Name, r.Rate, r.PerSeconds, r.Bucket, r.Description, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save rule %s: %w", r.Name, err)
	}
	return nil
}

// DeleteRule removes a rule by name.
func (ps *PostgresStorage) DeleteRule(ctx context.Context, name string) error {
	tag, err := ps.pool.Exec(ctx, `DELETE FROM limit_rules WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("failed to delete rule %s: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("rule %s: %w", name, ErrRuleNotFound)
	}
	return nil
}

// Ping verifies the database connection.
func (ps *PostgresStorage) Ping(ctx context.Context) error {
	return ps.pool.Ping(ctx)
}

// Close closes the connection pool.
func (ps *PostgresStorage) Close() error {
	ps.pool.Close()
	return nil
}
