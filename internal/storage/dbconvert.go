package storage

import (
	"fmt"
	"time"

	"chii/internal/models"
)

// sqliteTimeLayout is the text encoding used for timestamps in SQLite, which
// has no native time type.
const sqliteTimeLayout = time.RFC3339Nano

// formatSQLiteTime encodes t for a TEXT column.
func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

// parseSQLiteTime decodes a TEXT column written by formatSQLiteTime.
func parseSQLiteTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(sqliteTimeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t, nil
}

// prepareForWrite fills in timestamps and the default bucket before a rule
// is written to a database backend.
func prepareForWrite(rule *models.LimitRule) models.LimitRule {
	ruleCopy := *rule
	ruleCopy.Normalize()
	now := time.Now().UTC()
	if ruleCopy.CreatedAt.IsZero() {
		ruleCopy.CreatedAt = now
	}
	if ruleCopy.UpdatedAt.IsZero() {
		ruleCopy.UpdatedAt = now
	}
	return ruleCopy
}

// pgRule mirrors a limit_rules row in column order for pgx.RowToStructByPos.
type pgRule struct {
	Name        string
	Rate        int32
	PerSeconds  int32
	Bucket      string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (r *pgRule) toModel() *models.LimitRule {
	return &models.LimitRule{
		Name:        r.Name,
		Rate:        int(r.Rate),
		PerSeconds:  int(r.PerSeconds),
		Bucket:      r.Bucket,
		Description: r.Description,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
}
