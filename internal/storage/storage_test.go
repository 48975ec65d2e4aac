package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"chii/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStorageContract exercises the behavior every backend must share.
func runStorageContract(t *testing.T, s Storage) {
	t.Helper()
	ctx := context.Background()

	existing, err := s.Rules(ctx)
	require.NoError(t, err)
	for _, rule := range existing {
		require.NoError(t, s.DeleteRule(ctx, rule.Name))
	}

	t.Run("empty", func(t *testing.T) {
		rules, err := s.Rules(ctx)
		require.NoError(t, err)
		assert.Empty(t, rules)

		_, err = s.GetRule(ctx, "missing")
		assert.True(t, errors.Is(err, ErrRuleNotFound))
	})

	t.Run("save and get", func(t *testing.T) {
		rule := models.NewLimitRule("create", 5, 10, models.BucketIP)
		rule.Description = "link creation"
		require.NoError(t, s.SaveRule(ctx, rule))

		got, err := s.GetRule(ctx, "create")
		require.NoError(t, err)
		assert.Equal(t, "create", got.Name)
		assert.Equal(t, 5, got.Rate)
		assert.Equal(t, 10, got.PerSeconds)
		assert.Equal(t, models.BucketIP, got.Bucket)
		assert.Equal(t, "link creation", got.Description)
		assert.WithinDuration(t, rule.CreatedAt, got.CreatedAt, time.Millisecond)
	})

	t.Run("replace keeps created_at", func(t *testing.T) {
		original, err := s.GetRule(ctx, "create")
		require.NoError(t, err)

		updated := models.NewLimitRule("create", 10, 60, models.BucketUser)
		updated.CreatedAt = original.CreatedAt.Add(time.Hour)
		updated.UpdatedAt = original.UpdatedAt.Add(time.Hour)
		require.NoError(t, s.SaveRule(ctx, updated))

		got, err := s.GetRule(ctx, "create")
		require.NoError(t, err)
		assert.Equal(t, 10, got.Rate)
		assert.Equal(t, 60, got.PerSeconds)
		assert.Equal(t, models.BucketUser, got.Bucket)
		assert.WithinDuration(t, original.CreatedAt, got.CreatedAt, time.Millisecond)
		assert.True(t, got.UpdatedAt.After(original.UpdatedAt))
	})

	t.Run("list sorted by name", func(t *testing.T) {
		require.NoError(t, s.SaveRule(ctx, models.NewLimitRule("redirect", 60, 60, models.BucketIP)))
		require.NoError(t, s.SaveRule(ctx, models.NewLimitRule("api", 100, 60, models.BucketIP)))

		rules, err := s.Rules(ctx)
		require.NoError(t, err)
		require.Len(t, rules, 3)
		assert.Equal(t, "api", rules[0].Name)
		assert.Equal(t, "create", rules[1].Name)
		assert.Equal(t, "redirect", rules[2].Name)
	})

	t.Run("returned rules are copies", func(t *testing.T) {
		got, err := s.GetRule(ctx, "redirect")
		require.NoError(t, err)
		got.Rate = 1

		again, err := s.GetRule(ctx, "redirect")
		require.NoError(t, err)
		assert.Equal(t, 60, again.Rate)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, s.DeleteRule(ctx, "api"))

		_, err := s.GetRule(ctx, "api")
		assert.True(t, errors.Is(err, ErrRuleNotFound))

		err = s.DeleteRule(ctx, "api")
		assert.True(t, errors.Is(err, ErrRuleNotFound))
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, s.Ping(ctx))
	})
}
