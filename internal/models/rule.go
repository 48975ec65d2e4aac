// Package models - Named rate limit rules.
//
// A rule binds a name (usually the route it throttles, such as "create" or
// "redirect") to a rate, a period in seconds and the client bucket keys are
// composed from. Rules are configuration, not limiter state: they may be
// persisted, limiter TATs never are.
package models

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Bucket values accepted by LimitRule.Bucket.
const (
	BucketIP   = "ip"
	BucketUser = "user"
)

var ruleNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]{0,63}$`)

// LimitRule is a persisted, named rate limit.
type LimitRule struct {
	Name        string    `json:"name" yaml:"name"`
	Rate        int       `json:"rate" yaml:"rate"`
	PerSeconds  int       `json:"per" yaml:"per"`
	Bucket      string    `json:"bucket" yaml:"bucket"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" yaml:"updated_at"`
}

// NewLimitRule creates a rule with timestamps set to now.
func NewLimitRule(name string, rate, perSeconds int, bucket string) *LimitRule {
	now := time.Now().UTC()
	return &LimitRule{
		Name:       name,
		Rate:       rate,
		PerSeconds: perSeconds,
		Bucket:     bucket,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Validate checks the rule's name, limit and bucket.
func (r *LimitRule) Validate() error {
	if r.Name == "" {
		return errors.New("rule name cannot be empty")
	}
	if !ruleNamePattern.MatchString(r.Name) {
		return fmt.Errorf("rule name %q must be lowercase alphanumeric with . _ or -", r.Name)
	}
	if r.Rate <= 0 {
		return fmt.Errorf("rate must be positive, got %d", r.Rate)
	}
	if r.PerSeconds <= 0 {
		return fmt.Errorf("per must be positive, got %d", r.PerSeconds)
	}
	switch strings.ToLower(r.Bucket) {
	case "", BucketIP, BucketUser:
	default:
		return fmt.Errorf("unsupported bucket: %q", r.Bucket)
	}
	return nil
}

// Normalize lowercases the bucket and fills in the default.
func (r *LimitRule) Normalize() {
	r.Bucket = strings.ToLower(strings.TrimSpace(r.Bucket))
	if r.Bucket == "" {
		r.Bucket = BucketIP
	}
}

// Period returns the rule's window as a duration.
func (r *LimitRule) Period() time.Duration {
	return time.Duration(r.PerSeconds) * time.Second
}
