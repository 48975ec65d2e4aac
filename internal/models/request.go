// Package models - API request types.
package models

import (
	"errors"
	"strings"
)

// CheckRequest asks whether one event for Key is admitted under a named rule.
// The key is opaque to the limiter; callers conventionally send
// "{client}@{route}".
type CheckRequest struct {
	Key string `json:"key"`
}

func (r *CheckRequest) Validate() error {
	if strings.TrimSpace(r.Key) == "" {
		return errors.New("key is required")
	}
	if len(r.Key) > 512 {
		return errors.New("key must be at most 512 characters")
	}
	return nil
}

// SaveRuleRequest creates or replaces a named rule. The name comes from the
// URL path.
type SaveRuleRequest struct {
	Rate        int    `json:"rate"`
	Per         int    `json:"per"`
	Bucket      string `json:"bucket,omitempty"`
	Description string `json:"description,omitempty"`
}

// ToRule builds a LimitRule named name from the request.
func (r *SaveRuleRequest) ToRule(name string) *LimitRule {
	rule := NewLimitRule(name, r.Rate, r.Per, r.Bucket)
	rule.Description = r.Description
	rule.Normalize()
	return rule
}
