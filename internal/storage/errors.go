package storage

import "errors"

// ErrRuleNotFound is returned when a named rule does not exist.
var ErrRuleNotFound = errors.New("rule not found")
