package models

import (
	"errors"
	"fmt"
)

// ErrInvalidConfiguration marks caller-level configuration mistakes.
// They are raised before any I/O and never retried.
var ErrInvalidConfiguration = errors.New("invalid configuration")

// ConfigError names the offending field.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrInvalidConfiguration }
