package config

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotConfigured marks an optional setting that was deliberately left out.
var ErrNotConfigured = errors.New("not configured")

// Error categories.
const (
	CategoryMissing       = "missing"
	CategoryInvalid       = "invalid"
	CategoryNotConfigured = "not_configured"
)

// ConfigError describes a bad or absent setting together with what to do
// about it. Field is the dotted key, e.g. "database.connectionstring".
//
//nolint:revive // config.ConfigError reads better than config.Error at call sites
type ConfigError struct {
	Category string
	Field    string
	Message  string
	Action   string
	Details  []string
	Err      error
}

// Error renders "config_<category>: <field> <message> <action>" with details
// and the cause appended. Setting values are never included.
func (e *ConfigError) Error() string {
	var b strings.Builder
	add := func(s string) {
		if s == "" {
			return
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(s)
	}

	if e.Category != "" {
		add("config_" + e.Category + ":")
	}
	add(e.Field)
	add(e.Message)
	add(e.Action)
	add(strings.Join(e.Details, "; "))
	if e.Err != nil {
		add("(" + e.Err.Error() + ")")
	}
	return b.String()
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewMissingFieldError reports a required key with no value from any source.
func NewMissingFieldError(key string) *ConfigError {
	return &ConfigError{
		Category: CategoryMissing,
		Field:    key,
		Message:  "required",
		Action:   howToSet(key),
	}
}

// NewInvalidFieldError reports a value that cannot be used. validOptions,
// when given, are listed in the action.
func NewInvalidFieldError(key, message string, validOptions []string) *ConfigError {
	err := &ConfigError{Category: CategoryInvalid, Field: key, Message: message}
	if len(validOptions) > 0 {
		err.Action = "must be one of: " + strings.Join(validOptions, ", ")
	}
	return err
}

// NewNotConfiguredError reports that feature is off because key is unset.
// It matches ErrNotConfigured.
func NewNotConfiguredError(feature, key string) *ConfigError {
	return &ConfigError{
		Category: CategoryNotConfigured,
		Field:    feature,
		Message:  "(optional)",
		Action:   "to enable: " + howToSet(key),
		Err:      ErrNotConfigured,
	}
}

// NewValidationError reports a value outside its allowed range.
func NewValidationError(key, message string) *ConfigError {
	return &ConfigError{Category: CategoryInvalid, Field: key, Message: message}
}

// IsNotConfigured reports whether err says a feature was left unconfigured.
func IsNotConfigured(err error) bool {
	if errors.Is(err, ErrNotConfigured) {
		return true
	}
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr) && cfgErr.Category == CategoryNotConfigured
}

func howToSet(key string) string {
	return fmt.Sprintf("set %s env var or add %s to config.yaml", EnvVarFor(key), key)
}
