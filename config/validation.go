package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Database vendor constants
const (
	PostgreSQL = "postgresql"
	Oracle     = "oracle"
	SQLServer  = "sqlserver"
	SQLite     = "sqlite"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("koanf"), ",")
			if name == "" || name == "-" {
				return f.Name
			}
			return name
		})
	})
	return validate
}

// Validate checks cfg against its struct rules and returns the first problem
// as a *ConfigError naming the dotted key and its environment variable.
func Validate(cfg *Config) error {
	err := structValidator().Struct(cfg)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	fe := fieldErrs[0]
	return fieldError(fieldPath(fe.Namespace()), fe)
}

// fieldPath strips the root type name: "Config.database.vendor" -> "database.vendor".
func fieldPath(namespace string) string {
	_, rest, found := strings.Cut(namespace, ".")
	if !found {
		return namespace
	}
	return rest
}

func fieldError(path string, fe validator.FieldError) *ConfigError {
	switch fe.Tag() {
	case "required":
		return NewMissingFieldError(path)
	case "oneof":
		return NewInvalidFieldError(path, fmt.Sprintf("unsupported value %q", fmt.Sprint(fe.Value())), strings.Fields(fe.Param()))
	case "gte":
		return NewValidationError(path, fmt.Sprintf("must be at least %s", fe.Param()))
	case "lte":
		return NewValidationError(path, fmt.Sprintf("must be at most %s", fe.Param()))
	default:
		return NewValidationError(path, fmt.Sprintf("failed %s validation", fe.Tag()))
	}
}
