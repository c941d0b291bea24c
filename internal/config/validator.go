package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// RegisterCustomValidators registers the aigate validation tags.
func RegisterCustomValidators(v *validator.Validate) error {
	custom := map[string]validator.Func{
		"audit_output": validateAuditOutput,
		"duration":     validateDuration,
		"key_hash":     validateKeyHash,
	}
	for tag, fn := range custom {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return fmt.Errorf("failed to register %s validator: %w", tag, err)
		}
	}
	return nil
}

// validateAuditOutput accepts the sink names and file://<absolute-dir>.
func validateAuditOutput(fl validator.FieldLevel) bool {
	output := fl.Field().String()
	switch output {
	case "memory", "stdout", "file", "sql", "clickhouse":
		return true
	}
	dir, ok := cutFilePrefix(output)
	return ok && dir != "" && filepath.IsAbs(dir)
}

func validateDuration(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(fl.Field().String())
	return err == nil && d >= 0
}

func validateKeyHash(fl validator.FieldLevel) bool {
	h := fl.Field().String()
	return strings.HasPrefix(h, "$argon2id$") || (strings.HasPrefix(h, "sha256:") && len(h) > len("sha256:"))
}

func cutFilePrefix(output string) (string, bool) {
	return strings.CutPrefix(output, "file://")
}

// Validate checks struct tags and cross-field rules.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := RegisterCustomValidators(v); err != nil {
		return err
	}
	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateAuditSink(); err != nil {
		return err
	}
	return c.validateUniqueKeys()
}

// validateStore requires the connection settings each driver needs.
func (c *Config) validateStore() error {
	switch c.Store.Driver {
	case "postgres", "sqlite":
		if c.Store.DSN == "" {
			return fmt.Errorf("store: dsn is required for driver %s", c.Store.Driver)
		}
	case "file":
		if c.Store.StatePath == "" {
			return errors.New("store: state_path is required for driver file")
		}
	}
	return nil
}

// validateAuditSink checks that the chosen audit output can be built.
func (c *Config) validateAuditSink() error {
	switch c.AuditSink() {
	case "clickhouse":
		if c.Audit.ClickHouseDSN == "" {
			return errors.New("audit: clickhouse_dsn is required for output clickhouse")
		}
	case "sql":
		if c.Store.Driver != "postgres" && c.Store.Driver != "sqlite" {
			return errors.New("audit: output sql requires store driver postgres or sqlite")
		}
	case "file":
		if c.AuditFileDir() == "" {
			return errors.New("audit: audit_file.dir is required for output file")
		}
	}
	return nil
}

func (c *Config) validateUniqueKeys() error {
	seen := make(map[string]int, len(c.Auth.APIKeys))
	for i, k := range c.Auth.APIKeys {
		if j, dup := seen[k.KeyHash]; dup {
			return fmt.Errorf("auth.api_keys[%d]: duplicate key_hash (also api_keys[%d])", i, j)
		}
		seen[k.KeyHash] = i
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to readable messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		messages := make([]string, 0, len(validationErrors))
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "required_with":
		return fmt.Sprintf("%s is required when %s is set", field, e.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "startswith":
		return fmt.Sprintf("%s must start with %q", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "duration":
		return fmt.Sprintf("%s must be a duration such as 30s or 5m", field)
	case "key_hash":
		return fmt.Sprintf("%s must be an argon2id hash or 'sha256:<hex>'", field)
	case "audit_output":
		return fmt.Sprintf("%s must be memory, stdout, file, sql, clickhouse or 'file://<absolute-dir>'", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, e.Tag())
	}
}
