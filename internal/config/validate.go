package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/liamcoop/rulecheck/internal/logger"
	"github.com/liamcoop/rulecheck/rules"
)

var namespacePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// FieldError is a problem with one configuration field.
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError collects every field problem found.
type ValidationError struct {
	Errors []FieldError
}

func (e ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return "configuration validation failed: " + e.Errors[0].Error()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "configuration validation failed with %d errors:", len(e.Errors))
	for _, err := range e.Errors {
		sb.WriteString("\n  - ")
		sb.WriteString(err.Error())
	}
	return sb.String()
}

// Validate checks cfg after defaults have been applied.
func Validate(cfg *Config) error {
	var errs []FieldError
	add := func(field, format string, args ...any) {
		errs = append(errs, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if port, err := strconv.Atoi(cfg.Server.Port); err != nil || port < 1 || port > 65535 {
		add("server.port", "must be a port number, got %q", cfg.Server.Port)
	}
	if cfg.Server.MaxBodyBytes < 0 {
		add("server.max_body_bytes", "cannot be negative")
	}
	if cfg.Server.RequestTimeout < 0 {
		add("server.request_timeout", "cannot be negative")
	}

	if cfg.Engine.Workers < 0 {
		add("engine.workers", "cannot be negative")
	}
	if cfg.Engine.MaxRules < 0 {
		add("engine.max_rules", "cannot be negative")
	}
	if cfg.Engine.MaxRecords < 0 {
		add("engine.max_records", "cannot be negative")
	}
	if cfg.Engine.CacheTTL < 0 {
		add("engine.cache_ttl", "cannot be negative")
	}
	if cfg.Engine.CacheMaxEntries < 0 {
		add("engine.cache_max_entries", "cannot be negative")
	}
	for i, f := range cfg.Engine.IDFields {
		if strings.TrimSpace(f) == "" {
			add(fmt.Sprintf("engine.id_fields[%d]", i), "cannot be blank")
		}
	}

	if cfg.Anomalies.RoundUnit < 0 {
		add("anomalies.round_unit", "cannot be negative")
	}
	if cfg.Anomalies.OutlierFence < 0 {
		add("anomalies.outlier_fence", "cannot be negative")
	}
	if cfg.Anomalies.MinSamples < 0 {
		add("anomalies.min_samples", "cannot be negative")
	}

	if !namespacePattern.MatchString(cfg.Metrics.Namespace) {
		add("metrics.namespace", "must be a valid Prometheus name, got %q", cfg.Metrics.Namespace)
	}
	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		add("metrics.path", "must start with /")
	}

	if _, err := logger.ParseLevel(cfg.Logging.Level); err != nil {
		add("logging.level", "%v", err)
	}
	if cfg.Logging.SampleRate < 1 {
		add("logging.sample_rate", "must be at least 1")
	}

	if err := rules.ValidatePolicies(cfg.Remediation.Policies); err != nil {
		add("remediation.policies", "%v", err)
	}

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}
