package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML file at path, applies defaults and environment
// overrides, and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
		}
	}

	ApplyDefaults(&cfg)
	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides applies RULECHECK_SECTION_FIELD variables, plus PORT and
// LOG_LEVEL. The RULECHECK_ names win over the short ones.
func applyEnvOverrides(cfg *Config) error {
	var errs []FieldError
	str := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	integer := func(name string, dst *int) {
		if v := os.Getenv(name); v != "" {
			i, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, FieldError{Field: name, Message: "must be an integer"})
				return
			}
			*dst = i
		}
	}
	boolean := func(name string, dst **bool) {
		if v := os.Getenv(name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, FieldError{Field: name, Message: "must be true or false"})
				return
			}
			*dst = &b
		}
	}
	duration := func(name string, dst *time.Duration) {
		if v := os.Getenv(name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, FieldError{Field: name, Message: "must be a duration such as 30s"})
				return
			}
			*dst = d
		}
	}

	str("PORT", &cfg.Server.Port)
	str("RULECHECK_SERVER_PORT", &cfg.Server.Port)
	duration("RULECHECK_SERVER_REQUEST_TIMEOUT", &cfg.Server.RequestTimeout)
	if v := os.Getenv("RULECHECK_SERVER_MAX_BODY_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, FieldError{Field: "RULECHECK_SERVER_MAX_BODY_BYTES", Message: "must be an integer"})
		} else {
			cfg.Server.MaxBodyBytes = n
		}
	}

	integer("RULECHECK_ENGINE_WORKERS", &cfg.Engine.Workers)
	integer("RULECHECK_ENGINE_MAX_RULES", &cfg.Engine.MaxRules)
	integer("RULECHECK_ENGINE_MAX_RECORDS", &cfg.Engine.MaxRecords)
	boolean("RULECHECK_ENGINE_BLANK_AS_NULL", &cfg.Engine.BlankAsNull)
	duration("RULECHECK_ENGINE_CACHE_TTL", &cfg.Engine.CacheTTL)
	if v := os.Getenv("RULECHECK_ENGINE_ID_FIELDS"); v != "" {
		cfg.Engine.IDFields = splitList(v)
	}

	boolean("RULECHECK_METRICS_ENABLED", &cfg.Metrics.Enabled)
	str("RULECHECK_METRICS_NAMESPACE", &cfg.Metrics.Namespace)

	str("LOG_LEVEL", &cfg.Logging.Level)
	str("RULECHECK_LOGGING_LEVEL", &cfg.Logging.Level)
	integer("RULECHECK_LOGGING_SAMPLE_RATE", &cfg.Logging.SampleRate)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
