// Package config loads the server and CLI configuration: a YAML file,
// defaults for everything it leaves out, then environment overrides.
package config

import (
	"log/slog"
	"time"

	"github.com/liamcoop/rulecheck/rules"
)

// Config is the complete runtime configuration.
type Config struct {
	Server      ServerConfig         `yaml:"server"`
	Engine      EngineConfig         `yaml:"engine"`
	Metrics     MetricsConfig        `yaml:"metrics"`
	Logging     LoggingConfig        `yaml:"logging"`
	Remediation RemediationConfig    `yaml:"remediation"`
	Anomalies   rules.AnomalyOptions `yaml:"anomalies"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// Port to listen on. Default: "8080"
	Port string `yaml:"port"`

	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// RequestTimeout bounds a single request, validation included.
	// Default: 60s
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// SlowRequestThreshold marks requests worth a warning. Default: 2s
	SlowRequestThreshold time.Duration `yaml:"slow_request_threshold"`

	// MaxBodyBytes caps request bodies. Default: 10MB
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

// EngineConfig configures rule evaluation.
type EngineConfig struct {
	// Workers is the per-record worker pool size. 0 means one per CPU.
	Workers int `yaml:"workers"`

	// MaxRules and MaxRecords cap a single validation request.
	MaxRules   int `yaml:"max_rules"`
	MaxRecords int `yaml:"max_records"`

	// BlankAsNull binds blank strings as null. Default: true
	BlankAsNull *bool `yaml:"blank_as_null"`

	// IDFields are tried in order for a record's reporting identifier.
	IDFields []string `yaml:"id_fields"`

	// CacheTTL expires compiled programs; 0 keeps them until evicted.
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// CacheMaxEntries bounds the program cache. Default: 1024
	CacheMaxEntries int `yaml:"cache_max_entries"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Enabled exposes metrics. Default: true
	Enabled *bool `yaml:"enabled"`

	// Namespace prefixes every metric name. Default: "rulecheck"
	Namespace string `yaml:"namespace"`

	// Path serves the metrics. Default: "/metrics"
	Path string `yaml:"path"`
}

// LoggingConfig configures internal/logger.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	SampleRate  int    `yaml:"sample_rate"`
	OTEL        bool   `yaml:"otel"`
	ServiceName string `yaml:"service_name"`
}

// RemediationConfig replaces the built-in remediation table when Policies
// is non-empty.
type RemediationConfig struct {
	Policies []rules.RemediationPolicy `yaml:"policies"`
}

// MetricsEnabled reports the effective metrics switch.
func (c *Config) MetricsEnabled() bool {
	return c.Metrics.Enabled == nil || *c.Metrics.Enabled
}

// BindOptions returns the engine's record binding options.
func (c *Config) BindOptions() rules.BindOptions {
	return rules.BindOptions{
		BlankAsNull: c.Engine.BlankAsNull == nil || *c.Engine.BlankAsNull,
		IDFields:    c.Engine.IDFields,
	}
}

// CacheConfig returns the program cache settings.
func (c *Config) CacheConfig() rules.CacheConfig {
	return rules.CacheConfig{TTL: c.Engine.CacheTTL, MaxEntries: c.Engine.CacheMaxEntries}
}

// Planner returns the remediation planner for the configured policies.
func (c *Config) Planner() *rules.Planner {
	if len(c.Remediation.Policies) == 0 {
		return rules.DefaultPlanner()
	}
	return rules.NewPlanner(c.Remediation.Policies)
}

// EngineOptions returns the engine options for this configuration. log and
// recorder may be nil.
func (c *Config) EngineOptions(log *slog.Logger, recorder rules.Recorder) []rules.Option {
	opts := []rules.Option{
		rules.WithWorkers(c.Engine.Workers),
		rules.WithCache(rules.NewInMemoryProgramCache(c.CacheConfig())),
		rules.WithBindOptions(c.BindOptions()),
		rules.WithPlanner(c.Planner()),
		rules.WithAnomalyOptions(c.Anomalies),
		rules.WithLogger(log),
	}
	if recorder != nil {
		opts = append(opts, rules.WithRecorder(recorder))
	}
	return opts
}
