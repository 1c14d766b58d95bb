package config

import (
	"slices"
	"time"

	"github.com/liamcoop/rulecheck/rules"
)

const (
	DefaultPort                 = "8080"
	DefaultReadTimeout          = 15 * time.Second
	DefaultWriteTimeout         = 60 * time.Second
	DefaultIdleTimeout          = 60 * time.Second
	DefaultShutdownTimeout      = 30 * time.Second
	DefaultRequestTimeout       = 60 * time.Second
	DefaultSlowRequestThreshold = 2 * time.Second
	DefaultMaxBodyBytes         = 10 << 20

	DefaultMaxRules   = 500
	DefaultMaxRecords = 100000

	DefaultMetricsNamespace = "rulecheck"
	DefaultMetricsPath      = "/metrics"

	DefaultLogLevel   = "INFO"
	DefaultSampleRate = 1
)

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills every unset field.
func ApplyDefaults(cfg *Config) {
	s := &cfg.Server
	if s.Port == "" {
		s.Port = DefaultPort
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = DefaultReadTimeout
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = DefaultWriteTimeout
	}
	if s.IdleTimeout == 0 {
		s.IdleTimeout = DefaultIdleTimeout
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = DefaultShutdownTimeout
	}
	if s.RequestTimeout == 0 {
		s.RequestTimeout = DefaultRequestTimeout
	}
	if s.SlowRequestThreshold == 0 {
		s.SlowRequestThreshold = DefaultSlowRequestThreshold
	}
	if s.MaxBodyBytes == 0 {
		s.MaxBodyBytes = DefaultMaxBodyBytes
	}

	e := &cfg.Engine
	if e.MaxRules == 0 {
		e.MaxRules = DefaultMaxRules
	}
	if e.MaxRecords == 0 {
		e.MaxRecords = DefaultMaxRecords
	}
	if e.IDFields == nil {
		e.IDFields = slices.Clone(rules.DefaultBindOptions().IDFields)
	}
	if e.CacheMaxEntries == 0 {
		e.CacheMaxEntries = rules.DefaultCacheConfig().MaxEntries
	}

	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	if cfg.Logging.SampleRate == 0 {
		cfg.Logging.SampleRate = DefaultSampleRate
	}

	cfg.Anomalies = cfg.Anomalies.WithDefaults()
}
