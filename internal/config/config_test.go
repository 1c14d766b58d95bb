package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rulecheck.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := Validate(cfg); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Server.Port != DefaultPort || cfg.Engine.MaxRules != DefaultMaxRules {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if !cfg.MetricsEnabled() || !cfg.BindOptions().BlankAsNull {
		t.Error("metrics and blank-as-null should default to on")
	}
	if got := cfg.BindOptions().IDFields; len(got) != 2 || got[0] != "transaction_id" {
		t.Errorf("IDFields = %v", got)
	}
	if cfg.CacheConfig().MaxEntries != 1024 {
		t.Errorf("cache max entries = %d", cfg.CacheConfig().MaxEntries)
	}
	if cfg.Anomalies.OutlierFence != 1.5 || cfg.Anomalies.Disabled {
		t.Errorf("anomalies = %+v", cfg.Anomalies)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: "9090"
  request_timeout: 5s
engine:
  workers: 4
  blank_as_null: false
  id_fields: [txn]
metrics:
  enabled: false
remediation:
  policies:
    - category: loans
      patterns: ["loan_*"]
      action: review loan terms
      documentation_required: true
anomalies:
  high_risk_countries: [FR]
  round_unit: 500
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Server.Port != "9090" || cfg.Server.RequestTimeout != 5*time.Second {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Engine.Workers != 4 || cfg.BindOptions().BlankAsNull || cfg.BindOptions().IDFields[0] != "txn" {
		t.Errorf("engine = %+v", cfg.Engine)
	}
	if cfg.MetricsEnabled() {
		t.Error("metrics should be disabled")
	}
	pols := cfg.Planner().Categories([]string{"loan_type"})
	if len(pols) != 1 || pols[0].Action != "review loan terms" {
		t.Errorf("configured policy not used: %+v", pols)
	}
	if cfg.Server.WriteTimeout != DefaultWriteTimeout {
		t.Error("defaults should fill fields the file leaves out")
	}
	if a := cfg.Anomalies; a.HighRiskCountries[0] != "FR" || a.RoundUnit != 500 || a.HighValue != 5000 || a.AmountField != "Amount" {
		t.Errorf("anomalies = %+v", a)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, "server:\n  port: \"9090\"\n")
	t.Setenv("PORT", "7000")
	t.Setenv("RULECHECK_SERVER_PORT", "7001")
	t.Setenv("RULECHECK_ENGINE_MAX_RECORDS", "10")
	t.Setenv("RULECHECK_ENGINE_BLANK_AS_NULL", "false")
	t.Setenv("RULECHECK_ENGINE_ID_FIELDS", "a, b,")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Server.Port != "7001" {
		t.Errorf("port = %q, want the RULECHECK_ override", cfg.Server.Port)
	}
	if cfg.Engine.MaxRecords != 10 || cfg.BindOptions().BlankAsNull {
		t.Errorf("engine = %+v", cfg.Engine)
	}
	if got := cfg.Engine.IDFields; len(got) != 2 || got[1] != "b" {
		t.Errorf("IDFields = %v", got)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %q", cfg.Logging.Level)
	}
}

func TestLoadErrors(t *testing.T) {
	testCases := []struct {
		name    string
		content string
		env     map[string]string
		wantErr string
	}{
		{name: "bad yaml", content: "server: [", wantErr: "failed to parse"},
		{name: "bad port", content: "server:\n  port: http\n", wantErr: "server.port"},
		{name: "negative workers", content: "engine:\n  workers: -1\n", wantErr: "engine.workers"},
		{name: "bad namespace", content: "metrics:\n  namespace: rule-check\n", wantErr: "metrics.namespace"},
		{name: "bad level", content: "logging:\n  level: loud\n", wantErr: "logging.level"},
		{name: "negative fence", content: "anomalies:\n  outlier_fence: -1\n", wantErr: "anomalies.outlier_fence"},
		{name: "bad policy", content: "remediation:\n  policies:\n    - category: x\n", wantErr: "remediation.policies"},
		{name: "bad env", content: "", env: map[string]string{"RULECHECK_ENGINE_WORKERS": "many"}, wantErr: "RULECHECK_ENGINE_WORKERS"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load(writeConfig(t, tc.content))
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("Load() error = %v, want it to contain %q", err, tc.wantErr)
			}
		})
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = "0"
	cfg.Engine.MaxRules = -1
	err := Validate(cfg)

	var verr ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Validate() error = %v, want ValidationError", err)
	}
	if len(verr.Errors) != 2 {
		t.Errorf("got %d field errors, want 2: %v", len(verr.Errors), err)
	}
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") failed: %v", err)
	}
	if cfg.Metrics.Path != DefaultMetricsPath {
		t.Errorf("metrics path = %q", cfg.Metrics.Path)
	}
}
