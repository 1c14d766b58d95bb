package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/liamcoop/rulecheck/internal/config"
	"github.com/liamcoop/rulecheck/internal/metrics"
)

func newTestServer(t *testing.T, mutate func(cfg *config.Config)) *httptest.Server {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	collector := metrics.NewCollector(metrics.Options{Enabled: cfg.MetricsEnabled(), Namespace: cfg.Metrics.Namespace})
	server, err := NewServer(cfg, collector, nil)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	ts := httptest.NewServer(server)
	t.Cleanup(ts.Close)
	return ts
}

// makeRequest sends body as JSON and decodes a JSON response into out.
func makeRequest(t *testing.T, method, url string, body any, out any) int {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("Failed to marshal request: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
	}
	return resp.StatusCode
}

type validateResult struct {
	ValidationResults []struct {
		RuleIndex   int    `json:"rule_index"`
		RecordID    string `json:"record_id"`
		Result      string `json:"result"`
		Explanation string `json:"explanation"`
		BatchLevel  bool   `json:"batch_level"`
	} `json:"validation_results"`
	RiskAssessment []struct {
		RecordID string   `json:"record_id"`
		Score    float64  `json:"score"`
		Reasons  []string `json:"reasons"`
	} `json:"risk_assessment"`
	RemediationActions []struct {
		RecordID              string   `json:"record_id"`
		Actions               []string `json:"actions"`
		DocumentationRequired bool     `json:"documentation_required"`
	} `json:"remediation_actions"`
	DataSource     string `json:"data_source"`
	RunID          string `json:"run_id"`
	EvaluationTime string `json:"evaluation_time"`
}

var balanceRule = map[string]any{
	"description":      "Balance must not be negative",
	"fields":           []string{"Account_Balance"},
	"validation_logic": "Account_Balance >= 0",
}

func TestHandleValidate(t *testing.T) {
	ts := newTestServer(t, nil)

	var res validateResult
	status := makeRequest(t, http.MethodPost, ts.URL+"/api/v1/validate", map[string]any{
		"rules": []any{balanceRule},
		"data": []map[string]any{
			{"transaction_id": "T1", "Account_Balance": -5000},
			{"transaction_id": "T2", "Account_Balance": 15000},
		},
	}, &res)

	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if res.DataSource != DataSourceUploaded || res.RunID == "" || res.EvaluationTime == "" {
		t.Errorf("bookkeeping = %q %q %q", res.DataSource, res.RunID, res.EvaluationTime)
	}
	if len(res.ValidationResults) != 2 {
		t.Fatalf("got %d results, want 2", len(res.ValidationResults))
	}
	if res.ValidationResults[0].Result != "fail" || res.ValidationResults[1].Result != "pass" {
		t.Errorf("results = %+v", res.ValidationResults)
	}
	if len(res.RiskAssessment) != 2 || res.RiskAssessment[0].Score != 1 || res.RiskAssessment[1].Score != 0 {
		t.Errorf("risk = %+v", res.RiskAssessment)
	}
	if len(res.RemediationActions) != 1 || res.RemediationActions[0].RecordID != "T1" {
		t.Fatalf("remediation = %+v", res.RemediationActions)
	}
	if got := res.RemediationActions[0].Actions; len(got) != 1 || got[0] != "verify transaction amount" {
		t.Errorf("actions = %v", got)
	}
}

func TestHandleValidateFallsBackToSample(t *testing.T) {
	ts := newTestServer(t, nil)

	for _, path := range []string{"/api/v1/validate", "/api/validate"} {
		var res validateResult
		status := makeRequest(t, http.MethodPost, ts.URL+path, map[string]any{"rules": []any{balanceRule}}, &res)
		if status != http.StatusOK {
			t.Fatalf("%s: status = %d, want 200", path, status)
		}
		if res.DataSource != DataSourceSample {
			t.Errorf("%s: data_source = %q, want sample", path, res.DataSource)
		}
		if len(res.RiskAssessment) != 4 {
			t.Errorf("%s: got %d risk assessments, want 4", path, len(res.RiskAssessment))
		}
		if len(res.RemediationActions) != 1 || res.RemediationActions[0].RecordID != "1003" {
			t.Errorf("%s: remediation = %+v", path, res.RemediationActions)
		}
	}
}

func TestHandleValidateAcceptsGeneratorText(t *testing.T) {
	ts := newTestServer(t, nil)
	text := "```json\n{\"rules\": [{\"description\": \"d\", \"fields\": [\"Amount\"], \"validation_logic\": \"Amount > 1000\"}]}\n```"

	var res validateResult
	status := makeRequest(t, http.MethodPost, ts.URL+"/api/v1/validate", map[string]any{"rules": text}, &res)
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if len(res.ValidationResults) != 4 {
		t.Errorf("got %d results, want 4", len(res.ValidationResults))
	}
}

func TestHandleValidateUnparsableRule(t *testing.T) {
	ts := newTestServer(t, nil)

	var res validateResult
	status := makeRequest(t, http.MethodPost, ts.URL+"/api/v1/validate", map[string]any{
		"rules": []any{
			map[string]any{"description": "loan", "fields": []string{"loan_type"}, "validation_logic": "loan_type in ["},
			balanceRule,
		},
	}, &res)
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	for _, r := range res.ValidationResults {
		if r.RuleIndex == 0 && (r.Result != "indeterminate" || r.Explanation == "") {
			t.Errorf("unparsable rule outcome = %+v", r)
		}
	}
}

func TestHandleValidateErrors(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.Config) {
		cfg.Engine.MaxRules = 1
		cfg.Engine.MaxRecords = 2
		cfg.Server.MaxBodyBytes = 2048
	})

	testCases := []struct {
		name       string
		body       any
		wantStatus int
		wantError  string
	}{
		{name: "malformed body", body: "{", wantStatus: http.StatusBadRequest, wantError: "invalid request body"},
		{name: "missing rules", body: map[string]any{}, wantStatus: http.StatusBadRequest, wantError: "invalid rules"},
		{name: "too many rules", body: map[string]any{"rules": []any{balanceRule, balanceRule}}, wantStatus: http.StatusBadRequest, wantError: "invalid rules"},
		{
			name:       "too many records",
			body:       map[string]any{"rules": []any{balanceRule}, "data": []any{map[string]any{}, map[string]any{}, map[string]any{}}},
			wantStatus: http.StatusBadRequest,
			wantError:  "too many records",
		},
		{name: "bad data", body: map[string]any{"rules": []any{balanceRule}, "data": 5}, wantStatus: http.StatusBadRequest, wantError: "invalid data"},
		{name: "bad status", body: `{"rules": [{"fields": ["A"], "validation_logic": "A", "status": "paused"}]}`, wantStatus: http.StatusBadRequest, wantError: "invalid rules"},
		{name: "body too large", body: `{"rules": "` + strings.Repeat("x", 4096) + `"}`, wantStatus: http.StatusRequestEntityTooLarge, wantError: "too large"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var res ErrorResponse
			status := makeRequest(t, http.MethodPost, ts.URL+"/api/v1/validate", tc.body, &res)
			if status != tc.wantStatus {
				t.Errorf("status = %d, want %d (%+v)", status, tc.wantStatus, res)
			}
			if !strings.Contains(res.Error, tc.wantError) {
				t.Errorf("error = %q, want it to contain %q", res.Error, tc.wantError)
			}
		})
	}
}

func TestHandleCompile(t *testing.T) {
	ts := newTestServer(t, nil)

	var res CompileResponse
	status := makeRequest(t, http.MethodPost, ts.URL+"/api/v1/rules/compile", map[string]any{
		"rules": []any{
			balanceRule,
			map[string]any{"description": "loan", "fields": []string{"loan_type"}, "validation_logic": "loan_type in ["},
		},
	}, &res)
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if res.Valid != 1 || res.Invalid != 1 || len(res.Diagnostics) != 2 {
		t.Fatalf("response = %+v", res)
	}
	if d := res.Diagnostics[1]; d.OK || d.Span == nil || d.Error == "" {
		t.Errorf("diagnostic = %+v, want a located parse error", d)
	}
}

func TestHandleExport(t *testing.T) {
	ts := newTestServer(t, nil)
	body := map[string]any{"rules": []any{balanceRule}}

	var asJSON struct {
		Rules []struct {
			ValidationLogic string `json:"validation_logic"`
			CEL             string `json:"cel"`
		} `json:"rules"`
	}
	if status := makeRequest(t, http.MethodPost, ts.URL+"/api/v1/rules/export?format=json", body, &asJSON); status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if len(asJSON.Rules) != 1 || asJSON.Rules[0].ValidationLogic != "Account_Balance >= 0" || asJSON.Rules[0].CEL == "" {
		t.Errorf("export = %+v", asJSON)
	}

	data, _ := json.Marshal(body)
	resp, err := http.Post(ts.URL+"/api/v1/rules/export", "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "application/yaml" {
		t.Errorf("Content-Type = %q", ct)
	}
	var asYAML map[string]any
	if err := yaml.NewDecoder(resp.Body).Decode(&asYAML); err != nil {
		t.Fatalf("export is not YAML: %v", err)
	}
	if _, ok := asYAML["rules"]; !ok {
		t.Errorf("YAML export = %v", asYAML)
	}

	var res ErrorResponse
	if status := makeRequest(t, http.MethodPost, ts.URL+"/api/v1/rules/export?format=xml", body, &res); status != http.StatusBadRequest {
		t.Errorf("unknown format status = %d, want 400", status)
	}
}

func TestHandleSampleDataAndHealth(t *testing.T) {
	ts := newTestServer(t, nil)

	var sample SampleDataResponse
	if status := makeRequest(t, http.MethodGet, ts.URL+"/api/v1/sample-data", nil, &sample); status != http.StatusOK {
		t.Fatalf("sample-data status = %d", status)
	}
	if len(sample.Data) != 4 || len(sample.Rules) == 0 {
		t.Errorf("sample = %d records, %d rules", len(sample.Data), len(sample.Rules))
	}

	var health HealthResponse
	if status := makeRequest(t, http.MethodGet, ts.URL+"/api/v1/health", nil, &health); status != http.StatusOK {
		t.Fatalf("health status = %d", status)
	}
	if health.Status != "healthy" {
		t.Errorf("health = %+v", health)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	makeRequest(t, http.MethodPost, ts.URL+"/api/v1/validate", map[string]any{"rules": []any{balanceRule}}, nil)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{
		"rulecheck_engine_runs_total 1",
		`rulecheck_http_requests_total{method="POST",route="/api/v1/validate",status="200"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics missing %q", want)
		}
	}

	disabled := false
	off := newTestServer(t, func(cfg *config.Config) { cfg.Metrics.Enabled = &disabled })
	resp, err = http.Get(off.URL + "/metrics")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("disabled metrics status = %d, want 404", resp.StatusCode)
	}
}
