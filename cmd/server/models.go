package main

import (
	"encoding/json"

	"github.com/liamcoop/rulecheck/rules"
)

// Request and response bodies of the HTTP API.

// ValidateRequest carries a rule set and optionally the records to check.
// Rules may be a list, a {"rules": ...} wrapper, a single rule, or a string
// holding any of those (for example a fenced generator response). Without
// data the sample records are used.
type ValidateRequest struct {
	Rules json.RawMessage `json:"rules"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Data source values reported in ValidateResponse.
const (
	DataSourceSample   = "sample"
	DataSourceUploaded = "uploaded"
)

// ValidateResponse is the report plus request bookkeeping.
type ValidateResponse struct {
	*rules.Report
	DataSource     string `json:"data_source"`
	RunID          string `json:"run_id"`
	EvaluationTime string `json:"evaluation_time"`
	Records        int    `json:"records"`
	Rules          int    `json:"rules"`
}

// RulesRequest carries a rule set for compilation or export.
type RulesRequest struct {
	Rules json.RawMessage `json:"rules"`
}

// CompileResponse lists one diagnostic per rule, in rule order.
type CompileResponse struct {
	Diagnostics []rules.Diagnostic `json:"diagnostics"`
	Valid       int                `json:"valid"`
	Invalid     int                `json:"invalid"`
}

// SampleDataResponse is the built-in demonstration data set.
type SampleDataResponse struct {
	Data  []rules.Record `json:"data"`
	Rules []rules.Rule   `json:"rules"`
}

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// HealthResponse reports liveness.
type HealthResponse struct {
	Status       string `json:"status"`
	CacheEntries int    `json:"cache_entries"`
}
