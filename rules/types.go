package rules

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/liamcoop/rulecheck/rules/expr"
)

// Status controls whether a rule takes part in evaluation.
type Status string

const (
	StatusActive  Status = "active"
	StatusRetired Status = "retired"
)

// UnmarshalText accepts the known statuses case-insensitively. An empty
// status means active.
func (s *Status) UnmarshalText(text []byte) error {
	switch st := Status(strings.ToLower(strings.TrimSpace(string(text)))); st {
	case "", StatusActive:
		*s = StatusActive
	case StatusRetired:
		*s = StatusRetired
	default:
		return fmt.Errorf("unknown rule status %q (must be active or retired)", string(text))
	}
	return nil
}

// Parameters are advisory rule settings. The "exception" entry is a
// narrative shown to reviewers and never changes evaluation.
type Parameters map[string]string

// UnmarshalJSON stringifies scalar values, so generator output such as
// {"threshold": 0} decodes. Objects and arrays keep their JSON text.
func (p *Parameters) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*p = nil
		return nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parameters must be an object: %w", err)
	}
	out := make(Parameters, len(raw))
	for k, v := range raw {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			out[k] = s
			continue
		}
		text := string(bytes.TrimSpace(v))
		if text == "null" {
			text = ""
		}
		out[k] = text
	}
	*p = out
	return nil
}

// Rule is a generated compliance check: a description for people and a
// predicate over named record fields.
type Rule struct {
	ID              string     `json:"id,omitempty" yaml:"id,omitempty"`
	Description     string     `json:"description" yaml:"description"`
	Fields          []string   `json:"fields" yaml:"fields"`
	ValidationLogic string     `json:"validation_logic" yaml:"validation_logic"`
	Parameters      Parameters `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Status          Status     `json:"status,omitempty" yaml:"status,omitempty"`
}

// Active reports whether the rule is evaluated.
func (r Rule) Active() bool { return r.Status != StatusRetired }

// Exception returns the advisory exception narrative, if any.
func (r Rule) Exception() string { return r.Parameters["exception"] }

// Record is one row of tabular input. Values are scalars: integers, floats,
// json.Number, strings, booleans, time.Time or nil.
type Record map[string]any

// BatchRecordID identifies the synthetic record that carries the result of
// a rule evaluated over the whole batch.
const BatchRecordID = "batch"

// EvaluationOutcome is the result of one rule against one record.
type EvaluationOutcome struct {
	RuleIndex   int          `json:"rule_index"`
	RuleID      string       `json:"rule_id"`
	Description string       `json:"description"`
	RecordIndex int          `json:"record_index"`
	RecordID    string       `json:"record_id"`
	Result      expr.Ternary `json:"result"`
	Explanation string       `json:"explanation,omitempty"`
	BatchLevel  bool         `json:"batch_level,omitempty"`
}

// RiskAssessment summarises the outcomes of one record.
type RiskAssessment struct {
	RecordIndex int      `json:"record_index"`
	RecordID    string   `json:"record_id"`
	Score       float64  `json:"score"`
	Reasons     []string `json:"reasons"`
	Evaluated   int      `json:"evaluated"`
	Failed      int      `json:"failed"`

	// Flags are heuristic and statistical annotations. They do not
	// contribute to Score.
	Flags []string `json:"flags"`
}

// RemediationAction lists what to do about a record that failed rules.
type RemediationAction struct {
	RecordID              string   `json:"record_id"`
	Issues                []string `json:"issues"`
	Actions               []string `json:"actions"`
	DocumentationRequired bool     `json:"documentation_required"`
}

// Report is the complete result of validating a record set.
type Report struct {
	Outcomes    []EvaluationOutcome `json:"validation_results"`
	Risk        []RiskAssessment    `json:"risk_assessment"`
	Remediation []RemediationAction `json:"remediation_actions"`
}
