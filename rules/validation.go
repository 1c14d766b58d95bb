package rules

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/liamcoop/rulecheck/rules/expr"
)

const (
	maxFieldsPerRule  = 200
	maxFieldNameLen   = 100
	maxDescriptionLen = 2000
)

// ValidationError reports a structurally invalid rule. Such a rule is kept
// in the batch and evaluates to indeterminate with this error attached.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid rule: " + e.Msg
	}
	return fmt.Sprintf("invalid rule %s: %s", e.Field, e.Msg)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// ValidateRule checks the shape of a rule. It does not parse the predicate;
// that is the job of expr.Compile.
func ValidateRule(r Rule) error {
	if len(r.Fields) == 0 {
		return invalid("fields", "must name at least one field")
	}
	if len(r.Fields) > maxFieldsPerRule {
		return invalid("fields", "names %d fields, maximum allowed is %d", len(r.Fields), maxFieldsPerRule)
	}

	seen := make(map[string]bool, len(r.Fields))
	for _, f := range r.Fields {
		if err := validateFieldName(f); err != nil {
			return invalid("fields", "field %q: %v", f, err)
		}
		if seen[f] {
			return invalid("fields", "field %q is listed twice", f)
		}
		seen[f] = true
	}

	if strings.TrimSpace(r.ValidationLogic) == "" {
		return invalid("validation_logic", "cannot be empty")
	}
	if len(r.ValidationLogic) > expr.MaxSourceLen {
		return invalid("validation_logic", "length %d exceeds maximum of %d bytes", len(r.ValidationLogic), expr.MaxSourceLen)
	}
	if utf8.RuneCountInString(r.Description) > maxDescriptionLen {
		return invalid("description", "exceeds maximum of %d characters", maxDescriptionLen)
	}

	switch r.Status {
	case "", StatusActive, StatusRetired:
	default:
		return invalid("status", "unknown status %q (must be active or retired)", string(r.Status))
	}

	for k := range r.Parameters {
		if strings.TrimSpace(k) == "" {
			return invalid("parameters", "parameter names cannot be empty")
		}
	}
	return nil
}

// validateFieldName accepts any column header a spreadsheet could carry,
// including spaces, but not blank names or control characters.
func validateFieldName(name string) error {
	if name == "" {
		return fmt.Errorf("field name cannot be empty")
	}
	if strings.TrimSpace(name) != name {
		return fmt.Errorf("has leading or trailing whitespace")
	}
	if utf8.RuneCountInString(name) > maxFieldNameLen {
		return fmt.Errorf("length exceeds maximum of %d characters", maxFieldNameLen)
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("is not valid UTF-8")
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("contains control characters")
		}
	}
	return nil
}

// ValidateRuleSet checks limits that apply to a whole rule set. Individual
// rule problems are not reported here; they surface per rule at compile time.
func ValidateRuleSet(rules []Rule, maxRules int) error {
	if maxRules > 0 && len(rules) > maxRules {
		return fmt.Errorf("rule set contains %d rules, maximum allowed is %d", len(rules), maxRules)
	}
	ids := make(map[string]int, len(rules))
	for i, r := range rules {
		if r.ID == "" {
			continue
		}
		if j, ok := ids[r.ID]; ok {
			return fmt.Errorf("rules %d and %d share id %q", j, i, r.ID)
		}
		ids[r.ID] = i
	}
	return nil
}
