package rules

import (
	"fmt"
	"path"
	"slices"
	"strings"
)

// ManualReview is the action for a failing rule no policy covers.
const ManualReview = "manual review required"

// RemediationPolicy maps rules touching certain fields to an action.
// Patterns are path.Match globs compared case-insensitively with field names.
type RemediationPolicy struct {
	Category              string   `json:"category" yaml:"category"`
	Patterns              []string `json:"patterns" yaml:"patterns"`
	Action                string   `json:"action" yaml:"action"`
	DocumentationRequired bool     `json:"documentation_required" yaml:"documentation_required"`
}

func (p RemediationPolicy) matches(field string) bool {
	field = strings.ToLower(field)
	for _, pat := range p.Patterns {
		if ok, err := path.Match(strings.ToLower(pat), field); err == nil && ok {
			return true
		}
	}
	return false
}

// DefaultPolicies is the built-in remediation table, in priority order.
func DefaultPolicies() []RemediationPolicy {
	return []RemediationPolicy{
		{Category: "override", Patterns: []string{"account_type", "od_*", "*overdraft*"}, Action: "flag for override review", DocumentationRequired: true},
		{Category: "amount", Patterns: []string{"*amount*", "*balance*"}, Action: "verify transaction amount"},
		{Category: "currency", Patterns: []string{"*currency*"}, Action: "confirm currency code"},
		{Category: "jurisdiction", Patterns: []string{"*country*", "*jurisdiction*"}, Action: "confirm jurisdiction"},
		{Category: "date", Patterns: []string{"*date*", "*period*"}, Action: "confirm reporting period"},
		{Category: "identity", Patterns: []string{"*customer_id*", "*transaction_id*"}, Action: "verify customer identity record", DocumentationRequired: true},
	}
}

// ValidatePolicies rejects policies that could never match or never act.
func ValidatePolicies(policies []RemediationPolicy) error {
	for i, p := range policies {
		if p.Category == "" {
			return fmt.Errorf("remediation policy %d: category is required", i)
		}
		if p.Action == "" {
			return fmt.Errorf("remediation policy %q: action is required", p.Category)
		}
		if len(p.Patterns) == 0 {
			return fmt.Errorf("remediation policy %q: at least one pattern is required", p.Category)
		}
		for _, pat := range p.Patterns {
			if _, err := path.Match(pat, ""); err != nil {
				return fmt.Errorf("remediation policy %q: bad pattern %q: %w", p.Category, pat, err)
			}
		}
	}
	return nil
}

// Failure is what the planner needs to know about one failing rule.
type Failure struct {
	Description string
	Fields      []string
}

// Planner turns a record's failing rules into remediation actions.
type Planner struct {
	policies []RemediationPolicy
}

// NewPlanner creates a planner over policies, which are consulted in order.
func NewPlanner(policies []RemediationPolicy) *Planner {
	return &Planner{policies: policies}
}

// DefaultPlanner uses DefaultPolicies.
func DefaultPlanner() *Planner { return NewPlanner(DefaultPolicies()) }

// Categories returns every policy matching any of fields, in table order.
func (p *Planner) Categories(fields []string) []RemediationPolicy {
	var out []RemediationPolicy
	for _, pol := range p.policies {
		if slices.ContainsFunc(fields, pol.matches) {
			out = append(out, pol)
		}
	}
	return out
}

// Plan returns the remediation for a record, or false when nothing failed.
// A failing rule gets the action of every policy its fields match. Actions
// appear once each, in the order of their first failing rule and then of
// the policy table; documentation is required if any matched policy says so.
func (p *Planner) Plan(recordID string, failing []Failure) (RemediationAction, bool) {
	if len(failing) == 0 {
		return RemediationAction{}, false
	}
	ra := RemediationAction{RecordID: recordID, Issues: make([]string, 0, len(failing))}
	seen := make(map[string]bool)
	add := func(action string) {
		if !seen[action] {
			seen[action] = true
			ra.Actions = append(ra.Actions, action)
		}
	}
	for _, f := range failing {
		ra.Issues = append(ra.Issues, f.Description)
		matched := p.Categories(f.Fields)
		if len(matched) == 0 {
			add(ManualReview)
			continue
		}
		for _, pol := range matched {
			add(pol.Action)
			ra.DocumentationRequired = ra.DocumentationRequired || pol.DocumentationRequired
		}
	}
	return ra, true
}
