package rules

import (
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/liamcoop/rulecheck/rules/expr"
)

// ruleNamespace scopes derived rule ids so they cannot collide with ids
// derived the same way by other systems.
var ruleNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/liamcoop/rulecheck/rules"))

// RuleID returns r.ID, or an id derived from the rule's position and text
// when r carries none. The same rule at the same position always gets the
// same id.
func RuleID(index int, r Rule) string {
	if r.ID != "" {
		return r.ID
	}
	var sb strings.Builder
	sb.WriteString(strconv.Itoa(index))
	sb.WriteByte(0)
	sb.WriteString(r.Description)
	sb.WriteByte(0)
	sb.WriteString(r.ValidationLogic)
	return uuid.NewSHA1(ruleNamespace, []byte(sb.String())).String()
}

// CompiledRule is a rule together with its parsed predicate. Exactly one of
// Program and Err is set.
type CompiledRule struct {
	Index   int
	ID      string
	Rule    Rule
	Program *expr.Program
	Err     error
}

// Active reports whether the rule is evaluated.
func (c *CompiledRule) Active() bool { return c.Rule.Active() }

// Undeclared lists fields the predicate reads from the record that the
// rule does not declare.
func (c *CompiledRule) Undeclared() []string {
	if c.Program == nil {
		return nil
	}
	var out []string
	for _, f := range c.Program.Fields {
		if !slices.Contains(c.Rule.Fields, f) {
			out = append(out, f)
		}
	}
	return out
}

// CompileRule validates and parses one rule. Failures are recorded on the
// result rather than returned, so one bad rule never stops a batch. cache
// may be nil.
func CompileRule(index int, r Rule, cache ProgramCache) *CompiledRule {
	r.Fields = slices.Clone(r.Fields)
	r.Parameters = maps.Clone(r.Parameters)
	if r.Status == "" {
		r.Status = StatusActive
	}
	c := &CompiledRule{Index: index, ID: RuleID(index, r), Rule: r}

	if err := ValidateRule(r); err != nil {
		c.Err = err
		return c
	}
	if cache != nil {
		if p, ok := cache.Get(r.ValidationLogic); ok {
			c.Program = p
			return c
		}
	}
	p, err := expr.Compile(r.ValidationLogic)
	if err != nil {
		c.Err = err
		return c
	}
	if cache != nil {
		cache.Set(r.ValidationLogic, p)
	}
	c.Program = p
	return c
}

// CompileRules compiles every rule in order.
func CompileRules(rules []Rule, cache ProgramCache) []*CompiledRule {
	out := make([]*CompiledRule, len(rules))
	for i, r := range rules {
		out[i] = CompileRule(i, r, cache)
	}
	return out
}
