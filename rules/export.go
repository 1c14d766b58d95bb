package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/liamcoop/rulecheck/rules/expr"
)

// ExportedRule is a rule rewritten for use outside the engine: its
// predicate in canonical form and, where expressible, as CEL.
type ExportedRule struct {
	ID              string     `json:"id" yaml:"id"`
	Description     string     `json:"description" yaml:"description"`
	Fields          []string   `json:"fields" yaml:"fields"`
	Status          Status     `json:"status" yaml:"status"`
	Parameters      Parameters `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	ValidationLogic string     `json:"validation_logic" yaml:"validation_logic"`
	Source          string     `json:"source,omitempty" yaml:"source,omitempty"`
	CEL             string     `json:"cel,omitempty" yaml:"cel,omitempty"`
	CELError        string     `json:"cel_error,omitempty" yaml:"cel_error,omitempty"`
	Error           string     `json:"error,omitempty" yaml:"error,omitempty"`
}

// Export is an exported rule set.
type Export struct {
	Rules []ExportedRule `json:"rules" yaml:"rules"`
}

// Export compiles rules and renders each one. Rules that fail to compile
// keep their original text and carry the error. The canonical logic of
// every other rule parses back to a program with identical results.
func (e *Engine) Export(rules []Rule) Export {
	compiled := e.Compile(rules)
	out := Export{Rules: make([]ExportedRule, 0, len(compiled))}
	for _, c := range compiled {
		x := ExportedRule{
			ID:              c.ID,
			Description:     c.Rule.Description,
			Fields:          c.Rule.Fields,
			Status:          c.Rule.Status,
			Parameters:      c.Rule.Parameters,
			ValidationLogic: c.Rule.ValidationLogic,
		}
		if c.Err != nil {
			x.Error = c.Err.Error()
			out.Rules = append(out.Rules, x)
			continue
		}
		x.ValidationLogic = c.Program.String()
		if x.ValidationLogic != c.Rule.ValidationLogic {
			x.Source = c.Rule.ValidationLogic
		}
		src, err := expr.ToCEL(c.Program)
		if err == nil {
			_, err = expr.CompileCEL(e.env, src)
		}
		if err != nil {
			x.CELError = err.Error()
		} else {
			x.CEL = src
		}
		out.Rules = append(out.Rules, x)
	}
	return out
}

// WriteExport encodes x as "yaml" (the default) or "json".
func WriteExport(w io.Writer, x Export, format string) error {
	switch format {
	case "", "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(x); err != nil {
			return fmt.Errorf("failed to encode export: %w", err)
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(x); err != nil {
			return fmt.Errorf("failed to encode export: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unknown export format %q (must be yaml or json)", format)
	}
}

// Span locates the token a parse error refers to.
type Span struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Token string `json:"token,omitempty"`
}

// Diagnostic describes how one rule compiled.
type Diagnostic struct {
	Index      int      `json:"index"`
	RuleID     string   `json:"rule_id"`
	Status     Status   `json:"status"`
	OK         bool     `json:"ok"`
	Error      string   `json:"error,omitempty"`
	Span       *Span    `json:"span,omitempty"`
	Fields     []string `json:"fields,omitempty"`
	Columns    []string `json:"columns,omitempty"`
	Undeclared []string `json:"undeclared,omitempty"`
	Batch      bool     `json:"batch"`
	UsesValue  bool     `json:"uses_value"`
	Canonical  string   `json:"canonical,omitempty"`
}

// Diagnose reports what the compiler learned about c.
func Diagnose(c *CompiledRule) Diagnostic {
	d := Diagnostic{Index: c.Index, RuleID: c.ID, Status: c.Rule.Status}
	if c.Err != nil {
		d.Error = c.Err.Error()
		var perr *expr.ParseError
		if errors.As(c.Err, &perr) {
			d.Span = &Span{Start: perr.Pos, End: perr.End, Token: perr.Token}
		}
		return d
	}
	d.OK = true
	d.Fields = c.Program.Fields
	d.Columns = c.Program.Columns
	d.Undeclared = c.Undeclared()
	d.Batch = c.Program.Batch
	d.UsesValue = c.Program.UsesValue
	d.Canonical = c.Program.String()
	return d
}
