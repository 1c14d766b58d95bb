package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/liamcoop/rulecheck/rules"
)

var compileFlags struct {
	rules  string
	format string
}

var compileCmd = &cobra.Command{
	Use:   "compile",
	Short: "Check that every rule parses",
	Long: `Validate and parse every rule without evaluating it, and report for
each rule the fields it reads and whether it is a batch rule. Parse errors
point at the offending position. Exits non-zero if any rule is invalid.

Examples:
  rulecheck compile --rules rules.yaml
  rulecheck compile --rules rules.yaml --format json`,
	RunE: runCompile,
}

func init() {
	rootCmd.AddCommand(compileCmd)

	compileCmd.Flags().StringVarP(&compileFlags.rules, "rules", "r", "", "rule set file (required)")
	compileCmd.Flags().StringVarP(&compileFlags.format, "format", "f", "text", "output format: text, json")
}

func runCompile(cmd *cobra.Command, args []string) error {
	ruleSet, err := readRules(compileFlags.rules)
	if err != nil {
		return err
	}
	engine, err := newEngine()
	if err != nil {
		return err
	}

	var diags []rules.Diagnostic
	invalid := 0
	for _, c := range engine.Compile(ruleSet) {
		d := rules.Diagnose(c)
		if !d.OK {
			invalid++
		}
		diags = append(diags, d)
	}

	out := cmd.OutOrStdout()
	switch compileFlags.format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(diags); err != nil {
			return err
		}
	case "text":
		writeDiagnostics(out, ruleSet, diags)
	default:
		return fmt.Errorf("unknown output format %q (must be text or json)", compileFlags.format)
	}

	if invalid > 0 {
		return fmt.Errorf("%d of %d rules are invalid", invalid, len(diags))
	}
	return nil
}

func writeDiagnostics(w io.Writer, ruleSet []rules.Rule, diags []rules.Diagnostic) {
	for _, d := range diags {
		if !d.OK {
			fmt.Fprintf(w, "rule %d: %s\n", d.Index, d.Error)
			if d.Span != nil {
				logic := ruleSet[d.Index].ValidationLogic
				fmt.Fprintf(w, "  %s\n  %s^\n", logic, strings.Repeat(" ", min(d.Span.Start, len(logic))))
			}
			continue
		}
		kind := "record"
		if d.Batch {
			kind = "batch"
		}
		fmt.Fprintf(w, "rule %d: ok (%s, %s) %s\n", d.Index, kind, d.Status, d.Canonical)
		if len(d.Undeclared) > 0 {
			fmt.Fprintf(w, "  reads undeclared fields: %s\n", strings.Join(d.Undeclared, ", "))
		}
	}
}
