package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/liamcoop/rulecheck/internal/logger"
	"github.com/liamcoop/rulecheck/rules"
)

var validateFlags struct {
	rules  string
	data   string
	format string
	failOn string
	watch  bool
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Evaluate a rule set against records",
	Long: `Evaluate every active rule against every record and report outcomes,
risk scores and remediation actions.

Rules may be JSON or YAML: a list, a single rule, or either wrapped in a
"rules" key, optionally inside a markdown code fence. Records are a JSON or
YAML list of objects. Without --data the built-in sample records are used.

Examples:
  # Text summary
  rulecheck validate --rules rules.yaml --data records.json

  # Full report as JSON, exit non-zero when any record fails a rule
  rulecheck validate --rules rules.yaml --data records.json --format json --fail-on fail

  # Re-evaluate on every save
  rulecheck validate --rules rules.yaml --data records.json --watch`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringVarP(&validateFlags.rules, "rules", "r", "", "rule set file (required)")
	validateCmd.Flags().StringVarP(&validateFlags.data, "data", "d", "", "record file (default: built-in sample records)")
	validateCmd.Flags().StringVarP(&validateFlags.format, "format", "f", "text", "output format: text, json")
	validateCmd.Flags().StringVar(&validateFlags.failOn, "fail-on", "none", "exit non-zero on: none, fail, high")
	validateCmd.Flags().BoolVarP(&validateFlags.watch, "watch", "w", false, "re-run when the rule or record file changes")
}

func runValidate(cmd *cobra.Command, args []string) error {
	switch validateFlags.format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown output format %q (must be text or json)", validateFlags.format)
	}
	switch validateFlags.failOn {
	case "none", "fail", "high":
	default:
		return fmt.Errorf("unknown --fail-on value %q (must be none, fail or high)", validateFlags.failOn)
	}

	engine, err := newEngine()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if !validateFlags.watch {
		return validateOnce(commandContext(cmd), engine, out)
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := validateOnce(ctx, engine, out); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), err)
	}
	paths := []string{validateFlags.rules}
	if validateFlags.data != "" {
		paths = append(paths, validateFlags.data)
	}
	return watchFiles(ctx, paths, defaultDebounce, func() {
		fmt.Fprintln(out)
		if err := validateOnce(ctx, engine, out); err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), err)
		}
	})
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func validateOnce(ctx context.Context, engine *rules.Engine, w io.Writer) error {
	ruleSet, err := readRules(validateFlags.rules)
	if err != nil {
		return err
	}
	records, err := readRecords(validateFlags.data)
	if err != nil {
		return err
	}

	report, err := engine.Validate(ctx, ruleSet, records)
	if err != nil {
		return err
	}
	logger.Debug("validation completed", "rules", len(ruleSet), "records", len(records))

	if validateFlags.format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else if err := writeReport(w, report); err != nil {
		return err
	}
	return checkFailOn(report, validateFlags.failOn)
}

// writeReport prints one line per record followed by the remediation plan.
func writeReport(w io.Writer, report *rules.Report) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RECORD\tSCORE\tBAND\tFAILED\tREASONS\tFLAGS")
	for _, ra := range report.Risk {
		fmt.Fprintf(tw, "%s\t%.2f\t%s\t%d/%d\t%s\t%s\n",
			ra.RecordID, ra.Score, rules.Band(ra.Score), ra.Failed, ra.Evaluated,
			strings.Join(ra.Reasons, "; "), strings.Join(ra.Flags, "; "))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(report.Remediation) == 0 {
		_, err := fmt.Fprintln(w, "\nNo remediation required.")
		return err
	}
	fmt.Fprintln(w, "\nRemediation:")
	for _, action := range report.Remediation {
		doc := ""
		if action.DocumentationRequired {
			doc = " (documentation required)"
		}
		fmt.Fprintf(w, "  %s: %s%s\n", action.RecordID, strings.Join(action.Actions, ", "), doc)
	}
	return nil
}

func checkFailOn(report *rules.Report, failOn string) error {
	var failed, high int
	for _, ra := range report.Risk {
		if ra.Failed > 0 {
			failed++
		}
		if rules.Band(ra.Score) == "high" {
			high++
		}
	}
	switch {
	case failOn == "fail" && failed > 0:
		return fmt.Errorf("%d of %d records failed at least one rule", failed, len(report.Risk))
	case failOn == "high" && high > 0:
		return fmt.Errorf("%d of %d records are high risk", high, len(report.Risk))
	}
	return nil
}
