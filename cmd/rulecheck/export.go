package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/liamcoop/rulecheck/rules"
)

var exportFlags struct {
	rules  string
	format string
	output string
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the canonical rule set with CEL equivalents",
	Long: `Rewrite every rule's logic in canonical form and attach the equivalent
CEL expression where one exists, so rule sets can be reviewed or handed to
CEL-based tooling.

Examples:
  rulecheck export --rules rules.yaml
  rulecheck export --rules rules.json --format json --output rules.export.json`,
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVarP(&exportFlags.rules, "rules", "r", "", "rule set file (required)")
	exportCmd.Flags().StringVarP(&exportFlags.format, "format", "f", "yaml", "output format: yaml, json")
	exportCmd.Flags().StringVarP(&exportFlags.output, "output", "o", "", "output file (default: stdout)")
}

func runExport(cmd *cobra.Command, args []string) error {
	ruleSet, err := readRules(exportFlags.rules)
	if err != nil {
		return err
	}
	engine, err := newEngine()
	if err != nil {
		return err
	}
	export := engine.Export(ruleSet)

	if exportFlags.output == "" {
		return rules.WriteExport(cmd.OutOrStdout(), export, exportFlags.format)
	}
	f, err := os.Create(exportFlags.output)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	if err := rules.WriteExport(f, export, exportFlags.format); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
