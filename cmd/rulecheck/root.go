package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/liamcoop/rulecheck/internal/config"
	"github.com/liamcoop/rulecheck/internal/logger"
	"github.com/liamcoop/rulecheck/rules"
)

var (
	// Global flags
	cfgFile  string
	logLevel string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "rulecheck",
	Short: "Evaluate compliance rules against records",
	Long: `Rulecheck evaluates compliance rule sets against tabular records.

Each rule names the fields it inspects and a predicate over them. Every
record gets a pass, fail or indeterminate outcome per rule, a risk score
and, when something failed, a remediation plan.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", os.Getenv("RULECHECK_CONFIG"), "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides the config file)")
}

// setup loads the configuration and sends logs to stderr so that command
// output stays parseable.
func setup(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if logLevel != "" {
		loaded.Logging.Level = logLevel
	}
	if err := logger.Init(logger.Options{
		Level:      loaded.Logging.Level,
		SampleRate: loaded.Logging.SampleRate,
		Output:     cmd.ErrOrStderr(),
	}); err != nil {
		return err
	}
	cfg = loaded
	return nil
}

func newEngine() (*rules.Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	return rules.NewEngine(cfg.EngineOptions(logger.Logger, nil)...)
}

func readRules(path string) ([]rules.Rule, error) {
	if path == "" {
		return nil, fmt.Errorf("--rules is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules: %w", err)
	}
	ruleSet, err := rules.DecodeRules(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	maxRules := 0
	if cfg != nil {
		maxRules = cfg.Engine.MaxRules
	}
	if err := rules.ValidateRuleSet(ruleSet, maxRules); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ruleSet, nil
}

func readRecords(path string) ([]rules.Record, error) {
	if path == "" {
		return rules.SampleRecords(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read data: %w", err)
	}
	records, err := rules.DecodeRecords(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if cfg != nil && cfg.Engine.MaxRecords > 0 && len(records) > cfg.Engine.MaxRecords {
		return nil, fmt.Errorf("%s: data contains %d records, maximum allowed is %d", path, len(records), cfg.Engine.MaxRecords)
	}
	return records, nil
}
