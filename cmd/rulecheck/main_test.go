package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/liamcoop/rulecheck/rules"
)

const testRules = `
rules:
  - description: Balance must not be negative
    fields: [Account_Balance]
    validation_logic: Account_Balance >= 0
  - description: Currency must be supported
    fields: [Currency]
    validation_logic: Currency in ['USD', 'EUR']
`

const testRecords = `[
  {"transaction_id": "T1", "Account_Balance": 100, "Currency": "USD"},
  {"transaction_id": "T2", "Account_Balance": -20, "Currency": "GBP"}
]`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func testCommand() (*cobra.Command, *bytes.Buffer) {
	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	return cmd, &out
}

func resetValidateFlags(rulesPath, dataPath string) {
	validateFlags.rules = rulesPath
	validateFlags.data = dataPath
	validateFlags.format = "text"
	validateFlags.failOn = "none"
	validateFlags.watch = false
}

func TestRunValidateText(t *testing.T) {
	resetValidateFlags(writeFile(t, "rules.yaml", testRules), writeFile(t, "data.json", testRecords))
	cmd, out := testCommand()

	if err := runValidate(cmd, nil); err != nil {
		t.Fatalf("runValidate() returned error: %v", err)
	}
	got := out.String()
	for _, want := range []string{
		"RECORD",
		"T1",
		"T2",
		"1.00",
		"high",
		"Balance must not be negative; Currency must be supported",
		"T2: verify transaction amount, confirm currency code",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestRunValidateJSON(t *testing.T) {
	resetValidateFlags(writeFile(t, "rules.yaml", testRules), writeFile(t, "data.json", testRecords))
	validateFlags.format = "json"
	cmd, out := testCommand()

	if err := runValidate(cmd, nil); err != nil {
		t.Fatalf("runValidate() returned error: %v", err)
	}
	var report rules.Report
	if err := json.Unmarshal(out.Bytes(), &report); err != nil {
		t.Fatalf("output is not a JSON report: %v\n%s", err, out.String())
	}
	if len(report.Outcomes) != 4 || len(report.Risk) != 2 || len(report.Remediation) != 1 {
		t.Errorf("report has %d outcomes, %d assessments, %d remediations",
			len(report.Outcomes), len(report.Risk), len(report.Remediation))
	}
}

func TestRunValidateSampleData(t *testing.T) {
	resetValidateFlags(writeFile(t, "rules.yaml", testRules), "")
	cmd, out := testCommand()

	if err := runValidate(cmd, nil); err != nil {
		t.Fatalf("runValidate() returned error: %v", err)
	}
	for _, id := range []string{"1001", "1002", "1003", "1004"} {
		if !strings.Contains(out.String(), id) {
			t.Errorf("output missing sample record %s", id)
		}
	}
	if !strings.Contains(out.String(), rules.FlagRoundAmount) {
		t.Errorf("output missing the round amount flag of record 1004:\n%s", out.String())
	}
}

func TestRunValidateErrors(t *testing.T) {
	rulesPath := writeFile(t, "rules.yaml", testRules)
	dataPath := writeFile(t, "data.json", testRecords)

	testCases := []struct {
		name    string
		rules   string
		data    string
		format  string
		failOn  string
		wantErr string
	}{
		{name: "missing rules flag", data: dataPath, wantErr: "--rules is required"},
		{name: "missing rules file", rules: filepath.Join(t.TempDir(), "none.yaml"), wantErr: "failed to read rules"},
		{name: "bad rules", rules: writeFile(t, "bad.yaml", "rules: 5"), wantErr: "bad.yaml"},
		{name: "bad data", rules: rulesPath, data: writeFile(t, "bad.json", "{"), wantErr: "bad.json"},
		{name: "unknown format", rules: rulesPath, format: "xml", wantErr: "unknown output format"},
		{name: "unknown fail-on", rules: rulesPath, failOn: "sometimes", wantErr: "unknown --fail-on"},
		{name: "fail on fail", rules: rulesPath, data: dataPath, failOn: "fail", wantErr: "1 of 2 records failed"},
		{name: "fail on high", rules: rulesPath, data: dataPath, failOn: "high", wantErr: "1 of 2 records are high risk"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			resetValidateFlags(tc.rules, tc.data)
			if tc.format != "" {
				validateFlags.format = tc.format
			}
			if tc.failOn != "" {
				validateFlags.failOn = tc.failOn
			}
			cmd, _ := testCommand()

			err := runValidate(cmd, nil)
			if err == nil {
				t.Fatalf("runValidate() should return an error containing %q", tc.wantErr)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error = %q, want it to contain %q", err, tc.wantErr)
			}
		})
	}
}

func TestRunCompile(t *testing.T) {
	compileFlags.rules = writeFile(t, "rules.yaml", testRules)
	compileFlags.format = "text"
	cmd, out := testCommand()

	if err := runCompile(cmd, nil); err != nil {
		t.Fatalf("runCompile() returned error: %v", err)
	}
	if got := strings.Count(out.String(), ": ok (record, active)"); got != 2 {
		t.Errorf("got %d ok lines, want 2:\n%s", got, out.String())
	}
}

func TestRunCompileInvalid(t *testing.T) {
	compileFlags.rules = writeFile(t, "rules.yaml", `
- fields: [loan_type]
  validation_logic: "loan_type in ["
- fields: [Amount]
  validation_logic: Amount > 0 and Status == 'open'
`)
	compileFlags.format = "text"
	cmd, out := testCommand()

	err := runCompile(cmd, nil)
	if err == nil || !strings.Contains(err.Error(), "1 of 2 rules are invalid") {
		t.Fatalf("runCompile() error = %v, want one invalid rule", err)
	}
	got := out.String()
	for _, want := range []string{"rule 0: ", "^", "rule 1: ok", "reads undeclared fields: Status"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestRunExport(t *testing.T) {
	exportFlags.rules = writeFile(t, "rules.yaml", testRules)
	exportFlags.format = "yaml"
	exportFlags.output = filepath.Join(t.TempDir(), "export.yaml")
	cmd, _ := testCommand()

	if err := runExport(cmd, nil); err != nil {
		t.Fatalf("runExport() returned error: %v", err)
	}
	data, err := os.ReadFile(exportFlags.output)
	if err != nil {
		t.Fatalf("export file not written: %v", err)
	}
	var export rules.Export
	if err := yaml.Unmarshal(data, &export); err != nil {
		t.Fatalf("export is not YAML: %v", err)
	}
	if len(export.Rules) != 2 {
		t.Fatalf("got %d exported rules, want 2", len(export.Rules))
	}
	for _, r := range export.Rules {
		if r.CEL == "" || r.ID == "" {
			t.Errorf("exported rule = %+v, want an id and CEL", r)
		}
	}

	exportFlags.output = ""
	exportFlags.format = "toml"
	if err := runExport(cmd, nil); err == nil {
		t.Error("runExport() with unknown format should return error")
	}
}

func TestRootCommand(t *testing.T) {
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs([]string{"compile", "--rules", writeFile(t, "rules.yaml", testRules), "--log-level", "error"})
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		logLevel = ""
	})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("Execute() returned error: %v\n%s", err, errOut.String())
	}
	if cfg == nil {
		t.Fatal("configuration was not loaded")
	}
	if !strings.Contains(out.String(), "rule 1: ok") {
		t.Errorf("output = %q", out.String())
	}
}

func TestWatchFiles(t *testing.T) {
	path := writeFile(t, "rules.yaml", testRules)
	other := filepath.Join(filepath.Dir(path), "unrelated.txt")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() {
		done <- watchFiles(ctx, []string{path}, 20*time.Millisecond, func() {
			select {
			case changed <- struct{}{}:
			default:
			}
		})
	}()

	// The watcher starts asynchronously, so keep touching the file until it
	// reports a change.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
loop:
	for {
		select {
		case <-changed:
			break loop
		case <-tick.C:
			os.WriteFile(other, []byte("x"), 0o644)
			os.WriteFile(path, []byte(testRules), 0o644)
		case <-deadline:
			t.Fatal("no change reported within 5s")
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("watchFiles() returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Error("watchFiles() did not stop after cancellation")
	}
}

// TestWatchFilesSerializesRuns checks that a slow onChange is never run
// twice at once and never runs after watchFiles has returned.
func TestWatchFilesSerializesRuns(t *testing.T) {
	path := writeFile(t, "rules.yaml", testRules)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var running, overlaps, calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- watchFiles(ctx, []string{path}, time.Millisecond, func() {
			if running.Add(1) > 1 {
				overlaps.Add(1)
			}
			calls.Add(1)
			time.Sleep(50 * time.Millisecond)
			running.Add(-1)
		})
	}()

	deadline := time.Now().Add(5 * time.Second)
	for calls.Load() < 3 && time.Now().Before(deadline) {
		os.WriteFile(path, []byte(testRules), 0o644)
		time.Sleep(5 * time.Millisecond)
	}
	if calls.Load() < 3 {
		t.Fatalf("got %d runs within 5s, want at least 3", calls.Load())
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watchFiles() did not stop after cancellation")
	}
	after := calls.Load()
	os.WriteFile(path, []byte(testRules), 0o644)
	time.Sleep(100 * time.Millisecond)

	if n := overlaps.Load(); n != 0 {
		t.Errorf("%d runs overlapped", n)
	}
	if got := calls.Load(); got != after {
		t.Errorf("%d runs started after watchFiles returned", got-after)
	}
	if running.Load() != 0 {
		t.Error("a run was still in progress after watchFiles returned")
	}
}
