package rules

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/liamcoop/rulecheck/rules/expr"
)

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e, err := NewEngine(opts...)
	if err != nil {
		t.Fatalf("NewEngine() failed: %v", err)
	}
	return e
}

func run(t *testing.T, e *Engine, rules []Rule, records []Record) *Batch {
	t.Helper()
	b, err := e.Run(context.Background(), rules, records)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	return b
}

func results(outcomes []EvaluationOutcome) []expr.Ternary {
	out := make([]expr.Ternary, len(outcomes))
	for i, o := range outcomes {
		out[i] = o.Result
	}
	return out
}

// TestRunScenarioA checks a plain comparison against passing and failing records.
func TestRunScenarioA(t *testing.T) {
	e := newTestEngine(t)
	rules := []Rule{{Description: "non-negative balance", Fields: []string{"Account_Balance"}, ValidationLogic: "Account_Balance >= 0"}}
	b := run(t, e, rules, []Record{{"Account_Balance": -5000}, {"Account_Balance": 15000}})

	if got, want := results(b.Outcomes), []expr.Ternary{expr.Fail, expr.Pass}; !slices.Equal(got, want) {
		t.Fatalf("results = %v, want %v", got, want)
	}
	if got := b.Outcomes[0].Explanation; got != "observed Account_Balance=-5000" {
		t.Errorf("fail explanation = %q", got)
	}
	if b.Outcomes[1].Explanation != "" {
		t.Errorf("pass explanation = %q, want empty", b.Outcomes[1].Explanation)
	}
}

// TestRunScenarioB checks that a missing field is indeterminate and is left
// out of the risk score.
func TestRunScenarioB(t *testing.T) {
	e := newTestEngine(t)
	rules := []Rule{
		{Description: "account type recorded", Fields: []string{"Account_Type"}, ValidationLogic: "Account_Type is not None"},
		{Description: "positive amount", Fields: []string{"Amount"}, ValidationLogic: "Amount > 0"},
	}
	report, err := e.Validate(context.Background(), rules, []Record{{"Amount": 10}})
	if err != nil {
		t.Fatalf("Validate() failed: %v", err)
	}

	if got := report.Outcomes[0].Result; got != expr.Indeterminate {
		t.Errorf("missing field result = %v, want indeterminate", got)
	}
	if !strings.Contains(report.Outcomes[0].Explanation, "Account_Type") {
		t.Errorf("explanation %q should name the missing field", report.Outcomes[0].Explanation)
	}
	ra := report.Risk[0]
	if ra.Score != 0 || ra.Evaluated != 1 || ra.Failed != 0 {
		t.Errorf("risk = %+v, want score 0 over 1 evaluated rule", ra)
	}
	if len(report.Remediation) != 0 {
		t.Errorf("remediation = %+v, want none", report.Remediation)
	}
}

// TestRunScenarioC checks a record failing two of four evaluable rules.
func TestRunScenarioC(t *testing.T) {
	e := newTestEngine(t)
	rules := []Rule{
		{Description: "r1", Fields: []string{"A"}, ValidationLogic: "A > 0"},
		{Description: "r2", Fields: []string{"A"}, ValidationLogic: "A > 100"},
		{Description: "r3", Fields: []string{"B"}, ValidationLogic: "B == 'x'"},
		{Description: "r4", Fields: []string{"B"}, ValidationLogic: "B in ['y', 'z']"},
		{Description: "r5", Fields: []string{"C"}, ValidationLogic: "C > 0"},
	}
	report, err := e.Validate(context.Background(), rules, []Record{{"A": 5, "B": "x"}})
	if err != nil {
		t.Fatalf("Validate() failed: %v", err)
	}
	ra := report.Risk[0]
	if ra.Score != 0.5 {
		t.Errorf("Score = %v, want 0.5", ra.Score)
	}
	if want := []string{"r2", "r4"}; !slices.Equal(ra.Reasons, want) {
		t.Errorf("Reasons = %v, want %v", ra.Reasons, want)
	}
}

// TestRunScenarioD checks that an unparsable rule degrades to indeterminate
// without stopping the batch.
func TestRunScenarioD(t *testing.T) {
	e := newTestEngine(t)
	rules := []Rule{
		{Description: "loan type", Fields: []string{"loan_type"}, ValidationLogic: "loan_type in ["},
		{Description: "positive amount", Fields: []string{"Amount"}, ValidationLogic: "Amount > 0"},
	}
	records := SampleRecords()
	b := run(t, e, rules, records)

	if len(b.Outcomes) != 2*len(records) {
		t.Fatalf("got %d outcomes, want %d", len(b.Outcomes), 2*len(records))
	}
	for i := range records {
		got := b.RecordOutcomes(i)
		if got[0].Result != expr.Indeterminate || !strings.Contains(got[0].Explanation, "parse error") {
			t.Errorf("record %d: unparsable rule gave %v %q", i, got[0].Result, got[0].Explanation)
		}
		if got[1].Result != expr.Pass {
			t.Errorf("record %d: valid rule gave %v", i, got[1].Result)
		}
	}
}

func TestRunSampleData(t *testing.T) {
	e := newTestEngine(t)
	rules := SampleRules()
	report, err := e.Validate(context.Background(), rules, SampleRecords())
	if err != nil {
		t.Fatalf("Validate() failed: %v", err)
	}

	if got, want := len(report.Outcomes), 1+len(rules)*4; got != want {
		t.Fatalf("got %d outcomes, want %d", got, want)
	}
	first := report.Outcomes[0]
	if !first.BatchLevel || first.RecordID != BatchRecordID || first.RecordIndex != -1 || first.Result != expr.Pass {
		t.Errorf("first outcome = %+v, want the passing batch-level uniqueness check", first)
	}

	for i, ra := range report.Risk {
		want := 0.0
		if i == 2 {
			want = 0.2
		}
		if ra.Score != want {
			t.Errorf("record %d (%s): score = %v, want %v", i, ra.RecordID, ra.Score, want)
		}
	}

	if len(report.Remediation) != 1 {
		t.Fatalf("remediation = %+v, want one action", report.Remediation)
	}
	ra := report.Remediation[0]
	if ra.RecordID != "1003" || !ra.DocumentationRequired {
		t.Errorf("remediation = %+v", ra)
	}
	if want := []string{"flag for override review", "verify transaction amount"}; !slices.Equal(ra.Actions, want) {
		t.Errorf("Actions = %v, want %v", ra.Actions, want)
	}
}

func TestRunRetiredRulesSkipped(t *testing.T) {
	e := newTestEngine(t)
	rules := []Rule{
		{Description: "retired", Fields: []string{"Amount"}, ValidationLogic: "Amount > 1000", Status: StatusRetired},
		{Description: "active", Fields: []string{"Amount"}, ValidationLogic: "Amount > 0"},
	}
	b := run(t, e, rules, SampleRecords())
	for _, o := range b.Outcomes {
		if o.RuleIndex == 0 {
			t.Fatalf("retired rule produced outcome %+v", o)
		}
	}
	if len(b.Outcomes) != 4 {
		t.Errorf("got %d outcomes, want 4", len(b.Outcomes))
	}
}

func TestRunBatchRules(t *testing.T) {
	testCases := []struct {
		name    string
		logic   string
		records []Record
		want    []expr.Ternary
	}{
		{
			name:    "duplicates",
			logic:   "len(set(data['Customer_ID'])) == len(data)",
			records: []Record{{"Customer_ID": 1}, {"Customer_ID": 1}},
			want:    []expr.Ternary{expr.Fail, expr.Fail, expr.Fail},
		},
		{
			name:    "unique",
			logic:   "len(set(data['Customer_ID'])) == len(data)",
			records: []Record{{"Customer_ID": 1}, {"Customer_ID": 2}},
			want:    []expr.Ternary{expr.Pass, expr.Pass, expr.Pass},
		},
		{
			name:    "record without the field",
			logic:   "len(data) < 3",
			records: []Record{{"Customer_ID": 1}, {"Customer_ID": 2}, {"Other": true}},
			want:    []expr.Ternary{expr.Fail, expr.Fail, expr.Fail, expr.Indeterminate},
		},
	}

	e := newTestEngine(t)
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rules := []Rule{{Description: "batch", Fields: []string{"Customer_ID"}, ValidationLogic: tc.logic}}
			b := run(t, e, rules, tc.records)

			if got := results(b.Outcomes); !slices.Equal(got, tc.want) {
				t.Fatalf("results = %v, want %v", got, tc.want)
			}
			for i, o := range b.Outcomes {
				if !o.BatchLevel {
					t.Errorf("outcome %d should be batch level", i)
				}
			}
			if b.Outcomes[0].RecordID != BatchRecordID {
				t.Errorf("first outcome record = %q, want %q", b.Outcomes[0].RecordID, BatchRecordID)
			}
		})
	}
}

func TestRunValueRules(t *testing.T) {
	e := newTestEngine(t)
	rules := []Rule{{Description: "positive amounts", Fields: []string{"Amount", "Reported_Amount"}, ValidationLogic: "value > 0"}}
	records := []Record{
		{"Amount": 5, "Reported_Amount": 5},
		{"Amount": 5, "Reported_Amount": -1},
		{"Amount": 5},
	}
	b := run(t, e, rules, records)

	if got, want := results(b.Outcomes), []expr.Ternary{expr.Pass, expr.Fail, expr.Indeterminate}; !slices.Equal(got, want) {
		t.Fatalf("results = %v, want %v", got, want)
	}
	if got := b.Outcomes[1].Explanation; got != "failed for Reported_Amount=-1" {
		t.Errorf("explanation = %q", got)
	}
	if got := b.Outcomes[2].Explanation; !strings.HasPrefix(got, "Reported_Amount: ") {
		t.Errorf("explanation = %q, want it to name the undecided field", got)
	}
}

// TestRunScalesLinearly checks that per-record rules reading whole columns
// cost constant time per record once the column values are built.
func TestRunScalesLinearly(t *testing.T) {
	if testing.Short() {
		t.Skip("timing test")
	}
	rules := []Rule{
		{Description: "singleton list", Fields: []string{"A"}, ValidationLogic: "[A] == data['A']"},
		{Description: "member", Fields: []string{"A"}, ValidationLogic: "A in data['A']"},
		{Description: "pair present", Fields: []string{"A", "B"}, ValidationLogic: "(A, B) in zip(data['A'], data['B'])"},
		{Description: "pair absent", Fields: []string{"A", "B"}, ValidationLogic: "(A, B + 1) in zip(data['A'], data['C'])"},
		{Description: "column scan", Fields: []string{"A"}, ValidationLogic: "all(v >= 0 for v in data['A']) and A >= 0"},
	}
	records := func(n int) []Record {
		out := make([]Record, n)
		for i := range out {
			out[i] = Record{"A": i, "B": i, "C": i}
			if i == 0 {
				out[i]["C"] = nil
			}
		}
		return out
	}
	e := newTestEngine(t, WithWorkers(1))

	b := run(t, e, rules, records(3))
	want := []expr.Ternary{expr.Fail, expr.Pass, expr.Pass, expr.Indeterminate, expr.Pass}
	if got := results(b.RecordOutcomes(1)); !slices.Equal(got, want) {
		t.Fatalf("results = %v, want %v", got, want)
	}

	best := func(n int) time.Duration {
		recs := records(n)
		var min time.Duration
		for i := 0; i < 3; i++ {
			start := time.Now()
			run(t, e, rules, recs)
			if d := time.Since(start); i == 0 || d < min {
				min = d
			}
		}
		return min
	}
	small, large := best(2000), best(8000)
	// Four times the records should cost about four times as much; a
	// quadratic rule would cost sixteen.
	if ratio := float64(large) / float64(small); ratio > 10 {
		t.Errorf("8000 records took %v, 2000 took %v (ratio %.1f), want roughly linear", large, small, ratio)
	}
	if large > 10*time.Second {
		t.Errorf("8000 records took %v", large)
	}
}

func TestRunAllAbsentIsIndeterminate(t *testing.T) {
	e := newTestEngine(t)
	rules := []Rule{
		{Description: "missing is none", Fields: []string{"Missing"}, ValidationLogic: "Missing is None"},
		{Description: "missing or true", Fields: []string{"Missing"}, ValidationLogic: "Missing > 0 or True"},
		{Description: "value", Fields: []string{"Missing", "Gone"}, ValidationLogic: "value is not None"},
	}
	b := run(t, e, rules, SampleRecords())
	for _, o := range b.Outcomes {
		if o.Result != expr.Indeterminate {
			t.Errorf("rule %d record %d = %v, want indeterminate", o.RuleIndex, o.RecordIndex, o.Result)
		}
	}
}

func TestRunIdempotent(t *testing.T) {
	rules := append(SampleRules(), Rule{Description: "broken", Fields: []string{"x"}, ValidationLogic: "x in ["})
	records := SampleRecords()

	var reports [][]byte
	for _, workers := range []int{1, 8, 1} {
		e := newTestEngine(t, WithWorkers(workers))
		report, err := e.Validate(context.Background(), rules, records)
		if err != nil {
			t.Fatalf("Validate() failed: %v", err)
		}
		data, err := json.Marshal(report)
		if err != nil {
			t.Fatalf("Marshal() failed: %v", err)
		}
		reports = append(reports, data)
	}
	for i := 1; i < len(reports); i++ {
		if string(reports[i]) != string(reports[0]) {
			t.Errorf("run %d differs:\n%s\nvs\n%s", i, reports[i], reports[0])
		}
	}
}

func TestRunRoundTrip(t *testing.T) {
	e := newTestEngine(t)
	rules := append(SampleRules(),
		Rule{Description: "types", Fields: []string{"Amount"}, ValidationLogic: "isinstance(Amount, (int, float)) and not Amount < 0"},
		Rule{Description: "all", Fields: []string{"Currency"}, ValidationLogic: "all(r['Currency'] in ('USD','EUR','GBP') for r in data)"},
	)
	records := SampleRecords()
	first := run(t, e, rules, records)

	reparsed := make([]Rule, len(rules))
	for i, c := range first.Rules {
		if c.Err != nil {
			t.Fatalf("rule %d failed to compile: %v", i, c.Err)
		}
		reparsed[i] = c.Rule
		reparsed[i].ValidationLogic = c.Program.String()
	}
	second := run(t, e, reparsed, records)

	if got, want := results(second.Outcomes), results(first.Outcomes); !slices.Equal(got, want) {
		t.Errorf("canonical logic changed results: %v vs %v", got, want)
	}
}

func TestRunCancelled(t *testing.T) {
	e := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b, err := e.Run(ctx, SampleRules(), SampleRecords())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
	if b != nil {
		t.Error("Run() should not return a partial batch")
	}
}

func TestRunEmpty(t *testing.T) {
	e := newTestEngine(t)
	report, err := e.Validate(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Validate() failed: %v", err)
	}
	if len(report.Outcomes) != 0 || len(report.Risk) != 0 || report.Remediation == nil {
		t.Errorf("report = %+v", report)
	}
}

func TestSafelyRecoversPanics(t *testing.T) {
	err := safely(func() { panic("boom") })
	if !errors.Is(err, ErrEngineFault) {
		t.Fatalf("safely() = %v, want an engine fault", err)
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("error %q should carry the panic value", err)
	}
	if err := safely(func() {}); err != nil {
		t.Errorf("safely() = %v, want nil", err)
	}
}

type countingRecorder struct {
	mu       sync.Mutex
	runs     int
	pass     int
	fail     int
	ind      int
	failures []string
}

func (r *countingRecorder) RecordRun(int, int, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs++
}

func (r *countingRecorder) RecordOutcomes(pass, fail, ind int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pass += pass
	r.fail += fail
	r.ind += ind
}

func (r *countingRecorder) RecordCompileFailure(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, reason)
}

func (r *countingRecorder) RecordFault() {}

func TestRunRecordsMetrics(t *testing.T) {
	rec := &countingRecorder{}
	e := newTestEngine(t, WithRecorder(rec))
	rules := []Rule{
		{Description: "bad", Fields: []string{"x"}, ValidationLogic: "x in ["},
		{Description: "no fields", ValidationLogic: "True"},
		{Description: "amount", Fields: []string{"Amount"}, ValidationLogic: "Amount > 1000"},
	}
	run(t, e, rules, SampleRecords())

	if rec.runs != 1 {
		t.Errorf("runs = %d, want 1", rec.runs)
	}
	if want := []string{"parse", "validation"}; !slices.Equal(rec.failures, want) {
		t.Errorf("compile failures = %v, want %v", rec.failures, want)
	}
	if rec.pass != 2 || rec.fail != 2 || rec.ind != 8 {
		t.Errorf("pass/fail/ind = %d/%d/%d, want 2/2/8", rec.pass, rec.fail, rec.ind)
	}
}
