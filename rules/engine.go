package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"github.com/google/cel-go/cel"
	"golang.org/x/sync/errgroup"

	"github.com/liamcoop/rulecheck/rules/expr"
)

// ErrEngineFault marks a broken engine invariant. Unlike rule and data
// problems, which become indeterminate outcomes, a fault aborts the run.
var ErrEngineFault = errors.New("engine fault")

// EngineFault describes a broken invariant or a recovered panic.
type EngineFault struct {
	Msg string
}

func (f *EngineFault) Error() string { return "engine fault: " + f.Msg }

func (f *EngineFault) Unwrap() error { return ErrEngineFault }

// Recorder receives engine measurements. The zero engine discards them.
type Recorder interface {
	RecordRun(rules, records int, duration time.Duration)
	RecordOutcomes(pass, fail, indeterminate int)
	RecordCompileFailure(reason string)
	RecordFault()
}

type nopRecorder struct{}

func (nopRecorder) RecordRun(int, int, time.Duration) {}
func (nopRecorder) RecordOutcomes(int, int, int) {}
func (nopRecorder) RecordCompileFailure(string) {}
func (nopRecorder) RecordFault() {}

// Engine evaluates rule sets against record sets. It holds no per-run
// state, so one Engine serves concurrent runs.
type Engine struct {
	env      *cel.Env
	cache    ProgramCache
	bind     BindOptions
	workers  int
	planner  *Planner
	anomaly  AnomalyOptions
	log      *slog.Logger
	recorder Recorder
}

// Option configures an Engine.
type Option func(*Engine)

// WithWorkers sets the size of the per-record worker pool. Values below 1
// are ignored.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithCache sets the program cache. A nil cache disables caching.
func WithCache(c ProgramCache) Option { return func(e *Engine) { e.cache = c } }

// WithBindOptions sets how records are converted.
func WithBindOptions(o BindOptions) Option { return func(e *Engine) { e.bind = o } }

// WithPlanner sets the remediation policy.
func WithPlanner(p *Planner) Option {
	return func(e *Engine) {
		if p != nil {
			e.planner = p
		}
	}
}

// WithAnomalyOptions sets the risk annotations. Zero fields keep their
// defaults.
func WithAnomalyOptions(o AnomalyOptions) Option {
	return func(e *Engine) { e.anomaly = o.WithDefaults() }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		if r != nil {
			e.recorder = r
		}
	}
}

// NewEngine creates an engine with an in-memory program cache, the default
// bind options and remediation table, and one worker per CPU.
func NewEngine(opts ...Option) (*Engine, error) {
	env, err := expr.NewCELEnv()
	if err != nil {
		return nil, err
	}
	e := &Engine{
		env:      env,
		cache:    NewInMemoryProgramCache(DefaultCacheConfig()),
		bind:     DefaultBindOptions(),
		workers:  runtime.GOMAXPROCS(0),
		planner:  DefaultPlanner(),
		anomaly:  DefaultAnomalyOptions(),
		log:      slog.Default(),
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Cache returns the engine's program cache, which may be nil.
func (e *Engine) Cache() ProgramCache { return e.cache }

// Compile compiles every rule through the engine's cache. Failures are
// logged and recorded on the returned rules.
func (e *Engine) Compile(rules []Rule) []*CompiledRule {
	compiled := CompileRules(rules, e.cache)
	for _, c := range compiled {
		if c.Err == nil {
			continue
		}
		reason := "parse"
		var verr *ValidationError
		if errors.As(c.Err, &verr) {
			reason = "validation"
		}
		e.recorder.RecordCompileFailure(reason)
		e.log.Warn("rule failed to compile",
			"rule_id", c.ID,
			"rule_index", c.Index,
			"reason", reason,
			"error", c.Err,
		)
	}
	return compiled
}

// Batch is the result of one run: the compiled rules, the bound records and
// every outcome. Batch-level outcomes come first, in rule order, followed
// by each record's outcomes in record order and then rule order.
type Batch struct {
	Rules    []*CompiledRule
	Records  *RecordSet
	Outcomes []EvaluationOutcome

	byRecord [][]EvaluationOutcome
	anomaly  AnomalyOptions
}

// RecordOutcomes returns the outcomes of record i in rule order.
func (b *Batch) RecordOutcomes(i int) []EvaluationOutcome { return b.byRecord[i] }

// Run compiles rules once, converts records once, precomputes every batch
// aggregate and then evaluates each record's rule sweep on the worker pool.
// Rule and data problems become indeterminate outcomes; only cancellation
// and engine faults return an error, and never with a partial result.
func (e *Engine) Run(ctx context.Context, rules []Rule, records []Record) (*Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()

	compiled := e.Compile(rules)
	set := BindRecords(records, e.bind)

	active := make([]*CompiledRule, 0, len(compiled))
	for _, c := range compiled {
		if c.Active() {
			active = append(active, c)
		}
	}

	memo := expr.NewMemo()
	batchResults := make([]expr.Result, len(compiled))
	var batchOutcomes []EvaluationOutcome
	err := safely(func() {
		for _, c := range active {
			if c.Program != nil {
				set.Materialize(c.Program.Columns)
			}
		}
		for _, c := range active {
			if c.Program == nil {
				continue
			}
			memo.Precompute(c.Program, set)
			if !c.Program.Batch {
				continue
			}
			res := expr.Evaluate(c.Program, expr.Env{Batch: set, Memo: memo})
			batchResults[c.Index] = res
			batchOutcomes = append(batchOutcomes, EvaluationOutcome{
				RuleIndex:   c.Index,
				RuleID:      c.ID,
				Description: c.Rule.Description,
				RecordIndex: -1,
				RecordID:    BatchRecordID,
				Result:      res.Ternary,
				Explanation: res.Explanation,
				BatchLevel:  true,
			})
		}
	})
	if err != nil {
		return nil, e.fault(err)
	}

	slots := make([][]EvaluationOutcome, set.Len())
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i := range slots {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return safely(func() {
				slots[i] = e.sweep(active, set, memo, batchResults, i)
			})
		})
	}
	if err := g.Wait(); err != nil {
		if errors.Is(err, ErrEngineFault) {
			return nil, e.fault(err)
		}
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	outcomes := make([]EvaluationOutcome, 0, len(batchOutcomes)+len(active)*set.Len())
	outcomes = append(outcomes, batchOutcomes...)
	for _, slot := range slots {
		outcomes = append(outcomes, slot...)
	}
	if want := len(active)*set.Len() + len(batchOutcomes); len(outcomes) != want {
		return nil, e.fault(&EngineFault{Msg: fmt.Sprintf("produced %d outcomes, want %d", len(outcomes), want)})
	}

	var pass, fail, ind int
	for _, o := range outcomes {
		switch o.Result {
		case expr.Pass:
			pass++
		case expr.Fail:
			fail++
		default:
			ind++
		}
	}
	e.recorder.RecordOutcomes(pass, fail, ind)
	e.recorder.RecordRun(len(rules), set.Len(), time.Since(start))
	e.log.Debug("batch evaluated",
		"rules", len(rules),
		"active_rules", len(active),
		"records", set.Len(),
		"aggregates", memo.Len(),
		"pass", pass,
		"fail", fail,
		"indeterminate", ind,
		"duration", time.Since(start),
	)

	return &Batch{Rules: compiled, Records: set, Outcomes: outcomes, byRecord: slots, anomaly: e.anomaly}, nil
}

func (e *Engine) fault(err error) error {
	e.recorder.RecordFault()
	e.log.Error("engine fault", "error", err)
	return err
}

func safely(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &EngineFault{Msg: fmt.Sprintf("panic during evaluation: %v", r)}
		}
	}()
	fn()
	return nil
}

// sweep evaluates every active rule against record row.
func (e *Engine) sweep(active []*CompiledRule, set *RecordSet, memo *expr.Memo, batch []expr.Result, row int) []EvaluationOutcome {
	out := make([]EvaluationOutcome, 0, len(active))
	for _, c := range active {
		res, batchLevel := evaluateRule(c, set, memo, batch, row)
		out = append(out, EvaluationOutcome{
			RuleIndex:   c.Index,
			RuleID:      c.ID,
			Description: c.Rule.Description,
			RecordIndex: row,
			RecordID:    set.ID(row),
			Result:      res.Ternary,
			Explanation: res.Explanation,
			BatchLevel:  batchLevel,
		})
	}
	return out
}

func evaluateRule(c *CompiledRule, set *RecordSet, memo *expr.Memo, batch []expr.Result, row int) (expr.Result, bool) {
	if c.Err != nil {
		return expr.Result{Ternary: expr.Indeterminate, Explanation: c.Err.Error()}, false
	}

	b := set.Bind(c.Rule, row)
	if b.AllAbsent() {
		return expr.Result{
			Ternary:     expr.Indeterminate,
			Explanation: "none of the declared fields is present: " + strings.Join(c.Rule.Fields, ", "),
		}, c.Program.Batch
	}
	if c.Program.Batch {
		return batch[c.Index], true
	}

	env := expr.Env{Record: b, Batch: set, Memo: memo}
	if c.Program.UsesValue {
		return evaluateEach(c, b, env), false
	}
	res := expr.Evaluate(c.Program, env)
	if res.Ternary == expr.Fail {
		res.Explanation = "observed " + b.Observed()
	}
	return res, false
}

// evaluateEach checks `value` rules once per declared field and combines
// the results with ternary and.
func evaluateEach(c *CompiledRule, b Binding, env expr.Env) expr.Result {
	combined := expr.Result{Ternary: expr.Pass}
	for i, f := range c.Rule.Fields {
		env.Field, env.Current = f, b.Declared(i)
		res := expr.Evaluate(c.Program, env)
		switch res.Ternary {
		case expr.Fail:
			return expr.Result{Ternary: expr.Fail, Explanation: fmt.Sprintf("failed for %s=%s", f, b.Declared(i))}
		case expr.Indeterminate:
			if combined.Ternary == expr.Pass {
				combined = expr.Result{Ternary: expr.Indeterminate, Explanation: f + ": " + res.Explanation}
			}
		}
	}
	return combined
}

// Validate runs the rules and derives risk and remediation for every
// record.
func (e *Engine) Validate(ctx context.Context, rules []Rule, records []Record) (*Report, error) {
	b, err := e.Run(ctx, rules, records)
	if err != nil {
		return nil, err
	}
	return b.Report(e.planner), nil
}

// Report derives the risk assessment of every record, in record order, and
// a remediation action for each record with at least one failure. Each
// assessment carries the record's anomaly flags.
func (b *Batch) Report(planner *Planner) *Report {
	if planner == nil {
		planner = DefaultPlanner()
	}
	r := &Report{
		Outcomes:    b.Outcomes,
		Risk:        make([]RiskAssessment, 0, b.Records.Len()),
		Remediation: []RemediationAction{},
	}
	flags := Annotate(b.Records, b.anomaly)
	for i := 0; i < b.Records.Len(); i++ {
		outcomes := b.byRecord[i]
		ra := Score(i, b.Records.ID(i), outcomes)
		ra.Flags = flags[i]
		r.Risk = append(r.Risk, ra)

		var failing []Failure
		for _, o := range outcomes {
			if o.Result == expr.Fail {
				rule := b.Rules[o.RuleIndex].Rule
				failing = append(failing, Failure{Description: rule.Description, Fields: rule.Fields})
			}
		}
		if action, ok := planner.Plan(b.Records.ID(i), failing); ok {
			r.Remediation = append(r.Remediation, action)
		}
	}
	return r
}
