package expr

import (
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Bindings resolves the fields of the record under evaluation. Lookup
// returns Absent for a field the record does not carry.
type Bindings interface {
	Lookup(name string) Value
}

// Batch is the record set visible to aggregate expressions.
type Batch interface {
	Len() int
	Lookup(row int, name string) Value
	// Column returns every row's value of name as a list, in row order.
	Column(name string) Value
}

// Env is everything an evaluation may read. None of it is modified.
type Env struct {
	Record Bindings
	Batch  Batch
	Memo   *Memo

	// Field and Current bind `value` for programs with UsesValue.
	Field   string
	Current Value
}

// Memo holds the results of batch-only subexpressions. It is filled by
// Precompute before evaluation starts and only read afterwards, so one Memo
// can be shared by concurrent evaluations.
type Memo struct {
	values map[Node]Value
}

func NewMemo() *Memo { return &Memo{values: make(map[Node]Value)} }

// Precompute evaluates every aggregate of p against b once.
func (m *Memo) Precompute(p *Program, b Batch) {
	for _, n := range p.aggregates {
		if _, ok := m.values[n]; ok {
			continue
		}
		ev := &evaluator{env: Env{Batch: b, Memo: m}}
		m.values[n] = ev.eval(n)
	}
}

// Len reports the number of memoized values.
func (m *Memo) Len() int {
	if m == nil {
		return 0
	}
	return len(m.values)
}

func (m *Memo) lookup(n Node) (Value, bool) {
	if m == nil {
		return Value{}, false
	}
	v, ok := m.values[n]
	return v, ok
}

// Evaluate runs p against env. It is total: every input produces a Result,
// and undecidable operations yield Indeterminate with the reason attached.
func Evaluate(p *Program, env Env) Result {
	ev := &evaluator{env: env}
	t, reason := truth(ev.eval(p.root))
	if t != Indeterminate {
		reason = ""
	}
	return Result{Ternary: t, Explanation: reason}
}

type evaluator struct {
	env  Env
	loop []Value
}

func (ev *evaluator) eval(n Node) Value {
	if n.deps() == depBatch {
		if v, ok := ev.env.Memo.lookup(n); ok {
			return v
		}
	}
	switch n := n.(type) {
	case *Literal:
		return n.Value
	case *FieldRef:
		v := Absent(n.Name)
		if ev.env.Record != nil {
			v = ev.env.Record.Lookup(n.Name)
		}
		if v.kind == KindAbsent && n.Default != nil {
			return ev.eval(n.Default)
		}
		return v
	case *CurrentValue:
		if ev.env.Field == "" {
			return unknown("value is only defined while checking a declared field")
		}
		return ev.env.Current
	case *BatchRef:
		return unknown("the batch is not a value")
	case *ColumnRef:
		if ev.env.Batch == nil {
			return unknown("no batch is available")
		}
		return ev.env.Batch.Column(n.Name)
	case *LoopVar:
		if n.Slot >= len(ev.loop) {
			return Unknownf("%s is not bound", n.Name)
		}
		return ev.loop[n.Slot]
	case *LoopField:
		return ev.loopField(n)
	case *Unary:
		return ev.unary(n)
	case *Binary:
		return arith(n.Op, ev.eval(n.L), ev.eval(n.R))
	case *Logical:
		return ev.logical(n)
	case *Compare:
		return ev.compare(n)
	case *NoneCheck:
		v := ev.eval(n.X)
		if v.IsUnknown() {
			return v
		}
		return BoolValue(v.IsNone() != n.Negate)
	case *TypeCheck:
		return typeCheck(ev.eval(n.X), n.Types)
	case *Index:
		return index(ev.eval(n.X), ev.eval(n.Index))
	case *ListLit:
		items := make([]Value, len(n.Items))
		for i, it := range n.Items {
			items[i] = ev.eval(it)
		}
		if n.Tuple {
			return TupleValue(items)
		}
		return ListValue(items)
	case *Comprehension:
		return ev.comprehension(n)
	case *Call:
		return ev.call(n)
	}
	return unknown("unsupported expression")
}

func (ev *evaluator) loopField(n *LoopField) Value {
	item := ev.eval(n.Var)
	if item.kind != KindRow {
		if r, ok := undecided(item); ok {
			return unknown(r)
		}
		return Unknownf("cannot look up field %q on %s", n.Name, describe(item))
	}
	v := ev.env.Batch.Lookup(int(item.i), n.Name)
	if v.kind == KindAbsent && n.Default != nil {
		return ev.eval(n.Default)
	}
	return v
}

func (ev *evaluator) unary(n *Unary) Value {
	v := ev.eval(n.X)
	switch n.Op {
	case "not":
		t, r := truth(v)
		if t == Indeterminate {
			return unknown(r)
		}
		return BoolValue(t == Fail)
	case "-":
		return negate(v)
	}
	if v.IsNumber() {
		return v
	}
	if r, ok := undecided(v); ok {
		return unknown(r)
	}
	return Unknownf("type mismatch: bad operand for unary +: %s", describe(v))
}

func (ev *evaluator) logical(n *Logical) Value {
	decisive := Fail
	if n.Op == "or" {
		decisive = Pass
	}
	var reason string
	for _, op := range n.Operands {
		t, r := truth(ev.eval(op))
		if t == decisive {
			return BoolValue(t == Pass)
		}
		if t == Indeterminate && reason == "" {
			reason = r
		}
	}
	if reason != "" {
		return unknown(reason)
	}
	return BoolValue(decisive == Fail)
}

func (ev *evaluator) compare(n *Compare) Value {
	left := ev.eval(n.Operands[0])
	var reason string
	for i, op := range n.Ops {
		right := ev.eval(n.Operands[i+1])
		t, r := compareValues(op, left, right)
		if t == Fail {
			return BoolValue(false)
		}
		if t == Indeterminate && reason == "" {
			reason = r
		}
		left = right
	}
	if reason != "" {
		return unknown(reason)
	}
	return BoolValue(true)
}

func typeCheck(v Value, types []string) Value {
	if v.IsNone() {
		return Unknownf("cannot check the type of a missing value: %s", v.Reason())
	}
	if v.IsUnknown() {
		return v
	}
	var name string
	switch v.kind {
	case KindInt:
		name = "int"
	case KindFloat:
		name = "float"
	case KindString:
		name = "str"
	case KindBool:
		name = "bool"
	case KindDate:
		name = "date"
	}
	return BoolValue(name != "" && contains(types, name))
}

func index(x, i Value) Value {
	if r, ok := undecided(x, i); ok {
		return unknown(r)
	}
	if i.kind != KindInt {
		return unknown(mismatch("[]", x, i))
	}
	switch x.kind {
	case KindList:
		n := int64(len(x.list.items))
		k := i.i
		if k < 0 {
			k += n
		}
		if k < 0 || k >= n {
			return Unknownf("index %d out of range", i.i)
		}
		return x.list.items[k]
	case KindString:
		runes := []rune(x.s)
		n := int64(len(runes))
		k := i.i
		if k < 0 {
			k += n
		}
		if k < 0 || k >= n {
			return Unknownf("index %d out of range", i.i)
		}
		return StringValue(string(runes[k]))
	}
	return unknown(mismatch("[]", x, i))
}

// items returns the elements a comprehension iterates over.
func (ev *evaluator) items(n Node) ([]Value, Value, bool) {
	if _, ok := n.(*BatchRef); ok {
		if ev.env.Batch == nil {
			return nil, unknown("no batch is available"), false
		}
		rows := make([]Value, ev.env.Batch.Len())
		for i := range rows {
			rows[i] = rowValue(i)
		}
		return rows, Value{}, true
	}
	return iterable(ev.eval(n))
}

// iterable returns the elements of a list or the characters of a string.
// Otherwise ok is false and bad explains why.
func iterable(v Value) (items []Value, bad Value, ok bool) {
	switch v.kind {
	case KindList:
		return v.list.items, Value{}, true
	case KindString:
		chars := make([]Value, 0, len(v.s))
		for _, r := range v.s {
			chars = append(chars, StringValue(string(r)))
		}
		return chars, Value{}, true
	}
	if r, undec := undecided(v); undec {
		return nil, unknown(r), false
	}
	return nil, Unknownf("type mismatch: %s is not iterable", describe(v)), false
}

func (ev *evaluator) comprehension(c *Comprehension) Value {
	src, bad, ok := ev.items(c.Iter)
	if !ok {
		return bad
	}
	saved := ev.loop
	ev.loop = make([]Value, len(c.Vars))
	defer func() { ev.loop = saved }()

	out := make([]Value, 0, len(src))
	for _, item := range src {
		ev.bind(item)
		if c.Cond != nil {
			t, r := truth(ev.eval(c.Cond))
			if t == Fail {
				continue
			}
			if t == Indeterminate {
				out = append(out, unknown(r))
				continue
			}
		}
		out = append(out, ev.eval(c.Elem))
	}
	return ListValue(out)
}

func (ev *evaluator) bind(item Value) {
	if len(ev.loop) == 1 {
		ev.loop[0] = item
		return
	}
	if item.kind == KindList && len(item.list.items) == len(ev.loop) {
		copy(ev.loop, item.list.items)
		return
	}
	bad := Unknownf("cannot unpack %s into %d names", describe(item), len(ev.loop))
	for i := range ev.loop {
		ev.loop[i] = bad
	}
}

func (ev *evaluator) call(n *Call) Value {
	if n.Func == "len" {
		if _, ok := n.Args[0].(*BatchRef); ok {
			if ev.env.Batch == nil {
				return unknown("no batch is available")
			}
			return IntValue(int64(ev.env.Batch.Len()))
		}
	}
	args := make([]Value, len(n.Args))
	for i, a := range n.Args {
		args[i] = ev.eval(a)
	}
	switch n.Func {
	case "len":
		return length(args[0])
	case "set":
		if len(args) == 0 {
			return ListValue(nil)
		}
		return distinct(args[0])
	case "zip":
		return zip(args)
	case "all":
		return quantify(args[0], Fail)
	case "any":
		return quantify(args[0], Pass)
	case "abs":
		v := args[0]
		if v.kind == KindFloat {
			return FloatValue(math.Abs(v.f))
		}
		if v.kind == KindInt {
			if v.i < 0 {
				return negate(v)
			}
			return v
		}
		return convertError("abs", v)
	case "int":
		return toInt(args[0])
	case "float":
		return toFloat(args[0])
	case "str":
		return toStr(args[0])
	case "sum":
		return sum(args[0])
	case "min":
		return extreme(args, "<")
	case "max":
		return extreme(args, ">")
	}
	return Unknownf("unknown function %s", n.Func)
}

func convertError(fn string, v Value) Value {
	if r, ok := undecided(v); ok {
		return unknown(r)
	}
	return Unknownf("type mismatch: bad argument for %s(): %s", fn, describe(v))
}

func length(v Value) Value {
	switch v.kind {
	case KindString:
		return IntValue(int64(utf8.RuneCountInString(v.s)))
	case KindList:
		return IntValue(int64(len(v.list.items)))
	}
	return convertError("len", v)
}

func distinct(v Value) Value {
	items, bad, ok := iterable(v)
	if !ok {
		return bad
	}
	seen := make(map[string]struct{}, len(items))
	out := make([]Value, 0, len(items))
	for _, it := range items {
		k, ok := it.key()
		if !ok {
			if r, undec := undecided(it); undec {
				return Unknownf("set() over a missing value: %s", r)
			}
			if it.kind == KindList {
				return Unknownf("set() over a missing value: %s", listReason(it))
			}
			return Unknownf("set() over an unhashable %s", describe(it))
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, it)
	}
	return ListValue(out)
}

func zip(args []Value) Value {
	lists := make([][]Value, len(args))
	shortest := -1
	for i, a := range args {
		items, bad, ok := iterable(a)
		if !ok {
			return bad
		}
		lists[i] = items
		if shortest < 0 || len(items) < shortest {
			shortest = len(items)
		}
	}
	out := make([]Value, shortest)
	for i := range out {
		tuple := make([]Value, len(lists))
		for j := range lists {
			tuple[j] = lists[j][i]
		}
		out[i] = TupleValue(tuple)
	}
	return ListValue(out)
}

// quantify is all() when decisive is Fail and any() when it is Pass.
func quantify(v Value, decisive Ternary) Value {
	items, bad, ok := iterable(v)
	if !ok {
		return bad
	}
	var reason string
	for _, it := range items {
		t, r := truth(it)
		if t == decisive {
			return BoolValue(t == Pass)
		}
		if t == Indeterminate && reason == "" {
			reason = r
		}
	}
	if reason != "" {
		return unknown(reason)
	}
	return BoolValue(decisive == Fail)
}

func toInt(v Value) Value {
	switch v.kind {
	case KindInt:
		return v
	case KindFloat:
		t := math.Trunc(v.f)
		if math.Abs(t) >= 9.2e18 {
			return FloatValue(t)
		}
		return IntValue(int64(t))
	case KindBool:
		if v.b {
			return IntValue(1)
		}
		return IntValue(0)
	case KindString:
		s := strings.TrimSpace(v.s)
		if i, err := strconv.ParseInt(strings.ReplaceAll(s, "_", ""), 10, 64); err == nil && !strings.Contains(s, "__") {
			return IntValue(i)
		}
		return Unknownf("invalid literal for int(): %s", quote(v.s))
	}
	return convertError("int", v)
}

func toFloat(v Value) Value {
	switch v.kind {
	case KindInt, KindFloat:
		return FloatValue(v.Float())
	case KindBool:
		if v.b {
			return FloatValue(1)
		}
		return FloatValue(0)
	case KindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.s), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return Unknownf("invalid literal for float(): %s", quote(v.s))
		}
		return FloatValue(f)
	}
	return convertError("float", v)
}

func toStr(v Value) Value {
	switch v.kind {
	case KindString:
		return v
	case KindInt:
		return StringValue(strconv.FormatInt(v.i, 10))
	case KindFloat:
		return StringValue(formatFloat(v.f))
	case KindBool, KindDate:
		return StringValue(v.String())
	}
	return convertError("str", v)
}

func sum(v Value) Value {
	items, bad, ok := iterable(v)
	if !ok {
		return bad
	}
	total := IntValue(0)
	for _, it := range items {
		if !it.IsNumber() {
			return convertError("sum", it)
		}
		total = arith("+", total, it)
		if total.IsUnknown() {
			return total
		}
	}
	return total
}

func extreme(args []Value, op string) Value {
	name := "min"
	if op == ">" {
		name = "max"
	}
	items := args
	if len(args) == 1 {
		var (
			bad Value
			ok  bool
		)
		if items, bad, ok = iterable(args[0]); !ok {
			return bad
		}
	}
	if len(items) == 0 {
		return Unknownf("%s() of an empty sequence", name)
	}
	best := items[0]
	if r, ok := undecided(best); ok {
		return unknown(r)
	}
	for _, it := range items[1:] {
		t, r := orderValues(op, it, best)
		switch t {
		case Indeterminate:
			return unknown(r)
		case Pass:
			best = it
		}
	}
	return best
}
