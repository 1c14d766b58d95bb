package expr

// Node is an element of a compiled expression tree. The set of node types is
// closed; only this package constructs them.
type Node interface {
	Span() (pos, end int)
	deps() depMask
	node()
}

type depMask uint8

const (
	depRecord depMask = 1 << iota // the current record or declared field
	depBatch                      // the whole record set
	depLoop                       // a comprehension variable
)

type base struct {
	pos, end int
	dep      depMask
}

func (b *base) Span() (int, int) { return b.pos, b.end }
func (b *base) deps() depMask { return b.dep }
func (b *base) node() {}

// Literal is a constant, including folded list literals and date('...').
type Literal struct {
	base
	Value Value
}

// FieldRef reads a field of the current record. Default, when set, replaces
// an absent field as in row.get('F', default).
type FieldRef struct {
	base
	Name    string
	Default Node
}

// CurrentValue is `value`: the declared field under test.
type CurrentValue struct{ base }

// BatchRef is the whole record set (data, rows, records, df).
type BatchRef struct {
	base
	Name string
}

// ColumnRef is data['F']: every row's value for F, in row order.
type ColumnRef struct {
	base
	Name string
}

// LoopVar is a comprehension variable. Slot indexes the unpacked target list.
type LoopVar struct {
	base
	Name string
	Slot int
}

// LoopField is r['F'] where r is a comprehension variable bound to a row.
type LoopField struct {
	base
	Var     *LoopVar
	Name    string
	Default Node
}

type Unary struct {
	base
	Op string // not, -, +
	X  Node
}

type Binary struct {
	base
	Op   string // + - * / %
	L, R Node
}

// Logical is a flat and/or chain evaluated left to right.
type Logical struct {
	base
	Op       string
	Operands []Node
}

// Compare is a possibly chained comparison: Operands[i] Ops[i] Operands[i+1].
type Compare struct {
	base
	Ops      []string
	Operands []Node
}

// NoneCheck is `X is None` (Negate false) or `X is not None` (Negate true).
// Absent and null both count as None.
type NoneCheck struct {
	base
	X      Node
	Negate bool
}

// TypeCheck is isinstance(X, T) or X is numeric|integer|...; Types holds
// the accepted type names (int, float, str, bool, date). isinstance(X, int)
// also accepts bool, so a Types list holding int without bool can only come
// from a check word.
type TypeCheck struct {
	base
	X     Node
	Types []string
}

type Index struct {
	base
	X, Index Node
}

// Call applies a function from the closed builtin set.
type Call struct {
	base
	Func string
	Args []Node
}

// ListLit is a list or tuple display whose items are not all constant.
type ListLit struct {
	base
	Items []Node
	Tuple bool
}

// Comprehension is [Elem for Vars in Iter if Cond], or a generator passed to
// a call. Cond is optional.
type Comprehension struct {
	base
	Elem      Node
	Vars      []*LoopVar
	Iter      Node
	Cond      Node
	Generator bool
}

func children(n Node) []Node {
	switch n := n.(type) {
	case *FieldRef:
		if n.Default != nil {
			return []Node{n.Default}
		}
	case *LoopField:
		if n.Default != nil {
			return []Node{n.Var, n.Default}
		}
		return []Node{n.Var}
	case *Unary:
		return []Node{n.X}
	case *Binary:
		return []Node{n.L, n.R}
	case *Logical:
		return n.Operands
	case *Compare:
		return n.Operands
	case *NoneCheck:
		return []Node{n.X}
	case *TypeCheck:
		return []Node{n.X}
	case *Index:
		return []Node{n.X, n.Index}
	case *Call:
		return n.Args
	case *ListLit:
		return n.Items
	case *Comprehension:
		if n.Cond != nil {
			return []Node{n.Elem, n.Iter, n.Cond}
		}
		return []Node{n.Elem, n.Iter}
	}
	return nil
}

func depsOf(nodes ...Node) depMask {
	var d depMask
	for _, n := range nodes {
		if n != nil {
			d |= n.deps()
		}
	}
	return d
}

func isAggregate(n Node) bool {
	if n.deps() != depBatch {
		return false
	}
	switch n.(type) {
	case *BatchRef, *ColumnRef, *Literal:
		return false
	}
	return true
}

// collectAggregates appends, inner first, the batch-only subtrees that are
// evaluated once per batch. Subtrees inside a comprehension element run per
// iteration, so their loop-invariant parts are memoized as well.
func collectAggregates(n Node, covered bool, out *[]Node) {
	agg := !covered && isAggregate(n)
	if c, ok := n.(*Comprehension); ok {
		collectAggregates(c.Iter, covered || agg, out)
		collectAggregates(c.Elem, false, out)
		if c.Cond != nil {
			collectAggregates(c.Cond, false, out)
		}
	} else {
		for _, ch := range children(n) {
			collectAggregates(ch, covered || agg, out)
		}
	}
	if agg {
		*out = append(*out, n)
	}
}

func walk(n Node, fn func(Node)) {
	fn(n)
	for _, ch := range children(n) {
		walk(ch, fn)
	}
}
