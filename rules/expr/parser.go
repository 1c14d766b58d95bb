package expr

import (
	"strings"
)

// MaxDepth bounds expression nesting.
const MaxDepth = 64

// Program is a compiled expression. It is immutable and safe for concurrent
// evaluation.
type Program struct {
	Source string
	// Fields lists record fields referenced through the current record, in
	// first-seen order.
	Fields []string
	// Columns lists fields read across the whole batch.
	Columns []string
	// Batch is set when the result depends on the batch only, so it is the
	// same for every record.
	Batch bool
	// UsesValue is set when the expression refers to `value`, the declared
	// field under test.
	UsesValue bool

	root       Node
	aggregates []Node
}

// Root returns the expression tree.
func (p *Program) Root() Node { return p.root }

func (p *Program) String() string { return Format(p.root) }

var batchNames = map[string]bool{"data": true, "rows": true, "records": true, "df": true}

var keywords = map[string]bool{
	"and": true, "or": true, "not": true, "in": true, "is": true, "for": true,
	"if": true, "else": true, "elif": true, "True": true, "False": true, "None": true,
	"lambda": true, "import": true, "from": true, "def": true, "class": true,
	"return": true, "yield": true, "await": true, "async": true, "with": true,
	"as": true, "del": true, "global": true, "nonlocal": true, "pass": true,
	"raise": true, "try": true, "except": true, "finally": true, "while": true,
	"assert": true, "break": true, "continue": true,
}

var forbiddenNames = map[string]bool{
	"exec": true, "eval": true, "open": true, "compile": true, "globals": true,
	"locals": true, "getattr": true, "setattr": true, "delattr": true, "vars": true,
	"dir": true, "input": true, "print": true, "breakpoint": true, "exit": true,
	"quit": true, "help": true, "type": true, "object": true, "super": true,
	"memoryview": true, "os": true, "sys": true, "subprocess": true,
}

// builtins maps each callable name to its accepted argument count range;
// max < 0 means variadic.
var builtins = map[string][2]int{
	"len":   {1, 1},
	"set":   {0, 1},
	"zip":   {1, -1},
	"all":   {1, 1},
	"any":   {1, 1},
	"abs":   {1, 1},
	"int":   {1, 1},
	"float": {1, 1},
	"str":   {1, 1},
	"sum":   {1, 1},
	"min":   {1, -1},
	"max":   {1, -1},
}

var generatorFuncs = map[string]bool{"all": true, "any": true, "set": true, "sum": true, "min": true, "max": true}

// typeNames maps isinstance() type names onto value kinds. As in Python,
// bool is a subclass of int, so isinstance(True, int) holds; the check
// words below stay strict, and "x is integer" is false for a bool.
var typeNames = map[string][]string{
	"int":      {"int", "bool"},
	"float":    {"float"},
	"str":      {"str"},
	"bool":     {"bool"},
	"date":     {"date"},
	"datetime": {"date"},
}

var checkWords = map[string][]string{
	"numeric": {"int", "float"},
	"integer": {"int"},
	"float":   {"float"},
	"string":  {"str"},
	"boolean": {"bool"},
	"date":    {"date"},
}

type parser struct {
	toks  []token
	i     int
	depth int

	scope  []*LoopVar
	inComp bool
	inElem bool

	fields    []string
	columns   []string
	seen      map[string]bool
	seenCol   map[string]bool
	usesValue bool
}

// Compile parses src into a Program. It never panics; malformed or forbidden
// input yields a *ParseError.
func Compile(src string) (*Program, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks, seen: map[string]bool{}, seenCol: map[string]bool{}}
	root, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tkEOF {
		return nil, p.unexpected(t)
	}
	if err := checkBatchRefs(root, false); err != nil {
		return nil, err
	}
	prog := &Program{
		Source:    src,
		Fields:    p.fields,
		Columns:   p.columns,
		UsesValue: p.usesValue,
		root:      root,
	}
	d := root.deps()
	prog.Batch = d&depBatch != 0 && d&depRecord == 0
	collectAggregates(root, false, &prog.aggregates)
	return prog, nil
}

func (p *parser) peek() token { return p.toks[p.i] }

func (p *parser) peekAt(n int) token {
	if p.i+n < len(p.toks) {
		return p.toks[p.i+n]
	}
	return p.toks[len(p.toks)-1]
}

func (p *parser) next() token {
	t := p.toks[p.i]
	if t.kind != tkEOF {
		p.i++
	}
	return t
}

func (p *parser) isKw(text string) bool { return p.peek().is(tkIdent, text) }

func (p *parser) isOp(text string) bool { return p.peek().is(tkOp, text) }

func (p *parser) expectOp(text string) (token, error) {
	t := p.peek()
	if !t.is(tkOp, text) {
		if t.kind == tkEOF {
			return t, errAt(t, "unexpected end of expression, expected %q", text)
		}
		return t, errAt(t, "expected %q", text)
	}
	return p.next(), nil
}

func (p *parser) expectKw(text string) (token, error) {
	t := p.peek()
	if !t.is(tkIdent, text) {
		return t, errAt(t, "expected %q", text)
	}
	return p.next(), nil
}

func (p *parser) unexpected(t token) error {
	switch {
	case t.kind == tkEOF:
		return errAt(t, "unexpected end of expression")
	case t.is(tkIdent, "if") || t.is(tkIdent, "else"):
		return errAt(t, "conditional expressions are not allowed")
	case t.is(tkIdent, "for"):
		return errAt(t, "comprehensions must be enclosed in brackets or a function call")
	case t.kind == tkIdent && keywords[t.text]:
		return errAt(t, "%q is not allowed here", t.text)
	}
	return errAt(t, "unexpected token")
}

func (p *parser) enter() error {
	p.depth++
	if p.depth > MaxDepth {
		return errAt(p.peek(), "expression nesting exceeds %d levels", MaxDepth)
	}
	return nil
}

func (p *parser) leave() { p.depth-- }

func spanOf(a, b Node) base {
	pos, _ := a.Span()
	_, end := b.Span()
	return base{pos: pos, end: end}
}

func (p *parser) parseExpr() (Node, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()
	return p.parseBool("or", p.parseAnd)
}

func (p *parser) parseAnd() (Node, error) { return p.parseBool("and", p.parseNot) }

func (p *parser) parseBool(op string, operand func() (Node, error)) (Node, error) {
	first, err := operand()
	if err != nil {
		return nil, err
	}
	operands := []Node{first}
	for p.isKw(op) {
		p.next()
		x, err := operand()
		if err != nil {
			return nil, err
		}
		operands = append(operands, x)
	}
	if len(operands) == 1 {
		return first, nil
	}
	n := &Logical{base: spanOf(first, operands[len(operands)-1]), Op: op, Operands: operands}
	n.dep = depsOf(operands...)
	return n, nil
}

func (p *parser) parseNot() (Node, error) {
	if !p.isKw("not") {
		return p.parseCompare()
	}
	tok := p.next()
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()
	x, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	_, end := x.Span()
	return &Unary{base: base{pos: tok.pos, end: end, dep: x.deps()}, Op: "not", X: x}, nil
}

// compareOp consumes a comparison operator if one follows.
func (p *parser) compareOp() (string, bool) {
	t := p.peek()
	switch {
	case t.kind == tkOp && (t.text == "==" || t.text == "!=" || t.text == "<" || t.text == "<=" || t.text == ">" || t.text == ">="):
		p.next()
		return t.text, true
	case t.is(tkIdent, "in"):
		p.next()
		return "in", true
	case t.is(tkIdent, "not") && p.peekAt(1).is(tkIdent, "in"):
		p.next()
		p.next()
		return "not in", true
	}
	return "", false
}

func (p *parser) parseCompare() (Node, error) {
	left, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	if p.isKw("is") {
		return p.parseIs(left)
	}
	operands := []Node{left}
	var ops []string
	for {
		op, ok := p.compareOp()
		if !ok {
			break
		}
		right, err := p.parseSum()
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
		operands = append(operands, right)
	}
	if len(ops) == 0 {
		return left, nil
	}
	if p.isKw("is") {
		return nil, errAt(p.peek(), "'is' comparisons cannot be chained")
	}
	b := spanOf(left, operands[len(operands)-1])
	if len(ops) == 1 && (ops[0] == "==" || ops[0] == "!=") {
		x := operands[0]
		if isNoneLit(x) {
			x = operands[1]
		}
		if isNoneLit(operands[0]) || isNoneLit(operands[1]) {
			b.dep = x.deps()
			return &NoneCheck{base: b, X: x, Negate: ops[0] == "!="}, nil
		}
	}
	b.dep = depsOf(operands...)
	return &Compare{base: b, Ops: ops, Operands: operands}, nil
}

func isNoneLit(n Node) bool {
	l, ok := n.(*Literal)
	return ok && l.Value.kind == KindNull
}

func (p *parser) parseIs(left Node) (Node, error) {
	p.next()
	negate := false
	if p.isKw("not") {
		p.next()
		negate = true
	}
	t := p.next()
	pos, _ := left.Span()
	b := base{pos: pos, end: t.end, dep: left.deps()}
	var n Node
	switch {
	case t.is(tkIdent, "None"), t.is(tkIdent, "absent"), t.is(tkIdent, "missing"):
		n = &NoneCheck{base: b, X: left, Negate: negate}
	case t.is(tkIdent, "present"):
		n = &NoneCheck{base: b, X: left, Negate: !negate}
	case t.kind == tkIdent && checkWords[t.text] != nil:
		n = &TypeCheck{base: b, X: left, Types: checkWords[t.text]}
		if negate {
			n = &Unary{base: b, Op: "not", X: n}
		}
	default:
		return nil, errAt(t, "expected None or a type check after 'is'")
	}
	if _, ok := p.compareOp(); ok || p.isKw("is") {
		return nil, errAt(p.toks[p.i-1], "'is' comparisons cannot be chained")
	}
	return n, nil
}

func (p *parser) parseSum() (Node, error) {
	return p.parseBinary(p.parseTerm, "+", "-")
}

func (p *parser) parseTerm() (Node, error) {
	return p.parseBinary(p.parseUnary, "*", "/", "%")
}

func (p *parser) parseBinary(operand func() (Node, error), ops ...string) (Node, error) {
	left, err := operand()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tkOp || !contains(ops, t.text) {
			return left, nil
		}
		p.next()
		right, err := operand()
		if err != nil {
			return nil, err
		}
		b := spanOf(left, right)
		b.dep = depsOf(left, right)
		left = &Binary{base: b, Op: t.text, L: left, R: right}
	}
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

func (p *parser) parseUnary() (Node, error) {
	if !p.isOp("-") && !p.isOp("+") {
		return p.parsePostfix()
	}
	tok := p.next()
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()
	x, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	_, end := x.Span()
	b := base{pos: tok.pos, end: end, dep: x.deps()}
	if lit, ok := x.(*Literal); ok && lit.Value.IsNumber() {
		v := lit.Value
		if tok.text == "-" {
			v = negate(v)
		}
		return &Literal{base: b, Value: v}, nil
	}
	return &Unary{base: b, Op: tok.text, X: x}, nil
}

func (p *parser) parsePostfix() (Node, error) {
	x, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		switch {
		case t.is(tkOp, "["):
			if lv, ok := x.(*LoopVar); ok && p.peekAt(1).kind == tkString && p.peekAt(2).is(tkOp, "]") {
				p.next()
				name := p.next()
				end := p.next()
				x = p.loopField(lv, name.val.s, nil, end.end)
				continue
			}
			p.next()
			idx, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			end, err := p.expectOp("]")
			if err != nil {
				return nil, err
			}
			pos, _ := x.Span()
			x = &Index{base: base{pos: pos, end: end.end, dep: depsOf(x, idx)}, X: x, Index: idx}
		case t.is(tkOp, "."):
			lv, ok := x.(*LoopVar)
			if !ok {
				return nil, p.attributeError(x)
			}
			name, def, end, err := p.parseRowAccessor()
			if err != nil {
				return nil, err
			}
			x = p.loopField(lv, name, def, end)
		case t.is(tkOp, "("):
			return nil, errAt(t, "only builtin functions can be called")
		default:
			return x, nil
		}
	}
}

func (p *parser) attributeError(x Node) error {
	dot := p.peek()
	attr := p.peekAt(1)
	if attr.kind == tkIdent && p.peekAt(2).is(tkOp, "(") {
		return errAt(attr, "method calls are not allowed")
	}
	if attr.kind == tkIdent && strings.HasPrefix(attr.text, "__") {
		return errAt(attr, "dunder attributes are not allowed")
	}
	return errAt(dot, "attribute access is only allowed for record field lookup")
}

func (p *parser) loopField(lv *LoopVar, name string, def Node, end int) Node {
	pos, _ := lv.Span()
	return &LoopField{
		base:    base{pos: pos, end: end, dep: depLoop | depsOf(def)},
		Var:     lv,
		Name:    name,
		Default: def,
	}
}

// parseRowAccessor parses `.F`, `.get('F')` or `.get('F', default)` after a
// row name, with the dot as the current token.
func (p *parser) parseRowAccessor() (name string, def Node, end int, err error) {
	p.next()
	attr := p.next()
	if attr.kind != tkIdent {
		return "", nil, 0, errAt(attr, "expected a field name after '.'")
	}
	if strings.HasPrefix(attr.text, "__") {
		return "", nil, 0, errAt(attr, "dunder attributes are not allowed")
	}
	if !p.isOp("(") {
		return attr.text, nil, attr.end, nil
	}
	if attr.text != "get" {
		return "", nil, 0, errAt(attr, "method calls are not allowed")
	}
	p.next()
	key := p.next()
	if key.kind != tkString {
		return "", nil, 0, errAt(key, "row fields must be looked up with a string literal")
	}
	if p.isOp(",") {
		p.next()
		if def, err = p.parseExpr(); err != nil {
			return "", nil, 0, err
		}
	}
	closing, err := p.expectOp(")")
	if err != nil {
		return "", nil, 0, err
	}
	return key.val.s, def, closing.end, nil
}

func (p *parser) recordField(tok token, name string) error {
	if p.inElem {
		return errAt(tok, "a comprehension element cannot reference the current record")
	}
	if !p.seen[name] {
		p.seen[name] = true
		p.fields = append(p.fields, name)
	}
	return nil
}

func (p *parser) column(name string) {
	if !p.seenCol[name] {
		p.seenCol[name] = true
		p.columns = append(p.columns, name)
	}
}

func (p *parser) lookupScope(name string) *LoopVar {
	for _, v := range p.scope {
		if v.Name == name {
			return v
		}
	}
	return nil
}

func (p *parser) parsePrimary() (Node, error) {
	t := p.peek()
	switch t.kind {
	case tkNumber, tkString:
		p.next()
		return &Literal{base: base{pos: t.pos, end: t.end}, Value: t.val}, nil
	case tkOp:
		switch t.text {
		case "(":
			return p.parseParen()
		case "[":
			return p.parseList()
		}
		return nil, p.unexpected(t)
	case tkIdent:
		return p.parseName()
	}
	return nil, p.unexpected(t)
}

func (p *parser) parseName() (Node, error) {
	t := p.next()
	b := base{pos: t.pos, end: t.end}
	switch t.text {
	case "True":
		return &Literal{base: b, Value: BoolValue(true)}, nil
	case "False":
		return &Literal{base: b, Value: BoolValue(false)}, nil
	case "None":
		return &Literal{base: b, Value: Null("")}, nil
	}
	if keywords[t.text] {
		return nil, p.unexpected(t)
	}
	if forbiddenNames[t.text] || strings.HasPrefix(t.text, "__") {
		return nil, errAt(t, "%q is not allowed", t.text)
	}
	if lv := p.lookupScope(t.text); lv != nil {
		b.dep = depLoop
		return &LoopVar{base: b, Name: lv.Name, Slot: lv.Slot}, nil
	}
	if p.isOp("(") {
		return p.parseCall(t)
	}
	switch {
	case t.text == "value":
		if p.inElem {
			return nil, errAt(t, "a comprehension element cannot reference the current record")
		}
		p.usesValue = true
		b.dep = depRecord
		return &CurrentValue{base: b}, nil
	case t.text == "row":
		return p.parseRow(t)
	case batchNames[t.text]:
		return p.parseBatch(t)
	}
	if err := p.recordField(t, t.text); err != nil {
		return nil, err
	}
	b.dep = depRecord
	return &FieldRef{base: b, Name: t.text}, nil
}

func (p *parser) parseRow(t token) (Node, error) {
	var (
		name string
		def  Node
		end  int
		err  error
	)
	switch {
	case p.isOp("["):
		p.next()
		key := p.next()
		if key.kind != tkString {
			return nil, errAt(key, "row fields must be looked up with a string literal")
		}
		closing, err := p.expectOp("]")
		if err != nil {
			return nil, err
		}
		name, end = key.val.s, closing.end
	case p.isOp("."):
		if name, def, end, err = p.parseRowAccessor(); err != nil {
			return nil, err
		}
	default:
		return nil, errAt(t, "row can only be used to look up a field")
	}
	if name == "" {
		return nil, &ParseError{Pos: t.pos, End: end, Token: t.text, Msg: "empty field name"}
	}
	if err := p.recordField(t, name); err != nil {
		return nil, err
	}
	return &FieldRef{base: base{pos: t.pos, end: end, dep: depRecord | depsOf(def)}, Name: name, Default: def}, nil
}

func (p *parser) parseBatch(t token) (Node, error) {
	b := base{pos: t.pos, end: t.end, dep: depBatch}
	switch {
	case p.isOp("["):
		p.next()
		key := p.next()
		if key.kind != tkString {
			return nil, errAt(key, "the batch can only be indexed by a column name")
		}
		closing, err := p.expectOp("]")
		if err != nil {
			return nil, err
		}
		b.end = closing.end
		p.column(key.val.s)
		return &ColumnRef{base: b, Name: key.val.s}, nil
	case p.isOp("."):
		if p.peekAt(1).kind == tkIdent && p.peekAt(2).is(tkOp, "(") {
			return nil, errAt(p.peekAt(1), "method calls are not allowed")
		}
		p.next()
		attr := p.next()
		if attr.kind != tkIdent || strings.HasPrefix(attr.text, "__") {
			return nil, errAt(attr, "expected a column name after '.'")
		}
		b.end = attr.end
		p.column(attr.text)
		return &ColumnRef{base: b, Name: attr.text}, nil
	}
	return &BatchRef{base: b, Name: t.text}, nil
}

func (p *parser) parseParen() (Node, error) {
	open := p.next()
	if p.isOp(")") {
		closing := p.next()
		return &Literal{base: base{pos: open.pos, end: closing.end}, Value: TupleValue(nil)}, nil
	}
	if _, ok := p.scanFor(); ok {
		return nil, errAt(open, "generator expressions are only allowed as a function argument")
	}
	first, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if !p.isOp(",") {
		if _, err := p.expectOp(")"); err != nil {
			return nil, err
		}
		return first, nil
	}
	items := []Node{first}
	for p.isOp(",") {
		p.next()
		if p.isOp(")") {
			break
		}
		x, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		items = append(items, x)
	}
	closing, err := p.expectOp(")")
	if err != nil {
		return nil, err
	}
	return p.sequence(open, closing, items, true), nil
}

func (p *parser) parseList() (Node, error) {
	open := p.next()
	if names, ok := p.scanFor(); ok {
		comp, err := p.parseComprehension(open, names, "]", false)
		if err != nil {
			return nil, err
		}
		return comp, nil
	}
	var items []Node
	for !p.isOp("]") {
		x, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		items = append(items, x)
		if !p.isOp(",") {
			break
		}
		p.next()
	}
	closing, err := p.expectOp("]")
	if err != nil {
		return nil, err
	}
	return p.sequence(open, closing, items, false), nil
}

// sequence folds constant displays into a single literal.
func (p *parser) sequence(open, closing token, items []Node, tuple bool) Node {
	b := base{pos: open.pos, end: closing.end, dep: depsOf(items...)}
	vals := make([]Value, 0, len(items))
	for _, it := range items {
		lit, ok := it.(*Literal)
		if !ok {
			return &ListLit{base: b, Items: items, Tuple: tuple}
		}
		vals = append(vals, lit.Value)
	}
	if tuple {
		return &Literal{base: b, Value: TupleValue(vals)}
	}
	return &Literal{base: b, Value: ListValue(vals)}
}

// scanFor looks ahead, within the current bracket, for a top-level `for`
// clause and returns its target names.
func (p *parser) scanFor() ([]string, bool) {
	depth := 0
	for j := p.i; j < len(p.toks); j++ {
		t := p.toks[j]
		switch {
		case t.kind == tkEOF:
			return nil, false
		case t.is(tkOp, "(") || t.is(tkOp, "["):
			depth++
		case t.is(tkOp, ")") || t.is(tkOp, "]"):
			depth--
			if depth < 0 {
				return nil, false
			}
		case depth == 0 && t.is(tkIdent, "for"):
			var names []string
			for k := j + 1; k < len(p.toks) && p.toks[k].kind == tkIdent && !p.toks[k].is(tkIdent, "in"); k += 2 {
				names = append(names, p.toks[k].text)
				if !p.toks[k+1].is(tkOp, ",") {
					break
				}
			}
			return names, true
		}
	}
	return nil, false
}

func (p *parser) parseComprehension(open token, names []string, closer string, generator bool) (*Comprehension, error) {
	if p.inComp {
		return nil, errAt(open, "nested comprehensions are not allowed")
	}
	vars := make([]*LoopVar, len(names))
	for i, name := range names {
		vars[i] = &LoopVar{Name: name, Slot: i}
	}
	p.inComp = true
	defer func() { p.inComp = false }()

	p.scope, p.inElem = vars, true
	elem, err := p.parseExpr()
	p.scope, p.inElem = nil, false
	if err != nil {
		return nil, err
	}
	if _, err := p.expectKw("for"); err != nil {
		return nil, err
	}
	for i := range vars {
		t := p.next()
		if t.kind != tkIdent || keywords[t.text] || forbiddenNames[t.text] || strings.HasPrefix(t.text, "__") {
			return nil, errAt(t, "invalid comprehension variable")
		}
		vars[i].pos, vars[i].end, vars[i].dep = t.pos, t.end, depLoop
		if i < len(vars)-1 {
			if _, err := p.expectOp(","); err != nil {
				return nil, err
			}
		}
	}
	if len(vars) == 0 {
		return nil, errAt(p.peek(), "invalid comprehension variable")
	}
	if _, err := p.expectKw("in"); err != nil {
		return nil, err
	}
	iter, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	var cond Node
	if p.isKw("if") {
		p.next()
		p.scope, p.inElem = vars, true
		cond, err = p.parseExpr()
		p.scope, p.inElem = nil, false
		if err != nil {
			return nil, err
		}
	}
	if p.isKw("for") {
		return nil, errAt(p.peek(), "nested comprehensions are not allowed")
	}
	closing, err := p.expectOp(closer)
	if err != nil {
		return nil, err
	}
	inner := elem.deps()
	if cond != nil {
		inner |= cond.deps()
	}
	return &Comprehension{
		base:      base{pos: open.pos, end: closing.end, dep: iter.deps() | inner&^depLoop},
		Elem:      elem,
		Vars:      vars,
		Iter:      iter,
		Cond:      cond,
		Generator: generator,
	}, nil
}

func (p *parser) parseCall(name token) (Node, error) {
	switch name.text {
	case "isinstance":
		return p.parseIsInstance(name)
	case "date":
		return p.parseDate(name)
	}
	arity, ok := builtins[name.text]
	if !ok {
		return nil, errAt(name, "unknown function %q", name.text)
	}
	open := p.next()
	if names, ok := p.scanFor(); ok {
		if !generatorFuncs[name.text] {
			return nil, errAt(name, "%s() does not accept a generator", name.text)
		}
		comp, err := p.parseComprehension(open, names, ")", true)
		if err != nil {
			return nil, err
		}
		return &Call{base: base{pos: name.pos, end: comp.end, dep: comp.dep}, Func: name.text, Args: []Node{comp}}, nil
	}
	var args []Node
	for !p.isOp(")") {
		x, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		args = append(args, x)
		if !p.isOp(",") {
			break
		}
		p.next()
	}
	closing, err := p.expectOp(")")
	if err != nil {
		return nil, err
	}
	if len(args) < arity[0] || (arity[1] >= 0 && len(args) > arity[1]) {
		return nil, errAt(name, "%s() takes %s", name.text, arityText(arity))
	}
	return &Call{base: base{pos: name.pos, end: closing.end, dep: depsOf(args...)}, Func: name.text, Args: args}, nil
}

func arityText(a [2]int) string {
	switch {
	case a[1] < 0:
		return "at least one argument"
	case a[0] == a[1]:
		return "exactly one argument"
	default:
		return "at most one argument"
	}
}

func (p *parser) parseIsInstance(name token) (Node, error) {
	p.next()
	x, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expectOp(","); err != nil {
		return nil, err
	}
	var types []string
	addType := func() error {
		t := p.next()
		names, ok := typeNames[t.text]
		if t.kind != tkIdent || !ok {
			return errAt(t, "isinstance() accepts int, float, str, bool, date or a tuple of them")
		}
		for _, n := range names {
			if !contains(types, n) {
				types = append(types, n)
			}
		}
		return nil
	}
	if p.isOp("(") {
		p.next()
		for {
			if err := addType(); err != nil {
				return nil, err
			}
			if !p.isOp(",") {
				break
			}
			p.next()
			if p.isOp(")") {
				break
			}
		}
		if _, err := p.expectOp(")"); err != nil {
			return nil, err
		}
	} else if err := addType(); err != nil {
		return nil, err
	}
	closing, err := p.expectOp(")")
	if err != nil {
		return nil, err
	}
	return &TypeCheck{base: base{pos: name.pos, end: closing.end, dep: x.deps()}, X: x, Types: types}, nil
}

func (p *parser) parseDate(name token) (Node, error) {
	p.next()
	lit := p.next()
	if lit.kind != tkString {
		return nil, errAt(lit, "date() requires a string literal")
	}
	t, ok := parseDate(lit.val.s)
	if !ok {
		return nil, errAt(lit, "date() requires an ISO 8601 date")
	}
	closing, err := p.expectOp(")")
	if err != nil {
		return nil, err
	}
	return &Literal{base: base{pos: name.pos, end: closing.end}, Value: DateValue(t)}, nil
}

// checkBatchRefs rejects a bare batch reference anywhere but len(data) or
// the source of a comprehension.
func checkBatchRefs(n Node, allowed bool) error {
	switch n := n.(type) {
	case *BatchRef:
		if !allowed {
			return &ParseError{Pos: n.pos, End: n.end, Token: n.Name, Msg: "the batch can only be measured with len() or iterated in a comprehension"}
		}
		return nil
	case *Call:
		for _, a := range n.Args {
			if err := checkBatchRefs(a, n.Func == "len"); err != nil {
				return err
			}
		}
		return nil
	case *Comprehension:
		if err := checkBatchRefs(n.Iter, true); err != nil {
			return err
		}
		if err := checkBatchRefs(n.Elem, false); err != nil {
			return err
		}
		if n.Cond != nil {
			return checkBatchRefs(n.Cond, false)
		}
		return nil
	}
	for _, ch := range children(n) {
		if err := checkBatchRefs(ch, false); err != nil {
			return err
		}
	}
	return nil
}
