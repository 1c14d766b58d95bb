package expr

import (
	"math"
	"regexp"
	"slices"
	"strings"
)

const (
	precOr = iota + 1
	precAnd
	precNot
	precCompare
	precSum
	precTerm
	precUnary
	precPostfix
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Format prints n in canonical form. Compiling the output yields a tree
// that evaluates identically to n.
func Format(n Node) string {
	var sb strings.Builder
	format(&sb, n, 0)
	return sb.String()
}

func precedence(n Node) int {
	switch n := n.(type) {
	case *Logical:
		if n.Op == "or" {
			return precOr
		}
		return precAnd
	case *Unary:
		if n.Op == "not" {
			return precNot
		}
		return precUnary
	case *Compare, *NoneCheck:
		return precCompare
	case *TypeCheck:
		if strictCheckWord(n.Types) != "" {
			return precCompare
		}
	case *Binary:
		if n.Op == "+" || n.Op == "-" {
			return precSum
		}
		return precTerm
	case *Literal:
		if n.Value.IsNumber() && math.Signbit(n.Value.Float()) {
			return precUnary
		}
	}
	return precPostfix
}

func format(sb *strings.Builder, n Node, min int) {
	if precedence(n) < min {
		sb.WriteByte('(')
		format(sb, n, 0)
		sb.WriteByte(')')
		return
	}
	switch n := n.(type) {
	case *Literal:
		formatValue(sb, n.Value)
	case *FieldRef:
		if n.Default != nil {
			sb.WriteString("row.get(")
			sb.WriteString(quote(n.Name))
			sb.WriteString(", ")
			format(sb, n.Default, 0)
			sb.WriteByte(')')
		} else {
			sb.WriteString(fieldName(n.Name))
		}
	case *CurrentValue:
		sb.WriteString("value")
	case *BatchRef:
		sb.WriteString("data")
	case *ColumnRef:
		sb.WriteString("data[")
		sb.WriteString(quote(n.Name))
		sb.WriteByte(']')
	case *LoopVar:
		sb.WriteString(n.Name)
	case *LoopField:
		sb.WriteString(n.Var.Name)
		if n.Default != nil {
			sb.WriteString(".get(")
			sb.WriteString(quote(n.Name))
			sb.WriteString(", ")
			format(sb, n.Default, 0)
			sb.WriteByte(')')
		} else {
			sb.WriteByte('[')
			sb.WriteString(quote(n.Name))
			sb.WriteByte(']')
		}
	case *Unary:
		if tc, ok := n.X.(*TypeCheck); ok && n.Op == "not" && strictCheckWord(tc.Types) != "" {
			format(sb, tc.X, precSum)
			sb.WriteString(" is not " + strictCheckWord(tc.Types))
		} else if n.Op == "not" {
			sb.WriteString("not ")
			format(sb, n.X, precNot)
		} else {
			sb.WriteString(n.Op)
			format(sb, n.X, precUnary)
		}
	case *Binary:
		p := precedence(n)
		format(sb, n.L, p)
		sb.WriteString(" " + n.Op + " ")
		format(sb, n.R, p+1)
	case *Logical:
		p := precedence(n)
		for i, op := range n.Operands {
			if i > 0 {
				sb.WriteString(" " + n.Op + " ")
			}
			format(sb, op, p+1)
		}
	case *Compare:
		for i, op := range n.Operands {
			if i > 0 {
				sb.WriteString(" " + n.Ops[i-1] + " ")
			}
			format(sb, op, precSum)
		}
	case *NoneCheck:
		format(sb, n.X, precSum)
		if n.Negate {
			sb.WriteString(" is not None")
		} else {
			sb.WriteString(" is None")
		}
	case *TypeCheck:
		if w := strictCheckWord(n.Types); w != "" {
			format(sb, n.X, precSum)
			sb.WriteString(" is " + w)
			break
		}
		sb.WriteString("isinstance(")
		format(sb, n.X, 0)
		sb.WriteString(", ")
		if len(n.Types) == 1 {
			sb.WriteString(n.Types[0])
		} else {
			sb.WriteByte('(')
			for i, t := range n.Types {
				if i > 0 {
					sb.WriteString(", ")
				}
				sb.WriteString(t)
			}
			sb.WriteByte(')')
		}
		sb.WriteByte(')')
	case *Index:
		format(sb, n.X, precPostfix)
		sb.WriteByte('[')
		format(sb, n.Index, 0)
		sb.WriteByte(']')
	case *Call:
		sb.WriteString(n.Func)
		sb.WriteByte('(')
		for i, a := range n.Args {
			if i > 0 {
				sb.WriteString(", ")
			}
			format(sb, a, 0)
		}
		sb.WriteByte(')')
	case *ListLit:
		open, closing := "[", "]"
		if n.Tuple {
			open, closing = "(", ")"
		}
		sb.WriteString(open)
		for i, it := range n.Items {
			if i > 0 {
				sb.WriteString(", ")
			}
			format(sb, it, 0)
		}
		if n.Tuple && len(n.Items) == 1 {
			sb.WriteByte(',')
		}
		sb.WriteString(closing)
	case *Comprehension:
		if !n.Generator {
			sb.WriteByte('[')
		}
		format(sb, n.Elem, 0)
		sb.WriteString(" for ")
		for i, v := range n.Vars {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(v.Name)
		}
		sb.WriteString(" in ")
		format(sb, n.Iter, 0)
		if n.Cond != nil {
			sb.WriteString(" if ")
			format(sb, n.Cond, 0)
		}
		if !n.Generator {
			sb.WriteByte(']')
		}
	}
}

func formatValue(sb *strings.Builder, v Value) {
	switch v.kind {
	case KindNull, KindAbsent:
		sb.WriteString("None")
	case KindDate:
		sb.WriteString("date(")
		sb.WriteString(quote(formatDate(v.t)))
		sb.WriteByte(')')
	case KindList:
		open, closing := "[", "]"
		if v.list.tuple {
			open, closing = "(", ")"
		}
		sb.WriteString(open)
		for i, it := range v.list.items {
			if i > 0 {
				sb.WriteString(", ")
			}
			formatValue(sb, it)
		}
		if v.list.tuple && len(v.list.items) == 1 {
			sb.WriteByte(',')
		}
		sb.WriteString(closing)
	default:
		sb.WriteString(v.String())
	}
}

// fieldName prints a record field as a bare name when that parses back to
// the same field, and as row['...'] otherwise.
func fieldName(name string) string {
	if identPattern.MatchString(name) && !keywords[name] && !forbiddenNames[name] &&
		!batchNames[name] && name != "value" && name != "row" && !strings.HasPrefix(name, "__") {
		return name
	}
	return "row[" + quote(name) + "]"
}

// strictCheckWord names the check word for a type list that accepts int but
// not bool, which isinstance() cannot spell.
func strictCheckWord(types []string) string {
	if !contains(types, "int") || contains(types, "bool") {
		return ""
	}
	for _, w := range []string{"integer", "numeric"} {
		if slices.Equal(checkWords[w], types) {
			return w
		}
	}
	return ""
}
