package expr

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/cel-go/cel"
)

// CELCostLimit bounds the evaluation cost of exported CEL programs.
const CELCostLimit = 1000000

// NewCELEnv declares the variables exported expressions refer to: row (the
// record), rows (the batch) and value (the declared field under test).
func NewCELEnv() (*cel.Env, error) {
	record := cel.MapType(cel.StringType, cel.DynType)
	env, err := cel.NewEnv(
		cel.Variable("row", record),
		cel.Variable("rows", cel.ListType(record)),
		cel.Variable("value", cel.DynType),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
}

// CompileCEL type-checks src in env and returns a cost-limited program.
func CompileCEL(env *cel.Env, src string) (cel.Program, error) {
	ast, issues := env.Compile(src)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}
	prog, err := env.Program(ast, cel.CostLimit(CELCostLimit))
	if err != nil {
		return nil, fmt.Errorf("program creation error: %w", err)
	}
	return prog, nil
}

// ToCEL translates p into a CEL expression over row, rows and value. Absent
// fields are tested with `in`; constructs without a CEL counterpart return a
// *CELError.
func ToCEL(p *Program) (string, error) {
	var sb strings.Builder
	if err := toCEL(&sb, p.root); err != nil {
		return "", err
	}
	return sb.String(), nil
}

const celLoopVar = "it"

func toCEL(sb *strings.Builder, n Node) error {
	switch n := n.(type) {
	case *Literal:
		return celValue(sb, n.Value)
	case *FieldRef:
		if n.Default != nil {
			fmt.Fprintf(sb, "(%s in row ? row[%s] : ", strconv.Quote(n.Name), strconv.Quote(n.Name))
			if err := toCEL(sb, n.Default); err != nil {
				return err
			}
			sb.WriteByte(')')
			return nil
		}
		fmt.Fprintf(sb, "row[%s]", strconv.Quote(n.Name))
	case *CurrentValue:
		sb.WriteString("value")
	case *BatchRef:
		sb.WriteString("rows")
	case *ColumnRef:
		fmt.Fprintf(sb, "rows.map(%s, %s[%s])", celLoopVar, celLoopVar, strconv.Quote(n.Name))
	case *LoopVar:
		sb.WriteString(celLoopVar)
	case *LoopField:
		if n.Default != nil {
			return &CELError{Construct: "get() with a default on a loop variable"}
		}
		fmt.Fprintf(sb, "%s[%s]", celLoopVar, strconv.Quote(n.Name))
	case *Unary:
		switch n.Op {
		case "not":
			sb.WriteString("!")
		case "-":
			sb.WriteString("-")
		}
		return celParen(sb, n.X)
	case *Binary:
		return celBinary(sb, n)
	case *Logical:
		op := " && "
		if n.Op == "or" {
			op = " || "
		}
		for i, x := range n.Operands {
			if i > 0 {
				sb.WriteString(op)
			}
			if err := celParen(sb, x); err != nil {
				return err
			}
		}
	case *Compare:
		for i, op := range n.Ops {
			if i > 0 {
				sb.WriteString(" && ")
			}
			if err := celCompare(sb, op, n.Operands[i], n.Operands[i+1]); err != nil {
				return err
			}
		}
	case *NoneCheck:
		return celNoneCheck(sb, n)
	case *TypeCheck:
		return celTypeCheck(sb, n)
	case *Index:
		if err := celParen(sb, n.X); err != nil {
			return err
		}
		sb.WriteByte('[')
		if err := toCEL(sb, n.Index); err != nil {
			return err
		}
		sb.WriteByte(']')
	case *ListLit:
		sb.WriteByte('[')
		for i, it := range n.Items {
			if i > 0 {
				sb.WriteString(", ")
			}
			if err := toCEL(sb, it); err != nil {
				return err
			}
		}
		sb.WriteByte(']')
	case *Comprehension:
		if len(n.Vars) != 1 {
			return &CELError{Construct: "tuple unpacking"}
		}
		if err := celParen(sb, n.Iter); err != nil {
			return err
		}
		fmt.Fprintf(sb, ".map(%s, ", celLoopVar)
		if n.Cond != nil {
			if err := toCEL(sb, n.Cond); err != nil {
				return err
			}
			sb.WriteString(", ")
		}
		if err := toCEL(sb, n.Elem); err != nil {
			return err
		}
		sb.WriteByte(')')
	case *Call:
		return celCall(sb, n)
	default:
		return &CELError{Construct: fmt.Sprintf("%T", n)}
	}
	return nil
}

func celParen(sb *strings.Builder, n Node) error {
	switch n.(type) {
	case *Literal, *FieldRef, *CurrentValue, *BatchRef, *ColumnRef, *LoopVar, *LoopField, *Call, *ListLit, *Index, *NoneCheck, *TypeCheck:
		return toCEL(sb, n)
	}
	sb.WriteByte('(')
	if err := toCEL(sb, n); err != nil {
		return err
	}
	sb.WriteByte(')')
	return nil
}

func celValue(sb *strings.Builder, v Value) error {
	switch v.kind {
	case KindNull, KindAbsent:
		sb.WriteString("null")
	case KindBool:
		sb.WriteString(strconv.FormatBool(v.b))
	case KindInt:
		sb.WriteString(strconv.FormatInt(v.i, 10))
	case KindFloat:
		sb.WriteString(formatFloat(v.f))
	case KindString:
		sb.WriteString(strconv.Quote(v.s))
	case KindList:
		sb.WriteByte('[')
		for i, it := range v.list.items {
			if i > 0 {
				sb.WriteString(", ")
			}
			if err := celValue(sb, it); err != nil {
				return err
			}
		}
		sb.WriteByte(']')
	default:
		return &CELError{Construct: v.kind.String() + " literal"}
	}
	return nil
}

func isStringLit(n Node) bool {
	l, ok := n.(*Literal)
	return ok && l.Value.kind == KindString
}

func isListLit(n Node) bool {
	switch n := n.(type) {
	case *ListLit:
		return true
	case *Literal:
		return n.Value.kind == KindList
	}
	return false
}

// celBinary converts operands to double so mixed int/float arithmetic and
// true division behave as they do here.
func celBinary(sb *strings.Builder, n *Binary) error {
	if n.Op == "%" {
		return &CELError{Construct: "the % operator"}
	}
	if n.Op == "+" && (isStringLit(n.L) || isStringLit(n.R)) {
		if err := celParen(sb, n.L); err != nil {
			return err
		}
		sb.WriteString(" + ")
		return celParen(sb, n.R)
	}
	sb.WriteString("double(")
	if err := toCEL(sb, n.L); err != nil {
		return err
	}
	sb.WriteString(") " + n.Op + " double(")
	if err := toCEL(sb, n.R); err != nil {
		return err
	}
	sb.WriteByte(')')
	return nil
}

func celCompare(sb *strings.Builder, op string, l, r Node) error {
	if op == "in" || op == "not in" {
		if op == "not in" {
			sb.WriteString("!(")
		}
		if isStringLit(r) || (isStringLit(l) && !isListLit(r)) {
			if err := celParen(sb, r); err != nil {
				return err
			}
			sb.WriteString(".contains(")
			if err := toCEL(sb, l); err != nil {
				return err
			}
			sb.WriteByte(')')
		} else {
			if err := celParen(sb, l); err != nil {
				return err
			}
			sb.WriteString(" in ")
			if err := celParen(sb, r); err != nil {
				return err
			}
		}
		if op == "not in" {
			sb.WriteByte(')')
		}
		return nil
	}
	if err := celParen(sb, l); err != nil {
		return err
	}
	sb.WriteString(" " + op + " ")
	return celParen(sb, r)
}

func celNoneCheck(sb *strings.Builder, n *NoneCheck) error {
	var container, key string
	switch x := n.X.(type) {
	case *FieldRef:
		if x.Default == nil {
			container, key = "row", strconv.Quote(x.Name)
		}
	case *LoopField:
		if x.Default == nil {
			container, key = celLoopVar, strconv.Quote(x.Name)
		}
	}
	if container != "" {
		if n.Negate {
			fmt.Fprintf(sb, "(%s in %s && %s[%s] != null)", key, container, container, key)
		} else {
			fmt.Fprintf(sb, "(!(%s in %s) || %s[%s] == null)", key, container, container, key)
		}
		return nil
	}
	if err := celParen(sb, n.X); err != nil {
		return err
	}
	if n.Negate {
		sb.WriteString(" != null")
	} else {
		sb.WriteString(" == null")
	}
	return nil
}

var celTypes = map[string]string{"int": "int", "float": "double", "str": "string", "bool": "bool"}

func celTypeCheck(sb *strings.Builder, n *TypeCheck) error {
	var x strings.Builder
	if err := toCEL(&x, n.X); err != nil {
		return err
	}
	sb.WriteByte('(')
	for i, t := range n.Types {
		ct, ok := celTypes[t]
		if !ok {
			return &CELError{Construct: "isinstance(..., " + t + ")"}
		}
		if i > 0 {
			sb.WriteString(" || ")
		}
		fmt.Fprintf(sb, "type(%s) == %s", x.String(), ct)
	}
	sb.WriteByte(')')
	return nil
}

func celCall(sb *strings.Builder, n *Call) error {
	switch n.Func {
	case "len":
		sb.WriteString("size(")
		if err := toCEL(sb, n.Args[0]); err != nil {
			return err
		}
		sb.WriteByte(')')
		return nil
	case "int", "float", "str":
		name := map[string]string{"int": "int", "float": "double", "str": "string"}[n.Func]
		sb.WriteString(name + "(")
		if err := toCEL(sb, n.Args[0]); err != nil {
			return err
		}
		sb.WriteByte(')')
		return nil
	case "all", "any":
		macro := "all"
		if n.Func == "any" {
			macro = "exists"
		}
		if c, ok := n.Args[0].(*Comprehension); ok {
			if len(c.Vars) != 1 {
				return &CELError{Construct: "tuple unpacking"}
			}
			if err := celParen(sb, c.Iter); err != nil {
				return err
			}
			fmt.Fprintf(sb, ".%s(%s, ", macro, celLoopVar)
			if c.Cond != nil {
				join := " || "
				if macro == "all" {
					sb.WriteString("!")
				} else {
					join = " && "
				}
				if err := celParen(sb, c.Cond); err != nil {
					return err
				}
				sb.WriteString(join)
			}
			if err := celParen(sb, c.Elem); err != nil {
				return err
			}
			sb.WriteByte(')')
			return nil
		}
		if err := celParen(sb, n.Args[0]); err != nil {
			return err
		}
		fmt.Fprintf(sb, ".%s(%s, %s)", macro, celLoopVar, celLoopVar)
		return nil
	}
	return &CELError{Construct: n.Func + "()"}
}
