package expr

import (
	"fmt"
	"math"
	"strings"
)

func boolTernary(b bool) Ternary {
	if b {
		return Pass
	}
	return Fail
}

// undecided returns the reason the first absent, null or unknown operand
// blocks a comparison.
func undecided(vs ...Value) (string, bool) {
	for _, v := range vs {
		if v.kind == KindUnknown {
			return v.s, true
		}
	}
	for _, v := range vs {
		if v.IsNone() {
			return v.Reason(), true
		}
	}
	return "", false
}

func mismatch(op string, a, b Value) string {
	return fmt.Sprintf("type mismatch: cannot apply %s to %s and %s", op, describe(a), describe(b))
}

func numCompare(a, b Value) int {
	if a.kind == KindInt && b.kind == KindInt {
		switch {
		case a.i < b.i:
			return -1
		case a.i > b.i:
			return 1
		}
		return 0
	}
	x, y := a.Float(), b.Float()
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

// asDates accepts date/date pairs and a date paired with an ISO date string.
func asDates(a, b Value) (x, y Value, ok bool) {
	x, y = a, b
	if x.kind == KindString && y.kind == KindDate {
		t, ok := parseDate(x.s)
		if !ok {
			return x, y, false
		}
		x = DateValue(t)
	}
	if y.kind == KindString && x.kind == KindDate {
		t, ok := parseDate(y.s)
		if !ok {
			return x, y, false
		}
		y = DateValue(t)
	}
	return x, y, x.kind == KindDate && y.kind == KindDate
}

func equalValues(a, b Value) (Ternary, string) {
	if r, ok := undecided(a, b); ok {
		return Indeterminate, r
	}
	switch {
	case a.IsNumber() && b.IsNumber():
		return boolTernary(numCompare(a, b) == 0), ""
	case a.kind == KindString && b.kind == KindString:
		return boolTernary(a.s == b.s), ""
	case a.kind == KindBool && b.kind == KindBool:
		return boolTernary(a.b == b.b), ""
	case a.kind == KindDate || b.kind == KindDate:
		x, y, ok := asDates(a, b)
		if !ok {
			return Indeterminate, mismatch("==", a, b)
		}
		return boolTernary(x.t.Equal(y.t)), ""
	case a.kind == KindList && b.kind == KindList:
		if len(a.list.items) != len(b.list.items) {
			return Fail, ""
		}
		if a.list.keyed && b.list.keyed {
			return boolTernary(a.list.key == b.list.key), ""
		}
		return Indeterminate, unkeyedReason(a, b)
	}
	return Indeterminate, mismatch("==", a, b)
}

// unkeyedReason explains the first item without a key in lists. Only that
// item is inspected.
func unkeyedReason(lists ...Value) string {
	for _, l := range lists {
		if !l.list.keyed {
			if r := l.list.unkeyedReason(); r != "" {
				return r
			}
		}
	}
	return ""
}

func (l *List) unkeyedReason() string {
	return listReason(ListValue(l.items[l.unkeyed : l.unkeyed+1]))
}

func listReason(lists ...Value) string {
	for _, l := range lists {
		for _, it := range l.list.items {
			if r, ok := undecided(it); ok {
				return r
			}
			if it.kind == KindList {
				if r := listReason(it); r != "" {
					return r
				}
			}
			if it.kind == KindRow {
				return "a row cannot be compared"
			}
		}
	}
	return ""
}

func orderValues(op string, a, b Value) (Ternary, string) {
	if r, ok := undecided(a, b); ok {
		return Indeterminate, r
	}
	var c int
	switch {
	case a.IsNumber() && b.IsNumber():
		c = numCompare(a, b)
	case a.kind == KindString && b.kind == KindString:
		c = strings.Compare(a.s, b.s)
	case a.kind == KindDate || b.kind == KindDate:
		x, y, ok := asDates(a, b)
		if !ok {
			return Indeterminate, mismatch(op, a, b)
		}
		c = x.t.Compare(y.t)
	default:
		return Indeterminate, mismatch(op, a, b)
	}
	switch op {
	case "<":
		return boolTernary(c < 0), ""
	case "<=":
		return boolTernary(c <= 0), ""
	case ">":
		return boolTernary(c > 0), ""
	default:
		return boolTernary(c >= 0), ""
	}
}

// compareValues applies a comparison operator other than is/is not.
func compareValues(op string, a, b Value) (Ternary, string) {
	switch op {
	case "==":
		return equalValues(a, b)
	case "!=":
		t, r := equalValues(a, b)
		return t.Not(), r
	case "in":
		return memberOf(a, b)
	case "not in":
		t, r := memberOf(a, b)
		return t.Not(), r
	default:
		return orderValues(op, a, b)
	}
}

// memberOf is the Kleene disjunction of x == e over the elements of a list,
// or substring containment when the container is a string.
func memberOf(x, container Value) (Ternary, string) {
	if r, ok := undecided(container); ok {
		return Indeterminate, r
	}
	switch container.kind {
	case KindString:
		if r, ok := undecided(x); ok {
			return Indeterminate, r
		}
		if x.kind != KindString {
			return Indeterminate, mismatch("in", x, container)
		}
		return boolTernary(strings.Contains(container.s, x.s)), ""
	case KindList:
		return container.list.contains(x)
	}
	return Indeterminate, mismatch("in", x, container)
}

func (l *List) contains(x Value) (Ternary, string) {
	if r, ok := undecided(x); ok {
		return Indeterminate, r
	}
	for _, k := range candidateKeys(x) {
		if l.has(k) {
			return Pass, ""
		}
	}
	for k := Kind(0); k < numKinds; k++ {
		idx := l.first[k]
		if idx < 0 || comparableKinds(x, k, l) {
			continue
		}
		it := l.items[idx]
		if r, ok := undecided(it); ok {
			return Indeterminate, r
		}
		return Indeterminate, mismatch("in", x, it)
	}
	if x.kind == KindList {
		if !x.list.keyed {
			return Indeterminate, unkeyedReason(x)
		}
		if !l.keyed {
			return Indeterminate, l.unkeyedReason()
		}
	}
	return Fail, ""
}

func comparableKinds(x Value, k Kind, l *List) bool {
	switch k {
	case KindInt, KindFloat:
		return x.IsNumber()
	case KindString:
		return x.kind == KindString || (x.kind == KindDate && l.dateStrings)
	case KindBool:
		return x.kind == KindBool
	case KindDate:
		if x.kind == KindDate {
			return true
		}
		if x.kind == KindString {
			_, ok := parseDate(x.s)
			return ok
		}
		return false
	case KindList:
		return x.kind == KindList
	}
	return false
}

// truth maps a value onto the ternary domain for and/or/not and conditions.
func truth(v Value) (Ternary, string) {
	switch v.kind {
	case KindBool:
		return boolTernary(v.b), ""
	case KindInt:
		return boolTernary(v.i != 0), ""
	case KindFloat:
		return boolTernary(v.f != 0), ""
	case KindString:
		return boolTernary(v.s != ""), ""
	case KindDate, KindRow:
		return Pass, ""
	case KindList:
		return boolTernary(len(v.list.items) > 0), ""
	default:
		return Indeterminate, v.Reason()
	}
}

func arith(op string, a, b Value) Value {
	if r, ok := undecided(a, b); ok {
		return unknown(r)
	}
	if op == "+" && a.kind == KindString && b.kind == KindString {
		return StringValue(a.s + b.s)
	}
	if !a.IsNumber() || !b.IsNumber() {
		return unknown(mismatch(op, a, b))
	}
	if a.kind == KindInt && b.kind == KindInt {
		if v, ok := intArith(op, a.i, b.i); ok {
			return v
		}
	}
	x, y := a.Float(), b.Float()
	var r float64
	switch op {
	case "+":
		r = x + y
	case "-":
		r = x - y
	case "*":
		r = x * y
	case "/":
		if y == 0 {
			return unknown("division by zero")
		}
		r = x / y
	case "%":
		if y == 0 {
			return unknown("modulo by zero")
		}
		r = math.Mod(x, y)
		if r != 0 && (r < 0) != (y < 0) {
			r += y
		}
	default:
		return Unknownf("unsupported operator %s", op)
	}
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return unknown("arithmetic result is not a finite number")
	}
	return FloatValue(r)
}

// intArith returns false when the result must be computed in floating point,
// either because of overflow or because the operator is true division.
func intArith(op string, x, y int64) (Value, bool) {
	switch op {
	case "+":
		s := x + y
		if (x > 0 && y > 0 && s < 0) || (x < 0 && y < 0 && s >= 0) {
			return Value{}, false
		}
		return IntValue(s), true
	case "-":
		s := x - y
		if (y < 0 && s < x) || (y > 0 && s > x) {
			return Value{}, false
		}
		return IntValue(s), true
	case "*":
		if x == 0 || y == 0 {
			return IntValue(0), true
		}
		p := x * y
		if p/y != x || (x == -1 && y == math.MinInt64) || (y == -1 && x == math.MinInt64) {
			return Value{}, false
		}
		return IntValue(p), true
	case "%":
		if y == 0 {
			return unknown("modulo by zero"), true
		}
		r := x % y
		if r != 0 && (r < 0) != (y < 0) {
			r += y
		}
		return IntValue(r), true
	}
	return Value{}, false
}

func negate(v Value) Value {
	switch v.kind {
	case KindInt:
		if v.i == math.MinInt64 {
			return FloatValue(-float64(v.i))
		}
		return IntValue(-v.i)
	case KindFloat:
		return FloatValue(-v.f)
	case KindAbsent, KindNull, KindUnknown:
		return unknown(v.Reason())
	}
	return Unknownf("type mismatch: cannot negate %s", describe(v))
}
