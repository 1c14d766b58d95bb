package expr

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Kind classifies a Value.
type Kind uint8

const (
	KindAbsent Kind = iota
	KindNull
	KindBool
	KindInt
	KindFloat
	KindString
	KindDate
	KindList
	KindRow
	KindUnknown

	numKinds
)

var kindNames = [numKinds]string{"absent", "null", "bool", "int", "float", "string", "date", "list", "row", "unknown"}

func (k Kind) String() string {
	if k < numKinds {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Value is a scalar or collection produced while evaluating an expression.
//
// Absent marks a field missing from the record, Null a field present with no
// value. Unknown carries the reason an operation could not be decided; it
// propagates through every operator and ends up as an indeterminate result.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string // string payload, field name for absent/null, reason for unknown
	t    time.Time
	list *List
}

// Absent is the sentinel bound for a field missing from a record.
func Absent(field string) Value { return Value{kind: KindAbsent, s: field} }

// Null is bound for a field that is present but holds no value.
func Null(field string) Value { return Value{kind: KindNull, s: field} }

func BoolValue(b bool) Value { return Value{kind: KindBool, b: b} }
func IntValue(i int64) Value { return Value{kind: KindInt, i: i} }
func FloatValue(f float64) Value { return Value{kind: KindFloat, f: f} }
func StringValue(s string) Value { return Value{kind: KindString, s: s} }
func DateValue(t time.Time) Value { return Value{kind: KindDate, t: t} }
func ListValue(items []Value) Value { return Value{kind: KindList, list: newList(items, false)} }
func TupleValue(items []Value) Value {
	return Value{kind: KindList, list: newList(items, true)}
}

// Unknownf builds an undecidable value with a formatted reason.
func Unknownf(format string, args ...any) Value {
	return Value{kind: KindUnknown, s: fmt.Sprintf(format, args...)}
}

func unknown(reason string) Value { return Value{kind: KindUnknown, s: reason} }

func rowValue(i int) Value { return Value{kind: KindRow, i: int64(i)} }

// ValueOf converts a raw record value. Nested maps and slices are not record
// scalars and become Unknown.
func ValueOf(field string, x any) Value {
	switch v := x.(type) {
	case nil:
		return Null(field)
	case Value:
		return v
	case bool:
		return BoolValue(v)
	case int:
		return IntValue(int64(v))
	case int8:
		return IntValue(int64(v))
	case int16:
		return IntValue(int64(v))
	case int32:
		return IntValue(int64(v))
	case int64:
		return IntValue(v)
	case uint:
		return fromUint(uint64(v))
	case uint8:
		return IntValue(int64(v))
	case uint16:
		return IntValue(int64(v))
	case uint32:
		return IntValue(int64(v))
	case uint64:
		return fromUint(v)
	case float32:
		return fromFloat(field, float64(v))
	case float64:
		return fromFloat(field, v)
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return IntValue(i)
		}
		if f, err := v.Float64(); err == nil {
			return fromFloat(field, f)
		}
		return Unknownf("field %q holds an invalid number %q", field, v.String())
	case string:
		return StringValue(v)
	case time.Time:
		return DateValue(v)
	default:
		return Unknownf("field %q holds an unsupported %T value", field, x)
	}
}

func fromUint(u uint64) Value {
	if u > math.MaxInt64 {
		return FloatValue(float64(u))
	}
	return IntValue(int64(u))
}

func fromFloat(field string, f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Unknownf("field %q is not a finite number", field)
	}
	return FloatValue(f)
}

func (v Value) Kind() Kind { return v.kind }

// IsNone reports whether the value is absent or null.
func (v Value) IsNone() bool { return v.kind == KindAbsent || v.kind == KindNull }

func (v Value) IsUnknown() bool { return v.kind == KindUnknown }

func (v Value) IsNumber() bool { return v.kind == KindInt || v.kind == KindFloat }

func (v Value) Bool() bool { return v.b }

func (v Value) Int() int64 { return v.i }

// Float returns the numeric payload as a float64 for both int and float values.
func (v Value) Float() float64 {
	if v.kind == KindInt {
		return float64(v.i)
	}
	return v.f
}

// Text returns the string payload.
func (v Value) Text() string { return v.s }

func (v Value) Time() time.Time { return v.t }

// Items returns the elements of a list or tuple.
func (v Value) Items() []Value {
	if v.list == nil {
		return nil
	}
	return v.list.items
}

// Reason explains why an absent, null or unknown value cannot be decided.
func (v Value) Reason() string {
	switch v.kind {
	case KindAbsent:
		if v.s == "" {
			return "value is absent"
		}
		return fmt.Sprintf("field %q is absent", v.s)
	case KindNull:
		if v.s == "" {
			return "value is None"
		}
		return fmt.Sprintf("field %q is null", v.s)
	case KindUnknown:
		return v.s
	default:
		return ""
	}
}

// String renders the value for explanations.
func (v Value) String() string {
	switch v.kind {
	case KindAbsent:
		return "<absent>"
	case KindNull:
		return "None"
	case KindBool:
		if v.b {
			return "True"
		}
		return "False"
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return formatFloat(v.f)
	case KindString:
		return quote(v.s)
	case KindDate:
		return formatDate(v.t)
	case KindList:
		parts := make([]string, len(v.list.items))
		for i, it := range v.list.items {
			parts[i] = it.String()
		}
		if v.list.tuple {
			if len(parts) == 1 {
				return "(" + parts[0] + ",)"
			}
			return "(" + strings.Join(parts, ", ") + ")"
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case KindRow:
		return fmt.Sprintf("<row %d>", v.i+1)
	default:
		return "<unknown: " + v.s + ">"
	}
}

func describe(v Value) string {
	switch v.kind {
	case KindAbsent, KindNull, KindUnknown, KindRow:
		return v.String()
	default:
		return v.kind.String() + " " + v.String()
	}
}

// key returns a canonical identity used for sets and membership. Numbers
// that are equal compare equal regardless of int/float representation.
func (v Value) key() (string, bool) {
	switch v.kind {
	case KindBool:
		if v.b {
			return "b:1", true
		}
		return "b:0", true
	case KindInt:
		return "n:" + strconv.FormatInt(v.i, 10), true
	case KindFloat:
		if v.f == math.Trunc(v.f) && math.Abs(v.f) < 9.2e18 {
			return "n:" + strconv.FormatInt(int64(v.f), 10), true
		}
		return "n:" + strconv.FormatFloat(v.f, 'g', -1, 64), true
	case KindString:
		return "s" + strconv.Itoa(len(v.s)) + ":" + v.s, true
	case KindDate:
		return "d:" + v.t.UTC().Format(time.RFC3339Nano), true
	case KindList:
		return v.list.key, v.list.keyed
	default:
		return "", false
	}
}

// candidateKeys includes the cross-kind spelling of dates so that a date
// matches its ISO string form and vice versa.
func candidateKeys(v Value) []string {
	k, ok := v.key()
	if !ok {
		return nil
	}
	keys := []string{k}
	switch v.kind {
	case KindDate:
		if alt, ok := StringValue(formatDate(v.t)).key(); ok {
			keys = append(keys, alt)
		}
	case KindString:
		if t, ok := parseDate(v.s); ok {
			if alt, ok := DateValue(t).key(); ok {
				keys = append(keys, alt)
			}
		}
	}
	return keys
}

// List is an immutable sequence with a membership index built at
// construction. Its own identity key is built at the same time, so
// comparing or hashing a shared column never rescans it.
type List struct {
	items       []Value
	tuple       bool
	index       map[string]struct{}
	first       [numKinds]int
	dateStrings bool

	// key is valid when keyed; otherwise unkeyed is the first item
	// without a key.
	key     string
	keyed   bool
	unkeyed int
}

func newList(items []Value, tuple bool) *List {
	l := &List{
		items:       items,
		tuple:       tuple,
		index:       make(map[string]struct{}, len(items)),
		dateStrings: true,
		keyed:       true,
		unkeyed:     -1,
	}
	for k := range l.first {
		l.first[k] = -1
	}
	var sb strings.Builder
	sb.WriteByte('(')
	for i, it := range items {
		if l.first[it.kind] < 0 {
			l.first[it.kind] = i
		}
		if k, ok := it.key(); ok {
			l.index[k] = struct{}{}
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(k)
		} else if l.keyed {
			l.keyed, l.unkeyed = false, i
		}
		if it.kind == KindString {
			if _, ok := parseDate(it.s); !ok {
				l.dateStrings = false
			}
		}
	}
	if l.keyed {
		sb.WriteByte(')')
		l.key = sb.String()
	}
	return l
}

func (l *List) has(key string) bool {
	_, ok := l.index[key]
	return ok
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if len(s) < 10 {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func formatDate(t time.Time) string {
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 && t.Location() == time.UTC {
		return t.Format("2006-01-02")
	}
	return t.Format(time.RFC3339Nano)
}

func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}

func quote(s string) string {
	var sb strings.Builder
	sb.Grow(len(s) + 2)
	sb.WriteByte('\'')
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '\\':
			sb.WriteString(`\\`)
		case '\'':
			sb.WriteString(`\'`)
		case '\n':
			sb.WriteString(`\n`)
		case '\t':
			sb.WriteString(`\t`)
		case '\r':
			sb.WriteString(`\r`)
		default:
			sb.WriteByte(c)
		}
	}
	sb.WriteByte('\'')
	return sb.String()
}
