package rules

import (
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/liamcoop/rulecheck/rules/expr"
)

// BindOptions control how raw records are converted for evaluation.
type BindOptions struct {
	// BlankAsNull binds empty or whitespace-only strings as null, matching
	// ingestion where a blank cell means no value.
	BlankAsNull bool

	// IDFields are tried in order to find a record's reporting identifier.
	IDFields []string
}

// DefaultBindOptions returns the options used when none are configured.
func DefaultBindOptions() BindOptions {
	return BindOptions{
		BlankAsNull: true,
		IDFields:    []string{"transaction_id", "Customer_ID"},
	}
}

// RecordSet is a batch of records converted once into evaluation values.
// After BindRecords and Materialize it is only read, so workers share it
// without locking.
type RecordSet struct {
	rows     []map[string]expr.Value
	ids      []string
	idFields []string
	columns  map[string]expr.Value
}

// BindRecords converts every record value once.
func BindRecords(records []Record, opts BindOptions) *RecordSet {
	s := &RecordSet{
		rows:     make([]map[string]expr.Value, len(records)),
		ids:      make([]string, len(records)),
		idFields: opts.IDFields,
		columns:  make(map[string]expr.Value),
	}
	for i, rec := range records {
		row := make(map[string]expr.Value, len(rec))
		for k, raw := range rec {
			v := expr.ValueOf(k, raw)
			if opts.BlankAsNull && v.Kind() == expr.KindString && strings.TrimSpace(v.Text()) == "" {
				v = expr.Null(k)
			}
			row[k] = v
		}
		s.rows[i] = row
		s.ids[i] = recordID(i, row, opts.IDFields)
	}
	return s
}

func recordID(i int, row map[string]expr.Value, idFields []string) string {
	for _, f := range idFields {
		v, ok := row[f]
		if !ok {
			continue
		}
		switch v.Kind() {
		case expr.KindString:
			return v.Text()
		case expr.KindInt, expr.KindFloat, expr.KindBool, expr.KindDate:
			return v.String()
		}
	}
	return "row-" + strconv.Itoa(i+1)
}

// Len returns the number of records.
func (s *RecordSet) Len() int { return len(s.rows) }

// ID returns the reporting identifier of record i.
func (s *RecordSet) ID(i int) string { return s.ids[i] }

// Fields returns the sorted names of every field present in any record.
func (s *RecordSet) Fields() []string {
	seen := make(map[string]bool)
	for _, row := range s.rows {
		for k := range row {
			seen[k] = true
		}
	}
	return slices.Sorted(maps.Keys(seen))
}

// Lookup returns field name of record row, or Absent.
func (s *RecordSet) Lookup(row int, name string) expr.Value {
	if v, ok := s.rows[row][name]; ok {
		return v
	}
	return expr.Absent(name)
}

// Column returns the values of name across the batch. Columns built by
// Materialize are shared; any other column is built on each call.
func (s *RecordSet) Column(name string) expr.Value {
	if v, ok := s.columns[name]; ok {
		return v
	}
	return s.buildColumn(name)
}

func (s *RecordSet) buildColumn(name string) expr.Value {
	items := make([]expr.Value, len(s.rows))
	for i := range s.rows {
		items[i] = s.Lookup(i, name)
	}
	return expr.ListValue(items)
}

// Materialize builds the column views for names. It must complete before
// concurrent evaluation starts.
func (s *RecordSet) Materialize(names []string) {
	for _, name := range names {
		if _, ok := s.columns[name]; !ok {
			s.columns[name] = s.buildColumn(name)
		}
	}
}

// Binding is the view of one record used to evaluate one rule: the values
// of the rule's declared fields plus lookup of any other field.
type Binding struct {
	set      *RecordSet
	row      int
	fields   []string
	declared []expr.Value
}

// Bind resolves rule's declared fields against record row. Missing fields
// bind as absent; type problems are left to evaluation.
func (s *RecordSet) Bind(rule Rule, row int) Binding {
	b := Binding{set: s, row: row, fields: rule.Fields, declared: make([]expr.Value, len(rule.Fields))}
	for i, f := range rule.Fields {
		b.declared[i] = s.Lookup(row, f)
	}
	return b
}

// Bind resolves rule against a single record with the default options.
func Bind(rule Rule, record Record) Binding {
	return BindRecords([]Record{record}, DefaultBindOptions()).Bind(rule, 0)
}

// Lookup implements expr.Bindings.
func (b Binding) Lookup(name string) expr.Value { return b.set.Lookup(b.row, name) }

// Declared returns the value bound to the i-th declared field.
func (b Binding) Declared(i int) expr.Value { return b.declared[i] }

// AllAbsent reports whether none of the declared fields exists in the
// record. Such a record carries no evidence either way.
func (b Binding) AllAbsent() bool {
	for _, v := range b.declared {
		if v.Kind() != expr.KindAbsent {
			return false
		}
	}
	return true
}

// Observed renders the declared fields as name=value pairs for explanations.
func (b Binding) Observed() string {
	parts := make([]string, len(b.fields))
	for i, f := range b.fields {
		parts[i] = f + "=" + b.declared[i].String()
	}
	return strings.Join(parts, ", ")
}
