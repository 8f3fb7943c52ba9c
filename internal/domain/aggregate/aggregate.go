// Package aggregate implements a columnar table over heterogeneously
// shaped rows.
//
// An Aggregate stores one column per field name. Every column has one slot
// per logical row; a row that lacks a field holds Absent in that slot. Absent
// is distinct from nil, which is an explicit null value.
package aggregate

import (
	"fmt"
)

type absent struct{}

func (absent) String() string { return "<absent>" }

// Absent marks a field that a row does not carry.
var Absent any = absent{}

// IsAbsent reports whether v is the Absent placeholder.
func IsAbsent(v any) bool {
	_, ok := v.(absent)
	return ok
}

// Field is a single name/value pair of a Row.
type Field struct {
	Name  string
	Value any
}

// Row is an ordered record.
type Row []Field

// Get returns the value of name and whether the row carries it.
func (r Row) Get(name string) (any, bool) {
	for _, f := range r {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// Aggregate is an ordered mapping from field name to column.
type Aggregate struct {
	names   []string
	columns map[string][]any
}

// New returns an empty aggregate.
func New() *Aggregate {
	return &Aggregate{columns: make(map[string][]any)}
}

// Names returns the field names in first-seen order.
func (a *Aggregate) Names() []string {
	out := make([]string, len(a.names))
	copy(out, a.names)
	return out
}

// Column returns the column for name, or nil when the field is unknown.
func (a *Aggregate) Column(name string) []any {
	return a.columns[name]
}

// Len is the row count. It is the length of the first column; use Inflate
// to check that all columns agree.
func (a *Aggregate) Len() int {
	if len(a.names) == 0 {
		return 0
	}
	return len(a.columns[a.names[0]])
}

// SetColumn installs a column, appending name if it is new. It does not
// check the length against other columns.
func (a *Aggregate) SetColumn(name string, values []any) {
	if _, ok := a.columns[name]; !ok {
		a.names = append(a.names, name)
	}
	a.columns[name] = values
}

func (a *Aggregate) addName(name string) {
	if _, ok := a.columns[name]; !ok {
		a.names = append(a.names, name)
		a.columns[name] = nil
	}
}

// FromRows builds an aggregate from rows, mapping each row through
// normalize first when it is non-nil.
func FromRows(rows []Row, normalize func(Row) Row) *Aggregate {
	if normalize != nil {
		mapped := make([]Row, len(rows))
		for i, r := range rows {
			mapped[i] = normalize(r)
		}
		rows = mapped
	}

	agg := New()
	for _, r := range rows {
		for _, f := range r {
			agg.addName(f.Name)
		}
	}
	for _, name := range agg.names {
		agg.columns[name] = make([]any, len(rows))
	}
	for i, r := range rows {
		for _, name := range agg.names {
			agg.columns[name][i] = Absent
		}
		for _, f := range r {
			agg.columns[f.Name][i] = f.Value
		}
	}
	return agg
}

// Merge concatenates aggregates vertically. Each source contributes its own
// rows; columns it lacks are padded with Absent for its own row count.
func Merge(aggs ...*Aggregate) *Aggregate {
	out := New()
	for _, a := range aggs {
		if a == nil {
			continue
		}
		for _, name := range a.names {
			out.addName(name)
		}
	}
	for _, a := range aggs {
		if a == nil {
			continue
		}
		n := a.Len()
		for _, name := range out.names {
			col, ok := a.columns[name]
			if !ok {
				col = padding(n)
			}
			out.columns[name] = append(out.columns[name], col...)
		}
	}
	return out
}

func padding(n int) []any {
	p := make([]any, n)
	for i := range p {
		p[i] = Absent
	}
	return p
}

// Inflate turns the aggregate back into rows, mapping each through
// denormalize when it is non-nil. Absent cells are left out of the row.
// Fields come out in column order, so Inflate(FromRows(rows)) matches rows
// by field name and value, not by field position. A nil aggregate inflates
// to no rows.
func Inflate(a *Aggregate, denormalize func(Row) Row) ([]Row, error) {
	if a == nil {
		return nil, nil
	}
	n := a.Len()
	for _, name := range a.names {
		if l := len(a.columns[name]); l != n {
			return nil, fmt.Errorf("%w: column %q has %d values, want %d", ErrShapeMismatch, name, l, n)
		}
	}

	rows := make([]Row, n)
	for i := 0; i < n; i++ {
		r := make(Row, 0, len(a.names))
		for _, name := range a.names {
			v := a.columns[name][i]
			if IsAbsent(v) {
				continue
			}
			r = append(r, Field{Name: name, Value: v})
		}
		if denormalize != nil {
			r = denormalize(r)
		}
		rows[i] = r
	}
	return rows, nil
}
