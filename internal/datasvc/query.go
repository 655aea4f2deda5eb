package datasvc

import (
	"fmt"
	"strings"
)

// Op is a filter operator.
type Op string

const (
	OpEq Op = "eq"
	OpIn Op = "in"
)

// Filter restricts a query or mutation to rows whose Column matches Value.
// For OpIn, Value holds a []string.
type Filter struct {
	Column string
	Op     Op
	Value  any
}

// Eq returns an equality filter.
func Eq(column string, value any) Filter {
	return Filter{Column: column, Op: OpEq, Value: value}
}

// In returns an inclusion filter.
func In[T fmt.Stringer](column string, values []T) Filter {
	vs := make([]string, 0, len(values))
	for _, v := range values {
		vs = append(vs, v.String())
	}
	return Filter{Column: column, Op: OpIn, Value: vs}
}

// InStrings returns an inclusion filter over plain strings.
func InStrings(column string, values []string) Filter {
	return Filter{Column: column, Op: OpIn, Value: append([]string(nil), values...)}
}

// valueString renders a filter value the way every backend compares it: as text.
func valueString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(x)
	}
}

// values returns the comparison values of f as text.
func (f Filter) values() []string {
	if f.Op == OpIn {
		vs, _ := f.Value.([]string)
		return vs
	}
	return []string{valueString(f.Value)}
}

// Order sorts results by Column.
type Order struct {
	Column     string
	Descending bool
}

// Expand embeds a related row from Table whose id equals the base row's Column,
// under the key As (defaults to Table).
type Expand struct {
	Table   string
	Column  string
	As      string
	Columns []string
}

func (e Expand) key() string {
	if e.As != "" {
		return e.As
	}
	return e.Table
}

// Query describes a read against one table.
type Query struct {
	Table   string
	Columns []string
	Filters []Filter
	Orders  []Order
	Limit   int
	Single  bool
	Expands []Expand
}

// From starts a query on table.
func From(table string) Query {
	return Query{Table: table}
}

// Select restricts the returned columns. No call means all columns.
func (q Query) Select(columns ...string) Query {
	q.Columns = append(append([]string(nil), q.Columns...), columns...)
	return q
}

// Eq adds an equality filter.
func (q Query) Eq(column string, value any) Query {
	return q.Where(Eq(column, value))
}

// Where adds filters.
func (q Query) Where(filters ...Filter) Query {
	q.Filters = append(append([]Filter(nil), q.Filters...), filters...)
	return q
}

// OrderBy adds an ordering term. Terms apply in the order they are added.
func (q Query) OrderBy(column string, descending bool) Query {
	q.Orders = append(append([]Order(nil), q.Orders...), Order{Column: column, Descending: descending})
	return q
}

// First limits the result to n rows.
func (q Query) First(n int) Query {
	q.Limit = n
	return q
}

// One expects exactly one row. Zero rows yield ErrNoRows.
func (q Query) One() Query {
	q.Single = true
	return q
}

// With expands a related table.
func (q Query) With(e Expand) Query {
	q.Expands = append(append([]Expand(nil), q.Expands...), e)
	return q
}

// Validate checks the query for malformed parts before it reaches a backend.
func (q Query) Validate() error {
	if strings.TrimSpace(q.Table) == "" {
		return fmt.Errorf("%w: missing table", ErrInvalidQuery)
	}
	for _, f := range q.Filters {
		if f.Column == "" {
			return fmt.Errorf("%w: filter without column on %s", ErrInvalidQuery, q.Table)
		}
		if f.Op != OpEq && f.Op != OpIn {
			return fmt.Errorf("%w: unknown operator %q", ErrInvalidQuery, f.Op)
		}
	}
	for _, e := range q.Expands {
		if e.Table == "" || e.Column == "" {
			return fmt.Errorf("%w: expansion needs table and column", ErrInvalidQuery)
		}
	}
	return nil
}
