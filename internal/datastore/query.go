package datastore

import "context"

// Direction selects the sort order of a column.
type Direction int

const (
	// Ascending sorts oldest or smallest first.
	Ascending Direction = iota
	// Descending sorts newest or largest first.
	Descending
)

// Condition is an equality filter on one column.
type Condition struct {
	Column string
	Value  any
}

// Ordering sorts results by one column.
type Ordering struct {
	Column    string
	Direction Direction
}

// Query is an immutable filter and ordering description. Each builder call returns a copy.
type Query struct {
	conditions []Condition
	orderings  []Ordering
}

// NewQuery returns an empty query matching every row.
func NewQuery() Query {
	return Query{}
}

// Eq adds an equality filter.
func (q Query) Eq(column string, value any) Query {
	next := q.clone()
	next.conditions = append(next.conditions, Condition{Column: column, Value: value})
	return next
}

// Order appends a sort column.
func (q Query) Order(column string, direction Direction) Query {
	next := q.clone()
	next.orderings = append(next.orderings, Ordering{Column: column, Direction: direction})
	return next
}

// Conditions returns the equality filters in insertion order.
func (q Query) Conditions() []Condition {
	return append([]Condition(nil), q.conditions...)
}

// Orderings returns the sort columns in insertion order.
func (q Query) Orderings() []Ordering {
	return append([]Ordering(nil), q.orderings...)
}

func (q Query) clone() Query {
	return Query{
		conditions: append([]Condition(nil), q.conditions...),
		orderings:  append([]Ordering(nil), q.orderings...),
	}
}

// Table is the backend contract the repositories depend on: table scoped select, insert,
// update and delete with equality filtering and ordering.
type Table[T any] interface {
	Name() string
	Select(ctx context.Context, query Query) ([]T, error)
	Insert(ctx context.Context, row T) (T, error)
	Update(ctx context.Context, query Query, fields map[string]any) ([]T, error)
	Delete(ctx context.Context, query Query) (int64, error)
}
