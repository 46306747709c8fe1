package model

import "time"

// Op is a comparison used by query predicates.
type Op string

const (
	OpEq  Op = "="
	OpGte Op = ">="
	OpLt  Op = "<"
)

// Predicate compares one column with a value. Base columns are
// id, created_at, updated_at and fetched_at; anything else is an attribute.
type Predicate struct {
	Column string
	Op     Op
	Value  any
}

// Eq builds an equality predicate.
func Eq(col string, v any) Predicate { return Predicate{Column: col, Op: OpEq, Value: v} }

// Since builds a lower time bound (inclusive).
func Since(col string, t time.Time) Predicate { return Predicate{Column: col, Op: OpGte, Value: t} }

// Before builds an upper time bound (exclusive).
func Before(col string, t time.Time) Predicate { return Predicate{Column: col, Op: OpLt, Value: t} }

// Query selects entities of one kind. Predicates are conjunctive; results are
// ordered by updated_at then id.
type Query struct {
	Predicates     []Predicate
	IncludeRemoved bool
	Offset         int
	Limit          int // 0 = unlimited
}

// IsBaseColumn reports whether col is one of the shared entity columns.
func IsBaseColumn(col string) bool {
	switch col {
	case "id", "created_at", "updated_at", "fetched_at":
		return true
	}
	return false
}
