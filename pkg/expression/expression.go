package expression

import (
	"fmt"

	"github.com/cuemby/burrow/pkg/types"
)

// Operator enumerates the filter operators of the query grammar.
type Operator uint8

const (
	EQ Operator = iota
	LT
	LTE
	GT
	GTE
	Contains
	MatchesAny
	MatchesAll
)

// String returns the grammar token for the operator.
func (o Operator) String() string {
	switch o {
	case EQ:
		return "$eq"
	case LT:
		return "$lt"
	case LTE:
		return "$lte"
	case GT:
		return "$gt"
	case GTE:
		return "$gte"
	case Contains:
		return "$contains"
	case MatchesAny:
		return "$matches_any"
	case MatchesAll:
		return "$matches_all"
	default:
		return fmt.Sprintf("$op(%d)", uint8(o))
	}
}

// parseOperator resolves a grammar token.
func parseOperator(tok string) (Operator, bool) {
	switch tok {
	case "$eq":
		return EQ, true
	case "$lt":
		return LT, true
	case "$lte":
		return LTE, true
	case "$gt":
		return GT, true
	case "$gte":
		return GTE, true
	case "$contains":
		return Contains, true
	case "$matches_any":
		return MatchesAny, true
	case "$matches_all":
		return MatchesAll, true
	default:
		return EQ, false
	}
}

// FilterExpression is either a Simple comparison or an And conjunction.
type FilterExpression interface {
	filterNode()
}

// Simple compares one named field against a literal.
type Simple struct {
	Field string
	Op    Operator
	Value types.Field
}

func (Simple) filterNode() {}

// And is a conjunction of two or more filters.
type And struct {
	Filters []FilterExpression
}

func (And) filterNode() {}

// NewSimple builds a simple filter.
func NewSimple(field string, op Operator, value types.Field) Simple {
	return Simple{Field: field, Op: op, Value: value}
}

// NewAnd builds a conjunction.
func NewAnd(filters ...FilterExpression) And {
	return And{Filters: filters}
}

// SortOption is one order_by entry.
type SortOption struct {
	FieldName string              `json:"field_name"`
	Direction types.SortDirection `json:"direction"`
}

// DefaultLimit applies when a query does not set $limit.
const DefaultLimit = 50

// QueryExpression is a complete query: optional filter, sort keys, limit
// and skip.
type QueryExpression struct {
	Filter  FilterExpression
	OrderBy []SortOption
	Limit   int
	Skip    int
}

// NewQuery builds a query expression.
func NewQuery(filter FilterExpression, orderBy []SortOption, limit, skip int) QueryExpression {
	return QueryExpression{Filter: filter, OrderBy: orderBy, Limit: limit, Skip: skip}
}
