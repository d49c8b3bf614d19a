package plan

import (
	"fmt"
	"strings"

	"github.com/cuemby/burrow/pkg/expression"
	"github.com/cuemby/burrow/pkg/types"
)

// Kind tags an execution plan.
type Kind uint8

const (
	// SeqScan enumerates the whole record log.
	SeqScan Kind = iota
	// IndexScan walks one secondary index.
	IndexScan
)

// RangeBound is the single permitted range constraint of an index scan.
type RangeBound struct {
	Op    expression.Operator // LT, LTE, GT or GTE
	Value types.Field
}

// Residual is a predicate re-evaluated against fetched records, used when
// the chosen index does not cover every filter atom (full-text scans).
type Residual struct {
	Position int
	Op       expression.Operator
	Value    types.Field
}

// SortKey is one resolved order_by entry.
type SortKey struct {
	Position  int
	Direction types.SortDirection
}

// Plan is the executable form of a query.
type Plan struct {
	Kind      Kind
	Direction types.SortDirection
	Limit     int
	Skip      int

	// IndexScan only.
	Index    types.IndexDefinition
	IndexPos int // position of Index in the declared index list

	// Sorted-inverted scans: literal values for the index's leading
	// equality columns, and an optional bound on the following column.
	EqFields []types.Field
	Range    *RangeBound

	// Full-text scans.
	Needle string

	// Residual predicates and buffered sort keys (full-text only; a
	// sorted-inverted scan's natural order already satisfies order_by).
	Residuals []Residual
	SortKeys  []SortKey
}

// FieldNotFoundError: a filter or order_by names an unknown field.
type FieldNotFoundError struct {
	Name string
}

func (e FieldNotFoundError) Error() string {
	return fmt.Sprintf("field %q not found in schema", e.Name)
}

// TypeMismatchError: a literal is incompatible with its column type.
type TypeMismatchError struct {
	Field string
	Err   error
}

func (e TypeMismatchError) Error() string {
	return fmt.Sprintf("field %q: %v", e.Field, e.Err)
}

func (e TypeMismatchError) Unwrap() error { return e.Err }

// UnsupportedQueryError: the query uses a shape the planner rejects
// outright (Or, MatchesAny/MatchesAll, multiple ranges, ranges on null).
type UnsupportedQueryError struct {
	Reason string
}

func (e UnsupportedQueryError) Error() string {
	return "unsupported query: " + e.Reason
}

// MissingCompoundIndexError: atoms survive but no declared index covers
// the required key shape.
type MissingCompoundIndexError struct {
	Fields []string
}

func (e MissingCompoundIndexError) Error() string {
	return fmt.Sprintf("no index covers fields [%s]", strings.Join(e.Fields, ", "))
}
