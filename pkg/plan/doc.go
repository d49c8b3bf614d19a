/*
Package plan turns a query expression into an executable scan plan.

The planner flattens the And-nested filter into per-field atoms, folds
order_by entries in as direction atoms, and then classifies: equality
atoms form an index key prefix, at most one field may carry a range
constraint, and at most one may carry a $contains needle. Or-expressions
never reach this package (the grammar has none) and $matches_any /
$matches_all are rejected here.

Index selection: a sorted-inverted index covers the query when its field
list starts with the equality atoms (in index order), followed by the
range field if any, followed by the remaining order_by fields in order.
Every covering index covers all atoms, so the first covering index in
declaration order wins. A full-text index covers a $contains
atom on its field, with every other atom demoted to a residual predicate.

If no atoms survive, the plan is a sequential scan in ascending internal
id order. If atoms survive and no index covers them, planning fails with
MissingCompoundIndexError naming the fields — the caller is expected to
declare the index rather than fall back to a table scan.
*/
package plan
