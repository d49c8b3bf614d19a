/*
Package expression models the query surface of a cache: filter trees,
sort options, limit and skip, together with the JSON grammar the serving
layer speaks.

A filter is either a Simple comparison of one field against a literal, or
an And conjunction. The JSON forms accepted:

	{"$filter": {"a": 1}}                      // shorthand for $eq
	{"$filter": {"a": {"$gte": 3}}}
	{"$filter": {"$and": [{"a": 1}, {"b": {"$lt": 5}}]}}
	{"$filter": {"a": 1, "b": 2}}              // implicit conjunction
	{"$order_by": [{"field_name": "a", "direction": "desc"}]}
	{"$limit": 100, "$skip": 20}

Operators: $eq, $lt, $lte, $gt, $gte, $contains, $matches_any,
$matches_all. Literals are JSON scalars; numbers written without a decimal
point or exponent decode to Int, all others (256.0 included) to Float, and
are coerced to the column type at planning time. The default limit is 50.

Or-expressions are not part of the grammar; the planner also rejects
$matches_any and $matches_all at plan time.
*/
package expression
