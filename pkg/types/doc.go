/*
Package types defines the data model shared by every layer of Burrow:
fields and records, schemas, secondary index definitions, record metadata,
write results and conflict-resolution policies, and the label sets that
identify caches.

A Field is a tagged value drawn from a closed set of sixteen types, each
with a canonical total order (implemented in pkg/encoding) and a stable
JSON form used for persistence. A Record is an ordered field sequence
matching a Schema; it may carry a Lifetime after which it is eligible for
eviction.

Schemas are compared structurally: field order, types, nullability and the
primary index must coincide. A stored schema that does not equal the one
supplied at cache open is a fatal mismatch, enforced by pkg/cache.

# Conflict resolution

Each cache carries three independent policies describing what happens when
an insert hits an existing primary key, or an update/delete misses one:

	insert: Update (default) | Nothing | Panic
	update: Upsert (default) | Nothing | Panic
	delete: Nothing (default) | Panic

The zero value of ConflictResolution is the default configuration.
*/
package types
