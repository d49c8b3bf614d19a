/*
Package cache implements the indexed record cache: a main environment
holding the primary keyed record log, secondary environments holding the
declared indexes, and the query execution that ties them together under
one schema.

# Main environment

The main environment stores records under a monotonically assigned
internal id, per-id metadata (version, insert/delete operation ids), a
hash map from primary key to id, and the append-only operation log. Every
write appends to the log; the log is the contract between the writer and
the secondary indexes. Writes accumulate in a single long-lived
transaction and become visible atomically on Commit, together with the
embedder's opaque commit state.

Conflict resolution is configured per cache: an insert hitting a live
primary key can update it, be ignored, or fail; an update or delete
missing its key can upsert, no-op, or fail.

Records carrying a Lifetime are entered into an eviction map ordered by
deadline; every write sweeps a bounded number of expired records, and
EvictExpired drains the map deterministically for tests.

# Secondary environments

Each declared index lives in its own environment: a multimap from index
key to internal id plus the operation log position it has replayed to.
The indexing pool calls Index with a snapshot of the main environment;
replay stops cleanly when an entry is not yet visible and resumes after
the next commit. Indexes lag but never skip.

# Queries

Query plans (pkg/plan) run under a pair of snapshots taken together: one
on the main environment and one on the chosen secondary. Because the
index snapshot may trail the main snapshot, every candidate id is
re-checked against the live record and dangling entries are dropped —
callers that need strict index freshness use the manager's catch-up
barrier instead.
*/
package cache
