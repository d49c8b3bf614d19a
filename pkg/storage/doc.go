/*
Package storage provides the transactional environment layer every Burrow
cache sits on: a single memory-mapped file (via go.etcd.io/bbolt) holding
named sub-databases, with many concurrent snapshot readers and one
long-lived write transaction.

# Environments

An environment maps to one directory containing a data file. OpenRw
creates or opens it writable; OpenRo opens a read-only view. bbolt files
are single-open per process, so the package keeps a registry: a read-only
open of a path this process already holds writable shares the writer's
handle, and its read transactions see the latest committed state. This
replaces LMDB's multi-process reader table; cross-process readers are out
of scope.

# Transactions

BeginRead returns a snapshot: it sees everything committed before it began
and nothing after. WriteTxn returns the environment's single write
transaction, beginning one lazily; writes accumulate across calls until
Commit makes them durable and visible, or Abort drops them. The writer
always sees its own uncommitted writes.

# Databases

Four shapes cover every persistent structure in the cache:

  - Database: plain ordered byte map with cursors
  - Multimap: key -> sorted set of uint64, laid out as key||value entries
  - Counter: persistent uint64
  - OptionSlot: single value (schemas, index definitions, commit state)

Keys are opaque bytes; ordering semantics live entirely in pkg/encoding's
order-preserving encodings.
*/
package storage
