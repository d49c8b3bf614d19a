/*
Package indexing runs the background workers that keep secondary indexes
consistent with their main environments.

The pool owns a fixed set of OS threads (goroutines) and a queue of
(cache, index) tasks. A cache wakes the pool after every commit; each
woken task replays newly committed operation log entries into its index
and commits its own environment. A task that cannot fully catch up —
the entry it needs is not visible in its snapshot yet — is re-queued
after a short back-off. A task that fails permanently is taken out of
service and its index reports unavailable; the cache's main environment
keeps serving.

Each index is single-writer: a per-task mutex guarantees no two workers
ever drive the same secondary environment concurrently.

WaitUntilCatchup gives tests and endpoint activation a barrier: it blocks
until every index has replayed up to the log position its main
environment had at call entry.
*/
package indexing
