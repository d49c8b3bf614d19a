/*
Package manager provides named caches under one base directory.

A cache is addressed by a label set (unordered string tags); the
canonical rendering of the labels is both the cache's name and its
directory name. Caches created with an empty label set get a generated
unique name and are reachable through aliases only.

The manager owns the indexing thread pool: every cache it creates or
opens writable is registered, and each commit wakes the pool to drive
that cache's secondary indexes forward. WaitUntilIndexingCatchup exposes
the pool's barrier.

Aliases live in a dedicated storage environment (__aliases__) under the
base path; resolution follows at most one hop, so an alias always names
a real cache, never another alias.

Opening a cache read-only through a manager that already holds it
writable returns the writable cache itself — same-process readers see
the latest committed state without a second file handle.
*/
package manager
