/*
Package encoding is the single authority for the canonical byte form of
field values. Every index key, primary-key hash input and query bound in
Burrow goes through this package.

The encodings are order-preserving: comparing two encoded keys bytewise is
the same as comparing the original values by their logical total order,
field by field, with tie-break by following fields. This is what lets the
storage layer treat keys as opaque byte strings — bbolt has no comparator
hooks, so the comparator lives in the encoding instead.

Per-field layout: one type-tag byte (Null carries the lowest tag, so nulls
sort first) followed by a fixed- or variable-width payload. Signed integers
and timestamps flip the sign bit; floats use the usual monotone bit
transform; byte strings are zero-terminated with 0x00/0x01 escaped so that
a terminator never compares above a continuation.

Encodings are stable for the lifetime of a cache directory. They are not a
cross-version interchange format.

The full-text tokenizer also lives here: lower-cased letter/digit runs,
no diacritic stripping. It is deliberately small and replaceable.
*/
package encoding
