package storage

import (
	"bytes"

	"github.com/cuemby/burrow/pkg/encoding"
)

// Multimap is a named ordered map from byte keys to sets of uint64 values.
// Entries with equal key are sorted by value, which keeps query output
// order stable. It is laid out as a plain database whose stored key is the
// logical key followed by the 8-byte big-endian value, so bbolt's bytewise
// ordering gives (key, value) order for free.
type Multimap struct {
	db Database
}

// NewMultimap names a multimap over an existing database.
func NewMultimap(name string) Multimap {
	return Multimap{db: NewDatabase(name)}
}

func (m Multimap) entryKey(key []byte, value uint64) []byte {
	entry := make([]byte, 0, len(key)+8)
	entry = append(entry, key...)
	return append(entry, encoding.EncodeUint64(value)...)
}

// Insert adds (key, value). Duplicate pairs are a no-op.
func (m Multimap) Insert(t *Txn, key []byte, value uint64) error {
	return m.db.Put(t, m.entryKey(key, value), nil)
}

// Remove deletes (key, value). Missing pairs are not an error.
func (m Multimap) Remove(t *Txn, key []byte, value uint64) error {
	return m.db.Delete(t, m.entryKey(key, value))
}

// Contains reports whether (key, value) is stored.
func (m Multimap) Contains(t *Txn, key []byte, value uint64) (bool, error) {
	return m.db.Has(t, m.entryKey(key, value))
}

// Values returns all values stored under exactly key, in ascending
// order. Entries whose logical key merely extends key (a longer key
// sharing the prefix) are skipped, not mistaken for a boundary.
func (m Multimap) Values(t *Txn, key []byte) ([]uint64, error) {
	var out []uint64
	c := m.db.Cursor(t)
	for k, _ := c.Seek(key); k != nil && bytes.HasPrefix(k, key); k, _ = c.Next() {
		if len(k) != len(key)+8 {
			continue
		}
		_, value, _ := splitEntry(k)
		out = append(out, value)
	}
	return out, nil
}

// CountValues returns how many values are stored under exactly key.
func (m Multimap) CountValues(t *Txn, key []byte) (uint64, error) {
	var n uint64
	c := m.db.Cursor(t)
	for k, _ := c.Seek(key); k != nil && bytes.HasPrefix(k, key); k, _ = c.Next() {
		if len(k) == len(key)+8 {
			n++
		}
	}
	return n, nil
}

// Count returns the total number of (key, value) entries.
func (m Multimap) Count(t *Txn) (uint64, error) {
	return m.db.Count(t)
}

// Cursor exposes raw (key||value) iteration for range scans. Use
// SplitEntry to recover the logical key and value.
func (m Multimap) Cursor(t *Txn) *Cursor {
	return m.db.Cursor(t)
}

// SplitEntry splits a stored multimap key into logical key and value.
func SplitEntry(entry []byte) (key []byte, value uint64, ok bool) {
	return splitEntry(entry)
}

func splitEntry(entry []byte) ([]byte, uint64, bool) {
	if len(entry) < 8 {
		return nil, 0, false
	}
	split := len(entry) - 8
	return entry[:split], encoding.DecodeUint64(entry[split:]), true
}
