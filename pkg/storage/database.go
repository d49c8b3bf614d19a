package storage

import (
	bolt "go.etcd.io/bbolt"
)

// Database is a named key/value map inside an environment. The zero value
// is unusable; obtain one with NewDatabase after EnsureDatabases.
type Database struct {
	name []byte
}

// NewDatabase names a database. The database must have been created with
// Env.EnsureDatabases on the writable side.
func NewDatabase(name string) Database {
	return Database{name: []byte(name)}
}

func (d Database) bucket(t *Txn) *bolt.Bucket {
	return t.tx.Bucket(d.name)
}

// Get returns the value for key. The returned slice is a copy and remains
// valid after the transaction ends.
func (d Database) Get(t *Txn, key []byte) ([]byte, error) {
	b := d.bucket(t)
	if b == nil {
		return nil, ErrNotFound
	}
	v := b.Get(key)
	if v == nil {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Has reports whether key exists.
func (d Database) Has(t *Txn, key []byte) (bool, error) {
	b := d.bucket(t)
	if b == nil {
		return false, nil
	}
	return b.Get(key) != nil, nil
}

// Put stores key/value, overwriting any existing value.
func (d Database) Put(t *Txn, key, value []byte) error {
	if !t.writable {
		return ErrReadOnly
	}
	b := d.bucket(t)
	if b == nil {
		return ErrNotFound
	}
	return mapBoltError(b.Put(key, value))
}

// Insert stores key/value and fails with ErrKeyExists if the key is
// already present.
func (d Database) Insert(t *Txn, key, value []byte) error {
	if !t.writable {
		return ErrReadOnly
	}
	b := d.bucket(t)
	if b == nil {
		return ErrNotFound
	}
	if b.Get(key) != nil {
		return ErrKeyExists
	}
	return mapBoltError(b.Put(key, value))
}

// Delete removes key. Missing keys are not an error.
func (d Database) Delete(t *Txn, key []byte) error {
	if !t.writable {
		return ErrReadOnly
	}
	b := d.bucket(t)
	if b == nil {
		return ErrNotFound
	}
	return mapBoltError(b.Delete(key))
}

// Count returns the number of entries.
func (d Database) Count(t *Txn) (uint64, error) {
	b := d.bucket(t)
	if b == nil {
		return 0, nil
	}
	return uint64(b.Stats().KeyN), nil
}

// Cursor positions over the database in key order.
func (d Database) Cursor(t *Txn) *Cursor {
	b := d.bucket(t)
	if b == nil {
		return &Cursor{}
	}
	return &Cursor{c: b.Cursor()}
}

// Cursor iterates a database in bytewise key order. All positioning
// methods return nil keys when exhausted. Returned slices are only valid
// until the transaction ends; callers that retain data must copy.
type Cursor struct {
	c *bolt.Cursor
}

// First moves to the smallest key.
func (c *Cursor) First() ([]byte, []byte) {
	if c.c == nil {
		return nil, nil
	}
	return c.c.First()
}

// Last moves to the largest key.
func (c *Cursor) Last() ([]byte, []byte) {
	if c.c == nil {
		return nil, nil
	}
	return c.c.Last()
}

// Next advances.
func (c *Cursor) Next() ([]byte, []byte) {
	if c.c == nil {
		return nil, nil
	}
	return c.c.Next()
}

// Prev retreats.
func (c *Cursor) Prev() ([]byte, []byte) {
	if c.c == nil {
		return nil, nil
	}
	return c.c.Prev()
}

// Seek moves to the first key >= target.
func (c *Cursor) Seek(target []byte) ([]byte, []byte) {
	if c.c == nil {
		return nil, nil
	}
	return c.c.Seek(target)
}

func mapBoltError(err error) error {
	switch err {
	case nil:
		return nil
	case bolt.ErrTxNotWritable:
		return ErrReadOnly
	case bolt.ErrDatabaseNotOpen:
		return ErrClosed
	default:
		return err
	}
}
