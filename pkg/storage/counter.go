package storage

import (
	"errors"

	"github.com/cuemby/burrow/pkg/encoding"
)

var counterKey = []byte("value")

// Counter is a named persistent uint64, stored in its own database. A
// missing counter reads as zero.
type Counter struct {
	db Database
}

// NewCounter names a counter over an existing database.
func NewCounter(name string) Counter {
	return Counter{db: NewDatabase(name)}
}

// Load reads the current value.
func (c Counter) Load(t *Txn) (uint64, error) {
	v, err := c.db.Get(t, counterKey)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return encoding.DecodeUint64(v), nil
}

// Store writes the value.
func (c Counter) Store(t *Txn, v uint64) error {
	return c.db.Put(t, counterKey, encoding.EncodeUint64(v))
}

// FetchAdd returns the current value and stores value+delta.
func (c Counter) FetchAdd(t *Txn, delta uint64) (uint64, error) {
	v, err := c.Load(t)
	if err != nil {
		return 0, err
	}
	if err := c.Store(t, v+delta); err != nil {
		return 0, err
	}
	return v, nil
}
