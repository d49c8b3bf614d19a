package storage

import "errors"

var optionKey = []byte("value")

// OptionSlot is a named single-value slot, used for persisted schemas,
// index definitions and commit state.
type OptionSlot struct {
	db Database
}

// NewOptionSlot names a slot over an existing database.
func NewOptionSlot(name string) OptionSlot {
	return OptionSlot{db: NewDatabase(name)}
}

// Load returns the stored bytes, or ok=false if the slot is empty.
func (o OptionSlot) Load(t *Txn) ([]byte, bool, error) {
	v, err := o.db.Get(t, optionKey)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// Store writes the slot.
func (o OptionSlot) Store(t *Txn, value []byte) error {
	return o.db.Put(t, optionKey, value)
}
