package cache

import (
	"time"

	"github.com/cuemby/burrow/pkg/encoding"
	"github.com/cuemby/burrow/pkg/storage"
)

// The evictions database orders expiring records by deadline: key =
// deadline nanos || internal id. Sweeps walk it from the front and stop
// at the first unexpired entry.

func evictionKey(id uint64, deadline time.Time) []byte {
	key := make([]byte, 0, 16)
	key = append(key, encoding.EncodeUint64(uint64(deadline.UnixNano()))...)
	return append(key, encoding.EncodeUint64(id)...)
}

func (m *RwMainEnvironment) addEvictionEntry(t *storage.Txn, id uint64, deadline time.Time) error {
	return m.evictions.Put(t, evictionKey(id, deadline), nil)
}

func (m *RwMainEnvironment) removeEvictionEntry(t *storage.Txn, id uint64, deadline time.Time) error {
	return m.evictions.Delete(t, evictionKey(id, deadline))
}

// sweepExpired deletes up to budget expired records, emitting synthetic
// Delete operations. Conflict policies do not apply: the records exist.
func (m *RwMainEnvironment) sweepExpired(t *storage.Txn, now time.Time, budget int) (int, error) {
	nowKey := encoding.EncodeUint64(uint64(now.UnixNano()))
	evicted := 0
	for evicted < budget {
		c := m.evictions.Cursor(t)
		key, _ := c.First()
		if key == nil || len(key) < 16 {
			break
		}
		if string(key[:8]) >= string(nowKey) {
			break
		}
		id := encoding.DecodeUint64(key[8:16])
		record, ok, err := m.getRecord(t, id)
		if err != nil {
			return evicted, err
		}
		if !ok {
			// Entry outlived its record; drop it.
			if err := m.evictions.Delete(t, key); err != nil {
				return evicted, err
			}
			continue
		}
		pkBytes := encoding.PrimaryKey(record, m.schema.PrimaryIndex)
		if _, err := m.deleteByID(t, id, primaryKeyHash(pkBytes)); err != nil {
			return evicted, err
		}
		// deleteByID removed the entry via the record's lifetime; guard
		// against a drifted deadline.
		if err := m.evictions.Delete(t, key); err != nil {
			return evicted, err
		}
		evicted++
		m.logger.Debug().Uint64("id", id).Msg("Evicted expired record")
	}
	return evicted, nil
}

// EvictExpired deletes every record expired at now. Exposed for
// deterministic testing; regular writes sweep incrementally.
func (m *RwMainEnvironment) EvictExpired(now time.Time) (int, error) {
	txn, err := m.env.WriteTxn()
	if err != nil {
		return 0, err
	}
	total := 0
	for {
		n, err := m.sweepExpired(txn, now, 64)
		if err != nil {
			return total, m.abort(err)
		}
		total += n
		if n == 0 {
			return total, nil
		}
	}
}
