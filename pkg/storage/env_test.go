package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/burrow/pkg/encoding"
)

func openTestEnv(t *testing.T) *Env {
	t.Helper()
	env, err := OpenRw(t.TempDir(), Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = env.Close() })
	require.NoError(t, env.EnsureDatabases("plain", "multi", "counter", "option"))
	return env
}

func TestDatabasePutGet(t *testing.T) {
	env := openTestEnv(t)
	db := NewDatabase("plain")

	txn, err := env.WriteTxn()
	require.NoError(t, err)
	require.NoError(t, db.Put(txn, []byte("k"), []byte("v")))

	// The writer sees its own uncommitted write.
	got, err := db.Get(txn, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	// A reader does not, until commit.
	rtxn, err := env.BeginRead()
	require.NoError(t, err)
	_, err = db.Get(rtxn, []byte("k"))
	assert.ErrorIs(t, err, ErrNotFound)
	rtxn.Discard()

	require.NoError(t, env.Commit())

	rtxn, err = env.BeginRead()
	require.NoError(t, err)
	got, err = db.Get(rtxn, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
	rtxn.Discard()
}

func TestSnapshotIsolation(t *testing.T) {
	env := openTestEnv(t)
	db := NewDatabase("plain")

	txn, err := env.WriteTxn()
	require.NoError(t, err)
	require.NoError(t, db.Put(txn, []byte("k"), []byte("v1")))
	require.NoError(t, env.Commit())

	// Reader begins before the second commit and must keep seeing v1.
	before, err := env.BeginRead()
	require.NoError(t, err)
	defer before.Discard()

	txn, err = env.WriteTxn()
	require.NoError(t, err)
	require.NoError(t, db.Put(txn, []byte("k"), []byte("v2")))
	require.NoError(t, env.Commit())

	got, err := db.Get(before, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)

	after, err := env.BeginRead()
	require.NoError(t, err)
	defer after.Discard()
	got, err = db.Get(after, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)
}

func TestInsertExisting(t *testing.T) {
	env := openTestEnv(t)
	db := NewDatabase("plain")

	txn, err := env.WriteTxn()
	require.NoError(t, err)
	require.NoError(t, db.Insert(txn, []byte("k"), []byte("v")))
	assert.ErrorIs(t, db.Insert(txn, []byte("k"), []byte("v2")), ErrKeyExists)
	require.NoError(t, env.Commit())
}

func TestAbortDiscardsWrites(t *testing.T) {
	env := openTestEnv(t)
	db := NewDatabase("plain")

	txn, err := env.WriteTxn()
	require.NoError(t, err)
	require.NoError(t, db.Put(txn, []byte("k"), []byte("v")))
	env.Abort()

	rtxn, err := env.BeginRead()
	require.NoError(t, err)
	defer rtxn.Discard()
	_, err = db.Get(rtxn, []byte("k"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMultimapOrdering(t *testing.T) {
	env := openTestEnv(t)
	mm := NewMultimap("multi")

	txn, err := env.WriteTxn()
	require.NoError(t, err)
	require.NoError(t, mm.Insert(txn, []byte("x"), 9))
	require.NoError(t, mm.Insert(txn, []byte("x"), 2))
	require.NoError(t, mm.Insert(txn, []byte("x"), 5))
	require.NoError(t, mm.Insert(txn, []byte("x"), 5)) // duplicate pair
	require.NoError(t, mm.Insert(txn, []byte("xy"), 1))
	require.NoError(t, env.Commit())

	rtxn, err := env.BeginRead()
	require.NoError(t, err)
	defer rtxn.Discard()

	values, err := mm.Values(rtxn, []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, []uint64{2, 5, 9}, values, "sorted by value, deduplicated, longer keys excluded")

	n, err := mm.CountValues(rtxn, []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n)

	ok, err := mm.Contains(rtxn, []byte("x"), 5)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = mm.Contains(rtxn, []byte("x"), 4)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMultimapRemove(t *testing.T) {
	env := openTestEnv(t)
	mm := NewMultimap("multi")

	txn, err := env.WriteTxn()
	require.NoError(t, err)
	require.NoError(t, mm.Insert(txn, []byte("x"), 1))
	require.NoError(t, mm.Insert(txn, []byte("x"), 2))
	require.NoError(t, mm.Remove(txn, []byte("x"), 1))
	require.NoError(t, mm.Remove(txn, []byte("x"), 7)) // missing pair is fine
	require.NoError(t, env.Commit())

	rtxn, err := env.BeginRead()
	require.NoError(t, err)
	defer rtxn.Discard()
	values, err := mm.Values(rtxn, []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, []uint64{2}, values)
}

func TestCounter(t *testing.T) {
	env := openTestEnv(t)
	ctr := NewCounter("counter")

	txn, err := env.WriteTxn()
	require.NoError(t, err)

	v, err := ctr.Load(txn)
	require.NoError(t, err)
	assert.Zero(t, v, "missing counter reads as zero")

	old, err := ctr.FetchAdd(txn, 1)
	require.NoError(t, err)
	assert.Zero(t, old)
	old, err = ctr.FetchAdd(txn, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), old)

	v, err = ctr.Load(txn)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), v)
	require.NoError(t, env.Commit())
}

func TestOptionSlot(t *testing.T) {
	env := openTestEnv(t)
	slot := NewOptionSlot("option")

	rtxn, err := env.BeginRead()
	require.NoError(t, err)
	_, ok, err := slot.Load(rtxn)
	require.NoError(t, err)
	assert.False(t, ok)
	rtxn.Discard()

	txn, err := env.WriteTxn()
	require.NoError(t, err)
	require.NoError(t, slot.Store(txn, []byte("payload")))
	require.NoError(t, env.Commit())

	rtxn, err = env.BeginRead()
	require.NoError(t, err)
	defer rtxn.Discard()
	got, ok, err := slot.Load(rtxn)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("payload"), got)
}

func TestMaxReaders(t *testing.T) {
	env, err := OpenRw(t.TempDir(), Options{MaxReaders: 2})
	require.NoError(t, err)
	defer env.Close()
	require.NoError(t, env.EnsureDatabases("plain"))

	a, err := env.BeginRead()
	require.NoError(t, err)
	b, err := env.BeginRead()
	require.NoError(t, err)
	_, err = env.BeginRead()
	assert.ErrorIs(t, err, ErrReadersFull)

	a.Discard()
	c, err := env.BeginRead()
	require.NoError(t, err)
	c.Discard()
	b.Discard()
}

func TestRegistrySharesHandles(t *testing.T) {
	dir := t.TempDir()
	rw, err := OpenRw(dir, Options{})
	require.NoError(t, err)
	require.NoError(t, rw.EnsureDatabases("plain"))

	ro, err := OpenRo(dir)
	require.NoError(t, err)
	assert.Same(t, rw, ro, "read-only open of a writer-held path shares the handle")

	// Data committed by the writer is visible through the shared handle.
	db := NewDatabase("plain")
	txn, err := rw.WriteTxn()
	require.NoError(t, err)
	require.NoError(t, db.Put(txn, []byte("k"), []byte("v")))
	require.NoError(t, rw.Commit())

	rtxn, err := ro.BeginRead()
	require.NoError(t, err)
	got, err := db.Get(rtxn, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
	rtxn.Discard()

	require.NoError(t, ro.Close())
	require.NoError(t, rw.Close())

	assert.False(t, Exists(t.TempDir()), "fresh directory has no environment")
	assert.True(t, Exists(dir))
}

func TestCursorSeek(t *testing.T) {
	env := openTestEnv(t)
	db := NewDatabase("plain")

	txn, err := env.WriteTxn()
	require.NoError(t, err)
	for _, id := range []uint64{1, 3, 5} {
		require.NoError(t, db.Put(txn, encoding.EncodeUint64(id), nil))
	}
	require.NoError(t, env.Commit())

	rtxn, err := env.BeginRead()
	require.NoError(t, err)
	defer rtxn.Discard()
	c := db.Cursor(rtxn)

	k, _ := c.Seek(encoding.EncodeUint64(2))
	require.NotNil(t, k)
	assert.Equal(t, uint64(3), encoding.DecodeUint64(k), "seek lands on first key >= target")

	k, _ = c.Last()
	assert.Equal(t, uint64(5), encoding.DecodeUint64(k))
	k, _ = c.Prev()
	assert.Equal(t, uint64(3), encoding.DecodeUint64(k))
}
