package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/burrow/pkg/types"
)

func TestInsertGetRoundTrip(t *testing.T) {
	schema, indexes := schemaFilms()
	c := newTestCache(t, schema, indexes, WriteOptions{})

	record := types.NewRecord(types.NewInt(1), types.NewString("test"))
	res := mustInsert(t, c, record)
	assert.Equal(t, types.UpsertInserted, res.Kind)
	assert.Equal(t, uint32(1), res.Meta.Version)
	require.NoError(t, c.Commit(nil))

	got, err := c.Get([]types.Field{types.NewInt(1)})
	require.NoError(t, err)
	assert.True(t, record.Equal(got.Record))
	assert.Equal(t, uint32(1), got.Meta.Version)
	assert.Equal(t, res.Meta.ID, got.Meta.ID)

	count, err := c.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}

func TestGetMissing(t *testing.T) {
	schema, indexes := schemaFilms()
	c := newTestCache(t, schema, indexes, WriteOptions{})
	_, err := c.Get([]types.Field{types.NewInt(404)})
	assert.ErrorIs(t, err, ErrPrimaryKeyNotFound)
}

func TestInsertRejectsNonConformingRecord(t *testing.T) {
	schema, indexes := schemaFilms()
	c := newTestCache(t, schema, indexes, WriteOptions{})

	_, err := c.Insert(types.NewRecord(types.NewInt(1)))
	assert.Error(t, err, "arity mismatch")
	_, err = c.Insert(types.NewRecord(types.NewString("1"), types.NewString("b")))
	assert.Error(t, err, "type mismatch")
	_, err = c.Insert(types.NewRecord(types.NullField(), types.NewString("b")))
	assert.Error(t, err, "null primary key field is not nullable")
}

func TestUpdateBumpsVersion(t *testing.T) {
	schema, indexes := schemaFilms()
	c := newTestCache(t, schema, indexes, WriteOptions{})

	record := types.NewRecord(types.NewInt(1), types.NewString("v1"))
	mustInsert(t, c, record)
	require.NoError(t, c.Commit(nil))

	const updates = 5
	for i := 0; i < updates; i++ {
		old := record
		record = types.NewRecord(types.NewInt(1), types.NewString("v"+string(rune('2'+i))))
		res, err := c.Update(old, record)
		require.NoError(t, err)
		assert.Equal(t, types.UpsertUpdated, res.Kind)
		assert.Equal(t, res.OldMeta.Version+1, res.Meta.Version)
		assert.Equal(t, res.OldMeta.ID, res.Meta.ID, "same primary key keeps the internal id")
	}
	require.NoError(t, c.Commit(nil))

	got, err := c.Get([]types.Field{types.NewInt(1)})
	require.NoError(t, err)
	assert.Equal(t, uint32(1+updates), got.Meta.Version)
}

func TestUpdateChangedPrimaryKey(t *testing.T) {
	schema, indexes := schemaFilms()
	c := newTestCache(t, schema, indexes, WriteOptions{})

	old := types.NewRecord(types.NewInt(1), types.NewString("x"))
	mustInsert(t, c, old)
	require.NoError(t, c.Commit(nil))

	new := types.NewRecord(types.NewInt(2), types.NewString("x"))
	res, err := c.Update(old, new)
	require.NoError(t, err)
	assert.Equal(t, types.UpsertUpdated, res.Kind)
	assert.Greater(t, res.Meta.ID, res.OldMeta.ID, "changed key gets a fresh id")
	assert.Equal(t, uint32(1), res.Meta.Version)
	require.NoError(t, c.Commit(nil))

	_, err = c.Get([]types.Field{types.NewInt(1)})
	assert.ErrorIs(t, err, ErrPrimaryKeyNotFound)
	got, err := c.Get([]types.Field{types.NewInt(2)})
	require.NoError(t, err)
	assert.True(t, new.Equal(got.Record))
}

func TestDeleteThenReinsert(t *testing.T) {
	schema, indexes := schemaFilms()
	c := newTestCache(t, schema, indexes, WriteOptions{})

	record := types.NewRecord(types.NewInt(1), types.NewString("first"))
	first := mustInsert(t, c, record)
	require.NoError(t, c.Commit(nil))

	meta, err := c.Delete(record)
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, first.Meta.ID, meta.ID)
	require.NoError(t, c.Commit(nil))

	_, err = c.Get([]types.Field{types.NewInt(1)})
	assert.ErrorIs(t, err, ErrPrimaryKeyNotFound)
	count, err := c.Count()
	require.NoError(t, err)
	assert.Zero(t, count)

	second := mustInsert(t, c, types.NewRecord(types.NewInt(1), types.NewString("second")))
	require.NoError(t, c.Commit(nil))
	assert.Equal(t, uint32(1), second.Meta.Version, "reinsert starts a fresh lifecycle")
	assert.Greater(t, second.Meta.ID, first.Meta.ID, "internal ids are never reused")

	got, err := c.Get([]types.Field{types.NewInt(1)})
	require.NoError(t, err)
	assert.Equal(t, "second", got.Record.Values[1].StringVal)
}

func TestCommitVisibility(t *testing.T) {
	schema, indexes := schemaFilms()
	c := newTestCache(t, schema, indexes, WriteOptions{})

	mustInsert(t, c, types.NewRecord(types.NewInt(1), types.NewString("x")))

	// Not committed yet: readers see nothing.
	count, err := c.Count()
	require.NoError(t, err)
	assert.Zero(t, count)
	_, err = c.Get([]types.Field{types.NewInt(1)})
	assert.ErrorIs(t, err, ErrPrimaryKeyNotFound)

	require.NoError(t, c.Commit(nil))
	count, err = c.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}

func TestCommitState(t *testing.T) {
	schema, indexes := schemaFilms()
	c := newTestCache(t, schema, indexes, WriteOptions{})

	_, ok, err := c.CommitState()
	require.NoError(t, err)
	assert.False(t, ok)

	mustInsert(t, c, types.NewRecord(types.NewInt(1), types.NewString("x")))
	require.NoError(t, c.Commit([]byte("log-position-42")))

	state, ok, err := c.CommitState()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("log-position-42"), state)
}

func TestSchemaGate(t *testing.T) {
	dir := t.TempDir()
	schema, indexes := schemaFilms()
	c, err := CreateRwCache(dir, "gate", types.Labels{}, schema, indexes, DefaultOptions(), WriteOptions{}, nil)
	require.NoError(t, err)
	require.NoError(t, c.Close())

	// Re-creating with a different schema must fail before any write.
	other := types.Schema{
		Fields: []types.FieldDefinition{
			{Name: "a", Type: types.TypeUInt},
			{Name: "b", Type: types.TypeString, Nullable: true},
		},
		PrimaryIndex: []int{0},
	}
	_, err = CreateRwCache(dir, "gate", types.Labels{}, other, indexes, DefaultOptions(), WriteOptions{}, nil)
	var mismatch SchemaMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.True(t, mismatch.Given.Equal(other))
	assert.True(t, mismatch.Stored.Equal(schema))

	// The original schema still opens.
	c, err = OpenRwCache(dir, "gate", types.Labels{}, DefaultOptions(), WriteOptions{}, nil)
	require.NoError(t, err)
	assert.True(t, c.Schema().Equal(schema))
	require.NoError(t, c.Close())
}

func TestOperationLogShape(t *testing.T) {
	schema, indexes := schemaFilms()
	c := newTestCache(t, schema, indexes, WriteOptions{})
	main := c.MainEnvironment()

	record := types.NewRecord(types.NewInt(1), types.NewString("x"))
	mustInsert(t, c, record)
	_, err := c.Delete(record)
	require.NoError(t, err)
	require.NoError(t, c.Commit(nil))

	txn, err := main.BeginRead()
	require.NoError(t, err)
	defer txn.Discard()

	next, err := main.NextOperationID(txn)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), next)

	var ops []Operation
	require.NoError(t, main.ScanOperationLog(txn, 0, next, func(_ uint64, op Operation) error {
		ops = append(ops, op)
		return nil
	}))
	require.Len(t, ops, 2)
	assert.Equal(t, OperationInsert, ops[0].Kind)
	require.NotNil(t, ops[0].Record)
	assert.True(t, record.Equal(*ops[0].Record))
	assert.Equal(t, OperationDelete, ops[1].Kind)
	assert.Equal(t, uint64(0), ops[1].InsertOperationID, "delete points at the insert it undoes")
}
