package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/burrow/pkg/types"
)

func conflictCache(t *testing.T, resolution types.ConflictResolution) RwCache {
	schema, indexes := schemaFilms()
	return newTestCache(t, schema, indexes, WriteOptions{ConflictResolution: resolution})
}

func TestInsertConflictNothing(t *testing.T) {
	c := conflictCache(t, types.ConflictResolution{OnInsert: types.OnInsertNothing})

	old := types.NewRecord(types.NewInt(1), types.NewString("Film name old"))
	mustInsert(t, c, old)
	require.NoError(t, c.Commit(nil))

	res, err := c.Insert(types.NewRecord(types.NewInt(1), types.NewString("Film name new")))
	require.NoError(t, err)
	assert.Equal(t, types.UpsertIgnored, res.Kind)
	require.NoError(t, c.Commit(nil))

	got, err := c.Get([]types.Field{types.NewInt(1)})
	require.NoError(t, err)
	assert.Equal(t, "Film name old", got.Record.Values[1].StringVal, "insert must be ignored")
	assert.Equal(t, uint32(1), got.Meta.Version)
}

func TestInsertConflictUpdate(t *testing.T) {
	c := conflictCache(t, types.ConflictResolution{OnInsert: types.OnInsertUpdate})

	mustInsert(t, c, types.NewRecord(types.NewInt(1), types.NewString("Film name old")))
	require.NoError(t, c.Commit(nil))

	res, err := c.Insert(types.NewRecord(types.NewInt(1), types.NewString("Second insert name")))
	require.NoError(t, err)
	assert.Equal(t, types.UpsertUpdated, res.Kind)
	assert.Equal(t, uint32(1), res.OldMeta.Version)
	assert.Equal(t, uint32(2), res.Meta.Version)
	require.NoError(t, c.Commit(nil))

	got, err := c.Get([]types.Field{types.NewInt(1)})
	require.NoError(t, err)
	assert.Equal(t, "Second insert name", got.Record.Values[1].StringVal)
	assert.Equal(t, uint32(2), got.Meta.Version)

	count, err := c.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count, "still one record")
}

func TestInsertConflictPanic(t *testing.T) {
	c := conflictCache(t, types.ConflictResolution{OnInsert: types.OnInsertPanic})

	record := types.NewRecord(types.NewInt(1), types.NewString("Film name old"))
	mustInsert(t, c, record)
	require.NoError(t, c.Commit(nil))

	_, err := c.Insert(record)
	assert.ErrorIs(t, err, ErrPrimaryKeyExists)

	got, err := c.Get([]types.Field{types.NewInt(1)})
	require.NoError(t, err)
	assert.Equal(t, uint32(1), got.Meta.Version, "state unchanged")
}

func TestUpdateConflictNothing(t *testing.T) {
	c := conflictCache(t, types.ConflictResolution{OnUpdate: types.OnUpdateNothing})

	res, err := c.Update(
		types.NewRecord(types.NewInt(1), types.NullField()),
		types.NewRecord(types.NewInt(1), types.NewString("Film name updated")),
	)
	require.NoError(t, err, "missing key is silently skipped")
	assert.Equal(t, types.UpsertIgnored, res.Kind)
	require.NoError(t, c.Commit(nil))

	_, err = c.Get([]types.Field{types.NewInt(1)})
	assert.ErrorIs(t, err, ErrPrimaryKeyNotFound, "nothing was written")
}

func TestUpdateConflictUpsert(t *testing.T) {
	c := conflictCache(t, types.ConflictResolution{OnUpdate: types.OnUpdateUpsert})

	updated := types.NewRecord(types.NewInt(1), types.NewString("Film name updated"))
	res, err := c.Update(types.NewRecord(types.NewInt(1), types.NullField()), updated)
	require.NoError(t, err)
	assert.Equal(t, types.UpsertInserted, res.Kind)
	assert.Equal(t, uint32(1), res.Meta.Version)
	require.NoError(t, c.Commit(nil))

	got, err := c.Get([]types.Field{types.NewInt(1)})
	require.NoError(t, err)
	assert.True(t, updated.Equal(got.Record))
	assert.Equal(t, uint32(1), got.Meta.Version)
}

func TestUpdateConflictPanic(t *testing.T) {
	c := conflictCache(t, types.ConflictResolution{OnUpdate: types.OnUpdatePanic})

	_, err := c.Update(
		types.NewRecord(types.NewInt(1), types.NullField()),
		types.NewRecord(types.NewInt(1), types.NewString("Film name updated")),
	)
	assert.ErrorIs(t, err, ErrPrimaryKeyNotFound)
}

func TestDeleteConflictNothing(t *testing.T) {
	c := conflictCache(t, types.ConflictResolution{OnDelete: types.OnDeleteNothing})

	count, err := c.Count()
	require.NoError(t, err)
	assert.Zero(t, count)

	meta, err := c.Delete(types.NewRecord(types.NewInt(1), types.NullField()))
	require.NoError(t, err, "deleting a missing record is a no-op")
	assert.Nil(t, meta)
}

func TestDeleteConflictPanic(t *testing.T) {
	c := conflictCache(t, types.ConflictResolution{OnDelete: types.OnDeletePanic})

	_, err := c.Delete(types.NewRecord(types.NewInt(1), types.NullField()))
	assert.ErrorIs(t, err, ErrPrimaryKeyNotFound)
}

func TestConflictMatrixOnLiveKey(t *testing.T) {
	// Update and delete policies only matter when the key is missing; a
	// live key behaves the same under every policy.
	for _, resolution := range []types.ConflictResolution{
		{OnUpdate: types.OnUpdateNothing, OnDelete: types.OnDeleteNothing},
		{OnUpdate: types.OnUpdatePanic, OnDelete: types.OnDeletePanic},
	} {
		c := conflictCache(t, resolution)
		record := types.NewRecord(types.NewInt(7), types.NewString("x"))
		mustInsert(t, c, record)
		require.NoError(t, c.Commit(nil))

		res, err := c.Update(record, types.NewRecord(types.NewInt(7), types.NewString("y")))
		require.NoError(t, err)
		assert.Equal(t, types.UpsertUpdated, res.Kind)

		meta, err := c.Delete(types.NewRecord(types.NewInt(7), types.NewString("y")))
		require.NoError(t, err)
		require.NotNil(t, meta)
		require.NoError(t, c.Commit(nil))
	}
}
