package cache

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/burrow/pkg/types"
)

// Fixtures mirroring the films/sample schemas used across the suite.

func schemaFilms() (types.Schema, []types.IndexDefinition) {
	schema := types.Schema{
		Fields: []types.FieldDefinition{
			{Name: "a", Type: types.TypeInt},
			{Name: "b", Type: types.TypeString, Nullable: true},
		},
		PrimaryIndex: []int{0},
	}
	indexes := []types.IndexDefinition{
		types.NewSortedInvertedIndex(0),
		types.NewSortedInvertedIndex(1),
		types.NewSortedInvertedIndex(0, 1),
		types.NewFullTextIndex(1),
	}
	return schema, indexes
}

func schemaSample() (types.Schema, []types.IndexDefinition) {
	schema := types.Schema{
		Fields: []types.FieldDefinition{
			{Name: "a", Type: types.TypeInt},
			{Name: "b", Type: types.TypeString},
			{Name: "c", Type: types.TypeInt},
		},
		PrimaryIndex: []int{0},
	}
	indexes := []types.IndexDefinition{types.NewSortedInvertedIndex(2)}
	return schema, indexes
}

func schemaText() (types.Schema, []types.IndexDefinition) {
	schema := types.Schema{
		Fields: []types.FieldDefinition{
			{Name: "id", Type: types.TypeInt},
			{Name: "text", Type: types.TypeString},
		},
		PrimaryIndex: []int{0},
	}
	indexes := []types.IndexDefinition{
		types.NewSortedInvertedIndex(0),
		types.NewFullTextIndex(1),
	}
	return schema, indexes
}

func newTestCache(t *testing.T, schema types.Schema, indexes []types.IndexDefinition, writeOptions WriteOptions) RwCache {
	t.Helper()
	c, err := CreateRwCache(t.TempDir(), "test", types.Labels{"app": "test"}, schema, indexes, DefaultOptions(), writeOptions, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// catchUp drives every secondary index of the cache until it has
// replayed all committed operations, the way the indexing pool would.
func catchUp(t *testing.T, c RwCache) {
	t.Helper()
	main := c.MainEnvironment()
	for _, sec := range c.SecondaryEnvironments() {
		for {
			txn, err := main.BeginRead()
			require.NoError(t, err)
			done, err := sec.Index(main, txn)
			txn.Discard()
			require.NoError(t, err)
			if done {
				break
			}
		}
	}
}

func mustInsert(t *testing.T, c RwCache, record types.Record) types.UpsertResult {
	t.Helper()
	res, err := c.Insert(record)
	require.NoError(t, err)
	return res
}

func commitAndIndex(t *testing.T, c RwCache) {
	t.Helper()
	require.NoError(t, c.Commit(nil))
	catchUp(t, c)
}

func sampleRow(a int64, b string, cv int64) types.Record {
	return types.NewRecord(types.NewInt(a), types.NewString(b), types.NewInt(cv))
}
