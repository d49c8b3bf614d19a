package expression

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/burrow/pkg/types"
)

func parseFilter(t *testing.T, doc string) FilterExpression {
	t.Helper()
	f, err := ParseFilter([]byte(doc))
	require.NoError(t, err, doc)
	return f
}

func TestParseFilterSimple(t *testing.T) {
	tests := []struct {
		doc  string
		want Simple
	}{
		{`{"a": 1}`, NewSimple("a", EQ, types.NewInt(1))},
		{`{"ab_c": 1}`, NewSimple("ab_c", EQ, types.NewInt(1))},
		{`{"a": {"$eq": 1}}`, NewSimple("a", EQ, types.NewInt(1))},
		{`{"a": {"$gt": 1}}`, NewSimple("a", GT, types.NewInt(1))},
		{`{"a": {"$lt": 1}}`, NewSimple("a", LT, types.NewInt(1))},
		{`{"a": {"$lte": 1}}`, NewSimple("a", LTE, types.NewInt(1))},
		{`{"a": {"$gte": 1}}`, NewSimple("a", GTE, types.NewInt(1))},
		{`{"a": -64}`, NewSimple("a", EQ, types.NewInt(-64))},
		{`{"a": 256.0}`, NewSimple("a", EQ, types.NewFloat(256.0))},
		{`{"a": -256.88393}`, NewSimple("a", EQ, types.NewFloat(-256.88393))},
		{`{"a": 98222}`, NewSimple("a", EQ, types.NewInt(98222))},
		{`{"a": true}`, NewSimple("a", EQ, types.NewBoolean(true))},
		{`{"a": null}`, NewSimple("a", EQ, types.NullField())},
		{`{"a": {"$contains": "good"}}`, NewSimple("a", Contains, types.NewString("good"))},
	}
	for _, tt := range tests {
		t.Run(tt.doc, func(t *testing.T) {
			assert.Equal(t, tt.want, parseFilter(t, tt.doc))
		})
	}
}

func TestParseFilterErrors(t *testing.T) {
	docs := []string{
		`{"_": 1}`,
		`{"'": 1}`,
		`{"%": 1}`,
		`{"a": []}`,
		`{"a": {}}`,
		`{"a": {"$lte": {}}}`,
		`{"a": {"$lte": []}}`,
		`{"a": {"lte": 1}}`,
		`{"$lte": {"lte": 1}}`,
		`[]`,
		`{}`,
		`2`,
		`true`,
		`"abc"`,
		`2.3`,
		`{"$and": [{"a": {"$lt": 1}}]}`,
		`{"$and": []}`,
		`{"$and": {}}`,
		`{"$and": [{"a": {"lt": 1}}, {"b": {"$gt": 1}}]}`,
		`{"$or": [{"a": 1}, {"b": 1}]}`,
	}
	for _, doc := range docs {
		t.Run(doc, func(t *testing.T) {
			_, err := ParseFilter([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestParseFilterAnd(t *testing.T) {
	got := parseFilter(t, `{"$and": [{"a": {"$lt": 1}}, {"b": {"$gte": 3}}]}`)
	assert.Equal(t, NewAnd(
		NewSimple("a", LT, types.NewInt(1)),
		NewSimple("b", GTE, types.NewInt(3)),
	), got)

	// Nested conjunctions stay nested; flattening is the planner's job.
	got = parseFilter(t, `{"$and": [{"$and": [{"a": {"$lt": 1}}, {"b": {"$gte": 3}}]}, {"c": 3}]}`)
	assert.Equal(t, NewAnd(
		NewAnd(
			NewSimple("a", LT, types.NewInt(1)),
			NewSimple("b", GTE, types.NewInt(3)),
		),
		NewSimple("c", EQ, types.NewInt(3)),
	), got)

	// Implicit conjunction, deterministic field order.
	got = parseFilter(t, `{"b": 2, "a": 1}`)
	assert.Equal(t, NewAnd(
		NewSimple("a", EQ, types.NewInt(1)),
		NewSimple("b", EQ, types.NewInt(2)),
	), got)
}

func TestQueryExpressionDefaults(t *testing.T) {
	var q QueryExpression
	require.NoError(t, json.Unmarshal([]byte(`{}`), &q))
	assert.Nil(t, q.Filter)
	assert.Empty(t, q.OrderBy)
	assert.Equal(t, DefaultLimit, q.Limit)
	assert.Zero(t, q.Skip)
}

func TestQueryExpressionFull(t *testing.T) {
	doc := `{
		"$filter": {"c": {"$gt": 526}},
		"$order_by": [{"field_name": "c", "direction": "desc"}],
		"$limit": 100,
		"$skip": 20
	}`
	var q QueryExpression
	require.NoError(t, json.Unmarshal([]byte(doc), &q))
	assert.Equal(t, NewSimple("c", GT, types.NewInt(526)), q.Filter)
	assert.Equal(t, []SortOption{{FieldName: "c", Direction: types.Descending}}, q.OrderBy)
	assert.Equal(t, 100, q.Limit)
	assert.Equal(t, 20, q.Skip)
}

func TestQueryExpressionErrors(t *testing.T) {
	docs := []string{
		`{"$order_by": [{"field_name": "c", "direction": "up"}]}`,
		`{"$order_by": [{"field_name": "_", "direction": "asc"}]}`,
		`{"$unknown": 1}`,
		`{"$filter": {"a": {"$nope": 1}}}`,
	}
	for _, doc := range docs {
		t.Run(doc, func(t *testing.T) {
			var q QueryExpression
			assert.Error(t, json.Unmarshal([]byte(doc), &q))
		})
	}
}

func TestQueryExpressionRoundTrip(t *testing.T) {
	q := NewQuery(
		NewAnd(
			NewSimple("a", EQ, types.NewInt(1)),
			NewSimple("b", GTE, types.NewString("x")),
		),
		[]SortOption{{FieldName: "a", Direction: types.Ascending}},
		25, 5,
	)
	data, err := json.Marshal(q)
	require.NoError(t, err)
	var back QueryExpression
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, q, back)
}
