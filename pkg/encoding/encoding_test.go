package encoding

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/burrow/pkg/types"
)

// assertOrdered checks that the byte encodings of the given fields sort
// in the same order as the fields themselves.
func assertOrdered(t *testing.T, fields ...types.Field) {
	t.Helper()
	for i := 0; i < len(fields)-1; i++ {
		a := EncodeField(nil, fields[i])
		b := EncodeField(nil, fields[i+1])
		assert.Negative(t, bytes.Compare(a, b), "%v should encode below %v", fields[i], fields[i+1])
	}
}

func TestEncodeFieldOrderPreserving(t *testing.T) {
	t.Run("int", func(t *testing.T) {
		assertOrdered(t,
			types.NewInt(-1<<62),
			types.NewInt(-527),
			types.NewInt(-1),
			types.NewInt(0),
			types.NewInt(1),
			types.NewInt(526),
			types.NewInt(527),
			types.NewInt(1<<62),
		)
	})
	t.Run("uint", func(t *testing.T) {
		assertOrdered(t, types.NewUInt(0), types.NewUInt(7), types.NewUInt(1<<63))
	})
	t.Run("float", func(t *testing.T) {
		assertOrdered(t,
			types.NewFloat(-1e300),
			types.NewFloat(-2.5),
			types.NewFloat(-0.0),
			types.NewFloat(0.25),
			types.NewFloat(3),
			types.NewFloat(1e300),
		)
	})
	t.Run("string", func(t *testing.T) {
		assertOrdered(t,
			types.NewString(""),
			types.NewString("a"),
			types.NewString("a\x00"),
			types.NewString("a\x00b"),
			types.NewString("a\x01"),
			types.NewString("ab"),
			types.NewString("b"),
		)
	})
	t.Run("boolean", func(t *testing.T) {
		assertOrdered(t, types.NewBoolean(false), types.NewBoolean(true))
	})
	t.Run("timestamp", func(t *testing.T) {
		assertOrdered(t,
			types.NewTimestamp(time.Unix(0, 1)),
			types.NewTimestamp(time.Unix(1, 0)),
			types.NewTimestamp(time.Unix(1000, 0)),
		)
	})
	t.Run("duration", func(t *testing.T) {
		assertOrdered(t,
			types.NewDuration(-time.Second),
			types.NewDuration(0),
			types.NewDuration(time.Minute),
		)
	})
	t.Run("decimal", func(t *testing.T) {
		assertOrdered(t,
			types.NewDecimal("-10.5"),
			types.NewDecimal("-1"),
			types.NewDecimal("0.25"),
			types.NewDecimal("100"),
		)
	})
	t.Run("null sorts first", func(t *testing.T) {
		assertOrdered(t, types.NullField(), types.NewInt(-1<<62))
		assertOrdered(t, types.NullField(), types.NewString(""))
	})
}

func TestCompositeKeyTieBreak(t *testing.T) {
	// Records ordered by first field, then second.
	recs := []types.Record{
		types.NewRecord(types.NewInt(1), types.NewString("b")),
		types.NewRecord(types.NewInt(1), types.NewString("c")),
		types.NewRecord(types.NewInt(2), types.NewString("a")),
	}
	for i := 0; i < len(recs)-1; i++ {
		a := CompositeKey(recs[i], []int{0, 1})
		b := CompositeKey(recs[i+1], []int{0, 1})
		assert.Negative(t, bytes.Compare(a, b))
	}
}

func TestCompositeKeyPrefix(t *testing.T) {
	rec := types.NewRecord(types.NewInt(1), types.NewString("test"))
	full := CompositeKey(rec, []int{0, 1})
	prefix := FieldsKey([]types.Field{types.NewInt(1)})
	assert.True(t, bytes.HasPrefix(full, prefix))
}

func TestStringFramingUnambiguous(t *testing.T) {
	// ("a", "b") and ("a\x00b") must never produce colliding keys.
	a := FieldsKey([]types.Field{types.NewString("a"), types.NewString("b")})
	b := FieldsKey([]types.Field{types.NewString("a\x00b")})
	assert.NotEqual(t, a, b)
	assert.False(t, bytes.HasPrefix(a, b))
	assert.False(t, bytes.HasPrefix(b, a))
}

func TestUint64RoundTrip(t *testing.T) {
	for _, v := range []uint64{0, 1, 1 << 40, ^uint64(0)} {
		assert.Equal(t, v, DecodeUint64(EncodeUint64(v)))
	}
}

func TestCompareFieldsMatchesEncoding(t *testing.T) {
	pairs := [][2]types.Field{
		{types.NewInt(-3), types.NewInt(9)},
		{types.NewUInt(2), types.NewUInt(2)},
		{types.NewString("abc"), types.NewString("abd")},
		{types.NewFloat(-0.5), types.NewFloat(0.5)},
		{types.NullField(), types.NewInt(0)},
	}
	for _, p := range pairs {
		cmp := CompareFields(p[0], p[1])
		enc := bytes.Compare(EncodeField(nil, p[0]), EncodeField(nil, p[1]))
		assert.Equal(t, sign(enc), sign(cmp), "%v vs %v", p[0], p[1])
	}
}

func sign(x int) int {
	switch {
	case x < 0:
		return -1
	case x > 0:
		return 1
	default:
		return 0
	}
}
