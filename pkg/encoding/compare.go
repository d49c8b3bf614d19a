package encoding

import (
	"bytes"

	"github.com/cuemby/burrow/pkg/types"
)

// CompareFields orders two field values by their canonical total order.
// Null sorts before every typed value; distinct types order by type tag,
// which only matters for nullable columns.
func CompareFields(a, b types.Field) int {
	if a.Type != b.Type {
		return int(a.Type) - int(b.Type)
	}
	switch a.Type {
	case types.TypeNull:
		return 0
	case types.TypeUInt:
		return compareUint64(a.UintVal, b.UintVal)
	case types.TypeInt:
		return compareInt64(a.IntVal, b.IntVal)
	case types.TypeFloat:
		return compareFloat64(a.FloatVal, b.FloatVal)
	case types.TypeBoolean:
		return compareBool(a.BoolVal, b.BoolVal)
	case types.TypeString, types.TypeText, types.TypeJSON:
		return bytes.Compare([]byte(a.StringVal), []byte(b.StringVal))
	case types.TypeTimestamp:
		return compareInt64(a.TimeVal.UnixNano(), b.TimeVal.UnixNano())
	case types.TypeDate:
		return compareInt64(int64(a.DaysVal), int64(b.DaysVal))
	case types.TypeDuration:
		return compareInt64(int64(a.DurVal), int64(b.DurVal))
	default:
		// U128, I128, Binary, Decimal, Point: the byte encoding is the
		// order definition.
		return bytes.Compare(EncodeField(nil, a), EncodeField(nil, b))
	}
}

func compareUint64(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareFloat64(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case b:
		return -1
	default:
		return 1
	}
}
