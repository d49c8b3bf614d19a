package encoding

import (
	"encoding/binary"
	"math"
	"strconv"

	"github.com/cuemby/burrow/pkg/types"
)

// Byte-string framing inside composite keys: 0x00 terminates a value;
// embedded 0x00 and 0x01 are escaped behind 0x01 so that bytewise
// comparison of encoded keys equals lexicographic comparison of the
// original values.
const (
	terminator  = 0x00
	escape      = 0x01
	escapedZero = 0x01
	escapedOne  = 0x02
)

const signBit = uint64(1) << 63

// EncodeField appends the canonical order-preserving encoding of f to dst.
// The first byte is the field's type tag; Null has the lowest tag, so null
// values sort before every typed value.
func EncodeField(dst []byte, f types.Field) []byte {
	dst = append(dst, byte(f.Type))
	switch f.Type {
	case types.TypeNull:
		return dst
	case types.TypeUInt:
		return appendUint64(dst, f.UintVal)
	case types.TypeU128:
		return appendPadded16(dst, f.BytesVal)
	case types.TypeInt:
		return appendUint64(dst, uint64(f.IntVal)^signBit)
	case types.TypeI128:
		var v [16]byte
		copy(v[:], pad16(f.BytesVal))
		v[0] ^= 0x80
		return append(dst, v[:]...)
	case types.TypeFloat:
		return appendUint64(dst, sortableFloatBits(f.FloatVal))
	case types.TypeBoolean:
		if f.BoolVal {
			return append(dst, 1)
		}
		return append(dst, 0)
	case types.TypeString, types.TypeText:
		return appendEscaped(dst, []byte(f.StringVal))
	case types.TypeBinary:
		return appendEscaped(dst, f.BytesVal)
	case types.TypeDecimal:
		// Numeric order first, canonical text as tie-break.
		v, err := strconv.ParseFloat(f.StringVal, 64)
		if err != nil {
			v = math.NaN()
		}
		dst = appendUint64(dst, sortableFloatBits(v))
		return appendEscaped(dst, []byte(f.StringVal))
	case types.TypeTimestamp:
		return appendUint64(dst, uint64(f.TimeVal.UnixNano())^signBit)
	case types.TypeDate:
		return appendUint64(dst, uint64(int64(f.DaysVal))^signBit)
	case types.TypeJSON:
		return appendEscaped(dst, []byte(f.StringVal))
	case types.TypePoint:
		dst = appendUint64(dst, sortableFloatBits(f.X))
		return appendUint64(dst, sortableFloatBits(f.Y))
	case types.TypeDuration:
		return appendUint64(dst, uint64(int64(f.DurVal))^signBit)
	default:
		return dst
	}
}

// CompositeKey encodes the given record fields, in order, into one index
// key. Bytewise comparison of composite keys equals field-wise logical
// comparison with tie-break by following fields.
func CompositeKey(record types.Record, positions []int) []byte {
	var key []byte
	for _, p := range positions {
		key = EncodeField(key, record.Values[p])
	}
	return key
}

// FieldsKey encodes a literal field sequence, used for query bounds.
func FieldsKey(fields []types.Field) []byte {
	var key []byte
	for _, f := range fields {
		key = EncodeField(key, f)
	}
	return key
}

// PrimaryKey encodes the primary-key fields of a record.
func PrimaryKey(record types.Record, primaryIndex []int) []byte {
	return CompositeKey(record, primaryIndex)
}

// EncodeUint64 returns the 8-byte big-endian form of v, the storage-level
// encoding of internal ids, operation ids and counters.
func EncodeUint64(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

// DecodeUint64 reverses EncodeUint64.
func DecodeUint64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

func appendUint64(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

func sortableFloatBits(v float64) uint64 {
	bits := math.Float64bits(v)
	if bits&signBit != 0 {
		return ^bits
	}
	return bits | signBit
}

func appendEscaped(dst, value []byte) []byte {
	for _, c := range value {
		switch c {
		case terminator:
			dst = append(dst, escape, escapedZero)
		case escape:
			dst = append(dst, escape, escapedOne)
		default:
			dst = append(dst, c)
		}
	}
	return append(dst, terminator)
}

func pad16(b []byte) []byte {
	if len(b) >= 16 {
		return b[:16]
	}
	padded := make([]byte, 16)
	copy(padded[16-len(b):], b)
	return padded
}

func appendPadded16(dst, b []byte) []byte {
	return append(dst, pad16(b)...)
}
