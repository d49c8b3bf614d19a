package types

import (
	"fmt"
	"time"
)

// FieldType enumerates the closed set of value types a field can hold.
type FieldType uint8

const (
	TypeNull FieldType = iota
	TypeUInt
	TypeU128
	TypeInt
	TypeI128
	TypeFloat
	TypeBoolean
	TypeString
	TypeText
	TypeBinary
	TypeDecimal
	TypeTimestamp
	TypeDate
	TypeJSON
	TypePoint
	TypeDuration
)

// String returns the canonical name of the type.
func (t FieldType) String() string {
	switch t {
	case TypeNull:
		return "null"
	case TypeUInt:
		return "uint"
	case TypeU128:
		return "u128"
	case TypeInt:
		return "int"
	case TypeI128:
		return "i128"
	case TypeFloat:
		return "float"
	case TypeBoolean:
		return "boolean"
	case TypeString:
		return "string"
	case TypeText:
		return "text"
	case TypeBinary:
		return "binary"
	case TypeDecimal:
		return "decimal"
	case TypeTimestamp:
		return "timestamp"
	case TypeDate:
		return "date"
	case TypeJSON:
		return "json"
	case TypePoint:
		return "point"
	case TypeDuration:
		return "duration"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// fieldTypeNames maps canonical names back to types, for persistence.
var fieldTypeNames = map[string]FieldType{
	"null": TypeNull, "uint": TypeUInt, "u128": TypeU128, "int": TypeInt,
	"i128": TypeI128, "float": TypeFloat, "boolean": TypeBoolean,
	"string": TypeString, "text": TypeText, "binary": TypeBinary,
	"decimal": TypeDecimal, "timestamp": TypeTimestamp, "date": TypeDate,
	"json": TypeJSON, "point": TypePoint, "duration": TypeDuration,
}

// ParseFieldType resolves a canonical type name.
func ParseFieldType(name string) (FieldType, error) {
	t, ok := fieldTypeNames[name]
	if !ok {
		return TypeNull, fmt.Errorf("unknown field type %q", name)
	}
	return t, nil
}

// Field is a tagged value. Exactly the payload slots relevant to Type are
// meaningful; all constructors keep the unused slots zero so that
// reflect.DeepEqual works on records.
type Field struct {
	Type FieldType

	UintVal   uint64
	IntVal    int64
	FloatVal  float64
	BoolVal   bool
	StringVal string // String, Text, Decimal (canonical form), JSON (raw document)
	BytesVal  []byte // Binary, U128, I128 (16 bytes big-endian)
	TimeVal   time.Time
	DaysVal   int32 // Date, days since the Unix epoch
	X, Y      float64
	DurVal    time.Duration
}

// NullField is the single null value.
func NullField() Field { return Field{Type: TypeNull} }

// NewUInt creates a UInt field.
func NewUInt(v uint64) Field { return Field{Type: TypeUInt, UintVal: v} }

// NewU128 creates a U128 field from 16 big-endian bytes.
func NewU128(v [16]byte) Field { return Field{Type: TypeU128, BytesVal: v[:]} }

// NewInt creates an Int field.
func NewInt(v int64) Field { return Field{Type: TypeInt, IntVal: v} }

// NewI128 creates an I128 field from 16 big-endian two's-complement bytes.
func NewI128(v [16]byte) Field { return Field{Type: TypeI128, BytesVal: v[:]} }

// NewFloat creates a Float field.
func NewFloat(v float64) Field { return Field{Type: TypeFloat, FloatVal: v} }

// NewBoolean creates a Boolean field.
func NewBoolean(v bool) Field { return Field{Type: TypeBoolean, BoolVal: v} }

// NewString creates a String field.
func NewString(v string) Field { return Field{Type: TypeString, StringVal: v} }

// NewText creates a Text field.
func NewText(v string) Field { return Field{Type: TypeText, StringVal: v} }

// NewBinary creates a Binary field.
func NewBinary(v []byte) Field { return Field{Type: TypeBinary, BytesVal: v} }

// NewDecimal creates a Decimal field from its canonical string form.
func NewDecimal(v string) Field { return Field{Type: TypeDecimal, StringVal: v} }

// NewTimestamp creates a Timestamp field. The value is stored in UTC.
func NewTimestamp(v time.Time) Field {
	return Field{Type: TypeTimestamp, TimeVal: v.UTC()}
}

// NewDate creates a Date field from days since the Unix epoch.
func NewDate(days int32) Field { return Field{Type: TypeDate, DaysVal: days} }

// NewJSON creates a JSON field holding a raw document.
func NewJSON(raw string) Field { return Field{Type: TypeJSON, StringVal: raw} }

// NewPoint creates a Point field.
func NewPoint(x, y float64) Field { return Field{Type: TypePoint, X: x, Y: y} }

// NewDuration creates a Duration field.
func NewDuration(v time.Duration) Field { return Field{Type: TypeDuration, DurVal: v} }

// IsNull reports whether the field holds the null value.
func (f Field) IsNull() bool { return f.Type == TypeNull }

// Equal reports value equality.
func (f Field) Equal(other Field) bool {
	if f.Type != other.Type {
		return false
	}
	switch f.Type {
	case TypeNull:
		return true
	case TypeUInt:
		return f.UintVal == other.UintVal
	case TypeInt:
		return f.IntVal == other.IntVal
	case TypeFloat:
		return f.FloatVal == other.FloatVal
	case TypeBoolean:
		return f.BoolVal == other.BoolVal
	case TypeString, TypeText, TypeDecimal, TypeJSON:
		return f.StringVal == other.StringVal
	case TypeBinary, TypeU128, TypeI128:
		return string(f.BytesVal) == string(other.BytesVal)
	case TypeTimestamp:
		return f.TimeVal.Equal(other.TimeVal)
	case TypeDate:
		return f.DaysVal == other.DaysVal
	case TypePoint:
		return f.X == other.X && f.Y == other.Y
	case TypeDuration:
		return f.DurVal == other.DurVal
	default:
		return false
	}
}

// String renders the field for diagnostics.
func (f Field) String() string {
	switch f.Type {
	case TypeNull:
		return "null"
	case TypeUInt:
		return fmt.Sprintf("%d", f.UintVal)
	case TypeInt:
		return fmt.Sprintf("%d", f.IntVal)
	case TypeFloat:
		return fmt.Sprintf("%g", f.FloatVal)
	case TypeBoolean:
		return fmt.Sprintf("%t", f.BoolVal)
	case TypeString, TypeText, TypeDecimal, TypeJSON:
		return f.StringVal
	case TypeBinary, TypeU128, TypeI128:
		return fmt.Sprintf("%x", f.BytesVal)
	case TypeTimestamp:
		return f.TimeVal.Format(time.RFC3339Nano)
	case TypeDate:
		return time.Unix(0, 0).UTC().AddDate(0, 0, int(f.DaysVal)).Format("2006-01-02")
	case TypePoint:
		return fmt.Sprintf("(%g,%g)", f.X, f.Y)
	case TypeDuration:
		return f.DurVal.String()
	default:
		return "?"
	}
}

// Lifetime marks a record for eviction once Reference+Duration has passed.
type Lifetime struct {
	Reference time.Time     `json:"reference"`
	Duration  time.Duration `json:"duration"`
}

// Deadline returns the instant at which the record expires.
func (l Lifetime) Deadline() time.Time { return l.Reference.Add(l.Duration) }

// Record is an ordered sequence of fields matching a schema.
type Record struct {
	Values   []Field   `json:"values"`
	Lifetime *Lifetime `json:"lifetime,omitempty"`
}

// NewRecord creates a record without a lifetime.
func NewRecord(values ...Field) Record { return Record{Values: values} }

// Equal reports field-wise equality; lifetimes are not part of identity.
func (r Record) Equal(other Record) bool {
	if len(r.Values) != len(other.Values) {
		return false
	}
	for i := range r.Values {
		if !r.Values[i].Equal(other.Values[i]) {
			return false
		}
	}
	return true
}

// RecordMeta is the per-internal-id bookkeeping stored by the main
// environment.
type RecordMeta struct {
	ID                uint64  `json:"id"`
	Version           uint32  `json:"version"`
	InsertOperationID uint64  `json:"insert_operation_id"`
	DeleteOperationID *uint64 `json:"delete_operation_id,omitempty"`
}

// Deleted reports whether the record has been logically deleted.
func (m RecordMeta) Deleted() bool { return m.DeleteOperationID != nil }

// RecordWithMeta pairs a record with its metadata, the unit returned by
// reads and queries.
type RecordWithMeta struct {
	Meta   RecordMeta
	Record Record
}
