package types

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// fieldJSON is the tagged wire form of a Field. Integers are carried as
// strings so 64-bit values survive the float64 round trip of encoding/json.
type fieldJSON struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (f Field) MarshalJSON() ([]byte, error) {
	out := fieldJSON{Type: f.Type.String()}
	var v interface{}
	switch f.Type {
	case TypeNull:
		return json.Marshal(out)
	case TypeUInt:
		v = strconv.FormatUint(f.UintVal, 10)
	case TypeInt:
		v = strconv.FormatInt(f.IntVal, 10)
	case TypeFloat:
		v = f.FloatVal
	case TypeBoolean:
		v = f.BoolVal
	case TypeString, TypeText, TypeDecimal, TypeJSON:
		v = f.StringVal
	case TypeBinary, TypeU128, TypeI128:
		v = base64.StdEncoding.EncodeToString(f.BytesVal)
	case TypeTimestamp:
		v = f.TimeVal.Format(time.RFC3339Nano)
	case TypeDate:
		v = f.DaysVal
	case TypePoint:
		v = [2]float64{f.X, f.Y}
	case TypeDuration:
		v = strconv.FormatInt(int64(f.DurVal), 10)
	default:
		return nil, fmt.Errorf("cannot marshal field type %s", f.Type)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out.Value = raw
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *Field) UnmarshalJSON(data []byte) error {
	var in fieldJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	t, err := ParseFieldType(in.Type)
	if err != nil {
		return err
	}
	*f = Field{Type: t}
	switch t {
	case TypeNull:
		return nil
	case TypeUInt:
		var s string
		if err := json.Unmarshal(in.Value, &s); err != nil {
			return err
		}
		f.UintVal, err = strconv.ParseUint(s, 10, 64)
		return err
	case TypeInt:
		var s string
		if err := json.Unmarshal(in.Value, &s); err != nil {
			return err
		}
		f.IntVal, err = strconv.ParseInt(s, 10, 64)
		return err
	case TypeFloat:
		return json.Unmarshal(in.Value, &f.FloatVal)
	case TypeBoolean:
		return json.Unmarshal(in.Value, &f.BoolVal)
	case TypeString, TypeText, TypeDecimal, TypeJSON:
		return json.Unmarshal(in.Value, &f.StringVal)
	case TypeBinary, TypeU128, TypeI128:
		var s string
		if err := json.Unmarshal(in.Value, &s); err != nil {
			return err
		}
		f.BytesVal, err = base64.StdEncoding.DecodeString(s)
		return err
	case TypeTimestamp:
		var s string
		if err := json.Unmarshal(in.Value, &s); err != nil {
			return err
		}
		f.TimeVal, err = time.Parse(time.RFC3339Nano, s)
		f.TimeVal = f.TimeVal.UTC()
		return err
	case TypeDate:
		return json.Unmarshal(in.Value, &f.DaysVal)
	case TypePoint:
		var xy [2]float64
		if err := json.Unmarshal(in.Value, &xy); err != nil {
			return err
		}
		f.X, f.Y = xy[0], xy[1]
		return nil
	case TypeDuration:
		var s string
		if err := json.Unmarshal(in.Value, &s); err != nil {
			return err
		}
		ns, err := strconv.ParseInt(s, 10, 64)
		f.DurVal = time.Duration(ns)
		return err
	default:
		return fmt.Errorf("cannot unmarshal field type %s", t)
	}
}

// MarshalJSON keeps the field type readable in persisted definitions.
func (t FieldType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON accepts canonical type names.
func (t *FieldType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseFieldType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
