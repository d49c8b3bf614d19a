package types

import (
	"fmt"
	"time"
)

// CoerceField converts a query literal to the target column type. Literals
// arrive as Int, Float, String, Boolean or Null; columns may be any type.
// Conversions that cannot represent the literal fail.
func CoerceField(v Field, target FieldType) (Field, error) {
	if v.Type == TypeNull || v.Type == target {
		return v, nil
	}
	switch target {
	case TypeUInt:
		if v.Type == TypeInt {
			if v.IntVal < 0 {
				return Field{}, coerceErr(v, target)
			}
			return NewUInt(uint64(v.IntVal)), nil
		}
	case TypeFloat:
		if v.Type == TypeInt {
			return NewFloat(float64(v.IntVal)), nil
		}
	case TypeInt:
		if v.Type == TypeFloat && v.FloatVal == float64(int64(v.FloatVal)) {
			return NewInt(int64(v.FloatVal)), nil
		}
	case TypeText:
		if v.Type == TypeString {
			return NewText(v.StringVal), nil
		}
	case TypeDecimal:
		if v.Type == TypeString {
			return NewDecimal(v.StringVal), nil
		}
	case TypeJSON:
		if v.Type == TypeString {
			return NewJSON(v.StringVal), nil
		}
	case TypeTimestamp:
		if v.Type == TypeString {
			t, err := time.Parse(time.RFC3339Nano, v.StringVal)
			if err != nil {
				return Field{}, coerceErr(v, target)
			}
			return NewTimestamp(t), nil
		}
	case TypeDate:
		if v.Type == TypeString {
			t, err := time.Parse("2006-01-02", v.StringVal)
			if err != nil {
				return Field{}, coerceErr(v, target)
			}
			return NewDate(int32(t.Unix() / 86400)), nil
		}
	case TypeDuration:
		if v.Type == TypeInt {
			return NewDuration(time.Duration(v.IntVal)), nil
		}
		if v.Type == TypeString {
			d, err := time.ParseDuration(v.StringVal)
			if err != nil {
				return Field{}, coerceErr(v, target)
			}
			return NewDuration(d), nil
		}
	}
	return Field{}, coerceErr(v, target)
}

func coerceErr(v Field, target FieldType) error {
	return fmt.Errorf("value %s (%s) is incompatible with field type %s", v, v.Type, target)
}
