package expression

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/cuemby/burrow/pkg/types"
)

// The JSON grammar, matching the incumbent API surface:
//
//	{"$filter": {"a": 1, "b": {"$gte": 3}},
//	 "$order_by": [{"field_name": "a", "direction": "asc"}],
//	 "$limit": 50, "$skip": 0}
//
// A bare value is shorthand for {"$eq": value}; {"$and": [f, g, ...]}
// needs at least two branches.

type queryJSON struct {
	Filter  json.RawMessage `json:"$filter,omitempty"`
	OrderBy []sortJSON      `json:"$order_by,omitempty"`
	Limit   *int            `json:"$limit,omitempty"`
	Skip    *int            `json:"$skip,omitempty"`
}

type sortJSON struct {
	FieldName string `json:"field_name"`
	Direction string `json:"direction"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (q *QueryExpression) UnmarshalJSON(data []byte) error {
	var in queryJSON
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		return err
	}
	out := QueryExpression{Limit: DefaultLimit}
	if in.Limit != nil {
		out.Limit = *in.Limit
	}
	if in.Skip != nil {
		out.Skip = *in.Skip
	}
	for _, s := range in.OrderBy {
		dir, err := parseDirection(s.Direction)
		if err != nil {
			return err
		}
		if err := validateFieldName(s.FieldName); err != nil {
			return err
		}
		out.OrderBy = append(out.OrderBy, SortOption{FieldName: s.FieldName, Direction: dir})
	}
	if len(in.Filter) > 0 {
		filter, err := ParseFilter(in.Filter)
		if err != nil {
			return err
		}
		out.Filter = filter
	}
	*q = out
	return nil
}

// MarshalJSON implements json.Marshaler.
func (q QueryExpression) MarshalJSON() ([]byte, error) {
	out := queryJSON{Limit: &q.Limit, Skip: &q.Skip}
	for _, s := range q.OrderBy {
		out.OrderBy = append(out.OrderBy, sortJSON{FieldName: s.FieldName, Direction: s.Direction.String()})
	}
	if q.Filter != nil {
		raw, err := marshalFilter(q.Filter)
		if err != nil {
			return nil, err
		}
		out.Filter = raw
	}
	return json.Marshal(out)
}

// ParseFilter decodes a filter document.
func ParseFilter(data []byte) (FilterExpression, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("filter must be an object: %w", err)
	}
	if len(doc) == 0 {
		return nil, fmt.Errorf("filter must not be empty")
	}

	if raw, ok := doc["$and"]; ok {
		if len(doc) != 1 {
			return nil, fmt.Errorf("$and cannot be mixed with other filter keys")
		}
		var branches []json.RawMessage
		if err := json.Unmarshal(raw, &branches); err != nil {
			return nil, fmt.Errorf("$and expects an array: %w", err)
		}
		if len(branches) < 2 {
			return nil, fmt.Errorf("$and needs at least two branches")
		}
		and := And{}
		for _, b := range branches {
			f, err := ParseFilter(b)
			if err != nil {
				return nil, err
			}
			and.Filters = append(and.Filters, f)
		}
		return and, nil
	}

	var filters []FilterExpression
	for field, raw := range doc {
		if strings.HasPrefix(field, "$") {
			return nil, fmt.Errorf("unknown filter directive %q", field)
		}
		if err := validateFieldName(field); err != nil {
			return nil, err
		}
		simple, err := parseSimple(field, raw)
		if err != nil {
			return nil, err
		}
		filters = append(filters, simple)
	}
	if len(filters) == 1 {
		return filters[0], nil
	}
	// {"a": 1, "b": 2} is an implicit conjunction. Sort for determinism:
	// map iteration order must not leak into plans.
	sort.SliceStable(filters, func(i, j int) bool {
		return filters[i].(Simple).Field < filters[j].(Simple).Field
	})
	return And{Filters: filters}, nil
}

func parseSimple(field string, raw json.RawMessage) (Simple, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var ops map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &ops); err != nil {
			return Simple{}, err
		}
		if len(ops) != 1 {
			return Simple{}, fmt.Errorf("field %q: expected exactly one operator", field)
		}
		for tok, valueRaw := range ops {
			op, ok := parseOperator(tok)
			if !ok {
				return Simple{}, fmt.Errorf("field %q: unknown operator %q", field, tok)
			}
			value, err := parseLiteral(valueRaw)
			if err != nil {
				return Simple{}, fmt.Errorf("field %q: %w", field, err)
			}
			return Simple{Field: field, Op: op, Value: value}, nil
		}
	}
	value, err := parseLiteral(trimmed)
	if err != nil {
		return Simple{}, fmt.Errorf("field %q: %w", field, err)
	}
	return Simple{Field: field, Op: EQ, Value: value}, nil
}

// parseLiteral maps a JSON scalar onto a field value. Arrays and objects
// are not valid literals.
func parseLiteral(raw json.RawMessage) (types.Field, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return types.Field{}, err
	}
	switch val := v.(type) {
	case nil:
		return types.NullField(), nil
	case bool:
		return types.NewBoolean(val), nil
	case string:
		return types.NewString(val), nil
	case json.Number:
		s := val.String()
		if !strings.ContainsAny(s, ".eE") {
			i, err := val.Int64()
			if err == nil {
				return types.NewInt(i), nil
			}
		}
		f, err := val.Float64()
		if err != nil {
			return types.Field{}, fmt.Errorf("invalid number literal %q", s)
		}
		return types.NewFloat(f), nil
	default:
		return types.Field{}, fmt.Errorf("literal must be a scalar")
	}
}

func marshalFilter(f FilterExpression) (json.RawMessage, error) {
	switch expr := f.(type) {
	case Simple:
		value, err := marshalLiteral(expr.Value)
		if err != nil {
			return nil, err
		}
		inner, err := json.Marshal(map[string]json.RawMessage{expr.Op.String(): value})
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]json.RawMessage{expr.Field: inner})
	case And:
		branches := make([]json.RawMessage, len(expr.Filters))
		for i, sub := range expr.Filters {
			raw, err := marshalFilter(sub)
			if err != nil {
				return nil, err
			}
			branches[i] = raw
		}
		return json.Marshal(map[string][]json.RawMessage{"$and": branches})
	default:
		return nil, fmt.Errorf("unknown filter expression %T", f)
	}
}

func marshalLiteral(f types.Field) (json.RawMessage, error) {
	switch f.Type {
	case types.TypeNull:
		return json.RawMessage("null"), nil
	case types.TypeBoolean:
		return json.Marshal(f.BoolVal)
	case types.TypeInt:
		return json.Marshal(f.IntVal)
	case types.TypeUInt:
		return json.Marshal(f.UintVal)
	case types.TypeFloat:
		return json.Marshal(f.FloatVal)
	case types.TypeString, types.TypeText:
		return json.Marshal(f.StringVal)
	default:
		return json.Marshal(f.String())
	}
}

func parseDirection(s string) (types.SortDirection, error) {
	switch s {
	case "asc":
		return types.Ascending, nil
	case "desc":
		return types.Descending, nil
	default:
		return types.Ascending, fmt.Errorf("unknown sort direction %q", s)
	}
}

// validateFieldName enforces the grammar's identifier shape: a letter
// followed by letters, digits or underscores.
func validateFieldName(name string) error {
	if name == "" {
		return fmt.Errorf("empty field name")
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z':
		case i > 0 && (c >= '0' && c <= '9' || c == '_'):
		default:
			return fmt.Errorf("invalid field name %q", name)
		}
	}
	return nil
}

func sortSimpleFilters(filters []FilterExpression) {
	for i := 1; i < len(filters); i++ {
		for j := i; j > 0; j-- {
			a, aok := filters[j-1].(Simple)
			b, bok := filters[j].(Simple)
			if !aok || !bok || a.Field <= b.Field {
				break
			}
			filters[j-1], filters[j] = filters[j], filters[j-1]
		}
	}
}
