package plan

import (
	"sort"

	"github.com/cuemby/burrow/pkg/expression"
	"github.com/cuemby/burrow/pkg/types"
)

// atom is the per-position summary of all constraints touching one field.
type atom struct {
	pos      int
	eq       *types.Field
	rng      *RangeBound
	contains *string
	sorted   bool
	sortDir  types.SortDirection
}

// Build converts a query against a schema and its declared indexes into an
// executable plan: an IndexScan over the one index covering the query's
// key shape, or a SeqScan when no constraints survive.
func Build(schema types.Schema, indexes []types.IndexDefinition, query expression.QueryExpression) (*Plan, error) {
	atoms := make(map[int]*atom)
	at := func(pos int) *atom {
		a, ok := atoms[pos]
		if !ok {
			a = &atom{pos: pos}
			atoms[pos] = a
		}
		return a
	}

	// order_by entries become synthetic direction atoms.
	var orderSeq []int
	for i, s := range query.OrderBy {
		pos, ok := schema.FieldIndex(s.FieldName)
		if !ok {
			return nil, FieldNotFoundError{Name: s.FieldName}
		}
		a := at(pos)
		if !a.sorted {
			a.sorted = true
			a.sortDir = s.Direction
			orderSeq = append(orderSeq, pos)
		}
		if i > 0 && s.Direction != query.OrderBy[0].Direction {
			return nil, UnsupportedQueryError{Reason: "mixed sort directions"}
		}
	}

	if query.Filter != nil {
		if err := flattenFilter(schema, query.Filter, at); err != nil {
			return nil, err
		}
	}

	if len(atoms) == 0 {
		return &Plan{
			Kind:      SeqScan,
			Direction: types.Ascending,
			Limit:     query.Limit,
			Skip:      query.Skip,
		}, nil
	}

	direction := types.Ascending
	if len(query.OrderBy) > 0 {
		direction = query.OrderBy[0].Direction
	}

	// Classify.
	var rangePos = -1
	var containsPos = -1
	for pos, a := range atoms {
		if a.rng != nil {
			if rangePos >= 0 {
				return nil, UnsupportedQueryError{Reason: "more than one range field"}
			}
			rangePos = pos
		}
		if a.contains != nil {
			if containsPos >= 0 {
				return nil, UnsupportedQueryError{Reason: "more than one full-text field"}
			}
			containsPos = pos
		}
	}

	if containsPos >= 0 {
		return buildFullText(schema, indexes, query, atoms, containsPos)
	}
	return buildSortedInverted(schema, indexes, query, atoms, orderSeq, rangePos, direction)
}

// flattenFilter walks the And-nested filter into per-position atoms.
func flattenFilter(schema types.Schema, filter expression.FilterExpression, at func(int) *atom) error {
	switch f := filter.(type) {
	case expression.And:
		for _, sub := range f.Filters {
			if err := flattenFilter(schema, sub, at); err != nil {
				return err
			}
		}
		return nil
	case expression.Simple:
		pos, ok := schema.FieldIndex(f.Field)
		if !ok {
			return FieldNotFoundError{Name: f.Field}
		}
		def := schema.Fields[pos]
		a := at(pos)
		switch f.Op {
		case expression.EQ:
			value, err := types.CoerceField(f.Value, def.Type)
			if err != nil {
				return TypeMismatchError{Field: f.Field, Err: err}
			}
			a.eq = &value
		case expression.LT, expression.LTE, expression.GT, expression.GTE:
			if f.Value.IsNull() {
				return UnsupportedQueryError{Reason: "range comparison against null"}
			}
			value, err := types.CoerceField(f.Value, def.Type)
			if err != nil {
				return TypeMismatchError{Field: f.Field, Err: err}
			}
			a.rng = &RangeBound{Op: f.Op, Value: value}
		case expression.Contains:
			if def.Type != types.TypeString && def.Type != types.TypeText {
				return TypeMismatchError{Field: f.Field, Err: UnsupportedQueryError{Reason: "$contains on non-text field"}}
			}
			if f.Value.Type != types.TypeString && f.Value.Type != types.TypeText {
				return TypeMismatchError{Field: f.Field, Err: UnsupportedQueryError{Reason: "$contains needle must be a string"}}
			}
			needle := f.Value.StringVal
			a.contains = &needle
		default:
			return UnsupportedQueryError{Reason: f.Op.String() + " is not supported"}
		}
		return nil
	default:
		return UnsupportedQueryError{Reason: "unknown filter expression"}
	}
}

// buildFullText plans a Contains query: the full-text index takes the
// needle, every other atom is re-checked against fetched records, and any
// order_by is satisfied by a buffered sort.
func buildFullText(schema types.Schema, indexes []types.IndexDefinition, query expression.QueryExpression, atoms map[int]*atom, containsPos int) (*Plan, error) {
	indexPos := -1
	for i, def := range indexes {
		if def.Kind == types.IndexFullText && def.Fields[0] == containsPos {
			indexPos = i
			break
		}
	}
	if indexPos < 0 {
		return nil, MissingCompoundIndexError{Fields: []string{schema.Fields[containsPos].Name}}
	}

	p := &Plan{
		Kind:      IndexScan,
		Direction: types.Ascending,
		Limit:     query.Limit,
		Skip:      query.Skip,
		Index:     indexes[indexPos],
		IndexPos:  indexPos,
		Needle:    *atoms[containsPos].contains,
	}
	for pos, a := range atoms {
		if a.eq != nil {
			p.Residuals = append(p.Residuals, Residual{Position: pos, Op: expression.EQ, Value: *a.eq})
		}
		if a.rng != nil {
			p.Residuals = append(p.Residuals, Residual{Position: pos, Op: a.rng.Op, Value: a.rng.Value})
		}
	}
	sort.Slice(p.Residuals, func(i, j int) bool {
		return p.Residuals[i].Position < p.Residuals[j].Position
	})
	for _, s := range query.OrderBy {
		pos, _ := schema.FieldIndex(s.FieldName)
		p.SortKeys = append(p.SortKeys, SortKey{Position: pos, Direction: s.Direction})
	}
	return p, nil
}

// buildSortedInverted picks the sorted-inverted index whose key prefix
// covers every atom: equality atoms first (in index order), then the
// range atom, then the pure sort fields in order_by order. Extra trailing
// index fields are allowed; the first covering candidate in declaration
// order wins.
func buildSortedInverted(schema types.Schema, indexes []types.IndexDefinition, query expression.QueryExpression, atoms map[int]*atom, orderSeq []int, rangePos int, direction types.SortDirection) (*Plan, error) {
	// Pure sort fields: ordered, no equality or range constraint.
	var sortOnly []int
	for _, pos := range orderSeq {
		a := atoms[pos]
		if a.eq == nil && a.rng == nil {
			sortOnly = append(sortOnly, pos)
		}
	}
	// A range constraint combined with ordering on a different leading
	// field has no index shape.
	if rangePos >= 0 && len(orderSeq) > 0 && orderSeq[0] != rangePos && atoms[orderSeq[0]].eq == nil {
		return nil, UnsupportedQueryError{Reason: "order_by must lead with the range field"}
	}

	best := -1
	bestEq := 0
	for i, def := range indexes {
		if def.Kind != types.IndexSortedInverted {
			continue
		}
		eqCount, _, ok := cover(def.Fields, atoms, rangePos, sortOnly)
		if !ok {
			continue
		}
		best, bestEq = i, eqCount
		break
	}
	if best < 0 {
		names := make([]string, 0, len(atoms))
		for pos := range atoms {
			names = append(names, schema.Fields[pos].Name)
		}
		sort.Strings(names)
		return nil, MissingCompoundIndexError{Fields: names}
	}

	def := indexes[best]
	p := &Plan{
		Kind:      IndexScan,
		Direction: direction,
		Limit:     query.Limit,
		Skip:      query.Skip,
		Index:     def,
		IndexPos:  best,
	}
	for _, pos := range def.Fields[:bestEq] {
		p.EqFields = append(p.EqFields, *atoms[pos].eq)
	}
	if rangePos >= 0 {
		p.Range = atoms[rangePos].rng
	}
	return p, nil
}

// cover checks whether index fields cover all atoms in the required
// shape. Returns the equality-prefix length and the number of unused
// trailing fields.
func cover(fields []int, atoms map[int]*atom, rangePos int, sortOnly []int) (eqCount, extras int, ok bool) {
	covered := make(map[int]bool, len(atoms))
	i := 0
	for i < len(fields) {
		a := atoms[fields[i]]
		if a == nil || a.eq == nil || covered[fields[i]] {
			break
		}
		covered[fields[i]] = true
		i++
	}
	eqCount = i
	if rangePos >= 0 {
		if i >= len(fields) || fields[i] != rangePos {
			return 0, 0, false
		}
		covered[rangePos] = true
		i++
	}
	for _, pos := range sortOnly {
		if covered[pos] {
			continue
		}
		if i >= len(fields) || fields[i] != pos {
			return 0, 0, false
		}
		covered[pos] = true
		i++
	}
	for pos := range atoms {
		if !covered[pos] {
			return 0, 0, false
		}
	}
	return eqCount, len(fields) - i, true
}
