package cache

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/cuemby/burrow/pkg/encoding"
	"github.com/cuemby/burrow/pkg/expression"
	"github.com/cuemby/burrow/pkg/plan"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
)

// executor runs one plan under a single pair of snapshots: a read
// transaction on the main environment and, for index scans, one on the
// chosen secondary environment, both taken together by the cache. The
// secondary may lag the main snapshot; every candidate id is re-checked
// against the main record and dangling ids are dropped.
type executor struct {
	main      *MainEnvironment
	mainTxn   *storage.Txn
	secondary *SecondaryEnvironment
	secTxn    *storage.Txn
	chunk     int
}

// collector accumulates results honoring skip and limit. limit <= 0
// means unbounded.
type collector struct {
	skip  int
	limit int
	out   []types.RecordWithMeta
}

// add records one match; returns false once the limit is reached.
func (c *collector) add(rm types.RecordWithMeta) bool {
	if c.skip > 0 {
		c.skip--
		return true
	}
	c.out = append(c.out, rm)
	return c.limit <= 0 || len(c.out) < c.limit
}

func (e *executor) run(p *plan.Plan) ([]types.RecordWithMeta, error) {
	switch {
	case p.Kind == plan.SeqScan:
		return e.seqScan(p)
	case p.Index.Kind == types.IndexFullText:
		return e.fullTextScan(p)
	default:
		return e.sortedInvertedScan(p)
	}
}

// seqScan enumerates live records in ascending internal id order.
func (e *executor) seqScan(p *plan.Plan) ([]types.RecordWithMeta, error) {
	col := collector{skip: p.Skip, limit: p.Limit}
	c := e.main.records.Cursor(e.mainTxn)
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		id := encoding.DecodeUint64(k)
		rm, ok, err := e.main.GetByID(e.mainTxn, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if !col.add(rm) {
			break
		}
	}
	return col.out, nil
}

// sortedInvertedScan walks the index between the bounds derived from the
// equality prefix and the optional range atom. The index's natural order
// already satisfies order_by, so no in-memory sort happens.
func (e *executor) sortedInvertedScan(p *plan.Plan) ([]types.RecordWithMeta, error) {
	prefix := encoding.FieldsKey(p.EqFields)
	lower := prefix
	upper := prefixSuccessor(prefix)
	if p.Range != nil {
		bound := encoding.EncodeField(append([]byte{}, prefix...), p.Range.Value)
		switch p.Range.Op {
		case expression.GTE:
			lower = bound
		case expression.GT:
			lower = prefixSuccessor(bound)
		case expression.LTE:
			upper = prefixSuccessor(bound)
		case expression.LT:
			upper = bound
		}
	}

	col := collector{skip: p.Skip, limit: p.Limit}
	c := e.secondary.database.Cursor(e.secTxn)
	emit := func(entry []byte) (bool, error) {
		indexKey, id, ok := storage.SplitEntry(entry)
		if !ok {
			return false, fmt.Errorf("%w: malformed index entry", ErrInternal)
		}
		rm, live, err := e.main.GetByID(e.mainTxn, id)
		if err != nil {
			return false, err
		}
		if !live {
			return true, nil
		}
		// The index snapshot may predate a rewrite of this id; keep the
		// entry only if the record still derives this key.
		if !bytes.Equal(encoding.CompositeKey(rm.Record, p.Index.Fields), indexKey) {
			return true, nil
		}
		return col.add(rm), nil
	}

	if p.Direction == types.Descending {
		k, _ := e.seekLast(c, upper)
		for ; k != nil && bytes.Compare(k, lower) >= 0; k, _ = c.Prev() {
			cont, err := emit(k)
			if err != nil {
				return nil, err
			}
			if !cont {
				break
			}
		}
		return col.out, nil
	}

	for k, _ := c.Seek(lower); k != nil && (upper == nil || bytes.Compare(k, upper) < 0); k, _ = c.Next() {
		cont, err := emit(k)
		if err != nil {
			return nil, err
		}
		if !cont {
			break
		}
	}
	return col.out, nil
}

// seekLast positions the cursor on the greatest key below the exclusive
// upper bound (nil bound means the end of the database).
func (e *executor) seekLast(c *storage.Cursor, upper []byte) ([]byte, []byte) {
	if upper == nil {
		return c.Last()
	}
	if k, _ := c.Seek(upper); k == nil {
		return c.Last()
	}
	return c.Prev()
}

// fullTextScan intersects the posting lists of the needle's tokens,
// rarest first, in chunks of the configured intersection size. Residual
// predicates cover whatever the filter asked beyond the needle; order_by
// is served by a buffered sort since token postings have no useful
// natural order.
func (e *executor) fullTextScan(p *plan.Plan) ([]types.RecordWithMeta, error) {
	tokens := encoding.Tokenize(p.Needle)
	if len(tokens) == 0 {
		return nil, nil
	}

	type posting struct {
		token string
		count uint64
	}
	postings := make([]posting, len(tokens))
	for i, tok := range tokens {
		n, err := e.secondary.database.CountValues(e.secTxn, []byte(tok))
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, nil
		}
		postings[i] = posting{token: tok, count: n}
	}
	sort.Slice(postings, func(i, j int) bool { return postings[i].count < postings[j].count })

	candidates, err := e.secondary.database.Values(e.secTxn, []byte(postings[0].token))
	if err != nil {
		return nil, err
	}

	buffered := len(p.SortKeys) > 0
	col := collector{skip: p.Skip, limit: p.Limit}
	if buffered {
		col = collector{} // sort first, then skip/limit
	}

	chunk := e.chunk
	if chunk <= 0 {
		chunk = len(candidates)
	}
scan:
	for start := 0; start < len(candidates); start += chunk {
		end := start + chunk
		if end > len(candidates) {
			end = len(candidates)
		}
		for _, id := range candidates[start:end] {
			member := true
			for _, pst := range postings[1:] {
				ok, err := e.secondary.database.Contains(e.secTxn, []byte(pst.token), id)
				if err != nil {
					return nil, err
				}
				if !ok {
					member = false
					break
				}
			}
			if !member {
				continue
			}
			rm, live, err := e.main.GetByID(e.mainTxn, id)
			if err != nil {
				return nil, err
			}
			if !live {
				continue
			}
			if !recordHasTokens(rm.Record, p.Index.Fields[0], tokens) {
				continue
			}
			if !matchesResiduals(rm.Record, p.Residuals) {
				continue
			}
			if !col.add(rm) {
				break scan
			}
		}
	}

	if !buffered {
		return col.out, nil
	}
	results := col.out
	sort.SliceStable(results, func(i, j int) bool {
		for _, key := range p.SortKeys {
			cmp := encoding.CompareFields(results[i].Record.Values[key.Position], results[j].Record.Values[key.Position])
			if cmp == 0 {
				continue
			}
			if key.Direction == types.Descending {
				return cmp > 0
			}
			return cmp < 0
		}
		return results[i].Meta.ID < results[j].Meta.ID
	})
	if p.Skip > 0 {
		if p.Skip >= len(results) {
			return nil, nil
		}
		results = results[p.Skip:]
	}
	if p.Limit > 0 && len(results) > p.Limit {
		results = results[:p.Limit]
	}
	return results, nil
}

// recordHasTokens re-checks the candidate against the main snapshot: the
// index may lag a rewrite of this id.
func recordHasTokens(record types.Record, position int, tokens []string) bool {
	value := record.Values[position]
	if value.IsNull() {
		return false
	}
	present := make(map[string]struct{})
	for _, tok := range encoding.Tokenize(value.StringVal) {
		present[tok] = struct{}{}
	}
	for _, tok := range tokens {
		if _, ok := present[tok]; !ok {
			return false
		}
	}
	return true
}

func matchesResiduals(record types.Record, residuals []plan.Residual) bool {
	for _, r := range residuals {
		value := record.Values[r.Position]
		if value.IsNull() != r.Value.IsNull() {
			return false
		}
		cmp := encoding.CompareFields(value, r.Value)
		switch r.Op {
		case expression.EQ:
			if cmp != 0 {
				return false
			}
		case expression.LT:
			if cmp >= 0 {
				return false
			}
		case expression.LTE:
			if cmp > 0 {
				return false
			}
		case expression.GT:
			if cmp <= 0 {
				return false
			}
		case expression.GTE:
			if cmp < 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// prefixSuccessor returns the smallest key greater than every key with
// the given prefix, or nil when no such bound exists.
func prefixSuccessor(prefix []byte) []byte {
	for i := len(prefix) - 1; i >= 0; i-- {
		if prefix[i] != 0xFF {
			out := make([]byte, i+1)
			copy(out, prefix[:i+1])
			out[i]++
			return out
		}
	}
	return nil
}
