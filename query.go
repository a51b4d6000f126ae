package walnutdb

// IndexHint steers Query/GetFirst toward a named index's composite range
// instead of a full table scan. Start/End bound the index's value prefix,
// not the raw composite key; callers never construct composite keys
// themselves.
type IndexHint struct {
	Index      string
	Start, End []byte
	Asc        bool
	Skip, Take int
}

// Query returns every row matching pred. Without a hint it performs a
// full table scan. With a hint, it walks the named index's composite
// range in the requested order, resolving each live, non-stale composite
// to its current row via the merged view with its staleness filter,
// applying skip/take after pred so paging composes with filtering the way
// a caller expects from a single predicate-and-window call.
func (t *Table) Query(pred func(row []byte) bool, hint *IndexHint) ([][]byte, error) {
	if hint == nil {
		var out [][]byte
		err := t.Scan(nil, nil, nil, func(_, value []byte) bool {
			if pred == nil || pred(value) {
				out = append(out, value)
			}
			return true
		})
		return out, err
	}

	if _, ok := t.idx[hint.Index]; !ok {
		return nil, indexNotFoundError(t.name, hint.Index)
	}

	take := hint.Take
	if take <= 0 {
		take = -1
	}

	if hint.Asc {
		var rows [][]byte
		skipped := 0
		err := t.IndexScan(hint.Index, hint.Start, hint.End, nil, func(_, row []byte) bool {
			if pred != nil && !pred(row) {
				return true
			}
			if skipped < hint.Skip {
				skipped++
				return true
			}
			rows = append(rows, row)
			return take < 0 || len(rows) < take
		})
		return rows, err
	}

	// Descending mode buffers at most skip+take matching items and
	// reverses them, rather than materializing the whole range.
	limit := -1
	if take >= 0 {
		limit = hint.Skip + take
	}
	var buf [][]byte
	err := t.IndexScan(hint.Index, hint.Start, hint.End, nil, func(_, row []byte) bool {
		if pred != nil && !pred(row) {
			return true
		}
		buf = append(buf, row)
		if limit >= 0 && len(buf) > limit {
			buf = buf[1:]
		}
		return true
	})
	if err != nil {
		return nil, err
	}

	var rows [][]byte
	for i := len(buf) - 1 - hint.Skip; i >= 0; i-- {
		rows = append(rows, buf[i])
		if take >= 0 && len(rows) >= take {
			break
		}
	}
	return rows, nil
}

// GetFirst returns the first live row in ascending key (or hint-described)
// order, or ok=false if none match. Without a hint, it returns the first
// row of a plain table scan.
func (t *Table) GetFirst(hint *IndexHint) ([]byte, bool, error) {
	if hint == nil {
		var row []byte
		found := false
		err := t.Scan(nil, nil, nil, func(_, value []byte) bool {
			row = value
			found = true
			return false
		})
		return row, found, err
	}

	h := *hint
	h.Take = 1
	rows, err := t.Query(nil, &h)
	if err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	return rows[0], true, nil
}
