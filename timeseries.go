package walnutdb

import (
	"time"

	"github.com/bobboyms/walnutdb/internal/keyenc"
)

// tsKey composes a time-series row key: the series id as raw UTF-8
// bytes, followed by keyenc's fixed 8-byte sign-flipped tick encoding.
// Ticks is fixed-width, so decoding never needs a length prefix: the last
// 8 bytes are always the timestamp.
func tsKey(seriesID string, ts time.Time) []byte {
	prefix := keyenc.EncodeString(seriesID)
	out := make([]byte, len(prefix)+8)
	copy(out, prefix)
	copy(out[len(prefix):], keyenc.EncodeDateTime(ts))
	return out
}

// tsSeriesBounds returns the [from, to) range covering every point of
// seriesID regardless of timestamp.
func tsSeriesBounds(seriesID string) (from, to []byte) {
	prefix := keyenc.EncodeString(seriesID)
	from = append(append([]byte(nil), prefix...), make([]byte, 8)...)
	to = keyenc.PrefixUpperBound(prefix)
	return from, to
}

// AppendSeries writes one time-series point under (seriesID, ts) as its
// own committed transaction.
func (t *Table) AppendSeries(seriesID string, ts time.Time, value []byte) error {
	key := tsKey(seriesID, ts)
	tx := t.engine.Begin()
	if err := tx.AddPut(t.name, key, value); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit(t.engine.opts.Durability)
}

// QuerySeries returns every point for seriesID with ts in [from, to), in
// chronological order.
func (t *Table) QuerySeries(seriesID string, from, to time.Time) ([][]byte, error) {
	_, seriesUpper := tsSeriesBounds(seriesID)
	lo := tsKey(seriesID, from)
	hi := tsKey(seriesID, to)
	if seriesUpper != nil && keyenc.Compare(hi, seriesUpper) > 0 {
		hi = seriesUpper
	}

	keyLen := len(lo)
	var out [][]byte
	err := t.Scan(lo, hi, nil, func(key, value []byte) bool {
		if len(key) != keyLen {
			return true // a longer series id that starts with seriesID
		}
		out = append(out, value)
		return true
	})
	return out, err
}

// TailSeries returns the last n points for seriesID, most recent first.
func (t *Table) TailSeries(seriesID string, n int) ([][]byte, error) {
	from, to := tsSeriesBounds(seriesID)

	var buf [][]byte
	err := t.Scan(from, to, nil, func(key, value []byte) bool {
		if len(key) != len(from) {
			return true // a longer series id that starts with seriesID
		}
		buf = append(buf, value)
		if n > 0 && len(buf) > n {
			buf = buf[1:]
		}
		return true
	})
	if err != nil {
		return nil, err
	}

	out := make([][]byte, len(buf))
	for i, v := range buf {
		out[len(buf)-1-i] = v
	}
	return out, nil
}
