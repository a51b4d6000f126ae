// Package keyenc implements the order-preserving byte encoders WalnutDB
// uses for every sortable value, as free functions over []byte so the
// MemTable, segment, and index-key layers never need to know about Go
// types, only about lexically ordered bytes.
package keyenc

import (
	"encoding/binary"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
)

var errShortGUID = errors.New("keyenc: GUID encoding must be exactly 16 bytes")

// Compare orders two byte strings lexicographically, the same rule every
// layer above this package (MemTable, segment, index codec) relies on.
func Compare(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// EncodeInt64 produces an 8-byte big-endian encoding with the sign bit
// flipped, so that two's-complement negative numbers sort before positive
// ones under plain byte comparison.
func EncodeInt64(v int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v)^(1<<63))
	return buf
}

// DecodeInt64 is the inverse of EncodeInt64.
func DecodeInt64(b []byte) int64 {
	u := binary.BigEndian.Uint64(b)
	return int64(u ^ (1 << 63))
}

// EncodeUint64 is a plain big-endian encoding; unsigned integers are
// already order-preserving without a sign flip.
func EncodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

// DecodeUint64 is the inverse of EncodeUint64.
func DecodeUint64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

// EncodeFloat64 encodes an IEEE-754 double so that byte order matches
// numeric order: for non-negative floats it flips the sign bit, for
// negative floats it flips every bit (reversing their now-ascending bit
// pattern into the correct descending-to-ascending order under twos
// complement comparison).
func EncodeFloat64(v float64) []byte {
	bits := math.Float64bits(v)
	if bits&(1<<63) != 0 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, bits)
	return buf
}

// DecodeFloat64 is the inverse of EncodeFloat64.
func DecodeFloat64(b []byte) float64 {
	bits := binary.BigEndian.Uint64(b)
	if bits&(1<<63) != 0 {
		bits &^= 1 << 63
	} else {
		bits = ^bits
	}
	return math.Float64frombits(bits)
}

// EncodeDecimal truncates v to the given number of decimal places and
// encodes the resulting scaled integer with EncodeInt64. Truncation, not
// rounding: -1.239 at scale=2 becomes -123, not -124.
func EncodeDecimal(v float64, scale int) []byte {
	factor := math.Pow10(scale)
	scaled := v * factor
	var truncated int64
	if scaled >= 0 {
		truncated = int64(math.Floor(scaled))
	} else {
		truncated = int64(math.Ceil(scaled))
	}
	return EncodeInt64(truncated)
}

// DecodeDecimal is the inverse of EncodeDecimal, returning the scaled
// integer value (callers divide by 10^scale to recover the logical value).
func DecodeDecimal(b []byte) int64 {
	return DecodeInt64(b)
}

// EncodeString encodes a UTF-8 string as its raw bytes: UTF-8 byte order
// already matches Unicode code point order, so no transformation is
// required for lexical sort to match logical order.
func EncodeString(s string) []byte {
	return []byte(s)
}

// EncodeBytes is the identity encoding for raw byte keys.
func EncodeBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// EncodeGUID encodes a UUID as its 16-byte canonical big-endian
// representation, which already sorts consistently with RFC 4122 byte
// order.
func EncodeGUID(id uuid.UUID) []byte {
	out := make([]byte, 16)
	copy(out, id[:])
	return out
}

// DecodeGUID is the inverse of EncodeGUID.
func DecodeGUID(b []byte) (uuid.UUID, error) {
	var id uuid.UUID
	if len(b) != 16 {
		return id, errShortGUID
	}
	copy(id[:], b)
	return id, nil
}

// Ticks converts a time.Time to the nanosecond tick count used by
// EncodeDateTime/DecodeDateTime.
func Ticks(t time.Time) int64 {
	return t.UnixNano()
}

// EncodeDateTime encodes a timestamp as sign-flipped big-endian ticks
// (nanoseconds since the Unix epoch), using the same encoding as
// EncodeInt64 so that chronological order matches byte order including
// timestamps before 1970.
func EncodeDateTime(t time.Time) []byte {
	return EncodeInt64(Ticks(t))
}

// DecodeDateTime is the inverse of EncodeDateTime.
func DecodeDateTime(b []byte) time.Time {
	return time.Unix(0, DecodeInt64(b)).UTC()
}

// PrefixUpperBound returns the least byte string that is strictly greater
// than every string having p as a prefix, or nil if no such finite bound
// exists (p consists entirely of 0xFF bytes, or is empty); callers must
// treat a nil result as unbounded above.
func PrefixUpperBound(p []byte) []byte {
	out := make([]byte, len(p))
	copy(out, p)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] != 0xFF {
			out[i]++
			return out[:i+1]
		}
	}
	return nil
}
