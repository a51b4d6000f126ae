// Package indexkey implements the composite index key codec: EncodeValue,
// ComposeIndexEntry, ExtractPrefix and ExtractPK. It sits directly on top
// of internal/keyenc, with a self-delimiting composite layout so that
// primary keys of any length can be recovered from a composite key.
package indexkey

import (
	"encoding/binary"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/bobboyms/walnutdb/internal/keyenc"
)

// Kind identifies the logical type of an indexed value.
type Kind int

const (
	KindInt64 Kind = iota
	KindUint64
	KindFloat64
	KindDecimal
	KindString
	KindBytes
	KindBool
	KindGUID
	KindDateTime
)

func (k Kind) String() string {
	switch k {
	case KindInt64:
		return "int64"
	case KindUint64:
		return "uint64"
	case KindFloat64:
		return "float64"
	case KindDecimal:
		return "decimal"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindBool:
		return "bool"
	case KindGUID:
		return "guid"
	case KindDateTime:
		return "datetime"
	default:
		return "unknown"
	}
}

var ErrUnsupportedKind = errors.New("indexkey: unsupported value kind")
var ErrTypeMismatch = errors.New("indexkey: value does not match declared kind")

// Value is a typed indexed value: exactly one field is meaningful,
// selected by Kind. Callers build one through the typed constructors below
// rather than populating fields directly.
type Value struct {
	Kind    Kind
	Scale   int // only meaningful when Kind == KindDecimal
	Int64   int64
	Uint64  uint64
	Float64 float64
	String  string
	Bytes   []byte
	Bool    bool
	GUID    uuid.UUID
	Time    time.Time
}

func Int64(v int64) Value                { return Value{Kind: KindInt64, Int64: v} }
func Uint64(v uint64) Value              { return Value{Kind: KindUint64, Uint64: v} }
func Float64(v float64) Value            { return Value{Kind: KindFloat64, Float64: v} }
func Decimal(v float64, scale int) Value { return Value{Kind: KindDecimal, Float64: v, Scale: scale} }
func String(v string) Value              { return Value{Kind: KindString, String: v} }
func Bytes(v []byte) Value               { return Value{Kind: KindBytes, Bytes: v} }
func Bool(v bool) Value                  { return Value{Kind: KindBool, Bool: v} }
func GUID(v uuid.UUID) Value             { return Value{Kind: KindGUID, GUID: v} }
func DateTime(v time.Time) Value         { return Value{Kind: KindDateTime, Time: v} }

// EncodeValue produces the order-preserving byte prefix for v.
func EncodeValue(v Value) ([]byte, error) {
	switch v.Kind {
	case KindInt64:
		return keyenc.EncodeInt64(v.Int64), nil
	case KindUint64:
		return keyenc.EncodeUint64(v.Uint64), nil
	case KindFloat64:
		return keyenc.EncodeFloat64(v.Float64), nil
	case KindDecimal:
		return keyenc.EncodeDecimal(v.Float64, v.Scale), nil
	case KindString:
		return keyenc.EncodeString(v.String), nil
	case KindBytes:
		return keyenc.EncodeBytes(v.Bytes), nil
	case KindBool:
		if v.Bool {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case KindGUID:
		return keyenc.EncodeGUID(v.GUID), nil
	case KindDateTime:
		return keyenc.EncodeDateTime(v.Time), nil
	default:
		return nil, ErrUnsupportedKind
	}
}

// ComposeIndexEntry concatenates the value prefix with the owning primary
// key and a trailing pk length, so that ExtractPrefix/ExtractPK can recover
// both pieces regardless of pk length:
//
//	composite := prefix | pk | pk_len:u32
//
// The length marker trails the composite rather than leading it on purpose:
// a leading length would sort composites by prefix *length* before prefix
// *content*, which breaks ascending/descending index scans across
// differently-sized values of a variable-length kind (string, bytes) even
// though every fixed-width kind would have tolerated it. Putting pk_len
// last keeps the composite's leading bytes byte-identical to prefix, so
// keyenc.Compare on composites agrees with keyenc.Compare on prefixes,
// except when one prefix is a proper prefix of the other (possible only
// for variable-length kinds), where the pk bytes decide the order.
func ComposeIndexEntry(prefix, pk []byte) []byte {
	out := make([]byte, len(prefix)+len(pk)+4)
	copy(out, prefix)
	copy(out[len(prefix):], pk)
	binary.BigEndian.PutUint32(out[len(prefix)+len(pk):], uint32(len(pk)))
	return out
}

// ExtractPrefix recovers the value prefix from a composite index key.
func ExtractPrefix(composite []byte) []byte {
	n, ok := trailingPKLen(composite)
	if !ok {
		return nil
	}
	return composite[:len(composite)-4-int(n)]
}

// ExtractPK recovers the owning primary key from a composite index key.
func ExtractPK(composite []byte) []byte {
	n, ok := trailingPKLen(composite)
	if !ok {
		return nil
	}
	return composite[len(composite)-4-int(n) : len(composite)-4]
}

func trailingPKLen(composite []byte) (uint32, bool) {
	if len(composite) < 4 {
		return 0, false
	}
	n := binary.BigEndian.Uint32(composite[len(composite)-4:])
	if int(n) > len(composite)-4 {
		return 0, false
	}
	return n, true
}
