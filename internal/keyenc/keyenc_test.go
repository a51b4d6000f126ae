package keyenc

import (
	"bytes"
	"math"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestEncodeInt64Order(t *testing.T) {
	values := []int64{math.MinInt64, -1000, -1, 0, 1, 1000, math.MaxInt64}
	encoded := make([][]byte, len(values))
	for i, v := range values {
		encoded[i] = EncodeInt64(v)
	}
	for i := 1; i < len(encoded); i++ {
		require.True(t, Compare(encoded[i-1], encoded[i]) < 0)
		require.Equal(t, values[i-1], DecodeInt64(encoded[i-1]))
	}
}

func TestEncodeFloat64Order(t *testing.T) {
	values := []float64{-1e10, -1.5, -0.0001, 0, 0.0001, 1.5, 1e10}
	encoded := make([][]byte, len(values))
	for i, v := range values {
		encoded[i] = EncodeFloat64(v)
	}
	for i := 1; i < len(encoded); i++ {
		require.True(t, Compare(encoded[i-1], encoded[i]) < 0)
	}
	for _, v := range values {
		require.InDelta(t, v, DecodeFloat64(EncodeFloat64(v)), 1e-9)
	}
}

func TestEncodeDecimalOrder(t *testing.T) {
	values := []float64{-1.239, -1.231, -1.200, 1.230, 1.239, 12.000}
	type pair struct {
		v float64
		e []byte
	}
	pairs := make([]pair, len(values))
	for i, v := range values {
		pairs[i] = pair{v, EncodeDecimal(v, 2)}
	}
	sort.Slice(pairs, func(i, j int) bool { return Compare(pairs[i].e, pairs[j].e) < 0 })
	for i := 1; i < len(pairs); i++ {
		require.LessOrEqual(t, pairs[i-1].v, pairs[i].v)
	}
}

func TestEncodeStringOrder(t *testing.T) {
	a, b := EncodeString("apple"), EncodeString("banana")
	require.True(t, Compare(a, b) < 0)
}

func TestEncodeGUIDRoundTrip(t *testing.T) {
	id := uuid.New()
	enc := EncodeGUID(id)
	require.Len(t, enc, 16)
	dec, err := DecodeGUID(enc)
	require.NoError(t, err)
	require.Equal(t, id, dec)
}

func TestEncodeDateTimeOrder(t *testing.T) {
	t0 := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(10 * time.Minute)
	require.True(t, Compare(EncodeDateTime(t0), EncodeDateTime(t1)) < 0)
	require.True(t, Compare(EncodeDateTime(t0.Add(-time.Hour)), EncodeDateTime(t0)) < 0)
}

func TestPrefixUpperBound(t *testing.T) {
	p := []byte{0x01, 0x02}
	up := PrefixUpperBound(p)
	require.True(t, bytes.HasPrefix(append(append([]byte{}, p...), 0x00), p))
	require.True(t, Compare(p, up) < 0)
	require.True(t, Compare(append(append([]byte{}, p...), 0xFF), up) < 0)

	allFF := []byte{0xFF, 0xFF}
	require.Nil(t, PrefixUpperBound(allFF))

	trimmed := PrefixUpperBound([]byte{0x01, 0xFF})
	require.Equal(t, []byte{0x02}, trimmed)
}
