package indexkey

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComposeExtractRoundTrip(t *testing.T) {
	prefix, err := EncodeValue(String("x@example.com"))
	require.NoError(t, err)

	pks := [][]byte{
		[]byte("A"),
		[]byte(""),
		make([]byte, 37), // arbitrary-length pk
	}
	for _, pk := range pks {
		composite := ComposeIndexEntry(prefix, pk)
		require.Equal(t, prefix, ExtractPrefix(composite))
		require.Equal(t, pk, ExtractPK(composite))
	}
}

func TestEncodeValueKinds(t *testing.T) {
	cases := []Value{
		Int64(-5),
		Uint64(5),
		Float64(3.14),
		Decimal(12.345, 2),
		String("hi"),
		Bytes([]byte{1, 2, 3}),
		Bool(true),
	}
	for _, v := range cases {
		b, err := EncodeValue(v)
		require.NoError(t, err)
		require.NotNil(t, b)
	}
}
