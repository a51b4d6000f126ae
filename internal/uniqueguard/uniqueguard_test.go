package uniqueguard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReserveAndIsOwner(t *testing.T) {
	r := New()
	err := r.TryReserve("by_email", []byte("a@x.com"), "pk-1", time.Millisecond, nil)
	require.NoError(t, err)
	require.True(t, r.IsOwner("by_email", []byte("a@x.com"), "pk-1"))
}

func TestReserveConflictTimesOut(t *testing.T) {
	r := New()
	require.NoError(t, r.TryReserve("by_email", []byte("a@x.com"), "pk-1", time.Millisecond, nil))

	err := r.TryReserve("by_email", []byte("a@x.com"), "pk-2", 5*time.Millisecond, func(stillOwned bool, ownerPK string) bool {
		return true // owner is still valid, never reclaim
	})
	require.Error(t, err)
}

func TestReserveReclaimsStaleOwner(t *testing.T) {
	r := New()
	require.NoError(t, r.TryReserve("by_email", []byte("a@x.com"), "pk-1", time.Millisecond, nil))

	calls := 0
	err := r.TryReserve("by_email", []byte("a@x.com"), "pk-2", 50*time.Millisecond, func(stillOwned bool, ownerPK string) bool {
		calls++
		return false // pk-1's reservation is stale, reclaim it
	})
	require.NoError(t, err)
	require.True(t, r.IsOwner("by_email", []byte("a@x.com"), "pk-2"))
	require.GreaterOrEqual(t, calls, 1)
}

func TestReleaseOnlyByOwner(t *testing.T) {
	r := New()
	require.NoError(t, r.TryReserve("by_email", []byte("a@x.com"), "pk-1", time.Millisecond, nil))

	r.Release("by_email", []byte("a@x.com"), "pk-2") // not the owner, no-op
	require.True(t, r.IsOwner("by_email", []byte("a@x.com"), "pk-1"))

	r.Release("by_email", []byte("a@x.com"), "pk-1")
	require.False(t, r.IsOwner("by_email", []byte("a@x.com"), "pk-1"))
}

func TestClearForIndex(t *testing.T) {
	r := New()
	require.NoError(t, r.TryReserve("by_email", []byte("a@x.com"), "pk-1", time.Millisecond, nil))
	require.NoError(t, r.TryReserve("by_ssn", []byte("999"), "pk-1", time.Millisecond, nil))

	r.ClearForIndex("by_email")
	require.False(t, r.IsOwner("by_email", []byte("a@x.com"), "pk-1"))
	require.True(t, r.IsOwner("by_ssn", []byte("999"), "pk-1"))
}

func TestSeed(t *testing.T) {
	r := New()
	r.Seed([]Entry{
		{IndexName: "by_email", ValuePrefix: []byte("a@x.com"), PK: "pk-1"},
		{IndexName: "by_email", ValuePrefix: []byte("b@x.com"), PK: "pk-2"},
	})
	require.Equal(t, 2, r.Len())
	require.True(t, r.IsOwner("by_email", []byte("a@x.com"), "pk-1"))
}
