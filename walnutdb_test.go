package walnutdb

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/bobboyms/walnutdb/internal/keyenc"
	walnuterrors "github.com/bobboyms/walnutdb/pkg/errors"
	"github.com/bobboyms/walnutdb/pkg/indexkey"
)

// userRow is the test fixture's row encoding: a pipe-delimited id|email,
// standing in for whatever object-to-bytes serializer a real caller plugs
// in.
func userRow(id, email string) []byte {
	return []byte(id + "|" + email)
}

func splitUserRow(row []byte) (id, email string) {
	parts := bytes.SplitN(row, []byte("|"), 2)
	return string(parts[0]), string(parts[1])
}

func userDescriptor() RowDescriptor {
	return RowDescriptor{
		PK: func(row []byte) ([]byte, error) {
			id, _ := splitUserRow(row)
			return []byte(id), nil
		},
		Indexes: []IndexDescriptor{
			{
				Name:   "by_email",
				Unique: true,
				Scale:  -1,
				Extract: func(row []byte) (indexkey.Value, bool, error) {
					_, email := splitUserRow(row)
					if email == "" {
						return indexkey.Value{}, false, nil
					}
					return indexkey.String(email), true, nil
				},
			},
		},
	}
}

func openEngine(t *testing.T, dir string, mutate func(*Options)) *Engine {
	t.Helper()
	opts := DefaultOptions(dir)
	if mutate != nil {
		mutate(&opts)
	}
	e, err := Open(opts)
	require.NoError(t, err)
	return e
}

// Torn-tail recovery: a committed transaction of two rows
// survives a crash that leaves 4 random bytes appended to wal.log, and the
// file is truncated back to its pre-append length by recovery.
func TestTornTailRecovery(t *testing.T) {
	dir := t.TempDir()

	e := openEngine(t, dir, nil)
	tbl, err := e.OpenTable("users", userDescriptor())
	require.NoError(t, err)
	require.NoError(t, tbl.Upsert(userRow("A", "a@example.com")))
	require.NoError(t, tbl.Upsert(userRow("B", "b@example.com")))
	require.NoError(t, e.Flush())
	require.NoError(t, e.Close())

	walPath := filepath.Join(dir, "wal.log")
	info, err := os.Stat(walPath)
	require.NoError(t, err)
	preAppendLen := info.Size()

	f, err := os.OpenFile(walPath, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.Write([]byte{0xDE, 0xAD, 0xBE, 0xEF})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	e2 := openEngine(t, dir, nil)
	defer e2.Close()
	tbl2, err := e2.OpenTable("users", userDescriptor())
	require.NoError(t, err)

	rowA, ok, err := tbl2.Get([]byte("A"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, userRow("A", "a@example.com"), rowA)

	rowB, ok, err := tbl2.Get([]byte("B"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, userRow("B", "b@example.com"), rowB)

	info, err = os.Stat(walPath)
	require.NoError(t, err)
	require.Equal(t, preAppendLen, info.Size())
}

// Unique violation across a segment, including across a
// checkpoint, then resolved by deleting the conflicting row and confirming
// the index scan surfaces exactly the surviving owner.
func TestUniqueViolationAcrossSegment(t *testing.T) {
	dir := t.TempDir()
	e := openEngine(t, dir, nil)
	defer e.Close()

	tbl, err := e.OpenTable("users", userDescriptor())
	require.NoError(t, err)

	require.NoError(t, tbl.Upsert(userRow("A", "x@example.com")))
	require.NoError(t, e.Checkpoint())

	err = tbl.Upsert(userRow("B", "x@example.com"))
	require.Error(t, err)

	require.NoError(t, tbl.Delete([]byte("A")))
	require.NoError(t, e.Checkpoint())

	require.NoError(t, tbl.Upsert(userRow("B", "x@example.com")))

	prefix, err := indexkey.EncodeValue(indexkey.String("x@example.com"))
	require.NoError(t, err)
	upper := keyenc.PrefixUpperBound(prefix)

	var pks []string
	err = tbl.IndexScan("by_email", prefix, upper, nil, func(pk, row []byte) bool {
		pks = append(pks, string(pk))
		return true
	})
	require.NoError(t, err)
	require.Equal(t, []string{"B"}, pks)
}

// Checkpoint swap routing: rows inserted before and after
// a checkpoint are all visible in one merged scan, in order, and survive a
// restart.
func TestCheckpointSwapRouting(t *testing.T) {
	dir := t.TempDir()
	e := openEngine(t, dir, nil)

	tbl, err := e.OpenTable("users", userDescriptor())
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		id := string(rune('A' + i))
		require.NoError(t, tbl.Upsert(userRow(id, id+"@example.com")))
	}
	require.NoError(t, e.Checkpoint())
	for i := 10; i < 16; i++ {
		id := string(rune('A' + i))
		require.NoError(t, tbl.Upsert(userRow(id, id+"@example.com")))
	}

	var ids []string
	err = tbl.Scan(nil, nil, nil, func(_, row []byte) bool {
		id, _ := splitUserRow(row)
		ids = append(ids, id)
		return true
	})
	require.NoError(t, err)
	require.Len(t, ids, 16)
	require.NoError(t, e.Close())

	e2 := openEngine(t, dir, nil)
	defer e2.Close()
	tbl2, err := e2.OpenTable("users", userDescriptor())
	require.NoError(t, err)

	var ids2 []string
	err = tbl2.Scan(nil, nil, nil, func(_, row []byte) bool {
		id, _ := splitUserRow(row)
		ids2 = append(ids2, id)
		return true
	})
	require.NoError(t, err)
	require.Len(t, ids2, 16)
}

// Decimal ordering: truncated-to-scale prefixes sort in
// numeric order, including negatives, and a half-open range scan returns
// exactly the records whose truncated value lies in that interval.
func TestDecimalOrdering(t *testing.T) {
	values := []float64{-1.99, -1.50, -1.01, 1.01, 1.50, 1.99, 12.00}
	var prefixes [][]byte
	for _, v := range values {
		p, err := indexkey.EncodeValue(indexkey.Decimal(v, 2))
		require.NoError(t, err)
		prefixes = append(prefixes, p)
	}
	for i := 1; i < len(prefixes); i++ {
		require.True(t, keyenc.Compare(prefixes[i-1], prefixes[i]) < 0,
			"expected prefix(%v) < prefix(%v)", values[i-1], values[i])
	}

	lo, err := indexkey.EncodeValue(indexkey.Decimal(10.23, 2))
	require.NoError(t, err)
	hi, err := indexkey.EncodeValue(indexkey.Decimal(12.00, 2))
	require.NoError(t, err)

	var inRange []float64
	for i, p := range prefixes {
		if keyenc.Compare(p, lo) >= 0 && keyenc.Compare(p, hi) < 0 {
			inRange = append(inRange, values[i])
		}
	}
	require.Empty(t, inRange) // none of the seed values fall in [10.23, 12.00)
}

// A time-series query over a [from, to) window returns
// exactly the points of the named series within range, in chronological
// order, leaving other series untouched.
func TestTimeSeriesQuery(t *testing.T) {
	dir := t.TempDir()
	e := openEngine(t, dir, nil)
	defer e.Close()

	tbl, err := e.OpenTable("metrics", RowDescriptor{
		PK: func(row []byte) ([]byte, error) { return row, nil },
	})
	require.NoError(t, err)

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, tbl.AppendSeries("A", t0, []byte("1")))
	require.NoError(t, tbl.AppendSeries("A", t0.Add(10*time.Minute), []byte("2")))
	require.NoError(t, tbl.AppendSeries("A", t0.Add(20*time.Minute), []byte("3")))
	require.NoError(t, tbl.AppendSeries("B", t0.Add(5*time.Minute), []byte("9")))

	out, err := tbl.QuerySeries("A", t0.Add(5*time.Minute), t0.Add(21*time.Minute))
	require.NoError(t, err)
	var got []string
	for _, v := range out {
		got = append(got, string(v))
	}
	require.Equal(t, []string{"2", "3"}, got)
}

// Index staleness: once a row's indexed value changes
// and the change is checkpointed, scanning at the old value returns
// nothing.
func TestIndexStalenessAfterCheckpoint(t *testing.T) {
	dir := t.TempDir()
	e := openEngine(t, dir, nil)
	defer e.Close()

	tbl, err := e.OpenTable("users", userDescriptor())
	require.NoError(t, err)

	require.NoError(t, tbl.Upsert(userRow("A", "a@x")))
	require.NoError(t, e.Checkpoint())
	require.NoError(t, tbl.Upsert(userRow("A", "b@x")))

	prefix, err := indexkey.EncodeValue(indexkey.String("a@x"))
	require.NoError(t, err)
	upper := keyenc.PrefixUpperBound(prefix)

	var pks []string
	err = tbl.IndexScan("by_email", prefix, upper, nil, func(pk, _ []byte) bool {
		pks = append(pks, string(pk))
		return true
	})
	require.NoError(t, err)
	require.Empty(t, pks)
}

// Drop table: a seeded unique index is cleared on drop,
// so a re-created table can reuse the same value without a stale guard
// blocking it.
func TestDropTableClearsUniqueGuards(t *testing.T) {
	dir := t.TempDir()
	e := openEngine(t, dir, nil)
	defer e.Close()

	tbl, err := e.OpenTable("users", userDescriptor())
	require.NoError(t, err)
	require.NoError(t, tbl.Upsert(userRow("A", "a@example.com")))
	require.NoError(t, e.Checkpoint())

	require.NoError(t, e.DropTable("users"))

	tbl2, err := e.OpenTable("users", userDescriptor())
	require.NoError(t, err)
	require.NoError(t, tbl2.Upsert(userRow("Z", "a@example.com")))

	row, ok, err := tbl2.Get([]byte("Z"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, userRow("Z", "a@example.com"), row)
}

// Encryption at rest: with an AEAD sealer
// configured, a raw byte scan of the WAL and the published segment never
// contains the plaintext marker, yet a restart still decrypts it back out.
func TestEncryptionAtRestHidesPlaintext(t *testing.T) {
	dir := t.TempDir()
	sealer := &fixedXorSealer{marker: []byte("top-secret-marker")}

	// No secondary index here on purpose: an index composite key embeds
	// the order-preserving value prefix in the clear (keys are never
	// sealed, only row values are), so a unique-index table would put the
	// marker's bytes into the WAL regardless of encryption. A plain,
	// index-free table isolates the check to what Encrypt/Decrypt alone
	// cover: row values.
	desc := RowDescriptor{
		PK: func(row []byte) ([]byte, error) {
			id, _ := splitUserRow(row)
			return []byte(id), nil
		},
	}

	e := openEngine(t, dir, func(o *Options) { o.Encryption = sealer })
	tbl, err := e.OpenTable("users", desc)
	require.NoError(t, err)

	marker := "top-secret-marker@example.com"
	require.NoError(t, tbl.Upsert(userRow("A", marker)))
	require.NoError(t, e.Checkpoint())
	require.NoError(t, e.Close())

	walBytes, err := os.ReadFile(filepath.Join(dir, "wal.log"))
	require.NoError(t, err)
	require.NotContains(t, string(walBytes), marker)

	sstBytes, err := os.ReadFile(filepath.Join(dir, "sst", "users.sst"))
	require.NoError(t, err)
	require.NotContains(t, string(sstBytes), marker)

	e2 := openEngine(t, dir, func(o *Options) { o.Encryption = sealer })
	defer e2.Close()
	tbl2, err := e2.OpenTable("users", desc)
	require.NoError(t, err)
	row, ok, err := tbl2.Get([]byte("A"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, userRow("A", marker), row)
}

// Recovery must decrypt, not just segments: a row that only ever lived in
// the WAL (never checkpointed) is ciphertext on disk, so replaying it into
// the MemTable has to run it back through Decrypt before the row is
// observable again, the same as a segment-backed read does.
func TestEncryptedWALSurvivesRestartWithoutCheckpoint(t *testing.T) {
	dir := t.TempDir()
	sealer := &fixedXorSealer{marker: []byte("wal-only-marker")}

	desc := RowDescriptor{
		PK: func(row []byte) ([]byte, error) {
			id, _ := splitUserRow(row)
			return []byte(id), nil
		},
	}

	e := openEngine(t, dir, func(o *Options) { o.Encryption = sealer })
	tbl, err := e.OpenTable("users", desc)
	require.NoError(t, err)

	marker := "wal-only-marker@example.com"
	require.NoError(t, tbl.Upsert(userRow("A", marker)))
	require.NoError(t, e.Flush())
	require.NoError(t, e.Close()) // no Checkpoint: row only ever exists in the WAL

	walBytes, err := os.ReadFile(filepath.Join(dir, "wal.log"))
	require.NoError(t, err)
	require.NotContains(t, string(walBytes), marker)

	e2 := openEngine(t, dir, func(o *Options) { o.Encryption = sealer })
	defer e2.Close()
	tbl2, err := e2.OpenTable("users", desc)
	require.NoError(t, err)

	row, ok, err := tbl2.Get([]byte("A"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, userRow("A", marker), row)
}

// fixedXorSealer is a deliberately trivial test-only AEAD stand-in: XOR
// with a fixed keystream is obviously not a real AEAD, but it is enough to
// prove the engine never writes plaintext row bytes to the WAL or segment
// when a sealer is configured, which is all this test checks.
type fixedXorSealer struct{ marker []byte }

func (s *fixedXorSealer) Encrypt(plaintext []byte, table string, pk []byte) ([]byte, error) {
	return xorWithAAD(plaintext, table, pk), nil
}

func (s *fixedXorSealer) Decrypt(ciphertext []byte, table string, pk []byte) ([]byte, error) {
	return xorWithAAD(ciphertext, table, pk), nil
}

func xorWithAAD(data []byte, table string, pk []byte) []byte {
	key := append([]byte(table), pk...)
	if len(key) == 0 {
		key = []byte{0xFF}
	}
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ key[i%len(key)]
	}
	return out
}

// `checkpoint; checkpoint` is equivalent to `checkpoint`: the second run
// sees only empty MemTables, leaves the published segments intact, and
// the WAL stays empty.
func TestCheckpointIdempotent(t *testing.T) {
	dir := t.TempDir()
	e := openEngine(t, dir, nil)
	defer e.Close()

	tbl, err := e.OpenTable("users", userDescriptor())
	require.NoError(t, err)
	require.NoError(t, tbl.Upsert(userRow("A", "a@example.com")))
	require.NoError(t, tbl.Upsert(userRow("B", "b@example.com")))

	require.NoError(t, e.Checkpoint())
	require.NoError(t, e.Checkpoint())

	info, err := os.Stat(filepath.Join(dir, "wal.log"))
	require.NoError(t, err)
	require.Zero(t, info.Size())

	row, ok, err := tbl.Get([]byte("A"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, userRow("A", "a@example.com"), row)

	var ids []string
	require.NoError(t, tbl.Scan(nil, nil, nil, func(_, row []byte) bool {
		id, _ := splitUserRow(row)
		ids = append(ids, id)
		return true
	}))
	require.Equal(t, []string{"A", "B"}, ids)
}

// `open; close` without writes is a no-op on file contents.
func TestOpenCloseWithoutWritesLeavesFilesAlone(t *testing.T) {
	dir := t.TempDir()

	e := openEngine(t, dir, nil)
	tbl, err := e.OpenTable("users", userDescriptor())
	require.NoError(t, err)
	require.NoError(t, tbl.Upsert(userRow("A", "a@example.com")))
	require.NoError(t, e.Checkpoint())
	require.NoError(t, e.Close())

	segPath := filepath.Join(dir, "sst", "users.sst")
	before, err := os.ReadFile(segPath)
	require.NoError(t, err)

	e2 := openEngine(t, dir, nil)
	_, err = e2.OpenTable("users", userDescriptor())
	require.NoError(t, err)
	require.NoError(t, e2.Close())

	after, err := os.ReadFile(segPath)
	require.NoError(t, err)
	require.Equal(t, before, after)

	info, err := os.Stat(filepath.Join(dir, "wal.log"))
	require.NoError(t, err)
	require.Zero(t, info.Size())
}

// Concurrent writers sharing one group-commit window: every commit lands,
// the merged view counts them all, and the state survives checkpoint plus
// restart.
func TestConcurrentWritersGroupCommit(t *testing.T) {
	dir := t.TempDir()
	e := openEngine(t, dir, func(o *Options) { o.Durability = Group })

	tbl, err := e.OpenTable("users", userDescriptor())
	require.NoError(t, err)

	const writers = 4
	const perWriter = 25
	var g errgroup.Group
	for w := 0; w < writers; w++ {
		w := w
		g.Go(func() error {
			for i := 0; i < perWriter; i++ {
				id := fmt.Sprintf("w%d-%03d", w, i)
				if err := tbl.Upsert(userRow(id, id+"@example.com")); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	count := 0
	require.NoError(t, tbl.Scan(nil, nil, nil, func(_, _ []byte) bool {
		count++
		return true
	}))
	require.Equal(t, writers*perWriter, count)

	require.NoError(t, e.Checkpoint())
	require.NoError(t, e.Close())

	e2 := openEngine(t, dir, nil)
	defer e2.Close()
	tbl2, err := e2.OpenTable("users", userDescriptor())
	require.NoError(t, err)

	count = 0
	require.NoError(t, tbl2.Scan(nil, nil, nil, func(_, _ []byte) bool {
		count++
		return true
	}))
	require.Equal(t, writers*perWriter, count)
}

// Type-driven table naming: each TypeNamingMode yields a deterministic
// name for the same row type, pointers unwrap to their element type, and
// OpenTableFor lands in the engine's registry under the derived name.
func TestResolveTableName(t *testing.T) {
	type invoice struct{ ID string }

	opts := DefaultOptions(t.TempDir())
	require.Equal(t, "github.com/bobboyms/walnutdb.invoice", ResolveTableName(invoice{}, opts))
	require.Equal(t, ResolveTableName(invoice{}, opts), ResolveTableName(&invoice{}, opts))

	opts.TypeNaming = NameOnly
	require.Equal(t, "invoice", ResolveTableName(invoice{}, opts))

	opts.TypeNaming = NamespaceQualified
	opts.Namespace = "billing"
	require.Equal(t, "billing.invoice", ResolveTableName(invoice{}, opts))

	opts.TypeNaming = Custom
	opts.CustomTypeName = func(any) string { return "ledger_rows" }
	require.Equal(t, "ledger_rows", ResolveTableName(invoice{}, opts))
}

func TestOpenTableForDerivesName(t *testing.T) {
	type invoice struct{ ID string }

	dir := t.TempDir()
	e := openEngine(t, dir, func(o *Options) { o.TypeNaming = NameOnly })
	defer e.Close()

	tbl, err := e.OpenTableFor(invoice{}, RowDescriptor{
		PK: func(row []byte) ([]byte, error) { return row, nil },
	})
	require.NoError(t, err)
	require.Equal(t, "invoice", tbl.Name())

	same, err := e.Table("invoice")
	require.NoError(t, err)
	require.Same(t, tbl, same)

	_, err = e.Table("no-such-table")
	var notFound *walnuterrors.TableNotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestOpenTableRejectsDuplicateIndexNames(t *testing.T) {
	dir := t.TempDir()
	e := openEngine(t, dir, nil)
	defer e.Close()

	desc := userDescriptor()
	desc.Indexes = append(desc.Indexes, desc.Indexes[0])
	_, err := e.OpenTable("users", desc)
	var dup *walnuterrors.IndexAlreadyExistsError
	require.ErrorAs(t, err, &dup)
}
