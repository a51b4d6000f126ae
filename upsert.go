package walnutdb

import (
	"time"

	"github.com/cockroachdb/errors"

	"github.com/bobboyms/walnutdb/internal/keyenc"
	walnuterrors "github.com/bobboyms/walnutdb/pkg/errors"
	"github.com/bobboyms/walnutdb/pkg/indexkey"
)

// uniqueReserveTimeout bounds the reservation spin in reserveUnique.
const uniqueReserveTimeout = 300 * time.Millisecond

// extractIndexPrefix evaluates ix's extractor against row and, if it
// reports a value, encodes that value's order-preserving prefix.
func extractIndexPrefix(ix *indexState, row []byte) (prefix []byte, present bool, err error) {
	val, present, err := ix.desc.Extract(row)
	if err != nil || !present {
		return nil, present, err
	}
	prefix, err = indexkey.EncodeValue(val)
	if err != nil {
		return nil, false, &walnuterrors.InvalidKeyTypeError{Name: ix.desc.Name, Kind: val.Kind.String()}
	}
	return prefix, true, nil
}

// Upsert writes row under the primary key produced by the table's PK
// extractor and maintains every declared secondary index, enforcing
// uniqueness before the transaction is allowed to commit.
func (t *Table) Upsert(row []byte) error {
	if err := t.engine.checkClosed(); err != nil {
		return err
	}
	pk, err := t.desc.PK(row)
	if err != nil {
		return errors.Wrapf(err, "walnutdb: derive primary key for table %s", t.name)
	}
	if len(pk) == 0 {
		return errors.Newf("walnutdb: empty primary key for table %s", t.name)
	}

	prevRow, hadPrev, err := t.Get(pk)
	if err != nil {
		return err
	}

	tx := t.engine.Begin()

	for name, ix := range t.idx {
		newPrefix, newPresent, err := extractIndexPrefix(ix, row)
		if err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "walnutdb: extract index %s on table %s", name, t.name)
		}

		var oldPrefix []byte
		var oldPresent bool
		if hadPrev {
			oldPrefix, oldPresent, err = extractIndexPrefix(ix, prevRow)
			if err != nil {
				tx.Rollback()
				return errors.Wrapf(err, "walnutdb: extract previous index %s on table %s", name, t.name)
			}
		}

		if ix.desc.Unique && newPresent {
			if err := t.reserveUnique(ix, name, newPrefix, pk, tx); err != nil {
				tx.Rollback()
				return err
			}
			if err := t.checkAndSweepUnique(tx, name, ix, newPrefix, pk); err != nil {
				tx.Rollback()
				return err
			}
		}

		if newPresent {
			composite := indexkey.ComposeIndexEntry(newPrefix, pk)
			if err := tx.AddPut(ix.raw.name, composite, []byte{}); err != nil {
				tx.Rollback()
				return errors.Wrapf(err, "walnutdb: stage index %s put", name)
			}
		}

		if oldPresent && (!newPresent || keyenc.Compare(oldPrefix, newPrefix) != 0) {
			oldComposite := indexkey.ComposeIndexEntry(oldPrefix, pk)
			tx.AddDelete(ix.raw.name, oldComposite)
			if ix.desc.Unique {
				ixFullName := indexTableName(t.name, name)
				prefixCopy := append([]byte(nil), oldPrefix...)
				pkCopy := append([]byte(nil), pk...)
				tx.AddApply(func() { t.engine.guard.Release(ixFullName, prefixCopy, string(pkCopy)) })
			}
		}
	}

	if err := tx.AddPut(t.name, pk, row); err != nil {
		tx.Rollback()
		return errors.Wrapf(err, "walnutdb: stage row put for table %s", t.name)
	}

	if err := tx.Commit(t.engine.opts.Durability); err != nil {
		return err
	}
	return nil
}

// Delete removes the row identified by pk along with every secondary
// index composite it contributed, releasing any unique-guard reservations
// it held. A no-op if pk is not currently live.
func (t *Table) Delete(pk []byte) error {
	if err := t.engine.checkClosed(); err != nil {
		return err
	}
	row, ok, err := t.Get(pk)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	tx := t.engine.Begin()
	tx.AddDelete(t.name, pk)

	for name, ix := range t.idx {
		prefix, present, err := extractIndexPrefix(ix, row)
		if err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "walnutdb: extract index %s on table %s", name, t.name)
		}
		if !present {
			continue
		}
		composite := indexkey.ComposeIndexEntry(prefix, pk)
		tx.AddDelete(ix.raw.name, composite)
		if ix.desc.Unique {
			ixFullName := indexTableName(t.name, name)
			prefixCopy := append([]byte(nil), prefix...)
			pkCopy := append([]byte(nil), pk...)
			tx.AddApply(func() { t.engine.guard.Release(ixFullName, prefixCopy, string(pkCopy)) })
		}
	}

	return tx.Commit(t.engine.opts.Durability)
}

// DeleteRow removes a row by deriving its primary key from the row bytes
// via the table's PK extractor, for callers holding the encoded row
// rather than its key.
func (t *Table) DeleteRow(row []byte) error {
	pk, err := t.desc.PK(row)
	if err != nil {
		return errors.Wrapf(err, "walnutdb: derive primary key for table %s", t.name)
	}
	return t.Delete(pk)
}

// reserveUnique claims prefix under ix for pk via the unique-guard
// registry, verifying a conflicting reservation against the merged
// base-table + index view before accepting it as stale. A
// successful reservation registers its own release as a transaction
// rollback action, so any later failure in Upsert (or Commit itself)
// releases it automatically.
func (t *Table) reserveUnique(ix *indexState, name string, prefix, pk []byte, tx *Transaction) error {
	ixFullName := indexTableName(t.name, name)
	pkStr := string(pk)

	verify := func(_ bool, ownerPK string) bool {
		if _, live, err := t.Get([]byte(ownerPK)); err != nil || !live {
			return false
		}
		composite := indexkey.ComposeIndexEntry(prefix, []byte(ownerPK))
		if _, live := ix.raw.mem().TryGet(composite); live {
			return true
		}
		if ix.raw.mem().HasTombstoneExact(composite) {
			return false
		}
		if seg := ix.raw.segment(); seg != nil {
			if _, ok := seg.TryGet(composite); ok {
				return true
			}
		}
		return false
	}

	if err := t.engine.guard.TryReserve(ixFullName, prefix, pkStr, uniqueReserveTimeout, verify); err != nil {
		if t.engine.opts.Metrics != nil {
			t.engine.opts.Metrics.UniqueReservations.WithLabelValues("conflict").Inc()
		}
		if ve, ok := err.(*walnuterrors.UniqueViolationError); ok {
			ve.Table = t.name
		}
		return err
	}
	if t.engine.opts.Metrics != nil {
		t.engine.opts.Metrics.UniqueReservations.WithLabelValues("reserved").Inc()
	}

	prefixCopy := append([]byte(nil), prefix...)
	pkCopy := append([]byte(nil), pk...)
	tx.AddRollback(func() { t.engine.guard.Release(ixFullName, prefixCopy, string(pkCopy)) })
	return nil
}

// checkAndSweepUnique runs the conflict check and the owner's sweep in
// one pass: it walks every live composite sharing prefix under ix and,
// for each one owned by a different pk, either rejects the upsert (the
// other pk's row is still alive, a true conflict) or stages its deletion
// (the other pk's row is gone, leaving a dangling entry the new owner of
// the prefix sweeps away).
func (t *Table) checkAndSweepUnique(tx *Transaction, name string, ix *indexState, prefix, pk []byte) error {
	upper := keyenc.PrefixUpperBound(prefix)
	aad := indexTableName(t.name, name)
	entries, err := mergedRange(ix.raw, t.engine.sealer, aad, prefix, upper, nil)
	if err != nil {
		return err
	}
	for _, kv := range entries {
		// The byte range also holds composites of longer values that
		// merely start with prefix; only an exact prefix match counts.
		if keyenc.Compare(indexkey.ExtractPrefix(kv.Key), prefix) != 0 {
			continue
		}
		otherPK := indexkey.ExtractPK(kv.Key)
		if string(otherPK) == string(pk) {
			continue
		}
		_, live, err := t.Get(otherPK)
		if err != nil {
			return err
		}
		if live {
			return &walnuterrors.UniqueViolationError{Table: t.name, Index: name, Key: prefix}
		}
		tx.AddDelete(ix.raw.name, kv.Key)
	}
	return nil
}
