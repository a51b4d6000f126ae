package walnutdb

import (
	"github.com/cockroachdb/errors"

	"github.com/bobboyms/walnutdb/internal/uniqueguard"
	"github.com/bobboyms/walnutdb/pkg/indexkey"
)

// legacyCleanupBatch bounds how many dangling index composites are deleted
// per mini-transaction during startup cleanup.
const legacyCleanupBatch = 32

// seedUniqueGuards rebuilds the unique-guard registry at open for every
// unique index declared on t: each live composite entry either reserves
// its registry slot (the owning pk is still alive in the base table) or
// is recorded as a legacy dangling entry and queued for cleanup. The
// registry is a pure in-memory structure, never persisted, so it must be
// reconstructed on every open.
func (e *Engine) seedUniqueGuards(t *Table) error {
	for name, ix := range t.idx {
		if !ix.desc.Unique {
			continue
		}
		full := indexTableName(t.name, name)
		entries, err := mergedRange(ix.raw, e.sealer, full, nil, nil, nil)
		if err != nil {
			return errors.Wrapf(err, "walnutdb: seed unique guard for index %s", full)
		}

		var seed []uniqueguard.Entry
		var dangling [][]byte
		for _, kv := range entries {
			pk := indexkey.ExtractPK(kv.Key)
			prefix := indexkey.ExtractPrefix(kv.Key)
			if _, live, err := t.Get(pk); err == nil && live {
				seed = append(seed, uniqueguard.Entry{
					IndexName:   full,
					ValuePrefix: append([]byte(nil), prefix...),
					PK:          string(pk),
				})
			} else {
				dangling = append(dangling, append([]byte(nil), kv.Key...))
			}
		}
		e.guard.Seed(seed)

		if len(dangling) > 0 {
			if err := e.cleanupDanglingIndexEntries(full, dangling); err != nil {
				return errors.Wrapf(err, "walnutdb: clean up dangling entries for index %s", full)
			}
		}
	}
	return nil
}

// cleanupDanglingIndexEntries deletes composites whose owning pk is no
// longer present in the base table, in bounded batches, each as its own
// (Begin, Deletes, Commit) transaction.
func (e *Engine) cleanupDanglingIndexEntries(indexFullName string, composites [][]byte) error {
	for start := 0; start < len(composites); start += legacyCleanupBatch {
		end := start + legacyCleanupBatch
		if end > len(composites) {
			end = len(composites)
		}
		tx := e.Begin()
		for _, c := range composites[start:end] {
			tx.AddDelete(indexFullName, c)
		}
		if err := tx.Commit(e.opts.Durability); err != nil {
			return err
		}
	}
	e.opts.logger().Warnw("cleaned up legacy dangling unique-index entries",
		"index", indexFullName, "count", len(composites))
	return e.walw.Flush()
}
