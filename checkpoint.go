package walnutdb

import (
	"os"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/bobboyms/walnutdb/internal/keyenc"
	"github.com/bobboyms/walnutdb/internal/memtable"
	"github.com/bobboyms/walnutdb/internal/sst"
	"github.com/bobboyms/walnutdb/pkg/aead"
	"github.com/bobboyms/walnutdb/pkg/indexkey"
)

func removeSegmentFiles(path string) {
	_ = os.Remove(path)
	_ = os.Remove(path + ".sxi")
}

// Checkpoint runs the freeze-swap-merge-replace-truncate cycle:
// every rawTable's MemTable is atomically swapped for an empty one under
// the single-writer lock, each captured MemTable is merged with its
// existing segment into a new segment published by rename-replace, and
// only once every segment is published is the WAL flushed and truncated
// to zero.
func (e *Engine) Checkpoint() error {
	if err := e.checkClosed(); err != nil {
		return err
	}
	return e.checkpoint()
}

// checkpoint is the closed-check-free body of Checkpoint, shared with
// Close's checkpoint-on-dispose path (which runs after the closed flag is
// already set so no new transactions can race the final flush).
func (e *Engine) checkpoint() error {
	start := time.Now()

	uniqueNames := e.uniqueIndexRawNames()

	e.applyMu.Lock()
	e.mu.RLock()
	type frozen struct {
		name string
		old  *memtable.MemTable
		rt   *rawTable
	}
	var captured []frozen
	for name, rt := range e.raw {
		captured = append(captured, frozen{name: name, old: rt.swapMem(), rt: rt})
	}
	e.mu.RUnlock()
	e.applyMu.Unlock()

	// Segment production runs without the writer lock, and each
	// table's merge touches only its own frozen MemTable and segment, so
	// the per-table work fans out concurrently. A failed table stops the
	// checkpoint (the WAL is not truncated, so a restart replays it) but
	// cannot invalidate tables whose rename-replace already completed.
	var g errgroup.Group
	for _, f := range captured {
		f := f
		g.Go(func() error {
			var recs []sst.Record
			var err error
			if uniqueNames[f.name] {
				recs, err = mergeUniqueIndex(f.old, f.rt.segment(), e.sealer, f.name)
			} else {
				recs, err = mergeNonUnique(f.old, f.rt.segment(), e.sealer, f.name)
			}
			if err != nil {
				return errors.Wrapf(err, "walnutdb: merge segment for %s", f.name)
			}

			path := e.sstPath(f.name)
			if len(recs) == 0 {
				// Nothing survives the merge; drop any stale segment file
				// rather than publish an empty one.
				f.rt.setSegment(nil)
				removeSegmentFiles(path)
				return nil
			}

			i := 0
			if err := sst.Write(path, e.opts.SSTSidecarSampleRate, func(yield func(sst.Record) bool) {
				for i < len(recs) {
					if !yield(recs[i]) {
						return
					}
					i++
				}
			}); err != nil {
				return errors.Wrapf(err, "walnutdb: publish segment for %s", f.name)
			}

			r, err := sst.Open(path)
			if err != nil {
				return errors.Wrapf(err, "walnutdb: reopen published segment for %s", f.name)
			}
			f.rt.setSegment(r)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := e.walw.Flush(); err != nil {
		return errors.Wrap(err, "walnutdb: flush WAL before truncate")
	}
	if err := e.walw.Truncate(0); err != nil {
		return errors.Wrap(err, "walnutdb: truncate WAL")
	}

	if e.opts.Metrics != nil {
		e.opts.Metrics.CheckpointCount.Inc()
		e.opts.Metrics.CheckpointDuration.Observe(time.Since(start).Seconds())

		segCount := 0
		for _, f := range captured {
			if f.rt.segment() != nil {
				segCount++
			}
		}
		e.opts.Metrics.SegmentCount.Set(float64(segCount))
	}
	return nil
}

// uniqueIndexRawNames returns the set of rawTable names that back a
// unique index, so Checkpoint knows which merge rule to apply.
func (e *Engine) uniqueIndexRawNames() map[string]bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]bool)
	for _, t := range e.tables {
		for ixName, ix := range t.idx {
			if ix.desc.Unique {
				out[indexTableName(t.name, ixName)] = true
			}
		}
	}
	return out
}

// mergeNonUnique merges a frozen MemTable with its prior segment:
// MemTable entries mask the segment by exact key (both live and tombstone
// mask), tombstones are then dropped entirely since this merge produces
// the only surviving on-disk copy. Segment-origin values pass through
// unchanged (already ciphertext); MemTable-origin values are
// (re-)encrypted now.
func mergeNonUnique(old *memtable.MemTable, seg *sst.Reader, sealer aead.Sealer, aadTable string) ([]sst.Record, error) {
	memKVs := old.SnapshotAll(nil)
	memIndex := make(map[string]memtable.Entry, len(memKVs))
	for _, kv := range memKVs {
		memIndex[string(kv.Key)] = kv.Entry
	}

	var out []sst.Record

	for _, kv := range memKVs {
		if kv.Entry.Tombstone {
			continue
		}
		cipher, err := sealer.Encrypt(kv.Entry.Value, aadTable, kv.Key)
		if err != nil {
			return nil, errors.Wrapf(err, "walnutdb: encrypt %s row at checkpoint", aadTable)
		}
		out = append(out, sst.Record{Key: kv.Key, Value: cipher})
	}

	if seg != nil {
		if err := seg.ScanRange(nil, nil, func(r sst.Record) bool {
			if _, masked := memIndex[string(r.Key)]; masked {
				return true // masked by Mem (live, already emitted above, or tombstoned)
			}
			out = append(out, sst.Record{Key: append([]byte(nil), r.Key...), Value: append([]byte(nil), r.Value...)})
			return true
		}); err != nil {
			return nil, err
		}
	}

	sort.Slice(out, func(i, j int) bool { return keyenc.Compare(out[i].Key, out[j].Key) < 0 })
	return out, nil
}

// mergeUniqueIndex merges a unique index's frozen MemTable with its prior
// segment, deduplicating by value_prefix: MemTable wins per prefix, else
// the first surviving segment record for that prefix wins.
func mergeUniqueIndex(old *memtable.MemTable, seg *sst.Reader, sealer aead.Sealer, aadTable string) ([]sst.Record, error) {
	memKVs := old.SnapshotAll(nil)
	memIndex := make(map[string]memtable.Entry, len(memKVs))
	for _, kv := range memKVs {
		memIndex[string(kv.Key)] = kv.Entry
	}

	winnerByPrefix := make(map[string]sst.Record)
	prefixFromMem := make(map[string]bool)

	for _, kv := range memKVs {
		if kv.Entry.Tombstone {
			continue
		}
		prefix := string(indexkey.ExtractPrefix(kv.Key))
		if prefixFromMem[prefix] {
			continue // invariant: at most one live Mem entry per prefix; keep first seen
		}
		cipher, err := sealer.Encrypt(kv.Entry.Value, aadTable, kv.Key)
		if err != nil {
			return nil, errors.Wrapf(err, "walnutdb: encrypt %s index row at checkpoint", aadTable)
		}
		winnerByPrefix[prefix] = sst.Record{Key: kv.Key, Value: cipher}
		prefixFromMem[prefix] = true
	}

	if seg != nil {
		if err := seg.ScanRange(nil, nil, func(r sst.Record) bool {
			if _, masked := memIndex[string(r.Key)]; masked {
				return true // exact composite masked by Mem (live already kept above, or tombstoned)
			}
			prefix := string(indexkey.ExtractPrefix(r.Key))
			if prefixFromMem[prefix] {
				return true // Mem already won this prefix
			}
			if _, already := winnerByPrefix[prefix]; already {
				return true // first segment record for this prefix already kept
			}
			winnerByPrefix[prefix] = sst.Record{Key: append([]byte(nil), r.Key...), Value: append([]byte(nil), r.Value...)}
			return true
		}); err != nil {
			return nil, err
		}
	}

	out := make([]sst.Record, 0, len(winnerByPrefix))
	for _, rec := range winnerByPrefix {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return keyenc.Compare(out[i].Key, out[j].Key) < 0 })
	return out, nil
}
