package walnutdb

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"github.com/bobboyms/walnutdb/internal/uniqueguard"
	"github.com/bobboyms/walnutdb/internal/wal"
	"github.com/bobboyms/walnutdb/pkg/aead"
	walnuterrors "github.com/bobboyms/walnutdb/pkg/errors"
)

// Engine is one open WalnutDB database: a WAL writer, a unique-guard
// registry, and a registry of rawTables (one per logical table and one per
// derived index key-space) backed by a MemTable and an optional segment.
type Engine struct {
	opts    Options
	rootDir string
	sstDir  string

	walw   *wal.Writer
	guard  *uniqueguard.Registry
	sealer aead.Sealer

	mu     sync.RWMutex
	raw    map[string]*rawTable
	tables map[string]*Table

	applyMu sync.Mutex
	seq     atomic.Uint64

	closed atomic.Bool

	// recoveredTruncateTo is the offset WAL replay determined the file
	// should be shrunk to (past any torn tail), consumed once by Open
	// after the Writer takes ownership of the file.
	recoveredTruncateTo int64
}

// Open brings up (or recovers) a database rooted at opts.RootDir: it
// creates the directory layout if absent, replays the WAL to rebuild every
// MemTable touched since the last checkpoint, truncates any torn tail, and
// seeds the unique-guard registry once tables are opened.
func Open(opts Options) (*Engine, error) {
	if opts.RootDir == "" {
		return nil, errors.New("walnutdb: RootDir must be set")
	}
	if opts.SSTSidecarSampleRate <= 0 {
		opts.SSTSidecarSampleRate = 64
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 256
	}

	sstDir := filepath.Join(opts.RootDir, "sst")
	if err := os.MkdirAll(sstDir, 0755); err != nil {
		return nil, errors.Wrapf(err, "walnutdb: create %s", sstDir)
	}
	sweepStaleSegmentTmpFiles(sstDir)

	e := &Engine{
		opts:    opts,
		rootDir: opts.RootDir,
		sstDir:  sstDir,
		guard:   uniqueguard.New(),
		sealer:  opts.sealer(),
		raw:     make(map[string]*rawTable),
		tables:  make(map[string]*Table),
	}

	walPath := filepath.Join(opts.RootDir, "wal.log")
	if err := e.recover(walPath); err != nil {
		return nil, err
	}

	walOpts := wal.Options{Window: opts.GroupCommitWindow, MaxBatch: opts.MaxBatch}
	if opts.Metrics != nil {
		walOpts.OnFsync = opts.Metrics.WALFsyncCount.Inc
	}
	w, err := wal.Open(walPath, walOpts)
	if err != nil {
		return nil, errors.Wrap(err, "walnutdb: open WAL writer")
	}
	e.walw = w

	if e.recoveredTruncateTo >= 0 {
		if err := e.walw.Truncate(e.recoveredTruncateTo); err != nil {
			return nil, errors.Wrap(err, "walnutdb: truncate torn WAL tail")
		}
	}

	return e, nil
}

// recover replays walPath into freshly created rawTables and records the
// offset at which a torn tail (if any) should be truncated once the Writer
// takes ownership of the file. It also honors DropTable frames, purging the
// dropped table (and its derived index key-spaces) before any later ops
// for a same-named, re-created table are applied.
func (e *Engine) recover(walPath string) error {
	truncateTo, maxTxID, maxSeqNo, err := wal.Replay(walPath, wal.Handlers{
		OnPut: func(table string, key, value []byte) {
			// WAL Put payloads carry ciphertext; the MemTable holds
			// plaintext, so replay must decrypt before inserting, the same
			// as a segment-backed read does at query time.
			plain, derr := e.sealer.Decrypt(value, table, key)
			if derr != nil {
				e.opts.logger().Warnw("dropping undecryptable WAL row during recovery", "table", table, "error", derr)
				return
			}
			e.rawTableFor(table).mem().Upsert(key, plain)
		},
		OnDelete: func(table string, key []byte) {
			e.rawTableFor(table).mem().Delete(key)
		},
		OnDropTable: func(table string) {
			e.dropTableAndIndexes(table)
		},
	})
	if err != nil {
		return errors.Wrap(err, "walnutdb: WAL replay")
	}
	if fi, serr := os.Stat(walPath); serr == nil && fi.Size() > truncateTo {
		e.opts.logger().Warnw("truncating torn WAL tail", "path", walPath, "offset", truncateTo, "size", fi.Size())
	}
	e.seq.Store(maxSeqNo)
	_ = maxTxID // tx_id is random per-commit, not sequentially allocated; nothing to resume
	e.recoveredTruncateTo = truncateTo
	return nil
}

// Close stops the WAL writer (optionally running a final checkpoint first)
// and releases the engine. Afterwards Upsert, Delete, Commit, OpenTable,
// Table, DropTable, Flush, Checkpoint, Backup and Defragment return
// EngineClosedError; reads (Get, Scan, IndexScan, Query, Stats) and
// staging calls on a Transaction do not check for a closed engine.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	if e.opts.CheckpointOnDispose {
		if err := e.checkpoint(); err != nil {
			return errors.Wrap(err, "walnutdb: checkpoint on dispose")
		}
	}
	return e.walw.Close()
}

func (e *Engine) checkClosed() error {
	if e.closed.Load() {
		return &walnuterrors.EngineClosedError{}
	}
	return nil
}

func (e *Engine) nextSeqNo() uint64 {
	return e.seq.Add(1)
}

// sweepStaleSegmentTmpFiles removes `.sst.tmp`/`.sst.tmp.sxi` files left
// behind by a checkpoint that crashed mid-publication. The
// rename-replace in sst.Write only ever publishes once both temp files are
// fully flushed and synced, so a stray tmp file at startup always belongs
// to a publication that never completed; the prior segment (if any) is
// still intact on disk and will be reopened normally by rawTableFor.
// This engine has no table-rename operation, so a stray tmp file never
// needs migrating to a renamed base; deleting it is always correct.
func sweepStaleSegmentTmpFiles(sstDir string) {
	entries, err := os.ReadDir(sstDir)
	if err != nil {
		return
	}
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		name := ent.Name()
		if strings.HasSuffix(name, ".sst.tmp") || strings.HasSuffix(name, ".sst.tmp.sxi") {
			_ = os.Remove(filepath.Join(sstDir, name))
		}
	}
}
