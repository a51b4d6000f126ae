package walnutdb

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/bobboyms/walnutdb/internal/memtable"
	"github.com/bobboyms/walnutdb/internal/sst"
)

// rawTable is the engine's unit of persisted state for one logical name:
// a MemTable plus an optional immutable segment reader. Both base tables
// and derived index key-spaces (named via indexTableName) are rawTables;
// the distinction between "a table" and "an index" only exists one layer
// up, in Table/IndexDescriptor.
type rawTable struct {
	name string

	// memPtr is swapped wholesale at checkpoint while readers keep
	// dereferencing it without the apply lock, so the pointer itself
	// must be atomic; the MemTable behind it has its own RWMutex.
	memPtr atomic.Pointer[memtable.MemTable]

	segMu sync.RWMutex
	seg   *sst.Reader // nil until a checkpoint publishes a segment
}

func newRawTable(name string) *rawTable {
	rt := &rawTable{name: name}
	rt.memPtr.Store(memtable.New())
	return rt
}

func (rt *rawTable) mem() *memtable.MemTable {
	return rt.memPtr.Load()
}

func (e *Engine) sstPath(name string) string {
	return filepath.Join(e.sstDir, EncodeSegmentName(name)+".sst")
}

// rawTableFor returns the rawTable for name, creating it and attempting
// to attach an on-disk segment if one already exists. Safe to call
// repeatedly; the second and later calls return the cached instance.
func (e *Engine) rawTableFor(name string) *rawTable {
	e.mu.RLock()
	rt, ok := e.raw[name]
	e.mu.RUnlock()
	if ok {
		return rt
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if rt, ok := e.raw[name]; ok {
		return rt
	}
	rt = newRawTable(name)
	if r, err := sst.Open(e.sstPath(name)); err == nil {
		rt.seg = r
	} else if !os.IsNotExist(err) {
		e.opts.logger().Warnw("unreadable segment at open, treating as empty", "table", name, "error", err)
	}
	e.raw[name] = rt
	return rt
}

func (rt *rawTable) segment() *sst.Reader {
	rt.segMu.RLock()
	defer rt.segMu.RUnlock()
	return rt.seg
}

func (rt *rawTable) setSegment(r *sst.Reader) {
	rt.segMu.Lock()
	rt.seg = r
	rt.segMu.Unlock()
}

// swapMem replaces rt's MemTable with a fresh empty one and returns the
// old instance, for the checkpoint freeze step. Caller must hold the
// engine's single-writer apply lock.
func (rt *rawTable) swapMem() *memtable.MemTable {
	return rt.memPtr.Swap(memtable.New())
}

// reset clears a rawTable in place for drop-table: fresh MemTable,
// disposed segment reader, and the backing files removed from disk.
func (e *Engine) resetRawTable(name string) {
	e.mu.RLock()
	rt, ok := e.raw[name]
	e.mu.RUnlock()
	if !ok {
		return
	}
	rt.memPtr.Store(memtable.New())
	rt.setSegment(nil)
	path := e.sstPath(name)
	_ = os.Remove(path)
	_ = os.Remove(path + ".sxi")
}
