package walnutdb

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
)

// DropTable writes a (Begin, DropTable, Commit) transaction to the WAL and
// then purges the table and every derived `__index__T__*` key-space from
// memory and disk.
func (e *Engine) DropTable(name string) error {
	if err := e.checkClosed(); err != nil {
		return err
	}
	tx := e.Begin()
	tx.AddDropTable(name)
	if err := tx.Commit(e.opts.Durability); err != nil {
		return errors.Wrapf(err, "walnutdb: drop table %s", name)
	}

	e.mu.Lock()
	if t, ok := e.tables[name]; ok {
		for ixName := range t.idx {
			e.guard.ClearForIndex(indexTableName(name, ixName))
		}
	}
	delete(e.tables, name)
	e.mu.Unlock()

	return nil
}

// dropTableAndIndexes is the in-memory half of Drop Table: it is invoked
// both from the live apply closure staged by AddDropTable and from WAL
// replay, so a table dropped before a crash stays dropped across restart
// even if it is never reopened.
func (e *Engine) dropTableAndIndexes(table string) {
	e.resetRawTable(table)

	prefix := indexTableName(table, "")
	e.mu.RLock()
	var names []string
	for name := range e.raw {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	e.mu.RUnlock()
	for _, n := range names {
		e.resetRawTable(n)
		e.guard.ClearForIndex(n)
	}

	e.sweepIndexSegmentFiles(table)
}

// sweepIndexSegmentFiles best-effort removes on-disk segment files for
// index key-spaces of table that were never loaded into e.raw this run
// (e.g. published by a checkpoint before the WAL currently being replayed
// began). This relies on EncodeSegmentName being the identity mapping for
// ordinary ASCII table/index names, which holds for every name this engine
// derives itself via indexTableName.
func (e *Engine) sweepIndexSegmentFiles(table string) {
	prefix := EncodeSegmentName(indexTableName(table, ""))
	entries, err := os.ReadDir(e.sstDir)
	if err != nil {
		return
	}
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		base := strings.TrimSuffix(strings.TrimSuffix(ent.Name(), ".sxi"), ".sst")
		if strings.HasPrefix(base, prefix) {
			_ = os.Remove(filepath.Join(e.sstDir, ent.Name()))
		}
	}
}
