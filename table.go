package walnutdb

import (
	"github.com/cockroachdb/errors"

	walnuterrors "github.com/bobboyms/walnutdb/pkg/errors"
)

// indexState binds an IndexDescriptor to the rawTable backing its
// composite-key space.
type indexState struct {
	desc IndexDescriptor
	raw  *rawTable
}

// Table is a descriptor-bearing handle onto one logical table's rows and
// its secondary indexes, returned by OpenTable. It is the unit higher
// layers (Upsert/Get/Scan/Query) operate against; the Engine itself only
// deals in anonymous rawTables.
type Table struct {
	engine *Engine
	name   string
	desc   RowDescriptor
	raw    *rawTable
	idx    map[string]*indexState
}

// OpenTable registers (or re-attaches to) a logical table under name,
// binding desc's primary-key and index extractors. Calling OpenTable again
// with the same name returns a handle sharing the same underlying
// rawTables, so self-healing and reopen-after-restart do not require
// callers to track whether a table was "already open".
func (e *Engine) OpenTable(name string, desc RowDescriptor) (*Table, error) {
	if err := e.checkClosed(); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, errors.New("walnutdb: empty table name")
	}
	if desc.PK == nil {
		return nil, &walnuterrors.PrimaryKeyNotDefinedError{TableName: name}
	}

	t := &Table{
		engine: e,
		name:   name,
		desc:   desc,
		raw:    e.rawTableFor(name),
		idx:    make(map[string]*indexState),
	}
	for _, ix := range desc.Indexes {
		if _, dup := t.idx[ix.Name]; dup {
			return nil, &walnuterrors.IndexAlreadyExistsError{Table: name, Name: ix.Name}
		}
		t.idx[ix.Name] = &indexState{
			desc: ix,
			raw:  e.rawTableFor(indexTableName(name, ix.Name)),
		}
	}

	e.mu.Lock()
	e.tables[name] = t
	e.mu.Unlock()

	if err := e.healTable(t); err != nil {
		return nil, err
	}
	if err := e.seedUniqueGuards(t); err != nil {
		return nil, err
	}
	return t, nil
}

// Name returns the table's logical name.
func (t *Table) Name() string { return t.name }

// Table returns the already-open handle registered under name, so callers
// that opened a table in one place can look it up elsewhere without
// re-supplying the descriptor.
func (e *Engine) Table(name string) (*Table, error) {
	if err := e.checkClosed(); err != nil {
		return nil, err
	}
	e.mu.RLock()
	t, ok := e.tables[name]
	e.mu.RUnlock()
	if !ok {
		return nil, &walnuterrors.TableNotFoundError{Name: name}
	}
	return t, nil
}

// TableNames enumerates every currently registered logical table name.
// withIndexes also includes the derived `__index__T__I` key-spaces.
func (e *Engine) TableNames(withIndexes bool) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var names []string
	for name := range e.tables {
		names = append(names, name)
	}
	if withIndexes {
		for _, t := range e.tables {
			for ixName := range t.idx {
				names = append(names, indexTableName(t.name, ixName))
			}
		}
	}
	return names
}
