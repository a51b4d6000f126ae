// Package uniqueguard implements the process-wide unique-guard registry:
// an in-memory map from (index name, value prefix) to the primary key
// currently holding that value, used to enforce uniqueness across
// concurrent transactions before a commit ever touches the WAL or a
// segment. The reservation covers the transaction's in-flight window, not
// just what has already been committed: a writer must reserve a value
// before it stages the row, so two concurrent transactions racing on the
// same unique value cannot both believe they have it free.
package uniqueguard

import (
	"encoding/base64"
	"sync"
	"time"

	walnuterrors "github.com/bobboyms/walnutdb/pkg/errors"
)

type key struct {
	index  string
	prefix string // base64 of the value prefix bytes, so it is map-safe
}

// Registry is the process-wide map guarding unique index values. It is
// never persisted: on open, the engine must reseed it from the current
// committed state (see Seed).
type Registry struct {
	mu    sync.Mutex
	owner map[key]string // composite key -> owning primary key (string form)
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{owner: make(map[key]string)}
}

func makeKey(indexName string, valuePrefix []byte) key {
	return key{index: indexName, prefix: base64.StdEncoding.EncodeToString(valuePrefix)}
}

// TryReserve attempts to claim valuePrefix under indexName for pk. If the
// slot is already owned by a different pk, verify is called with the
// current owner so a stale reservation (left behind by a transaction that
// rolled back without releasing) can be detected and cleared before
// reservation is retried.
// TryReserve spins briefly, bounded by timeout, since the owning
// transaction is usually mid-commit and releases or confirms within
// microseconds.
func (r *Registry) TryReserve(indexName string, valuePrefix []byte, pk string, timeout time.Duration, verify func(stillOwned bool, ownerPK string) bool) error {
	k := makeKey(indexName, valuePrefix)
	deadline := time.Now().Add(timeout)

	for {
		r.mu.Lock()
		current, taken := r.owner[k]
		if !taken || current == pk {
			r.owner[k] = pk
			r.mu.Unlock()
			return nil
		}
		r.mu.Unlock()

		if verify != nil && !verify(true, current) {
			// verify reports the existing reservation is stale (its owning
			// transaction is gone); clear it and retry immediately.
			r.mu.Lock()
			if r.owner[k] == current {
				delete(r.owner, k)
			}
			r.mu.Unlock()
			continue
		}

		if time.Now().After(deadline) {
			return &walnuterrors.UniqueViolationError{Index: indexName, Key: valuePrefix}
		}
		time.Sleep(time.Millisecond)
	}
}

// IsOwner reports whether pk currently owns valuePrefix under indexName.
func (r *Registry) IsOwner(indexName string, valuePrefix []byte, pk string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.owner[makeKey(indexName, valuePrefix)] == pk
}

// Release drops a reservation, but only if pk is still the owner: a
// transaction that lost a race (and so never actually held the slot)
// must not release the winner's reservation out from under it.
func (r *Registry) Release(indexName string, valuePrefix []byte, pk string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := makeKey(indexName, valuePrefix)
	if r.owner[k] == pk {
		delete(r.owner, k)
	}
}

// ClearForIndex drops every reservation under indexName, used when a
// table's unique index is dropped or the table itself is dropped.
func (r *Registry) ClearForIndex(indexName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.owner {
		if k.index == indexName {
			delete(r.owner, k)
		}
	}
}

// Seed installs the registry's initial state on engine open, deriving it
// from every (indexName, valuePrefix, pk) triple the caller found while
// scanning committed unique indexes. Seed does not check for conflicts:
// callers are expected to have already deduplicated by keeping only the
// live/most-recent (valuePrefix, pk) pair per prefix, the same rule the
// checkpoint's unique-index merge applies on disk.
func (r *Registry) Seed(entries []Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range entries {
		r.owner[makeKey(e.IndexName, e.ValuePrefix)] = e.PK
	}
}

// Entry is one (index, value prefix, owning pk) triple, used by Seed to
// describe registry state derived from disk.
type Entry struct {
	IndexName   string
	ValuePrefix []byte
	PK          string
}

// Len reports how many reservations are currently held, for diagnostics.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.owner)
}
