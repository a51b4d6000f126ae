package walnutdb

import (
	"github.com/bobboyms/walnutdb/pkg/indexkey"
)

// IndexDescriptor describes one secondary index maintained alongside a
// table's base rows. Extract inspects an already-encoded row (the same
// bytes passed to Upsert) and reports the indexed value, or present=false
// if the row has no value for this index (a null field, say).
//
// This is the explicit row-descriptor design called for in place of the
// reflection-based attribute discovery a managed-runtime source would
// use: callers declare extractors once at OpenTable time instead of the
// engine inspecting row structures at every write.
type IndexDescriptor struct {
	Name   string
	Unique bool
	// Scale is not read by the engine: decimal encoding uses the Scale
	// carried on the indexkey.Value that Extract returns.
	Scale   int
	Extract func(row []byte) (indexkey.Value, bool, error)
}

// RowDescriptor binds a table's primary-key extractor and its secondary
// indexes. PK must be deterministic and total: every row ever passed to
// Upsert must produce a non-empty primary key.
type RowDescriptor struct {
	PK      func(row []byte) ([]byte, error)
	Indexes []IndexDescriptor
}
