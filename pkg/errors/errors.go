// Package errors collects the domain error taxonomy for WalnutDB.
//
// Every error here is an exported struct implementing error: no wrapper
// type, just a concrete struct a caller can type-assert against with
// errors.As. Internal plumbing
// (recovery, checkpoint, WAL) wraps these with github.com/cockroachdb/errors
// for stack traces before they bubble up, so callers of the public engine
// surface find these types with errors.As rather than a direct type
// assertion; some failures (a finished transaction, an empty table name)
// are plain errors with none of these types.
package errors

import "fmt"

// TableNotFoundError is returned whenever a logical name has no open table.
type TableNotFoundError struct {
	Name string
}

func (e *TableNotFoundError) Error() string {
	return fmt.Sprintf("table %q not found", e.Name)
}

// IndexAlreadyExistsError is returned by OpenTable when a RowDescriptor
// declares two indexes under the same name.
type IndexAlreadyExistsError struct {
	Table string
	Name  string
}

func (e *IndexAlreadyExistsError) Error() string {
	return fmt.Sprintf("index %q already exists on table %q", e.Name, e.Table)
}

// IndexNotFoundError is returned when a named index has no definition on
// the table it is referenced against.
type IndexNotFoundError struct {
	Table string
	Name  string
}

func (e *IndexNotFoundError) Error() string {
	return fmt.Sprintf("index %q not found on table %q", e.Name, e.Table)
}

// InvalidKeyTypeError is returned when an index extractor yields a value
// whose kind the index key codec cannot encode.
type InvalidKeyTypeError struct {
	Name string
	Kind string
}

func (e *InvalidKeyTypeError) Error() string {
	return fmt.Sprintf("invalid value kind for index %q: %s", e.Name, e.Kind)
}

// UniqueViolationError is raised when an upsert would make a unique index
// prefix owned by more than one primary key.
type UniqueViolationError struct {
	Table string
	Index string
	Key   []byte
}

func (e *UniqueViolationError) Error() string {
	return fmt.Sprintf("unique index violation: table %q index %q, value prefix already owned by another primary key", e.Table, e.Index)
}

// TornTailError reports the byte offset at which WAL recovery discarded an
// incomplete trailing frame (a short read); corrupt frames are reported as
// CorruptWALError.
type TornTailError struct {
	Path   string
	Offset int64
	Reason string
}

func (e *TornTailError) Error() string {
	return fmt.Sprintf("torn WAL tail in %q at offset %d: %s", e.Path, e.Offset, e.Reason)
}

// CorruptWALError reports a structurally invalid frame found while reading
// the WAL: a CRC mismatch or an implausible declared length. Recovery
// treats it the same way as a torn tail, truncating at the last good
// offset, but the distinction matters to diagnostics, which report a
// corrupt frame mid-file differently from a short trailing write.
type CorruptWALError struct {
	Path   string
	Offset int64
	Reason string
}

func (e *CorruptWALError) Error() string {
	return fmt.Sprintf("corrupt WAL frame in %q at offset %d: %s", e.Path, e.Offset, e.Reason)
}

// InvalidSegmentError is returned when a segment file fails header, record,
// or trailer validation and cannot be promoted.
type InvalidSegmentError struct {
	Path   string
	Reason string
}

func (e *InvalidSegmentError) Error() string {
	return fmt.Sprintf("invalid segment %q: %s", e.Path, e.Reason)
}

// EngineClosedError is returned by the engine's write and admin operations
// (and OpenTable/Table) when attempted after Close; reads do not check.
type EngineClosedError struct{}

func (e *EngineClosedError) Error() string {
	return "operation attempted on a closed engine"
}

// PrimaryKeyNotDefinedError is returned by OpenTable when no extractor is
// marked as the primary key.
type PrimaryKeyNotDefinedError struct {
	TableName string
}

func (e *PrimaryKeyNotDefinedError) Error() string {
	return fmt.Sprintf("primary key not defined for table %q", e.TableName)
}
