// Package walnutdb is an embedded, crash-safe, single-process key-value
// engine: a write-ahead log for durability, an in-memory MemTable for the
// hot path, immutable on-disk segments produced by checkpoint, a
// secondary-index layer with process-wide unique-value enforcement, and a
// transactional apply path with a single visible state transition per
// commit.
package walnutdb

import (
	"time"

	"go.uber.org/zap"

	"github.com/bobboyms/walnutdb/internal/diagnostics"
	"github.com/bobboyms/walnutdb/pkg/aead"
)

// DurabilityMode re-exports the WAL's durability tiers at the engine
// boundary, since callers configure durability per commit and per engine
// without needing to import internal/wal themselves.
type DurabilityMode = int

const (
	Safe  DurabilityMode = iota // fsync before commit returns
	Group                       // batched fsync within the group-commit window
	Fast                        // best-effort, deferred fsync
)

// TypeNamingMode controls how OpenTableFor derives a logical table name
// from a row type when the caller does not supply one explicitly; see
// ResolveTableName.
type TypeNamingMode int

const (
	// FullName uses the row type's fully qualified name.
	FullName TypeNamingMode = iota
	// NameOnly uses just the row type's short name.
	NameOnly
	// NamespaceQualified prefixes the short name with a caller-supplied
	// namespace.
	NamespaceQualified
	// Custom defers entirely to Options.CustomTypeName.
	Custom
)

// Options configures an Engine. DefaultOptions supplies the defaults;
// callers override individual fields from there.
type Options struct {
	RootDir string

	Durability DurabilityMode
	Encryption aead.Sealer // nil means no encryption (NoopSealer is used)

	TypeNaming     TypeNamingMode
	Namespace      string // prefix applied by NamespaceQualified naming
	CustomTypeName func(any) string

	CheckpointOnDispose bool

	GroupCommitWindow    time.Duration
	MaxBatch             int
	SSTSidecarSampleRate int
	PageSize             int

	Logger  *zap.SugaredLogger
	Metrics *diagnostics.Registry
}

// DefaultOptions returns the default configuration rooted at rootDir.
func DefaultOptions(rootDir string) Options {
	return Options{
		RootDir:              rootDir,
		Durability:           Safe,
		TypeNaming:           FullName,
		CheckpointOnDispose:  false,
		GroupCommitWindow:    25 * time.Millisecond,
		MaxBatch:             256,
		SSTSidecarSampleRate: 64,
		PageSize:             256,
		Logger:               zap.NewNop().Sugar(),
	}
}

func (o Options) sealer() aead.Sealer {
	if o.Encryption != nil {
		return o.Encryption
	}
	return aead.NoopSealer{}
}

func (o Options) logger() *zap.SugaredLogger {
	if o.Logger != nil {
		return o.Logger
	}
	return zap.NewNop().Sugar()
}
