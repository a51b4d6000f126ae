package walnutdb

import (
	"io"
	"os"
	"path/filepath"
	"syscall"

	"github.com/cockroachdb/errors"
)

// Flush forces an immediate durable WAL flush without running a full
// checkpoint.
func (e *Engine) Flush() error {
	if err := e.checkClosed(); err != nil {
		return err
	}
	return e.walw.Flush()
}

// Stats reports a point-in-time snapshot of engine-level counts, backed by
// the same bookkeeping Checkpoint and OpenTable already maintain. It is a
// thin read of state the engine already tracks for its own purposes, not
// a separate accounting subsystem.
type Stats struct {
	TableCount   int
	IndexCount   int
	SegmentCount int
	WALSizeBytes int64
	LastSeqNo    uint64
}

// Stats returns the current snapshot described above.
func (e *Engine) Stats() (Stats, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	st := Stats{LastSeqNo: e.seq.Load(), TableCount: len(e.tables)}
	for _, t := range e.tables {
		st.IndexCount += len(t.idx)
	}
	for _, rt := range e.raw {
		if rt.segment() != nil {
			st.SegmentCount++
		}
	}
	if fi, err := os.Stat(filepath.Join(e.rootDir, "wal.log")); err == nil {
		st.WALSizeBytes = fi.Size()
	}
	return st, nil
}

// PreflightReport reports the disk-space and writability probe of
// Preflight.
type PreflightReport struct {
	RootDir        string
	FreeBytes      uint64
	TotalBytes     uint64
	WriteableProbe bool
}

// Preflight probes the root directory for free disk space and
// writability: a free function taking a root directory rather than an
// open *Engine, so a caller can run it before ever calling Open.
func Preflight(rootDir string) (PreflightReport, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(rootDir, &stat); err != nil {
		return PreflightReport{}, errors.Wrapf(err, "walnutdb: statfs %s", rootDir)
	}
	report := PreflightReport{
		RootDir:    rootDir,
		FreeBytes:  uint64(stat.Bavail) * uint64(stat.Bsize),
		TotalBytes: uint64(stat.Blocks) * uint64(stat.Bsize),
	}

	probe := filepath.Join(rootDir, ".preflight-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0644); err == nil {
		report.WriteableProbe = true
		_ = os.Remove(probe)
	}
	return report, nil
}

// Backup runs a checkpoint (so every segment reflects state as of the
// backup) and copies the WAL and every segment file into dstDir.
func (e *Engine) Backup(dstDir string) error {
	if err := e.checkClosed(); err != nil {
		return err
	}
	if err := e.Checkpoint(); err != nil {
		return errors.Wrap(err, "walnutdb: checkpoint before backup")
	}

	if err := os.MkdirAll(filepath.Join(dstDir, "sst"), 0755); err != nil {
		return errors.Wrapf(err, "walnutdb: create backup sst dir under %s", dstDir)
	}
	if err := copyFile(filepath.Join(e.rootDir, "wal.log"), filepath.Join(dstDir, "wal.log")); err != nil {
		return err
	}

	entries, err := os.ReadDir(e.sstDir)
	if err != nil {
		return errors.Wrapf(err, "walnutdb: read segment dir %s", e.sstDir)
	}
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		src := filepath.Join(e.sstDir, ent.Name())
		dst := filepath.Join(dstDir, "sst", ent.Name())
		if err := copyFile(src, dst); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "walnutdb: open %s", src)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return errors.Wrapf(err, "walnutdb: create %s", dst)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return errors.Wrapf(err, "walnutdb: copy %s to %s", src, dst)
	}
	return out.Sync()
}

// Defragment rebuilds every open table's indexes from the current base
// rows and runs one full checkpoint. The engine keeps no version chains,
// so a full rebuild plus checkpoint is the whole story.
func (e *Engine) Defragment() error {
	if err := e.checkClosed(); err != nil {
		return err
	}

	e.mu.RLock()
	tables := make([]*Table, 0, len(e.tables))
	for _, t := range e.tables {
		tables = append(tables, t)
	}
	e.mu.RUnlock()

	for _, t := range tables {
		if len(t.idx) == 0 {
			continue
		}
		names := make([]string, 0, len(t.idx))
		for name := range t.idx {
			names = append(names, name)
		}
		if err := e.rebuildIndexes(t, names); err != nil {
			return errors.Wrapf(err, "walnutdb: defragment table %s", t.name)
		}
	}
	return e.Checkpoint()
}
