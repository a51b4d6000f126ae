package diagnostics

import (
	"io"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"

	"github.com/bobboyms/walnutdb/internal/sst"
	"github.com/bobboyms/walnutdb/internal/wal"
)

// WALReport summarizes a scan of one WAL file without applying any of its
// content; TornAtOffset is set when the scan stops at a torn or corrupt
// frame.
type WALReport struct {
	Path         string
	FrameCount   int
	CleanEOF     bool
	TornAtOffset int64
}

// ScanWAL reads every frame in path sequentially and reports where it
// stopped; it never truncates the file.
func ScanWAL(path string) (WALReport, error) {
	r, err := wal.OpenReader(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return WALReport{Path: path, CleanEOF: true}, nil
		}
		return WALReport{}, err
	}
	defer r.Close()

	report := WALReport{Path: path}
	for {
		_, err := r.Next()
		if err == io.EOF {
			report.CleanEOF = true
			return report, nil
		}
		if err != nil {
			report.TornAtOffset = r.Offset()
			return report, nil
		}
		report.FrameCount++
	}
}

// SegmentReport summarizes one segment file's header/trailer validity.
type SegmentReport struct {
	Path  string
	Valid bool
	Error string
}

// ScanSegments validates every *.sst file in dir, without applying or
// reading full record bodies beyond what sst.Open checks.
func ScanSegments(dir string) ([]SegmentReport, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "diagnostics: read dir %s", dir)
	}
	var reports []SegmentReport
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".sst" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		_, err := sst.Open(path)
		if err != nil {
			reports = append(reports, SegmentReport{Path: path, Valid: false, Error: err.Error()})
			continue
		}
		reports = append(reports, SegmentReport{Path: path, Valid: true})
	}
	return reports, nil
}
