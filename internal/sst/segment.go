// Package sst implements the immutable on-disk segment format: a sorted
// run of key/value records produced once by merging a frozen MemTable
// with the prior segment, published atomically via temp-file-then-rename,
// and never mutated again. There is no in-place update, no version chain,
// no rotation: checkpoint produces a brand new segment and retires the
// old one wholesale.
package sst

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"

	"github.com/cockroachdb/errors"

	"github.com/bobboyms/walnutdb/internal/keyenc"
	walnuterrors "github.com/bobboyms/walnutdb/pkg/errors"
)

// Magic identifies a WalnutDB segment file.
var Magic = [8]byte{'S', 'S', 'T', 'v', '1', 0, 0, 0}

// Record is one key/value pair as stored in a segment. Segments hold only
// live entries: the checkpoint merge resolves MemTable tombstones before
// anything reaches Write.
type Record struct {
	Key   []byte
	Value []byte
}

// defaultSidecarStride controls how many records separate two sparse-index
// entries in the .sxi sidecar when the caller does not choose a rate.
const defaultSidecarStride = 64

// Write streams records (already sorted and deduplicated by the caller,
// i.e. the checkpoint merge) to a new segment file at finalPath, writing to
// finalPath+".tmp" and finalPath+".tmp.sxi" first and renaming both into
// place only once both are fully flushed and synced, so a reader never
// observes a partially written segment.
func Write(finalPath string, sidecarStride int, records func(yield func(Record) bool)) (err error) {
	if sidecarStride <= 0 {
		sidecarStride = defaultSidecarStride
	}

	tmpPath := finalPath + ".tmp"
	sidecarTmpPath := finalPath + ".tmp.sxi"
	sidecarPath := finalPath + ".sxi"

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return errors.Wrapf(err, "sst: create %s", tmpPath)
	}
	sf, err := os.OpenFile(sidecarTmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		f.Close()
		return errors.Wrapf(err, "sst: create %s", sidecarTmpPath)
	}

	defer func() {
		if err != nil {
			f.Close()
			sf.Close()
			os.Remove(tmpPath)
			os.Remove(sidecarTmpPath)
		}
	}()

	w := bufio.NewWriterSize(f, 256*1024)
	if _, err = w.Write(Magic[:]); err != nil {
		return errors.Wrap(err, "sst: write magic")
	}

	sw := bufio.NewWriter(sf)

	var count uint32
	var offset int64 = int64(len(Magic))
	var writeErr error

	records(func(rec Record) bool {
		if count%uint32(sidecarStride) == 0 {
			if werr := writeSidecarEntry(sw, rec.Key, offset); werr != nil {
				writeErr = werr
				return false
			}
		}

		n, werr := writeRecord(w, rec)
		if werr != nil {
			writeErr = werr
			return false
		}
		offset += n
		count++
		return true
	})
	if writeErr != nil {
		err = writeErr
		return err
	}

	trailer := make([]byte, 4)
	binary.LittleEndian.PutUint32(trailer, count)
	if _, err = w.Write(trailer); err != nil {
		return errors.Wrap(err, "sst: write trailer")
	}

	if err = w.Flush(); err != nil {
		return errors.Wrap(err, "sst: flush data")
	}
	if err = f.Sync(); err != nil {
		return errors.Wrap(err, "sst: fsync data")
	}
	if err = f.Close(); err != nil {
		return errors.Wrap(err, "sst: close data")
	}

	if err = sw.Flush(); err != nil {
		return errors.Wrap(err, "sst: flush sidecar")
	}
	if err = sf.Sync(); err != nil {
		return errors.Wrap(err, "sst: fsync sidecar")
	}
	if err = sf.Close(); err != nil {
		return errors.Wrap(err, "sst: close sidecar")
	}

	if err = os.Rename(sidecarTmpPath, sidecarPath); err != nil {
		return errors.Wrap(err, "sst: publish sidecar")
	}
	if err = os.Rename(tmpPath, finalPath); err != nil {
		return errors.Wrap(err, "sst: publish segment")
	}
	return nil
}

func writeRecord(w *bufio.Writer, rec Record) (int64, error) {
	header := make([]byte, 8)
	binary.LittleEndian.PutUint32(header[0:4], uint32(len(rec.Key)))
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(rec.Value)))
	if _, err := w.Write(header); err != nil {
		return 0, errors.Wrap(err, "sst: write record header")
	}
	if _, err := w.Write(rec.Key); err != nil {
		return 0, errors.Wrap(err, "sst: write record key")
	}
	if _, err := w.Write(rec.Value); err != nil {
		return 0, errors.Wrap(err, "sst: write record value")
	}
	return int64(8 + len(rec.Key) + len(rec.Value)), nil
}

func writeSidecarEntry(w *bufio.Writer, key []byte, offset int64) error {
	buf := make([]byte, 4+len(key)+8)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(key)))
	copy(buf[4:4+len(key)], key)
	binary.LittleEndian.PutUint64(buf[4+len(key):], uint64(offset))
	_, err := w.Write(buf)
	return err
}

// Reader provides point lookups and range scans over a published segment
// file. Multiple readers can share one *Reader safely for point lookups
// (each call opens/seeks its own section); Open retries briefly on sharing
// violations so a reader racing a checkpoint's atomic rename doesn't fail
// outright.
type Reader struct {
	path    string
	dataEnd int64 // byte offset of the trailer; records end here
	sidecar []sidecarEntry
}

type sidecarEntry struct {
	key    []byte
	offset int64
}

// Open reads the sidecar index (if present) into memory and validates the
// segment's magic and trailer; it does not keep the data file open.
func Open(path string) (*Reader, error) {
	f, err := openWithRetry(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	magic := make([]byte, len(Magic))
	if _, err := io.ReadFull(f, magic); err != nil {
		return nil, &walnuterrors.InvalidSegmentError{Path: path, Reason: "cannot read magic"}
	}
	if string(magic) != string(Magic[:]) {
		return nil, &walnuterrors.InvalidSegmentError{Path: path, Reason: "bad magic"}
	}

	info, err := f.Stat()
	if err != nil {
		return nil, errors.Wrapf(err, "sst: stat %s", path)
	}
	if info.Size() < int64(len(Magic))+4 {
		return nil, &walnuterrors.InvalidSegmentError{Path: path, Reason: "file shorter than header+trailer"}
	}

	trailerBuf := make([]byte, 4)
	if _, err := f.ReadAt(trailerBuf, info.Size()-4); err != nil {
		return nil, &walnuterrors.InvalidSegmentError{Path: path, Reason: "cannot read trailer"}
	}

	r := &Reader{path: path, dataEnd: info.Size() - 4}
	r.sidecar, _ = loadSidecar(path + ".sxi")
	return r, nil
}

func loadSidecar(path string) ([]sidecarEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []sidecarEntry
	for {
		lenBuf := make([]byte, 4)
		if _, err := io.ReadFull(f, lenBuf); err != nil {
			break
		}
		keyLen := binary.LittleEndian.Uint32(lenBuf)
		rest := make([]byte, keyLen+8)
		if _, err := io.ReadFull(f, rest); err != nil {
			break
		}
		key := append([]byte(nil), rest[:keyLen]...)
		offset := int64(binary.LittleEndian.Uint64(rest[keyLen:]))
		entries = append(entries, sidecarEntry{key: key, offset: offset})
	}
	return entries, nil
}

// openWithRetry tolerates a checkpoint's rename-replace racing an open:
// a handful of short retries covers the brief window where the old path
// has been unlinked and the new one not yet visible.
func openWithRetry(path string) (*os.File, error) {
	var lastErr error
	for i := 0; i < 5; i++ {
		f, err := os.Open(path)
		if err == nil {
			return f, nil
		}
		lastErr = err
	}
	return nil, errors.Wrapf(lastErr, "sst: open %s", path)
}

// TryGet performs a point lookup: binary search the sidecar for the
// nearest entry at or before key, then scan forward in the data file.
// Returns ok=false if key is absent.
func (r *Reader) TryGet(key []byte) (value []byte, ok bool) {
	f, err := openWithRetry(r.path)
	if err != nil {
		return nil, false
	}
	defer f.Close()

	start := int64(len(Magic))
	if len(r.sidecar) > 0 {
		lo, hi := 0, len(r.sidecar)
		for lo < hi {
			mid := (lo + hi) / 2
			if keyenc.Compare(r.sidecar[mid].key, key) <= 0 {
				lo = mid + 1
			} else {
				hi = mid
			}
		}
		if lo > 0 {
			start = r.sidecar[lo-1].offset
		}
	}

	br := bufio.NewReader(io.NewSectionReader(f, start, r.dataEnd-start))
	for {
		rec, eof, err := readRecord(br)
		if eof || err != nil {
			return nil, false
		}
		cmp := keyenc.Compare(rec.Key, key)
		if cmp == 0 {
			return rec.Value, true
		}
		if cmp > 0 {
			return nil, false
		}
	}
}

// ScanRange iterates records with key in [from, to) (empty bound means
// unbounded on that side) in ascending order, invoking yield for each.
// Iteration stops early if yield returns false.
func (r *Reader) ScanRange(from, to []byte, yield func(Record) bool) error {
	f, err := openWithRetry(r.path)
	if err != nil {
		return err
	}
	defer f.Close()

	start := int64(len(Magic))
	if len(from) > 0 && len(r.sidecar) > 0 {
		lo, hi := 0, len(r.sidecar)
		for lo < hi {
			mid := (lo + hi) / 2
			if keyenc.Compare(r.sidecar[mid].key, from) <= 0 {
				lo = mid + 1
			} else {
				hi = mid
			}
		}
		if lo > 0 {
			start = r.sidecar[lo-1].offset
		}
	}

	br := bufio.NewReader(io.NewSectionReader(f, start, r.dataEnd-start))
	for {
		rec, eof, err := readRecord(br)
		if eof {
			return nil
		}
		if err != nil {
			return err
		}
		if len(from) > 0 && keyenc.Compare(rec.Key, from) < 0 {
			continue
		}
		if len(to) > 0 && keyenc.Compare(rec.Key, to) >= 0 {
			return nil
		}
		if !yield(rec) {
			return nil
		}
	}
}

func readRecord(br *bufio.Reader) (rec Record, eof bool, err error) {
	header := make([]byte, 8)
	if _, err := io.ReadFull(br, header); err != nil {
		if err == io.EOF {
			return Record{}, true, nil
		}
		return Record{}, false, err
	}
	keyLen := binary.LittleEndian.Uint32(header[0:4])
	valueLen := binary.LittleEndian.Uint32(header[4:8])

	// br is bounded to [start, dataEnd) by a SectionReader, so a clean
	// io.EOF here always means every record up to the trailer was
	// consumed, never a record mistaken for the trailer.
	key := make([]byte, keyLen)
	if _, err := io.ReadFull(br, key); err != nil {
		return Record{}, false, err
	}
	value := make([]byte, valueLen)
	if _, err := io.ReadFull(br, value); err != nil {
		return Record{}, false, err
	}
	return Record{Key: key, Value: value}, false, nil
}
