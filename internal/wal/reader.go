package wal

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/cockroachdb/errors"

	walnuterrors "github.com/bobboyms/walnutdb/pkg/errors"
)

// Reader reads frames sequentially from a WAL file: a bare *os.File plus
// a running offset, with io.ReadFull for fixed-size reads and io.EOF
// distinguishing a clean end from a torn tail.
type Reader struct {
	file   *os.File
	offset int64
}

// OpenReader opens path for sequential frame reading from the start.
func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "wal: open %s for read", path)
	}
	return &Reader{file: f}, nil
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}

// Offset returns the byte offset of the next frame to be read; after a torn
// tail is detected this is the point the WAL should be truncated to.
func (r *Reader) Offset() int64 {
	return r.offset
}

// Next reads the next frame's payload. It returns io.EOF when the file
// ends cleanly on a frame boundary, TornTailError for a short read, and
// CorruptWALError for a CRC mismatch or an implausible length. Either
// error means the caller should stop reading and truncate the file at
// r.Offset().
func (r *Reader) Next() ([]byte, error) {
	lenBuf := make([]byte, 4)
	n, err := io.ReadFull(r.file, lenBuf)
	if err == io.EOF && n == 0 {
		return nil, io.EOF
	}
	if err != nil {
		return nil, &walnuterrors.TornTailError{Path: r.file.Name(), Offset: r.offset, Reason: "short length prefix"}
	}

	payloadLen := binary.LittleEndian.Uint32(lenBuf)
	if payloadLen > 256*1024*1024 {
		return nil, &walnuterrors.CorruptWALError{Path: r.file.Name(), Offset: r.offset, Reason: "implausible payload length"}
	}

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r.file, payload); err != nil {
		return nil, &walnuterrors.TornTailError{Path: r.file.Name(), Offset: r.offset, Reason: "short payload"}
	}

	crcBuf := make([]byte, 4)
	if _, err := io.ReadFull(r.file, crcBuf); err != nil {
		return nil, &walnuterrors.TornTailError{Path: r.file.Name(), Offset: r.offset, Reason: "short crc"}
	}
	wantCRC := binary.LittleEndian.Uint32(crcBuf)
	if gotCRC := ChecksumPayload(payload); gotCRC != wantCRC {
		return nil, &walnuterrors.CorruptWALError{Path: r.file.Name(), Offset: r.offset, Reason: "crc mismatch"}
	}

	r.offset += int64(4 + len(payload) + 4)
	return payload, nil
}

// Action is one recorded mutation inside an in-flight transaction, captured
// as a closure so Replay can invoke them in original order once the owning
// transaction's Commit frame is observed.
type Action func(h Handlers)

// Handlers are the callbacks Replay drives as it applies committed
// transactions; the caller (the database engine) supplies these so this
// package stays ignorant of table/memtable internals.
type Handlers struct {
	OnPut       func(table string, key, value []byte)
	OnDelete    func(table string, key []byte)
	OnDropTable func(table string)
}

// Replay reads every frame in path, replaying committed transactions
// through h in commit order, and returns the offset the file should be
// truncated to (the offset of the first torn or unparseable frame, or the
// file's full length if every frame was clean) along with the highest
// tx_id and seq_no observed, so the caller can resume allocation past
// them.
func Replay(path string, h Handlers) (truncateTo int64, maxTxID uint64, maxSeqNo uint64, err error) {
	r, err := OpenReader(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, 0, 0, nil
		}
		return 0, 0, 0, err
	}
	defer r.Close()

	pending := make(map[uint64][]Action)

	for {
		frameStart := r.Offset()
		payload, rerr := r.Next()
		if rerr == io.EOF {
			return r.Offset(), maxTxID, maxSeqNo, nil
		}
		if rerr != nil {
			// Torn tail: stop here, discard whatever transaction was
			// in flight at the break, truncate at the last good frame.
			return r.Offset(), maxTxID, maxSeqNo, nil
		}

		op, ok := PeekOpcode(payload)
		if !ok {
			return frameStart, maxTxID, maxSeqNo, nil
		}

		switch op {
		case OpBegin:
			txID, seqNo, ok := DecodeBegin(payload)
			if !ok {
				return frameStart, maxTxID, maxSeqNo, nil
			}
			if txID > maxTxID {
				maxTxID = txID
			}
			if seqNo > maxSeqNo {
				maxSeqNo = seqNo
			}
			pending[txID] = nil

		case OpPut:
			txID, table, key, value, ok := DecodePut(payload)
			if !ok {
				return frameStart, maxTxID, maxSeqNo, nil
			}
			kCopy, vCopy := append([]byte(nil), key...), append([]byte(nil), value...)
			pending[txID] = append(pending[txID], func(hh Handlers) {
				hh.OnPut(table, kCopy, vCopy)
			})

		case OpDelete:
			txID, table, key, ok := DecodeDelete(payload)
			if !ok {
				return frameStart, maxTxID, maxSeqNo, nil
			}
			kCopy := append([]byte(nil), key...)
			pending[txID] = append(pending[txID], func(hh Handlers) {
				hh.OnDelete(table, kCopy)
			})

		case OpDropTable:
			txID, table, ok := DecodeDropTable(payload)
			if !ok {
				return frameStart, maxTxID, maxSeqNo, nil
			}
			pending[txID] = append(pending[txID], func(hh Handlers) {
				hh.OnDropTable(table)
			})

		case OpCommit:
			txID, _, ok := DecodeCommit(payload)
			if !ok {
				return frameStart, maxTxID, maxSeqNo, nil
			}
			actions, known := pending[txID]
			if known {
				for _, action := range actions {
					action(h)
				}
				delete(pending, txID)
			}

		default:
			return frameStart, maxTxID, maxSeqNo, nil
		}
	}
}
