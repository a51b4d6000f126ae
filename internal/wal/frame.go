// Package wal implements the write-ahead log: a framed, CRC-checked
// binary log with a group-commit writer and a torn-tail-tolerant recovery
// reader.
//
// The frame envelope (len:u32 | payload | crc32:u32) and the per-opcode
// payload layouts are exact byte formats, encoded field by field with
// encoding/binary: each opcode has an Encode/Decode pair plus a shared
// CRC32 helper, and the writer keeps a sync.Pool of requests so the
// group-commit hot path stays allocation-light.
package wal

import (
	"encoding/binary"
	"hash/crc32"
)

// Opcode identifies the kind of payload carried by a frame.
type Opcode uint8

const (
	OpBegin     Opcode = 0x01
	OpPut       Opcode = 0x02
	OpDelete    Opcode = 0x03
	OpDropTable Opcode = 0x04
	OpCommit    Opcode = 0xFF
)

// crc32Table is the IEEE polynomial table (0xEDB88320 reflected).
var crc32Table = crc32.MakeTable(crc32.IEEE)

// ChecksumPayload computes the frame CRC32 over a payload.
func ChecksumPayload(payload []byte) uint32 {
	return crc32.Checksum(payload, crc32Table)
}

// EncodeFrame wraps a payload in the len|payload|crc32 envelope.
func EncodeFrame(payload []byte) []byte {
	out := make([]byte, 4+len(payload)+4)
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(payload)))
	copy(out[4:4+len(payload)], payload)
	binary.LittleEndian.PutUint32(out[4+len(payload):], ChecksumPayload(payload))
	return out
}

// EncodeBegin builds a Begin payload: op | tx_id:u64 | seq_no:u64.
func EncodeBegin(txID, seqNo uint64) []byte {
	buf := make([]byte, 1+8+8)
	buf[0] = byte(OpBegin)
	binary.LittleEndian.PutUint64(buf[1:9], txID)
	binary.LittleEndian.PutUint64(buf[9:17], seqNo)
	return buf
}

// DecodeBegin parses a Begin payload (the op byte must already be stripped
// or present at offset 0; this takes the full payload including op byte).
func DecodeBegin(payload []byte) (txID, seqNo uint64, ok bool) {
	if len(payload) < 17 {
		return 0, 0, false
	}
	return binary.LittleEndian.Uint64(payload[1:9]), binary.LittleEndian.Uint64(payload[9:17]), true
}

// EncodePut builds a Put payload:
// op | tx_id:u64 | table_len:u16 | key_len:u32 | value_len:u32 | table | key | value.
func EncodePut(txID uint64, table string, key, value []byte) []byte {
	tb := []byte(table)
	buf := make([]byte, 1+8+2+4+4+len(tb)+len(key)+len(value))
	off := 0
	buf[off] = byte(OpPut)
	off++
	binary.LittleEndian.PutUint64(buf[off:off+8], txID)
	off += 8
	binary.LittleEndian.PutUint16(buf[off:off+2], uint16(len(tb)))
	off += 2
	binary.LittleEndian.PutUint32(buf[off:off+4], uint32(len(key)))
	off += 4
	binary.LittleEndian.PutUint32(buf[off:off+4], uint32(len(value)))
	off += 4
	copy(buf[off:], tb)
	off += len(tb)
	copy(buf[off:], key)
	off += len(key)
	copy(buf[off:], value)
	return buf
}

// DecodePut parses a Put payload.
func DecodePut(payload []byte) (txID uint64, table string, key, value []byte, ok bool) {
	if len(payload) < 1+8+2+4+4 {
		return 0, "", nil, nil, false
	}
	off := 1
	txID = binary.LittleEndian.Uint64(payload[off : off+8])
	off += 8
	tableLen := int(binary.LittleEndian.Uint16(payload[off : off+2]))
	off += 2
	keyLen := int(binary.LittleEndian.Uint32(payload[off : off+4]))
	off += 4
	valueLen := int(binary.LittleEndian.Uint32(payload[off : off+4]))
	off += 4
	need := off + tableLen + keyLen + valueLen
	if len(payload) < need {
		return 0, "", nil, nil, false
	}
	table = string(payload[off : off+tableLen])
	off += tableLen
	key = payload[off : off+keyLen]
	off += keyLen
	value = payload[off : off+valueLen]
	return txID, table, key, value, true
}

// EncodeDelete builds a Delete payload:
// op | tx_id:u64 | table_len:u16 | key_len:u32 | table | key.
func EncodeDelete(txID uint64, table string, key []byte) []byte {
	tb := []byte(table)
	buf := make([]byte, 1+8+2+4+len(tb)+len(key))
	off := 0
	buf[off] = byte(OpDelete)
	off++
	binary.LittleEndian.PutUint64(buf[off:off+8], txID)
	off += 8
	binary.LittleEndian.PutUint16(buf[off:off+2], uint16(len(tb)))
	off += 2
	binary.LittleEndian.PutUint32(buf[off:off+4], uint32(len(key)))
	off += 4
	copy(buf[off:], tb)
	off += len(tb)
	copy(buf[off:], key)
	return buf
}

// DecodeDelete parses a Delete payload.
func DecodeDelete(payload []byte) (txID uint64, table string, key []byte, ok bool) {
	if len(payload) < 1+8+2+4 {
		return 0, "", nil, false
	}
	off := 1
	txID = binary.LittleEndian.Uint64(payload[off : off+8])
	off += 8
	tableLen := int(binary.LittleEndian.Uint16(payload[off : off+2]))
	off += 2
	keyLen := int(binary.LittleEndian.Uint32(payload[off : off+4]))
	off += 4
	need := off + tableLen + keyLen
	if len(payload) < need {
		return 0, "", nil, false
	}
	table = string(payload[off : off+tableLen])
	off += tableLen
	key = payload[off : off+keyLen]
	return txID, table, key, true
}

// EncodeDropTable builds a DropTable payload: op | tx_id:u64 | table_len:u16 | table.
func EncodeDropTable(txID uint64, table string) []byte {
	tb := []byte(table)
	buf := make([]byte, 1+8+2+len(tb))
	buf[0] = byte(OpDropTable)
	binary.LittleEndian.PutUint64(buf[1:9], txID)
	binary.LittleEndian.PutUint16(buf[9:11], uint16(len(tb)))
	copy(buf[11:], tb)
	return buf
}

// DecodeDropTable parses a DropTable payload.
func DecodeDropTable(payload []byte) (txID uint64, table string, ok bool) {
	if len(payload) < 1+8+2 {
		return 0, "", false
	}
	txID = binary.LittleEndian.Uint64(payload[1:9])
	tableLen := int(binary.LittleEndian.Uint16(payload[9:11]))
	if len(payload) < 11+tableLen {
		return 0, "", false
	}
	return txID, string(payload[11 : 11+tableLen]), true
}

// EncodeCommit builds a Commit payload: op | tx_id:u64 | ops_count:u32.
func EncodeCommit(txID uint64, opsCount uint32) []byte {
	buf := make([]byte, 1+8+4)
	buf[0] = byte(OpCommit)
	binary.LittleEndian.PutUint64(buf[1:9], txID)
	binary.LittleEndian.PutUint32(buf[9:13], opsCount)
	return buf
}

// DecodeCommit parses a Commit payload.
func DecodeCommit(payload []byte) (txID uint64, opsCount uint32, ok bool) {
	if len(payload) < 1+8+4 {
		return 0, 0, false
	}
	return binary.LittleEndian.Uint64(payload[1:9]), binary.LittleEndian.Uint32(payload[9:13]), true
}

// PeekOpcode reads the opcode byte from a payload.
func PeekOpcode(payload []byte) (Opcode, bool) {
	if len(payload) < 1 {
		return 0, false
	}
	return Opcode(payload[0]), true
}
