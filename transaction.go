package walnutdb

import (
	"math/rand"

	"github.com/cockroachdb/errors"

	"github.com/bobboyms/walnutdb/internal/wal"
)

// stagedOp is one WAL payload queued inside a Transaction, not yet framed.
type stagedOp struct {
	payload []byte
}

// Transaction stages a set of WAL frames and their equivalent MemTable
// mutations and applies both atomically on Commit: staging methods
// validate and queue an op, Commit runs a WAL-write phase followed by a
// memory-apply phase, Rollback unwinds via recorded undo actions. Apply
// and rollback are explicit closures because the apply step also covers
// non-row side effects such as unique-guard reservation and release.
type Transaction struct {
	engine *Engine
	txID   uint64
	seqNo  uint64

	ops       []stagedOp
	applies   []func()
	rollbacks []func()

	committed bool
	aborted   bool
}

// Begin allocates a random tx_id and the next monotonic seq_no and returns
// an empty transaction ready for staging.
func (e *Engine) Begin() *Transaction {
	return &Transaction{
		engine: e,
		txID:   rand.Uint64(),
		seqNo:  e.nextSeqNo(),
	}
}

// TxID returns the transaction's randomly allocated identifier.
func (tx *Transaction) TxID() uint64 { return tx.txID }

// AddPut stages a Put frame (value encrypted now, with table+key as AAD)
// and the equivalent plaintext MemTable upsert, run later at
// Commit once the WAL batch is durable.
func (tx *Transaction) AddPut(table string, key, value []byte) error {
	kCopy := append([]byte(nil), key...)
	vCopy := append([]byte(nil), value...)

	cipher, err := tx.engine.sealer.Encrypt(vCopy, table, kCopy)
	if err != nil {
		return errors.Wrapf(err, "walnutdb: encrypt put for table %s", table)
	}
	tx.ops = append(tx.ops, stagedOp{payload: wal.EncodePut(tx.txID, table, kCopy, cipher)})
	tx.AddApply(func() {
		tx.engine.rawTableFor(table).mem().Upsert(kCopy, vCopy)
	})
	return nil
}

// AddDelete stages a Delete frame and the equivalent MemTable tombstone.
func (tx *Transaction) AddDelete(table string, key []byte) {
	kCopy := append([]byte(nil), key...)
	tx.ops = append(tx.ops, stagedOp{payload: wal.EncodeDelete(tx.txID, table, kCopy)})
	tx.AddApply(func() {
		tx.engine.rawTableFor(table).mem().Delete(kCopy)
	})
}

// AddDropTable stages a DropTable frame and the equivalent in-memory purge
// of the table and its derived index key-spaces.
func (tx *Transaction) AddDropTable(table string) {
	tx.ops = append(tx.ops, stagedOp{payload: wal.EncodeDropTable(tx.txID, table)})
	tx.AddApply(func() {
		tx.engine.dropTableAndIndexes(table)
	})
}

// AddApply registers a closure to run, in order, once Commit's WAL batch
// is durable and the single-writer apply lock is held. Used for side
// effects beyond a plain MemTable write, such as unique-guard reservation
// bookkeeping.
func (tx *Transaction) AddApply(fn func()) {
	tx.applies = append(tx.applies, fn)
}

// AddRollback registers a closure to run, in reverse order, if the
// transaction is rolled back before committing.
func (tx *Transaction) AddRollback(fn func()) {
	tx.rollbacks = append(tx.rollbacks, fn)
}

// Commit writes BEGIN, every staged op, and COMMIT as one WAL batch,
// awaits durability per mode (Fast returns once queued), then applies
// every staged closure in order under the engine's single-writer lock.
func (tx *Transaction) Commit(durability DurabilityMode) error {
	if tx.committed || tx.aborted {
		return errors.New("walnutdb: transaction already finished")
	}
	if err := tx.engine.checkClosed(); err != nil {
		tx.Rollback()
		return err
	}

	buf := wal.EncodeFrame(wal.EncodeBegin(tx.txID, tx.seqNo))
	for _, op := range tx.ops {
		buf = append(buf, wal.EncodeFrame(op.payload)...)
	}
	buf = append(buf, wal.EncodeFrame(wal.EncodeCommit(tx.txID, uint32(len(tx.ops))))...)

	if err := tx.engine.walw.Append(buf, wal.DurabilityMode(durability)); err != nil {
		tx.Rollback()
		return errors.Wrap(err, "walnutdb: commit")
	}

	tx.engine.applyMu.Lock()
	for _, apply := range tx.applies {
		apply()
	}
	tx.engine.applyMu.Unlock()
	tx.committed = true

	if tx.engine.opts.Metrics != nil {
		tx.engine.opts.Metrics.CommitCount.WithLabelValues(durabilityLabel(durability)).Inc()
		tx.engine.opts.Metrics.WALBytesAppended.Add(float64(len(buf)))
	}
	return nil
}

// Rollback invokes every registered rollback closure in reverse order. A
// no-op once the transaction has committed or already rolled back.
func (tx *Transaction) Rollback() {
	if tx.committed || tx.aborted {
		return
	}
	tx.aborted = true
	for i := len(tx.rollbacks) - 1; i >= 0; i-- {
		tx.rollbacks[i]()
	}
}

// Drop disposes of the transaction: if it was never committed, this rolls
// it back; otherwise it is a no-op.
func (tx *Transaction) Drop() {
	if !tx.committed {
		tx.Rollback()
	}
}

func durabilityLabel(d DurabilityMode) string {
	switch d {
	case Safe:
		return "safe"
	case Group:
		return "group"
	case Fast:
		return "fast"
	default:
		return "unknown"
	}
}
