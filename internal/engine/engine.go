// Package engine implements the TransactionMap / TransactionHeap
// pair owned by the surrounding engine rather than the assembly core
// itself: the SCN-ordered heap used for commit ordering
// and the map from transaction identity (XID) to its Transaction, whose
// tail records serve rollback lookup. It also satisfies the
// transaction.Engine callback interface FlushSplitBlocks needs.
package engine

import (
	"container/heap"
	"sync"

	"go.uber.org/zap"

	"github.com/oracdc-io/oracdc/internal/diag"
	"github.com/oracdc-io/oracdc/internal/redo"
	"github.com/oracdc-io/oracdc/internal/transaction"
)

// rollbackKey identifies a pending, not-yet-matched rollback: the
// (slt, rci, uba) triple a later split-block merge must check before
// re-adding a record that was already undone.
type rollbackKey struct {
	Slt uint8
	Rci uint8
	Uba redo.UBA
}

// Engine owns the transaction map and SCN heap. It is intended to be
// accessed by the analyser thread only — the mutex exists only to
// guard against accidental concurrent use during tests/tooling, not
// because the production analyser loop shares it across goroutines.
type Engine struct {
	mu sync.Mutex

	logger *zap.SugaredLogger

	transactions map[redo.XID]*transaction.Transaction
	heap         txHeap
	rollbackList map[rollbackKey]*redo.Record
}

// New creates an empty Engine.
func New(logger *zap.SugaredLogger) *Engine {
	return &Engine{
		logger:       logger,
		transactions: make(map[redo.XID]*transaction.Transaction),
		rollbackList: make(map[rollbackKey]*redo.Record),
	}
}

// Get returns the active Transaction for xid, if any.
func (e *Engine) Get(xid redo.XID) (*transaction.Transaction, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	tx, ok := e.transactions[xid]
	return tx, ok
}

// Track registers a newly created transaction in both the map and the
// SCN heap.
func (e *Engine) Track(tx *transaction.Transaction) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.transactions[tx.Xid] = tx
	heap.Push(&e.heap, tx)
	if e.logger != nil {
		e.logger.Debugw("tracking transaction", "xid", tx.Xid, "goroutine", diag.GoroutineID())
	}
}

// Untrack removes a transaction after it has been fully flushed or
// determined to be entirely rolled back.
func (e *Engine) Untrack(tx *transaction.Transaction) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.transactions, tx.Xid)
	if tx.Pos >= 0 && tx.Pos < len(e.heap) {
		heap.Remove(&e.heap, tx.Pos)
	}
}

// NoteMerged implements transaction.Engine: refresh the transaction's
// SCN-heap position after a split-block merge changes its lastScn.
func (e *Engine) NoteMerged(tx *transaction.Transaction) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if tx.Pos >= 0 && tx.Pos < len(e.heap) {
		heap.Fix(&e.heap, tx.Pos)
	}
}

// OnRollbackList implements transaction.Engine: reports whether a
// merged HEAD/companion pair was already invalidated by a rollback
// that arrived before the split-block merge completed.
func (e *Engine) OnRollbackList(head, companion *redo.Record) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := rollbackKey{Slt: head.Slt, Rci: head.Rci, Uba: head.Uba}
	rb, ok := e.rollbackList[key]
	if !ok || head.Scn > rb.Scn {
		return false
	}
	delete(e.rollbackList, key)
	return true
}

// RecordPendingRollback registers a rollback that targets a record not
// yet present in any chunk store — the split-block fragments it would
// have undone are still in splitBlockList awaiting merge.
func (e *Engine) RecordPendingRollback(rb1, rb2 *redo.Record) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rollbackList[rollbackKey{Slt: rb2.Slt, Rci: rb2.Rci, Uba: rb1.Uba}] = rb2
}

// Next returns the transaction at the head of the SCN-ordered heap
// without removing it — the candidate the engine's flush loop checks
// for commit-readiness.
func (e *Engine) Next() (*transaction.Transaction, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.heap) == 0 {
		return nil, false
	}
	return e.heap[0], true
}
