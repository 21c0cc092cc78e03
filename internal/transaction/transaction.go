// Package transaction implements the per-transaction orchestrator:
// it receives redo/undo record pairs for one active transaction,
// routes them to the chunk store or split-block list, tracks SCN
// bounds, detects commit/rollback, and flushes a committed
// transaction as a sequence of DML messages.
package transaction

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/oracdc-io/oracdc/internal/metrics"
	"github.com/oracdc-io/oracdc/internal/oraerr"
	"github.com/oracdc-io/oracdc/internal/outputbuffer"
	"github.com/oracdc-io/oracdc/internal/redo"
	"github.com/oracdc-io/oracdc/internal/txbuffer"
	"github.com/oracdc-io/oracdc/internal/writer"
)

// Engine is the callback surface the surrounding engine (outside the
// scope of this package) supplies so FlushSplitBlocks can consult and
// update engine-global indices without this package importing the
// engine package.
type Engine interface {
	// OnRollbackList reports whether a merged HEAD record together with
	// its companion has already been rolled back.
	OnRollbackList(head, companion *redo.Record) bool
	// NoteMerged is called after a split-block merge is added to the
	// chunk store, so the engine can refresh the transaction's SCN-heap
	// position.
	NoteMerged(tx *Transaction)
}

// Deps are the collaborators a Transaction needs to flush: the output
// buffer it checks for backpressure, the pluggable writer that turns
// row-piece chains into wire messages, the engine callback surface, and
// the ambient logger/metrics.
type Deps struct {
	Output       *outputbuffer.Buffer
	Writer       writer.Writer
	Engine       Engine
	Logger       *zap.SugaredLogger
	Metrics      *metrics.Metrics
	MaxMessageMb int
}

// Transaction is the orchestrator of one in-flight Oracle transaction.
type Transaction struct {
	deps *Deps

	Xid           redo.XID
	FirstSequence uint32
	FirstScn      uint64
	LastScn       uint64
	CommitTime    time.Time

	IsBegin    bool
	IsCommit   bool
	IsRollback bool
	Shutdown   bool

	// Pos is the transaction's position in the engine-owned SCN heap;
	// this core never reads it, only exposes it for container/heap's
	// swap bookkeeping via the engine's heap.Interface implementation.
	Pos int

	chain   txbuffer.Chain
	splits  txbuffer.SplitList
	touched bool
}

// New creates a Transaction for a newly observed XID: every
// transaction is created on the first redo record that carries it.
func New(deps *Deps, xid redo.XID) *Transaction {
	return &Transaction{deps: deps, Xid: xid, Pos: -1}
}

// OpCodes reports the number of records stored in the chunk chain.
func (t *Transaction) OpCodes() int { return t.chain.OpCodes }

// LastRecords exposes the chunk chain's tail pointers to callers outside
// this package; the replay harness uses them to build a rollback of the
// most recent operation.
func (t *Transaction) LastRecords() (*redo.Record, *redo.Record) {
	return t.chain.LastR1, t.chain.LastR2
}

// Touch maintains firstSequence/firstScn/lastScn: first-wins for the
// former pair, last-wins by comparison (never a blind overwrite) for
// lastScn. Grounded on the original's Transaction::touch.
func (t *Transaction) Touch(scn uint64, sequence uint32) {
	if !t.touched {
		t.FirstSequence = sequence
		t.FirstScn = scn
		t.touched = true
	}
	if scn > t.LastScn {
		t.LastScn = scn
	}
}

// Add implements the add() operation: route a fully-assembled
// (r1, r2) pair into the chunk store. Invariant: a committed
// transaction never accepts another Add.
func (t *Transaction) Add(r1, r2 *redo.Record) error {
	if t.IsCommit {
		return oraerr.NewFatal("transaction.Add", oraerr.ErrCommitAfterCommit)
	}
	t.Touch(r1.Scn, r1.Sequence)
	return t.chain.Add(r1, r2, r1.Scn)
}

// AddSplitBlock routes an incoming multi-block UNDO fragment into the
// split-block list pending merge.
func (t *Transaction) AddSplitBlock(r1 *redo.Record) {
	t.splits.Insert(r1)
}

// AddSplitBlockHead routes a HEAD fragment together with its companion
// redo record.
func (t *Transaction) AddSplitBlockHead(r1, r2 *redo.Record) {
	t.splits.InsertHead(r1, r2)
}

// MatchesForRollback reports whether a rollback record pair (rb1, rb2)
// undoes the change originally made by (r1, r2).
func MatchesForRollback(r1, r2, rb1, rb2 *redo.Record) bool {
	if r1.Slt != rb2.Slt || r1.Rci != rb2.Rci || r1.Uba != rb1.Uba {
		return false
	}
	if r1.Scn > rb2.Scn {
		return false
	}
	if rb1.OpFlag&redo.OpFlagBeginTrans != 0 {
		return true
	}
	return r2.Dba == rb1.Dba && r2.Slot == rb1.Slot
}

// RollbackLastOp is the fast path: when the record to undo is the
// chunk store's most recent addition, pop it directly without
// scanning.
func (t *Transaction) RollbackLastOp(rb1, rb2 *redo.Record) bool {
	if t.chain.LastR1 == nil {
		return false
	}
	if !MatchesForRollback(t.chain.LastR1, t.chain.LastR2, rb1, rb2) {
		return false
	}
	t.chain.RollbackLast()
	if rb2.Scn > t.LastScn {
		t.LastScn = rb2.Scn
	}
	if t.deps.Metrics != nil {
		t.deps.Metrics.IncRollbackMatches(context.Background())
	}
	return true
}

// RollbackPartOp delegates to deleteTransactionPart: on success,
// opCodes is decremented by one and lastScn is updated.
func (t *Transaction) RollbackPartOp(rb1, rb2 *redo.Record) bool {
	_, _, ok := t.chain.DeletePart(func(r1, r2 *redo.Record) bool {
		return MatchesForRollback(r1, r2, rb1, rb2)
	})
	if ok && rb2.Scn > t.LastScn {
		t.LastScn = rb2.Scn
	}
	if ok && t.deps.Metrics != nil {
		t.deps.Metrics.IncRollbackMatches(context.Background())
	}
	return ok
}

// Less is the commit-ordering comparator the engine's SCN-ordered
// transaction heap needs as its container/heap.Interface.Less:
// commits sort before non-commits, then ascending lastScn, then xid.
// Grounded on the original's Transaction::operator<.
func Less(a, b *Transaction) bool {
	if a.IsCommit != b.IsCommit {
		return a.IsCommit
	}
	if a.LastScn != b.LastScn {
		return a.LastScn < b.LastScn
	}
	if a.Xid.Usn != b.Xid.Usn {
		return a.Xid.Usn < b.Xid.Usn
	}
	if a.Xid.Slot != b.Xid.Slot {
		return a.Xid.Slot < b.Xid.Slot
	}
	return a.Xid.Wrap < b.Xid.Wrap
}
