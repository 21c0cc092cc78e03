package transaction

import (
	"context"
	"errors"

	"github.com/oracdc-io/oracdc/internal/oraerr"
	"github.com/oracdc-io/oracdc/internal/outputbuffer"
	"github.com/oracdc-io/oracdc/internal/redo"
	"github.com/oracdc-io/oracdc/internal/writer"
)

// errShutdown unwinds Flush's chunk walk cleanly when the transaction's
// Shutdown flag is observed (or ctx is cancelled) at a record boundary:
// a row chain still being assembled is not emitted, and Flush closes the
// processBegin it already issued with a processCommit.
var errShutdown = errors.New("transaction: shutdown requested")

// FlushSplitBlocks drains the split-block list, merges every complete
// HEAD+MID?+TAIL group, and adds the merged record to the chunk store
// unless the engine reports it as already rolled back. The
// split-block list is always empty afterward, regardless of outcome.
func (t *Transaction) FlushSplitBlocks(ctx context.Context) error {
	groups := t.splits.DrainGroups()
	for _, g := range groups {
		if g.Head == nil || g.Tail == nil || g.Companion == nil {
			return oraerr.NewFatal("transaction.FlushSplitBlocks", oraerr.ErrIncompleteSplitMerge)
		}
		merged, err := redo.MergeSplitBlocks(g.Head, g.Mid, g.Tail)
		if err != nil {
			return err
		}
		if t.deps.Engine != nil && t.deps.Engine.OnRollbackList(merged, g.Companion) {
			continue
		}
		if err := t.Add(merged, g.Companion); err != nil {
			return err
		}
		if t.deps.Engine != nil {
			t.deps.Engine.NoteMerged(t)
		}
		if t.deps.Metrics != nil {
			t.deps.Metrics.IncSplitBlockMerges(ctx)
		}
	}
	return nil
}

// piece is one row-piece node in the per-logical-row chain arena.
// Linked via slice indices rather than pointers, so the chain never
// holds raw pointers into itself; the arena is reset between logical
// rows within a single Flush call.
type piece struct {
	r1, r2     *redo.Record
	prev, next int
}

type pieceArena struct {
	pieces []piece
	head   int
	tail   int
}

func (a *pieceArena) reset() {
	a.pieces = a.pieces[:0]
	a.head, a.tail = -1, -1
}

func (a *pieceArena) prepend(r1, r2 *redo.Record) {
	idx := len(a.pieces)
	a.pieces = append(a.pieces, piece{r1: r1, r2: r2, prev: -1, next: a.head})
	if a.head != -1 {
		a.pieces[a.head].prev = idx
	}
	a.head = idx
	if a.tail == -1 {
		a.tail = idx
	}
}

func (a *pieceArena) append(r1, r2 *redo.Record) {
	idx := len(a.pieces)
	a.pieces = append(a.pieces, piece{r1: r1, r2: r2, prev: a.tail, next: -1})
	if a.tail != -1 {
		a.pieces[a.tail].next = idx
	}
	a.tail = idx
	if a.head == -1 {
		a.head = idx
	}
}

// insertBeforeTail inserts a new node immediately before the current
// tail, keeping the previous tail as the true tail — the OVERWRITE-
// after-INSERT special case of row-piece chain assembly.
func (a *pieceArena) insertBeforeTail(r1, r2 *redo.Record) {
	if a.tail == -1 {
		a.append(r1, r2)
		return
	}
	oldTail := a.tail
	prevOfOldTail := a.pieces[oldTail].prev
	idx := len(a.pieces)
	a.pieces = append(a.pieces, piece{r1: r1, r2: r2, prev: prevOfOldTail, next: oldTail})
	if prevOfOldTail != -1 {
		a.pieces[prevOfOldTail].next = idx
	} else {
		a.head = idx
	}
	a.pieces[oldTail].prev = idx
}

func (a *pieceArena) headPiece() (*redo.Record, *redo.Record) {
	if a.head == -1 {
		return nil, nil
	}
	p := a.pieces[a.head]
	return p.r1, p.r2
}

func (a *pieceArena) tailOp2() uint32 {
	if a.tail == -1 {
		return 0
	}
	return a.pieces[a.tail].r2.OpCode
}

// chainState tracks the logical row currently being assembled across
// Flush's walk of the chunk chain.
type chainState struct {
	active bool
	typ    writer.DMLType
	rowID  *redo.Record // first1 of the chain, used for SameLogicalRow checks
	rowID2 *redo.Record // first2 of the chain, its object id must also match
	arena  pieceArena
}

// maybeSplit checks whether the output buffer's current message size
// plus the DataBufferSize guard would exceed maxMessageMb; if so it
// forces an implicit commit/begin boundary so one logical transaction
// never grows an unbounded message.
func (t *Transaction) maybeSplit(ctx context.Context) error {
	threshold := t.deps.MaxMessageMb * 1024 * 1024
	if threshold <= 0 {
		return nil
	}
	if t.deps.Output.CurrentMessageSize()+outputbuffer.DataBufferSize <= threshold {
		return nil
	}
	if err := t.deps.Writer.ProcessCommit(); err != nil {
		return err
	}
	if t.deps.Metrics != nil {
		t.deps.Metrics.IncForcedSplits(ctx)
	}
	if t.deps.Logger != nil {
		t.deps.Logger.Warnw("forced big-transaction split", "xid", t.Xid, "lastScn", t.LastScn)
	}
	return t.deps.Writer.ProcessBegin(t.LastScn, t.CommitTime, t.Xid)
}

func classifyFirst(op2 uint32) writer.DMLType {
	switch op2 {
	case redo.OpInsertRowPiece:
		return writer.DMLInsert
	case redo.OpDeleteRowPiece:
		return writer.DMLDelete
	default:
		return writer.DMLUpdate
	}
}

// isPieceOp reports whether op2 is one of the row-piece opcodes that
// participate in chain assembly.
func isPieceOp(op2 uint32) bool {
	switch op2 {
	case redo.OpInsertRowPiece, redo.OpDeleteRowPiece, redo.OpUpdateRowPiece,
		redo.OpOverwriteRowPiece, redo.OpForwardingAddress, redo.OpSupplementalLogUpdate:
		return true
	default:
		return false
	}
}

// Flush runs when isCommit && opCodes>0: it walks every record pair in
// insertion order, assembles row-piece chains into DML events, and
// emits the BEGIN/DML*/COMMIT framing.
func (t *Transaction) Flush(ctx context.Context) error {
	if !t.IsCommit {
		return nil
	}
	if t.chain.Empty() {
		if t.deps.Logger != nil {
			t.deps.Logger.Warnw("commit of empty transaction", "xid", t.Xid)
		}
		return nil
	}

	if err := t.deps.Writer.ProcessBegin(t.LastScn, t.CommitTime, t.Xid); err != nil {
		return err
	}

	var cs chainState
	cs.arena.reset()

	var prevScn uint64
	firstSeen := true

	emit := func() error {
		if !cs.active {
			return nil
		}
		first1, first2 := cs.arena.headPiece()
		if err := t.deps.Writer.ParseDML(first1, first2, cs.typ); err != nil {
			return err
		}
		if t.deps.Metrics != nil {
			t.deps.Metrics.IncDMLEventsEmitted(ctx)
		}
		cs.active = false
		cs.rowID = nil
		cs.rowID2 = nil
		cs.arena.reset()
		return t.maybeSplit(ctx)
	}

	walkErr := t.chain.Walk(func(r1, r2 *redo.Record, scn uint64) error {
		if ctx.Err() != nil {
			return errShutdown
		}
		if t.Shutdown {
			return errShutdown
		}
		if !firstSeen && scn < prevScn {
			if t.deps.Logger != nil {
				t.deps.Logger.Warnw("non-monotonic scn during flush", "prev", prevScn, "cur", scn, "xid", t.Xid)
			}
		}
		prevScn = scn
		firstSeen = false

		op2 := r2.OpCode
		switch {
		case isPieceOp(op2):
			return t.flushPiece(ctx, r1, r2, &cs, emit)
		case op2 == redo.OpMultiRowInsert:
			if err := t.deps.Writer.ParseInsertMultiple(r1, r2); err != nil {
				return err
			}
			if t.deps.Metrics != nil {
				t.deps.Metrics.IncDMLEventsEmitted(ctx)
			}
			return t.maybeSplit(ctx)
		case op2 == redo.OpMultiRowDelete:
			if err := t.deps.Writer.ParseDeleteMultiple(r1, r2); err != nil {
				return err
			}
			if t.deps.Metrics != nil {
				t.deps.Metrics.IncDMLEventsEmitted(ctx)
			}
			return t.maybeSplit(ctx)
		case op2 == redo.OpTruncateDDL:
			if err := t.deps.Writer.ParseDDL(r1, r2); err != nil {
				return err
			}
			return t.maybeSplit(ctx)
		default:
			return oraerr.NewFatal("transaction.Flush", oraerr.ErrUnknownOpcode)
		}
	})

	if walkErr != nil {
		if errors.Is(walkErr, errShutdown) {
			// Close the BEGIN already issued; the unfinished row chain is
			// dropped rather than emitted.
			return t.deps.Writer.ProcessCommit()
		}
		return walkErr
	}

	if err := emit(); err != nil {
		return err
	}

	if err := t.deps.Writer.ProcessCommit(); err != nil {
		return err
	}
	if t.deps.Metrics != nil {
		t.deps.Metrics.IncTransactionsFlushed(ctx)
	}
	t.chain.Reset()
	return nil
}

// flushPiece folds one row-piece op into the current logical row's
// chain, reclassifying the DML type as later pieces arrive.
func (t *Transaction) flushPiece(ctx context.Context, r1, r2 *redo.Record, cs *chainState, emit func() error) error {
	if r1.SuppLogType == 0 {
		return oraerr.NewFatal("transaction.Flush", oraerr.ErrMissingSupplementalLog)
	}
	r2.SuppLogAfter = r1.SuppLogAfter

	op2 := r2.OpCode

	if !cs.active {
		cs.active = true
		cs.rowID = r1
		cs.rowID2 = r2
		cs.typ = classifyFirst(op2)
		cs.arena.reset()
		cs.arena.append(r1, r2)
	} else {
		if !r1.SameLogicalRow(cs.rowID) || r2.Object != cs.rowID2.Object {
			return oraerr.NewFatal("transaction.Flush", oraerr.ErrChainMismatch)
		}
		if cs.typ == writer.DMLInsert &&
			(op2 == redo.OpDeleteRowPiece || op2 == redo.OpUpdateRowPiece || op2 == redo.OpOverwriteRowPiece || op2 == redo.OpForwardingAddress) {
			cs.typ = writer.DMLUpdate
		}
		if cs.typ == writer.DMLDelete &&
			(op2 == redo.OpInsertRowPiece || op2 == redo.OpUpdateRowPiece || op2 == redo.OpOverwriteRowPiece || op2 == redo.OpForwardingAddress) {
			cs.typ = writer.DMLUpdate
		}

		switch {
		case cs.typ == writer.DMLInsert:
			cs.arena.prepend(r1, r2)
		case op2 == redo.OpOverwriteRowPiece && cs.arena.tailOp2() == redo.OpInsertRowPiece:
			cs.arena.insertBeforeTail(r1, r2)
		default:
			cs.arena.append(r1, r2)
		}
	}

	if r1.Fb&redo.FbL != 0 {
		return emit()
	}
	return nil
}
