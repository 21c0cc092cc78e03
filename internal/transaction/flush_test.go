package transaction

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oracdc-io/oracdc/internal/nls"
	"github.com/oracdc-io/oracdc/internal/outputbuffer"
	"github.com/oracdc-io/oracdc/internal/redo"
	"github.com/oracdc-io/oracdc/internal/writer"
)

type recordedDML struct {
	typ        writer.DMLType
	first1Scn  uint64
}

type fakeWriter struct {
	begins   int
	commits  int
	dmls     []recordedDML
	multiIns int
	multiDel int
	ddls     int
}

func (f *fakeWriter) ProcessBegin(scn uint64, commitTime time.Time, xid redo.XID) error {
	f.begins++
	return nil
}

func (f *fakeWriter) ParseDML(first1, first2 *redo.Record, typ writer.DMLType) error {
	f.dmls = append(f.dmls, recordedDML{typ: typ, first1Scn: first1.Scn})
	return nil
}

func (f *fakeWriter) ParseInsertMultiple(r1, r2 *redo.Record) error { f.multiIns++; return nil }
func (f *fakeWriter) ParseDeleteMultiple(r1, r2 *redo.Record) error { f.multiDel++; return nil }
func (f *fakeWriter) ParseDDL(r1, r2 *redo.Record) error            { f.ddls++; return nil }
func (f *fakeWriter) ProcessCommit() error                          { f.commits++; return nil }

func rowPiece(scn uint64, op2 uint32, fb uint8) (*redo.Record, *redo.Record) {
	r1 := &redo.Record{Scn: scn, SuppLogType: 1, Object: 1, SuppLogBdba: 100, SuppLogSlot: 1, Fb: fb}
	r2 := &redo.Record{Scn: scn, OpCode: op2, Object: 1, Dba: 100, Slot: 1}
	return r1, r2
}

func newFlushTx(t *testing.T, w *fakeWriter, maxMessageMb int) (*Transaction, *outputbuffer.Buffer) {
	t.Helper()
	out := outputbuffer.NewBuffer(nls.NewDictionary(), nil)
	// IsCommit is left unset: Add rejects records once a transaction is
	// committed, so each test marks the commit after its Adds.
	tx := New(&Deps{Output: out, Writer: w, MaxMessageMb: maxMessageMb}, redo.XID{Usn: 1})
	return tx, out
}

func TestFlushSingleInsertEmitsOneInsertEvent(t *testing.T) {
	w := &fakeWriter{}
	tx, _ := newFlushTx(t, w, 0)
	r1, r2 := rowPiece(1, redo.OpInsertRowPiece, redo.FbF|redo.FbL)
	require.NoError(t, tx.Add(r1, r2))

	tx.IsCommit = true
	require.NoError(t, tx.Flush(context.Background()))
	require.Equal(t, 1, w.begins)
	require.Equal(t, 1, w.commits)
	require.Len(t, w.dmls, 1)
	require.Equal(t, writer.DMLInsert, w.dmls[0].typ)
}

func TestFlushInsertThenDeleteBecomesUpdate(t *testing.T) {
	w := &fakeWriter{}
	tx, _ := newFlushTx(t, w, 0)
	r1, r2 := rowPiece(1, redo.OpInsertRowPiece, redo.FbF)
	require.NoError(t, tx.Add(r1, r2))
	r1b, r2b := rowPiece(2, redo.OpDeleteRowPiece, redo.FbL)
	require.NoError(t, tx.Add(r1b, r2b))

	tx.IsCommit = true
	require.NoError(t, tx.Flush(context.Background()))
	require.Len(t, w.dmls, 1)
	require.Equal(t, writer.DMLUpdate, w.dmls[0].typ)
}

func TestFlushOverwriteInsertsBeforeTail(t *testing.T) {
	w := &fakeWriter{}
	tx, _ := newFlushTx(t, w, 0)
	r1, r2 := rowPiece(1, redo.OpInsertRowPiece, redo.FbF)
	require.NoError(t, tx.Add(r1, r2))
	r1b, r2b := rowPiece(2, redo.OpOverwriteRowPiece, redo.FbL)
	require.NoError(t, tx.Add(r1b, r2b))

	tx.IsCommit = true
	require.NoError(t, tx.Flush(context.Background()))
	require.Len(t, w.dmls, 1)
	require.Equal(t, writer.DMLUpdate, w.dmls[0].typ)
	// The overwrite piece went in before the INSERT tail, so it heads the chain.
	require.Equal(t, uint64(2), w.dmls[0].first1Scn)
}

func TestFlushMultiRowInsertBypassesChainAssembly(t *testing.T) {
	w := &fakeWriter{}
	tx, _ := newFlushTx(t, w, 0)
	r1 := &redo.Record{Scn: 1}
	r2 := &redo.Record{Scn: 1, OpCode: redo.OpMultiRowInsert}
	require.NoError(t, tx.Add(r1, r2))

	tx.IsCommit = true
	require.NoError(t, tx.Flush(context.Background()))
	require.Equal(t, 1, w.multiIns)
	require.Empty(t, w.dmls)
}

func TestFlushOfEmptyTransactionIsANoOp(t *testing.T) {
	w := &fakeWriter{}
	tx, _ := newFlushTx(t, w, 0)
	tx.IsCommit = true
	require.NoError(t, tx.Flush(context.Background()))
	require.Equal(t, 0, w.begins)
	require.Equal(t, 0, w.commits)
}

func TestFlushReturnsNilWithoutEmittingWhenNotCommitted(t *testing.T) {
	w := &fakeWriter{}
	out := outputbuffer.NewBuffer(nls.NewDictionary(), nil)
	tx := New(&Deps{Output: out, Writer: w}, redo.XID{Usn: 1})
	r1, r2 := rowPiece(1, redo.OpInsertRowPiece, redo.FbF|redo.FbL)
	require.NoError(t, tx.Add(r1, r2))

	require.NoError(t, tx.Flush(context.Background()))
	require.Equal(t, 0, w.begins)
}

func TestFlushRejectsChainWithMismatchedCompanionObject(t *testing.T) {
	w := &fakeWriter{}
	tx, _ := newFlushTx(t, w, 0)
	r1, r2 := rowPiece(1, redo.OpInsertRowPiece, redo.FbF)
	require.NoError(t, tx.Add(r1, r2))

	// Same logical row by (object, bdba, slot), but a corrupted
	// companion record carrying a different object id.
	r1b, r2b := rowPiece(2, redo.OpOverwriteRowPiece, redo.FbL)
	r2b.Object = 2
	require.NoError(t, tx.Add(r1b, r2b))

	tx.IsCommit = true
	require.Error(t, tx.Flush(context.Background()))
}

func TestFlushSplitBlocksRequiresCompleteGroup(t *testing.T) {
	out := outputbuffer.NewBuffer(nls.NewDictionary(), nil)
	tx := New(&Deps{Output: out, Writer: &fakeWriter{}}, redo.XID{Usn: 1})
	tx.AddSplitBlock(&redo.Record{Scn: 1, Flg: redo.FlgMultiBlockUndoMid})
	require.Error(t, tx.FlushSplitBlocks(context.Background()))
}

func TestFlushSplitBlocksMergesHeadAndTail(t *testing.T) {
	w := &fakeWriter{}
	out := outputbuffer.NewBuffer(nls.NewDictionary(), nil)
	// Split blocks always arrive and merge before the commit marker sets
	// IsCommit, since Add rejects any addition once a transaction is
	// flagged committed.
	tx := New(&Deps{Output: out, Writer: w}, redo.XID{Usn: 1})

	head := &redo.Record{
		Scn: 1, Flg: redo.FlgMultiBlockUndoHead,
		FieldCnt: 3, FieldLengths: []uint16{2, 2, 4},
		Data:   append(make([]byte, 8), []byte("head")...),
		Length: 12,
	}
	companion := &redo.Record{Scn: 1, OpCode: redo.OpUpdateRowPiece}
	tail := &redo.Record{
		Scn: 2, Flg: redo.FlgMultiBlockUndoTail,
		FieldCnt: 3, FieldLengths: []uint16{0, 0, 4},
		Data:   []byte("tail"),
		Length: 4,
	}
	tx.AddSplitBlockHead(head, companion)
	tx.AddSplitBlock(tail)

	require.NoError(t, tx.FlushSplitBlocks(context.Background()))
	require.Equal(t, 1, tx.OpCodes())
}
