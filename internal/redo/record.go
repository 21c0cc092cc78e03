// Package redo defines RedoLogRecord, the parsed per-record datum handed
// to the transaction assembly core by the (out-of-scope) physical redo
// reader and opcode parser.
package redo

// Op2 values classify the companion (undo-paired) redo opcode, per
// Op2 values classify the companion (undo-paired) redo opcode. The
// high word is always the undo-layer
// tag (0x0501) except for the DDL truncate opcode.
const (
	OpInsertRowPiece        uint32 = 0x05010B02
	OpDeleteRowPiece        uint32 = 0x05010B03
	OpUpdateRowPiece        uint32 = 0x05010B05
	OpOverwriteRowPiece     uint32 = 0x05010B06
	OpForwardingAddress     uint32 = 0x05010B08
	OpSupplementalLogUpdate uint32 = 0x05010B10
	OpMultiRowInsert        uint32 = 0x05010B0B
	OpMultiRowDelete        uint32 = 0x05010B0C
	OpTruncateDDL           uint32 = 0x18010000
)

// Flg bits mark multi-block UNDO fragments pending split-block merge.
const (
	FlgMultiBlockUndoHead uint16 = 1 << 0
	FlgMultiBlockUndoMid  uint16 = 1 << 1
	FlgMultiBlockUndoTail uint16 = 1 << 2
	FlgLastBufferSplit    uint16 = 1 << 3
)

func (r *Record) IsMultiBlockUndo() bool {
	return r.Flg&(FlgMultiBlockUndoHead|FlgMultiBlockUndoMid|FlgMultiBlockUndoTail) != 0
}

func (r *Record) IsMultiBlockHead() bool { return r.Flg&FlgMultiBlockUndoHead != 0 }
func (r *Record) IsMultiBlockMid() bool  { return r.Flg&FlgMultiBlockUndoMid != 0 }
func (r *Record) IsMultiBlockTail() bool { return r.Flg&FlgMultiBlockUndoTail != 0 }

// Fb bits mark a row piece's position within its logical row's chain.
const (
	FbN uint8 = 1 << 0 // has a "next" piece
	FbP uint8 = 1 << 1 // has a "previous" piece
	FbL uint8 = 1 << 2 // last piece of the logical row
	FbF uint8 = 1 << 3 // first piece of the logical row
)

// OpFlag bits classify an undo record's role independent of its Op2.
const (
	OpFlagBeginTrans uint16 = 1 << 0
)

// XID identifies a transaction by its undo-segment/slot/wrap triple.
type XID struct {
	Usn  uint16
	Slot uint16
	Wrap uint32
}

// UBA is the Undo Byte Address: the undo-segment block, sequence, and
// record-within-block locator that pairs a redo record with its undo.
type UBA struct {
	Block uint32
	Seq   uint16
	Rec   uint8
}

// Record is the parsed per-record datum. Immutable once parsed, with the
// exception of fields mutated during split-block merge (Length, FieldCnt,
// FieldPos, Data), which always produce a fresh value rather than mutate
// a record another reader may still be holding — see MergeSplitBlocks.
// Transaction.Flush does write in place: it copies r1's SuppLogAfter
// into each row piece's companion r2.
type Record struct {
	OpCode uint32
	OpFlag uint16

	Scn      uint64
	SubScn   uint16
	Sequence uint32

	Xid XID
	Slt uint8
	Rci uint8
	Uba UBA

	Dba  uint32
	Bdba uint32
	Slot uint16

	Flg uint16
	Fb  uint8

	SuppLogType   uint8
	SuppLogFb     uint8
	SuppLogCC     uint16
	SuppLogBdba   uint32
	SuppLogSlot   uint16
	SuppLogBefore []byte
	SuppLogAfter  []byte

	Object uint32

	Length   uint32
	FieldCnt uint16
	FieldPos uint16
	// FieldLengths holds the per-field payload length, parallel to
	// FieldCnt. Field i's payload lives at Data[off(i):off(i)+FieldLengths[i]]
	// where off(0)=FieldPos and off(i)=off(i-1)+align4(FieldLengths[i-1]).
	FieldLengths []uint16
	// FieldLengthsDelta is scratch bookkeeping used only while fusing a
	// FLG_LASTBUFFERSPLIT boundary field across a merge; zero otherwise.
	FieldLengthsDelta int32

	// Data is the owned or borrowed byte range backing FieldPos-relative
	// field lookups. Field payloads start at Data[FieldPos] and are each
	// 4-byte aligned; their lengths come from FieldLengths, not from Data.
	Data []byte
}

// Align4 rounds n up to the next 4-byte boundary, the alignment every
// field payload in a redo record observes.
func Align4(n int) int {
	return (n + 3) &^ 3
}

// FieldOffset returns the byte offset within Data where field i's
// payload begins.
func (r *Record) FieldOffset(i int) int {
	off := int(r.FieldPos)
	for j := 0; j < i; j++ {
		off += Align4(int(r.FieldLengths[j]))
	}
	return off
}

// FieldData returns field i's payload slice.
func (r *Record) FieldData(i int) []byte {
	off := r.FieldOffset(i)
	ln := int(r.FieldLengths[i])
	return r.Data[off : off+ln]
}

// SameLogicalRow reports whether r and other address the same physical
// row, the identity used to grow a row-piece chain.
func (r *Record) SameLogicalRow(other *Record) bool {
	return r.Object == other.Object &&
		r.SuppLogBdba == other.SuppLogBdba &&
		r.SuppLogSlot == other.SuppLogSlot
}
