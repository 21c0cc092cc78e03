package redo

import "github.com/oracdc-io/oracdc/internal/oraerr"

// mergeTwo concatenates head with a continuation fragment (MID or TAIL),
// producing a new record that represents the logical union of both. It
// never mutates head or other — both may still be referenced elsewhere
// (e.g. the split-block list being drained).
//
// other's first two fields are Oracle's split-point delimiter fields and
// are always dropped. When head carries FLG_LASTBUFFERSPLIT, the actual
// row payload was split mid-field: head's last field and other's first
// surviving field are one logical field whose lengths are fused into a
// single table entry instead of appended as two.
func mergeTwo(head, other *Record) (*Record, error) {
	if head == nil || other == nil {
		return nil, oraerr.NewFatal("redo.mergeTwo", oraerr.ErrIncompleteSplitMerge)
	}
	if len(other.FieldLengths) < 2 {
		return nil, oraerr.NewFatal("redo.mergeTwo", oraerr.ErrIncompleteSplitMerge)
	}

	otherKept := other.FieldLengths[2:]
	otherPayloadStart := other.FieldOffset(2)

	lengths := make([]uint16, 0, len(head.FieldLengths)+len(otherKept))
	lengths = append(lengths, head.FieldLengths...)

	headEnd := int(head.Length)
	var fused int32
	if head.Flg&FlgLastBufferSplit != 0 && len(lengths) > 0 && len(otherKept) > 0 {
		lastIdx := len(lengths) - 1
		// Drop the alignment padding after head's last field: the
		// continuation's bytes attach directly to its unaligned tail.
		headEnd = head.FieldOffset(lastIdx) + int(head.FieldLengths[lastIdx])
		fusedLen := lengths[lastIdx] + otherKept[0]
		lengths[lastIdx] = fusedLen
		fused = int32(otherKept[0])
		otherKept = otherKept[1:]
	}
	lengths = append(lengths, otherKept...)

	headBytes := head.Data[:headEnd]
	var otherBytes []byte
	if int(other.Length) > otherPayloadStart {
		otherBytes = other.Data[otherPayloadStart:other.Length]
	}

	merged := &Record{
		OpCode:        head.OpCode,
		OpFlag:        head.OpFlag,
		Scn:           head.Scn,
		SubScn:        head.SubScn,
		Sequence:      head.Sequence,
		Xid:           head.Xid,
		Slt:           head.Slt,
		Rci:           head.Rci,
		Uba:           head.Uba,
		Dba:           head.Dba,
		Bdba:          head.Bdba,
		Slot:          head.Slot,
		Flg:           head.Flg,
		Fb:            head.Fb,
		SuppLogType:   head.SuppLogType,
		SuppLogFb:     head.SuppLogFb,
		SuppLogCC:     head.SuppLogCC,
		SuppLogBdba:   head.SuppLogBdba,
		SuppLogSlot:   head.SuppLogSlot,
		SuppLogBefore: head.SuppLogBefore,
		SuppLogAfter:  head.SuppLogAfter,
		Object:        head.Object,

		FieldPos:          head.FieldPos,
		FieldCnt:          uint16(len(lengths)),
		FieldLengths:      lengths,
		FieldLengthsDelta: fused,
	}
	merged.Data = make([]byte, 0, len(headBytes)+len(otherBytes))
	merged.Data = append(merged.Data, headBytes...)
	merged.Data = append(merged.Data, otherBytes...)
	merged.Length = uint32(len(merged.Data))

	// The merged record is now whole; clear the multi-block/split flags.
	merged.Flg &^= FlgMultiBlockUndoHead | FlgMultiBlockUndoMid | FlgMultiBlockUndoTail | FlgLastBufferSplit

	return merged, nil
}

// MergeSplitBlocks rejoins a HEAD fragment with an optional MID and a
// TAIL fragment into one logical UNDO record, then re-runs the
// opcode-specific post-parse step to recompute derived offsets, per
// the opcode-specific post-parse step to recompute derived offsets.
func MergeSplitBlocks(head, mid, tail *Record) (*Record, error) {
	if head == nil || tail == nil {
		return nil, oraerr.NewFatal("redo.MergeSplitBlocks", oraerr.ErrIncompleteSplitMerge)
	}
	merged := head
	var err error
	if mid != nil {
		merged, err = mergeTwo(merged, mid)
		if err != nil {
			return nil, err
		}
	}
	merged, err = mergeTwo(merged, tail)
	if err != nil {
		return nil, err
	}
	Opcode0501PostParse(merged)
	return merged, nil
}

// Opcode0501PostParse recomputes the derived fields the 5.1 (undo)
// layer's opcode handler normally fills in right after a record is
// parsed off the wire: here, re-deriving SuppLogBefore/SuppLogAfter
// from the merged field table so callers never look at stale slices
// pointing into one of the pre-merge fragments.
func Opcode0501PostParse(r *Record) {
	if r.SuppLogType == 0 {
		return
	}
	const (
		suppLogBeforeField = 0
		suppLogAfterField  = 1
	)
	if int(r.FieldCnt) > suppLogBeforeField {
		r.SuppLogBefore = r.FieldData(suppLogBeforeField)
	}
	if int(r.FieldCnt) > suppLogAfterField {
		r.SuppLogAfter = r.FieldData(suppLogAfterField)
	}
}
