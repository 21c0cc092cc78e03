package txbuffer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oracdc-io/oracdc/internal/redo"
)

func frag(scn uint64, subScn uint16, slt, rci uint8, flg uint16) *redo.Record {
	return &redo.Record{Scn: scn, SubScn: subScn, Slt: slt, Rci: rci, Flg: flg}
}

func TestSplitListInsertOrdersByScnThenSubScn(t *testing.T) {
	var l SplitList
	l.Insert(frag(10, 2, 1, 1, redo.FlgMultiBlockUndoMid))
	l.Insert(frag(5, 0, 1, 1, redo.FlgMultiBlockUndoMid))
	l.Insert(frag(10, 1, 1, 1, redo.FlgMultiBlockUndoMid))

	var order []uint64
	for b := l.head; b != nil; b = b.next {
		order = append(order, b.R1.Scn*100+uint64(b.R1.SubScn))
	}
	require.Equal(t, []uint64{500, 1001, 1002}, order)
}

func TestSplitListInsertTiesKeepArrivalOrder(t *testing.T) {
	var l SplitList
	first := frag(1, 0, 1, 1, redo.FlgMultiBlockUndoMid)
	second := frag(1, 0, 1, 1, redo.FlgMultiBlockUndoMid)
	l.Insert(first)
	l.Insert(second)

	require.Same(t, first, l.head.R1)
	require.Same(t, second, l.head.next.R1)
}

func TestDrainGroupsAssemblesHeadMidTail(t *testing.T) {
	var l SplitList
	head := frag(1, 0, 1, 1, redo.FlgMultiBlockUndoHead)
	companion := &redo.Record{Scn: 1}
	mid := frag(1, 1, 1, 1, redo.FlgMultiBlockUndoMid)
	tail := frag(1, 2, 1, 1, redo.FlgMultiBlockUndoTail)

	l.InsertHead(head, companion)
	l.Insert(mid)
	l.Insert(tail)

	groups := l.DrainGroups()
	require.Len(t, groups, 1)
	require.Same(t, head, groups[0].Head)
	require.Same(t, companion, groups[0].Companion)
	require.Same(t, mid, groups[0].Mid)
	require.Same(t, tail, groups[0].Tail)
	require.True(t, l.Empty())
}

func TestDrainGroupsSeparatesDifferentTransactions(t *testing.T) {
	var l SplitList
	l.InsertHead(frag(1, 0, 1, 1, redo.FlgMultiBlockUndoHead), &redo.Record{})
	l.Insert(frag(1, 1, 1, 1, redo.FlgMultiBlockUndoTail))
	l.InsertHead(frag(2, 0, 2, 2, redo.FlgMultiBlockUndoHead), &redo.Record{})
	l.Insert(frag(2, 1, 2, 2, redo.FlgMultiBlockUndoTail))

	groups := l.DrainGroups()
	require.Len(t, groups, 2)
}

func TestDrainGroupsLeavesListEmptyEvenOnPartialGroup(t *testing.T) {
	var l SplitList
	l.Insert(frag(1, 0, 1, 1, redo.FlgMultiBlockUndoMid))
	groups := l.DrainGroups()
	require.True(t, l.Empty())
	require.Len(t, groups, 1)
	require.Nil(t, groups[0].Head)
}

// A MID fragment can sort ahead of its group's HEAD when the HEAD
// arrives with a higher subScn, e.g. a replay starting mid-transaction.
// DrainGroups must not dereference the not-yet-set Head field on the
// second loop iteration in that case.
func TestDrainGroupsHandlesFragmentArrivingBeforeHead(t *testing.T) {
	var l SplitList
	mid := frag(1, 0, 1, 1, redo.FlgMultiBlockUndoMid)
	head := frag(1, 1, 1, 1, redo.FlgMultiBlockUndoHead)
	companion := &redo.Record{Scn: 1}
	tail := frag(1, 2, 1, 1, redo.FlgMultiBlockUndoTail)

	l.Insert(mid)
	l.InsertHead(head, companion)
	l.Insert(tail)

	require.NotPanics(t, func() {
		groups := l.DrainGroups()
		require.Len(t, groups, 1)
		require.Same(t, head, groups[0].Head)
		require.Same(t, companion, groups[0].Companion)
		require.Same(t, mid, groups[0].Mid)
		require.Same(t, tail, groups[0].Tail)
	})
	require.True(t, l.Empty())
}

// A second group that also starts without a HEAD must not panic either,
// once the boundary check no longer depends on cur.Head being non-nil.
func TestDrainGroupsBoundaryCheckSurvivesConsecutiveHeadlessGroups(t *testing.T) {
	var l SplitList
	midA := frag(1, 0, 1, 1, redo.FlgMultiBlockUndoMid)
	midB := frag(2, 0, 2, 2, redo.FlgMultiBlockUndoMid)

	l.Insert(midA)
	l.Insert(midB)

	var groups []Group
	require.NotPanics(t, func() {
		groups = l.DrainGroups()
	})
	require.Len(t, groups, 2)
	require.Nil(t, groups[0].Head)
	require.Nil(t, groups[1].Head)
}
