package txbuffer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oracdc-io/oracdc/internal/redo"
)

func rec(scn uint64, length uint32) (*redo.Record, *redo.Record) {
	return &redo.Record{Scn: scn, Length: length}, &redo.Record{Scn: scn, Length: length}
}

func recHalf(scn uint64, halfLength uint32) (*redo.Record, *redo.Record) {
	return &redo.Record{Scn: scn, Length: halfLength}, &redo.Record{Scn: scn, Length: halfLength}
}

func TestChainAddAndWalkPreservesOrder(t *testing.T) {
	var c Chain
	for i := uint64(1); i <= 5; i++ {
		r1, r2 := rec(i, 8)
		require.NoError(t, c.Add(r1, r2, i))
	}
	require.Equal(t, 5, c.OpCodes)

	var seen []uint64
	require.NoError(t, c.Walk(func(r1, r2 *redo.Record, scn uint64) error {
		seen = append(seen, scn)
		return nil
	}))
	require.Equal(t, []uint64{1, 2, 3, 4, 5}, seen)
}

func TestChainSpillsToNewChunkOnOverflow(t *testing.T) {
	var c Chain
	bigHalf := uint32((ChunkSize-RowHeaderTotal)/2 - 4)
	r1, r2 := recHalf(1, bigHalf)
	require.NoError(t, c.Add(r1, r2, 1))
	require.Same(t, c.first, c.last)

	r1b, r2b := recHalf(2, 64)
	require.NoError(t, c.Add(r1b, r2b, 2))
	require.NotSame(t, c.first, c.last, "second entry should have spilled into a new chunk")
}

func TestChainRollbackLastPopsTailEntry(t *testing.T) {
	var c Chain
	r1a, r2a := rec(1, 8)
	r1b, r2b := rec(2, 8)
	require.NoError(t, c.Add(r1a, r2a, 1))
	require.NoError(t, c.Add(r1b, r2b, 2))

	gotR1, gotR2, ok := c.RollbackLast()
	require.True(t, ok)
	require.Same(t, r1b, gotR1)
	require.Same(t, r2b, gotR2)
	require.Equal(t, 1, c.OpCodes)
	require.Same(t, r1a, c.LastR1)
}

func TestChainRollbackLastOnEmptyChain(t *testing.T) {
	var c Chain
	_, _, ok := c.RollbackLast()
	require.False(t, ok)
}

func TestChainDeletePartFindsMatchFromTail(t *testing.T) {
	var c Chain
	r1a, r2a := rec(1, 8)
	r1b, r2b := rec(2, 8)
	r1c, r2c := rec(3, 8)
	require.NoError(t, c.Add(r1a, r2a, 1))
	require.NoError(t, c.Add(r1b, r2b, 2))
	require.NoError(t, c.Add(r1c, r2c, 3))

	gotR1, gotR2, ok := c.DeletePart(func(r1, r2 *redo.Record) bool {
		return r1.Scn == 2
	})
	require.True(t, ok)
	require.Same(t, r1b, gotR1)
	require.Same(t, r2b, gotR2)
	require.Equal(t, 2, c.OpCodes)

	var seen []uint64
	require.NoError(t, c.Walk(func(r1, r2 *redo.Record, scn uint64) error {
		seen = append(seen, scn)
		return nil
	}))
	require.Equal(t, []uint64{1, 3}, seen)
}

func TestChainDeletePartNoMatch(t *testing.T) {
	var c Chain
	r1, r2 := rec(1, 8)
	require.NoError(t, c.Add(r1, r2, 1))
	_, _, ok := c.DeletePart(func(r1, r2 *redo.Record) bool { return false })
	require.False(t, ok)
	require.Equal(t, 1, c.OpCodes)
}

func TestChainResetClearsEverything(t *testing.T) {
	var c Chain
	r1, r2 := rec(1, 8)
	require.NoError(t, c.Add(r1, r2, 1))
	c.Reset()
	require.True(t, c.Empty())
	require.Nil(t, c.LastR1)
}

func TestChainAddRejectsOversizedEntry(t *testing.T) {
	var c Chain
	r1, r2 := rec(1, uint32(ChunkSize))
	require.Error(t, c.Add(r1, r2, 1))
}
