package redo

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func fieldRecord(t *testing.T, fieldCnt uint16, lengths []uint16, payloads [][]byte) *Record {
	t.Helper()
	require.Equal(t, int(fieldCnt), len(lengths))
	require.Equal(t, int(fieldCnt), len(payloads))

	data := make([]byte, 0, 64)
	for i, p := range payloads {
		data = append(data, p...)
		if pad := Align4(int(lengths[i])) - len(p); pad > 0 {
			data = append(data, make([]byte, pad)...)
		}
	}
	return &Record{
		FieldCnt:     fieldCnt,
		FieldPos:     0,
		FieldLengths: lengths,
		Data:         data,
		Length:       uint32(len(data)),
	}
}

func TestAlign4(t *testing.T) {
	cases := map[int]int{0: 0, 1: 4, 3: 4, 4: 4, 5: 8, 8: 8}
	for in, want := range cases {
		require.Equal(t, want, Align4(in))
	}
}

func TestFieldOffsetAndData(t *testing.T) {
	r := fieldRecord(t, 3,
		[]uint16{3, 1, 5},
		[][]byte{[]byte("abc"), []byte("x"), []byte("hello")},
	)
	require.Equal(t, []byte("abc"), r.FieldData(0))
	require.Equal(t, []byte("x"), r.FieldData(1))
	require.Equal(t, []byte("hello"), r.FieldData(2))
	require.Equal(t, 4, r.FieldOffset(1))
	require.Equal(t, 8, r.FieldOffset(2))
}

func TestMergeSplitBlocksTwoFragments(t *testing.T) {
	head := fieldRecord(t, 3,
		[]uint16{2, 2, 4},
		[][]byte{{0, 0}, {0, 0}, []byte("head")},
	)
	head.Flg = FlgMultiBlockUndoHead
	head.Scn = 100

	tail := fieldRecord(t, 4,
		[]uint16{0, 0, 4, 2},
		[][]byte{nil, nil, []byte("tail"), []byte("zz")},
	)
	tail.Flg = FlgMultiBlockUndoTail
	tail.Scn = 101

	merged, err := MergeSplitBlocks(head, nil, tail)
	require.NoError(t, err)
	require.Equal(t, uint16(5), merged.FieldCnt)
	require.Equal(t, []byte("head"), merged.FieldData(2))
	require.Equal(t, []byte("tail"), merged.FieldData(3))
	require.Equal(t, []byte("zz"), merged.FieldData(4))
}

func TestMergeSplitBlocksFusesLastBufferSplitBoundary(t *testing.T) {
	head := fieldRecord(t, 3,
		[]uint16{2, 2, 3},
		[][]byte{{0, 0}, {0, 0}, []byte("abc")},
	)
	head.Flg = FlgMultiBlockUndoHead | FlgLastBufferSplit
	head.Scn = 200

	tail := fieldRecord(t, 3,
		[]uint16{0, 0, 3},
		[][]byte{nil, nil, []byte("def")},
	)
	tail.Flg = FlgMultiBlockUndoTail
	tail.Scn = 201

	merged, err := MergeSplitBlocks(head, nil, tail)
	require.NoError(t, err)
	// fused boundary field replaces head's last field and the tail's
	// first surviving field with one combined entry.
	require.Equal(t, uint16(3), merged.FieldCnt)
	require.Equal(t, []byte("abcdef"), merged.FieldData(2))
}

func TestMergeSplitBlocksRequiresHeadAndTail(t *testing.T) {
	tail := fieldRecord(t, 1, []uint16{1}, [][]byte{[]byte("x")})
	_, err := MergeSplitBlocks(nil, nil, tail)
	require.Error(t, err)
}
