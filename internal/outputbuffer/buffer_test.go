package outputbuffer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oracdc-io/oracdc/internal/nls"
)

func newTestBuffer(t *testing.T) *Buffer {
	t.Helper()
	return NewBuffer(nls.NewDictionary(), nil)
}

func TestBeginAppendCommitRoundTrip(t *testing.T) {
	b := newTestBuffer(t)
	b.BeginMessage()
	b.Append([]byte("hello"))
	b.CommitMessage()
	b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	payload, ok, err := b.ReadMessage(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("hello"), payload)
}

func TestReadMessageReportsCleanEndOfStream(t *testing.T) {
	b := newTestBuffer(t)
	b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, ok, err := b.ReadMessage(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestReadMessageUnblocksOnContextCancellation(t *testing.T) {
	b := newTestBuffer(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, _, err := b.ReadMessage(ctx)
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("ReadMessage did not unblock after context cancellation")
	}
}

func TestZeroLengthMessageStillBecomesVisible(t *testing.T) {
	b := newTestBuffer(t)
	b.BeginMessage()
	b.CommitMessage()
	b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	payload, ok, err := b.ReadMessage(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, payload)
}

func TestMultipleMessagesDrainInOrder(t *testing.T) {
	b := newTestBuffer(t)
	for i := 0; i < 3; i++ {
		b.BeginMessage()
		b.Append([]byte{byte('a' + i)})
		b.CommitMessage()
	}
	b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := 0; i < 3; i++ {
		payload, ok, err := b.ReadMessage(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, []byte{byte('a' + i)}, payload)
	}
	_, ok, err := b.ReadMessage(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMessageSpanningChunkBoundary(t *testing.T) {
	b := newTestBuffer(t)
	// The first message's 8-byte length prefix plus ChunkSize-3 filler
	// bytes overflow the first chunk by 5 bytes, so that message spans a
	// chunk allocation; its alignment padding and the whole second
	// message then follow in the second chunk.
	filler := ChunkSize - 3
	b.BeginMessage()
	b.Append(make([]byte, filler))
	b.CommitMessage()

	b.BeginMessage()
	b.Append([]byte("straddling-chunk-boundary"))
	b.CommitMessage()
	b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, ok, err := b.ReadMessage(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	payload, ok, err := b.ReadMessage(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("straddling-chunk-boundary"), payload)
}

// chunkValidLen must always use the chunk's END marker, even for the
// current tail chunk, rather than peeking at the producer-owned
// lastPos field: that field is mutated outside the mutex by
// appendByte's fast path, so a reader holding the lock that falls back
// to it would be racing the producer instead of reading a value that
// was itself written under the lock.
func TestChunkValidLenNeverReadsLastPosDirectly(t *testing.T) {
	b := newTestBuffer(t)
	b.last.end = 5
	b.lastPos = 100
	require.Equal(t, 5, b.chunkValidLen(b.last))
}

func TestSetNlsCharsetRejectsUnknownName(t *testing.T) {
	b := newTestBuffer(t)
	require.Error(t, b.SetNlsCharset("NOT_A_REAL_CHARSET"))
}

func TestSetNlsCharsetAcceptsRegisteredName(t *testing.T) {
	b := newTestBuffer(t)
	require.NoError(t, b.SetNlsCharset("AL32UTF8"))
}

func TestProjectColumnsDropsUnchangedNonPKValues(t *testing.T) {
	b := newTestBuffer(t)
	cols := []Column{
		{Name: "id", IsPK: true, Before: []byte("1"), After: []byte("1"), HasAfter: true},
		{Name: "unchanged", Before: []byte("x"), After: []byte("x"), HasAfter: true},
		{Name: "changed", Before: []byte("x"), After: []byte("y"), HasAfter: true},
	}
	out := b.ProjectColumns(cols, ColumnFormatChanged)
	require.Len(t, out, 2)
	require.Equal(t, "id", out[0].Name)
	require.Equal(t, "changed", out[1].Name)
}

func TestProjectColumnsBackfillsMissingPKImage(t *testing.T) {
	b := newTestBuffer(t)
	cols := []Column{
		{Name: "id", IsPK: true, After: []byte("7"), HasAfter: true},
	}
	out := b.ProjectColumns(cols, ColumnFormatChanged)
	require.Len(t, out, 1)
	require.Equal(t, []byte("7"), out[0].Before)
}

func TestProjectColumnsAllReturnsEverythingUnchanged(t *testing.T) {
	b := newTestBuffer(t)
	cols := []Column{
		{Name: "unchanged", Before: []byte("x"), After: []byte("x"), HasAfter: true},
	}
	out := b.ProjectColumns(cols, ColumnFormatAll)
	require.Equal(t, cols, out)
}
