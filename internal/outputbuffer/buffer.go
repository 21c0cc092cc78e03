// Package outputbuffer implements a chunked FIFO producer/consumer
// handover: a singly-linked chain of fixed-size byte chunks, a single
// producer (the analyser thread driving Transaction.Flush) and a
// single consumer (the writer thread), coordinated by a mutex and
// condition variable rather than a lock-free queue.
package outputbuffer

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/google/uuid"

	"github.com/oracdc-io/oracdc/internal/metrics"
	"github.com/oracdc-io/oracdc/internal/nls"
	"github.com/oracdc-io/oracdc/internal/oraerr"
)

// ChunkSize is the fixed capacity of one output-buffer chunk.
const ChunkSize = 64 * 1024

// DataBufferSize is the guard margin added to the current in-progress
// message size before comparing against maxMessageMb, to leave room
// for the message's own framing overhead.
const DataBufferSize = 4096

type chunk struct {
	data []byte
	end  int
	next *chunk
}

// Buffer is the chunked FIFO. The Dict field is the immutable
// charset/timezone dictionary injected by reference rather than kept
// as a package-level global.
type Buffer struct {
	mu   sync.Mutex
	cond *sync.Cond

	first, last       *chunk
	firstPos, lastPos int
	pending           int
	closed            bool

	// producer-owned, no lock needed for the common path (only the
	// analyser thread ever writes these).
	messageSize int
	msgChunk    *chunk
	msgPos      int

	Dict    *nls.Dictionary
	Metrics *metrics.Metrics

	defaultCharsetID      uint16
	defaultNcharCharsetID uint16
}

// NewBuffer allocates the first chunk and wires in the charset/timezone
// dictionary.
func NewBuffer(dict *nls.Dictionary, m *metrics.Metrics) *Buffer {
	b := &Buffer{Dict: dict, Metrics: m}
	b.cond = sync.NewCond(&b.mu)
	c := &chunk{data: make([]byte, ChunkSize)}
	b.first, b.last = c, c
	return b
}

// SetNlsCharset resolves the configured default charset name to its
// id; failure raises a fatal condition.
func (b *Buffer) SetNlsCharset(name string) error {
	id, ok := b.Dict.ByName(name)
	if !ok {
		return oraerr.NewFatal("outputbuffer.SetNlsCharset", oraerr.ErrUnsupportedNlsCharset)
	}
	b.defaultCharsetID = id
	return nil
}

// SetNlsNcharCharset resolves the configured default NCHAR charset.
func (b *Buffer) SetNlsNcharCharset(name string) error {
	id, ok := b.Dict.ByName(name)
	if !ok {
		return oraerr.NewFatal("outputbuffer.SetNlsNcharCharset", oraerr.ErrUnsupportedNlsCharset)
	}
	b.defaultNcharCharsetID = id
	return nil
}

// appendByte is the low-level single-byte producer write. The overflow
// path (allocating and linking a new chunk) happens under the mutex;
// everything else is lock-free.
func (b *Buffer) appendByte(v byte) {
	c := b.last
	if b.lastPos >= len(c.data) {
		b.mu.Lock()
		nc := &chunk{data: make([]byte, ChunkSize)}
		c.end = b.lastPos
		c.next = nc
		b.last = nc
		b.lastPos = 0
		c = nc
		b.mu.Unlock()
		if b.Metrics != nil {
			b.Metrics.IncOutputChunkAllocs(context.Background())
		}
	}
	c.data[b.lastPos] = v
	b.lastPos++
}

// BeginMessage reserves an 8-byte length prefix at the current tail
// position and snapshots the patch point.
func (b *Buffer) BeginMessage() {
	b.msgChunk = b.last
	b.msgPos = b.lastPos
	b.messageSize = 0
	for i := 0; i < 8; i++ {
		b.appendByte(0)
	}
}

// BufferAppend writes one byte and advances, growing the chain on
// overflow.
func (b *Buffer) BufferAppend(v byte) {
	b.appendByte(v)
	b.messageSize++
}

// Append writes a byte slice.
func (b *Buffer) Append(p []byte) {
	for _, v := range p {
		b.BufferAppend(v)
	}
}

// AppendUint64 writes v big-endian, the framing the wire length prefix
// and other fixed-width fields use.
func (b *Buffer) AppendUint64(v uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	b.Append(tmp[:])
}

// CurrentMessageSize reports the in-progress message's size, the value
// Transaction.Flush checks against maxMessageMb for forced splits.
func (b *Buffer) CurrentMessageSize() int {
	return b.messageSize
}

func writeAt(ch *chunk, pos int, data []byte) {
	for _, v := range data {
		for pos >= len(ch.data) {
			ch = ch.next
			pos = 0
		}
		ch.data[pos] = v
		pos++
	}
}

// CommitMessage aligns the write head to the next 8-byte boundary,
// patches the reserved length prefix, updates chunk END markers, and
// signals the consumer. It returns a fresh UUID correlation id for the
// message; the id is not written into the buffer.
//
// A zero-length message still runs the full alignment/patch sequence
// and becomes visible to the consumer, matching the unconditional
// patch/signal behavior a zero-byte commit should have.
func (b *Buffer) CommitMessage() uuid.UUID {
	for b.lastPos%8 != 0 {
		b.appendByte(0)
	}
	id := uuid.New()

	b.mu.Lock()
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(b.messageSize))
	writeAt(b.msgChunk, b.msgPos, lenBuf[:])
	b.last.end = b.lastPos
	b.pending++
	b.mu.Unlock()

	b.cond.Broadcast()
	return id
}

// Close marks the buffer as no longer accepting new messages and wakes
// any blocked consumer so it can observe end-of-stream.
func (b *Buffer) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.cond.Broadcast()
}

func (b *Buffer) chunkValidLen(ch *chunk) int {
	return ch.end
}

func (b *Buffer) readLocked(n int) []byte {
	out := make([]byte, 0, n)
	for len(out) < n {
		ch := b.first
		avail := b.chunkValidLen(ch) - b.firstPos
		if avail <= 0 {
			b.first = ch.next
			b.firstPos = 0
			continue
		}
		take := n - len(out)
		if take > avail {
			take = avail
		}
		out = append(out, ch.data[b.firstPos:b.firstPos+take]...)
		b.firstPos += take
	}
	return out
}

func (b *Buffer) skipLocked(n int) {
	for n > 0 {
		ch := b.first
		avail := b.chunkValidLen(ch) - b.firstPos
		if avail <= 0 {
			b.first = ch.next
			b.firstPos = 0
			continue
		}
		take := n
		if take > avail {
			take = avail
		}
		b.firstPos += take
		n -= take
	}
}

// ReadMessage blocks until a full message is available, ctx is
// cancelled, or the buffer is closed and drained. ok is false only on
// the latter (clean end-of-stream); err is non-nil only on ctx
// cancellation.
func (b *Buffer) ReadMessage(ctx context.Context) (payload []byte, ok bool, err error) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			b.mu.Lock()
			b.cond.Broadcast()
			b.mu.Unlock()
		case <-done:
		}
	}()
	defer close(done)

	b.mu.Lock()
	defer b.mu.Unlock()
	for b.pending == 0 && !b.closed {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		b.cond.Wait()
	}
	if ctx.Err() != nil {
		return nil, false, ctx.Err()
	}
	if b.pending == 0 {
		return nil, false, nil
	}

	lenBuf := b.readLocked(8)
	length := binary.BigEndian.Uint64(lenBuf)
	payload = b.readLocked(int(length))
	consumed := 8 + int(length)
	if pad := (8 - consumed%8) % 8; pad != 0 {
		b.skipLocked(pad)
	}
	b.pending--
	return payload, true, nil
}
