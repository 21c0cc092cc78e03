// Package txbuffer implements the per-transaction chunk store and
// split-block list: an append-only, chunk-linked arena holding
// serialized redo/undo record pairs, and the ordered list of
// multi-block UNDO fragments awaiting merge.
package txbuffer

import (
	"github.com/oracdc-io/oracdc/internal/oraerr"
	"github.com/oracdc-io/oracdc/internal/redo"
)

// ChunkSize is the nominal capacity of one TransactionChunk, mirroring
// the original's CHUNK_SIZE constant. A new chunk is allocated whenever
// the tuple being appended would not fit in the remainder of the
// current one.
const ChunkSize = 64 * 1024

// RowHeaderTotal is the fixed per-tuple bookkeeping overhead
// (ROW_HEADER_TOTAL in the original: op2, two record headers, scn,
// size) charged against ChunkSize in addition to the two records'
// payload lengths.
const RowHeaderTotal = 96

// entry is one `[op2 | r1 | r2 | scn]` tuple, the chunk's record shape.
// r2 is the companion record whose OpCode Transaction.Flush dispatches
// on, self-contained ops (multi-row insert/delete, DDL) included; the
// chain itself also accepts a nil r2.
type entry struct {
	r1, r2 *redo.Record
	scn    uint64
	size   int
}

// Chunk is a fixed-capacity segment of the per-transaction arena.
type Chunk struct {
	entries []entry
	size    int
	prev    *Chunk
	next    *Chunk
}

func entrySize(r1, r2 *redo.Record) int {
	n := RowHeaderTotal + int(r1.Length)
	if r2 != nil {
		n += int(r2.Length)
	}
	return n
}

// Chain is the per-transaction chunk chain plus the tail bookkeeping
// (last record pair, opCodes) a Transaction needs directly;
// Transaction embeds a Chain rather than reimplementing chunk
// arithmetic itself.
type Chain struct {
	first, last *Chunk
	OpCodes     int
	LastR1      *redo.Record
	LastR2      *redo.Record
}

// Add implements addTransactionChunk: append (r1, r2, scn) to the tail
// chunk, spilling to a freshly allocated chunk when it would not fit.
func (c *Chain) Add(r1, r2 *redo.Record, scn uint64) error {
	if r1 == nil {
		return oraerr.NewFatal("txbuffer.Chain.Add", oraerr.ErrAllocationFailed)
	}
	size := entrySize(r1, r2)
	if size > ChunkSize {
		return oraerr.NewFatal("txbuffer.Chain.Add", oraerr.ErrAllocationFailed)
	}
	if c.last == nil || c.last.size+size > ChunkSize {
		nc := &Chunk{prev: c.last}
		if c.last != nil {
			c.last.next = nc
		}
		if c.first == nil {
			c.first = nc
		}
		c.last = nc
	}
	c.last.entries = append(c.last.entries, entry{r1: r1, r2: r2, scn: scn, size: size})
	c.last.size += size
	c.OpCodes++
	c.LastR1, c.LastR2 = r1, r2
	return nil
}

// unlinkIfEmpty removes ch from the chain if it has no entries left,
// fixing up first/last/prev/next.
func (c *Chain) unlinkIfEmpty(ch *Chunk) {
	if len(ch.entries) != 0 {
		return
	}
	if ch.prev != nil {
		ch.prev.next = ch.next
	} else {
		c.first = ch.next
	}
	if ch.next != nil {
		ch.next.prev = ch.prev
	} else {
		c.last = ch.prev
	}
}

// tailRecords reports the (r1, r2) of the very last stored entry, for
// refreshing LastR1/LastR2 after a pop.
func (c *Chain) tailRecords() (*redo.Record, *redo.Record) {
	if c.last == nil || len(c.last.entries) == 0 {
		return nil, nil
	}
	e := c.last.entries[len(c.last.entries)-1]
	return e.r1, e.r2
}

// RollbackLast implements rollbackTransactionChunk: pop the most
// recently added tuple. Returns ok=false on an empty chain.
func (c *Chain) RollbackLast() (r1, r2 *redo.Record, ok bool) {
	if c.last == nil || len(c.last.entries) == 0 {
		return nil, nil, false
	}
	last := c.last
	e := last.entries[len(last.entries)-1]
	last.entries = last.entries[:len(last.entries)-1]
	last.size -= e.size
	c.unlinkIfEmpty(last)
	c.OpCodes--
	c.LastR1, c.LastR2 = c.tailRecords()
	return e.r1, e.r2, true
}

// DeletePart implements deleteTransactionPart: scan from the tail
// backwards for the first (r1, r2) pair for which match returns true,
// splice it out, and report whether one was found.
func (c *Chain) DeletePart(match func(r1, r2 *redo.Record) bool) (r1, r2 *redo.Record, ok bool) {
	for ch := c.last; ch != nil; ch = ch.prev {
		for i := len(ch.entries) - 1; i >= 0; i-- {
			e := ch.entries[i]
			if !match(e.r1, e.r2) {
				continue
			}
			ch.entries = append(ch.entries[:i], ch.entries[i+1:]...)
			ch.size -= e.size
			wasLast := ch == c.last && i == len(ch.entries)
			c.unlinkIfEmpty(ch)
			c.OpCodes--
			if wasLast {
				c.LastR1, c.LastR2 = c.tailRecords()
			}
			return e.r1, e.r2, true
		}
	}
	return nil, nil, false
}

// Walk visits every stored tuple in insertion order.
func (c *Chain) Walk(fn func(r1, r2 *redo.Record, scn uint64) error) error {
	for ch := c.first; ch != nil; ch = ch.next {
		for _, e := range ch.entries {
			if err := fn(e.r1, e.r2, e.scn); err != nil {
				return err
			}
		}
	}
	return nil
}

// Empty reports whether the chain holds no tuples.
func (c *Chain) Empty() bool { return c.OpCodes == 0 }

// Reset unlinks the whole chunk chain, as flush() does once a
// transaction's commit has been fully emitted.
func (c *Chain) Reset() {
	c.first, c.last = nil, nil
	c.OpCodes = 0
	c.LastR1, c.LastR2 = nil, nil
}
