package engine

import (
	"container/heap"

	"github.com/oracdc-io/oracdc/internal/transaction"
)

// txHeap is the SCN-ordered transaction heap
// describes as engine-owned: it orders pending transactions by
// transaction.Less (commit status, then ascending lastScn, then xid)
// so the engine can flush in commit order.
type txHeap []*transaction.Transaction

func (h txHeap) Len() int { return len(h) }

func (h txHeap) Less(i, j int) bool { return transaction.Less(h[i], h[j]) }

func (h txHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].Pos = i
	h[j].Pos = j
}

func (h *txHeap) Push(x any) {
	tx := x.(*transaction.Transaction)
	tx.Pos = len(*h)
	*h = append(*h, tx)
}

func (h *txHeap) Pop() any {
	old := *h
	n := len(old)
	tx := old[n-1]
	old[n-1] = nil
	tx.Pos = -1
	*h = old[:n-1]
	return tx
}

var _ heap.Interface = (*txHeap)(nil)
