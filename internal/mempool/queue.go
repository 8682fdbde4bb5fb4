package mempool

import (
	"github.com/ethereum/go-ethereum/core/types"
)

// entry pairs a pooled transaction with its admission order.
type entry struct {
	tx  *types.Transaction
	seq uint64
}

// txQueue implements heap.Interface for price-ordered transactions.
// Higher gas price = popped first (max-heap).
type txQueue []*entry

func (q txQueue) Len() int { return len(q) }

func (q txQueue) Less(i, j int) bool {
	// Higher gas price first
	if c := q[i].tx.GasPrice().Cmp(q[j].tx.GasPrice()); c != 0 {
		return c > 0
	}
	// FIFO tie-break: earlier admission = higher priority
	return q[i].seq < q[j].seq
}

func (q txQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *txQueue) Push(x interface{}) {
	*q = append(*q, x.(*entry))
}

func (q *txQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // avoid memory leak
	*q = old[:n-1]
	return item
}
