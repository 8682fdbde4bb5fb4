package mempool

import (
	"container/heap"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
)

// Pool is a thread-safe pool of plain, non-bundled transactions ordered by
// gas price. It fills the block space left over once bundle selection is
// done.
type Pool struct {
	mu      sync.RWMutex
	pending txQueue
	known   map[common.Hash]struct{}
	nextSeq uint64
	maxSize int
	logger  log.Logger
}

// New creates a transaction pool holding at most maxSize transactions.
func New(maxSize int) *Pool {
	p := &Pool{
		pending: make(txQueue, 0, maxSize),
		known:   make(map[common.Hash]struct{}, maxSize),
		maxSize: maxSize,
		logger:  log.New("module", "mempool"),
	}
	heap.Init(&p.pending)
	return p
}

// Add inserts a transaction into the pool.
func (p *Pool) Add(tx *types.Transaction) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	txHash := tx.Hash()

	// Reject duplicates
	if _, exists := p.known[txHash]; exists {
		return ErrAlreadyKnown
	}

	// Reject if full
	if len(p.pending) >= p.maxSize {
		return ErrPoolFull
	}

	p.nextSeq++
	heap.Push(&p.pending, &entry{tx: tx, seq: p.nextSeq})
	p.known[txHash] = struct{}{}

	p.logger.Debug("Transaction added to pool",
		"hash", txHash.Hex(),
		"gasPrice", tx.GasPrice(),
		"poolSize", len(p.pending),
	)

	return nil
}

// Pending removes and returns transactions in price order until the next one
// would not fit the gas limit. Returned transactions leave the pool; callers
// that fail to include one simply drop it.
func (p *Pool) Pending(gasLimit uint64) []*types.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()

	var (
		batch    []*types.Transaction
		gasTotal uint64
	)

	for len(p.pending) > 0 {
		item := heap.Pop(&p.pending).(*entry)

		txGas := item.tx.Gas()
		if gasTotal+txGas > gasLimit {
			// Put it back, doesn't fit in this block
			heap.Push(&p.pending, item)
			break
		}

		delete(p.known, item.tx.Hash())
		batch = append(batch, item.tx)
		gasTotal += txGas
	}

	return batch
}

// Has returns true if the transaction is in the pool.
func (p *Pool) Has(txHash common.Hash) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.known[txHash]
	return ok
}

// Len returns the number of pending transactions.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.pending)
}
