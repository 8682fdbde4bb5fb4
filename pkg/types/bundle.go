package types

import (
	"crypto/sha256"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Bundle is a caller-submitted group of transactions that must be included
// in its target block atomically and consecutively, or not at all. Txs order
// is execution order and is fixed at submission; all other fields except the
// pool-assigned Sequence/ReceivedAt are immutable after admission.
type Bundle struct {
	Txs               types.Transactions
	TargetBlock       uint64
	MinTimestamp      uint64 // inclusive lower bound on block timestamp, 0 = unset
	MaxTimestamp      uint64 // inclusive upper bound on block timestamp, 0 = unset
	RevertingTxHashes []common.Hash
	ReplacementUUID   uuid.UUID // uuid.Nil when the submitter supplied no replacement key

	// Assigned by the pool at admission.
	Sequence   uint64
	ReceivedAt time.Time

	hash atomic.Pointer[common.Hash]
	size atomic.Uint64
}

// ReplacementUUIDFromKey derives the deterministic replacement identity for a
// caller-supplied opaque key. The same key always maps to the same UUID, so a
// later submission carrying the key replaces the earlier one.
func ReplacementUUIDFromKey(key string) uuid.UUID {
	if key == "" {
		return uuid.Nil
	}
	return uuid.NewHash(sha256.New(), uuid.Nil, []byte(key), 5)
}

// Hash returns the 32-byte bundle identifier, the keccak of the member
// transaction hashes and the target block. Cached after the first call.
func (b *Bundle) Hash() common.Hash {
	if h := b.hash.Load(); h != nil {
		return *h
	}
	buf := make([]byte, 0, len(b.Txs)*common.HashLength+8)
	for _, tx := range b.Txs {
		h := tx.Hash()
		buf = append(buf, h[:]...)
	}
	var blk [8]byte
	for i := 0; i < 8; i++ {
		blk[i] = byte(b.TargetBlock >> (56 - 8*i))
	}
	buf = append(buf, blk[:]...)
	h := crypto.Keccak256Hash(buf)
	b.hash.Store(&h)
	return h
}

// RevertingHash reports whether the given transaction hash is allowed to
// revert without invalidating the bundle.
func (b *Bundle) RevertingHash(hash common.Hash) bool {
	for _, revHash := range b.RevertingTxHashes {
		if revHash == hash {
			return true
		}
	}
	return false
}

// GasLimit returns the sum of the member transactions' gas limits, the upper
// bound the bundle can consume of a block's remaining gas budget.
func (b *Bundle) GasLimit() uint64 {
	var total uint64
	for _, tx := range b.Txs {
		total += tx.Gas()
	}
	return total
}

// Size returns the estimated byte size of the bundle, the sum of the encoded
// member transaction sizes. Used for pool capacity accounting; this is a soft
// estimate, monotonic in encoded transaction length.
func (b *Bundle) Size() uint64 {
	if s := b.size.Load(); s != 0 {
		return s
	}
	var total uint64
	for _, tx := range b.Txs {
		total += tx.Size()
	}
	b.size.Store(total)
	return total
}

// TimestampInRange reports whether a candidate block timestamp satisfies the
// bundle's optional MinTimestamp/MaxTimestamp bounds.
func (b *Bundle) TimestampInRange(blockTimestamp uint64) bool {
	if b.MinTimestamp != 0 && blockTimestamp < b.MinTimestamp {
		return false
	}
	if b.MaxTimestamp != 0 && blockTimestamp > b.MaxTimestamp {
		return false
	}
	return true
}
