package bundlepool

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/strataline/strata-sequencer/internal/metrics"
	strataTypes "github.com/strataline/strata-sequencer/pkg/types"
)

// Config holds the pool's capacity and admission settings.
type Config struct {
	// MaxPoolSizeBytes is the soft ceiling on the aggregate estimated byte
	// size of all pooled bundles. Insertions that push the pool over the
	// ceiling trigger oldest-first eviction.
	MaxPoolSizeBytes uint64

	// MaxMinTimestampAhead bounds how far into the future a bundle's
	// MinTimestamp may lie at admission. Zero disables the check.
	MaxMinTimestampAhead time.Duration

	// EventBuffer is the default channel buffer for admission subscribers.
	EventBuffer int
}

// DefaultConfig returns the pool settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		MaxPoolSizeBytes:     16 * 1024 * 1024, // 16MB
		MaxMinTimestampAhead: 5 * time.Minute,
		EventBuffer:          256,
	}
}

// BundlePool is the in-memory store of admitted bundles. Bundles are indexed
// by identifier, by target block and by member transaction hash; all indexes
// are mutated under one lock so no lookup path is ever stale relative to
// another. The pool exclusively owns its entries: callers receive shared
// read-only views and must not mutate them.
type BundlePool struct {
	mu     sync.RWMutex
	config Config

	bundles       map[common.Hash]*strataTypes.Bundle                 // by bundle id
	byBlock       map[uint64][]*strataTypes.Bundle                    // by target block, ascending sequence
	byTx          map[common.Hash]map[common.Hash]*strataTypes.Bundle // member tx hash -> bundle id -> bundle
	byReplacement map[uuid.UUID]common.Hash                           // replacement uuid -> bundle id

	// arrivals preserves admission order for oldest-first capacity eviction.
	// removeLocked keeps it in lockstep with the other indexes so removed
	// bundles are not pinned in memory.
	arrivals []*strataTypes.Bundle

	nextSeq   uint64
	sizeBytes uint64

	subs      map[uint64]*Subscription
	nextSubID uint64

	metrics *metrics.Metrics
	logger  log.Logger
}

// New creates an empty bundle pool.
func New(config Config) *BundlePool {
	if config.MaxPoolSizeBytes == 0 {
		config.MaxPoolSizeBytes = DefaultConfig().MaxPoolSizeBytes
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = DefaultConfig().EventBuffer
	}
	return &BundlePool{
		config:        config,
		bundles:       make(map[common.Hash]*strataTypes.Bundle),
		byBlock:       make(map[uint64][]*strataTypes.Bundle),
		byTx:          make(map[common.Hash]map[common.Hash]*strataTypes.Bundle),
		byReplacement: make(map[uuid.UUID]common.Hash),
		subs:          make(map[uint64]*Subscription),
		logger:        log.New("module", "bundlepool"),
	}
}

// SetMetrics attaches the metrics instance.
func (p *BundlePool) SetMetrics(m *metrics.Metrics) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metrics = m
}

// Add admits a bundle. If the bundle carries a replacement UUID and a live
// entry already holds the same UUID, that entry is removed first; the swap
// is atomic with respect to concurrent readers. Admission assigns the
// bundle's sequence number, runs the capacity sweep and publishes the
// added event before returning.
func (p *BundlePool) Add(bundle *strataTypes.Bundle) error {
	if len(bundle.Txs) == 0 {
		return ErrEmptyBundle
	}
	if bundle.MaxTimestamp != 0 && bundle.MaxTimestamp < bundle.MinTimestamp {
		return ErrTimestampRange
	}
	if ahead := p.config.MaxMinTimestampAhead; ahead > 0 && bundle.MinTimestamp != 0 {
		if bundle.MinTimestamp > uint64(time.Now().Add(ahead).Unix()) {
			return ErrMinTimestampTooFar
		}
	}
	size := bundle.Size()
	if size > p.config.MaxPoolSizeBytes {
		return ErrBundleOversized
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	id := bundle.Hash()
	if _, ok := p.bundles[id]; ok {
		return ErrBundleAlreadyKnown
	}

	replaced := false
	if bundle.ReplacementUUID != uuid.Nil {
		if oldID, ok := p.byReplacement[bundle.ReplacementUUID]; ok {
			p.removeLocked(p.bundles[oldID])
			replaced = true
		}
	}

	p.nextSeq++
	bundle.Sequence = p.nextSeq
	bundle.ReceivedAt = time.Now()

	p.bundles[id] = bundle
	p.byBlock[bundle.TargetBlock] = append(p.byBlock[bundle.TargetBlock], bundle)
	for _, tx := range bundle.Txs {
		txHash := tx.Hash()
		if p.byTx[txHash] == nil {
			p.byTx[txHash] = make(map[common.Hash]*strataTypes.Bundle)
		}
		p.byTx[txHash][id] = bundle
	}
	if bundle.ReplacementUUID != uuid.Nil {
		p.byReplacement[bundle.ReplacementUUID] = id
	}
	p.arrivals = append(p.arrivals, bundle)
	p.sizeBytes += size

	evicted := p.sweepLocked(bundle)

	if p.metrics != nil {
		p.metrics.BundlesAdded.Add(1)
		if replaced {
			p.metrics.BundlesReplaced.Add(1)
		}
		p.updateGaugesLocked()
	}
	p.logger.Debug("Bundle admitted",
		"hash", id.Hex(),
		"txs", len(bundle.Txs),
		"targetBlock", bundle.TargetBlock,
		"sequence", bundle.Sequence,
		"replaced", replaced,
		"evicted", evicted,
		"poolBytes", p.sizeBytes,
	)

	p.publishLocked(BundleAddedEvent{Bundle: bundle})
	return nil
}

// Get returns the bundle with the given identifier.
func (p *BundlePool) Get(id common.Hash) (*strataTypes.Bundle, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	b, ok := p.bundles[id]
	return b, ok
}

// BundlesByBlock returns a snapshot of all bundles targeting the given block,
// in ascending sequence order. Later pool mutations do not affect the
// returned slice.
func (p *BundlePool) BundlesByBlock(block uint64) []*strataTypes.Bundle {
	p.mu.RLock()
	defer p.mu.RUnlock()
	entries := p.byBlock[block]
	snapshot := make([]*strataTypes.Bundle, len(entries))
	copy(snapshot, entries)
	return snapshot
}

// BundleByTransaction returns the bundle targeting the given block whose
// transactions contain txHash, if any.
func (p *BundlePool) BundleByTransaction(block uint64, txHash common.Hash) (*strataTypes.Bundle, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, b := range p.byTx[txHash] {
		if b.TargetBlock == block {
			return b, true
		}
	}
	return nil, false
}

// Cancel removes the live bundle holding the given replacement UUID. It
// returns true iff an entry was removed.
func (p *BundlePool) Cancel(replacementUUID uuid.UUID) bool {
	if replacementUUID == uuid.Nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	id, ok := p.byReplacement[replacementUUID]
	if !ok {
		return false
	}
	p.removeLocked(p.bundles[id])
	if p.metrics != nil {
		p.metrics.BundlesCancelled.Add(1)
		p.updateGaugesLocked()
	}
	p.logger.Debug("Bundle cancelled", "hash", id.Hex())
	return true
}

// EvictForBlock removes every bundle targeting the given block number,
// regardless of timestamp eligibility. Called once the block has been
// produced, whether or not the bundles were consumed.
func (p *BundlePool) EvictForBlock(block uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entries := p.byBlock[block]
	if len(entries) == 0 {
		return
	}
	// Copy first: removeLocked splices the index we are walking.
	doomed := make([]*strataTypes.Bundle, len(entries))
	copy(doomed, entries)
	for _, b := range doomed {
		p.removeLocked(b)
	}
	if p.metrics != nil {
		p.metrics.BundlesEvicted.Add(uint64(len(doomed)))
		p.updateGaugesLocked()
	}
	p.logger.Debug("Bundles evicted for block", "block", block, "count", len(doomed))
}

// Len returns the number of live bundles.
func (p *BundlePool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.bundles)
}

// SizeBytes returns the aggregate estimated byte size of all live bundles.
func (p *BundlePool) SizeBytes() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sizeBytes
}

// sweepLocked evicts the oldest-admitted bundles until the pool fits under
// the configured ceiling. The entry just inserted is exempt from the sweep
// its own insertion triggered. Returns the number of bundles evicted.
func (p *BundlePool) sweepLocked(justAdded *strataTypes.Bundle) int {
	evicted := 0
	for p.sizeBytes > p.config.MaxPoolSizeBytes && len(p.arrivals) > 0 {
		oldest := p.arrivals[0]
		if oldest == justAdded {
			// Nothing older left; the ceiling is a soft bound.
			break
		}
		p.removeLocked(oldest)
		evicted++
		p.logger.Debug("Bundle evicted for capacity",
			"hash", oldest.Hash().Hex(),
			"sequence", oldest.Sequence,
			"poolBytes", p.sizeBytes,
		)
	}
	if evicted > 0 && p.metrics != nil {
		p.metrics.BundlesEvicted.Add(uint64(evicted))
	}
	return evicted
}

// removeLocked deletes a bundle from every index. Callers hold p.mu.
func (p *BundlePool) removeLocked(b *strataTypes.Bundle) {
	if b == nil {
		return
	}
	id := b.Hash()
	if live, ok := p.bundles[id]; !ok || live != b {
		return
	}
	delete(p.bundles, id)

	entries := p.byBlock[b.TargetBlock]
	for i, e := range entries {
		if e == b {
			p.byBlock[b.TargetBlock] = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	if len(p.byBlock[b.TargetBlock]) == 0 {
		delete(p.byBlock, b.TargetBlock)
	}

	for _, tx := range b.Txs {
		txHash := tx.Hash()
		delete(p.byTx[txHash], id)
		if len(p.byTx[txHash]) == 0 {
			delete(p.byTx, txHash)
		}
	}

	if b.ReplacementUUID != uuid.Nil {
		if cur, ok := p.byReplacement[b.ReplacementUUID]; ok && cur == id {
			delete(p.byReplacement, b.ReplacementUUID)
		}
	}

	for i, e := range p.arrivals {
		if e == b {
			copy(p.arrivals[i:], p.arrivals[i+1:])
			p.arrivals[len(p.arrivals)-1] = nil
			p.arrivals = p.arrivals[:len(p.arrivals)-1]
			break
		}
	}

	p.sizeBytes -= b.Size()
}

// updateGaugesLocked refreshes the pool gauges. Callers hold p.mu.
func (p *BundlePool) updateGaugesLocked() {
	p.metrics.PoolBundles.Store(int64(len(p.bundles)))
	p.metrics.PoolSizeBytes.Store(int64(p.sizeBytes))
}
