package producer

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/strataline/strata-sequencer/internal/bundlepool"
	"github.com/strataline/strata-sequencer/internal/config"
	"github.com/strataline/strata-sequencer/internal/selector"
)

// EngineFactory opens one in-progress block scope per building pass. The
// returned env is exclusively owned by the pass until Seal is called.
type EngineFactory interface {
	// OpenBlockEnv starts the next candidate block.
	OpenBlockEnv() (selector.BlockEnv, error)

	// Seal finalizes the candidate block the env belongs to.
	Seal(env selector.BlockEnv) error
}

// Producer drives one block-building pass per tick: it opens an engine
// scope, merges eligible bundles through the selection coordinator, continues
// with plain transactions, seals the block and evicts the consumed bundles.
// Only one pass runs at a time; submissions proceed concurrently.
type Producer struct {
	mu       sync.Mutex
	cfg      *config.SequencerConfig
	engines  EngineFactory
	selector *selector.Coordinator
	pool     *bundlepool.BundlePool
	txs      selector.TransactionSource // may be nil
	logger   log.Logger
	cancel   context.CancelFunc
}

// New creates a new block producer.
func New(cfg *config.SequencerConfig, engines EngineFactory, sel *selector.Coordinator, pool *bundlepool.BundlePool, txs selector.TransactionSource) *Producer {
	return &Producer{
		cfg:      cfg,
		engines:  engines,
		selector: sel,
		pool:     pool,
		txs:      txs,
		logger:   log.New("module", "producer"),
	}
}

// Start begins the block production loop. Runs until the context is cancelled.
func (p *Producer) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	ticker := time.NewTicker(p.cfg.BlockTime)
	defer ticker.Stop()

	p.logger.Info("Block producer started",
		"blockTime", p.cfg.BlockTime,
		"maxBlockGas", p.cfg.MaxBlockGas,
	)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Block producer stopped")
			return
		case <-ticker.C:
			p.ProduceBlock()
		}
	}
}

// Stop halts the block production loop.
func (p *Producer) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
}

// ProduceBlock runs a single block-building pass.
func (p *Producer) ProduceBlock() {
	p.mu.Lock()
	defer p.mu.Unlock()

	env, err := p.engines.OpenBlockEnv()
	if err != nil {
		p.logger.Error("Failed to open block env", "err", err)
		return
	}
	blockNumber := env.BlockNumber()

	// Once a height is opened it is never retried: bundles targeting it are
	// spent whether the pass succeeds, fails or includes nothing.
	defer p.pool.EvictForBlock(blockNumber)

	bundleStats, err := p.selector.SelectForBlock(env)
	if err != nil {
		p.logger.Error("Bundle selection failed", "block", blockNumber, "err", err)
		return
	}
	pendingStats, err := p.selector.SelectPending(env, p.txs)
	if err != nil {
		p.logger.Error("Pending selection failed", "block", blockNumber, "err", err)
		return
	}

	if err := p.engines.Seal(env); err != nil {
		p.logger.Error("Failed to seal block", "block", blockNumber, "err", err)
		return
	}

	txCount := bundleStats.TxsIncluded + pendingStats.TxsIncluded
	if txCount > 0 {
		p.logger.Info("Block produced",
			"number", blockNumber,
			"txCount", txCount,
			"bundlesCommitted", bundleStats.Committed,
			"bundlesRolledBack", bundleStats.RolledBack,
			"bundlesSkipped", bundleStats.Skipped,
			"gasUsed", bundleStats.GasUsed+pendingStats.GasUsed,
		)
	} else {
		p.logger.Debug("Empty block produced", "number", blockNumber)
	}
}
