package selector

import (
	"github.com/ethereum/go-ethereum/log"

	"github.com/strataline/strata-sequencer/internal/metrics"
	strataTypes "github.com/strataline/strata-sequencer/pkg/types"
)

// BundleSource is the slice of the bundle pool the coordinator consumes.
// Exists to allow mocking the pool out of tests.
type BundleSource interface {
	BundlesByBlock(block uint64) []*strataTypes.Bundle
}

// Stats summarizes one selection pass.
type Stats struct {
	Committed   int // bundles fully included
	RolledBack  int // bundles evaluated but discarded
	Skipped     int // bundles never evaluated (timestamp or gas precheck)
	TxsIncluded int // transactions folded into the block, bundled or not
	GasUsed     uint64
}

// Coordinator merges pooled bundles into a block-building pass. Bundles are
// processed in admission order with per-bundle atomicity: either every
// transaction of a bundle ends up in the block, in its fixed order, or none
// does. Exactly one pass runs at a time; the pass exclusively owns its
// BlockEnv.
type Coordinator struct {
	pool    BundleSource
	metrics *metrics.Metrics
	logger  log.Logger
}

// New creates a selection coordinator reading from the given bundle source.
func New(pool BundleSource) *Coordinator {
	return &Coordinator{
		pool:   pool,
		logger: log.New("module", "selector"),
	}
}

// SetMetrics attaches the metrics instance.
func (c *Coordinator) SetMetrics(m *metrics.Metrics) { c.metrics = m }

// SelectForBlock processes every pooled bundle targeting the env's block.
// Ineligible bundles (timestamp out of range, or whole-bundle gas limit over
// the remaining budget) are skipped without touching the evaluator; they stay
// in the pool for a later block. Evaluation failures roll the bundle back and
// are not surfaced as errors: absence from the block is the only report.
func (c *Coordinator) SelectForBlock(env BlockEnv) (Stats, error) {
	var stats Stats
	bundles := c.pool.BundlesByBlock(env.BlockNumber())
	timestamp := env.BlockTimestamp()

	for _, bundle := range bundles {
		if !bundle.TimestampInRange(timestamp) {
			stats.Skipped++
			c.logger.Debug("Bundle skipped, timestamp out of range",
				"hash", bundle.Hash().Hex(),
				"blockTimestamp", timestamp,
				"min", bundle.MinTimestamp,
				"max", bundle.MaxTimestamp,
			)
			continue
		}
		if gasLimit := bundle.GasLimit(); gasLimit > env.RemainingGas() {
			stats.Skipped++
			c.logger.Debug("Bundle skipped, over remaining gas",
				"hash", bundle.Hash().Hex(),
				"bundleGas", gasLimit,
				"remaining", env.RemainingGas(),
			)
			continue
		}

		ok, gasUsed := c.evaluateBundle(env, bundle)
		if !ok {
			if err := env.Rollback(); err != nil {
				return stats, err
			}
			stats.RolledBack++
			continue
		}
		if err := env.Commit(); err != nil {
			return stats, err
		}
		stats.Committed++
		stats.TxsIncluded += len(bundle.Txs)
		stats.GasUsed += gasUsed
		c.logger.Debug("Bundle committed",
			"hash", bundle.Hash().Hex(),
			"txs", len(bundle.Txs),
			"gasUsed", gasUsed,
		)
	}

	if c.metrics != nil {
		c.metrics.BundlesCommitted.Add(uint64(stats.Committed))
		c.metrics.BundlesRolledBack.Add(uint64(stats.RolledBack))
		c.metrics.BundlesSkipped.Add(uint64(stats.Skipped))
		c.metrics.TxsSelected.Add(uint64(stats.TxsIncluded))
	}
	return stats, nil
}

// evaluateBundle runs the bundle's transactions in order inside the open
// scope. It reports whether the whole bundle may be committed. A revert is
// tolerated only for hashes the submitter marked revertible; every other
// non-selected outcome, including engine errors and resource exhaustion, is
// terminal for the bundle.
func (c *Coordinator) evaluateBundle(env BlockEnv, bundle *strataTypes.Bundle) (bool, uint64) {
	var gasUsed uint64
	for _, tx := range bundle.Txs {
		res, err := env.Evaluate(tx)
		if err != nil {
			c.logger.Debug("Bundle tx evaluation error",
				"bundle", bundle.Hash().Hex(),
				"tx", tx.Hash().Hex(),
				"err", err,
			)
			return false, 0
		}
		if res.Status != Selected {
			c.logger.Debug("Bundle tx not selected",
				"bundle", bundle.Hash().Hex(),
				"tx", tx.Hash().Hex(),
				"status", res.Status,
				"reason", res.Reason,
			)
			return false, 0
		}
		if res.Reverted && !bundle.RevertingHash(tx.Hash()) {
			c.logger.Debug("Bundle tx reverted and is not revertible",
				"bundle", bundle.Hash().Hex(),
				"tx", tx.Hash().Hex(),
			)
			return false, 0
		}
		gasUsed += res.GasUsed
	}
	return true, gasUsed
}

// SelectPending continues normal, non-bundled selection against the remaining
// gas budget, one transaction per scope. Failed transactions are rolled back
// individually and do not affect their neighbours.
func (c *Coordinator) SelectPending(env BlockEnv, source TransactionSource) (Stats, error) {
	var stats Stats
	if source == nil {
		return stats, nil
	}
	for _, tx := range source.Pending(env.RemainingGas()) {
		res, err := env.Evaluate(tx)
		if err != nil || res.Status != Selected {
			if rbErr := env.Rollback(); rbErr != nil {
				return stats, rbErr
			}
			continue
		}
		if err := env.Commit(); err != nil {
			return stats, err
		}
		stats.TxsIncluded++
		stats.GasUsed += res.GasUsed
	}
	if c.metrics != nil {
		c.metrics.TxsSelected.Add(uint64(stats.TxsIncluded))
	}
	return stats, nil
}
