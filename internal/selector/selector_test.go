package selector

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	strataTypes "github.com/strataline/strata-sequencer/pkg/types"
)

var txNonce uint64

// makeTx creates a simple legacy transaction for testing.
func makeTx(gas uint64) *types.Transaction {
	txNonce++
	return types.NewTransaction(
		txNonce,
		common.HexToAddress("0xdead"),
		big.NewInt(0),
		gas,
		big.NewInt(1e9), // 1 gwei
		nil,
	)
}

// fakeSource is a scripted stand-in for the bundle pool.
type fakeSource struct {
	bundles map[uint64][]*strataTypes.Bundle
}

func (s *fakeSource) BundlesByBlock(block uint64) []*strataTypes.Bundle {
	return s.bundles[block]
}

// fakeEnv is a scripted stand-in for the execution engine's block scope.
// Transactions without a scripted result evaluate as selected, charging
// their full gas limit.
type fakeEnv struct {
	number    uint64
	timestamp uint64
	remaining uint64
	results   map[common.Hash]Result

	evaluated []common.Hash
	included  []common.Hash
	commits   int
	rollbacks int

	open    []common.Hash
	openGas uint64
}

func (e *fakeEnv) BlockNumber() uint64    { return e.number }
func (e *fakeEnv) BlockTimestamp() uint64 { return e.timestamp }
func (e *fakeEnv) RemainingGas() uint64   { return e.remaining - e.openGas }

func (e *fakeEnv) Evaluate(tx *types.Transaction) (Result, error) {
	e.evaluated = append(e.evaluated, tx.Hash())
	res, ok := e.results[tx.Hash()]
	if !ok {
		res = Result{Status: Selected, GasUsed: tx.Gas()}
	}
	if res.Status == Selected {
		e.open = append(e.open, tx.Hash())
		e.openGas += res.GasUsed
	}
	return res, nil
}

func (e *fakeEnv) Commit() error {
	e.included = append(e.included, e.open...)
	e.remaining -= e.openGas
	e.open, e.openGas = nil, 0
	e.commits++
	return nil
}

func (e *fakeEnv) Rollback() error {
	e.open, e.openGas = nil, 0
	e.rollbacks++
	return nil
}

func evaluatedContains(env *fakeEnv, hash common.Hash) bool {
	for _, h := range env.evaluated {
		if h == hash {
			return true
		}
	}
	return false
}

func TestSelectForBlockGasAndExhaustion(t *testing.T) {
	// Four bundles targeting block 15 against a 15M budget. The first two
	// commit (5M + 7M), the third alone exceeds the running budget and must
	// never reach the evaluator, the fourth hits a block-occupancy limit
	// and rolls back.
	b1 := &strataTypes.Bundle{Txs: types.Transactions{makeTx(5_000_000)}, TargetBlock: 15}
	b2 := &strataTypes.Bundle{Txs: types.Transactions{makeTx(7_000_000)}, TargetBlock: 15}
	b3 := &strataTypes.Bundle{Txs: types.Transactions{makeTx(5_000_000)}, TargetBlock: 15}
	b4 := &strataTypes.Bundle{Txs: types.Transactions{makeTx(2_000_000)}, TargetBlock: 15}

	env := &fakeEnv{
		number:    15,
		timestamp: 1000,
		remaining: 15_000_000,
		results: map[common.Hash]Result{
			b4.Txs[0].Hash(): {Status: Exhausted, Reason: "occupancy above threshold"},
		},
	}
	source := &fakeSource{bundles: map[uint64][]*strataTypes.Bundle{
		15: {b1, b2, b3, b4},
	}}

	stats, err := New(source).SelectForBlock(env)
	if err != nil {
		t.Fatalf("SelectForBlock: %v", err)
	}

	if stats.Committed != 2 {
		t.Errorf("Committed = %d, want 2", stats.Committed)
	}
	if stats.RolledBack != 1 {
		t.Errorf("RolledBack = %d, want 1", stats.RolledBack)
	}
	if stats.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", stats.Skipped)
	}
	if env.commits != 2 || env.rollbacks != 1 {
		t.Errorf("engine saw %d commits / %d rollbacks, want 2 / 1", env.commits, env.rollbacks)
	}
	if evaluatedContains(env, b3.Txs[0].Hash()) {
		t.Error("evaluator invoked for the bundle that exceeds remaining gas")
	}
}

func TestBundleAllOrNothing(t *testing.T) {
	tx1 := makeTx(21000)
	tx2 := makeTx(21000)
	tx3 := makeTx(21000)
	b := &strataTypes.Bundle{Txs: types.Transactions{tx1, tx2, tx3}, TargetBlock: 1}

	env := &fakeEnv{
		number:    1,
		remaining: 1_000_000,
		results: map[common.Hash]Result{
			tx2.Hash(): {Status: Rejected, Reason: "nonce too low"},
		},
	}
	source := &fakeSource{bundles: map[uint64][]*strataTypes.Bundle{1: {b}}}

	stats, err := New(source).SelectForBlock(env)
	if err != nil {
		t.Fatalf("SelectForBlock: %v", err)
	}
	if stats.RolledBack != 1 || stats.Committed != 0 {
		t.Errorf("stats = %+v, want one rollback and no commit", stats)
	}
	if len(env.included) != 0 {
		t.Errorf("%d txs included from a failed bundle", len(env.included))
	}
	if env.RemainingGas() != 1_000_000 {
		t.Errorf("block capacity touched by a rolled-back bundle: remaining %d", env.RemainingGas())
	}
}

func TestCommittedBundlePreservesOrder(t *testing.T) {
	tx1 := makeTx(21000)
	tx2 := makeTx(30000)
	b := &strataTypes.Bundle{Txs: types.Transactions{tx1, tx2}, TargetBlock: 1}

	env := &fakeEnv{number: 1, remaining: 1_000_000}
	source := &fakeSource{bundles: map[uint64][]*strataTypes.Bundle{1: {b}}}

	stats, err := New(source).SelectForBlock(env)
	if err != nil {
		t.Fatalf("SelectForBlock: %v", err)
	}
	if stats.Committed != 1 || stats.TxsIncluded != 2 {
		t.Fatalf("stats = %+v, want one committed bundle of 2 txs", stats)
	}
	if len(env.included) != 2 || env.included[0] != tx1.Hash() || env.included[1] != tx2.Hash() {
		t.Error("committed txs not in bundle order")
	}
	if env.RemainingGas() != 1_000_000-51000 {
		t.Errorf("remaining gas %d, want %d", env.RemainingGas(), 1_000_000-51000)
	}
}

func TestRevertibleTxTolerated(t *testing.T) {
	tx1 := makeTx(21000)
	tx2 := makeTx(21000)
	b := &strataTypes.Bundle{
		Txs:               types.Transactions{tx1, tx2},
		TargetBlock:       1,
		RevertingTxHashes: []common.Hash{tx2.Hash()},
	}

	env := &fakeEnv{
		number:    1,
		remaining: 1_000_000,
		results: map[common.Hash]Result{
			tx2.Hash(): {Status: Selected, Reverted: true, GasUsed: 21000},
		},
	}
	source := &fakeSource{bundles: map[uint64][]*strataTypes.Bundle{1: {b}}}

	stats, err := New(source).SelectForBlock(env)
	if err != nil {
		t.Fatalf("SelectForBlock: %v", err)
	}
	if stats.Committed != 1 {
		t.Errorf("revertible revert rolled the bundle back: %+v", stats)
	}
}

func TestNonRevertibleRevertRollsBack(t *testing.T) {
	tx1 := makeTx(21000)
	tx2 := makeTx(21000)
	b := &strataTypes.Bundle{Txs: types.Transactions{tx1, tx2}, TargetBlock: 1}

	env := &fakeEnv{
		number:    1,
		remaining: 1_000_000,
		results: map[common.Hash]Result{
			tx2.Hash(): {Status: Selected, Reverted: true, GasUsed: 21000},
		},
	}
	source := &fakeSource{bundles: map[uint64][]*strataTypes.Bundle{1: {b}}}

	stats, err := New(source).SelectForBlock(env)
	if err != nil {
		t.Fatalf("SelectForBlock: %v", err)
	}
	if stats.RolledBack != 1 || stats.Committed != 0 {
		t.Errorf("unlisted revert must roll the bundle back: %+v", stats)
	}
}

func TestTimestampEligibility(t *testing.T) {
	early := &strataTypes.Bundle{Txs: types.Transactions{makeTx(21000)}, TargetBlock: 1, MinTimestamp: 2000}
	late := &strataTypes.Bundle{Txs: types.Transactions{makeTx(21000)}, TargetBlock: 1, MaxTimestamp: 500}
	ok := &strataTypes.Bundle{Txs: types.Transactions{makeTx(21000)}, TargetBlock: 1, MinTimestamp: 900, MaxTimestamp: 1100}

	env := &fakeEnv{number: 1, timestamp: 1000, remaining: 1_000_000}
	source := &fakeSource{bundles: map[uint64][]*strataTypes.Bundle{1: {early, late, ok}}}

	stats, err := New(source).SelectForBlock(env)
	if err != nil {
		t.Fatalf("SelectForBlock: %v", err)
	}
	if stats.Skipped != 2 || stats.Committed != 1 {
		t.Errorf("stats = %+v, want 2 skipped and 1 committed", stats)
	}
	if evaluatedContains(env, early.Txs[0].Hash()) || evaluatedContains(env, late.Txs[0].Hash()) {
		t.Error("evaluator invoked for a timestamp-ineligible bundle")
	}
}

// fakeTxSource supplies plain transactions for the post-bundle phase.
type fakeTxSource struct {
	txs []*types.Transaction
}

func (s *fakeTxSource) Pending(gasLimit uint64) []*types.Transaction { return s.txs }

func TestSelectPending(t *testing.T) {
	tx1 := makeTx(21000)
	bad := makeTx(21000)
	tx2 := makeTx(21000)

	env := &fakeEnv{
		number:    1,
		remaining: 1_000_000,
		results: map[common.Hash]Result{
			bad.Hash(): {Status: Rejected, Reason: "invalid"},
		},
	}
	c := New(&fakeSource{})

	stats, err := c.SelectPending(env, &fakeTxSource{txs: []*types.Transaction{tx1, bad, tx2}})
	if err != nil {
		t.Fatalf("SelectPending: %v", err)
	}
	if stats.TxsIncluded != 2 {
		t.Errorf("TxsIncluded = %d, want 2", stats.TxsIncluded)
	}
	if len(env.included) != 2 || env.included[0] != tx1.Hash() || env.included[1] != tx2.Hash() {
		t.Error("pending selection included the wrong txs")
	}
	if env.rollbacks != 1 {
		t.Errorf("rollbacks = %d, want 1 for the rejected tx", env.rollbacks)
	}
}

func TestSelectPendingNilSource(t *testing.T) {
	env := &fakeEnv{number: 1, remaining: 1_000_000}
	stats, err := New(&fakeSource{}).SelectPending(env, nil)
	if err != nil {
		t.Fatalf("SelectPending: %v", err)
	}
	if stats.TxsIncluded != 0 {
		t.Errorf("TxsIncluded = %d, want 0", stats.TxsIncluded)
	}
}
