package selector

import (
	"github.com/ethereum/go-ethereum/core/types"
)

// Status classifies the outcome of evaluating one transaction against the
// in-progress block.
type Status int

const (
	// Selected means the transaction fits and was provisionally applied to
	// the open evaluation scope.
	Selected Status = iota

	// Rejected means the transaction is invalid for this block.
	Rejected

	// Exhausted means a block-terminal resource limit was hit: block full,
	// occupancy above threshold, or evaluation timeout.
	Exhausted
)

func (s Status) String() string {
	switch s {
	case Selected:
		return "selected"
	case Rejected:
		return "rejected"
	case Exhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Result is the execution engine's verdict for a single transaction.
type Result struct {
	Status   Status
	Reverted bool // the transaction executed but reverted
	GasUsed  uint64
	Reason   string
}

// BlockEnv is the in-progress block scope of the execution engine, exclusively
// owned by the single active selection pass. Evaluate provisionally applies a
// transaction to the open scope; Commit folds everything evaluated since the
// last Commit/Rollback into the block, Rollback discards it. Exists as a
// narrow interface to allow mocking the engine out of tests.
type BlockEnv interface {
	// BlockNumber returns the candidate block's number.
	BlockNumber() uint64

	// BlockTimestamp returns the candidate block's timestamp.
	BlockTimestamp() uint64

	// RemainingGas returns the unclaimed gas budget of the block.
	RemainingGas() uint64

	// Evaluate runs one transaction against the open scope.
	Evaluate(tx *types.Transaction) (Result, error)

	// Commit folds the open scope into the block and charges its gas.
	Commit() error

	// Rollback discards the open scope; block capacity is unaffected.
	Rollback() error
}

// TransactionSource supplies the plain, non-bundled transactions considered
// after all bundles have been processed.
type TransactionSource interface {
	// Pending returns transactions worth trying against the given remaining
	// gas budget, in the source's preferred order.
	Pending(gasLimit uint64) []*types.Transaction
}
