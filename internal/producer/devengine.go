package producer

import (
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/strataline/strata-sequencer/internal/selector"
)

// DevEngine is an in-process execution engine stand-in for standalone runs:
// every transaction that fits the remaining gas budget is selected and
// charged its full gas limit. Real deployments inject the actual engine.
type DevEngine struct {
	mu       sync.Mutex
	gasLimit uint64
	height   uint64
}

// NewDevEngine creates a simulated engine producing blocks with the given
// gas limit.
func NewDevEngine(gasLimit uint64) *DevEngine {
	return &DevEngine{gasLimit: gasLimit}
}

// OpenBlockEnv starts the next simulated candidate block.
func (e *DevEngine) OpenBlockEnv() (selector.BlockEnv, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.height++
	return &devBlockEnv{
		engine:    e,
		number:    e.height,
		timestamp: uint64(time.Now().Unix()),
		remaining: e.gasLimit,
	}, nil
}

// Seal finalizes a simulated block.
func (e *DevEngine) Seal(env selector.BlockEnv) error {
	dev, ok := env.(*devBlockEnv)
	if !ok {
		return fmt.Errorf("foreign block env")
	}
	if len(dev.open) != 0 {
		// A scope left neither committed nor rolled back is a caller bug.
		return fmt.Errorf("sealing block %d with an open scope", dev.number)
	}
	return nil
}

// devBlockEnv is one simulated in-progress block.
type devBlockEnv struct {
	engine    *DevEngine
	number    uint64
	timestamp uint64
	remaining uint64

	open     types.Transactions // evaluated but not yet committed
	openGas  uint64
	included types.Transactions
}

func (env *devBlockEnv) BlockNumber() uint64    { return env.number }
func (env *devBlockEnv) BlockTimestamp() uint64 { return env.timestamp }

func (env *devBlockEnv) RemainingGas() uint64 {
	return env.remaining - env.openGas
}

func (env *devBlockEnv) Evaluate(tx *types.Transaction) (selector.Result, error) {
	gas := tx.Gas()
	if gas > env.RemainingGas() {
		return selector.Result{
			Status: selector.Exhausted,
			Reason: "block gas budget exceeded",
		}, nil
	}
	env.open = append(env.open, tx)
	env.openGas += gas
	return selector.Result{Status: selector.Selected, GasUsed: gas}, nil
}

func (env *devBlockEnv) Commit() error {
	env.included = append(env.included, env.open...)
	env.remaining -= env.openGas
	env.open = nil
	env.openGas = 0
	return nil
}

func (env *devBlockEnv) Rollback() error {
	env.open = nil
	env.openGas = 0
	return nil
}

// Included returns the transactions committed to this block so far.
func (env *devBlockEnv) Included() types.Transactions {
	return env.included
}
