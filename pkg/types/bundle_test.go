package types

import (
	"math/big"
	"testing"

	"github.com/google/uuid"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

func TestBundleHashDeterministic(t *testing.T) {
	tx1 := makeTx(1, 21000)
	tx2 := makeTx(2, 21000)

	a := &Bundle{Txs: types.Transactions{tx1, tx2}, TargetBlock: 10}
	b := &Bundle{Txs: types.Transactions{tx1, tx2}, TargetBlock: 10}
	if a.Hash() != b.Hash() {
		t.Errorf("identical bundles hash differently: %s vs %s", a.Hash().Hex(), b.Hash().Hex())
	}

	c := &Bundle{Txs: types.Transactions{tx1, tx2}, TargetBlock: 11}
	if a.Hash() == c.Hash() {
		t.Error("bundles for different target blocks share a hash")
	}

	d := &Bundle{Txs: types.Transactions{tx2, tx1}, TargetBlock: 10}
	if a.Hash() == d.Hash() {
		t.Error("bundles with reordered txs share a hash")
	}
}

func TestReplacementUUIDFromKey(t *testing.T) {
	if ReplacementUUIDFromKey("") != uuid.Nil {
		t.Error("empty key should map to uuid.Nil")
	}
	u1 := ReplacementUUIDFromKey("job-42")
	u2 := ReplacementUUIDFromKey("job-42")
	if u1 != u2 {
		t.Errorf("same key yields different UUIDs: %s vs %s", u1, u2)
	}
	if u1 == uuid.Nil {
		t.Error("non-empty key mapped to uuid.Nil")
	}
	if u1 == ReplacementUUIDFromKey("job-43") {
		t.Error("different keys yield the same UUID")
	}
}

func TestRevertingHash(t *testing.T) {
	tx1 := makeTx(1, 21000)
	tx2 := makeTx(2, 21000)

	b := &Bundle{
		Txs:               types.Transactions{tx1, tx2},
		RevertingTxHashes: []common.Hash{tx1.Hash()},
	}
	if !b.RevertingHash(tx1.Hash()) {
		t.Error("listed hash not reported revertible")
	}
	if b.RevertingHash(tx2.Hash()) {
		t.Error("unlisted hash reported revertible")
	}
}

func TestGasLimit(t *testing.T) {
	b := &Bundle{Txs: types.Transactions{makeTx(1, 21000), makeTx(2, 50000)}}
	if got := b.GasLimit(); got != 71000 {
		t.Errorf("GasLimit() = %d, want 71000", got)
	}
}

func TestTimestampInRange(t *testing.T) {
	tests := []struct {
		name     string
		min, max uint64
		ts       uint64
		want     bool
	}{
		{"no bounds", 0, 0, 100, true},
		{"within bounds", 50, 150, 100, true},
		{"at min", 100, 150, 100, true},
		{"at max", 50, 100, 100, true},
		{"below min", 101, 0, 100, false},
		{"above max", 0, 99, 100, false},
		{"min only ok", 100, 0, 200, true},
		{"max only ok", 0, 200, 100, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &Bundle{MinTimestamp: tt.min, MaxTimestamp: tt.max}
			if got := b.TimestampInRange(tt.ts); got != tt.want {
				t.Errorf("TimestampInRange(%d) = %v, want %v", tt.ts, got, tt.want)
			}
		})
	}
}

// makeTx creates a simple legacy transaction for testing.
func makeTx(nonce uint64, gas uint64) *types.Transaction {
	return types.NewTransaction(
		nonce,
		common.HexToAddress("0xdead"),
		big.NewInt(0),
		gas,
		big.NewInt(1e9), // 1 gwei
		nil,
	)
}
