package forwarder

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/strataline/strata-sequencer/internal/bundlepool"
	strataTypes "github.com/strataline/strata-sequencer/pkg/types"
)

var txNonce uint64

func makeTx() *types.Transaction {
	txNonce++
	return types.NewTransaction(
		txNonce,
		common.HexToAddress("0xdead"),
		big.NewInt(0),
		21000,
		big.NewInt(1e9), // 1 gwei
		nil,
	)
}

func makeBundle(block uint64) *strataTypes.Bundle {
	return &strataTypes.Bundle{
		Txs:         types.Transactions{makeTx()},
		TargetBlock: block,
	}
}

// fakeSender fails the first failures attempts, then delivers. Every attempt
// is signalled on attempted; successful deliveries land on delivered.
type fakeSender struct {
	mu       sync.Mutex
	failures int
	attempts int

	attempted chan struct{}
	delivered chan common.Hash
}

func newFakeSender(failures int) *fakeSender {
	return &fakeSender{
		failures:  failures,
		attempted: make(chan struct{}, 64),
		delivered: make(chan common.Hash, 64),
	}
}

func (f *fakeSender) SendBundle(ctx context.Context, bundle *strataTypes.Bundle) error {
	f.mu.Lock()
	f.attempts++
	fail := f.attempts <= f.failures
	f.mu.Unlock()

	f.attempted <- struct{}{}
	if fail {
		return errors.New("connection refused")
	}
	f.delivered <- bundle.Hash()
	return nil
}

func (f *fakeSender) Endpoint() string { return "fake://relay" }

func (f *fakeSender) attemptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

func waitDelivery(t *testing.T, sender *fakeSender) common.Hash {
	t.Helper()
	select {
	case hash := <-sender.delivered:
		return hash
	case <-time.After(5 * time.Second):
		t.Fatal("bundle never delivered")
		return common.Hash{}
	}
}

func TestSchedulerDeliversAdmittedBundles(t *testing.T) {
	pool := bundlepool.New(bundlepool.Config{})
	sender := newFakeSender(0)

	s := New(Config{}, []BundleSender{sender}, pool.SubscribeBundleAdded(16))
	s.Start(context.Background())
	defer s.Stop()

	bundle := makeBundle(10)
	if err := pool.Add(bundle); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if got := waitDelivery(t, sender); got != bundle.Hash() {
		t.Errorf("delivered %s, want %s", got.Hex(), bundle.Hash().Hex())
	}
}

func TestSchedulerRetriesUntilDelivered(t *testing.T) {
	pool := bundlepool.New(bundlepool.Config{})
	sender := newFakeSender(2)

	s := New(Config{}, []BundleSender{sender}, pool.SubscribeBundleAdded(16))
	s.Start(context.Background())
	defer s.Stop()

	bundle := makeBundle(10)
	if err := pool.Add(bundle); err != nil {
		t.Fatalf("Add: %v", err)
	}

	waitDelivery(t, sender)
	if got := sender.attemptCount(); got != 3 {
		t.Errorf("attempts = %d, want 3 (2 failures + 1 success)", got)
	}
}

func TestSchedulerDropsAfterMaxRetries(t *testing.T) {
	pool := bundlepool.New(bundlepool.Config{})
	sender := newFakeSender(100) // never succeeds within the test

	s := New(Config{MaxRetries: 1}, []BundleSender{sender}, pool.SubscribeBundleAdded(16))
	s.Start(context.Background())

	if err := pool.Add(makeBundle(10)); err != nil {
		t.Fatalf("Add: %v", err)
	}

	// Initial attempt plus one retry, then the task is abandoned.
	for i := 0; i < 2; i++ {
		select {
		case <-sender.attempted:
		case <-time.After(5 * time.Second):
			t.Fatalf("attempt %d never happened", i+1)
		}
	}
	s.Stop()

	if got := sender.attemptCount(); got != 2 {
		t.Errorf("attempts = %d, want 2", got)
	}
	if got := s.QueuedTasks(); got != 0 {
		t.Errorf("QueuedTasks = %d after stop, want 0", got)
	}
}

func TestSchedulerRecipientIsolation(t *testing.T) {
	pool := bundlepool.New(bundlepool.Config{})
	broken := newFakeSender(100)
	healthy := newFakeSender(0)

	s := New(Config{MaxRetries: 3}, []BundleSender{broken, healthy}, pool.SubscribeBundleAdded(16))
	s.Start(context.Background())
	defer s.Stop()

	b1 := makeBundle(10)
	b2 := makeBundle(11)
	if err := pool.Add(b1); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := pool.Add(b2); err != nil {
		t.Fatalf("Add: %v", err)
	}

	seen := map[common.Hash]bool{
		waitDelivery(t, healthy): true,
		waitDelivery(t, healthy): true,
	}
	if !seen[b1.Hash()] || !seen[b2.Hash()] {
		t.Error("healthy recipient did not receive both bundles despite the broken one")
	}
}

func TestSchedulerStopDetachesFromPool(t *testing.T) {
	pool := bundlepool.New(bundlepool.Config{})
	sender := newFakeSender(0)
	sub := pool.SubscribeBundleAdded(1)

	s := New(Config{}, []BundleSender{sender}, sub)
	s.Start(context.Background())
	s.Stop()

	// A stopped scheduler must not keep a dead buffer registered: admissions
	// after Stop would otherwise pile up as drops on every insert.
	for i := 0; i < 3; i++ {
		if err := pool.Add(makeBundle(uint64(20 + i))); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	if got := sub.Dropped(); got != 0 {
		t.Errorf("Dropped() = %d after Stop, want 0", got)
	}
	if _, ok := <-sub.Events(); ok {
		t.Error("subscription channel still open after Stop")
	}
}

func TestSchedulerInertWithoutRecipients(t *testing.T) {
	pool := bundlepool.New(bundlepool.Config{})
	s := New(Config{}, nil, pool.SubscribeBundleAdded(16))
	s.Start(context.Background())
	s.Stop()

	if got := s.QueuedTasks(); got != 0 {
		t.Errorf("QueuedTasks = %d, want 0", got)
	}
}
