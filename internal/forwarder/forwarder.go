package forwarder

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"github.com/strataline/strata-sequencer/internal/bundlepool"
	"github.com/strataline/strata-sequencer/internal/metrics"
)

// Config holds the forwarding settings.
type Config struct {
	// MaxRetries caps delivery attempts per bundle per recipient.
	// Zero means retry without bound.
	MaxRetries uint64
}

// recipient pairs a delivery client with its private queue. One worker
// goroutine drains the queue, so delivery order per recipient is
// deterministic; recipients proceed fully in parallel.
type recipient struct {
	sender BundleSender
	queue  *taskQueue
}

// Scheduler drains the pool's admission events and pushes each bundle to
// every configured recipient, requeuing failed deliveries with bounded
// priority decay. Delivery is fire-and-forget: a failing recipient never
// affects another recipient, the pool or selection.
type Scheduler struct {
	config     Config
	recipients []*recipient
	sub        *bundlepool.Subscription

	wg      sync.WaitGroup
	cancel  context.CancelFunc
	metrics *metrics.Metrics
	logger  log.Logger
}

// New creates a forwarding scheduler over the given senders, fed by the given
// pool subscription. With no senders the scheduler is inert.
func New(config Config, senders []BundleSender, sub *bundlepool.Subscription) *Scheduler {
	s := &Scheduler{
		config: config,
		sub:    sub,
		logger: log.New("module", "forwarder"),
	}
	for _, sender := range senders {
		s.recipients = append(s.recipients, &recipient{
			sender: sender,
			queue:  newTaskQueue(),
		})
	}
	return s
}

// SetMetrics attaches the metrics instance.
func (s *Scheduler) SetMetrics(m *metrics.Metrics) { s.metrics = m }

// Start launches the dispatch loop and one worker per recipient. Runs until
// Stop or context cancellation.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	if len(s.recipients) == 0 {
		s.logger.Info("Bundle forwarding disabled, no recipients configured")
		return
	}

	for _, r := range s.recipients {
		s.wg.Add(1)
		go s.worker(ctx, r)
	}

	s.wg.Add(1)
	go s.dispatch(ctx)

	s.logger.Info("Bundle forwarder started",
		"recipients", len(s.recipients),
		"maxRetries", s.config.MaxRetries,
	)
}

// Stop halts dispatching, detaches from the pool, closes all queues and
// waits for the workers.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.sub != nil {
		s.sub.Unsubscribe()
	}
	for _, r := range s.recipients {
		r.queue.close()
	}
	s.wg.Wait()
}

// dispatch fans pool admissions out to every recipient queue.
func (s *Scheduler) dispatch(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.sub.Events():
			if !ok {
				return
			}
			for _, r := range s.recipients {
				r.queue.push(&task{bundle: ev.Bundle})
			}
		}
	}
}

// worker drains one recipient queue in priority order.
func (s *Scheduler) worker(ctx context.Context, r *recipient) {
	defer s.wg.Done()
	for {
		t, ok := r.queue.pop()
		if !ok {
			return
		}
		if ctx.Err() != nil {
			return
		}

		if s.metrics != nil {
			s.metrics.ForwardAttempts.Add(1)
		}
		err := r.sender.SendBundle(ctx, t.bundle)
		if err == nil {
			s.logger.Debug("Bundle forwarded",
				"recipient", r.sender.Endpoint(),
				"bundle", t.bundle.Hash().Hex(),
				"retries", t.retries,
			)
			continue
		}

		if s.metrics != nil {
			s.metrics.ForwardFailures.Add(1)
		}
		if s.config.MaxRetries != 0 && t.retries >= s.config.MaxRetries {
			if s.metrics != nil {
				s.metrics.ForwardDropped.Add(1)
			}
			s.logger.Warn("Bundle delivery abandoned",
				"recipient", r.sender.Endpoint(),
				"bundle", t.bundle.Hash().Hex(),
				"retries", t.retries,
				"err", err,
			)
			continue
		}

		s.logger.Debug("Bundle delivery failed, requeuing",
			"recipient", r.sender.Endpoint(),
			"bundle", t.bundle.Hash().Hex(),
			"retries", t.retries,
			"err", err,
		)
		r.queue.push(&task{bundle: t.bundle, retries: t.retries + 1})
	}
}

// QueuedTasks reports the total number of tasks waiting across recipients.
func (s *Scheduler) QueuedTasks() int {
	total := 0
	for _, r := range s.recipients {
		total += r.queue.len()
	}
	return total
}
