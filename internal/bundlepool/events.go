package bundlepool

import (
	"sync/atomic"

	strataTypes "github.com/strataline/strata-sequencer/pkg/types"
)

// BundleAddedEvent is published for every successful admission, including
// replacements. The bundle must be treated as read-only by subscribers.
type BundleAddedEvent struct {
	Bundle *strataTypes.Bundle
}

// Subscription is a bounded, non-blocking feed of pool admissions. If the
// subscriber falls behind and its buffer fills up, events are dropped for
// that subscriber only; pool mutation never waits on a consumer.
type Subscription struct {
	id      uint64
	pool    *BundlePool
	ch      chan BundleAddedEvent
	dropped atomic.Uint64
}

// Events returns the channel admissions are delivered on. It is closed by
// Unsubscribe.
func (s *Subscription) Events() <-chan BundleAddedEvent {
	return s.ch
}

// Dropped returns how many events were discarded because the buffer was full.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Unsubscribe detaches the subscription from the pool and closes its channel.
func (s *Subscription) Unsubscribe() {
	s.pool.unsubscribe(s)
}

// SubscribeBundleAdded registers a new admission subscriber with the given
// channel buffer. A buffer of zero or less falls back to the configured
// default.
func (p *BundlePool) SubscribeBundleAdded(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = p.config.EventBuffer
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextSubID++
	sub := &Subscription{
		id:   p.nextSubID,
		pool: p,
		ch:   make(chan BundleAddedEvent, buffer),
	}
	p.subs[sub.id] = sub
	return sub
}

func (p *BundlePool) unsubscribe(s *Subscription) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.subs[s.id]; !ok {
		return
	}
	delete(p.subs, s.id)
	close(s.ch)
}

// publishLocked fans an admission out to all subscribers without blocking.
// Callers hold p.mu.
func (p *BundlePool) publishLocked(ev BundleAddedEvent) {
	for _, sub := range p.subs {
		select {
		case sub.ch <- ev:
		default:
			sub.dropped.Add(1)
			if p.metrics != nil {
				p.metrics.EventsDropped.Add(1)
			}
			p.logger.Warn("Dropping bundle event, slow subscriber",
				"sub", sub.id,
				"bundle", ev.Bundle.Hash().Hex(),
				"dropped", sub.dropped.Load(),
			)
		}
	}
}
