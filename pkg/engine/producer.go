package engine

import (
	"sync"
)

// subscriptionBuffer is the per-subscriber event channel capacity. A
// subscriber that falls this far behind starts losing events rather
// than blocking the run.
const subscriptionBuffer = 128

// Subscription is one reader of a producer's event stream. C is closed
// when the producer closes or the subscription is cancelled.
type Subscription struct {
	C chan Event
}

// Producer fans one run's execution events out to its subscribers.
// Closing the producer closes every subscriber channel, which is the
// termination signal for readers.
type Producer struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

// NewProducer creates an empty producer.
func NewProducer() *Producer {
	return &Producer{
		subs: make(map[*Subscription]struct{}),
	}
}

// Subscribe registers a new reader. Subscribing to a closed producer
// returns a subscription whose channel is already closed.
func (p *Producer) Subscribe() *Subscription {
	sub := &Subscription{
		C: make(chan Event, subscriptionBuffer),
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		close(sub.C)

		return sub
	}

	p.subs[sub] = struct{}{}

	return sub
}

// Unsubscribe detaches a reader and closes its channel. Idempotent.
func (p *Producer) Unsubscribe(sub *Subscription) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.subs[sub]; !ok {
		return
	}

	delete(p.subs, sub)
	close(sub.C)
}

// Publish delivers an event to every subscriber. A subscriber whose
// buffer is full misses the event instead of blocking the publisher.
func (p *Producer) Publish(ev Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	for sub := range p.subs {
		select {
		case sub.C <- ev:
		default:
		}
	}
}

// Close terminates the stream: all subscriber channels are closed and
// further publishes are dropped. Idempotent.
func (p *Producer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	p.closed = true

	for sub := range p.subs {
		delete(p.subs, sub)
		close(sub.C)
	}
}
