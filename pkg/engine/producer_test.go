package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProducerFanOut(t *testing.T) {
	p := NewProducer()

	sub1 := p.Subscribe()
	sub2 := p.Subscribe()

	ev := Event{Type: EventStepStarted, Data: map[string]any{"index": 0}}
	p.Publish(ev)

	got1 := <-sub1.C
	got2 := <-sub2.C

	assert.Equal(t, ev, got1)
	assert.Equal(t, ev, got2)
}

func TestProducerCloseClosesSubscribers(t *testing.T) {
	p := NewProducer()
	sub := p.Subscribe()

	p.Close()

	_, open := <-sub.C
	assert.False(t, open)

	// Close is idempotent.
	p.Close()

	// Publishing after close is a no-op.
	p.Publish(Event{Type: EventHeartbeat})
}

func TestProducerSubscribeAfterClose(t *testing.T) {
	p := NewProducer()
	p.Close()

	sub := p.Subscribe()

	_, open := <-sub.C
	assert.False(t, open)
}

func TestProducerUnsubscribeIdempotent(t *testing.T) {
	p := NewProducer()
	sub := p.Subscribe()

	p.Unsubscribe(sub)
	p.Unsubscribe(sub)

	_, open := <-sub.C
	assert.False(t, open)

	// Remaining subscribers are unaffected.
	other := p.Subscribe()
	p.Publish(Event{Type: EventRunStarted})

	got := <-other.C
	assert.Equal(t, EventRunStarted, got.Type)
}

func TestProducerSlowSubscriberDropsEvents(t *testing.T) {
	p := NewProducer()
	sub := p.Subscribe()

	// Overflow the buffer; publishes must not block.
	for i := 0; i < subscriptionBuffer+10; i++ {
		p.Publish(Event{Type: EventStepFinished, Data: map[string]any{"index": i}})
	}

	require.Len(t, sub.C, subscriptionBuffer)

	// The earliest events survive; the overflow is dropped.
	got := <-sub.C
	assert.Equal(t, 0, got.Data["index"])
}
