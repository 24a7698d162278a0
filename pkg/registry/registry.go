// Package registry tracks the event producer of every currently
// executing run so stream viewers can find it by run ID.
package registry

import (
	"sync"
	"time"

	"github.com/ethpandaops/healoor/pkg/engine"
	"github.com/sirupsen/logrus"
)

// Registry maps active run IDs to their event producers. It is an
// explicit injected object so tests can construct isolated instances.
// An entry lives from Register until the run's terminal event plus the
// grace delay, or an explicit Unregister, whichever comes first.
type Registry struct {
	log   logrus.FieldLogger
	grace time.Duration

	mu      sync.RWMutex
	entries map[string]*entry
}

type entry struct {
	producer *engine.Producer
	watch    *engine.Subscription
}

// NewRegistry creates an empty registry. The grace delay keeps a
// finished run's producer discoverable long enough for an in-flight
// viewer to receive the final event.
func NewRegistry(
	log logrus.FieldLogger,
	grace time.Duration,
) *Registry {
	return &Registry{
		log:     log.WithField("component", "registry"),
		grace:   grace,
		entries: make(map[string]*entry),
	}
}

// Register makes the producer discoverable under the run ID and
// attaches a completion watcher that schedules removal once a terminal
// event is observed. Registering the same run ID twice replaces the
// previous producer (last-write-wins) and detaches its watcher.
func (r *Registry) Register(runID string, producer *engine.Producer) {
	watch := producer.Subscribe()

	r.mu.Lock()

	if prev, ok := r.entries[runID]; ok {
		prev.producer.Unsubscribe(prev.watch)

		r.log.WithField("run_id", runID).
			Warn("Replacing existing registry entry")
	}

	e := &entry{producer: producer, watch: watch}
	r.entries[runID] = e

	r.mu.Unlock()

	go r.watchCompletion(runID, e)

	r.log.WithField("run_id", runID).Debug("Run registered")
}

// watchCompletion waits for the run's terminal event (or producer
// close) and schedules removal after the grace delay.
func (r *Registry) watchCompletion(runID string, e *entry) {
	for {
		ev, ok := <-e.watch.C
		if !ok {
			// Producer closed without a terminal event being seen by
			// this watcher; clean up after the same grace delay.
			break
		}

		if ev.Type == engine.EventRunFinished {
			break
		}
	}

	time.AfterFunc(r.grace, func() {
		r.unregisterEntry(runID, e)
	})
}

// Unregister removes the run's entry and detaches its watcher. It is
// idempotent and safe to call for unknown run IDs.
func (r *Registry) Unregister(runID string) {
	r.mu.Lock()

	e, ok := r.entries[runID]
	if ok {
		delete(r.entries, runID)
	}

	r.mu.Unlock()

	if !ok {
		return
	}

	e.producer.Unsubscribe(e.watch)

	r.log.WithField("run_id", runID).Debug("Run unregistered")
}

// unregisterEntry removes the entry only if it is still the one the
// watcher was attached to, so a replacement registration survives the
// old entry's delayed cleanup.
func (r *Registry) unregisterEntry(runID string, e *entry) {
	r.mu.Lock()

	current, ok := r.entries[runID]
	if ok && current == e {
		delete(r.entries, runID)
	} else {
		ok = false
	}

	r.mu.Unlock()

	if !ok {
		return
	}

	e.producer.Unsubscribe(e.watch)

	r.log.WithField("run_id", runID).Debug("Run unregistered after grace delay")
}

// Lookup returns the producer registered for the run ID, if any.
func (r *Registry) Lookup(runID string) (*engine.Producer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[runID]
	if !ok {
		return nil, false
	}

	return e.producer, true
}

// ListActive returns a snapshot of currently registered run IDs.
func (r *Registry) ListActive() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}

	return ids
}
