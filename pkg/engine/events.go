// Package engine defines the execution-event model and the interface
// through which the external automation engine is consumed: an opaque
// event producer plus a result bundle.
package engine

// Event type constants emitted during a run.
const (
	EventRunStarted   = "run:started"
	EventStepStarted  = "step:started"
	EventStepFinished = "step:finished"
	EventRunFinished  = "run:finished"
	EventHeartbeat    = "heartbeat"
)

// Event is an opaque tagged payload: a type discriminator plus a data
// object. Events are forwarded verbatim to stream viewers.
type Event struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}
