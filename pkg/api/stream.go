package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ethpandaops/healoor/pkg/engine"
	"github.com/ethpandaops/healoor/pkg/store"
	"github.com/go-chi/chi/v5"
)

const defaultHeartbeatInterval = 30 * time.Second

// heartbeatTicker returns the ticker driving keep-alive events.
func (s *server) heartbeatTicker() *time.Ticker {
	interval := s.heartbeat
	if interval <= 0 {
		interval = defaultHeartbeatInterval
	}

	return time.NewTicker(interval)
}

// handleRunEvents streams run lifecycle events to the client over SSE.
//
// Terminal runs get a single run:finished event built from the stored
// record, so late viewers always see the outcome. Runs that claim to be
// in flight but have no registered producer are inconsistent and get a
// 409 so the client can re-fetch the run instead of waiting forever.
func (s *server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")

	run, err := s.store.GetRun(r.Context(), runID)
	if err != nil {
		s.writeDomainError(w, err)

		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{Error: "streaming not supported"})

		return
	}

	if run.IsTerminal() {
		s.streamFinalEvent(w, flusher, run)

		return
	}

	producer, ok := s.registry.Lookup(runID)
	if !ok {
		writeJSON(w, http.StatusConflict, errorResponse{
			Error:  fmt.Sprintf("no active executor for run %s", runID),
			Code:   codeExecutorNotFound,
			Status: run.Status,
		})

		return
	}

	sub := producer.Subscribe()
	defer producer.Unsubscribe(sub)

	setSSEHeaders(w)
	flusher.Flush()

	heartbeat := s.heartbeatTicker()
	defer heartbeat.Stop()

	log := s.log.WithField("run_id", runID)
	log.Debug("SSE client connected")

	for {
		select {
		case <-r.Context().Done():
			log.Debug("SSE client disconnected")

			return
		case <-heartbeat.C:
			if err := writeSSEEvent(w, engine.Event{
				Type: engine.EventHeartbeat,
				Data: map[string]any{"run_id": runID},
			}); err != nil {
				log.WithError(err).Debug("SSE heartbeat write failed, closing stream")

				return
			}

			flusher.Flush()
		case ev, open := <-sub.C:
			if !open {
				// Producer closed without run:finished; the run is
				// over either way.
				return
			}

			if err := writeSSEEvent(w, ev); err != nil {
				log.WithError(err).Debug("SSE event write failed, closing stream")

				return
			}

			flusher.Flush()

			if ev.Type == engine.EventRunFinished {
				return
			}
		}
	}
}

// streamFinalEvent replays the terminal outcome as one run:finished
// event and closes the stream.
func (s *server) streamFinalEvent(
	w http.ResponseWriter,
	flusher http.Flusher,
	run *store.TestRun,
) {
	data := map[string]any{
		"run_id": run.ID,
		"status": run.Status,
	}

	if summary, err := run.Summary(); err == nil && summary != nil {
		data["summary"] = summary
	}

	setSSEHeaders(w)

	if err := writeSSEEvent(w, engine.Event{
		Type: engine.EventRunFinished,
		Data: data,
	}); err != nil {
		s.log.WithError(err).
			WithField("run_id", run.ID).
			Debug("SSE final event write failed")

		return
	}

	flusher.Flush()
}

func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

func writeSSEEvent(w http.ResponseWriter, ev engine.Event) error {
	payload, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("marshaling event data: %w", err)
	}

	if _, err := fmt.Fprintf(
		w, "event: %s\ndata: %s\n\n", ev.Type, payload,
	); err != nil {
		return fmt.Errorf("writing event: %w", err)
	}

	return nil
}
