package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/ethpandaops/healoor/pkg/config"
	"github.com/ethpandaops/healoor/pkg/store"
	"github.com/sirupsen/logrus"
)

// resultEventType marks the trailing NDJSON line carrying the result
// bundle instead of a lifecycle event.
const resultEventType = "run:result"

// maxEventLineSize bounds a single NDJSON line from the driver.
const maxEventLineSize = 4 * 1024 * 1024

// remote drives an external automation engine over HTTP. The driver
// receives the scenario as JSON and responds with an NDJSON stream of
// lifecycle events, terminated by a run:result line carrying the
// result bundle.
type remote struct {
	log    logrus.FieldLogger
	cfg    *config.EngineConfig
	client *http.Client
}

// Compile-time interface check.
var _ Engine = (*remote)(nil)

// NewRemote creates an Engine backed by a remote automation driver.
func NewRemote(
	log logrus.FieldLogger,
	cfg *config.EngineConfig,
) Engine {
	return &remote{
		log: log.WithField("component", "engine"),
		cfg: cfg,
		// Per-request deadlines come from the caller's context; the
		// client itself stays unbounded so long runs are not cut off.
		client: &http.Client{},
	}
}

// executeRequest is the payload posted to the driver.
type executeRequest struct {
	RunID       string                `json:"runId"`
	ScenarioID  string                `json:"scenarioId"`
	Name        string                `json:"name"`
	Steps       []store.Step          `json:"steps"`
	Environment *store.RunEnvironment `json:"environment,omitempty"`
}

// streamLine is one NDJSON line from the driver.
type streamLine struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Execute posts the scenario to the driver, republishes every streamed
// event into the producer, and returns the final result bundle.
func (e *remote) Execute(
	ctx context.Context,
	scenario *store.Scenario,
	opts *ExecuteOptions,
	producer *Producer,
) (*Result, error) {
	steps, err := scenario.Steps()
	if err != nil {
		return nil, err
	}

	payload := executeRequest{
		RunID:       opts.RunID,
		ScenarioID:  scenario.ID,
		Name:        scenario.Name,
		Steps:       steps,
		Environment: opts.Environment,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding execute request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		e.cfg.Endpoint+"/execute",
		bytes.NewReader(body),
	)
	if err != nil {
		return nil, fmt.Errorf("creating execute request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing scenario: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

		return nil, fmt.Errorf(
			"driver returned status %d: %s", resp.StatusCode, msg,
		)
	}

	return e.consumeStream(resp.Body, opts.RunID, producer)
}

// consumeStream reads NDJSON lines, publishing lifecycle events and
// capturing the trailing result bundle.
func (e *remote) consumeStream(
	r io.Reader,
	runID string,
	producer *Producer,
) (*Result, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventLineSize)

	var result *Result

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var sl streamLine
		if err := json.Unmarshal(line, &sl); err != nil {
			e.log.WithError(err).
				WithField("run_id", runID).
				Warn("Skipping malformed event line")

			continue
		}

		if sl.Type == resultEventType {
			var res Result
			if err := json.Unmarshal(sl.Data, &res); err != nil {
				return nil, fmt.Errorf("decoding result bundle: %w", err)
			}

			result = &res

			continue
		}

		// The terminal event belongs to the caller, published only
		// after results are persisted. A driver-emitted one would tear
		// down viewers and start registry cleanup too early.
		if sl.Type == EventRunFinished {
			e.log.WithField("run_id", runID).
				Warn("Dropping premature terminal event from driver")

			continue
		}

		ev := Event{Type: sl.Type}

		if len(sl.Data) > 0 {
			if err := json.Unmarshal(sl.Data, &ev.Data); err != nil {
				e.log.WithError(err).
					WithField("run_id", runID).
					Warn("Skipping event with malformed data")

				continue
			}
		}

		producer.Publish(ev)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading event stream: %w", err)
	}

	if result == nil {
		return nil, fmt.Errorf("driver stream ended without a result bundle")
	}

	return result, nil
}
