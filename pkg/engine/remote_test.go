package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethpandaops/healoor/pkg/config"
	"github.com/ethpandaops/healoor/pkg/store"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

func testScenario(t *testing.T) *store.Scenario {
	t.Helper()

	scenario := &store.Scenario{ID: "scenario-1", Name: "checkout flow"}
	require.NoError(t, scenario.SetSteps([]store.Step{
		{ID: "step-1", Type: "navigate", URL: "https://example.com"},
	}))

	return scenario
}

func TestRemoteExecute(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/execute", r.URL.Path)

			var req executeRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "run-1", req.RunID)
			assert.Equal(t, "scenario-1", req.ScenarioID)
			require.Len(t, req.Steps, 1)

			w.Header().Set("Content-Type", "application/x-ndjson")

			fmt.Fprintln(w, `{"type":"run:started","data":{"runId":"run-1"}}`)
			fmt.Fprintln(w, `{"type":"step:started","data":{"index":0}}`)
			fmt.Fprintln(w)
			fmt.Fprintln(w, `not json`)
			fmt.Fprintln(w, `{"type":"step:finished","data":{"index":0,"status":"passed"}}`)
			fmt.Fprintln(w, `{"type":"run:finished","data":{"status":"passed"}}`)
			fmt.Fprintln(w, `{"type":"run:result","data":{"status":"passed","steps":[{"stepId":"step-1","index":0,"status":"passed","durationMs":80}]}}`)
		},
	))
	defer ts.Close()

	eng := NewRemote(testLogger(), &config.EngineConfig{Endpoint: ts.URL})

	producer := NewProducer()
	sub := producer.Subscribe()

	result, err := eng.Execute(
		context.Background(),
		testScenario(t),
		&ExecuteOptions{RunID: "run-1"},
		producer,
	)
	require.NoError(t, err)
	assert.Equal(t, "passed", result.Status)
	require.Len(t, result.Steps, 1)
	assert.Equal(t, int64(80), result.Steps[0].DurationMS)

	// Blank and malformed lines were skipped, and neither the result
	// line nor the driver's premature run:finished is republished: the
	// terminal event is the caller's to emit after persistence.
	require.Len(t, sub.C, 3)
	assert.Equal(t, EventRunStarted, (<-sub.C).Type)
	assert.Equal(t, EventStepStarted, (<-sub.C).Type)
	assert.Equal(t, EventStepFinished, (<-sub.C).Type)
}

func TestRemoteExecuteDriverError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "driver busy", http.StatusServiceUnavailable)
		},
	))
	defer ts.Close()

	eng := NewRemote(testLogger(), &config.EngineConfig{Endpoint: ts.URL})

	_, err := eng.Execute(
		context.Background(),
		testScenario(t),
		&ExecuteOptions{RunID: "run-1"},
		NewProducer(),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestRemoteExecuteMissingResult(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprintln(w, `{"type":"run:started"}`)
		},
	))
	defer ts.Close()

	eng := NewRemote(testLogger(), &config.EngineConfig{Endpoint: ts.URL})

	_, err := eng.Execute(
		context.Background(),
		testScenario(t),
		&ExecuteOptions{RunID: "run-1"},
		NewProducer(),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "without a result bundle")
}
