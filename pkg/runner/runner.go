// Package runner orchestrates run lifecycle: starting executions,
// persisting their results, and cancellation bookkeeping.
package runner

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethpandaops/healoor/pkg/engine"
	"github.com/ethpandaops/healoor/pkg/healing"
	"github.com/ethpandaops/healoor/pkg/registry"
	"github.com/ethpandaops/healoor/pkg/store"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// InvalidStateError is returned when a run operation is attempted from
// a status that forbids it.
type InvalidStateError struct {
	Op      string
	Current string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s run in status %q", e.Op, e.Current)
}

// Runner starts and finalizes scenario executions.
type Runner interface {
	Start(ctx context.Context) error
	Stop() error

	// StartRun creates a run in status "running", registers its event
	// producer, and executes the scenario in the background.
	StartRun(
		ctx context.Context,
		scenarioID string,
		env *store.RunEnvironment,
	) (*store.TestRun, error)

	// CancelRun marks a running run cancelled. Bookkeeping only: the
	// engine is not signalled to stop.
	CancelRun(ctx context.Context, runID string) (*store.TestRun, error)
}

// Config for the runner.
type Config struct {
	// ExecutionTimeout bounds a single scenario execution.
	ExecutionTimeout time.Duration
}

// Compile-time interface check.
var _ Runner = (*runner)(nil)

type runner struct {
	log      logrus.FieldLogger
	cfg      *Config
	store    store.Store
	registry *registry.Registry
	engine   engine.Engine
	healing  *healing.Service

	execCtx    context.Context
	execCancel context.CancelFunc
	wg         sync.WaitGroup
}

// NewRunner creates a new runner.
func NewRunner(
	log logrus.FieldLogger,
	cfg *Config,
	st store.Store,
	reg *registry.Registry,
	eng engine.Engine,
	heal *healing.Service,
) Runner {
	return &runner{
		log:      log.WithField("component", "runner"),
		cfg:      cfg,
		store:    st,
		registry: reg,
		engine:   eng,
		healing:  heal,
	}
}

// Start prepares the runner's background execution context. Executions
// survive the request that started them but not the runner itself.
func (r *runner) Start(_ context.Context) error {
	r.execCtx, r.execCancel = context.WithCancel(context.Background())

	r.log.Debug("Runner started")

	return nil
}

// Stop cancels in-flight executions and waits for their finalization.
func (r *runner) Stop() error {
	if r.execCancel != nil {
		r.execCancel()
	}

	r.wg.Wait()

	r.log.Debug("Runner stopped")

	return nil
}

// StartRun creates the run row, registers the producer, and launches
// execution in the background.
func (r *runner) StartRun(
	ctx context.Context,
	scenarioID string,
	env *store.RunEnvironment,
) (*store.TestRun, error) {
	scenario, err := r.store.GetScenario(ctx, scenarioID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	run := &store.TestRun{
		ID:         uuid.NewString(),
		ScenarioID: scenario.ID,
		Status:     store.RunStatusRunning,
		StartedAt:  &now,
	}

	if env != nil {
		if err := run.SetEnvironment(env); err != nil {
			return nil, err
		}
	}

	if err := r.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}

	producer := engine.NewProducer()
	r.registry.Register(run.ID, producer)

	r.wg.Add(1)

	go func() {
		defer r.wg.Done()
		r.execute(run, scenario, env, producer)
	}()

	r.log.WithFields(logrus.Fields{
		"run_id":   run.ID,
		"scenario": scenario.ID,
	}).Info("Run started")

	return run, nil
}

// execute drives the engine and finalizes the run. It always publishes
// a terminal run:finished event and closes the producer, so stream
// viewers and the registry watcher terminate.
func (r *runner) execute(
	run *store.TestRun,
	scenario *store.Scenario,
	env *store.RunEnvironment,
	producer *engine.Producer,
) {
	defer producer.Close()

	ctx, cancel := context.WithTimeout(r.execCtx, r.cfg.ExecutionTimeout)
	defer cancel()

	log := r.log.WithField("run_id", run.ID)

	opts := &engine.ExecuteOptions{
		RunID:       run.ID,
		Environment: env,
	}

	result, err := r.engine.Execute(ctx, scenario, opts, producer)
	if err != nil {
		log.WithError(err).Error("Execution failed")

		r.finalizeFailed(run, producer)

		return
	}

	summary, err := r.finalize(run, scenario, result)
	if err != nil {
		log.WithError(err).Error("Failed to finalize run")

		r.finalizeFailed(run, producer)

		return
	}

	producer.Publish(engine.Event{
		Type: engine.EventRunFinished,
		Data: map[string]any{
			"status":  run.Status,
			"summary": summaryData(summary),
		},
	})

	log.WithFields(logrus.Fields{
		"status": run.Status,
		"total":  summary.Total,
		"passed": summary.Passed,
		"failed": summary.Failed,
		"healed": summary.Healed,
	}).Info("Run finished")
}

// finalize persists step results in index order, creates healing
// records, and updates the run with its terminal state and summary.
// Finalization uses a fresh context: results of a completed execution
// are persisted even when the caller's context has ended.
func (r *runner) finalize(
	run *store.TestRun,
	scenario *store.Scenario,
	result *engine.Result,
) (*store.RunSummary, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	steps := make([]engine.StepOutcome, len(result.Steps))
	copy(steps, result.Steps)
	sort.Slice(steps, func(i, j int) bool {
		return steps[i].Index < steps[j].Index
	})

	summary := &store.RunSummary{Total: len(steps)}

	for i := range steps {
		outcome := &steps[i]

		switch outcome.Status {
		case store.StepStatusPassed:
			summary.Passed++
		case store.StepStatusFailed:
			summary.Failed++
		case store.StepStatusSkipped:
			summary.Skipped++
		case store.StepStatusHealed:
			summary.Healed++
		}

		sr := &store.StepResult{
			ID:         uuid.NewString(),
			RunID:      run.ID,
			StepID:     outcome.StepID,
			StepIndex:  outcome.Index,
			Status:     outcome.Status,
			DurationMS: outcome.DurationMS,
		}

		if outcome.Error != nil {
			sr.ErrorMessage = outcome.Error.Message
			sr.ErrorStack = outcome.Error.Stack
		}

		if outcome.Healing != nil {
			sr.OriginalStrategy = outcome.Healing.OriginalStrategy
			sr.HealedWith = outcome.Healing.UsedStrategy
			confidence := outcome.Healing.Confidence
			sr.HealingConfidence = &confidence
		}

		if outcome.Debug != nil {
			sr.ScreenshotPath = outcome.Debug.ScreenshotPath
			sr.ConsoleLog = outcome.Debug.ConsoleLog
			sr.HTMLSnapshotPath = outcome.Debug.HTMLSnapshotPath
		}

		if err := r.store.CreateStepResult(ctx, sr); err != nil {
			return nil, err
		}
	}

	for i := range result.Healings {
		if _, err := r.healing.RecordHealing(
			ctx, scenario.ID, run.ID, &result.Healings[i],
		); err != nil {
			return nil, err
		}
	}

	status := result.Status
	if status != store.RunStatusPassed && status != store.RunStatusFailed {
		status = store.RunStatusFailed
	}

	now := time.Now().UTC()
	run.Status = status
	run.FinishedAt = &now

	if run.StartedAt != nil {
		ms := now.Sub(*run.StartedAt).Milliseconds()
		run.DurationMS = &ms
	}

	if err := run.SetSummary(summary); err != nil {
		return nil, err
	}

	if err := r.store.UpdateRun(ctx, run); err != nil {
		return nil, err
	}

	return summary, nil
}

// finalizeFailed marks the run failed with a finish timestamp and
// publishes the terminal event so watchers terminate.
func (r *runner) finalizeFailed(
	run *store.TestRun,
	producer *engine.Producer,
) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	now := time.Now().UTC()
	run.Status = store.RunStatusFailed
	run.FinishedAt = &now

	if run.StartedAt != nil {
		ms := now.Sub(*run.StartedAt).Milliseconds()
		run.DurationMS = &ms
	}

	if err := r.store.UpdateRun(ctx, run); err != nil {
		r.log.WithError(err).
			WithField("run_id", run.ID).
			Error("Failed to mark run failed")
	}

	producer.Publish(engine.Event{
		Type: engine.EventRunFinished,
		Data: map[string]any{"status": store.RunStatusFailed},
	})
}

// CancelRun marks a running run cancelled with a finish timestamp. It
// does not stop the engine; finalization of a still-running execution
// will later overwrite the status with the engine's outcome.
func (r *runner) CancelRun(
	ctx context.Context, runID string,
) (*store.TestRun, error) {
	run, err := r.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	if run.Status != store.RunStatusRunning {
		return nil, &InvalidStateError{Op: "cancel", Current: run.Status}
	}

	now := time.Now().UTC()
	run.Status = store.RunStatusCancelled
	run.FinishedAt = &now

	if run.StartedAt != nil {
		ms := now.Sub(*run.StartedAt).Milliseconds()
		run.DurationMS = &ms
	}

	if err := r.store.UpdateRun(ctx, run); err != nil {
		return nil, err
	}

	r.log.WithField("run_id", runID).Info("Run cancelled")

	return run, nil
}

// summaryData converts a summary for inclusion in an event payload.
func summaryData(s *store.RunSummary) map[string]any {
	return map[string]any{
		"total":   s.Total,
		"passed":  s.Passed,
		"failed":  s.Failed,
		"skipped": s.Skipped,
		"healed":  s.Healed,
	}
}
