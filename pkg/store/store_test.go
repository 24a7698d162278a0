package store

import (
	"context"
	"testing"
	"time"

	"github.com/ethpandaops/healoor/pkg/config"
	"github.com/ethpandaops/healoor/pkg/locator"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) Store {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	s := NewStore(log, &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: ":memory:"},
	})

	require.NoError(t, s.Start(context.Background()))

	t.Cleanup(func() {
		require.NoError(t, s.Stop())
	})

	return s
}

func testScenario(t *testing.T, name string) *Scenario {
	t.Helper()

	scenario := &Scenario{
		ID:   uuid.NewString(),
		Name: name,
	}

	require.NoError(t, scenario.SetSteps([]Step{
		{
			ID:   "step-1",
			Type: "click",
			Locator: &locator.ElementLocator{
				DisplayName: "Submit Button",
				Strategies: []locator.Strategy{
					{Type: locator.TypeCSS, Priority: 1, Selector: ".btn"},
				},
			},
		},
	}))

	return scenario
}

func TestScenarioCRUD(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	scenario := testScenario(t, "checkout flow")
	require.NoError(t, s.CreateScenario(ctx, scenario))

	got, err := s.GetScenario(ctx, scenario.ID)
	require.NoError(t, err)
	assert.Equal(t, "checkout flow", got.Name)
	assert.Equal(t, 1, got.Version)

	steps, err := got.Steps()
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "Submit Button", steps[0].Locator.DisplayName)

	list, err := s.ListScenarios(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = s.GetScenario(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateScenarioStepsBumpsVersion(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	scenario := testScenario(t, "login flow")
	require.NoError(t, s.CreateScenario(ctx, scenario))

	steps, err := scenario.Steps()
	require.NoError(t, err)

	steps[0].Locator.Strategies[0].Selector = ".btn-new"
	require.NoError(t, s.UpdateScenarioSteps(ctx, scenario.ID, steps))

	got, err := s.GetScenario(ctx, scenario.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Version)

	updated, err := got.Steps()
	require.NoError(t, err)
	assert.Equal(t, ".btn-new", updated[0].Locator.Strategies[0].Selector)

	err = s.UpdateScenarioSteps(ctx, "missing", steps)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRunLifecycle(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	scenario := testScenario(t, "search flow")
	require.NoError(t, s.CreateScenario(ctx, scenario))

	now := time.Now().UTC()
	run := &TestRun{
		ID:         uuid.NewString(),
		ScenarioID: scenario.ID,
		Status:     RunStatusRunning,
		StartedAt:  &now,
	}
	require.NoError(t, run.SetEnvironment(&RunEnvironment{
		BaseURL: "https://staging.example.com",
	}))
	require.NoError(t, s.CreateRun(ctx, run))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusRunning, got.Status)
	assert.False(t, got.IsTerminal())

	env, err := got.Environment()
	require.NoError(t, err)
	assert.Equal(t, "https://staging.example.com", env.BaseURL)

	// Finish the run.
	finished := now.Add(5 * time.Second)
	duration := int64(5000)
	got.Status = RunStatusPassed
	got.FinishedAt = &finished
	got.DurationMS = &duration
	require.NoError(t, got.SetSummary(&RunSummary{Total: 3, Passed: 3}))
	require.NoError(t, s.UpdateRun(ctx, got))

	final, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.True(t, final.IsTerminal())

	summary, err := final.Summary()
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Passed)

	// Filter by scenario.
	runs, err := s.ListRuns(ctx, scenario.ID)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	runs, err = s.ListRuns(ctx, "other-scenario")
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestStepResultsOrderedByIndex(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	runID := uuid.NewString()

	// Insert out of order; reads must come back ordered by step index.
	for _, idx := range []int{2, 0, 1} {
		require.NoError(t, s.CreateStepResult(ctx, &StepResult{
			ID:        uuid.NewString(),
			RunID:     runID,
			StepID:    uuid.NewString(),
			StepIndex: idx,
			Status:    StepStatusPassed,
		}))
	}

	results, err := s.ListStepResults(ctx, runID)
	require.NoError(t, err)
	require.Len(t, results, 3)

	for i, r := range results {
		assert.Equal(t, i, r.StepIndex)
	}
}

func TestHealingRecordQueries(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	newRecord := func(status string, confidence float64) *HealingRecord {
		record := &HealingRecord{
			ID:                 uuid.NewString(),
			ScenarioID:         "scenario-1",
			StepID:             "step-1",
			RunID:              "run-1",
			LocatorDisplayName: "Submit Button",
			Trigger:            "strategy_failed",
			Confidence:         confidence,
			Status:             status,
		}
		require.NoError(t, record.SetOriginalStrategy(&locator.Strategy{
			Type: locator.TypeCSS, Selector: ".btn-old",
		}))
		require.NoError(t, record.SetHealedStrategy(&locator.Strategy{
			Type: locator.TypeTestID, Value: "submit-btn",
		}))

		return record
	}

	require.NoError(t, s.CreateHealingRecord(ctx, newRecord(HealingStatusPending, 0.5)))
	require.NoError(t, s.CreateHealingRecord(ctx, newRecord(HealingStatusPending, 0.6)))
	require.NoError(t, s.CreateHealingRecord(ctx, newRecord(HealingStatusAutoApproved, 0.95)))

	pending, err := s.ListHealingRecords(ctx, HealingStatusPending)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	all, err := s.ListHealingRecords(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	counts, err := s.CountHealingRecordsByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[HealingStatusPending])
	assert.Equal(t, int64(1), counts[HealingStatusAutoApproved])

	_, err = s.GetHealingRecord(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHealingRecordPropagatedTo(t *testing.T) {
	record := &HealingRecord{}

	ids, err := record.PropagatedTo()
	require.NoError(t, err)
	assert.Nil(t, ids)

	require.NoError(t, record.SetPropagatedTo([]string{"a", "b"}))

	ids, err = record.PropagatedTo()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
}
