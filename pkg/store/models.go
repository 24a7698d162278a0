package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethpandaops/healoor/pkg/locator"
)

// Run status constants.
const (
	RunStatusPending   = "pending"
	RunStatusRunning   = "running"
	RunStatusPassed    = "passed"
	RunStatusFailed    = "failed"
	RunStatusCancelled = "cancelled"
)

// Step result status constants.
const (
	StepStatusPassed  = "passed"
	StepStatusFailed  = "failed"
	StepStatusSkipped = "skipped"
	StepStatusHealed  = "healed"
)

// Healing record status constants.
const (
	HealingStatusPending      = "pending"
	HealingStatusApproved     = "approved"
	HealingStatusRejected     = "rejected"
	HealingStatusAutoApproved = "auto_approved"
)

// Step is one atomic action within a scenario. Locator-bearing step
// types carry an element locator in their configuration.
type Step struct {
	ID      string                  `json:"id"`
	Type    string                  `json:"type"`
	Locator *locator.ElementLocator `json:"locator,omitempty"`
	Value   string                  `json:"value,omitempty"`
	URL     string                  `json:"url,omitempty"`
	Timeout string                  `json:"timeout,omitempty"`
}

// locatorBearingTypes is the set of step types whose configuration
// embeds an element locator.
var locatorBearingTypes = map[string]struct{}{
	"click":  {},
	"fill":   {},
	"select": {},
	"hover":  {},
	"wait":   {},
	"assert": {},
}

// IsLocatorBearing reports whether the step type carries a locator.
func (s *Step) IsLocatorBearing() bool {
	_, ok := locatorBearingTypes[s.Type]

	return ok
}

// Scenario is a recorded test scenario. Steps are serialized as JSON;
// the version counter is bumped on every steps update.
type Scenario struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"not null" json:"name"`
	Version   int       `gorm:"not null;default:1" json:"version"`
	StepsJSON string    `gorm:"not null" json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Steps deserializes the scenario's step list.
func (s *Scenario) Steps() ([]Step, error) {
	if s.StepsJSON == "" {
		return nil, nil
	}

	var steps []Step
	if err := json.Unmarshal([]byte(s.StepsJSON), &steps); err != nil {
		return nil, fmt.Errorf("decoding scenario steps: %w", err)
	}

	return steps, nil
}

// SetSteps serializes the given step list into the scenario.
func (s *Scenario) SetSteps(steps []Step) error {
	b, err := json.Marshal(steps)
	if err != nil {
		return fmt.Errorf("encoding scenario steps: %w", err)
	}

	s.StepsJSON = string(b)

	return nil
}

// RunEnvironment is the environment snapshot captured when a run starts.
type RunEnvironment struct {
	BaseURL   string            `json:"baseUrl"`
	Variables map[string]string `json:"variables,omitempty"`
}

// RunSummary holds per-run step counts.
type RunSummary struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
	Healed  int `json:"healed"`
}

// TestRun is one execution of a scenario against a target service.
type TestRun struct {
	ID              string     `gorm:"primaryKey" json:"id"`
	ScenarioID      string     `gorm:"index;not null" json:"scenario_id"`
	Status          string     `gorm:"index;not null" json:"status"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
	DurationMS      *int64     `json:"duration_ms,omitempty"`
	EnvironmentJSON string     `json:"-"`
	SummaryJSON     string     `json:"-"`
	CreatedAt       time.Time  `json:"created_at"`
}

// IsTerminal reports whether the run has reached a terminal status.
func (r *TestRun) IsTerminal() bool {
	return r.Status != RunStatusRunning && r.Status != RunStatusPending
}

// Environment deserializes the environment snapshot.
func (r *TestRun) Environment() (*RunEnvironment, error) {
	if r.EnvironmentJSON == "" {
		return nil, nil
	}

	var env RunEnvironment
	if err := json.Unmarshal([]byte(r.EnvironmentJSON), &env); err != nil {
		return nil, fmt.Errorf("decoding run environment: %w", err)
	}

	return &env, nil
}

// SetEnvironment serializes the environment snapshot into the run.
func (r *TestRun) SetEnvironment(env *RunEnvironment) error {
	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding run environment: %w", err)
	}

	r.EnvironmentJSON = string(b)

	return nil
}

// Summary deserializes the run summary, or returns nil when none has
// been recorded yet.
func (r *TestRun) Summary() (*RunSummary, error) {
	if r.SummaryJSON == "" {
		return nil, nil
	}

	var summary RunSummary
	if err := json.Unmarshal([]byte(r.SummaryJSON), &summary); err != nil {
		return nil, fmt.Errorf("decoding run summary: %w", err)
	}

	return &summary, nil
}

// SetSummary serializes the run summary into the run.
func (r *TestRun) SetSummary(summary *RunSummary) error {
	b, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encoding run summary: %w", err)
	}

	r.SummaryJSON = string(b)

	return nil
}

// StepResult is the outcome of one executed step. Rows are immutable
// once written; one row per executed step, ordered by step index.
type StepResult struct {
	ID        string `gorm:"primaryKey" json:"id"`
	RunID     string `gorm:"index;not null" json:"run_id"`
	StepID    string `gorm:"not null" json:"step_id"`
	StepIndex int    `gorm:"not null" json:"step_index"`
	Status    string `gorm:"not null" json:"status"`

	DurationMS int64 `json:"duration_ms"`

	ErrorMessage string `json:"error_message,omitempty"`
	ErrorStack   string `json:"error_stack,omitempty"`

	// Healing detail (strategy type tags), present for healed steps.
	OriginalStrategy  string   `json:"original_strategy,omitempty"`
	HealedWith        string   `json:"healed_with,omitempty"`
	HealingConfidence *float64 `json:"healing_confidence,omitempty"`

	// Debugging context.
	ScreenshotPath   string `json:"screenshot_path,omitempty"`
	ConsoleLog       string `json:"console_log,omitempty"`
	HTMLSnapshotPath string `json:"html_snapshot_path,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// HealingRecord tracks one locator healing through review and
// propagation.
type HealingRecord struct {
	ID         string `gorm:"primaryKey" json:"id"`
	ScenarioID string `gorm:"index;not null" json:"scenario_id"`
	StepID     string `gorm:"not null" json:"step_id"`
	RunID      string `gorm:"index;not null" json:"run_id"`

	LocatorDisplayName   string  `gorm:"not null" json:"locator_display_name"`
	OriginalStrategyJSON string  `gorm:"not null" json:"-"`
	HealedStrategyJSON   string  `gorm:"not null" json:"-"`
	Trigger              string  `json:"trigger"`
	Confidence           float64 `gorm:"not null" json:"confidence"`

	Status     string     `gorm:"index;not null" json:"status"`
	ReviewedBy *string    `json:"reviewed_by,omitempty"`
	ReviewedAt *time.Time `json:"reviewed_at,omitempty"`
	ReviewNote *string    `json:"review_note,omitempty"`

	PropagatedToJSON string `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OriginalStrategy deserializes the strategy that failed to resolve.
func (h *HealingRecord) OriginalStrategy() (*locator.Strategy, error) {
	return decodeStrategy(h.OriginalStrategyJSON, "original")
}

// SetOriginalStrategy serializes the failing strategy into the record.
func (h *HealingRecord) SetOriginalStrategy(s *locator.Strategy) error {
	return encodeStrategy(s, &h.OriginalStrategyJSON)
}

// HealedStrategy deserializes the strategy that resolved instead.
func (h *HealingRecord) HealedStrategy() (*locator.Strategy, error) {
	return decodeStrategy(h.HealedStrategyJSON, "healed")
}

// SetHealedStrategy serializes the working fallback into the record.
func (h *HealingRecord) SetHealedStrategy(s *locator.Strategy) error {
	return encodeStrategy(s, &h.HealedStrategyJSON)
}

// PropagatedTo deserializes the set of scenario IDs already updated by
// propagation.
func (h *HealingRecord) PropagatedTo() ([]string, error) {
	if h.PropagatedToJSON == "" {
		return nil, nil
	}

	var ids []string
	if err := json.Unmarshal([]byte(h.PropagatedToJSON), &ids); err != nil {
		return nil, fmt.Errorf("decoding propagated_to: %w", err)
	}

	return ids, nil
}

// SetPropagatedTo serializes the propagated scenario ID set.
func (h *HealingRecord) SetPropagatedTo(ids []string) error {
	b, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("encoding propagated_to: %w", err)
	}

	h.PropagatedToJSON = string(b)

	return nil
}

func decodeStrategy(raw, which string) (*locator.Strategy, error) {
	if raw == "" {
		return nil, nil
	}

	var s locator.Strategy
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("decoding %s strategy: %w", which, err)
	}

	return &s, nil
}

func encodeStrategy(s *locator.Strategy, dst *string) error {
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding strategy: %w", err)
	}

	*dst = string(b)

	return nil
}
