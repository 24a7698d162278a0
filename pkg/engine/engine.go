package engine

import (
	"context"

	"github.com/ethpandaops/healoor/pkg/locator"
	"github.com/ethpandaops/healoor/pkg/store"
)

// ErrorDetail describes a step failure.
type ErrorDetail struct {
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// HealingDetail describes the fallback substitution applied to a step
// that only passed after healing.
type HealingDetail struct {
	OriginalStrategy string  `json:"originalStrategy"`
	UsedStrategy     string  `json:"usedStrategy"`
	Confidence       float64 `json:"confidence"`
}

// DebugDetail carries debugging context captured for a step.
type DebugDetail struct {
	ScreenshotPath   string `json:"screenshotPath,omitempty"`
	ConsoleLog       string `json:"consoleLog,omitempty"`
	HTMLSnapshotPath string `json:"htmlSnapshotPath,omitempty"`
}

// StepOutcome is the per-step result reported by the engine.
type StepOutcome struct {
	StepID     string         `json:"stepId"`
	Index      int            `json:"index"`
	Status     string         `json:"status"`
	DurationMS int64          `json:"durationMs"`
	Error      *ErrorDetail   `json:"error,omitempty"`
	Healing    *HealingDetail `json:"healing,omitempty"`
	Debug      *DebugDetail   `json:"debug,omitempty"`
}

// HealingOutcome is one locator healing performed during a run.
type HealingOutcome struct {
	StepID             string           `json:"stepId"`
	LocatorDisplayName string           `json:"locatorDisplayName"`
	OriginalStrategy   locator.Strategy `json:"originalStrategy"`
	HealedStrategy     locator.Strategy `json:"healedStrategy"`
	Trigger            string           `json:"trigger"`
	Confidence         float64          `json:"confidence"`
}

// Result is the bundle the engine returns when a run completes.
type Result struct {
	Status   string           `json:"status"`
	Steps    []StepOutcome    `json:"steps"`
	Healings []HealingOutcome `json:"healings,omitempty"`
}

// ExecuteOptions carries per-run execution parameters.
type ExecuteOptions struct {
	RunID       string
	Environment *store.RunEnvironment
}

// Engine executes a scenario against a target service. Implementations
// publish lifecycle events into the producer as execution progresses
// and return the final result bundle. The engine does not emit
// run:finished; the caller does, after results are persisted.
type Engine interface {
	Execute(
		ctx context.Context,
		scenario *store.Scenario,
		opts *ExecuteOptions,
		producer *Producer,
	) (*Result, error)
}
