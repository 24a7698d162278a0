package healing

import (
	"context"
	"sync"

	"github.com/ethpandaops/healoor/pkg/store"
	"golang.org/x/sync/errgroup"
)

// propagateConcurrency bounds parallel scenario persistence during a
// propagation pass.
const propagateConcurrency = 4

// Propagate applies an approved healing outcome to every other scenario
// referencing the same named locator: in each matching step's locator
// the healed strategy is adopted at priority 1 in place of the failed
// original and the remaining strategies are renumbered densely. The record's propagatedTo set is
// replaced with the IDs of the scenarios modified by this pass.
//
// Re-running propagation yields the same strategy content per scenario;
// the scenario version counter still advances on every pass.
func (s *Service) Propagate(
	ctx context.Context, id string,
) (*store.HealingRecord, error) {
	record, err := s.store.GetHealingRecord(ctx, id)
	if err != nil {
		return nil, err
	}

	if record.Status != store.HealingStatusApproved &&
		record.Status != store.HealingStatusAutoApproved {
		return nil, &InvalidStateError{Op: "propagate", Current: record.Status}
	}

	healed, err := record.HealedStrategy()
	if err != nil {
		return nil, err
	}

	original, err := record.OriginalStrategy()
	if err != nil {
		return nil, err
	}

	originalType := ""
	if original != nil {
		originalType = original.Type
	}

	scenarios, err := s.store.ListScenarios(ctx)
	if err != nil {
		return nil, err
	}

	type modified struct {
		id    string
		steps []store.Step
	}

	var updates []modified

	for i := range scenarios {
		scenario := &scenarios[i]

		// The originating scenario already carries the healed locator.
		if scenario.ID == record.ScenarioID {
			continue
		}

		steps, err := scenario.Steps()
		if err != nil {
			return nil, err
		}

		changed := false

		for j := range steps {
			step := &steps[j]

			if !step.IsLocatorBearing() || step.Locator == nil {
				continue
			}

			if step.Locator.DisplayName != record.LocatorDisplayName {
				continue
			}

			step.Locator.AdoptHealed(*healed, originalType)
			changed = true
		}

		if changed {
			updates = append(updates, modified{id: scenario.ID, steps: steps})
		}
	}

	// Persist modified scenarios with bounded parallelism; the result
	// is a set, so completion order does not matter.
	var (
		mu           sync.Mutex
		propagatedTo = make([]string, 0, len(updates))
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(propagateConcurrency)

	for _, u := range updates {
		g.Go(func() error {
			if err := s.store.UpdateScenarioSteps(
				gCtx, u.id, u.steps,
			); err != nil {
				return err
			}

			mu.Lock()
			propagatedTo = append(propagatedTo, u.id)
			mu.Unlock()

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := record.SetPropagatedTo(propagatedTo); err != nil {
		return nil, err
	}

	if err := s.store.UpdateHealingRecord(ctx, record); err != nil {
		return nil, err
	}

	s.log.WithField("record_id", record.ID).
		WithField("scenarios", len(propagatedTo)).
		Info("Healing propagated")

	return record, nil
}
