// Package healing implements the healing-record approval state machine
// and the propagation engine that applies approved healings to other
// scenarios.
package healing

import (
	"context"
	"sync"
	"time"

	"github.com/ethpandaops/healoor/pkg/engine"
	"github.com/ethpandaops/healoor/pkg/store"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// AutoApproveThreshold is the fixed global confidence level at or above
// which a healing record is created already approved. The per-locator
// configured threshold is carried with scenarios but not consulted here.
const AutoApproveThreshold = 0.9

// Service mediates the healing record lifecycle: creation with the
// auto-approval decision, manual approve/reject, and propagation.
type Service struct {
	log   logrus.FieldLogger
	store store.Store

	// Per-record locks serialize concurrent approve/reject on the same
	// record; the non-racing behavior is unchanged. Entries are
	// refcounted and dropped once the last holder releases, so the map
	// does not grow with review history.
	locksMu sync.Mutex
	locks   map[string]*recordLock
}

type recordLock struct {
	mu   sync.Mutex
	refs int
}

// NewService creates a healing service.
func NewService(
	log logrus.FieldLogger,
	st store.Store,
) *Service {
	return &Service{
		log:   log.WithField("component", "healing"),
		store: st,
		locks: make(map[string]*recordLock),
	}
}

// lockRecord acquires the mutex guarding transitions of one record.
func (s *Service) lockRecord(id string) *recordLock {
	s.locksMu.Lock()

	l, ok := s.locks[id]
	if !ok {
		l = &recordLock{}
		s.locks[id] = l
	}

	l.refs++

	s.locksMu.Unlock()

	l.mu.Lock()

	return l
}

// unlockRecord releases the record mutex and drops the map entry when
// no other holder remains.
func (s *Service) unlockRecord(id string, l *recordLock) {
	l.mu.Unlock()

	s.locksMu.Lock()

	l.refs--
	if l.refs == 0 {
		delete(s.locks, id)
	}

	s.locksMu.Unlock()
}

// RecordHealing creates a healing record for one healing outcome
// reported by the engine. Records with confidence at or above the
// fixed threshold are created auto-approved; everything else awaits
// review.
func (s *Service) RecordHealing(
	ctx context.Context,
	scenarioID, runID string,
	outcome *engine.HealingOutcome,
) (*store.HealingRecord, error) {
	status := store.HealingStatusPending
	if outcome.Confidence >= AutoApproveThreshold {
		status = store.HealingStatusAutoApproved
	}

	record := &store.HealingRecord{
		ID:                 uuid.NewString(),
		ScenarioID:         scenarioID,
		StepID:             outcome.StepID,
		RunID:              runID,
		LocatorDisplayName: outcome.LocatorDisplayName,
		Trigger:            outcome.Trigger,
		Confidence:         outcome.Confidence,
		Status:             status,
	}

	if err := record.SetOriginalStrategy(&outcome.OriginalStrategy); err != nil {
		return nil, err
	}

	if err := record.SetHealedStrategy(&outcome.HealedStrategy); err != nil {
		return nil, err
	}

	if err := s.store.CreateHealingRecord(ctx, record); err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"record_id":  record.ID,
		"locator":    record.LocatorDisplayName,
		"confidence": record.Confidence,
		"status":     record.Status,
	}).Info("Healing recorded")

	return record, nil
}

// Approve transitions a pending record to approved, recording the
// reviewer, time, and note.
func (s *Service) Approve(
	ctx context.Context,
	id, reviewer, note string,
) (*store.HealingRecord, error) {
	return s.review(ctx, id, reviewer, note, store.HealingStatusApproved)
}

// Reject transitions a pending record to rejected, recording the
// reviewer, time, and note.
func (s *Service) Reject(
	ctx context.Context,
	id, reviewer, note string,
) (*store.HealingRecord, error) {
	return s.review(ctx, id, reviewer, note, store.HealingStatusRejected)
}

func (s *Service) review(
	ctx context.Context,
	id, reviewer, note, target string,
) (*store.HealingRecord, error) {
	l := s.lockRecord(id)
	defer s.unlockRecord(id, l)

	record, err := s.store.GetHealingRecord(ctx, id)
	if err != nil {
		return nil, err
	}

	if record.Status != store.HealingStatusPending {
		op := "approve"
		if target == store.HealingStatusRejected {
			op = "reject"
		}

		return nil, &InvalidStateError{Op: op, Current: record.Status}
	}

	now := time.Now().UTC()
	record.Status = target
	record.ReviewedAt = &now

	if reviewer != "" {
		record.ReviewedBy = &reviewer
	}

	if note != "" {
		record.ReviewNote = &note
	}

	if err := s.store.UpdateHealingRecord(ctx, record); err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"record_id": record.ID,
		"status":    record.Status,
		"reviewer":  reviewer,
	}).Info("Healing record reviewed")

	return record, nil
}

// List returns healing records, optionally filtered by status.
func (s *Service) List(
	ctx context.Context, status string,
) ([]store.HealingRecord, error) {
	return s.store.ListHealingRecords(ctx, status)
}

// Stats returns record counts grouped by status.
func (s *Service) Stats(ctx context.Context) (map[string]int64, error) {
	return s.store.CountHealingRecordsByStatus(ctx)
}
