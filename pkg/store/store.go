// Package store provides persistence for scenarios, runs, step results,
// and healing records.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethpandaops/healoor/pkg/config"
	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store provides persistence for platform resources.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	// Scenario operations.
	CreateScenario(ctx context.Context, scenario *Scenario) error
	GetScenario(ctx context.Context, id string) (*Scenario, error)
	ListScenarios(ctx context.Context) ([]Scenario, error)
	UpdateScenarioSteps(ctx context.Context, id string, steps []Step) error

	// Run operations.
	CreateRun(ctx context.Context, run *TestRun) error
	GetRun(ctx context.Context, id string) (*TestRun, error)
	ListRuns(ctx context.Context, scenarioID string) ([]TestRun, error)
	UpdateRun(ctx context.Context, run *TestRun) error

	// Step result operations.
	CreateStepResult(ctx context.Context, result *StepResult) error
	ListStepResults(ctx context.Context, runID string) ([]StepResult, error)

	// Healing record operations.
	CreateHealingRecord(ctx context.Context, record *HealingRecord) error
	GetHealingRecord(ctx context.Context, id string) (*HealingRecord, error)
	ListHealingRecords(ctx context.Context, status string) ([]HealingRecord, error)
	CountHealingRecordsByStatus(ctx context.Context) (map[string]int64, error)
	UpdateHealingRecord(ctx context.Context, record *HealingRecord) error
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig
	db  *gorm.DB
}

// NewStore creates a new Store backed by the configured database driver.
func NewStore(
	log logrus.FieldLogger,
	cfg *config.DatabaseConfig,
) Store {
	return &store{
		log: log.WithField("component", "store"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var (
		dialector gorm.Dialector
		err       error
	)

	gormCfg := &gorm.Config{
		Logger: logger.Discard,
	}

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	s.db, err = gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	if err := s.db.WithContext(ctx).AutoMigrate(
		&Scenario{},
		&TestRun{},
		&StepResult{},
		&HealingRecord{},
	); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).Info("Database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// --- Scenario operations ---

func (s *store) CreateScenario(
	ctx context.Context, scenario *Scenario,
) error {
	if scenario.Version == 0 {
		scenario.Version = 1
	}

	if err := s.db.WithContext(ctx).Create(scenario).Error; err != nil {
		return fmt.Errorf("creating scenario: %w", err)
	}

	return nil
}

func (s *store) GetScenario(
	ctx context.Context, id string,
) (*Scenario, error) {
	var scenario Scenario
	if err := s.db.WithContext(ctx).
		Where("id = ?", id).
		First(&scenario).Error; err != nil {
		return nil, wrapLookupErr("scenario", id, err)
	}

	return &scenario, nil
}

func (s *store) ListScenarios(ctx context.Context) ([]Scenario, error) {
	var scenarios []Scenario
	if err := s.db.WithContext(ctx).
		Order("created_at ASC").
		Find(&scenarios).Error; err != nil {
		return nil, fmt.Errorf("listing scenarios: %w", err)
	}

	return scenarios, nil
}

// UpdateScenarioSteps persists a new step list and bumps the scenario's
// version counter. The version advances on every call, even when the
// step content is unchanged.
func (s *store) UpdateScenarioSteps(
	ctx context.Context, id string, steps []Step,
) error {
	var scenario Scenario
	if err := scenario.SetSteps(steps); err != nil {
		return err
	}

	result := s.db.WithContext(ctx).
		Model(&Scenario{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"steps_json": scenario.StepsJSON,
			"version":    gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return fmt.Errorf("updating scenario steps: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("scenario %q: %w", id, ErrNotFound)
	}

	return nil
}

// --- Run operations ---

func (s *store) CreateRun(ctx context.Context, run *TestRun) error {
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("creating run: %w", err)
	}

	return nil
}

func (s *store) GetRun(ctx context.Context, id string) (*TestRun, error) {
	var run TestRun
	if err := s.db.WithContext(ctx).
		Where("id = ?", id).
		First(&run).Error; err != nil {
		return nil, wrapLookupErr("run", id, err)
	}

	return &run, nil
}

func (s *store) ListRuns(
	ctx context.Context, scenarioID string,
) ([]TestRun, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC")

	if scenarioID != "" {
		q = q.Where("scenario_id = ?", scenarioID)
	}

	var runs []TestRun
	if err := q.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}

	return runs, nil
}

func (s *store) UpdateRun(ctx context.Context, run *TestRun) error {
	if err := s.db.WithContext(ctx).Save(run).Error; err != nil {
		return fmt.Errorf("updating run: %w", err)
	}

	return nil
}

// --- Step result operations ---

func (s *store) CreateStepResult(
	ctx context.Context, result *StepResult,
) error {
	if err := s.db.WithContext(ctx).Create(result).Error; err != nil {
		return fmt.Errorf("creating step result: %w", err)
	}

	return nil
}

func (s *store) ListStepResults(
	ctx context.Context, runID string,
) ([]StepResult, error) {
	var results []StepResult
	if err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("step_index ASC").
		Find(&results).Error; err != nil {
		return nil, fmt.Errorf("listing step results: %w", err)
	}

	return results, nil
}

// --- Healing record operations ---

func (s *store) CreateHealingRecord(
	ctx context.Context, record *HealingRecord,
) error {
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("creating healing record: %w", err)
	}

	return nil
}

func (s *store) GetHealingRecord(
	ctx context.Context, id string,
) (*HealingRecord, error) {
	var record HealingRecord
	if err := s.db.WithContext(ctx).
		Where("id = ?", id).
		First(&record).Error; err != nil {
		return nil, wrapLookupErr("healing record", id, err)
	}

	return &record, nil
}

func (s *store) ListHealingRecords(
	ctx context.Context, status string,
) ([]HealingRecord, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC")

	if status != "" {
		q = q.Where("status = ?", status)
	}

	var records []HealingRecord
	if err := q.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("listing healing records: %w", err)
	}

	return records, nil
}

func (s *store) CountHealingRecordsByStatus(
	ctx context.Context,
) (map[string]int64, error) {
	type statusCount struct {
		Status string
		Count  int64
	}

	var rows []statusCount
	if err := s.db.WithContext(ctx).
		Model(&HealingRecord{}).
		Select("status, count(*) as count").
		Group("status").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("counting healing records: %w", err)
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}

	return counts, nil
}

func (s *store) UpdateHealingRecord(
	ctx context.Context, record *HealingRecord,
) error {
	if err := s.db.WithContext(ctx).Save(record).Error; err != nil {
		return fmt.Errorf("updating healing record: %w", err)
	}

	return nil
}

// wrapLookupErr converts gorm's record-not-found into ErrNotFound so
// callers can map it to a 404 without importing gorm.
func wrapLookupErr(kind, id string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
	}

	return fmt.Errorf("getting %s %q: %w", kind, id, err)
}
