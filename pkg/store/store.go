package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ethpandaops/testoor/pkg/config"
	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// outcomesView joins every outcome with its run.
const outcomesView = "test_outcomes_with_runs"

var (
	// ErrNoRunID is returned when inserting a run yields no identifier.
	ErrNoRunID = errors.New("run insert yielded no id")

	// ErrOutcomeNotFound is returned when an outcome id does not exist.
	ErrOutcomeNotFound = errors.New("outcome not found")

	// ErrNotStarted is returned when the store is used before Start.
	ErrNotStarted = errors.New("store not started")
)

// Store is the durable record of runs and per-test outcomes.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	// Run lifecycle.
	CreateRun(ctx context.Context, rootDir, projectID string) (uint, error)
	MarkRunComplete(ctx context.Context, runID uint) error
	ListRuns(ctx context.Context, projectID string) ([]Run, error)

	// Outcomes.
	AddOutcome(ctx context.Context, outcome *TestOutcome) error
	GetOutcome(ctx context.Context, id uint) (*TestOutcome, error)
	FindSomeOutcomes(
		ctx context.Context, testName, projectID, rootDir string,
	) ([]uint, error)

	// History queries.
	MostRecentRunFailed(ctx context.Context, testName string) (bool, error)
	Score(ctx context.Context, projectID, testName string) (float64, bool, error)

	SchemaVersion(ctx context.Context) (int, error)
}

// Compile-time interface check.
var _ Store = (*store)(nil)

// Option customizes a store.
type Option func(*store)

// WithClock sets the time source used for run and migration timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *store) { s.now = now }
}

// WithRunName sets the source of the optional run name recorded on new runs.
// An empty name is stored as NULL.
func WithRunName(fn func() string) Option {
	return func(s *store) { s.runName = fn }
}

// WithRunNameEnv reads the run name from an environment variable each time
// a run is created.
func WithRunNameEnv(name string) Option {
	return WithRunName(func() string { return os.Getenv(name) })
}

// WithFailureWeight sets the score weight of one recorded failure.
func WithFailureWeight(k int64) Option {
	return func(s *store) { s.failureWeight = k }
}

type store struct {
	log           logrus.FieldLogger
	cfg           *config.DatabaseConfig
	now           func() time.Time
	runName       func() string
	failureWeight int64

	mu sync.Mutex
	db *gorm.DB
}

// NewStore creates a new Store backed by the configured database driver.
func NewStore(
	log logrus.FieldLogger,
	cfg *config.DatabaseConfig,
	opts ...Option,
) Store {
	s := &store{
		log:           log.WithField("component", "store"),
		cfg:           cfg,
		now:           time.Now,
		failureWeight: config.DefaultFailureWeight,
	}

	WithRunNameEnv(config.DefaultRunNameEnv)(s)

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start opens the database connection and runs migrations. Calling Start on
// an already started store is a no-op.
func (s *store) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return nil
	}

	var dialector gorm.Dialector

	gormCfg := &gorm.Config{
		Logger: logger.Discard,
	}

	switch s.cfg.Driver {
	case "sqlite":
		path, err := ResolveSQLitePath(s.cfg.SQLite.Path)
		if err != nil {
			return fmt.Errorf("resolving sqlite path: %w", err)
		}

		dialector = sqlite.Open(path)
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

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening history database: %w", err)
	}

	if s.cfg.Driver == "sqlite" {
		// SQLite serializes writers; a single connection avoids SQLITE_BUSY
		// and keeps ":memory:" databases on one connection.
		sqlDB, err := db.DB()
		if err != nil {
			return fmt.Errorf("getting underlying db: %w", err)
		}

		sqlDB.SetMaxOpenConns(1)
	}

	applied, err := migrate(ctx, db, s.now)
	if err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}

		return fmt.Errorf("running history migrations: %w", err)
	}

	s.db = db

	s.log.WithFields(logrus.Fields{
		"driver":     s.cfg.Driver,
		"migrations": applied,
	}).Info("History database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	s.db = nil

	return sqlDB.Close()
}

func (s *store) conn(ctx context.Context) (*gorm.DB, error) {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()

	if db == nil {
		return nil, ErrNotStarted
	}

	return db.WithContext(ctx), nil
}

// CreateRun inserts a new, unfinished run and returns its id.
func (s *store) CreateRun(
	ctx context.Context, rootDir, projectID string,
) (uint, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}

	run := &Run{
		RootDir:   rootDir,
		ProjectID: projectID,
		Started:   s.now().UnixMilli(),
	}

	if name := s.runName(); name != "" {
		run.RunName = &name
	}

	if err := db.Create(run).Error; err != nil {
		return 0, fmt.Errorf("creating run: %w", err)
	}

	if run.ID == 0 {
		return 0, ErrNoRunID
	}

	s.log.WithFields(logrus.Fields{
		"run_id":     run.ID,
		"project_id": projectID,
		"root_dir":   rootDir,
	}).Debug("Run created")

	return run.ID, nil
}

// MarkRunComplete sets the finished timestamp of a run.
func (s *store) MarkRunComplete(ctx context.Context, runID uint) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}

	if err := db.Model(&Run{}).
		Where("id = ?", runID).
		Update("finished", s.now().UnixMilli()).Error; err != nil {
		return fmt.Errorf("marking run complete: %w", err)
	}

	return nil
}

// ListRuns returns runs newest first. An empty projectID lists every run.
func (s *store) ListRuns(ctx context.Context, projectID string) ([]Run, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	q := db.Order("id DESC")
	if projectID != "" {
		q = q.Where("project_id = ?", projectID)
	}

	var runs []Run
	if err := q.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}

	return runs, nil
}

// AddOutcome inserts one test outcome.
func (s *store) AddOutcome(ctx context.Context, outcome *TestOutcome) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}

	if err := db.Omit("Run").Create(outcome).Error; err != nil {
		return fmt.Errorf("adding outcome: %w", err)
	}

	return nil
}

// GetOutcome returns a single outcome including its coverage blob.
func (s *store) GetOutcome(ctx context.Context, id uint) (*TestOutcome, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	var outcome TestOutcome
	if err := db.First(&outcome, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOutcomeNotFound
		}

		return nil, fmt.Errorf("getting outcome: %w", err)
	}

	return &outcome, nil
}

// FindSomeOutcomes returns outcome ids for testName from the closest
// matching execution context: runs of the same project and root directory,
// else runs of the same root directory, else any run. Ids are newest first.
func (s *store) FindSomeOutcomes(
	ctx context.Context, testName, projectID, rootDir string,
) ([]uint, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	tiers := []struct {
		name  string
		where string
		args  []any
	}{
		{
			name:  "project_root",
			where: "test_name = ? AND project_id = ? AND root_dir = ?",
			args:  []any{testName, projectID, rootDir},
		},
		{
			name:  "root",
			where: "test_name = ? AND root_dir = ?",
			args:  []any{testName, rootDir},
		},
		{
			name:  "any",
			where: "test_name = ?",
			args:  []any{testName},
		},
	}

	for _, tier := range tiers {
		var ids []uint
		if err := db.Table(outcomesView).
			Where(tier.where, tier.args...).
			Order("occurred DESC, id DESC").
			Pluck("id", &ids).Error; err != nil {
			return nil, fmt.Errorf("finding outcomes (%s): %w", tier.name, err)
		}

		if len(ids) > 0 {
			s.log.WithFields(logrus.Fields{
				"test": testName,
				"tier": tier.name,
				"hits": len(ids),
			}).Debug("Matched historical outcomes")

			return ids, nil
		}
	}

	return nil, nil
}

// MostRecentRunFailed reports whether the latest outcome for testName had
// failures. A test with no history has not failed.
func (s *store) MostRecentRunFailed(
	ctx context.Context, testName string,
) (bool, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return false, err
	}

	var outcome TestOutcome
	if err := db.Select("id", "failures").
		Where("test_name = ?", testName).
		Order("occurred DESC, id DESC").
		Take(&outcome).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}

		return false, fmt.Errorf("querying most recent outcome: %w", err)
	}

	return outcome.Failures > 0, nil
}

// Score returns sum(failures)*K + average duration over every outcome of
// testName in runs of projectID. ok is false when there is no history.
func (s *store) Score(
	ctx context.Context, projectID, testName string,
) (float64, bool, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return 0, false, err
	}

	var score *float64

	row := db.Raw(
		`SELECT CAST(SUM(failures) * ? + SUM(duration) / COUNT(1) AS DOUBLE PRECISION)
		 FROM `+outcomesView+`
		 WHERE project_id = ? AND test_name = ?`,
		s.failureWeight, projectID, testName,
	).Row()

	if err := row.Scan(&score); err != nil {
		return 0, false, fmt.Errorf("scoring %s: %w", testName, err)
	}

	if score == nil {
		return 0, false, nil
	}

	return *score, true, nil
}

// SchemaVersion returns the highest applied migration version.
func (s *store) SchemaVersion(ctx context.Context) (int, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}

	var version *int

	if err := db.Model(&schemaMigration{}).
		Select("MAX(version)").
		Row().
		Scan(&version); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}

	if version == nil {
		return 0, nil
	}

	return *version, nil
}
