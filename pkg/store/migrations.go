package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// migration is one forward-only schema step. Steps only ever add tables,
// columns, indexes and views so rows written by older versions stay valid.
type migration struct {
	version int
	name    string
	up      func(tx *gorm.DB) error
}

// Snapshots of the tables as first created.
type runV1 struct {
	ID       uint  `gorm:"primaryKey"`
	Started  int64 `gorm:"not null"`
	Finished *int64
}

func (runV1) TableName() string { return "runs" }

type testOutcomeV1 struct {
	ID       uint    `gorm:"primaryKey"`
	RunID    uint    `gorm:"not null;index"`
	Run      *runV1  `gorm:"foreignKey:RunID"`
	TestName string  `gorm:"not null"`
	Occurred int64   `gorm:"not null"`
	Duration float64 `gorm:"not null"`
	Failures int     `gorm:"not null"`
}

func (testOutcomeV1) TableName() string { return "test_outcomes" }

// migrations is applied in order. Append only.
var migrations = []migration{
	{
		version: 1,
		name:    "create runs and test_outcomes",
		up: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&runV1{}, &testOutcomeV1{})
		},
	},
	{
		version: 2,
		name:    "add run identity columns",
		up: func(tx *gorm.DB) error {
			return addColumns(tx, &Run{}, "RootDir", "ProjectID", "RunName")
		},
	},
	{
		version: 3,
		name:    "add test_outcomes.coverage",
		up: func(tx *gorm.DB) error {
			return addColumns(tx, &TestOutcome{}, "Coverage")
		},
	},
	{
		version: 4,
		name:    "add lookup indexes",
		up: func(tx *gorm.DB) error {
			if err := createIndex(tx, &Run{}, "idx_runs_root_project"); err != nil {
				return err
			}

			return createIndex(tx, &TestOutcome{}, "idx_outcomes_test_occurred")
		},
	},
	{
		version: 5,
		name:    "create test_outcomes_with_runs view",
		up:      createOutcomesView,
	},
}

// latestSchemaVersion is the version a fully migrated store reports.
var latestSchemaVersion = migrations[len(migrations)-1].version

func addColumns(tx *gorm.DB, model any, fields ...string) error {
	m := tx.Migrator()

	for _, field := range fields {
		if m.HasColumn(model, field) {
			continue
		}

		if err := m.AddColumn(model, field); err != nil {
			return fmt.Errorf("adding column %s: %w", field, err)
		}
	}

	return nil
}

func createIndex(tx *gorm.DB, model any, name string) error {
	m := tx.Migrator()
	if m.HasIndex(model, name) {
		return nil
	}

	if err := m.CreateIndex(model, name); err != nil {
		return fmt.Errorf("creating index %s: %w", name, err)
	}

	return nil
}

const outcomesViewQuery = `
SELECT o.id, o.run_id, o.test_name, o.occurred, o.duration, o.failures,
       r.root_dir, r.project_id, r.started, r.finished, r.run_name
FROM test_outcomes o
JOIN runs r ON r.id = o.run_id`

func createOutcomesView(tx *gorm.DB) error {
	stmt := "CREATE VIEW IF NOT EXISTS " + outcomesView + " AS" + outcomesViewQuery

	if tx.Dialector.Name() == "postgres" {
		stmt = "CREATE OR REPLACE VIEW " + outcomesView + " AS" + outcomesViewQuery
	}

	if err := tx.Exec(stmt).Error; err != nil {
		return fmt.Errorf("creating view %s: %w", outcomesView, err)
	}

	return nil
}

// migrate applies every migration not yet recorded in schema_migrations and
// returns how many were applied.
func migrate(ctx context.Context, db *gorm.DB, now func() time.Time) (int, error) {
	db = db.WithContext(ctx)

	if err := db.AutoMigrate(&schemaMigration{}); err != nil {
		return 0, fmt.Errorf("creating schema_migrations: %w", err)
	}

	var versions []int
	if err := db.Model(&schemaMigration{}).
		Pluck("version", &versions).Error; err != nil {
		return 0, fmt.Errorf("listing applied migrations: %w", err)
	}

	applied := make(map[int]struct{}, len(versions))
	for _, v := range versions {
		applied[v] = struct{}{}
	}

	var count int

	for _, m := range migrations {
		if _, ok := applied[m.version]; ok {
			continue
		}

		if err := db.Transaction(func(tx *gorm.DB) error {
			if err := m.up(tx); err != nil {
				return err
			}

			return tx.Create(&schemaMigration{
				Version:   m.version,
				Name:      m.name,
				AppliedAt: now().UnixMilli(),
			}).Error
		}); err != nil {
			return count, fmt.Errorf("applying migration %d (%s): %w", m.version, m.name, err)
		}

		count++
	}

	return count, nil
}
