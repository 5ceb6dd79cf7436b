package store

// Run is one execution session of a project's test suite. Timestamps are
// unix milliseconds.
type Run struct {
	ID        uint   `gorm:"primaryKey"`
	RootDir   string `gorm:"not null;default:'';index:idx_runs_root_project"`
	ProjectID string `gorm:"not null;default:'';index:idx_runs_root_project"`
	Started   int64  `gorm:"not null"`
	Finished  *int64
	RunName   *string
}

// TestOutcome is one observation of one test within one run. Duration is in
// milliseconds; Failures of zero is a pass.
type TestOutcome struct {
	ID       uint    `gorm:"primaryKey"`
	RunID    uint    `gorm:"not null;index"`
	Run      *Run    `gorm:"foreignKey:RunID"`
	TestName string  `gorm:"not null;index:idx_outcomes_test_occurred"`
	Occurred int64   `gorm:"not null;index:idx_outcomes_test_occurred"`
	Duration float64 `gorm:"not null"`
	Failures int     `gorm:"not null"`

	// Coverage is a compressed ShrunkCoverage, present only for passing
	// tests with coverage collected.
	Coverage []byte
}

// schemaMigration records an applied migration.
type schemaMigration struct {
	Version   int    `gorm:"primaryKey;autoIncrement:false"`
	Name      string `gorm:"not null"`
	AppliedAt int64  `gorm:"not null"`
}

func (schemaMigration) TableName() string { return "schema_migrations" }
