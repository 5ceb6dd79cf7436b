package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openRaw(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(
		sqlite.Open(filepath.Join(t.TempDir(), DefaultFileName)),
		&gorm.Config{Logger: logger.Discard},
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	return db
}

func TestMigrate_AppliesOnce(t *testing.T) {
	db := openRaw(t)
	ctx := context.Background()

	applied, err := migrate(ctx, db, time.Now)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), applied)

	applied, err = migrate(ctx, db, time.Now)
	require.NoError(t, err)
	assert.Zero(t, applied)

	m := db.Migrator()
	assert.True(t, m.HasTable("runs"))
	assert.True(t, m.HasTable("test_outcomes"))
	assert.True(t, m.HasColumn(&Run{}, "RunName"))
	assert.True(t, m.HasColumn(&TestOutcome{}, "Coverage"))
	assert.True(t, m.HasIndex(&TestOutcome{}, "idx_outcomes_test_occurred"))
}

func TestMigrate_UpgradesLegacyRows(t *testing.T) {
	db := openRaw(t)
	ctx := context.Background()

	// A history file written before run identity and coverage existed.
	require.NoError(t, db.AutoMigrate(&runV1{}, &testOutcomeV1{}))
	require.NoError(t, db.Create(&runV1{Started: 1}).Error)
	require.NoError(t, db.Create(&testOutcomeV1{
		RunID: 1, TestName: "legacy.test.js", Occurred: 2, Duration: 3, Failures: 1,
	}).Error)

	_, err := migrate(ctx, db, time.Now)
	require.NoError(t, err)

	var run Run
	require.NoError(t, db.First(&run, 1).Error)
	assert.Equal(t, "", run.RootDir)
	assert.Equal(t, "", run.ProjectID)
	assert.Nil(t, run.RunName)

	var outcome TestOutcome
	require.NoError(t, db.First(&outcome, 1).Error)
	assert.Equal(t, "legacy.test.js", outcome.TestName)
	assert.Empty(t, outcome.Coverage)

	// Legacy rows are visible through the join view.
	var count int64
	require.NoError(t, db.Table(outcomesView).
		Where("test_name = ?", "legacy.test.js").
		Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestLatestSchemaVersion(t *testing.T) {
	assert.Equal(t, len(migrations), latestSchemaVersion)

	for i, m := range migrations {
		assert.Equal(t, i+1, m.version, "migrations must be ordered and contiguous")
	}
}
