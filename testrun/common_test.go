package testrun

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hairizuan-noorazman/testflow/logger"
	"github.com/hairizuan-noorazman/testflow/testutil"
	"github.com/stretchr/testify/require"
)

var startedAt = time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)

// setupTestStore creates a test database and run store.
func setupTestStore(t *testing.T) (*MySQLStore, *logger.TestLogger) {
	db := testutil.SetupTestDB(t)
	testutil.AutoMigrate(t, db, &Run{}, &CaseResult{}, &StepResult{})
	log := logger.NewTestLogger()
	return NewMySQLStore(db, log), log
}

// createTestRun creates a running run for a fresh version.
func createTestRun(t *testing.T, store *MySQLStore, testSetID string) *Run {
	run := &Run{
		VersionID:     uuid.New(),
		TestSetID:     testSetID,
		VersionNumber: 1,
		StartedAt:     startedAt,
	}
	require.NoError(t, store.Create(context.Background(), run))
	return run
}

// stepResult builds an unsaved step result for the run.
func stepResult(run *Run, caseKey string, index int, status Status) *StepResult {
	return &StepResult{
		RunID:      run.ID,
		VersionID:  run.VersionID,
		TestCaseID: uuid.NewSHA1(uuid.NameSpaceOID, []byte(caseKey)),
		StepID:     uuid.New(),
		CaseKey:    caseKey,
		StepIndex:  index,
		Backend:    "api",
		Status:     status,
		Attempts:   1,
		RecordedAt: startedAt.Add(time.Duration(index) * time.Second),
	}
}
