package versioning

import (
	"testing"
	"time"

	"github.com/hairizuan-noorazman/testflow/internal/clock"
	"github.com/hairizuan-noorazman/testflow/logger"
	"github.com/hairizuan-noorazman/testflow/testcase"
	"github.com/hairizuan-noorazman/testflow/testutil"
	"gorm.io/gorm"
)

type testEnv struct {
	db      *gorm.DB
	store   *MySQLStore
	manager *Manager
	log     *logger.TestLogger
	clock   *clock.Fixed
}

// setupManager creates a test database, stores and a version manager.
func setupManager(t *testing.T, cfg Config) *testEnv {
	db := testutil.SetupTestDB(t)
	testutil.AutoMigrate(t, db,
		&Version{}, &DuplicateRecord{}, &UploadLog{},
		&testcase.TestCase{}, &testcase.Step{},
	)

	log := logger.NewTestLogger()
	clk := clock.NewFixed(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	store := NewMySQLStore(db, log)
	mgr := NewManager(store, testcase.NewMySQLStore(db, log), cfg, log, WithClock(clk))

	return &testEnv{db: db, store: store, manager: mgr, log: log, clock: clk}
}

// makeCase builds an unsaved case with indexed steps.
func makeCase(key, story string, steps ...string) testcase.TestCase {
	tc := testcase.TestCase{CaseKey: key, UserStory: story}
	for i, d := range steps {
		tc.Steps = append(tc.Steps, testcase.Step{Index: i + 1, Description: d})
	}
	return tc
}

func upload(testSetID string, cases ...testcase.TestCase) CommitRequest {
	return CommitRequest{
		TestSetID: testSetID,
		Author:    "qa@example.com",
		Source:    SourceUpload,
		Cases:     cases,
	}
}
