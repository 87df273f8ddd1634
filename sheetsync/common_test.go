package sheetsync

import (
	"context"
	"testing"
	"time"

	"github.com/hairizuan-noorazman/testflow/internal/clock"
	"github.com/hairizuan-noorazman/testflow/logger"
	"github.com/hairizuan-noorazman/testflow/testcase"
	"github.com/hairizuan-noorazman/testflow/testutil"
	"github.com/hairizuan-noorazman/testflow/versioning"
	"gorm.io/gorm"
)

type testEnv struct {
	store       *MySQLStore
	manager     *versioning.Manager
	coordinator *Coordinator
	log         *logger.TestLogger
}

// setupCoordinator wires a coordinator to a real version manager on sqlite.
func setupCoordinator(t *testing.T) *testEnv {
	db := testutil.SetupTestDB(t)
	testutil.AutoMigrate(t, db,
		&versioning.Version{}, &versioning.DuplicateRecord{}, &versioning.UploadLog{},
		&testcase.TestCase{}, &testcase.Step{},
		&SyncState{}, &ConflictRecord{},
	)

	log := logger.NewTestLogger()
	clk := clock.NewFixed(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC))
	mgr := versioning.NewManager(
		versioning.NewMySQLStore(db, log),
		testcase.NewMySQLStore(db, log),
		versioning.DefaultConfig(),
		log,
		versioning.WithClock(clk),
	)
	store := NewMySQLStore(db, log)

	return &testEnv{
		store:       store,
		manager:     mgr,
		coordinator: NewCoordinator(mgr, store, log, WithClock(clk)),
		log:         log,
	}
}

func snapshotOf(rows ...Row) Snapshot {
	return Snapshot{TestSetID: "checkout", Author: "sheet-bot", Rows: rows}
}

func row(caseID, description string) Row {
	return Row{CaseID: caseID, UserStory: "US-1", Description: description}
}

// failingConflictStore fails every conflict write made inside a transaction.
type failingConflictStore struct {
	*MySQLStore
	err error
}

func (f *failingConflictStore) WithTx(tx *gorm.DB) Store {
	return &failingConflictStore{MySQLStore: NewMySQLStore(tx, f.logger), err: f.err}
}

func (f *failingConflictStore) AppendConflicts(ctx context.Context, records []ConflictRecord) error {
	return f.err
}
