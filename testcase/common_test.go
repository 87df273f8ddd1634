package testcase

import (
	"testing"

	"github.com/google/uuid"
	"github.com/hairizuan-noorazman/testflow/logger"
	"github.com/hairizuan-noorazman/testflow/testutil"
	"gorm.io/gorm"
)

// setupTestStore creates a test database and test case store for testing.
func setupTestStore(t *testing.T) (*gorm.DB, Store) {
	db := testutil.SetupTestDB(t)
	testutil.AutoMigrate(t, db, &TestCase{}, &Step{})
	return db, NewMySQLStore(db, logger.NewTestLogger())
}

// createCase builds a persisted-shape case for fixtures.
func createCase(versionID uuid.UUID, number int, key string, descriptions ...string) *TestCase {
	tc := &TestCase{
		VersionID:     versionID,
		TestSetID:     "checkout",
		VersionNumber: number,
		CaseKey:       key,
		UserStory:     "US-1",
		CreatedBy:     "qa",
	}
	for i, d := range descriptions {
		tc.Steps = append(tc.Steps, Step{Index: i + 1, Description: d})
	}
	tc.CompositeKey = tc.ComputeCompositeKey()
	tc.ContentHash = tc.ComputeContentHash()
	return tc
}
