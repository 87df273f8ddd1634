package database

import (
	"fmt"

	"github.com/hairizuan-noorazman/testflow/locator"
	"github.com/hairizuan-noorazman/testflow/sheetsync"
	"github.com/hairizuan-noorazman/testflow/testcase"
	"github.com/hairizuan-noorazman/testflow/testrun"
	"github.com/hairizuan-noorazman/testflow/versioning"
	"gorm.io/gorm"
)

// Models lists every persisted model in dependency order.
func Models() []interface{} {
	return []interface{}{
		&versioning.Version{},
		&testcase.TestCase{},
		&testcase.Step{},
		&versioning.DuplicateRecord{},
		&versioning.UploadLog{},
		&locator.Locator{},
		&testrun.Run{},
		&testrun.CaseResult{},
		&testrun.StepResult{},
		&sheetsync.SyncState{},
		&sheetsync.ConflictRecord{},
	}
}

// AutoMigrate creates the schema from the gorm models. It is used for
// sqlite databases, where the SQL migrations do not apply.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto-migration failed: %w", err)
	}
	return nil
}
