package versioning

import (
	"context"

	"github.com/google/uuid"
	"github.com/hairizuan-noorazman/testflow/testcase"
	"gorm.io/gorm"
)

// AfterInsertFunc writes rows that must commit or roll back together with
// a version. tx is the insert transaction.
type AfterInsertFunc func(ctx context.Context, tx *gorm.DB, v *Version) error

// CommitRecord is everything persisted by one version commit.
type CommitRecord struct {
	Version    *Version
	Cases      []testcase.TestCase
	Duplicates []DuplicateRecord
	Log        *UploadLog
	// AfterInsert runs last inside the insert transaction.
	AfterInsert AfterInsertFunc
}

// Store defines persistence for versions and their bookkeeping.
type Store interface {
	// Insert atomically assigns the next version number for the test set and
	// writes the version, its cases, duplicate records and upload log, then
	// runs rec.AfterInsert in the same transaction.
	// Returns ErrConcurrentCommit when the number was claimed concurrently.
	Insert(ctx context.Context, rec *CommitRecord) error

	// Latest retrieves the highest-numbered version of a test set.
	Latest(ctx context.Context, testSetID string) (*Version, error)

	// GetByNumber retrieves a version by test set and number.
	GetByNumber(ctx context.Context, testSetID string, number int) (*Version, error)

	// GetByID retrieves a version by its ID.
	GetByID(ctx context.Context, id uuid.UUID) (*Version, error)

	// List retrieves versions of a test set, newest first.
	List(ctx context.Context, testSetID string, limit, offset int) ([]*Version, error)

	// Count returns the number of versions of a test set.
	Count(ctx context.Context, testSetID string) (int, error)

	// AppendUploadLog records an upload that did not create a version.
	AppendUploadLog(ctx context.Context, log *UploadLog) error

	// ListUploadLogs retrieves the upload log of a test set, oldest first.
	ListUploadLogs(ctx context.Context, testSetID string) ([]*UploadLog, error)

	// ListDuplicates retrieves the duplicate groups of a version.
	ListDuplicates(ctx context.Context, versionID uuid.UUID) ([]*DuplicateRecord, error)
}
