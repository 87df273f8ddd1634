package sheetsync

import (
	"context"

	"gorm.io/gorm"
)

// Store persists sync bookkeeping.
type Store interface {
	// GetState retrieves the sync state of a test set.
	GetState(ctx context.Context, testSetID string) (*SyncState, error)

	// SaveState creates or replaces the sync state of a test set.
	SaveState(ctx context.Context, state *SyncState) error

	// AppendConflicts records conflicts. Records are never updated.
	AppendConflicts(ctx context.Context, records []ConflictRecord) error

	// ListConflicts retrieves conflicts of a test set, newest version first.
	// A zero versionNumber lists every version.
	ListConflicts(ctx context.Context, testSetID string, versionNumber int) ([]*ConflictRecord, error)

	// WithTx returns a store bound to tx, so its writes commit or roll back
	// with the surrounding transaction.
	WithTx(tx *gorm.DB) Store
}
