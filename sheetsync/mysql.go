package sheetsync

import (
	"context"
	"errors"
	"time"

	"github.com/hairizuan-noorazman/testflow/logger"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MySQLStore implements the Store interface using GORM and MySQL.
type MySQLStore struct {
	db     *gorm.DB
	logger logger.Logger
}

// NewMySQLStore creates a new MySQL-backed sync store.
func NewMySQLStore(db *gorm.DB, log logger.Logger) *MySQLStore {
	return &MySQLStore{
		db:     db,
		logger: log,
	}
}

// WithTx returns a store that runs on tx.
func (s *MySQLStore) WithTx(tx *gorm.DB) Store {
	return &MySQLStore{db: tx, logger: s.logger}
}

// GetState retrieves the sync state of a test set.
func (s *MySQLStore) GetState(ctx context.Context, testSetID string) (*SyncState, error) {
	var state SyncState
	err := s.db.WithContext(ctx).Where("test_set_id = ?", testSetID).First(&state).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrStateNotFound
		}
		s.logger.Error(ctx, "failed to get sync state", map[string]interface{}{
			"error":       err.Error(),
			"test_set_id": testSetID,
		})
		return nil, err
	}
	return &state, nil
}

// SaveState upserts the sync state keyed by test set.
func (s *MySQLStore) SaveState(ctx context.Context, state *SyncState) error {
	now := time.Now().UTC()
	if state.CreatedAt.IsZero() {
		state.CreatedAt = now
	}
	state.UpdatedAt = now

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "test_set_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"version_number", "snapshot", "updated_at"}),
	}).Create(state).Error
	if err != nil {
		s.logger.Error(ctx, "failed to save sync state", map[string]interface{}{
			"error":       err.Error(),
			"test_set_id": state.TestSetID,
		})
		return err
	}
	return nil
}

// AppendConflicts records conflicts in one batch.
func (s *MySQLStore) AppendConflicts(ctx context.Context, records []ConflictRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Create(&records).Error; err != nil {
		s.logger.Error(ctx, "failed to append sync conflicts", map[string]interface{}{
			"error":       err.Error(),
			"test_set_id": records[0].TestSetID,
			"count":       len(records),
		})
		return err
	}
	return nil
}

// ListConflicts retrieves conflicts of a test set.
func (s *MySQLStore) ListConflicts(ctx context.Context, testSetID string, versionNumber int) ([]*ConflictRecord, error) {
	q := s.db.WithContext(ctx).Where("test_set_id = ?", testSetID)
	if versionNumber > 0 {
		q = q.Where("version_number = ?", versionNumber)
	}

	var records []*ConflictRecord
	if err := q.Order("version_number DESC").Order("case_key ASC").Find(&records).Error; err != nil {
		s.logger.Error(ctx, "failed to list sync conflicts", map[string]interface{}{
			"error":       err.Error(),
			"test_set_id": testSetID,
		})
		return nil, err
	}
	return records, nil
}
