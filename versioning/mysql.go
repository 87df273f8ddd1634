package versioning

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/hairizuan-noorazman/testflow/logger"
	"gorm.io/gorm"
)

// MySQLStore implements the Store interface using GORM.
type MySQLStore struct {
	db     *gorm.DB
	logger logger.Logger
}

// NewMySQLStore creates a new GORM-backed version store.
func NewMySQLStore(db *gorm.DB, log logger.Logger) *MySQLStore {
	return &MySQLStore{
		db:     db,
		logger: log,
	}
}

// Insert writes a full commit in one transaction.
func (s *MySQLStore) Insert(ctx context.Context, rec *CommitRecord) error {
	v := rec.Version

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxNumber int
		err := tx.Model(&Version{}).
			Where("test_set_id = ?", v.TestSetID).
			Select("COALESCE(MAX(number), 0)").
			Scan(&maxNumber).Error
		if err != nil {
			return fmt.Errorf("failed to get max version: %w", err)
		}
		v.Number = maxNumber + 1

		if err := tx.Create(v).Error; err != nil {
			if isDuplicateKey(err) {
				return ErrConcurrentCommit
			}
			return fmt.Errorf("failed to create version: %w", err)
		}

		for i := range rec.Cases {
			rec.Cases[i].VersionID = v.ID
			rec.Cases[i].VersionNumber = v.Number
			rec.Cases[i].TestSetID = v.TestSetID
		}
		if len(rec.Cases) > 0 {
			if err := tx.Create(&rec.Cases).Error; err != nil {
				return fmt.Errorf("failed to create test cases: %w", err)
			}
		}

		for i := range rec.Duplicates {
			rec.Duplicates[i].VersionID = v.ID
		}
		if len(rec.Duplicates) > 0 {
			if err := tx.Create(&rec.Duplicates).Error; err != nil {
				return fmt.Errorf("failed to create duplicate records: %w", err)
			}
		}

		if rec.Log != nil {
			rec.Log.VersionNumber = v.Number
			if err := tx.Create(rec.Log).Error; err != nil {
				return fmt.Errorf("failed to create upload log: %w", err)
			}
		}

		if rec.AfterInsert != nil {
			if err := rec.AfterInsert(ctx, tx, v); err != nil {
				return err
			}
		}
		return nil
	})

	if err != nil {
		if !errors.Is(err, ErrConcurrentCommit) {
			s.logger.Error(ctx, "failed to insert version", map[string]interface{}{
				"error":       err.Error(),
				"test_set_id": v.TestSetID,
			})
		}
		return err
	}

	s.logger.Info(ctx, "version created", map[string]interface{}{
		"version_id":  v.ID.String(),
		"test_set_id": v.TestSetID,
		"number":      v.Number,
		"cases":       len(rec.Cases),
	})
	return nil
}

// isDuplicateKey matches the translated gorm error and falls back to driver text.
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "Duplicate entry")
}

// Latest retrieves the highest-numbered version of a test set.
func (s *MySQLStore) Latest(ctx context.Context, testSetID string) (*Version, error) {
	var v Version
	err := s.db.WithContext(ctx).
		Where("test_set_id = ?", testSetID).
		Order("number DESC").
		First(&v).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrVersionNotFound
		}
		s.logger.Error(ctx, "failed to get latest version", map[string]interface{}{
			"error":       err.Error(),
			"test_set_id": testSetID,
		})
		return nil, err
	}
	return &v, nil
}

// GetByNumber retrieves a version by test set and number.
func (s *MySQLStore) GetByNumber(ctx context.Context, testSetID string, number int) (*Version, error) {
	var v Version
	err := s.db.WithContext(ctx).
		Where("test_set_id = ? AND number = ?", testSetID, number).
		First(&v).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrVersionNotFound
		}
		s.logger.Error(ctx, "failed to get version by number", map[string]interface{}{
			"error":       err.Error(),
			"test_set_id": testSetID,
			"number":      number,
		})
		return nil, err
	}
	return &v, nil
}

// GetByID retrieves a version by its ID.
func (s *MySQLStore) GetByID(ctx context.Context, id uuid.UUID) (*Version, error) {
	var v Version
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&v).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrVersionNotFound
		}
		s.logger.Error(ctx, "failed to get version by ID", map[string]interface{}{
			"error":      err.Error(),
			"version_id": id.String(),
		})
		return nil, err
	}
	return &v, nil
}

// List retrieves versions of a test set, newest first.
func (s *MySQLStore) List(ctx context.Context, testSetID string, limit, offset int) ([]*Version, error) {
	var versions []*Version
	err := s.db.WithContext(ctx).
		Where("test_set_id = ?", testSetID).
		Order("number DESC").
		Limit(limit).
		Offset(offset).
		Find(&versions).Error
	if err != nil {
		s.logger.Error(ctx, "failed to list versions", map[string]interface{}{
			"error":       err.Error(),
			"test_set_id": testSetID,
			"limit":       limit,
			"offset":      offset,
		})
		return nil, err
	}
	return versions, nil
}

// Count returns the number of versions of a test set.
func (s *MySQLStore) Count(ctx context.Context, testSetID string) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&Version{}).
		Where("test_set_id = ?", testSetID).
		Count(&count).Error
	if err != nil {
		s.logger.Error(ctx, "failed to count versions", map[string]interface{}{
			"error":       err.Error(),
			"test_set_id": testSetID,
		})
		return 0, err
	}
	return int(count), nil
}

// AppendUploadLog records an upload that did not create a version.
func (s *MySQLStore) AppendUploadLog(ctx context.Context, log *UploadLog) error {
	if err := s.db.WithContext(ctx).Create(log).Error; err != nil {
		s.logger.Error(ctx, "failed to append upload log", map[string]interface{}{
			"error":       err.Error(),
			"test_set_id": log.TestSetID,
		})
		return err
	}
	return nil
}

// ListUploadLogs retrieves the upload log of a test set, oldest first.
func (s *MySQLStore) ListUploadLogs(ctx context.Context, testSetID string) ([]*UploadLog, error) {
	var logs []*UploadLog
	err := s.db.WithContext(ctx).
		Where("test_set_id = ?", testSetID).
		Order("created_at ASC").
		Find(&logs).Error
	if err != nil {
		s.logger.Error(ctx, "failed to list upload logs", map[string]interface{}{
			"error":       err.Error(),
			"test_set_id": testSetID,
		})
		return nil, err
	}
	return logs, nil
}

// ListDuplicates retrieves the duplicate groups of a version.
func (s *MySQLStore) ListDuplicates(ctx context.Context, versionID uuid.UUID) ([]*DuplicateRecord, error) {
	var records []*DuplicateRecord
	err := s.db.WithContext(ctx).
		Where("version_id = ?", versionID).
		Order("kind ASC, created_at ASC").
		Find(&records).Error
	if err != nil {
		s.logger.Error(ctx, "failed to list duplicate records", map[string]interface{}{
			"error":      err.Error(),
			"version_id": versionID.String(),
		})
		return nil, err
	}
	return records, nil
}
