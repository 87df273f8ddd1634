package testcase

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/hairizuan-noorazman/testflow/logger"
	"gorm.io/gorm"
)

// MySQLStore implements the Store interface using GORM.
type MySQLStore struct {
	db     *gorm.DB
	logger logger.Logger
}

// NewMySQLStore creates a new GORM-backed test case store.
func NewMySQLStore(db *gorm.DB, log logger.Logger) *MySQLStore {
	return &MySQLStore{
		db:     db,
		logger: log,
	}
}

func orderedSteps(db *gorm.DB) *gorm.DB {
	return db.Order("step_index ASC")
}

// GetByID retrieves a test case with its steps.
func (s *MySQLStore) GetByID(ctx context.Context, id uuid.UUID) (*TestCase, error) {
	var tc TestCase
	err := s.db.WithContext(ctx).
		Preload("Steps", orderedSteps).
		Where("id = ?", id).
		First(&tc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTestCaseNotFound
		}
		s.logger.Error(ctx, "failed to get test case", map[string]interface{}{
			"error":        err.Error(),
			"test_case_id": id.String(),
		})
		return nil, err
	}
	return &tc, nil
}

// ListByVersion retrieves every case of a version with steps.
func (s *MySQLStore) ListByVersion(ctx context.Context, versionID uuid.UUID) ([]*TestCase, error) {
	var cases []*TestCase
	err := s.db.WithContext(ctx).
		Preload("Steps", orderedSteps).
		Where("version_id = ?", versionID).
		Order("case_key ASC").
		Find(&cases).Error
	if err != nil {
		s.logger.Error(ctx, "failed to list test cases by version", map[string]interface{}{
			"error":      err.Error(),
			"version_id": versionID.String(),
		})
		return nil, err
	}
	return cases, nil
}

// GetStep retrieves a single step.
func (s *MySQLStore) GetStep(ctx context.Context, id uuid.UUID) (*Step, error) {
	var step Step
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&step).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrStepNotFound
		}
		s.logger.Error(ctx, "failed to get step", map[string]interface{}{
			"error":   err.Error(),
			"step_id": id.String(),
		})
		return nil, err
	}
	return &step, nil
}

// History retrieves every committed revision of a case key, newest first.
func (s *MySQLStore) History(ctx context.Context, testSetID, caseKey string) ([]*TestCase, error) {
	var cases []*TestCase
	err := s.db.WithContext(ctx).
		Preload("Steps", orderedSteps).
		Where("test_set_id = ? AND case_key = ?", testSetID, caseKey).
		Order("version_number DESC").
		Find(&cases).Error
	if err != nil {
		s.logger.Error(ctx, "failed to get test case history", map[string]interface{}{
			"error":       err.Error(),
			"test_set_id": testSetID,
			"case_key":    caseKey,
		})
		return nil, err
	}
	return cases, nil
}
