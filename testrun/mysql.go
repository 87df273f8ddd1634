package testrun

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/hairizuan-noorazman/testflow/logger"
	"gorm.io/gorm"
)

// ReasonAbandoned is set on runs that were still running when the process
// that owned them stopped.
const ReasonAbandoned = "abandoned"

// MySQLStore implements the Store interface using GORM and MySQL.
type MySQLStore struct {
	db     *gorm.DB
	logger logger.Logger
}

// NewMySQLStore creates a new MySQL-backed run store.
func NewMySQLStore(db *gorm.DB, log logger.Logger) *MySQLStore {
	return &MySQLStore{
		db:     db,
		logger: log,
	}
}

// Create creates a new run in the database.
func (s *MySQLStore) Create(ctx context.Context, run *Run) error {
	if run.Status == "" {
		run.Status = StatusRunning
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if err := run.Validate(); err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Omit("CaseResults").Create(run).Error; err != nil {
		s.logger.Error(ctx, "failed to create run", map[string]interface{}{
			"error":      err.Error(),
			"version_id": run.VersionID.String(),
		})
		return err
	}

	s.logger.Info(ctx, "run created", map[string]interface{}{
		"run_id":     run.ID.String(),
		"version_id": run.VersionID.String(),
	})
	return nil
}

// GetByID retrieves a run by its ID.
func (s *MySQLStore) GetByID(ctx context.Context, id uuid.UUID) (*Run, error) {
	var run Run
	err := s.db.WithContext(ctx).
		Preload("CaseResults", func(db *gorm.DB) *gorm.DB { return db.Order("case_key ASC") }).
		Where("id = ?", id).
		First(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRunNotFound
		}
		s.logger.Error(ctx, "failed to get run by ID", map[string]interface{}{
			"error":  err.Error(),
			"run_id": id.String(),
		})
		return nil, err
	}
	return &run, nil
}

// List retrieves a filtered, paginated list of runs.
func (s *MySQLStore) List(ctx context.Context, filter RunFilter, limit, offset int) ([]*Run, int64, error) {
	q := s.db.WithContext(ctx).Model(&Run{})
	if filter.VersionID != uuid.Nil {
		q = q.Where("version_id = ?", filter.VersionID)
	}
	if filter.TestSetID != "" {
		q = q.Where("test_set_id = ?", filter.TestSetID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		s.logger.Error(ctx, "failed to count runs", map[string]interface{}{
			"error": err.Error(),
		})
		return nil, 0, err
	}

	var runs []*Run
	if err := q.Order("started_at DESC").Limit(limit).Offset(offset).Find(&runs).Error; err != nil {
		s.logger.Error(ctx, "failed to list runs", map[string]interface{}{
			"error":  err.Error(),
			"limit":  limit,
			"offset": offset,
		})
		return nil, 0, err
	}
	return runs, total, nil
}

// Complete marks a run as completed.
func (s *MySQLStore) Complete(ctx context.Context, id uuid.UUID, status Status, reason string, cancelled bool, at time.Time) (*Run, error) {
	var run *Run
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current Run
		if err := tx.Where("id = ?", id).First(&current).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRunNotFound
			}
			return err
		}
		if err := current.Complete(status, reason, cancelled, at); err != nil {
			return err
		}

		res := tx.Model(&Run{}).
			Where("id = ? AND status = ?", id, StatusRunning).
			Updates(map[string]interface{}{
				"status":       current.Status,
				"reason":       current.Reason,
				"cancelled":    current.Cancelled,
				"completed_at": current.CompletedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrRunNotRunning
		}
		run = &current
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrRunNotFound) && !errors.Is(err, ErrRunNotRunning) && !errors.Is(err, ErrInvalidStatus) {
			s.logger.Error(ctx, "failed to complete run", map[string]interface{}{
				"error":  err.Error(),
				"run_id": id.String(),
			})
		}
		return nil, err
	}

	s.logger.Info(ctx, "run completed", map[string]interface{}{
		"run_id":    id.String(),
		"status":    string(status),
		"cancelled": cancelled,
	})
	return run, nil
}

// MarkAbandoned fails runs left in the running state.
func (s *MySQLStore) MarkAbandoned(ctx context.Context, at time.Time) (int64, error) {
	at = at.UTC()
	res := s.db.WithContext(ctx).Model(&Run{}).
		Where("status = ?", StatusRunning).
		Updates(map[string]interface{}{
			"status":       StatusFailed,
			"reason":       ReasonAbandoned,
			"completed_at": &at,
		})
	if res.Error != nil {
		s.logger.Error(ctx, "failed to mark abandoned runs", map[string]interface{}{
			"error": res.Error.Error(),
		})
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		s.logger.Warn(ctx, "abandoned runs marked failed", map[string]interface{}{
			"count": res.RowsAffected,
		})
	}
	return res.RowsAffected, nil
}

// RecordCaseResult stores a case result.
func (s *MySQLStore) RecordCaseResult(ctx context.Context, result *CaseResult) error {
	if !result.Status.IsFinal() {
		return ErrInvalidStatus
	}
	if err := s.db.WithContext(ctx).Create(result).Error; err != nil {
		s.logger.Error(ctx, "failed to record case result", map[string]interface{}{
			"error":    err.Error(),
			"run_id":   result.RunID.String(),
			"case_key": result.CaseKey,
		})
		return err
	}
	return nil
}

// AppendStepResult appends a step result.
func (s *MySQLStore) AppendStepResult(ctx context.Context, result *StepResult) error {
	if !result.Status.IsFinal() || result.Status == StatusPartial {
		return ErrInvalidStatus
	}
	if result.RecordedAt.IsZero() {
		result.RecordedAt = time.Now().UTC()
	}
	result.RecordedAt = result.RecordedAt.UTC()

	if err := s.db.WithContext(ctx).Create(result).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrStepResultExists
		}
		s.logger.Error(ctx, "failed to append step result", map[string]interface{}{
			"error":   err.Error(),
			"run_id":  result.RunID.String(),
			"step_id": result.StepID.String(),
		})
		return err
	}
	return nil
}

// ListStepResults retrieves step results matching the filter.
func (s *MySQLStore) ListStepResults(ctx context.Context, filter StepResultFilter) ([]*StepResult, error) {
	q := s.db.WithContext(ctx).Model(&StepResult{})
	if filter.RunID != uuid.Nil {
		q = q.Where("run_id = ?", filter.RunID)
	}
	if filter.VersionID != uuid.Nil {
		q = q.Where("version_id = ?", filter.VersionID)
	}
	if filter.CaseKey != "" {
		q = q.Where("case_key = ?", filter.CaseKey)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit).Offset(filter.Offset)
	}

	var results []*StepResult
	if err := q.Order("case_key ASC").Order("step_index ASC").Order("recorded_at ASC").Find(&results).Error; err != nil {
		s.logger.Error(ctx, "failed to list step results", map[string]interface{}{
			"error":  err.Error(),
			"run_id": filter.RunID.String(),
		})
		return nil, err
	}
	return results, nil
}
