package testrun

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Reasons recorded on skipped steps and cases.
const (
	ReasonUnclassified       = "unclassified"
	ReasonDependencyBlocked  = "dependency_blocked"
	ReasonCycleDetected      = "cycle_detected"
	ReasonCancelled          = "cancelled"
	ReasonCaseAborted        = "case_aborted"
	ReasonBackendUnavailable = "backend_unavailable"
)

// CaseResult is the aggregated outcome of one case within a run.
type CaseResult struct {
	ID         uuid.UUID `json:"id" gorm:"type:char(36);primaryKey"`
	RunID      uuid.UUID `json:"run_id" gorm:"type:char(36);not null;uniqueIndex:idx_case_results_run_case,priority:1"`
	TestCaseID uuid.UUID `json:"test_case_id" gorm:"type:char(36);not null;uniqueIndex:idx_case_results_run_case,priority:2"`
	CaseKey    string    `json:"case_key" gorm:"type:varchar(191);not null"`
	Status     Status    `json:"status" gorm:"type:varchar(20);not null"`
	Reason     string    `json:"reason,omitempty" gorm:"type:text"`
	CreatedAt  time.Time `json:"created_at"`
}

// BeforeCreate hook to generate UUID before creating a new case result
func (c *CaseResult) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// StepResult is the append-only record of one step's execution in a run.
type StepResult struct {
	ID                 uuid.UUID  `json:"id" gorm:"type:char(36);primaryKey"`
	RunID              uuid.UUID  `json:"run_id" gorm:"type:char(36);not null;uniqueIndex:idx_step_results_run_step,priority:1"`
	VersionID          uuid.UUID  `json:"version_id" gorm:"type:char(36);not null;index:idx_step_results_version"`
	TestCaseID         uuid.UUID  `json:"test_case_id" gorm:"type:char(36);not null"`
	StepID             uuid.UUID  `json:"step_id" gorm:"type:char(36);not null;uniqueIndex:idx_step_results_run_step,priority:2"`
	CaseKey            string     `json:"case_key" gorm:"type:varchar(191);not null;index:idx_step_results_case_key"`
	StepIndex          int        `json:"step_index" gorm:"not null"`
	Backend            string     `json:"backend,omitempty" gorm:"type:varchar(20)"`
	ClassifiedBy       string     `json:"classified_by,omitempty" gorm:"type:varchar(20)"`
	Status             Status     `json:"status" gorm:"type:varchar(20);not null;index:idx_step_results_status"`
	Reason             string     `json:"reason,omitempty" gorm:"type:text"`
	BlockingStepID     *uuid.UUID `json:"blocking_step_id,omitempty" gorm:"type:char(36)"`
	Attempts           int        `json:"attempts" gorm:"not null"`
	HealingInvocations int        `json:"healing_invocations" gorm:"not null"`
	Evidence           string     `json:"evidence,omitempty" gorm:"type:varchar(512)"`
	ElapsedMS          int64      `json:"elapsed_ms" gorm:"column:elapsed_ms;not null"`
	RecordedAt         time.Time  `json:"recorded_at" gorm:"not null"`
}

// BeforeCreate hook to generate UUID before creating a new step result
func (s *StepResult) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// Skip marks the result skipped with a reason and optional blocking step.
func (s *StepResult) Skip(reason string, blocking *uuid.UUID) {
	s.Status = StatusSkipped
	s.Reason = reason
	s.BlockingStepID = blocking
}

// AggregateCase derives a case status from its step statuses: skipped when
// every step was skipped, failed when any executed step failed, otherwise
// passed.
func AggregateCase(steps []Status) Status {
	executed := false
	for _, s := range steps {
		switch s {
		case StatusFailed:
			return StatusFailed
		case StatusPassed:
			executed = true
		}
	}
	if !executed {
		return StatusSkipped
	}
	return StatusPassed
}
