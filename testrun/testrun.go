package testrun

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/hairizuan-noorazman/testflow/testcase"
	"gorm.io/gorm"
)

var (
	// ErrRunNotFound is returned when a run is not found.
	ErrRunNotFound = errors.New("run not found")

	// ErrMissingVersionID is returned when version_id is not set.
	ErrMissingVersionID = errors.New("version_id is required")

	// ErrInvalidStatus is returned when status is invalid.
	ErrInvalidStatus = errors.New("invalid status")

	// ErrRunNotRunning is returned when completing a run that already finished.
	ErrRunNotRunning = errors.New("run is not running")

	// ErrStepResultExists is returned when a step already has a result in the run.
	ErrStepResultExists = errors.New("step result already recorded for this run")
)

// Status is the outcome of a run, case or step.
type Status string

const (
	StatusRunning Status = "running"
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusPartial Status = "partial"
	StatusSkipped Status = "skipped"
)

// IsValid checks if the status is valid.
func (s Status) IsValid() bool {
	switch s {
	case StatusRunning, StatusPassed, StatusFailed, StatusPartial, StatusSkipped:
		return true
	default:
		return false
	}
}

// IsFinal checks if the status is terminal.
func (s Status) IsFinal() bool {
	return s.IsValid() && s != StatusRunning
}

// Run is one execution of a committed test-set version.
type Run struct {
	ID            uuid.UUID          `json:"id" gorm:"type:char(36);primaryKey"`
	VersionID     uuid.UUID          `json:"version_id" gorm:"type:char(36);not null;index:idx_runs_version"`
	TestSetID     string             `json:"test_set_id" gorm:"type:varchar(191);not null"`
	VersionNumber int                `json:"version_number" gorm:"not null"`
	Scope         testcase.StringSet `json:"scope" gorm:"type:json"`
	Status        Status             `json:"status" gorm:"type:varchar(20);not null;index:idx_runs_status"`
	Reason        string             `json:"reason,omitempty" gorm:"type:text"`
	Cancelled     bool               `json:"cancelled" gorm:"not null"`
	TriggeredBy   string             `json:"triggered_by,omitempty" gorm:"type:varchar(191)"`
	StartedAt     time.Time          `json:"started_at" gorm:"not null"`
	CompletedAt   *time.Time         `json:"completed_at,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`

	CaseResults []CaseResult `json:"case_results,omitempty" gorm:"foreignKey:RunID"`
}

// BeforeCreate hook to generate UUID before creating a new run
func (r *Run) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// Validate checks if the run has valid required fields.
func (r *Run) Validate() error {
	if r.VersionID == uuid.Nil {
		return ErrMissingVersionID
	}
	if !r.Status.IsValid() {
		return ErrInvalidStatus
	}
	return nil
}

// Complete sets the terminal status. Only running runs can be completed.
func (r *Run) Complete(status Status, reason string, cancelled bool, at time.Time) error {
	if r.Status != StatusRunning {
		return ErrRunNotRunning
	}
	if !status.IsFinal() {
		return ErrInvalidStatus
	}
	at = at.UTC()
	r.Status = status
	r.Reason = reason
	r.Cancelled = cancelled
	r.CompletedAt = &at
	return nil
}

// AggregateRun derives a run status from its case statuses: the shared
// status when all agree, partial otherwise, skipped when there are no cases.
func AggregateRun(cases []Status) Status {
	if len(cases) == 0 {
		return StatusSkipped
	}
	first := cases[0]
	for _, s := range cases[1:] {
		if s != first {
			return StatusPartial
		}
	}
	return first
}

// RunReason derives the reason of a skipped run from its case reasons: the
// shared reason when every case was skipped for the same one, empty
// otherwise.
func RunReason(status Status, caseReasons []string) string {
	if status != StatusSkipped || len(caseReasons) == 0 {
		return ""
	}
	first := caseReasons[0]
	for _, r := range caseReasons[1:] {
		if r != first {
			return ""
		}
	}
	return first
}
