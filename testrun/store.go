package testrun

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RunFilter narrows a run listing. Zero values match everything.
type RunFilter struct {
	VersionID uuid.UUID
	TestSetID string
	Status    Status
}

// StepResultFilter narrows a step result query. Zero values match everything.
type StepResultFilter struct {
	RunID     uuid.UUID
	VersionID uuid.UUID
	CaseKey   string
	Status    Status
	Limit     int
	Offset    int
}

// Store defines the interface for run persistence operations.
type Store interface {
	// Create creates a new run in the running state.
	Create(ctx context.Context, run *Run) error

	// GetByID retrieves a run with its case results.
	GetByID(ctx context.Context, id uuid.UUID) (*Run, error)

	// List retrieves runs, newest first, with the total matching count.
	List(ctx context.Context, filter RunFilter, limit, offset int) ([]*Run, int64, error)

	// Complete moves a running run to a terminal status.
	Complete(ctx context.Context, id uuid.UUID, status Status, reason string, cancelled bool, at time.Time) (*Run, error)

	// MarkAbandoned fails every run still marked running, such as runs
	// interrupted by a restart, and returns how many were changed.
	MarkAbandoned(ctx context.Context, at time.Time) (int64, error)

	// RecordCaseResult stores the aggregated result of a case.
	RecordCaseResult(ctx context.Context, result *CaseResult) error

	// AppendStepResult appends a step result. Results are never updated.
	AppendStepResult(ctx context.Context, result *StepResult) error

	// ListStepResults retrieves step results ordered by case key and step index.
	ListStepResults(ctx context.Context, filter StepResultFilter) ([]*StepResult, error)
}
