package testcase

import (
	"context"

	"github.com/google/uuid"
)

// Store is the read side of committed test cases. Cases are written only
// as part of a version commit, so there are no update or delete methods.
type Store interface {
	// GetByID retrieves a test case with its steps.
	GetByID(ctx context.Context, id uuid.UUID) (*TestCase, error)

	// ListByVersion retrieves every case of a version, ordered by case key, with steps.
	ListByVersion(ctx context.Context, versionID uuid.UUID) ([]*TestCase, error)

	// GetStep retrieves a single step.
	GetStep(ctx context.Context, id uuid.UUID) (*Step, error)

	// History retrieves every committed revision of a case key, newest first.
	History(ctx context.Context, testSetID, caseKey string) ([]*TestCase, error)
}
