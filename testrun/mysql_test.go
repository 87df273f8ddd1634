package testrun

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMySQLStore_CreateAndGet(t *testing.T) {
	store, log := setupTestStore(t)
	ctx := context.Background()

	run := createTestRun(t, store, "checkout")
	assert.NotEqual(t, uuid.Nil, run.ID)
	assert.Equal(t, StatusRunning, run.Status)
	assert.True(t, log.HasMessage("info", "run created"))

	require.NoError(t, store.RecordCaseResult(ctx, &CaseResult{
		RunID: run.ID, TestCaseID: uuid.New(), CaseKey: "TC-2", Status: StatusFailed,
	}))
	require.NoError(t, store.RecordCaseResult(ctx, &CaseResult{
		RunID: run.ID, TestCaseID: uuid.New(), CaseKey: "TC-1", Status: StatusPassed,
	}))

	got, err := store.GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "checkout", got.TestSetID)
	require.Len(t, got.CaseResults, 2)
	assert.Equal(t, "TC-1", got.CaseResults[0].CaseKey)

	_, err = store.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestMySQLStore_Create_Validation(t *testing.T) {
	store, _ := setupTestStore(t)
	err := store.Create(context.Background(), &Run{TestSetID: "x"})
	assert.ErrorIs(t, err, ErrMissingVersionID)
}

func TestMySQLStore_Complete(t *testing.T) {
	store, log := setupTestStore(t)
	ctx := context.Background()
	run := createTestRun(t, store, "checkout")
	at := startedAt.Add(time.Minute)

	done, err := store.Complete(ctx, run.ID, StatusPartial, "", false, at)
	require.NoError(t, err)
	assert.Equal(t, StatusPartial, done.Status)
	assert.True(t, log.HasMessage("info", "run completed"))

	_, err = store.Complete(ctx, run.ID, StatusFailed, "", true, at)
	assert.ErrorIs(t, err, ErrRunNotRunning)

	_, err = store.Complete(ctx, uuid.New(), StatusFailed, "", false, at)
	assert.ErrorIs(t, err, ErrRunNotFound)

	got, err := store.GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPartial, got.Status)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.CompletedAt.Equal(at))
}

func TestMySQLStore_List(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	a := createTestRun(t, store, "checkout")
	createTestRun(t, store, "checkout")
	createTestRun(t, store, "login")
	_, err := store.Complete(ctx, a.ID, StatusPassed, "", false, startedAt.Add(time.Minute))
	require.NoError(t, err)

	tests := []struct {
		name   string
		filter RunFilter
		total  int64
	}{
		{"all", RunFilter{}, 3},
		{"by test set", RunFilter{TestSetID: "checkout"}, 2},
		{"by status", RunFilter{Status: StatusRunning}, 2},
		{"by version", RunFilter{VersionID: a.VersionID}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runs, total, err := store.List(ctx, tt.filter, 10, 0)
			require.NoError(t, err)
			assert.Equal(t, tt.total, total)
			assert.Len(t, runs, int(tt.total))
		})
	}

	runs, total, err := store.List(ctx, RunFilter{}, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, runs, 1)
}

func TestMySQLStore_MarkAbandoned(t *testing.T) {
	store, log := setupTestStore(t)
	ctx := context.Background()

	stale := createTestRun(t, store, "checkout")
	done := createTestRun(t, store, "checkout")
	_, err := store.Complete(ctx, done.ID, StatusPassed, "", false, startedAt)
	require.NoError(t, err)

	n, err := store.MarkAbandoned(ctx, startedAt.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.True(t, log.HasMessage("warn", "abandoned runs marked failed"))

	got, err := store.GetByID(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, ReasonAbandoned, got.Reason)

	got, err = store.GetByID(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPassed, got.Status)
}

func TestMySQLStore_AppendStepResult(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()
	run := createTestRun(t, store, "checkout")

	first := stepResult(run, "TC-1", 1, StatusPassed)
	require.NoError(t, store.AppendStepResult(ctx, first))

	dup := stepResult(run, "TC-1", 1, StatusFailed)
	dup.StepID = first.StepID
	assert.ErrorIs(t, store.AppendStepResult(ctx, dup), ErrStepResultExists)

	assert.ErrorIs(t, store.AppendStepResult(ctx, stepResult(run, "TC-1", 2, StatusRunning)), ErrInvalidStatus)
	assert.ErrorIs(t, store.AppendStepResult(ctx, stepResult(run, "TC-1", 2, StatusPartial)), ErrInvalidStatus)

	noTime := stepResult(run, "TC-1", 3, StatusSkipped)
	noTime.RecordedAt = time.Time{}
	require.NoError(t, store.AppendStepResult(ctx, noTime))
	assert.False(t, noTime.RecordedAt.IsZero())
}

func TestMySQLStore_ListStepResults(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()
	run := createTestRun(t, store, "checkout")
	other := createTestRun(t, store, "checkout")

	blocker := uuid.New()
	skipped := stepResult(run, "TC-2", 2, StatusSkipped)
	skipped.Skip(ReasonDependencyBlocked, &blocker)

	for _, r := range []*StepResult{
		stepResult(run, "TC-2", 1, StatusFailed),
		skipped,
		stepResult(run, "TC-1", 1, StatusPassed),
		stepResult(other, "TC-1", 1, StatusPassed),
	} {
		require.NoError(t, store.AppendStepResult(ctx, r))
	}

	t.Run("by run ordered by case and index", func(t *testing.T) {
		got, err := store.ListStepResults(ctx, StepResultFilter{RunID: run.ID})
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, "TC-1", got[0].CaseKey)
		assert.Equal(t, "TC-2", got[1].CaseKey)
		assert.Equal(t, 1, got[1].StepIndex)
		assert.Equal(t, 2, got[2].StepIndex)
	})

	t.Run("by status keeps the blocking step", func(t *testing.T) {
		got, err := store.ListStepResults(ctx, StepResultFilter{RunID: run.ID, Status: StatusSkipped})
		require.NoError(t, err)
		require.Len(t, got, 1)
		require.NotNil(t, got[0].BlockingStepID)
		assert.Equal(t, blocker, *got[0].BlockingStepID)
		assert.Equal(t, ReasonDependencyBlocked, got[0].Reason)
	})

	t.Run("by case key across runs", func(t *testing.T) {
		got, err := store.ListStepResults(ctx, StepResultFilter{CaseKey: "TC-1"})
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("paginated", func(t *testing.T) {
		got, err := store.ListStepResults(ctx, StepResultFilter{RunID: run.ID, Limit: 2, Offset: 2})
		require.NoError(t, err)
		assert.Len(t, got, 1)
	})
}
