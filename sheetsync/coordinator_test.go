package sheetsync

import (
	"context"
	"errors"
	"testing"

	"github.com/hairizuan-noorazman/testflow/testcase"
	"github.com/hairizuan-noorazman/testflow/versioning"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoordinator_Reconcile_FirstSync(t *testing.T) {
	env := setupCoordinator(t)
	ctx := context.Background()

	res, err := env.coordinator.Reconcile(ctx, snapshotOf(row("TC-1", "Open page"), row("TC-2", "Call api")))
	require.NoError(t, err)

	assert.Equal(t, 1, res.Version.Number)
	assert.Equal(t, versioning.SourceSync, res.Version.Source)
	assert.Empty(t, res.Conflicts)
	assert.Equal(t, map[string]ChangeKind{
		"TC-1": ChangeExternallyAdded,
		"TC-2": ChangeExternallyAdded,
	}, res.Classification)

	state, err := env.coordinator.State(ctx, "checkout")
	require.NoError(t, err)
	assert.Equal(t, 1, state.VersionNumber)
	assert.Len(t, state.Snapshot, 2)
	assert.True(t, env.log.HasMessage("info", "sync reconciled"))
}

func TestCoordinator_Reconcile_Idempotent(t *testing.T) {
	env := setupCoordinator(t)
	ctx := context.Background()

	// A local edit before the first sync makes TC-1 conflict once.
	_, err := env.manager.Commit(ctx, versioning.CommitRequest{
		TestSetID: "checkout",
		Author:    "qa@example.com",
		Source:    versioning.SourceEdit,
		Cases: []testcase.TestCase{{
			CaseKey: "TC-1", UserStory: "US-1",
			Steps: []testcase.Step{{Index: 1, Description: "Open the page locally"}},
		}},
	})
	require.NoError(t, err)

	snap := snapshotOf(row("TC-1", "Open page"), row("TC-2", "Call api"))

	first, err := env.coordinator.Reconcile(ctx, snap)
	require.NoError(t, err)
	assert.Equal(t, ChangeConflicting, first.Classification["TC-1"])
	require.Len(t, first.Conflicts, 1)
	assert.Equal(t, ConflictBothAdded, first.Conflicts[0].Kind)
	assert.True(t, env.log.HasMessage("warn", "sync reconciled with conflicts"))

	second, err := env.coordinator.Reconcile(ctx, snap)
	require.NoError(t, err)
	assert.Empty(t, second.Conflicts)
	for key, kind := range second.Classification {
		assert.NotEqual(t, ChangeConflicting, kind, key)
	}
	assert.Equal(t, first.Version.Number+1, second.Version.Number)

	records, err := env.coordinator.Conflicts(ctx, "checkout", 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, first.Version.Number, records[0].VersionNumber)
	assert.Equal(t, ResolutionExternalWon, records[0].Resolution)
	assert.Equal(t, testcase.StringSet{"steps[1].description"}, records[0].Fields)
}

func TestCoordinator_Reconcile_ThreeWay(t *testing.T) {
	env := setupCoordinator(t)
	ctx := context.Background()

	_, err := env.coordinator.Reconcile(ctx, snapshotOf(row("TC-1", "one"), row("TC-2", "two"), row("TC-3", "three")))
	require.NoError(t, err)

	// Locally: edit TC-2, add TC-4.
	_, err = env.manager.CommitWith(ctx, "checkout", func(snap *versioning.Snapshot) (*versioning.CommitRequest, error) {
		cases := make([]testcase.TestCase, 0, len(snap.Cases)+1)
		for _, c := range snap.Cases {
			cp := c.Clone()
			if cp.CaseKey == "TC-2" {
				cp.Steps[0].Description = "two, edited locally"
			}
			cases = append(cases, cp)
		}
		cases = append(cases, testcase.TestCase{
			CaseKey: "TC-4", UserStory: "US-2",
			Steps: []testcase.Step{{Index: 1, Description: "four"}},
		})
		return &versioning.CommitRequest{Author: "qa@example.com", Source: versioning.SourceEdit, Cases: cases}, nil
	})
	require.NoError(t, err)

	// In the sheet: edit TC-1, drop TC-3.
	res, err := env.coordinator.Reconcile(ctx, snapshotOf(row("TC-1", "one, edited in sheet"), row("TC-2", "two")))
	require.NoError(t, err)

	assert.Equal(t, map[string]ChangeKind{
		"TC-1": ChangeExternallyModified,
		"TC-2": ChangeLocallyModified,
		"TC-3": ChangeExternallyRemoved,
		"TC-4": ChangeLocallyAdded,
	}, res.Classification)
	assert.Empty(t, res.Conflicts)
	assert.Equal(t, []string{"TC-3"}, res.Version.Diff.Removed)

	latest, err := env.manager.Latest(ctx, "checkout")
	require.NoError(t, err)
	got := map[string]string{}
	for _, c := range latest.Cases {
		got[c.CaseKey] = c.Steps[0].Description
	}
	assert.Equal(t, map[string]string{
		"TC-1": "one, edited in sheet",
		"TC-2": "two, edited locally",
		"TC-4": "four",
	}, got)
}

func TestCoordinator_Reconcile_Unparsable(t *testing.T) {
	env := setupCoordinator(t)
	ctx := context.Background()

	bad := row("TC-2", "Call api")
	bad.Type = "desktop"
	res, err := env.coordinator.Reconcile(ctx, snapshotOf(row("TC-1", "Open page"), bad))
	require.NoError(t, err)

	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, ConflictUnparsable, res.Conflicts[0].Kind)
	assert.Equal(t, ResolutionSkipped, res.Conflicts[0].Resolution)
	assert.Equal(t, 1, res.Version.CaseCount)
}

func TestCoordinator_Reconcile_Validation(t *testing.T) {
	env := setupCoordinator(t)
	ctx := context.Background()

	tests := []struct {
		name string
		snap Snapshot
		want error
	}{
		{"no test set", Snapshot{Author: "a"}, versioning.ErrMissingTestSetID},
		{"no author", Snapshot{TestSetID: "x"}, versioning.ErrMissingAuthor},
		{"row without case id", Snapshot{TestSetID: "x", Author: "a", Rows: Rows{{Description: "d"}}}, ErrMissingCaseID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.coordinator.Reconcile(ctx, tt.snap)
			var verr *versioning.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCoordinator_Reconcile_ConflictWriteFailureRollsBack(t *testing.T) {
	env := setupCoordinator(t)
	ctx := context.Background()

	_, err := env.manager.Commit(ctx, versioning.CommitRequest{
		TestSetID: "checkout",
		Author:    "qa@example.com",
		Source:    versioning.SourceEdit,
		Cases: []testcase.TestCase{{
			CaseKey: "TC-1", UserStory: "US-1",
			Steps: []testcase.Step{{Index: 1, Description: "Open the page locally"}},
		}},
	})
	require.NoError(t, err)
	snap := snapshotOf(row("TC-1", "Open page"))

	broken := NewCoordinator(env.manager, &failingConflictStore{MySQLStore: env.store, err: errors.New("db hiccup")}, env.log)
	_, err = broken.Reconcile(ctx, snap)
	require.Error(t, err)

	latest, err := env.manager.Latest(ctx, "checkout")
	require.NoError(t, err)
	assert.Equal(t, 1, latest.Latest.Number)
	_, err = env.coordinator.State(ctx, "checkout")
	assert.ErrorIs(t, err, ErrStateNotFound)

	res, err := env.coordinator.Reconcile(ctx, snap)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Version.Number)
	assert.Equal(t, ChangeConflicting, res.Classification["TC-1"])
	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, ConflictBothAdded, res.Conflicts[0].Kind)

	records, err := env.coordinator.Conflicts(ctx, "checkout", 2)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "TC-1", records[0].CaseKey)
}
