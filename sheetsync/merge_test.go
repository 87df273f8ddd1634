package sheetsync

import (
	"errors"
	"testing"

	"github.com/hairizuan-noorazman/testflow/testcase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tcase(key string, steps ...string) *testcase.TestCase {
	tc := &testcase.TestCase{CaseKey: key, UserStory: "US-1"}
	for i, d := range steps {
		tc.Steps = append(tc.Steps, testcase.Step{Index: i + 1, Description: d})
	}
	return tc
}

func sheet(tc *testcase.TestCase) *sheetCase {
	return &sheetCase{Key: tc.CaseKey, Case: tc}
}

func broken(key string) *sheetCase {
	return &sheetCase{Key: key, Err: errors.New("line 3: bad index"), Rows: Rows{{CaseID: key, StepIndex: "x"}}}
}

func TestMerge_Classification(t *testing.T) {
	tests := []struct {
		name       string
		external   []*sheetCase
		base       []*sheetCase
		canonical  []*testcase.TestCase
		kind       ChangeKind
		kept       string
		conflict   ConflictKind
		resolution Resolution
	}{
		{
			name:     "externally added",
			external: []*sheetCase{sheet(tcase("A", "new"))},
			kind:     ChangeExternallyAdded,
			kept:     "new",
		},
		{
			name:      "locally added",
			canonical: []*testcase.TestCase{tcase("A", "local")},
			kind:      ChangeLocallyAdded,
			kept:      "local",
		},
		{
			name:      "unchanged",
			external:  []*sheetCase{sheet(tcase("A", "same"))},
			base:      []*sheetCase{sheet(tcase("A", "same"))},
			canonical: []*testcase.TestCase{tcase("A", "same")},
			kind:      ChangeUnchanged,
			kept:      "same",
		},
		{
			name:      "externally modified",
			external:  []*sheetCase{sheet(tcase("A", "sheet edit"))},
			base:      []*sheetCase{sheet(tcase("A", "orig"))},
			canonical: []*testcase.TestCase{tcase("A", "orig")},
			kind:      ChangeExternallyModified,
			kept:      "sheet edit",
		},
		{
			name:      "locally modified",
			external:  []*sheetCase{sheet(tcase("A", "orig"))},
			base:      []*sheetCase{sheet(tcase("A", "orig"))},
			canonical: []*testcase.TestCase{tcase("A", "local edit")},
			kind:      ChangeLocallyModified,
			kept:      "local edit",
		},
		{
			name:       "both modified, external wins",
			external:   []*sheetCase{sheet(tcase("A", "sheet edit"))},
			base:       []*sheetCase{sheet(tcase("A", "orig"))},
			canonical:  []*testcase.TestCase{tcase("A", "local edit")},
			kind:       ChangeConflicting,
			kept:       "sheet edit",
			conflict:   ConflictBothModified,
			resolution: ResolutionExternalWon,
		},
		{
			name:      "both modified identically",
			external:  []*sheetCase{sheet(tcase("A", "same edit"))},
			base:      []*sheetCase{sheet(tcase("A", "orig"))},
			canonical: []*testcase.TestCase{tcase("A", "same edit")},
			kind:      ChangeUnchanged,
			kept:      "same edit",
		},
		{
			name:      "first sync, equal",
			external:  []*sheetCase{sheet(tcase("A", "x"))},
			canonical: []*testcase.TestCase{tcase("A", "x")},
			kind:      ChangeUnchanged,
			kept:      "x",
		},
		{
			name:       "first sync, different",
			external:   []*sheetCase{sheet(tcase("A", "sheet"))},
			canonical:  []*testcase.TestCase{tcase("A", "local")},
			kind:       ChangeConflicting,
			kept:       "sheet",
			conflict:   ConflictBothAdded,
			resolution: ResolutionExternalWon,
		},
		{
			name:      "externally removed",
			base:      []*sheetCase{sheet(tcase("A", "orig"))},
			canonical: []*testcase.TestCase{tcase("A", "orig")},
			kind:      ChangeExternallyRemoved,
		},
		{
			name:       "externally removed but locally modified",
			base:       []*sheetCase{sheet(tcase("A", "orig"))},
			canonical:  []*testcase.TestCase{tcase("A", "local edit")},
			kind:       ChangeConflicting,
			kept:       "local edit",
			conflict:   ConflictRemovedModified,
			resolution: ResolutionCanonicalWon,
		},
		{
			name:     "locally removed",
			external: []*sheetCase{sheet(tcase("A", "orig"))},
			base:     []*sheetCase{sheet(tcase("A", "orig"))},
			kind:     ChangeLocallyRemoved,
		},
		{
			name:       "locally removed but externally modified",
			external:   []*sheetCase{sheet(tcase("A", "sheet edit"))},
			base:       []*sheetCase{sheet(tcase("A", "orig"))},
			kind:       ChangeConflicting,
			kept:       "sheet edit",
			conflict:   ConflictModifiedRemoved,
			resolution: ResolutionExternalWon,
		},
		{
			name:       "unparsable external keeps canonical",
			external:   []*sheetCase{broken("A")},
			base:       []*sheetCase{sheet(tcase("A", "orig"))},
			canonical:  []*testcase.TestCase{tcase("A", "orig")},
			kind:       ChangeExternallyModified,
			kept:       "orig",
			conflict:   ConflictUnparsable,
			resolution: ResolutionCanonicalWon,
		},
		{
			name:       "unparsable external add is left out",
			external:   []*sheetCase{broken("A")},
			kind:       ChangeExternallyAdded,
			conflict:   ConflictUnparsable,
			resolution: ResolutionSkipped,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var canonical []testcase.TestCase
			for _, c := range tt.canonical {
				canonical = append(canonical, *c)
			}

			res := merge(tt.external, tt.base, canonical)

			assert.Equal(t, tt.kind, res.Classification["A"])
			if tt.kept == "" {
				assert.Empty(t, res.Cases)
			} else {
				require.Len(t, res.Cases, 1)
				assert.Equal(t, tt.kept, res.Cases[0].Steps[0].Description)
			}
			if tt.conflict == "" {
				assert.Empty(t, res.Conflicts)
			} else {
				require.Len(t, res.Conflicts, 1)
				assert.Equal(t, tt.conflict, res.Conflicts[0].Kind)
				assert.Equal(t, tt.resolution, res.Conflicts[0].Resolution)
			}
		})
	}
}

func TestMerge_ConflictFields(t *testing.T) {
	local := tcase("A", "one", "two")
	local.Title = "Local title"
	remote := tcase("A", "one", "TWO")
	remote.Title = "Sheet title"

	res := merge([]*sheetCase{sheet(remote)}, nil, []testcase.TestCase{*local})
	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, []string{"title", "steps[2].description"}, res.Conflicts[0].Fields)
}

func TestMerge_SortedOutput(t *testing.T) {
	res := merge(
		[]*sheetCase{sheet(tcase("C", "c")), sheet(tcase("A", "a"))},
		nil,
		[]testcase.TestCase{*tcase("B", "b")},
	)
	require.Len(t, res.Cases, 3)
	assert.Equal(t, "A", res.Cases[0].CaseKey)
	assert.Equal(t, "B", res.Cases[1].CaseKey)
	assert.Equal(t, "C", res.Cases[2].CaseKey)
}
