package versioning

import (
	"testing"

	"github.com/hairizuan-noorazman/testflow/testcase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func prepared(cases ...testcase.TestCase) []testcase.TestCase {
	for i := range cases {
		cases[i].CompositeKey = cases[i].ComputeCompositeKey()
	}
	return cases
}

func TestDetectDuplicates_Exact(t *testing.T) {
	cases := prepared(
		makeCase("TC-1", "US-1", "Open login page", "Submit"),
		makeCase("TC-2", "US-1", "open  LOGIN page", "submit"),
		makeCase("TC-3", "US-2", "Open login page", "Submit"),
	)

	records := DetectDuplicates(cases, 0, DefaultSimilarityMaxRunes)

	require.Len(t, records, 1)
	assert.Equal(t, DuplicateExact, records[0].Kind)
	assert.Equal(t, testcase.StringSet{"TC-1", "TC-2"}, records[0].CaseKeys)
	require.NotNil(t, cases[0].DuplicateGroup)
	require.NotNil(t, cases[1].DuplicateGroup)
	assert.Equal(t, *cases[0].DuplicateGroup, *cases[1].DuplicateGroup)
	assert.Contains(t, cases[1].DuplicateComment, "TC-1")
	assert.Nil(t, cases[2].DuplicateGroup, "different user story is not a duplicate")
}

func TestDetectDuplicates_Near(t *testing.T) {
	cases := prepared(
		makeCase("TC-1", "US-1", "Enter a valid email address and password"),
		makeCase("TC-2", "US-1", "Enter a valid email address and passwords"),
		makeCase("TC-3", "US-1", "Query the orders table"),
	)

	records := DetectDuplicates(cases, DefaultNearDuplicateThreshold, DefaultSimilarityMaxRunes)

	require.Len(t, records, 1)
	assert.Equal(t, DuplicateNear, records[0].Kind)
	assert.Equal(t, testcase.StringSet{"TC-1", "TC-2"}, records[0].CaseKeys)
	assert.GreaterOrEqual(t, records[0].Similarity, DefaultNearDuplicateThreshold)
	assert.Contains(t, cases[1].DuplicateComment, "near duplicate of TC-1")
	assert.Nil(t, cases[2].DuplicateGroup)
}
