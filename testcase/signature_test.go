package testcase

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, "click the login button", NormalizeText("  Click   the\tLogin\nbutton "))
}

func TestCompositeKey(t *testing.T) {
	a := &TestCase{UserStory: "US-1", Steps: []Step{{Index: 1, Description: "Open the page"}}}
	b := &TestCase{UserStory: "US-1", Steps: []Step{{Index: 1, Description: "open   THE page"}}}
	c := &TestCase{UserStory: "US-2", Steps: []Step{{Index: 1, Description: "Open the page"}}}

	assert.Equal(t, a.ComputeCompositeKey(), b.ComputeCompositeKey())
	assert.NotEqual(t, a.ComputeCompositeKey(), c.ComputeCompositeKey())
	assert.Len(t, a.Signature(), 64)
}

func TestContentHash(t *testing.T) {
	a := validCase()
	b := validCase()
	assert.Equal(t, a.ComputeContentHash(), b.ComputeContentHash())
	assert.True(t, SameContent(a, b))

	b.Steps[1].Description = "Submit wrong credentials"
	assert.NotEqual(t, a.ComputeContentHash(), b.ComputeContentHash())
	assert.False(t, SameContent(a, b))

	// persisted bookkeeping does not change the content
	c := validCase()
	c.Modified = true
	c.VersionNumber = 4
	assert.Equal(t, a.ComputeContentHash(), c.ComputeContentHash())
}

func TestCanonicalSetJSON_Deterministic(t *testing.T) {
	cases := []TestCase{*validCase(), *validCase()}
	cases[0].Steps[0].Action = JSONMap{"b": 1, "a": 2}
	assert.Equal(t, string(CanonicalSetJSON(cases)), string(CanonicalSetJSON(cases)))
}
