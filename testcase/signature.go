package testcase

import (
	"encoding/hex"
	"encoding/json"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// compositeSep separates the user story from the step signature in a
// composite key. It cannot appear in normalized text.
const compositeSep = "\x1f"

// NormalizeText lowercases s and collapses runs of whitespace.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// StepLines returns the normalized description of each step in order.
func (tc *TestCase) StepLines() []string {
	lines := make([]string, len(tc.Steps))
	for i, s := range tc.Steps {
		lines[i] = NormalizeText(s.Description)
	}
	return lines
}

// StepText is the canonical text of a case: normalized step descriptions
// joined by newlines.
func (tc *TestCase) StepText() string {
	return strings.Join(tc.StepLines(), "\n")
}

// Signature is the hash of the canonical step text.
func (tc *TestCase) Signature() string {
	return Hash([]byte(tc.StepText()))
}

// ComputeCompositeKey returns the duplicate-detection key: user story plus step signature.
func (tc *TestCase) ComputeCompositeKey() string {
	return strings.TrimSpace(tc.UserStory) + compositeSep + tc.Signature()
}

type stepContent struct {
	Index       int     `json:"index"`
	Description string  `json:"description"`
	Action      JSONMap `json:"action,omitempty"`
	Backend     Type    `json:"backend,omitempty"`
	DependsOn   *int    `json:"depends_on,omitempty"`
	Expected    string  `json:"expected,omitempty"`
	ElementID   string  `json:"element_id,omitempty"`
}

type caseContent struct {
	CaseKey   string        `json:"case_key"`
	UserStory string        `json:"user_story"`
	Title     string        `json:"title,omitempty"`
	Type      Type          `json:"type,omitempty"`
	Category  Category      `json:"category,omitempty"`
	Priority  string        `json:"priority,omitempty"`
	Tags      StringSet     `json:"tags,omitempty"`
	Steps     []stepContent `json:"steps"`
}

func (tc *TestCase) content() caseContent {
	c := caseContent{
		CaseKey:   tc.CaseKey,
		UserStory: tc.UserStory,
		Title:     tc.Title,
		Type:      tc.Type,
		Category:  tc.Category,
		Priority:  tc.Priority,
		Tags:      tc.Tags,
		Steps:     make([]stepContent, len(tc.Steps)),
	}
	for i, s := range tc.Steps {
		c.Steps[i] = stepContent{
			Index:       s.Index,
			Description: s.Description,
			Action:      s.Action,
			Backend:     s.Backend,
			DependsOn:   s.DependsOn,
			Expected:    s.ExpectedFingerprint,
			ElementID:   s.ElementID,
		}
	}
	return c
}

// CanonicalJSON serializes the user-visible content of the case. Persisted
// identifiers and bookkeeping fields are excluded.
func (tc *TestCase) CanonicalJSON() []byte {
	// json.Marshal sorts map keys, and every field here is marshalable.
	b, _ := json.Marshal(tc.content())
	return b
}

// ComputeContentHash hashes the canonical JSON of the case.
func (tc *TestCase) ComputeContentHash() string {
	return Hash(tc.CanonicalJSON())
}

// SameContent reports whether two cases carry identical user-visible content.
func SameContent(a, b *TestCase) bool {
	return string(a.CanonicalJSON()) == string(b.CanonicalJSON())
}

// CanonicalSetJSON serializes a list of cases in the given order.
func CanonicalSetJSON(cases []TestCase) []byte {
	contents := make([]caseContent, len(cases))
	for i := range cases {
		contents[i] = cases[i].content()
	}
	b, _ := json.Marshal(contents)
	return b
}

// Hash returns the hex BLAKE2b-256 digest of b.
func Hash(b []byte) string {
	sum := blake2b.Sum256(b)
	return hex.EncodeToString(sum[:])
}
