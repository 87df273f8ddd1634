package sheetsync

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/hairizuan-noorazman/testflow/testcase"
)

// ChangeKind is the three-way classification of one case key.
type ChangeKind string

const (
	ChangeUnchanged          ChangeKind = "unchanged"
	ChangeExternallyAdded    ChangeKind = "externally_added"
	ChangeLocallyAdded       ChangeKind = "locally_added"
	ChangeExternallyModified ChangeKind = "externally_modified"
	ChangeLocallyModified    ChangeKind = "locally_modified"
	ChangeExternallyRemoved  ChangeKind = "externally_removed"
	ChangeLocallyRemoved     ChangeKind = "locally_removed"
	ChangeConflicting        ChangeKind = "conflicting"
)

// ConflictKind says what kind of disagreement a Conflict describes.
type ConflictKind string

const (
	// ConflictBothModified: both sides changed the case since the last sync.
	ConflictBothModified ConflictKind = "both_modified"
	// ConflictBothAdded: both sides hold the case with no common base.
	ConflictBothAdded ConflictKind = "both_added"
	// ConflictRemovedModified: the sheet dropped a case that was edited locally.
	ConflictRemovedModified ConflictKind = "removed_externally_modified_locally"
	// ConflictModifiedRemoved: the sheet edited a case that was removed locally.
	ConflictModifiedRemoved ConflictKind = "modified_externally_removed_locally"
	// ConflictUnparsable: the sheet's version of the case could not be parsed.
	ConflictUnparsable ConflictKind = "unparsable"
)

// Resolution says which side's content was kept.
type Resolution string

const (
	ResolutionExternalWon  Resolution = "external_won"
	ResolutionCanonicalWon Resolution = "canonical_won"
	ResolutionSkipped      Resolution = "skipped"
)

// Conflict is a disagreement surfaced by a reconcile.
type Conflict struct {
	CaseKey    string       `json:"case_key"`
	Kind       ConflictKind `json:"kind"`
	Resolution Resolution   `json:"resolution"`
	Fields     []string     `json:"fields,omitempty"`
	Detail     string       `json:"detail,omitempty"`
}

// mergeResult is the reconciled candidate set.
type mergeResult struct {
	Cases          []testcase.TestCase
	Classification map[string]ChangeKind
	Conflicts      []Conflict
}

// merge performs the three-way reconcile of external (sheet), canonical
// (latest version) and base (last synced sheet) cases.
func merge(external, base []*sheetCase, canonical []testcase.TestCase) mergeResult {
	ext := make(map[string]*sheetCase, len(external))
	for _, c := range external {
		ext[c.Key] = c
	}
	bas := make(map[string]*sheetCase, len(base))
	for _, c := range base {
		bas[c.Key] = c
	}
	can := make(map[string]*testcase.TestCase, len(canonical))
	for i := range canonical {
		can[canonical[i].CaseKey] = &canonical[i]
	}

	keys := make(map[string]bool)
	for k := range ext {
		keys[k] = true
	}
	for k := range bas {
		keys[k] = true
	}
	for k := range can {
		keys[k] = true
	}
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	res := mergeResult{Classification: make(map[string]ChangeKind, len(sorted))}
	keep := func(tc *testcase.TestCase) {
		res.Cases = append(res.Cases, tc.Clone())
	}
	conflict := func(c Conflict) {
		res.Conflicts = append(res.Conflicts, c)
	}
	// takeExternal keeps the sheet's content, or the canonical case when the
	// sheet's version cannot be parsed.
	takeExternal := func(key string, e *sheetCase, c *testcase.TestCase) bool {
		if e.Err == nil {
			keep(e.Case)
			return true
		}
		u := Conflict{CaseKey: key, Kind: ConflictUnparsable, Resolution: ResolutionSkipped, Detail: e.Err.Error()}
		if c != nil {
			u.Resolution = ResolutionCanonicalWon
			keep(c)
		}
		conflict(u)
		return false
	}

	for _, key := range sorted {
		e, inE := ext[key]
		b, inB := bas[key]
		c, inC := can[key]

		switch {
		case inE && !inB && !inC:
			res.Classification[key] = ChangeExternallyAdded
			takeExternal(key, e, nil)

		case !inE && !inB && inC:
			res.Classification[key] = ChangeLocallyAdded
			keep(c)

		case inE && inB && inC:
			eChanged := e.fingerprint() != b.fingerprint()
			cChanged := b.Err != nil || !sameCase(c, b.Case)
			switch {
			case eChanged && cChanged && e.Err == nil && sameCase(c, e.Case):
				res.Classification[key] = ChangeUnchanged
				keep(c)
			case eChanged && cChanged:
				res.Classification[key] = ChangeConflicting
				if takeExternal(key, e, c) {
					conflict(Conflict{
						CaseKey:    key,
						Kind:       ConflictBothModified,
						Resolution: ResolutionExternalWon,
						Fields:     changedFields(c, e.Case),
						Detail:     "modified in the sheet and locally since the last sync",
					})
				}
			case eChanged:
				res.Classification[key] = ChangeExternallyModified
				takeExternal(key, e, c)
			case cChanged:
				res.Classification[key] = ChangeLocallyModified
				keep(c)
			default:
				res.Classification[key] = ChangeUnchanged
				keep(c)
			}

		case inE && !inB && inC:
			if e.Err == nil && sameCase(c, e.Case) {
				res.Classification[key] = ChangeUnchanged
				keep(c)
				continue
			}
			res.Classification[key] = ChangeConflicting
			if takeExternal(key, e, c) {
				conflict(Conflict{
					CaseKey:    key,
					Kind:       ConflictBothAdded,
					Resolution: ResolutionExternalWon,
					Fields:     changedFields(c, e.Case),
					Detail:     "present on both sides with different content and no sync base",
				})
			}

		case !inE && inB && inC:
			if b.Err == nil && sameCase(c, b.Case) {
				res.Classification[key] = ChangeExternallyRemoved
				continue
			}
			res.Classification[key] = ChangeConflicting
			keep(c)
			conflict(Conflict{
				CaseKey:    key,
				Kind:       ConflictRemovedModified,
				Resolution: ResolutionCanonicalWon,
				Detail:     "removed from the sheet but modified locally; local case kept",
			})

		case inE && inB && !inC:
			if e.fingerprint() == b.fingerprint() {
				res.Classification[key] = ChangeLocallyRemoved
				continue
			}
			res.Classification[key] = ChangeConflicting
			if takeExternal(key, e, nil) {
				conflict(Conflict{
					CaseKey:    key,
					Kind:       ConflictModifiedRemoved,
					Resolution: ResolutionExternalWon,
					Detail:     "modified in the sheet but removed locally; case re-added",
				})
			}

		default:
			// Only in the base: removed on both sides.
			res.Classification[key] = ChangeLocallyRemoved
		}
	}
	return res
}

func sameCase(a, b *testcase.TestCase) bool {
	return testcase.SameContent(a, b)
}

// changedFields lists the content fields that differ between two cases.
func changedFields(a, b *testcase.TestCase) []string {
	var out []string
	add := func(name string, differ bool) {
		if differ {
			out = append(out, name)
		}
	}
	add("user_story", a.UserStory != b.UserStory)
	add("title", a.Title != b.Title)
	add("type", a.Type != b.Type)
	add("category", a.Category != b.Category)
	add("priority", a.Priority != b.Priority)
	add("tags", strings.Join(a.Tags, ";") != strings.Join(b.Tags, ";"))

	if len(a.Steps) != len(b.Steps) {
		out = append(out, "steps")
		return out
	}
	for i := range a.Steps {
		sa, sb := a.Steps[i], b.Steps[i]
		prefix := fmt.Sprintf("steps[%d].", sa.Index)
		add(prefix+"description", sa.Description != sb.Description)
		add(prefix+"backend", sa.Backend != sb.Backend)
		add(prefix+"depends_on", !sameIntPtr(sa.DependsOn, sb.DependsOn))
		add(prefix+"expected", sa.ExpectedFingerprint != sb.ExpectedFingerprint)
		add(prefix+"element_id", sa.ElementID != sb.ElementID)
		add(prefix+"action", string(mustJSON(sa.Action)) != string(mustJSON(sb.Action)))
	}
	return out
}

func sameIntPtr(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func mustJSON(v interface{}) []byte {
	b, _ := json.Marshal(v)
	return b
}
