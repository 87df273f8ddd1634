package versioning

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/hairizuan-noorazman/testflow/testcase"
)

// DefaultNearDuplicateThreshold is the step-text similarity at which two
// cases with different composite keys are flagged as near duplicates.
const DefaultNearDuplicateThreshold = 0.9

// DetectDuplicates annotates cases in place and returns one record per
// duplicate group. Exact groups share a composite key; near groups are
// anchored on the first case whose step text is similar enough. Every
// case is kept.
func DetectDuplicates(cases []testcase.TestCase, nearThreshold float64, maxRunes int) []DuplicateRecord {
	var records []DuplicateRecord

	byKey := make(map[string][]int)
	var order []string
	for i := range cases {
		ck := cases[i].CompositeKey
		if _, ok := byKey[ck]; !ok {
			order = append(order, ck)
		}
		byKey[ck] = append(byKey[ck], i)
	}

	reps := make([]int, 0, len(order))
	for _, ck := range order {
		members := byKey[ck]
		reps = append(reps, members[0])
		if len(members) < 2 {
			continue
		}

		group := uuid.New()
		anchor := cases[members[0]].CaseKey
		keys := make([]string, 0, len(members))
		for _, idx := range members {
			keys = append(keys, cases[idx].CaseKey)
			g := group
			cases[idx].DuplicateGroup = &g
			if cases[idx].CaseKey != anchor {
				cases[idx].DuplicateComment = fmt.Sprintf("exact duplicate of %s: same user story and steps", anchor)
			}
		}
		records = append(records, DuplicateRecord{
			GroupID:      group,
			Kind:         DuplicateExact,
			CompositeKey: ck,
			CaseKeys:     testcase.NewStringSet(keys...),
			Similarity:   1,
			Comment:      fmt.Sprintf("%d cases share user story %q and identical steps", len(members), cases[members[0]].UserStory),
		})
	}

	if nearThreshold <= 0 || nearThreshold > 1 {
		return records
	}

	lines := make([][]string, len(cases))
	for _, idx := range reps {
		lines[idx] = cases[idx].StepLines()
	}

	grouped := make(map[int]bool)
	for a := 0; a < len(reps); a++ {
		i := reps[a]
		if grouped[i] {
			continue
		}
		var members []int
		lowest := 1.0
		for b := a + 1; b < len(reps); b++ {
			j := reps[b]
			if grouped[j] {
				continue
			}
			sim := Similarity(lines[i], lines[j], maxRunes)
			if sim < nearThreshold {
				continue
			}
			members = append(members, j)
			if sim < lowest {
				lowest = sim
			}
			if cases[j].DuplicateComment == "" {
				cases[j].DuplicateComment = fmt.Sprintf("near duplicate of %s: step similarity %.2f", cases[i].CaseKey, sim)
			}
		}
		if len(members) == 0 {
			continue
		}

		group := uuid.New()
		keys := []string{cases[i].CaseKey}
		grouped[i] = true
		if cases[i].DuplicateGroup == nil {
			g := group
			cases[i].DuplicateGroup = &g
		}
		for _, j := range members {
			grouped[j] = true
			keys = append(keys, cases[j].CaseKey)
			if cases[j].DuplicateGroup == nil {
				g := group
				cases[j].DuplicateGroup = &g
			}
		}
		records = append(records, DuplicateRecord{
			GroupID:    group,
			Kind:       DuplicateNear,
			CaseKeys:   testcase.NewStringSet(keys...),
			Similarity: lowest,
			Comment:    fmt.Sprintf("%d cases with step similarity >= %.2f", len(keys), nearThreshold),
		})
	}
	return records
}
