package versioning

import (
	"sort"

	"github.com/hairizuan-noorazman/testflow/testcase"
)

// ComputeDiff compares two case sets by case key. A nil previous set means
// every case is added.
func ComputeDiff(previous, next []testcase.TestCase) Diff {
	prev := make(map[string]*testcase.TestCase, len(previous))
	for i := range previous {
		prev[previous[i].CaseKey] = &previous[i]
	}

	d := Diff{
		Added:     []string{},
		Removed:   []string{},
		Unchanged: []string{},
		Modified:  []string{},
	}
	seen := make(map[string]struct{}, len(next))
	for i := range next {
		key := next[i].CaseKey
		seen[key] = struct{}{}
		old, ok := prev[key]
		if !ok {
			d.Added = append(d.Added, key)
			continue
		}
		d.Unchanged = append(d.Unchanged, key)
		if !testcase.SameContent(old, &next[i]) {
			d.Modified = append(d.Modified, key)
		}
	}
	for key := range prev {
		if _, ok := seen[key]; !ok {
			d.Removed = append(d.Removed, key)
		}
	}

	sort.Strings(d.Added)
	sort.Strings(d.Removed)
	sort.Strings(d.Unchanged)
	sort.Strings(d.Modified)
	return d
}

// setLines concatenates the canonical step text of every case, ordered by case key.
func setLines(cases []testcase.TestCase) []string {
	sorted := make([]*testcase.TestCase, len(cases))
	for i := range cases {
		sorted[i] = &cases[i]
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CaseKey < sorted[j].CaseKey })

	var lines []string
	for _, tc := range sorted {
		lines = append(lines, tc.StepLines()...)
	}
	return lines
}
