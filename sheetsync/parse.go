package sheetsync

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/hairizuan-noorazman/testflow/testcase"
	"github.com/hairizuan-noorazman/testflow/versioning"
)

// ErrMissingCaseID is returned for a row that names no case.
var ErrMissingCaseID = errors.New("row has no case id")

// sheetCase is one case of a sheet, either parsed or kept with its error.
type sheetCase struct {
	Key  string
	Case *testcase.TestCase
	Err  error
	Rows Rows
}

// fingerprint identifies the content of the case for change detection.
func (c *sheetCase) fingerprint() string {
	if c.Err == nil {
		return testcase.Hash(c.Case.CanonicalJSON())
	}
	b, _ := json.Marshal(c.Rows)
	return "unparsable:" + testcase.Hash(b)
}

// groupCases groups rows by case id, in order of first appearance, and
// parses each group.
func groupCases(rows Rows) ([]*sheetCase, error) {
	var order []string
	groups := make(map[string]Rows)
	for _, r := range rows {
		if r.CaseID == "" {
			return nil, fmt.Errorf("line %d: %w", r.Line, ErrMissingCaseID)
		}
		if _, ok := groups[r.CaseID]; !ok {
			order = append(order, r.CaseID)
		}
		groups[r.CaseID] = append(groups[r.CaseID], r)
	}

	out := make([]*sheetCase, 0, len(order))
	for _, key := range order {
		rs := groups[key]
		tc, err := parseCase(key, rs)
		out = append(out, &sheetCase{Key: key, Case: tc, Err: err, Rows: rs})
	}
	return out, nil
}

// CasesFromRows parses sheet rows into cases for a plain upload. Unlike a
// reconcile, the first case that cannot be parsed rejects the whole sheet.
func CasesFromRows(rows Rows) ([]testcase.TestCase, error) {
	groups, err := groupCases(rows)
	if err != nil {
		return nil, &versioning.ValidationError{CaseIndex: -1, Err: err}
	}
	out := make([]testcase.TestCase, 0, len(groups))
	for i, g := range groups {
		if g.Err != nil {
			return nil, &versioning.ValidationError{CaseIndex: i, CaseKey: g.Key, Err: g.Err}
		}
		out = append(out, *g.Case)
	}
	return out, nil
}

func parseCase(key string, rows Rows) (*testcase.TestCase, error) {
	tc := &testcase.TestCase{CaseKey: key}
	var tags []string

	for i, r := range rows {
		first := func(dst *string, v string) {
			if *dst == "" {
				*dst = v
			}
		}
		first(&tc.UserStory, r.UserStory)
		first(&tc.Title, r.Title)
		first(&tc.Priority, r.Priority)

		if r.Type != "" && tc.Type == "" {
			t, err := testcase.ParseType(r.Type)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", r.Line, err)
			}
			tc.Type = t
		}
		if r.Category != "" && tc.Category == "" {
			c, err := testcase.ParseCategory(r.Category)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", r.Line, err)
			}
			tc.Category = c
		}
		tags = append(tags, splitTags(r.Tags)...)

		step := testcase.Step{
			Index:               i + 1,
			Description:         r.Description,
			ExpectedFingerprint: r.Expected,
			ElementID:           r.ElementID,
		}
		if r.StepIndex != "" {
			n, err := strconv.Atoi(r.StepIndex)
			if err != nil || n < 1 {
				return nil, fmt.Errorf("line %d: %w: %q", r.Line, testcase.ErrInvalidStepIndex, r.StepIndex)
			}
			step.Index = n
		}
		if r.Backend != "" {
			b, err := testcase.ParseType(r.Backend)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", r.Line, err)
			}
			step.Backend = b
		}
		if r.DependsOn != "" {
			d, err := strconv.Atoi(r.DependsOn)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w: %q", r.Line, testcase.ErrInvalidDependsOn, r.DependsOn)
			}
			step.DependsOn = &d
		}
		if r.Action != "" {
			var action testcase.JSONMap
			if err := json.Unmarshal([]byte(r.Action), &action); err != nil {
				return nil, fmt.Errorf("line %d: invalid action json: %w", r.Line, err)
			}
			step.Action = action
		}
		tc.Steps = append(tc.Steps, step)
	}

	tc.Tags = testcase.NewStringSet(tags...)
	sort.SliceStable(tc.Steps, func(i, j int) bool { return tc.Steps[i].Index < tc.Steps[j].Index })
	if err := tc.Validate(); err != nil {
		return nil, err
	}
	return tc, nil
}

func splitTags(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r == ';' || r == ',' })
}
