package testcase

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	// ErrTestCaseNotFound is returned when a test case is not found.
	ErrTestCaseNotFound = errors.New("test case not found")

	// ErrStepNotFound is returned when a step is not found.
	ErrStepNotFound = errors.New("step not found")

	// ErrMissingCaseKey is returned when a test case has no stable identifier.
	ErrMissingCaseKey = errors.New("case key is required")

	// ErrMissingUserStory is returned when a test case has no user-story reference.
	ErrMissingUserStory = errors.New("user story is required")

	// ErrInvalidType is returned for an unknown backend type.
	ErrInvalidType = errors.New("invalid type")

	// ErrInvalidCategory is returned for an unknown category.
	ErrInvalidCategory = errors.New("invalid category")

	// ErrNoSteps is returned when a test case has no steps.
	ErrNoSteps = errors.New("test case has no steps")

	// ErrInvalidStepIndex is returned when step indexes are not 1..n.
	ErrInvalidStepIndex = errors.New("step indexes must be contiguous from 1")

	// ErrInvalidDependsOn is returned when depends_on does not name another step of the same case.
	ErrInvalidDependsOn = errors.New("depends_on must reference another step of the same case")

	// ErrEmptyStepDescription is returned when a step has no description.
	ErrEmptyStepDescription = errors.New("step description is required")
)

// Type is the execution backend a test case or step targets.
type Type string

const (
	TypeUI       Type = "ui"
	TypeAPI      Type = "api"
	TypeMobile   Type = "mobile"
	TypeDatabase Type = "database"
)

// Types lists every backend type in rule-table order.
var Types = []Type{TypeUI, TypeAPI, TypeMobile, TypeDatabase}

// IsValid checks if the type is one of the known backends.
func (t Type) IsValid() bool {
	switch t {
	case TypeUI, TypeAPI, TypeMobile, TypeDatabase:
		return true
	default:
		return false
	}
}

// ParseType parses a case-insensitive type name. Empty input returns "".
func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	if t == "" || t.IsValid() {
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidType, s)
}

// Category classifies the intent of a test case.
type Category string

const (
	CategoryPositive Category = "positive"
	CategoryNegative Category = "negative"
	CategoryBoundary Category = "boundary"
)

// IsValid checks if the category is known.
func (c Category) IsValid() bool {
	switch c {
	case CategoryPositive, CategoryNegative, CategoryBoundary:
		return true
	default:
		return false
	}
}

// ParseCategory parses a case-insensitive category. Empty input returns "".
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if c == "" || c.IsValid() {
		return c, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidCategory, s)
}

// TestCase is one case of a committed test-set version. Rows are never
// updated after the owning version is saved.
type TestCase struct {
	ID               uuid.UUID  `json:"id" gorm:"type:char(36);primaryKey"`
	VersionID        uuid.UUID  `json:"version_id" gorm:"type:char(36);not null;index:idx_test_cases_version"`
	TestSetID        string     `json:"test_set_id" gorm:"type:varchar(191);not null;index:idx_test_cases_identity"`
	VersionNumber    int        `json:"version_number" gorm:"not null"`
	CaseKey          string     `json:"case_key" gorm:"type:varchar(191);not null;index:idx_test_cases_identity"`
	UserStory        string     `json:"user_story" gorm:"type:varchar(191);not null"`
	Title            string     `json:"title" gorm:"type:varchar(512)"`
	Type             Type       `json:"type,omitempty" gorm:"type:varchar(20)"`
	Category         Category   `json:"category,omitempty" gorm:"type:varchar(20)"`
	Priority         string     `json:"priority,omitempty" gorm:"type:varchar(20)"`
	Tags             StringSet  `json:"tags" gorm:"type:json"`
	Steps            []Step     `json:"steps" gorm:"foreignKey:TestCaseID;constraint:OnDelete:CASCADE"`
	CompositeKey     string     `json:"composite_key" gorm:"type:varchar(512);not null"`
	ContentHash      string     `json:"content_hash" gorm:"type:char(64);not null"`
	DuplicateGroup   *uuid.UUID `json:"duplicate_group,omitempty" gorm:"type:char(36);index:idx_test_cases_duplicate_group"`
	DuplicateComment string     `json:"duplicate_comment,omitempty" gorm:"type:text"`
	Modified         bool       `json:"modified"`
	CreatedBy        string     `json:"created_by" gorm:"type:varchar(191);not null"`
	CreatedAt        time.Time  `json:"created_at"`
}

// Step is a single ordered instruction within a test case.
type Step struct {
	ID                  uuid.UUID `json:"id" gorm:"type:char(36);primaryKey"`
	TestCaseID          uuid.UUID `json:"test_case_id" gorm:"type:char(36);not null;index:idx_test_steps_case"`
	Index               int       `json:"index" gorm:"column:step_index;not null"`
	Description         string    `json:"description" gorm:"type:text;not null"`
	Action              JSONMap   `json:"action,omitempty" gorm:"type:json"`
	Backend             Type      `json:"backend,omitempty" gorm:"type:varchar(20)"`
	DependsOn           *int      `json:"depends_on,omitempty"`
	ExpectedFingerprint string    `json:"expected_fingerprint,omitempty" gorm:"type:varchar(128)"`
	ElementID           string    `json:"element_id,omitempty" gorm:"type:varchar(191)"`
}

// TableName pins the table name for Step.
func (Step) TableName() string { return "test_steps" }

// BeforeCreate hook to generate UUID before creating a new test case
func (tc *TestCase) BeforeCreate(tx *gorm.DB) error {
	if tc.ID == uuid.Nil {
		tc.ID = uuid.New()
	}
	return nil
}

// BeforeCreate hook to generate UUID before creating a new step
func (s *Step) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// NormalizeSteps orders steps by index. When no step carries an index the
// input order is used and indexes 1..n are assigned.
func (tc *TestCase) NormalizeSteps() {
	unindexed := true
	for _, s := range tc.Steps {
		if s.Index != 0 {
			unindexed = false
			break
		}
	}
	if unindexed {
		for i := range tc.Steps {
			tc.Steps[i].Index = i + 1
		}
		return
	}
	sort.SliceStable(tc.Steps, func(i, j int) bool { return tc.Steps[i].Index < tc.Steps[j].Index })
}

// Validate checks identifiers, enums and step structure. Dependency cycles
// are not rejected here; they are detected when a run builds its graph.
func (tc *TestCase) Validate() error {
	if strings.TrimSpace(tc.CaseKey) == "" {
		return ErrMissingCaseKey
	}
	if strings.TrimSpace(tc.UserStory) == "" {
		return ErrMissingUserStory
	}
	if tc.Type != "" && !tc.Type.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidType, tc.Type)
	}
	if tc.Category != "" && !tc.Category.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidCategory, tc.Category)
	}
	if len(tc.Steps) == 0 {
		return ErrNoSteps
	}

	for i, s := range tc.Steps {
		if s.Index != i+1 {
			return fmt.Errorf("%w: got %d at position %d", ErrInvalidStepIndex, s.Index, i+1)
		}
		if strings.TrimSpace(s.Description) == "" {
			return fmt.Errorf("%w: step %d", ErrEmptyStepDescription, s.Index)
		}
		if s.Backend != "" && !s.Backend.IsValid() {
			return fmt.Errorf("%w: step %d backend %q", ErrInvalidType, s.Index, s.Backend)
		}
		if s.DependsOn != nil {
			d := *s.DependsOn
			if d == s.Index || d < 1 || d > len(tc.Steps) {
				return fmt.Errorf("%w: step %d depends on %d", ErrInvalidDependsOn, s.Index, d)
			}
		}
	}
	return nil
}

// StepByIndex returns the step with the given index.
func (tc *TestCase) StepByIndex(index int) (*Step, bool) {
	for i := range tc.Steps {
		if tc.Steps[i].Index == index {
			return &tc.Steps[i], true
		}
	}
	return nil, false
}

// Clone returns a copy of the case content without persisted identifiers,
// ready to be committed into a new version.
func (tc *TestCase) Clone() TestCase {
	out := TestCase{
		CaseKey:   tc.CaseKey,
		UserStory: tc.UserStory,
		Title:     tc.Title,
		Type:      tc.Type,
		Category:  tc.Category,
		Priority:  tc.Priority,
		Tags:      append(StringSet(nil), tc.Tags...),
		CreatedBy: tc.CreatedBy,
	}
	out.Steps = make([]Step, len(tc.Steps))
	for i, s := range tc.Steps {
		cp := Step{
			Index:               s.Index,
			Description:         s.Description,
			Backend:             s.Backend,
			ExpectedFingerprint: s.ExpectedFingerprint,
			ElementID:           s.ElementID,
		}
		if s.DependsOn != nil {
			d := *s.DependsOn
			cp.DependsOn = &d
		}
		if s.Action != nil {
			cp.Action = make(JSONMap, len(s.Action))
			for k, v := range s.Action {
				cp.Action[k] = v
			}
		}
		out.Steps[i] = cp
	}
	return out
}
