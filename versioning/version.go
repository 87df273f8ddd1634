// Package versioning keeps the append-only history of each test set.
package versioning

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hairizuan-noorazman/testflow/testcase"
	"gorm.io/gorm"
)

var (
	// ErrVersionNotFound is returned when a version is not found.
	ErrVersionNotFound = errors.New("version not found")

	// ErrConcurrentCommit is returned when another writer claimed the next version number first.
	ErrConcurrentCommit = errors.New("concurrent commit for the same test set")

	// ErrMissingTestSetID is returned when a commit names no test set.
	ErrMissingTestSetID = errors.New("test_set_id is required")

	// ErrMissingAuthor is returned when a commit has no author.
	ErrMissingAuthor = errors.New("author is required")

	// ErrInvalidSource is returned for an unknown commit source.
	ErrInvalidSource = errors.New("invalid source")

	// ErrDuplicateCaseKey is returned when two cases of one commit share an identifier.
	ErrDuplicateCaseKey = errors.New("case key appears more than once")
)

// ValidationError describes why a commit was rejected. CaseIndex is -1
// for request-level problems.
type ValidationError struct {
	CaseIndex int
	CaseKey   string
	Err       error
}

func (e *ValidationError) Error() string {
	if e.CaseIndex < 0 {
		return fmt.Sprintf("invalid commit: %v", e.Err)
	}
	return fmt.Sprintf("invalid test case #%d (%q): %v", e.CaseIndex+1, e.CaseKey, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Source records how a version was produced.
type Source string

const (
	SourceUpload Source = "upload"
	SourceEdit   Source = "edit"
	SourceSync   Source = "sync"
)

// IsValid checks if the source is known.
func (s Source) IsValid() bool {
	switch s {
	case SourceUpload, SourceEdit, SourceSync:
		return true
	default:
		return false
	}
}

// Diff partitions case keys against the preceding version. Added, Removed
// and Unchanged are disjoint; Modified is the subset of Unchanged whose
// content changed.
type Diff struct {
	Added     []string `json:"added"`
	Removed   []string `json:"removed"`
	Unchanged []string `json:"unchanged"`
	Modified  []string `json:"modified"`
}

// Value implements driver.Valuer.
func (d Diff) Value() (driver.Value, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (d *Diff) Scan(value interface{}) error {
	var b []byte
	switch v := value.(type) {
	case nil:
		*d = Diff{}
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return errors.New("failed to scan Diff: unsupported type")
	}
	return json.Unmarshal(b, d)
}

// Version is one immutable snapshot of a test set.
type Version struct {
	ID                uuid.UUID `json:"id" gorm:"type:char(36);primaryKey"`
	TestSetID         string    `json:"test_set_id" gorm:"type:varchar(191);not null;uniqueIndex:idx_versions_identity_number,priority:1"`
	Number            int       `json:"number" gorm:"not null;uniqueIndex:idx_versions_identity_number,priority:2"`
	Author            string    `json:"author" gorm:"type:varchar(191);not null"`
	Source            Source    `json:"source" gorm:"type:varchar(20);not null"`
	ContentHash       string    `json:"content_hash" gorm:"type:char(64);not null;index:idx_versions_content_hash"`
	Similarity        float64   `json:"similarity"`
	SimilarityWarning bool      `json:"similarity_warning"`
	CaseCount         int       `json:"case_count"`
	Diff              Diff      `json:"diff" gorm:"type:json"`
	CreatedAt         time.Time `json:"created_at"`
}

// BeforeCreate hook to generate UUID before creating a new version
func (v *Version) BeforeCreate(tx *gorm.DB) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	return nil
}

// DuplicateKind distinguishes identical composite keys from similar step text.
type DuplicateKind string

const (
	DuplicateExact DuplicateKind = "exact"
	DuplicateNear  DuplicateKind = "near"
)

// DuplicateRecord groups cases of one version that duplicate each other.
// Members are annotated, never merged or dropped.
type DuplicateRecord struct {
	ID           uuid.UUID          `json:"id" gorm:"type:char(36);primaryKey"`
	VersionID    uuid.UUID          `json:"version_id" gorm:"type:char(36);not null;index:idx_duplicate_records_version"`
	GroupID      uuid.UUID          `json:"group_id" gorm:"type:char(36);not null"`
	Kind         DuplicateKind      `json:"kind" gorm:"type:varchar(10);not null"`
	CompositeKey string             `json:"composite_key,omitempty" gorm:"type:varchar(512)"`
	CaseKeys     testcase.StringSet `json:"case_keys" gorm:"type:json"`
	Similarity   float64            `json:"similarity"`
	Comment      string             `json:"comment" gorm:"type:text"`
	CreatedAt    time.Time          `json:"created_at"`
}

// BeforeCreate hook to generate UUID before creating a new duplicate record
func (d *DuplicateRecord) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}

// UploadLog records every commit attempt that reached the store.
type UploadLog struct {
	ID            uuid.UUID `json:"id" gorm:"type:char(36);primaryKey"`
	TestSetID     string    `json:"test_set_id" gorm:"type:varchar(191);not null;index:idx_upload_logs_identity"`
	VersionNumber int       `json:"version_number" gorm:"not null"`
	ContentHash   string    `json:"content_hash" gorm:"type:char(64);not null"`
	Author        string    `json:"author" gorm:"type:varchar(191);not null"`
	Source        Source    `json:"source" gorm:"type:varchar(20);not null"`
	Duplicate     bool      `json:"duplicate"`
	CreatedAt     time.Time `json:"created_at"`
}

// BeforeCreate hook to generate UUID before creating a new upload log
func (l *UploadLog) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}
