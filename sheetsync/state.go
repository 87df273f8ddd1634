package sheetsync

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/hairizuan-noorazman/testflow/testcase"
	"gorm.io/gorm"
)

// ErrStateNotFound is returned when a test set was never synced.
var ErrStateNotFound = errors.New("sync state not found")

// SyncState is the sheet content last reconciled for a test set. It is the
// base of the next three-way reconcile.
type SyncState struct {
	ID            uuid.UUID `json:"id" gorm:"type:char(36);primaryKey"`
	TestSetID     string    `json:"test_set_id" gorm:"type:varchar(191);not null;uniqueIndex:idx_sync_states_identity"`
	VersionNumber int       `json:"version_number" gorm:"not null"`
	Snapshot      Rows      `json:"snapshot" gorm:"type:json"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TableName pins the table name for SyncState.
func (SyncState) TableName() string { return "sync_states" }

// BeforeCreate hook to generate UUID before creating a new sync state
func (s *SyncState) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// ConflictRecord is a persisted Conflict.
type ConflictRecord struct {
	ID            uuid.UUID          `json:"id" gorm:"type:char(36);primaryKey"`
	TestSetID     string             `json:"test_set_id" gorm:"type:varchar(191);not null;index:idx_sync_conflicts_identity,priority:1"`
	VersionNumber int                `json:"version_number" gorm:"not null;index:idx_sync_conflicts_identity,priority:2"`
	CaseKey       string             `json:"case_key" gorm:"type:varchar(191);not null"`
	Kind          ConflictKind       `json:"kind" gorm:"type:varchar(32);not null"`
	Resolution    Resolution         `json:"resolution" gorm:"type:varchar(32);not null"`
	Fields        testcase.StringSet `json:"fields" gorm:"type:json"`
	Detail        string             `json:"detail,omitempty" gorm:"type:text"`
	CreatedAt     time.Time          `json:"created_at"`
}

// TableName pins the table name for ConflictRecord.
func (ConflictRecord) TableName() string { return "sync_conflicts" }

// BeforeCreate hook to generate UUID before creating a new conflict record
func (c *ConflictRecord) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}
