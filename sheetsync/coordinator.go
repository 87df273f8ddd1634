// Package sheetsync keeps an external spreadsheet and the versioned test
// sets in step through a three-way reconcile against the last synced sheet.
package sheetsync

import (
	"context"
	"errors"
	"strings"

	"github.com/hairizuan-noorazman/testflow/internal/clock"
	"github.com/hairizuan-noorazman/testflow/internal/keylock"
	"github.com/hairizuan-noorazman/testflow/logger"
	"github.com/hairizuan-noorazman/testflow/metrics"
	"github.com/hairizuan-noorazman/testflow/testcase"
	"github.com/hairizuan-noorazman/testflow/versioning"
	"gorm.io/gorm"
)

// Snapshot is the full content of the external sheet for one test set.
type Snapshot struct {
	TestSetID string `json:"test_set_id"`
	Author    string `json:"author"`
	Rows      Rows   `json:"rows"`
}

// Result is the outcome of a reconcile.
type Result struct {
	Version        *versioning.Version   `json:"version"`
	Conflicts      []Conflict            `json:"conflicts"`
	Classification map[string]ChangeKind `json:"classification"`
	Warning        string                `json:"warning,omitempty"`
}

// Committer commits a version built under the test set's lock.
type Committer interface {
	CommitWith(ctx context.Context, testSetID string, build versioning.BuildFunc) (*versioning.CommitResult, error)
}

// Coordinator reconciles sheets with versioned test sets.
type Coordinator struct {
	versions Committer
	store    Store
	locks    *keylock.Locker
	clock    clock.Clock
	metrics  *metrics.Collector
	logger   logger.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock overrides the clock used for conflict timestamps.
func WithClock(c clock.Clock) Option {
	return func(co *Coordinator) { co.clock = c }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(co *Coordinator) { co.metrics = m }
}

// NewCoordinator creates a coordinator.
func NewCoordinator(versions Committer, store Store, log logger.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		versions: versions,
		store:    store,
		locks:    keylock.New(),
		clock:    clock.System{},
		logger:   log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Reconcile merges the sheet with the latest version and commits the result
// as a new version, even when nothing changed. Conflicts are resolved
// deterministically, returned, and persisted in the same transaction as the
// version together with the new sync state.
func (c *Coordinator) Reconcile(ctx context.Context, snap Snapshot) (*Result, error) {
	if strings.TrimSpace(snap.TestSetID) == "" {
		return nil, &versioning.ValidationError{CaseIndex: -1, Err: versioning.ErrMissingTestSetID}
	}
	if strings.TrimSpace(snap.Author) == "" {
		return nil, &versioning.ValidationError{CaseIndex: -1, Err: versioning.ErrMissingAuthor}
	}
	external, err := groupCases(snap.Rows)
	if err != nil {
		return nil, &versioning.ValidationError{CaseIndex: -1, Err: err}
	}

	unlock := c.locks.Lock(snap.TestSetID)
	defer unlock()

	var baseRows Rows
	state, err := c.store.GetState(ctx, snap.TestSetID)
	switch {
	case errors.Is(err, ErrStateNotFound):
	case err != nil:
		return nil, err
	default:
		baseRows = state.Snapshot
	}
	base, err := groupCases(baseRows)
	if err != nil {
		return nil, err
	}

	rows := snap.Rows
	if rows == nil {
		rows = Rows{}
	}

	var merged mergeResult
	commit, err := c.versions.CommitWith(ctx, snap.TestSetID, func(latest *versioning.Snapshot) (*versioning.CommitRequest, error) {
		merged = merge(external, base, latest.Cases)
		req := &versioning.CommitRequest{
			Author:   snap.Author,
			Source:   versioning.SourceSync,
			Cases:    merged.Cases,
			Content:  testcase.CanonicalSetJSON(merged.Cases),
			ForceNew: true,
		}
		req.AfterInsert = func(ctx context.Context, tx *gorm.DB, v *versioning.Version) error {
			return c.persist(ctx, c.store.WithTx(tx), snap.TestSetID, v.Number, merged.Conflicts, rows)
		}
		return req, nil
	})
	if err != nil {
		c.logger.Error(ctx, "failed to commit reconciled test set", map[string]interface{}{
			"error":       err.Error(),
			"test_set_id": snap.TestSetID,
		})
		return nil, err
	}
	version := commit.Version
	for _, cf := range merged.Conflicts {
		c.metrics.SyncConflict(string(cf.Kind))
	}

	fields := map[string]interface{}{
		"test_set_id": snap.TestSetID,
		"number":      version.Number,
		"cases":       len(merged.Cases),
		"conflicts":   len(merged.Conflicts),
	}
	if len(merged.Conflicts) > 0 {
		c.logger.Warn(ctx, "sync reconciled with conflicts", fields)
	} else {
		c.logger.Info(ctx, "sync reconciled", fields)
	}

	return &Result{
		Version:        version,
		Conflicts:      merged.Conflicts,
		Classification: merged.Classification,
		Warning:        commit.Warning,
	}, nil
}

// persist records the conflicts and the new sync state for version number.
// It runs inside the version's insert transaction.
func (c *Coordinator) persist(ctx context.Context, store Store, testSetID string, number int, conflicts []Conflict, rows Rows) error {
	if len(conflicts) > 0 {
		now := c.clock.Now().UTC()
		records := make([]ConflictRecord, len(conflicts))
		for i, cf := range conflicts {
			records[i] = ConflictRecord{
				TestSetID:     testSetID,
				VersionNumber: number,
				CaseKey:       cf.CaseKey,
				Kind:          cf.Kind,
				Resolution:    cf.Resolution,
				Fields:        testcase.NewStringSet(cf.Fields...),
				Detail:        cf.Detail,
				CreatedAt:     now,
			}
		}
		if err := store.AppendConflicts(ctx, records); err != nil {
			return err
		}
	}
	return store.SaveState(ctx, &SyncState{
		TestSetID:     testSetID,
		VersionNumber: number,
		Snapshot:      rows,
	})
}

// Conflicts lists the recorded conflicts of a test set. A zero versionNumber
// lists every version.
func (c *Coordinator) Conflicts(ctx context.Context, testSetID string, versionNumber int) ([]*ConflictRecord, error) {
	return c.store.ListConflicts(ctx, testSetID, versionNumber)
}

// State returns the last synced sheet of a test set.
func (c *Coordinator) State(ctx context.Context, testSetID string) (*SyncState, error) {
	return c.store.GetState(ctx, testSetID)
}
