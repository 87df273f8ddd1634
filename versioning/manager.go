package versioning

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/hairizuan-noorazman/testflow/internal/clock"
	"github.com/hairizuan-noorazman/testflow/internal/keylock"
	"github.com/hairizuan-noorazman/testflow/logger"
	"github.com/hairizuan-noorazman/testflow/metrics"
	"github.com/hairizuan-noorazman/testflow/testcase"
)

// DefaultSimilarityThreshold is the similarity to the previous version at
// which a commit is flagged as a probable accidental re-upload.
const DefaultSimilarityThreshold = 0.8

// Config tunes the version manager.
type Config struct {
	SimilarityThreshold    float64
	NearDuplicateThreshold float64
	SimilarityMaxRunes     int
	CommitRetries          int
}

// DefaultConfig returns the default manager configuration.
func DefaultConfig() Config {
	return Config{
		SimilarityThreshold:    DefaultSimilarityThreshold,
		NearDuplicateThreshold: DefaultNearDuplicateThreshold,
		SimilarityMaxRunes:     DefaultSimilarityMaxRunes,
		CommitRetries:          5,
	}
}

// CommitRequest is a candidate test set for a new version.
type CommitRequest struct {
	TestSetID string
	Author    string
	Source    Source
	Cases     []testcase.TestCase
	// Content is the raw uploaded document. When empty the canonical JSON of
	// Cases is hashed instead.
	Content []byte
	// ForceNew creates a version even when the content is unchanged.
	ForceNew bool
	// AfterInsert, when set, runs inside the insert transaction once the
	// version number is assigned. An error rolls the whole commit back.
	// It is not called for duplicate uploads.
	AfterInsert AfterInsertFunc
}

// CommitResult describes the outcome of a commit.
type CommitResult struct {
	Version *Version `json:"version"`
	// Duplicate is set when the content matched the latest version and no
	// new version was created.
	Duplicate  bool              `json:"duplicate"`
	Duplicates []DuplicateRecord `json:"duplicates"`
	Warning    string            `json:"warning,omitempty"`
}

// Snapshot is the latest committed state of a test set. Latest is nil for
// a test set with no versions.
type Snapshot struct {
	Latest *Version
	Cases  []testcase.TestCase
}

// BuildFunc produces a commit request from the latest snapshot. It runs
// while the test set is locked.
type BuildFunc func(snap *Snapshot) (*CommitRequest, error)

// Comparison is the diff between two arbitrary versions of a test set.
type Comparison struct {
	TestSetID  string  `json:"test_set_id"`
	From       int     `json:"from"`
	To         int     `json:"to"`
	Diff       Diff    `json:"diff"`
	Similarity float64 `json:"similarity"`
}

// Manager commits and reads test-set versions.
type Manager struct {
	store   Store
	cases   testcase.Store
	cfg     Config
	locks   *keylock.Locker
	clock   clock.Clock
	metrics *metrics.Collector
	logger  logger.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the clock used for timestamps.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(m *Manager) { m.metrics = c }
}

// NewManager creates a version manager.
func NewManager(store Store, cases testcase.Store, cfg Config, log logger.Logger, opts ...Option) *Manager {
	if cfg.CommitRetries < 1 {
		cfg.CommitRetries = 1
	}
	m := &Manager{
		store:  store,
		cases:  cases,
		cfg:    cfg,
		locks:  keylock.New(),
		clock:  clock.System{},
		logger: log,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Commit saves req as the next version of its test set.
func (m *Manager) Commit(ctx context.Context, req CommitRequest) (*CommitResult, error) {
	return m.CommitWith(ctx, req.TestSetID, func(*Snapshot) (*CommitRequest, error) {
		r := req
		return &r, nil
	})
}

// CommitWith locks the test set, hands the latest snapshot to build and
// commits the request it returns. Commits that lose a version-number race
// against another process are rebuilt and retried.
func (m *Manager) CommitWith(ctx context.Context, testSetID string, build BuildFunc) (*CommitResult, error) {
	if strings.TrimSpace(testSetID) == "" {
		return nil, &ValidationError{CaseIndex: -1, Err: ErrMissingTestSetID}
	}

	unlock := m.locks.Lock(testSetID)
	defer unlock()

	for attempt := 1; ; attempt++ {
		res, err := m.commitOnce(ctx, testSetID, build)
		if errors.Is(err, ErrConcurrentCommit) && attempt < m.cfg.CommitRetries {
			m.logger.Warn(ctx, "version number taken concurrently, retrying commit", map[string]interface{}{
				"test_set_id": testSetID,
				"attempt":     attempt,
			})
			continue
		}
		return res, err
	}
}

// Latest returns the latest snapshot of a test set.
func (m *Manager) Latest(ctx context.Context, testSetID string) (*Snapshot, error) {
	return m.snapshot(ctx, testSetID)
}

func (m *Manager) snapshot(ctx context.Context, testSetID string) (*Snapshot, error) {
	latest, err := m.store.Latest(ctx, testSetID)
	if errors.Is(err, ErrVersionNotFound) {
		return &Snapshot{}, nil
	}
	if err != nil {
		return nil, err
	}

	cases, err := m.loadCases(ctx, latest.ID)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Latest: latest, Cases: cases}, nil
}

func (m *Manager) loadCases(ctx context.Context, versionID uuid.UUID) ([]testcase.TestCase, error) {
	ptrs, err := m.cases.ListByVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	out := make([]testcase.TestCase, len(ptrs))
	for i, tc := range ptrs {
		out[i] = *tc
	}
	return out, nil
}

func (m *Manager) commitOnce(ctx context.Context, testSetID string, build BuildFunc) (*CommitResult, error) {
	snap, err := m.snapshot(ctx, testSetID)
	if err != nil {
		return nil, err
	}

	req, err := build(snap)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, errors.New("commit builder returned no request")
	}
	req.TestSetID = testSetID
	if req.Source == "" {
		req.Source = SourceUpload
	}

	cases, err := prepare(req)
	if err != nil {
		return nil, err
	}

	hash := contentHash(req, cases)
	if !req.ForceNew && snap.Latest != nil && snap.Latest.ContentHash == hash {
		return m.recordDuplicateUpload(ctx, req, snap.Latest, hash)
	}

	now := m.clock.Now()
	diff := ComputeDiff(snap.Cases, cases)
	modified := make(map[string]bool, len(diff.Modified))
	for _, k := range diff.Modified {
		modified[k] = true
	}
	for i := range cases {
		cases[i].Modified = modified[cases[i].CaseKey]
		cases[i].CreatedAt = now
	}

	var similarity float64
	var warning string
	if snap.Latest != nil {
		similarity = Similarity(setLines(snap.Cases), setLines(cases), m.cfg.SimilarityMaxRunes)
		if similarity >= m.cfg.SimilarityThreshold {
			warning = fmt.Sprintf("content is %.0f%% similar to version %d", similarity*100, snap.Latest.Number)
		}
	}

	dups := DetectDuplicates(cases, m.cfg.NearDuplicateThreshold, m.cfg.SimilarityMaxRunes)
	for i := range dups {
		dups[i].CreatedAt = now
	}

	v := &Version{
		TestSetID:         testSetID,
		Author:            req.Author,
		Source:            req.Source,
		ContentHash:       hash,
		Similarity:        similarity,
		SimilarityWarning: warning != "",
		CaseCount:         len(cases),
		Diff:              diff,
		CreatedAt:         now,
	}
	log := &UploadLog{
		TestSetID:   testSetID,
		ContentHash: hash,
		Author:      req.Author,
		Source:      req.Source,
		CreatedAt:   now,
	}

	if err := m.store.Insert(ctx, &CommitRecord{Version: v, Cases: cases, Duplicates: dups, Log: log, AfterInsert: req.AfterInsert}); err != nil {
		return nil, err
	}

	fields := map[string]interface{}{
		"test_set_id": testSetID,
		"number":      v.Number,
		"source":      string(v.Source),
		"added":       len(diff.Added),
		"removed":     len(diff.Removed),
		"modified":    len(diff.Modified),
		"duplicates":  len(dups),
	}
	if warning != "" {
		fields["similarity"] = similarity
		m.logger.Warn(ctx, "committed version is highly similar to its predecessor", fields)
		m.metrics.SimilarityWarning()
	} else {
		m.logger.Info(ctx, "version committed", fields)
	}
	m.metrics.VersionCommitted(string(v.Source))

	return &CommitResult{Version: v, Duplicates: dups, Warning: warning}, nil
}

func (m *Manager) recordDuplicateUpload(ctx context.Context, req *CommitRequest, latest *Version, hash string) (*CommitResult, error) {
	log := &UploadLog{
		TestSetID:     req.TestSetID,
		VersionNumber: latest.Number,
		ContentHash:   hash,
		Author:        req.Author,
		Source:        req.Source,
		Duplicate:     true,
		CreatedAt:     m.clock.Now(),
	}
	if err := m.store.AppendUploadLog(ctx, log); err != nil {
		return nil, err
	}

	m.logger.Info(ctx, "duplicate upload, reusing version", map[string]interface{}{
		"test_set_id": req.TestSetID,
		"number":      latest.Number,
		"author":      req.Author,
	})
	m.metrics.DuplicateUpload()

	return &CommitResult{
		Version:   latest,
		Duplicate: true,
		Warning:   fmt.Sprintf("identical to version %d", latest.Number),
	}, nil
}

// prepare validates the request and returns normalized copies of its cases
// with composite keys and content hashes filled in.
func prepare(req *CommitRequest) ([]testcase.TestCase, error) {
	if strings.TrimSpace(req.Author) == "" {
		return nil, &ValidationError{CaseIndex: -1, Err: ErrMissingAuthor}
	}
	if !req.Source.IsValid() {
		return nil, &ValidationError{CaseIndex: -1, Err: fmt.Errorf("%w: %q", ErrInvalidSource, req.Source)}
	}

	cases := make([]testcase.TestCase, len(req.Cases))
	keys := make(map[string]int, len(req.Cases))
	for i := range req.Cases {
		tc := req.Cases[i].Clone()
		tc.CaseKey = strings.TrimSpace(tc.CaseKey)
		tc.UserStory = strings.TrimSpace(tc.UserStory)
		tc.Tags = testcase.NewStringSet(tc.Tags...)
		tc.NormalizeSteps()
		if tc.CreatedBy == "" {
			tc.CreatedBy = req.Author
		}

		if err := tc.Validate(); err != nil {
			return nil, &ValidationError{CaseIndex: i, CaseKey: tc.CaseKey, Err: err}
		}
		if first, ok := keys[tc.CaseKey]; ok {
			return nil, &ValidationError{
				CaseIndex: i,
				CaseKey:   tc.CaseKey,
				Err:       fmt.Errorf("%w: first seen at case #%d", ErrDuplicateCaseKey, first+1),
			}
		}
		keys[tc.CaseKey] = i

		tc.CompositeKey = tc.ComputeCompositeKey()
		tc.ContentHash = tc.ComputeContentHash()
		cases[i] = tc
	}
	return cases, nil
}

func contentHash(req *CommitRequest, cases []testcase.TestCase) string {
	if len(req.Content) > 0 {
		return testcase.Hash(req.Content)
	}
	return testcase.Hash(testcase.CanonicalSetJSON(cases))
}

// ListVersions returns versions of a test set, newest first, and the total count.
func (m *Manager) ListVersions(ctx context.Context, testSetID string, limit, offset int) ([]*Version, int, error) {
	versions, err := m.store.List(ctx, testSetID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := m.store.Count(ctx, testSetID)
	if err != nil {
		return nil, 0, err
	}
	return versions, total, nil
}

// GetVersion returns a version by test set and number.
func (m *Manager) GetVersion(ctx context.Context, testSetID string, number int) (*Version, error) {
	return m.store.GetByNumber(ctx, testSetID, number)
}

// GetVersionByID returns a version by ID.
func (m *Manager) GetVersionByID(ctx context.Context, id uuid.UUID) (*Version, error) {
	return m.store.GetByID(ctx, id)
}

// Cases returns the cases of a version with their steps.
func (m *Manager) Cases(ctx context.Context, versionID uuid.UUID) ([]*testcase.TestCase, error) {
	return m.cases.ListByVersion(ctx, versionID)
}

// Duplicates returns the duplicate groups recorded for a version.
func (m *Manager) Duplicates(ctx context.Context, versionID uuid.UUID) ([]*DuplicateRecord, error) {
	return m.store.ListDuplicates(ctx, versionID)
}

// UploadLogs returns every recorded upload of a test set.
func (m *Manager) UploadLogs(ctx context.Context, testSetID string) ([]*UploadLog, error) {
	return m.store.ListUploadLogs(ctx, testSetID)
}

// Compare diffs two arbitrary versions of a test set.
func (m *Manager) Compare(ctx context.Context, testSetID string, from, to int) (*Comparison, error) {
	a, err := m.store.GetByNumber(ctx, testSetID, from)
	if err != nil {
		return nil, fmt.Errorf("version %d: %w", from, err)
	}
	b, err := m.store.GetByNumber(ctx, testSetID, to)
	if err != nil {
		return nil, fmt.Errorf("version %d: %w", to, err)
	}

	casesA, err := m.loadCases(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	casesB, err := m.loadCases(ctx, b.ID)
	if err != nil {
		return nil, err
	}

	return &Comparison{
		TestSetID:  testSetID,
		From:       from,
		To:         to,
		Diff:       ComputeDiff(casesA, casesB),
		Similarity: Similarity(setLines(casesA), setLines(casesB), m.cfg.SimilarityMaxRunes),
	}, nil
}
