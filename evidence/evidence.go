// Package evidence records what happened on each step attempt. A sink
// returns an opaque handle that step results store for later retrieval.
package evidence

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrEvidenceNotFound is returned when a handle does not resolve.
var ErrEvidenceNotFound = errors.New("evidence not found")

// Record describes one attempt.
type Record struct {
	RunID        uuid.UUID `json:"run_id"`
	StepID       uuid.UUID `json:"step_id"`
	CaseKey      string    `json:"case_key"`
	StepIndex    int       `json:"step_index"`
	Attempt      int       `json:"attempt"`
	Backend      string    `json:"backend"`
	Passed       bool      `json:"passed"`
	FailureKind  string    `json:"failure_kind,omitempty"`
	Message      string    `json:"message,omitempty"`
	Selector     string    `json:"selector,omitempty"`
	CapturedAt   time.Time `json:"captured_at"`
	ArtifactKey  string    `json:"artifact_key,omitempty"`
	ArtifactType string    `json:"artifact_type,omitempty"`

	Artifact []byte `json:"-"`
}

// Sink stores attempt records.
type Sink interface {
	Capture(ctx context.Context, rec Record) (string, error)
}

// NopSink discards records.
type NopSink struct{}

// Capture returns an empty handle.
func (NopSink) Capture(ctx context.Context, rec Record) (string, error) {
	return "", nil
}

// MemorySink keeps records in memory.
type MemorySink struct {
	mu      sync.Mutex
	records []Record
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Capture appends the record and returns its position as the handle.
func (m *MemorySink) Capture(ctx context.Context, rec Record) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return handleFor(rec) + ".json", nil
}

// Records returns a copy of everything captured.
func (m *MemorySink) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records...)
}
