package evidence

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/google/uuid"
	"github.com/hairizuan-noorazman/testflow/logger"
	"github.com/hairizuan-noorazman/testflow/storage"
)

// BlobSink writes each record as JSON, and its raw artifact alongside, to
// blob storage under runs/<run>/steps/<step>/attempt-<n>.
type BlobSink struct {
	store  storage.BlobStorage
	logger logger.Logger
}

// NewBlobSink creates a sink over the given storage.
func NewBlobSink(store storage.BlobStorage, log logger.Logger) *BlobSink {
	return &BlobSink{
		store:  store,
		logger: log,
	}
}

func handleFor(rec Record) string {
	return fmt.Sprintf("runs/%s/steps/%s/attempt-%d", rec.RunID, rec.StepID, rec.Attempt)
}

// Capture stores the record and returns the key of its JSON document.
func (s *BlobSink) Capture(ctx context.Context, rec Record) (string, error) {
	base := handleFor(rec)

	if len(rec.Artifact) > 0 {
		rec.ArtifactKey = base + ".artifact" + extension(rec.ArtifactType)
		if err := s.store.Upload(ctx, rec.ArtifactKey, bytes.NewReader(rec.Artifact), rec.ArtifactType); err != nil {
			s.logger.Error(ctx, "failed to store evidence artifact", map[string]interface{}{
				"error":  err.Error(),
				"run_id": rec.RunID.String(),
				"key":    rec.ArtifactKey,
			})
			return "", fmt.Errorf("failed to store artifact: %w", err)
		}
	}

	doc, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("failed to encode evidence: %w", err)
	}
	key := base + ".json"
	if err := s.store.Upload(ctx, key, bytes.NewReader(doc), "application/json"); err != nil {
		s.logger.Error(ctx, "failed to store evidence", map[string]interface{}{
			"error":  err.Error(),
			"run_id": rec.RunID.String(),
			"key":    key,
		})
		return "", fmt.Errorf("failed to store evidence: %w", err)
	}
	return key, nil
}

// Load reads a record back by its handle. The artifact is not loaded.
func (s *BlobSink) Load(ctx context.Context, handle string) (*Record, error) {
	rc, err := s.store.Download(ctx, handle)
	if err != nil {
		if errors.Is(err, storage.ErrFileNotFound) {
			return nil, ErrEvidenceNotFound
		}
		return nil, err
	}
	defer rc.Close()

	b, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read evidence: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode evidence: %w", err)
	}
	return &rec, nil
}

// List returns the handles of every record captured for a run.
func (s *BlobSink) List(ctx context.Context, runID uuid.UUID) ([]string, error) {
	keys, err := s.store.List(ctx, fmt.Sprintf("runs/%s/", runID))
	if err != nil {
		return nil, err
	}
	var out []string
	for _, k := range keys {
		if strings.HasSuffix(k, ".json") && !strings.Contains(k, ".artifact") {
			out = append(out, k)
		}
	}
	return out, nil
}

// URL returns a fetchable location for a handle.
func (s *BlobSink) URL(ctx context.Context, handle string) (string, error) {
	u, err := s.store.URL(ctx, handle)
	if errors.Is(err, storage.ErrFileNotFound) {
		return "", ErrEvidenceNotFound
	}
	return u, err
}

func extension(contentType string) string {
	switch {
	case contentType == "":
		return ".bin"
	case strings.HasPrefix(contentType, "application/json"):
		return ".json"
	case contentType == "image/png":
		return ".png"
	}
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}
