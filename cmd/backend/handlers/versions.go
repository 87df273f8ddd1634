package handlers

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/hairizuan-noorazman/testflow/logger"
	"github.com/hairizuan-noorazman/testflow/sheetsync"
	"github.com/hairizuan-noorazman/testflow/testcase"
	"github.com/hairizuan-noorazman/testflow/versioning"
)

// VersionHandler handles test-set version requests.
type VersionHandler struct {
	manager *versioning.Manager
	logger  logger.Logger
}

// NewVersionHandler creates a new version handler.
func NewVersionHandler(manager *versioning.Manager, log logger.Logger) *VersionHandler {
	return &VersionHandler{
		manager: manager,
		logger:  log,
	}
}

// CommitRequest is the JSON body of a version commit.
type CommitRequest struct {
	Author string              `json:"author"`
	Source versioning.Source   `json:"source"`
	Cases  []testcase.TestCase `json:"cases"`
}

// VersionDetail is a version with its cases.
type VersionDetail struct {
	*versioning.Version
	Cases []*testcase.TestCase `json:"cases"`
}

// Commit handles POST /api/v1/test-sets/{test_set_id}/versions.
// JSON bodies carry the cases; CSV and XLSX bodies are parsed as a sheet
// with the author taken from the author query parameter.
func (h *VersionHandler) Commit(w http.ResponseWriter, r *http.Request) {
	testSetID := mux.Vars(r)["test_set_id"]

	req := versioning.CommitRequest{TestSetID: testSetID}
	switch format := requestFormat(r); format {
	case formatJSON:
		var body CommitRequest
		if err := parseJSON(r, &body, h.logger); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		req.Author = body.Author
		req.Source = body.Source
		req.Cases = body.Cases
	default:
		rows, raw, err := readSheet(w, r, format)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		cases, err := sheetsync.CasesFromRows(rows)
		if err != nil {
			respondServiceError(w, r, h.logger, err, "parse sheet")
			return
		}
		req.Author = r.URL.Query().Get("author")
		req.Source = versioning.SourceUpload
		req.Cases = cases
		req.Content = raw
	}
	if req.Source == "" {
		req.Source = versioning.SourceUpload
	}

	result, err := h.manager.Commit(r.Context(), req)
	if err != nil {
		respondServiceError(w, r, h.logger, err, "commit version")
		return
	}

	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	respondJSON(w, status, result)
}

// List handles GET /api/v1/test-sets/{test_set_id}/versions.
func (h *VersionHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)

	versions, total, err := h.manager.ListVersions(r.Context(), mux.Vars(r)["test_set_id"], limit, offset)
	if err != nil {
		respondServiceError(w, r, h.logger, err, "list versions")
		return
	}
	respondJSON(w, http.StatusOK, NewPaginatedResponse(versions, total, limit, offset))
}

// Get handles GET /api/v1/test-sets/{test_set_id}/versions/{number}.
func (h *VersionHandler) Get(w http.ResponseWriter, r *http.Request) {
	number, ok := parseIntOrRespond(w, r, "number")
	if !ok {
		return
	}

	v, err := h.manager.GetVersion(r.Context(), mux.Vars(r)["test_set_id"], number)
	if err != nil {
		respondServiceError(w, r, h.logger, err, "get version")
		return
	}
	cases, err := h.manager.Cases(r.Context(), v.ID)
	if err != nil {
		respondServiceError(w, r, h.logger, err, "get version")
		return
	}
	respondJSON(w, http.StatusOK, VersionDetail{Version: v, Cases: cases})
}

// Diff handles GET /api/v1/test-sets/{test_set_id}/versions/{number}/diff.
// Without against the version is compared with its predecessor.
func (h *VersionHandler) Diff(w http.ResponseWriter, r *http.Request) {
	number, ok := parseIntOrRespond(w, r, "number")
	if !ok {
		return
	}
	testSetID := mux.Vars(r)["test_set_id"]

	against := number - 1
	if raw := r.URL.Query().Get("against"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "invalid against: must be a positive integer")
			return
		}
		against = n
	}

	if against < 1 {
		v, err := h.manager.GetVersion(r.Context(), testSetID, number)
		if err != nil {
			respondServiceError(w, r, h.logger, err, "diff versions")
			return
		}
		respondJSON(w, http.StatusOK, versioning.Comparison{
			TestSetID: testSetID,
			To:        number,
			Diff:      v.Diff,
		})
		return
	}

	cmp, err := h.manager.Compare(r.Context(), testSetID, against, number)
	if err != nil {
		respondServiceError(w, r, h.logger, err, "diff versions")
		return
	}
	respondJSON(w, http.StatusOK, cmp)
}

// Duplicates handles GET /api/v1/test-sets/{test_set_id}/versions/{number}/duplicates.
func (h *VersionHandler) Duplicates(w http.ResponseWriter, r *http.Request) {
	number, ok := parseIntOrRespond(w, r, "number")
	if !ok {
		return
	}

	v, err := h.manager.GetVersion(r.Context(), mux.Vars(r)["test_set_id"], number)
	if err != nil {
		respondServiceError(w, r, h.logger, err, "list duplicates")
		return
	}
	dups, err := h.manager.Duplicates(r.Context(), v.ID)
	if err != nil {
		respondServiceError(w, r, h.logger, err, "list duplicates")
		return
	}
	respondJSON(w, http.StatusOK, dups)
}

// Uploads handles GET /api/v1/test-sets/{test_set_id}/uploads.
func (h *VersionHandler) Uploads(w http.ResponseWriter, r *http.Request) {
	logs, err := h.manager.UploadLogs(r.Context(), mux.Vars(r)["test_set_id"])
	if err != nil {
		respondServiceError(w, r, h.logger, err, "list uploads")
		return
	}
	respondJSON(w, http.StatusOK, logs)
}
