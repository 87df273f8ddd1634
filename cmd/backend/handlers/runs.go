package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/hairizuan-noorazman/testflow/logger"
	"github.com/hairizuan-noorazman/testflow/router"
	"github.com/hairizuan-noorazman/testflow/testrun"
)

// EvidenceIndex lists stored evidence of a run.
type EvidenceIndex interface {
	List(ctx context.Context, runID uuid.UUID) ([]string, error)
	URL(ctx context.Context, handle string) (string, error)
}

// RunHandler handles run requests.
type RunHandler struct {
	router   *router.Router
	runs     testrun.Store
	evidence EvidenceIndex
	logger   logger.Logger
}

// NewRunHandler creates a new run handler. evidence may be nil.
func NewRunHandler(r *router.Router, runs testrun.Store, evidence EvidenceIndex, log logger.Logger) *RunHandler {
	return &RunHandler{
		router:   r,
		runs:     runs,
		evidence: evidence,
		logger:   log,
	}
}

// StartRunResponse is returned when a run is accepted.
type StartRunResponse struct {
	RunID uuid.UUID `json:"run_id"`
}

// EvidenceItem is one stored evidence record.
type EvidenceItem struct {
	Handle string `json:"handle"`
	URL    string `json:"url,omitempty"`
}

// Start handles POST /api/v1/runs.
func (h *RunHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req router.Request
	if err := parseJSON(r, &req, h.logger); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	runID, err := h.router.Start(r.Context(), req)
	if err != nil {
		respondServiceError(w, r, h.logger, err, "start run")
		return
	}
	respondJSON(w, http.StatusAccepted, StartRunResponse{RunID: runID})
}

// List handles GET /api/v1/runs.
func (h *RunHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)

	versionID, ok := parseQueryUUID(w, r, "version_id")
	if !ok {
		return
	}
	filter := testrun.RunFilter{
		VersionID: versionID,
		TestSetID: r.URL.Query().Get("test_set_id"),
	}
	if s := r.URL.Query().Get("status"); s != "" {
		status := testrun.Status(s)
		if !status.IsValid() {
			respondError(w, http.StatusBadRequest, testrun.ErrInvalidStatus.Error())
			return
		}
		filter.Status = status
	}

	runs, total, err := h.runs.List(r.Context(), filter, limit, offset)
	if err != nil {
		respondServiceError(w, r, h.logger, err, "list runs")
		return
	}
	respondJSON(w, http.StatusOK, NewPaginatedResponse(runs, int(total), limit, offset))
}

// Get handles GET /api/v1/runs/{run_id}.
func (h *RunHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDOrRespond(w, r, "run_id", "run")
	if !ok {
		return
	}

	run, err := h.runs.GetByID(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, h.logger, err, "get run")
		return
	}
	respondJSON(w, http.StatusOK, run)
}

// Cancel handles POST /api/v1/runs/{run_id}/cancel.
func (h *RunHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDOrRespond(w, r, "run_id", "run")
	if !ok {
		return
	}

	if err := h.router.Cancel(id); err != nil {
		respondServiceError(w, r, h.logger, err, "cancel run")
		return
	}
	respondJSON(w, http.StatusAccepted, SuccessResponse{Message: "cancellation requested"})
}

// Evidence handles GET /api/v1/runs/{run_id}/evidence.
func (h *RunHandler) Evidence(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDOrRespond(w, r, "run_id", "run")
	if !ok {
		return
	}
	if _, err := h.runs.GetByID(r.Context(), id); err != nil {
		respondServiceError(w, r, h.logger, err, "list evidence")
		return
	}

	items := []EvidenceItem{}
	if h.evidence != nil {
		handles, err := h.evidence.List(r.Context(), id)
		if err != nil {
			respondServiceError(w, r, h.logger, err, "list evidence")
			return
		}
		for _, handle := range handles {
			item := EvidenceItem{Handle: handle}
			if url, err := h.evidence.URL(r.Context(), handle); err == nil {
				item.URL = url
			}
			items = append(items, item)
		}
	}
	respondJSON(w, http.StatusOK, items)
}

// StepResults handles GET /api/v1/step-results.
func (h *RunHandler) StepResults(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)

	runID, ok := parseQueryUUID(w, r, "run_id")
	if !ok {
		return
	}
	versionID, ok := parseQueryUUID(w, r, "version_id")
	if !ok {
		return
	}
	filter := testrun.StepResultFilter{
		RunID:     runID,
		VersionID: versionID,
		CaseKey:   r.URL.Query().Get("case_key"),
		Limit:     limit,
		Offset:    offset,
	}
	if s := r.URL.Query().Get("status"); s != "" {
		status := testrun.Status(s)
		if !status.IsValid() {
			respondError(w, http.StatusBadRequest, testrun.ErrInvalidStatus.Error())
			return
		}
		filter.Status = status
	}

	results, err := h.runs.ListStepResults(r.Context(), filter)
	if err != nil {
		respondServiceError(w, r, h.logger, err, "list step results")
		return
	}
	respondJSON(w, http.StatusOK, results)
}
