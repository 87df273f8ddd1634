package handlers

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/hairizuan-noorazman/testflow/logger"
	"github.com/hairizuan-noorazman/testflow/sheetsync"
)

// SyncHandler handles spreadsheet reconciliation requests.
type SyncHandler struct {
	coordinator *sheetsync.Coordinator
	logger      logger.Logger
}

// NewSyncHandler creates a new sync handler.
func NewSyncHandler(coordinator *sheetsync.Coordinator, log logger.Logger) *SyncHandler {
	return &SyncHandler{
		coordinator: coordinator,
		logger:      log,
	}
}

// SyncRequest is the JSON body of a sync. Sheets may also be posted as CSV
// or XLSX with the author in the query string.
type SyncRequest struct {
	Author string         `json:"author"`
	Rows   sheetsync.Rows `json:"rows"`
}

// Sync handles POST /api/v1/test-sets/{test_set_id}/sync.
func (h *SyncHandler) Sync(w http.ResponseWriter, r *http.Request) {
	snap := sheetsync.Snapshot{TestSetID: mux.Vars(r)["test_set_id"]}

	switch format := requestFormat(r); format {
	case formatJSON:
		var body SyncRequest
		if err := parseJSON(r, &body, h.logger); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		snap.Author = body.Author
		snap.Rows = body.Rows
	default:
		rows, _, err := readSheet(w, r, format)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		snap.Author = r.URL.Query().Get("author")
		snap.Rows = rows
	}

	result, err := h.coordinator.Reconcile(r.Context(), snap)
	if err != nil {
		respondServiceError(w, r, h.logger, err, "reconcile sheet")
		return
	}
	respondJSON(w, http.StatusCreated, result)
}

// Conflicts handles GET /api/v1/test-sets/{test_set_id}/sync/conflicts.
// The optional version parameter narrows the list to one version.
func (h *SyncHandler) Conflicts(w http.ResponseWriter, r *http.Request) {
	version := 0
	if raw := r.URL.Query().Get("version"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "invalid version: must be a positive integer")
			return
		}
		version = n
	}

	conflicts, err := h.coordinator.Conflicts(r.Context(), mux.Vars(r)["test_set_id"], version)
	if err != nil {
		respondServiceError(w, r, h.logger, err, "list conflicts")
		return
	}
	respondJSON(w, http.StatusOK, conflicts)
}

// State handles GET /api/v1/test-sets/{test_set_id}/sync/state.
func (h *SyncHandler) State(w http.ResponseWriter, r *http.Request) {
	state, err := h.coordinator.State(r.Context(), mux.Vars(r)["test_set_id"])
	if err != nil {
		respondServiceError(w, r, h.logger, err, "get sync state")
		return
	}
	respondJSON(w, http.StatusOK, state)
}
