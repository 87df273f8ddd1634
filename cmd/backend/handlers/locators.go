package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/hairizuan-noorazman/testflow/locator"
	"github.com/hairizuan-noorazman/testflow/logger"
)

// LocatorHandler handles locator repository requests.
type LocatorHandler struct {
	store  locator.Store
	logger logger.Logger
}

// NewLocatorHandler creates a new locator handler.
func NewLocatorHandler(store locator.Store, log logger.Logger) *LocatorHandler {
	return &LocatorHandler{
		store:  store,
		logger: log,
	}
}

// RecordLocatorRequest is the body of a manual locator update.
type RecordLocatorRequest struct {
	Strategy locator.Strategy `json:"strategy"`
	Value    string           `json:"value"`
}

// LocatorResponse is the active locator and its history.
type LocatorResponse struct {
	Active  *locator.Locator   `json:"active"`
	History []*locator.Locator `json:"history"`
}

// Get handles GET /api/v1/locators/{element_id}.
func (h *LocatorHandler) Get(w http.ResponseWriter, r *http.Request) {
	elementID := mux.Vars(r)["element_id"]

	active, err := h.store.ResolveLocator(r.Context(), elementID, "")
	if err != nil {
		respondServiceError(w, r, h.logger, err, "get locator")
		return
	}
	history, err := h.store.History(r.Context(), elementID)
	if err != nil {
		respondServiceError(w, r, h.logger, err, "get locator")
		return
	}
	respondJSON(w, http.StatusOK, LocatorResponse{Active: active, History: history})
}

// Record handles POST /api/v1/locators/{element_id}.
func (h *LocatorHandler) Record(w http.ResponseWriter, r *http.Request) {
	var req RecordLocatorRequest
	if err := parseJSON(r, &req, h.logger); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	loc, err := h.store.Record(r.Context(), mux.Vars(r)["element_id"], req.Strategy, req.Value, locator.SourceManual)
	if err != nil {
		respondServiceError(w, r, h.logger, err, "record locator")
		return
	}
	respondJSON(w, http.StatusCreated, loc)
}
