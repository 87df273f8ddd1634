package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/hairizuan-noorazman/testflow/evidence"
	"github.com/hairizuan-noorazman/testflow/locator"
	"github.com/hairizuan-noorazman/testflow/logger"
	"github.com/hairizuan-noorazman/testflow/router"
	"github.com/hairizuan-noorazman/testflow/sheetsync"
	"github.com/hairizuan-noorazman/testflow/testrun"
	"github.com/hairizuan-noorazman/testflow/versioning"
)

// MaxUploadSize is the maximum accepted upload body (100MB).
const MaxUploadSize = 100 * 1024 * 1024

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// SuccessResponse represents a success response with a message.
type SuccessResponse struct {
	Message string `json:"message"`
}

// PaginatedResponse represents a standardized paginated API response.
type PaginatedResponse struct {
	Items  interface{} `json:"items"`
	Total  int         `json:"total"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}

// NewPaginatedResponse creates a new paginated response.
func NewPaginatedResponse(items interface{}, total, limit, offset int) PaginatedResponse {
	return PaginatedResponse{
		Items:  items,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	}
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError writes an error response with the given status code.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{Error: message})
}

// respondSuccess writes a success response with the given message.
func respondSuccess(w http.ResponseWriter, message string) {
	respondJSON(w, http.StatusOK, SuccessResponse{Message: message})
}

// respondServiceError maps domain errors to status codes. Unexpected errors
// are logged and reported as "failed to <action>".
func respondServiceError(w http.ResponseWriter, r *http.Request, log logger.Logger, err error, action string) {
	var verr *versioning.ValidationError
	switch {
	case errors.As(err, &verr):
		respondError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, locator.ErrMissingElementID),
		errors.Is(err, locator.ErrMissingValue),
		errors.Is(err, locator.ErrInvalidStrategy):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, versioning.ErrVersionNotFound),
		errors.Is(err, testrun.ErrRunNotFound),
		errors.Is(err, locator.ErrLocatorNotFound),
		errors.Is(err, sheetsync.ErrStateNotFound),
		errors.Is(err, evidence.ErrEvidenceNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, router.ErrRunNotActive),
		errors.Is(err, versioning.ErrConcurrentCommit):
		respondError(w, http.StatusConflict, err.Error())
	default:
		log.Error(r.Context(), "failed to "+action, map[string]interface{}{
			"error": err.Error(),
			"path":  r.URL.Path,
		})
		respondError(w, http.StatusInternalServerError, "failed to "+action)
	}
}

// parseJSON parses JSON from the request body into the given destination.
func parseJSON(r *http.Request, dest interface{}, log logger.Logger) error {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		log.Error(r.Context(), "failed to parse JSON", map[string]interface{}{
			"error": err.Error(),
		})
		return err
	}
	return nil
}

// parseUUID parses a UUID from the request path parameters.
func parseUUID(r *http.Request, paramName string) (uuid.UUID, error) {
	vars := mux.Vars(r)
	uuidStr := vars[paramName]
	return uuid.Parse(uuidStr)
}

// parseUUIDOrRespond parses a UUID from path parameters and responds with an error if invalid.
// Returns the UUID and true if successful, or uuid.Nil and false if parsing failed (error response already sent).
func parseUUIDOrRespond(w http.ResponseWriter, r *http.Request, paramName, entityName string) (uuid.UUID, bool) {
	id, err := parseUUID(r, paramName)
	if err != nil {
		respondError(w, http.StatusBadRequest,
			fmt.Sprintf("invalid %s ID: must be a valid UUID", entityName))
		return uuid.Nil, false
	}
	return id, true
}

// parseQueryUUID parses an optional UUID query parameter.
func parseQueryUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return uuid.Nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s: must be a valid UUID", name))
		return uuid.Nil, false
	}
	return id, true
}

// parseIntOrRespond parses a positive integer path parameter.
func parseIntOrRespond(w http.ResponseWriter, r *http.Request, paramName string) (int, bool) {
	n, err := strconv.Atoi(mux.Vars(r)[paramName])
	if err != nil || n < 1 {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s: must be a positive integer", paramName))
		return 0, false
	}
	return n, true
}

// parsePagination reads limit (default 20, max 100) and offset query parameters.
func parsePagination(r *http.Request) (limit, offset int) {
	limit = 20
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= 100 {
		limit = l
	}
	if o, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && o >= 0 {
		offset = o
	}
	return limit, offset
}
