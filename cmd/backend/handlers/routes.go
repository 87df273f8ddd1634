package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Routes groups the handlers served by the API.
type Routes struct {
	Health   *HealthHandler
	Versions *VersionHandler
	Sync     *SyncHandler
	Runs     *RunHandler
	Locators *LocatorHandler
	// Metrics serves /metrics when set.
	Metrics http.Handler
}

// Register mounts every route on r.
func (rt *Routes) Register(r *mux.Router) {
	r.HandleFunc("/health", rt.Health.Check).Methods("GET")
	if rt.Metrics != nil {
		r.Handle("/metrics", rt.Metrics).Methods("GET")
	}

	api := r.PathPrefix("/api/v1").Subrouter()

	sets := api.PathPrefix("/test-sets/{test_set_id}").Subrouter()
	sets.HandleFunc("/versions", rt.Versions.List).Methods("GET")
	sets.HandleFunc("/versions", rt.Versions.Commit).Methods("POST")
	sets.HandleFunc("/versions/{number}", rt.Versions.Get).Methods("GET")
	sets.HandleFunc("/versions/{number}/diff", rt.Versions.Diff).Methods("GET")
	sets.HandleFunc("/versions/{number}/duplicates", rt.Versions.Duplicates).Methods("GET")
	sets.HandleFunc("/uploads", rt.Versions.Uploads).Methods("GET")
	sets.HandleFunc("/sync", rt.Sync.Sync).Methods("POST")
	sets.HandleFunc("/sync/conflicts", rt.Sync.Conflicts).Methods("GET")
	sets.HandleFunc("/sync/state", rt.Sync.State).Methods("GET")

	api.HandleFunc("/runs", rt.Runs.Start).Methods("POST")
	api.HandleFunc("/runs", rt.Runs.List).Methods("GET")
	api.HandleFunc("/runs/{run_id}", rt.Runs.Get).Methods("GET")
	api.HandleFunc("/runs/{run_id}/cancel", rt.Runs.Cancel).Methods("POST")
	api.HandleFunc("/runs/{run_id}/evidence", rt.Runs.Evidence).Methods("GET")
	api.HandleFunc("/step-results", rt.Runs.StepResults).Methods("GET")

	api.HandleFunc("/locators/{element_id}", rt.Locators.Get).Methods("GET")
	api.HandleFunc("/locators/{element_id}", rt.Locators.Record).Methods("POST")
}
