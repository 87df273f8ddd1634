package handlers

import (
	"net/http"
	"strings"
	"testing"

	"github.com/hairizuan-noorazman/testflow/sheetsync"
	"github.com/hairizuan-noorazman/testflow/testcase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncHandler_Sync(t *testing.T) {
	s := setupServer(t)

	w := s.do(t, "POST", "/api/v1/test-sets/checkout/sync?author=sheet-bot", "text/csv", strings.NewReader(uploadCSV))
	requireStatus(t, w, http.StatusCreated)
	var res sheetsync.Result
	decode(t, w, &res)
	assert.Equal(t, 1, res.Version.Number)
	assert.Empty(t, res.Conflicts)
	assert.Equal(t, sheetsync.ChangeExternallyAdded, res.Classification["TC-1"])

	// The same sheet again yields a new version with no conflicts.
	w = s.do(t, "POST", "/api/v1/test-sets/checkout/sync?author=sheet-bot", "text/csv", strings.NewReader(uploadCSV))
	requireStatus(t, w, http.StatusCreated)
	decode(t, w, &res)
	assert.Equal(t, 2, res.Version.Number)
	assert.Empty(t, res.Conflicts)

	w = s.doJSON(t, "GET", "/api/v1/test-sets/checkout/sync/state", nil)
	requireStatus(t, w, http.StatusOK)
	var state sheetsync.SyncState
	decode(t, w, &state)
	assert.Equal(t, 2, state.VersionNumber)
	assert.Len(t, state.Snapshot, 2)

	w = s.doJSON(t, "GET", "/api/v1/test-sets/checkout/sync/conflicts", nil)
	requireStatus(t, w, http.StatusOK)
	var conflicts []sheetsync.ConflictRecord
	decode(t, w, &conflicts)
	assert.Empty(t, conflicts)
}

func TestSyncHandler_JSONConflict(t *testing.T) {
	s := setupServer(t)

	sync := func(description string) sheetsync.Result {
		w := s.doJSON(t, "POST", "/api/v1/test-sets/checkout/sync", SyncRequest{
			Author: "sheet-bot",
			Rows:   sheetsync.Rows{{CaseID: "A", UserStory: "US-1", Type: "api", Description: description}},
		})
		requireStatus(t, w, http.StatusCreated)
		var res sheetsync.Result
		decode(t, w, &res)
		return res
	}
	sync("original")

	// Edit locally, then change the sheet too.
	requireStatus(t, s.doJSON(t, "POST", "/api/v1/test-sets/checkout/versions",
		CommitRequest{Author: "alice", Source: "edit", Cases: []testcase.TestCase{apiCase("A", "local edit")}}), http.StatusCreated)
	res := sync("sheet edit")

	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, sheetsync.ConflictBothModified, res.Conflicts[0].Kind)
	assert.Equal(t, sheetsync.ResolutionExternalWon, res.Conflicts[0].Resolution)

	w := s.doJSON(t, "GET", "/api/v1/test-sets/checkout/sync/conflicts?version=3", nil)
	requireStatus(t, w, http.StatusOK)
	var conflicts []sheetsync.ConflictRecord
	decode(t, w, &conflicts)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "A", conflicts[0].CaseKey)
}

func TestSyncHandler_Errors(t *testing.T) {
	s := setupServer(t)

	tests := []struct {
		name        string
		method      string
		path        string
		contentType string
		body        string
		wantStatus  int
	}{
		{name: "missing author", method: "POST", path: "/api/v1/test-sets/checkout/sync", contentType: "text/csv", body: uploadCSV, wantStatus: http.StatusBadRequest},
		{name: "unsupported format", method: "POST", path: "/api/v1/test-sets/checkout/sync?format=ods&author=a", body: "x", wantStatus: http.StatusBadRequest},
		{name: "no state yet", method: "GET", path: "/api/v1/test-sets/checkout/sync/state", wantStatus: http.StatusNotFound},
		{name: "bad version filter", method: "GET", path: "/api/v1/test-sets/checkout/sync/conflicts?version=x", wantStatus: http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			requireStatus(t, s.do(t, tc.method, tc.path, tc.contentType, strings.NewReader(tc.body)), tc.wantStatus)
		})
	}
}
