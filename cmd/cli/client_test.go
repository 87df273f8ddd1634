package main

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_ErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":"run is not active"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second, false).Post("/api/v1/runs/x/cancel", nil)
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "run is not active", apiErr.Message)
}

func TestClient_PostFile(t *testing.T) {
	var gotType, gotAuthor, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotType = r.Header.Get("Content-Type")
		gotAuthor = r.URL.Query().Get("author")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	query := url.Values{}
	query.Set("author", "alice")
	_, err := NewClient(srv.URL, time.Second, false).PostFile("/api/v1/test-sets/x/sync", query, "text/csv", strings.NewReader("Case ID\nA\n"))
	require.NoError(t, err)

	assert.Equal(t, "text/csv", gotType)
	assert.Equal(t, "alice", gotAuthor)
	assert.Equal(t, "Case ID\nA\n", gotBody)
}

func TestSheetContentType(t *testing.T) {
	tests := []struct {
		path    string
		want    string
		wantErr bool
	}{
		{path: "cases.csv", want: "text/csv"},
		{path: "Cases.XLSX", want: contentTypeXLSX},
		{path: "cases.json", want: "application/json"},
		{path: "cases.ods", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			got, err := sheetContentType(tc.path)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
