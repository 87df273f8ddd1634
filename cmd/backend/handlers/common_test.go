package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/hairizuan-noorazman/testflow/backend"
	"github.com/hairizuan-noorazman/testflow/database"
	"github.com/hairizuan-noorazman/testflow/evidence"
	"github.com/hairizuan-noorazman/testflow/locator"
	"github.com/hairizuan-noorazman/testflow/logger"
	"github.com/hairizuan-noorazman/testflow/resilience"
	"github.com/hairizuan-noorazman/testflow/router"
	"github.com/hairizuan-noorazman/testflow/sheetsync"
	"github.com/hairizuan-noorazman/testflow/storage"
	"github.com/hairizuan-noorazman/testflow/testcase"
	"github.com/hairizuan-noorazman/testflow/testrun"
	"github.com/hairizuan-noorazman/testflow/testutil"
	"github.com/hairizuan-noorazman/testflow/versioning"
	"github.com/stretchr/testify/require"
)

// passingExecutor passes every step.
type passingExecutor struct{}

func (passingExecutor) Execute(ctx context.Context, inv backend.Invocation) (backend.Outcome, error) {
	return backend.Outcome{Detail: "ok"}, nil
}

type testServer struct {
	mux      *mux.Router
	manager  *versioning.Manager
	runs     *testrun.MySQLStore
	router   *router.Router
	locators *locator.MySQLStore
	log      *logger.TestLogger
}

// setupServer wires every handler to real components on sqlite.
func setupServer(t *testing.T) *testServer {
	db := testutil.SetupTestDB(t)
	require.NoError(t, database.AutoMigrate(db))

	log := logger.NewTestLogger()
	manager := versioning.NewManager(
		versioning.NewMySQLStore(db, log),
		testcase.NewMySQLStore(db, log),
		versioning.DefaultConfig(),
		log,
	)
	runs := testrun.NewMySQLStore(db, log)
	locators := locator.NewMySQLStore(db, log)

	blobs, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	sink := evidence.NewBlobSink(blobs, log)

	registry := backend.NewRegistry()
	registry.Register(testcase.TypeAPI, passingExecutor{})
	engine := resilience.NewEngine(resilience.Policy{MaxAttempts: 1}, log, resilience.WithSink(sink))
	rtr := router.New(manager, runs, registry, engine, router.DefaultConfig(), log)
	t.Cleanup(rtr.Wait)

	coordinator := sheetsync.NewCoordinator(manager, sheetsync.NewMySQLStore(db, log), log)

	sqlDB, err := db.DB()
	require.NoError(t, err)

	routes := &Routes{
		Health:   NewHealthHandler(sqlDB, log),
		Versions: NewVersionHandler(manager, log),
		Sync:     NewSyncHandler(coordinator, log),
		Runs:     NewRunHandler(rtr, runs, sink, log),
		Locators: NewLocatorHandler(locators, log),
	}
	m := mux.NewRouter()
	routes.Register(m)

	return &testServer{
		mux:      m,
		manager:  manager,
		runs:     runs,
		router:   rtr,
		locators: locators,
		log:      log,
	}
}

func (s *testServer) do(t *testing.T, method, path, contentType string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	s.mux.ServeHTTP(w, req)
	return w
}

func (s *testServer) doJSON(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	return s.do(t, method, path, "application/json", r)
}

func decode(t *testing.T, w *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(w.Body).Decode(dest))
}

func commitBody(author string, cases ...testcase.TestCase) CommitRequest {
	return CommitRequest{Author: author, Cases: cases}
}

func apiCase(key string, steps ...string) testcase.TestCase {
	tc := testcase.TestCase{CaseKey: key, UserStory: "US-1", Type: testcase.TypeAPI}
	for i, d := range steps {
		tc.Steps = append(tc.Steps, testcase.Step{Index: i + 1, Description: d})
	}
	return tc
}

func requireStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	require.Equal(t, want, w.Code, "body: %s", w.Body.String())
}
