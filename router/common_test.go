package router

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hairizuan-noorazman/testflow/backend"
	"github.com/hairizuan-noorazman/testflow/internal/clock"
	"github.com/hairizuan-noorazman/testflow/logger"
	"github.com/hairizuan-noorazman/testflow/resilience"
	"github.com/hairizuan-noorazman/testflow/testcase"
	"github.com/hairizuan-noorazman/testflow/testrun"
	"github.com/hairizuan-noorazman/testflow/testutil"
	"github.com/hairizuan-noorazman/testflow/versioning"
	"github.com/stretchr/testify/require"
)

// fakeVersions serves one in-memory version.
type fakeVersions struct {
	version *versioning.Version
	cases   []*testcase.TestCase
}

func (f *fakeVersions) GetVersionByID(ctx context.Context, id uuid.UUID) (*versioning.Version, error) {
	if f.version == nil || f.version.ID != id {
		return nil, versioning.ErrVersionNotFound
	}
	return f.version, nil
}

func (f *fakeVersions) Cases(ctx context.Context, versionID uuid.UUID) ([]*testcase.TestCase, error) {
	return f.cases, nil
}

// scriptedExecutor fails steps whose description is listed and records every call.
type scriptedExecutor struct {
	mu    sync.Mutex
	fail  map[string]bool
	calls []string
}

func newScriptedExecutor(failing ...string) *scriptedExecutor {
	e := &scriptedExecutor{fail: map[string]bool{}}
	for _, d := range failing {
		e.fail[d] = true
	}
	return e
}

func (e *scriptedExecutor) Execute(ctx context.Context, inv backend.Invocation) (backend.Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, inv.Case.CaseKey+"/"+inv.Step.Description)
	if e.fail[inv.Step.Description] {
		return backend.Outcome{}, backend.Failuref(backend.FailureAssertion, "%s did not hold", inv.Step.Description)
	}
	return backend.Outcome{Detail: "ok"}, nil
}

func (e *scriptedExecutor) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

type testEnv struct {
	versions *fakeVersions
	runs     *testrun.MySQLStore
	registry *backend.Registry
	log      *logger.TestLogger
	clock    *clock.Fixed
}

// setupEnv creates a run store on sqlite and an empty version.
func setupEnv(t *testing.T) *testEnv {
	db := testutil.SetupTestDB(t)
	testutil.AutoMigrate(t, db, &testrun.Run{}, &testrun.CaseResult{}, &testrun.StepResult{})
	log := logger.NewTestLogger()

	return &testEnv{
		versions: &fakeVersions{version: &versioning.Version{
			ID:        uuid.New(),
			TestSetID: "checkout",
			Number:    3,
		}},
		runs:     testrun.NewMySQLStore(db, log),
		registry: backend.NewRegistry(),
		log:      log,
		clock:    clock.NewFixed(time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)),
	}
}

func (e *testEnv) router(cfg Config, opts ...Option) *Router {
	engine := resilience.NewEngine(resilience.Policy{MaxAttempts: 1}, e.log)
	opts = append([]Option{WithClock(e.clock)}, opts...)
	return New(e.versions, e.runs, e.registry, engine, cfg, e.log, opts...)
}

func (e *testEnv) addCase(tc *testcase.TestCase) {
	tc.ID = uuid.New()
	tc.VersionID = e.versions.version.ID
	for i := range tc.Steps {
		tc.Steps[i].ID = uuid.New()
		tc.Steps[i].TestCaseID = tc.ID
	}
	e.versions.cases = append(e.versions.cases, tc)
}

// apiCase builds a case whose steps are all api steps.
func apiCase(key string, steps ...testcase.Step) *testcase.TestCase {
	for i := range steps {
		steps[i].Index = i + 1
	}
	return &testcase.TestCase{CaseKey: key, UserStory: "US-1", Type: testcase.TypeAPI, Steps: steps}
}

func stepResultsByCase(t *testing.T, runs *testrun.MySQLStore, runID uuid.UUID, caseKey string) []*testrun.StepResult {
	t.Helper()
	res, err := runs.ListStepResults(context.Background(), testrun.StepResultFilter{RunID: runID, CaseKey: caseKey})
	require.NoError(t, err)
	return res
}

func caseStatus(run *testrun.Run, caseKey string) testrun.Status {
	for _, cr := range run.CaseResults {
		if cr.CaseKey == caseKey {
			return cr.Status
		}
	}
	return ""
}
