package router

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/hairizuan-noorazman/testflow/backend"
	"github.com/hairizuan-noorazman/testflow/testcase"
	"github.com/hairizuan-noorazman/testflow/testrun"
	"github.com/hairizuan-noorazman/testflow/versioning"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouter_Run_PartialWithDependencies(t *testing.T) {
	env := setupEnv(t)
	exec := newScriptedExecutor("B1")
	env.registry.Register(testcase.TypeAPI, exec)

	env.addCase(apiCase("A", testcase.Step{Description: "A1"}, testcase.Step{Description: "A2"}))
	env.addCase(apiCase("B",
		testcase.Step{Description: "B1"},
		testcase.Step{Description: "B2", DependsOn: dependsOn(1)},
		testcase.Step{Description: "B3"},
	))
	b1 := env.versions.cases[1].Steps[0].ID

	run, err := env.router(DefaultConfig()).Run(context.Background(), Request{VersionID: env.versions.version.ID})
	require.NoError(t, err)

	assert.Equal(t, testrun.StatusPartial, run.Status)
	assert.False(t, run.Cancelled)
	assert.Equal(t, "checkout", run.TestSetID)
	assert.Equal(t, 3, run.VersionNumber)
	assert.Equal(t, testrun.StatusPassed, caseStatus(run, "A"))
	assert.Equal(t, testrun.StatusFailed, caseStatus(run, "B"))
	assert.ElementsMatch(t, []string{"A/A1", "A/A2", "B/B1"}, exec.Calls())

	b := stepResultsByCase(t, env.runs, run.ID, "B")
	require.Len(t, b, 3)
	assert.Equal(t, testrun.StatusFailed, b[0].Status)
	assert.Contains(t, b[0].Reason, "B1 did not hold")

	assert.Equal(t, testrun.StatusSkipped, b[1].Status)
	assert.Equal(t, testrun.ReasonDependencyBlocked, b[1].Reason)
	require.NotNil(t, b[1].BlockingStepID)
	assert.Equal(t, b1, *b[1].BlockingStepID)

	assert.Equal(t, testrun.StatusSkipped, b[2].Status)
	assert.Equal(t, testrun.ReasonCaseAborted, b[2].Reason)
	require.NotNil(t, b[2].BlockingStepID)
	assert.Equal(t, b1, *b[2].BlockingStepID)

	a := stepResultsByCase(t, env.runs, run.ID, "A")
	require.Len(t, a, 2)
	for _, sr := range a {
		assert.Equal(t, testrun.StatusPassed, sr.Status)
		assert.Equal(t, 1, sr.Attempts)
		assert.Equal(t, "api", sr.Backend)
		assert.Equal(t, ClassifiedByCase, sr.ClassifiedBy)
	}
}

func TestRouter_Run_DependencyBlockedEveryRun(t *testing.T) {
	env := setupEnv(t)
	env.registry.Register(testcase.TypeAPI, newScriptedExecutor("S1"))
	env.addCase(apiCase("C",
		testcase.Step{Description: "S1"},
		testcase.Step{Description: "S2", DependsOn: dependsOn(1)},
	))
	s1 := env.versions.cases[0].Steps[0].ID
	r := env.router(DefaultConfig())

	for i := 0; i < 3; i++ {
		run, err := r.Run(context.Background(), Request{VersionID: env.versions.version.ID})
		require.NoError(t, err)
		res := stepResultsByCase(t, env.runs, run.ID, "C")
		require.Len(t, res, 2)
		assert.Equal(t, testrun.ReasonDependencyBlocked, res[1].Reason)
		require.NotNil(t, res[1].BlockingStepID)
		assert.Equal(t, s1, *res[1].BlockingStepID)
	}
}

func TestRouter_Run_ContinueOnFailure(t *testing.T) {
	env := setupEnv(t)
	exec := newScriptedExecutor("S1")
	env.registry.Register(testcase.TypeAPI, exec)
	env.addCase(apiCase("C",
		testcase.Step{Description: "S1"},
		testcase.Step{Description: "S2"},
		testcase.Step{Description: "S3", DependsOn: dependsOn(1)},
	))

	cfg := DefaultConfig()
	cfg.ContinueOnFailure = true
	run, err := env.router(cfg).Run(context.Background(), Request{VersionID: env.versions.version.ID})
	require.NoError(t, err)

	assert.Equal(t, testrun.StatusFailed, run.Status)
	assert.Equal(t, []string{"C/S1", "C/S2"}, exec.Calls())
	res := stepResultsByCase(t, env.runs, run.ID, "C")
	assert.Equal(t, testrun.StatusPassed, res[1].Status)
	assert.Equal(t, testrun.ReasonDependencyBlocked, res[2].Reason)
}

func TestRouter_Run_Cycle(t *testing.T) {
	env := setupEnv(t)
	exec := newScriptedExecutor()
	env.registry.Register(testcase.TypeAPI, exec)
	env.addCase(apiCase("LOOP",
		testcase.Step{Description: "S1", DependsOn: dependsOn(2)},
		testcase.Step{Description: "S2", DependsOn: dependsOn(1)},
	))
	env.addCase(apiCase("OK", testcase.Step{Description: "fine"}))

	run, err := env.router(DefaultConfig()).Run(context.Background(), Request{VersionID: env.versions.version.ID})
	require.NoError(t, err)

	assert.Equal(t, []string{"OK/fine"}, exec.Calls())
	assert.Equal(t, testrun.StatusPartial, run.Status)
	assert.Equal(t, testrun.StatusSkipped, caseStatus(run, "LOOP"))
	assert.Empty(t, run.Reason)
	for _, cr := range run.CaseResults {
		if cr.CaseKey == "LOOP" {
			assert.Equal(t, testrun.ReasonCycleDetected, cr.Reason)
		}
	}
	for _, sr := range stepResultsByCase(t, env.runs, run.ID, "LOOP") {
		assert.Equal(t, testrun.StatusSkipped, sr.Status)
		assert.Equal(t, testrun.ReasonCycleDetected, sr.Reason)
	}
	assert.True(t, env.log.HasMessage("error", "dependency cycle detected, case skipped"))
}

func TestRouter_Run_CycleOnlyRunCarriesReason(t *testing.T) {
	env := setupEnv(t)
	exec := newScriptedExecutor()
	env.registry.Register(testcase.TypeAPI, exec)
	env.addCase(apiCase("LOOP",
		testcase.Step{Description: "S1", DependsOn: dependsOn(2)},
		testcase.Step{Description: "S2", DependsOn: dependsOn(1)},
	))

	run, err := env.router(DefaultConfig()).Run(context.Background(), Request{VersionID: env.versions.version.ID})
	require.NoError(t, err)

	assert.Empty(t, exec.Calls())
	assert.Equal(t, testrun.StatusSkipped, run.Status)
	assert.Equal(t, testrun.ReasonCycleDetected, run.Reason)
	assert.False(t, run.Cancelled)
}

func TestRouter_Run_Classification(t *testing.T) {
	env := setupEnv(t)
	api := newScriptedExecutor()
	db := newScriptedExecutor()
	env.registry.Register(testcase.TypeAPI, api)
	env.registry.Register(testcase.TypeDatabase, db)

	env.addCase(&testcase.TestCase{CaseKey: "MIX", UserStory: "US-2", Steps: []testcase.Step{
		{Index: 1, Description: "Query the orders table for the new row"},
		{Index: 2, Description: "Ping it", Backend: testcase.TypeAPI},
		{Index: 3, Description: "Tap the device button", Backend: testcase.TypeMobile},
		{Index: 4, Description: "Ponder deeply"},
		{Index: 5, Description: "Consult the oracle"},
	}})

	classifier := backend.ClassifierFunc(func(ctx context.Context, text string, cc backend.ClassifyContext) (testcase.Type, error) {
		if text == "Consult the oracle" {
			return testcase.TypeAPI, nil
		}
		return backend.Unclassified, errors.New("no idea")
	})

	cfg := DefaultConfig()
	cfg.ContinueOnFailure = true
	run, err := env.router(cfg, WithClassifier(classifier)).Run(context.Background(), Request{VersionID: env.versions.version.ID})
	require.NoError(t, err)

	res := stepResultsByCase(t, env.runs, run.ID, "MIX")
	require.Len(t, res, 5)

	assert.Equal(t, "database", res[0].Backend)
	assert.Equal(t, ClassifiedByRules, res[0].ClassifiedBy)
	assert.Equal(t, testrun.StatusPassed, res[0].Status)

	assert.Equal(t, ClassifiedByStep, res[1].ClassifiedBy)
	assert.Equal(t, testrun.StatusPassed, res[1].Status)

	assert.Equal(t, testrun.ReasonBackendUnavailable, res[2].Reason)
	assert.Equal(t, "mobile", res[2].Backend)

	assert.Equal(t, testrun.ReasonUnclassified, res[3].Reason)
	assert.True(t, env.log.HasMessage("warn", "step classification failed"))

	assert.Equal(t, ClassifiedByClassifier, res[4].ClassifiedBy)
	assert.Equal(t, testrun.StatusPassed, res[4].Status)

	assert.Equal(t, testrun.StatusPassed, run.Status)
	assert.Len(t, db.Calls(), 1)
	assert.Len(t, api.Calls(), 2)
}

func TestRouter_Run_Scope(t *testing.T) {
	env := setupEnv(t)
	exec := newScriptedExecutor()
	env.registry.Register(testcase.TypeAPI, exec)
	env.addCase(apiCase("A", testcase.Step{Description: "a"}))
	env.addCase(apiCase("B", testcase.Step{Description: "b"}))
	r := env.router(DefaultConfig())

	run, err := r.Run(context.Background(), Request{VersionID: env.versions.version.ID, Scope: []string{"B"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"B/b"}, exec.Calls())
	assert.Equal(t, testcase.StringSet{"B"}, run.Scope)

	_, err = r.Run(context.Background(), Request{VersionID: env.versions.version.ID, Scope: []string{"Z"}})
	var verr *versioning.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.ErrorIs(t, err, ErrUnknownCaseKey)
}

func TestRouter_Run_Errors(t *testing.T) {
	env := setupEnv(t)
	r := env.router(DefaultConfig())

	_, err := r.Run(context.Background(), Request{})
	assert.ErrorIs(t, err, testrun.ErrMissingVersionID)

	_, err = r.Run(context.Background(), Request{VersionID: uuid.New()})
	assert.ErrorIs(t, err, versioning.ErrVersionNotFound)
}

func TestRouter_Run_NoCases(t *testing.T) {
	env := setupEnv(t)
	run, err := env.router(DefaultConfig()).Run(context.Background(), Request{VersionID: env.versions.version.ID})
	require.NoError(t, err)
	assert.Equal(t, testrun.StatusSkipped, run.Status)
	assert.NotNil(t, run.CompletedAt)
}

// blockingExecutor holds the first call until released.
type blockingExecutor struct {
	started chan struct{}
	release chan struct{}
	calls   int
}

func (e *blockingExecutor) Execute(ctx context.Context, inv backend.Invocation) (backend.Outcome, error) {
	e.calls++
	if e.calls == 1 {
		close(e.started)
		<-e.release
	}
	return backend.Outcome{}, nil
}

func TestRouter_StartAndCancel(t *testing.T) {
	env := setupEnv(t)
	exec := &blockingExecutor{started: make(chan struct{}), release: make(chan struct{})}
	env.registry.Register(testcase.TypeAPI, exec)
	env.addCase(apiCase("C",
		testcase.Step{Description: "S1"},
		testcase.Step{Description: "S2"},
		testcase.Step{Description: "S3"},
	))
	r := env.router(DefaultConfig())

	runID, err := r.Start(context.Background(), Request{VersionID: env.versions.version.ID, TriggeredBy: "ci"})
	require.NoError(t, err)

	<-exec.started
	require.NoError(t, r.Cancel(runID))
	close(exec.release)
	r.Wait()

	assert.Equal(t, 1, exec.calls)
	assert.ErrorIs(t, r.Cancel(runID), ErrRunNotActive)
	assert.ErrorIs(t, r.Cancel(uuid.New()), ErrRunNotActive)

	run, err := env.runs.GetByID(context.Background(), runID)
	require.NoError(t, err)
	assert.True(t, run.Cancelled)
	assert.Equal(t, testrun.ReasonCancelled, run.Reason)
	assert.Equal(t, "ci", run.TriggeredBy)
	assert.True(t, run.Status.IsFinal())

	res := stepResultsByCase(t, env.runs, runID, "C")
	require.Len(t, res, 3)
	assert.Equal(t, testrun.StatusPassed, res[0].Status)
	assert.Equal(t, testrun.ReasonCancelled, res[1].Reason)
	assert.Equal(t, testrun.ReasonCancelled, res[2].Reason)
}

type finisher struct {
	backend.Executor
	finished []uuid.UUID
	err      error
}

func (f *finisher) FinishRun(ctx context.Context, runID uuid.UUID) error {
	f.finished = append(f.finished, runID)
	return f.err
}

func TestRouter_Run_ReleasesBackendResources(t *testing.T) {
	env := setupEnv(t)
	f := &finisher{Executor: newScriptedExecutor()}
	env.registry.Register(testcase.TypeAPI, f)
	env.addCase(apiCase("A", testcase.Step{Description: "a"}))

	run, err := env.router(DefaultConfig()).Run(context.Background(), Request{VersionID: env.versions.version.ID})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{run.ID}, f.finished)
}

func TestRouter_Run_ReleaseFailureIsLogged(t *testing.T) {
	env := setupEnv(t)
	f := &finisher{Executor: newScriptedExecutor(), err: errors.New("page already closed")}
	env.registry.Register(testcase.TypeAPI, f)
	env.addCase(apiCase("A", testcase.Step{Description: "a"}))

	run, err := env.router(DefaultConfig()).Run(context.Background(), Request{VersionID: env.versions.version.ID})
	require.NoError(t, err)
	assert.Equal(t, testrun.StatusPassed, run.Status)
	assert.Equal(t, []uuid.UUID{run.ID}, f.finished)
	assert.True(t, env.log.HasMessage("warn", "failed to release backend resources"))
}
