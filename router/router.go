// Package router executes committed test-set versions: it classifies each
// step to a backend, honours step dependencies and dispatches through the
// resilience engine, recording one StepResult per step.
package router

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hairizuan-noorazman/testflow/backend"
	"github.com/hairizuan-noorazman/testflow/internal/clock"
	"github.com/hairizuan-noorazman/testflow/logger"
	"github.com/hairizuan-noorazman/testflow/metrics"
	"github.com/hairizuan-noorazman/testflow/resilience"
	"github.com/hairizuan-noorazman/testflow/testcase"
	"github.com/hairizuan-noorazman/testflow/testrun"
	"github.com/hairizuan-noorazman/testflow/versioning"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var (
	// ErrRunNotActive is returned when cancelling a run that is unknown or already finished.
	ErrRunNotActive = errors.New("run is not active")

	// ErrUnknownCaseKey is returned when a run scope names a case the version does not have.
	ErrUnknownCaseKey = errors.New("case key not in version")
)

// How a step's backend type was decided.
const (
	ClassifiedByStep       = "step"
	ClassifiedByCase       = "case"
	ClassifiedByRules      = "rules"
	ClassifiedByClassifier = "classifier"
)

// Config tunes the router.
type Config struct {
	// Workers bounds how many cases execute concurrently.
	Workers int
	// ContinueOnFailure keeps executing independent steps of a case after
	// one of its steps failed.
	ContinueOnFailure bool
	Rules             Rules
	// DispatchRate caps backend dispatches per second across all runs.
	// Zero disables the limit.
	DispatchRate  float64
	DispatchBurst int
}

// DefaultConfig returns four workers and the built-in keyword rules.
func DefaultConfig() Config {
	return Config{
		Workers: 4,
		Rules:   DefaultRules(),
	}
}

// VersionSource loads the versions a run executes.
type VersionSource interface {
	GetVersionByID(ctx context.Context, id uuid.UUID) (*versioning.Version, error)
	Cases(ctx context.Context, versionID uuid.UUID) ([]*testcase.TestCase, error)
}

// Request asks for one run of a version.
type Request struct {
	VersionID uuid.UUID `json:"version_id"`
	// Scope limits the run to these case keys. Empty runs every case.
	Scope       []string `json:"scope,omitempty"`
	TriggeredBy string   `json:"triggered_by,omitempty"`
}

// Router dispatches runs.
type Router struct {
	versions   VersionSource
	runs       testrun.Store
	registry   *backend.Registry
	engine     *resilience.Engine
	classifier backend.Classifier
	cfg        Config
	limiter    *rate.Limiter
	metrics    *metrics.Collector
	clock      clock.Clock
	logger     logger.Logger

	mu     sync.Mutex
	active map[uuid.UUID]*activeRun
	bg     sync.WaitGroup
}

type activeRun struct {
	halt chan struct{}
	once sync.Once
}

func (a *activeRun) cancel() {
	a.once.Do(func() { close(a.halt) })
}

func (a *activeRun) cancelled() bool {
	select {
	case <-a.halt:
		return true
	default:
		return false
	}
}

// Option configures a Router.
type Option func(*Router)

// WithClassifier sets the classifier consulted when the rule table is inconclusive.
func WithClassifier(c backend.Classifier) Option {
	return func(r *Router) { r.classifier = c }
}

// WithMetrics sets the metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(r *Router) { r.metrics = c }
}

// WithClock overrides the clock used for run and result timestamps.
func WithClock(c clock.Clock) Option {
	return func(r *Router) { r.clock = c }
}

// New creates a router.
func New(versions VersionSource, runs testrun.Store, registry *backend.Registry, engine *resilience.Engine, cfg Config, log logger.Logger, opts ...Option) *Router {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Rules == nil {
		cfg.Rules = DefaultRules()
	}
	r := &Router{
		versions: versions,
		runs:     runs,
		registry: registry,
		engine:   engine,
		cfg:      cfg,
		clock:    clock.System{},
		logger:   log,
		active:   make(map[uuid.UUID]*activeRun),
	}
	if cfg.DispatchRate > 0 {
		burst := cfg.DispatchBurst
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(cfg.DispatchRate), burst)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes a version synchronously and returns the terminal run.
// Step failures are recorded on the run, not returned as errors.
func (r *Router) Run(ctx context.Context, req Request) (*testrun.Run, error) {
	run, cases, ar, err := r.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	return r.execute(ctx, run, cases, ar), nil
}

// Start creates the run and executes it in the background. The run keeps
// going after ctx is done; use Cancel to stop it.
func (r *Router) Start(ctx context.Context, req Request) (uuid.UUID, error) {
	run, cases, ar, err := r.prepare(ctx, req)
	if err != nil {
		return uuid.Nil, err
	}
	r.bg.Add(1)
	go func() {
		defer r.bg.Done()
		r.execute(context.WithoutCancel(ctx), run, cases, ar)
	}()
	return run.ID, nil
}

// Cancel stops a run. The attempt in flight finishes, nothing further is
// dispatched and the remaining steps are skipped.
func (r *Router) Cancel(runID uuid.UUID) error {
	r.mu.Lock()
	ar, ok := r.active[runID]
	r.mu.Unlock()
	if !ok {
		return ErrRunNotActive
	}
	ar.cancel()
	r.logger.Info(context.Background(), "run cancellation requested", map[string]interface{}{
		"run_id": runID.String(),
	})
	return nil
}

// Wait blocks until every background run has finished.
func (r *Router) Wait() {
	r.bg.Wait()
}

// Shutdown cancels every active run and waits for them to finish or for
// ctx to expire.
func (r *Router) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	for _, ar := range r.active {
		ar.cancel()
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Router) prepare(ctx context.Context, req Request) (*testrun.Run, []*testcase.TestCase, *activeRun, error) {
	if req.VersionID == uuid.Nil {
		return nil, nil, nil, &versioning.ValidationError{CaseIndex: -1, Err: testrun.ErrMissingVersionID}
	}
	version, err := r.versions.GetVersionByID(ctx, req.VersionID)
	if err != nil {
		return nil, nil, nil, err
	}
	all, err := r.versions.Cases(ctx, version.ID)
	if err != nil {
		return nil, nil, nil, err
	}

	scope := testcase.NewStringSet(req.Scope...)
	cases := all
	if len(scope) > 0 {
		byKey := make(map[string]*testcase.TestCase, len(all))
		for _, tc := range all {
			byKey[tc.CaseKey] = tc
		}
		cases = make([]*testcase.TestCase, 0, len(scope))
		for _, key := range scope {
			tc, ok := byKey[key]
			if !ok {
				return nil, nil, nil, &versioning.ValidationError{
					CaseIndex: -1,
					CaseKey:   key,
					Err:       fmt.Errorf("%w: %q", ErrUnknownCaseKey, key),
				}
			}
			cases = append(cases, tc)
		}
	}

	run := &testrun.Run{
		VersionID:     version.ID,
		TestSetID:     version.TestSetID,
		VersionNumber: version.Number,
		Scope:         scope,
		Status:        testrun.StatusRunning,
		TriggeredBy:   req.TriggeredBy,
		StartedAt:     r.clock.Now().UTC(),
	}
	if err := r.runs.Create(ctx, run); err != nil {
		return nil, nil, nil, err
	}

	ar := &activeRun{halt: make(chan struct{})}
	r.mu.Lock()
	r.active[run.ID] = ar
	r.mu.Unlock()

	r.logger.Info(ctx, "run started", map[string]interface{}{
		"run_id":         run.ID.String(),
		"test_set_id":    run.TestSetID,
		"version_number": run.VersionNumber,
		"cases":          len(cases),
	})
	return run, cases, ar, nil
}

func (r *Router) execute(ctx context.Context, run *testrun.Run, cases []*testcase.TestCase, ar *activeRun) *testrun.Run {
	defer func() {
		r.mu.Lock()
		delete(r.active, run.ID)
		r.mu.Unlock()
	}()

	statuses := make([]testrun.Status, len(cases))
	reasons := make([]string, len(cases))
	var g errgroup.Group
	g.SetLimit(r.cfg.Workers)
	for i, tc := range cases {
		g.Go(func() error {
			statuses[i], reasons[i] = r.runCase(ctx, run, tc, ar)
			return nil
		})
	}
	_ = g.Wait()

	persist := context.WithoutCancel(ctx)
	for _, f := range r.registry.Finishers() {
		if err := f.FinishRun(persist, run.ID); err != nil {
			r.logger.Warn(persist, "failed to release backend resources", map[string]interface{}{
				"error":  err.Error(),
				"run_id": run.ID.String(),
			})
		}
	}

	status := testrun.AggregateRun(statuses)
	cancelled := ar.cancelled() || ctx.Err() != nil
	reason := testrun.RunReason(status, reasons)
	if cancelled {
		reason = testrun.ReasonCancelled
	}

	done, err := r.runs.Complete(persist, run.ID, status, reason, cancelled, r.clock.Now())
	if err != nil {
		r.logger.Error(persist, "failed to complete run", map[string]interface{}{
			"error":  err.Error(),
			"run_id": run.ID.String(),
		})
		_ = run.Complete(status, reason, cancelled, r.clock.Now())
		done = run
	}
	r.metrics.RunFinished(string(status))

	r.logger.Info(persist, "run finished", map[string]interface{}{
		"run_id":    run.ID.String(),
		"status":    string(status),
		"cancelled": cancelled,
	})

	if full, err := r.runs.GetByID(persist, run.ID); err == nil {
		return full
	}
	return done
}

// runCase executes one case and returns its status and skip reason.
func (r *Router) runCase(ctx context.Context, run *testrun.Run, tc *testcase.TestCase, ar *activeRun) (testrun.Status, string) {
	persist := context.WithoutCancel(ctx)
	steps := append([]testcase.Step(nil), tc.Steps...)
	sort.Slice(steps, func(i, j int) bool { return steps[i].Index < steps[j].Index })
	graph := NewGraph(steps)

	var statuses []testrun.Status
	caseReason, firstSkipReason := "", ""

	if _, err := graph.Sort(); err != nil {
		r.logger.Error(ctx, "dependency cycle detected, case skipped", map[string]interface{}{
			"error":    err.Error(),
			"run_id":   run.ID.String(),
			"case_key": tc.CaseKey,
		})
		for i := range steps {
			sr := r.newResult(run, tc, &steps[i])
			sr.Skip(testrun.ReasonCycleDetected, nil)
			r.record(persist, sr, 0)
			statuses = append(statuses, sr.Status)
		}
		caseReason = testrun.ReasonCycleDetected
	} else {
		results := make(map[int]*testrun.StepResult, len(steps))
		var firstFailed *testcase.Step
		for i := range steps {
			step := &steps[i]
			sr := r.runStep(ctx, run, tc, step, graph, results, firstFailed, ar)
			results[step.Index] = sr
			if sr.Status == testrun.StatusFailed && firstFailed == nil {
				firstFailed = step
			}
			if sr.Status == testrun.StatusSkipped && firstSkipReason == "" {
				firstSkipReason = sr.Reason
			}
			statuses = append(statuses, sr.Status)
		}
	}

	status := testrun.AggregateCase(statuses)
	if status == testrun.StatusSkipped && caseReason == "" {
		caseReason = firstSkipReason
	}
	cr := &testrun.CaseResult{
		RunID:      run.ID,
		TestCaseID: tc.ID,
		CaseKey:    tc.CaseKey,
		Status:     status,
		Reason:     caseReason,
	}
	if err := r.runs.RecordCaseResult(persist, cr); err != nil {
		r.logger.Error(persist, "failed to record case result", map[string]interface{}{
			"error":    err.Error(),
			"run_id":   run.ID.String(),
			"case_key": tc.CaseKey,
		})
	}
	return status, caseReason
}

func (r *Router) runStep(ctx context.Context, run *testrun.Run, tc *testcase.TestCase, step *testcase.Step, graph *Graph, results map[int]*testrun.StepResult, firstFailed *testcase.Step, ar *activeRun) *testrun.StepResult {
	persist := context.WithoutCancel(ctx)
	sr := r.newResult(run, tc, step)

	if ar.cancelled() || ctx.Err() != nil {
		sr.Skip(testrun.ReasonCancelled, nil)
		r.record(persist, sr, 0)
		return sr
	}

	if step.DependsOn != nil {
		if blocker := blockingStep(graph, step.Index, results); blocker != nil {
			sr.Skip(testrun.ReasonDependencyBlocked, &blocker.ID)
			r.record(persist, sr, 0)
			return sr
		}
	} else if firstFailed != nil && !r.cfg.ContinueOnFailure {
		sr.Skip(testrun.ReasonCaseAborted, &firstFailed.ID)
		r.record(persist, sr, 0)
		return sr
	}

	typ, by := r.classify(ctx, tc, step)
	sr.Backend = string(typ)
	sr.ClassifiedBy = by
	if typ == backend.Unclassified {
		sr.Skip(testrun.ReasonUnclassified, nil)
		r.record(persist, sr, 0)
		return sr
	}
	exec, ok := r.registry.Lookup(typ)
	if !ok {
		sr.Skip(testrun.ReasonBackendUnavailable, nil)
		r.record(persist, sr, 0)
		return sr
	}

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			sr.Skip(testrun.ReasonCancelled, nil)
			r.record(persist, sr, 0)
			return sr
		}
	}

	res := r.engine.Execute(ctx, resilience.Request{
		RunID: run.ID,
		Case:  tc,
		Step:  step,
		Type:  typ,
		Halt:  ar.halt,
	}, exec.Execute)

	sr.Attempts = res.Attempts
	sr.HealingInvocations = res.HealingInvocations
	sr.Evidence = res.Evidence
	sr.ElapsedMS = res.Elapsed.Milliseconds()
	if res.Passed {
		sr.Status = testrun.StatusPassed
	} else {
		sr.Status = testrun.StatusFailed
		if res.Err != nil {
			sr.Reason = fmt.Sprintf("%s: %s", res.FailureKind, res.Err.Error())
		}
	}
	r.record(persist, sr, res.Elapsed)
	return sr
}

// blockingStep returns the first transitive dependency, breadth first,
// that did not pass. A dependency with no result yet blocks too.
func blockingStep(graph *Graph, index int, results map[int]*testrun.StepResult) *testcase.Step {
	for _, dep := range graph.Ancestors(index) {
		res, ok := results[dep]
		if !ok || res.Status != testrun.StatusPassed {
			return graph.Step(dep)
		}
	}
	return nil
}

func (r *Router) classify(ctx context.Context, tc *testcase.TestCase, step *testcase.Step) (testcase.Type, string) {
	if step.Backend.IsValid() {
		return step.Backend, ClassifiedByStep
	}
	if tc.Type.IsValid() {
		return tc.Type, ClassifiedByCase
	}
	if t := r.cfg.Rules.Match(stepText(step)); t != "" {
		return t, ClassifiedByRules
	}
	if r.classifier == nil {
		return backend.Unclassified, ""
	}

	t, err := r.classifier.Classify(ctx, step.Description, backend.ClassifyContext{
		CaseKey:   tc.CaseKey,
		UserStory: tc.UserStory,
		Title:     tc.Title,
	})
	if err != nil {
		r.logger.Warn(ctx, "step classification failed", map[string]interface{}{
			"error":    err.Error(),
			"case_key": tc.CaseKey,
			"step_id":  step.ID.String(),
		})
		return backend.Unclassified, ""
	}
	if !t.IsValid() {
		return backend.Unclassified, ""
	}
	return t, ClassifiedByClassifier
}

func (r *Router) newResult(run *testrun.Run, tc *testcase.TestCase, step *testcase.Step) *testrun.StepResult {
	return &testrun.StepResult{
		RunID:      run.ID,
		VersionID:  run.VersionID,
		TestCaseID: tc.ID,
		StepID:     step.ID,
		CaseKey:    tc.CaseKey,
		StepIndex:  step.Index,
	}
}

func (r *Router) record(ctx context.Context, sr *testrun.StepResult, elapsed time.Duration) {
	sr.RecordedAt = r.clock.Now().UTC()
	if err := r.runs.AppendStepResult(ctx, sr); err != nil {
		r.logger.Error(ctx, "failed to append step result", map[string]interface{}{
			"error":   err.Error(),
			"run_id":  sr.RunID.String(),
			"step_id": sr.StepID.String(),
		})
	}
	r.metrics.StepRecorded(sr.Backend, string(sr.Status), sr.Attempts, sr.HealingInvocations, elapsed)
}
