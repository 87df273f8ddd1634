package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hairizuan-noorazman/testflow/backend"
	"github.com/hairizuan-noorazman/testflow/evidence"
	"github.com/hairizuan-noorazman/testflow/locator"
	"github.com/hairizuan-noorazman/testflow/logger"
	"github.com/hairizuan-noorazman/testflow/testcase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(policy Policy, opts ...Option) (*Engine, *noWait, *evidence.MemorySink) {
	sink := evidence.NewMemorySink()
	w := &noWait{}
	e := NewEngine(policy, logger.NewTestLogger(), append([]Option{WithSink(sink)}, opts...)...)
	e.wait = w.wait
	return e, w, sink
}

func states(trace []Transition) []State {
	out := []State{}
	for _, tr := range trace {
		out = append(out, tr.To)
	}
	return out
}

func TestEngine_SucceedsFirstAttempt(t *testing.T) {
	e, w, sink := newEngine(DefaultPolicy())
	s := &script{}

	res := e.Execute(context.Background(), newRequest(testcase.Step{Index: 1, Description: "GET /health"}, testcase.TypeAPI), s.call)

	assert.True(t, res.Passed)
	assert.Equal(t, StateSucceeded, res.State)
	assert.Equal(t, 1, res.Attempts)
	assert.Zero(t, res.HealingInvocations)
	assert.NoError(t, res.Err)
	assert.Equal(t, []State{StateAttempting, StateSucceeded}, states(res.Trace))
	assert.Equal(t, StatePending, res.Trace[0].From)
	assert.Empty(t, w.delays)
	assert.Empty(t, sink.Records())
}

func TestEngine_HealsTargetNotFound(t *testing.T) {
	repo := &fakeLocators{byElement: map[string][]*locator.Locator{}}
	e, w, sink := newEngine(DefaultPolicy(), WithHealer(NewLocatorHealer(repo, repo, logger.NewTestLogger())))
	s := &script{results: []error{notFound("#login"), notFound("text=Sign in")}}

	step := testcase.Step{
		Index:       1,
		Description: `Click "Log in"`,
		ElementID:   "login.submit",
		Action:      testcase.JSONMap{"action": "click", "selector": "#login", "text": "Sign in"},
	}
	res := e.Execute(context.Background(), newRequest(step, testcase.TypeUI), s.call)

	require.True(t, res.Passed)
	assert.Equal(t, 3, res.Attempts)
	assert.GreaterOrEqual(t, res.HealingInvocations, 1)
	assert.Equal(t, 2, res.HealingInvocations)

	require.Len(t, s.calls, 3)
	assert.Equal(t, "#login", s.calls[0].EffectiveSelector())
	assert.Equal(t, "text=Sign in", s.calls[1].EffectiveSelector())
	assert.Equal(t, "text=Log in", s.calls[2].EffectiveSelector())

	assert.Equal(t, []State{
		StateAttempting, StateRetryableFailure, StateAttempting,
		StateRetryableFailure, StateAttempting, StateSucceeded,
	}, states(res.Trace))
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, w.delays)

	records := sink.Records()
	require.Len(t, records, 2)
	assert.Equal(t, "target_not_found", records[0].FailureKind)
	assert.Equal(t, 2, records[1].Attempt)

	require.Len(t, repo.recorded, 1)
	assert.Equal(t, locator.StrategyText, repo.recorded[0].Strategy)
	assert.Equal(t, "Log in", repo.recorded[0].Value)
	assert.Equal(t, locator.SourceHealed, repo.recorded[0].Source)
}

func TestEngine_ExhaustsAttempts(t *testing.T) {
	e, _, sink := newEngine(DefaultPolicy(), WithHealer(NewLocatorHealer(nil, nil, logger.NewTestLogger())))
	last := backend.Failuref(backend.FailureAssertion, "expected status 200, got 500 (third)")
	s := &script{results: []error{
		backend.Failuref(backend.FailureAssertion, "first"),
		backend.Failuref(backend.FailureInfrastructure, "second"),
		last,
	}}

	res := e.Execute(context.Background(), newRequest(testcase.Step{Index: 1, Description: "POST /orders"}, testcase.TypeAPI), s.call)

	assert.False(t, res.Passed)
	assert.Equal(t, StateTerminalFailure, res.State)
	assert.Equal(t, 3, res.Attempts)
	assert.Zero(t, res.HealingInvocations)
	assert.ErrorIs(t, res.Err, last)
	assert.Equal(t, backend.FailureAssertion, res.FailureKind)
	assert.Len(t, sink.Records(), 3)
	assert.Contains(t, res.Evidence, "attempt-3")
}

func TestEngine_AttemptTimeout(t *testing.T) {
	policy := Policy{MaxAttempts: 2, AttemptTimeout: 20 * time.Millisecond}
	e, _, _ := newEngine(policy)

	calls := 0
	call := func(ctx context.Context, inv backend.Invocation) (backend.Outcome, error) {
		calls++
		if inv.Attempt == 1 {
			<-ctx.Done()
			return backend.Outcome{}, errors.New("backend gave up")
		}
		return backend.Outcome{}, nil
	}

	res := e.Execute(context.Background(), newRequest(testcase.Step{Index: 1, Description: "slow"}, testcase.TypeAPI), call)
	assert.True(t, res.Passed)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 2, calls)
	assert.Equal(t, StateRetryableFailure, res.Trace[1].To)
	assert.Contains(t, res.Trace[1].Note, "timeout")
}

func TestEngine_HaltStopsRetries(t *testing.T) {
	e, _, _ := newEngine(DefaultPolicy())
	halt := make(chan struct{})
	close(halt)

	req := newRequest(testcase.Step{Index: 1, Description: "anything"}, testcase.TypeAPI)
	req.Halt = halt
	s := &script{results: []error{errors.New("boom"), errors.New("boom")}}

	res := e.Execute(context.Background(), req, s.call)
	assert.False(t, res.Passed)
	assert.Equal(t, 1, res.Attempts)
	assert.Len(t, s.calls, 1)
	assert.Equal(t, "halted", res.Trace[len(res.Trace)-1].Note)
}

func TestEngine_RealWaitHonoursCancel(t *testing.T) {
	policy := Policy{MaxAttempts: 3, Backoff: BackoffFixed, InitialBackoff: time.Hour}
	e := NewEngine(policy, logger.NewTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	s := &script{results: []error{errors.New("boom"), errors.New("boom"), errors.New("boom")}}
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	res := e.Execute(ctx, newRequest(testcase.Step{Index: 1, Description: "x"}, testcase.TypeAPI), s.call)
	assert.False(t, res.Passed)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, StateTerminalFailure, res.State)
}

func TestEngine_SuccessEvidence(t *testing.T) {
	e, _, sink := newEngine(DefaultPolicy())
	call := func(ctx context.Context, inv backend.Invocation) (backend.Outcome, error) {
		return backend.Outcome{Detail: "200", Artifact: []byte(`{"ok":true}`), ArtifactType: "application/json"}, nil
	}
	res := e.Execute(context.Background(), newRequest(testcase.Step{Index: 1, Description: "x"}, testcase.TypeAPI), call)
	require.True(t, res.Passed)
	assert.NotEmpty(t, res.Evidence)
	require.Len(t, sink.Records(), 1)
	assert.True(t, sink.Records()[0].Passed)
}
