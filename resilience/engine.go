// Package resilience wraps every step dispatch in a bounded retry state
// machine with backoff, per-attempt timeouts and locator self-healing.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/hairizuan-noorazman/testflow/backend"
	"github.com/hairizuan-noorazman/testflow/evidence"
	"github.com/hairizuan-noorazman/testflow/internal/clock"
	"github.com/hairizuan-noorazman/testflow/logger"
	"github.com/hairizuan-noorazman/testflow/testcase"
)

// State is a node of the per-step state machine.
type State string

const (
	StatePending          State = "pending"
	StateAttempting       State = "attempting"
	StateSucceeded        State = "succeeded"
	StateRetryableFailure State = "retryable_failure"
	StateTerminalFailure  State = "terminal_failure"
)

// Transition records one edge taken by the state machine.
type Transition struct {
	From    State  `json:"from"`
	To      State  `json:"to"`
	Attempt int    `json:"attempt"`
	Note    string `json:"note,omitempty"`
}

// Request identifies the step being executed.
type Request struct {
	RunID uuid.UUID
	Case  *testcase.TestCase
	Step  *testcase.Step
	Type  testcase.Type

	// Halt is closed when the run is cancelled. The attempt in flight
	// completes; no further attempts are made.
	Halt <-chan struct{}
}

// Call performs one attempt.
type Call func(ctx context.Context, inv backend.Invocation) (backend.Outcome, error)

// Result is the outcome of all attempts for a step.
type Result struct {
	Passed             bool
	State              State
	Attempts           int
	HealingInvocations int
	Evidence           string
	Detail             string
	Err                error
	FailureKind        backend.FailureKind
	Healed             *Hint
	Trace              []Transition
	Elapsed            time.Duration
}

// Engine runs steps under a Policy.
type Engine struct {
	policy Policy
	healer Healer
	sink   evidence.Sink
	clock  clock.Clock
	logger logger.Logger
	wait   func(ctx context.Context, halt <-chan struct{}, d time.Duration) bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithHealer sets the healer invoked on target-not-found failures.
func WithHealer(h Healer) Option {
	return func(e *Engine) { e.healer = h }
}

// WithSink sets where attempt evidence is sent.
func WithSink(s evidence.Sink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithClock overrides the clock used for evidence timestamps.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// NewEngine creates an engine.
func NewEngine(policy Policy, log logger.Logger, opts ...Option) *Engine {
	e := &Engine{
		policy: policy.normalized(),
		sink:   evidence.NopSink{},
		clock:  clock.System{},
		logger: log,
		wait:   sleep,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the engine's effective policy.
func (e *Engine) Policy() Policy {
	return e.policy
}

type machine struct {
	state State
	res   *Result
}

func (m *machine) move(to State, attempt int, note string) {
	m.res.Trace = append(m.res.Trace, Transition{From: m.state, To: to, Attempt: attempt, Note: note})
	m.state = to
	m.res.State = to
}

// Execute runs call until it succeeds, the attempt budget is spent, or the
// run is halted. Failures are reported in the Result, never as a panic or
// separate error.
func (e *Engine) Execute(ctx context.Context, req Request, call Call) Result {
	start := time.Now()
	res := Result{State: StatePending}
	m := &machine{state: StatePending, res: &res}

	inv := backend.Invocation{
		RunID: req.RunID,
		Case:  req.Case,
		Step:  req.Step,
		Type:  req.Type,
	}
	var tried []string

	m.move(StateAttempting, 1, "")
	for attempt := 1; ; attempt++ {
		inv.Attempt = attempt
		res.Attempts = attempt
		if sel := inv.EffectiveSelector(); sel != "" {
			tried = append(tried, sel)
		}

		out, err := e.attempt(ctx, inv, call)
		if err == nil {
			res.Passed = true
			res.Detail = out.Detail
			res.Err = nil
			res.FailureKind = ""
			if len(out.Artifact) > 0 {
				res.Evidence = e.capture(ctx, req, inv, nil, out.Artifact, out.ArtifactType)
			}
			if res.Healed != nil && e.healer != nil {
				if cerr := e.healer.Confirm(ctx, req, res.Healed); cerr != nil {
					e.logger.Warn(ctx, "failed to record healed locator", map[string]interface{}{
						"error":      cerr.Error(),
						"element_id": req.Step.ElementID,
					})
				}
			}
			m.move(StateSucceeded, attempt, out.Detail)
			break
		}

		res.Err = err
		res.FailureKind = backend.KindOf(err)
		art, artType := backend.ArtifactOf(err)
		if h := e.capture(ctx, req, inv, err, art, artType); h != "" {
			res.Evidence = h
		}

		if attempt >= e.policy.MaxAttempts {
			m.move(StateTerminalFailure, attempt, "attempts exhausted: "+err.Error())
			break
		}
		if ctx.Err() != nil || halted(req.Halt) {
			m.move(StateTerminalFailure, attempt, "halted")
			break
		}
		m.move(StateRetryableFailure, attempt, err.Error())

		e.logger.Warn(ctx, "step attempt failed, retrying", map[string]interface{}{
			"run_id":       req.RunID.String(),
			"step_id":      req.Step.ID.String(),
			"attempt":      attempt,
			"failure_kind": string(res.FailureKind),
			"error":        err.Error(),
		})

		if res.FailureKind == backend.FailureTargetNotFound && e.healer != nil {
			res.HealingInvocations++
			hint, herr := e.healer.Heal(ctx, req, tried)
			switch {
			case herr != nil:
				e.logger.Warn(ctx, "self-healing failed", map[string]interface{}{
					"error":   herr.Error(),
					"step_id": req.Step.ID.String(),
				})
			case hint != nil:
				inv.Selector = hint.Selector
				res.Healed = hint
				e.logger.Info(ctx, "self-healing selected alternate locator", map[string]interface{}{
					"step_id":  req.Step.ID.String(),
					"selector": hint.Selector,
					"source":   string(hint.Source),
				})
			}
		}

		if !e.wait(ctx, req.Halt, e.policy.Delay(attempt)) {
			m.move(StateTerminalFailure, attempt, "halted")
			break
		}
		m.move(StateAttempting, attempt+1, "")
	}

	res.Elapsed = time.Since(start)
	return res
}

func (e *Engine) attempt(ctx context.Context, inv backend.Invocation, call Call) (backend.Outcome, error) {
	actx := ctx
	if e.policy.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, e.policy.AttemptTimeout)
		defer cancel()
	}
	out, err := call(actx, inv)
	if err == nil {
		return out, nil
	}
	if errors.Is(actx.Err(), context.DeadlineExceeded) && ctx.Err() == nil && backend.KindOf(err) != backend.FailureTimeout {
		return out, backend.WrapFailure(backend.FailureTimeout, "attempt timed out", err)
	}
	return out, err
}

func (e *Engine) capture(ctx context.Context, req Request, inv backend.Invocation, err error, artifact []byte, artifactType string) string {
	rec := evidence.Record{
		RunID:        req.RunID,
		StepID:       req.Step.ID,
		StepIndex:    req.Step.Index,
		Attempt:      inv.Attempt,
		Backend:      string(req.Type),
		Passed:       err == nil,
		Selector:     inv.EffectiveSelector(),
		CapturedAt:   e.clock.Now(),
		Artifact:     artifact,
		ArtifactType: artifactType,
	}
	if req.Case != nil {
		rec.CaseKey = req.Case.CaseKey
	}
	if err != nil {
		rec.FailureKind = string(backend.KindOf(err))
		rec.Message = err.Error()
	}

	// Evidence is written even when the run is being cancelled.
	handle, serr := e.sink.Capture(context.WithoutCancel(ctx), rec)
	if serr != nil {
		e.logger.Error(ctx, "failed to capture evidence", map[string]interface{}{
			"error":   serr.Error(),
			"run_id":  req.RunID.String(),
			"step_id": req.Step.ID.String(),
			"attempt": inv.Attempt,
		})
		return ""
	}
	return handle
}

func halted(halt <-chan struct{}) bool {
	if halt == nil {
		return false
	}
	select {
	case <-halt:
		return true
	default:
		return false
	}
}

func sleep(ctx context.Context, halt <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil && !halted(halt)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-halt:
		return false
	case <-t.C:
		return true
	}
}
