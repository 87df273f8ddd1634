// Package backend defines the capabilities the execution router dispatches
// to: classifiers that pick a backend type for a step, executors that run a
// step on that backend, and the locator resolver used for self-healing.
package backend

import (
	"context"

	"github.com/google/uuid"
	"github.com/hairizuan-noorazman/testflow/locator"
	"github.com/hairizuan-noorazman/testflow/testcase"
)

// Unclassified is returned by a Classifier that cannot decide.
const Unclassified testcase.Type = ""

// ClassifyContext carries case-level information a classifier may use.
type ClassifyContext struct {
	CaseKey   string
	UserStory string
	Title     string
}

// Classifier determines which backend type should execute a step.
type Classifier interface {
	Classify(ctx context.Context, text string, cc ClassifyContext) (testcase.Type, error)
}

// ClassifierFunc adapts a function to the Classifier interface.
type ClassifierFunc func(ctx context.Context, text string, cc ClassifyContext) (testcase.Type, error)

// Classify calls f.
func (f ClassifierFunc) Classify(ctx context.Context, text string, cc ClassifyContext) (testcase.Type, error) {
	return f(ctx, text, cc)
}

// Invocation is a single attempt to execute one step.
type Invocation struct {
	RunID   uuid.UUID
	Case    *testcase.TestCase
	Step    *testcase.Step
	Type    testcase.Type
	Attempt int

	// Selector overrides the step's own selector after self-healing. It uses
	// the "strategy=value" form understood by locator.ParseSelector.
	Selector string
}

// EffectiveSelector returns the healed selector when set, otherwise the
// selector from the step action.
func (inv Invocation) EffectiveSelector() string {
	if inv.Selector != "" {
		return inv.Selector
	}
	if inv.Step == nil {
		return ""
	}
	return inv.Step.Action.String("selector")
}

// Outcome is the result of a successful invocation.
type Outcome struct {
	Detail string
	// Artifact is optional raw evidence (screenshot, response body).
	Artifact     []byte
	ArtifactType string
}

// Executor runs a step on one backend.
type Executor interface {
	Execute(ctx context.Context, inv Invocation) (Outcome, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, inv Invocation) (Outcome, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, inv Invocation) (Outcome, error) {
	return f(ctx, inv)
}

// RunFinisher is implemented by executors holding per-run state, such as
// browser pages, that must be released once a run completes.
type RunFinisher interface {
	FinishRun(ctx context.Context, runID uuid.UUID) error
}

// LocatorResolver looks up alternate locators for an element.
type LocatorResolver interface {
	ResolveLocator(ctx context.Context, elementID string, hint locator.Strategy) (*locator.Locator, error)
}
