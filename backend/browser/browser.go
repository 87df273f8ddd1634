// Package browser executes UI steps in Chrome through go-rod. Each run and
// case pair gets its own page so that consecutive steps share navigation
// state; pages are closed when the router finishes the run.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"
	"github.com/hairizuan-noorazman/testflow/backend"
	"github.com/hairizuan-noorazman/testflow/locator"
	"github.com/hairizuan-noorazman/testflow/logger"
)

// Config configures the browser executor.
type Config struct {
	// ControlURL is the DevTools websocket of a running Chrome. When empty a
	// local browser is launched.
	ControlURL        string
	Headless          bool
	ElementTimeout    time.Duration
	NavigationTimeout time.Duration
}

type pageKey struct {
	run  uuid.UUID
	test uuid.UUID
}

// Executor runs UI steps.
type Executor struct {
	cfg    Config
	logger logger.Logger

	mu      sync.Mutex
	browser *rod.Browser
	pages   map[pageKey]*rod.Page
}

// NewExecutor creates a browser executor. The browser is connected lazily
// on the first step.
func NewExecutor(cfg Config, log logger.Logger) *Executor {
	if cfg.ElementTimeout <= 0 {
		cfg.ElementTimeout = 5 * time.Second
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 30 * time.Second
	}
	return &Executor{
		cfg:    cfg,
		logger: log,
		pages:  make(map[pageKey]*rod.Page),
	}
}

// Execute performs the step's browser action.
func (e *Executor) Execute(ctx context.Context, inv backend.Invocation) (backend.Outcome, error) {
	if inv.Step == nil || inv.Case == nil {
		return backend.Outcome{}, backend.Failuref(backend.FailureInfrastructure, "invocation has no step")
	}

	page, err := e.page(ctx, inv)
	if err != nil {
		return backend.Outcome{}, backend.WrapFailure(backend.FailureInfrastructure, "browser unavailable", err)
	}
	p := page.Context(ctx)
	action := inv.Step.Action

	name := strings.ToLower(action.String("action"))
	var detail string
	switch name {
	case "navigate", "open", "goto":
		url := action.String("url")
		if url == "" {
			return backend.Outcome{}, backend.Failuref(backend.FailureInfrastructure, "navigate step %d has no url", inv.Step.Index)
		}
		if err := p.Timeout(e.cfg.NavigationTimeout).Navigate(url); err != nil {
			return backend.Outcome{}, e.fail(ctx, page, "navigation failed", err)
		}
		if err := p.Timeout(e.cfg.NavigationTimeout).WaitLoad(); err != nil {
			return backend.Outcome{}, e.fail(ctx, page, "page did not load", err)
		}
		detail = "navigated to " + url

	case "click", "tap":
		sel := inv.EffectiveSelector()
		if strategy, value := locator.ParseSelector(sel); strategy == locator.StrategyCoordinates {
			if err := clickAt(p, value); err != nil {
				return backend.Outcome{}, e.fail(ctx, page, "click failed", err)
			}
		} else {
			el, err := e.locate(ctx, p, sel)
			if err != nil {
				return backend.Outcome{}, e.fail(ctx, page, "element lookup failed", err)
			}
			if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
				return backend.Outcome{}, e.fail(ctx, page, "click failed", err)
			}
		}
		detail = "clicked " + sel

	case "type", "fill":
		sel := inv.EffectiveSelector()
		el, err := e.locate(ctx, p, sel)
		if err != nil {
			return backend.Outcome{}, e.fail(ctx, page, "element lookup failed", err)
		}
		if err := el.Input(action.String("value")); err != nil {
			return backend.Outcome{}, e.fail(ctx, page, "input failed", err)
		}
		detail = "typed into " + sel

	case "assert_text", "wait":
		sel := inv.EffectiveSelector()
		el, err := e.locate(ctx, p, sel)
		if err != nil {
			return backend.Outcome{}, e.fail(ctx, page, "element lookup failed", err)
		}
		if want := action.String("expected"); want != "" {
			got, err := el.Text()
			if err != nil {
				return backend.Outcome{}, e.fail(ctx, page, "failed to read text", err)
			}
			if !strings.Contains(got, want) {
				return backend.Outcome{}, e.fail(ctx, page, "text assertion failed",
					backend.Failuref(backend.FailureAssertion, "expected %q in %q", want, got))
			}
		}
		detail = "found " + sel

	case "screenshot":
		detail = "captured page"

	default:
		return backend.Outcome{}, backend.Failuref(backend.FailureInfrastructure, "unsupported ui action %q", name)
	}

	shot, _ := p.Screenshot(false, nil)
	return backend.Outcome{
		Detail:       detail,
		Artifact:     shot,
		ArtifactType: "image/png",
	}, nil
}

// FinishRun closes every page opened for the run and returns the first close failure.
func (e *Executor) FinishRun(ctx context.Context, runID uuid.UUID) error {
	e.mu.Lock()
	var pages []*rod.Page
	for k, p := range e.pages {
		if k.run == runID {
			pages = append(pages, p)
			delete(e.pages, k)
		}
	}
	e.mu.Unlock()

	var first error
	for _, p := range pages {
		if err := p.Close(); err != nil {
			e.logger.Warn(ctx, "failed to close page", map[string]interface{}{
				"error":  err.Error(),
				"run_id": runID.String(),
			})
			if first == nil {
				first = fmt.Errorf("close page: %w", err)
			}
		}
	}
	return first
}

// Close disconnects from the browser.
func (e *Executor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.browser == nil {
		return nil
	}
	err := e.browser.Close()
	e.browser = nil
	e.pages = make(map[pageKey]*rod.Page)
	return err
}

func (e *Executor) page(ctx context.Context, inv backend.Invocation) (*rod.Page, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.browser == nil {
		controlURL := e.cfg.ControlURL
		if controlURL == "" {
			u, err := launcher.New().Headless(e.cfg.Headless).Launch()
			if err != nil {
				return nil, fmt.Errorf("failed to launch browser: %w", err)
			}
			controlURL = u
		}
		// The browser outlives any single step, so it is not bound to ctx.
		b := rod.New().ControlURL(controlURL)
		if err := b.Connect(); err != nil {
			return nil, fmt.Errorf("connect to chrome: %w", err)
		}
		e.browser = b
		e.logger.Info(ctx, "browser connected", map[string]interface{}{"control_url": controlURL})
	}

	key := pageKey{run: inv.RunID, test: inv.Case.ID}
	if p, ok := e.pages[key]; ok {
		return p, nil
	}
	p, err := e.browser.Page(proto.TargetCreateTarget{URL: ""})
	if err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	e.pages[key] = p
	return p, nil
}

func (e *Executor) locate(ctx context.Context, p *rod.Page, sel string) (*rod.Element, error) {
	if sel == "" {
		return nil, backend.Failuref(backend.FailureInfrastructure, "step has no selector")
	}
	strategy, value := locator.ParseSelector(sel)
	scoped := p.Timeout(e.cfg.ElementTimeout)

	var (
		el  *rod.Element
		err error
	)
	switch strategy {
	case locator.StrategyXPath:
		el, err = scoped.ElementX(value)
	case locator.StrategyText:
		el, err = scoped.ElementR(textCandidates, textPattern(value))
	case locator.StrategyAccessibilityID:
		el, err = scoped.Element(accessibilitySelector(value))
	default:
		el, err = scoped.Element(value)
	}
	if err == nil {
		return el, nil
	}

	var notFound *rod.ElementNotFoundError
	switch {
	case ctx.Err() != nil:
		return nil, backend.WrapFailure(backend.FailureTimeout, "step deadline exceeded", err)
	case errors.As(err, &notFound), errors.Is(err, context.DeadlineExceeded):
		return nil, backend.WrapFailure(backend.FailureTargetNotFound, "no element matches "+sel, err)
	default:
		return nil, backend.WrapFailure(backend.FailureInfrastructure, "element lookup failed", err)
	}
}

func clickAt(p *rod.Page, value string) error {
	x, y, err := parseCoordinates(value)
	if err != nil {
		return backend.WrapFailure(backend.FailureInfrastructure, "bad coordinates", err)
	}
	if err := p.Mouse.MoveTo(proto.Point{X: x, Y: y}); err != nil {
		return err
	}
	return p.Mouse.Click(proto.InputMouseButtonLeft, 1)
}

// fail attaches a screenshot to the failure. Lookups already return a
// classified Failure; anything else is treated as an infrastructure error.
func (e *Executor) fail(ctx context.Context, page *rod.Page, msg string, err error) error {
	var f *backend.Failure
	if !errors.As(err, &f) {
		kind := backend.FailureInfrastructure
		if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
			kind = backend.FailureTimeout
		}
		f = backend.WrapFailure(kind, msg, err)
	}
	if shot, serr := page.Screenshot(false, nil); serr == nil {
		f.Artifact = shot
		f.ArtifactType = "image/png"
	}
	return f
}
