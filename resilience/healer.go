package resilience

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/hairizuan-noorazman/testflow/backend"
	"github.com/hairizuan-noorazman/testflow/locator"
	"github.com/hairizuan-noorazman/testflow/logger"
	"github.com/hairizuan-noorazman/testflow/testcase"
)

// HintSource says where a healed selector came from.
type HintSource string

const (
	SourceRepository HintSource = "repository"
	SourceFallback   HintSource = "fallback"
)

// Hint is an alternate selector proposed by a Healer.
type Hint struct {
	Selector string           `json:"selector"`
	Strategy locator.Strategy `json:"strategy"`
	Value    string           `json:"value"`
	Source   HintSource       `json:"source"`
	// Active is set when the hint is already the element's active locator.
	Active bool `json:"active"`
}

// Healer proposes alternate selectors after target-not-found failures.
type Healer interface {
	// Heal returns a selector not in tried, or nil when none is left.
	Heal(ctx context.Context, req Request, tried []string) (*Hint, error)

	// Confirm is called once a healed selector has succeeded.
	Confirm(ctx context.Context, req Request, hint *Hint) error
}

// LocatorRecorder persists a locator that healing proved to work.
type LocatorRecorder interface {
	Record(ctx context.Context, elementID string, strategy locator.Strategy, value string, source locator.Source) (*locator.Locator, error)
}

// LocatorHealer consults the locator repository first, then falls back to
// text or coordinates carried by the step itself.
type LocatorHealer struct {
	resolver backend.LocatorResolver
	recorder LocatorRecorder
	logger   logger.Logger
}

// NewLocatorHealer creates a healer. Either dependency may be nil.
func NewLocatorHealer(resolver backend.LocatorResolver, recorder LocatorRecorder, log logger.Logger) *LocatorHealer {
	return &LocatorHealer{
		resolver: resolver,
		recorder: recorder,
		logger:   log,
	}
}

var quoted = regexp.MustCompile(`["“']([^"”']+)["”']`)

// Heal implements Healer.
func (h *LocatorHealer) Heal(ctx context.Context, req Request, tried []string) (*Hint, error) {
	if req.Step == nil {
		return nil, nil
	}
	seen := make(map[string]bool, len(tried))
	for _, t := range tried {
		seen[t] = true
	}

	if hint, err := h.fromRepository(ctx, req.Step.ElementID, seen); hint != nil || err != nil {
		return hint, err
	}
	return fallback(req, seen), nil
}

func (h *LocatorHealer) fromRepository(ctx context.Context, elementID string, seen map[string]bool) (*Hint, error) {
	if elementID == "" || h.resolver == nil {
		return nil, nil
	}

	active, err := h.resolver.ResolveLocator(ctx, elementID, "")
	if err != nil && !errors.Is(err, locator.ErrLocatorNotFound) {
		return nil, fmt.Errorf("failed to resolve locator for %s: %w", elementID, err)
	}
	if active != nil && !seen[active.Selector()] {
		return &Hint{Selector: active.Selector(), Strategy: active.Strategy, Value: active.Value, Source: SourceRepository, Active: true}, nil
	}

	for _, s := range locator.Strategies {
		loc, err := h.resolver.ResolveLocator(ctx, elementID, s)
		if errors.Is(err, locator.ErrLocatorNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s locator for %s: %w", s, elementID, err)
		}
		if sel := loc.Selector(); !seen[sel] {
			return &Hint{Selector: sel, Strategy: loc.Strategy, Value: loc.Value, Source: SourceRepository}, nil
		}
	}
	return nil, nil
}

func fallback(req Request, seen map[string]bool) *Hint {
	action := req.Step.Action
	var candidates []*Hint

	if req.Type == testcase.TypeMobile {
		x, okX := action.Int("x")
		y, okY := action.Int("y")
		if okX && okY {
			v := fmt.Sprintf("%d,%d", x, y)
			candidates = append(candidates, &Hint{Strategy: locator.StrategyCoordinates, Value: v})
		}
	}
	for _, key := range []string{"text", "label", "value"} {
		if v := action.String(key); v != "" {
			candidates = append(candidates, &Hint{Strategy: locator.StrategyText, Value: v})
		}
	}
	if m := quoted.FindStringSubmatch(req.Step.Description); m != nil {
		candidates = append(candidates, &Hint{Strategy: locator.StrategyText, Value: m[1]})
	}

	for _, c := range candidates {
		c.Selector = (&locator.Locator{Strategy: c.Strategy, Value: c.Value}).Selector()
		c.Source = SourceFallback
		if !seen[c.Selector] {
			return c
		}
	}
	return nil
}

// Confirm stores a working selector as the element's new active locator.
func (h *LocatorHealer) Confirm(ctx context.Context, req Request, hint *Hint) error {
	if hint == nil || hint.Active || h.recorder == nil || req.Step == nil || req.Step.ElementID == "" {
		return nil
	}
	loc, err := h.recorder.Record(ctx, req.Step.ElementID, hint.Strategy, hint.Value, locator.SourceHealed)
	if err != nil {
		return err
	}
	h.logger.Info(ctx, "healed locator recorded", map[string]interface{}{
		"element_id": loc.ElementID,
		"version":    loc.Version,
		"strategy":   string(loc.Strategy),
	})
	return nil
}
