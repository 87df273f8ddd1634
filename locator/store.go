package locator

import "context"

// Store defines persistence for versioned locators.
type Store interface {
	// ResolveLocator returns the newest locator of the hinted strategy, or the
	// active locator when hint is empty.
	ResolveLocator(ctx context.Context, elementID string, hint Strategy) (*Locator, error)

	// Record stores a new active version for the element and deactivates the previous one.
	Record(ctx context.Context, elementID string, strategy Strategy, value string, source Source) (*Locator, error)

	// History returns every version for the element, newest first.
	History(ctx context.Context, elementID string) ([]*Locator, error)
}
