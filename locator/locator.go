// Package locator stores versioned element locators used to heal UI and
// mobile steps whose target could not be found.
package locator

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	// ErrLocatorNotFound is returned when no locator matches.
	ErrLocatorNotFound = errors.New("locator not found")

	// ErrMissingElementID is returned when a locator names no element.
	ErrMissingElementID = errors.New("element_id is required")

	// ErrMissingValue is returned when a locator has an empty value.
	ErrMissingValue = errors.New("locator value is required")

	// ErrInvalidStrategy is returned for an unknown strategy.
	ErrInvalidStrategy = errors.New("invalid locator strategy")
)

// Strategy is how a locator value identifies an element.
type Strategy string

const (
	StrategyCSS             Strategy = "css"
	StrategyXPath           Strategy = "xpath"
	StrategyText            Strategy = "text"
	StrategyAccessibilityID Strategy = "accessibility_id"
	StrategyCoordinates     Strategy = "coordinates"
)

// Strategies lists every strategy in healing preference order.
var Strategies = []Strategy{StrategyCSS, StrategyXPath, StrategyAccessibilityID, StrategyText, StrategyCoordinates}

// IsValid checks if the strategy is known.
func (s Strategy) IsValid() bool {
	switch s {
	case StrategyCSS, StrategyXPath, StrategyText, StrategyAccessibilityID, StrategyCoordinates:
		return true
	default:
		return false
	}
}

// Source records who produced a locator.
type Source string

const (
	SourceManual Source = "manual"
	SourceHealed Source = "healed"
)

// Locator is one version of how to find an element. At most one version
// per element is active.
type Locator struct {
	ID        uuid.UUID `json:"id" gorm:"type:char(36);primaryKey"`
	ElementID string    `json:"element_id" gorm:"type:varchar(191);not null;uniqueIndex:idx_locators_element_version,priority:1"`
	Strategy  Strategy  `json:"strategy" gorm:"type:varchar(32);not null"`
	Value     string    `json:"value" gorm:"type:text;not null"`
	Version   int       `json:"version" gorm:"not null;uniqueIndex:idx_locators_element_version,priority:2"`
	Active    bool      `json:"active" gorm:"not null;index:idx_locators_active"`
	Source    Source    `json:"source" gorm:"type:varchar(20);not null"`
	CreatedAt time.Time `json:"created_at"`
}

// BeforeCreate hook to generate UUID before creating a new locator
func (l *Locator) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}

// Validate checks the locator fields.
func (l *Locator) Validate() error {
	if strings.TrimSpace(l.ElementID) == "" {
		return ErrMissingElementID
	}
	if !l.Strategy.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidStrategy, l.Strategy)
	}
	if strings.TrimSpace(l.Value) == "" {
		return ErrMissingValue
	}
	return nil
}

// Selector renders the locator in the "strategy=value" form used by step actions.
func (l *Locator) Selector() string {
	if l.Strategy == StrategyCSS {
		return l.Value
	}
	return string(l.Strategy) + "=" + l.Value
}

// ParseSelector splits a "strategy=value" selector. Values without a known
// strategy prefix are CSS.
func ParseSelector(sel string) (Strategy, string) {
	if i := strings.Index(sel, "="); i > 0 {
		s := Strategy(sel[:i])
		if s.IsValid() {
			return s, sel[i+1:]
		}
	}
	return StrategyCSS, sel
}
