package locator

import (
	"context"
	"errors"
	"fmt"

	"github.com/hairizuan-noorazman/testflow/internal/keylock"
	"github.com/hairizuan-noorazman/testflow/logger"
	"gorm.io/gorm"
)

// MySQLStore implements the Store interface using GORM. Writes for one
// element are serialized in-process; the unique (element_id, version)
// index rejects concurrent writers from other processes.
type MySQLStore struct {
	db     *gorm.DB
	locks  *keylock.Locker
	logger logger.Logger
}

// NewMySQLStore creates a new GORM-backed locator store.
func NewMySQLStore(db *gorm.DB, log logger.Logger) *MySQLStore {
	return &MySQLStore{
		db:     db,
		locks:  keylock.New(),
		logger: log,
	}
}

// ResolveLocator returns the hinted or active locator for an element.
func (s *MySQLStore) ResolveLocator(ctx context.Context, elementID string, hint Strategy) (*Locator, error) {
	q := s.db.WithContext(ctx).Where("element_id = ?", elementID)
	if hint != "" {
		q = q.Where("strategy = ?", hint)
	} else {
		q = q.Where("active = ?", true)
	}

	var loc Locator
	if err := q.Order("version DESC").First(&loc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLocatorNotFound
		}
		s.logger.Error(ctx, "failed to resolve locator", map[string]interface{}{
			"error":      err.Error(),
			"element_id": elementID,
			"hint":       string(hint),
		})
		return nil, err
	}
	return &loc, nil
}

// Record stores a new active version for the element.
func (s *MySQLStore) Record(ctx context.Context, elementID string, strategy Strategy, value string, source Source) (*Locator, error) {
	loc := &Locator{
		ElementID: elementID,
		Strategy:  strategy,
		Value:     value,
		Active:    true,
		Source:    source,
	}
	if err := loc.Validate(); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(elementID)
	defer unlock()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxVersion int
		if err := tx.Model(&Locator{}).
			Where("element_id = ?", elementID).
			Select("COALESCE(MAX(version), 0)").
			Scan(&maxVersion).Error; err != nil {
			return fmt.Errorf("failed to get max locator version: %w", err)
		}

		if err := tx.Model(&Locator{}).
			Where("element_id = ? AND active = ?", elementID, true).
			Update("active", false).Error; err != nil {
			return fmt.Errorf("failed to deactivate locators: %w", err)
		}

		loc.Version = maxVersion + 1
		if err := tx.Create(loc).Error; err != nil {
			return fmt.Errorf("failed to create locator: %w", err)
		}
		return nil
	})
	if err != nil {
		s.logger.Error(ctx, "failed to record locator", map[string]interface{}{
			"error":      err.Error(),
			"element_id": elementID,
		})
		return nil, err
	}

	s.logger.Info(ctx, "locator recorded", map[string]interface{}{
		"element_id": elementID,
		"version":    loc.Version,
		"strategy":   string(strategy),
		"source":     string(source),
	})
	return loc, nil
}

// History returns every version for the element, newest first.
func (s *MySQLStore) History(ctx context.Context, elementID string) ([]*Locator, error) {
	var locs []*Locator
	err := s.db.WithContext(ctx).
		Where("element_id = ?", elementID).
		Order("version DESC").
		Find(&locs).Error
	if err != nil {
		s.logger.Error(ctx, "failed to list locator history", map[string]interface{}{
			"error":      err.Error(),
			"element_id": elementID,
		})
		return nil, err
	}
	return locs, nil
}
