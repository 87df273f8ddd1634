package testutil

import (
	"testing"

	"gorm.io/gorm"
)

// CreateFixtures inserts each model directly, bypassing stores.
func CreateFixtures(t *testing.T, db *gorm.DB, models ...interface{}) {
	t.Helper()
	for _, model := range models {
		if err := db.Create(model).Error; err != nil {
			t.Fatalf("failed to create fixture %T: %v", model, err)
		}
	}
}
