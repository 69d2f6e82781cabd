package db

import (
	"fmt"

	"github.com/lojaortopedic/atendente/internal/models"
	"gorm.io/gorm"
)

// AllModels returns every GORM model managed by atendente.
func AllModels() []interface{} {
	return []interface{}{
		&models.KVEntry{},
		&models.KVListItem{},
		&models.FinanceCase{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}
