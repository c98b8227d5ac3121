package db

import (
	"calc/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	return db.Gorm.AutoMigrate(
		&models.Vault{},
		&models.Trigger{},
		&models.Event{},
		&models.SwapAdjustment{},
		&models.Payout{},
	)
}
