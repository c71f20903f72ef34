package db

import (
	"swarmtrade/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	return db.Gorm.AutoMigrate(
		&models.Flow{},
		&models.Execution{},
		&models.Order{},
		&models.Fill{},
		&models.Position{},
		&models.Transaction{},
		&models.PortfolioSnapshot{},
		&models.SystemSetting{},
	)
}
