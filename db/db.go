package db

import (
	"fmt"
	"time"

	"github.com/nordlys/erasure/config"
	"github.com/nordlys/erasure/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect opens the analytical store connection with pool limits from config.
func Connect(cfg *config.Config) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	}

	db, err := gorm.Open(postgres.Open(cfg.GetDatabaseURL()), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return db, nil
}

// Migrate creates or updates the ledger table. The activity and install
// tables belong to the warehouse's ingestion pipeline and are not managed
// here.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.DeletionRequest{}); err != nil {
		return fmt.Errorf("failed to migrate ledger table: %w", err)
	}
	return nil
}
