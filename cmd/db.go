package cmd

import (
	"time"

	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"example.com/dinehub/services/orders/config"
	"example.com/dinehub/services/orders/models"
)

// openDatabase connects to Postgres and optionally runs migrations.
func openDatabase(cfg config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DBSource), &gorm.Config{})
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to database")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get underlying DB connection")
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if cfg.EnableMigrations {
		if err := migrateModels(db); err != nil {
			return nil, errors.Wrap(err, "failed to run migrations")
		}
	}

	return db, nil
}

func migrateModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Event{},
		&models.ProjectionCheckpoint{},
		&models.OrderSession{},
		&models.Order{},
		&models.OrderItem{},
		&models.OrderStatusHistory{},
	)
}
