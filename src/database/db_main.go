package database

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"signalrelay/src/database/migrations"
	"signalrelay/src/model"
)

// Open connects to the configured store and brings the schema up to date.
// The returned handle is owned by the caller and passed to repositories.
func Open(config Config) (*gorm.DB, error) {
	dialector, driver := dialectorFor(config)

	db, err := gorm.Open(dialector,
		&gorm.Config{
			TranslateError: true,
			Logger:         logger.Default.LogMode(logger.LogLevel(config.GormLogLevel)),
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s database: %w", driver, err)
	}

	if err := tunePool(db, driver); err != nil {
		return nil, err
	}

	logrus.WithField("driver", driver).Info("[database] connection established")

	if err := Migrate(db); err != nil {
		_ = Close(db)
		return nil, err
	}
	return db, nil
}

// Migrate runs schema and data migrations.
func Migrate(db *gorm.DB) error {
	// Stores created by the previous bot used *_encrypted credential columns.
	if err := migrations.PrepareLegacySubscriberColumns(db); err != nil {
		return fmt.Errorf("failed to prepare legacy subscriber columns: %w", err)
	}

	if err := db.AutoMigrate(
		&model.Subscriber{},
		&model.TradeHistory{},
		&model.SignalRecord{},
		&model.PendingConfirmation{},
		&model.TrackedSignal{},
		&model.Exception{},
		&migrations.DataMigration{},
	); err != nil {
		return fmt.Errorf("failed to run schema migrations: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		return fmt.Errorf("failed to run data migrations: %w", err)
	}

	logrus.Info("[database] migrations completed")
	return nil
}
