package migrations

import (
	"errors"
	"fmt"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// DataMigration is one applied entry of the data migration log.
type DataMigration struct {
	ID        string    `gorm:"primaryKey;size:200;column:id"`
	AppliedAt time.Time `gorm:"not null;column:applied_at"`
}

func (DataMigration) TableName() string { return "data_migrations" }

type dataMigration struct {
	id    string
	apply func(tx *gorm.DB) error
}

// registry is applied in order. Ids are permanent; append only.
var registry = []dataMigration{
	{id: "00001_uppercase_trade_mode", apply: uppercaseTradeMode},
}

// Run applies every registered data migration that is missing from the log.
func Run(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	if err := db.AutoMigrate(&DataMigration{}); err != nil {
		return fmt.Errorf("create data_migrations: %w", err)
	}

	for _, m := range registry {
		applied, err := RunOnce(db, m.id, m.apply)
		if err != nil {
			return err
		}
		if applied {
			logger.WithField("migration", m.id).Info("[database] data migration applied")
		}
	}
	return nil
}

// RunOnce applies fn inside a transaction unless id is already logged, and
// logs id in the same transaction. It reports whether fn ran.
func RunOnce(db *gorm.DB, id string, fn func(tx *gorm.DB) error) (bool, error) {
	if id == "" || fn == nil {
		return false, fmt.Errorf("invalid data migration %q", id)
	}

	applied := false
	err := db.Transaction(func(tx *gorm.DB) error {
		err := tx.Where("id = ?", id).Take(&DataMigration{}).Error
		switch {
		case err == nil:
			return nil
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return fmt.Errorf("lookup data migration %q: %w", id, err)
		}

		if err := fn(tx); err != nil {
			return fmt.Errorf("data migration %q: %w", id, err)
		}
		applied = true
		return tx.Create(&DataMigration{ID: id, AppliedAt: time.Now().UTC()}).Error
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}
