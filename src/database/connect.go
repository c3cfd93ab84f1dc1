package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

func dialectorFor(config Config) (gorm.Dialector, string) {
	if url := strings.TrimSpace(config.DatabaseURL); url != "" {
		return postgres.Open(url), DriverPostgres
	}
	path := config.DatabasePath
	if path == "" {
		path = "subscribers.db"
	}
	if path != ":memory:" && !strings.Contains(path, "?") {
		// concurrent broadcast writers wait on the lock instead of failing with SQLITE_BUSY
		path += "?_busy_timeout=5000&_foreign_keys=on"
	}
	return sqlite.Open(path), DriverSQLite
}

func tunePool(db *gorm.DB, driver string) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get DB from GORM: %w", err)
	}
	if driver == DriverSQLite {
		// one writer at a time; also keeps :memory: databases on a single connection
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetConnMaxLifetime(0)
		return nil
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(1 * time.Hour)
	return nil
}

// Ping verifies the underlying connection is alive.
func Ping(ctx context.Context, db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("database not initialised")
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
