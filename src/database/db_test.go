package database

// Test index:
//  1. TestOpenSQLiteMemory creates every table and records the data migration.
//  2. TestMigrateIsRepeatable runs Migrate twice without duplicating work.
//  3. TestMigrateLegacySubscribers renames legacy credential columns and uppercases trade modes.
//  4. TestDialectorFor picks postgres only when a URL is configured.

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"signalrelay/src/database/migrations"
	"signalrelay/src/model"
)

func openMemory(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := Open(Config{DatabasePath: ":memory:", GormLogLevel: int(logger.Silent)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })
	return db
}

func TestOpenSQLiteMemory(t *testing.T) {
	db := openMemory(t)

	for _, table := range []string{"subscribers", "trade_history", "signals", "pending_confirmations", "tracked_signals", "exceptions", "data_migrations"} {
		require.True(t, db.Migrator().HasTable(table), "missing table %s", table)
	}

	var applied []migrations.DataMigration
	require.NoError(t, db.Find(&applied).Error)
	require.Len(t, applied, 1)
	require.Equal(t, "00001_uppercase_trade_mode", applied[0].ID)

	require.NoError(t, Ping(context.Background(), db))
}

func TestMigrateIsRepeatable(t *testing.T) {
	db := openMemory(t)

	require.NoError(t, Migrate(db))
	require.NoError(t, Migrate(db))

	var count int64
	require.NoError(t, db.Model(&migrations.DataMigration{}).Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestMigrateLegacySubscribers(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, tunePool(db, DriverSQLite))
	t.Cleanup(func() { _ = Close(db) })

	require.NoError(t, db.Exec(`CREATE TABLE subscribers (
		telegram_id INTEGER PRIMARY KEY,
		username TEXT,
		api_key_encrypted TEXT NOT NULL,
		api_secret_encrypted TEXT NOT NULL,
		trade_amount_usdt REAL DEFAULT 50.0,
		max_leverage INTEGER DEFAULT 10,
		is_active INTEGER DEFAULT 1,
		trade_mode TEXT DEFAULT 'auto',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		total_trades INTEGER DEFAULT 0,
		total_pnl REAL DEFAULT 0.0
	)`).Error)
	require.NoError(t, db.Exec(`INSERT INTO subscribers (telegram_id, username, api_key_encrypted, api_secret_encrypted, trade_mode, created_at, updated_at)
		VALUES (1, 'alice', 'k-cipher', 's-cipher', 'manual', '2025-01-01 00:00:00', '2025-01-01 00:00:00'),
		       (2, 'bob', 'k2', 's2', 'weird', '2025-01-01 00:00:00', '2025-01-01 00:00:00')`).Error)

	require.NoError(t, Migrate(db))

	require.False(t, db.Migrator().HasColumn("subscribers", "api_key_encrypted"))

	var subs []model.Subscriber
	require.NoError(t, db.Select("telegram_id", "api_key", "api_secret", "trade_mode").Order("telegram_id").Find(&subs).Error)
	require.Len(t, subs, 2)
	require.Equal(t, "k-cipher", subs[0].APIKey)
	require.Equal(t, "s-cipher", subs[0].APISecret)
	require.Equal(t, model.TradeModeManual, subs[0].TradeMode)
	require.Equal(t, model.TradeModeAuto, subs[1].TradeMode)
}

func TestDialectorFor(t *testing.T) {
	_, driver := dialectorFor(Config{DatabaseURL: "postgres://u:p@localhost/db"})
	require.Equal(t, DriverPostgres, driver)

	_, driver = dialectorFor(Config{DatabasePath: "bot.db"})
	require.Equal(t, DriverSQLite, driver)

	_, driver = dialectorFor(Config{})
	require.Equal(t, DriverSQLite, driver)
}
