package migrations

import (
	"gorm.io/gorm"
)

// uppercaseTradeMode normalises lowercase auto/manual values written by the
// previous bot; anything unknown falls back to AUTO.
func uppercaseTradeMode(db *gorm.DB) error {
	if err := db.Exec("UPDATE subscribers SET trade_mode = UPPER(trade_mode) WHERE trade_mode IS NOT NULL").Error; err != nil {
		return err
	}
	return db.Exec("UPDATE subscribers SET trade_mode = 'AUTO' WHERE trade_mode IS NULL OR trade_mode NOT IN ('AUTO', 'MANUAL')").Error
}
