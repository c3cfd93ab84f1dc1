package migrations

import (
	"fmt"

	"gorm.io/gorm"
)

var legacySubscriberColumns = map[string]string{
	"api_key_encrypted":    "api_key",
	"api_secret_encrypted": "api_secret",
}

// PrepareLegacySubscriberColumns renames credential columns of a subscribers
// table written by the previous bot so AutoMigrate keeps the stored ciphertext
// instead of adding empty columns next to it.
func PrepareLegacySubscriberColumns(db *gorm.DB) error {
	migrator := db.Migrator()
	if !migrator.HasTable("subscribers") {
		return nil
	}

	for legacy, current := range legacySubscriberColumns {
		if !migrator.HasColumn("subscribers", legacy) || migrator.HasColumn("subscribers", current) {
			continue
		}
		if err := migrator.RenameColumn("subscribers", legacy, current); err != nil {
			return fmt.Errorf("rename subscribers.%s to %s: %w", legacy, current, err)
		}
	}

	return nil
}
