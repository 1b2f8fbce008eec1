package model

import "gorm.io/gorm"

// allModels lists every model to be auto-migrated.
var allModels = []interface{}{
	&Rule{},
	&Character{},
	&Tombstone{},
	&Preferences{},
	&AppFlag{},
	&SyncAccount{},
	&Replica{},
	&AuditLog{},
}

// AutoMigrate creates or updates all tables (and their declared secondary
// indices) in the given database.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(allModels...)
}

// DropAll drops every table; used by the store's Reset.
func DropAll(db *gorm.DB) error {
	for _, m := range allModels {
		if err := db.Migrator().DropTable(m); err != nil {
			return err
		}
	}
	return nil
}
