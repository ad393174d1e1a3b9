package store

import "gorm.io/gorm"

// Migrate applies the gateway's schema to db via gorm AutoMigrate, the same
// migration path the teacher's own database package relies on rather than
// hand-written SQL migration files.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&ProviderModel{}, &SubProviderModel{}, &ApiRequestModel{})
}
