package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func addBatchesExpiryIndex() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_add_batches_expiry_index",
		Migrate: func(tx *gorm.DB) error {
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_batches_updated_at ON batches (updated_at)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Exec(`DROP INDEX IF EXISTS idx_batches_updated_at`).Error
		},
	}
}
