package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/sitemap-engine/internal/repository"
	"gorm.io/gorm"
)

func createFileJobsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_file_jobs",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.FileJobModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_file_jobs_batch_position ON file_jobs (batch_id, position)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.FileJobModel{})
		},
	}
}
