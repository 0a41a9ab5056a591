package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/dunning-engine/internal/repository"
	"gorm.io/gorm"
)

func createRetryConfigsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_retry_configs",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&repository.RetryConfigModel{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.RetryConfigModel{})
		},
	}
}
