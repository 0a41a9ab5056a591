package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/dunning-engine/internal/repository"
	"gorm.io/gorm"
)

func createRetryAttemptsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_retry_attempts",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.RetryAttemptModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_retry_attempts_active_invoice ON retry_attempts (invoice_id) WHERE status IN ('PENDING', 'SCHEDULED', 'PROCESSING')`,
				`CREATE INDEX IF NOT EXISTS idx_retry_attempts_due ON retry_attempts (next_retry_at) WHERE status = 'SCHEDULED'`,
				`CREATE INDEX IF NOT EXISTS idx_retry_attempts_processing ON retry_attempts (claimed_at) WHERE status = 'PROCESSING'`,
				`CREATE INDEX IF NOT EXISTS idx_retry_attempts_tenant_status ON retry_attempts (tenant_id, status)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.RetryAttemptModel{})
		},
	}
}
