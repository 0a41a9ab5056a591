package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/dunning-engine/internal/repository"
	"gorm.io/gorm"
)

func createFailureAnalyticsTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_failure_analytics",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.FailureEventModel{}, &repository.RecoveryOutcomeModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_failure_events_tenant_slot ON failure_events (tenant_id, day_of_week, hour_of_day)`,
				`CREATE INDEX IF NOT EXISTS idx_failure_events_customer ON failure_events (customer_id)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.RecoveryOutcomeModel{}, &repository.FailureEventModel{})
		},
	}
}
