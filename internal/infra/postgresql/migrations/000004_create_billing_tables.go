package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/dunning-engine/internal/repository"
	"gorm.io/gorm"
)

func createBillingTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000004_create_billing_tables",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(
				&repository.InvoiceModel{},
				&repository.CustomerModel{},
				&repository.PaymentModel{},
				&repository.ContractModel{},
			)
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(
				&repository.ContractModel{},
				&repository.PaymentModel{},
				&repository.CustomerModel{},
				&repository.InvoiceModel{},
			)
		},
	}
}
