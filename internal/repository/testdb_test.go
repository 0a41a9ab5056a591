package repository_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/dunning-engine/internal/domain"
	"github.com/kursadbilgin/dunning-engine/internal/infra/postgresql"
	"github.com/kursadbilgin/dunning-engine/internal/infra/postgresql/migrations"
	"github.com/kursadbilgin/dunning-engine/internal/repository"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var baseTime = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), postgresql.GormConfig())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := migrations.Migrate(db); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return db
}

func seedInvoice(t *testing.T, db *gorm.DB, id string, customerID string) *domain.Invoice {
	t.Helper()

	model := &repository.InvoiceModel{
		ID:          id,
		TenantID:    "tenant-1",
		CustomerID:  customerID,
		Number:      id,
		TotalAmount: decimal.RequireFromString("49.99"),
		Currency:    "EUR",
		Status:      domain.InvoiceStatusOpen,
		CreatedAt:   baseTime,
		UpdatedAt:   baseTime,
	}
	if err := db.Create(model).Error; err != nil {
		t.Fatalf("seed invoice: %v", err)
	}
	return &domain.Invoice{
		ID:          model.ID,
		TenantID:    model.TenantID,
		CustomerID:  model.CustomerID,
		Number:      model.Number,
		TotalAmount: model.TotalAmount,
		Currency:    model.Currency,
		Status:      model.Status,
	}
}

func seedCustomer(t *testing.T, db *gorm.DB, id string) {
	t.Helper()

	model := &repository.CustomerModel{
		ID:        id,
		TenantID:  "tenant-1",
		Name:      "Jane Doe",
		Email:     "jane@example.com",
		CreatedAt: baseTime.AddDate(0, -6, 0),
		UpdatedAt: baseTime,
	}
	if err := db.Create(model).Error; err != nil {
		t.Fatalf("seed customer: %v", err)
	}
}

// newScheduledAttempt persists an attempt for invoice that is due at dueAt.
func newScheduledAttempt(t *testing.T, repo *repository.GormAttemptRepo, invoice *domain.Invoice, maxAttempts int, dueAt time.Time) *domain.RetryAttempt {
	t.Helper()

	a, err := domain.NewRetryAttempt(uuid.NewString(), invoice, maxAttempts, nil, "card_declined", "declined", nil, baseTime)
	if err != nil {
		t.Fatalf("NewRetryAttempt() error = %v", err)
	}
	if err := a.Schedule(dueAt, baseTime); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	if err := repo.Create(context.Background(), a); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return a
}
