package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/dunning-engine/internal/domain"
	"gorm.io/gorm"
)

// BillingRepository reads and writes the invoice, customer and payment
// records the engine shares with the billing subsystem.
type BillingRepository interface {
	GetInvoice(ctx context.Context, id string) (*domain.Invoice, error)
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	MarkInvoicePaid(ctx context.Context, id string, paidAt time.Time) error
	MarkInvoiceOverdue(ctx context.Context, id string, now time.Time) error
	CreatePayment(ctx context.Context, p *domain.Payment) error
	CountSuccessfulPayments(ctx context.Context, customerID string) (int64, error)
	UpdateCustomerPaymentMethod(ctx context.Context, customerID string, paymentMethodRef string, now time.Time) error
}

type GormBillingRepo struct {
	db *gorm.DB
}

func NewGormBillingRepo(db *gorm.DB) *GormBillingRepo {
	return &GormBillingRepo{db: db}
}

func (r *GormBillingRepo) GetInvoice(ctx context.Context, id string) (*domain.Invoice, error) {
	var model InvoiceModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return invoiceModelToDomain(&model), nil
}

func (r *GormBillingRepo) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	var model CustomerModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return customerModelToDomain(&model), nil
}

// MarkInvoicePaid is idempotent: an invoice that is already paid keeps its
// original paid_at.
func (r *GormBillingRepo) MarkInvoicePaid(ctx context.Context, id string, paidAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&InvoiceModel{}).
		Where("id = ? AND status <> ?", id, domain.InvoiceStatusPaid).
		Updates(map[string]any{
			"status":     domain.InvoiceStatusPaid,
			"paid_at":    paidAt,
			"updated_at": paidAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return r.ensureInvoiceExists(ctx, id)
	}
	return nil
}

// MarkInvoiceOverdue never downgrades a paid invoice.
func (r *GormBillingRepo) MarkInvoiceOverdue(ctx context.Context, id string, now time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&InvoiceModel{}).
		Where("id = ? AND status = ?", id, domain.InvoiceStatusOpen).
		Updates(map[string]any{
			"status":     domain.InvoiceStatusOverdue,
			"updated_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return r.ensureInvoiceExists(ctx, id)
	}
	return nil
}

func (r *GormBillingRepo) CreatePayment(ctx context.Context, p *domain.Payment) error {
	model := paymentModelFromDomain(p)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isUniqueViolationError(err) {
			return fmt.Errorf("%w: payment for transaction %s already recorded", domain.ErrConflict, p.ProviderTxnID)
		}
		return err
	}
	return nil
}

func (r *GormBillingRepo) CountSuccessfulPayments(ctx context.Context, customerID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&PaymentModel{}).
		Where("customer_id = ? AND status = ?", customerID, domain.PaymentStatusCompleted).
		Count(&count).Error
	return count, err
}

func (r *GormBillingRepo) UpdateCustomerPaymentMethod(ctx context.Context, customerID string, paymentMethodRef string, now time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&CustomerModel{}).
		Where("id = ?", customerID).
		Updates(map[string]any{
			"payment_method_ref": paymentMethodRef,
			"updated_at":         now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormBillingRepo) ensureInvoiceExists(ctx context.Context, id string) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(&InvoiceModel{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return domain.ErrNotFound
	}
	return nil
}
