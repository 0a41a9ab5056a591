package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceStatus mirrors the billing store's invoice states.
type InvoiceStatus string

const (
	InvoiceStatusOpen    InvoiceStatus = "open"
	InvoiceStatusPaid    InvoiceStatus = "paid"
	InvoiceStatusOverdue InvoiceStatus = "overdue"
)

func (s InvoiceStatus) String() string { return string(s) }

type Invoice struct {
	ID          string
	TenantID    string
	CustomerID  string
	Number      string
	TotalAmount decimal.Decimal
	Currency    string
	Status      InvoiceStatus
	PaidAt      *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (i *Invoice) IsPaid() bool {
	return i.Status == InvoiceStatusPaid
}

type Customer struct {
	ID                 string
	TenantID           string
	Name               string
	Email              string
	Phone              *string
	GatewayCustomerRef *string
	PaymentMethodRef   *string
	CardBrand          *string
	CardLast4          *string
	DowngradeFlaggedAt *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Payment statuses and methods written by the engine.
const (
	PaymentStatusCompleted = "completed"
	PaymentMethodCard      = "card"
)

// Payment is the settlement record written after a successful retry.
type Payment struct {
	ID            string
	TenantID      string
	CustomerID    string
	InvoiceID     string
	AttemptID     string
	Amount        decimal.Decimal
	Currency      string
	Method        string
	Status        string
	ProviderTxnID string
	ChargeID      *string
	ProcessedAt   time.Time
	CreatedAt     time.Time
}

// Contract is a customer's subscription agreement.
type Contract struct {
	ID                    string
	TenantID              string
	CustomerID            string
	Status                string
	PaymentSuspended      bool
	SuspensionScheduledAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// ContractStatusActive is the only status suspension applies to.
const ContractStatusActive = "active"
