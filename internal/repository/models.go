package repository

import (
	"time"

	"github.com/kursadbilgin/dunning-engine/internal/domain"
	"github.com/shopspring/decimal"
)

// RetryConfigModel is the persistence model for the retry_configs table.
type RetryConfigModel struct {
	ID                        string                           `gorm:"type:uuid;primaryKey"`
	TenantID                  string                           `gorm:"type:varchar(64);not null;uniqueIndex"`
	MaxRetries                int                              `gorm:"not null"`
	RetryIntervalDays         []int                            `gorm:"serializer:json;type:text;not null"`
	RetryTimesOfDay           []string                         `gorm:"serializer:json;type:text;not null"`
	UseSmartTiming            bool                             `gorm:"not null"`
	AvoidWeekends             bool                             `gorm:"not null"`
	AvoidHolidays             bool                             `gorm:"not null"`
	NotifyOnFailure           bool                             `gorm:"not null"`
	NotifyOnSuccess           bool                             `gorm:"not null"`
	NotifyOnFinalFailure      bool                             `gorm:"not null"`
	FinalFailureAction        domain.FinalFailureAction        `gorm:"type:varchar(16);not null"`
	GracePeriodDays           int                              `gorm:"not null"`
	AllowCardUpdate           bool                             `gorm:"not null"`
	CardUpdateLinkExpiryHours int                              `gorm:"not null"`
	EscalationMessages        map[int]domain.EscalationMessage `gorm:"serializer:json;type:text"`
	AdminContacts             []string                         `gorm:"serializer:json;type:text"`
	CreatedAt                 time.Time
	UpdatedAt                 time.Time
}

func (RetryConfigModel) TableName() string {
	return "retry_configs"
}

// RetryAttemptModel is the persistence model for the retry_attempts table.
type RetryAttemptModel struct {
	ID               string             `gorm:"type:uuid;primaryKey"`
	TenantID         string             `gorm:"type:varchar(64);not null"`
	InvoiceID        string             `gorm:"type:varchar(64);not null"`
	CustomerID       string             `gorm:"type:varchar(64);not null"`
	Amount           decimal.Decimal    `gorm:"type:numeric(12,2);not null"`
	Currency         string             `gorm:"type:varchar(3);not null"`
	PaymentMethodRef *string            `gorm:"type:varchar(255)"`
	Status           domain.Status      `gorm:"type:varchar(20);not null"`
	Resolution       *domain.Resolution `gorm:"type:varchar(32)"`
	AttemptNumber    int                `gorm:"not null"`
	MaxAttempts      int                `gorm:"not null"`
	FailureCode      *string            `gorm:"type:varchar(64)"`
	FailureMessage   *string            `gorm:"type:text"`
	DeclineCode      *string            `gorm:"type:varchar(64)"`
	ScheduledAt      *time.Time
	NextRetryAt      *time.Time
	ClaimedAt        *time.Time
	SucceededAt      *time.Time
	ProviderTxnID    *string                     `gorm:"type:varchar(255)"`
	ChargeID         *string                     `gorm:"type:varchar(255)"`
	CardWasUpdated   bool                        `gorm:"not null"`
	ReclaimCount     int                         `gorm:"not null"`
	NeedsReview      bool                        `gorm:"not null"`
	ReviewReason     *string                     `gorm:"type:text"`
	Notifications    []domain.NotificationRecord `gorm:"serializer:json;type:text"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (RetryAttemptModel) TableName() string {
	return "retry_attempts"
}

// FailureEventModel is the persistence model for the append-only
// failure_events table.
type FailureEventModel struct {
	ID                      string    `gorm:"type:uuid;primaryKey"`
	TenantID                string    `gorm:"type:varchar(64);not null"`
	AttemptID               string    `gorm:"type:uuid;not null;uniqueIndex:idx_failure_events_attempt_charge"`
	InvoiceID               string    `gorm:"type:varchar(64);not null;index"`
	CustomerID              string    `gorm:"type:varchar(64);not null"`
	ChargeNumber            int       `gorm:"not null;uniqueIndex:idx_failure_events_attempt_charge"`
	FailureReason           string    `gorm:"type:varchar(64);not null"`
	DayOfWeek               int       `gorm:"not null"`
	HourOfDay               int       `gorm:"not null"`
	Date                    time.Time `gorm:"not null"`
	IsFirstOfMonth          bool      `gorm:"not null"`
	IsEndOfMonth            bool      `gorm:"not null"`
	CustomerTenureDays      *int
	PriorSuccessfulPayments int     `gorm:"not null"`
	PriorFailedPayments     int     `gorm:"not null"`
	CardBrand               *string `gorm:"type:varchar(32)"`
	CardLast4               *string `gorm:"type:varchar(4)"`
	OccurredAt              time.Time
	CreatedAt               time.Time
}

func (FailureEventModel) TableName() string {
	return "failure_events"
}

// RecoveryOutcomeModel is the persistence model for recovery_outcomes.
type RecoveryOutcomeModel struct {
	ID                    string `gorm:"type:uuid;primaryKey"`
	TenantID              string `gorm:"type:varchar(64);not null"`
	InvoiceID             string `gorm:"type:varchar(64);not null;uniqueIndex"`
	AttemptID             string `gorm:"type:uuid;not null"`
	RecoveryAttemptNumber int    `gorm:"not null"`
	RecoveredAt           time.Time
	CreatedAt             time.Time
}

func (RecoveryOutcomeModel) TableName() string {
	return "recovery_outcomes"
}

// InvoiceModel is the persistence model for invoices.
type InvoiceModel struct {
	ID          string               `gorm:"type:varchar(64);primaryKey"`
	TenantID    string               `gorm:"type:varchar(64);not null;index"`
	CustomerID  string               `gorm:"type:varchar(64);not null"`
	Number      string               `gorm:"type:varchar(64);not null"`
	TotalAmount decimal.Decimal      `gorm:"type:numeric(12,2);not null"`
	Currency    string               `gorm:"type:varchar(3);not null"`
	Status      domain.InvoiceStatus `gorm:"type:varchar(16);not null"`
	PaidAt      *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (InvoiceModel) TableName() string {
	return "invoices"
}

// CustomerModel is the persistence model for customers.
type CustomerModel struct {
	ID                 string  `gorm:"type:varchar(64);primaryKey"`
	TenantID           string  `gorm:"type:varchar(64);not null;index"`
	Name               string  `gorm:"type:varchar(255);not null"`
	Email              string  `gorm:"type:varchar(255);not null"`
	Phone              *string `gorm:"type:varchar(32)"`
	GatewayCustomerRef *string `gorm:"type:varchar(255)"`
	PaymentMethodRef   *string `gorm:"type:varchar(255)"`
	CardBrand          *string `gorm:"type:varchar(32)"`
	CardLast4          *string `gorm:"type:varchar(4)"`
	DowngradeFlaggedAt *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (CustomerModel) TableName() string {
	return "customers"
}

// PaymentModel is the persistence model for payments.
type PaymentModel struct {
	ID            string          `gorm:"type:uuid;primaryKey"`
	TenantID      string          `gorm:"type:varchar(64);not null"`
	CustomerID    string          `gorm:"type:varchar(64);not null;index"`
	InvoiceID     string          `gorm:"type:varchar(64);not null"`
	AttemptID     string          `gorm:"type:uuid;not null"`
	Amount        decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	Currency      string          `gorm:"type:varchar(3);not null"`
	Method        string          `gorm:"type:varchar(16);not null"`
	Status        string          `gorm:"type:varchar(16);not null"`
	ProviderTxnID string          `gorm:"type:varchar(255);not null;uniqueIndex"`
	ChargeID      *string         `gorm:"type:varchar(255)"`
	ProcessedAt   time.Time
	CreatedAt     time.Time
}

func (PaymentModel) TableName() string {
	return "payments"
}

// ContractModel is the persistence model for contracts.
type ContractModel struct {
	ID                    string `gorm:"type:varchar(64);primaryKey"`
	TenantID              string `gorm:"type:varchar(64);not null"`
	CustomerID            string `gorm:"type:varchar(64);not null;index"`
	Status                string `gorm:"type:varchar(16);not null"`
	PaymentSuspended      bool   `gorm:"not null"`
	SuspensionScheduledAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

func (ContractModel) TableName() string {
	return "contracts"
}

func retryConfigModelFromDomain(c *domain.RetryConfig) *RetryConfigModel {
	if c == nil {
		return nil
	}

	return &RetryConfigModel{
		ID:                        c.ID,
		TenantID:                  c.TenantID,
		MaxRetries:                c.MaxRetries,
		RetryIntervalDays:         c.RetryIntervalDays,
		RetryTimesOfDay:           c.RetryTimesOfDay,
		UseSmartTiming:            c.UseSmartTiming,
		AvoidWeekends:             c.AvoidWeekends,
		AvoidHolidays:             c.AvoidHolidays,
		NotifyOnFailure:           c.NotifyOnFailure,
		NotifyOnSuccess:           c.NotifyOnSuccess,
		NotifyOnFinalFailure:      c.NotifyOnFinalFailure,
		FinalFailureAction:        c.FinalFailureAction,
		GracePeriodDays:           c.GracePeriodDays,
		AllowCardUpdate:           c.AllowCardUpdate,
		CardUpdateLinkExpiryHours: c.CardUpdateLinkExpiryHours,
		EscalationMessages:        c.EscalationMessages,
		AdminContacts:             c.AdminContacts,
		CreatedAt:                 c.CreatedAt,
		UpdatedAt:                 c.UpdatedAt,
	}
}

func retryConfigModelToDomain(m *RetryConfigModel) *domain.RetryConfig {
	if m == nil {
		return nil
	}

	return &domain.RetryConfig{
		ID:                        m.ID,
		TenantID:                  m.TenantID,
		MaxRetries:                m.MaxRetries,
		RetryIntervalDays:         m.RetryIntervalDays,
		RetryTimesOfDay:           m.RetryTimesOfDay,
		UseSmartTiming:            m.UseSmartTiming,
		AvoidWeekends:             m.AvoidWeekends,
		AvoidHolidays:             m.AvoidHolidays,
		NotifyOnFailure:           m.NotifyOnFailure,
		NotifyOnSuccess:           m.NotifyOnSuccess,
		NotifyOnFinalFailure:      m.NotifyOnFinalFailure,
		FinalFailureAction:        m.FinalFailureAction,
		GracePeriodDays:           m.GracePeriodDays,
		AllowCardUpdate:           m.AllowCardUpdate,
		CardUpdateLinkExpiryHours: m.CardUpdateLinkExpiryHours,
		EscalationMessages:        m.EscalationMessages,
		AdminContacts:             m.AdminContacts,
		CreatedAt:                 m.CreatedAt,
		UpdatedAt:                 m.UpdatedAt,
	}
}

func attemptModelFromDomain(a *domain.RetryAttempt) *RetryAttemptModel {
	if a == nil {
		return nil
	}

	return &RetryAttemptModel{
		ID:               a.ID,
		TenantID:         a.TenantID,
		InvoiceID:        a.InvoiceID,
		CustomerID:       a.CustomerID,
		Amount:           a.Amount,
		Currency:         a.Currency,
		PaymentMethodRef: a.PaymentMethodRef,
		Status:           a.Status,
		Resolution:       a.Resolution,
		AttemptNumber:    a.AttemptNumber,
		MaxAttempts:      a.MaxAttempts,
		FailureCode:      a.FailureCode,
		FailureMessage:   a.FailureMessage,
		DeclineCode:      a.DeclineCode,
		ScheduledAt:      a.ScheduledAt,
		NextRetryAt:      a.NextRetryAt,
		ClaimedAt:        a.ClaimedAt,
		SucceededAt:      a.SucceededAt,
		ProviderTxnID:    a.ProviderTxnID,
		ChargeID:         a.ChargeID,
		CardWasUpdated:   a.CardWasUpdated,
		ReclaimCount:     a.ReclaimCount,
		NeedsReview:      a.NeedsReview,
		ReviewReason:     a.ReviewReason,
		Notifications:    a.Notifications,
		CreatedAt:        a.CreatedAt,
		UpdatedAt:        a.UpdatedAt,
	}
}

func attemptModelToDomain(m *RetryAttemptModel) *domain.RetryAttempt {
	if m == nil {
		return nil
	}

	return &domain.RetryAttempt{
		ID:               m.ID,
		TenantID:         m.TenantID,
		InvoiceID:        m.InvoiceID,
		CustomerID:       m.CustomerID,
		Amount:           m.Amount,
		Currency:         m.Currency,
		PaymentMethodRef: m.PaymentMethodRef,
		Status:           m.Status,
		Resolution:       m.Resolution,
		AttemptNumber:    m.AttemptNumber,
		MaxAttempts:      m.MaxAttempts,
		FailureCode:      m.FailureCode,
		FailureMessage:   m.FailureMessage,
		DeclineCode:      m.DeclineCode,
		ScheduledAt:      m.ScheduledAt,
		NextRetryAt:      m.NextRetryAt,
		ClaimedAt:        m.ClaimedAt,
		SucceededAt:      m.SucceededAt,
		ProviderTxnID:    m.ProviderTxnID,
		ChargeID:         m.ChargeID,
		CardWasUpdated:   m.CardWasUpdated,
		ReclaimCount:     m.ReclaimCount,
		NeedsReview:      m.NeedsReview,
		ReviewReason:     m.ReviewReason,
		Notifications:    m.Notifications,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func failureEventModelFromDomain(e *domain.FailureEvent) *FailureEventModel {
	if e == nil {
		return nil
	}

	return &FailureEventModel{
		ID:                      e.ID,
		TenantID:                e.TenantID,
		AttemptID:               e.AttemptID,
		InvoiceID:               e.InvoiceID,
		CustomerID:              e.CustomerID,
		ChargeNumber:            e.ChargeNumber,
		FailureReason:           e.FailureReason,
		DayOfWeek:               int(e.DayOfWeek),
		HourOfDay:               e.HourOfDay,
		Date:                    e.Date,
		IsFirstOfMonth:          e.IsFirstOfMonth,
		IsEndOfMonth:            e.IsEndOfMonth,
		CustomerTenureDays:      e.CustomerTenureDays,
		PriorSuccessfulPayments: e.PriorSuccessfulPayments,
		PriorFailedPayments:     e.PriorFailedPayments,
		CardBrand:               e.CardBrand,
		CardLast4:               e.CardLast4,
		OccurredAt:              e.OccurredAt,
	}
}

func failureEventModelToDomain(m *FailureEventModel) *domain.FailureEvent {
	if m == nil {
		return nil
	}

	return &domain.FailureEvent{
		ID:                      m.ID,
		TenantID:                m.TenantID,
		AttemptID:               m.AttemptID,
		InvoiceID:               m.InvoiceID,
		CustomerID:              m.CustomerID,
		ChargeNumber:            m.ChargeNumber,
		FailureReason:           m.FailureReason,
		DayOfWeek:               time.Weekday(m.DayOfWeek),
		HourOfDay:               m.HourOfDay,
		Date:                    m.Date,
		IsFirstOfMonth:          m.IsFirstOfMonth,
		IsEndOfMonth:            m.IsEndOfMonth,
		CustomerTenureDays:      m.CustomerTenureDays,
		PriorSuccessfulPayments: m.PriorSuccessfulPayments,
		PriorFailedPayments:     m.PriorFailedPayments,
		CardBrand:               m.CardBrand,
		CardLast4:               m.CardLast4,
		OccurredAt:              m.OccurredAt,
	}
}

func invoiceModelToDomain(m *InvoiceModel) *domain.Invoice {
	if m == nil {
		return nil
	}

	return &domain.Invoice{
		ID:          m.ID,
		TenantID:    m.TenantID,
		CustomerID:  m.CustomerID,
		Number:      m.Number,
		TotalAmount: m.TotalAmount,
		Currency:    m.Currency,
		Status:      m.Status,
		PaidAt:      m.PaidAt,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func customerModelToDomain(m *CustomerModel) *domain.Customer {
	if m == nil {
		return nil
	}

	return &domain.Customer{
		ID:                 m.ID,
		TenantID:           m.TenantID,
		Name:               m.Name,
		Email:              m.Email,
		Phone:              m.Phone,
		GatewayCustomerRef: m.GatewayCustomerRef,
		PaymentMethodRef:   m.PaymentMethodRef,
		CardBrand:          m.CardBrand,
		CardLast4:          m.CardLast4,
		DowngradeFlaggedAt: m.DowngradeFlaggedAt,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}

func paymentModelFromDomain(p *domain.Payment) *PaymentModel {
	if p == nil {
		return nil
	}

	return &PaymentModel{
		ID:            p.ID,
		TenantID:      p.TenantID,
		CustomerID:    p.CustomerID,
		InvoiceID:     p.InvoiceID,
		AttemptID:     p.AttemptID,
		Amount:        p.Amount,
		Currency:      p.Currency,
		Method:        p.Method,
		Status:        p.Status,
		ProviderTxnID: p.ProviderTxnID,
		ChargeID:      p.ChargeID,
		ProcessedAt:   p.ProcessedAt,
		CreatedAt:     p.CreatedAt,
	}
}

func contractModelToDomain(m *ContractModel) *domain.Contract {
	if m == nil {
		return nil
	}

	return &domain.Contract{
		ID:                    m.ID,
		TenantID:              m.TenantID,
		CustomerID:            m.CustomerID,
		Status:                m.Status,
		PaymentSuspended:      m.PaymentSuspended,
		SuspensionScheduledAt: m.SuspensionScheduledAt,
		CreatedAt:             m.CreatedAt,
		UpdatedAt:             m.UpdatedAt,
	}
}
