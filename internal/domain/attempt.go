package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status represents the lifecycle state of a retry attempt.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusScheduled  Status = "SCHEDULED"
	StatusProcessing Status = "PROCESSING"
	StatusSucceeded  Status = "SUCCEEDED"
	StatusFailed     Status = "FAILED"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusScheduled, StatusProcessing, StatusSucceeded, StatusFailed:
		return true
	}
	return false
}

// IsActive reports whether the attempt still belongs to the retry pipeline.
func (s Status) IsActive() bool {
	switch s {
	case StatusPending, StatusScheduled, StatusProcessing:
		return true
	}
	return false
}

func ParseStatusFromString(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// Resolution records how a SUCCEEDED attempt was closed.
type Resolution string

const (
	ResolutionCharged       Resolution = "charged"
	ResolutionPaidOutOfBand Resolution = "paid_out_of_band"
	ResolutionCancelled     Resolution = "cancelled"
)

func (r Resolution) String() string { return string(r) }

func (r Resolution) IsValid() bool {
	switch r {
	case ResolutionCharged, ResolutionPaidOutOfBand, ResolutionCancelled:
		return true
	}
	return false
}

// Channel represents a customer notification channel.
type Channel string

const (
	ChannelEmail Channel = "EMAIL"
	ChannelSMS   Channel = "SMS"
)

func (c Channel) String() string { return string(c) }

func (c Channel) IsValid() bool {
	switch c {
	case ChannelEmail, ChannelSMS:
		return true
	}
	return false
}

func ParseChannelFromString(s string) (Channel, error) {
	ch := Channel(strings.ToUpper(strings.TrimSpace(s)))
	if !ch.IsValid() {
		return "", fmt.Errorf("%w: invalid channel %q", ErrValidation, s)
	}
	return ch, nil
}

// Notification types recorded on an attempt.
const (
	NotificationFailure      = "failure"
	NotificationSuccess      = "success"
	NotificationPaymentLink  = "payment_link"
	NotificationFinalFailure = "final_failure_admin"
)

// NotificationRecord is one entry of an attempt's send log.
type NotificationRecord struct {
	Type          string    `json:"type"`
	Channel       Channel   `json:"channel"`
	AttemptNumber int       `json:"attemptNumber"`
	At            time.Time `json:"at"`
}

// RetryAttempt is the dunning state of one failed invoice.
type RetryAttempt struct {
	ID               string
	TenantID         string
	InvoiceID        string
	CustomerID       string
	Amount           decimal.Decimal
	Currency         string
	PaymentMethodRef *string
	Status           Status
	Resolution       *Resolution
	AttemptNumber    int
	MaxAttempts      int
	FailureCode      *string
	FailureMessage   *string
	DeclineCode      *string
	ScheduledAt      *time.Time
	NextRetryAt      *time.Time
	ClaimedAt        *time.Time
	SucceededAt      *time.Time
	ProviderTxnID    *string
	ChargeID         *string
	CardWasUpdated   bool
	ReclaimCount     int
	NeedsReview      bool
	ReviewReason     *string
	Notifications    []NotificationRecord
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewRetryAttempt builds the PENDING attempt opened by an initial decline.
func NewRetryAttempt(
	id string,
	invoice *Invoice,
	maxAttempts int,
	paymentMethodRef *string,
	failureCode string,
	failureMessage string,
	declineCode *string,
	now time.Time,
) (*RetryAttempt, error) {
	if invoice == nil {
		return nil, fmt.Errorf("%w: invoice is required", ErrValidation)
	}

	a := &RetryAttempt{
		ID:               id,
		TenantID:         invoice.TenantID,
		InvoiceID:        invoice.ID,
		CustomerID:       invoice.CustomerID,
		Amount:           invoice.TotalAmount,
		Currency:         strings.ToUpper(strings.TrimSpace(invoice.Currency)),
		PaymentMethodRef: paymentMethodRef,
		Status:           StatusPending,
		AttemptNumber:    1,
		MaxAttempts:      maxAttempts,
		FailureCode:      optionalString(failureCode),
		FailureMessage:   optionalString(failureMessage),
		DeclineCode:      declineCode,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *RetryAttempt) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrValidation)
	}
	if strings.TrimSpace(a.TenantID) == "" {
		return fmt.Errorf("%w: tenant id is required", ErrValidation)
	}
	if strings.TrimSpace(a.InvoiceID) == "" {
		return fmt.Errorf("%w: invoice id is required", ErrValidation)
	}
	if strings.TrimSpace(a.CustomerID) == "" {
		return fmt.Errorf("%w: customer id is required", ErrValidation)
	}
	if !a.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if len(a.Currency) != 3 {
		return fmt.Errorf("%w: invalid currency %q", ErrValidation, a.Currency)
	}
	if !a.Status.IsValid() {
		return fmt.Errorf("%w: invalid status %q", ErrValidation, a.Status)
	}
	if a.MaxAttempts < 1 {
		return fmt.Errorf("%w: max attempts must be at least 1", ErrValidation)
	}
	if a.AttemptNumber < 1 || a.AttemptNumber > a.MaxAttempts {
		return fmt.Errorf("%w: attempt number %d outside 1..%d", ErrValidation, a.AttemptNumber, a.MaxAttempts)
	}
	return nil
}

// CanRetry reports whether another attempt may follow the current one.
func (a *RetryAttempt) CanRetry() bool {
	return a.AttemptNumber < a.MaxAttempts
}

// IsTerminal reports whether the attempt can no longer change.
func (a *RetryAttempt) IsTerminal() bool {
	return a.Status == StatusSucceeded || (a.Status == StatusFailed && !a.CanRetry())
}

// IsDue reports whether a claim at now would be accepted.
func (a *RetryAttempt) IsDue(now time.Time) bool {
	return a.Status == StatusScheduled && a.NextRetryAt != nil && !a.NextRetryAt.After(now)
}

// ChargeNumber is the ordinal of the gateway charge the current attempt
// makes; the initial decline that opened the attempt is charge 1.
func (a *RetryAttempt) ChargeNumber() int {
	return a.AttemptNumber + 1
}

// IdempotencyKey identifies the charge of the current attempt number at the
// gateway, so a re-claimed attempt cannot be charged twice.
func (a *RetryAttempt) IdempotencyKey() string {
	return fmt.Sprintf("dunning-%s-%d", a.ID, a.AttemptNumber)
}

func (a *RetryAttempt) Schedule(at time.Time, now time.Time) error {
	if err := a.apply(EventSchedule); err != nil {
		return err
	}
	a.ScheduledAt = &now
	a.NextRetryAt = &at
	a.UpdatedAt = now
	return nil
}

func (a *RetryAttempt) Claim(now time.Time) error {
	if !a.IsDue(now) {
		return fmt.Errorf("%w: attempt %s is not due", ErrConflict, a.ID)
	}
	if err := a.apply(EventClaim); err != nil {
		return err
	}
	a.ClaimedAt = &now
	a.UpdatedAt = now
	return nil
}

func (a *RetryAttempt) MarkSucceeded(providerTxnID string, chargeID string, now time.Time) error {
	if err := a.apply(EventSucceed); err != nil {
		return err
	}
	resolution := ResolutionCharged
	a.Resolution = &resolution
	a.ProviderTxnID = optionalString(providerTxnID)
	a.ChargeID = optionalString(chargeID)
	a.SucceededAt = &now
	a.ClaimedAt = nil
	a.UpdatedAt = now
	return nil
}

// MarkPaidElsewhere closes a claimed attempt whose invoice was settled
// through another channel.
func (a *RetryAttempt) MarkPaidElsewhere(now time.Time) error {
	if err := a.apply(EventSucceed); err != nil {
		return err
	}
	resolution := ResolutionPaidOutOfBand
	a.Resolution = &resolution
	a.SucceededAt = &now
	a.ClaimedAt = nil
	a.UpdatedAt = now
	return nil
}

func (a *RetryAttempt) MarkFailed(code string, message string, declineCode *string, now time.Time) error {
	if err := a.apply(EventFail); err != nil {
		return err
	}
	a.FailureCode = optionalString(code)
	a.FailureMessage = optionalString(message)
	a.DeclineCode = declineCode
	a.ClaimedAt = nil
	a.NextRetryAt = nil
	a.UpdatedAt = now
	return nil
}

// ScheduleNext moves a FAILED attempt to the next attempt number.
func (a *RetryAttempt) ScheduleNext(at time.Time, now time.Time) error {
	if !a.CanRetry() {
		return fmt.Errorf("%w: attempt %s used %d of %d", ErrRetriesExhausted, a.ID, a.AttemptNumber, a.MaxAttempts)
	}
	if err := a.apply(EventReschedule); err != nil {
		return err
	}
	a.AttemptNumber++
	a.ScheduledAt = &now
	a.NextRetryAt = &at
	a.UpdatedAt = now
	return nil
}

// Defer returns a claimed attempt to SCHEDULED without consuming an attempt.
func (a *RetryAttempt) Defer(at time.Time, now time.Time) error {
	if err := a.apply(EventDefer); err != nil {
		return err
	}
	a.ClaimedAt = nil
	a.NextRetryAt = &at
	a.UpdatedAt = now
	return nil
}

// Settle closes an unclaimed attempt outside the retry path.
func (a *RetryAttempt) Settle(resolution Resolution, now time.Time) error {
	if !resolution.IsValid() || resolution == ResolutionCharged {
		return fmt.Errorf("%w: invalid settle resolution %q", ErrValidation, resolution)
	}
	if err := a.apply(EventSettle); err != nil {
		return err
	}
	a.Resolution = &resolution
	a.SucceededAt = &now
	a.NextRetryAt = nil
	a.UpdatedAt = now
	return nil
}

// HasNotification reports whether a notification of the given type was
// already sent for attemptNumber.
func (a *RetryAttempt) HasNotification(notificationType string, attemptNumber int) bool {
	for _, n := range a.Notifications {
		if n.Type == notificationType && n.AttemptNumber == attemptNumber {
			return true
		}
	}
	return false
}

func (a *RetryAttempt) RecordNotification(record NotificationRecord) {
	a.Notifications = append(a.Notifications, record)
}

func (a *RetryAttempt) apply(event string) error {
	next, err := Transition(a.Status, event)
	if err != nil {
		return fmt.Errorf("attempt %s: %w", a.ID, err)
	}
	a.Status = next
	return nil
}

func optionalString(s string) *string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
