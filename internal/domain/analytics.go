package domain

import (
	"fmt"
	"strings"
	"time"
)

// Feature thresholds for calendar position.
const (
	FirstOfMonthMaxDay = 5
	EndOfMonthMinDay   = 25
)

// FailureEvent is the immutable feature vector of one failed charge.
type FailureEvent struct {
	ID                      string
	TenantID                string
	AttemptID               string
	InvoiceID               string
	CustomerID              string
	ChargeNumber            int
	FailureReason           string
	DayOfWeek               time.Weekday
	HourOfDay               int
	Date                    time.Time
	IsFirstOfMonth          bool
	IsEndOfMonth            bool
	CustomerTenureDays      *int
	PriorSuccessfulPayments int
	PriorFailedPayments     int
	CardBrand               *string
	CardLast4               *string
	OccurredAt              time.Time
}

func (e *FailureEvent) Validate() error {
	if strings.TrimSpace(e.AttemptID) == "" {
		return fmt.Errorf("%w: attempt id is required", ErrValidation)
	}
	if strings.TrimSpace(e.InvoiceID) == "" {
		return fmt.Errorf("%w: invoice id is required", ErrValidation)
	}
	if e.ChargeNumber < 1 {
		return fmt.Errorf("%w: charge number must be at least 1", ErrValidation)
	}
	if e.HourOfDay < 0 || e.HourOfDay > 23 {
		return fmt.Errorf("%w: invalid hour of day %d", ErrValidation, e.HourOfDay)
	}
	return nil
}

// RecoveryOutcome marks an invoice as recovered; it is appended once and
// never rewritten, so failure events stay immutable.
type RecoveryOutcome struct {
	ID                    string
	TenantID              string
	InvoiceID             string
	AttemptID             string
	RecoveryAttemptNumber int
	RecoveredAt           time.Time
}

// FailureAnalyticsRecord is the read projection of a failure event joined
// with the recovery outcome of its invoice.
type FailureAnalyticsRecord struct {
	FailureEvent
	EventuallyRecovered   bool
	RecoveryAttemptNumber *int
}

// TimeSlot is a (weekday, hour) bucket ranked by historical recovery rate.
type TimeSlot struct {
	DayOfWeek    time.Weekday `json:"dayOfWeek"`
	HourOfDay    int          `json:"hourOfDay"`
	RecoveryRate float64      `json:"recoveryRate"`
	SampleSize   int          `json:"sampleSize"`
}

// ReasonRate aggregates outcomes for one failure reason.
type ReasonRate struct {
	Reason       string  `json:"reason"`
	Label        string  `json:"label"`
	Failures     int     `json:"failures"`
	Recovered    int     `json:"recovered"`
	RecoveryRate float64 `json:"recoveryRate"`
}
