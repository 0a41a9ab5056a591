package domain

import (
	"fmt"
	"strings"
	"time"
)

// FinalFailureAction is applied when an attempt runs out of retries.
type FinalFailureAction string

const (
	FinalActionNone      FinalFailureAction = "none"
	FinalActionSuspend   FinalFailureAction = "suspend"
	FinalActionDowngrade FinalFailureAction = "downgrade"
)

func (a FinalFailureAction) String() string { return string(a) }

func (a FinalFailureAction) IsValid() bool {
	switch a {
	case FinalActionNone, FinalActionSuspend, FinalActionDowngrade:
		return true
	}
	return false
}

func ParseFinalFailureActionFromString(s string) (FinalFailureAction, error) {
	action := FinalFailureAction(strings.ToLower(strings.TrimSpace(s)))
	if !action.IsValid() {
		return "", fmt.Errorf("%w: invalid final failure action %q", ErrValidation, s)
	}
	return action, nil
}

// Policy bounds.
const (
	MinRetries              = 1
	MaxRetries              = 10
	MinIntervalDays         = 1
	MaxIntervalDays         = 30
	MinCardUpdateExpiryHrs  = 1
	MaxCardUpdateExpiryHrs  = 168
	MaxGracePeriodDays      = 30
	fallbackIntervalDays    = 7
	defaultFallbackHour     = 10
	defaultRetryTimeOfDay   = "10:00"
	timeOfDayLayout         = "15:04"
	defaultMaxRetriesPolicy = 4
)

// EscalationMessage is the customer message sent after a given attempt fails.
type EscalationMessage struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// TimeOfDay is a wall-clock time without a date.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parsed, err := time.Parse(timeOfDayLayout, strings.TrimSpace(s))
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("%w: invalid time of day %q", ErrValidation, s)
	}
	return TimeOfDay{Hour: parsed.Hour(), Minute: parsed.Minute()}, nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// On returns day's date at t in day's location.
func (t TimeOfDay) On(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour, t.Minute, 0, 0, day.Location())
}

// FallbackTimeOfDay is used when no better slot can be chosen.
var FallbackTimeOfDay = TimeOfDay{Hour: defaultFallbackHour}

// RetryConfig is the per-tenant dunning policy.
type RetryConfig struct {
	ID                        string
	TenantID                  string
	MaxRetries                int
	RetryIntervalDays         []int
	RetryTimesOfDay           []string
	UseSmartTiming            bool
	AvoidWeekends             bool
	AvoidHolidays             bool
	NotifyOnFailure           bool
	NotifyOnSuccess           bool
	NotifyOnFinalFailure      bool
	FinalFailureAction        FinalFailureAction
	GracePeriodDays           int
	AllowCardUpdate           bool
	CardUpdateLinkExpiryHours int
	EscalationMessages        map[int]EscalationMessage
	AdminContacts             []string
	CreatedAt                 time.Time
	UpdatedAt                 time.Time
}

// DefaultRetryConfig returns the policy provisioned for tenants without one.
func DefaultRetryConfig(tenantID string) *RetryConfig {
	return &RetryConfig{
		TenantID:                  tenantID,
		MaxRetries:                defaultMaxRetriesPolicy,
		RetryIntervalDays:         []int{1, 3, 7, 14},
		RetryTimesOfDay:           []string{"09:00", "14:00", "18:00"},
		UseSmartTiming:            true,
		AvoidWeekends:             true,
		AvoidHolidays:             true,
		NotifyOnFailure:           true,
		NotifyOnSuccess:           true,
		NotifyOnFinalFailure:      true,
		FinalFailureAction:        FinalActionSuspend,
		GracePeriodDays:           7,
		AllowCardUpdate:           true,
		CardUpdateLinkExpiryHours: 72,
		EscalationMessages:        DefaultEscalationMessages(),
	}
}

// DefaultEscalationMessages grow more urgent with each attempt.
func DefaultEscalationMessages() map[int]EscalationMessage {
	return map[int]EscalationMessage{
		1: {
			Subject: "Your payment did not go through",
			Body:    "We could not collect your payment for invoice {{invoice}} ({{amount}}). We will try again automatically. Reason: {{reason}}.",
		},
		2: {
			Subject: "Second attempt: payment still outstanding",
			Body:    "Your payment for invoice {{invoice}} ({{amount}}) failed again. Please check your card details so the next attempt succeeds.",
		},
		3: {
			Subject: "Action needed: update your payment method",
			Body:    "Invoice {{invoice}} ({{amount}}) is still unpaid after several attempts. Please update your payment method now.",
		},
		4: {
			Subject: "Final notice before service suspension",
			Body:    "This is the last automatic attempt for invoice {{invoice}} ({{amount}}). Without payment your service will be suspended.",
		},
	}
}

// Normalize pads RetryIntervalDays with its last entry up to MaxRetries.
func (c *RetryConfig) Normalize() {
	if len(c.RetryIntervalDays) == 0 {
		c.RetryIntervalDays = []int{fallbackIntervalDays}
	}
	for len(c.RetryIntervalDays) < c.MaxRetries {
		c.RetryIntervalDays = append(c.RetryIntervalDays, c.RetryIntervalDays[len(c.RetryIntervalDays)-1])
	}
	for i, t := range c.RetryTimesOfDay {
		c.RetryTimesOfDay[i] = strings.TrimSpace(t)
	}
	c.FinalFailureAction = FinalFailureAction(strings.ToLower(strings.TrimSpace(c.FinalFailureAction.String())))
}

func (c *RetryConfig) Validate() error {
	if strings.TrimSpace(c.TenantID) == "" {
		return fmt.Errorf("%w: tenant id is required", ErrValidation)
	}
	if c.MaxRetries < MinRetries || c.MaxRetries > MaxRetries {
		return fmt.Errorf("%w: max retries must be between %d and %d", ErrValidation, MinRetries, MaxRetries)
	}
	if len(c.RetryIntervalDays) == 0 {
		return fmt.Errorf("%w: at least one retry interval is required", ErrValidation)
	}
	for _, days := range c.RetryIntervalDays {
		if days < MinIntervalDays || days > MaxIntervalDays {
			return fmt.Errorf("%w: retry interval %d outside %d..%d days", ErrValidation, days, MinIntervalDays, MaxIntervalDays)
		}
	}
	for _, t := range c.RetryTimesOfDay {
		if _, err := ParseTimeOfDay(t); err != nil {
			return err
		}
	}
	if !c.FinalFailureAction.IsValid() {
		return fmt.Errorf("%w: invalid final failure action %q", ErrValidation, c.FinalFailureAction)
	}
	if c.GracePeriodDays < 0 || c.GracePeriodDays > MaxGracePeriodDays {
		return fmt.Errorf("%w: grace period must be between 0 and %d days", ErrValidation, MaxGracePeriodDays)
	}
	if c.CardUpdateLinkExpiryHours < MinCardUpdateExpiryHrs || c.CardUpdateLinkExpiryHours > MaxCardUpdateExpiryHrs {
		return fmt.Errorf("%w: card update link expiry must be between %d and %d hours", ErrValidation, MinCardUpdateExpiryHrs, MaxCardUpdateExpiryHrs)
	}
	for attemptNumber, msg := range c.EscalationMessages {
		if attemptNumber < 1 || attemptNumber > c.MaxRetries {
			return fmt.Errorf("%w: escalation message for attempt %d outside 1..%d", ErrValidation, attemptNumber, c.MaxRetries)
		}
		if strings.TrimSpace(msg.Subject) == "" || strings.TrimSpace(msg.Body) == "" {
			return fmt.Errorf("%w: escalation message for attempt %d needs subject and body", ErrValidation, attemptNumber)
		}
	}
	return nil
}

// IntervalForAttempt returns the days to wait before attemptNumber (1-based).
func (c *RetryConfig) IntervalForAttempt(attemptNumber int) int {
	if len(c.RetryIntervalDays) == 0 {
		return fallbackIntervalDays
	}
	idx := min(max(attemptNumber-1, 0), len(c.RetryIntervalDays)-1)
	return c.RetryIntervalDays[idx]
}

// TimesOfDay returns the parsed retry times; invalid entries are skipped.
func (c *RetryConfig) TimesOfDay() []TimeOfDay {
	times := make([]TimeOfDay, 0, len(c.RetryTimesOfDay))
	for _, raw := range c.RetryTimesOfDay {
		t, err := ParseTimeOfDay(raw)
		if err != nil {
			continue
		}
		times = append(times, t)
	}
	if len(times) == 0 {
		fallback, _ := ParseTimeOfDay(defaultRetryTimeOfDay)
		times = append(times, fallback)
	}
	return times
}

// EscalationMessageFor returns the message for attemptNumber, if configured.
func (c *RetryConfig) EscalationMessageFor(attemptNumber int) (EscalationMessage, bool) {
	msg, ok := c.EscalationMessages[attemptNumber]
	return msg, ok
}
