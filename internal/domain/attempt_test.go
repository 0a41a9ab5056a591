package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestParseStatusFromString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    Status
		wantErr bool
	}{
		{name: "valid uppercase", input: "SCHEDULED", want: StatusScheduled},
		{name: "valid lowercase with spaces", input: " processing ", want: StatusProcessing},
		{name: "invalid", input: "unknown", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseStatusFromString(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("ParseStatusFromString() error = %v, want ErrValidation", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("ParseStatusFromString() unexpected error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("ParseStatusFromString() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestParseChannelFromString(t *testing.T) {
	t.Parallel()

	got, err := ParseChannelFromString(" email ")
	if err != nil {
		t.Fatalf("ParseChannelFromString() unexpected error = %v", err)
	}
	if got != ChannelEmail {
		t.Fatalf("ParseChannelFromString() = %s, want %s", got, ChannelEmail)
	}

	_, err = ParseChannelFromString("fax")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("ParseChannelFromString() error = %v, want ErrValidation", err)
	}
}

func TestTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		from    Status
		event   string
		want    Status
		wantErr bool
	}{
		{name: "schedule pending", from: StatusPending, event: EventSchedule, want: StatusScheduled},
		{name: "claim scheduled", from: StatusScheduled, event: EventClaim, want: StatusProcessing},
		{name: "succeed processing", from: StatusProcessing, event: EventSucceed, want: StatusSucceeded},
		{name: "fail processing", from: StatusProcessing, event: EventFail, want: StatusFailed},
		{name: "reschedule failed", from: StatusFailed, event: EventReschedule, want: StatusScheduled},
		{name: "defer processing", from: StatusProcessing, event: EventDefer, want: StatusScheduled},
		{name: "settle scheduled", from: StatusScheduled, event: EventSettle, want: StatusSucceeded},
		{name: "claim processing rejected", from: StatusProcessing, event: EventClaim, wantErr: true},
		{name: "claim succeeded rejected", from: StatusSucceeded, event: EventClaim, wantErr: true},
		{name: "fail succeeded rejected", from: StatusSucceeded, event: EventFail, wantErr: true},
		{name: "settle processing rejected", from: StatusProcessing, event: EventSettle, wantErr: true},
		{name: "unknown event rejected", from: StatusPending, event: "explode", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := Transition(tt.from, tt.event)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTransition) {
					t.Fatalf("Transition() error = %v, want ErrInvalidTransition", err)
				}
				if got != tt.from {
					t.Fatalf("Transition() = %s, want unchanged %s", got, tt.from)
				}
				return
			}
			if err != nil {
				t.Fatalf("Transition() unexpected error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("Transition() = %s, want %s", got, tt.want)
			}
			if !CanTransition(tt.from, tt.event) {
				t.Fatalf("CanTransition(%s, %s) = false, want true", tt.from, tt.event)
			}
		})
	}
}

func TestNewRetryAttempt(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	invoice := testInvoice()
	decline := "card_declined"

	a, err := NewRetryAttempt("a1", invoice, 3, nil, "card_declined", "Your card was declined.", &decline, now)
	if err != nil {
		t.Fatalf("NewRetryAttempt() error = %v", err)
	}
	if a.Status != StatusPending {
		t.Fatalf("status = %s, want PENDING", a.Status)
	}
	if a.AttemptNumber != 1 {
		t.Fatalf("attempt number = %d, want 1", a.AttemptNumber)
	}
	if a.Currency != "EUR" {
		t.Fatalf("currency = %q, want EUR", a.Currency)
	}
	if !a.Amount.Equal(decimal.RequireFromString("49.99")) {
		t.Fatalf("amount = %s, want 49.99", a.Amount)
	}

	_, err = NewRetryAttempt("a2", invoice, 0, nil, "", "", nil, now)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("NewRetryAttempt() error = %v, want ErrValidation for zero max attempts", err)
	}
}

func TestRetryAttemptLifecycle(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	a, err := NewRetryAttempt("a1", testInvoice(), 2, nil, "card_declined", "", nil, now)
	if err != nil {
		t.Fatalf("NewRetryAttempt() error = %v", err)
	}

	first := now.AddDate(0, 0, 3)
	if err := a.Schedule(first, now); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}

	if err := a.Claim(now); !errors.Is(err, ErrConflict) {
		t.Fatalf("Claim() before due error = %v, want ErrConflict", err)
	}
	if err := a.Claim(first); err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if a.ChargeNumber() != 2 {
		t.Fatalf("ChargeNumber() = %d, want 2", a.ChargeNumber())
	}

	decline := "insufficient_funds"
	if err := a.MarkFailed("card_declined", "declined", &decline, first); err != nil {
		t.Fatalf("MarkFailed() error = %v", err)
	}
	second := first.AddDate(0, 0, 5)
	if err := a.ScheduleNext(second, first); err != nil {
		t.Fatalf("ScheduleNext() error = %v", err)
	}
	if a.AttemptNumber != 2 || a.Status != StatusScheduled {
		t.Fatalf("after reschedule attempt=%d status=%s, want 2 SCHEDULED", a.AttemptNumber, a.Status)
	}

	if err := a.Claim(second); err != nil {
		t.Fatalf("Claim() second error = %v", err)
	}
	if err := a.MarkFailed("card_declined", "declined", nil, second); err != nil {
		t.Fatalf("MarkFailed() second error = %v", err)
	}
	if err := a.ScheduleNext(second.AddDate(0, 0, 5), second); !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("ScheduleNext() error = %v, want ErrRetriesExhausted", err)
	}
	if a.AttemptNumber != a.MaxAttempts {
		t.Fatalf("attempt number = %d, want %d", a.AttemptNumber, a.MaxAttempts)
	}
	if !a.IsTerminal() {
		t.Fatal("exhausted FAILED attempt should be terminal")
	}
	if err := a.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestRetryAttemptSucceededIsTerminal(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	a, err := NewRetryAttempt("a1", testInvoice(), 3, nil, "card_declined", "", nil, now)
	if err != nil {
		t.Fatalf("NewRetryAttempt() error = %v", err)
	}
	if err := a.Schedule(now, now); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	if err := a.Claim(now); err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if err := a.MarkSucceeded("pi_1", "ch_1", now); err != nil {
		t.Fatalf("MarkSucceeded() error = %v", err)
	}

	if !a.IsTerminal() {
		t.Fatal("SUCCEEDED attempt should be terminal")
	}
	if a.Resolution == nil || *a.Resolution != ResolutionCharged {
		t.Fatalf("resolution = %v, want charged", a.Resolution)
	}
	if err := a.Claim(now); err == nil {
		t.Fatal("Claim() on SUCCEEDED attempt should fail")
	}
	if err := a.MarkFailed("card_declined", "", nil, now); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("MarkFailed() error = %v, want ErrInvalidTransition", err)
	}
}

func TestRetryAttemptSettle(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	a, err := NewRetryAttempt("a1", testInvoice(), 3, nil, "card_declined", "", nil, now)
	if err != nil {
		t.Fatalf("NewRetryAttempt() error = %v", err)
	}
	if err := a.Schedule(now.Add(time.Hour), now); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}

	if err := a.Settle(ResolutionCharged, now); !errors.Is(err, ErrValidation) {
		t.Fatalf("Settle(charged) error = %v, want ErrValidation", err)
	}
	if err := a.Settle(ResolutionCancelled, now); err != nil {
		t.Fatalf("Settle() error = %v", err)
	}
	if a.Status != StatusSucceeded || a.NextRetryAt != nil {
		t.Fatalf("status=%s nextRetryAt=%v, want SUCCEEDED and nil", a.Status, a.NextRetryAt)
	}
}

func TestRetryAttemptNotifications(t *testing.T) {
	t.Parallel()

	a := &RetryAttempt{}
	if a.HasNotification(NotificationFailure, 1) {
		t.Fatal("empty log should not report notifications")
	}

	a.RecordNotification(NotificationRecord{Type: NotificationFailure, Channel: ChannelEmail, AttemptNumber: 1})
	if !a.HasNotification(NotificationFailure, 1) {
		t.Fatal("expected failure notification for attempt 1")
	}
	if a.HasNotification(NotificationFailure, 2) {
		t.Fatal("attempt 2 notification should not be reported")
	}
}

func TestFailureReasonAndClassification(t *testing.T) {
	t.Parallel()

	decline := " Insufficient_Funds "
	if got := FailureReason("card_declined", &decline); got != CodeInsufficientFunds {
		t.Fatalf("FailureReason() = %q, want %q", got, CodeInsufficientFunds)
	}
	if got := FailureReason("card_declined", nil); got != CodeCardDeclined {
		t.Fatalf("FailureReason() = %q, want %q", got, CodeCardDeclined)
	}
	if got := FailureReason("", nil); got != CodeGenericDecline {
		t.Fatalf("FailureReason() = %q, want %q", got, CodeGenericDecline)
	}

	if got := ClassifyFailure(CodeProcessingError); got != FailureGatewayTransient {
		t.Fatalf("ClassifyFailure(processing_error) = %s, want transient", got)
	}
	if got := ClassifyFailure(CodeCardDeclined); got != FailureGatewayDecline {
		t.Fatalf("ClassifyFailure(card_declined) = %s, want decline", got)
	}
	if got := DeclineLabel("expired_card"); got != "Card expired" {
		t.Fatalf("DeclineLabel() = %q, want Card expired", got)
	}
	if got := DeclineLabel("weird"); got != "Payment failed" {
		t.Fatalf("DeclineLabel() = %q, want fallback", got)
	}
}

func testInvoice() *Invoice {
	return &Invoice{
		ID:          "inv-123",
		TenantID:    "tenant-1",
		CustomerID:  "cust-1",
		Number:      "123",
		TotalAmount: decimal.RequireFromString("49.99"),
		Currency:    "eur",
		Status:      InvoiceStatusOpen,
	}
}
