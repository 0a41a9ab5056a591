package gateway

import (
	"context"
	"strings"

	"github.com/kursadbilgin/dunning-engine/internal/domain"
	"github.com/shopspring/decimal"
)

// PaymentProcessor is the outbound payment gateway port.
//
// ChargeSaved never returns an error: declines and transport failures both
// come back as an unsuccessful ChargeResult so callers have one failure path.
type PaymentProcessor interface {
	ChargeSaved(ctx context.Context, req ChargeRequest) ChargeResult
	CreateHostedIntent(ctx context.Context, req HostedIntentRequest) (*HostedIntent, error)
}

// ChargeRequest is an off-session charge against a saved payment method.
type ChargeRequest struct {
	PaymentMethodRef string
	CustomerRef      *string
	Amount           decimal.Decimal
	Currency         string
	IdempotencyKey   string
	Description      string
	Metadata         map[string]string
}

// ChargeResult is the normalized outcome of one charge.
type ChargeResult struct {
	Success       bool
	ProviderTxnID string
	ChargeID      string
	ErrorCode     string
	DeclineCode   *string
	ErrorMessage  string
}

// Kind classifies an unsuccessful result.
func (r ChargeResult) Kind() domain.FailureKind {
	return domain.ClassifyFailure(r.ErrorCode)
}

// Reason is the failure reason recorded for analytics.
func (r ChargeResult) Reason() string {
	return domain.FailureReason(r.ErrorCode, r.DeclineCode)
}

// Failed builds an unsuccessful result.
func Failed(code string, declineCode string, message string) ChargeResult {
	result := ChargeResult{
		ErrorCode:    code,
		ErrorMessage: message,
	}
	if d := strings.TrimSpace(declineCode); d != "" {
		result.DeclineCode = &d
	}
	return result
}

// ProcessingError is the result used for timeouts and transport failures.
func ProcessingError(message string) ChargeResult {
	return Failed(domain.CodeProcessingError, "", message)
}

// HostedIntentRequest asks the gateway for a customer-present payment.
type HostedIntentRequest struct {
	InvoiceID      string
	InvoiceNumber  string
	CustomerRef    *string
	Amount         decimal.Decimal
	Currency       string
	IdempotencyKey string
}

// HostedIntent carries what the customer needs to complete payment.
type HostedIntent struct {
	ID           string
	ClientSecret string
	URL          string
}

var zeroDecimalCurrencies = map[string]struct{}{
	"BIF": {}, "CLP": {}, "DJF": {}, "GNF": {}, "JPY": {}, "KMF": {}, "KRW": {}, "MGA": {},
	"PYG": {}, "RWF": {}, "UGX": {}, "VND": {}, "VUV": {}, "XAF": {}, "XOF": {}, "XPF": {},
}

// MinorUnits converts amount to the integer amount the gateway expects.
func MinorUnits(amount decimal.Decimal, currency string) int64 {
	if _, ok := zeroDecimalCurrencies[strings.ToUpper(currency)]; ok {
		return amount.Round(0).IntPart()
	}
	return amount.Shift(2).Round(0).IntPart()
}
