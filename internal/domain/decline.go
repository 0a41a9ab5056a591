package domain

import "strings"

// FailureKind separates business declines from transport problems. Both are
// retried through the same path; the kind only feeds logs and metrics.
type FailureKind string

const (
	FailureGatewayDecline   FailureKind = "GATEWAY_DECLINE"
	FailureGatewayTransient FailureKind = "GATEWAY_TRANSIENT"
)

func (k FailureKind) String() string { return string(k) }

// Well-known gateway codes.
const (
	CodeInsufficientFunds     = "insufficient_funds"
	CodeCardDeclined          = "card_declined"
	CodeExpiredCard           = "expired_card"
	CodeIncorrectCVC          = "incorrect_cvc"
	CodeProcessingError       = "processing_error"
	CodeLostCard              = "lost_card"
	CodeStolenCard            = "stolen_card"
	CodeCardNotSupported      = "card_not_supported"
	CodeCurrencyNotSupported  = "currency_not_supported"
	CodeDuplicateTransaction  = "duplicate_transaction"
	CodeFraudulent            = "fraudulent"
	CodeGenericDecline        = "generic_decline"
	CodeNoSavedPaymentMethod  = "no_payment_method"
	defaultFailureReasonLabel = "Payment failed"
)

var declineLabels = map[string]string{
	CodeInsufficientFunds:    "Insufficient funds",
	CodeCardDeclined:         "Card declined",
	CodeExpiredCard:          "Card expired",
	CodeIncorrectCVC:         "Incorrect security code",
	CodeProcessingError:      "Processing error",
	CodeLostCard:             "Card reported lost",
	CodeStolenCard:           "Card reported stolen",
	CodeCardNotSupported:     "Card not supported",
	CodeCurrencyNotSupported: "Currency not supported",
	CodeDuplicateTransaction: "Duplicate transaction",
	CodeFraudulent:           "Suspected fraud",
	CodeGenericDecline:       "Payment declined",
}

// DeclineLabel returns a customer-facing label for a gateway code.
func DeclineLabel(code string) string {
	if label, ok := declineLabels[normalizeCode(code)]; ok {
		return label
	}
	return defaultFailureReasonLabel
}

// ClassifyFailure maps an error code to its failure kind.
func ClassifyFailure(errorCode string) FailureKind {
	if normalizeCode(errorCode) == CodeProcessingError {
		return FailureGatewayTransient
	}
	return FailureGatewayDecline
}

// FailureReason picks the most specific code: the decline code when the
// gateway supplied one, otherwise the error code.
func FailureReason(errorCode string, declineCode *string) string {
	if declineCode != nil {
		if code := normalizeCode(*declineCode); code != "" {
			return code
		}
	}
	if code := normalizeCode(errorCode); code != "" {
		return code
	}
	return CodeGenericDecline
}

func normalizeCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}
