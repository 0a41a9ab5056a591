package domain

import "errors"

var (
	ErrValidation        = errors.New("validation error")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrConfigurationMissing is never fatal; callers provision defaults.
	ErrConfigurationMissing = errors.New("retry configuration missing")
	ErrRetriesExhausted     = errors.New("retries exhausted")
	ErrTokenExpired         = errors.New("card update token expired")
	ErrInvalidToken         = errors.New("invalid card update token")
	ErrNotificationDelivery = errors.New("notification delivery failed")
)
