package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/dunning-engine/internal/domain"
	"github.com/kursadbilgin/dunning-engine/internal/observability"
	"go.uber.org/zap"
)

// CustomerAccessManager applies structural account changes.
type CustomerAccessManager interface {
	ScheduleSuspension(ctx context.Context, customerID string, effectiveAt time.Time) (int64, error)
	FlagDowngrade(ctx context.Context, customerID string, now time.Time) error
}

// InvoiceOverdueMarker marks an unrecovered invoice overdue.
type InvoiceOverdueMarker interface {
	MarkInvoiceOverdue(ctx context.Context, id string, now time.Time) error
}

// TerminalActionHandler runs once per attempt, when its last retry fails.
type TerminalActionHandler struct {
	invoices   InvoiceOverdueMarker
	access     CustomerAccessManager
	dispatcher *NotificationDispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

func NewTerminalActionHandler(
	invoices InvoiceOverdueMarker,
	access CustomerAccessManager,
	dispatcher *NotificationDispatcher,
	logger *zap.Logger,
) (*TerminalActionHandler, error) {
	if invoices == nil {
		return nil, fmt.Errorf("invoice store is required")
	}
	if access == nil {
		return nil, fmt.Errorf("customer access manager is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &TerminalActionHandler{
		invoices:   invoices,
		access:     access,
		dispatcher: dispatcher,
		logger:     logger,
		now:        time.Now,
	}, nil
}

func (h *TerminalActionHandler) SetMetrics(metrics *observability.Metrics) {
	if h == nil {
		return
	}
	h.metrics = metrics
}

// Handle marks the invoice overdue, applies the configured final action and
// notifies the tenant's administrators. Every step runs even when an earlier
// one fails; the joined step errors are returned.
func (h *TerminalActionHandler) Handle(ctx context.Context, a *domain.RetryAttempt, cfg *domain.RetryConfig) error {
	now := h.now().UTC()
	logger := h.logger.With(
		zap.String("attemptId", a.ID),
		zap.String("tenantId", a.TenantID),
		zap.String("customerId", a.CustomerID),
		zap.String("action", cfg.FinalFailureAction.String()),
	)

	var errs []error
	if err := h.invoices.MarkInvoiceOverdue(ctx, a.InvoiceID, now); err != nil {
		errs = append(errs, fmt.Errorf("failed to mark invoice overdue: %w", err))
	}

	if err := h.applyFinalAction(ctx, a, cfg, now, logger); err != nil {
		errs = append(errs, err)
		h.metrics.IncTerminalAction(terminalActionIncomplete)
	} else {
		h.metrics.IncTerminalAction(cfg.FinalFailureAction.String())
	}

	if h.dispatcher != nil {
		h.dispatcher.SendFinalFailure(ctx, a, cfg)
	}
	return errors.Join(errs...)
}

const terminalActionIncomplete = "incomplete"

func (h *TerminalActionHandler) applyFinalAction(ctx context.Context, a *domain.RetryAttempt, cfg *domain.RetryConfig, now time.Time, logger *zap.Logger) error {
	switch cfg.FinalFailureAction {
	case domain.FinalActionSuspend:
		effectiveAt := now.AddDate(0, 0, cfg.GracePeriodDays)
		contracts, err := h.access.ScheduleSuspension(ctx, a.CustomerID, effectiveAt)
		if err != nil {
			return fmt.Errorf("failed to schedule suspension: %w", err)
		}
		logger.Info("suspension scheduled",
			zap.Time("effectiveAt", effectiveAt),
			zap.Int64("contracts", contracts),
		)
	case domain.FinalActionDowngrade:
		if err := h.access.FlagDowngrade(ctx, a.CustomerID, now); err != nil {
			return fmt.Errorf("failed to flag downgrade: %w", err)
		}
		logger.Info("customer flagged for downgrade")
	default:
		logger.Info("retries exhausted, no final action configured")
	}
	return nil
}
