package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/dunning-engine/internal/domain"
	"github.com/kursadbilgin/dunning-engine/internal/gateway"
	"github.com/kursadbilgin/dunning-engine/internal/observability"
	"github.com/kursadbilgin/dunning-engine/internal/ratelimit"
	"github.com/kursadbilgin/dunning-engine/internal/repository"
	"github.com/kursadbilgin/dunning-engine/internal/token"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultEngineConcurrency = 8
	defaultRunLimit          = 500
)

// Billing is the invoice, customer and payment store the engine settles against.
type Billing interface {
	BillingReader
	MarkInvoicePaid(ctx context.Context, id string, paidAt time.Time) error
	CreatePayment(ctx context.Context, p *domain.Payment) error
	UpdateCustomerPaymentMethod(ctx context.Context, customerID string, paymentMethodRef string, now time.Time) error
}

// ConfigSource returns a tenant's retry policy.
type ConfigSource interface {
	Get(ctx context.Context, tenantID string) (*domain.RetryConfig, error)
}

// RetryTimer computes the time of an attempt's next charge.
type RetryTimer interface {
	NextRetryAt(ctx context.Context, tenantID string, attemptNumber int, cfg *domain.RetryConfig) time.Time
}

// FailureAnalytics is the write side of the failure analytics log.
type FailureAnalytics interface {
	Record(ctx context.Context, attempt *domain.RetryAttempt, chargeNumber int, failureReason string, at time.Time) error
	MarkRecovered(ctx context.Context, attempt *domain.RetryAttempt, recoveryAttemptNumber int, at time.Time) error
}

// CardUpdateVerifier checks card-update tokens.
type CardUpdateVerifier interface {
	Verify(tokenString string) (*token.Claims, error)
}

// RetryEngineDeps are the collaborators of a RetryEngine. Limiter and Verifier
// are optional.
type RetryEngineDeps struct {
	Attempts   repository.AttemptRepository
	Billing    Billing
	Configs    ConfigSource
	Scheduler  RetryTimer
	Analytics  FailureAnalytics
	Processor  gateway.PaymentProcessor
	Limiter    ratelimit.RateLimiter
	Dispatcher *NotificationDispatcher
	Terminal   *TerminalActionHandler
	Verifier   CardUpdateVerifier
}

// Outcome is the result of processing one due attempt.
type Outcome struct {
	AttemptID       string
	TenantID        string
	Result          string
	Status          domain.Status
	AttemptNumber   int
	NextRetryAt     *time.Time
	AwaitingPayment bool
	PaymentURL      string
}

// RunSummary aggregates one RunDueRetries pass.
type RunSummary struct {
	Due      int
	Errors   int
	Counts   map[string]int
	Outcomes []Outcome
}

// RetryEngine drives RetryAttempts through their lifecycle.
type RetryEngine struct {
	attempts    repository.AttemptRepository
	billing     Billing
	configs     ConfigSource
	scheduler   RetryTimer
	analytics   FailureAnalytics
	processor   gateway.PaymentProcessor
	limiter     ratelimit.RateLimiter
	dispatcher  *NotificationDispatcher
	terminal    *TerminalActionHandler
	verifier    CardUpdateVerifier
	metrics     *observability.Metrics
	logger      *zap.Logger
	concurrency int
	runLimit    int
	now         func() time.Time
	newID       func() string
}

func NewRetryEngine(deps RetryEngineDeps, concurrency int, runLimit int, logger *zap.Logger) (*RetryEngine, error) {
	switch {
	case deps.Attempts == nil:
		return nil, fmt.Errorf("attempt repository is required")
	case deps.Billing == nil:
		return nil, fmt.Errorf("billing store is required")
	case deps.Configs == nil:
		return nil, fmt.Errorf("config source is required")
	case deps.Scheduler == nil:
		return nil, fmt.Errorf("scheduler is required")
	case deps.Analytics == nil:
		return nil, fmt.Errorf("analytics store is required")
	case deps.Processor == nil:
		return nil, fmt.Errorf("payment processor is required")
	case deps.Dispatcher == nil:
		return nil, fmt.Errorf("notification dispatcher is required")
	case deps.Terminal == nil:
		return nil, fmt.Errorf("terminal action handler is required")
	}
	if concurrency <= 0 {
		concurrency = defaultEngineConcurrency
	}
	if runLimit <= 0 {
		runLimit = defaultRunLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RetryEngine{
		attempts:    deps.Attempts,
		billing:     deps.Billing,
		configs:     deps.Configs,
		scheduler:   deps.Scheduler,
		analytics:   deps.Analytics,
		processor:   deps.Processor,
		limiter:     deps.Limiter,
		dispatcher:  deps.Dispatcher,
		terminal:    deps.Terminal,
		verifier:    deps.Verifier,
		logger:      logger,
		concurrency: concurrency,
		runLimit:    runLimit,
		now:         time.Now,
		newID:       uuid.NewString,
	}, nil
}

func (e *RetryEngine) SetMetrics(metrics *observability.Metrics) {
	if e == nil {
		return
	}
	e.metrics = metrics
}

// OnPaymentFailure opens the retry attempt for an invoice whose first charge
// was declined. An invoice that already has an active attempt returns it.
func (e *RetryEngine) OnPaymentFailure(
	ctx context.Context,
	invoiceID string,
	failureCode string,
	failureMessage string,
	declineCode *string,
) (*domain.RetryAttempt, error) {
	invoice, err := e.billing.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load invoice: %w", err)
	}
	if invoice.IsPaid() {
		return nil, fmt.Errorf("%w: invoice %s is already paid", domain.ErrConflict, invoiceID)
	}

	if existing, err := e.attempts.GetActiveByInvoice(ctx, invoiceID); err == nil {
		return existing, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("failed to check active attempt: %w", err)
	}

	cfg, err := e.configs.Get(ctx, invoice.TenantID)
	if err != nil {
		return nil, err
	}

	var paymentMethodRef *string
	if customer, err := e.billing.GetCustomer(ctx, invoice.CustomerID); err == nil {
		paymentMethodRef = customer.PaymentMethodRef
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("failed to load customer: %w", err)
	}

	now := e.now().UTC()
	attempt, err := domain.NewRetryAttempt(e.newID(), invoice, cfg.MaxRetries, paymentMethodRef, failureCode, failureMessage, declineCode, now)
	if err != nil {
		return nil, err
	}
	if err := attempt.Schedule(e.scheduler.NextRetryAt(ctx, attempt.TenantID, attempt.AttemptNumber, cfg), now); err != nil {
		return nil, err
	}

	if err := e.attempts.Create(ctx, attempt); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return e.attempts.GetActiveByInvoice(ctx, invoiceID)
		}
		return nil, fmt.Errorf("failed to create retry attempt: %w", err)
	}
	e.metrics.IncRetryScheduled()

	logger := e.attemptLogger(ctx, attempt)
	logger.Info("retry attempt opened", zap.Timep("nextRetryAt", attempt.NextRetryAt))

	reason := domain.FailureReason(failureCode, declineCode)
	if err := e.analytics.Record(ctx, attempt, 1, reason, now); err != nil {
		logger.Warn("failed to record failure analytics", zap.Error(err))
	}
	if cfg.NotifyOnFailure {
		e.dispatcher.SendEscalation(ctx, attempt, cfg, reason)
	}
	return attempt, nil
}

// ProcessAttempt runs the attempt's due charge if this caller wins the claim.
// Attempts that are not due, or claimed elsewhere, are skipped.
func (e *RetryEngine) ProcessAttempt(ctx context.Context, attemptID string) (Outcome, error) {
	attempt, err := e.attempts.GetByID(ctx, attemptID)
	if err != nil {
		return Outcome{}, err
	}
	if !attempt.IsDue(e.now()) {
		return e.skipped(attempt), nil
	}
	cfg, err := e.configs.Get(ctx, attempt.TenantID)
	if err != nil {
		return Outcome{}, err
	}
	return e.process(ctx, attempt, cfg)
}

// RunDueRetries processes every attempt due now, optionally for one tenant.
// Attempts are grouped by tenant so each tenant's policy is read once. A
// failing attempt never stops the others.
func (e *RetryEngine) RunDueRetries(ctx context.Context, tenantID *string) (RunSummary, error) {
	due, err := e.attempts.ListDue(ctx, tenantID, e.now().UTC(), e.runLimit)
	if err != nil {
		return RunSummary{}, fmt.Errorf("failed to list due attempts: %w", err)
	}

	summary := RunSummary{Due: len(due), Counts: make(map[string]int)}
	if len(due) == 0 {
		return summary, nil
	}

	tenants := make([]string, 0)
	byTenant := make(map[string][]domain.RetryAttempt)
	for _, a := range due {
		if _, ok := byTenant[a.TenantID]; !ok {
			tenants = append(tenants, a.TenantID)
		}
		byTenant[a.TenantID] = append(byTenant[a.TenantID], a)
	}

	var mu sync.Mutex
	collect := func(outcome Outcome, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			summary.Errors++
			return
		}
		summary.Counts[outcome.Result]++
		summary.Outcomes = append(summary.Outcomes, outcome)
	}

	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for _, tenant := range tenants {
		cfg, err := e.configs.Get(ctx, tenant)
		if err != nil {
			e.logger.Error("failed to load tenant retry config",
				zap.String("tenantId", tenant),
				zap.Error(err),
			)
			for range byTenant[tenant] {
				collect(Outcome{}, err)
			}
			continue
		}

		for i := range byTenant[tenant] {
			attempt := byTenant[tenant][i]
			g.Go(func() error {
				outcome, err := e.process(ctx, &attempt, cfg)
				if err != nil {
					e.attemptLogger(ctx, &attempt).Error("failed to process retry attempt", zap.Error(err))
				}
				collect(outcome, err)
				return nil
			})
		}
	}
	_ = g.Wait()

	return summary, nil
}

func (e *RetryEngine) process(ctx context.Context, attempt *domain.RetryAttempt, cfg *domain.RetryConfig) (Outcome, error) {
	claimed, err := e.attempts.Claim(ctx, attempt.ID, e.now().UTC())
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to claim attempt: %w", err)
	}
	if !claimed {
		return e.skipped(attempt), nil
	}

	// Re-read for the state and fencing token this claim produced.
	attempt, err = e.attempts.GetByID(ctx, attempt.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to reload claimed attempt: %w", err)
	}
	if attempt.Status != domain.StatusProcessing {
		return e.skipped(attempt), nil
	}

	ctx = observability.WithTenantID(ctx, attempt.TenantID)
	logger := e.attemptLogger(ctx, attempt)

	invoice, err := e.billing.GetInvoice(ctx, attempt.InvoiceID)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to load invoice: %w", err)
	}
	if invoice.IsPaid() {
		return e.closePaidElsewhere(ctx, attempt)
	}

	paymentMethodRef, customerRef, err := e.paymentMethod(ctx, attempt)
	if err != nil {
		return Outcome{}, err
	}
	if paymentMethodRef == "" {
		return e.awaitPayment(ctx, attempt, cfg, invoice, customerRef)
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx, attempt.TenantID); err != nil {
			logger.Warn("gateway rate limit wait failed, deferring", zap.Error(err))
			return e.deferAttempt(ctx, attempt, e.now().UTC())
		}
	}

	e.metrics.IncWorkerInFlight()
	start := e.now()
	result := e.processor.ChargeSaved(ctx, gateway.ChargeRequest{
		PaymentMethodRef: paymentMethodRef,
		CustomerRef:      customerRef,
		Amount:           attempt.Amount,
		Currency:         attempt.Currency,
		IdempotencyKey:   attempt.IdempotencyKey(),
		Description:      "Invoice " + invoiceLabel(invoice),
		Metadata: map[string]string{
			"attempt_id":     attempt.ID,
			"invoice_id":     attempt.InvoiceID,
			"tenant_id":      attempt.TenantID,
			"attempt_number": strconv.Itoa(attempt.AttemptNumber),
		},
	})
	e.metrics.ObserveChargeDuration(e.now().Sub(start))
	e.metrics.DecWorkerInFlight()

	if result.Success {
		return e.handleSuccess(ctx, attempt, cfg, result)
	}
	return e.handleFailure(ctx, attempt, cfg, result)
}

func (e *RetryEngine) handleSuccess(ctx context.Context, attempt *domain.RetryAttempt, cfg *domain.RetryConfig, result gateway.ChargeResult) (Outcome, error) {
	now := e.now().UTC()
	logger := e.attemptLogger(ctx, attempt)

	if err := attempt.MarkSucceeded(result.ProviderTxnID, result.ChargeID, now); err != nil {
		return Outcome{}, err
	}
	if err := e.attempts.Save(ctx, attempt, domain.StatusProcessing); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			logger.Warn("charge succeeded but attempt was released meanwhile", zap.String("providerTxnId", result.ProviderTxnID))
			return e.skipped(attempt), nil
		}
		return Outcome{}, fmt.Errorf("failed to save succeeded attempt: %w", err)
	}

	payment := &domain.Payment{
		ID:            e.newID(),
		TenantID:      attempt.TenantID,
		CustomerID:    attempt.CustomerID,
		InvoiceID:     attempt.InvoiceID,
		AttemptID:     attempt.ID,
		Amount:        attempt.Amount,
		Currency:      attempt.Currency,
		Method:        domain.PaymentMethodCard,
		Status:        domain.PaymentStatusCompleted,
		ProviderTxnID: result.ProviderTxnID,
		ChargeID:      attempt.ChargeID,
		ProcessedAt:   now,
		CreatedAt:     now,
	}
	if err := e.billing.CreatePayment(ctx, payment); err != nil && !errors.Is(err, domain.ErrConflict) {
		logger.Error("failed to record payment", zap.Error(err))
	}
	if err := e.billing.MarkInvoicePaid(ctx, attempt.InvoiceID, now); err != nil {
		logger.Error("failed to mark invoice paid", zap.Error(err))
	}
	if err := e.analytics.MarkRecovered(ctx, attempt, attempt.ChargeNumber(), now); err != nil {
		logger.Warn("failed to record recovery outcome", zap.Error(err))
	}

	logger.Info("payment recovered", zap.String("providerTxnId", result.ProviderTxnID))
	e.dispatcher.SendSuccess(ctx, attempt, cfg)
	e.metrics.AddRecoveredAmount(attempt.Currency, attempt.Amount)
	return e.outcome(attempt, observability.OutcomeSucceeded), nil
}

func (e *RetryEngine) handleFailure(ctx context.Context, attempt *domain.RetryAttempt, cfg *domain.RetryConfig, result gateway.ChargeResult) (Outcome, error) {
	now := e.now().UTC()
	logger := e.attemptLogger(ctx, attempt)
	chargeNumber := attempt.ChargeNumber()
	reason := result.Reason()

	if err := attempt.MarkFailed(result.ErrorCode, result.ErrorMessage, result.DeclineCode, now); err != nil {
		return Outcome{}, err
	}
	exhausted := !attempt.CanRetry()
	if !exhausted {
		next := e.scheduler.NextRetryAt(ctx, attempt.TenantID, attempt.AttemptNumber+1, cfg)
		if err := attempt.ScheduleNext(next, now); err != nil {
			return Outcome{}, err
		}
	}

	// Only the process that persists this transition continues.
	if err := e.attempts.Save(ctx, attempt, domain.StatusProcessing); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			logger.Warn("charge failed but attempt was released meanwhile", zap.String("errorCode", result.ErrorCode))
			return e.skipped(attempt), nil
		}
		return Outcome{}, fmt.Errorf("failed to save failed attempt: %w", err)
	}

	if err := e.analytics.Record(ctx, attempt, chargeNumber, reason, now); err != nil {
		logger.Warn("failed to record failure analytics", zap.Error(err))
	}

	if exhausted {
		logger.Info("retries exhausted",
			zap.String("errorCode", result.ErrorCode),
			zap.Stringp("declineCode", result.DeclineCode),
		)
		if err := e.terminal.Handle(ctx, attempt, cfg); err != nil {
			logger.Error("terminal action incomplete, flagging for review", zap.Error(err))
			e.flagTerminalFailure(ctx, attempt, err)
		}
		return e.outcome(attempt, observability.OutcomeExhausted), nil
	}

	logger.Info("charge failed, retry scheduled",
		zap.String("errorCode", result.ErrorCode),
		zap.Stringp("declineCode", result.DeclineCode),
		zap.String("failureKind", result.Kind().String()),
		zap.Timep("nextRetryAt", attempt.NextRetryAt),
	)
	e.metrics.IncRetryScheduled()
	if cfg.NotifyOnFailure {
		e.dispatcher.SendEscalation(ctx, attempt, cfg, reason)
	}
	return e.outcome(attempt, observability.OutcomeFailed), nil
}

// flagTerminalFailure marks an exhausted attempt whose terminal action did
// not complete so it surfaces for manual review.
func (e *RetryEngine) flagTerminalFailure(ctx context.Context, attempt *domain.RetryAttempt, cause error) {
	reason := fmt.Sprintf("terminal action incomplete: %v", cause)
	if err := e.attempts.FlagForReview(ctx, attempt.ID, reason, e.now().UTC()); err != nil {
		e.attemptLogger(ctx, attempt).Error("failed to flag attempt for review", zap.Error(err))
		return
	}
	attempt.NeedsReview = true
	attempt.ReviewReason = &reason
}

func (e *RetryEngine) closePaidElsewhere(ctx context.Context, attempt *domain.RetryAttempt) (Outcome, error) {
	if err := attempt.MarkPaidElsewhere(e.now().UTC()); err != nil {
		return Outcome{}, err
	}
	if err := e.attempts.Save(ctx, attempt, domain.StatusProcessing); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return e.skipped(attempt), nil
		}
		return Outcome{}, fmt.Errorf("failed to close paid attempt: %w", err)
	}
	e.attemptLogger(ctx, attempt).Info("invoice paid elsewhere, attempt closed")
	return e.outcome(attempt, observability.OutcomeAlreadyPaid), nil
}

// awaitPayment handles a customer with no saved payment method: it offers a
// hosted payment page and re-schedules the same attempt number.
func (e *RetryEngine) awaitPayment(
	ctx context.Context,
	attempt *domain.RetryAttempt,
	cfg *domain.RetryConfig,
	invoice *domain.Invoice,
	customerRef *string,
) (Outcome, error) {
	logger := e.attemptLogger(ctx, attempt)

	intent, err := e.processor.CreateHostedIntent(ctx, gateway.HostedIntentRequest{
		InvoiceID:      invoice.ID,
		InvoiceNumber:  invoiceLabel(invoice),
		CustomerRef:    customerRef,
		Amount:         attempt.Amount,
		Currency:       attempt.Currency,
		IdempotencyKey: attempt.IdempotencyKey() + "-hosted",
	})
	if err != nil {
		logger.Error("failed to create hosted payment intent", zap.Error(err))
		intent = nil
	}

	now := e.now().UTC()
	next := e.scheduler.NextRetryAt(ctx, attempt.TenantID, attempt.AttemptNumber, cfg)
	if err := attempt.Defer(next, now); err != nil {
		return Outcome{}, err
	}
	if err := e.attempts.Save(ctx, attempt, domain.StatusProcessing); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return e.skipped(attempt), nil
		}
		return Outcome{}, fmt.Errorf("failed to defer attempt: %w", err)
	}

	logger.Info("no saved payment method, awaiting payment", zap.Timep("nextRetryAt", attempt.NextRetryAt))
	e.dispatcher.SendPaymentLink(ctx, attempt, intent)

	out := e.outcome(attempt, observability.OutcomeAwaitingPayment)
	out.AwaitingPayment = true
	if intent != nil {
		out.PaymentURL = intent.URL
	}
	return out, nil
}

func (e *RetryEngine) deferAttempt(ctx context.Context, attempt *domain.RetryAttempt, at time.Time) (Outcome, error) {
	if err := attempt.Defer(at, e.now().UTC()); err != nil {
		return Outcome{}, err
	}
	if err := e.attempts.Save(ctx, attempt, domain.StatusProcessing); err != nil && !errors.Is(err, domain.ErrConflict) {
		return Outcome{}, fmt.Errorf("failed to defer attempt: %w", err)
	}
	return e.skipped(attempt), nil
}

// paymentMethod prefers the customer's current saved method over the one the
// attempt was opened with.
func (e *RetryEngine) paymentMethod(ctx context.Context, attempt *domain.RetryAttempt) (string, *string, error) {
	var ref string
	if attempt.PaymentMethodRef != nil {
		ref = *attempt.PaymentMethodRef
	}

	customer, err := e.billing.GetCustomer(ctx, attempt.CustomerID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return ref, nil, nil
		}
		return "", nil, fmt.Errorf("failed to load customer: %w", err)
	}
	if customer.PaymentMethodRef != nil && *customer.PaymentMethodRef != "" {
		ref = *customer.PaymentMethodRef
	}
	return ref, customer.GatewayCustomerRef, nil
}

// OnCardUpdated stores the payment method submitted through a card-update
// link and makes the attempt due immediately.
func (e *RetryEngine) OnCardUpdated(ctx context.Context, tokenString string, paymentMethodRef string) (*domain.RetryAttempt, error) {
	if e.verifier == nil {
		return nil, fmt.Errorf("card update verifier is not configured")
	}
	if paymentMethodRef == "" {
		return nil, fmt.Errorf("%w: payment method is required", domain.ErrValidation)
	}

	claims, err := e.verifier.Verify(tokenString)
	if err != nil {
		return nil, err
	}
	attempt, err := e.attempts.GetByID(ctx, claims.AttemptID())
	if err != nil {
		return nil, err
	}
	if attempt.InvoiceID != claims.InvoiceID || attempt.TenantID != claims.TenantID {
		return nil, fmt.Errorf("%w: token does not match attempt", domain.ErrInvalidToken)
	}
	if !attempt.Status.IsActive() {
		return nil, fmt.Errorf("%w: attempt %s is %s", domain.ErrConflict, attempt.ID, attempt.Status)
	}

	now := e.now().UTC()
	if err := e.billing.UpdateCustomerPaymentMethod(ctx, attempt.CustomerID, paymentMethodRef, now); err != nil {
		return nil, fmt.Errorf("failed to store payment method: %w", err)
	}

	// A claimed attempt picks the new method up from the customer record.
	if attempt.Status == domain.StatusProcessing {
		return attempt, nil
	}

	expected := attempt.Status
	attempt.PaymentMethodRef = &paymentMethodRef
	attempt.CardWasUpdated = true
	if attempt.Status == domain.StatusScheduled {
		attempt.NextRetryAt = &now
	}
	attempt.UpdatedAt = now
	if err := e.attempts.Save(ctx, attempt, expected); err != nil {
		return nil, err
	}

	e.attemptLogger(ctx, attempt).Info("payment method updated, retry due now")
	return attempt, nil
}

// SettleOutOfBand closes the invoice's active attempt after a manual payment.
func (e *RetryEngine) SettleOutOfBand(ctx context.Context, invoiceID string) (*domain.RetryAttempt, error) {
	attempt, err := e.attempts.GetActiveByInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if err := e.settle(ctx, attempt, domain.ResolutionPaidOutOfBand); err != nil {
		return nil, err
	}
	if err := e.billing.MarkInvoicePaid(ctx, invoiceID, e.now().UTC()); err != nil {
		return nil, fmt.Errorf("failed to mark invoice paid: %w", err)
	}
	return attempt, nil
}

// Cancel stops dunning for an attempt that is not being processed.
func (e *RetryEngine) Cancel(ctx context.Context, attemptID string) (*domain.RetryAttempt, error) {
	attempt, err := e.attempts.GetByID(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if err := e.settle(ctx, attempt, domain.ResolutionCancelled); err != nil {
		return nil, err
	}
	return attempt, nil
}

func (e *RetryEngine) settle(ctx context.Context, attempt *domain.RetryAttempt, resolution domain.Resolution) error {
	expected := attempt.Status
	if err := attempt.Settle(resolution, e.now().UTC()); err != nil {
		return err
	}
	if err := e.attempts.Save(ctx, attempt, expected); err != nil {
		return err
	}
	e.attemptLogger(ctx, attempt).Info("attempt settled", zap.String("resolution", resolution.String()))
	return nil
}

// Reschedule moves a scheduled attempt's next charge to at.
func (e *RetryEngine) Reschedule(ctx context.Context, attemptID string, at time.Time) (*domain.RetryAttempt, error) {
	now := e.now().UTC()
	if !at.After(now) {
		return nil, fmt.Errorf("%w: reschedule time must be in the future", domain.ErrValidation)
	}
	attempt, err := e.attempts.GetByID(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if attempt.Status != domain.StatusScheduled {
		return nil, fmt.Errorf("%w: cannot reschedule %s attempt", domain.ErrInvalidTransition, attempt.Status)
	}

	at = at.UTC()
	attempt.NextRetryAt = &at
	attempt.UpdatedAt = now
	if err := e.attempts.Save(ctx, attempt, domain.StatusScheduled); err != nil {
		return nil, err
	}
	return attempt, nil
}

// ManualRetry makes a scheduled attempt due now and processes it.
func (e *RetryEngine) ManualRetry(ctx context.Context, attemptID string) (Outcome, error) {
	attempt, err := e.attempts.GetByID(ctx, attemptID)
	if err != nil {
		return Outcome{}, err
	}
	if attempt.Status != domain.StatusScheduled {
		return Outcome{}, fmt.Errorf("%w: cannot retry %s attempt", domain.ErrInvalidTransition, attempt.Status)
	}

	now := e.now().UTC()
	attempt.NextRetryAt = &now
	attempt.UpdatedAt = now
	if err := e.attempts.Save(ctx, attempt, domain.StatusScheduled); err != nil {
		return Outcome{}, err
	}
	return e.ProcessAttempt(ctx, attemptID)
}

func (e *RetryEngine) skipped(attempt *domain.RetryAttempt) Outcome {
	return e.outcome(attempt, observability.OutcomeSkipped)
}

func (e *RetryEngine) outcome(attempt *domain.RetryAttempt, result string) Outcome {
	e.metrics.IncRetryProcessed(result)
	return Outcome{
		AttemptID:     attempt.ID,
		TenantID:      attempt.TenantID,
		Result:        result,
		Status:        attempt.Status,
		AttemptNumber: attempt.AttemptNumber,
		NextRetryAt:   attempt.NextRetryAt,
	}
}

func (e *RetryEngine) attemptLogger(ctx context.Context, attempt *domain.RetryAttempt) *zap.Logger {
	fields := []zap.Field{
		zap.String("attemptId", attempt.ID),
		zap.String("invoiceId", attempt.InvoiceID),
		zap.Int("attemptNumber", attempt.AttemptNumber),
	}
	if _, ok := observability.TenantIDFromContext(ctx); !ok {
		fields = append(fields, zap.String("tenantId", attempt.TenantID))
	}
	return observability.WithContextLogger(e.logger, ctx).With(fields...)
}

func invoiceLabel(invoice *domain.Invoice) string {
	if invoice.Number != "" {
		return invoice.Number
	}
	return invoice.ID
}
