package service

import (
	"context"
	"sync"
	"time"

	"github.com/kursadbilgin/dunning-engine/internal/domain"
	"github.com/kursadbilgin/dunning-engine/internal/gateway"
	"github.com/kursadbilgin/dunning-engine/internal/notify"
	"github.com/kursadbilgin/dunning-engine/internal/queue"
	"github.com/kursadbilgin/dunning-engine/internal/repository"
	"github.com/kursadbilgin/dunning-engine/internal/token"
)

type fakeProcessor struct {
	mu       sync.Mutex
	charges  []gateway.ChargeRequest
	hosted   []gateway.HostedIntentRequest
	chargeFn func(ctx context.Context, req gateway.ChargeRequest) gateway.ChargeResult
	hostedFn func(ctx context.Context, req gateway.HostedIntentRequest) (*gateway.HostedIntent, error)
}

func (f *fakeProcessor) ChargeSaved(ctx context.Context, req gateway.ChargeRequest) gateway.ChargeResult {
	f.mu.Lock()
	f.charges = append(f.charges, req)
	f.mu.Unlock()
	if f.chargeFn != nil {
		return f.chargeFn(ctx, req)
	}
	return gateway.ChargeResult{Success: true, ProviderTxnID: "pi_" + req.IdempotencyKey, ChargeID: "ch_" + req.IdempotencyKey}
}

func (f *fakeProcessor) CreateHostedIntent(ctx context.Context, req gateway.HostedIntentRequest) (*gateway.HostedIntent, error) {
	f.mu.Lock()
	f.hosted = append(f.hosted, req)
	f.mu.Unlock()
	if f.hostedFn != nil {
		return f.hostedFn(ctx, req)
	}
	return &gateway.HostedIntent{ID: "pi_hosted", ClientSecret: "secret", URL: "https://pay.example.com/pi_hosted"}, nil
}

func (f *fakeProcessor) chargeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.charges)
}

type fakeNotifier struct {
	mu     sync.Mutex
	sent   []notify.Message
	sendFn func(ctx context.Context, msg notify.Message) (*notify.Response, error)
}

func (f *fakeNotifier) Send(ctx context.Context, msg notify.Message) (*notify.Response, error) {
	if f.sendFn != nil {
		resp, err := f.sendFn(ctx, msg)
		if err != nil {
			return resp, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return &notify.Response{StatusCode: 200, MessageID: "msg-1", Attempts: 1}, nil
}

func (f *fakeNotifier) kinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	kinds := make([]string, 0, len(f.sent))
	for _, m := range f.sent {
		kinds = append(kinds, m.Kind)
	}
	return kinds
}

type fakeAccessManager struct {
	mu          sync.Mutex
	suspensions []time.Time
	downgrades  int
	// failNext makes the next ScheduleSuspension return this error once.
	failNext error
}

func (f *fakeAccessManager) ScheduleSuspension(ctx context.Context, customerID string, effectiveAt time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failNext; err != nil {
		f.failNext = nil
		return 0, err
	}
	f.suspensions = append(f.suspensions, effectiveAt)
	return 1, nil
}

func (f *fakeAccessManager) FlagDowngrade(ctx context.Context, customerID string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downgrades++
	return nil
}

type retryTimerFunc func(ctx context.Context, tenantID string, attemptNumber int, cfg *domain.RetryConfig) time.Time

func (f retryTimerFunc) NextRetryAt(ctx context.Context, tenantID string, attemptNumber int, cfg *domain.RetryConfig) time.Time {
	return f(ctx, tenantID, attemptNumber, cfg)
}

type verifierFunc func(tokenString string) (*token.Claims, error)

func (f verifierFunc) Verify(tokenString string) (*token.Claims, error) {
	return f(tokenString)
}

type fakeAttemptRepo struct {
	createFn             func(ctx context.Context, a *domain.RetryAttempt) error
	getByIDFn            func(ctx context.Context, id string) (*domain.RetryAttempt, error)
	getActiveByInvoiceFn func(ctx context.Context, invoiceID string) (*domain.RetryAttempt, error)
	claimFn              func(ctx context.Context, id string, now time.Time) (bool, error)
	saveFn               func(ctx context.Context, a *domain.RetryAttempt, expected domain.Status) error
	listDueFn            func(ctx context.Context, tenantID *string, now time.Time, limit int) ([]domain.RetryAttempt, error)
	listStuckFn          func(ctx context.Context, claimedBefore time.Time, limit int) ([]domain.RetryAttempt, error)
	releaseStuckFn       func(ctx context.Context, id string, reclaimCount int, now time.Time) error
	flagForReviewFn      func(ctx context.Context, id string, reason string, now time.Time) error
	setNotificationsFn   func(ctx context.Context, id string, notifications []domain.NotificationRecord) error
	statsFn              func(ctx context.Context, tenantID string, monthStart time.Time) (repository.AttemptStats, error)
}

func (f *fakeAttemptRepo) Create(ctx context.Context, a *domain.RetryAttempt) error {
	if f.createFn != nil {
		return f.createFn(ctx, a)
	}
	return nil
}

func (f *fakeAttemptRepo) GetByID(ctx context.Context, id string) (*domain.RetryAttempt, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeAttemptRepo) GetActiveByInvoice(ctx context.Context, invoiceID string) (*domain.RetryAttempt, error) {
	if f.getActiveByInvoiceFn != nil {
		return f.getActiveByInvoiceFn(ctx, invoiceID)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeAttemptRepo) Claim(ctx context.Context, id string, now time.Time) (bool, error) {
	if f.claimFn != nil {
		return f.claimFn(ctx, id, now)
	}
	return false, nil
}

func (f *fakeAttemptRepo) Save(ctx context.Context, a *domain.RetryAttempt, expected domain.Status) error {
	if f.saveFn != nil {
		return f.saveFn(ctx, a, expected)
	}
	return nil
}

func (f *fakeAttemptRepo) ListDue(ctx context.Context, tenantID *string, now time.Time, limit int) ([]domain.RetryAttempt, error) {
	if f.listDueFn != nil {
		return f.listDueFn(ctx, tenantID, now, limit)
	}
	return nil, nil
}

func (f *fakeAttemptRepo) ListStuck(ctx context.Context, claimedBefore time.Time, limit int) ([]domain.RetryAttempt, error) {
	if f.listStuckFn != nil {
		return f.listStuckFn(ctx, claimedBefore, limit)
	}
	return nil, nil
}

func (f *fakeAttemptRepo) ReleaseStuck(ctx context.Context, id string, reclaimCount int, now time.Time) error {
	if f.releaseStuckFn != nil {
		return f.releaseStuckFn(ctx, id, reclaimCount, now)
	}
	return nil
}

func (f *fakeAttemptRepo) FlagForReview(ctx context.Context, id string, reason string, now time.Time) error {
	if f.flagForReviewFn != nil {
		return f.flagForReviewFn(ctx, id, reason, now)
	}
	return nil
}

func (f *fakeAttemptRepo) SetNotifications(ctx context.Context, id string, notifications []domain.NotificationRecord) error {
	if f.setNotificationsFn != nil {
		return f.setNotificationsFn(ctx, id, notifications)
	}
	return nil
}

func (f *fakeAttemptRepo) Stats(ctx context.Context, tenantID string, monthStart time.Time) (repository.AttemptStats, error) {
	if f.statsFn != nil {
		return f.statsFn(ctx, tenantID, monthStart)
	}
	return repository.AttemptStats{}, nil
}

type fakeConfigRepo struct {
	getByTenantFn func(ctx context.Context, tenantID string) (*domain.RetryConfig, error)
	createFn      func(ctx context.Context, c *domain.RetryConfig) error
}

func (f *fakeConfigRepo) GetByTenant(ctx context.Context, tenantID string) (*domain.RetryConfig, error) {
	if f.getByTenantFn != nil {
		return f.getByTenantFn(ctx, tenantID)
	}
	return nil, domain.ErrConfigurationMissing
}

func (f *fakeConfigRepo) Create(ctx context.Context, c *domain.RetryConfig) error {
	if f.createFn != nil {
		return f.createFn(ctx, c)
	}
	return nil
}

type fakeBillingReader struct {
	getInvoiceFn  func(ctx context.Context, id string) (*domain.Invoice, error)
	getCustomerFn func(ctx context.Context, id string) (*domain.Customer, error)
}

func (f *fakeBillingReader) GetInvoice(ctx context.Context, id string) (*domain.Invoice, error) {
	if f.getInvoiceFn != nil {
		return f.getInvoiceFn(ctx, id)
	}
	return &domain.Invoice{ID: id, Number: "INV-" + id}, nil
}

func (f *fakeBillingReader) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	if f.getCustomerFn != nil {
		return f.getCustomerFn(ctx, id)
	}
	return &domain.Customer{ID: id, Email: "jane@example.com"}, nil
}

type fakePublisher struct {
	publishFn func(ctx context.Context, queueName string, msg queue.RetryMessage) error
}

func (f *fakePublisher) Publish(ctx context.Context, queueName string, msg queue.RetryMessage) error {
	if f.publishFn != nil {
		return f.publishFn(ctx, queueName, msg)
	}
	return nil
}

func (f *fakePublisher) Close() error {
	return nil
}

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queueName string, handler queue.MessageHandler) error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.MessageHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, queueName, handler)
	}
	<-ctx.Done()
	return nil
}

func (f *fakeConsumer) Close() error {
	return nil
}

type fakeEnqueueGuard struct {
	acquireFn func(ctx context.Context, attemptID string, attemptNumber int, dueAt time.Time) (bool, error)
	released  []string
}

func (f *fakeEnqueueGuard) Acquire(ctx context.Context, attemptID string, attemptNumber int, dueAt time.Time) (bool, error) {
	if f.acquireFn != nil {
		return f.acquireFn(ctx, attemptID, attemptNumber, dueAt)
	}
	return true, nil
}

func (f *fakeEnqueueGuard) Release(ctx context.Context, attemptID string, attemptNumber int, dueAt time.Time) error {
	f.released = append(f.released, attemptID)
	return nil
}

type fakeAttemptProcessor struct {
	processFn func(ctx context.Context, attemptID string) (Outcome, error)
}

func (f *fakeAttemptProcessor) ProcessAttempt(ctx context.Context, attemptID string) (Outcome, error) {
	if f.processFn != nil {
		return f.processFn(ctx, attemptID)
	}
	return Outcome{AttemptID: attemptID}, nil
}

func strPtr(s string) *string {
	return &s
}
