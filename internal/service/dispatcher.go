package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/dunning-engine/internal/domain"
	"github.com/kursadbilgin/dunning-engine/internal/gateway"
	"github.com/kursadbilgin/dunning-engine/internal/notify"
	"github.com/kursadbilgin/dunning-engine/internal/observability"
	"go.uber.org/zap"
)

const (
	notificationResultSent   = "sent"
	notificationResultFailed = "failed"
)

// BillingReader reads the billing records a message is rendered from.
type BillingReader interface {
	GetInvoice(ctx context.Context, id string) (*domain.Invoice, error)
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
}

// NotificationLog persists an attempt's send log.
type NotificationLog interface {
	SetNotifications(ctx context.Context, id string, notifications []domain.NotificationRecord) error
}

// CardUpdateLinker builds signed card-update URLs.
type CardUpdateLinker interface {
	Link(attempt *domain.RetryAttempt, expiryHours int) (string, error)
}

// NotificationDispatcher renders and sends dunning messages. Every successful
// send is recorded on the attempt, and a (type, attempt number) pair already
// recorded is never sent again. Delivery failures are logged and swallowed.
type NotificationDispatcher struct {
	notifier notify.Notifier
	billing  BillingReader
	log      NotificationLog
	links    CardUpdateLinker
	metrics  *observability.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

func NewNotificationDispatcher(
	notifier notify.Notifier,
	billing BillingReader,
	log NotificationLog,
	links CardUpdateLinker,
	logger *zap.Logger,
) (*NotificationDispatcher, error) {
	if notifier == nil {
		return nil, fmt.Errorf("notifier is required")
	}
	if billing == nil {
		return nil, fmt.Errorf("billing reader is required")
	}
	if log == nil {
		return nil, fmt.Errorf("notification log is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &NotificationDispatcher{
		notifier: notifier,
		billing:  billing,
		log:      log,
		links:    links,
		logger:   logger,
		now:      time.Now,
	}, nil
}

func (d *NotificationDispatcher) SetMetrics(metrics *observability.Metrics) {
	if d == nil {
		return
	}
	d.metrics = metrics
}

// SendEscalation sends the customer message configured for the attempt's
// current attempt number. A missing message is a no-op.
func (d *NotificationDispatcher) SendEscalation(ctx context.Context, a *domain.RetryAttempt, cfg *domain.RetryConfig, failureReason string) {
	if a.HasNotification(domain.NotificationFailure, a.AttemptNumber) {
		return
	}
	template, ok := cfg.EscalationMessageFor(a.AttemptNumber)
	if !ok {
		return
	}

	msg, ok := d.customerMessage(ctx, a, domain.NotificationFailure)
	if !ok {
		return
	}
	invoiceNumber := d.invoiceNumber(ctx, a)
	msg.Subject = render(template.Subject, a, invoiceNumber, failureReason)
	msg.Body = render(template.Body, a, invoiceNumber, failureReason)

	if cfg.AllowCardUpdate && d.links != nil {
		link, err := d.links.Link(a, cfg.CardUpdateLinkExpiryHours)
		if err != nil {
			d.logger.Warn("failed to build card update link",
				zap.String("attemptId", a.ID),
				zap.Error(err),
			)
		} else {
			msg.Body += "\n\nUpdate your payment method: " + link
		}
	}

	d.deliver(ctx, a, msg)
}

func (d *NotificationDispatcher) SendSuccess(ctx context.Context, a *domain.RetryAttempt, cfg *domain.RetryConfig) {
	if !cfg.NotifyOnSuccess || a.HasNotification(domain.NotificationSuccess, a.AttemptNumber) {
		return
	}
	msg, ok := d.customerMessage(ctx, a, domain.NotificationSuccess)
	if !ok {
		return
	}
	invoiceNumber := d.invoiceNumber(ctx, a)
	msg.Subject = "Payment received"
	msg.Body = render("We received your payment of {{amount}} for invoice {{invoice}}. Thank you.", a, invoiceNumber, "")

	d.deliver(ctx, a, msg)
}

// SendPaymentLink asks a customer without a saved payment method to pay
// through the hosted page.
func (d *NotificationDispatcher) SendPaymentLink(ctx context.Context, a *domain.RetryAttempt, intent *gateway.HostedIntent) {
	if intent == nil || strings.TrimSpace(intent.URL) == "" {
		return
	}
	if a.HasNotification(domain.NotificationPaymentLink, a.AttemptNumber) {
		return
	}
	msg, ok := d.customerMessage(ctx, a, domain.NotificationPaymentLink)
	if !ok {
		return
	}
	invoiceNumber := d.invoiceNumber(ctx, a)
	msg.Subject = render("Complete your payment for invoice {{invoice}}", a, invoiceNumber, "")
	msg.Body = render("We have no saved payment method for invoice {{invoice}} ({{amount}}). Please pay here: ", a, invoiceNumber, "") + intent.URL

	d.deliver(ctx, a, msg)
}

// SendFinalFailure notifies the tenant's administrators that an invoice ran
// out of retries.
func (d *NotificationDispatcher) SendFinalFailure(ctx context.Context, a *domain.RetryAttempt, cfg *domain.RetryConfig) {
	if !cfg.NotifyOnFinalFailure || len(cfg.AdminContacts) == 0 {
		return
	}
	if a.HasNotification(domain.NotificationFinalFailure, a.AttemptNumber) {
		return
	}

	invoiceNumber := d.invoiceNumber(ctx, a)
	reason := ""
	if a.FailureCode != nil {
		reason = domain.FailureReason(*a.FailureCode, a.DeclineCode)
	}
	subject := render("Dunning exhausted for invoice {{invoice}}", a, invoiceNumber, reason)
	body := render(fmt.Sprintf(
		"Invoice {{invoice}} ({{amount}}) failed %d retries. Last failure: {{reason}}. Final action: %s after %d days.",
		a.MaxAttempts, cfg.FinalFailureAction, cfg.GracePeriodDays,
	), a, invoiceNumber, reason)

	sent := false
	for _, contact := range cfg.AdminContacts {
		msg := notify.Message{
			To:       contact,
			Subject:  subject,
			Body:     body,
			Channel:  domain.ChannelEmail,
			TenantID: a.TenantID,
			Kind:     domain.NotificationFinalFailure,
		}
		if d.send(ctx, a, msg) {
			sent = true
		}
	}
	if sent {
		d.record(ctx, a, domain.NotificationFinalFailure, domain.ChannelEmail)
	}
}

func (d *NotificationDispatcher) customerMessage(ctx context.Context, a *domain.RetryAttempt, kind string) (notify.Message, bool) {
	customer, err := d.billing.GetCustomer(ctx, a.CustomerID)
	if err != nil {
		d.logger.Warn("skipping notification: customer lookup failed",
			zap.String("attemptId", a.ID),
			zap.String("type", kind),
			zap.Error(err),
		)
		d.metrics.IncNotification(kind, notificationResultFailed)
		return notify.Message{}, false
	}

	msg := notify.Message{TenantID: a.TenantID, Kind: kind}
	switch {
	case strings.TrimSpace(customer.Email) != "":
		msg.To = customer.Email
		msg.Channel = domain.ChannelEmail
	case customer.Phone != nil && strings.TrimSpace(*customer.Phone) != "":
		msg.To = *customer.Phone
		msg.Channel = domain.ChannelSMS
	default:
		d.logger.Warn("skipping notification: customer has no contact",
			zap.String("attemptId", a.ID),
			zap.String("customerId", a.CustomerID),
		)
		d.metrics.IncNotification(kind, notificationResultFailed)
		return notify.Message{}, false
	}
	return msg, true
}

func (d *NotificationDispatcher) invoiceNumber(ctx context.Context, a *domain.RetryAttempt) string {
	invoice, err := d.billing.GetInvoice(ctx, a.InvoiceID)
	if err != nil || strings.TrimSpace(invoice.Number) == "" {
		return a.InvoiceID
	}
	return invoice.Number
}

func (d *NotificationDispatcher) deliver(ctx context.Context, a *domain.RetryAttempt, msg notify.Message) {
	if d.send(ctx, a, msg) {
		d.record(ctx, a, msg.Kind, msg.Channel)
	}
}

func (d *NotificationDispatcher) send(ctx context.Context, a *domain.RetryAttempt, msg notify.Message) bool {
	resp, err := d.notifier.Send(ctx, msg)
	if err != nil {
		d.logger.Warn("notification delivery failed",
			zap.String("attemptId", a.ID),
			zap.String("type", msg.Kind),
			zap.String("channel", msg.Channel.String()),
			zap.Bool("transient", notify.IsTransient(err)),
			zap.Error(err),
		)
		d.metrics.IncNotification(msg.Kind, notificationResultFailed)
		return false
	}

	fields := []zap.Field{
		zap.String("attemptId", a.ID),
		zap.String("type", msg.Kind),
		zap.String("channel", msg.Channel.String()),
	}
	if resp != nil {
		fields = append(fields, zap.String("messageId", resp.MessageID), zap.Int("deliveries", resp.Attempts))
	}
	d.logger.Debug("notification sent", fields...)
	d.metrics.IncNotification(msg.Kind, notificationResultSent)
	return true
}

func (d *NotificationDispatcher) record(ctx context.Context, a *domain.RetryAttempt, kind string, channel domain.Channel) {
	a.RecordNotification(domain.NotificationRecord{
		Type:          kind,
		Channel:       channel,
		AttemptNumber: a.AttemptNumber,
		At:            d.now().UTC(),
	})
	if err := d.log.SetNotifications(ctx, a.ID, a.Notifications); err != nil {
		d.logger.Warn("failed to persist notification log",
			zap.String("attemptId", a.ID),
			zap.Error(err),
		)
	}
}

func render(template string, a *domain.RetryAttempt, invoiceNumber string, failureReason string) string {
	reason := ""
	if failureReason != "" {
		reason = domain.DeclineLabel(failureReason)
	}
	return strings.NewReplacer(
		"{{invoice}}", invoiceNumber,
		"{{amount}}", a.Amount.StringFixed(2)+" "+a.Currency,
		"{{reason}}", reason,
	).Replace(template)
}
