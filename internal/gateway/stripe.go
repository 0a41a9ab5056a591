package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kursadbilgin/dunning-engine/internal/domain"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/paymentintent"
	"go.uber.org/zap"
)

const defaultStripeTimeout = 30 * time.Second

// StripeConfig configures the Stripe adapter.
type StripeConfig struct {
	SecretKey string
	// APIURL overrides the Stripe API base URL (tests, proxies).
	APIURL string
	// PaymentLinkBaseURL is joined with the intent id to build hosted links.
	PaymentLinkBaseURL string
	Timeout            time.Duration
}

// StripeProcessor charges saved payment methods through PaymentIntents.
type StripeProcessor struct {
	intents     *paymentintent.Client
	linkBaseURL string
	logger      *zap.Logger
}

func NewStripeProcessor(cfg StripeConfig, logger *zap.Logger) (*StripeProcessor, error) {
	if strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, fmt.Errorf("stripe secret key is required")
	}
	if cfg.PaymentLinkBaseURL != "" {
		if _, err := url.ParseRequestURI(cfg.PaymentLinkBaseURL); err != nil {
			return nil, fmt.Errorf("invalid payment link base url: %w", err)
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultStripeTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	backendConfig := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: cfg.Timeout},
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
		MaxNetworkRetries: stripe.Int64(0),
	}
	if cfg.APIURL != "" {
		backendConfig.URL = stripe.String(strings.TrimRight(cfg.APIURL, "/"))
	}

	return &StripeProcessor{
		intents: &paymentintent.Client{
			B:   stripe.GetBackendWithConfig(stripe.APIBackend, backendConfig),
			Key: cfg.SecretKey,
		},
		linkBaseURL: strings.TrimRight(cfg.PaymentLinkBaseURL, "/"),
		logger:      logger,
	}, nil
}

func (p *StripeProcessor) ChargeSaved(ctx context.Context, req ChargeRequest) ChargeResult {
	if strings.TrimSpace(req.PaymentMethodRef) == "" {
		return Failed(domain.CodeNoSavedPaymentMethod, "", "no saved payment method")
	}

	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(MinorUnits(req.Amount, req.Currency)),
		Currency:      stripe.String(strings.ToLower(req.Currency)),
		PaymentMethod: stripe.String(req.PaymentMethodRef),
		Confirm:       stripe.Bool(true),
		OffSession:    stripe.Bool(true),
	}
	if req.CustomerRef != nil {
		params.Customer = stripe.String(*req.CustomerRef)
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	intent, err := p.intents.New(params)
	if err != nil {
		return p.failureFromError(err)
	}

	if intent.Status != stripe.PaymentIntentStatusSucceeded {
		p.logger.Warn("payment intent not settled",
			zap.String("intentId", intent.ID),
			zap.String("intentStatus", string(intent.Status)),
		)
		if intent.Status == stripe.PaymentIntentStatusRequiresAction {
			return Failed("authentication_required", "", "payment requires customer authentication")
		}
		return ProcessingError(fmt.Sprintf("payment intent %s is %s", intent.ID, intent.Status))
	}

	result := ChargeResult{
		Success:       true,
		ProviderTxnID: intent.ID,
	}
	if intent.LatestCharge != nil {
		result.ChargeID = intent.LatestCharge.ID
	}
	return result
}

func (p *StripeProcessor) CreateHostedIntent(ctx context.Context, req HostedIntentRequest) (*HostedIntent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(MinorUnits(req.Amount, req.Currency)),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	if req.CustomerRef != nil {
		params.Customer = stripe.String(*req.CustomerRef)
	}
	if req.InvoiceNumber != "" {
		params.Description = stripe.String("Invoice " + req.InvoiceNumber)
	}
	params.AddMetadata("invoice_id", req.InvoiceID)
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	intent, err := p.intents.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create hosted intent: %w", err)
	}

	hosted := &HostedIntent{
		ID:           intent.ID,
		ClientSecret: intent.ClientSecret,
	}
	if p.linkBaseURL != "" {
		hosted.URL = p.linkBaseURL + "/" + url.PathEscape(intent.ID)
	}
	return hosted, nil
}

// failureFromError maps card errors to declines and everything else to
// processing_error.
func (p *StripeProcessor) failureFromError(err error) ChargeResult {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.Type == stripe.ErrorTypeCard {
		code := string(stripeErr.Code)
		if code == "" {
			code = domain.CodeCardDeclined
		}
		return Failed(code, string(stripeErr.DeclineCode), stripeErr.Msg)
	}

	p.logger.Warn("stripe charge failed", zap.Error(err))
	return ProcessingError(err.Error())
}
