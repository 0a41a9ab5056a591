package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
)

const (
	defaultWebhookTimeout = 10 * time.Second
	defaultMaxDeliveries  = 3
)

type webhookRequest struct {
	To       string `json:"to"`
	Channel  string `json:"channel"`
	Subject  string `json:"subject,omitempty"`
	Content  string `json:"content"`
	TenantID string `json:"tenantId,omitempty"`
	Type     string `json:"type,omitempty"`
}

// WebhookNotifier posts notifications to an HTTP relay. Transient failures
// are redelivered with exponential backoff; permanent ones return at once.
type WebhookNotifier struct {
	client        *resty.Client
	endpoint      string
	maxDeliveries int
	newBackOff    func() backoff.BackOff
}

func NewWebhookNotifier(endpoint string) (*WebhookNotifier, error) {
	client := resty.New()
	client.SetTimeout(defaultWebhookTimeout)
	client.SetRetryCount(0)

	return NewWebhookNotifierWithClient(endpoint, client, defaultMaxDeliveries)
}

func NewWebhookNotifierWithClient(endpoint string, client *resty.Client, maxDeliveries int) (*WebhookNotifier, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("webhook endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid webhook endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}
	if maxDeliveries <= 0 {
		maxDeliveries = defaultMaxDeliveries
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultWebhookTimeout)
	}
	// Redelivery is driven by backoff below, not by resty.
	client.SetRetryCount(0)

	return &WebhookNotifier{
		client:        client,
		endpoint:      trimmedEndpoint,
		maxDeliveries: maxDeliveries,
		newBackOff:    defaultBackOff,
	}, nil
}

func (n *WebhookNotifier) Send(ctx context.Context, msg Message) (*Response, error) {
	if n == nil || n.client == nil {
		return nil, fmt.Errorf("notifier is not initialized")
	}
	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}

	reqBody := webhookRequest{
		To:       msg.To,
		Channel:  strings.ToLower(msg.Channel.String()),
		Subject:  msg.Subject,
		Content:  msg.Body,
		TenantID: msg.TenantID,
		Type:     msg.Kind,
	}

	var (
		resp     *Response
		attempts int
	)
	operation := func() error {
		attempts++
		r, err := n.post(ctx, reqBody)
		if err != nil {
			if IsTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		resp = r
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(n.newBackOff(), uint64(n.maxDeliveries-1)),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	resp.Attempts = attempts
	return resp, nil
}

func (n *WebhookNotifier) post(ctx context.Context, body webhookRequest) (*Response, error) {
	response, err := n.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(n.endpoint)
	if err != nil {
		return nil, &DeliveryError{
			Message:   "webhook request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return nil, &DeliveryError{
			Message:   "webhook returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	responseBody := strings.TrimSpace(response.String())

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return &Response{
			StatusCode: statusCode,
			Body:       responseBody,
			MessageID:  messageID(response),
		}, nil
	}

	return nil, &DeliveryError{
		StatusCode: statusCode,
		Message:    errorMessage(statusCode, responseBody),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 10 * time.Second
	return b
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func errorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("webhook returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}

func messageID(response *resty.Response) string {
	if response == nil {
		return ""
	}

	for _, key := range []string{"X-Request-ID", "X-Request-Id", "X-Correlation-ID", "X-Correlation-Id"} {
		if value := strings.TrimSpace(response.Header().Get(key)); value != "" {
			return value
		}
	}

	return ""
}
