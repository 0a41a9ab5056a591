package observability

import (
	"errors"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/dunning-engine/internal/domain"
	"github.com/kursadbilgin/dunning-engine/internal/transport"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
)

func TestMetricsRetryCollectors(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()

	metrics.IncRetryProcessed("SUCCEEDED")
	metrics.IncRetryProcessed(OutcomeExhausted)
	metrics.ObserveChargeDuration(120 * time.Millisecond)
	metrics.IncRetryScheduled()
	metrics.IncTerminalAction("suspend")
	metrics.IncNotification("failure", "sent")
	metrics.IncStuckAttempt("released")
	metrics.IncWorkerInFlight()
	metrics.DecWorkerInFlight()
	metrics.AddRecoveredAmount("eur", decimal.RequireFromString("49.99"))
	metrics.AddRecoveredAmount("eur", decimal.Zero)

	if got := testutil.ToFloat64(metrics.retriesProcessedTotal.WithLabelValues(OutcomeSucceeded)); got != 1 {
		t.Fatalf("retries_processed_total{succeeded} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.retriesProcessedTotal.WithLabelValues(OutcomeExhausted)); got != 1 {
		t.Fatalf("retries_processed_total{exhausted} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.retriesScheduledTotal); got != 1 {
		t.Fatalf("retries_scheduled_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.terminalActionsTotal.WithLabelValues("suspend")); got != 1 {
		t.Fatalf("terminal_actions_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.notificationsTotal.WithLabelValues("failure", "sent")); got != 1 {
		t.Fatalf("notifications_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.stuckAttemptsTotal.WithLabelValues("released")); got != 1 {
		t.Fatalf("stuck_attempts_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.workerInflight); got != 0 {
		t.Fatalf("worker_inflight = %v, want 0", got)
	}
	if got := testutil.ToFloat64(metrics.recoveredAmountTotal.WithLabelValues("EUR")); got != 49.99 {
		t.Fatalf("recovered_amount_total = %v, want 49.99", got)
	}
}

func TestMetricsNilReceiverIsNoop(t *testing.T) {
	t.Parallel()

	var metrics *Metrics
	metrics.IncRetryProcessed(OutcomeFailed)
	metrics.ObserveChargeDuration(time.Second)
	metrics.IncStuckAttempt("flagged")
	metrics.AddRecoveredAmount("EUR", decimal.NewFromInt(1))
}

func TestMetricsHTTPMiddlewareRecordsRequest(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	app := fiber.New()
	app.Use(metrics.HTTPMiddleware())
	app.Get("/livez", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	req := httptest.NewRequest("GET", "/livez", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "/livez", "200")); got != 1 {
		t.Fatalf("http_requests_total = %v, want 1", got)
	}
}

func TestMetricsHTTPMiddlewareRecordsErrorStatus(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	app := fiber.New()
	app.Use(metrics.HTTPMiddleware())
	app.Get("/boom", func(c *fiber.Ctx) error {
		return errors.New("boom")
	})

	req := httptest.NewRequest("GET", "/boom", nil)
	_, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "/boom", "500")); got != 1 {
		t.Fatalf("http_requests_total = %v, want 1", got)
	}
}

func TestMetricsHTTPMiddlewareMapsDomainErrors(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(nil)})
	app.Use(metrics.HTTPMiddleware())
	app.Get("/attempts/:id", func(c *fiber.Ctx) error {
		return fmt.Errorf("attempt %s: %w", c.Params("id"), domain.ErrNotFound)
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/attempts/a-1", nil))
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "/attempts/:id", "404")); got != 1 {
		t.Fatalf("http_requests_total{404} = %v, want 1", got)
	}
}
