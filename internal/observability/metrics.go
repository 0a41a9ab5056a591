package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/dunning-engine/internal/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

const namespace = "dunning_engine"

// Outcome labels of processed retries.
const (
	OutcomeSucceeded       = "succeeded"
	OutcomeFailed          = "failed"
	OutcomeExhausted       = "exhausted"
	OutcomeAwaitingPayment = "awaiting_payment"
	OutcomeAlreadyPaid     = "already_paid"
	OutcomeSkipped         = "skipped"
)

// Metrics stores Prometheus collectors used by the ops server and the
// retry pipeline.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDuration   *prometheus.HistogramVec
	retriesProcessedTotal *prometheus.CounterVec
	chargeDuration        prometheus.Histogram
	retriesScheduledTotal prometheus.Counter
	terminalActionsTotal  *prometheus.CounterVec
	notificationsTotal    *prometheus.CounterVec
	stuckAttemptsTotal    *prometheus.CounterVec
	workerInflight        prometheus.Gauge
	recoveredAmountTotal  *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		retriesProcessedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retries_processed_total",
				Help:      "Total number of retry attempts processed grouped by outcome.",
			},
			[]string{"outcome"},
		),
		chargeDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "charge_duration_seconds",
				Help:      "Gateway charge duration in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
			},
		),
		retriesScheduledTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retries_scheduled_total",
				Help:      "Total number of retries scheduled.",
			},
		),
		terminalActionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "terminal_actions_total",
				Help:      "Total number of terminal actions applied after retries were exhausted.",
			},
			[]string{"action"},
		),
		notificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Total number of notifications attempted grouped by type and result.",
			},
			[]string{"type", "result"},
		),
		stuckAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stuck_attempts_total",
				Help:      "Total number of stuck PROCESSING attempts grouped by resolution.",
			},
			[]string{"resolution"},
		),
		workerInflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "worker_inflight",
				Help:      "Current number of attempts being processed.",
			},
		),
		recoveredAmountTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recovered_amount_total",
				Help:      "Total amount recovered by retries grouped by currency.",
			},
			[]string{"currency"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.retriesProcessedTotal,
		m.chargeDuration,
		m.retriesScheduledTotal,
		m.terminalActionsTotal,
		m.notificationsTotal,
		m.stuckAttemptsTotal,
		m.workerInflight,
		m.recoveredAmountTotal,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncRetryProcessed(outcome string) {
	if m == nil {
		return
	}
	m.retriesProcessedTotal.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *Metrics) ObserveChargeDuration(duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.chargeDuration.Observe(seconds)
}

func (m *Metrics) IncRetryScheduled() {
	if m == nil {
		return
	}
	m.retriesScheduledTotal.Inc()
}

func (m *Metrics) IncTerminalAction(action string) {
	if m == nil {
		return
	}
	m.terminalActionsTotal.WithLabelValues(normalizeLabel(action)).Inc()
}

func (m *Metrics) IncNotification(notificationType string, result string) {
	if m == nil {
		return
	}
	m.notificationsTotal.WithLabelValues(normalizeLabel(notificationType), normalizeLabel(result)).Inc()
}

func (m *Metrics) IncStuckAttempt(resolution string) {
	if m == nil {
		return
	}
	m.stuckAttemptsTotal.WithLabelValues(normalizeLabel(resolution)).Inc()
}

func (m *Metrics) IncWorkerInFlight() {
	if m == nil {
		return
	}
	m.workerInflight.Inc()
}

func (m *Metrics) DecWorkerInFlight() {
	if m == nil {
		return
	}
	m.workerInflight.Dec()
}

func (m *Metrics) AddRecoveredAmount(currency string, amount decimal.Decimal) {
	if m == nil || !amount.IsPositive() {
		return
	}
	m.recoveredAmountTotal.WithLabelValues(strings.ToUpper(strings.TrimSpace(currency))).Add(amount.InexactFloat64())
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

// statusFromResult runs before the app error handler, so errors are mapped
// the same way that handler will render them.
func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		return transport.StatusCode(err)
	}
	if c == nil {
		return fiber.StatusOK
	}
	if status := c.Response().StatusCode(); status != 0 {
		return status
	}
	return fiber.StatusOK
}

func normalizeLabel(label string) string {
	normalized := strings.ToLower(strings.TrimSpace(label))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
