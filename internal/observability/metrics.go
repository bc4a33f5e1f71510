package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores Prometheus collectors used by API and executor flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal       *prometheus.CounterVec
	httpRequestDuration     *prometheus.HistogramVec
	itemsProcessedTotal     *prometheus.CounterVec
	itemProcessDuration     *prometheus.HistogramVec
	executorInflight        *prometheus.GaugeVec
	operationsFinishedTotal *prometheus.CounterVec
	cancellationsTotal      *prometheus.CounterVec
	staleRequeuedTotal      *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "bulkops_engine",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "bulkops_engine",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		itemsProcessedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "bulkops_engine",
				Name:      "items_processed_total",
				Help:      "Total number of operation items that reached a terminal status.",
			},
			[]string{"type", "result"},
		),
		itemProcessDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "bulkops_engine",
				Name:      "item_process_duration_seconds",
				Help:      "Per-item processing duration in seconds grouped by operation type.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"type"},
		),
		executorInflight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "bulkops_engine",
				Name:      "executor_inflight",
				Help:      "Current number of operations being executed grouped by type.",
			},
			[]string{"type"},
		),
		operationsFinishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "bulkops_engine",
				Name:      "operations_finished_total",
				Help:      "Total number of operations that reached a terminal status.",
			},
			[]string{"type", "status"},
		),
		cancellationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "bulkops_engine",
				Name:      "cancellations_total",
				Help:      "Total number of accepted cancellation requests.",
			},
			[]string{"type"},
		),
		staleRequeuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "bulkops_engine",
				Name:      "stale_requeued_total",
				Help:      "Total number of stale operations returned to the work queue.",
			},
			[]string{"type"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.itemsProcessedTotal,
		m.itemProcessDuration,
		m.executorInflight,
		m.operationsFinishedTotal,
		m.cancellationsTotal,
		m.staleRequeuedTotal,
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

func (m *Metrics) IncItemProcessed(opType string, result string) {
	if m == nil {
		return
	}
	resultLabel := strings.TrimSpace(strings.ToLower(result))
	if resultLabel == "" {
		resultLabel = "unknown"
	}
	m.itemsProcessedTotal.WithLabelValues(normalizeType(opType), resultLabel).Inc()
}

func (m *Metrics) ObserveItemProcessDuration(opType string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.itemProcessDuration.WithLabelValues(normalizeType(opType)).Observe(seconds)
}

func (m *Metrics) IncExecutorInFlight(opType string) {
	if m == nil {
		return
	}
	m.executorInflight.WithLabelValues(normalizeType(opType)).Inc()
}

func (m *Metrics) DecExecutorInFlight(opType string) {
	if m == nil {
		return
	}
	m.executorInflight.WithLabelValues(normalizeType(opType)).Dec()
}

func (m *Metrics) IncOperationFinished(opType string, status string) {
	if m == nil {
		return
	}
	statusLabel := strings.TrimSpace(strings.ToLower(status))
	if statusLabel == "" {
		statusLabel = "unknown"
	}
	m.operationsFinishedTotal.WithLabelValues(normalizeType(opType), statusLabel).Inc()
}

func (m *Metrics) IncCancellationRequested(opType string) {
	if m == nil {
		return
	}
	m.cancellationsTotal.WithLabelValues(normalizeType(opType)).Inc()
}

func (m *Metrics) IncStaleRequeued(opType string) {
	if m == nil {
		return
	}
	m.staleRequeuedTotal.WithLabelValues(normalizeType(opType)).Inc()
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

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeType(opType string) string {
	normalized := strings.ToLower(strings.TrimSpace(opType))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
