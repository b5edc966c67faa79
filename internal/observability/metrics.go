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

const namespace = "sitemap_engine"

// Metrics stores Prometheus collectors used by the API, conversion and
// sitemap flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal      *prometheus.CounterVec
	httpRequestDuration    *prometheus.HistogramVec
	urlsProcessedTotal     *prometheus.CounterVec
	filesProcessedTotal    *prometheus.CounterVec
	fileConversionDuration *prometheus.HistogramVec
	conversionsInflight    prometheus.Gauge
	fileRetriesTotal       prometheus.Counter
	sitemapFilesTotal      *prometheus.CounterVec
	batchesPurgedTotal     prometheus.Counter
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
		urlsProcessedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "urls_processed_total",
				Help:      "Rows processed during conversion grouped by outcome (valid, excluded, duplicate).",
			},
			[]string{"outcome"},
		),
		filesProcessedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "files_processed_total",
				Help:      "Files that reached a terminal conversion status.",
			},
			[]string{"status"},
		),
		fileConversionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "file_conversion_duration_seconds",
				Help:      "Per-file conversion duration in seconds grouped by file type.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
			},
			[]string{"file_type"},
		),
		conversionsInflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "conversions_inflight",
				Help:      "Current number of files being converted.",
			},
		),
		fileRetriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "file_retries_total",
				Help:      "Total number of accepted file retry requests.",
			},
		),
		sitemapFilesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sitemap_files_written_total",
				Help:      "Sitemap documents written grouped by kind (urlset, index).",
			},
			[]string{"kind"},
		),
		batchesPurgedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_purged_total",
				Help:      "Total number of expired batches removed by the janitor.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.urlsProcessedTotal,
		m.filesProcessedTotal,
		m.fileConversionDuration,
		m.conversionsInflight,
		m.fileRetriesTotal,
		m.sitemapFilesTotal,
		m.batchesPurgedTotal,
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
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

// ObserveConversion records the row outcomes of one finished file.
func (m *Metrics) ObserveConversion(valid, excluded, duplicate int) {
	if m == nil {
		return
	}
	m.urlsProcessedTotal.WithLabelValues("valid").Add(float64(max(valid, 0)))
	m.urlsProcessedTotal.WithLabelValues("excluded").Add(float64(max(excluded, 0)))
	m.urlsProcessedTotal.WithLabelValues("duplicate").Add(float64(max(duplicate, 0)))
}

func (m *Metrics) IncFileProcessed(status string) {
	if m == nil {
		return
	}
	m.filesProcessedTotal.WithLabelValues(normalizeLabel(status)).Inc()
}

func (m *Metrics) ObserveFileConversionDuration(fileType string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.fileConversionDuration.WithLabelValues(normalizeLabel(fileType)).Observe(seconds)
}

func (m *Metrics) IncConversionsInFlight() {
	if m == nil {
		return
	}
	m.conversionsInflight.Inc()
}

func (m *Metrics) DecConversionsInFlight() {
	if m == nil {
		return
	}
	m.conversionsInflight.Dec()
}

func (m *Metrics) IncFileRetry() {
	if m == nil {
		return
	}
	m.fileRetriesTotal.Inc()
}

func (m *Metrics) AddSitemapFiles(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sitemapFilesTotal.WithLabelValues(normalizeLabel(kind)).Add(float64(n))
}

func (m *Metrics) AddBatchesPurged(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.batchesPurgedTotal.Add(float64(n))
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

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
