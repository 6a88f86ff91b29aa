package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry holds all telemetry instruments and providers.
type Telemetry struct {
	meterProvider metric.MeterProvider
	tracer        trace.Tracer
	meter         metric.Meter
	exporter      *prometheus.Exporter

	// RED Metrics (Rate, Errors, Duration)
	httpRequestsTotal    metric.Int64Counter
	httpRequestDuration  metric.Float64Histogram
	httpRequestsInFlight metric.Int64UpDownCounter

	// Cache metrics
	cacheHits       metric.Int64Counter
	cacheMisses     metric.Int64Counter
	evictionsTotal  metric.Int64Counter
	cacheSizeBytes  metric.Int64Gauge
	cacheEntries    metric.Int64Gauge
	queueDepth      metric.Int64Gauge

	// Download metrics
	downloadsTotal   metric.Int64Counter
	downloadsActive  metric.Int64UpDownCounter
	downloadDuration metric.Float64Histogram
	downloadRetries  metric.Int64Counter

	// Collaborator metrics
	clientOperationsTotal metric.Int64Counter
	clientErrors          metric.Int64Counter
	dbOperationsTotal     metric.Int64Counter
	dbOperationDuration   metric.Float64Histogram

	// System health
	goroutineCount metric.Int64Gauge
	memoryUsage    metric.Int64Gauge
	systemUptime   metric.Float64Gauge
}

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
}

// New creates a new telemetry instance. When disabled, a nil instance is
// returned; every method on Telemetry is safe to call on nil.
func New(ctx context.Context, cfg Config) (*Telemetry, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)

	otel.SetMeterProvider(meterProvider)

	t := &Telemetry{
		meterProvider: meterProvider,
		tracer:        otel.Tracer(cfg.ServiceName),
		meter:         otel.Meter(cfg.ServiceName),
		exporter:      exporter,
	}

	if err := t.initializeMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	go t.collectSystemMetrics(ctx)

	return t, nil
}

// Tracer returns the OpenTelemetry tracer.
func (t *Telemetry) Tracer() trace.Tracer {
	if t == nil {
		return nil
	}

	return t.tracer
}

// RecordHTTPRequest records HTTP request metrics.
func (t *Telemetry) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if t == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.String("status", status),
	)

	t.httpRequestsTotal.Add(context.Background(), 1, attrs)
	t.httpRequestDuration.Record(context.Background(), duration.Seconds(), attrs)
}

// IncrementHTTPInFlight increments in-flight HTTP requests.
func (t *Telemetry) IncrementHTTPInFlight() {
	if t != nil {
		t.httpRequestsInFlight.Add(context.Background(), 1)
	}
}

// DecrementHTTPInFlight decrements in-flight HTTP requests.
func (t *Telemetry) DecrementHTTPInFlight() {
	if t != nil {
		t.httpRequestsInFlight.Add(context.Background(), -1)
	}
}

// RecordCacheHit records a request served from the local cache.
func (t *Telemetry) RecordCacheHit() {
	if t != nil {
		t.cacheHits.Add(context.Background(), 1)
	}
}

// RecordCacheMiss records a request that needed a download.
func (t *Telemetry) RecordCacheMiss() {
	if t != nil {
		t.cacheMisses.Add(context.Background(), 1)
	}
}

// RecordEviction records evicted cache entries.
func (t *Telemetry) RecordEviction(count int) {
	if t != nil && count > 0 {
		t.evictionsTotal.Add(context.Background(), int64(count))
	}
}

// RecordCacheSize records the current cache footprint.
func (t *Telemetry) RecordCacheSize(totalBytes int64, entries int) {
	if t == nil {
		return
	}

	t.cacheSizeBytes.Record(context.Background(), totalBytes)
	t.cacheEntries.Record(context.Background(), int64(entries))
}

// RecordQueueDepth records the number of queued download tasks.
func (t *Telemetry) RecordQueueDepth(depth int) {
	if t != nil {
		t.queueDepth.Record(context.Background(), int64(depth))
	}
}

// RecordDownload records download metrics.
func (t *Telemetry) RecordDownload(status string, duration time.Duration) {
	if t == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("status", status))

	t.downloadsTotal.Add(context.Background(), 1, attrs)
	t.downloadDuration.Record(context.Background(), duration.Seconds(), attrs)
}

// RecordDownloadRetry records a scheduled retry.
func (t *Telemetry) RecordDownloadRetry() {
	if t != nil {
		t.downloadRetries.Add(context.Background(), 1)
	}
}

// IncrementActiveDownloads increments the active downloads counter.
func (t *Telemetry) IncrementActiveDownloads() {
	if t != nil {
		t.downloadsActive.Add(context.Background(), 1)
	}
}

// DecrementActiveDownloads decrements the active downloads counter.
func (t *Telemetry) DecrementActiveDownloads() {
	if t != nil {
		t.downloadsActive.Add(context.Background(), -1)
	}
}

// RecordClientOperation records fetch client operation metrics.
func (t *Telemetry) RecordClientOperation(client, operation, status string) {
	if t == nil {
		return
	}

	t.clientOperationsTotal.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String("client", client),
			attribute.String("operation", operation),
			attribute.String("status", status),
		),
	)

	if status == "error" {
		t.clientErrors.Add(context.Background(), 1,
			metric.WithAttributes(
				attribute.String("client", client),
				attribute.String("operation", operation),
			),
		)
	}
}

// RecordDBOperation records metadata store operation metrics.
func (t *Telemetry) RecordDBOperation(operation, status string, duration time.Duration) {
	if t == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
	)

	t.dbOperationsTotal.Add(context.Background(), 1, attrs)
	t.dbOperationDuration.Record(context.Background(), duration.Seconds(), attrs)
}

// Handler returns the HTTP handler for the metrics endpoint.
func (t *Telemetry) Handler() http.Handler {
	if t == nil || t.exporter == nil {
		return http.NotFoundHandler()
	}

	return promhttp.Handler()
}

// Shutdown gracefully shuts down the telemetry system.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}

	if mp, ok := t.meterProvider.(*sdkmetric.MeterProvider); ok {
		return mp.Shutdown(ctx)
	}

	return nil
}

// initializeMetrics creates all metric instruments.
func (t *Telemetry) initializeMetrics() error {
	if err := t.initializeHTTPMetrics(); err != nil {
		return err
	}

	if err := t.initializeCacheMetrics(); err != nil {
		return err
	}

	if err := t.initializeDownloadMetrics(); err != nil {
		return err
	}

	return t.initializeSystemMetrics()
}

func (t *Telemetry) initializeHTTPMetrics() error {
	var err error

	t.httpRequestsTotal, err = t.meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create http_requests_total counter: %w", err)
	}

	t.httpRequestDuration, err = t.meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create http_request_duration histogram: %w", err)
	}

	t.httpRequestsInFlight, err = t.meter.Int64UpDownCounter(
		"http_requests_in_flight",
		metric.WithDescription("Number of HTTP requests currently being processed"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create http_requests_in_flight counter: %w", err)
	}

	return nil
}

func (t *Telemetry) initializeCacheMetrics() error {
	var err error

	t.cacheHits, err = t.meter.Int64Counter(
		"cache_hits_total",
		metric.WithDescription("Requests served from the local cache"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create cache_hits counter: %w", err)
	}

	t.cacheMisses, err = t.meter.Int64Counter(
		"cache_misses_total",
		metric.WithDescription("Requests that required a download"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create cache_misses counter: %w", err)
	}

	t.evictionsTotal, err = t.meter.Int64Counter(
		"cache_evictions_total",
		metric.WithDescription("Cache entries removed by the eviction policy"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create cache_evictions counter: %w", err)
	}

	t.cacheSizeBytes, err = t.meter.Int64Gauge(
		"cache_size_bytes",
		metric.WithDescription("Total size of cached files in bytes"),
		metric.WithUnit("bytes"),
	)
	if err != nil {
		return fmt.Errorf("failed to create cache_size_bytes gauge: %w", err)
	}

	t.cacheEntries, err = t.meter.Int64Gauge(
		"cache_entries",
		metric.WithDescription("Number of cached entries"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create cache_entries gauge: %w", err)
	}

	t.queueDepth, err = t.meter.Int64Gauge(
		"download_queue_depth",
		metric.WithDescription("Number of queued download tasks"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create download_queue_depth gauge: %w", err)
	}

	return nil
}

func (t *Telemetry) initializeDownloadMetrics() error {
	var err error

	t.downloadsTotal, err = t.meter.Int64Counter(
		"downloads_total",
		metric.WithDescription("Total number of downloads"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create downloads_total counter: %w", err)
	}

	t.downloadsActive, err = t.meter.Int64UpDownCounter(
		"downloads_active",
		metric.WithDescription("Number of active downloads"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create downloads_active counter: %w", err)
	}

	t.downloadDuration, err = t.meter.Float64Histogram(
		"download_duration_seconds",
		metric.WithDescription("Download duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create download_duration histogram: %w", err)
	}

	t.downloadRetries, err = t.meter.Int64Counter(
		"download_retries_total",
		metric.WithDescription("Total number of scheduled download retries"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create download_retries counter: %w", err)
	}

	t.clientOperationsTotal, err = t.meter.Int64Counter(
		"client_operations_total",
		metric.WithDescription("Total number of fetch client operations"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create client_operations_total counter: %w", err)
	}

	t.clientErrors, err = t.meter.Int64Counter(
		"client_errors_total",
		metric.WithDescription("Total number of fetch client errors"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create client_errors counter: %w", err)
	}

	t.dbOperationsTotal, err = t.meter.Int64Counter(
		"db_operations_total",
		metric.WithDescription("Total number of metadata store operations"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create db_operations_total counter: %w", err)
	}

	t.dbOperationDuration, err = t.meter.Float64Histogram(
		"db_operation_duration_seconds",
		metric.WithDescription("Metadata store operation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create db_operation_duration histogram: %w", err)
	}

	return nil
}

func (t *Telemetry) initializeSystemMetrics() error {
	var err error

	t.goroutineCount, err = t.meter.Int64Gauge(
		"goroutine_count",
		metric.WithDescription("Number of goroutines"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create goroutine_count gauge: %w", err)
	}

	t.memoryUsage, err = t.meter.Int64Gauge(
		"memory_usage_bytes",
		metric.WithDescription("Memory usage in bytes"),
		metric.WithUnit("bytes"),
	)
	if err != nil {
		return fmt.Errorf("failed to create memory_usage gauge: %w", err)
	}

	t.systemUptime, err = t.meter.Float64Gauge(
		"system_uptime_seconds",
		metric.WithDescription("System uptime in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create system_uptime gauge: %w", err)
	}

	return nil
}

// collectSystemMetrics collects system-level metrics periodically.
func (t *Telemetry) collectSystemMetrics(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	startTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.updateSystemMetrics(startTime)
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func (t *Telemetry) updateSystemMetrics(startTime time.Time) {
	var m runtime.MemStats

	runtime.ReadMemStats(&m)

	t.memoryUsage.Record(context.Background(), int64(m.Alloc))
	t.goroutineCount.Record(context.Background(), int64(runtime.NumGoroutine()))
	t.systemUptime.Record(context.Background(), time.Since(startTime).Seconds())
}
