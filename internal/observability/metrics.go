// Package observability provides application metrics via OpenTelemetry
// with a Prometheus exporter.
package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds all application metrics implementing the golden 4 signals:
// - Latency: How long requests/runs take
// - Traffic: Request/run throughput
// - Errors: Rate of failures
// - Saturation: Resource utilization (active run, open streams)
type Metrics struct {
	meter metric.Meter

	// HTTP metrics (Latency, Traffic, Errors)
	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter
	HTTPErrorsTotal     metric.Int64Counter

	// Download run metrics (Latency, Traffic, Errors, Saturation)
	RunDuration    metric.Float64Histogram
	RunsTotal      metric.Int64Counter
	RunErrorsTotal metric.Int64Counter
	RunsActive     metric.Int64UpDownCounter

	// Per-report outcomes
	ReportsTotal metric.Int64Counter

	// Status stream connections
	StreamClients metric.Int64UpDownCounter
}

// NewMetrics creates and registers all metrics with a Prometheus exporter.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("reportrunner")
	m := &Metrics{meter: meter}

	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPErrorsTotal, err = meter.Int64Counter(
		"http_errors_total",
		metric.WithDescription("Total number of HTTP errors (4xx and 5xx)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.RunDuration, err = meter.Float64Histogram(
		"run_duration_seconds",
		metric.WithDescription("Download run duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 10, 30, 60, 300, 600, 1800, 3600, 7200),
	)
	if err != nil {
		return nil, nil, err
	}

	m.RunsTotal, err = meter.Int64Counter(
		"runs_total",
		metric.WithDescription("Total number of download runs started"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.RunErrorsTotal, err = meter.Int64Counter(
		"run_errors_total",
		metric.WithDescription("Total number of download runs that finished unsuccessfully"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.RunsActive, err = meter.Int64UpDownCounter(
		"runs_active",
		metric.WithDescription("Number of download runs currently executing (0 or 1)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.ReportsTotal, err = meter.Int64Counter(
		"reports_total",
		metric.WithDescription("Per-report download outcomes"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.StreamClients, err = meter.Int64UpDownCounter(
		"stream_clients",
		metric.WithDescription("Open status stream connections"),
	)
	if err != nil {
		return nil, nil, err
	}

	return m, promhttp.Handler(), nil
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, durationSeconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", normalizePath(path)),
		attribute.Int("status", statusCode),
	)
	m.HTTPRequestDuration.Record(ctx, durationSeconds, attrs)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)
	if statusCode >= 400 {
		m.HTTPErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordRunStarted records a run entering execution.
func (m *Metrics) RecordRunStarted(ctx context.Context) {
	m.RunsTotal.Add(ctx, 1)
	m.RunsActive.Add(ctx, 1)
}

// RecordRunFinished records a run leaving execution.
func (m *Metrics) RecordRunFinished(ctx context.Context, success bool, durationSeconds float64) {
	m.RunsActive.Add(ctx, -1)
	m.RunDuration.Record(ctx, durationSeconds)
	if !success {
		m.RunErrorsTotal.Add(ctx, 1)
	}
}

// RecordReport records one report's outcome.
func (m *Metrics) RecordReport(ctx context.Context, reportType, status string) {
	m.ReportsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("report_type", reportType),
		attribute.String("status", status),
	))
}

// AddStreamClient adjusts the open stream gauge.
func (m *Metrics) AddStreamClient(ctx context.Context, delta int64) {
	m.StreamClients.Add(ctx, delta)
}
