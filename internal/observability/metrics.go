package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds all application metrics implementing the golden 4 signals:
// - Latency: How long requests and lifecycle actions take
// - Traffic: Request and action throughput
// - Errors: Rate of failures by class
// - Saturation: Operations in flight and callback queue depth
type Metrics struct {
	meter metric.Meter

	// HTTP metrics (Latency, Traffic, Errors)
	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter
	HTTPErrorsTotal     metric.Int64Counter

	// Lifecycle metrics (Latency, Traffic, Errors, Saturation)
	ActionDuration    metric.Float64Histogram
	ActionsTotal      metric.Int64Counter
	RemoteSessions    metric.Int64Counter
	StatusTransitions metric.Int64Counter
	JobsInFlight      metric.Int64UpDownCounter

	// Callback metrics (Latency, Traffic, Errors, Saturation)
	CallbackDuration   metric.Float64Histogram
	CallbackDelivered  metric.Int64Counter
	CallbackFailed     metric.Int64Counter
	CallbackDropped    metric.Int64Counter
	CallbackRequeued   metric.Int64Counter
	CallbackQueueSize  metric.Int64Gauge
	CallbackBufferSize int64 // config value for saturation calculation
}

// NewMetrics creates and registers all metrics with a Prometheus exporter.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("simgateway")
	m := &Metrics{meter: meter}

	// HTTP metrics
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

	// Lifecycle metrics
	m.ActionDuration, err = meter.Float64Histogram(
		"lifecycle_action_duration_seconds",
		metric.WithDescription("Lifecycle action duration in seconds, staging included"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300),
	)
	if err != nil {
		return nil, nil, err
	}

	m.ActionsTotal, err = meter.Int64Counter(
		"lifecycle_actions_total",
		metric.WithDescription("Total lifecycle actions by outcome"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.RemoteSessions, err = meter.Int64Counter(
		"remote_sessions_total",
		metric.WithDescription("Total remote session attempts by outcome"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.StatusTransitions, err = meter.Int64Counter(
		"job_status_transitions_total",
		metric.WithDescription("Total persisted job status changes"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobsInFlight, err = meter.Int64UpDownCounter(
		"jobs_in_flight",
		metric.WithDescription("Number of lifecycle operations currently executing (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Callback metrics
	m.CallbackDuration, err = meter.Float64Histogram(
		"callback_duration_seconds",
		metric.WithDescription("Callback delivery latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, nil, err
	}

	m.CallbackDelivered, err = meter.Int64Counter(
		"callback_delivered_total",
		metric.WithDescription("Total events successfully delivered"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.CallbackFailed, err = meter.Int64Counter(
		"callback_failed_total",
		metric.WithDescription("Total events failed after retries"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.CallbackDropped, err = meter.Int64Counter(
		"callback_dropped_total",
		metric.WithDescription("Total events dropped (buffer full or max requeues)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.CallbackRequeued, err = meter.Int64Counter(
		"callback_requeued_total",
		metric.WithDescription("Total events requeued due to open circuit"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.CallbackQueueSize, err = meter.Int64Gauge(
		"callback_queue_size",
		metric.WithDescription("Current number of events in callback queue (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	return m, promhttp.Handler(), nil
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, durationSeconds float64) {
	attrs := metric.WithAttributes(
		methodAttr(method),
		pathAttr(path),
		statusAttr(statusCode),
	)

	m.HTTPRequestDuration.Record(ctx, durationSeconds, attrs)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)

	if statusCode >= 400 {
		m.HTTPErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordActionStarted marks a lifecycle operation as in flight.
func (m *Metrics) RecordActionStarted(ctx context.Context, action string) {
	m.JobsInFlight.Add(ctx, 1, metric.WithAttributes(actionAttr(action)))
}

// RecordActionFinished records a finished lifecycle operation. outcome is
// "ok" or the error class reported by OutcomeOf.
func (m *Metrics) RecordActionFinished(ctx context.Context, action, outcome string, durationSeconds float64) {
	m.JobsInFlight.Add(ctx, -1, metric.WithAttributes(actionAttr(action)))
	attrs := metric.WithAttributes(actionAttr(action), outcomeAttr(outcome))
	m.ActionsTotal.Add(ctx, 1, attrs)
	m.ActionDuration.Record(ctx, durationSeconds, attrs)
}

// RecordRemoteSession records one attempt to open a remote session.
func (m *Metrics) RecordRemoteSession(ctx context.Context, success bool) {
	outcome := "ok"
	if !success {
		outcome = "unavailable"
	}
	m.RemoteSessions.Add(ctx, 1, metric.WithAttributes(outcomeAttr(outcome)))
}

// RecordStatusTransition records a persisted status change.
func (m *Metrics) RecordStatusTransition(ctx context.Context, from, to string) {
	m.StatusTransitions.Add(ctx, 1, metric.WithAttributes(fromAttr(from), toAttr(to)))
}

// RecordCallbackDelivered records a successful event delivery with its duration.
func (m *Metrics) RecordCallbackDelivered(ctx context.Context, durationSeconds float64) {
	m.CallbackDelivered.Add(ctx, 1)
	m.CallbackDuration.Record(ctx, durationSeconds)
}

// RecordCallbackFailed records a failed event delivery.
func (m *Metrics) RecordCallbackFailed(ctx context.Context) {
	m.CallbackFailed.Add(ctx, 1)
}

// RecordCallbackDropped records a dropped event.
func (m *Metrics) RecordCallbackDropped(ctx context.Context) {
	m.CallbackDropped.Add(ctx, 1)
}

// RecordCallbackRequeued records a requeued event.
func (m *Metrics) RecordCallbackRequeued(ctx context.Context) {
	m.CallbackRequeued.Add(ctx, 1)
}

// RecordCallbackQueueSize records the current queue size.
func (m *Metrics) RecordCallbackQueueSize(ctx context.Context, size int64) {
	m.CallbackQueueSize.Record(ctx, size)
}
