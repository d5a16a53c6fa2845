package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// InitMetrics initializes the OpenTelemetry metrics provider with a Prometheus exporter.
// It returns the HTTP handler for the /metrics endpoint and a shutdown function.
// The shutdown function should be called on application exit for graceful cleanup.
func InitMetrics() (http.Handler, func(context.Context) error, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)

	otel.SetMeterProvider(provider)

	return promhttp.Handler(), provider.Shutdown, nil
}

// JobMetrics records per-job outcome counts and execution durations.
type JobMetrics struct {
	verdicts metric.Int64Counter
	duration metric.Float64Histogram
}

// NewJobMetrics registers the job metrics on the global meter provider.
func NewJobMetrics() (*JobMetrics, error) {
	meter := otel.Meter("jobforge")

	verdicts, err := meter.Int64Counter("jobforge_jobs_total",
		metric.WithDescription("Jobs executed, by verdict outcome"))
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram("jobforge_job_duration_seconds",
		metric.WithDescription("End-to-end job execution duration"))
	if err != nil {
		return nil, err
	}

	return &JobMetrics{verdicts: verdicts, duration: duration}, nil
}

// Observe records one finished job.
func (m *JobMetrics) Observe(ctx context.Context, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.verdicts.Add(ctx, 1, attrs)
	m.duration.Record(ctx, elapsed.Seconds(), attrs)
}
