package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics holds the OpenTelemetry job instruments. They are exported
// over OTLP next to the Prometheus registry when InitOTel is enabled.
type OTelMetrics struct {
	jobRuns     metric.Int64Counter
	jobDuration metric.Float64Histogram
}

// NewOTelMetrics creates the instruments on the global meter provider.
// Instruments created before InitOTel bind to the provider it installs.
func NewOTelMetrics() (*OTelMetrics, error) {
	meter := otel.Meter(TracerName)

	m := &OTelMetrics{}
	var err error

	m.jobRuns, err = meter.Int64Counter(
		"linkstats.job.runs",
		metric.WithDescription("Scheduled job runs by job and status"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create job runs counter: %w", err)
	}

	m.jobDuration, err = meter.Float64Histogram(
		"linkstats.job.duration",
		metric.WithDescription("Scheduled job duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create job duration histogram: %w", err)
	}

	return m, nil
}

// RecordJob records one finished job run. Safe on a nil receiver.
func (m *OTelMetrics) RecordJob(ctx context.Context, job string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("job", job),
		attribute.String("status", statusLabel(err)),
	)
	m.jobRuns.Add(ctx, 1, attrs)
	m.jobDuration.Record(ctx, duration.Seconds(), attrs)
}
