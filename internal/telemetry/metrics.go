// Package telemetry provides OpenTelemetry instrumentation for the catalog feed server.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// GenerationMetricsMeterName is the name used for the feed generation meter
	GenerationMetricsMeterName = "github.com/stacklok/catalog-feed-server/generation"

	// RegistrationMetricsMeterName is the name used for the feed registration meter
	RegistrationMetricsMeterName = "github.com/stacklok/catalog-feed-server/registration"

	// SchedulerMetricsMeterName is the name used for the step scheduler meter
	SchedulerMetricsMeterName = "github.com/stacklok/catalog-feed-server/scheduler"
)

// GenerationMetrics holds the OpenTelemetry instruments for feed generation
type GenerationMetrics struct {
	cycleDuration  metric.Float64Histogram
	productsTotal  metric.Int64Gauge
	batchFailures  metric.Int64Counter
	statusChanges  metric.Int64Counter
	itemsProcessed metric.Int64Counter
}

// NewGenerationMetrics creates a new GenerationMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewGenerationMetrics(provider metric.MeterProvider) (*GenerationMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(GenerationMetricsMeterName)

	cycleDuration, err := meter.Float64Histogram(
		"thv_feed_generation_duration_seconds",
		metric.WithDescription("Duration of feed generation cycles in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600),
	)
	if err != nil {
		return nil, err
	}

	productsTotal, err := meter.Int64Gauge(
		"thv_feed_products_total",
		metric.WithDescription("Number of products in the last published feed"),
		metric.WithUnit("{product}"),
	)
	if err != nil {
		return nil, err
	}

	batchFailures, err := meter.Int64Counter(
		"thv_feed_batch_failures_total",
		metric.WithDescription("Number of failed batch attempts"),
		metric.WithUnit("{batch}"),
	)
	if err != nil {
		return nil, err
	}

	statusChanges, err := meter.Int64Counter(
		"thv_feed_status_changes_total",
		metric.WithDescription("Number of generation status transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, err
	}

	itemsProcessed, err := meter.Int64Counter(
		"thv_feed_items_processed_total",
		metric.WithDescription("Number of catalog items written to feed files"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		return nil, err
	}

	return &GenerationMetrics{
		cycleDuration:  cycleDuration,
		productsTotal:  productsTotal,
		batchFailures:  batchFailures,
		statusChanges:  statusChanges,
		itemsProcessed: itemsProcessed,
	}, nil
}

// RecordCycle records the outcome of a generation cycle
func (m *GenerationMetrics) RecordCycle(ctx context.Context, duration time.Duration, products int, success bool) {
	if m == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.Bool("success", success))
	if m.cycleDuration != nil {
		m.cycleDuration.Record(ctx, duration.Seconds(), attrs)
	}
	if success && m.productsTotal != nil {
		m.productsTotal.Record(ctx, int64(products))
	}
}

// RecordBatch records the number of items written by a batch
func (m *GenerationMetrics) RecordBatch(ctx context.Context, items int) {
	if m == nil || m.itemsProcessed == nil {
		return
	}
	m.itemsProcessed.Add(ctx, int64(items))
}

// RecordBatchFailure records a failed batch attempt. final is true when the
// retry budget of the batch is exhausted.
func (m *GenerationMetrics) RecordBatchFailure(ctx context.Context, final bool) {
	if m == nil || m.batchFailures == nil {
		return
	}
	m.batchFailures.Add(ctx, 1, metric.WithAttributes(attribute.Bool("final", final)))
}

// RecordStatusChange records a generation status transition
func (m *GenerationMetrics) RecordStatusChange(ctx context.Context, from, to string) {
	if m == nil || m.statusChanges == nil {
		return
	}
	m.statusChanges.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// Registration outcomes
const (
	OutcomeAdded     = "added"
	OutcomeUpdated   = "updated"
	OutcomeUnchanged = "unchanged"
	OutcomeDeclined  = "declined"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

// RegistrationMetrics holds the OpenTelemetry instruments for feed registration
type RegistrationMetrics struct {
	outcomes metric.Int64Counter
}

// NewRegistrationMetrics creates a new RegistrationMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewRegistrationMetrics(provider metric.MeterProvider) (*RegistrationMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(RegistrationMetricsMeterName)

	outcomes, err := meter.Int64Counter(
		"thv_feed_registrations_total",
		metric.WithDescription("Number of feed registration attempts by outcome"),
		metric.WithUnit("{registration}"),
	)
	if err != nil {
		return nil, err
	}

	return &RegistrationMetrics{outcomes: outcomes}, nil
}

// RecordOutcome records the outcome of registering one destination
func (m *RegistrationMetrics) RecordOutcome(ctx context.Context, market, outcome string) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("market", market),
		attribute.String("outcome", outcome),
	))
}

// SchedulerMetrics holds the OpenTelemetry instruments for scheduler steps
type SchedulerMetrics struct {
	stepDuration metric.Float64Histogram
}

// NewSchedulerMetrics creates a new SchedulerMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewSchedulerMetrics(provider metric.MeterProvider) (*SchedulerMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(SchedulerMetricsMeterName)

	stepDuration, err := meter.Float64Histogram(
		"thv_feed_step_duration_seconds",
		metric.WithDescription("Duration of scheduled step invocations in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60),
	)
	if err != nil {
		return nil, err
	}

	return &SchedulerMetrics{stepDuration: stepDuration}, nil
}

// RecordStep records one step invocation
func (m *SchedulerMetrics) RecordStep(ctx context.Context, step string, duration time.Duration, success bool) {
	if m == nil || m.stepDuration == nil {
		return
	}
	m.stepDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("step", step),
		attribute.Bool("success", success),
	))
}
