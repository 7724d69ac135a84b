package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("dsstar-run-metrics")

// RunMetrics collects counters and histograms describing run outcomes
// across the orchestrator's lifetime.
type RunMetrics struct {
	runsStartedCounter   metric.Int64Counter
	runsCompletedCounter metric.Int64Counter
	runsFailedCounter    metric.Int64Counter
	runsFallbackCounter  metric.Int64Counter
	runDurationHistogram metric.Float64Histogram
	runsActiveGauge      metric.Int64UpDownCounter
	iterationCounter     metric.Int64Counter
}

// NewRunMetrics registers the run-level instruments against the global
// meter provider.
func NewRunMetrics() (*RunMetrics, error) {
	runsStartedCounter, err := meter.Int64Counter(
		"dsstar.runs.started",
		metric.WithDescription("Total number of synthesis runs started"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	runsCompletedCounter, err := meter.Int64Counter(
		"dsstar.runs.completed",
		metric.WithDescription("Total number of synthesis runs that produced a usable document"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	runsFailedCounter, err := meter.Int64Counter(
		"dsstar.runs.failed",
		metric.WithDescription("Total number of synthesis runs that exhausted their iteration budget"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	runsFallbackCounter, err := meter.Int64Counter(
		"dsstar.runs.fallback",
		metric.WithDescription("Total number of runs that succeeded only via the fallback document"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	runDurationHistogram, err := meter.Float64Histogram(
		"dsstar.run.duration",
		metric.WithDescription("Wall-clock duration of a synthesis run"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	runsActiveGauge, err := meter.Int64UpDownCounter(
		"dsstar.runs.active",
		metric.WithDescription("Number of currently in-flight synthesis runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	iterationCounter, err := meter.Int64Counter(
		"dsstar.iterations.total",
		metric.WithDescription("Total number of iterations executed across all runs"),
		metric.WithUnit("{iteration}"),
	)
	if err != nil {
		return nil, err
	}

	return &RunMetrics{
		runsStartedCounter:   runsStartedCounter,
		runsCompletedCounter: runsCompletedCounter,
		runsFailedCounter:    runsFailedCounter,
		runsFallbackCounter:  runsFallbackCounter,
		runDurationHistogram: runDurationHistogram,
		runsActiveGauge:      runsActiveGauge,
		iterationCounter:     iterationCounter,
	}, nil
}

// RecordRunStarted marks a run as begun and bumps the active-run gauge.
func (m *RunMetrics) RecordRunStarted(ctx context.Context) {
	m.runsStartedCounter.Add(ctx, 1)
	m.runsActiveGauge.Add(ctx, 1)
}

// RecordRunFinished records the terminal outcome of a run and its total duration.
func (m *RunMetrics) RecordRunFinished(ctx context.Context, success bool, duration time.Duration) {
	status := "failed"
	if success {
		status = "completed"
		m.runsCompletedCounter.Add(ctx, 1)
	} else {
		m.runsFailedCounter.Add(ctx, 1)
	}
	m.runDurationHistogram.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("status", status)))
	m.runsActiveGauge.Add(ctx, -1)
}

// RecordFallback marks that a run's success came from the fallback document
// rather than a clean pass through every gate.
func (m *RunMetrics) RecordFallback(ctx context.Context) {
	m.runsFallbackCounter.Add(ctx, 1)
}

// RecordIteration tallies one iteration against phase, for dashboards that
// break down where time and retries are spent.
func (m *RunMetrics) RecordIteration(ctx context.Context, phase string) {
	m.iterationCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("phase", phase)))
}
