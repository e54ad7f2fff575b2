package pipeline

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/uniguide/internal/logging"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

type metrics struct {
	stageDuration metric.Float64Histogram
	failures      metric.Int64Counter
	runs          metric.Int64Counter
}

func newMetrics(meter metric.Meter, logger *logging.Logger) *metrics {
	m := &metrics{}
	ctx := context.Background()
	var err error

	m.stageDuration, err = meter.Float64Histogram(
		"uniguide.pipeline.stage_duration_seconds",
		metric.WithDescription("Time from rendering to a terminal state, by stage and status"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300),
	)
	if err != nil {
		logger.Warn(ctx, "failed to create stage duration histogram", zap.Error(err))
	}

	m.failures, err = meter.Int64Counter(
		"uniguide.pipeline.stage_failures_total",
		metric.WithDescription("Stage failures by stage and reason (render, capability, timeout, empty)"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		logger.Warn(ctx, "failed to create stage failure counter", zap.Error(err))
	}

	m.runs, err = meter.Int64Counter(
		"uniguide.pipeline.runs_total",
		metric.WithDescription("Completed pipeline runs by final status"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		logger.Warn(ctx, "failed to create run counter", zap.Error(err))
	}
	return m
}

func (m *metrics) recordStage(ctx context.Context, stage string, status StageStatus, d time.Duration) {
	if m == nil || m.stageDuration == nil {
		return
	}
	m.stageDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("status", string(status)),
	))
}

func (m *metrics) recordFailure(ctx context.Context, stage, reason string) {
	if m == nil || m.failures == nil {
		return
	}
	m.failures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("reason", reason),
	))
}

func (m *metrics) recordRun(ctx context.Context, status RunStatus) {
	if m == nil || m.runs == nil {
		return
	}
	m.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
}
