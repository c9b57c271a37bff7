package impact

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("github.com/Benny93/twinscope/internal/impact")
	meter  = otel.Meter("github.com/Benny93/twinscope/internal/impact")
)

var (
	computeLatency   metric.Float64Histogram
	computeTotal     metric.Int64Counter
	impactedTwins    metric.Int64Histogram
	neighborFailures metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics creates the instruments on first use.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		computeLatency, err = meter.Float64Histogram(
			"impact_compute_duration_seconds",
			metric.WithDescription("Duration of impact computations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		computeTotal, err = meter.Int64Counter(
			"impact_compute_total",
			metric.WithDescription("Total number of impact computations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		impactedTwins, err = meter.Int64Histogram(
			"impact_twins",
			metric.WithDescription("Number of twins impacted per computation, direct and propagated"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		neighborFailures, err = meter.Int64Counter(
			"impact_neighbor_lookup_failures_total",
			metric.WithDescription("Neighbour lookups that failed during propagation"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func startComputeSpan(ctx context.Context, fileID int64, opts Options) (context.Context, trace.Span) {
	return tracer.Start(ctx, "impact.ComputeFromDiff",
		trace.WithAttributes(
			attribute.Int64("impact.file_object_id", fileID),
			attribute.Int("impact.hops", opts.Hops),
			attribute.Bool("impact.directed", opts.Directed),
		),
	)
}

func recordCompute(ctx context.Context, d time.Duration, result *Result, structural bool) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("kind", result.Kind),
		attribute.Bool("structural_change", structural),
	)
	computeLatency.Record(ctx, d.Seconds(), attrs)
	computeTotal.Add(ctx, 1, attrs)
	impactedTwins.Record(ctx, int64(len(result.Impacted)+len(result.Propagated)))
}

func recordNeighborFailure(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	neighborFailures.Add(ctx, 1)
}
