package graph

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var tracer = otel.Tracer("github.com/Benny93/twinscope/internal/graph")
var meter = otel.Meter("github.com/Benny93/twinscope/internal/graph")

var (
	// traversalDuration measures a single Subgraph call, labelled with the
	// traversal mode and whether it succeeded.
	traversalDuration metric.Float64Histogram
)

func init() {
	var err error
	traversalDuration, err = meter.Float64Histogram(
		"graph.subgraph.duration",
		metric.WithDescription("The duration of a bounded subgraph traversal."),
		metric.WithUnit("ms"),
	)
	if err != nil {
		panic("graph: failed to init 'graph.subgraph.duration' instrument")
	}
}

func recordTraversal(ctx context.Context, directed, succeeded bool, d time.Duration) {
	attrs := attribute.NewSet(
		attribute.Bool("directed", directed),
		attribute.Bool("succeeded", succeeded),
	)
	traversalDuration.Record(ctx, float64(d)/float64(time.Millisecond), metric.WithAttributeSet(attrs))
}
