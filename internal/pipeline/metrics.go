package pipeline

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var pipelineMeter = otel.GetMeterProvider().Meter("saksflyt/pipeline")

// recordProcessed records one finished processing run. result is the audit
// action that closed the run (processing_completed, processing_failed, or
// processing_cancelled). Best-effort; instruments are lazily created.
func recordProcessed(ctx context.Context, result string, duration time.Duration) {
	attrs := otelmetric.WithAttributes(attribute.String("result", result))
	if counter, err := pipelineMeter.Int64Counter("pipeline.cases.processed"); err == nil {
		counter.Add(ctx, 1, attrs)
	}
	if hist, err := pipelineMeter.Float64Histogram("pipeline.case.duration",
		otelmetric.WithUnit("ms")); err == nil {
		hist.Record(ctx, float64(duration.Milliseconds()), attrs)
	}
}

// recordQueueDepth tracks the number of cases waiting for a worker. delta is
// +n when cases enter the queue and -n when a worker claims one.
func recordQueueDepth(ctx context.Context, delta int64) {
	if depth, err := pipelineMeter.Int64UpDownCounter("pipeline.queue.depth"); err == nil {
		depth.Add(ctx, delta)
	}
}
