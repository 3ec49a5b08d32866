package delivery

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"reviewhooks/internal/model"
)

const instrumentationName = "reviewhooks/internal/delivery"

// Tracing wraps each attempt in a span from the global TracerProvider.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(instrumentationName))
}

// TracingWithTracer wraps each attempt in a span from tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, task *model.DeliveryTask, next Handler) error {
		ctx, span := tracer.Start(ctx, "reviewhooks.delivery.attempt",
			trace.WithAttributes(
				attribute.String("reviewhooks.hook_id", string(task.HookID)),
				attribute.String("reviewhooks.target_id", task.Target.ID),
				attribute.String("reviewhooks.target_kind", string(task.Target.EffectiveKind())),
				attribute.Int("reviewhooks.attempt", task.Attempt()),
			),
			trace.WithSpanKind(trace.SpanKindClient),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		return err
	}
}

// Metrics records attempt counts and durations on the global MeterProvider.
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(instrumentationName))
}

// MetricsWithMeter records on meter:
//   - reviewhooks.delivery.attempts (counter), by hook_id, kind, status
//   - reviewhooks.delivery.duration (histogram, seconds), same attributes
func MetricsWithMeter(meter metric.Meter) Middleware {
	// Instrument errors fall back to noop instruments.
	attempts, _ := meter.Int64Counter(
		"reviewhooks.delivery.attempts",
		metric.WithDescription("Outbound delivery attempts"),
		metric.WithUnit("{attempt}"),
	)
	duration, _ := meter.Float64Histogram(
		"reviewhooks.delivery.duration",
		metric.WithDescription("Duration of delivery attempts in seconds"),
		metric.WithUnit("s"),
	)

	return func(ctx context.Context, task *model.DeliveryTask, next Handler) error {
		start := time.Now()
		err := next(ctx)

		status := "ok"
		if err != nil {
			status = "error"
		}
		attrs := metric.WithAttributes(
			attribute.String("hook_id", string(task.HookID)),
			attribute.String("kind", string(task.Target.EffectiveKind())),
			attribute.String("status", status),
		)
		attempts.Add(ctx, 1, attrs)
		duration.Record(ctx, time.Since(start).Seconds(), attrs)
		return err
	}
}
