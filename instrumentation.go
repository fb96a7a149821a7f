package distributedmap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/huykn/distributed-map"

// instrumentation traces and counts map operations. The zero value and a
// nil pointer record nothing. Instruments the meter refused stay nil and
// are skipped.
type instrumentation struct {
	tracer trace.Tracer
	member attribute.KeyValue

	operations metric.Int64Counter
	failures   metric.Int64Counter
	entries    metric.Int64Counter
	duration   metric.Float64Histogram
}

func newInstrumentation(cfg Config) *instrumentation {
	inst := &instrumentation{member: attribute.String("dmap.member", cfg.MemberID)}

	if cfg.TracerProvider != nil {
		inst.tracer = cfg.TracerProvider.Tracer(instrumentationName)
	}
	if cfg.MeterProvider == nil {
		return inst
	}

	meter := cfg.MeterProvider.Meter(instrumentationName)
	var errs [4]error
	inst.operations, errs[0] = meter.Int64Counter(
		"dmap.map.operations",
		metric.WithDescription("Total number of map operations"),
	)
	inst.failures, errs[1] = meter.Int64Counter(
		"dmap.map.failures",
		metric.WithDescription("Total number of failed map operations"),
	)
	inst.entries, errs[2] = meter.Int64Counter(
		"dmap.map.loaded_entries",
		metric.WithDescription("Total number of entries stored from load"),
	)
	inst.duration, errs[3] = meter.Float64Histogram(
		"dmap.map.duration.ms",
		metric.WithDescription("Map operation latency in milliseconds"),
	)
	if err := errors.Join(errs[:]...); err != nil {
		err = fmt.Errorf("create map instruments: %w", err)
		if cfg.OnError != nil {
			cfg.OnError(err)
		}
		if cfg.Logger != nil {
			cfg.Logger.Warn("Node: metrics partially disabled", "error", err)
		}
	}
	return inst
}

// start opens a span for op on mapName. The returned func ends it and
// records the outcome.
func (i *instrumentation) start(ctx context.Context, op, mapName string) (context.Context, func(error)) {
	if i == nil {
		return ctx, func(error) {}
	}

	begin := time.Now()
	attrs := []attribute.KeyValue{
		attribute.String("dmap.operation", op),
		attribute.String("dmap.map", mapName),
		i.member,
	}

	var span trace.Span
	if i.tracer != nil {
		ctx, span = i.tracer.Start(ctx, "dmap."+op, trace.WithAttributes(attrs...))
	}

	return ctx, func(err error) {
		if span != nil {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			span.End()
		}
		i.record(ctx, attrs, begin, err)
	}
}

func (i *instrumentation) record(ctx context.Context, attrs []attribute.KeyValue, begin time.Time, err error) {
	opt := metric.WithAttributes(attrs...)
	if i.operations != nil {
		i.operations.Add(ctx, 1, opt)
	}
	if err != nil && i.failures != nil {
		i.failures.Add(ctx, 1, opt)
	}
	if i.duration != nil {
		i.duration.Record(ctx, float64(time.Since(begin).Microseconds())/1000, opt)
	}
}

func (i *instrumentation) loaded(ctx context.Context, mapName string, n int) {
	if i == nil || i.entries == nil {
		return
	}
	i.entries.Add(ctx, int64(n), metric.WithAttributes(attribute.String("dmap.map", mapName), i.member))
}
