package memory

import (
	"context"
	"time"

	"github.com/youssefsiam38/agentmem/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/youssefsiam38/agentmem/memory"

// Span names.
const (
	SpanObserve = "agentmem.observe"
	SpanReflect = "agentmem.reflect"
)

// Standard attribute keys for memory spans and metrics.
var (
	AttrRecordID          = attribute.Key("agentmem.record.id")
	AttrScope             = attribute.Key("agentmem.scope")
	AttrPhase             = attribute.Key("agentmem.phase")
	AttrResult            = attribute.Key("agentmem.result")
	AttrPendingTokens     = attribute.Key("agentmem.tokens.pending")
	AttrObservationTokens = attribute.Key("agentmem.tokens.observations")
	AttrMessages          = attribute.Key("agentmem.messages")
	AttrGeneration        = attribute.Key("agentmem.generation")
)

// Cycle results recorded on the cycles counter.
const (
	resultCompleted = "completed"
	resultBuffered  = "buffered"
	resultFailed    = "failed"
)

// Metrics holds all memory metric instruments.
type Metrics struct {
	Cycles        metric.Int64Counter
	CycleDuration metric.Float64Histogram
	PendingTokens metric.Int64Histogram
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.Cycles, err = meter.Int64Counter("agentmem.cycles",
		metric.WithDescription("Observation and reflection cycles by phase and result"),
	)
	if err != nil {
		return nil, err
	}

	m.CycleDuration, err = meter.Float64Histogram("agentmem.cycle.duration",
		metric.WithDescription("Cycle duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.PendingTokens, err = meter.Int64Histogram("agentmem.tokens.pending",
		metric.WithDescription("Unobserved message tokens measured per call"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// telemetry bundles the tracer and instruments used by Memory.
type telemetry struct {
	tracer  trace.Tracer
	metrics *Metrics
}

func newTelemetry(tp trace.TracerProvider, mp metric.MeterProvider) (*telemetry, error) {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	if mp == nil {
		mp = otel.GetMeterProvider()
	}

	metrics, err := NewMetrics(mp.Meter(instrumentationName))
	if err != nil {
		return nil, err
	}
	return &telemetry{
		tracer:  tp.Tracer(instrumentationName),
		metrics: metrics,
	}, nil
}

// startSpan starts an internal span for a cycle on rec.
func (t *telemetry) startSpan(ctx context.Context, name string, rec *storage.Record, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append([]attribute.KeyValue{
		AttrRecordID.String(rec.ID.String()),
		AttrScope.String(string(rec.Scope)),
		AttrPendingTokens.Int(rec.PendingMessageTokens),
		AttrObservationTokens.Int(rec.ObservationTokenCount),
	}, attrs...)

	return t.tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// endSpan records err on span, if any, and ends it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// recordCycle counts a finished (or buffered) cycle.
func (t *telemetry) recordCycle(ctx context.Context, phase storage.Phase, result string, d time.Duration) {
	attrs := metric.WithAttributes(AttrPhase.String(string(phase)), AttrResult.String(result))
	t.metrics.Cycles.Add(ctx, 1, attrs)
	if result != resultBuffered {
		t.metrics.CycleDuration.Record(ctx, d.Seconds(), attrs)
	}
}

func (t *telemetry) recordPending(ctx context.Context, scope storage.Scope, pending int) {
	t.metrics.PendingTokens.Record(ctx, int64(pending), metric.WithAttributes(AttrScope.String(string(scope))))
}
