package memory

import (
	"context"
	"testing"

	"github.com/youssefsiam38/agentmem/storage"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func TestTelemetry_SpansAndMetrics(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	ctx := context.Background()
	defer func() {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
	}()

	f := &fakeSummarizer{observeTokens: 500}
	mem := newTestMemory(t, storage.NewInMemoryStore(), f, &Config{
		ObservationThreshold: Fixed(10),
		ReflectionThreshold:  Fixed(100),
	}, WithTracerProvider(tp), WithMeterProvider(mp))

	if _, err := mem.Process(ctx, "t1", conversation("m", 2, 100)); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("recorded %d spans, want 2", len(spans))
	}
	if spans[0].Name() != SpanObserve || spans[1].Name() != SpanReflect {
		t.Errorf("span names = %s, %s; want %s, %s", spans[0].Name(), spans[1].Name(), SpanObserve, SpanReflect)
	}
	for _, s := range spans {
		if s.SpanKind() != trace.SpanKindInternal {
			t.Errorf("span %s kind = %v, want internal", s.Name(), s.SpanKind())
		}
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}

	cycles := map[string]int64{}
	seen := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			seen[m.Name] = true
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok || m.Name != "agentmem.cycles" {
				continue
			}
			for _, dp := range sum.DataPoints {
				phase, _ := dp.Attributes.Value(AttrPhase)
				result, _ := dp.Attributes.Value(AttrResult)
				cycles[phase.AsString()+"/"+result.AsString()] += dp.Value
			}
		}
	}

	for _, name := range []string{"agentmem.cycles", "agentmem.cycle.duration", "agentmem.tokens.pending"} {
		if !seen[name] {
			t.Errorf("metric %s not recorded", name)
		}
	}
	if cycles["observation/completed"] != 1 || cycles["reflection/completed"] != 1 {
		t.Errorf("cycle counts = %v, want one completed observation and reflection", cycles)
	}
}

func TestNewMetrics_AllInstrumentsCreated(t *testing.T) {
	mp := sdkmetric.NewMeterProvider()
	defer func() { _ = mp.Shutdown(context.Background()) }()

	m, err := NewMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	if m.Cycles == nil {
		t.Error("Cycles is nil")
	}
	if m.CycleDuration == nil {
		t.Error("CycleDuration is nil")
	}
	if m.PendingTokens == nil {
		t.Error("PendingTokens is nil")
	}
}
