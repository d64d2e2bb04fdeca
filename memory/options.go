package memory

import (
	"errors"
	"time"

	"github.com/youssefsiam38/agentmem/hooks"
	"github.com/youssefsiam38/agentmem/tokens"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Option is a functional option for configuring a Memory
type Option func(*options) error

type options struct {
	logger         Logger
	hooks          hooks.Listener
	counter        tokens.Counter
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	now            func() time.Time
}

// WithLogger sets the logger. *slog.Logger satisfies Logger.
func WithLogger(logger Logger) Option {
	return func(o *options) error {
		if logger == nil {
			return errors.New("logger must not be nil")
		}
		o.logger = logger
		return nil
	}
}

// WithHooks sets the lifecycle listener. Use a hooks.Registry to attach
// several.
func WithHooks(l hooks.Listener) Option {
	return func(o *options) error {
		if l == nil {
			return errors.New("hooks listener must not be nil")
		}
		o.hooks = l
		return nil
	}
}

// WithTokenCounter sets the counter used to measure messages and
// summaries. Default: tokens.Approximator
func WithTokenCounter(c tokens.Counter) Option {
	return func(o *options) error {
		if c == nil {
			return errors.New("token counter must not be nil")
		}
		o.counter = c
		return nil
	}
}

// WithTracerProvider sets the tracer provider. Default: otel global provider
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) error {
		o.tracerProvider = tp
		return nil
	}
}

// WithMeterProvider sets the meter provider. Default: otel global provider
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) error {
		o.meterProvider = mp
		return nil
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) error {
		if now == nil {
			return errors.New("clock must not be nil")
		}
		o.now = now
		return nil
	}
}
