// Package hooks defines the lifecycle notifications emitted around
// observation and reflection cycles.
//
// Listeners are called synchronously at phase boundaries. The memory engine
// never lets a listener error or panic affect cycle state: both are logged
// and dropped.
package hooks

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/youssefsiam38/agentmem/storage"
)

// Kind identifies a lifecycle notification.
type Kind string

const (
	KindObservationStart    Kind = "observation.start"
	KindObservationEnd      Kind = "observation.end"
	KindObservationFailed   Kind = "observation.failed"
	KindObservationBuffered Kind = "observation.buffered"
	KindReflectionStart     Kind = "reflection.start"
	KindReflectionEnd       Kind = "reflection.end"
	KindReflectionFailed    Kind = "reflection.failed"
	KindReflectionBuffered  Kind = "reflection.buffered"
)

// Event describes the record and cycle a notification is about.
type Event struct {
	Kind     Kind
	RecordID uuid.UUID
	Scope    storage.Scope
	Key      string
	Phase    storage.Phase

	// PendingTokens is the unobserved token mass at the time of the event.
	PendingTokens int

	// ObservationTokens is the size of the observation pool. For End events
	// it is the size after the write.
	ObservationTokens int

	// MessageCount is the number of messages handed to an observation.
	MessageCount int

	// Generation is the record generation after a successful write.
	Generation int

	// Duration is set on End and Failed events.
	Duration time.Duration

	// Err is set on Failed events.
	Err error
}

// Listener receives cycle lifecycle notifications. Embed Base to implement
// only a subset.
type Listener interface {
	OnObservationStart(ctx context.Context, ev Event) error
	OnObservationEnd(ctx context.Context, ev Event) error
	OnObservationFailed(ctx context.Context, ev Event) error
	OnObservationBuffered(ctx context.Context, ev Event) error
	OnReflectionStart(ctx context.Context, ev Event) error
	OnReflectionEnd(ctx context.Context, ev Event) error
	OnReflectionFailed(ctx context.Context, ev Event) error
	OnReflectionBuffered(ctx context.Context, ev Event) error
}

// Base is a Listener whose methods do nothing.
type Base struct{}

func (Base) OnObservationStart(context.Context, Event) error    { return nil }
func (Base) OnObservationEnd(context.Context, Event) error      { return nil }
func (Base) OnObservationFailed(context.Context, Event) error   { return nil }
func (Base) OnObservationBuffered(context.Context, Event) error { return nil }
func (Base) OnReflectionStart(context.Context, Event) error     { return nil }
func (Base) OnReflectionEnd(context.Context, Event) error       { return nil }
func (Base) OnReflectionFailed(context.Context, Event) error    { return nil }
func (Base) OnReflectionBuffered(context.Context, Event) error  { return nil }

// Dispatch calls the method of l matching ev.Kind.
func Dispatch(ctx context.Context, l Listener, ev Event) error {
	switch ev.Kind {
	case KindObservationStart:
		return l.OnObservationStart(ctx, ev)
	case KindObservationEnd:
		return l.OnObservationEnd(ctx, ev)
	case KindObservationFailed:
		return l.OnObservationFailed(ctx, ev)
	case KindObservationBuffered:
		return l.OnObservationBuffered(ctx, ev)
	case KindReflectionStart:
		return l.OnReflectionStart(ctx, ev)
	case KindReflectionEnd:
		return l.OnReflectionEnd(ctx, ev)
	case KindReflectionFailed:
		return l.OnReflectionFailed(ctx, ev)
	case KindReflectionBuffered:
		return l.OnReflectionBuffered(ctx, ev)
	default:
		return nil
	}
}

// Func is a hook for a single Kind.
type Func func(ctx context.Context, ev Event) error

// Registry holds all registered listeners and hook funcs. It is itself a
// Listener that fans each event out to every registration; one failing hook
// does not stop the others.
type Registry struct {
	mu        sync.RWMutex
	listeners []Listener
	funcs     map[Kind][]Func
}

// NewRegistry creates a new hook registry
func NewRegistry() *Registry {
	return &Registry{
		funcs: make(map[Kind][]Func),
	}
}

// Add registers a listener.
func (r *Registry) Add(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// On registers a hook for one kind of event.
func (r *Registry) On(kind Kind, hook Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[kind] = append(r.funcs[kind], hook)
}

// Trigger delivers ev to every registration and joins their errors.
func (r *Registry) Trigger(ctx context.Context, ev Event) error {
	r.mu.RLock()
	listeners := make([]Listener, len(r.listeners))
	copy(listeners, r.listeners)
	funcs := make([]Func, len(r.funcs[ev.Kind]))
	copy(funcs, r.funcs[ev.Kind])
	r.mu.RUnlock()

	var errs []error
	for _, l := range listeners {
		if err := Dispatch(ctx, l, ev); err != nil {
			errs = append(errs, err)
		}
	}
	for _, hook := range funcs {
		if err := hook(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) OnObservationStart(ctx context.Context, ev Event) error {
	ev.Kind = KindObservationStart
	return r.Trigger(ctx, ev)
}

func (r *Registry) OnObservationEnd(ctx context.Context, ev Event) error {
	ev.Kind = KindObservationEnd
	return r.Trigger(ctx, ev)
}

func (r *Registry) OnObservationFailed(ctx context.Context, ev Event) error {
	ev.Kind = KindObservationFailed
	return r.Trigger(ctx, ev)
}

func (r *Registry) OnObservationBuffered(ctx context.Context, ev Event) error {
	ev.Kind = KindObservationBuffered
	return r.Trigger(ctx, ev)
}

func (r *Registry) OnReflectionStart(ctx context.Context, ev Event) error {
	ev.Kind = KindReflectionStart
	return r.Trigger(ctx, ev)
}

func (r *Registry) OnReflectionEnd(ctx context.Context, ev Event) error {
	ev.Kind = KindReflectionEnd
	return r.Trigger(ctx, ev)
}

func (r *Registry) OnReflectionFailed(ctx context.Context, ev Event) error {
	ev.Kind = KindReflectionFailed
	return r.Trigger(ctx, ev)
}

func (r *Registry) OnReflectionBuffered(ctx context.Context, ev Event) error {
	ev.Kind = KindReflectionBuffered
	return r.Trigger(ctx, ev)
}

var (
	_ Listener = Base{}
	_ Listener = (*Registry)(nil)
)
