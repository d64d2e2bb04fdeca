package hooks

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

type recordingListener struct {
	Base
	mu    sync.Mutex
	kinds []Kind
	err   error
}

func (l *recordingListener) record(ev Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.kinds = append(l.kinds, ev.Kind)
	return l.err
}

func (l *recordingListener) OnObservationStart(_ context.Context, ev Event) error {
	return l.record(ev)
}

func (l *recordingListener) OnReflectionFailed(_ context.Context, ev Event) error {
	return l.record(ev)
}

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()
	if r == nil {
		t.Fatal("NewRegistry returned nil")
	}
	if err := r.OnObservationStart(context.Background(), Event{}); err != nil {
		t.Errorf("empty registry returned error: %v", err)
	}
}

func TestRegistry_DispatchesByKind(t *testing.T) {
	r := NewRegistry()
	l := &recordingListener{}
	r.Add(l)

	ctx := context.Background()
	_ = r.OnObservationStart(ctx, Event{})
	_ = r.OnObservationEnd(ctx, Event{})
	_ = r.OnReflectionFailed(ctx, Event{Err: errors.New("boom")})

	want := []Kind{KindObservationStart, KindReflectionFailed}
	if len(l.kinds) != len(want) {
		t.Fatalf("listener saw %v, want %v", l.kinds, want)
	}
	for i := range want {
		if l.kinds[i] != want[i] {
			t.Errorf("kinds[%d] = %s, want %s", i, l.kinds[i], want[i])
		}
	}
}

func TestRegistry_On(t *testing.T) {
	r := NewRegistry()
	var got []Kind

	r.On(KindReflectionEnd, func(ctx context.Context, ev Event) error {
		got = append(got, ev.Kind)
		return nil
	})

	ctx := context.Background()
	_ = r.OnReflectionStart(ctx, Event{})
	_ = r.OnReflectionEnd(ctx, Event{Generation: 3})

	if len(got) != 1 || got[0] != KindReflectionEnd {
		t.Errorf("hook saw %v, want [%s]", got, KindReflectionEnd)
	}
}

func TestRegistry_ErrorsDoNotStopFanOut(t *testing.T) {
	r := NewRegistry()
	first := errors.New("first")
	second := errors.New("second")

	failing := &recordingListener{err: first}
	healthy := &recordingListener{}
	r.Add(failing)
	r.Add(healthy)
	r.On(KindObservationStart, func(context.Context, Event) error { return second })

	err := r.OnObservationStart(context.Background(), Event{})
	if !errors.Is(err, first) || !errors.Is(err, second) {
		t.Errorf("Trigger error = %v, want both hook errors joined", err)
	}
	if len(healthy.kinds) != 1 {
		t.Errorf("second listener called %d times, want 1", len(healthy.kinds))
	}
}

func TestRegistry_Concurrent(t *testing.T) {
	r := NewRegistry()
	var mu sync.Mutex
	count := 0

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.On(KindObservationEnd, func(context.Context, Event) error {
				mu.Lock()
				count++
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	if err := r.OnObservationEnd(context.Background(), Event{}); err != nil {
		t.Fatalf("Trigger failed: %v", err)
	}
	if count != 10 {
		t.Errorf("count = %d, want 10", count)
	}
}

func TestDispatch_UnknownKind(t *testing.T) {
	l := &recordingListener{}
	if err := Dispatch(context.Background(), l, Event{Kind: "bogus"}); err != nil {
		t.Errorf("Dispatch returned error: %v", err)
	}
	if len(l.kinds) != 0 {
		t.Errorf("unknown kind reached listener: %v", l.kinds)
	}
}

func TestLoggingHooks(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	h := NewLoggingHooks(logger)
	ctx := context.Background()

	_ = h.OnObservationEnd(ctx, Event{Key: "thread-1", Generation: 2, MessageCount: 5})
	_ = h.OnReflectionFailed(ctx, Event{Key: "thread-1", Err: errors.New("model overloaded")})

	out := buf.String()
	for _, want := range []string{
		"observation complete",
		"key=thread-1",
		"generation=2",
		"messages=5",
		"reflection failed",
		"model overloaded",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
}
