package tokens

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *anthropic.Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := anthropic.NewClient(
		option.WithBaseURL(srv.URL),
		option.WithAPIKey("test-key"),
		option.WithMaxRetries(0),
	)
	return &client
}

func TestAPICounter_UsesAPIAndCaches(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages/count_tokens" {
			http.NotFound(w, r)
			return
		}
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"input_tokens": 42}`))
	})

	counter := NewAPICounter(client, "claude-sonnet-4-5")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := counter.CountTokens(ctx, "hello world")
		if err != nil {
			t.Fatalf("CountTokens failed: %v", err)
		}
		if got != 42 {
			t.Errorf("CountTokens() = %d, want 42", got)
		}
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("API called %d times, want 1", n)
	}
}

func TestAPICounter_FallsBackOnError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"api_error","message":"down"}}`))
	})

	counter := NewAPICounter(client, "claude-sonnet-4-5")
	got, err := counter.CountTokens(context.Background(), "12345678")
	if err != nil {
		t.Fatalf("CountTokens returned error: %v", err)
	}
	if got != 2 {
		t.Errorf("CountTokens() = %d, want approximation 2", got)
	}
}

func TestAPICounter_EmptyAndNilClient(t *testing.T) {
	counter := NewAPICounter(nil, "claude-sonnet-4-5")
	ctx := context.Background()

	if got, _ := counter.CountTokens(ctx, ""); got != 0 {
		t.Errorf("CountTokens(\"\") = %d, want 0", got)
	}
	if got, _ := counter.CountTokens(ctx, "test"); got != 1 {
		t.Errorf("CountTokens(\"test\") = %d, want 1", got)
	}
}
