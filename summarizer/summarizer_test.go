package summarizer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/youssefsiam38/agentmem/tokens"
	"github.com/youssefsiam38/agentmem/types"
)

// streamBody renders a minimal Messages API event stream for text.
func streamBody(text string, outputTokens int) string {
	events := []struct{ name, data string }{
		{"message_start", `{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"claude-haiku-4-5","content":[],"stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":10,"output_tokens":1}}}`},
		{"content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`},
		{"content_block_delta", fmt.Sprintf(`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":%q}}`, text)},
		{"content_block_stop", `{"type":"content_block_stop","index":0}`},
		{"message_delta", fmt.Sprintf(`{"type":"message_delta","delta":{"stop_reason":"end_turn","stop_sequence":null},"usage":{"output_tokens":%d}}`, outputTokens)},
		{"message_stop", `{"type":"message_stop"}`},
	}
	var b strings.Builder
	for _, e := range events {
		fmt.Fprintf(&b, "event: %s\ndata: %s\n\n", e.name, e.data)
	}
	return b.String()
}

type fakeAPI struct {
	server   *httptest.Server
	calls    atomic.Int32
	lastBody atomic.Value
}

func newFakeAPI(t *testing.T, text string, outputTokens int) *fakeAPI {
	t.Helper()
	f := &fakeAPI{}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			http.NotFound(w, r)
			return
		}
		f.calls.Add(1)
		body, _ := io.ReadAll(r.Body)
		f.lastBody.Store(string(body))

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, streamBody(text, outputTokens))
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeAPI) body() string {
	s, _ := f.lastBody.Load().(string)
	return s
}

func newTestSummarizer(f *fakeAPI, cfg *Config) *Summarizer {
	client := anthropic.NewClient(
		option.WithBaseURL(f.server.URL),
		option.WithAPIKey("test"),
		option.WithMaxRetries(0),
	)
	return New(&client, cfg)
}

func TestNew_Defaults(t *testing.T) {
	s := New(nil, &Config{})
	if s.model != DefaultModel {
		t.Errorf("model = %q, want %q", s.model, DefaultModel)
	}
	if s.maxTokens != DefaultMaxTokens {
		t.Errorf("maxTokens = %d, want %d", s.maxTokens, DefaultMaxTokens)
	}
	if s.counter == nil {
		t.Error("counter is nil")
	}
}

func TestSummarizer_Observe(t *testing.T) {
	api := newFakeAPI(t, "- User prefers dark mode", 7)
	s := newTestSummarizer(api, nil)

	msgs := []types.Message{
		types.NewTextMessage("m1", types.RoleUser, "please switch to dark mode", time.Time{}),
	}

	got, err := s.Observe(context.Background(), "- User is called Sam", msgs)
	if err != nil {
		t.Fatalf("Observe() error = %v", err)
	}
	if got.Text != "- User prefers dark mode" {
		t.Errorf("Text = %q", got.Text)
	}
	if got.TokenCount != 7 {
		t.Errorf("TokenCount = %d, want 7", got.TokenCount)
	}

	body := api.body()
	for _, want := range []string{"running list of observations", "User is called Sam", "please switch to dark mode"} {
		if !strings.Contains(body, want) {
			t.Errorf("request body missing %q", want)
		}
	}
}

func TestSummarizer_ObserveNothingToShow(t *testing.T) {
	api := newFakeAPI(t, "unused", 1)
	s := newTestSummarizer(api, nil)

	msgs := []types.Message{{ID: "m1", Role: types.RoleAssistant, Content: []types.Part{types.ReasoningPart{Text: "hmm"}}}}
	got, err := s.Observe(context.Background(), "- kept", msgs)
	if err != nil {
		t.Fatalf("Observe() error = %v", err)
	}
	if got.Text != "- kept" {
		t.Errorf("Text = %q, want previous observations", got.Text)
	}
	if n := api.calls.Load(); n != 0 {
		t.Errorf("API calls = %d, want 0", n)
	}
}

func TestSummarizer_Reflect(t *testing.T) {
	api := newFakeAPI(t, "- condensed", 3)
	s := newTestSummarizer(api, nil)

	got, err := s.Reflect(context.Background(), "- a\n- a again")
	if err != nil {
		t.Fatalf("Reflect() error = %v", err)
	}
	if got.Text != "- condensed" || got.TokenCount != 3 {
		t.Errorf("Reflect() = %+v", got)
	}
	if !strings.Contains(api.body(), "condensed") {
		t.Error("reflector prompt not sent")
	}
}

func TestSummarizer_CountsWhenUsageMissing(t *testing.T) {
	api := newFakeAPI(t, "- abcdefgh", 0)
	s := newTestSummarizer(api, &Config{Counter: tokens.CounterFunc(func(string) int { return 99 })})

	got, err := s.Reflect(context.Background(), "- x")
	if err != nil {
		t.Fatalf("Reflect() error = %v", err)
	}
	if got.TokenCount != 99 {
		t.Errorf("TokenCount = %d, want 99", got.TokenCount)
	}
}

func TestSummarizer_EmptyResponse(t *testing.T) {
	api := newFakeAPI(t, "   ", 1)
	s := newTestSummarizer(api, nil)

	_, err := s.Reflect(context.Background(), "- x")
	if !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("Reflect() error = %v, want ErrEmptyResponse", err)
	}
}

func TestSummarizer_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"type":"error","error":{"type":"api_error","message":"boom"}}`, http.StatusInternalServerError)
	}))
	defer server.Close()

	client := anthropic.NewClient(
		option.WithBaseURL(server.URL),
		option.WithAPIKey("test"),
		option.WithMaxRetries(0),
	)
	s := New(&client, nil)

	if _, err := s.Reflect(context.Background(), "- x"); err == nil {
		t.Error("Reflect() error = nil, want API error")
	}
}
