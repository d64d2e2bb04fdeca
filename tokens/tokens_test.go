package tokens

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/youssefsiam38/agentmem/types"
)

func TestApproximate(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected int
	}{
		{"empty string", "", 0},
		{"short string", "hi", 1},     // (2 + 3) / 4 = 1
		{"4 chars", "test", 1},        // (4 + 3) / 4 = 1
		{"8 chars", "12345678", 2},    // (8 + 3) / 4 = 2
		{"very short 1 char", "a", 1}, // (1 + 3) / 4 = 1
		{"longer text", "This is a longer piece of text for testing token approximation.", 16},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Approximate(tt.content); got != tt.expected {
				t.Errorf("Approximate(%q) = %d, want %d", tt.content, got, tt.expected)
			}
		})
	}
}

func TestCountMessage(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		msg  types.Message
		want int
	}{
		{
			name: "empty message",
			msg:  types.Message{Role: types.RoleUser},
			want: MessageOverhead,
		},
		{
			name: "text",
			msg:  types.NewTextMessage("m1", types.RoleUser, "12345678", time.Time{}),
			want: MessageOverhead + 2,
		},
		{
			name: "image",
			msg:  types.Message{Content: []types.Part{types.ImagePart{URL: "https://example.com/a.png"}}},
			want: MessageOverhead + ImageTokens,
		},
		{
			name: "tool call without output",
			msg: types.Message{Content: []types.Part{types.ToolInvocationPart{
				Name:  "search",
				Input: json.RawMessage(`{"q":"go"}`),
			}}},
			// "search" = 2, `{"q":"go"}` = 3
			want: MessageOverhead + ToolOverhead + 2 + 3,
		},
		{
			name: "tool call with output",
			msg: types.Message{Content: []types.Part{types.ToolInvocationPart{
				Name:   "search",
				Output: "12345678",
			}}},
			want: MessageOverhead + ToolOverhead + 2 + ToolOverhead + 2,
		},
		{
			name: "reasoning counts",
			msg:  types.Message{Content: []types.Part{types.ReasoningPart{Text: "1234"}}},
			want: MessageOverhead + 1,
		},
		{
			name: "unknown part is free",
			msg:  types.Message{Content: []types.Part{types.UnknownPart{Type: "audio", Raw: json.RawMessage(`{}`)}}},
			want: MessageOverhead,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CountMessage(ctx, Approximator, tt.msg)
			if err != nil {
				t.Fatalf("CountMessage failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("CountMessage() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestCountMessages(t *testing.T) {
	msgs := []types.Message{
		{Content: []types.Part{types.TextPart{Text: "1234"}}},
		{Content: []types.Part{types.TextPart{Text: "12345678"}}},
	}

	got, err := CountMessages(context.Background(), Approximator, msgs)
	if err != nil {
		t.Fatalf("CountMessages failed: %v", err)
	}
	if want := 2*MessageOverhead + 1 + 2; got != want {
		t.Errorf("CountMessages() = %d, want %d", got, want)
	}
}

type failingCounter struct{ err error }

func (f failingCounter) CountTokens(context.Context, string) (int, error) { return 0, f.err }

func TestCountMessage_PropagatesCounterError(t *testing.T) {
	boom := errors.New("boom")
	msg := types.Message{Content: []types.Part{types.TextPart{Text: "x"}}}

	if _, err := CountMessage(context.Background(), failingCounter{boom}, msg); !errors.Is(err, boom) {
		t.Errorf("CountMessage error = %v, want %v", err, boom)
	}
}
