// Package tokens estimates the token mass of text and messages.
//
// The memory engine is parameterised over a Counter. Approximate is the
// cheap character-based default; APICounter asks Anthropic's count_tokens
// endpoint and falls back to the approximation when the API is unavailable.
package tokens

import (
	"context"

	"github.com/youssefsiam38/agentmem/types"
)

const (
	// MessageOverhead is the per-message structural cost (role, separators).
	MessageOverhead = 4

	// ImageTokens is the flat estimate charged for an image part.
	ImageTokens = 200

	// ToolOverhead is the extra cost of a tool call or its result.
	ToolOverhead = 10
)

// Counter measures the token size of a piece of text.
type Counter interface {
	CountTokens(ctx context.Context, text string) (int, error)
}

// CounterFunc adapts a plain function to Counter.
type CounterFunc func(text string) int

// CountTokens calls f.
func (f CounterFunc) CountTokens(_ context.Context, text string) (int, error) {
	return f(text), nil
}

// Approximator is a Counter backed by Approximate.
var Approximator Counter = CounterFunc(Approximate)

// Approximate estimates token count from character count.
// Uses ~4 characters per token with a minimum of 1 token for non-empty text.
func Approximate(text string) int {
	if len(text) == 0 {
		return 0
	}
	tokens := (len(text) + 3) / 4
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}

// CountMessage returns the token mass of a single message.
// Unknown parts carry no countable content and cost nothing.
func CountMessage(ctx context.Context, c Counter, msg types.Message) (int, error) {
	total := MessageOverhead

	for _, part := range msg.Content {
		var (
			n   int
			err error
		)
		switch p := part.(type) {
		case types.TextPart:
			n, err = c.CountTokens(ctx, p.Text)
		case types.ReasoningPart:
			n, err = c.CountTokens(ctx, p.Text)
		case types.ImagePart:
			n = ImageTokens
		case types.ToolInvocationPart:
			n, err = countTool(ctx, c, p)
		case types.UnknownPart:
			continue
		}
		if err != nil {
			return 0, err
		}
		total += n
	}

	return total, nil
}

func countTool(ctx context.Context, c Counter, p types.ToolInvocationPart) (int, error) {
	total := ToolOverhead

	for _, text := range []string{p.Name, string(p.Input)} {
		n, err := c.CountTokens(ctx, text)
		if err != nil {
			return 0, err
		}
		total += n
	}

	if p.Output != "" {
		n, err := c.CountTokens(ctx, p.Output)
		if err != nil {
			return 0, err
		}
		total += n + ToolOverhead
	}

	return total, nil
}

// CountMessages sums CountMessage over msgs.
func CountMessages(ctx context.Context, c Counter, msgs []types.Message) (int, error) {
	total := 0
	for _, msg := range msgs {
		n, err := CountMessage(ctx, c, msg)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}
