// Package summarizer provides Anthropic-backed observe and reflect functions
// for the memory engine.
//
//	sum := summarizer.New(&client, summarizer.DefaultConfig())
//	mem, err := memory.New(store, sum.Observe, sum.Reflect, nil)
package summarizer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/youssefsiam38/agentmem/memory"
	"github.com/youssefsiam38/agentmem/tokens"
	"github.com/youssefsiam38/agentmem/types"
)

// Default configuration values.
const (
	DefaultModel     = "claude-haiku-4-5"
	DefaultMaxTokens = 4096
)

// ErrEmptyResponse indicates the model returned no text.
var ErrEmptyResponse = errors.New("empty response from summarizer")

// Config holds summarizer configuration.
type Config struct {
	// Model is the Claude model used for both phases.
	// Default: "claude-haiku-4-5"
	Model string

	// MaxTokens caps each response.
	// Default: 4096
	MaxTokens int

	// Counter measures responses when the API reports no output usage.
	// Default: tokens.Approximator
	Counter tokens.Counter
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Model:     DefaultModel,
		MaxTokens: DefaultMaxTokens,
		Counter:   tokens.Approximator,
	}
}

// Summarizer handles observation and reflection using Claude's streaming API.
type Summarizer struct {
	client    *anthropic.Client
	model     string
	maxTokens int
	counter   tokens.Counter
}

// New creates a Summarizer. If config is nil, DefaultConfig is used.
func New(client *anthropic.Client, config *Config) *Summarizer {
	if config == nil {
		config = DefaultConfig()
	}
	s := &Summarizer{
		client:    client,
		model:     config.Model,
		maxTokens: config.MaxTokens,
		counter:   config.Counter,
	}
	if s.model == "" {
		s.model = DefaultModel
	}
	if s.maxTokens <= 0 {
		s.maxTokens = DefaultMaxTokens
	}
	if s.counter == nil {
		s.counter = tokens.Approximator
	}
	return s
}

// Observe folds messages into previous and returns the complete new
// observation list. It has the memory.ObserveFunc signature.
func (s *Summarizer) Observe(ctx context.Context, previous string, messages []types.Message) (memory.Summary, error) {
	transcript := FormatTranscript(messages)
	if transcript == "" {
		return memory.Summary{Text: previous}, nil
	}
	return s.complete(ctx, ObserverSystemPrompt, BuildObservePrompt(previous, transcript))
}

// Reflect compresses observations. It has the memory.ReflectFunc signature.
func (s *Summarizer) Reflect(ctx context.Context, observations string) (memory.Summary, error) {
	if strings.TrimSpace(observations) == "" {
		return memory.Summary{}, nil
	}
	return s.complete(ctx, ReflectorSystemPrompt, BuildReflectPrompt(observations))
}

// complete sends one streaming request and returns the accumulated text.
func (s *Summarizer) complete(ctx context.Context, system, user string) (memory.Summary, error) {
	stream := s.client.Messages.NewStreaming(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(s.model),
		MaxTokens: int64(s.maxTokens),
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})

	// Accumulate the streamed response
	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return memory.Summary{}, fmt.Errorf("failed to accumulate stream: %w", err)
		}
	}
	if err := stream.Err(); err != nil {
		return memory.Summary{}, err
	}

	var text strings.Builder
	for _, block := range message.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(tb.Text)
		}
	}

	out := strings.TrimSpace(text.String())
	if out == "" {
		return memory.Summary{}, ErrEmptyResponse
	}

	count := int(message.Usage.OutputTokens)
	if count <= 0 {
		n, err := s.counter.CountTokens(ctx, out)
		if err != nil {
			return memory.Summary{}, fmt.Errorf("failed to count summary tokens: %w", err)
		}
		count = n
	}

	return memory.Summary{Text: out, TokenCount: count}, nil
}
