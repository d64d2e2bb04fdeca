package tokens

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
)

// APICounter counts tokens with Claude's token counting API, caching results
// by content hash. Any API failure falls back to Approximate, so CountTokens
// never returns an error.
type APICounter struct {
	client *anthropic.Client
	model  string

	mu    sync.RWMutex
	cache map[string]int
}

// NewAPICounter creates an APICounter for model.
func NewAPICounter(client *anthropic.Client, model string) *APICounter {
	return &APICounter{
		client: client,
		model:  model,
		cache:  make(map[string]int),
	}
}

// CountTokens implements Counter.
func (c *APICounter) CountTokens(ctx context.Context, text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	if c.client == nil {
		return Approximate(text), nil
	}

	key := c.cacheKey(text)
	c.mu.RLock()
	count, ok := c.cache[key]
	c.mu.RUnlock()
	if ok {
		return count, nil
	}

	resp, err := c.client.Messages.CountTokens(ctx, anthropic.MessageCountTokensParams{
		Model: anthropic.Model(c.model),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(text)),
		},
	})
	if err != nil {
		// Fallback to approximation if API fails
		return Approximate(text), nil
	}

	count = int(resp.InputTokens)
	c.mu.Lock()
	c.cache[key] = count
	c.mu.Unlock()
	return count, nil
}

// cacheKey generates cache key for content
func (c *APICounter) cacheKey(text string) string {
	hash := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%s:%x", c.model, hash[:8])
}

var _ Counter = (*APICounter)(nil)
