package llm

import (
	"context"
	"sync"
	"unicode/utf8"

	"github.com/haasonsaas/docqa/pkg/models"
)

// TokenCounter counts the tokens a single turn occupies in a prompt.
type TokenCounter interface {
	CountTokens(ctx context.Context, turn models.Turn) (int, error)
}

// TokenCounterFunc adapts a function to TokenCounter.
type TokenCounterFunc func(ctx context.Context, turn models.Turn) (int, error)

func (f TokenCounterFunc) CountTokens(ctx context.Context, turn models.Turn) (int, error) {
	return f(ctx, turn)
}

// charsPerToken approximates English text for models without a counting API.
const charsPerToken = 4

// EstimateTokens approximates a token count from the rune length of text.
// Non-empty text is at least one token.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return (n + charsPerToken - 1) / charsPerToken
}

// EstimateCounter counts tokens with EstimateTokens. It never fails.
type EstimateCounter struct{}

func (EstimateCounter) CountTokens(_ context.Context, turn models.Turn) (int, error) {
	return EstimateTokens(turn.Content), nil
}

type countKey struct {
	role    models.Role
	content string
}

// CachingCounter memoizes another counter. Turns are immutable once
// recorded, so a history is only ever counted once per distinct turn.
type CachingCounter struct {
	inner   TokenCounter
	maxSize int

	mu    sync.Mutex
	cache map[countKey]int
}

// NewCachingCounter wraps inner. When the cache grows past maxSize entries
// it is reset; maxSize <= 0 selects 4096.
func NewCachingCounter(inner TokenCounter, maxSize int) *CachingCounter {
	if maxSize <= 0 {
		maxSize = 4096
	}
	return &CachingCounter{
		inner:   inner,
		maxSize: maxSize,
		cache:   make(map[countKey]int),
	}
}

func (c *CachingCounter) CountTokens(ctx context.Context, turn models.Turn) (int, error) {
	key := countKey{role: turn.Role, content: turn.Content}

	c.mu.Lock()
	if n, ok := c.cache[key]; ok {
		c.mu.Unlock()
		return n, nil
	}
	c.mu.Unlock()

	n, err := c.inner.CountTokens(ctx, turn)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	if len(c.cache) >= c.maxSize {
		c.cache = make(map[countKey]int)
	}
	c.cache[key] = n
	c.mu.Unlock()
	return n, nil
}

// Len returns the number of cached counts.
func (c *CachingCounter) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cache)
}
