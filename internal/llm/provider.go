// Package llm defines the chat model abstraction used by the conversational
// pipeline, together with token counting and provider error classification.
package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/haasonsaas/docqa/pkg/models"
)

// Provider is a chat model backend.
//
// Implementations must be safe for concurrent use. Complete returns a
// channel that receives text chunks and is closed when the response ends;
// a chunk carrying Error is the last one sent.
type Provider interface {
	// Complete sends a prompt and returns a streaming response.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name returns the provider name used in logs and metrics.
	Name() string

	// Model returns the model used when a request leaves Model empty.
	Model() string
}

// CompletionRequest contains all parameters for one completion.
type CompletionRequest struct {
	// Model overrides the provider's configured model when set.
	Model string `json:"model,omitempty"`

	// System is the system instruction.
	System string `json:"system,omitempty"`

	// Messages is the conversation in chronological order. System messages
	// here are folded into the system instruction by providers that keep
	// it separate.
	Messages []Message `json:"messages"`

	// Temperature is the sampling temperature. Nil keeps the provider default.
	Temperature *float64 `json:"temperature,omitempty"`

	// MaxTokens limits the response length. Zero keeps the provider default.
	MaxTokens int `json:"max_tokens,omitempty"`
}

// Message is a single prompt message.
type Message struct {
	Role    models.Role `json:"role"`
	Content string      `json:"content"`
}

// MessagesFromTurns converts conversation turns into prompt messages.
func MessagesFromTurns(turns []models.Turn) []Message {
	out := make([]Message, 0, len(turns))
	for _, t := range turns {
		out = append(out, Message{Role: t.Role, Content: t.Content})
	}
	return out
}

// CompletionChunk is one piece of a streaming response.
type CompletionChunk struct {
	Text  string `json:"text,omitempty"`
	Done  bool   `json:"done,omitempty"`
	Error error  `json:"-"`
}

// ErrEmptyStream is returned by Collect when the provider closed the stream
// without sending anything.
var ErrEmptyStream = errors.New("llm: empty response stream")

// Collect drains a completion stream and returns the concatenated text.
// The first error chunk aborts collection.
func Collect(ctx context.Context, p Provider, req *CompletionRequest) (string, error) {
	chunks, err := p.Complete(ctx, req)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	received := false
	for {
		select {
		case <-ctx.Done():
			go drain(chunks)
			return "", ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				if !received {
					return "", ErrEmptyStream
				}
				return b.String(), nil
			}
			if chunk == nil {
				continue
			}
			received = true
			if chunk.Error != nil {
				go drain(chunks)
				return "", chunk.Error
			}
			b.WriteString(chunk.Text)
		}
	}
}

func drain(chunks <-chan *CompletionChunk) {
	for range chunks {
	}
}
