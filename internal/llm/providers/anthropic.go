package providers

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/haasonsaas/docqa/internal/llm"
	"github.com/haasonsaas/docqa/pkg/models"
)

// AnthropicProvider implements llm.Provider for the Anthropic Messages API.
// Anthropic exposes no public tokenizer for Claude 3+, so history budgets
// fall back to llm.EstimateCounter when this provider is selected.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
	maxTokens    int
}

// AnthropicConfig holds configuration for NewAnthropicProvider.
type AnthropicConfig struct {
	APIKey  string
	BaseURL string

	// DefaultModel is used when a request leaves Model empty.
	// Default: "claude-3-5-haiku-latest"
	DefaultModel string

	// MaxTokens is sent when a request leaves MaxTokens unset; the API
	// requires one. Default: 1024
	MaxTokens int
}

// NewAnthropicProvider creates an Anthropic provider. SDK-level retries are
// disabled because llm.Client owns the retry policy.
func NewAnthropicProvider(config AnthropicConfig) (*AnthropicProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "claude-3-5-haiku-latest"
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 1024
	}

	options := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithMaxRetries(0),
	}
	if config.BaseURL != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(options...),
		defaultModel: config.DefaultModel,
		maxTokens:    config.MaxTokens,
	}, nil
}

func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

func (p *AnthropicProvider) Model() string {
	return p.defaultModel
}

// Complete streams a Messages API response.
func (p *AnthropicProvider) Complete(ctx context.Context, req *llm.CompletionRequest) (<-chan *llm.CompletionChunk, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	system, messages := convertAnthropicMessages(req.System, req.Messages)
	if len(messages) == 0 {
		return nil, p.wrapError(errors.New("no messages to send"), model)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}

	stream := p.client.Messages.NewStreaming(ctx, params)

	chunks := make(chan *llm.CompletionChunk)
	go p.processStream(ctx, stream, chunks, model)
	return chunks, nil
}

func (p *AnthropicProvider) processStream(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- *llm.CompletionChunk, model string) {
	defer close(chunks)
	defer stream.Close()

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			if delta.Type == "text_delta" && delta.Text != "" {
				if !send(ctx, chunks, &llm.CompletionChunk{Text: delta.Text}) {
					return
				}
			}
		case "message_stop":
			send(ctx, chunks, &llm.CompletionChunk{Done: true})
			return
		}
	}

	if err := stream.Err(); err != nil {
		send(ctx, chunks, &llm.CompletionChunk{Error: p.wrapError(err, model)})
		return
	}
	send(ctx, chunks, &llm.CompletionChunk{Done: true})
}

// convertAnthropicMessages folds system messages into the system prompt and
// merges consecutive same-role messages, which the API rejects.
func convertAnthropicMessages(system string, messages []llm.Message) (string, []anthropic.MessageParam) {
	systemParts := []string{}
	if system != "" {
		systemParts = append(systemParts, system)
	}

	var result []anthropic.MessageParam
	var lastRole models.Role
	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			if msg.Content != "" {
				systemParts = append(systemParts, msg.Content)
			}
			continue
		}
		role := models.RoleHuman
		if msg.Role == models.RoleAssistant {
			role = models.RoleAssistant
		}
		block := anthropic.NewTextBlock(msg.Content)
		if len(result) > 0 && role == lastRole {
			last := &result[len(result)-1]
			last.Content = append(last.Content, block)
			continue
		}
		if role == models.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(block))
		} else {
			result = append(result, anthropic.NewUserMessage(block))
		}
		lastRole = role
	}
	return strings.Join(systemParts, "\n\n"), result
}

type anthropicErrorPayload struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *AnthropicProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if _, ok := llm.GetProviderError(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		providerErr := &llm.ProviderError{
			Provider: "anthropic",
			Model:    model,
			Cause:    err,
			Reason:   llm.FailureUnknown,
			Message:  "anthropic request failed",
		}
		providerErr = providerErr.WithStatus(apiErr.StatusCode).WithRequestID(apiErr.RequestID)

		var payload anthropicErrorPayload
		if raw := apiErr.RawJSON(); raw != "" && json.Unmarshal([]byte(raw), &payload) == nil {
			if payload.Error.Message != "" {
				providerErr = providerErr.WithMessage(payload.Error.Message)
			}
			if payload.Error.Type != "" {
				providerErr = providerErr.WithCode(payload.Error.Type)
			}
		}
		return providerErr
	}

	return llm.NewProviderError("anthropic", model, err)
}
