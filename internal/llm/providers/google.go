// Package providers implements chat model backends for Google Gemini,
// OpenAI and Anthropic.
package providers

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math"
	"strings"

	"google.golang.org/genai"

	"github.com/haasonsaas/docqa/internal/llm"
	"github.com/haasonsaas/docqa/pkg/models"
)

// GoogleProvider implements llm.Provider and llm.TokenCounter for the
// Gemini API.
//
// Token counts come from the countTokens endpoint, so the history budget is
// measured with the same tokenizer the model uses.
type GoogleProvider struct {
	client       *genai.Client
	defaultModel string
}

// GoogleConfig holds configuration for NewGoogleProvider.
type GoogleConfig struct {
	// APIKey is the Google AI API key (required).
	APIKey string

	// BaseURL overrides the API endpoint.
	BaseURL string

	// DefaultModel is used when a request leaves Model empty.
	// Default: "gemini-2.5-flash-lite"
	DefaultModel string
}

// NewGoogleProvider creates a Gemini provider.
func NewGoogleProvider(config GoogleConfig) (*GoogleProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("google: API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "gemini-2.5-flash-lite"
	}

	clientConfig := &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if config.BaseURL != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: config.BaseURL}
	}
	client, err := genai.NewClient(context.Background(), clientConfig)
	if err != nil {
		return nil, fmt.Errorf("google: failed to create client: %w", err)
	}

	return &GoogleProvider{
		client:       client,
		defaultModel: config.DefaultModel,
	}, nil
}

func (p *GoogleProvider) Name() string {
	return "google"
}

func (p *GoogleProvider) Model() string {
	return p.defaultModel
}

// Complete streams a Gemini response. Errors are delivered as the final
// chunk and are classified as *llm.ProviderError.
func (p *GoogleProvider) Complete(ctx context.Context, req *llm.CompletionRequest) (<-chan *llm.CompletionChunk, error) {
	model := p.getModel(req.Model)
	system, contents := convertGoogleMessages(req.System, req.Messages)
	if len(contents) == 0 {
		return nil, p.wrapError(errors.New("no messages to send"), model)
	}
	config := buildGoogleConfig(system, req)

	chunks := make(chan *llm.CompletionChunk)
	go func() {
		defer close(chunks)

		stream := p.client.Models.GenerateContentStream(ctx, model, contents, config)
		if err := processGoogleStream(ctx, stream, chunks); err != nil {
			send(ctx, chunks, &llm.CompletionChunk{Error: p.wrapError(err, model)})
			return
		}
		send(ctx, chunks, &llm.CompletionChunk{Done: true})
	}()

	return chunks, nil
}

func processGoogleStream(ctx context.Context, stream iter.Seq2[*genai.GenerateContentResponse, error], chunks chan<- *llm.CompletionChunk) error {
	for resp, err := range stream {
		if err != nil {
			return err
		}
		if resp == nil {
			continue
		}
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return fmt.Errorf("prompt blocked: %s", resp.PromptFeedback.BlockReason)
		}
		for _, candidate := range resp.Candidates {
			if candidate == nil || candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part == nil || part.Text == "" || part.Thought {
					continue
				}
				if !send(ctx, chunks, &llm.CompletionChunk{Text: part.Text}) {
					return ctx.Err()
				}
			}
		}
	}
	return nil
}

// CountTokens asks the API how many tokens a turn occupies. System turns
// are counted as user content since Gemini has no system role in contents.
func (p *GoogleProvider) CountTokens(ctx context.Context, turn models.Turn) (int, error) {
	role := genai.RoleUser
	if turn.Role == models.RoleAssistant {
		role = genai.RoleModel
	}
	contents := []*genai.Content{genai.NewContentFromText(turn.Content, genai.Role(role))}

	resp, err := p.client.Models.CountTokens(ctx, p.defaultModel, contents, nil)
	if err != nil {
		return 0, p.wrapError(err, p.defaultModel)
	}
	return int(resp.TotalTokens), nil
}

// convertGoogleMessages splits system messages into the system instruction
// and maps the rest onto Gemini contents.
func convertGoogleMessages(system string, messages []llm.Message) (string, []*genai.Content) {
	systemParts := []string{}
	if system != "" {
		systemParts = append(systemParts, system)
	}

	contents := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case models.RoleSystem:
			if msg.Content != "" {
				systemParts = append(systemParts, msg.Content)
			}
			continue
		case models.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		}
	}
	return strings.Join(systemParts, "\n\n"), contents
}

func buildGoogleConfig(system string, req *llm.CompletionRequest) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if req.Temperature != nil {
		config.Temperature = genai.Ptr(float32(*req.Temperature))
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(min(req.MaxTokens, math.MaxInt32))
	}
	return config
}

func (p *GoogleProvider) getModel(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

func (p *GoogleProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if _, ok := llm.GetProviderError(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	providerErr := llm.NewProviderError("google", model, err)
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		providerErr = providerErr.WithStatus(apiErr.Code).WithCode(apiErr.Status)
		if apiErr.Message != "" {
			providerErr = providerErr.WithMessage(apiErr.Message)
		}
	}
	return providerErr
}

// send delivers chunk unless ctx is done first.
func send(ctx context.Context, chunks chan<- *llm.CompletionChunk, chunk *llm.CompletionChunk) bool {
	select {
	case chunks <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}
