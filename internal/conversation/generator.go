package conversation

import (
	"context"
	"strings"

	"github.com/haasonsaas/docqa/internal/llm"
	"github.com/haasonsaas/docqa/internal/observability"
	"github.com/haasonsaas/docqa/pkg/models"
)

// DefaultFallbackAnswer replaces an empty model reply.
const DefaultFallbackAnswer = "Sorry, I couldn't generate an answer."

// Generator answers a question from retrieved chunks and prior turns.
type Generator struct {
	model       Completer
	prompts     Prompts
	temperature *float64
	maxTokens   int
	fallback    string
	logger      *observability.Logger
}

// GeneratorConfig configures a Generator.
type GeneratorConfig struct {
	Prompts     Prompts
	Temperature *float64
	MaxTokens   int
	Fallback    string
	Logger      *observability.Logger
}

// NewGenerator creates a Generator.
func NewGenerator(model Completer, cfg GeneratorConfig) *Generator {
	if cfg.Fallback == "" {
		cfg.Fallback = DefaultFallbackAnswer
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger()
	}
	if cfg.Prompts.SystemTemplate == "" {
		cfg.Prompts = DefaultPrompts()
	}
	return &Generator{
		model:       model,
		prompts:     cfg.Prompts,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		fallback:    cfg.Fallback,
		logger:      cfg.Logger,
	}
}

// Request builds the completion request for a question. The system
// instruction carries the persona, the hedge rule, and the stuffed context.
func (g *Generator) Request(chunks []models.ScoredChunk, history []models.Turn, question string) *llm.CompletionRequest {
	messages := llm.MessagesFromTurns(history)
	messages = append(messages, llm.Message{Role: models.RoleHuman, Content: question})

	return &llm.CompletionRequest{
		System:      g.prompts.RenderSystem(chunks),
		Messages:    messages,
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
	}
}

// Generate returns the model's answer, or the fallback answer when the
// model replies with nothing.
func (g *Generator) Generate(ctx context.Context, chunks []models.ScoredChunk, history []models.Turn, question string) (string, error) {
	answer, err := g.model.Generate(ctx, PurposeGenerate, g.Request(chunks, history, question))
	if err != nil {
		return "", newError(KindGenerationFailure, "generate", err)
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		g.logger.Warn(ctx, "model returned an empty answer")
		return g.fallback, nil
	}
	return answer, nil
}
