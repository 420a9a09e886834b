package conversation

import (
	"context"
	"strings"

	"github.com/haasonsaas/docqa/internal/llm"
	"github.com/haasonsaas/docqa/internal/observability"
	"github.com/haasonsaas/docqa/pkg/models"
)

// Completer runs one completion to text. *llm.Client implements it.
type Completer interface {
	Generate(ctx context.Context, purpose string, req *llm.CompletionRequest) (string, error)
}

// Purposes label model calls in metrics and traces.
const (
	PurposeReformulate = "reformulate"
	PurposeGenerate    = "generate"
)

// Reformulator rewrites a follow-up question into a standalone one.
type Reformulator struct {
	model       Completer
	instruction string
	temperature *float64
	logger      *observability.Logger
}

// NewReformulator creates a Reformulator. A nil temperature keeps the
// provider default.
func NewReformulator(model Completer, instruction string, temperature *float64, logger *observability.Logger) *Reformulator {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Reformulator{model: model, instruction: instruction, temperature: temperature, logger: logger}
}

// Reformulate returns question unchanged without calling the model when
// history holds no conversation turns.
func (r *Reformulator) Reformulate(ctx context.Context, history []models.Turn, question string) (string, error) {
	if !hasConversation(history) {
		return question, nil
	}

	messages := llm.MessagesFromTurns(history)
	messages = append(messages, llm.Message{Role: models.RoleHuman, Content: question})

	out, err := r.model.Generate(ctx, PurposeReformulate, &llm.CompletionRequest{
		System:      r.instruction,
		Messages:    messages,
		Temperature: r.temperature,
	})
	if err != nil {
		return "", newError(KindGenerationFailure, "reformulate", err)
	}

	out = strings.TrimSpace(out)
	if out == "" {
		r.logger.Warn(ctx, "empty reformulation, using the original question")
		return question, nil
	}
	return out, nil
}

func hasConversation(history []models.Turn) bool {
	for _, t := range history {
		if t.Role != models.RoleSystem {
			return true
		}
	}
	return false
}
