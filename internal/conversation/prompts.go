package conversation

import (
	"strings"

	"github.com/haasonsaas/docqa/internal/config"
	"github.com/haasonsaas/docqa/pkg/models"
)

// DefaultContextualizePrompt instructs the model to rewrite a follow-up
// question so it stands on its own.
const DefaultContextualizePrompt = "Given a chat history and the latest user question " +
	"which might reference context in the chat history, formulate a standalone question " +
	"which can be understood without the chat history. Do NOT answer the question, " +
	"just reformulate it if needed and otherwise return it as is."

// DefaultHedge is the phrase the assistant uses when the document does not
// answer a question.
const DefaultHedge = "This information is not available in Semanto's profile context. " +
	"However, based on general knowledge, here's what I can tell you..."

// DefaultSystemTemplate is the persona prompt. {hedge} and {context} are
// substituted per request.
const DefaultSystemTemplate = `You are a professional AI assistant for Semanto Ghosh. Your name is "SERA" (Semanto's Executive Response & AI Assistant) you specialize in answering questions based on his resume, research, work experience, and professional background.

Your responsibilities include:
- Answering user questions using the context provided from Semanto's profile
- If the answer is not present in the context, clearly say:
  "{hedge}"
- Never make up answers about Semanto beyond what the context provides
- Be polite, concise, and professional in tone

Context:
{context}`

// contextSeparator joins retrieved chunks inside the {context} slot.
const contextSeparator = "\n\n"

// Prompts holds the prompt wording used by the pipeline.
type Prompts struct {
	Contextualize  string
	SystemTemplate string
	Hedge          string
}

// DefaultPrompts returns the built-in prompts.
func DefaultPrompts() Prompts {
	return Prompts{
		Contextualize:  DefaultContextualizePrompt,
		SystemTemplate: DefaultSystemTemplate,
		Hedge:          DefaultHedge,
	}
}

// PromptsFromConfig applies non-empty overrides to the defaults.
func PromptsFromConfig(cfg config.PromptsConfig) Prompts {
	p := DefaultPrompts()
	if strings.TrimSpace(cfg.Contextualize) != "" {
		p.Contextualize = cfg.Contextualize
	}
	if strings.TrimSpace(cfg.SystemTemplate) != "" {
		p.SystemTemplate = cfg.SystemTemplate
	}
	if strings.TrimSpace(cfg.Hedge) != "" {
		p.Hedge = cfg.Hedge
	}
	return p
}

// RenderSystem fills the system template with the hedge phrase and the
// retrieved chunks. Substitution is single-pass, so braces inside the
// document text are never expanded.
func (p Prompts) RenderSystem(chunks []models.ScoredChunk) string {
	parts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		parts = append(parts, c.Content)
	}
	r := strings.NewReplacer(
		"{hedge}", p.Hedge,
		"{context}", strings.Join(parts, contextSeparator),
	)
	return r.Replace(p.SystemTemplate)
}
