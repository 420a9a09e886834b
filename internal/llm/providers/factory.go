package providers

import (
	"context"
	"fmt"

	"github.com/haasonsaas/docqa/internal/awsconfig"
	"github.com/haasonsaas/docqa/internal/config"
	"github.com/haasonsaas/docqa/internal/llm"
)

// New builds the configured chat provider together with the token counter
// used for history budgets. Gemini counts with its own API; the others
// use llm.EstimateCounter. AWS settings are only read for bedrock.
func New(ctx context.Context, cfg config.LLMConfig, awsSettings config.AWSConfig) (llm.Provider, llm.TokenCounter, error) {
	switch cfg.Provider {
	case "google", "gemini":
		p, err := NewGoogleProvider(GoogleConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.Model,
		})
		if err != nil {
			return nil, nil, err
		}
		return p, p, nil
	case "openai":
		p, err := NewOpenAIProvider(OpenAIConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.Model,
		})
		if err != nil {
			return nil, nil, err
		}
		return p, llm.EstimateCounter{}, nil
	case "anthropic":
		p, err := NewAnthropicProvider(AnthropicConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.Model,
			MaxTokens:    cfg.MaxTokens,
		})
		if err != nil {
			return nil, nil, err
		}
		return p, llm.EstimateCounter{}, nil
	case "bedrock":
		awsCfg, err := awsconfig.Load(ctx, awsSettings)
		if err != nil {
			return nil, nil, err
		}
		p, err := NewBedrockProvider(BedrockConfig{
			AWS:          awsCfg,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.Model,
			MaxTokens:    cfg.MaxTokens,
		})
		if err != nil {
			return nil, nil, err
		}
		return p, llm.EstimateCounter{}, nil
	default:
		return nil, nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
