// Package openai embeds text with the OpenAI embeddings API or any server
// that speaks it.
package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/docqa/internal/llm/providers"
)

const (
	defaultModel = "text-embedding-3-small"
	inputLimit   = 2048
)

// Provider has no query task type, so Embed and EmbedBatch produce
// comparable vectors from the same request shape.
type Provider struct {
	client *openai.Client
	model  string
}

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai embeddings: API key is required")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	p := &Provider{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
	}
	if p.model == "" {
		p.model = defaultModel
	}
	return p, nil
}

func (p *Provider) Name() string      { return "openai" }
func (p *Provider) Model() string     { return p.model }
func (p *Provider) MaxBatchSize() int { return inputLimit }

func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch places each returned vector by its response index; the API
// does not promise to answer in input order.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(p.model),
	})
	if err != nil {
		return nil, providers.WrapOpenAIError(err, p.Name(), p.model)
	}

	out := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(out) || out[item.Index] != nil {
			return nil, fmt.Errorf("openai embeddings: unexpected index %d in response", item.Index)
		}
		out[item.Index] = item.Embedding
	}
	for i, vec := range out {
		if vec == nil {
			return nil, fmt.Errorf("openai embeddings: no vector for input %d", i)
		}
	}
	return out, nil
}
