// Package bedrock embeds text with embedding models hosted on AWS Bedrock.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/haasonsaas/docqa/internal/llm/providers"
)

// invoker is the subset of the Bedrock runtime client used here.
type invoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// Provider embeds with Amazon Titan or Cohere models. Titan takes one text
// per call; Cohere takes batches and distinguishes documents from queries.
type Provider struct {
	client invoker
	model  string
}

type Config struct {
	AWS     aws.Config
	BaseURL string
	// Model defaults to "amazon.titan-embed-text-v2:0".
	Model string
}

func New(cfg Config) (*Provider, error) {
	if cfg.AWS.Region == "" {
		return nil, errors.New("bedrock: AWS region is required")
	}
	if cfg.Model == "" {
		cfg.Model = "amazon.titan-embed-text-v2:0"
	}
	client := bedrockruntime.NewFromConfig(cfg.AWS, func(o *bedrockruntime.Options) {
		if cfg.BaseURL != "" {
			o.BaseEndpoint = aws.String(cfg.BaseURL)
		}
	})
	return &Provider{client: client, model: cfg.Model}, nil
}

func (p *Provider) Name() string  { return "bedrock" }
func (p *Provider) Model() string { return p.model }

func (p *Provider) cohere() bool {
	return strings.HasPrefix(p.model, "cohere.")
}

func (p *Provider) MaxBatchSize() int {
	if p.cohere() {
		return 96
	}
	return 16
}

func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if p.cohere() {
		return p.embedCohere(ctx, texts, "search_document")
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vector, err := p.embedTitan(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vector
	}
	return out, nil
}

func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	if p.cohere() {
		vectors, err := p.embedCohere(ctx, []string{text}, "search_query")
		if err != nil {
			return nil, err
		}
		return vectors[0], nil
	}
	return p.embedTitan(ctx, text)
}

type titanRequest struct {
	InputText string `json:"inputText"`
	Normalize bool   `json:"normalize"`
}

type titanResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (p *Provider) embedTitan(ctx context.Context, text string) ([]float32, error) {
	var resp titanResponse
	if err := p.invoke(ctx, titanRequest{InputText: text, Normalize: true}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("bedrock: empty embedding from %s", p.model)
	}
	return resp.Embedding, nil
}

type cohereRequest struct {
	Texts     []string `json:"texts"`
	InputType string   `json:"input_type"`
}

type cohereResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (p *Provider) embedCohere(ctx context.Context, texts []string, inputType string) ([][]float32, error) {
	var resp cohereResponse
	if err := p.invoke(ctx, cohereRequest{Texts: texts, InputType: inputType}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("bedrock: got %d embeddings for %d inputs", len(resp.Embeddings), len(texts))
	}
	return resp.Embeddings, nil
}

func (p *Provider) invoke(ctx context.Context, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("bedrock: encode request: %w", err)
	}
	resp, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(p.model),
		Body:        payload,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return providers.WrapAWSError(err, "bedrock", p.model)
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("bedrock: decode response: %w", err)
	}
	return nil
}
