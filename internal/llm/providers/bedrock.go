package providers

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"

	"github.com/haasonsaas/docqa/internal/llm"
	"github.com/haasonsaas/docqa/pkg/models"
)

// converser is the subset of the Bedrock runtime client used here.
type converser interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockProvider implements llm.Provider for models hosted on AWS Bedrock
// through the Converse API. The whole reply arrives as one chunk.
type BedrockProvider struct {
	client       converser
	defaultModel string
	maxTokens    int
}

// BedrockConfig holds configuration for NewBedrockProvider.
type BedrockConfig struct {
	// AWS is the SDK configuration, usually from awsconfig.Load.
	AWS aws.Config

	// BaseURL overrides the Bedrock runtime endpoint.
	BaseURL string

	// DefaultModel is used when a request leaves Model empty.
	// Default: "anthropic.claude-3-5-haiku-20241022-v1:0"
	DefaultModel string

	// MaxTokens is sent when a request leaves MaxTokens unset.
	MaxTokens int
}

// NewBedrockProvider creates a Bedrock provider.
func NewBedrockProvider(cfg BedrockConfig) (*BedrockProvider, error) {
	if cfg.AWS.Region == "" {
		return nil, errors.New("bedrock: AWS region is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "anthropic.claude-3-5-haiku-20241022-v1:0"
	}
	client := bedrockruntime.NewFromConfig(cfg.AWS, func(o *bedrockruntime.Options) {
		if cfg.BaseURL != "" {
			o.BaseEndpoint = aws.String(cfg.BaseURL)
		}
	})
	return &BedrockProvider{
		client:       client,
		defaultModel: cfg.DefaultModel,
		maxTokens:    cfg.MaxTokens,
	}, nil
}

func (p *BedrockProvider) Name() string {
	return "bedrock"
}

func (p *BedrockProvider) Model() string {
	return p.defaultModel
}

// Complete sends a Converse request.
func (p *BedrockProvider) Complete(ctx context.Context, req *llm.CompletionRequest) (<-chan *llm.CompletionChunk, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	system, messages := convertBedrockMessages(req.System, req.Messages)
	if len(messages) == 0 {
		return nil, p.wrapError(errors.New("no messages to send"), model)
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(model),
		Messages: messages,
	}
	if system != "" {
		input.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: system},
		}
	}

	inference := &types.InferenceConfiguration{}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}
	if maxTokens > 0 {
		// #nosec G115 -- bounded by min
		inference.MaxTokens = aws.Int32(int32(min(maxTokens, math.MaxInt32)))
	}
	if req.Temperature != nil {
		inference.Temperature = aws.Float32(float32(*req.Temperature))
	}
	if inference.MaxTokens != nil || inference.Temperature != nil {
		input.InferenceConfig = inference
	}

	out, err := p.client.Converse(ctx, input)
	if err != nil {
		return nil, p.wrapError(err, model)
	}

	switch out.StopReason {
	case types.StopReasonContentFiltered, types.StopReasonGuardrailIntervened:
		return nil, &llm.ProviderError{
			Provider: "bedrock",
			Model:    model,
			Reason:   llm.FailureContentFilter,
			Message:  fmt.Sprintf("response stopped: %s", out.StopReason),
		}
	}

	var b strings.Builder
	if msg, ok := out.Output.(*types.ConverseOutputMemberMessage); ok {
		for _, block := range msg.Value.Content {
			if text, ok := block.(*types.ContentBlockMemberText); ok {
				b.WriteString(text.Value)
			}
		}
	}

	chunks := make(chan *llm.CompletionChunk, 2)
	if b.Len() > 0 {
		chunks <- &llm.CompletionChunk{Text: b.String()}
	}
	chunks <- &llm.CompletionChunk{Done: true}
	close(chunks)
	return chunks, nil
}

// convertBedrockMessages folds system messages into the system prompt and
// merges consecutive same-role messages; Converse requires alternating
// roles.
func convertBedrockMessages(system string, messages []llm.Message) (string, []types.Message) {
	systemParts := []string{}
	if system != "" {
		systemParts = append(systemParts, system)
	}

	var result []types.Message
	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			if msg.Content != "" {
				systemParts = append(systemParts, msg.Content)
			}
			continue
		}
		role := types.ConversationRoleUser
		if msg.Role == models.RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		block := &types.ContentBlockMemberText{Value: msg.Content}
		if n := len(result); n > 0 && result[n-1].Role == role {
			result[n-1].Content = append(result[n-1].Content, block)
			continue
		}
		result = append(result, types.Message{
			Role:    role,
			Content: []types.ContentBlock{block},
		})
	}
	return strings.Join(systemParts, "\n\n"), result
}

// bedrockErrorReasons maps Bedrock exception names to failure reasons.
var bedrockErrorReasons = map[string]llm.FailureReason{
	"ThrottlingException":           llm.FailureRateLimit,
	"ServiceQuotaExceededException": llm.FailureRateLimit,
	"AccessDeniedException":         llm.FailureAuth,
	"UnrecognizedClientException":   llm.FailureAuth,
	"ValidationException":           llm.FailureInvalidRequest,
	"ResourceNotFoundException":     llm.FailureModelUnavailable,
	"ModelNotReadyException":        llm.FailureModelUnavailable,
	"ModelTimeoutException":         llm.FailureTimeout,
	"InternalServerException":       llm.FailureServerError,
	"ServiceUnavailableException":   llm.FailureServerError,
	"ModelErrorException":           llm.FailureServerError,
}

func (p *BedrockProvider) wrapError(err error, model string) error {
	return WrapAWSError(err, "bedrock", model)
}

// WrapAWSError converts an AWS SDK error into an llm.ProviderError,
// keeping the HTTP status, request ID and exception name.
func WrapAWSError(err error, provider, model string) error {
	if err == nil {
		return nil
	}
	if _, ok := llm.GetProviderError(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	providerErr := llm.NewProviderError(provider, model, err)

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		providerErr = providerErr.WithStatus(respErr.HTTPStatusCode()).WithRequestID(respErr.ServiceRequestID())
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		providerErr.Code = apiErr.ErrorCode()
		if msg := apiErr.ErrorMessage(); msg != "" {
			providerErr.Message = msg
		}
		if reason, ok := bedrockErrorReasons[apiErr.ErrorCode()]; ok {
			providerErr.Reason = reason
		}
	}
	return providerErr
}
