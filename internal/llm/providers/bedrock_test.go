package providers

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/haasonsaas/docqa/internal/config"
	"github.com/haasonsaas/docqa/internal/llm"
	"github.com/haasonsaas/docqa/pkg/models"
)

type fakeConverser struct {
	input *bedrockruntime.ConverseInput
	out   *bedrockruntime.ConverseOutput
	err   error
}

func (f *fakeConverser) Converse(_ context.Context, in *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	f.input = in
	return f.out, f.err
}

func textReply(parts ...string) *bedrockruntime.ConverseOutput {
	var content []types.ContentBlock
	for _, p := range parts {
		content = append(content, &types.ContentBlockMemberText{Value: p})
	}
	return &bedrockruntime.ConverseOutput{
		Output: &types.ConverseOutputMemberMessage{
			Value: types.Message{Role: types.ConversationRoleAssistant, Content: content},
		},
		StopReason: types.StopReasonEndTurn,
	}
}

func TestBedrockProviderComplete(t *testing.T) {
	fake := &fakeConverser{out: textReply("SERA: ", "Kolkata.")}
	p := &BedrockProvider{client: fake, defaultModel: "anthropic.test", maxTokens: 256}

	got, err := llm.Collect(context.Background(), p, &llm.CompletionRequest{
		System:      "You are SERA.",
		Temperature: temperature(0.3),
		Messages: []llm.Message{
			{Role: models.RoleHuman, Content: "Where does he live?"},
		},
	})
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if got != "SERA: Kolkata." {
		t.Errorf("answer = %q", got)
	}

	in := fake.input
	if aws.ToString(in.ModelId) != "anthropic.test" {
		t.Errorf("model = %q", aws.ToString(in.ModelId))
	}
	if len(in.System) != 1 {
		t.Fatalf("system blocks = %d", len(in.System))
	}
	if sys, ok := in.System[0].(*types.SystemContentBlockMemberText); !ok || sys.Value != "You are SERA." {
		t.Errorf("system = %#v", in.System[0])
	}
	if in.InferenceConfig == nil || aws.ToInt32(in.InferenceConfig.MaxTokens) != 256 {
		t.Errorf("inference config = %+v", in.InferenceConfig)
	}
	if temp := aws.ToFloat32(in.InferenceConfig.Temperature); temp < 0.29 || temp > 0.31 {
		t.Errorf("temperature = %v", temp)
	}
}

func TestBedrockProviderContentFiltered(t *testing.T) {
	out := textReply("")
	out.StopReason = types.StopReasonGuardrailIntervened
	p := &BedrockProvider{client: &fakeConverser{out: out}, defaultModel: "m"}

	_, err := p.Complete(context.Background(), &llm.CompletionRequest{
		Messages: []llm.Message{{Role: models.RoleHuman, Content: "hi"}},
	})
	pe, ok := llm.GetProviderError(err)
	if !ok || pe.Reason != llm.FailureContentFilter {
		t.Fatalf("error = %v, want content filter", err)
	}
}

func TestConvertBedrockMessages(t *testing.T) {
	system, msgs := convertBedrockMessages("base", []llm.Message{
		{Role: models.RoleSystem, Content: "earlier summary"},
		{Role: models.RoleHuman, Content: "a"},
		{Role: models.RoleHuman, Content: "b"},
		{Role: models.RoleAssistant, Content: "c"},
	})
	if system != "base\n\nearlier summary" {
		t.Errorf("system = %q", system)
	}
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	if msgs[0].Role != types.ConversationRoleUser || len(msgs[0].Content) != 2 {
		t.Errorf("first message = %+v", msgs[0])
	}
	if msgs[1].Role != types.ConversationRoleAssistant {
		t.Errorf("second role = %s", msgs[1].Role)
	}
}

func TestWrapAWSError(t *testing.T) {
	apiErr := &smithy.GenericAPIError{Code: "ThrottlingException", Message: "slow down"}
	respErr := &awshttp.ResponseError{
		ResponseError: &smithyhttp.ResponseError{
			Response: &smithyhttp.Response{Response: &http.Response{StatusCode: http.StatusTooManyRequests}},
			Err:      apiErr,
		},
		RequestID: "req-1",
	}
	opErr := &smithy.OperationError{ServiceID: "Bedrock Runtime", OperationName: "Converse", Err: respErr}

	err := WrapAWSError(opErr, "bedrock", "m")
	pe, ok := llm.GetProviderError(err)
	if !ok {
		t.Fatalf("error = %T", err)
	}
	if pe.Reason != llm.FailureRateLimit || pe.Status != 429 || pe.Code != "ThrottlingException" || pe.RequestID != "req-1" {
		t.Errorf("provider error = %+v", pe)
	}
	if pe.Message != "slow down" {
		t.Errorf("message = %q", pe.Message)
	}
	if !llm.IsRetryable(err) {
		t.Error("throttling should be retryable")
	}

	denied := WrapAWSError(&smithy.GenericAPIError{Code: "AccessDeniedException"}, "bedrock", "m")
	if llm.IsRetryable(denied) {
		t.Error("access denied should not be retryable")
	}
	if err := WrapAWSError(context.Canceled, "bedrock", "m"); !errors.Is(err, context.Canceled) {
		t.Errorf("canceled = %v", err)
	}
}

func TestNewBedrockFromConfig(t *testing.T) {
	p, counter, err := New(context.Background(),
		config.LLMConfig{Provider: "bedrock", Model: "meta.llama3-8b-instruct-v1:0"},
		config.AWSConfig{Region: "eu-west-1", AccessKeyID: "AKID", SecretAccessKey: "secret"},
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if p.Name() != "bedrock" || p.Model() != "meta.llama3-8b-instruct-v1:0" {
		t.Errorf("provider = %s/%s", p.Name(), p.Model())
	}
	if _, ok := counter.(llm.EstimateCounter); !ok {
		t.Errorf("counter = %T", counter)
	}
}
