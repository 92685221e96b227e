package consult

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/aimediator/mediator/internal/telemetry"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = "gpt-4o-mini"

// OpenAIProvider completes requests with the OpenAI chat completions API.
type OpenAIProvider struct {
	client     openai.Client
	model      string
	maxTokens  int64
	maxRetries uint64
	backoff    func() backoff.BackOff
}

// NewOpenAIProvider creates a provider. Env var OPENAI_API_KEY takes
// precedence over an explicit apiKey.
func NewOpenAIProvider(apiKey, model string, maxTokens int64, maxRetries int, opts ...option.RequestOption) (*OpenAIProvider, error) {
	apiKey = firstNonEmpty(envLookup("OPENAI_API_KEY"), apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: set OPENAI_API_KEY environment variable or provide via config", ErrAPIKeyRequired)
	}
	if model == "" {
		model = DefaultOpenAIModel
	}
	aiMetricsOnce.Do(initAIMetrics)
	return &OpenAIProvider{
		client:     openai.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}, opts...)...),
		model:      model,
		maxTokens:  maxTokens,
		maxRetries: uint64(max(maxRetries, 0)),
		backoff:    newProviderBackoff,
	}, nil
}

func (p *OpenAIProvider) Name() string { return ProviderOpenAI }

func (p *OpenAIProvider) Complete(ctx context.Context, messages []Message) (string, error) {
	tracer := telemetry.Tracer("github.com/aimediator/mediator/ai")
	ctx, span := tracer.Start(ctx, "openai.chat.completions.new")
	defer span.End()
	span.SetAttributes(attribute.String("mediator.ai.model", p.model))

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(p.model),
	}
	if p.maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(p.maxTokens)
	}
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			params.Messages = append(params.Messages, openai.SystemMessage(m.Content))
		case RoleAssistant:
			params.Messages = append(params.Messages, openai.AssistantMessage(m.Content))
		default:
			params.Messages = append(params.Messages, openai.UserMessage(m.Content))
		}
	}

	var completion *openai.ChatCompletion
	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		t0 := time.Now()
		resp, err := p.client.Chat.Completions.New(ctx, params)
		if err != nil {
			if isRetryableOpenAI(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		recordUsage(ctx, p.model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, time.Since(t0))
		completion = resp
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(p.backoff(), p.maxRetries), ctx))
	span.SetAttributes(attribute.Int("mediator.ai.attempts", attempts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	if len(completion.Choices) == 0 || completion.Choices[0].Message.Content == "" {
		return "", ErrEmptyAnswer
	}
	return completion.Choices[0].Message.Content, nil
}

func isRetryableOpenAI(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return isRetryableNet(err)
}
