package consult

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/aimediator/mediator/internal/telemetry"
)

// DefaultAnthropicModel is used when no model is configured.
const DefaultAnthropicModel = "claude-haiku-4-5"

// AnthropicProvider completes requests with the Anthropic Messages API.
// System messages become system blocks; user and assistant messages keep
// their order.
type AnthropicProvider struct {
	client     anthropic.Client
	model      anthropic.Model
	maxTokens  int64
	maxRetries uint64
	backoff    func() backoff.BackOff
}

// NewAnthropicProvider creates a provider. Env var ANTHROPIC_API_KEY takes
// precedence over an explicit apiKey.
func NewAnthropicProvider(apiKey, model string, maxTokens int64, maxRetries int, opts ...option.RequestOption) (*AnthropicProvider, error) {
	apiKey = firstNonEmpty(envLookup("ANTHROPIC_API_KEY"), apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: set ANTHROPIC_API_KEY environment variable or provide via config", ErrAPIKeyRequired)
	}
	if model == "" {
		model = DefaultAnthropicModel
	}
	aiMetricsOnce.Do(initAIMetrics)
	return &AnthropicProvider{
		client:     anthropic.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}, opts...)...),
		model:      anthropic.Model(model),
		maxTokens:  maxTokens,
		maxRetries: uint64(max(maxRetries, 0)),
		backoff:    newProviderBackoff,
	}, nil
}

func (p *AnthropicProvider) Name() string { return ProviderAnthropic }

func (p *AnthropicProvider) Complete(ctx context.Context, messages []Message) (string, error) {
	tracer := telemetry.Tracer("github.com/aimediator/mediator/ai")
	ctx, span := tracer.Start(ctx, "anthropic.messages.new")
	defer span.End()
	span.SetAttributes(attribute.String("mediator.ai.model", string(p.model)))

	params := anthropic.MessageNewParams{
		Model:     p.model,
		MaxTokens: p.maxTokens,
	}
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			params.System = append(params.System, anthropic.TextBlockParam{Text: m.Content})
		case RoleAssistant:
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	var message *anthropic.Message
	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		t0 := time.Now()
		resp, err := p.client.Messages.New(ctx, params)
		if err != nil {
			if isRetryableAnthropic(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		recordUsage(ctx, string(p.model), resp.Usage.InputTokens, resp.Usage.OutputTokens, time.Since(t0))
		message = resp
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(p.backoff(), p.maxRetries), ctx))
	span.SetAttributes(attribute.Int("mediator.ai.attempts", attempts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	var text strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", ErrEmptyAnswer
	}
	return text.String(), nil
}

func isRetryableAnthropic(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return isRetryableNet(err)
}

func isRetryableNet(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// aiMetrics holds lazily-initialized OTel instruments shared by the providers.
var aiMetrics struct {
	inputTokens  metric.Int64Counter
	outputTokens metric.Int64Counter
	duration     metric.Float64Histogram
}

var aiMetricsOnce sync.Once

func initAIMetrics() {
	m := telemetry.Meter("github.com/aimediator/mediator/ai")
	aiMetrics.inputTokens, _ = m.Int64Counter("mediator.ai.input_tokens",
		metric.WithDescription("Provider input tokens consumed"),
		metric.WithUnit("{token}"),
	)
	aiMetrics.outputTokens, _ = m.Int64Counter("mediator.ai.output_tokens",
		metric.WithDescription("Provider output tokens generated"),
		metric.WithUnit("{token}"),
	)
	aiMetrics.duration, _ = m.Float64Histogram("mediator.ai.request.duration",
		metric.WithDescription("Provider request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
}

func recordUsage(ctx context.Context, model string, in, out int64, d time.Duration) {
	if aiMetrics.inputTokens == nil {
		return
	}
	modelAttr := metric.WithAttributes(attribute.String("mediator.ai.model", model))
	aiMetrics.inputTokens.Add(ctx, in, modelAttr)
	aiMetrics.outputTokens.Add(ctx, out, modelAttr)
	aiMetrics.duration.Record(ctx, float64(d.Milliseconds()), modelAttr)
}
