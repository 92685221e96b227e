package consult

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Provider names accepted by NewProvider.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderDryRun    = "dryrun"
)

// ErrAPIKeyRequired is returned when a provider needs an API key and none is set.
var ErrAPIKeyRequired = errors.New("API key required")

// Options selects and configures a provider.
type Options struct {
	Provider   string
	Model      string
	APIKey     string
	MaxTokens  int64
	// MaxRetries is how often a 429/5xx/timeout is re-sent. Zero sends
	// each request once.
	MaxRetries int
	// DryRun swaps any provider for a DryRunProvider.
	DryRun bool
}

// NewProvider builds the provider named in opts.
func NewProvider(opts Options) (Provider, error) {
	if opts.DryRun {
		return DryRunProvider{}, nil
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 1024
	}
	switch opts.Provider {
	case "", ProviderAnthropic:
		return NewAnthropicProvider(opts.APIKey, opts.Model, opts.MaxTokens, opts.MaxRetries)
	case ProviderOpenAI:
		return NewOpenAIProvider(opts.APIKey, opts.Model, opts.MaxTokens, opts.MaxRetries)
	case ProviderDryRun:
		return DryRunProvider{}, nil
	default:
		return nil, fmt.Errorf("unknown consult provider: %s (supported: %s, %s, %s)",
			opts.Provider, ProviderAnthropic, ProviderOpenAI, ProviderDryRun)
	}
}

// DryRunProvider answers without calling any external service.
type DryRunProvider struct{}

func (DryRunProvider) Name() string { return ProviderDryRun }

func (DryRunProvider) Complete(_ context.Context, messages []Message) (string, error) {
	chars := 0
	for _, m := range messages {
		chars += len(m.Content)
	}
	return fmt.Sprintf("(dry run) %d messages, %d characters were not sent to any provider.", len(messages), chars), nil
}

func newProviderBackoff() backoff.BackOff {
	// BackOff implementations are stateful; always return a fresh instance.
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxElapsedTime = 30 * time.Second
	return bo
}

var envLookup = os.Getenv

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
