package consult

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cenkalti/backoff/v4"
	openaiopt "github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sampleRequest = []Message{
	{Role: RoleSystem, Content: "frame"},
	{Role: RoleUser, Content: "my side"},
	{Role: RoleSystem, Content: "answer kindly"},
}

func TestNewProvider(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	p, err := NewProvider(Options{DryRun: true, Provider: ProviderAnthropic})
	require.NoError(t, err)
	assert.Equal(t, ProviderDryRun, p.Name())

	_, err = NewProvider(Options{Provider: ProviderAnthropic})
	assert.ErrorIs(t, err, ErrAPIKeyRequired)

	_, err = NewProvider(Options{Provider: "bard"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown consult provider")

	p, err = NewProvider(Options{Provider: ProviderOpenAI, APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, p.Name())
}

func TestDryRunProvider(t *testing.T) {
	out, err := DryRunProvider{}.Complete(context.Background(), sampleRequest)
	require.NoError(t, err)
	assert.Contains(t, out, "3 messages")
}

func TestAnthropicProvider(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	var calls atomic.Int32
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = io.WriteString(w, `{"type":"error","error":{"type":"overloaded_error","message":"busy"}}`)
			return
		}
		assert.True(t, strings.HasSuffix(r.URL.Path, "/messages"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"msg_1","type":"message","role":"assistant","model":"m",
			"content":[{"type":"text","text":"be kind"}],"stop_reason":"end_turn",
			"usage":{"input_tokens":3,"output_tokens":2}}`)
	}))
	defer srv.Close()

	p, err := NewAnthropicProvider("key", "", 256, 2, anthropicopt.WithBaseURL(srv.URL))
	require.NoError(t, err)
	p.backoff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }

	out, err := p.Complete(context.Background(), sampleRequest)
	require.NoError(t, err)
	assert.Equal(t, "be kind", out)
	assert.Equal(t, int32(2), calls.Load())

	system, ok := body["system"].([]any)
	require.True(t, ok, "system messages are sent as system blocks")
	assert.Len(t, system, 2)
	msgs, ok := body["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, msgs, 1)
}

func TestAnthropicProviderClientErrorIsPermanent(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"type":"error","error":{"type":"invalid_request_error","message":"bad"}}`)
	}))
	defer srv.Close()

	p, err := NewAnthropicProvider("key", "", 256, 3, anthropicopt.WithBaseURL(srv.URL))
	require.NoError(t, err)
	p.backoff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }

	_, err = p.Complete(context.Background(), sampleRequest)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestProviderDefaultSendsOnce(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"type":"error","error":{"type":"overloaded_error","message":"busy"}}`)
	}))
	defer srv.Close()

	p, err := NewProvider(Options{Provider: ProviderAnthropic, APIKey: "key"})
	require.NoError(t, err)
	ap, ok := p.(*AnthropicProvider)
	require.True(t, ok)
	ap.client = anthropic.NewClient(anthropicopt.WithAPIKey("key"), anthropicopt.WithMaxRetries(0), anthropicopt.WithBaseURL(srv.URL))
	ap.backoff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }

	_, err = ap.Complete(context.Background(), sampleRequest)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "no retry unless max retries is configured")
}

func TestOpenAIProvider(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"c1","object":"chat.completion","created":1,"model":"m",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"talk it out"}}],
			"usage":{"prompt_tokens":5,"completion_tokens":3,"total_tokens":8}}`)
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider("key", "", 256, 0, openaiopt.WithBaseURL(srv.URL))
	require.NoError(t, err)

	out, err := p.Complete(context.Background(), sampleRequest)
	require.NoError(t, err)
	assert.Equal(t, "talk it out", out)

	msgs, ok := body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 3, "message order is preserved")
	first := msgs[0].(map[string]any)
	assert.Equal(t, "system", first["role"])
	assert.Equal(t, DefaultOpenAIModel, body["model"])
}
