// Package llm wraps the hosted model APIs used for content extraction and
// comment generation behind one Client interface.
package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/feedpilot/feedpilot/internal/telemetry"
)

// Provider names a hosted model API.
type Provider string

const (
	// ProviderAnthropic is the Anthropic Messages API.
	ProviderAnthropic Provider = "anthropic"
	// ProviderOpenAI is the OpenAI chat completions API.
	ProviderOpenAI Provider = "openai"
	// ProviderGemini is the Google Gemini API.
	ProviderGemini Provider = "gemini"
)

const (
	defaultMaxTokens = 1024
	defaultRetries   = 2
)

// ErrEmptyResponse is returned when a model answers with no text.
var ErrEmptyResponse = errors.New("model returned an empty response")

// Request is one prompt with optional PNG images.
type Request struct {
	Operation string
	System    string
	Prompt    string
	Images    [][]byte
	MaxTokens int
}

// Response is a model reply.
type Response struct {
	Text           string
	ResponseTokens *int
}

// Client completes prompts.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
	Model() string
}

// ParseProvider normalizes a configured provider name.
func ParseProvider(value string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "anthropic", "claude":
		return ProviderAnthropic, nil
	case "openai", "gpt":
		return ProviderOpenAI, nil
	case "gemini", "google":
		return ProviderGemini, nil
	default:
		return "", fmt.Errorf("unsupported llm provider %q", value)
	}
}

// APIKeyEnv returns the environment variables checked for a provider key, in
// order.
func APIKeyEnv(provider Provider) []string {
	switch provider {
	case ProviderOpenAI:
		return []string{"FEEDPILOT_OPENAI_KEY", "OPENAI_API_KEY"}
	case ProviderGemini:
		return []string{"FEEDPILOT_GEMINI_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY"}
	default:
		return []string{"FEEDPILOT_ANTHROPIC_KEY", "ANTHROPIC_API_KEY"}
	}
}

// LookupAPIKey returns the first configured key for provider.
func LookupAPIKey(provider Provider) (string, error) {
	names := APIKeyEnv(provider)
	for _, name := range names {
		if value := strings.TrimSpace(os.Getenv(name)); value != "" {
			return value, nil
		}
	}
	return "", fmt.Errorf("%s environment variable required", strings.Join(names, " or "))
}

// New builds a client for provider using the API key from the environment.
func New(ctx context.Context, provider Provider, model string) (Client, error) {
	key, err := LookupAPIKey(provider)
	if err != nil {
		return nil, err
	}
	switch provider {
	case ProviderAnthropic:
		return NewClaude(key, model), nil
	case ProviderOpenAI:
		return NewOpenAI(key, model), nil
	case ProviderGemini:
		return NewGemini(ctx, key, model)
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", provider)
	}
}

type completeFunc func(ctx context.Context, req Request) (Response, error)

// traced runs one completion inside an llm.call span with bounded retries.
func traced(ctx context.Context, provider Provider, model string, req Request, fn completeFunc) (Response, error) {
	if req.MaxTokens <= 0 {
		req.MaxTokens = defaultMaxTokens
	}
	callCtx, span := telemetry.StartModelCall(ctx, telemetry.ModelCall{
		Provider:  string(provider),
		Model:     model,
		Operation: req.Operation,
		Prompt:    req.System + "\n" + req.Prompt,
		Images:    len(req.Images),
	})

	var resp Response
	operation := func() error {
		var err error
		resp, err = fn(callCtx, req)
		if err == nil && strings.TrimSpace(resp.Text) == "" {
			err = ErrEmptyResponse
		}
		if err != nil {
			span.Retry(string(provider), err)
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxElapsedTime = 30 * time.Second
	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, defaultRetries), callCtx))
	if err != nil {
		span.Finish("", nil, err)
		return Response{}, fmt.Errorf("%s completion: %w", provider, err)
	}
	span.Finish(resp.Text, resp.ResponseTokens, nil)
	return resp, nil
}
