package llm

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// DetectProvider infers the provider from a model identifier.
// Priority: gpt-*/o1-* -> openai, claude-* -> anthropic, gemini-* -> google.
func DetectProvider(model string) (string, error) {
	switch {
	case strings.HasPrefix(model, "gpt-"), strings.HasPrefix(model, "o1-"):
		return ProviderOpenAI, nil
	case strings.HasPrefix(model, "claude-"):
		return ProviderAnthropic, nil
	case strings.HasPrefix(model, "gemini-"):
		return ProviderGoogle, nil
	default:
		return "", fmt.Errorf("cannot infer provider for model %q", model)
	}
}

// envKeyVar maps providers to their credential environment variables.
var envKeyVar = map[string]string{
	ProviderOpenAI:    "OPENAI_API_KEY",
	ProviderAnthropic: "ANTHROPIC_API_KEY",
	ProviderGoogle:    "GEMINI_API_KEY",
}

// NewClientFromEnv creates a client for the given provider using the
// credential from the process environment.
func NewClientFromEnv(ctx context.Context, provider string) (Client, error) {
	envVar, ok := envKeyVar[provider]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}
	apiKey := os.Getenv(envVar)
	if apiKey == "" {
		return nil, fmt.Errorf("no API key found; set %s", envVar)
	}

	switch provider {
	case ProviderOpenAI:
		return NewOpenAIClient(apiKey), nil
	case ProviderAnthropic:
		return NewAnthropicClient(apiKey), nil
	case ProviderGoogle:
		return NewGeminiClient(ctx, apiKey)
	default:
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}
}

// NewClientsForModels builds one client per distinct provider needed by the
// given model identifiers. Providers whose credentials are missing surface
// an error up front rather than at first invoke.
func NewClientsForModels(ctx context.Context, models ...string) ([]Client, error) {
	seen := make(map[string]bool)
	var clients []Client
	for _, model := range models {
		if model == "" {
			continue
		}
		provider, err := DetectProvider(model)
		if err != nil {
			return nil, err
		}
		if seen[provider] {
			continue
		}
		seen[provider] = true
		client, err := NewClientFromEnv(ctx, provider)
		if err != nil {
			return nil, err
		}
		clients = append(clients, client)
	}
	return clients, nil
}
