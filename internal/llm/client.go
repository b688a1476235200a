// Package llm is the gateway to external text-generation providers. It
// exposes a uniform completion interface over OpenAI, Anthropic, and Gemini,
// retries transient faults with backoff, and records every attempt's token
// usage into an injected usage tracker.
package llm

import (
	"context"
	"time"
)

// Request is one completion request. Temperature and MaxTokens pass through
// to the provider opaquely; zero values mean provider defaults.
type Request struct {
	Model       string
	System      string // optional system prompt
	Prompt      string // user prompt, required
	Temperature float64
	MaxTokens   int
}

// TokenUsage is the provider-reported token accounting for one call.
type TokenUsage struct {
	Input  int
	Output int
	Total  int
}

// Response is a successful completion.
type Response struct {
	Text  string
	Usage TokenUsage
}

// Client is a single concrete provider. Implementations classify their
// failures as *CallError (Transient or Invalid) and never retry internally;
// the gateway owns the retry policy.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	Provider() string
}

// Provider identifiers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGoogle    = "google"
)

const (
	defaultTimeout   = 120 * time.Second
	defaultMaxTokens = 4096
)
