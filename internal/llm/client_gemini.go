package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"
)

// GeminiClient implements Client for Google's Gemini API via the genai SDK.
type GeminiClient struct {
	client *genai.Client
}

// NewGeminiClient creates a new Gemini client.
func NewGeminiClient(ctx context.Context, apiKey string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, &CallError{Kind: Invalid, Provider: ProviderGoogle,
			Cause: errors.New("API key not configured")}
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, &CallError{Kind: Invalid, Provider: ProviderGoogle,
			Cause: fmt.Errorf("failed to create GenAI client: %w", err)}
	}
	return &GeminiClient{client: client}, nil
}

// Provider implements Client.
func (c *GeminiClient) Provider() string { return ProviderGoogle }

// Complete implements Client.
func (c *GeminiClient) Complete(ctx context.Context, req Request) (*Response, error) {
	config := &genai.GenerateContentConfig{}
	if req.Temperature != 0 {
		config.Temperature = genai.Ptr(float32(req.Temperature))
	}
	if req.MaxTokens != 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}

	resp, err := c.client.Models.GenerateContent(ctx, req.Model, genai.Text(req.Prompt), config)
	if err != nil {
		return nil, classifyGenAIError(err)
	}

	var usage TokenUsage
	if resp.UsageMetadata != nil {
		usage = TokenUsage{
			Input:  int(resp.UsageMetadata.PromptTokenCount),
			Output: int(resp.UsageMetadata.CandidatesTokenCount),
			Total:  int(resp.UsageMetadata.TotalTokenCount),
		}
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return nil, &CallError{
			Kind:     Transient,
			Provider: ProviderGoogle,
			Usage:    usage,
			Cause:    errors.New("no completion returned"),
		}
	}

	return &Response{Text: text, Usage: usage}, nil
}

func classifyGenAIError(err error) *CallError {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		kind := Invalid
		if apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500 {
			kind = Transient
		}
		return &CallError{Kind: kind, Provider: ProviderGoogle, Cause: err}
	}
	// Transport-level failures (timeouts, connection resets) are retryable.
	return &CallError{Kind: Transient, Provider: ProviderGoogle, Cause: err}
}
