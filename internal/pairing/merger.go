package pairing

import (
	"context"
	"fmt"
	"strings"

	"cs4/internal/config"
	"cs4/internal/llm"
	"cs4/internal/prompts"
	"cs4/internal/schema"
	"cs4/internal/usage"
)

// Stage name used for usage attribution.
const StageMerge = "merge"

// Invoker is the slice of the LLM gateway the merger needs.
type Invoker interface {
	Invoke(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// Merger combines a pair's two texts into one sample so the merged content
// can run through the standard pipeline.
type Merger struct {
	gw  Invoker
	cfg *config.Config
}

// NewMerger creates a merger.
func NewMerger(gw Invoker, cfg *config.Config) *Merger {
	return &Merger{gw: gw, cfg: cfg}
}

// Merge produces a single sample from a pair. The merged sample is keyed on
// both source IDs.
func (m *Merger) Merge(ctx context.Context, p Pair) (schema.Sample, error) {
	out := schema.Sample{
		Key:     schema.Key{ID: p.A.ID + "+" + p.B.ID, Domain: p.A.Domain},
		Pairing: p.Kind,
	}

	resp, err := m.gw.Invoke(usage.WithStage(ctx, StageMerge), llm.Request{
		Model:       m.cfg.Models.Merge,
		System:      prompts.ForMerge(p.A.Domain),
		Prompt:      prompts.PairedInput(p.A.Domain, p.A.SourceText, p.B.SourceText),
		Temperature: m.cfg.Generation.Temperature,
		MaxTokens:   m.cfg.Generation.MaxTokens,
	})
	if err != nil {
		return out, fmt.Errorf("merging pair %s: %w", out.ID, err)
	}
	if strings.TrimSpace(resp.Text) == "" {
		return out, fmt.Errorf("merging pair %s: model returned empty content", out.ID)
	}

	out.SourceText = strings.TrimSpace(resp.Text)
	return out, nil
}
