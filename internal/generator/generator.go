// Package generator implements the first two pipeline stages: constraint
// extraction from existing content and unconstrained base generation from the
// extracted main task.
package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"cs4/internal/config"
	"cs4/internal/llm"
	"cs4/internal/prompts"
	"cs4/internal/schema"
	"cs4/internal/usage"
)

// Stage names used for usage attribution.
const (
	StageConstraints = "constraints"
	StageBase        = "base"
)

// Invoker is the slice of the LLM gateway the generators need.
type Invoker interface {
	Invoke(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// ConstraintGenerator extracts a main task and a fixed-size constraint set
// from existing content.
type ConstraintGenerator struct {
	gw     Invoker
	cfg    *config.Config
	logger *zap.Logger
}

// NewConstraintGenerator creates a constraint generator.
func NewConstraintGenerator(gw Invoker, cfg *config.Config, logger *zap.Logger) *ConstraintGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConstraintGenerator{gw: gw, cfg: cfg, logger: logger}
}

// Extract runs constraint extraction for one sample. A response that parses
// but fails schema validation is retried as a fresh model call; the retry
// budget is shared with the transport-level retry budget in the gateway, so a
// record never consumes more than MaxRetries well-formed-but-wrong responses.
func (g *ConstraintGenerator) Extract(ctx context.Context, sample schema.Sample) (schema.ConstraintRecord, error) {
	rec := schema.ConstraintRecord{Key: sample.Key, Model: g.cfg.Models.Constraints}

	req := llm.Request{
		Model:       g.cfg.Models.Constraints,
		System:      prompts.ForConstraintExtraction(sample.Domain, g.cfg.NumConstraints),
		Prompt:      sample.SourceText,
		Temperature: g.cfg.Generation.Temperature,
		MaxTokens:   g.cfg.Generation.MaxTokens,
	}

	mainTask, cs, err := g.extract(usage.WithStage(ctx, StageConstraints), req)
	if err != nil {
		return rec, err
	}
	rec.MainTask = mainTask
	rec.Constraints = cs
	return rec, nil
}

// ExtractCommon runs paired constraint extraction: the returned main task and
// constraints must hold for both samples. The record is keyed on the pair.
func (g *ConstraintGenerator) ExtractCommon(ctx context.Context, a, b schema.Sample) (schema.ConstraintRecord, error) {
	rec := schema.ConstraintRecord{
		Key:   schema.Key{ID: a.ID + "+" + b.ID, Domain: a.Domain},
		Model: g.cfg.Models.Constraints,
	}

	req := llm.Request{
		Model:       g.cfg.Models.Constraints,
		System:      prompts.ForCommonConstraintExtraction(a.Domain, g.cfg.NumConstraints),
		Prompt:      prompts.PairedInput(a.Domain, a.SourceText, b.SourceText),
		Temperature: g.cfg.Generation.Temperature,
		MaxTokens:   g.cfg.Generation.MaxTokens,
	}

	mainTask, cs, err := g.extract(usage.WithStage(ctx, StageConstraints), req)
	if err != nil {
		return rec, err
	}
	rec.MainTask = mainTask
	rec.Constraints = cs
	return rec, nil
}

func (g *ConstraintGenerator) extract(ctx context.Context, req llm.Request) (string, []schema.Constraint, error) {
	var lastErr error
	for attempt := 1; attempt <= g.cfg.Retry.MaxRetries; attempt++ {
		resp, err := g.gw.Invoke(ctx, req)
		if err != nil {
			return "", nil, err
		}

		mainTask, cs, err := parseExtraction(resp.Text)
		if err == nil {
			if err = schema.Validate(cs, g.cfg.NumConstraints); err == nil {
				return mainTask, cs, nil
			}
		}
		lastErr = err

		var se *schema.SchemaError
		if !errors.As(err, &se) {
			return "", nil, err
		}
		g.logger.Warn("constraint extraction returned a malformed set, retrying",
			zap.Int("attempt", attempt),
			zap.String("model", req.Model),
			zap.Error(err))
	}
	return "", nil, fmt.Errorf("constraint extraction: no valid set after %d attempts: %w",
		g.cfg.Retry.MaxRetries, lastErr)
}

// parseExtraction splits a "Main Task: ... / Constraints: 1. ..." response
// into its parts. The constraint list is whatever numbered entries follow the
// main task line.
func parseExtraction(raw string) (string, []schema.Constraint, error) {
	var mainTask string
	var listStart int

	lines := strings.Split(raw, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(trimmed, "Main Task:"); ok {
			mainTask = strings.TrimSpace(rest)
			listStart = i + 1
			break
		}
	}
	if mainTask == "" {
		return "", nil, &schema.SchemaError{
			Kind: schema.MalformedEntry,
			Msg:  "response has no Main Task line",
		}
	}

	cs := schema.Parse(strings.Join(lines[listStart:], "\n"))
	return mainTask, cs, nil
}

// BaseGenerator produces unconstrained content from an extracted main task.
type BaseGenerator struct {
	gw     Invoker
	cfg    *config.Config
	logger *zap.Logger
}

// NewBaseGenerator creates a base generator.
func NewBaseGenerator(gw Invoker, cfg *config.Config, logger *zap.Logger) *BaseGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BaseGenerator{gw: gw, cfg: cfg, logger: logger}
}

// Generate produces base content for one extracted record. The constraint
// list plays no part here; base content is the uncontaminated control arm
// that fitting revises against.
func (g *BaseGenerator) Generate(ctx context.Context, rec schema.ConstraintRecord) (schema.BaseRecord, error) {
	out := schema.BaseRecord{
		Key:      rec.Key,
		MainTask: rec.MainTask,
		Model:    g.cfg.Models.Base,
	}
	if strings.TrimSpace(rec.MainTask) == "" {
		return out, fmt.Errorf("base generation: record %s has no main task", rec.ID)
	}

	resp, err := g.gw.Invoke(usage.WithStage(ctx, StageBase), llm.Request{
		Model:       g.cfg.Models.Base,
		System:      prompts.ForBaseGeneration(rec.Domain),
		Prompt:      rec.MainTask,
		Temperature: g.cfg.Generation.Temperature,
		MaxTokens:   g.cfg.Generation.MaxTokens,
	})
	if err != nil {
		return out, err
	}
	if strings.TrimSpace(resp.Text) == "" {
		return out, fmt.Errorf("base generation: record %s: model returned empty content", rec.ID)
	}

	out.BaseContent = strings.TrimSpace(resp.Text)
	return out, nil
}
