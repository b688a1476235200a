// Package eval implements the judgement stage: a judge model reads fitted
// content against its constraint list and returns one yes/no verdict per
// constraint, from which the satisfaction rate is derived.
package eval

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"cs4/internal/config"
	"cs4/internal/llm"
	"cs4/internal/prompts"
	"cs4/internal/schema"
	"cs4/internal/usage"
)

// Stage name used for usage attribution.
const StageEvaluation = "evaluation"

// Invoker is the slice of the LLM gateway the evaluator needs.
type Invoker interface {
	Invoke(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// Evaluator judges fitted content against its constraints.
type Evaluator struct {
	gw     Invoker
	cfg    *config.Config
	logger *zap.Logger
}

// New creates an evaluator.
func New(gw Invoker, cfg *config.Config, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{gw: gw, cfg: cfg, logger: logger}
}

// Evaluate judges one fitted record. All constraints go to the judge in a
// single call; a response missing verdicts is retried as a fresh call, and a
// record whose judgement never parses fails with JudgementUnavailable rather
// than being scored zero.
func (e *Evaluator) Evaluate(ctx context.Context, rec schema.FittedRecord) (schema.EvaluationRecord, error) {
	out := schema.EvaluationRecord{
		Key:           rec.Key,
		FittedContent: rec.FittedContent,
		Constraints:   rec.Constraints,
		Model:         e.cfg.Models.Evaluation,
	}

	if len(rec.Constraints) == 0 {
		// Nothing to judge. Rate is zero, matching the empty-set rate
		// used everywhere else in the pipeline.
		return out, nil
	}
	if strings.TrimSpace(rec.FittedContent) == "" {
		return out, &EvaluationError{
			Kind:     JudgementUnavailable,
			RecordID: rec.ID,
			Cause:    fmt.Errorf("record has no fitted content"),
		}
	}

	verdicts, err := e.judge(ctx, rec.ID, rec.Domain, rec.FittedContent, rec.Constraints)
	if err != nil {
		return out, err
	}

	out.Verdicts = verdicts
	for _, v := range verdicts {
		if v.Satisfied {
			out.NumSatisfied++
		}
	}
	out.SatisfactionRate = float64(out.NumSatisfied) / float64(len(rec.Constraints))
	return out, nil
}

// Check judges arbitrary content against a constraint list. The fitting loop
// uses it between revision passes.
func (e *Evaluator) Check(ctx context.Context, domain, content string, cs []schema.Constraint) ([]schema.Verdict, error) {
	if len(cs) == 0 {
		return nil, nil
	}
	return e.judge(ctx, "", domain, content, cs)
}

func (e *Evaluator) judge(ctx context.Context, recordID, domain, content string, cs []schema.Constraint) ([]schema.Verdict, error) {
	// Callers that already run under a stage (the fitting self check) keep
	// their own usage attribution.
	if usage.StageFromContext(ctx) == "" {
		ctx = usage.WithStage(ctx, StageEvaluation)
	}
	req := llm.Request{
		Model:       e.cfg.Models.Evaluation,
		System:      prompts.ForEvaluation(domain),
		Prompt:      prompts.EvaluationInput(domain, content, schema.Format(cs)),
		Temperature: e.cfg.Generation.Temperature,
		MaxTokens:   e.cfg.Generation.MaxTokens,
	}

	var lastErr error
	for attempt := 1; attempt <= e.cfg.Retry.MaxRetries; attempt++ {
		resp, err := e.gw.Invoke(ctx, req)
		if err != nil {
			return nil, &EvaluationError{Kind: JudgementUnavailable, RecordID: recordID, Cause: err}
		}

		verdicts, err := parseVerdicts(resp.Text, len(cs))
		if err == nil {
			return verdicts, nil
		}
		lastErr = err
		e.logger.Warn("judge returned an unparseable verdict set, retrying",
			zap.Int("attempt", attempt),
			zap.String("record", recordID),
			zap.Error(err))
	}
	return nil, &EvaluationError{Kind: JudgementUnavailable, RecordID: recordID, Cause: lastErr}
}

// verdictLine matches "3. Yes - explanation" and the colon and "no dash"
// variants judges drift into.
var verdictLine = regexp.MustCompile(`(?i)^\s*(\d+)\.\s*(yes|no)\b\s*[-:]?\s*(.*)$`)

// parseVerdicts extracts exactly n verdicts from a judge response and returns
// them ordered by constraint index. Every index 1..n must appear exactly
// once; anything else is a malformed judgement.
func parseVerdicts(raw string, n int) ([]schema.Verdict, error) {
	byIndex := make(map[int]schema.Verdict, n)
	for _, line := range strings.Split(raw, "\n") {
		m := verdictLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil || idx < 1 || idx > n {
			continue
		}
		if _, dup := byIndex[idx]; dup {
			return nil, fmt.Errorf("judgement repeats verdict %d", idx)
		}
		byIndex[idx] = schema.Verdict{
			Index:       idx,
			Satisfied:   strings.EqualFold(m[2], "yes"),
			Explanation: strings.TrimSpace(m[3]),
		}
	}

	if len(byIndex) != n {
		return nil, fmt.Errorf("judgement has %d verdicts, want %d", len(byIndex), n)
	}
	out := make([]schema.Verdict, n)
	for i := 1; i <= n; i++ {
		out[i-1] = byIndex[i]
	}
	return out, nil
}
