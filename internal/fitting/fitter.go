// Package fitting implements the constraint fitting stage: a draft/revise
// loop that rewrites base content until it satisfies its constraint list or
// the pass budget runs out.
package fitting

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"cs4/internal/config"
	"cs4/internal/llm"
	"cs4/internal/prompts"
	"cs4/internal/schema"
	"cs4/internal/usage"
)

// Stage name used for usage attribution.
const StageFitting = "fitting"

// Invoker is the slice of the LLM gateway the fitter needs.
type Invoker interface {
	Invoke(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// SelfChecker judges a draft against its constraints between revision passes
// so the next pass can target what is still missing. eval.Evaluator
// implements it.
type SelfChecker interface {
	Check(ctx context.Context, domain, content string, cs []schema.Constraint) ([]schema.Verdict, error)
}

// Fitter runs the draft/revise loop for one record at a time.
type Fitter struct {
	gw      Invoker
	checker SelfChecker
	cfg     *config.Config
	logger  *zap.Logger
}

// New creates a fitter. checker may be nil; without one (or with self check
// disabled in config) fitting is a single draft pass.
func New(gw Invoker, checker SelfChecker, cfg *config.Config, logger *zap.Logger) *Fitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fitter{gw: gw, checker: checker, cfg: cfg, logger: logger}
}

// Fit rewrites a base record toward its constraint list.
//
// The loop keeps the best draft seen so far, judged by satisfied-constraint
// count, so a revision pass that regresses never makes the result worse. An
// empty constraint list is a no-op that spends zero model calls; an empty
// base is legal and turns the first pass into initial generation.
func (f *Fitter) Fit(ctx context.Context, base schema.BaseRecord, cs []schema.Constraint) (schema.FittedRecord, error) {
	out := schema.FittedRecord{
		Key:         base.Key,
		MainTask:    base.MainTask,
		Constraints: cs,
		BaseContent: base.BaseContent,
		Model:       f.cfg.Models.Fitting,
	}

	if len(cs) == 0 {
		out.FittedContent = base.BaseContent
		return out, nil
	}
	if strings.TrimSpace(base.MainTask) == "" {
		return out, &FittingError{
			Kind:     GenerationFailed,
			RecordID: base.ID,
			Cause:    fmt.Errorf("record has no main task"),
		}
	}

	ctx = usage.WithStage(ctx, StageFitting)
	wire := schema.Format(cs)

	out.Passes = 1
	draft, err := f.draft(ctx, base.Domain, prompts.FittingInput(base.MainTask, base.BaseContent, wire))
	if err != nil {
		return out, &FittingError{Kind: GenerationFailed, RecordID: base.ID, Passes: 1, Cause: err}
	}

	var (
		best          string
		bestSatisfied = -1
		satisfied     bool
	)
	for pass := 1; ; pass++ {
		out.Passes = pass

		if !f.cfg.Fitting.SelfCheck || f.checker == nil {
			best = draft
			satisfied = true
			break
		}

		verdicts, err := f.checker.Check(ctx, base.Domain, draft, cs)
		if err != nil {
			f.logger.Warn("self check unavailable, accepting current draft",
				zap.String("record", base.ID),
				zap.Int("pass", pass),
				zap.Error(err))
			if best == "" {
				best = draft
			}
			break
		}

		// The best draft never regresses across passes.
		if count := countSatisfied(verdicts); count > bestSatisfied {
			best = draft
			bestSatisfied = count
		}
		if bestSatisfied == len(cs) {
			satisfied = true
			break
		}
		if pass == f.cfg.Fitting.PassBudget {
			break
		}

		draft, err = f.draft(ctx, base.Domain, prompts.RevisionInput(base.MainTask, best, wire,
			schema.Format(schema.Unsatisfied(cs, verdicts))))
		if err != nil {
			f.logger.Warn("revision pass failed, keeping previous draft",
				zap.String("record", base.ID),
				zap.Int("pass", pass),
				zap.Error(err))
			break
		}
	}

	out.FittedContent = best
	if !satisfied && f.cfg.Fitting.RequireSatisfied {
		return out, &FittingError{Kind: BudgetExceeded, RecordID: base.ID, Passes: out.Passes}
	}
	return out, nil
}

func (f *Fitter) draft(ctx context.Context, domain, prompt string) (string, error) {
	resp, err := f.gw.Invoke(ctx, llm.Request{
		Model:       f.cfg.Models.Fitting,
		System:      prompts.ForFitting(domain, f.cfg.NumConstraints),
		Prompt:      prompt,
		Temperature: f.cfg.Generation.Temperature,
		MaxTokens:   f.cfg.Generation.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", fmt.Errorf("model returned an empty draft")
	}
	return text, nil
}

func countSatisfied(vs []schema.Verdict) int {
	n := 0
	for _, v := range vs {
		if v.Satisfied {
			n++
		}
	}
	return n
}
