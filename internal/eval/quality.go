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
	"cs4/internal/usage"
)

// Stage name used for usage attribution.
const StageQuality = "quality"

// QualityComparison is one parsed pairwise judgement: per-category scores out
// of 5 for sides A and B, per-category preferences, and an overall winner.
type QualityComparison struct {
	GrammarA       float64
	GrammarB       float64
	GrammarPref    string
	CoherenceA     float64
	CoherenceB     float64
	CoherencePref  string
	LikabilityA    float64
	LikabilityB    float64
	LikabilityPref string
	Overall        string
}

// QualityEvaluator judges two pieces of content against each other on
// grammar, coherence and likability. The pipeline uses it to compare fitted
// content across constraint buckets.
type QualityEvaluator struct {
	gw     Invoker
	cfg    *config.Config
	logger *zap.Logger
}

// NewQuality creates a pairwise quality evaluator. It judges with the same
// model as constraint evaluation.
func NewQuality(gw Invoker, cfg *config.Config, logger *zap.Logger) *QualityEvaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QualityEvaluator{gw: gw, cfg: cfg, logger: logger}
}

// ComparePair judges content a against content b. An unparseable judgement is
// retried as a fresh call; a pair whose judgement never parses fails with
// JudgementUnavailable, like a constraint judgement would.
func (q *QualityEvaluator) ComparePair(ctx context.Context, domain, a, b string) (QualityComparison, error) {
	if strings.TrimSpace(a) == "" || strings.TrimSpace(b) == "" {
		return QualityComparison{}, &EvaluationError{
			Kind:  JudgementUnavailable,
			Cause: fmt.Errorf("comparison side has no content"),
		}
	}

	ctx = usage.WithStage(ctx, StageQuality)
	req := llm.Request{
		Model:       q.cfg.Models.Evaluation,
		System:      prompts.ForPairwiseQuality(domain),
		Prompt:      prompts.PairedInput(domain, a, b),
		Temperature: q.cfg.Generation.Temperature,
		MaxTokens:   q.cfg.Generation.MaxTokens,
	}

	var lastErr error
	for attempt := 1; attempt <= q.cfg.Retry.MaxRetries; attempt++ {
		resp, err := q.gw.Invoke(ctx, req)
		if err != nil {
			return QualityComparison{}, &EvaluationError{Kind: JudgementUnavailable, Cause: err}
		}

		cmp, err := parseQuality(resp.Text)
		if err == nil {
			return cmp, nil
		}
		lastErr = err
		q.logger.Warn("judge returned an unparseable quality comparison, retrying",
			zap.Int("attempt", attempt),
			zap.Error(err))
	}
	return QualityComparison{}, &EvaluationError{Kind: JudgementUnavailable, Cause: lastErr}
}

var (
	// scoreA matches "A - 4/5" and the colon and bare-number variants
	// judges drift into; scoreB likewise.
	scoreA = regexp.MustCompile(`(?i)A\s*[-:]\s*(\d+)(?:\s*/\s*\d+)?`)
	scoreB = regexp.MustCompile(`(?i)B\s*[-:]\s*(\d+)(?:\s*/\s*\d+)?`)

	prefMark   = regexp.MustCompile(`(?i)Preference:\s*([AB])`)
	winnerMark = regexp.MustCompile(`(?i)Overall\s+Winner:\s*([AB])`)
)

var qualityCategories = []string{"grammar", "coherence", "likability", "overall"}

// parseQuality extracts scores and preferences from a pairwise judgement. The
// response is sliced into category segments by the category headings, so the
// judge may reorder or pad them; a response with no numeric scores at all is
// malformed.
func parseQuality(raw string) (QualityComparison, error) {
	var out QualityComparison
	text := strings.ReplaceAll(raw, "\r", "\n")
	lower := strings.ToLower(text)

	segment := func(category string) string {
		start := strings.Index(lower, category)
		if start < 0 {
			return ""
		}
		end := len(text)
		for _, other := range qualityCategories {
			if other == category {
				continue
			}
			if i := strings.Index(lower[start+1:], other); i >= 0 && start+1+i < end {
				end = start + 1 + i
			}
		}
		return text[start:end]
	}

	found := 0
	scores := func(category string) (float64, float64, string) {
		seg := segment(category)
		if seg == "" {
			return 0, 0, ""
		}
		var a, b float64
		if m := scoreA.FindStringSubmatch(seg); m != nil {
			a, _ = strconv.ParseFloat(m[1], 64)
			found++
		}
		if m := scoreB.FindStringSubmatch(seg); m != nil {
			b, _ = strconv.ParseFloat(m[1], 64)
			found++
		}
		pref := ""
		if m := prefMark.FindStringSubmatch(seg); m != nil {
			pref = strings.ToUpper(m[1])
		}
		return a, b, pref
	}

	out.GrammarA, out.GrammarB, out.GrammarPref = scores("grammar")
	out.CoherenceA, out.CoherenceB, out.CoherencePref = scores("coherence")
	out.LikabilityA, out.LikabilityB, out.LikabilityPref = scores("likability")

	if m := winnerMark.FindStringSubmatch(text); m != nil {
		out.Overall = strings.ToUpper(m[1])
	}

	if found == 0 {
		return out, fmt.Errorf("quality judgement has no numeric scores")
	}
	return out, nil
}
