package eval

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"testing"

	"cs4/internal/config"
	"cs4/internal/llm"
	"cs4/internal/schema"
	"cs4/internal/usage"
)

type scriptedInvoker struct {
	responses []string
	err       error
	calls     int
	lastReq   llm.Request
	lastStage string
}

func (s *scriptedInvoker) Invoke(ctx context.Context, req llm.Request) (*llm.Response, error) {
	s.calls++
	s.lastReq = req
	s.lastStage = usage.StageFromContext(ctx)
	if s.err != nil {
		return nil, s.err
	}
	i := s.calls - 1
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	return &llm.Response{Text: s.responses[i]}, nil
}

func fittedRecord(n int) schema.FittedRecord {
	cs := make([]schema.Constraint, n)
	for i := range cs {
		cs[i] = schema.Constraint{Index: i + 1, Description: fmt.Sprintf("The blog should cover point %d.", i+1)}
	}
	return schema.FittedRecord{
		Key:           schema.Key{ID: "s-1", Domain: "blog"},
		Constraints:   cs,
		FittedContent: "A blog that covers several points.",
	}
}

func verdictResponse(satisfied []bool) string {
	var b strings.Builder
	count := 0
	for i, ok := range satisfied {
		word := "No"
		if ok {
			word = "Yes"
			count++
		}
		fmt.Fprintf(&b, "%d. %s - because of line %d\n", i+1, word, i+1)
	}
	fmt.Fprintf(&b, "Number of constraints satisfied: %d\n", count)
	return b.String()
}

func TestEvaluate_CountsAndRate(t *testing.T) {
	inv := &scriptedInvoker{responses: []string{verdictResponse([]bool{true, false, true, true})}}
	e := New(inv, config.DefaultConfig(), nil)

	rec, err := e.Evaluate(context.Background(), fittedRecord(4))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if rec.NumSatisfied != 3 {
		t.Fatalf("NumSatisfied = %d, want 3", rec.NumSatisfied)
	}
	if math.Abs(rec.SatisfactionRate-0.75) > 1e-9 {
		t.Fatalf("SatisfactionRate = %v, want 0.75", rec.SatisfactionRate)
	}
	if inv.calls != 1 {
		t.Fatalf("calls = %d, want a single judge call", inv.calls)
	}
}

func TestEvaluate_VerdictsAlignByIndexNotOrder(t *testing.T) {
	// Judge emits verdicts out of order; alignment must follow the index.
	resp := "3. No - missing\n1. Yes - present\n2. Yes - present\n"
	inv := &scriptedInvoker{responses: []string{resp}}
	e := New(inv, config.DefaultConfig(), nil)

	rec, err := e.Evaluate(context.Background(), fittedRecord(3))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	want := []bool{true, true, false}
	for i, v := range rec.Verdicts {
		if v.Index != i+1 || v.Satisfied != want[i] {
			t.Fatalf("verdict %d = %+v, want index %d satisfied %v", i, v, i+1, want[i])
		}
	}
}

func TestEvaluate_RetriesMalformedJudgement(t *testing.T) {
	inv := &scriptedInvoker{responses: []string{
		"I think it looks pretty good overall.",
		verdictResponse([]bool{true, true}),
	}}
	e := New(inv, config.DefaultConfig(), nil)

	rec, err := e.Evaluate(context.Background(), fittedRecord(2))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if inv.calls != 2 {
		t.Fatalf("calls = %d, want 2", inv.calls)
	}
	if rec.SatisfactionRate != 1.0 {
		t.Fatalf("SatisfactionRate = %v, want 1.0", rec.SatisfactionRate)
	}
}

func TestEvaluate_JudgementUnavailableAfterBudget(t *testing.T) {
	inv := &scriptedInvoker{responses: []string{"no verdicts here"}}
	cfg := config.DefaultConfig()
	cfg.Retry.MaxRetries = 3
	e := New(inv, cfg, nil)

	_, err := e.Evaluate(context.Background(), fittedRecord(2))
	var ee *EvaluationError
	if !errors.As(err, &ee) || ee.Kind != JudgementUnavailable {
		t.Fatalf("err = %v, want JudgementUnavailable", err)
	}
	if inv.calls != 3 {
		t.Fatalf("calls = %d, want 3", inv.calls)
	}
}

func TestEvaluate_EmptyConstraintsNoCall(t *testing.T) {
	inv := &scriptedInvoker{responses: []string{"unused"}}
	e := New(inv, config.DefaultConfig(), nil)

	rec, err := e.Evaluate(context.Background(), schema.FittedRecord{
		Key:           schema.Key{ID: "s-1", Domain: "blog"},
		FittedContent: "content",
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if inv.calls != 0 {
		t.Fatalf("calls = %d, want 0 for an empty constraint list", inv.calls)
	}
	if rec.SatisfactionRate != 0 || rec.NumSatisfied != 0 {
		t.Fatalf("empty-set record = %+v, want zero rate", rec)
	}
}

func TestEvaluate_DeterministicJudgeIsIdempotent(t *testing.T) {
	resp := verdictResponse([]bool{true, false, true})
	e := New(&scriptedInvoker{responses: []string{resp}}, config.DefaultConfig(), nil)
	first, err := e.Evaluate(context.Background(), fittedRecord(3))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	e = New(&scriptedInvoker{responses: []string{resp}}, config.DefaultConfig(), nil)
	second, err := e.Evaluate(context.Background(), fittedRecord(3))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if first.NumSatisfied != second.NumSatisfied || first.SatisfactionRate != second.SatisfactionRate {
		t.Fatalf("same judgement scored differently: %+v vs %+v", first, second)
	}
}

func TestEvaluate_RateMatchesVerdictVector(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 20; trial++ {
		n := 1 + rng.Intn(39)
		satisfied := make([]bool, n)
		want := 0
		for i := range satisfied {
			satisfied[i] = rng.Intn(2) == 0
			if satisfied[i] {
				want++
			}
		}

		e := New(&scriptedInvoker{responses: []string{verdictResponse(satisfied)}}, config.DefaultConfig(), nil)
		rec, err := e.Evaluate(context.Background(), fittedRecord(n))
		if err != nil {
			t.Fatalf("trial %d: Evaluate: %v", trial, err)
		}
		if rec.NumSatisfied != want {
			t.Fatalf("trial %d: NumSatisfied = %d, want %d", trial, rec.NumSatisfied, want)
		}
		wantRate := float64(want) / float64(n)
		if math.Abs(rec.SatisfactionRate-wantRate) > 1e-9 {
			t.Fatalf("trial %d: rate = %v, want %v", trial, rec.SatisfactionRate, wantRate)
		}
	}
}

func TestParseVerdicts_FormatDrift(t *testing.T) {
	raw := "1. yes: clearly stated\n2. NO  it never appears\n"
	got, err := parseVerdicts(raw, 2)
	if err != nil {
		t.Fatalf("parseVerdicts: %v", err)
	}
	if !got[0].Satisfied || got[1].Satisfied {
		t.Fatalf("verdicts = %+v", got)
	}
	if got[0].Explanation != "clearly stated" {
		t.Fatalf("explanation = %q", got[0].Explanation)
	}
}

func TestParseVerdicts_RejectsDuplicatesAndGaps(t *testing.T) {
	if _, err := parseVerdicts("1. Yes - a\n1. No - b\n2. Yes - c\n", 2); err == nil {
		t.Fatal("accepted a duplicated verdict index")
	}
	if _, err := parseVerdicts("1. Yes - a\n3. Yes - c\n", 3); err == nil {
		t.Fatal("accepted a verdict set with a gap")
	}
}


func TestJudge_StageAttribution(t *testing.T) {
	inv := &scriptedInvoker{responses: []string{verdictResponse([]bool{true, true})}}
	e := New(inv, config.DefaultConfig(), nil)
	rec := fittedRecord(2)

	if _, err := e.Evaluate(context.Background(), rec); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if inv.lastStage != StageEvaluation {
		t.Fatalf("Evaluate attributed to stage %q, want %q", inv.lastStage, StageEvaluation)
	}

	// A self check from the fitting loop keeps the caller's attribution.
	ctx := usage.WithStage(context.Background(), "fitting")
	if _, err := e.Check(ctx, rec.Domain, rec.FittedContent, rec.Constraints); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if inv.lastStage != "fitting" {
		t.Fatalf("Check attributed to stage %q, want the caller's", inv.lastStage)
	}
}
