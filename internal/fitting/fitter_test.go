package fitting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"cs4/internal/config"
	"cs4/internal/llm"
	"cs4/internal/schema"
)

type scriptedInvoker struct {
	responses []string
	err       error
	calls     int
	prompts   []string
	systems   []string
}

func (s *scriptedInvoker) Invoke(_ context.Context, req llm.Request) (*llm.Response, error) {
	s.calls++
	s.prompts = append(s.prompts, req.Prompt)
	s.systems = append(s.systems, req.System)
	if s.err != nil {
		return nil, s.err
	}
	i := s.calls - 1
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	return &llm.Response{Text: s.responses[i]}, nil
}

// scriptedChecker returns one verdict vector per call; the last repeats.
type scriptedChecker struct {
	vectors [][]bool
	err     error
	calls   int
}

func (s *scriptedChecker) Check(_ context.Context, _ string, _ string, cs []schema.Constraint) ([]schema.Verdict, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	i := s.calls - 1
	if i >= len(s.vectors) {
		i = len(s.vectors) - 1
	}
	vec := s.vectors[i]
	out := make([]schema.Verdict, len(cs))
	for j, c := range cs {
		out[j] = schema.Verdict{Index: c.Index, Satisfied: vec[j]}
	}
	return out, nil
}

func constraints(n int) []schema.Constraint {
	cs := make([]schema.Constraint, n)
	for i := range cs {
		cs[i] = schema.Constraint{Index: i + 1, Description: fmt.Sprintf("The content should cover point %d.", i+1)}
	}
	return cs
}

func baseRecord() schema.BaseRecord {
	return schema.BaseRecord{
		Key:         schema.Key{ID: "s-1", Domain: "blog"},
		MainTask:    "Write a blog about remote work.",
		BaseContent: "Remote work is common now.",
	}
}

func fitConfig(budget int, selfCheck, require bool) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Fitting.PassBudget = budget
	cfg.Fitting.SelfCheck = selfCheck
	cfg.Fitting.RequireSatisfied = require
	return cfg
}

func TestFit_EmptyConstraintsIsNoOp(t *testing.T) {
	inv := &scriptedInvoker{responses: []string{"unused"}}
	chk := &scriptedChecker{}
	f := New(inv, chk, fitConfig(3, true, false), nil)

	rec, err := f.Fit(context.Background(), baseRecord(), nil)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if inv.calls != 0 || chk.calls != 0 {
		t.Fatalf("calls = %d/%d, want zero model or checker calls", inv.calls, chk.calls)
	}
	if rec.FittedContent != baseRecord().BaseContent {
		t.Fatalf("FittedContent = %q, want untouched base", rec.FittedContent)
	}
	if rec.Passes != 0 {
		t.Fatalf("Passes = %d, want 0", rec.Passes)
	}
}

func TestFit_SelfCheckDisabledIsSingleDraft(t *testing.T) {
	inv := &scriptedInvoker{responses: []string{"Fitted draft."}}
	f := New(inv, nil, fitConfig(3, false, false), nil)

	rec, err := f.Fit(context.Background(), baseRecord(), constraints(3))
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if inv.calls != 1 {
		t.Fatalf("calls = %d, want 1", inv.calls)
	}
	if rec.FittedContent != "Fitted draft." || rec.Passes != 1 {
		t.Fatalf("rec = %+v", rec)
	}
}

func TestFit_RevisesUntilAllSatisfied(t *testing.T) {
	inv := &scriptedInvoker{responses: []string{"draft one", "draft two"}}
	chk := &scriptedChecker{vectors: [][]bool{
		{true, false, false},
		{true, true, true},
	}}
	f := New(inv, chk, fitConfig(3, true, false), nil)

	rec, err := f.Fit(context.Background(), baseRecord(), constraints(3))
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if rec.FittedContent != "draft two" {
		t.Fatalf("FittedContent = %q, want the satisfying revision", rec.FittedContent)
	}
	if rec.Passes != 2 {
		t.Fatalf("Passes = %d, want 2", rec.Passes)
	}
	if inv.calls != 2 || chk.calls != 2 {
		t.Fatalf("calls = %d drafts / %d checks, want 2/2", inv.calls, chk.calls)
	}
	// The revision prompt targets what the check found unsatisfied.
	if want := "2. The content should cover point 2."; !strings.Contains(inv.prompts[1], want) {
		t.Fatalf("revision prompt missing %q:\n%s", want, inv.prompts[1])
	}
}

func TestFit_BestDraftNeverRegresses(t *testing.T) {
	inv := &scriptedInvoker{responses: []string{"strong draft", "weak revision"}}
	chk := &scriptedChecker{vectors: [][]bool{
		{true, true, false},
		{true, false, false},
	}}
	f := New(inv, chk, fitConfig(2, true, false), nil)

	rec, err := f.Fit(context.Background(), baseRecord(), constraints(3))
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if rec.FittedContent != "strong draft" {
		t.Fatalf("FittedContent = %q, regressed to the weaker revision", rec.FittedContent)
	}
}

func TestFit_BudgetExceededWhenRequired(t *testing.T) {
	inv := &scriptedInvoker{responses: []string{"draft"}}
	chk := &scriptedChecker{vectors: [][]bool{{true, false, false}}}
	f := New(inv, chk, fitConfig(2, true, true), nil)

	rec, err := f.Fit(context.Background(), baseRecord(), constraints(3))
	var fe *FittingError
	if !errors.As(err, &fe) || fe.Kind != BudgetExceeded {
		t.Fatalf("err = %v, want BudgetExceeded", err)
	}
	if rec.FittedContent != "draft" {
		t.Fatalf("failed record still carries the best draft, got %q", rec.FittedContent)
	}
	if rec.Passes != 2 {
		t.Fatalf("Passes = %d, want the full budget of 2", rec.Passes)
	}
}

func TestFit_BudgetRunOutWithoutRequirementIsNotAnError(t *testing.T) {
	inv := &scriptedInvoker{responses: []string{"draft"}}
	chk := &scriptedChecker{vectors: [][]bool{{false, false, false}}}
	f := New(inv, chk, fitConfig(2, true, false), nil)

	rec, err := f.Fit(context.Background(), baseRecord(), constraints(3))
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if rec.FittedContent != "draft" {
		t.Fatalf("FittedContent = %q", rec.FittedContent)
	}
}

func TestFit_GenerationFailedOnFirstDraft(t *testing.T) {
	inv := &scriptedInvoker{err: &llm.CallError{Kind: llm.Exhausted, Provider: "openai"}}
	f := New(inv, nil, fitConfig(3, false, false), nil)

	_, err := f.Fit(context.Background(), baseRecord(), constraints(3))
	var fe *FittingError
	if !errors.As(err, &fe) || fe.Kind != GenerationFailed {
		t.Fatalf("err = %v, want GenerationFailed", err)
	}
	if !llm.IsExhausted(err) {
		t.Fatalf("cause not preserved: %v", err)
	}
}

func TestFit_EmptyBaseStillGenerates(t *testing.T) {
	inv := &scriptedInvoker{responses: []string{"Generated from scratch."}}
	f := New(inv, nil, fitConfig(3, false, false), nil)

	base := baseRecord()
	base.BaseContent = ""
	rec, err := f.Fit(context.Background(), base, constraints(39))
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if rec.FittedContent == "" {
		t.Fatal("FittedContent empty; empty base must still produce content")
	}
	if inv.calls < 1 {
		t.Fatalf("calls = %d, want at least one generation call", inv.calls)
	}
}

func TestFit_CheckerFailureKeepsDraft(t *testing.T) {
	inv := &scriptedInvoker{responses: []string{"only draft"}}
	chk := &scriptedChecker{err: errors.New("judge down")}
	f := New(inv, chk, fitConfig(3, true, false), nil)

	rec, err := f.Fit(context.Background(), baseRecord(), constraints(3))
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if rec.FittedContent != "only draft" {
		t.Fatalf("FittedContent = %q", rec.FittedContent)
	}
	if inv.calls != 1 {
		t.Fatalf("calls = %d, want 1 (no revision without a verdict)", inv.calls)
	}
}

func TestFit_PromptsUseRecordDomain(t *testing.T) {
	inv := &scriptedInvoker{responses: []string{"A fitted story."}}
	f := New(inv, nil, fitConfig(3, false, false), nil)

	base := baseRecord()
	base.Domain = "story"
	if _, err := f.Fit(context.Background(), base, constraints(2)); err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if len(inv.systems) == 0 || !strings.Contains(inv.systems[0], "story") {
		t.Fatalf("fitting system prompt does not carry the record domain: %q", inv.systems)
	}
}
