package generator

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

// scriptedInvoker returns canned responses in order; the last entry repeats.
type scriptedInvoker struct {
	responses []string
	err       error
	calls     int
	lastReq   llm.Request
}

func (s *scriptedInvoker) Invoke(_ context.Context, req llm.Request) (*llm.Response, error) {
	s.calls++
	s.lastReq = req
	if s.err != nil {
		return nil, s.err
	}
	i := s.calls - 1
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	return &llm.Response{Text: s.responses[i]}, nil
}

func testConfig(n int) *config.Config {
	cfg := config.DefaultConfig()
	cfg.NumConstraints = n
	return cfg
}

func extractionResponse(n int) string {
	var b strings.Builder
	b.WriteString("Main Task: Write a blog about strategies for successful remote working.\n\nConstraints:\n")
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, "%d. The blog should cover point %d.\n", i, i)
	}
	return b.String()
}

func TestExtract_WellFormedResponse(t *testing.T) {
	inv := &scriptedInvoker{responses: []string{extractionResponse(5)}}
	g := NewConstraintGenerator(inv, testConfig(5), nil)

	rec, err := g.Extract(context.Background(), schema.Sample{
		Key:        schema.Key{ID: "s-1", Domain: "blog"},
		SourceText: "Working from home has become the new normal.",
	})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if rec.MainTask != "Write a blog about strategies for successful remote working." {
		t.Fatalf("MainTask = %q", rec.MainTask)
	}
	if len(rec.Constraints) != 5 {
		t.Fatalf("got %d constraints, want 5", len(rec.Constraints))
	}
	if !strings.Contains(inv.lastReq.System, "a set of 5 free-form constraints") {
		t.Fatalf("system prompt does not request 5 constraints:\n%s", inv.lastReq.System)
	}
}

func TestExtract_RetriesMalformedSetThenSucceeds(t *testing.T) {
	inv := &scriptedInvoker{responses: []string{
		extractionResponse(3), // wrong count
		extractionResponse(5),
	}}
	g := NewConstraintGenerator(inv, testConfig(5), nil)

	rec, err := g.Extract(context.Background(), schema.Sample{Key: schema.Key{ID: "s-1", Domain: "blog"}})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if inv.calls != 2 {
		t.Fatalf("calls = %d, want 2", inv.calls)
	}
	if len(rec.Constraints) != 5 {
		t.Fatalf("got %d constraints, want 5", len(rec.Constraints))
	}
}

func TestExtract_GivesUpAfterBudget(t *testing.T) {
	inv := &scriptedInvoker{responses: []string{extractionResponse(3)}}
	cfg := testConfig(5)
	cfg.Retry.MaxRetries = 3
	g := NewConstraintGenerator(inv, cfg, nil)

	_, err := g.Extract(context.Background(), schema.Sample{Key: schema.Key{ID: "s-1", Domain: "blog"}})
	if err == nil {
		t.Fatal("Extract succeeded on persistently malformed responses")
	}
	if inv.calls != 3 {
		t.Fatalf("calls = %d, want 3", inv.calls)
	}
	var se *schema.SchemaError
	if !errors.As(err, &se) || se.Kind != schema.WrongCount {
		t.Fatalf("err = %v, want wrapped WrongCount", err)
	}
}

func TestExtract_MissingMainTaskIsSchemaFailure(t *testing.T) {
	inv := &scriptedInvoker{responses: []string{"1. A constraint with no preamble."}}
	cfg := testConfig(1)
	cfg.Retry.MaxRetries = 2
	g := NewConstraintGenerator(inv, cfg, nil)

	_, err := g.Extract(context.Background(), schema.Sample{Key: schema.Key{ID: "s-1", Domain: "blog"}})
	if err == nil {
		t.Fatal("Extract accepted a response with no Main Task line")
	}
	if inv.calls != 2 {
		t.Fatalf("calls = %d, want 2 (malformed responses are retried)", inv.calls)
	}
}

func TestExtract_GatewayErrorNotRetriedHere(t *testing.T) {
	inv := &scriptedInvoker{err: &llm.CallError{Kind: llm.Exhausted, Provider: "openai"}}
	g := NewConstraintGenerator(inv, testConfig(5), nil)

	_, err := g.Extract(context.Background(), schema.Sample{Key: schema.Key{ID: "s-1", Domain: "blog"}})
	if !llm.IsExhausted(err) {
		t.Fatalf("err = %v, want passthrough Exhausted", err)
	}
	if inv.calls != 1 {
		t.Fatalf("calls = %d, want 1 (transport retries belong to the gateway)", inv.calls)
	}
}

func TestExtractCommon_PairsKeyAndPrompt(t *testing.T) {
	inv := &scriptedInvoker{responses: []string{extractionResponse(4)}}
	g := NewConstraintGenerator(inv, testConfig(4), nil)

	a := schema.Sample{Key: schema.Key{ID: "s-1", Domain: "blog"}, SourceText: "first blog"}
	b := schema.Sample{Key: schema.Key{ID: "s-2", Domain: "blog"}, SourceText: "second blog"}
	rec, err := g.ExtractCommon(context.Background(), a, b)
	if err != nil {
		t.Fatalf("ExtractCommon: %v", err)
	}
	if rec.ID != "s-1+s-2" {
		t.Fatalf("pair ID = %q", rec.ID)
	}
	if !strings.Contains(inv.lastReq.Prompt, "first blog") || !strings.Contains(inv.lastReq.Prompt, "second blog") {
		t.Fatalf("paired prompt missing an input:\n%s", inv.lastReq.Prompt)
	}
}

func TestBaseGenerate(t *testing.T) {
	inv := &scriptedInvoker{responses: []string{"  A fine blog about remote work.  "}}
	g := NewBaseGenerator(inv, testConfig(5), nil)

	rec, err := g.Generate(context.Background(), schema.ConstraintRecord{
		Key:      schema.Key{ID: "s-1", Domain: "blog"},
		MainTask: "Write a blog about remote work.",
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if rec.BaseContent != "A fine blog about remote work." {
		t.Fatalf("BaseContent = %q", rec.BaseContent)
	}
	if inv.lastReq.Prompt != "Write a blog about remote work." {
		t.Fatalf("prompt = %q, want the bare main task", inv.lastReq.Prompt)
	}
}

func TestBaseGenerate_RejectsEmptyTaskAndEmptyOutput(t *testing.T) {
	g := NewBaseGenerator(&scriptedInvoker{responses: []string{"x"}}, testConfig(5), nil)
	if _, err := g.Generate(context.Background(), schema.ConstraintRecord{Key: schema.Key{ID: "s-1"}}); err == nil {
		t.Fatal("Generate accepted a record with no main task")
	}

	g = NewBaseGenerator(&scriptedInvoker{responses: []string{"   "}}, testConfig(5), nil)
	_, err := g.Generate(context.Background(), schema.ConstraintRecord{
		Key:      schema.Key{ID: "s-1", Domain: "blog"},
		MainTask: "Write a blog.",
	})
	if err == nil {
		t.Fatal("Generate accepted empty model output")
	}
}
