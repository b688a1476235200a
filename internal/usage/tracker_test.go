package usage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestTracker_RecordAggregates(t *testing.T) {
	tracker := NewMemoryTracker()

	tracker.Record("openai", "gpt-4o-mini", "fitting", 100, 50)
	tracker.Record("openai", "gpt-4o-mini", "fitting", 20, 30)
	tracker.Record("anthropic", "claude-3-5-haiku", "evaluation", 10, 5)

	stats := tracker.Stats()
	if stats.Calls != 3 {
		t.Fatalf("Calls=%d, want 3", stats.Calls)
	}
	if stats.Total.Input != 130 || stats.Total.Output != 85 || stats.Total.Total != 215 {
		t.Fatalf("Total=%+v, want input=130 output=85 total=215", stats.Total)
	}
	if got := stats.ByProvider["openai"]; got.Total != 200 {
		t.Fatalf("ByProvider[openai]=%+v, want total=200", got)
	}
	if got := stats.ByModel["claude-3-5-haiku"]; got.Total != 15 {
		t.Fatalf("ByModel[claude-3-5-haiku]=%+v, want total=15", got)
	}
	if got := stats.ByStage["fitting"]; got.Total != 200 {
		t.Fatalf("ByStage[fitting]=%+v, want total=200", got)
	}
	if stats.Total.Cost <= 0 {
		t.Fatalf("Total.Cost=%f, want > 0 for priced models", stats.Total.Cost)
	}
}

func TestTracker_ConcurrentRecordLosesNoUpdates(t *testing.T) {
	tracker := NewMemoryTracker()

	const workers = 16
	const perWorker = 200
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				tracker.Record("openai", "gpt-4o-mini", "fitting", 1, 1)
			}
		}()
	}
	wg.Wait()

	stats := tracker.Stats()
	if stats.Calls != workers*perWorker {
		t.Fatalf("Calls=%d, want %d", stats.Calls, workers*perWorker)
	}
	if stats.Total.Total != workers*perWorker*2 {
		t.Fatalf("Total=%d, want %d", stats.Total.Total, workers*perWorker*2)
	}
}

func TestTracker_PersistsAndReloads(t *testing.T) {
	dir := t.TempDir()

	tracker, err := NewTracker(dir)
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}
	tracker.Record("openai", "gpt-4o-mini", "base", 10, 20)
	if err := tracker.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "usage.json"))
	if err != nil {
		t.Fatalf("read usage.json: %v", err)
	}
	var persisted Stats
	if err := json.Unmarshal(data, &persisted); err != nil {
		t.Fatalf("unmarshal usage.json: %v", err)
	}
	if persisted.Total.Total != 30 {
		t.Fatalf("persisted total=%d, want 30", persisted.Total.Total)
	}

	// A new tracker over the same dir accumulates onto the saved totals.
	reloaded, err := NewTracker(dir)
	if err != nil {
		t.Fatalf("NewTracker reload: %v", err)
	}
	reloaded.Record("openai", "gpt-4o-mini", "base", 5, 5)
	if got := reloaded.Stats().Total.Total; got != 40 {
		t.Fatalf("reloaded total=%d, want 40", got)
	}
}

func TestTracker_ContextHelpers(t *testing.T) {
	tracker := NewMemoryTracker()
	ctx := NewContext(context.Background(), tracker)
	if FromContext(ctx) != tracker {
		t.Fatalf("FromContext mismatch")
	}
	ctx = WithStage(ctx, "evaluation")
	if got := StageFromContext(ctx); got != "evaluation" {
		t.Fatalf("StageFromContext=%q, want evaluation", got)
	}
	if got := StageFromContext(context.Background()); got != "" {
		t.Fatalf("StageFromContext on empty ctx=%q, want empty", got)
	}
}

func TestEstimateCost_PrefixMatch(t *testing.T) {
	// Dated snapshots price like their family.
	dated := estimateCost("gpt-4o-mini-2024-07-18", 1_000_000, 0)
	base := estimateCost("gpt-4o-mini", 1_000_000, 0)
	if dated != base {
		t.Fatalf("dated=%f base=%f, want equal", dated, base)
	}
	// gpt-4o-mini must not price as gpt-4o.
	if base == estimateCost("gpt-4o", 1_000_000, 0) {
		t.Fatalf("gpt-4o-mini priced as gpt-4o")
	}
	if got := estimateCost("unknown-model", 1000, 1000); got != 0 {
		t.Fatalf("unknown model cost=%f, want 0", got)
	}
}
