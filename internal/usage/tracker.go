// Package usage provides cumulative LLM usage accounting: call count, token
// counts, and estimated cost, broken down by provider, model, and pipeline
// stage. The tracker is injectable state owned by the caller, not a package
// global, and is safe for concurrent recording across workers.
package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const usageFileName = "usage.json"

// Tracker accumulates usage for the lifetime of a process. There is no reset
// operation; totals only grow.
type Tracker struct {
	mu       sync.Mutex
	stats    Stats
	filePath string
}

// NewTracker creates a tracker that persists to <dataDir>/usage.json.
// Existing totals are loaded so repeated runs accumulate.
func NewTracker(dataDir string) (*Tracker, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	t := &Tracker{
		filePath: filepath.Join(dataDir, usageFileName),
		stats: Stats{
			ByProvider: make(map[string]TokenCounts),
			ByModel:    make(map[string]TokenCounts),
			ByStage:    make(map[string]TokenCounts),
		},
	}
	if err := t.load(); err != nil {
		return nil, err
	}
	return t, nil
}

// NewMemoryTracker creates a tracker without persistence, for callers that
// only need in-process totals (and for tests).
func NewMemoryTracker() *Tracker {
	return &Tracker{
		stats: Stats{
			ByProvider: make(map[string]TokenCounts),
			ByModel:    make(map[string]TokenCounts),
			ByStage:    make(map[string]TokenCounts),
		},
	}
}

func (t *Tracker) load() error {
	data, err := os.ReadFile(t.filePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, &t.stats); err != nil {
		return fmt.Errorf("corrupt usage file %s: %w", t.filePath, err)
	}
	if t.stats.ByProvider == nil {
		t.stats.ByProvider = make(map[string]TokenCounts)
	}
	if t.stats.ByModel == nil {
		t.stats.ByModel = make(map[string]TokenCounts)
	}
	if t.stats.ByStage == nil {
		t.stats.ByStage = make(map[string]TokenCounts)
	}
	return nil
}

// Record adds one call's observed token usage. Failed attempts are recorded
// too, with whatever partial usage is known (possibly zero); the call count
// always advances. stage may be empty for calls made outside a pipeline
// stage.
func (t *Tracker) Record(provider, model, stage string, input, output int) {
	cost := estimateCost(model, input, output)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.stats.Calls++
	t.stats.Total.add(input, output, cost)
	addToMap(t.stats.ByProvider, provider, input, output, cost)
	addToMap(t.stats.ByModel, model, input, output, cost)
	if stage != "" {
		addToMap(t.stats.ByStage, stage, input, output, cost)
	}
}

// Stats returns a snapshot of the cumulative totals.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.stats
	out.ByProvider = copyCounts(t.stats.ByProvider)
	out.ByModel = copyCounts(t.stats.ByModel)
	out.ByStage = copyCounts(t.stats.ByStage)
	return out
}

// Save writes the current totals to disk. No-op for memory trackers.
func (t *Tracker) Save() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.filePath == "" {
		return nil
	}
	data, err := json.MarshalIndent(t.stats, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(t.filePath, data, 0o644)
}

func addToMap(m map[string]TokenCounts, key string, input, output int, cost float64) {
	entry := m[key]
	entry.add(input, output, cost)
	m[key] = entry
}

func copyCounts(src map[string]TokenCounts) map[string]TokenCounts {
	dst := make(map[string]TokenCounts, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// Context helpers

type trackerKey struct{}
type stageKey struct{}

// NewContext returns a context carrying the tracker.
func NewContext(ctx context.Context, t *Tracker) context.Context {
	return context.WithValue(ctx, trackerKey{}, t)
}

// FromContext retrieves the tracker from the context, or nil.
func FromContext(ctx context.Context) *Tracker {
	t, _ := ctx.Value(trackerKey{}).(*Tracker)
	return t
}

// WithStage tags the context with the pipeline stage making LLM calls, so
// gateway-recorded usage is attributed per stage.
func WithStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, stageKey{}, stage)
}

// StageFromContext returns the stage tag, or "".
func StageFromContext(ctx context.Context) string {
	s, _ := ctx.Value(stageKey{}).(string)
	return s
}
