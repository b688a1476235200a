package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 39, cfg.NumConstraints)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, time.Second, cfg.Retry.Delay)
	assert.Equal(t, 0.7, cfg.Generation.Temperature)
	assert.Equal(t, 4096, cfg.Generation.MaxTokens)
	assert.Equal(t, 3, cfg.Fitting.PassBudget)
	assert.Equal(t, 0.75, cfg.Pairing.SimilarThreshold)
	assert.Equal(t, 0.40, cfg.Pairing.DissimilarThreshold)
	require.NoError(t, cfg.Validate())
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().NumConstraints, cfg.NumConstraints)
}

func TestLoad_YAMLOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
domain: story
num_constraints: 12
models:
  fitting: claude-3-5-sonnet-20241022
fitting:
  pass_budget: 5
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "story", cfg.Domain)
	assert.Equal(t, 12, cfg.NumConstraints)
	assert.Equal(t, "claude-3-5-sonnet-20241022", cfg.Models.Fitting)
	assert.Equal(t, 5, cfg.Fitting.PassBudget)
	// Untouched keys keep their defaults.
	assert.Equal(t, "gpt-4o", cfg.Models.Constraints)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("num_constraints: 0\n"), 0644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "num_constraints")
}

func TestValidate_InvertedPairingThresholds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pairing.SimilarThreshold = 0.3
	cfg.Pairing.DissimilarThreshold = 0.6
	assert.Error(t, cfg.Validate())
}

func TestRoundTrip_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	cfg := DefaultConfig()
	cfg.Domain = "paper"
	cfg.NumConstraints = 20
	require.NoError(t, cfg.Save(path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "paper", got.Domain)
	assert.Equal(t, 20, got.NumConstraints)
}

func TestStageModels_DedupesAcrossStages(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Models = ModelsConfig{
		Constraints: "gpt-4o",
		Base:        "gpt-4o-mini",
		Fitting:     "gpt-4o",
		Evaluation:  "claude-3-5-sonnet-20241022",
		Merge:       "gpt-4o",
	}
	got := cfg.StageModels()
	assert.Equal(t, []string{"gpt-4o", "gpt-4o-mini", "claude-3-5-sonnet-20241022"}, got)
}

func TestValidate_ExpansionBuckets(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, []int{7, 15, 23, 31, 39}, cfg.Expansion.BucketSizes)
	assert.Equal(t, 23, cfg.Expansion.Baseline)

	cfg.Expansion.BucketSizes = []int{7, 7, 15}
	assert.Error(t, cfg.Validate(), "duplicate bucket sizes must be rejected")

	cfg.Expansion.BucketSizes = []int{15, 7}
	assert.Error(t, cfg.Validate(), "descending bucket sizes must be rejected")

	cfg.Expansion.BucketSizes = []int{7, 15}
	cfg.Expansion.Baseline = 23
	assert.Error(t, cfg.Validate(), "a baseline outside the bucket list must be rejected")

	cfg.Expansion.Baseline = 15
	assert.NoError(t, cfg.Validate())
}
