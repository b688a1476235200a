// Package config holds the pipeline configuration: stage model choices,
// generation parameters, retry budgets, and data locations. Values come from
// defaults, an optional YAML file, then CS4_* environment overrides, in that
// order.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all cs4 pipeline configuration.
type Config struct {
	// Data directory for stage tables, usage ledger and the run database.
	DataDir string `yaml:"data_dir"`

	// Domain selects the sample set being processed (e.g. "blog", "story").
	Domain string `yaml:"domain"`

	// NumConstraints is the exact constraint count required per record.
	NumConstraints int `yaml:"num_constraints"`

	// Concurrency bounds how many records are processed in parallel.
	Concurrency int `yaml:"concurrency"`

	// Generation parameters applied to every model call.
	Generation GenerationConfig `yaml:"generation"`

	// Retry policy for transient provider failures.
	Retry RetryConfig `yaml:"retry"`

	// Models maps each pipeline stage to a model identifier.
	Models ModelsConfig `yaml:"models"`

	// Fitting configures the draft/revise loop.
	Fitting FittingConfig `yaml:"fitting"`

	// Expansion configures the progressive constraint buckets.
	Expansion ExpansionConfig `yaml:"expansion"`

	// Pairing configures similarity-based sample pairing.
	Pairing PairingConfig `yaml:"pairing"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// GenerationConfig holds sampling parameters shared by all stages.
type GenerationConfig struct {
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// RetryConfig bounds the per-call retry loop for transient failures.
type RetryConfig struct {
	// MaxRetries is the total attempt budget per call, not the number of
	// re-tries after the first attempt.
	MaxRetries int           `yaml:"max_retries"`
	Delay      time.Duration `yaml:"delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
}

// ModelsConfig names the model used by each pipeline stage.
type ModelsConfig struct {
	Constraints string `yaml:"constraints"`
	Base        string `yaml:"base"`
	Fitting     string `yaml:"fitting"`
	Evaluation  string `yaml:"evaluation"`
	Merge       string `yaml:"merge"`
	Embedding   string `yaml:"embedding"`
}

// FittingConfig configures the constraint fitting loop.
type FittingConfig struct {
	// PassBudget is the maximum number of revision passes per record.
	PassBudget int `yaml:"pass_budget"`

	// SelfCheck enables an evaluation round between passes so revision can
	// target the constraints still unsatisfied.
	SelfCheck bool `yaml:"self_check"`

	// RequireSatisfied makes fitting fail a record whose final draft still
	// leaves constraints unsatisfied after the pass budget is spent.
	RequireSatisfied bool `yaml:"require_satisfied"`
}

// ExpansionConfig configures constraint bucket expansion, which copies each
// record once per bucket size with a growing prefix of its constraint list so
// later stages measure how quality scales with constraint count.
type ExpansionConfig struct {
	// BucketSizes lists the constraint counts, in ascending order.
	BucketSizes []int `yaml:"bucket_sizes"`

	// Baseline is the bucket size quality comparisons are anchored on. It
	// must appear in BucketSizes.
	Baseline int `yaml:"baseline"`
}

// PairingConfig configures embedding-based sample pairing.
type PairingConfig struct {
	// Pairs scoring at or above SimilarThreshold count as similar; pairs at
	// or below DissimilarThreshold count as dissimilar.
	SimilarThreshold    float64 `yaml:"similar_threshold"`
	DissimilarThreshold float64 `yaml:"dissimilar_threshold"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		DataDir:        "data",
		Domain:         "blog",
		NumConstraints: 39,
		Concurrency:    4,

		Generation: GenerationConfig{
			Temperature: 0.7,
			MaxTokens:   4096,
		},

		Retry: RetryConfig{
			MaxRetries: 3,
			Delay:      time.Second,
			MaxDelay:   30 * time.Second,
		},

		Models: ModelsConfig{
			Constraints: "gpt-4o",
			Base:        "gpt-4o-mini",
			Fitting:     "gpt-4o",
			Evaluation:  "gpt-4o",
			Merge:       "gpt-4o",
			Embedding:   "gemini-embedding-001",
		},

		Fitting: FittingConfig{
			PassBudget:       3,
			SelfCheck:        true,
			RequireSatisfied: false,
		},

		Expansion: ExpansionConfig{
			BucketSizes: []int{7, 15, 23, 31, 39},
			Baseline:    23,
		},

		Pairing: PairingConfig{
			SimilarThreshold:    0.75,
			DissimilarThreshold: 0.40,
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.NumConstraints <= 0 {
		return fmt.Errorf("config: num_constraints must be positive, got %d", c.NumConstraints)
	}
	if c.Retry.MaxRetries < 1 {
		return fmt.Errorf("config: retry.max_retries must be at least 1, got %d", c.Retry.MaxRetries)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("config: concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.Fitting.PassBudget < 1 {
		return fmt.Errorf("config: fitting.pass_budget must be at least 1, got %d", c.Fitting.PassBudget)
	}
	if len(c.Expansion.BucketSizes) == 0 {
		return fmt.Errorf("config: expansion.bucket_sizes must not be empty")
	}
	prev := 0
	for _, size := range c.Expansion.BucketSizes {
		if size <= prev {
			return fmt.Errorf("config: expansion.bucket_sizes must be positive and ascending, got %v",
				c.Expansion.BucketSizes)
		}
		prev = size
	}
	baselineOK := false
	for _, size := range c.Expansion.BucketSizes {
		if size == c.Expansion.Baseline {
			baselineOK = true
		}
	}
	if !baselineOK {
		return fmt.Errorf("config: expansion.baseline %d is not one of the bucket sizes %v",
			c.Expansion.Baseline, c.Expansion.BucketSizes)
	}
	if c.Pairing.DissimilarThreshold > c.Pairing.SimilarThreshold {
		return fmt.Errorf("config: pairing thresholds inverted: dissimilar %.2f > similar %.2f",
			c.Pairing.DissimilarThreshold, c.Pairing.SimilarThreshold)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CS4_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("CS4_DOMAIN"); v != "" {
		c.Domain = v
	}
	if v := os.Getenv("CS4_NUM_CONSTRAINTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.NumConstraints = n
		}
	}
	if v := os.Getenv("CS4_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Concurrency = n
		}
	}
	if v := os.Getenv("CS4_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Retry.MaxRetries = n
		}
	}
	if v := os.Getenv("CS4_RETRY_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Retry.Delay = d
		}
	}
	if v := os.Getenv("CS4_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Generation.Temperature = f
		}
	}
	if v := os.Getenv("CS4_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Generation.MaxTokens = n
		}
	}

	// Per-stage model overrides
	if v := os.Getenv("CS4_MODEL_CONSTRAINTS"); v != "" {
		c.Models.Constraints = v
	}
	if v := os.Getenv("CS4_MODEL_BASE"); v != "" {
		c.Models.Base = v
	}
	if v := os.Getenv("CS4_MODEL_FITTING"); v != "" {
		c.Models.Fitting = v
	}
	if v := os.Getenv("CS4_MODEL_EVALUATION"); v != "" {
		c.Models.Evaluation = v
	}
	if v := os.Getenv("CS4_MODEL_MERGE"); v != "" {
		c.Models.Merge = v
	}
	if v := os.Getenv("CS4_MODEL_EMBEDDING"); v != "" {
		c.Models.Embedding = v
	}

	if v := os.Getenv("CS4_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// StageModels returns every distinct model the configured pipeline can call.
// The factory uses it to decide which provider clients to construct.
func (c *Config) StageModels() []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range []string{
		c.Models.Constraints, c.Models.Base, c.Models.Fitting,
		c.Models.Evaluation, c.Models.Merge,
	} {
		if m != "" && !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}
