package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"cs4/internal/config"
	"cs4/internal/eval"
	"cs4/internal/fitting"
	"cs4/internal/generator"
	"cs4/internal/llm"
	"cs4/internal/pairing"
	"cs4/internal/pipeline"
	"cs4/internal/schema"
	"cs4/internal/store"
	"cs4/internal/usage"
)

var (
	// Global flags
	configPath  string
	verbose     bool
	dataDir     string
	domain      string
	concurrency int
	model       string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "cs4",
	Short: "cs4 - constraint satisfaction benchmark pipeline",
	Long: `cs4 runs a four stage benchmark pipeline over a content dataset:

  1. constraints: extract a main task and a fixed constraint set per sample
  2. base:        generate unconstrained content for each extracted task
  3. fit:         revise the base content toward the constraint set
  4. evaluate:    judge the fitted content constraint by constraint

Stage tables live as CSV files in the data directory; every provider call is
recorded in the usage ledger and the run database.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var ingestCmd = &cobra.Command{
	Use:   "ingest [input.csv]",
	Short: "Load a source dataset into the samples table",
	Long: `Reads a CSV whose first column is an ID and second column the content
text, strips markup, and writes the samples table into the data directory.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

var constraintsCmd = &cobra.Command{
	Use:   "constraints",
	Short: "Extract constraints for every ingested sample",
	RunE:  stageRunner((*pipeline.Driver).RunConstraints),
}

var baseCmd = &cobra.Command{
	Use:   "base",
	Short: "Generate base content for every extracted record",
	RunE:  stageRunner((*pipeline.Driver).RunBase),
}

var fitCmd = &cobra.Command{
	Use:   "fit",
	Short: "Fit base content to its constraint set",
	RunE:  stageRunner((*pipeline.Driver).RunFit),
}

var expandCmd = &cobra.Command{
	Use:   "expand",
	Short: "Expand constraints into progressive buckets",
	Long: `Rewrites the constraints table so each record appears once per configured
bucket size (default 7, 15, 23, 31, 39), carrying a growing prefix of its
constraint list. Run it between the constraints and base stages to measure
how satisfaction and quality scale with constraint count.`,
	RunE: stageRunner((*pipeline.Driver).RunExpand),
}

var qualityCmd = &cobra.Command{
	Use:   "quality",
	Short: "Compare fitted content quality across constraint buckets",
	Long: `Judges the fitted content of the baseline bucket pairwise against every
other bucket of the same record, on grammar, coherence and likability, and
writes the comparisons to the quality table. Requires a fitted table built
from expanded constraints.`,
	RunE: stageRunner((*pipeline.Driver).RunQuality),
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Judge fitted content against its constraints",
	RunE:  runEvaluate,
}

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Run all four stages in order",
	RunE:  runPipeline,
}

var (
	maxPairs   int
	similarSet bool
)

var pairsCmd = &cobra.Command{
	Use:   "pairs",
	Short: "Find sample pairs by embedding similarity and merge them",
	Long: `Embeds every ingested sample, selects distinct pairs in the configured
similarity band (dissimilar by default, --similar for the similar band),
merges each pair into a single sample, and replaces the samples table with
the merged set so the standard pipeline can run on it.`,
	RunE: runPairs,
}

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Print accumulated token usage and cost",
	RunE:  runUsage,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "cs4.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "override the configured data directory")
	rootCmd.PersistentFlags().StringVar(&domain, "domain", "", "override the configured content domain")
	rootCmd.PersistentFlags().IntVar(&concurrency, "concurrency", 0, "override the configured worker count")
	rootCmd.PersistentFlags().StringVar(&model, "model", "", "use one model for every stage")

	pairsCmd.Flags().IntVar(&maxPairs, "max-pairs", 25, "maximum number of pairs to select")
	pairsCmd.Flags().BoolVar(&similarSet, "similar", false, "select similar pairs instead of dissimilar ones")

	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(constraintsCmd)
	rootCmd.AddCommand(expandCmd)
	rootCmd.AddCommand(baseCmd)
	rootCmd.AddCommand(fitCmd)
	rootCmd.AddCommand(evaluateCmd)
	rootCmd.AddCommand(qualityCmd)
	rootCmd.AddCommand(pipelineCmd)
	rootCmd.AddCommand(pairsCmd)
	rootCmd.AddCommand(usageCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if domain != "" {
		cfg.Domain = domain
	}
	if concurrency > 0 {
		cfg.Concurrency = concurrency
	}
	if model != "" {
		cfg.Models.Constraints = model
		cfg.Models.Base = model
		cfg.Models.Fitting = model
		cfg.Models.Evaluation = model
		cfg.Models.Merge = model
	}
	return cfg, nil
}

// runtime bundles everything a stage command needs.
type runtime struct {
	cfg     *config.Config
	tables  *store.Tables
	tracker *usage.Tracker
	runs    *store.RunStore
	gateway *llm.Gateway
	driver  *pipeline.Driver
}

func newRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	tables, err := store.NewTables(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	tracker, err := usage.NewTracker(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	runs, err := store.NewRunStore(filepath.Join(cfg.DataDir, "runs.db"))
	if err != nil {
		return nil, err
	}

	clients, err := llm.NewClientsForModels(ctx, cfg.StageModels()...)
	if err != nil {
		runs.Close()
		return nil, err
	}
	gw := llm.NewGateway(tracker, llm.GatewayConfig{
		MaxRetries:  cfg.Retry.MaxRetries,
		BackoffBase: cfg.Retry.Delay,
		BackoffMax:  cfg.Retry.MaxDelay,
	}, logger, clients...)
	gw.SetAttemptSink(runs)

	evaluator := eval.New(gw, cfg, logger)
	driver := pipeline.New(cfg, tables,
		generator.NewConstraintGenerator(gw, cfg, logger),
		generator.NewBaseGenerator(gw, cfg, logger),
		fitting.New(gw, evaluator, cfg, logger),
		evaluator,
		eval.NewQuality(gw, cfg, logger),
		logger)

	return &runtime{
		cfg:     cfg,
		tables:  tables,
		tracker: tracker,
		runs:    runs,
		gateway: gw,
		driver:  driver,
	}, nil
}

func (r *runtime) close() {
	if err := r.tracker.Save(); err != nil {
		logger.Warn("failed to save usage ledger", zap.Error(err))
	}
	if err := r.runs.Close(); err != nil {
		logger.Warn("failed to close run database", zap.Error(err))
	}
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			logger.Info("received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

// stageRunner adapts one driver stage method into a cobra handler.
func stageRunner(run func(*pipeline.Driver, context.Context) (pipeline.StageResult, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		rt, err := newRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.close()

		res, err := run(rt.driver, ctx)
		if err != nil {
			return err
		}
		printStage(res)
		return nil
	}
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	res, err := rt.driver.RunEvaluate(ctx)
	if err != nil {
		return err
	}
	printStage(res)

	mean, n, err := rt.driver.MeanSatisfactionRate()
	if err != nil {
		return err
	}
	fmt.Printf("mean satisfaction rate: %.4f over %d records\n", mean, n)
	return nil
}

func runPipeline(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	results, err := rt.driver.RunAll(ctx)
	for _, res := range results {
		printStage(res)
	}
	if err != nil {
		return err
	}

	mean, n, err := rt.driver.MeanSatisfactionRate()
	if err != nil {
		return err
	}
	fmt.Printf("mean satisfaction rate: %.4f over %d records\n", mean, n)

	sums, err := rt.runs.Summarize()
	if err != nil {
		return err
	}
	for _, s := range sums {
		fmt.Printf("attempts %-12s total=%d failed=%d input=%d output=%d\n",
			s.Stage, s.Attempts, s.Failed, s.Input, s.Output)
	}
	return nil
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	tables, err := store.NewTables(cfg.DataDir)
	if err != nil {
		return err
	}

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open input: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	var samples []schema.Sample
	for i, row := range rows {
		if i == 0 || len(row) < 2 {
			// Header or short row.
			continue
		}
		text := pairing.StripHTML(row[1])
		if text == "" {
			continue
		}
		samples = append(samples, schema.Sample{
			Key:        schema.Key{ID: row[0], Domain: cfg.Domain},
			SourceText: text,
		})
	}
	if err := tables.WriteSamples(samples); err != nil {
		return err
	}
	fmt.Printf("ingested %d samples into %s\n", len(samples), tables.Path(store.SamplesFile))
	return nil
}

func runPairs(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	embedder, err := pairing.NewGenAIEmbedder(ctx, os.Getenv("GEMINI_API_KEY"), rt.cfg.Models.Embedding)
	if err != nil {
		return err
	}
	finder := pairing.NewFinder(embedder, rt.cfg, logger, rand.New(rand.NewSource(rand.Int63())))

	samples, err := rt.tables.ReadSamples()
	if err != nil {
		return err
	}

	var pairs []pairing.Pair
	if similarSet {
		pairs, err = finder.FindSimilarPairs(ctx, samples, maxPairs)
	} else {
		pairs, err = finder.FindDissimilarPairs(ctx, samples, maxPairs)
	}
	if err != nil {
		return err
	}
	fmt.Printf("selected %d pairs\n", len(pairs))

	merger := pairing.NewMerger(rt.gateway, rt.cfg)
	merged := make([]schema.Sample, 0, len(pairs))
	for _, p := range pairs {
		s, err := merger.Merge(ctx, p)
		if err != nil {
			logger.Warn("merge failed", zap.String("pair", p.A.ID+"+"+p.B.ID), zap.Error(err))
			continue
		}
		merged = append(merged, s)
		fmt.Printf("merged %s (similarity %.3f)\n", s.ID, p.Similarity)
	}
	if err := rt.tables.WriteSamples(merged); err != nil {
		return err
	}
	fmt.Printf("wrote %d merged samples\n", len(merged))
	return nil
}

func runUsage(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	tracker, err := usage.NewTracker(cfg.DataDir)
	if err != nil {
		return err
	}

	stats := tracker.Stats()
	fmt.Printf("calls: %d\n", stats.Calls)
	fmt.Printf("total: input=%d output=%d cost=$%.4f\n",
		stats.Total.Input, stats.Total.Output, stats.Total.Cost)
	for _, section := range []struct {
		name string
		data map[string]usage.TokenCounts
	}{
		{"provider", stats.ByProvider},
		{"model", stats.ByModel},
		{"stage", stats.ByStage},
	} {
		for key, counts := range section.data {
			fmt.Printf("%-9s %-32s input=%d output=%d cost=$%.4f\n",
				section.name, key, counts.Input, counts.Output, counts.Cost)
		}
	}
	return nil
}

func printStage(res pipeline.StageResult) {
	fmt.Printf("stage %-12s total=%d failed=%d\n", res.Stage, res.Total, res.Failed)
}
