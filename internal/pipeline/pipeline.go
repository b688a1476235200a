// Package pipeline wires the stages together: it moves whole tables through
// constraint extraction, base generation, fitting, and evaluation, with
// bounded per-record concurrency and per-record failure isolation.
package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"cs4/internal/config"
	"cs4/internal/eval"
	"cs4/internal/fitting"
	"cs4/internal/generator"
	"cs4/internal/llm"
	"cs4/internal/schema"
	"cs4/internal/store"
)

// Driver runs pipeline stages over the stage tables in the data directory.
type Driver struct {
	cfg         *config.Config
	tables      *store.Tables
	constraints *generator.ConstraintGenerator
	base        *generator.BaseGenerator
	fitter      *fitting.Fitter
	evaluator   *eval.Evaluator
	quality     *eval.QualityEvaluator
	logger      *zap.Logger
}

// New creates a driver over an already-constructed stage set.
func New(
	cfg *config.Config,
	tables *store.Tables,
	constraints *generator.ConstraintGenerator,
	base *generator.BaseGenerator,
	fitter *fitting.Fitter,
	evaluator *eval.Evaluator,
	quality *eval.QualityEvaluator,
	logger *zap.Logger,
) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{
		cfg:         cfg,
		tables:      tables,
		constraints: constraints,
		base:        base,
		fitter:      fitter,
		evaluator:   evaluator,
		quality:     quality,
		logger:      logger,
	}
}

// StageResult summarizes one stage run.
type StageResult struct {
	Stage  string
	Total  int
	Failed int
}

// forEach runs fn over n records with bounded concurrency. fn must write its
// result into its own slot; a failing record never stops the batch.
func (d *Driver) forEach(ctx context.Context, n int, fn func(ctx context.Context, i int)) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Concurrency)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			fn(ctx, i)
			return nil
		})
	}
	// Workers never return errors; Wait only drains them.
	_ = g.Wait()
}

// RunConstraints extracts constraints for every sample in the samples table
// and writes the constraints table.
func (d *Driver) RunConstraints(ctx context.Context) (StageResult, error) {
	res := StageResult{Stage: generator.StageConstraints}

	samples, err := d.tables.ReadSamples()
	if err != nil {
		return res, err
	}
	res.Total = len(samples)

	out := make([]schema.ConstraintRecord, len(samples))
	d.forEach(ctx, len(samples), func(ctx context.Context, i int) {
		s := samples[i]
		rec, err := d.constraints.Extract(llm.WithRecordID(ctx, s.ID), s)
		if err != nil {
			rec.Err = err.Error()
			d.logger.Warn("constraint extraction failed",
				zap.String("record", s.ID), zap.Error(err))
		}
		out[i] = rec
	})

	for _, r := range out {
		if r.Failed() {
			res.Failed++
		}
	}
	if err := d.tables.WriteConstraints(out); err != nil {
		return res, err
	}
	d.logStage(res)
	return res, nil
}

// StageExpansion is the stage name for constraint bucket expansion.
const StageExpansion = "expansion"

// RunExpand rewrites the constraints table so each extracted record appears
// once per configured bucket size, carrying a renumbered prefix of its
// constraint list. Bucket rows get derived IDs, so later stages treat every
// bucket as its own record. Buckets larger than a record's constraint list
// collapse into a single full-size row; failed rows are carried unchanged.
// The expansion spends no model calls.
func (d *Driver) RunExpand(_ context.Context) (StageResult, error) {
	res := StageResult{Stage: StageExpansion}

	recs, err := d.tables.ReadConstraints()
	if err != nil {
		return res, err
	}

	var out []schema.ConstraintRecord
	for _, in := range recs {
		if in.Failed() {
			out = append(out, in)
			continue
		}
		if _, size := schema.SplitSubsetID(in.ID); size != 0 {
			return res, fmt.Errorf("constraints table is already expanded (record %s)", in.ID)
		}
		emitted := make(map[int]bool, len(d.cfg.Expansion.BucketSizes))
		for _, size := range d.cfg.Expansion.BucketSizes {
			subset := schema.Subset(in.Constraints, size)
			if emitted[len(subset)] {
				continue
			}
			emitted[len(subset)] = true
			rec := in
			rec.ID = schema.SubsetID(in.ID, len(subset))
			rec.SubsetSize = len(subset)
			rec.Constraints = subset
			out = append(out, rec)
		}
	}
	res.Total = len(out)

	for _, r := range out {
		if r.Failed() {
			res.Failed++
		}
	}
	if err := d.tables.WriteConstraints(out); err != nil {
		return res, err
	}
	d.logStage(res)
	return res, nil
}

// RunBase generates base content for every successfully extracted record and
// writes the base table. Records that failed extraction are carried through
// with their error intact.
func (d *Driver) RunBase(ctx context.Context) (StageResult, error) {
	res := StageResult{Stage: generator.StageBase}

	recs, err := d.tables.ReadConstraints()
	if err != nil {
		return res, err
	}
	res.Total = len(recs)

	out := make([]schema.BaseRecord, len(recs))
	d.forEach(ctx, len(recs), func(ctx context.Context, i int) {
		in := recs[i]
		if in.Failed() {
			out[i] = schema.BaseRecord{Key: in.Key, MainTask: in.MainTask, Err: in.Err}
			return
		}
		rec, err := d.base.Generate(llm.WithRecordID(ctx, in.ID), in)
		if err != nil {
			rec.Err = err.Error()
			d.logger.Warn("base generation failed",
				zap.String("record", in.ID), zap.Error(err))
		}
		out[i] = rec
	})

	for _, r := range out {
		if r.Failed() {
			res.Failed++
		}
	}
	if err := d.tables.WriteBase(out); err != nil {
		return res, err
	}
	d.logStage(res)
	return res, nil
}

// RunFit fits every base record against its constraint list, joining the
// constraints table on record ID, and writes the fitted table.
func (d *Driver) RunFit(ctx context.Context) (StageResult, error) {
	res := StageResult{Stage: fitting.StageFitting}

	bases, err := d.tables.ReadBase()
	if err != nil {
		return res, err
	}
	crecs, err := d.tables.ReadConstraints()
	if err != nil {
		return res, err
	}
	byID := make(map[string][]schema.Constraint, len(crecs))
	for _, c := range crecs {
		byID[c.ID] = c.Constraints
	}
	res.Total = len(bases)

	out := make([]schema.FittedRecord, len(bases))
	d.forEach(ctx, len(bases), func(ctx context.Context, i int) {
		in := bases[i]
		if in.Failed() {
			out[i] = schema.FittedRecord{Key: in.Key, MainTask: in.MainTask, Err: in.Err}
			return
		}
		cs, ok := byID[in.ID]
		if !ok {
			out[i] = schema.FittedRecord{
				Key: in.Key, MainTask: in.MainTask, BaseContent: in.BaseContent,
				Err: fmt.Sprintf("no constraint row for record %s", in.ID),
			}
			return
		}
		rec, err := d.fitter.Fit(llm.WithRecordID(ctx, in.ID), in, cs)
		if err != nil {
			rec.Err = err.Error()
			d.logger.Warn("fitting failed",
				zap.String("record", in.ID), zap.Error(err))
		}
		out[i] = rec
	})

	for _, r := range out {
		if r.Failed() {
			res.Failed++
		}
	}
	if err := d.tables.WriteFitted(out); err != nil {
		return res, err
	}
	d.logStage(res)
	return res, nil
}

// RunEvaluate judges every fitted record and writes the evaluations table.
func (d *Driver) RunEvaluate(ctx context.Context) (StageResult, error) {
	res := StageResult{Stage: eval.StageEvaluation}

	fitted, err := d.tables.ReadFitted()
	if err != nil {
		return res, err
	}
	res.Total = len(fitted)

	out := make([]schema.EvaluationRecord, len(fitted))
	d.forEach(ctx, len(fitted), func(ctx context.Context, i int) {
		in := fitted[i]
		if in.Failed() {
			out[i] = schema.EvaluationRecord{Key: in.Key, Err: in.Err}
			return
		}
		rec, err := d.evaluator.Evaluate(llm.WithRecordID(ctx, in.ID), in)
		if err != nil {
			rec.Err = err.Error()
			d.logger.Warn("evaluation failed",
				zap.String("record", in.ID), zap.Error(err))
		}
		out[i] = rec
	})

	for _, r := range out {
		if r.Failed() {
			res.Failed++
		}
	}
	if err := d.tables.WriteEvaluations(out); err != nil {
		return res, err
	}
	d.logStage(res)
	return res, nil
}

// RunQuality compares fitted content across constraint buckets: for every
// record, the baseline bucket's content is judged pairwise against each other
// bucket's content, and the comparisons land in the quality table. It needs a
// fitted table produced from an expanded constraints table.
func (d *Driver) RunQuality(ctx context.Context) (StageResult, error) {
	res := StageResult{Stage: eval.StageQuality}

	fitted, err := d.tables.ReadFitted()
	if err != nil {
		return res, err
	}

	// Group bucket rows by the record they were expanded from.
	type bucket struct {
		size int
		rec  schema.FittedRecord
	}
	groups := make(map[string][]bucket)
	var order []string
	for _, r := range fitted {
		base, size := schema.SplitSubsetID(r.ID)
		if size == 0 {
			continue
		}
		if _, seen := groups[base]; !seen {
			order = append(order, base)
		}
		groups[base] = append(groups[base], bucket{size: size, rec: r})
	}
	if len(groups) == 0 {
		return res, fmt.Errorf("fitted table has no bucket rows; run expand before fit")
	}

	baseline := d.cfg.Expansion.Baseline
	var out []schema.QualityRecord
	for _, baseID := range order {
		var anchor *bucket
		for i := range groups[baseID] {
			if groups[baseID][i].size == baseline {
				anchor = &groups[baseID][i]
			}
		}
		for i := range groups[baseID] {
			b := groups[baseID][i]
			if b.size == baseline {
				continue
			}
			rec := schema.QualityRecord{
				Key:     schema.Key{ID: baseID, Domain: b.rec.Domain},
				SubsetA: baseline,
				SubsetB: b.size,
				Model:   d.cfg.Models.Evaluation,
			}
			switch {
			case anchor == nil:
				rec.Err = fmt.Sprintf("record %s has no baseline bucket %d", baseID, baseline)
			case anchor.rec.Failed():
				rec.Err = anchor.rec.Err
			case b.rec.Failed():
				rec.Err = b.rec.Err
			}
			out = append(out, rec)
		}
	}
	res.Total = len(out)

	d.forEach(ctx, len(out), func(ctx context.Context, i int) {
		rec := &out[i]
		if rec.Failed() {
			return
		}
		g := groups[rec.ID]
		var a, b string
		for _, bk := range g {
			if bk.size == rec.SubsetA {
				a = bk.rec.FittedContent
			}
			if bk.size == rec.SubsetB {
				b = bk.rec.FittedContent
			}
		}
		cmp, err := d.quality.ComparePair(llm.WithRecordID(ctx, rec.ID), rec.Domain, a, b)
		if err != nil {
			rec.Err = err.Error()
			d.logger.Warn("quality comparison failed",
				zap.String("record", rec.ID),
				zap.Int("subset", rec.SubsetB),
				zap.Error(err))
			return
		}
		rec.GrammarA, rec.GrammarB, rec.GrammarPref = cmp.GrammarA, cmp.GrammarB, cmp.GrammarPref
		rec.CoherenceA, rec.CoherenceB, rec.CoherencePref = cmp.CoherenceA, cmp.CoherenceB, cmp.CoherencePref
		rec.LikabilityA, rec.LikabilityB, rec.LikabilityPref = cmp.LikabilityA, cmp.LikabilityB, cmp.LikabilityPref
		rec.Overall = cmp.Overall
	})

	for _, r := range out {
		if r.Failed() {
			res.Failed++
		}
	}
	if err := d.tables.WriteQuality(out); err != nil {
		return res, err
	}
	d.logStage(res)
	return res, nil
}

// RunAll runs all four stages in order. A stage-level error (table I/O, not
// per-record failures) stops the run.
func (d *Driver) RunAll(ctx context.Context) ([]StageResult, error) {
	var results []StageResult
	for _, run := range []func(context.Context) (StageResult, error){
		d.RunConstraints, d.RunBase, d.RunFit, d.RunEvaluate,
	} {
		res, err := run(ctx)
		results = append(results, res)
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// MeanSatisfactionRate averages the satisfaction rate over the non-failed
// rows of the evaluations table.
func (d *Driver) MeanSatisfactionRate() (float64, int, error) {
	recs, err := d.tables.ReadEvaluations()
	if err != nil {
		return 0, 0, err
	}
	var sum float64
	n := 0
	for _, r := range recs {
		if r.Failed() {
			continue
		}
		sum += r.SatisfactionRate
		n++
	}
	if n == 0 {
		return 0, 0, nil
	}
	return sum / float64(n), n, nil
}

func (d *Driver) logStage(res StageResult) {
	d.logger.Info("stage complete",
		zap.String("stage", res.Stage),
		zap.Int("total", res.Total),
		zap.Int("failed", res.Failed))
}
