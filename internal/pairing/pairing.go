package pairing

import (
	"context"
	"fmt"
	"math/rand"

	"go.uber.org/zap"

	"cs4/internal/config"
	"cs4/internal/schema"
)

// Pair is two samples plus their embedding similarity. Kind is "similar" or
// "dissimilar" when the pair came from a band-specific finder.
type Pair struct {
	A          schema.Sample
	B          schema.Sample
	Similarity float64
	Kind       string
}

// Band classifies a similarity score against the configured thresholds.
type Band int

const (
	// Neither - between the two thresholds; excluded from pairing.
	Neither Band = iota
	// Similar - at or above the similar threshold.
	Similar
	// Dissimilar - at or below the dissimilar threshold.
	Dissimilar
)

// Finder selects distinct sample pairs inside a similarity band.
type Finder struct {
	embedder Embedder
	cfg      *config.Config
	logger   *zap.Logger
	rng      *rand.Rand
}

// NewFinder creates a pair finder. rng may be nil for default (unseeded)
// candidate sampling; tests inject a seeded source.
func NewFinder(embedder Embedder, cfg *config.Config, logger *zap.Logger, rng *rand.Rand) *Finder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	return &Finder{embedder: embedder, cfg: cfg, logger: logger, rng: rng}
}

// Classify places a similarity score into a band.
func (f *Finder) Classify(similarity float64) Band {
	switch {
	case similarity >= f.cfg.Pairing.SimilarThreshold:
		return Similar
	case similarity <= f.cfg.Pairing.DissimilarThreshold:
		return Dissimilar
	default:
		return Neither
	}
}

// candidateSampleSize bounds how many partners are scored per anchor.
const candidateSampleSize = 50

// FindPairs embeds every sample and greedily selects up to maxPairs pairs
// whose similarity falls in [lower, upper]. Pairs are distinct: no sample
// appears in more than one pair. For each anchor, up to candidateSampleSize
// unused partners are sampled and the first in-band match wins.
func (f *Finder) FindPairs(ctx context.Context, samples []schema.Sample, maxPairs int, lower, upper float64) ([]Pair, error) {
	if len(samples) < 2 || maxPairs <= 0 {
		return nil, nil
	}

	texts := make([]string, len(samples))
	for i, s := range samples {
		texts[i] = s.SourceText
	}
	embeddings, err := f.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("pairing: embedding samples: %w", err)
	}

	var pairs []Pair
	used := make(map[int]bool, len(samples))

	for i := range samples {
		if len(pairs) >= maxPairs {
			break
		}
		if used[i] {
			continue
		}

		var available []int
		for j := i + 1; j < len(samples); j++ {
			if !used[j] {
				available = append(available, j)
			}
		}
		if len(available) == 0 {
			continue
		}
		f.rng.Shuffle(len(available), func(a, b int) {
			available[a], available[b] = available[b], available[a]
		})
		if len(available) > candidateSampleSize {
			available = available[:candidateSampleSize]
		}

		for _, j := range available {
			sim := Cosine(embeddings[i], embeddings[j])
			if sim < lower || sim > upper {
				continue
			}
			pairs = append(pairs, Pair{A: samples[i], B: samples[j], Similarity: sim})
			used[i] = true
			used[j] = true
			break
		}
	}

	f.logger.Info("pair selection done",
		zap.Int("samples", len(samples)),
		zap.Int("pairs", len(pairs)),
		zap.Float64("lower", lower),
		zap.Float64("upper", upper))
	return pairs, nil
}

// FindDissimilarPairs selects pairs in the dissimilar band, the variant the
// common-constraint stage feeds on.
func (f *Finder) FindDissimilarPairs(ctx context.Context, samples []schema.Sample, maxPairs int) ([]Pair, error) {
	pairs, err := f.FindPairs(ctx, samples, maxPairs, 0, f.cfg.Pairing.DissimilarThreshold)
	for i := range pairs {
		pairs[i].Kind = "dissimilar"
	}
	return pairs, err
}

// FindSimilarPairs selects pairs in the similar band.
func (f *Finder) FindSimilarPairs(ctx context.Context, samples []schema.Sample, maxPairs int) ([]Pair, error) {
	pairs, err := f.FindPairs(ctx, samples, maxPairs, f.cfg.Pairing.SimilarThreshold, 1.0)
	for i := range pairs {
		pairs[i].Kind = "similar"
	}
	return pairs, err
}
