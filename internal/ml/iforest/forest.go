// Package iforest implements an isolation forest: an ensemble of random
// partitioning trees where anomalies are isolated in fewer splits than normal points.
//
// Scores follow the score_samples convention: -2^(-E[h(x)]/c(psi)), so values lie
// in [-1, 0) and lower means more anomalous. The classification offset is the
// contamination percentile of the training scores.
package iforest

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"telemetry-ml/internal/ml/numeric"
)

const eulerGamma = 0.5772156649

// Config holds the ensemble hyperparameters.
type Config struct {
	NEstimators   int
	MaxSamples    int     // subsample size per tree, capped at the row count
	Contamination float64 // expected anomaly fraction, (0, 0.5]
	Seed          int64
}

// Forest is a fitted ensemble. All fields are exported for persistence.
type Forest struct {
	Trees       []Tree  `json:"trees"`
	SampleSize  int     `json:"sampleSize"`
	NumFeatures int     `json:"numFeatures"`
	Offset      float64 `json:"offset"`
}

// Fit builds the ensemble over rows and calibrates the anomaly offset.
// ctx is checked between trees.
func Fit(ctx context.Context, rows [][]float64, cfg Config) (*Forest, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("fit isolation forest: no rows")
	}
	if cfg.NEstimators <= 0 || cfg.MaxSamples <= 0 {
		return nil, fmt.Errorf("fit isolation forest: estimators and max samples must be positive")
	}
	if cfg.Contamination <= 0 || cfg.Contamination > 0.5 {
		return nil, fmt.Errorf("fit isolation forest: contamination %v out of range (0, 0.5]", cfg.Contamination)
	}

	numFeatures := len(rows[0])
	for i, row := range rows {
		if len(row) != numFeatures {
			return nil, fmt.Errorf("fit isolation forest: row %d has %d features, want %d", i, len(row), numFeatures)
		}
	}

	sampleSize := cfg.MaxSamples
	if sampleSize > len(rows) {
		sampleSize = len(rows)
	}
	maxDepth := int(math.Ceil(math.Log2(math.Max(float64(sampleSize), 2))))

	f := &Forest{
		Trees:       make([]Tree, 0, cfg.NEstimators),
		SampleSize:  sampleSize,
		NumFeatures: numFeatures,
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	b := &builder{rng: rng, maxDepth: maxDepth, numFeatures: numFeatures}

	for t := 0; t < cfg.NEstimators; t++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		perm := rng.Perm(len(rows))
		sample := make([][]float64, sampleSize)
		for i := 0; i < sampleSize; i++ {
			sample[i] = rows[perm[i]]
		}
		f.Trees = append(f.Trees, b.build(sample))
	}

	scores, err := f.ScoreSamples(rows)
	if err != nil {
		return nil, err
	}
	f.Offset = numeric.Percentile(scores, 100*cfg.Contamination)

	return f, nil
}

// ScoreSamples returns the anomaly score of each row.
func (f *Forest) ScoreSamples(rows [][]float64) ([]float64, error) {
	if len(f.Trees) == 0 {
		return nil, fmt.Errorf("score isolation forest: no trees")
	}
	norm := averagePathLength(f.SampleSize)
	if norm == 0 {
		norm = 1
	}

	scores := make([]float64, len(rows))
	for i, row := range rows {
		if len(row) != f.NumFeatures {
			return nil, fmt.Errorf("score isolation forest: row %d has %d features, want %d", i, len(row), f.NumFeatures)
		}
		total := 0.0
		for t := range f.Trees {
			total += f.Trees[t].pathLength(row)
		}
		mean := total / float64(len(f.Trees))
		scores[i] = -math.Pow(2, -mean/norm)
	}
	return scores, nil
}

// IsAnomaly classifies a score against the calibrated offset.
func (f *Forest) IsAnomaly(score float64) bool {
	return score < f.Offset
}

// Validate checks a forest read back from storage.
func (f *Forest) Validate() error {
	if len(f.Trees) == 0 {
		return fmt.Errorf("isolation forest: no trees")
	}
	if f.NumFeatures <= 0 || f.SampleSize <= 0 {
		return fmt.Errorf("isolation forest: invalid shape (features=%d, sample size=%d)", f.NumFeatures, f.SampleSize)
	}
	for i := range f.Trees {
		if err := f.Trees[i].validate(f.NumFeatures); err != nil {
			return fmt.Errorf("isolation forest tree %d: %w", i, err)
		}
	}
	return nil
}

// averagePathLength is c(n), the average path length of an unsuccessful BST search.
func averagePathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	if n == 2 {
		return 1
	}
	// c(n) = 2H(n-1) - 2(n-1)/n, H(i) ≈ ln(i) + γ
	return 2*(math.Log(float64(n-1))+eulerGamma) - 2*float64(n-1)/float64(n)
}
