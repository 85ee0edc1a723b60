// Fedflix - Privacy-Preserving Federated TV Recommendations
// Copyright 2026 Fedflix Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fedflix/fedflix

// Package rerank implements post-processing for recommendation diversity.
package rerank

import (
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"

	"github.com/fedflix/fedflix/internal/scoring"
)

// maxRerankSize bounds slice allocations; the cap is also bounded by the
// candidate count.
const maxRerankSize = 10000

// Options configures a reranking pass.
type Options struct {
	// Lambda balances relevance against diversity, clamped to [0, 1].
	Lambda float64
	// MaxResults caps the output length.
	MaxResults int
	// NormalizeScores min-max normalizes relevance before the MMR loop.
	// Callers that already normalized for display skip this.
	NormalizeScores bool
}

// Reranker applies Maximal Marginal Relevance reranking. It greedily
// picks the candidate maximizing
//
//	lambda * relevance(i) - (1-lambda) * max(sim(i, s)) over selected s
//
// so lambda 1.0 is pure relevance and 0.0 pure diversity. Similarity is
// cosine over title embeddings.
//
// Reference:
// Carbonell, J., & Goldstein, J. (1998). "The Use of MMR, Diversity-Based
// Reranking for Reordering Documents and Producing Summaries." SIGIR 1998.
type Reranker struct {
	embedder Embedder
	logger   zerolog.Logger
}

// NewReranker creates a Reranker over the given embedder.
func NewReranker(embedder Embedder, logger zerolog.Logger) *Reranker {
	return &Reranker{
		embedder: embedder,
		logger:   logger.With().Str("component", "rerank").Logger(),
	}
}

// Rerank returns a diversity-adjusted permutation of a prefix of preds:
// every output entry is one of the inputs, no entry repeats, and the
// output length is min(MaxResults, len(preds)).
func (r *Reranker) Rerank(preds []scoring.Prediction, opts Options) []scoring.Prediction {
	k := opts.MaxResults
	if k > maxRerankSize {
		k = maxRerankSize
	}
	if k <= 0 || k > len(preds) {
		k = len(preds)
	}
	if len(preds) == 0 {
		return nil
	}

	lambda := math.Min(1, math.Max(0, opts.Lambda))

	relevance := make([]float64, len(preds))
	for i, p := range preds {
		relevance[i] = p.Score
	}
	if opts.NormalizeScores {
		minMaxInPlace(relevance)
	}

	// Pure relevance skips the embedding pass entirely.
	if lambda >= 1.0 {
		return append([]scoring.Prediction(nil), preds[:k]...)
	}

	embeddings := make([][]float64, len(preds))
	for i, p := range preds {
		embeddings[i] = r.embedder.Embed(p.Title)
	}

	selected := make([]scoring.Prediction, 0, k)
	selectedIdx := make([]int, 0, k)
	taken := make([]bool, len(preds))

	for len(selected) < k {
		bestIdx := -1
		bestScore := math.Inf(-1)

		for i := range preds {
			if taken[i] {
				continue
			}

			maxSim := 0.0
			for _, j := range selectedIdx {
				if sim := cosine(embeddings[i], embeddings[j]); sim > maxSim {
					maxSim = sim
				}
			}

			score := lambda*relevance[i] - (1-lambda)*maxSim
			if score > bestScore {
				bestScore = score
				bestIdx = i
			}
		}

		if bestIdx < 0 {
			break
		}
		taken[bestIdx] = true
		selectedIdx = append(selectedIdx, bestIdx)
		selected = append(selected, preds[bestIdx])
	}

	r.logger.Debug().
		Int("candidates", len(preds)).
		Int("selected", len(selected)).
		Float64("lambda", lambda).
		Msg("reranked candidates")

	return selected
}

// cosine returns the cosine similarity of two equal-length vectors, 0 for
// zero vectors.
func cosine(a, b []float64) float64 {
	na := floats.Norm(a, 2)
	nb := floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	return floats.Dot(a, b) / (na * nb)
}

// minMaxInPlace maps values onto [0, 1]; an all-equal input collapses to
// zero.
func minMaxInPlace(vals []float64) {
	if len(vals) == 0 {
		return
	}
	lo := floats.Min(vals)
	hi := floats.Max(vals)
	span := hi - lo
	for i := range vals {
		if span == 0 {
			vals[i] = 0
			continue
		}
		vals[i] = (vals[i] - lo) / span
	}
}
