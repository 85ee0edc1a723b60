// Fedflix - Privacy-Preserving Federated TV Recommendations
// Copyright 2026 Fedflix Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fedflix/fedflix

// Package scoring ranks vocabulary items for a user by the dot product of
// the user's latent vector against the item-factor matrix, with optional
// item-factor normalization and display-score normalization.
package scoring

import (
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"

	"github.com/fedflix/fedflix/internal/history"
	"github.com/fedflix/fedflix/internal/vocab"
)

// Item-factor normalization methods.
const (
	NormL2        = "l2"
	NormScaleMean = "scale_mean"
)

// Display-score normalization modes. None of them reorder.
const (
	ScoreNormNone    = "none"
	ScoreNormSigmoid = "sigmoid"
	ScoreNormMinMax  = "minmax"
)

// Options controls a scoring pass. The zero value is not useful; populate
// from config defaults.
type Options struct {
	// NormalizeItemFactors applies NormMethod to the item matrix before
	// scoring.
	NormalizeItemFactors bool
	// NormMethod is "l2" (unit rows) or "scale_mean" (uniform rescale so
	// the mean row norm equals NormTarget).
	NormMethod string
	// NormTarget is the mean row norm for "scale_mean".
	NormTarget float64
	// ScoreNormalization is "none", "sigmoid" or "minmax" and affects
	// display values only.
	ScoreNormalization string
	// RecentWeek marks activity at or after this ISO week as recent. Used
	// for diagnostics only.
	RecentWeek int
	// ExcludeWatched removes already-watched titles from the candidate
	// set.
	ExcludeWatched bool
	// TopK bounds the raw result list.
	TopK int
}

// Prediction is one scored candidate.
type Prediction struct {
	Title  string
	ItemID int
	Score  float64
}

// Scorer ranks vocabulary items against user and item latent factors.
type Scorer struct {
	vocab  *vocab.Vocabulary
	logger zerolog.Logger
}

// NewScorer creates a Scorer.
func NewScorer(v *vocab.Vocabulary, logger zerolog.Logger) *Scorer {
	return &Scorer{
		vocab:  v,
		logger: logger.With().Str("component", "scoring").Logger(),
	}
}

// NormalizeItemFactors returns a normalized copy of the item matrix.
// "l2" scales each row to unit norm, keeping zero rows untouched.
// "scale_mean" rescales every row by a single factor so the mean row norm
// equals target. An unknown method is a configuration error.
func NormalizeItemFactors(items [][]float64, method string, target float64) ([][]float64, error) {
	out := make([][]float64, len(items))
	for i, row := range items {
		out[i] = append([]float64(nil), row...)
	}

	switch method {
	case NormL2:
		for _, row := range out {
			norm := floats.Norm(row, 2)
			if norm > 0 {
				floats.Scale(1/norm, row)
			}
		}
	case NormScaleMean:
		if len(out) == 0 {
			return out, nil
		}
		var total float64
		for _, row := range out {
			total += floats.Norm(row, 2)
		}
		mean := total / float64(len(out))
		if mean > 0 {
			factor := target / mean
			for _, row := range out {
				floats.Scale(factor, row)
			}
		}
	default:
		return nil, fmt.Errorf("unknown item factor normalization method %q", method)
	}
	return out, nil
}

// Score ranks every candidate item for the user and returns the full list
// sorted descending by score. The sort is stable, so ties keep vocabulary
// id order. Display normalization is applied after sorting and never
// reorders.
func (s *Scorer) Score(user []float64, items [][]float64, records []history.ActivityRecord, opts Options) ([]Prediction, error) {
	if len(items) != s.vocab.Size() {
		return nil, fmt.Errorf("item factor rows %d do not match vocabulary size %d", len(items), s.vocab.Size())
	}
	for i, row := range items {
		if len(row) != len(user) {
			return nil, fmt.Errorf("item %d has dimension %d, user vector has %d", i, len(row), len(user))
		}
	}

	if opts.NormalizeItemFactors {
		normalized, err := NormalizeItemFactors(items, opts.NormMethod, opts.NormTarget)
		if err != nil {
			return nil, err
		}
		items = normalized
	}

	var watched map[string]struct{}
	if opts.ExcludeWatched {
		watched = history.WatchedTitles(records)
	}

	if opts.RecentWeek > 0 {
		recent := 0
		for _, rec := range records {
			if rec.Week >= opts.RecentWeek {
				recent++
			}
		}
		s.logger.Debug().Int("recent_shows", recent).Int("cutoff_week", opts.RecentWeek).Msg("recent activity")
	}

	preds := make([]Prediction, 0, s.vocab.Size())
	for id, title := range s.vocab.Titles() {
		if watched != nil {
			if _, seen := watched[vocab.NormalizeTitle(title)]; seen {
				continue
			}
		}
		preds = append(preds, Prediction{
			Title:  title,
			ItemID: id,
			Score:  floats.Dot(user, items[id]),
		})
	}

	sort.SliceStable(preds, func(i, j int) bool {
		return preds[i].Score > preds[j].Score
	})

	if err := normalizeScores(preds, opts.ScoreNormalization); err != nil {
		return nil, err
	}

	s.logger.Debug().
		Int("candidates", len(preds)).
		Bool("exclude_watched", opts.ExcludeWatched).
		Msg("scored candidates")

	return preds, nil
}

// TopK returns the first k predictions, or all of them when fewer exist.
func TopK(preds []Prediction, k int) []Prediction {
	if k <= 0 || k >= len(preds) {
		return preds
	}
	return preds[:k]
}

// normalizeScores rewrites scores in place for display. "minmax" maps onto
// [0, 1] with an all-equal list collapsing to zero; "sigmoid" squashes via
// the logistic function.
func normalizeScores(preds []Prediction, mode string) error {
	switch mode {
	case ScoreNormNone, "":
		return nil
	case ScoreNormSigmoid:
		for i := range preds {
			preds[i].Score = 1 / (1 + math.Exp(-preds[i].Score))
		}
		return nil
	case ScoreNormMinMax:
		if len(preds) == 0 {
			return nil
		}
		lo, hi := preds[0].Score, preds[0].Score
		for _, p := range preds[1:] {
			lo = math.Min(lo, p.Score)
			hi = math.Max(hi, p.Score)
		}
		span := hi - lo
		for i := range preds {
			if span == 0 {
				preds[i].Score = 0
				continue
			}
			preds[i].Score = (preds[i].Score - lo) / span
		}
		return nil
	default:
		return fmt.Errorf("unknown score normalization %q", mode)
	}
}
