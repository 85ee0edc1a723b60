// Fedflix - Privacy-Preserving Federated TV Recommendations
// Copyright 2026 Fedflix Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fedflix/fedflix

package vocab

import (
	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
)

// Matcher resolves free-text titles against a vocabulary using exact match
// first and fuzzy similarity on miss. Exact matches short-circuit the fuzzy
// scan.
type Matcher struct {
	vocab     *Vocabulary
	threshold float64
	metric    *metrics.Levenshtein
}

// NewMatcher creates a matcher. threshold is the minimum similarity score
// in [0,100] for a fuzzy match to be accepted.
func NewMatcher(v *Vocabulary, threshold int) *Matcher {
	return &Matcher{
		vocab:     v,
		threshold: float64(threshold),
		metric:    metrics.NewLevenshtein(),
	}
}

// Resolve returns the vocabulary id for a title, or Unmatched. On an exact
// miss, every vocabulary key is scored and the best match is accepted only
// when its similarity reaches the threshold; below-threshold titles
// contribute to neither the count vector nor the exclusion set.
func (m *Matcher) Resolve(title string) int {
	if id, ok := m.vocab.ID(title); ok {
		return id
	}

	bestID := Unmatched
	bestScore := 0.0
	for id, key := range m.vocab.Titles() {
		score := strutil.Similarity(title, key, m.metric) * 100
		if score > bestScore {
			bestScore = score
			bestID = id
		}
	}

	if bestScore >= m.threshold {
		return bestID
	}
	return Unmatched
}

// Score returns the similarity score in [0,100] between two titles,
// exposed for diagnostics.
func (m *Matcher) Score(a, b string) float64 {
	return strutil.Similarity(a, b, m.metric) * 100
}
