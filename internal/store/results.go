// Fedflix - Privacy-Preserving Federated TV Recommendations
// Copyright 2026 Fedflix Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fedflix/fedflix

package store

import (
	"fmt"
	"io"
	"math"
	"os"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/fedflix/fedflix/internal/metrics"
)

// RecommendationEntry is one row of a persisted result file, enriched
// with catalog metadata. The "imdb" key carries the catalog's tmdb_score
// for UI compatibility.
type RecommendationEntry struct {
	ID       int     `json:"id"`
	Name     string  `json:"name"`
	Language string  `json:"language"`
	Rating   string  `json:"rating"`
	IMDB     string  `json:"imdb"`
	Img      string  `json:"img"`
	Count    int     `json:"count"`
	RawScore float64 `json:"raw_score"`
}

// SaveResults writes a result file wholesale, replacing any previous
// content atomically. Entries with a non-finite score are dropped with a
// warning; JSON has no encoding for NaN or infinities and a poisoned
// score must not reach the UI.
func SaveResults(path string, entries []RecommendationEntry, logger zerolog.Logger) error {
	kept := make([]RecommendationEntry, 0, len(entries))
	for _, e := range entries {
		if math.IsNaN(e.RawScore) || math.IsInf(e.RawScore, 0) {
			metrics.RejectedScores.Inc()
			logger.Warn().Str("name", e.Name).Float64("raw_score", e.RawScore).Msg("dropping entry with non-finite score")
			continue
		}
		kept = append(kept, e)
	}

	return writeAtomic(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(kept); err != nil {
			return fmt.Errorf("encode results: %w", err)
		}
		return nil
	})
}

// LoadResults reads a persisted result file.
func LoadResults(path string) ([]RecommendationEntry, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the configured folder layout
	if err != nil {
		return nil, fmt.Errorf("read results: %w", err)
	}
	var entries []RecommendationEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode results %s: %w", path, err)
	}
	return entries, nil
}
