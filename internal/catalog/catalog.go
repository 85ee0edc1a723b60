// Fedflix - Privacy-Preserving Federated TV Recommendations
// Copyright 2026 Fedflix Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fedflix/fedflix

// Package catalog enriches scored titles with display metadata from the
// augmented-titles catalog file.
package catalog

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/fedflix/fedflix/internal/scoring"
	"github.com/fedflix/fedflix/internal/store"
	"github.com/fedflix/fedflix/internal/vocab"
)

// NotAvailable marks a catalog field with no known value.
const NotAvailable = "N/A"

// Title is one catalog row. Missing fields hold NotAvailable rather than
// empty strings so the UI renders a consistent placeholder.
type Title struct {
	Name      string
	Language  string
	Rating    string
	TMDBScore string
	Img       string
}

// Cache is a reloadable in-memory catalog keyed by normalized title.
type Cache struct {
	path   string
	logger zerolog.Logger

	mu     sync.RWMutex
	titles map[string]Title
}

// NewCache creates a catalog cache and performs the initial load. A
// missing catalog file is not fatal: enrichment degrades to placeholder
// fields.
func NewCache(path string, logger zerolog.Logger) *Cache {
	c := &Cache{
		path:   path,
		logger: logger.With().Str("component", "catalog").Logger(),
		titles: make(map[string]Title),
	}
	if err := c.Reload(); err != nil {
		c.logger.Warn().Err(err).Str("path", path).Msg("catalog unavailable, serving placeholders")
	}
	return c
}

// Reload re-reads the catalog file, swapping the table atomically.
func (c *Cache) Reload() error {
	f, err := os.Open(c.path) //nolint:gosec // path comes from configuration
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer func() { _ = f.Close() }()

	reader := csv.NewReader(f)
	reader.Comma = ';'
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return fmt.Errorf("read catalog csv: %w", err)
	}

	titles := make(map[string]Title, len(rows))
	for i, row := range rows {
		if i == 0 || len(row) == 0 || row[0] == "" {
			continue
		}
		t := Title{
			Name:      row[0],
			Language:  field(row, 1),
			Rating:    field(row, 2),
			TMDBScore: field(row, 3),
			Img:       field(row, 4),
		}
		titles[vocab.NormalizeTitle(t.Name)] = t
	}

	c.mu.Lock()
	c.titles = titles
	c.mu.Unlock()

	c.logger.Info().Int("titles", len(titles)).Msg("catalog loaded")
	return nil
}

// Lookup returns the catalog row for a title, with ok reporting whether
// it was present.
func (c *Cache) Lookup(name string) (Title, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.titles[vocab.NormalizeTitle(name)]
	return t, ok
}

// Size returns the number of loaded catalog rows.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.titles)
}

// Enrich joins predictions with catalog metadata into result entries.
// Titles absent from the catalog keep placeholder fields. Scores pass
// through untouched; store.SaveResults drops non-finite entries at
// write time.
func (c *Cache) Enrich(preds []scoring.Prediction, viewCounts []int) []store.RecommendationEntry {
	entries := make([]store.RecommendationEntry, 0, len(preds))
	for _, p := range preds {
		entry := store.RecommendationEntry{
			ID:       p.ItemID,
			Name:     p.Title,
			Language: NotAvailable,
			Rating:   NotAvailable,
			IMDB:     NotAvailable,
			Img:      NotAvailable,
			RawScore: p.Score,
		}
		if viewCounts != nil && p.ItemID >= 0 && p.ItemID < len(viewCounts) {
			entry.Count = viewCounts[p.ItemID]
		}
		if t, ok := c.Lookup(p.Title); ok {
			entry.Language = t.Language
			entry.Rating = t.Rating
			entry.IMDB = t.TMDBScore
			entry.Img = t.Img
		}
		entries = append(entries, entry)
	}
	return entries
}

// field returns the i-th column or NotAvailable when the row is short or
// the cell empty.
func field(row []string, i int) string {
	if i >= len(row) || row[i] == "" {
		return NotAvailable
	}
	return row[i]
}

// ParseScore converts a catalog score field to a float, 0 for
// placeholders.
func ParseScore(s string) float64 {
	if s == NotAvailable {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
