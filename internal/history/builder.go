// Fedflix - Privacy-Preserving Federated TV Recommendations
// Copyright 2026 Fedflix Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fedflix/fedflix

// Package history turns raw per-title watch events into the aggregates the
// rest of the pipeline consumes: chronological activity records, implicit
// ratings, and a sparse view-count vector over the shared vocabulary.
package history

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/fedflix/fedflix/internal/metrics"
	"github.com/fedflix/fedflix/internal/vocab"
)

// WatchEvent is one raw viewing-history row: a free-text title and a date
// string in one of two accepted formats.
type WatchEvent struct {
	Title string
	Date  string
}

// Click is an explicit user interaction with a recommended item. Clicks
// fold into aggregation as synthetic single-watch events so interactive
// feedback influences exclusion and future scoring without a separate code
// path.
type Click struct {
	Name string `json:"name"`
}

// ActivityRecord is one row per distinct show: canonical title, ISO week
// of the earliest watch, total view count, and the implicit rating derived
// from the count. Records are ordered oldest activity first.
type ActivityRecord struct {
	Title  string
	Week   int
	Views  int
	Rating float64
}

// dateFormats are the two accepted viewing-history date layouts, tried in
// order: day-first long year, then month-first short year.
var dateFormats = []string{"02/01/2006", "01/02/06"}

// seasonPattern extracts a season number from a raw title.
var seasonPattern = regexp.MustCompile(`Season (\d+)`)

// ParseDate parses a viewing-history date string. The second return is
// false when the date matches neither accepted format and is treated as
// missing.
func ParseDate(s string) (time.Time, bool) {
	for _, layout := range dateFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// CanonicalShow strips any series/season qualifier: the text before the
// first ":" is the canonical show name.
func CanonicalShow(title string) string {
	if idx := strings.Index(title, ":"); idx >= 0 {
		return strings.TrimSpace(title[:idx])
	}
	return strings.TrimSpace(title)
}

// SeasonNumber extracts the season number from a raw title, defaulting
// to 0. Season and day-of-week are derived features only; nothing
// downstream in the core consumes them.
func SeasonNumber(title string) int {
	m := seasonPattern.FindStringSubmatch(title)
	if m == nil {
		return 0
	}
	n := 0
	for _, r := range m[1] {
		n = n*10 + int(r-'0')
	}
	return n
}

// ImplicitRating converts a view count into a preference score in
// [1.0, 5.0]. The log scale saturates so repeat-watch enthusiasm
// contributes diminishing weight.
func ImplicitRating(views int) float64 {
	return math.Min(5.0, 1.0+math.Log1p(float64(views)))
}

// LoadCSV reads viewing-history rows from a CSV stream. The header row is
// skipped; blank rows and rows without both columns are dropped.
func LoadCSV(r io.Reader) ([]WatchEvent, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read viewing history csv: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	events := make([]WatchEvent, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if len(row) < 2 || strings.TrimSpace(row[0]) == "" {
			continue
		}
		events = append(events, WatchEvent{Title: row[0], Date: row[1]})
	}
	return events, nil
}

// ParseCSVBytes parses an in-memory viewing-history CSV.
func ParseCSVBytes(data []byte) ([]WatchEvent, error) {
	return LoadCSV(bytes.NewReader(data))
}

// Builder aggregates watch events against a shared vocabulary.
type Builder struct {
	matcher *vocab.Matcher
	vocab   *vocab.Vocabulary
	logger  zerolog.Logger

	// now is injectable for tests; click events are dated with it.
	now func() time.Time
}

// NewBuilder creates a Builder.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewBuilder(v *vocab.Vocabulary, matcher *vocab.Matcher, logger zerolog.Logger) *Builder {
	return &Builder{
		matcher: matcher,
		vocab:   v,
		logger:  logger.With().Str("component", "history").Logger(),
		now:     time.Now,
	}
}

// group accumulates per-show state during aggregation.
type group struct {
	show    string
	views   int
	first   time.Time
	hasDate bool
}

// Aggregate groups watch events by canonical show name, folds in click
// events as synthetic single watches dated now, drops groups with exactly
// one view, and returns activity records sorted ascending by earliest-seen
// date. Singleton watches carry no sequential signal; dropping them is
// noise reduction, and the chronological ordering keeps downstream
// recent-week filtering deterministic.
func (b *Builder) Aggregate(events []WatchEvent, clicks []Click) []ActivityRecord {
	all := events
	if len(clicks) > 0 {
		now := b.now().Format(dateFormats[0])
		synthetic := make([]WatchEvent, 0, len(clicks))
		for _, c := range clicks {
			if c.Name == "" {
				continue
			}
			synthetic = append(synthetic, WatchEvent{Title: c.Name, Date: now})
		}
		if len(synthetic) > 0 {
			all = make([]WatchEvent, 0, len(events)+len(synthetic))
			all = append(all, events...)
			all = append(all, synthetic...)
			b.logger.Info().Int("clicks", len(synthetic)).Msg("folded click events into viewing history")
		}
	}

	groups := make(map[string]*group)
	order := make([]*group, 0)
	for _, ev := range all {
		show := CanonicalShow(ev.Title)
		if show == "" {
			continue
		}
		date, ok := ParseDate(ev.Date)

		g, exists := groups[show]
		if !exists {
			g = &group{show: show}
			groups[show] = g
			order = append(order, g)
		}
		g.views++
		if ok && (!g.hasDate || date.Before(g.first)) {
			g.first = date
			g.hasDate = true
		}
	}

	// Stable sort keeps first-appearance order for equal dates; groups
	// with no parseable date sort last.
	sort.SliceStable(order, func(i, j int) bool {
		a, b := order[i], order[j]
		if a.hasDate != b.hasDate {
			return a.hasDate
		}
		return a.first.Before(b.first)
	})

	records := make([]ActivityRecord, 0, len(order))
	for _, g := range order {
		if g.views <= 1 {
			continue
		}
		week := 1
		if g.hasDate {
			_, week = g.first.ISOWeek()
		}
		records = append(records, ActivityRecord{
			Title:  g.show,
			Week:   week,
			Views:  g.views,
			Rating: ImplicitRating(g.views),
		})
	}

	b.logger.Debug().
		Int("events", len(all)).
		Int("shows", len(records)).
		Msg("aggregated viewing history")

	return records
}

// ViewCounts resolves activity records against the vocabulary and returns
// a length-N view-count vector plus the titles that failed resolution.
// Unmatched titles contribute nothing to the vector and are never merged
// into another id.
func (b *Builder) ViewCounts(records []ActivityRecord) ([]int, []string) {
	counts := make([]int, b.vocab.Size())
	var unmatched []string

	for _, rec := range records {
		id := b.matcher.Resolve(rec.Title)
		if id == vocab.Unmatched {
			unmatched = append(unmatched, rec.Title)
			metrics.UnmatchedTitles.Inc()
			continue
		}
		counts[id] += rec.Views
	}

	if len(unmatched) > 0 {
		b.logger.Info().Strs("titles", unmatched).Msg("unmatched titles excluded from view counts")
	}
	return counts, unmatched
}

// WatchedTitles returns the normalized watched-title set used by the
// scorer's exclude-watched filter.
func WatchedTitles(records []ActivityRecord) map[string]struct{} {
	watched := make(map[string]struct{}, len(records))
	for _, rec := range records {
		watched[vocab.NormalizeTitle(rec.Title)] = struct{}{}
	}
	return watched
}
