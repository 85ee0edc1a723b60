// Fedflix - Privacy-Preserving Federated TV Recommendations
// Copyright 2026 Fedflix Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fedflix/fedflix

// Package vocab provides the shared item vocabulary and title resolution.
//
// The vocabulary is the canonical title-to-id mapping distributed by the
// aggregator. Ids are dense integers 0..N-1 and stable within a training
// round; row i of the global item-factor matrix corresponds to vocabulary
// id i.
package vocab

import (
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-json"
)

// Unmatched is the sentinel id for titles that resolve to no vocabulary
// entry.
const Unmatched = -1

// Vocabulary is the canonical item catalog shared by all participants.
type Vocabulary struct {
	ids    map[string]int
	titles []string
}

// Load reads a vocabulary from a JSON file mapping title -> id and
// validates that ids are dense in [0, N) with no duplicates.
func Load(path string) (*Vocabulary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vocabulary %s: %w", path, err)
	}

	var ids map[string]int
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("parse vocabulary %s: %w", path, err)
	}

	return New(ids)
}

// New builds a Vocabulary from a title -> id mapping, validating density.
func New(ids map[string]int) (*Vocabulary, error) {
	n := len(ids)
	titles := make([]string, n)
	seen := make([]bool, n)

	for title, id := range ids {
		if id < 0 || id >= n {
			return nil, fmt.Errorf("vocabulary id %d for %q out of range [0,%d)", id, title, n)
		}
		if seen[id] {
			return nil, fmt.Errorf("vocabulary id %d assigned to both %q and %q", id, titles[id], title)
		}
		seen[id] = true
		titles[id] = title
	}

	return &Vocabulary{ids: ids, titles: titles}, nil
}

// Size returns the number of vocabulary items N.
func (v *Vocabulary) Size() int {
	return len(v.titles)
}

// ID returns the id for an exact title match.
func (v *Vocabulary) ID(title string) (int, bool) {
	id, ok := v.ids[title]
	return id, ok
}

// Title returns the title for an id, or "" if out of range.
func (v *Vocabulary) Title(id int) string {
	if id < 0 || id >= len(v.titles) {
		return ""
	}
	return v.titles[id]
}

// Titles returns all titles in id order. Candidate enumeration over this
// slice is deterministic, which fixes the tie-break order of equal scores.
// Callers must not mutate the returned slice.
func (v *Vocabulary) Titles() []string {
	return v.titles
}

// zeroWidthReplacer strips zero-width characters that occasionally leak
// into exported viewing-history titles.
var zeroWidthReplacer = strings.NewReplacer(
	"\u200b", "", // zero width space
	"\u200c", "", // zero width non-joiner
	"\u200d", "", // zero width joiner
	"\ufeff", "", // byte order mark
)

// NormalizeTitle case-folds a title and strips zero-width characters, for
// watched-set membership checks.
func NormalizeTitle(title string) string {
	return strings.ToLower(zeroWidthReplacer.Replace(title))
}
