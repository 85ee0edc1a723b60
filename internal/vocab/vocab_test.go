// Fedflix - Privacy-Preserving Federated TV Recommendations
// Copyright 2026 Fedflix Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fedflix/fedflix

package vocab

import (
	"os"
	"path/filepath"
	"testing"
)

func testVocabulary(t *testing.T) *Vocabulary {
	t.Helper()
	v, err := New(map[string]int{
		"Breaking Bad":    0,
		"Dark":            1,
		"The Crown":       2,
		"Stranger Things": 3,
		"The Office":      4,
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return v
}

func TestNewRejectsInvalidIDs(t *testing.T) {
	tests := []struct {
		name string
		ids  map[string]int
	}{
		{"out of range", map[string]int{"A": 0, "B": 2}},
		{"negative", map[string]int{"A": -1, "B": 0}},
		{"duplicate", map[string]int{"A": 0, "B": 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.ids); err == nil {
				t.Error("New() = nil error, want density violation")
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vocabulary.json")
	if err := os.WriteFile(path, []byte(`{"Dark":0,"The Crown":1}`), 0o600); err != nil {
		t.Fatal(err)
	}

	v, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if v.Size() != 2 {
		t.Errorf("Size() = %d, want 2", v.Size())
	}
	if id, ok := v.ID("Dark"); !ok || id != 0 {
		t.Errorf("ID(Dark) = %d, %v", id, ok)
	}
	if v.Title(1) != "The Crown" {
		t.Errorf("Title(1) = %q", v.Title(1))
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("Load() = nil error for missing file")
	}
}

func TestMatcherExactShortCircuit(t *testing.T) {
	v := testVocabulary(t)
	m := NewMatcher(v, 80)

	if got := m.Resolve("Stranger Things"); got != 3 {
		t.Errorf("Resolve(exact) = %d, want 3", got)
	}
}

func TestMatcherFuzzyAboveThreshold(t *testing.T) {
	v := testVocabulary(t)
	m := NewMatcher(v, 80)

	// One dropped character; similarity stays above 80.
	if got := m.Resolve("Strnger Things"); got != 3 {
		t.Errorf("Resolve(fuzzy) = %d, want 3", got)
	}
}

func TestMatcherBelowThresholdUnmatched(t *testing.T) {
	v := testVocabulary(t)
	m := NewMatcher(v, 80)

	if got := m.Resolve("Completely Different Show"); got != Unmatched {
		t.Errorf("Resolve(unrelated) = %d, want %d", got, Unmatched)
	}
}

func TestNormalizeTitle(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Breaking Bad", "breaking bad"},
		{"DARK", "dark"},
		{"Dark\u200b", "dark"},
		{"\ufeffThe Crown", "the crown"},
	}

	for _, tt := range tests {
		if got := NormalizeTitle(tt.input); got != tt.want {
			t.Errorf("NormalizeTitle(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
