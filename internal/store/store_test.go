// Fedflix - Privacy-Preserving Federated TV Recommendations
// Copyright 2026 Fedflix Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fedflix/fedflix

package store

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func TestArtifactRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vec.gob.gz")
	in := []float64{1.5, -2.25, 0}

	if err := SaveArtifact(path, "user_vector", in); err != nil {
		t.Fatalf("SaveArtifact() error: %v", err)
	}

	var out []float64
	meta, err := LoadArtifact(path, &out)
	if err != nil {
		t.Fatalf("LoadArtifact() error: %v", err)
	}
	if meta.Kind != "user_vector" {
		t.Errorf("Kind = %q", meta.Kind)
	}
	if len(out) != 3 || out[0] != 1.5 || out[1] != -2.25 {
		t.Errorf("out = %v", out)
	}
}

func TestArtifactDeltaMap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "delta.gob.gz")
	in := map[int][]float64{3: {0.1, 0.2}, 7: {-0.5, 0.5}}

	if err := SaveArtifact(path, "item_delta", in); err != nil {
		t.Fatal(err)
	}
	var out map[int][]float64
	if _, err := LoadArtifact(path, &out); err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 || out[3][1] != 0.2 {
		t.Errorf("out = %v", out)
	}
}

func TestLoadArtifactMissingFile(t *testing.T) {
	var out []float64
	if _, err := LoadArtifact(filepath.Join(t.TempDir(), "absent.gob.gz"), &out); err == nil {
		t.Error("LoadArtifact() = nil error for missing file")
	}
}

func TestLoadArtifactCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.gob.gz")
	if err := os.WriteFile(path, []byte("not a gob stream"), 0o600); err != nil {
		t.Fatal(err)
	}

	var out []float64
	if _, err := LoadArtifact(path, &out); err == nil {
		t.Error("LoadArtifact() = nil error for corrupt file")
	}
}

func TestLoadOrInitUserVectorFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "user.gob.gz")

	vec, err := LoadOrInitUserVector(path, 10, 7, zerolog.Nop())
	if err != nil {
		t.Fatalf("LoadOrInitUserVector() error: %v", err)
	}
	if len(vec) != 10 {
		t.Fatalf("len = %d, want 10", len(vec))
	}
	for _, v := range vec {
		if math.Abs(v) > 0.1 {
			t.Errorf("init value %v implausibly large for sigma 0.01", v)
		}
	}

	// The fresh vector is persisted; a second load returns it unchanged.
	again, err := LoadOrInitUserVector(path, 10, 99, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	for i := range vec {
		if vec[i] != again[i] {
			t.Fatal("persisted vector not reloaded")
		}
	}
}

func TestLoadOrInitUserVectorExtends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "user.gob.gz")
	original := []float64{1, 2, 3, 4, 5, 6, 7, 8}
	if err := SaveArtifact(path, "user_vector", original); err != nil {
		t.Fatal(err)
	}

	vec, err := LoadOrInitUserVector(path, 12, 7, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if len(vec) != 12 {
		t.Fatalf("len = %d, want 12", len(vec))
	}
	for i, want := range original {
		if vec[i] != want {
			t.Errorf("prefix[%d] = %v, want %v", i, vec[i], want)
		}
	}
	for _, v := range vec[8:] {
		if math.Abs(v) > 0.1 {
			t.Errorf("extension value %v implausibly large for sigma 0.01", v)
		}
	}
}

func TestLoadOrInitUserVectorTruncates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "user.gob.gz")
	if err := SaveArtifact(path, "user_vector", []float64{1, 2, 3, 4, 5}); err != nil {
		t.Fatal(err)
	}

	vec, err := LoadOrInitUserVector(path, 3, 0, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if len(vec) != 3 || vec[0] != 1 || vec[2] != 3 {
		t.Errorf("vec = %v, want [1 2 3]", vec)
	}
}

func TestSaveResultsDropsNonFinite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.json")
	entries := []RecommendationEntry{
		{ID: 1, Name: "Dark", RawScore: 0.9},
		{ID: 2, Name: "Broken", RawScore: math.NaN()},
		{ID: 3, Name: "Also Broken", RawScore: math.Inf(1)},
		{ID: 4, Name: "The Crown", RawScore: 0.5},
	}

	if err := SaveResults(path, entries, zerolog.Nop()); err != nil {
		t.Fatalf("SaveResults() error: %v", err)
	}

	out, err := LoadResults(path)
	if err != nil {
		t.Fatalf("LoadResults() error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2", len(out))
	}
	if out[0].Name != "Dark" || out[1].Name != "The Crown" {
		t.Errorf("out = %+v", out)
	}
}

func TestSaveResultsReplacesWholesale(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.json")
	if err := SaveResults(path, []RecommendationEntry{{ID: 1, Name: "Old"}}, zerolog.Nop()); err != nil {
		t.Fatal(err)
	}
	if err := SaveResults(path, []RecommendationEntry{{ID: 2, Name: "New"}}, zerolog.Nop()); err != nil {
		t.Fatal(err)
	}

	out, err := LoadResults(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].Name != "New" {
		t.Errorf("out = %+v, want single New entry", out)
	}
}

func TestPathsLayout(t *testing.T) {
	p := Paths{PrivateDir: "/p", SharedDir: "/s", RestrictedDir: "/r"}

	if got := p.VocabularyPath(); got != filepath.Join("/s", "vocabulary.json") {
		t.Errorf("VocabularyPath() = %q", got)
	}
	if got := p.DeltaPath(); got != filepath.Join("/r", "item_delta.gob.gz") {
		t.Errorf("DeltaPath() = %q", got)
	}
	if got := p.UserVectorPath(); got != filepath.Join("/p", "user_vector.gob.gz") {
		t.Errorf("UserVectorPath() = %q", got)
	}
}

func TestEnsureLocal(t *testing.T) {
	base := t.TempDir()
	p := Paths{
		PrivateDir:    filepath.Join(base, "private"),
		SharedDir:     filepath.Join(base, "shared"),
		RestrictedDir: filepath.Join(base, "restricted"),
	}

	if err := p.EnsureLocal(); err != nil {
		t.Fatalf("EnsureLocal() error: %v", err)
	}
	if _, err := os.Stat(p.PrivateDir); err != nil {
		t.Errorf("private dir missing: %v", err)
	}
	if _, err := os.Stat(p.RestrictedDir); err != nil {
		t.Errorf("restricted dir missing: %v", err)
	}
	// Shared stays untouched; the platform provides it.
	if _, err := os.Stat(p.SharedDir); !os.IsNotExist(err) {
		t.Error("shared dir should not be created")
	}
}
