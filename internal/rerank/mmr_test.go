// Fedflix - Privacy-Preserving Federated TV Recommendations
// Copyright 2026 Fedflix Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fedflix/fedflix

package rerank

import (
	"math"
	"testing"

	"github.com/rs/zerolog"

	"github.com/fedflix/fedflix/internal/scoring"
)

func testPredictions() []scoring.Prediction {
	return []scoring.Prediction{
		{Title: "Stranger Things", ItemID: 0, Score: 0.9},
		{Title: "Stranger Things 2", ItemID: 1, Score: 0.85},
		{Title: "The Crown", ItemID: 2, Score: 0.8},
		{Title: "Dark", ItemID: 3, Score: 0.7},
		{Title: "Breaking Bad", ItemID: 4, Score: 0.6},
	}
}

func testReranker() *Reranker {
	return NewReranker(NewHashingEmbedder(0), zerolog.Nop())
}

func TestRerankSizeAndUniqueness(t *testing.T) {
	r := testReranker()
	preds := testPredictions()

	tests := []struct {
		name     string
		max      int
		wantSize int
	}{
		{"cap below input", 3, 3},
		{"cap above input", 10, 5},
		{"zero cap returns all", 0, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := r.Rerank(preds, Options{Lambda: 0.3, MaxResults: tt.max})
			if len(out) != tt.wantSize {
				t.Fatalf("len(out) = %d, want %d", len(out), tt.wantSize)
			}

			seen := make(map[int]struct{})
			input := make(map[int]struct{})
			for _, p := range preds {
				input[p.ItemID] = struct{}{}
			}
			for _, p := range out {
				if _, dup := seen[p.ItemID]; dup {
					t.Errorf("duplicate item %d", p.ItemID)
				}
				seen[p.ItemID] = struct{}{}
				if _, ok := input[p.ItemID]; !ok {
					t.Errorf("item %d not in input", p.ItemID)
				}
			}
		})
	}
}

func TestRerankDeterministic(t *testing.T) {
	r := testReranker()
	preds := testPredictions()
	opts := Options{Lambda: 0.3, MaxResults: 4, NormalizeScores: true}

	a := r.Rerank(preds, opts)
	b := r.Rerank(preds, opts)
	if len(a) != len(b) {
		t.Fatalf("lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].ItemID != b[i].ItemID {
			t.Errorf("position %d differs: %d vs %d", i, a[i].ItemID, b[i].ItemID)
		}
	}
}

func TestRerankPureRelevanceKeepsOrder(t *testing.T) {
	r := testReranker()
	preds := testPredictions()

	out := r.Rerank(preds, Options{Lambda: 1.0, MaxResults: 3})
	if len(out) != 3 {
		t.Fatalf("len(out) = %d, want 3", len(out))
	}
	for i, p := range out {
		if p.ItemID != preds[i].ItemID {
			t.Errorf("position %d = item %d, want %d", i, p.ItemID, preds[i].ItemID)
		}
	}
}

func TestRerankFirstPickIsTopScore(t *testing.T) {
	// Nothing is selected yet, so the penalty term is zero and the top
	// relevance item always wins the first slot.
	r := testReranker()
	out := r.Rerank(testPredictions(), Options{Lambda: 0.3, MaxResults: 5, NormalizeScores: true})
	if out[0].ItemID != 0 {
		t.Errorf("first pick = item %d, want 0", out[0].ItemID)
	}
}

func TestRerankPenalizesNearDuplicates(t *testing.T) {
	// At low lambda the near-identical sequel should not follow its
	// sibling immediately.
	r := testReranker()
	out := r.Rerank(testPredictions(), Options{Lambda: 0.3, MaxResults: 5, NormalizeScores: true})
	if out[1].ItemID == 1 {
		t.Error("near-duplicate title selected second despite diversity penalty")
	}
}

func TestRerankEmptyInput(t *testing.T) {
	r := testReranker()
	if out := r.Rerank(nil, Options{Lambda: 0.3, MaxResults: 5}); len(out) != 0 {
		t.Errorf("len(out) = %d, want 0", len(out))
	}
}

func TestEmbedderDeterministicAndNormalized(t *testing.T) {
	e := NewHashingEmbedder(128)

	a := e.Embed("Stranger Things")
	b := e.Embed("Stranger Things")
	if len(a) != 128 {
		t.Fatalf("len = %d, want 128", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("embedding not deterministic")
		}
	}

	var norm float64
	for _, v := range a {
		norm += v * v
	}
	if math.Abs(math.Sqrt(norm)-1.0) > 1e-9 {
		t.Errorf("norm = %v, want 1.0", math.Sqrt(norm))
	}
}

func TestEmbedderSimilarTitlesCloser(t *testing.T) {
	e := NewHashingEmbedder(0)

	base := e.Embed("Stranger Things")
	near := e.Embed("Stranger Things 2")
	far := e.Embed("Breaking Bad")

	if cosine(base, near) <= cosine(base, far) {
		t.Errorf("sim(near) = %v <= sim(far) = %v", cosine(base, near), cosine(base, far))
	}
}

func TestCosineZeroVector(t *testing.T) {
	if got := cosine([]float64{0, 0}, []float64{1, 2}); got != 0 {
		t.Errorf("cosine(zero, v) = %v, want 0", got)
	}
}

func TestMinMaxInPlace(t *testing.T) {
	vals := []float64{2, 4, 6}
	minMaxInPlace(vals)
	want := []float64{0, 0.5, 1}
	for i := range vals {
		if math.Abs(vals[i]-want[i]) > 1e-12 {
			t.Errorf("vals[%d] = %v, want %v", i, vals[i], want[i])
		}
	}

	equal := []float64{3, 3}
	minMaxInPlace(equal)
	if equal[0] != 0 || equal[1] != 0 {
		t.Errorf("all-equal minmax = %v, want zeros", equal)
	}
}
