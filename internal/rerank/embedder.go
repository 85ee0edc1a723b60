// Fedflix - Privacy-Preserving Federated TV Recommendations
// Copyright 2026 Fedflix Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fedflix/fedflix

package rerank

import (
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"gonum.org/v1/gonum/floats"
)

// Embedder maps a title to a dense vector used for pairwise similarity.
type Embedder interface {
	Embed(text string) []float64
	Dimension() int
}

// DefaultEmbeddingDim is the hashed feature space size. Large enough that
// unrelated titles rarely collide, small enough to keep the pairwise
// similarity pass cheap for a few hundred candidates.
const DefaultEmbeddingDim = 256

// HashingEmbedder builds deterministic title embeddings from hashed
// character n-gram and token features, L2-normalized. No model files and
// no network, so reranking works the same offline and in tests.
type HashingEmbedder struct {
	dimension int
}

// NewHashingEmbedder creates a HashingEmbedder. A non-positive dim falls
// back to DefaultEmbeddingDim.
func NewHashingEmbedder(dim int) *HashingEmbedder {
	if dim <= 0 {
		dim = DefaultEmbeddingDim
	}
	return &HashingEmbedder{dimension: dim}
}

// Dimension returns the embedding width.
func (e *HashingEmbedder) Dimension() int {
	return e.dimension
}

// Embed produces the embedding for a title. Identical input always yields
// an identical vector.
func (e *HashingEmbedder) Embed(text string) []float64 {
	vec := make([]float64, e.dimension)

	e.addFeatures(vec, ngrams(text, 3), 0.35)
	e.addFeatures(vec, ngrams(text, 2), 0.25)
	e.addFeatures(vec, tokenize(text), 0.40)

	norm := floats.Norm(vec, 2)
	if norm > 0 {
		floats.Scale(1/norm, vec)
	}
	return vec
}

// addFeatures spreads each feature over a few signed buckets so single
// collisions do not dominate the vector.
func (e *HashingEmbedder) addFeatures(vec []float64, features []string, weight float64) {
	if len(features) == 0 {
		return
	}
	w := weight / math.Sqrt(float64(len(features)))

	for _, f := range features {
		state := fnvHash(f)
		for i := 0; i < 4; i++ {
			state = state*6364136223846793005 + 1442695040888963407
			sign := 1.0
			if state&1 == 1 {
				sign = -1.0
			}
			vec[(state>>1)%uint64(e.dimension)] += w * sign
		}
	}
}

func tokenize(text string) []string {
	text = strings.ToLower(text)
	var tokens []string
	var current strings.Builder

	flush := func() {
		if current.Len() >= 2 {
			tokens = append(tokens, current.String())
		}
		current.Reset()
	}

	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			current.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

func ngrams(text string, n int) []string {
	text = strings.ToLower(text)
	if len(text) < n {
		return nil
	}
	out := make([]string, 0, len(text)-n+1)
	for i := 0; i+n <= len(text); i++ {
		out = append(out, text[i:i+n])
	}
	return out
}

func fnvHash(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}

var _ Embedder = (*HashingEmbedder)(nil)
