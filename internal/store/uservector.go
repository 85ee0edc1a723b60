// Fedflix - Privacy-Preserving Federated TV Recommendations
// Copyright 2026 Fedflix Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fedflix/fedflix

package store

import (
	"errors"
	"io/fs"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// initSigma is the standard deviation for freshly initialized user
// vector coordinates. Small enough that an untrained vector scores every
// item near zero.
const initSigma = 0.01

// LoadOrInitUserVector returns the persisted user latent vector resized
// to dim, creating a fresh random one when none exists. A persisted
// vector of stale dimensionality is extended with N(0, initSigma) values
// or truncated, then written back so the next load is clean. seed fixes
// the initialization for tests; pass 0 in production.
func LoadOrInitUserVector(path string, dim int, seed uint64, logger zerolog.Logger) ([]float64, error) {
	var vec []float64
	_, err := LoadArtifact(path, &vec)
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist):
		vec = randomVector(dim, seed)
		logger.Info().Int("dim", dim).Msg("initialized fresh user vector")
		if err := SaveArtifact(path, "user_vector", vec); err != nil {
			return nil, err
		}
		return vec, nil
	default:
		return nil, err
	}

	if len(vec) == dim {
		return vec, nil
	}

	logger.Warn().
		Int("persisted_dim", len(vec)).
		Int("dim", dim).
		Msg("resizing persisted user vector")

	if len(vec) > dim {
		vec = vec[:dim]
	} else {
		vec = append(vec, randomVector(dim-len(vec), seed)...)
	}
	if err := SaveArtifact(path, "user_vector", vec); err != nil {
		return nil, err
	}
	return vec, nil
}

func randomVector(n int, seed uint64) []float64 {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	dist := distuv.Normal{Mu: 0, Sigma: initSigma, Src: rand.NewSource(seed)}
	vec := make([]float64, n)
	for i := range vec {
		vec[i] = dist.Rand()
	}
	return vec
}
