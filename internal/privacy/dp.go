// Fedflix - Privacy-Preserving Federated TV Recommendations
// Copyright 2026 Fedflix Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fedflix/fedflix

// Package privacy applies differential privacy to item-factor deltas
// before publication: per-item norm clipping followed by calibrated
// gaussian or laplace noise.
package privacy

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/fedflix/fedflix/internal/metrics"
)

// Noise mechanism families.
const (
	NoiseGaussian = "gaussian"
	NoiseLaplace  = "laplace"
)

// Clip threshold derivation methods.
const (
	ClipMedian = "median"
	ClipMean   = "mean"
)

// dpDelta is the delta parameter of the gaussian mechanism.
const dpDelta = 1e-5

// Config parameterizes one privatization round.
type Config struct {
	// Epsilon is the privacy budget. Must be positive.
	Epsilon float64
	// Noise selects the mechanism family, "gaussian" or "laplace".
	Noise string
	// Sensitivity scales the noise magnitude.
	Sensitivity float64
	// ClipThreshold caps per-item delta norms. Zero derives a threshold
	// from the data via ClipMethod.
	ClipThreshold float64
	// ClipMethod is "median" or "mean", used when ClipThreshold is zero.
	ClipMethod string
	// Seed fixes the noise source for reproducible output. Zero draws a
	// fresh seed per round; repeating noise across rounds would let the
	// aggregator subtract it out.
	Seed uint64
}

// Validate rejects configurations that must not silently default.
func (c Config) Validate() error {
	if c.Epsilon <= 0 {
		return fmt.Errorf("epsilon must be positive, got %v", c.Epsilon)
	}
	if c.Noise != NoiseGaussian && c.Noise != NoiseLaplace {
		return fmt.Errorf("unknown noise mechanism %q", c.Noise)
	}
	if c.ClipMethod != ClipMedian && c.ClipMethod != ClipMean {
		return fmt.Errorf("unknown clip method %q", c.ClipMethod)
	}
	if c.ClipThreshold < 0 {
		return fmt.Errorf("clip threshold must be non-negative, got %v", c.ClipThreshold)
	}
	return nil
}

// Privatizer clips and noises item-factor deltas.
type Privatizer struct {
	cfg    Config
	logger zerolog.Logger
}

// NewPrivatizer creates a Privatizer, validating cfg up front.
func NewPrivatizer(cfg Config, logger zerolog.Logger) (*Privatizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Privatizer{
		cfg:    cfg,
		logger: logger.With().Str("component", "privacy").Logger(),
	}, nil
}

// OptimalThreshold derives a clip threshold from the delta norms using the
// configured method. Returns 0 for an empty input.
func (p *Privatizer) OptimalThreshold(deltas map[int][]float64) float64 {
	if len(deltas) == 0 {
		return 0
	}
	norms := make([]float64, 0, len(deltas))
	for _, d := range deltas {
		norms = append(norms, floats.Norm(d, 2))
	}
	sort.Float64s(norms)

	switch p.cfg.ClipMethod {
	case ClipMean:
		return stat.Mean(norms, nil)
	default:
		return stat.Quantile(0.5, stat.Empirical, norms, nil)
	}
}

// Apply clips every delta to the threshold and adds calibrated noise,
// returning a new map with the same keys plus the threshold used. The
// input map is never mutated. With a fixed seed the output is fully
// deterministic: keys are processed in sorted order so the noise stream
// assignment is stable.
func (p *Privatizer) Apply(deltas map[int][]float64) (map[int][]float64, float64, error) {
	threshold := p.cfg.ClipThreshold
	if threshold == 0 {
		threshold = p.OptimalThreshold(deltas)
	}

	scale, err := p.noiseScale()
	if err != nil {
		return nil, 0, err
	}

	seed := p.cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	src := rand.NewSource(seed)
	var noise func() float64
	switch p.cfg.Noise {
	case NoiseGaussian:
		dist := distuv.Normal{Mu: 0, Sigma: scale, Src: src}
		noise = dist.Rand
	case NoiseLaplace:
		dist := distuv.Laplace{Mu: 0, Scale: scale, Src: src}
		noise = dist.Rand
	default:
		return nil, 0, fmt.Errorf("unknown noise mechanism %q", p.cfg.Noise)
	}

	ids := make([]int, 0, len(deltas))
	for id := range deltas {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	out := make(map[int][]float64, len(deltas))
	for _, id := range ids {
		clipped := clip(deltas[id], threshold)
		out[id] = addNoise(clipped, noise)
	}

	metrics.DeltasPublished.Inc()
	p.logger.Info().
		Int("items", len(out)).
		Float64("threshold", threshold).
		Float64("epsilon", p.cfg.Epsilon).
		Str("noise", p.cfg.Noise).
		Msg("privatized item deltas")

	return out, threshold, nil
}

// noiseScale computes sigma for the gaussian mechanism or the scale
// parameter for laplace, both calibrated to sensitivity and epsilon.
func (p *Privatizer) noiseScale() (float64, error) {
	switch p.cfg.Noise {
	case NoiseGaussian:
		return p.cfg.Sensitivity * math.Sqrt(2*math.Log(1.25/dpDelta)) / p.cfg.Epsilon, nil
	case NoiseLaplace:
		return p.cfg.Sensitivity / p.cfg.Epsilon, nil
	default:
		return 0, fmt.Errorf("unknown noise mechanism %q", p.cfg.Noise)
	}
}

// clip returns a copy of d rescaled to exactly threshold when its norm
// exceeds it, preserving direction. Deltas within the threshold copy
// through unchanged.
func clip(d []float64, threshold float64) []float64 {
	out := append([]float64(nil), d...)
	norm := floats.Norm(out, 2)
	if threshold > 0 && norm > threshold {
		floats.Scale(threshold/norm, out)
	}
	return out
}

// addNoise perturbs the delta direction and rescales back to the pre-noise
// norm, so noise changes where the delta points rather than how large it
// is. A zero delta has no direction; it gets plain additive noise.
func addNoise(d []float64, noise func() float64) []float64 {
	norm := floats.Norm(d, 2)
	if norm == 0 {
		out := make([]float64, len(d))
		for i := range out {
			out[i] = noise()
		}
		return out
	}

	unit := append([]float64(nil), d...)
	floats.Scale(1/norm, unit)
	for i := range unit {
		unit[i] += noise()
	}

	noisyNorm := floats.Norm(unit, 2)
	if noisyNorm > 0 {
		floats.Scale(norm/noisyNorm, unit)
	}
	return unit
}
