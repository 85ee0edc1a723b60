// Fedflix - Privacy-Preserving Federated TV Recommendations
// Copyright 2026 Fedflix Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fedflix/fedflix

package workflow

import "context"

// TrainResult is the output of one fine-tuning round.
type TrainResult struct {
	// User is the updated user latent vector.
	User []float64
	// Items is the updated item-factor matrix.
	Items [][]float64
	// Deltas maps item id to the item's factor change this round. Only
	// these rows leave the machine, after privatization.
	Deltas map[int][]float64
}

// Trainer fine-tunes latent factors against local view counts. The
// gradient step itself lives behind this interface; the orchestrator
// only sequences it.
type Trainer interface {
	Train(ctx context.Context, user []float64, items [][]float64, viewCounts []int) (TrainResult, error)
}

// IdentityTrainer returns the factors unchanged with zero deltas for
// every viewed item. It keeps the full workflow runnable when no real
// trainer is wired, and gives tests a deterministic round.
type IdentityTrainer struct{}

// Train implements Trainer.
func (IdentityTrainer) Train(_ context.Context, user []float64, items [][]float64, viewCounts []int) (TrainResult, error) {
	deltas := make(map[int][]float64)
	for id, views := range viewCounts {
		if views <= 0 || id >= len(items) {
			continue
		}
		deltas[id] = make([]float64, len(items[id]))
	}
	return TrainResult{User: user, Items: items, Deltas: deltas}, nil
}

var _ Trainer = IdentityTrainer{}
