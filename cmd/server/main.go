// Fedflix - Privacy-Preserving Federated TV Recommendations
// Copyright 2026 Fedflix Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fedflix/fedflix

// Package main is the entry point for the Fedflix participant node.
//
// The node runs the local half of a federated TV recommendation system:
// it aggregates the user's viewing history, fine-tunes latent factors
// against the aggregator's global model, publishes a differentially
// private item-factor delta, and serves reranked recommendations over a
// small HTTP API. All coordination with the aggregator happens through
// synchronized folders; no recommendation data leaves the machine except
// the noisy delta.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fedflix/fedflix/internal/api"
	"github.com/fedflix/fedflix/internal/catalog"
	"github.com/fedflix/fedflix/internal/config"
	"github.com/fedflix/fedflix/internal/logging"
	"github.com/fedflix/fedflix/internal/privacy"
	"github.com/fedflix/fedflix/internal/rerank"
	"github.com/fedflix/fedflix/internal/scoring"
	"github.com/fedflix/fedflix/internal/store"
	"github.com/fedflix/fedflix/internal/workflow"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fedflix: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	logger := logging.Logger()

	paths := store.Paths{
		PrivateDir:    cfg.Data.Dir,
		SharedDir:     cfg.Data.SharedDir,
		RestrictedDir: cfg.Data.RestrictedDir,
	}
	if err := paths.EnsureLocal(); err != nil {
		return err
	}

	privatizer, err := privacy.NewPrivatizer(privacy.Config{
		Epsilon:       cfg.Privacy.Epsilon,
		Noise:         cfg.Privacy.Noise,
		Sensitivity:   cfg.Privacy.Sensitivity,
		ClipMethod:    cfg.Privacy.ClipMethod,
		ClipThreshold: cfg.Privacy.ClipThreshold,
		Seed:          cfg.Model.Seed,
	}, logger)
	if err != nil {
		return err
	}

	cat := catalog.NewCache(cfg.Data.CatalogPath, logger)
	reranker := rerank.NewReranker(rerank.NewHashingEmbedder(0), logger)

	params := workflow.Params{
		LatentDim:      cfg.Model.LatentDim,
		MatchThreshold: cfg.Match.Threshold,
		Seed:           cfg.Model.Seed,
		Scoring: scoring.Options{
			NormalizeItemFactors: cfg.Scoring.NormalizeItemFactors,
			NormMethod:           cfg.Scoring.NormMethod,
			NormTarget:           cfg.Scoring.NormTarget,
			ScoreNormalization:   cfg.Scoring.ScoreNormalization,
			RecentWeek:           cfg.Scoring.RecentWeek,
			ExcludeWatched:       cfg.Scoring.ExcludeWatched,
			TopK:                 cfg.Scoring.TopK,
		},
		Rerank: rerank.Options{
			Lambda:     cfg.Rerank.Lambda,
			MaxResults: cfg.Rerank.MaxResults,
			// Scoring already normalized for display; rerank on raw
			// relevance only when it did not.
			NormalizeScores: cfg.Scoring.ScoreNormalization == scoring.ScoreNormNone,
		},
	}

	// The production trainer arrives with the training sidecar; until it
	// is wired the identity trainer keeps the full round runnable.
	orch := workflow.NewOrchestrator(paths, cat, workflow.IdentityTrainer{}, privatizer, reranker, params, logger)

	handler := api.NewHandler(orch, logger)
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.Timeout,
		WriteTimeout:      cfg.Server.Timeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", srv.Addr).
			Bool("needs_fine_tuning", orch.NeedsFineTuning()).
			Msg("fedflix participant node listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
