// Fedflix - Privacy-Preserving Federated TV Recommendations
// Copyright 2026 Fedflix Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fedflix/fedflix

package workflow

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/fedflix/fedflix/internal/catalog"
	"github.com/fedflix/fedflix/internal/history"
	"github.com/fedflix/fedflix/internal/metrics"
	"github.com/fedflix/fedflix/internal/privacy"
	"github.com/fedflix/fedflix/internal/rerank"
	"github.com/fedflix/fedflix/internal/scoring"
	"github.com/fedflix/fedflix/internal/store"
	"github.com/fedflix/fedflix/internal/vocab"
)

// Params bundles the tunables a pipeline pass needs.
type Params struct {
	// LatentDim is the latent factor dimensionality D.
	LatentDim int
	// MatchThreshold is the fuzzy title match cutoff in [0, 100].
	MatchThreshold int
	// Scoring configures the scoring pass.
	Scoring scoring.Options
	// Rerank configures the diversity pass.
	Rerank rerank.Options
	// Seed fixes random initialization for tests; 0 in production.
	Seed uint64
}

// Orchestrator sequences the federated-learning workflow and the
// recommendation computation. Both run as fire-and-forget background
// passes; status cells are the only observable surface.
type Orchestrator struct {
	paths      store.Paths
	catalog    *catalog.Cache
	trainer    Trainer
	privatizer *privacy.Privatizer
	reranker   *rerank.Reranker
	params     Params
	logger     zerolog.Logger

	fl      *Cell
	compute *Cell

	clicksMu sync.Mutex
}

// NewOrchestrator creates an Orchestrator with both cells idle.
func NewOrchestrator(paths store.Paths, cat *catalog.Cache, trainer Trainer, priv *privacy.Privatizer, reranker *rerank.Reranker, params Params, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		paths:      paths,
		catalog:    cat,
		trainer:    trainer,
		privatizer: priv,
		reranker:   reranker,
		params:     params,
		logger:     logger.With().Str("component", "workflow").Logger(),
		fl:         NewCell(),
		compute:    NewCell(),
	}
}

// WorkflowStatus returns the federated-learning pass status.
func (o *Orchestrator) WorkflowStatus() Record { return o.fl.Get() }

// ComputationStatus returns the recommendation computation status.
func (o *Orchestrator) ComputationStatus() Record { return o.compute.Get() }

// StartWorkflow launches a full federated-learning pass in the
// background. The viewing-history precondition is checked before the
// pass launches so a missing upload surfaces to the caller
// synchronously. ErrAlreadyRunning when a pass is active,
// ErrNoViewingHistory when nothing has been uploaded yet.
func (o *Orchestrator) StartWorkflow() error {
	if !o.fl.TryBegin(StatusRunning) {
		return ErrAlreadyRunning
	}
	if !o.HasViewingHistory() {
		o.fl.Set(StatusNoViewingHistory, "no viewing history uploaded")
		metrics.WorkflowRuns.WithLabelValues(string(StatusNoViewingHistory)).Inc()
		return ErrNoViewingHistory
	}
	go o.runWorkflow(context.Background())
	return nil
}

// StartComputation launches recommendation recomputation only, without a
// training round. ErrAlreadyRunning when a computation is active.
func (o *Orchestrator) StartComputation() error {
	if !o.compute.TryBegin(StatusComputing) {
		return ErrAlreadyRunning
	}
	go func() {
		if err := o.runComputation(context.Background()); err != nil {
			o.compute.Fail(classify(err), err.Error())
			metrics.ComputationRuns.WithLabelValues(string(StatusError)).Inc()
			o.logger.Error().Err(err).Msg("recommendation computation failed")
			return
		}
		o.compute.Set(StatusReady, "recommendations computed")
		metrics.ComputationRuns.WithLabelValues(string(StatusReady)).Inc()
	}()
	return nil
}

// NeedsFineTuning reports whether a training round is due: no delta has
// been published yet, no user vector exists, or the aggregator shipped
// global factors newer than the last delta. Side-effect free.
func (o *Orchestrator) NeedsFineTuning() bool {
	deltaInfo, err := os.Stat(o.paths.DeltaPath())
	if err != nil {
		return true
	}
	if _, err := os.Stat(o.paths.UserVectorPath()); err != nil {
		return true
	}
	globalInfo, err := os.Stat(o.paths.GlobalFactorsPath())
	if err != nil {
		return false
	}
	return globalInfo.ModTime().After(deltaInfo.ModTime())
}

// HasViewingHistory reports whether a viewing-history upload exists.
func (o *Orchestrator) HasViewingHistory() bool {
	_, err := os.Stat(o.paths.ViewingHistoryPath())
	return err == nil
}

// Paths exposes the folder layout for the HTTP boundary.
func (o *Orchestrator) Paths() store.Paths { return o.paths }

// RecordClicks appends click-through items to the pending click file.
// They fold into the next aggregation as synthetic watch events.
func (o *Orchestrator) RecordClicks(clicks []history.Click) error {
	o.clicksMu.Lock()
	defer o.clicksMu.Unlock()

	existing, err := o.loadClicks()
	if err != nil {
		return err
	}
	existing = append(existing, clicks...)

	data, err := json.Marshal(existing)
	if err != nil {
		return fmt.Errorf("encode clicks: %w", err)
	}
	if err := os.WriteFile(o.paths.ClicksPath(), data, 0o600); err != nil {
		return fmt.Errorf("write clicks: %w", err)
	}
	return nil
}

func (o *Orchestrator) loadClicks() ([]history.Click, error) {
	data, err := os.ReadFile(o.paths.ClicksPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read clicks: %w", err)
	}
	var clicks []history.Click
	if err := json.Unmarshal(data, &clicks); err != nil {
		return nil, fmt.Errorf("decode clicks: %w", err)
	}
	return clicks, nil
}

// runWorkflow executes the full pass: environment check, aggregation,
// model reset, fine-tuning, delta publication, recommendation
// computation. Status moves at each phase boundary; there is no
// cancellation once started.
func (o *Orchestrator) runWorkflow(ctx context.Context) {
	start := time.Now()
	logger := o.logger.With().Str("run_id", o.fl.Get().RunID).Logger()

	fail := func(kind ErrorKind, err error) {
		o.fl.Fail(kind, err.Error())
		metrics.WorkflowRuns.WithLabelValues(string(StatusError)).Inc()
		logger.Error().Err(err).Str("error_kind", string(kind)).Msg("workflow failed")
	}

	if kind, err := o.checkEnvironment(); err != nil {
		fail(kind, err)
		return
	}

	events, clicks, err := o.loadEvents()
	if err != nil {
		fail(ErrorGeneric, err)
		return
	}
	if len(events) == 0 {
		o.fl.Set(StatusNoViewingHistory, "no viewing history uploaded")
		metrics.WorkflowRuns.WithLabelValues(string(StatusNoViewingHistory)).Inc()
		return
	}

	voc, err := vocab.Load(o.paths.VocabularyPath())
	if err != nil {
		fail(ErrorAggregatorNotInitialized, err)
		return
	}
	builder := history.NewBuilder(voc, vocab.NewMatcher(voc, o.params.MatchThreshold), o.logger)

	records := builder.Aggregate(events, clicks)
	if err := store.SaveArtifact(o.paths.ActivityPath(), "activity", records); err != nil {
		fail(ErrorGeneric, err)
		return
	}
	counts, _ := builder.ViewCounts(records)
	if err := store.SaveArtifact(o.paths.ViewCountsPath(), "view_counts", counts); err != nil {
		fail(ErrorGeneric, err)
		return
	}

	// Each round restarts from the aggregator's global factors, so a
	// stale local model never leaks into the new delta.
	if err := o.clearLocalModel(); err != nil {
		fail(ErrorGeneric, err)
		return
	}

	o.fl.Set(StatusFineTuning, "fine-tuning local model")
	tuneStart := time.Now()

	var items [][]float64
	if _, err := store.LoadArtifact(o.paths.GlobalFactorsPath(), &items); err != nil {
		fail(ErrorAggregatorNotInitialized, fmt.Errorf("load global item factors: %w", err))
		return
	}
	user, err := store.LoadOrInitUserVector(o.paths.UserVectorPath(), o.params.LatentDim, o.params.Seed, o.logger)
	if err != nil {
		fail(ErrorGeneric, err)
		return
	}

	result, err := o.trainer.Train(ctx, user, items, counts)
	if err != nil {
		fail(ErrorGeneric, fmt.Errorf("fine-tune: %w", err))
		return
	}
	if err := store.SaveArtifact(o.paths.UserVectorPath(), "user_vector", result.User); err != nil {
		fail(ErrorGeneric, err)
		return
	}
	if err := store.SaveArtifact(o.paths.UpdatedFactorsPath(), "updated_item_factors", result.Items); err != nil {
		fail(ErrorGeneric, err)
		return
	}
	metrics.PhaseDuration.WithLabelValues("fine_tuning").Observe(time.Since(tuneStart).Seconds())

	noisy, threshold, err := o.privatizer.Apply(result.Deltas)
	if err != nil {
		fail(ErrorGeneric, fmt.Errorf("privatize delta: %w", err))
		return
	}
	if err := store.SaveArtifact(o.paths.DeltaPath(), "item_delta", noisy); err != nil {
		fail(ErrorGeneric, err)
		return
	}
	logger.Info().Float64("clip_threshold", threshold).Int("items", len(noisy)).Msg("published noisy delta")

	o.fl.Set(StatusComputing, "computing recommendations")
	if err := o.runComputation(ctx); err != nil {
		fail(classify(err), err)
		return
	}

	o.fl.Set(StatusReady, "workflow complete")
	metrics.WorkflowRuns.WithLabelValues(string(StatusReady)).Inc()
	metrics.PhaseDuration.WithLabelValues("workflow").Observe(time.Since(start).Seconds())
}

// runComputation scores, reranks, enriches, and persists both result
// lists. Used by the standalone computation trigger and as the final
// workflow phase.
func (o *Orchestrator) runComputation(_ context.Context) error {
	start := time.Now()

	if kind, err := o.checkEnvironment(); err != nil {
		return &classifiedError{kind: kind, err: err}
	}

	voc, err := vocab.Load(o.paths.VocabularyPath())
	if err != nil {
		return &classifiedError{kind: ErrorAggregatorNotInitialized, err: err}
	}
	builder := history.NewBuilder(voc, vocab.NewMatcher(voc, o.params.MatchThreshold), o.logger)

	events, clicks, err := o.loadEvents()
	if err != nil {
		return err
	}
	records := builder.Aggregate(events, clicks)
	counts, _ := builder.ViewCounts(records)

	// Locally fine-tuned factors win over the shipped global ones when a
	// training round already ran.
	var items [][]float64
	if _, err := store.LoadArtifact(o.paths.UpdatedFactorsPath(), &items); err != nil {
		if _, err := store.LoadArtifact(o.paths.GlobalFactorsPath(), &items); err != nil {
			return &classifiedError{kind: ErrorAggregatorNotInitialized, err: fmt.Errorf("load item factors: %w", err)}
		}
	}
	user, err := store.LoadOrInitUserVector(o.paths.UserVectorPath(), o.params.LatentDim, o.params.Seed, o.logger)
	if err != nil {
		return err
	}

	scorer := scoring.NewScorer(voc, o.logger)
	preds, err := scorer.Score(user, items, records, o.params.Scoring)
	if err != nil {
		return err
	}

	raw := scoring.TopK(preds, o.params.Scoring.TopK)
	if err := store.SaveResults(o.paths.RawResultsPath(), o.catalog.Enrich(raw, counts), o.logger); err != nil {
		return err
	}

	reranked := o.reranker.Rerank(preds, o.params.Rerank)
	if err := store.SaveResults(o.paths.RerankedResultsPath(), o.catalog.Enrich(reranked, counts), o.logger); err != nil {
		return err
	}

	metrics.PhaseDuration.WithLabelValues("computation").Observe(time.Since(start).Seconds())
	o.logger.Info().Int("raw", len(raw)).Int("reranked", len(reranked)).Msg("persisted recommendation results")
	return nil
}

// loadEvents reads the uploaded viewing history and pending clicks. A
// missing history file yields no events, not an error.
func (o *Orchestrator) loadEvents() ([]history.WatchEvent, []history.Click, error) {
	f, err := os.Open(o.paths.ViewingHistoryPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open viewing history: %w", err)
	}
	defer func() { _ = f.Close() }()

	events, err := history.LoadCSV(f)
	if err != nil {
		return nil, nil, err
	}

	o.clicksMu.Lock()
	clicks, err := o.loadClicks()
	o.clicksMu.Unlock()
	if err != nil {
		return nil, nil, err
	}
	return events, clicks, nil
}

// clearLocalModel removes the persisted user vector and locally updated
// item factors so the round starts from the global model.
func (o *Orchestrator) clearLocalModel() error {
	for _, path := range []string{o.paths.UserVectorPath(), o.paths.UpdatedFactorsPath()} {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("clear local model: %w", err)
		}
	}
	return nil
}

// checkEnvironment classifies missing platform state: an absent shared
// folder means the data-sharing platform is not running, a present
// folder without vocabulary or global factors means the aggregator has
// not initialized yet.
func (o *Orchestrator) checkEnvironment() (ErrorKind, error) {
	if _, err := os.Stat(o.paths.SharedDir); err != nil {
		return ErrorPlatformNotRunning, fmt.Errorf("shared folder unavailable: %w", err)
	}
	if _, err := os.Stat(o.paths.VocabularyPath()); err != nil {
		return ErrorAggregatorNotInitialized, fmt.Errorf("vocabulary not published: %w", err)
	}
	if _, err := os.Stat(o.paths.GlobalFactorsPath()); err != nil {
		return ErrorAggregatorNotInitialized, fmt.Errorf("global item factors not published: %w", err)
	}
	return ErrorNone, nil
}

// classifiedError carries an ErrorKind through the computation path.
type classifiedError struct {
	kind ErrorKind
	err  error
}

func (e *classifiedError) Error() string { return e.err.Error() }
func (e *classifiedError) Unwrap() error { return e.err }

// classify extracts the ErrorKind from an error chain, defaulting to
// generic.
func classify(err error) ErrorKind {
	var ce *classifiedError
	if errors.As(err, &ce) {
		return ce.kind
	}
	return ErrorGeneric
}
