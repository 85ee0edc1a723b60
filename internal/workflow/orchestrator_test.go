// Fedflix - Privacy-Preserving Federated TV Recommendations
// Copyright 2026 Fedflix Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fedflix/fedflix

package workflow

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/fedflix/fedflix/internal/catalog"
	"github.com/fedflix/fedflix/internal/history"
	"github.com/fedflix/fedflix/internal/privacy"
	"github.com/fedflix/fedflix/internal/rerank"
	"github.com/fedflix/fedflix/internal/scoring"
	"github.com/fedflix/fedflix/internal/store"
)

const testHistoryCSV = `Title,Date
Dark: Season 1,05/01/2024
Dark: Season 2,12/01/2024
The Crown: Season 1,06/01/2024
The Crown: Season 1,07/01/2024
`

type fixture struct {
	orch  *Orchestrator
	paths store.Paths
}

// newFixture builds a fully provisioned participant environment: shared
// vocabulary and global factors, plus an uploaded viewing history.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	base := t.TempDir()
	paths := store.Paths{
		PrivateDir:    filepath.Join(base, "private"),
		SharedDir:     filepath.Join(base, "shared"),
		RestrictedDir: filepath.Join(base, "restricted"),
	}
	if err := paths.EnsureLocal(); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(paths.SharedDir, 0o750); err != nil {
		t.Fatal(err)
	}

	vocabJSON := `{"Dark":0,"The Crown":1,"Breaking Bad":2}`
	if err := os.WriteFile(paths.VocabularyPath(), []byte(vocabJSON), 0o600); err != nil {
		t.Fatal(err)
	}
	global := [][]float64{{0.5, 0.1}, {0.2, 0.4}, {0.9, -0.3}}
	if err := store.SaveArtifact(paths.GlobalFactorsPath(), "global_item_factors", global); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(paths.ViewingHistoryPath(), []byte(testHistoryCSV), 0o600); err != nil {
		t.Fatal(err)
	}

	return &fixture{orch: newOrchestrator(t, paths), paths: paths}
}

func newOrchestrator(t *testing.T, paths store.Paths) *Orchestrator {
	t.Helper()
	priv, err := privacy.NewPrivatizer(privacy.Config{
		Epsilon:     1.0,
		Noise:       privacy.NoiseGaussian,
		Sensitivity: 1.0,
		ClipMethod:  privacy.ClipMedian,
		Seed:        42,
	}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	params := Params{
		LatentDim:      2,
		MatchThreshold: 80,
		Seed:           7,
		Scoring: scoring.Options{
			ScoreNormalization: scoring.ScoreNormNone,
			TopK:               50,
		},
		Rerank: rerank.Options{Lambda: 0.3, MaxResults: 50, NormalizeScores: true},
	}

	cat := catalog.NewCache(filepath.Join(t.TempDir(), "absent.csv"), zerolog.Nop())
	reranker := rerank.NewReranker(rerank.NewHashingEmbedder(0), zerolog.Nop())
	return NewOrchestrator(paths, cat, IdentityTrainer{}, priv, reranker, params, zerolog.Nop())
}

func TestWorkflowEndToEnd(t *testing.T) {
	f := newFixture(t)
	if !f.orch.fl.TryBegin(StatusRunning) {
		t.Fatal("could not claim idle cell")
	}
	f.orch.runWorkflow(context.Background())

	rec := f.orch.WorkflowStatus()
	if rec.Status != StatusReady {
		t.Fatalf("status = %s (%s), want ready", rec.Status, rec.Message)
	}

	// Delta published for the two watched shows.
	var delta map[int][]float64
	if _, err := store.LoadArtifact(f.paths.DeltaPath(), &delta); err != nil {
		t.Fatalf("load delta: %v", err)
	}
	if len(delta) != 2 {
		t.Errorf("delta items = %d, want 2", len(delta))
	}
	if _, ok := delta[0]; !ok {
		t.Error("delta missing item 0 (Dark)")
	}

	// Both result lists persisted, covering the full vocabulary.
	raw, err := store.LoadResults(f.paths.RawResultsPath())
	if err != nil {
		t.Fatalf("load raw results: %v", err)
	}
	if len(raw) != 3 {
		t.Errorf("raw results = %d, want 3", len(raw))
	}
	reranked, err := store.LoadResults(f.paths.RerankedResultsPath())
	if err != nil {
		t.Fatalf("load reranked results: %v", err)
	}
	if len(reranked) != 3 {
		t.Errorf("reranked results = %d, want 3", len(reranked))
	}

	// User vector persisted at the configured dimensionality.
	var user []float64
	if _, err := store.LoadArtifact(f.paths.UserVectorPath(), &user); err != nil {
		t.Fatalf("load user vector: %v", err)
	}
	if len(user) != 2 {
		t.Errorf("user vector dim = %d, want 2", len(user))
	}

	// View-count vector persisted alongside the activity records.
	var counts []int
	if _, err := store.LoadArtifact(f.paths.ViewCountsPath(), &counts); err != nil {
		t.Fatalf("load view counts: %v", err)
	}
	if len(counts) != 3 {
		t.Fatalf("view counts dim = %d, want vocabulary size 3", len(counts))
	}
	if counts[0] != 2 || counts[1] != 2 || counts[2] != 0 {
		t.Errorf("view counts = %v, want [2 2 0]", counts)
	}
}

func TestWorkflowNoViewingHistory(t *testing.T) {
	f := newFixture(t)
	if err := os.Remove(f.paths.ViewingHistoryPath()); err != nil {
		t.Fatal(err)
	}

	f.orch.fl.TryBegin(StatusRunning)
	f.orch.runWorkflow(context.Background())

	if got := f.orch.WorkflowStatus().Status; got != StatusNoViewingHistory {
		t.Errorf("status = %s, want no_viewing_history", got)
	}
}

func TestWorkflowPlatformNotRunning(t *testing.T) {
	f := newFixture(t)
	if err := os.RemoveAll(f.paths.SharedDir); err != nil {
		t.Fatal(err)
	}

	f.orch.fl.TryBegin(StatusRunning)
	f.orch.runWorkflow(context.Background())

	rec := f.orch.WorkflowStatus()
	if rec.Status != StatusError || rec.ErrorKind != ErrorPlatformNotRunning {
		t.Errorf("got %s/%s, want error/platform_not_running", rec.Status, rec.ErrorKind)
	}
}

func TestWorkflowAggregatorNotInitialized(t *testing.T) {
	f := newFixture(t)
	if err := os.Remove(f.paths.VocabularyPath()); err != nil {
		t.Fatal(err)
	}

	f.orch.fl.TryBegin(StatusRunning)
	f.orch.runWorkflow(context.Background())

	rec := f.orch.WorkflowStatus()
	if rec.Status != StatusError || rec.ErrorKind != ErrorAggregatorNotInitialized {
		t.Errorf("got %s/%s, want error/aggregator_not_initialized", rec.Status, rec.ErrorKind)
	}
}

func TestStartWorkflowNoHistoryIsSynchronous(t *testing.T) {
	f := newFixture(t)
	if err := os.Remove(f.paths.ViewingHistoryPath()); err != nil {
		t.Fatal(err)
	}

	// No goroutine runs, so the status is settled the moment the call
	// returns.
	if err := f.orch.StartWorkflow(); !errors.Is(err, ErrNoViewingHistory) {
		t.Fatalf("StartWorkflow() = %v, want ErrNoViewingHistory", err)
	}
	if got := f.orch.WorkflowStatus().Status; got != StatusNoViewingHistory {
		t.Errorf("status = %s, want no_viewing_history", got)
	}

	// The cell is released; uploading history unblocks the next trigger.
	if err := os.WriteFile(f.paths.ViewingHistoryPath(), []byte(testHistoryCSV), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := f.orch.StartWorkflow(); err != nil {
		t.Errorf("StartWorkflow() after upload = %v, want nil", err)
	}
}

func TestStartWorkflowSingleFlight(t *testing.T) {
	f := newFixture(t)

	// Claim the cell as an in-progress pass would.
	if !f.orch.fl.TryBegin(StatusRunning) {
		t.Fatal("could not claim idle cell")
	}
	if err := f.orch.StartWorkflow(); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("StartWorkflow() = %v, want ErrAlreadyRunning", err)
	}
}

func TestStartComputationSingleFlight(t *testing.T) {
	f := newFixture(t)

	if !f.orch.compute.TryBegin(StatusComputing) {
		t.Fatal("could not claim idle cell")
	}
	if err := f.orch.StartComputation(); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("StartComputation() = %v, want ErrAlreadyRunning", err)
	}
}

func TestComputationStandalone(t *testing.T) {
	f := newFixture(t)

	if err := f.orch.runComputation(context.Background()); err != nil {
		t.Fatalf("runComputation() error: %v", err)
	}
	raw, err := store.LoadResults(f.paths.RawResultsPath())
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) != 3 {
		t.Errorf("raw results = %d, want 3", len(raw))
	}
}

func TestComputationPrefersUpdatedFactors(t *testing.T) {
	f := newFixture(t)

	// Persist locally tuned factors that dominate item 2.
	updated := [][]float64{{0, 0}, {0, 0}, {10, 10}}
	if err := store.SaveArtifact(f.paths.UpdatedFactorsPath(), "updated_item_factors", updated); err != nil {
		t.Fatal(err)
	}
	// A deterministic user vector keeps the expected ordering stable.
	if err := store.SaveArtifact(f.paths.UserVectorPath(), "user_vector", []float64{1, 1}); err != nil {
		t.Fatal(err)
	}

	if err := f.orch.runComputation(context.Background()); err != nil {
		t.Fatal(err)
	}
	raw, err := store.LoadResults(f.paths.RawResultsPath())
	if err != nil {
		t.Fatal(err)
	}
	if raw[0].Name != "Breaking Bad" {
		t.Errorf("top result = %s, want Breaking Bad from updated factors", raw[0].Name)
	}
}

func TestNeedsFineTuning(t *testing.T) {
	f := newFixture(t)

	if !f.orch.NeedsFineTuning() {
		t.Error("no delta yet, want true")
	}

	if err := store.SaveArtifact(f.paths.DeltaPath(), "item_delta", map[int][]float64{0: {0, 0}}); err != nil {
		t.Fatal(err)
	}
	if !f.orch.NeedsFineTuning() {
		t.Error("no user vector yet, want true")
	}

	if err := store.SaveArtifact(f.paths.UserVectorPath(), "user_vector", []float64{0, 0}); err != nil {
		t.Fatal(err)
	}

	// Delta newer than global factors: up to date.
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(f.paths.GlobalFactorsPath(), old, old); err != nil {
		t.Fatal(err)
	}
	if f.orch.NeedsFineTuning() {
		t.Error("delta is current, want false")
	}

	// Aggregator ships fresh global factors: due again.
	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(f.paths.GlobalFactorsPath(), future, future); err != nil {
		t.Fatal(err)
	}
	if !f.orch.NeedsFineTuning() {
		t.Error("global factors newer than delta, want true")
	}
}

func TestRecordClicksAccumulates(t *testing.T) {
	f := newFixture(t)

	if err := f.orch.RecordClicks([]history.Click{{Name: "Dark"}}); err != nil {
		t.Fatal(err)
	}
	if err := f.orch.RecordClicks([]history.Click{{Name: "The Crown"}}); err != nil {
		t.Fatal(err)
	}

	clicks, err := f.orch.loadClicks()
	if err != nil {
		t.Fatal(err)
	}
	if len(clicks) != 2 {
		t.Fatalf("len(clicks) = %d, want 2", len(clicks))
	}
	if clicks[0].Name != "Dark" || clicks[1].Name != "The Crown" {
		t.Errorf("clicks = %+v", clicks)
	}
}

func TestCellTryBegin(t *testing.T) {
	c := NewCell()

	if !c.TryBegin(StatusRunning) {
		t.Fatal("idle cell refused claim")
	}
	if c.TryBegin(StatusRunning) {
		t.Error("busy cell accepted second claim")
	}

	c.Set(StatusReady, "done")
	if !c.TryBegin(StatusComputing) {
		t.Error("terminal cell refused new claim")
	}
}

func TestCellFail(t *testing.T) {
	c := NewCell()
	c.TryBegin(StatusRunning)
	c.Fail(ErrorPlatformNotRunning, "shared folder unavailable")

	rec := c.Get()
	if rec.Status != StatusError || rec.ErrorKind != ErrorPlatformNotRunning {
		t.Errorf("got %s/%s", rec.Status, rec.ErrorKind)
	}
	if !c.TryBegin(StatusRunning) {
		t.Error("errored cell refused retry")
	}
}

func TestStatusBusy(t *testing.T) {
	busy := []Status{StatusRunning, StatusFineTuning, StatusComputing}
	for _, s := range busy {
		if !s.Busy() {
			t.Errorf("%s.Busy() = false", s)
		}
	}
	idle := []Status{StatusIdle, StatusReady, StatusError, StatusNoViewingHistory}
	for _, s := range idle {
		if s.Busy() {
			t.Errorf("%s.Busy() = true", s)
		}
	}
}

func TestClassify(t *testing.T) {
	ce := &classifiedError{kind: ErrorAggregatorNotInitialized, err: errors.New("boom")}
	if got := classify(ce); got != ErrorAggregatorNotInitialized {
		t.Errorf("classify = %s", got)
	}
	if got := classify(errors.New("plain")); got != ErrorGeneric {
		t.Errorf("classify(plain) = %s, want generic", got)
	}
}

func TestIdentityTrainer(t *testing.T) {
	res, err := IdentityTrainer{}.Train(context.Background(), []float64{1, 2}, [][]float64{{1, 0}, {0, 1}, {1, 1}}, []int{2, 0, 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Deltas) != 2 {
		t.Fatalf("deltas = %d, want viewed items only", len(res.Deltas))
	}
	if _, ok := res.Deltas[1]; ok {
		t.Error("unviewed item has a delta")
	}
	if len(res.Deltas[0]) != 2 {
		t.Errorf("delta dim = %d, want 2", len(res.Deltas[0]))
	}
}
