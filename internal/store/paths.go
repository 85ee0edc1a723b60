// Fedflix - Privacy-Preserving Federated TV Recommendations
// Copyright 2026 Fedflix Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fedflix/fedflix

// Package store persists the participant's local artifacts: viewing
// history, latent vectors, published deltas, and recommendation result
// files.
//
// Three folders with different trust levels make up the layout. The
// private folder holds everything derived from the user's own viewing.
// The shared folder is read-only input from the aggregator (vocabulary
// and global item factors). The restricted folder is the single outbound
// channel: only the noisy delta is ever written there.
package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// Artifact file names inside the folder layout.
const (
	viewingHistoryFile = "viewing_history.csv"
	activityFile       = "activity.gob.gz"
	userVectorFile     = "user_vector.gob.gz"
	viewCountsFile     = "view_counts.gob.gz"
	updatedFactorsFile = "updated_item_factors.gob.gz"
	rawResultsFile     = "recommendations_raw.json"
	rerankedFile       = "recommendations_reranked.json"
	clicksFile         = "clicks.json"

	vocabularyFile    = "vocabulary.json"
	globalFactorsFile = "global_item_factors.gob.gz"

	deltaFile = "item_delta.gob.gz"
)

// Paths resolves artifact locations from the three base folders.
type Paths struct {
	// PrivateDir holds user-derived artifacts, created on demand.
	PrivateDir string
	// SharedDir is aggregator-provided input, never written.
	SharedDir string
	// RestrictedDir receives the published delta.
	RestrictedDir string
}

// EnsureLocal creates the writable folders. The shared folder is the
// platform's to provide; its absence is reported by the workflow, not
// fixed here.
func (p Paths) EnsureLocal() error {
	for _, dir := range []string{p.PrivateDir, p.RestrictedDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create local folder %s: %w", dir, err)
		}
	}
	return nil
}

func (p Paths) ViewingHistoryPath() string { return filepath.Join(p.PrivateDir, viewingHistoryFile) }
func (p Paths) ActivityPath() string       { return filepath.Join(p.PrivateDir, activityFile) }
func (p Paths) UserVectorPath() string     { return filepath.Join(p.PrivateDir, userVectorFile) }
func (p Paths) ViewCountsPath() string     { return filepath.Join(p.PrivateDir, viewCountsFile) }
func (p Paths) UpdatedFactorsPath() string { return filepath.Join(p.PrivateDir, updatedFactorsFile) }
func (p Paths) RawResultsPath() string     { return filepath.Join(p.PrivateDir, rawResultsFile) }
func (p Paths) RerankedResultsPath() string {
	return filepath.Join(p.PrivateDir, rerankedFile)
}
func (p Paths) ClicksPath() string { return filepath.Join(p.PrivateDir, clicksFile) }

func (p Paths) VocabularyPath() string    { return filepath.Join(p.SharedDir, vocabularyFile) }
func (p Paths) GlobalFactorsPath() string { return filepath.Join(p.SharedDir, globalFactorsFile) }

func (p Paths) DeltaPath() string { return filepath.Join(p.RestrictedDir, deltaFile) }
