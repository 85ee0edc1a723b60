// Fedflix - Privacy-Preserving Federated TV Recommendations
// Copyright 2026 Fedflix Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fedflix/fedflix

package store

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// ArtifactMetadata describes a stored artifact.
type ArtifactMetadata struct {
	// Kind names the artifact (e.g. "user_vector", "item_delta").
	Kind string `json:"kind"`

	// SavedAt is when the artifact was written.
	SavedAt time.Time `json:"saved_at"`

	// Checksum is the SHA-256 of the uncompressed gob payload.
	Checksum string `json:"checksum"`

	// SizeBytes is the compressed payload size.
	SizeBytes int64 `json:"size_bytes"`
}

// storedArtifact is the on-disk format: a single gob-encoded struct so a
// partial read fails cleanly at decode.
type storedArtifact struct {
	Metadata       ArtifactMetadata
	CompressedData []byte
}

// SaveArtifact gob-encodes data, compresses it, and writes it with a
// checksum to path. The write is atomic: a temp file in the same
// directory is renamed over the target, so readers never observe a
// half-written artifact.
func SaveArtifact(path, kind string, data any) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(data); err != nil {
		return fmt.Errorf("encode %s: %w", kind, err)
	}
	raw := buf.Bytes()

	hash := sha256.Sum256(raw)

	var compressed bytes.Buffer
	gzw := gzip.NewWriter(&compressed)
	if _, err := gzw.Write(raw); err != nil {
		return fmt.Errorf("compress %s: %w", kind, err)
	}
	if err := gzw.Close(); err != nil {
		return fmt.Errorf("finalize compression of %s: %w", kind, err)
	}

	sa := storedArtifact{
		Metadata: ArtifactMetadata{
			Kind:      kind,
			SavedAt:   time.Now(),
			Checksum:  hex.EncodeToString(hash[:]),
			SizeBytes: int64(compressed.Len()),
		},
		CompressedData: compressed.Bytes(),
	}

	return writeAtomic(path, func(w io.Writer) error {
		return gob.NewEncoder(w).Encode(sa)
	})
}

// LoadArtifact reads and verifies an artifact written by SaveArtifact,
// decoding the payload into target.
func LoadArtifact(path string, target any) (*ArtifactMetadata, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from the configured folder layout
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	defer func() { _ = f.Close() }()

	var sa storedArtifact
	if err := gob.NewDecoder(f).Decode(&sa); err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", path, err)
	}

	gzr, err := gzip.NewReader(bytes.NewReader(sa.CompressedData))
	if err != nil {
		return nil, fmt.Errorf("decompress %s: %w", sa.Metadata.Kind, err)
	}
	defer func() { _ = gzr.Close() }()

	raw, err := io.ReadAll(gzr)
	if err != nil {
		return nil, fmt.Errorf("read decompressed %s: %w", sa.Metadata.Kind, err)
	}

	hash := sha256.Sum256(raw)
	if checksum := hex.EncodeToString(hash[:]); checksum != sa.Metadata.Checksum {
		return nil, fmt.Errorf("checksum mismatch for %s: expected %s, got %s", path, sa.Metadata.Checksum, checksum)
	}

	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(target); err != nil {
		return nil, fmt.Errorf("decode %s: %w", sa.Metadata.Kind, err)
	}
	return &sa.Metadata, nil
}

// writeAtomic writes via a temp file in the target's directory and
// renames it into place.
func writeAtomic(path string, write func(io.Writer) error) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if err := write(tmp); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
