// Fedflix - Privacy-Preserving Federated TV Recommendations
// Copyright 2026 Fedflix Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fedflix/fedflix

// Package workflow orchestrates the participant pipeline: environment
// checks, history aggregation, fine-tuning, delta publication, and
// recommendation computation, with observable per-phase status.
package workflow

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is a workflow lifecycle state.
type Status string

const (
	StatusIdle             Status = "idle"
	StatusRunning          Status = "running"
	StatusFineTuning       Status = "fine_tuning"
	StatusComputing        Status = "computing"
	StatusReady            Status = "ready"
	StatusError            Status = "error"
	StatusNoViewingHistory Status = "no_viewing_history"
)

// Busy reports whether the state means an active pass holds the cell.
func (s Status) Busy() bool {
	switch s {
	case StatusRunning, StatusFineTuning, StatusComputing:
		return true
	}
	return false
}

// ErrorKind classifies terminal failures for the UI.
type ErrorKind string

const (
	ErrorNone                     ErrorKind = ""
	ErrorPlatformNotRunning       ErrorKind = "platform_not_running"
	ErrorAggregatorNotInitialized ErrorKind = "aggregator_not_initialized"
	ErrorGeneric                  ErrorKind = "generic"
)

// ErrAlreadyRunning is returned when a trigger races an active pass.
var ErrAlreadyRunning = errors.New("workflow already running")

// ErrNoViewingHistory is returned by StartWorkflow when no viewing
// history has been uploaded, before any pass launches.
var ErrNoViewingHistory = errors.New("no viewing history uploaded")

// Record is a point-in-time status snapshot. RunID ties log lines and
// status polls to one pass.
type Record struct {
	RunID     string    `json:"run_id,omitempty"`
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Cell holds a status record behind a mutex. TryBegin is the only entry
// into a busy state, so checking and claiming the cell is one atomic
// step and two concurrent triggers can never both pass.
type Cell struct {
	mu  sync.Mutex
	rec Record
}

// NewCell creates a Cell in the idle state.
func NewCell() *Cell {
	return &Cell{rec: Record{Status: StatusIdle, UpdatedAt: time.Now()}}
}

// Get returns the current snapshot.
func (c *Cell) Get() Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rec
}

// TryBegin claims the cell for a new pass. It fails when a pass is
// already active.
func (c *Cell) TryBegin(s Status) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rec.Status.Busy() {
		return false
	}
	now := time.Now()
	c.rec = Record{RunID: uuid.NewString(), Status: s, StartedAt: now, UpdatedAt: now}
	return true
}

// Set replaces the status and message, keeping StartedAt.
func (c *Cell) Set(s Status, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rec.Status = s
	c.rec.Message = message
	c.rec.ErrorKind = ErrorNone
	c.rec.UpdatedAt = time.Now()
}

// Fail moves the cell to the error state with a classified cause.
func (c *Cell) Fail(kind ErrorKind, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rec.Status = StatusError
	c.rec.Message = message
	c.rec.ErrorKind = kind
	c.rec.UpdatedAt = time.Now()
}
