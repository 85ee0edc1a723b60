// Fedflix - Privacy-Preserving Federated TV Recommendations
// Copyright 2026 Fedflix Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fedflix/fedflix

// Package api is the HTTP boundary: thin handlers over the workflow
// orchestrator and the persisted result files.
package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/fedflix/fedflix/internal/history"
	"github.com/fedflix/fedflix/internal/store"
	"github.com/fedflix/fedflix/internal/workflow"
)

// maxHistoryUpload bounds a viewing-history CSV upload.
const maxHistoryUpload = 10 << 20

// mutationRateLimit caps trigger and upload requests per client IP per
// minute. Reads stay unlimited; the UI polls status endpoints.
const mutationRateLimit = 30

// Handler wires the endpoints to the orchestrator.
type Handler struct {
	orch     *workflow.Orchestrator
	validate *validator.Validate
	logger   zerolog.Logger
}

// NewHandler creates a Handler.
func NewHandler(orch *workflow.Orchestrator, logger zerolog.Logger) *Handler {
	return &Handler{
		orch:     orch,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.With().Str("component", "api").Logger(),
	}
}

// Router builds the chi route tree.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/workflow/status", h.handleWorkflowStatus)
		r.Get("/recommendations/status", h.handleComputationStatus)
		r.Get("/recommendations", h.handleRecommendations)
		r.Get("/history", h.handleHistoryInfo)

		// Triggers and uploads are rate limited per client IP.
		r.Group(func(r chi.Router) {
			r.Use(httprate.LimitByIP(mutationRateLimit, time.Minute))

			r.Post("/workflow", h.handleStartWorkflow)
			r.Post("/recommendations/compute", h.handleStartComputation)
			r.Post("/history", h.handleUploadHistory)
			r.Post("/clicks", h.handleClicks)
		})
	})

	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleStartWorkflow(w http.ResponseWriter, _ *http.Request) {
	if err := h.orch.StartWorkflow(); err != nil {
		if errors.Is(err, workflow.ErrAlreadyRunning) {
			respondError(w, http.StatusConflict, "ALREADY_RUNNING", "a workflow pass is already running")
			return
		}
		if errors.Is(err, workflow.ErrNoViewingHistory) {
			respondError(w, http.StatusConflict, "NO_VIEWING_HISTORY", "upload a viewing history before starting the workflow")
			return
		}
		respondError(w, http.StatusInternalServerError, "WORKFLOW_START_FAILED", err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, h.orch.WorkflowStatus())
}

func (h *Handler) handleWorkflowStatus(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, h.orch.WorkflowStatus())
}

func (h *Handler) handleStartComputation(w http.ResponseWriter, _ *http.Request) {
	if err := h.orch.StartComputation(); err != nil {
		if errors.Is(err, workflow.ErrAlreadyRunning) {
			respondError(w, http.StatusConflict, "ALREADY_RUNNING", "a computation is already running")
			return
		}
		respondError(w, http.StatusInternalServerError, "COMPUTE_START_FAILED", err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, h.orch.ComputationStatus())
}

func (h *Handler) handleComputationStatus(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, h.orch.ComputationStatus())
}

// handleRecommendations serves a persisted result list. The "list" query
// parameter selects "raw" or "reranked" (default).
func (h *Handler) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	paths := h.orch.Paths()
	path := paths.RerankedResultsPath()
	switch list := r.URL.Query().Get("list"); list {
	case "", "reranked":
	case "raw":
		path = paths.RawResultsPath()
	default:
		respondError(w, http.StatusBadRequest, "INVALID_LIST", fmt.Sprintf("unknown list %q, want raw or reranked", list))
		return
	}

	entries, err := store.LoadResults(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			respondError(w, http.StatusNotFound, "NOT_COMPUTED", "no recommendations computed yet")
			return
		}
		h.logger.Error().Err(err).Msg("load results")
		respondError(w, http.StatusInternalServerError, "RESULTS_UNAVAILABLE", "could not read results")
		return
	}
	respondJSON(w, http.StatusOK, entries)
}

// handleUploadHistory stores the raw CSV body as the viewing history
// after checking it parses.
func (h *Handler) handleUploadHistory(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxHistoryUpload))
	if err != nil {
		respondError(w, http.StatusRequestEntityTooLarge, "UPLOAD_TOO_LARGE", "viewing history exceeds the upload limit")
		return
	}

	events, err := history.ParseCSVBytes(body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_CSV", err.Error())
		return
	}

	paths := h.orch.Paths()
	if err := os.WriteFile(paths.ViewingHistoryPath(), body, 0o600); err != nil {
		h.logger.Error().Err(err).Msg("store viewing history")
		respondError(w, http.StatusInternalServerError, "UPLOAD_FAILED", "could not store viewing history")
		return
	}

	h.logger.Info().Int("events", len(events)).Msg("viewing history uploaded")
	respondJSON(w, http.StatusOK, map[string]any{"events": len(events)})
}

func (h *Handler) handleHistoryInfo(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"exists": h.orch.HasViewingHistory(),
		"path":   h.orch.Paths().ViewingHistoryPath(),
	})
}

// clicksRequest is the POST /clicks body.
type clicksRequest struct {
	Clicks []history.Click `json:"clicks" validate:"required,min=1,dive"`
}

func (h *Handler) handleClicks(w http.ResponseWriter, r *http.Request) {
	var req clicksRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "clicks must contain at least one item")
		return
	}

	if err := h.orch.RecordClicks(req.Clicks); err != nil {
		h.logger.Error().Err(err).Msg("record clicks")
		respondError(w, http.StatusInternalServerError, "CLICKS_FAILED", "could not record clicks")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"recorded": len(req.Clicks)})
}
