// Fedflix - Privacy-Preserving Federated TV Recommendations
// Copyright 2026 Fedflix Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fedflix/fedflix

package api

import (
	"net/http"
	"time"

	json "github.com/goccy/go-json"

	"github.com/fedflix/fedflix/internal/logging"
)

// APIResponse is the envelope every endpoint returns.
type APIResponse struct {
	Status    string    `json:"status"`
	Data      any       `json:"data,omitempty"`
	Error     *APIError `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// APIError carries a machine-readable code alongside the message.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	writeEnvelope(w, status, &APIResponse{
		Status:    "success",
		Data:      data,
		Timestamp: time.Now(),
	})
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	writeEnvelope(w, status, &APIResponse{
		Status:    "error",
		Error:     &APIError{Code: code, Message: message},
		Timestamp: time.Now(),
	})
}

func writeEnvelope(w http.ResponseWriter, status int, resp *APIResponse) {
	w.Header().Set("Content-Type", "application/json")

	data, err := json.Marshal(resp)
	if err != nil {
		logging.Error().Err(err).Msg("marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("write response")
	}
}
