// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"
	"strconv"

	"github.com/Casvt/Kapowarr-sub000/internal/models"
)

const defaultHistoryLimit = 100

// HistoryHandler serves the download history.
type HistoryHandler struct {
	history *models.HistoryStore
}

func NewHistoryHandler(history *models.HistoryStore) *HistoryHandler {
	return &HistoryHandler{history: history}
}

// List handles GET /api/history
func (h *HistoryHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	entries, err := h.history.List(r.Context(), limit)
	if err != nil {
		RespondNotFound(w, err, "Failed to list history")
		return
	}
	if entries == nil {
		entries = []*models.HistoryEntry{}
	}
	RespondJSON(w, http.StatusOK, entries)
}

// Clear handles DELETE /api/history
func (h *HistoryHandler) Clear(w http.ResponseWriter, r *http.Request) {
	if err := h.history.Clear(r.Context()); err != nil {
		RespondNotFound(w, err, "Failed to clear history")
		return
	}
	RespondJSON(w, http.StatusOK, nil)
}
