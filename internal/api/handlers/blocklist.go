// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"

	"github.com/Casvt/Kapowarr-sub000/internal/domain"
	"github.com/Casvt/Kapowarr-sub000/internal/models"
)

// BlocklistHandler serves the blocklist.
type BlocklistHandler struct {
	blocklist *models.BlocklistStore
}

func NewBlocklistHandler(blocklist *models.BlocklistStore) *BlocklistHandler {
	return &BlocklistHandler{blocklist: blocklist}
}

// List handles GET /api/blocklist
func (h *BlocklistHandler) List(w http.ResponseWriter, r *http.Request) {
	entries, err := h.blocklist.List(r.Context())
	if err != nil {
		RespondNotFound(w, err, "Failed to list blocklist")
		return
	}
	if entries == nil {
		entries = []*models.BlocklistEntry{}
	}
	RespondJSON(w, http.StatusOK, entries)
}

// BlocklistAddRequest is the body of POST /api/blocklist.
type BlocklistAddRequest struct {
	WebLink      string `json:"web_link,omitempty"`
	DownloadLink string `json:"download_link,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// Add handles POST /api/blocklist
func (h *BlocklistHandler) Add(w http.ResponseWriter, r *http.Request) {
	var req BlocklistAddRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if req.WebLink == "" && req.DownloadLink == "" {
		RespondError(w, http.StatusBadRequest, "web_link or download_link is required")
		return
	}
	reason := domain.BlocklistReason(req.Reason)
	if reason == "" {
		reason = domain.ReasonAddedByUser
	}

	entry, err := h.blocklist.Add(r.Context(), &models.BlocklistEntry{
		WebLink:      req.WebLink,
		DownloadLink: req.DownloadLink,
		Reason:       reason,
	})
	if err != nil {
		RespondNotFound(w, err, "Failed to add blocklist entry")
		return
	}
	RespondJSON(w, http.StatusCreated, entry)
}

// Delete handles DELETE /api/blocklist/{entryID}
func (h *BlocklistHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseIntParam(w, r, "entryID", "entry ID")
	if !ok {
		return
	}
	if err := h.blocklist.Delete(r.Context(), id); err != nil {
		RespondNotFound(w, err, "Failed to delete blocklist entry")
		return
	}
	RespondJSON(w, http.StatusOK, nil)
}
