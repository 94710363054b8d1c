// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"

	"github.com/Casvt/Kapowarr-sub000/internal/queue"
)

// QueueHandler serves the download queue.
type QueueHandler struct {
	queue  *queue.Queue
	intake *queue.Intake
}

func NewQueueHandler(q *queue.Queue, intake *queue.Intake) *QueueHandler {
	return &QueueHandler{queue: q, intake: intake}
}

// List handles GET /api/queue
func (h *QueueHandler) List(w http.ResponseWriter, _ *http.Request) {
	RespondJSON(w, http.StatusOK, h.queue.List())
}

// Get handles GET /api/queue/{downloadID}
func (h *QueueHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseIntParam(w, r, "downloadID", "download ID")
	if !ok {
		return
	}
	snapshot, err := h.queue.Get(id)
	if err != nil {
		RespondNotFound(w, err, "Failed to get download")
		return
	}
	RespondJSON(w, http.StatusOK, snapshot)
}

// AddRequest is the body of POST /api/queue: a search-result link to grab
// for a volume or one of its issues.
type AddRequest struct {
	VolumeID int    `json:"volume_id"`
	IssueID  int    `json:"issue_id,omitempty"`
	WebLink  string `json:"web_link"`
	WebTitle string `json:"web_title,omitempty"`
}

// Add handles POST /api/queue
func (h *QueueHandler) Add(w http.ResponseWriter, r *http.Request) {
	var req AddRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if req.VolumeID <= 0 || req.WebLink == "" {
		RespondError(w, http.StatusBadRequest, "volume_id and web_link are required")
		return
	}

	items, err := h.intake.Grab(r.Context(), req.VolumeID, req.IssueID, req.WebLink, req.WebTitle)
	if err != nil {
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	snapshots := make([]queue.Snapshot, 0, len(items))
	for _, item := range items {
		if snapshot, err := h.queue.Get(item.ID); err == nil {
			snapshots = append(snapshots, snapshot)
		}
	}
	RespondJSON(w, http.StatusCreated, snapshots)
}

// Cancel handles DELETE /api/queue/{downloadID}
func (h *QueueHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseIntParam(w, r, "downloadID", "download ID")
	if !ok {
		return
	}
	if err := h.queue.Cancel(id); err != nil {
		RespondNotFound(w, err, "Failed to cancel download")
		return
	}
	RespondJSON(w, http.StatusOK, nil)
}
