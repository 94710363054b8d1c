// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/Casvt/Kapowarr-sub000/internal/queue"
	"github.com/Casvt/Kapowarr-sub000/internal/search"
)

// SearchHandler serves manual searches and the auto-search triggers.
type SearchHandler struct {
	engine *search.Engine
	intake *queue.Intake
}

func NewSearchHandler(engine *search.Engine, intake *queue.Intake) *SearchHandler {
	return &SearchHandler{engine: engine, intake: intake}
}

// SearchVolume handles GET /api/volumes/{volumeID}/search
func (h *SearchHandler) SearchVolume(w http.ResponseWriter, r *http.Request) {
	volumeID, ok := ParseVolumeID(w, r)
	if !ok {
		return
	}
	results, err := h.engine.SearchVolume(r.Context(), volumeID)
	if err != nil {
		RespondNotFound(w, err, "Search failed")
		return
	}
	if results == nil {
		results = []*search.Result{}
	}
	RespondJSON(w, http.StatusOK, results)
}

// SearchIssue handles GET /api/volumes/{volumeID}/issues/{issueID}/search
func (h *SearchHandler) SearchIssue(w http.ResponseWriter, r *http.Request) {
	volumeID, ok := ParseVolumeID(w, r)
	if !ok {
		return
	}
	issueID, ok := ParseIssueID(w, r)
	if !ok {
		return
	}
	results, err := h.engine.SearchIssue(r.Context(), volumeID, issueID)
	if err != nil {
		RespondNotFound(w, err, "Search failed")
		return
	}
	if results == nil {
		results = []*search.Result{}
	}
	RespondJSON(w, http.StatusOK, results)
}

// grabbed summarizes what an auto-search trigger enqueued.
type grabbed struct {
	WebLink   string `json:"web_link"`
	WebTitle  string `json:"web_title"`
	Downloads int    `json:"downloads"`
}

// AutoSearchVolume handles POST /api/volumes/{volumeID}/search/auto: it
// auto-picks a cover of the volume's open issues and enqueues every pick.
func (h *SearchHandler) AutoSearchVolume(w http.ResponseWriter, r *http.Request) {
	volumeID, ok := ParseVolumeID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	picked, err := h.engine.AutoSearch(ctx, volumeID)
	if err != nil {
		RespondNotFound(w, err, "Auto search failed")
		return
	}
	RespondJSON(w, http.StatusOK, h.grabAll(ctx, volumeID, 0, picked))
}

// AutoSearchIssue handles POST /api/volumes/{volumeID}/issues/{issueID}/search/auto
func (h *SearchHandler) AutoSearchIssue(w http.ResponseWriter, r *http.Request) {
	volumeID, ok := ParseVolumeID(w, r)
	if !ok {
		return
	}
	issueID, ok := ParseIssueID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	result, err := h.engine.AutoSearchIssue(ctx, volumeID, issueID)
	if err != nil {
		RespondNotFound(w, err, "Auto search failed")
		return
	}
	if result == nil {
		RespondJSON(w, http.StatusOK, []grabbed{})
		return
	}
	RespondJSON(w, http.StatusOK, h.grabAll(ctx, volumeID, issueID, []*search.Result{result}))
}

func (h *SearchHandler) grabAll(ctx context.Context, volumeID, issueID int, picked []*search.Result) []grabbed {
	out := make([]grabbed, 0, len(picked))
	for _, result := range picked {
		items, err := h.intake.Grab(ctx, volumeID, issueID, result.Link, result.DisplayTitle)
		if err != nil {
			log.Warn().Err(err).Str("link", result.Link).Msg("Grabbing search result failed")
			continue
		}
		out = append(out, grabbed{
			WebLink:   result.Link,
			WebTitle:  result.DisplayTitle,
			Downloads: len(items),
		})
	}
	return out
}
