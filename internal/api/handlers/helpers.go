// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package handlers implements the HTTP handlers behind the API router.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/Casvt/Kapowarr-sub000/internal/domain"
)

// ErrorResponse is the JSON body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// RespondJSON sends a JSON response.
func RespondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Error().Err(err).Msg("Failed to encode JSON response")
		}
	}
}

// RespondError sends an error response.
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, ErrorResponse{Error: message})
}

// RespondNotFound maps the domain's not-found sentinels onto 404 and
// everything else onto 500. Always writes a response.
func RespondNotFound(w http.ResponseWriter, err error, fallbackMessage string) {
	switch {
	case errors.Is(err, domain.ErrVolumeNotFound),
		errors.Is(err, domain.ErrIssueNotFound),
		errors.Is(err, domain.ErrDownloadNotFound):
		RespondError(w, http.StatusNotFound, err.Error())
	default:
		log.Error().Err(err).Msg(fallbackMessage)
		RespondError(w, http.StatusInternalServerError, fallbackMessage)
	}
}

// DecodeJSON decodes the request body into dest. Returns false if decoding
// fails (error already sent to client).
func DecodeJSON[T any](w http.ResponseWriter, r *http.Request, dest *T) bool {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// ParseIntParam extracts and validates an integer URL parameter. Returns the
// value and true on success, or 0 and false if invalid (error already sent).
func ParseIntParam(w http.ResponseWriter, r *http.Request, paramName, displayName string) (int, bool) {
	str := strings.TrimSpace(chi.URLParam(r, paramName))
	if str == "" {
		RespondError(w, http.StatusBadRequest, displayName+" is required")
		return 0, false
	}
	value, err := strconv.Atoi(str)
	if err != nil || value <= 0 {
		RespondError(w, http.StatusBadRequest, "Invalid "+displayName)
		return 0, false
	}
	return value, true
}

// ParseVolumeID extracts the volumeID URL parameter.
func ParseVolumeID(w http.ResponseWriter, r *http.Request) (int, bool) {
	return ParseIntParam(w, r, "volumeID", "volume ID")
}

// ParseIssueID extracts the issueID URL parameter.
func ParseIssueID(w http.ResponseWriter, r *http.Request) (int, bool) {
	return ParseIntParam(w, r, "issueID", "issue ID")
}
