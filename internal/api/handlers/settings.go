// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/Casvt/Kapowarr-sub000/internal/config"
	"github.com/Casvt/Kapowarr-sub000/internal/domain"
)

// SettingsHandler exposes the settings surface.
type SettingsHandler struct {
	config *config.AppConfig
}

func NewSettingsHandler(config *config.AppConfig) *SettingsHandler {
	return &SettingsHandler{config: config}
}

// SettingsResponse is the dynamic settings surface, without server wiring
// like host/port.
type SettingsResponse struct {
	LogLevel string                  `json:"log_level"`
	LogPath  string                  `json:"log_path,omitempty"`
	Download domain.DownloadSettings `json:"download"`
	Naming   domain.NamingSettings   `json:"naming"`
}

// Get handles GET /api/settings
func (h *SettingsHandler) Get(w http.ResponseWriter, _ *http.Request) {
	cfg := h.config.Snapshot()
	RespondJSON(w, http.StatusOK, SettingsResponse{
		LogLevel: cfg.LogLevel,
		LogPath:  cfg.LogPath,
		Download: cfg.Download,
		Naming:   cfg.Naming,
	})
}

// LoggingRequest is the body of PUT /api/settings/logging.
type LoggingRequest struct {
	LogLevel      string `json:"log_level"`
	LogPath       string `json:"log_path,omitempty"`
	LogMaxSize    int    `json:"log_max_size,omitempty"`
	LogMaxBackups int    `json:"log_max_backups,omitempty"`
}

// UpdateLogging handles PUT /api/settings/logging: it persists the new log
// settings to config.toml in place.
func (h *SettingsHandler) UpdateLogging(w http.ResponseWriter, r *http.Request) {
	var req LoggingRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	switch req.LogLevel {
	case "TRACE", "DEBUG", "INFO", "WARN", "ERROR":
	default:
		RespondError(w, http.StatusBadRequest, "Invalid log level")
		return
	}

	cfg := h.config.Snapshot()
	if req.LogMaxSize <= 0 {
		req.LogMaxSize = cfg.LogMaxSize
	}
	if req.LogMaxBackups < 0 {
		req.LogMaxBackups = cfg.LogMaxBackups
	}

	if err := h.config.UpdateLogSettings(req.LogLevel, req.LogPath, req.LogMaxSize, req.LogMaxBackups); err != nil {
		log.Error().Err(err).Msg("Persisting log settings failed")
		RespondError(w, http.StatusInternalServerError, "Failed to persist log settings")
		return
	}
	RespondJSON(w, http.StatusOK, nil)
}
