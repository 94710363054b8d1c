// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/Casvt/Kapowarr-sub000/internal/config"
	"github.com/Casvt/Kapowarr-sub000/internal/libscan"
	"github.com/Casvt/Kapowarr-sub000/internal/models"
)

// VolumesHandler serves the library volumes and their maintenance actions.
type VolumesHandler struct {
	volumes *models.VolumeStore
	files   *models.FilesStore
	scanner *libscan.Scanner
	config  *config.AppConfig
}

func NewVolumesHandler(
	volumes *models.VolumeStore,
	files *models.FilesStore,
	scanner *libscan.Scanner,
	config *config.AppConfig,
) *VolumesHandler {
	return &VolumesHandler{
		volumes: volumes,
		files:   files,
		scanner: scanner,
		config:  config,
	}
}

// List handles GET /api/volumes
func (h *VolumesHandler) List(w http.ResponseWriter, r *http.Request) {
	volumes, err := h.volumes.List(r.Context())
	if err != nil {
		RespondNotFound(w, err, "Failed to list volumes")
		return
	}
	RespondJSON(w, http.StatusOK, volumes)
}

// Get handles GET /api/volumes/{volumeID}
func (h *VolumesHandler) Get(w http.ResponseWriter, r *http.Request) {
	volumeID, ok := ParseVolumeID(w, r)
	if !ok {
		return
	}
	volume, err := h.volumes.Get(r.Context(), volumeID)
	if err != nil {
		RespondNotFound(w, err, "Failed to get volume")
		return
	}
	RespondJSON(w, http.StatusOK, volume)
}

// Issues handles GET /api/volumes/{volumeID}/issues
func (h *VolumesHandler) Issues(w http.ResponseWriter, r *http.Request) {
	volumeID, ok := ParseVolumeID(w, r)
	if !ok {
		return
	}
	if _, err := h.volumes.Get(r.Context(), volumeID); err != nil {
		RespondNotFound(w, err, "Failed to get volume")
		return
	}
	issues, err := h.volumes.Issues(r.Context(), volumeID)
	if err != nil {
		RespondNotFound(w, err, "Failed to list issues")
		return
	}
	RespondJSON(w, http.StatusOK, issues)
}

// Scan handles POST /api/volumes/{volumeID}/scan
func (h *VolumesHandler) Scan(w http.ResponseWriter, r *http.Request) {
	volumeID, ok := ParseVolumeID(w, r)
	if !ok {
		return
	}
	if err := h.scanner.ScanVolume(r.Context(), volumeID, nil); err != nil {
		RespondNotFound(w, err, "Scan failed")
		return
	}
	log.Info().Int("volumeID", volumeID).Msg("Volume scanned via API")
	RespondJSON(w, http.StatusOK, nil)
}

// RenamePreview handles GET /api/volumes/{volumeID}/rename
func (h *VolumesHandler) RenamePreview(w http.ResponseWriter, r *http.Request) {
	volumeID, ok := ParseVolumeID(w, r)
	if !ok {
		return
	}
	renames, err := h.scanner.ProposedRenames(r.Context(), volumeID, h.config.Snapshot().Naming)
	if err != nil {
		RespondNotFound(w, err, "Failed to compute renames")
		return
	}
	if renames == nil {
		renames = []libscan.Rename{}
	}
	RespondJSON(w, http.StatusOK, renames)
}

// RenameApply handles POST /api/volumes/{volumeID}/rename
func (h *VolumesHandler) RenameApply(w http.ResponseWriter, r *http.Request) {
	volumeID, ok := ParseVolumeID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	renames, err := h.scanner.ProposedRenames(ctx, volumeID, h.config.Snapshot().Naming)
	if err != nil {
		RespondNotFound(w, err, "Failed to compute renames")
		return
	}
	if err := h.scanner.ApplyRenames(ctx, volumeID, renames); err != nil {
		RespondNotFound(w, err, "Failed to apply renames")
		return
	}
	log.Info().Int("volumeID", volumeID).Int("files", len(renames)).Msg("Mass rename applied")
	RespondJSON(w, http.StatusOK, renames)
}
