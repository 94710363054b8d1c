// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Casvt/Kapowarr-sub000/internal/aggregator"
	"github.com/Casvt/Kapowarr-sub000/internal/config"
	"github.com/Casvt/Kapowarr-sub000/internal/database"
	"github.com/Casvt/Kapowarr-sub000/internal/downloader"
	"github.com/Casvt/Kapowarr-sub000/internal/libscan"
	"github.com/Casvt/Kapowarr-sub000/internal/metrics"
	"github.com/Casvt/Kapowarr-sub000/internal/models"
	"github.com/Casvt/Kapowarr-sub000/internal/queue"
	"github.com/Casvt/Kapowarr-sub000/internal/resolver"
	"github.com/Casvt/Kapowarr-sub000/internal/search"
)

type fixture struct {
	handler http.Handler
	volumes *models.VolumeStore
	history *models.HistoryStore
	volume  *models.Volume
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	cfg, err := config.New(t.TempDir())
	require.NoError(t, err)

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	volumes := models.NewVolumeStore(db)
	files := models.NewFilesStore(db)
	blocklist := models.NewBlocklistStore(db)
	history := models.NewHistoryStore(db)
	credentials := models.NewCredentialStore(db)
	scanner := libscan.New(volumes, files)

	root, err := volumes.AddRootFolder(ctx, t.TempDir())
	require.NoError(t, err)
	volume := &models.Volume{
		ComicVineID:  4050,
		Title:        "Batman",
		Year:         1940,
		VolumeNumber: 1,
		Monitored:    true,
		Folder:       filepath.Join(root.Folder, "Batman"),
		RootFolderID: root.ID,
	}
	require.NoError(t, volumes.Create(ctx, volume))

	q := queue.New(queue.Config{
		Store:        models.NewQueueStore(db),
		Resolver:     resolver.New(credentials),
		MegaAPI:      downloader.NewMegaAPI(credentials),
		Settings:     cfg.DownloadSettings,
		PollInterval: time.Hour,
	})

	client := aggregator.NewClient("http://127.0.0.1:0", nil)
	server := NewServer(&Dependencies{
		Config:    cfg,
		Volumes:   volumes,
		Files:     files,
		Blocklist: blocklist,
		History:   history,
		Queue:     q,
		Intake:    queue.NewIntake(client, q, volumes, blocklist, cfg.DownloadSettings),
		Engine:    search.NewEngine(client, volumes, files, blocklist),
		Scanner:   scanner,
		Metrics:   metrics.NewManager(q),
	})
	return &fixture{
		handler: server.Handler(),
		volumes: volumes,
		history: history,
		volume:  volume,
	}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/queue", nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "https://example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestGetVolume(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, fmt.Sprintf("/api/volumes/%d", f.volume.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got models.Volume
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "Batman", got.Title)

	rec = f.do(t, http.MethodGet, "/api/volumes/999", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/volumes/abc", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueueListEmpty(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/queue", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var snapshots []queue.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshots))
	assert.Empty(t, snapshots)
}

func TestQueueAddValidation(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/queue", map[string]any{"web_link": "https://example.com"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBlocklistRoundTrip(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/blocklist", map[string]any{
		"web_link": "https://example.com/broken",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var entry models.BlocklistEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	require.NotZero(t, entry.ID)

	rec = f.do(t, http.MethodGet, "/api/blocklist", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []models.BlocklistEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)

	rec = f.do(t, http.MethodDelete, fmt.Sprintf("/api/blocklist/%d", entry.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/blocklist", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	assert.Empty(t, entries)
}

func TestHistoryListAndClear(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.history.Add(ctx, &models.HistoryEntry{
		WebLink:  "https://example.com/a",
		WebTitle: "Batman #1",
		Title:    "Batman #1",
		VolumeID: f.volume.ID,
		Success:  true,
	}))

	rec := f.do(t, http.MethodGet, "/api/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []models.HistoryEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)

	rec = f.do(t, http.MethodDelete, "/api/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/history", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	assert.Empty(t, entries)
}

func TestScanAndRenamePreview(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, fmt.Sprintf("/api/volumes/%d/scan", f.volume.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, fmt.Sprintf("/api/volumes/%d/rename", f.volume.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var renames []libscan.Rename
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &renames))
	assert.Empty(t, renames)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "kapowarr_queue_download_speed_bytes")
}

func TestSettingsGet(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/settings", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var settings map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &settings))
	assert.Equal(t, "INFO", settings["log_level"])
}
