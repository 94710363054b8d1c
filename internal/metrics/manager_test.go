// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Casvt/Kapowarr-sub000/internal/database"
	"github.com/Casvt/Kapowarr-sub000/internal/domain"
	"github.com/Casvt/Kapowarr-sub000/internal/downloader"
	"github.com/Casvt/Kapowarr-sub000/internal/models"
	"github.com/Casvt/Kapowarr-sub000/internal/queue"
	"github.com/Casvt/Kapowarr-sub000/internal/resolver"
)

func newTestQueue(t *testing.T) *queue.Queue {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return queue.New(queue.Config{
		Store:    models.NewQueueStore(db),
		Resolver: resolver.New(models.NewCredentialStore(db)),
		MegaAPI:  downloader.NewMegaAPI(models.NewCredentialStore(db)),
		Settings: func() domain.DownloadSettings {
			return domain.DownloadSettings{DownloadFolder: t.TempDir()}
		},
		PollInterval: time.Hour,
	})
}

func TestManagerRegistersQueueCollector(t *testing.T) {
	manager := NewManager(newTestQueue(t))

	families, err := manager.GetRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, family := range families {
		names[family.GetName()] = true
	}

	assert.True(t, names["kapowarr_queue_download_speed_bytes"])
	assert.True(t, names["kapowarr_queue_total_size_bytes"])
	assert.True(t, names["go_goroutines"], "go runtime collector should be registered")
}
