// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package extclient wraps the external download programs torrents and
// usenet are delegated to.
package extclient

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/rs/zerolog/log"

	"github.com/Casvt/Kapowarr-sub000/internal/domain"
	"github.com/Casvt/Kapowarr-sub000/internal/downloader"
	"github.com/Casvt/Kapowarr-sub000/internal/models"
)

// torrentCategory groups this application's torrents inside qBittorrent.
const torrentCategory = "kapowarr"

// QBittorrent delegates torrents to a qBittorrent instance. Downloads are
// identified by their magnet info-hash.
type QBittorrent struct {
	client *qbt.Client
}

func NewQBittorrent(cfg *models.ExternalClientConfig) *QBittorrent {
	return &QBittorrent{
		client: qbt.NewClient(qbt.Config{
			Host:     cfg.BaseURL,
			Username: cfg.Username,
			Password: cfg.Password,
			Timeout:  30,
		}),
	}
}

// Login checks connectivity and authenticates the session.
func (q *QBittorrent) Login(ctx context.Context) error {
	if err := q.client.LoginCtx(ctx); err != nil {
		return fmt.Errorf("connect to qBittorrent: %w", err)
	}
	return nil
}

// Add submits a magnet link and returns its info-hash as the external id.
func (q *QBittorrent) Add(ctx context.Context, link, folder, name string) (string, error) {
	hash, err := magnetInfoHash(link)
	if err != nil {
		return "", err
	}
	opts := map[string]string{
		"category": torrentCategory,
		"savepath": folder,
	}
	if name != "" {
		opts["rename"] = name
	}
	if err := q.client.AddTorrentFromUrlCtx(ctx, link, opts); err != nil {
		return "", fmt.Errorf("add torrent: %w", err)
	}
	log.Debug().Str("hash", hash).Msg("Added torrent to qBittorrent")
	return hash, nil
}

func (q *QBittorrent) Status(ctx context.Context, externalID string) (downloader.ExternalStatus, error) {
	torrents, err := q.client.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{
		Hashes: []string{externalID},
	})
	if err != nil {
		return downloader.ExternalStatus{}, fmt.Errorf("get torrent %s: %w", externalID, err)
	}
	if len(torrents) == 0 {
		return downloader.ExternalStatus{}, fmt.Errorf("torrent %s not in client", externalID)
	}

	t := torrents[0]
	return downloader.ExternalStatus{
		Size:     t.Size,
		Progress: t.Progress * 100,
		Speed:    float64(t.DlSpeed),
		State:    torrentState(t.State),
	}, nil
}

func (q *QBittorrent) Remove(ctx context.Context, externalID string, deleteFiles bool) error {
	if err := q.client.DeleteTorrentsCtx(ctx, []string{externalID}, deleteFiles); err != nil {
		return fmt.Errorf("delete torrent %s: %w", externalID, err)
	}
	return nil
}

// torrentState folds qBittorrent's state zoo into the download lifecycle.
// Seeding means the payload is complete on disk.
func torrentState(state qbt.TorrentState) domain.DownloadState {
	switch state {
	case qbt.TorrentStateUploading, qbt.TorrentStateStalledUp,
		qbt.TorrentStateQueuedUp, qbt.TorrentStateForcedUp:
		return domain.StateSeeding
	case qbt.TorrentStatePausedUp, qbt.TorrentStateStoppedUp:
		return domain.StateImporting
	case qbt.TorrentStateError, qbt.TorrentStateMissingFiles:
		return domain.StateFailed
	default:
		return domain.StateDownloading
	}
}

// magnetInfoHash extracts the btih hash from a magnet link.
func magnetInfoHash(link string) (string, error) {
	u, err := url.Parse(link)
	if err != nil || u.Scheme != "magnet" {
		return "", fmt.Errorf("not a magnet link: %q", link)
	}
	for _, xt := range u.Query()["xt"] {
		if strings.HasPrefix(xt, "urn:btih:") {
			return strings.ToLower(strings.TrimPrefix(xt, "urn:btih:")), nil
		}
	}
	return "", fmt.Errorf("magnet link has no btih hash")
}
