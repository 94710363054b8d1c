// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Casvt/Kapowarr-sub000/internal/aggregator"
	"github.com/Casvt/Kapowarr-sub000/internal/api"
	"github.com/Casvt/Kapowarr-sub000/internal/config"
	"github.com/Casvt/Kapowarr-sub000/internal/database"
	"github.com/Casvt/Kapowarr-sub000/internal/downloader"
	"github.com/Casvt/Kapowarr-sub000/internal/extclient"
	"github.com/Casvt/Kapowarr-sub000/internal/libscan"
	"github.com/Casvt/Kapowarr-sub000/internal/logger"
	"github.com/Casvt/Kapowarr-sub000/internal/metrics"
	"github.com/Casvt/Kapowarr-sub000/internal/models"
	"github.com/Casvt/Kapowarr-sub000/internal/postprocess"
	"github.com/Casvt/Kapowarr-sub000/internal/queue"
	"github.com/Casvt/Kapowarr-sub000/internal/resolver"
	"github.com/Casvt/Kapowarr-sub000/internal/search"
)

func RunServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Kapowarr service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(*configPath)
		},
	}
}

func serve(configPath string) error {
	cfg, err := config.New(configPath)
	if err != nil {
		return err
	}
	logger.Setup(cfg.Snapshot())

	db, err := database.New(cfg.GetDatabasePath())
	if err != nil {
		return err
	}
	defer db.Close()

	volumes := models.NewVolumeStore(db)
	files := models.NewFilesStore(db)
	blocklist := models.NewBlocklistStore(db)
	history := models.NewHistoryStore(db)
	credentials := models.NewCredentialStore(db)
	clients := models.NewExternalClientStore(db)

	scanner := libscan.New(volumes, files)

	if err := models.NewTaskIntervalStore(db).EnsureDefaults(context.Background()); err != nil {
		return err
	}

	snapshot := cfg.Snapshot()
	var solver *aggregator.Solver
	if snapshot.FlareSolverrURL != "" {
		solver = aggregator.NewSolver(snapshot.FlareSolverrURL)
	}
	client := aggregator.NewClient(snapshot.AggregatorBaseURL, solver)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	q := queue.New(queue.Config{
		Store:    models.NewQueueStore(db),
		Resolver: resolver.New(credentials),
		MegaAPI:  downloader.NewMegaAPI(credentials),
		Torrent:  torrentClient(ctx, clients),
		Usenet:   usenetClient(ctx, clients),
		Post:     postprocess.New(history, blocklist, volumes, scanner, cfg.Snapshot),
		Settings: cfg.DownloadSettings,
	})
	if err := q.Restore(ctx); err != nil {
		log.Error().Err(err).Msg("Restoring the download queue failed")
	}
	q.Start(ctx)
	defer q.Shutdown()

	server := api.NewServer(&api.Dependencies{
		Config:    cfg,
		Volumes:   volumes,
		Files:     files,
		Blocklist: blocklist,
		History:   history,
		Queue:     q,
		Intake:    queue.NewIntake(client, q, volumes, blocklist, cfg.DownloadSettings),
		Engine:    search.NewEngine(client, volumes, files, blocklist),
		Scanner:   scanner,
		Metrics:   serveMetrics(cfg, q),
	})
	return server.ListenAndServe(ctx)
}

func serveMetrics(cfg *config.AppConfig, q *queue.Queue) *metrics.Manager {
	if !cfg.Snapshot().MetricsEnabled {
		return nil
	}
	return metrics.NewManager(q)
}

// torrentClient connects the first configured qBittorrent instance, if any.
func torrentClient(ctx context.Context, clients *models.ExternalClientStore) downloader.ExternalClient {
	clientCfg, err := clients.FirstOfType(ctx, models.ClientQBittorrent)
	if err != nil {
		log.Error().Err(err).Msg("Loading qBittorrent config failed")
		return nil
	}
	if clientCfg == nil {
		return nil
	}
	qb := extclient.NewQBittorrent(clientCfg)
	if err := qb.Login(ctx); err != nil {
		log.Error().Err(err).Str("title", clientCfg.Title).
			Msg("qBittorrent unreachable, torrent downloads will fail")
	}
	return qb
}

// usenetClient connects the first configured SABnzbd instance, if any.
func usenetClient(ctx context.Context, clients *models.ExternalClientStore) downloader.ExternalClient {
	clientCfg, err := clients.FirstOfType(ctx, models.ClientSABnzbd)
	if err != nil {
		log.Error().Err(err).Msg("Loading SABnzbd config failed")
		return nil
	}
	if clientCfg == nil {
		return nil
	}
	sab := extclient.NewSABnzbd(clientCfg)
	if err := sab.Login(ctx); err != nil {
		log.Error().Err(err).Str("title", clientCfg.Title).
			Msg("SABnzbd unreachable, usenet downloads will fail")
	}
	return sab
}
