// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package api serves the HTTP API: library volumes, search, the download
// queue, blocklist, history and settings.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/Casvt/Kapowarr-sub000/internal/api/handlers"
	"github.com/Casvt/Kapowarr-sub000/internal/config"
	"github.com/Casvt/Kapowarr-sub000/internal/libscan"
	"github.com/Casvt/Kapowarr-sub000/internal/metrics"
	"github.com/Casvt/Kapowarr-sub000/internal/models"
	"github.com/Casvt/Kapowarr-sub000/internal/queue"
	"github.com/Casvt/Kapowarr-sub000/internal/search"
)

// Dependencies wires the server's collaborators.
type Dependencies struct {
	Config    *config.AppConfig
	Volumes   *models.VolumeStore
	Files     *models.FilesStore
	Blocklist *models.BlocklistStore
	History   *models.HistoryStore
	Queue     *queue.Queue
	Intake    *queue.Intake
	Engine    *search.Engine
	Scanner   *libscan.Scanner
	// Metrics is optional; when nil the /api/metrics endpoint is absent.
	Metrics *metrics.Manager
}

// Server is the HTTP API server.
type Server struct {
	deps *Dependencies
}

func NewServer(deps *Dependencies) *Server {
	return &Server{deps: deps}
}

// Handler builds the chi router with all API routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.New(cors.Options{
		AllowOriginFunc:  func(origin string) bool { return true },
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}).Handler)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		handlers.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	volumesHandler := handlers.NewVolumesHandler(s.deps.Volumes, s.deps.Files, s.deps.Scanner, s.deps.Config)
	searchHandler := handlers.NewSearchHandler(s.deps.Engine, s.deps.Intake)
	queueHandler := handlers.NewQueueHandler(s.deps.Queue, s.deps.Intake)
	blocklistHandler := handlers.NewBlocklistHandler(s.deps.Blocklist)
	historyHandler := handlers.NewHistoryHandler(s.deps.History)
	settingsHandler := handlers.NewSettingsHandler(s.deps.Config)

	r.Route("/api", func(r chi.Router) {
		if s.deps.Metrics != nil {
			r.Handle("/metrics", promhttp.HandlerFor(
				s.deps.Metrics.GetRegistry(), promhttp.HandlerOpts{}))
		}

		r.Route("/volumes", func(r chi.Router) {
			r.Get("/", volumesHandler.List)
			r.Route("/{volumeID}", func(r chi.Router) {
				r.Get("/", volumesHandler.Get)
				r.Get("/issues", volumesHandler.Issues)
				r.Post("/scan", volumesHandler.Scan)
				r.Get("/rename", volumesHandler.RenamePreview)
				r.Post("/rename", volumesHandler.RenameApply)
				r.Get("/search", searchHandler.SearchVolume)
				r.Post("/search/auto", searchHandler.AutoSearchVolume)
				r.Get("/issues/{issueID}/search", searchHandler.SearchIssue)
				r.Post("/issues/{issueID}/search/auto", searchHandler.AutoSearchIssue)
			})
		})

		r.Route("/queue", func(r chi.Router) {
			r.Get("/", queueHandler.List)
			r.Post("/", queueHandler.Add)
			r.Get("/{downloadID}", queueHandler.Get)
			r.Delete("/{downloadID}", queueHandler.Cancel)
		})

		r.Route("/blocklist", func(r chi.Router) {
			r.Get("/", blocklistHandler.List)
			r.Post("/", blocklistHandler.Add)
			r.Delete("/{entryID}", blocklistHandler.Delete)
		})

		r.Route("/history", func(r chi.Router) {
			r.Get("/", historyHandler.List)
			r.Delete("/", historyHandler.Clear)
		})

		r.Route("/settings", func(r chi.Router) {
			r.Get("/", settingsHandler.Get)
			r.Put("/logging", settingsHandler.UpdateLogging)
		})
	})

	return r
}

// ListenAndServe runs the server until the context is canceled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	cfg := s.deps.Config.Snapshot()
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("API server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.Trace().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("Request served")
	})
}
