// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package metrics exposes prometheus collectors for the download queue.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/Casvt/Kapowarr-sub000/internal/queue"
)

// Manager owns the prometheus registry served on /api/metrics.
type Manager struct {
	registry       *prometheus.Registry
	queueCollector *QueueCollector
}

func NewManager(q *queue.Queue) *Manager {
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	queueCollector := NewQueueCollector(q)
	registry.MustRegister(queueCollector)

	log.Info().Msg("Metrics manager initialized with queue collector")

	return &Manager{
		registry:       registry,
		queueCollector: queueCollector,
	}
}

func (m *Manager) GetRegistry() *prometheus.Registry {
	return m.registry
}
