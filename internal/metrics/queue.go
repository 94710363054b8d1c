// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Casvt/Kapowarr-sub000/internal/queue"
)

// QueueCollector gathers point-in-time gauges from the download queue on
// every scrape.
type QueueCollector struct {
	queue *queue.Queue

	downloadsDesc     *prometheus.Desc
	downloadSpeedDesc *prometheus.Desc
	downloadBytesDesc *prometheus.Desc
}

func NewQueueCollector(q *queue.Queue) *QueueCollector {
	return &QueueCollector{
		queue: q,

		downloadsDesc: prometheus.NewDesc(
			"kapowarr_queue_downloads",
			"Number of queue entries by state",
			[]string{"state"},
			nil,
		),
		downloadSpeedDesc: prometheus.NewDesc(
			"kapowarr_queue_download_speed_bytes",
			"Combined download speed of all queue entries in bytes per second",
			nil,
			nil,
		),
		downloadBytesDesc: prometheus.NewDesc(
			"kapowarr_queue_total_size_bytes",
			"Combined size of all queue entries in bytes",
			nil,
			nil,
		),
	}
}

func (c *QueueCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.downloadsDesc
	ch <- c.downloadSpeedDesc
	ch <- c.downloadBytesDesc
}

func (c *QueueCollector) Collect(ch chan<- prometheus.Metric) {
	var speed, size float64
	byState := make(map[string]int)
	for _, snapshot := range c.queue.List() {
		byState[string(snapshot.State)]++
		speed += snapshot.Speed
		size += float64(snapshot.Size)
	}

	for state, count := range byState {
		ch <- prometheus.MustNewConstMetric(
			c.downloadsDesc, prometheus.GaugeValue, float64(count), state)
	}
	ch <- prometheus.MustNewConstMetric(c.downloadSpeedDesc, prometheus.GaugeValue, speed)
	ch <- prometheus.MustNewConstMetric(c.downloadBytesDesc, prometheus.GaugeValue, size)
}
