// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package downloader

import (
	"context"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Casvt/Kapowarr-sub000/internal/domain"
)

// ExternalStatus is the polled status of a delegated download.
type ExternalStatus struct {
	Size     int64
	Progress float64
	Speed    float64
	State    domain.DownloadState
}

// ExternalClient is the minimal surface of an external torrent or usenet
// program.
type ExternalClient interface {
	Add(ctx context.Context, link, folder, name string) (externalID string, err error)
	Status(ctx context.Context, externalID string) (ExternalStatus, error)
	Remove(ctx context.Context, externalID string, deleteFiles bool) error
}

// External delegates a torrent or usenet download to an external client and
// mirrors its polled status.
type External struct {
	base

	client ExternalClient
	link   string
	folder string
	name   string

	externalID string
}

func NewExternal(client ExternalClient, link, folder, name, title string) *External {
	e := &External{
		client: client,
		link:   link,
		folder: folder,
		name:   name,
	}
	e.title = title
	e.status.State = domain.StateQueued
	return e
}

// ExternalID is the client-side identifier, available after Run.
func (e *External) ExternalID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.externalID
}

// SetExternalID rebinds a restored download to its existing client entry.
func (e *External) SetExternalID(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.externalID = id
}

// Run hands the link to the external client. It returns once the client
// accepted it; progress arrives via UpdateStatus polling.
func (e *External) Run(ctx context.Context) error {
	e.mu.Lock()
	known := e.externalID
	e.mu.Unlock()
	if known != "" {
		e.setState(domain.StateDownloading)
		return nil
	}

	id, err := e.client.Add(ctx, e.link, e.folder, e.name)
	if err != nil {
		e.setState(domain.StateFailed)
		return &domain.ClientNotWorkingError{Desc: "add download", Err: err}
	}

	e.mu.Lock()
	e.externalID = id
	if !e.status.State.Terminal() {
		e.status.State = domain.StateDownloading
	}
	e.files = []string{filepath.Join(e.folder, e.name)}
	e.mu.Unlock()

	log.Debug().Str("externalID", id).Str("name", e.name).Msg("Delegated download to external client")
	return nil
}

// UpdateStatus polls the external client and mirrors its progress. The
// stop states set via Stop are never overwritten.
func (e *External) UpdateStatus(ctx context.Context) error {
	e.mu.Lock()
	id := e.externalID
	e.mu.Unlock()
	if id == "" {
		return nil
	}

	status, err := e.client.Status(ctx, id)
	if err != nil {
		return &domain.ClientNotWorkingError{Desc: "poll download", Err: err}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status.State == domain.StateCanceled || e.status.State == domain.StateShutdown {
		return nil
	}
	e.status.Size = status.Size
	e.status.Progress = status.Progress
	e.status.Speed = status.Speed
	e.status.State = status.State
	return nil
}

// Stop removes the download from the external client on cancel; on shutdown
// the external download is left intact and only marked.
func (e *External) Stop(state domain.DownloadState) {
	if !e.markStopped(state) {
		return
	}
	if state != domain.StateCanceled {
		return
	}
	e.mu.Lock()
	id := e.externalID
	e.mu.Unlock()
	if id == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.client.Remove(ctx, id, true); err != nil {
		log.Warn().Err(err).Str("externalID", id).Msg("Could not remove external download")
	}
}
