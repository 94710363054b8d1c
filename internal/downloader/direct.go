// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package downloader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Casvt/Kapowarr-sub000/internal/domain"
)

// directChunkSize is the streaming chunk granularity; speed and the stop
// flag are evaluated per chunk.
const directChunkSize = 4 << 20

// Direct streams a pure link into the download folder.
type Direct struct {
	base

	link           string
	downloadFolder string
	preferredBody  string
	apiKey         string
	source         domain.SourceKind

	client *http.Client
	cancel context.CancelFunc
}

// NewDirect builds a direct download. preferredBody, when non-empty, is the
// filename body rendered by the naming engine; otherwise the response
// headers and URL decide.
func NewDirect(link, downloadFolder, preferredBody, title string, source domain.SourceKind) *Direct {
	d := &Direct{
		link:           link,
		downloadFolder: downloadFolder,
		preferredBody:  preferredBody,
		source:         source,
		client:         &http.Client{},
	}
	d.title = title
	d.status.State = domain.StateQueued
	return d
}

// WithAPIKey authenticates the stream (PixelDrain).
func (d *Direct) WithAPIKey(key string) *Direct {
	d.apiKey = key
	return d
}

// Run streams the link to disk in fixed chunks. It returns nil when the
// download completed or was stopped via Stop; other outcomes are errors.
func (d *Direct) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancel = cancel
	d.status.State = domain.StateDownloading
	d.mu.Unlock()
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.link, nil)
	if err != nil {
		d.setState(domain.StateFailed)
		return err
	}
	if d.apiKey != "" {
		req.SetBasicAuth("", d.apiKey)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		if d.stopped() {
			return nil
		}
		d.setState(domain.StateFailed)
		return fmt.Errorf("start download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden && strings.Contains(req.URL.Host, "pixeldrain") {
		d.setState(domain.StateFailed)
		return &domain.DownloadLimitReachedError{Source: domain.SourcePixelDrain}
	}
	if resp.StatusCode >= 400 {
		d.setState(domain.StateFailed)
		return domain.NewLinkBroken(d.link, fmt.Errorf("status %d", resp.StatusCode))
	}

	filename := FilenameFromHeaders(
		d.preferredBody,
		resp.Header.Get("Content-Disposition"),
		resp.Header.Get("Content-Type"),
		d.link,
	)
	target := filepath.Join(d.downloadFolder, filename)

	d.mu.Lock()
	d.status.Size = resp.ContentLength
	d.files = []string{target}
	d.mu.Unlock()

	if err := os.MkdirAll(d.downloadFolder, 0o755); err != nil {
		d.setState(domain.StateFailed)
		return err
	}
	out, err := os.Create(target)
	if err != nil {
		d.setState(domain.StateFailed)
		return err
	}
	defer out.Close()

	log.Debug().Str("link", d.link).Str("target", target).Msg("Streaming direct download")

	var written int64
	for {
		start := time.Now()
		n, err := io.CopyN(out, resp.Body, directChunkSize)
		written += n
		d.updateProgress(written, n, time.Since(start))

		if err == io.EOF {
			break
		}
		if err != nil {
			if d.stopped() {
				// Interrupted socket; the partial file is the
				// post-processor's to clean up.
				return nil
			}
			d.setState(domain.StateFailed)
			return fmt.Errorf("stream download: %w", err)
		}
		if d.stopped() {
			return nil
		}
	}

	d.setState(domain.StateImporting)
	return nil
}

func (d *Direct) updateProgress(written, chunk int64, elapsed time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status.Size > 0 {
		d.status.Progress = float64(written) / float64(d.status.Size) * 100
	}
	if elapsed > 0 {
		d.status.Speed = float64(chunk) / elapsed.Seconds()
	}
}

// Stop interrupts the stream by closing the underlying socket.
func (d *Direct) Stop(state domain.DownloadState) {
	if !d.markStopped(state) {
		return
	}
	d.mu.Lock()
	cancel := d.cancel
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
