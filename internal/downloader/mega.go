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
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Casvt/Kapowarr-sub000/internal/domain"
)

// Mega downloads a public Mega file share, decrypting the CTR stream and
// verifying the chunked CBC-MAC against the key's meta-MAC.
type Mega struct {
	base

	link           string
	downloadFolder string
	preferredBody  string
	api            *MegaAPI

	client *http.Client
	cancel context.CancelFunc
}

func NewMega(link, downloadFolder, preferredBody, title string, api *MegaAPI) (*Mega, error) {
	if megaFolderLink(link) {
		return nil, domain.NewSourceNotSupported(link,
			fmt.Errorf("mega folder shares need the folder client"))
	}
	if _, _, err := parseMegaLink(link); err != nil {
		return nil, domain.NewLinkBroken(link, err)
	}
	m := &Mega{
		link:           link,
		downloadFolder: downloadFolder,
		preferredBody:  preferredBody,
		api:            api,
		client:         &http.Client{},
	}
	m.title = title
	m.status.State = domain.StateQueued
	return m, nil
}

func (m *Mega) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	m.status.State = domain.StateDownloading
	m.mu.Unlock()
	defer cancel()

	fileID, keyB64, err := parseMegaLink(m.link)
	if err != nil {
		m.setState(domain.StateFailed)
		return domain.NewLinkBroken(m.link, err)
	}
	key, err := parseMegaKey(keyB64)
	if err != nil {
		m.setState(domain.StateFailed)
		return domain.NewLinkBroken(m.link, err)
	}

	info, err := m.api.FetchFile(ctx, fileID, key)
	if err != nil {
		if m.stopped() {
			return nil
		}
		m.setState(domain.StateFailed)
		return domain.NewLinkBroken(m.link, err)
	}

	body := m.preferredBody
	if body == "" {
		body = info.Name
	}
	filename := FilenameFromHeaders(sanitizeFilename(body), "", "", info.Name)
	target := filepath.Join(m.downloadFolder, filename)

	m.mu.Lock()
	m.status.Size = info.Size
	m.files = []string{target}
	m.mu.Unlock()

	if err := m.stream(ctx, info, key, target); err != nil {
		if m.stopped() {
			return nil
		}
		m.setState(domain.StateFailed)
		return err
	}
	if m.stopped() {
		return nil
	}
	m.setState(domain.StateImporting)
	return nil
}

// stream downloads and decrypts the payload per the Mega chunk schedule.
func (m *Mega) stream(ctx context.Context, info *FileInfo, key *megaKey, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, info.URL, nil)
	if err != nil {
		return err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("start mega stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return domain.NewLinkBroken(m.link, fmt.Errorf("mega storage returned %d", resp.StatusCode))
	}

	if err := os.MkdirAll(m.downloadFolder, 0o755); err != nil {
		return err
	}
	out, err := os.Create(target)
	if err != nil {
		return err
	}
	defer out.Close()

	decryptor, err := newMegaDecryptor(key)
	if err != nil {
		return err
	}

	log.Debug().Str("target", target).Int64("size", info.Size).Msg("Streaming mega download")

	var written int64
	for _, size := range megaChunkSizes(info.Size) {
		start := time.Now()
		chunk := make([]byte, size)
		if _, err := io.ReadFull(resp.Body, chunk); err != nil {
			return fmt.Errorf("read mega chunk: %w", err)
		}
		decryptor.decryptChunk(chunk)
		if _, err := out.Write(chunk); err != nil {
			return err
		}
		written += size
		m.updateProgress(written, size, time.Since(start))

		if m.stopped() {
			return nil
		}
	}

	if !decryptor.verify() {
		os.Remove(target)
		return domain.NewLinkBroken(m.link, fmt.Errorf("meta-mac mismatch"))
	}
	return nil
}

func (m *Mega) updateProgress(written, chunk int64, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status.Size > 0 {
		m.status.Progress = float64(written) / float64(m.status.Size) * 100
	}
	if elapsed > 0 {
		m.status.Speed = float64(chunk) / elapsed.Seconds()
	}
}

// Stop interrupts the stream; the flag is observed per chunk.
func (m *Mega) Stop(state domain.DownloadState) {
	if !m.markStopped(state) {
		return
	}
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
