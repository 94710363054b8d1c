// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package downloader implements the per-backend download clients.
package downloader

import (
	"context"
	"mime"
	"net/url"
	"path"
	"strings"
	"sync"

	"github.com/Casvt/Kapowarr-sub000/internal/domain"
)

// Status is a point-in-time snapshot of a download.
type Status struct {
	State    domain.DownloadState `json:"state"`
	Size     int64                `json:"size"`
	Progress float64              `json:"progress"`
	Speed    float64              `json:"speed"`
}

// Download is one running or runnable download. Run blocks until a terminal
// state; Stop interrupts it from another goroutine with the state the
// download should settle in (canceled or shutting down).
type Download interface {
	Run(ctx context.Context) error
	Stop(state domain.DownloadState)
	Status() Status
	// Files are the produced paths, valid once the download succeeded.
	Files() []string
	// Title is the display title of the download.
	Title() string
}

// base carries the state shared by all download implementations.
type base struct {
	mu     sync.Mutex
	status Status
	files  []string
	title  string
}

func (b *base) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

func (b *base) Files() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.files...)
}

func (b *base) Title() string { return b.title }

func (b *base) setState(state domain.DownloadState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status.State = state
}

// markStopped sets a terminal stop state unless one is already set.
func (b *base) markStopped(state domain.DownloadState) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status.State.Terminal() {
		return false
	}
	b.status.State = state
	return true
}

func (b *base) stopped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status.State == domain.StateCanceled || b.status.State == domain.StateShutdown
}

// FilenameFromHeaders picks a filename body and extension for a direct
// download: preferred body if given, else Content-Disposition, else the URL
// path.
func FilenameFromHeaders(preferredBody, contentDisposition, contentType, rawURL string) string {
	name := filenameFromDisposition(contentDisposition)

	if name == "" {
		if u, err := url.Parse(rawURL); err == nil {
			name = path.Base(u.Path)
			if name == "/" || name == "." {
				name = ""
			}
		}
	}

	ext := path.Ext(name)
	if ext == "" {
		ext = extensionFromContentType(contentType)
	}

	body := strings.TrimSuffix(name, ext)
	if preferredBody != "" {
		body = preferredBody
	}
	if body == "" {
		body = "download"
	}
	return sanitizeFilename(body) + ext
}

func filenameFromDisposition(header string) string {
	if header == "" {
		return ""
	}
	if _, params, err := mime.ParseMediaType(header); err == nil {
		if v := params["filename"]; v != "" {
			return v
		}
	}
	// filename*=UTF-8''name form
	if idx := strings.Index(header, "filename*=UTF-8''"); idx >= 0 {
		v := header[idx+len("filename*=UTF-8''"):]
		if end := strings.IndexAny(v, ";"); end >= 0 {
			v = v[:end]
		}
		if decoded, err := url.QueryUnescape(strings.TrimSpace(v)); err == nil {
			return decoded
		}
	}
	return ""
}

var contentTypeExtensions = map[string]string{
	"application/zip":              ".zip",
	"application/x-zip-compressed": ".zip",
	"application/vnd.comicbook+zip": ".cbz",
	"application/x-cbz":            ".cbz",
	"application/x-cbr":            ".cbr",
	"application/x-rar-compressed": ".rar",
	"application/vnd.rar":          ".rar",
	"application/pdf":              ".pdf",
	"application/epub+zip":         ".epub",
	"application/x-7z-compressed":  ".7z",
}

func extensionFromContentType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return contentTypeExtensions[mediaType]
}

var illegalFilenameReplacer = strings.NewReplacer(
	"<", "", ">", "", ":", "", "\"", "", "|", "",
	"?", "", "*", "", "\x00", "", "/", " ", "\\", " ",
)

func sanitizeFilename(name string) string {
	name = illegalFilenameReplacer.Replace(name)
	return strings.TrimRight(strings.TrimSpace(name), ". ")
}
