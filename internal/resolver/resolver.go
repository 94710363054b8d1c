// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package resolver turns candidate service links into concrete, directly
// downloadable pure links.
package resolver

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Casvt/Kapowarr-sub000/internal/domain"
	"github.com/Casvt/Kapowarr-sub000/internal/models"
)

// Resolved is the outcome of resolving one link: the concrete source kind
// (folder variants are detected here) and the pure link a download client
// can stream from.
type Resolved struct {
	Kind     domain.SourceKind
	PureLink string
	// APIKey authenticates the subsequent download where the service
	// supports it (PixelDrain).
	APIKey string
	// Name is a display name when the service exposes one.
	Name string
}

// Resolver resolves links per source kind. API endpoints are fields so tests
// can point them at fixtures.
type Resolver struct {
	http        *http.Client
	credentials *models.CredentialStore

	WeTransferAPI string
	PixelDrainAPI string
}

func New(credentials *models.CredentialStore) *Resolver {
	return &Resolver{
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
		credentials:   credentials,
		WeTransferAPI: "https://wetransfer.com/api/v4/transfers",
		PixelDrainAPI: "https://pixeldrain.com/api",
	}
}

// Resolve builds the concrete download target for a link. Failures surface
// as LinkBrokenError (blocklist the link) or DownloadLimitReachedError
// (leave the link alone).
func (r *Resolver) Resolve(ctx context.Context, kind domain.SourceKind, link string) (*Resolved, error) {
	log.Debug().Str("kind", string(kind)).Str("link", link).Msg("Resolving link")
	switch kind {
	case domain.SourceMega, domain.SourceMegaFolder:
		return r.resolveMega(ctx, link)
	case domain.SourceMediaFire, domain.SourceMediaFireFolder:
		return r.resolveMediaFire(ctx, link)
	case domain.SourceWeTransfer:
		return r.resolveWeTransfer(ctx, link)
	case domain.SourcePixelDrain, domain.SourcePixelDrainFolder:
		return r.resolvePixelDrain(ctx, link)
	case domain.SourceTorrent:
		return r.resolveTorrent(ctx, link)
	case domain.SourceUsenet, domain.SourceDirect:
		return &Resolved{Kind: kind, PureLink: link}, nil
	default:
		return nil, domain.NewSourceNotSupported(link, nil)
	}
}

// followRedirects issues a GET and returns the final response. The caller
// owns the body.
func (r *Resolver) followRedirects(ctx context.Context, link string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, domain.NewLinkBroken(link, err)
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return nil, domain.NewLinkBroken(link, err)
	}
	return resp, nil
}

func isFolderPath(u string) bool {
	return strings.Contains(u, "/folder/") || strings.Contains(u, "#F!")
}
