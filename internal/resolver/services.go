// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/anacrolix/torrent/metainfo"

	"github.com/Casvt/Kapowarr-sub000/internal/domain"
)

// resolveMega distinguishes file and folder shares by the redirected URL.
// The actual download protocol lives in the downloader.
func (r *Resolver) resolveMega(ctx context.Context, link string) (*Resolved, error) {
	resp, err := r.followRedirects(ctx, link)
	if err != nil {
		return nil, err
	}
	resp.Body.Close()
	final := resp.Request.URL.String()

	kind := domain.SourceMega
	if isFolderPath(final) || isFolderPath(link) {
		kind = domain.SourceMegaFolder
	}
	return &Resolved{Kind: kind, PureLink: final}, nil
}

var mediafireLocationRe = regexp.MustCompile(`window\.location\.href\s*=\s*'([^']+)'`)

func (r *Resolver) resolveMediaFire(ctx context.Context, link string) (*Resolved, error) {
	resp, err := r.followRedirects(ctx, link)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	final := resp.Request.URL
	if strings.Contains(final.Path, "error.php") {
		return nil, domain.NewLinkBroken(link, fmt.Errorf("mediafire error page"))
	}
	if strings.Contains(final.Path, "/folder/") {
		return &Resolved{Kind: domain.SourceMediaFireFolder, PureLink: final.String()}, nil
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, domain.NewLinkBroken(link, err)
	}

	// Some pages bounce through an inline redirect script instead of
	// rendering a download button.
	if m := mediafireLocationRe.FindStringSubmatch(doc.Text()); m != nil {
		return &Resolved{Kind: domain.SourceMediaFire, PureLink: m[1]}, nil
	}
	if href, ok := doc.Find("a#downloadButton").Attr("href"); ok && href != "" {
		return &Resolved{Kind: domain.SourceMediaFire, PureLink: href}, nil
	}
	return nil, domain.NewLinkBroken(link, fmt.Errorf("no download button on page"))
}

type wetransferRequest struct {
	SecurityHash string `json:"security_hash"`
	Intent       string `json:"intent"`
}

type wetransferResponse struct {
	DirectLink string `json:"direct_link"`
}

// resolveWeTransfer calls the transfers API with the transfer id and
// security hash taken from the last two path segments.
func (r *Resolver) resolveWeTransfer(ctx context.Context, link string) (*Resolved, error) {
	parsed, err := url.Parse(link)
	if err != nil {
		return nil, domain.NewLinkBroken(link, err)
	}
	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	if len(segments) < 2 {
		return nil, domain.NewLinkBroken(link, fmt.Errorf("no transfer id in url"))
	}
	transferID := segments[len(segments)-2]
	securityHash := segments[len(segments)-1]

	body, _ := json.Marshal(wetransferRequest{
		SecurityHash: securityHash,
		Intent:       "entire_transfer",
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/%s/download", r.WeTransferAPI, transferID), bytes.NewReader(body))
	if err != nil {
		return nil, domain.NewLinkBroken(link, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, domain.NewLinkBroken(link, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, domain.NewLinkBroken(link, fmt.Errorf("transfers api returned %d", resp.StatusCode))
	}

	var out wetransferResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out.DirectLink == "" {
		return nil, domain.NewLinkBroken(link, fmt.Errorf("no direct link in response"))
	}
	return &Resolved{Kind: domain.SourceWeTransfer, PureLink: out.DirectLink}, nil
}

type pixeldrainLimits struct {
	TransferLimit     int64 `json:"transfer_limit"`
	TransferLimitUsed int64 `json:"transfer_limit_used"`
}

// resolvePixelDrain maps share URLs onto the API endpoints. /l/ shares
// become a zip of the whole list. A stored API key is attached when the
// account still has transfer quota.
func (r *Resolver) resolvePixelDrain(ctx context.Context, link string) (*Resolved, error) {
	parsed, err := url.Parse(link)
	if err != nil {
		return nil, domain.NewLinkBroken(link, err)
	}
	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	id := segments[len(segments)-1]

	resolved := &Resolved{Kind: domain.SourcePixelDrain}
	if strings.Contains(parsed.Path, "/l/") {
		resolved.Kind = domain.SourcePixelDrainFolder
		resolved.PureLink = fmt.Sprintf("%s/list/%s/zip", r.PixelDrainAPI, id)
	} else {
		resolved.PureLink = fmt.Sprintf("%s/file/%s", r.PixelDrainAPI, id)
	}

	if key := r.pixeldrainKeyWithQuota(ctx); key != "" {
		resolved.APIKey = key
	}
	return resolved, nil
}

// pixeldrainKeyWithQuota returns the stored API key if the account is still
// under its transfer quota, otherwise empty.
func (r *Resolver) pixeldrainKeyWithQuota(ctx context.Context) string {
	if r.credentials == nil {
		return ""
	}
	cred, err := r.credentials.ForSource(ctx, domain.SourcePixelDrain)
	if err != nil || cred == nil || cred.APIKey == "" {
		return ""
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.PixelDrainAPI+"/misc/rate_limits", nil)
	if err != nil {
		return ""
	}
	req.SetBasicAuth("", cred.APIKey)
	resp, err := r.http.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}

	var limits pixeldrainLimits
	if err := json.NewDecoder(resp.Body).Decode(&limits); err != nil {
		return ""
	}
	if limits.TransferLimit > 0 && limits.TransferLimitUsed >= limits.TransferLimit {
		return ""
	}
	return cred.APIKey
}

// torrentTrackers is the fixed tracker list attached to magnets built from
// .torrent files.
var torrentTrackers = []string{
	"udp://tracker.opentrackr.org:1337/announce",
	"udp://open.stealth.si:80/announce",
	"udp://tracker.torrent.eu.org:451/announce",
	"udp://exodus.desync.com:6969/announce",
	"udp://tracker.openbittorrent.com:6969/announce",
}

// resolveTorrent keeps magnet links verbatim and converts .torrent payloads
// into a magnet over the info-dict hash.
func (r *Resolver) resolveTorrent(ctx context.Context, link string) (*Resolved, error) {
	if strings.HasPrefix(link, "magnet:") {
		return &Resolved{Kind: domain.SourceTorrent, PureLink: link}, nil
	}

	resp, err := r.followRedirects(ctx, link)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "application/x-bittorrent") {
		return nil, domain.NewLinkBroken(link, fmt.Errorf("unexpected content type %q", contentType))
	}

	mi, err := metainfo.Load(resp.Body)
	if err != nil {
		return nil, domain.NewLinkBroken(link, err)
	}
	info, err := mi.UnmarshalInfo()
	if err != nil {
		return nil, domain.NewLinkBroken(link, err)
	}

	magnet := metainfo.Magnet{
		InfoHash:    mi.HashInfoBytes(),
		DisplayName: info.Name,
		Trackers:    torrentTrackers,
	}
	return &Resolved{
		Kind:     domain.SourceTorrent,
		PureLink: magnet.String(),
		Name:     info.Name,
	}, nil
}
