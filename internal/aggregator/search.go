// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package aggregator

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Casvt/Kapowarr-sub000/internal/fingerprint"
)

// maxSearchPages caps pagination per query.
const maxSearchPages = 10

// SearchKind selects the query-formatter template set.
type SearchKind int

const (
	SearchVolume SearchKind = iota
	SearchIssue
	SearchTPB
	SearchVAI
)

// Query carries the parameters the formatter templates consume.
type Query struct {
	Title        string
	VolumeNumber int
	Year         int
	IssueNumber  string
}

// queryTemplates is the fixed ordered template set per search kind. The
// ({year}) segment is stripped when the year is unknown.
var queryTemplates = map[SearchKind][]string{
	SearchVolume: {
		"{title} Vol. {volume} ({year})",
		"{title} Vol. {volume}",
		"{title} ({year})",
		"{title}",
	},
	SearchIssue: {
		"{title} #{issue} ({year})",
		"{title} Vol. {volume} #{issue}",
		"{title} #{issue}",
		"{title}",
	},
	SearchTPB: {
		"{title} Vol. {volume} ({year})",
		"{title} ({year})",
		"{title} Vol. {volume}",
		"{title}",
	},
	SearchVAI: {
		"{title} Vol. {issue} ({year})",
		"{title} Vol. {issue}",
		"{title}",
	},
}

// FormatQueries renders the ordered query strings for a search, deduplicated
// while preserving order.
func FormatQueries(kind SearchKind, q Query) []string {
	seen := make(map[string]bool)
	var out []string
	for _, template := range queryTemplates[kind] {
		s := template
		if q.Year == 0 {
			s = strings.ReplaceAll(s, " ({year})", "")
		}
		s = strings.ReplaceAll(s, "{title}", q.Title)
		s = strings.ReplaceAll(s, "{volume}", strconv.Itoa(q.VolumeNumber))
		s = strings.ReplaceAll(s, "{year}", strconv.Itoa(q.Year))
		s = strings.ReplaceAll(s, "{issue}", q.IssueNumber)
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// Release is one search result: an article link with the fingerprint of its
// display title.
type Release struct {
	Link         string
	DisplayTitle string
	Source       string
	Fingerprint  fingerprint.Fingerprint
}

var nonDigitRe = regexp.MustCompile(`\D`)

// Search runs one query across all its result pages and returns the parsed
// releases.
func (c *Client) Search(ctx context.Context, query string) ([]*Release, error) {
	doc, err := c.document(ctx, c.searchURL(query, 1))
	if err != nil {
		return nil, err
	}

	releases := parseSearchResults(doc)
	pages := maxPageNumber(doc)
	if pages > maxSearchPages {
		pages = maxSearchPages
	}
	if pages <= 1 {
		return releases, nil
	}

	rest, err := c.fetchRemainingPages(ctx, query, pages)
	if err != nil {
		return nil, err
	}
	return append(releases, rest...), nil
}

// SearchAll runs every query, deduplicating releases across queries by
// article href.
func (c *Client) SearchAll(ctx context.Context, queries []string) ([]*Release, error) {
	seen := make(map[string]bool)
	var out []*Release
	for _, query := range queries {
		releases, err := c.Search(ctx, query)
		if err != nil {
			log.Warn().Err(err).Str("query", query).Msg("Search query failed")
			continue
		}
		for _, r := range releases {
			if !seen[r.Link] {
				seen[r.Link] = true
				out = append(out, r)
			}
		}
	}
	return out, nil
}

// fetchRemainingPages fetches pages 2..pages, concurrently when a challenge
// solver is available, sequentially otherwise.
func (c *Client) fetchRemainingPages(ctx context.Context, query string, pages int) ([]*Release, error) {
	if !c.HasSolver() {
		var out []*Release
		for page := 2; page <= pages; page++ {
			doc, err := c.document(ctx, c.searchURL(query, page))
			if err != nil {
				return out, nil
			}
			out = append(out, parseSearchResults(doc)...)
		}
		return out, nil
	}

	var mu sync.Mutex
	var out []*Release
	g, gctx := errgroup.WithContext(ctx)
	for page := 2; page <= pages; page++ {
		g.Go(func() error {
			doc, err := c.document(gctx, c.searchURL(query, page))
			if err != nil {
				return err
			}
			parsed := parseSearchResults(doc)
			mu.Lock()
			out = append(out, parsed...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Warn().Err(err).Str("query", query).Msg("Page fetch failed")
	}
	return out, nil
}

func (c *Client) searchURL(query string, page int) string {
	if page <= 1 {
		return fmt.Sprintf("%s/?s=%s", c.baseURL, url.QueryEscape(query))
	}
	return fmt.Sprintf("%s/page/%d/?s=%s", c.baseURL, page, url.QueryEscape(query))
}

// parseSearchResults extracts (href, title) per result article. Display
// titles are fingerprinted without volume assumption but with year fixing.
func parseSearchResults(doc *goquery.Document) []*Release {
	var out []*Release
	doc.Find("article").Each(func(_ int, article *goquery.Selection) {
		anchor := article.Find("h1 a, h2 a, .post-title a").First()
		href, ok := anchor.Attr("href")
		if !ok {
			return
		}
		title := strings.TrimSpace(anchor.Text())
		if title == "" {
			return
		}
		out = append(out, &Release{
			Link:         href,
			DisplayTitle: title,
			Source:       "aggregator",
			Fingerprint: fingerprint.ExtractTitle(title, fingerprint.Options{
				FixYear: true,
			}),
		})
	})
	return out
}

// maxPageNumber reads the highest page from the last page-numbers element.
func maxPageNumber(doc *goquery.Document) int {
	last := doc.Find(".page-numbers").Last()
	digits := nonDigitRe.ReplaceAllString(last.Text(), "")
	if digits == "" {
		return 1
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n < 1 {
		return 1
	}
	return n
}
