// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package aggregator

import (
	"context"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/html"

	"github.com/Casvt/Kapowarr-sub000/internal/domain"
	"github.com/Casvt/Kapowarr-sub000/internal/fingerprint"
)

// DownloadGroup is one downloadable unit parsed from an article page: a
// sub-title plus the service links that serve it.
type DownloadGroup struct {
	SubTitle    string
	Fingerprint fingerprint.Fingerprint
	Links       map[domain.SourceKind][]string
}

// linkTextMapping maps substrings of a link button's visible text to the
// source kind it serves. Order matters: the first hit wins.
var linkTextMapping = []struct {
	substring string
	kind      domain.SourceKind
}{
	{"mega link", domain.SourceMega},
	{"mega", domain.SourceMega},
	{"mediafire", domain.SourceMediaFire},
	{"wetransfer", domain.SourceWeTransfer},
	{"pixeldrain", domain.SourcePixelDrain},
	{"torrent", domain.SourceTorrent},
	{"magnet", domain.SourceTorrent},
	{"usenet", domain.SourceUsenet},
	{"nzb", domain.SourceUsenet},
	{"main download", domain.SourceDirect},
	{"main server", domain.SourceDirect},
	{"mirror download", domain.SourceDirect},
	{"mirror server", domain.SourceDirect},
	{"link 1", domain.SourceDirect},
	{"link 2", domain.SourceDirect},
	{"download now", domain.SourceDirect},
}

// SourceOfLinkText classifies a link button by its visible text.
func SourceOfLinkText(text string) (domain.SourceKind, bool) {
	lower := strings.ToLower(text)
	for _, m := range linkTextMapping {
		if strings.Contains(lower, m.substring) {
			return m.kind, true
		}
	}
	return "", false
}

var (
	yearFieldRe = regexp.MustCompile(`Year\s*:\s*(\d{4})`)
	fourDigitRe = regexp.MustCompile(`\d{4}`)
)

// ParseArticle fetches an article page and extracts its download groups via
// the button-block and list-block extractors.
func (c *Client) ParseArticle(ctx context.Context, articleURL string) ([]*DownloadGroup, error) {
	doc, err := c.document(ctx, articleURL)
	if err != nil {
		return nil, err
	}
	groups := parseButtonBlocks(doc)
	groups = append(groups, parseListBlocks(doc)...)
	if len(groups) == 0 {
		log.Debug().Str("url", articleURL).Msg("Article exposed no download groups")
	}
	return groups, nil
}

// parseButtonBlocks finds group headers: paragraphs containing the word
// "Language" without nested paragraphs. Following siblings up to the next
// <hr> contribute the aio-button-center anchors.
func parseButtonBlocks(doc *goquery.Document) []*DownloadGroup {
	var groups []*DownloadGroup
	doc.Find("p").Each(func(_ int, p *goquery.Selection) {
		if !strings.Contains(p.Text(), "Language") || p.Find("p").Length() > 0 {
			return
		}
		title := headerTitle(p)
		if title == "" {
			return
		}
		// A Year field on the header stands in for a missing year in
		// the title; --YYYY-- is a form the fingerprinter recognizes.
		if m := yearFieldRe.FindStringSubmatch(p.Text()); m != nil && !fourDigitRe.MatchString(title) {
			title += " --" + m[1] + "--"
		}

		group := newGroup(title)
		for sibling := p.Next(); sibling.Length() > 0; sibling = sibling.Next() {
			if goquery.NodeName(sibling) == "hr" {
				break
			}
			collectAnchors(sibling.Find("div.aio-button-center a"), group)
			if sibling.Is("div.aio-button-center") {
				collectAnchors(sibling.Find("a"), group)
			}
		}
		if len(group.Links) > 0 {
			groups = append(groups, group)
		}
	})
	return groups
}

// parseListBlocks extracts <li> entries whose anchors are link buttons.
func parseListBlocks(doc *goquery.Document) []*DownloadGroup {
	var groups []*DownloadGroup
	doc.Find("ul li").Each(func(_ int, li *goquery.Selection) {
		anchors := li.Find("a")
		if anchors.Length() == 0 {
			return
		}
		title := listItemTitle(li)
		if title == "" {
			return
		}
		group := newGroup(title)
		collectAnchors(anchors, group)
		if len(group.Links) > 0 {
			groups = append(groups, group)
		}
	})
	return groups
}

func newGroup(title string) *DownloadGroup {
	return &DownloadGroup{
		SubTitle: title,
		Fingerprint: fingerprint.ExtractTitle(title, fingerprint.Options{
			FixYear: true,
		}),
		Links: make(map[domain.SourceKind][]string),
	}
}

func collectAnchors(anchors *goquery.Selection, group *DownloadGroup) {
	anchors.Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		if !ok || href == "" {
			return
		}
		kind, ok := SourceOfLinkText(a.Text())
		if !ok {
			return
		}
		group.Links[kind] = append(group.Links[kind], href)
	})
}

// headerTitle is the first text chunk of a group header paragraph.
func headerTitle(p *goquery.Selection) string {
	for _, node := range p.Nodes {
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			if child.Type == html.TextNode {
				if t := strings.TrimSpace(child.Data); t != "" {
					return t
				}
			} else if child.FirstChild != nil && child.FirstChild.Type == html.TextNode {
				if t := strings.TrimSpace(child.FirstChild.Data); t != "" {
					return t
				}
			}
		}
	}
	return ""
}

// listItemTitle is the li text with the link-button texts removed.
func listItemTitle(li *goquery.Selection) string {
	text := li.Text()
	li.Find("a").Each(func(_ int, a *goquery.Selection) {
		text = strings.Replace(text, a.Text(), "", 1)
	})
	text = strings.Trim(strings.TrimSpace(text), "-–: ")
	return strings.TrimSpace(text)
}

// OrderedLinks flattens a group's links by the user's service preference.
type OrderedLink struct {
	Kind domain.SourceKind
	URL  string
}

// LinksByPreference returns a group's links ordered by the service rank.
func (g *DownloadGroup) LinksByPreference(rank map[domain.SourceKind]int) []OrderedLink {
	var out []OrderedLink
	for _, kind := range domain.SourceKinds {
		urls := g.Links[kind]
		for _, u := range urls {
			out = append(out, OrderedLink{Kind: kind, URL: u})
		}
	}
	// Stable preference sort across kinds.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && rank[out[j].Kind] < rank[out[j-1].Kind]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
