// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package aggregator scrapes the release-aggregator site into typed releases
// and download groups.
package aggregator

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/publicsuffix"

	"github.com/Casvt/Kapowarr-sub000/internal/domain"
)

const defaultUserAgent = "Kapowarr"

// Client fetches and parses aggregator pages. It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	solver  *Solver
}

// NewClient builds an aggregator client. solver may be nil.
func NewClient(baseURL string, solver *Solver) *Client {
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: 30 * time.Second,
			Jar:     jar,
		},
		solver: solver,
	}
}

// BaseURL returns the configured aggregator site root.
func (c *Client) BaseURL() string { return c.baseURL }

// HasSolver reports whether a challenge solver is available, which permits
// concurrent page fetches.
func (c *Client) HasSolver() bool { return c.solver.Enabled() }

// fetch retrieves a URL with transient-failure retries. A challenge response
// is routed through the solver and retried once.
func (c *Client) fetch(ctx context.Context, url string) (*http.Response, error) {
	resp, err := c.get(ctx, url, "")
	if err != nil {
		return nil, err
	}

	if IsChallenge(resp) {
		resp.Body.Close()
		if !c.solver.Enabled() {
			return nil, &domain.FailedPageError{Reason: domain.PageBroken, Link: url}
		}
		session, err := c.solver.Get(ctx, url)
		if err != nil {
			log.Warn().Err(err).Str("url", url).Msg("Challenge solve failed")
			return nil, &domain.FailedPageError{Reason: domain.PageBroken, Link: url}
		}
		c.http.Jar.SetCookies(resp.Request.URL, session.Cookies)
		if resp, err = c.get(ctx, url, session.UserAgent); err != nil {
			return nil, err
		}
		if IsChallenge(resp) {
			resp.Body.Close()
			return nil, &domain.FailedPageError{Reason: domain.PageBroken, Link: url}
		}
	}
	return resp, nil
}

func (c *Client) get(ctx context.Context, url, userAgent string) (*http.Response, error) {
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	var resp *http.Response
	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			req.Header.Set("User-Agent", userAgent)
			r, err := c.http.Do(req)
			if err != nil {
				return err
			}
			if r.StatusCode >= 500 {
				r.Body.Close()
				return fmt.Errorf("aggregator returned status %d", r.StatusCode)
			}
			resp = r
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(5),
		retry.Delay(100*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// document fetches a URL and parses it as HTML.
func (c *Client) document(ctx context.Context, url string) (*goquery.Document, error) {
	resp, err := c.fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &domain.FailedPageError{Reason: domain.PageBroken, Link: url}
	}
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", url, err)
	}
	return doc, nil
}
