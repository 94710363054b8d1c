// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package aggregator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// challengeHeader marks a response that was intercepted by a browser
// challenge instead of reaching the site.
const challengeHeader = "cf-mitigated"

// IsChallenge reports whether a response is a challenge interception.
func IsChallenge(resp *http.Response) bool {
	return resp.Header.Get(challengeHeader) == "challenge"
}

// SolverSession is what a solved challenge yields for a URL: the user agent
// and cookies that satisfy the protection.
type SolverSession struct {
	UserAgent string
	Cookies   []*http.Cookie
}

// Solver is the pluggable challenge-solver service client. The zero value
// (nil) means no solver is configured.
type Solver struct {
	url    string
	client *http.Client

	mu       sync.RWMutex
	sessions map[string]*SolverSession
	started  bool
}

// NewSolver creates a solver client for the given service URL. An empty URL
// returns nil, which disables challenge solving.
func NewSolver(url string) *Solver {
	if url == "" {
		return nil
	}
	return &Solver{
		url:      url,
		client:   &http.Client{Timeout: 90 * time.Second},
		sessions: make(map[string]*SolverSession),
	}
}

// Enabled reports whether challenge solving is available.
func (s *Solver) Enabled() bool { return s != nil }

type solverRequest struct {
	Cmd        string `json:"cmd"`
	URL        string `json:"url,omitempty"`
	Session    string `json:"session,omitempty"`
	MaxTimeout int    `json:"maxTimeout,omitempty"`
}

type solverResponse struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	Solution struct {
		URL       string `json:"url"`
		Status    int    `json:"status"`
		UserAgent string `json:"userAgent"`
		Cookies   []struct {
			Name   string `json:"name"`
			Value  string `json:"value"`
			Domain string `json:"domain"`
		} `json:"cookies"`
	} `json:"solution"`
}

// Start creates the long-lived solver session. Failures are logged and
// non-fatal; the first Get will retry.
func (s *Solver) Start(ctx context.Context) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	if _, err := s.do(ctx, solverRequest{Cmd: "sessions.create", Session: "kapowarr"}); err != nil {
		log.Warn().Err(err).Msg("Could not create challenge solver session")
		return
	}
	s.started = true
}

// Get solves the challenge for a URL, returning the user agent and cookies
// to replay. Solved sessions are cached per URL.
func (s *Solver) Get(ctx context.Context, url string) (*SolverSession, error) {
	if s == nil {
		return nil, fmt.Errorf("no challenge solver configured")
	}
	s.mu.RLock()
	cached := s.sessions[url]
	s.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	resp, err := s.do(ctx, solverRequest{
		Cmd:        "request.get",
		URL:        url,
		Session:    "kapowarr",
		MaxTimeout: 60000,
	})
	if err != nil {
		return nil, err
	}

	session := &SolverSession{UserAgent: resp.Solution.UserAgent}
	for _, c := range resp.Solution.Cookies {
		session.Cookies = append(session.Cookies, &http.Cookie{
			Name: c.Name, Value: c.Value, Domain: c.Domain,
		})
	}

	s.mu.Lock()
	s.sessions[url] = session
	s.mu.Unlock()
	return session, nil
}

func (s *Solver) do(ctx context.Context, payload solverRequest) (*solverResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url+"/v1", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("challenge solver request: %w", err)
	}
	defer resp.Body.Close()

	var out solverResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode solver response: %w", err)
	}
	if out.Status != "ok" {
		return nil, fmt.Errorf("challenge solver: %s", out.Message)
	}
	return &out, nil
}
