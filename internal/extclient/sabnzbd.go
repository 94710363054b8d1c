// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package extclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Casvt/Kapowarr-sub000/internal/domain"
	"github.com/Casvt/Kapowarr-sub000/internal/downloader"
	"github.com/Casvt/Kapowarr-sub000/internal/models"
)

// usenetCategory groups this application's jobs inside SABnzbd.
const usenetCategory = "kapowarr"

// SABnzbd delegates usenet downloads to a SABnzbd instance via its JSON API.
// Downloads are identified by their nzo id.
type SABnzbd struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewSABnzbd(cfg *models.ExternalClientConfig) *SABnzbd {
	return &SABnzbd{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIToken,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Login checks connectivity and the API key against the version endpoint.
func (s *SABnzbd) Login(ctx context.Context) error {
	var reply struct {
		Version string `json:"version"`
	}
	if err := s.call(ctx, url.Values{"mode": {"version"}}, &reply); err != nil {
		return fmt.Errorf("connect to SABnzbd: %w", err)
	}
	if reply.Version == "" {
		return fmt.Errorf("connect to SABnzbd: no version in reply")
	}
	return nil
}

// Add submits an nzb link and returns the assigned nzo id.
func (s *SABnzbd) Add(ctx context.Context, link, folder, name string) (string, error) {
	params := url.Values{
		"mode": {"addurl"},
		"name": {link},
		"cat":  {usenetCategory},
	}
	if name != "" {
		params.Set("nzbname", name)
	}

	var reply struct {
		Status bool     `json:"status"`
		NzoIDs []string `json:"nzo_ids"`
	}
	if err := s.call(ctx, params, &reply); err != nil {
		return "", err
	}
	if !reply.Status || len(reply.NzoIDs) == 0 {
		return "", fmt.Errorf("SABnzbd rejected nzb link")
	}

	log.Debug().Str("nzoID", reply.NzoIDs[0]).Msg("Added nzb to SABnzbd")
	return reply.NzoIDs[0], nil
}

type sabQueueSlot struct {
	NzoID      string `json:"nzo_id"`
	Status     string `json:"status"`
	MB         string `json:"mb"`
	Percentage string `json:"percentage"`
}

func (s *SABnzbd) Status(ctx context.Context, externalID string) (downloader.ExternalStatus, error) {
	var reply struct {
		Queue struct {
			KBPerSec string         `json:"kbpersec"`
			Slots    []sabQueueSlot `json:"slots"`
		} `json:"queue"`
	}
	params := url.Values{
		"mode":       {"queue"},
		"nzo_ids":    {externalID},
		"limit":      {"1"},
		"search":     {""},
		"categories": {usenetCategory},
	}
	if err := s.call(ctx, params, &reply); err != nil {
		return downloader.ExternalStatus{}, err
	}

	for _, slot := range reply.Queue.Slots {
		if slot.NzoID != externalID {
			continue
		}
		mb, _ := strconv.ParseFloat(slot.MB, 64)
		pct, _ := strconv.ParseFloat(slot.Percentage, 64)
		kbps, _ := strconv.ParseFloat(reply.Queue.KBPerSec, 64)
		return downloader.ExternalStatus{
			Size:     int64(mb * 1024 * 1024),
			Progress: pct,
			Speed:    kbps * 1024,
			State:    sabState(slot.Status),
		}, nil
	}

	// Gone from the queue: either finished or removed. The history
	// distinguishes the two.
	return s.historyStatus(ctx, externalID)
}

// historyStatus resolves a job that already left the queue.
func (s *SABnzbd) historyStatus(ctx context.Context, externalID string) (downloader.ExternalStatus, error) {
	var reply struct {
		History struct {
			Slots []struct {
				NzoID  string `json:"nzo_id"`
				Status string `json:"status"`
				Bytes  int64  `json:"bytes"`
			} `json:"slots"`
		} `json:"history"`
	}
	params := url.Values{
		"mode":    {"history"},
		"nzo_ids": {externalID},
	}
	if err := s.call(ctx, params, &reply); err != nil {
		return downloader.ExternalStatus{}, err
	}

	for _, slot := range reply.History.Slots {
		if slot.NzoID != externalID {
			continue
		}
		state := domain.StateImporting
		if strings.EqualFold(slot.Status, "Failed") {
			state = domain.StateFailed
		}
		return downloader.ExternalStatus{
			Size:     slot.Bytes,
			Progress: 100,
			State:    state,
		}, nil
	}
	return downloader.ExternalStatus{}, fmt.Errorf("nzb %s not in client", externalID)
}

func (s *SABnzbd) Remove(ctx context.Context, externalID string, deleteFiles bool) error {
	params := url.Values{
		"mode":  {"queue"},
		"name":  {"delete"},
		"value": {externalID},
	}
	if deleteFiles {
		params.Set("del_files", "1")
	}
	var reply struct {
		Status bool `json:"status"`
	}
	if err := s.call(ctx, params, &reply); err != nil {
		return err
	}
	if !reply.Status {
		// Already gone from the queue, try the history.
		params.Set("mode", "history")
		if err := s.call(ctx, params, &reply); err != nil {
			return err
		}
	}
	return nil
}

// call issues an API request with the key and output format appended.
func (s *SABnzbd) call(ctx context.Context, params url.Values, out any) error {
	params.Set("output", "json")
	params.Set("apikey", s.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.baseURL+"/api?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("SABnzbd request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("SABnzbd returned %d", resp.StatusCode)
	}

	var probe struct {
		Error string `json:"error"`
	}
	dec := json.NewDecoder(resp.Body)
	raw := json.RawMessage{}
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("decode SABnzbd reply: %w", err)
	}
	if err := json.Unmarshal(raw, &probe); err == nil && probe.Error != "" {
		return fmt.Errorf("SABnzbd error: %s", probe.Error)
	}
	return json.Unmarshal(raw, out)
}

// sabState maps SABnzbd queue statuses onto the download lifecycle.
func sabState(status string) domain.DownloadState {
	switch strings.ToLower(status) {
	case "paused", "queued", "grabbing":
		return domain.StateQueued
	case "completed", "verifying", "repairing", "extracting", "moving":
		return domain.StateImporting
	case "failed":
		return domain.StateFailed
	default:
		return domain.StateDownloading
	}
}
