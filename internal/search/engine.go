// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package search runs aggregator searches for volumes and issues, ranks the
// results and auto-picks downloads for open issues.
package search

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Casvt/Kapowarr-sub000/internal/aggregator"
	"github.com/Casvt/Kapowarr-sub000/internal/domain"
	"github.com/Casvt/Kapowarr-sub000/internal/fingerprint"
	"github.com/Casvt/Kapowarr-sub000/internal/matching"
	"github.com/Casvt/Kapowarr-sub000/internal/models"
)

// Result is one annotated and ranked search release.
type Result struct {
	*aggregator.Release
	Match  bool   `json:"match"`
	Reason string `json:"reason,omitempty"`

	rank rankKey
}

// Engine ties the aggregator client to the catalogue and the blocklist.
type Engine struct {
	client    *aggregator.Client
	volumes   *models.VolumeStore
	files     *models.FilesStore
	blocklist *models.BlocklistStore
}

func NewEngine(
	client *aggregator.Client,
	volumes *models.VolumeStore,
	files *models.FilesStore,
	blocklist *models.BlocklistStore,
) *Engine {
	return &Engine{
		client:    client,
		volumes:   volumes,
		files:     files,
		blocklist: blocklist,
	}
}

// SearchVolume searches for any content of the volume and returns the
// results ranked best first.
func (e *Engine) SearchVolume(ctx context.Context, volumeID int) ([]*Result, error) {
	volume, issues, err := e.load(ctx, volumeID)
	if err != nil {
		return nil, err
	}
	return e.search(ctx, volume, issues, nil)
}

// SearchIssue searches for one specific issue of the volume.
func (e *Engine) SearchIssue(ctx context.Context, volumeID, issueID int) ([]*Result, error) {
	volume, issues, err := e.load(ctx, volumeID)
	if err != nil {
		return nil, err
	}
	var requested *models.Issue
	for _, issue := range issues {
		if issue.ID == issueID {
			requested = issue
			break
		}
	}
	if requested == nil {
		return nil, domain.ErrIssueNotFound
	}
	return e.search(ctx, volume, issues, requested)
}

func (e *Engine) load(ctx context.Context, volumeID int) (*models.Volume, []*models.Issue, error) {
	volume, err := e.volumes.Get(ctx, volumeID)
	if err != nil {
		return nil, nil, err
	}
	issues, err := e.volumes.Issues(ctx, volumeID)
	if err != nil {
		return nil, nil, err
	}
	return volume, issues, nil
}

// search fans the fixed query set out concurrently, deduplicates by link,
// annotates each release with the match verdict and sorts by rank.
func (e *Engine) search(ctx context.Context, volume *models.Volume, issues []*models.Issue, requested *models.Issue) ([]*Result, error) {
	query := aggregator.Query{
		Title:        volume.Title,
		VolumeNumber: volume.VolumeNumber,
		Year:         volume.Year,
	}
	if requested != nil {
		query.IssueNumber = requested.IssueNumber
	}
	queries := aggregator.FormatQueries(searchKind(volume, requested), query)

	releases, err := e.runQueries(ctx, queries)
	if err != nil {
		return nil, err
	}

	results := make([]*Result, 0, len(releases))
	for _, release := range releases {
		blocklisted, err := e.blocklist.Contains(ctx, release.Link)
		if err != nil {
			return nil, err
		}
		verdict := matching.SearchResultMatch(release.Fingerprint, volume, issues, requested, blocklisted)
		result := &Result{
			Release: release,
			Match:   verdict.Match,
			Reason:  verdict.Reason,
		}
		result.rank = rankOf(result, volume, issues, requested)
		results = append(results, result)
	}

	sortResults(results)
	log.Debug().Str("title", volume.Title).Int("results", len(results)).
		Msg("Search finished")
	return results, nil
}

// runQueries executes the queries concurrently, merging results in query
// order and dropping duplicate links. Failing queries are skipped.
func (e *Engine) runQueries(ctx context.Context, queries []string) ([]*aggregator.Release, error) {
	perQuery := make([][]*aggregator.Release, len(queries))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	for i, query := range queries {
		g.Go(func() error {
			releases, err := e.client.Search(ctx, query)
			if err != nil {
				log.Warn().Err(err).Str("query", query).Msg("Search query failed")
				return nil
			}
			mu.Lock()
			perQuery[i] = releases
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var out []*aggregator.Release
	for _, releases := range perQuery {
		for _, release := range releases {
			if seen[release.Link] {
				continue
			}
			seen[release.Link] = true
			out = append(out, release)
		}
	}
	return out, nil
}

func searchKind(volume *models.Volume, requested *models.Issue) aggregator.SearchKind {
	if requested != nil {
		return aggregator.SearchIssue
	}
	switch volume.SpecialVersion {
	case fingerprint.SpecialTPB, fingerprint.SpecialHardCover, fingerprint.SpecialOneShot:
		return aggregator.SearchTPB
	case fingerprint.SpecialVolumeAsIssue:
		return aggregator.SearchVAI
	default:
		return aggregator.SearchVolume
	}
}
