// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/Casvt/Kapowarr-sub000/internal/aggregator"
	"github.com/Casvt/Kapowarr-sub000/internal/domain"
	"github.com/Casvt/Kapowarr-sub000/internal/matching"
	"github.com/Casvt/Kapowarr-sub000/internal/models"
)

// Intake turns a picked search result into queue entries: it fetches the
// article behind the result, extracts its download groups and enqueues one
// working service link per matching group.
type Intake struct {
	client    *aggregator.Client
	queue     *Queue
	volumes   *models.VolumeStore
	blocklist *models.BlocklistStore
	settings  func() domain.DownloadSettings
}

func NewIntake(
	client *aggregator.Client,
	queue *Queue,
	volumes *models.VolumeStore,
	blocklist *models.BlocklistStore,
	settings func() domain.DownloadSettings,
) *Intake {
	return &Intake{
		client:    client,
		queue:     queue,
		volumes:   volumes,
		blocklist: blocklist,
		settings:  settings,
	}
}

// Grab enqueues the downloads behind the article at webLink for the volume.
// issueID is non-zero when the result was picked for one specific issue.
// Per download group the service links are tried in preference order until
// one resolves; broken links are blocklisted individually. When the article
// yields nothing usable at all, the article itself is blocklisted.
func (i *Intake) Grab(ctx context.Context, volumeID, issueID int, webLink, webTitle string) ([]*Item, error) {
	volume, err := i.volumes.Get(ctx, volumeID)
	if err != nil {
		return nil, err
	}
	issues, err := i.volumes.Issues(ctx, volumeID)
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

	groups, err := i.client.ParseArticle(ctx, webLink)
	if err != nil {
		return nil, fmt.Errorf("parse article %q: %w", webLink, err)
	}

	articleBlocked, err := i.blocklist.Contains(ctx, webLink)
	if err != nil {
		return nil, err
	}

	rank := i.settings().ServiceRank()
	var added []*Item
	for _, group := range groups {
		verdict := matching.SearchResultMatch(group.Fingerprint, volume, issues, requested, articleBlocked)
		if !verdict.Match {
			log.Debug().Str("subtitle", group.SubTitle).Str("reason", verdict.Reason).
				Msg("Skipping download group")
			continue
		}
		item := i.enqueueGroup(ctx, group, rank, volumeID, issueID, webLink, webTitle)
		if item != nil {
			added = append(added, item)
		}
	}

	if len(added) == 0 {
		if _, err := i.blocklist.Add(ctx, &models.BlocklistEntry{
			VolumeID: volumeID,
			IssueID:  issueID,
			WebLink:  webLink,
			WebTitle: webTitle,
			Reason:   domain.ReasonLinkBroken,
		}); err != nil {
			log.Error().Err(err).Str("link", webLink).Msg("Blocklisting article failed")
		}
		return nil, domain.NewLinkBroken(webLink, errors.New("article has no working download group"))
	}
	return added, nil
}

// enqueueGroup tries the group's links in service preference order and
// returns the enqueued item, or nil when every link failed. Links already
// on the blocklist are skipped outright.
func (i *Intake) enqueueGroup(
	ctx context.Context,
	group *aggregator.DownloadGroup,
	rank map[domain.SourceKind]int,
	volumeID, issueID int,
	webLink, webTitle string,
) *Item {
	covered := ""
	if group.Fingerprint.IssueNumber.IsSet() {
		covered = group.Fingerprint.IssueNumber.String()
	}

	for _, link := range group.LinksByPreference(rank) {
		blocked, err := i.blocklist.Contains(ctx, link.URL)
		if err != nil {
			log.Error().Err(err).Str("link", link.URL).Msg("Blocklist lookup failed")
		} else if blocked {
			log.Debug().Str("link", link.URL).Msg("Skipping blocklisted link")
			continue
		}
		item, err := i.queue.Enqueue(ctx, Request{
			VolumeID:      volumeID,
			IssueID:       issueID,
			CoveredIssues: covered,
			Source:        link.Kind,
			SourceName:    string(link.Kind),
			WebLink:       webLink,
			WebTitle:      webTitle,
			WebSubTitle:   group.SubTitle,
			DownloadLink:  link.URL,
		})
		if err == nil {
			return item
		}

		var broken *domain.LinkBrokenError
		switch {
		case errors.As(err, &broken):
			if _, blErr := i.blocklist.Add(ctx, &models.BlocklistEntry{
				VolumeID:     volumeID,
				IssueID:      issueID,
				WebLink:      webLink,
				WebTitle:     webTitle,
				WebSubTitle:  group.SubTitle,
				DownloadLink: link.URL,
				Source:       link.Kind,
				Reason:       broken.Reason,
			}); blErr != nil {
				log.Error().Err(blErr).Str("link", link.URL).Msg("Blocklisting link failed")
			}
		default:
			// Limit reached or a client that is down: the link itself
			// stays usable, move on to the next service.
			log.Warn().Err(err).Str("link", link.URL).Msg("Service link unusable")
		}
	}
	return nil
}
