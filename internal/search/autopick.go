// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package search

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/Casvt/Kapowarr-sub000/internal/fingerprint"
	"github.com/Casvt/Kapowarr-sub000/internal/models"
)

// OpenIssues returns the monitored issues of the volume that have no file.
func (e *Engine) OpenIssues(ctx context.Context, volumeID int) ([]*models.Issue, error) {
	issues, err := e.volumes.Issues(ctx, volumeID)
	if err != nil {
		return nil, err
	}
	var open []*models.Issue
	for _, issue := range issues {
		if !issue.Monitored {
			continue
		}
		files, err := e.files.FilesOfIssue(ctx, issue.ID)
		if err != nil {
			return nil, err
		}
		if len(files) == 0 {
			open = append(open, issue)
		}
	}
	return open, nil
}

// AutoPick reduces ranked volume-search results to the set worth
// downloading. Special-version volumes take the single best match; for the
// rest a non-overlapping cover of the open issues is built greedily in rank
// order.
func AutoPick(volume *models.Volume, results []*Result, open []*models.Issue) []*Result {
	var matches []*Result
	for _, result := range results {
		if result.Match {
			matches = append(matches, result)
		}
	}
	if len(matches) == 0 {
		return nil
	}

	switch volume.SpecialVersion {
	case fingerprint.SpecialTPB, fingerprint.SpecialHardCover, fingerprint.SpecialOneShot:
		return matches[:1]
	}

	covered := make(map[float64]bool)
	var picked []*Result
	for _, result := range matches {
		numbers := coveredOpen(result.Fingerprint, open)
		if len(numbers) == 0 {
			continue
		}
		if overlaps(numbers, covered) {
			continue
		}
		for _, n := range numbers {
			covered[n] = true
		}
		picked = append(picked, result)
	}
	return picked
}

// coveredOpen lists the open issue numbers the release provides. A release
// without an issue number covers the whole volume. Volume-as-issue releases
// are addressed by their volume number.
func coveredOpen(fp fingerprint.Fingerprint, open []*models.Issue) []float64 {
	number := fp.IssueNumber
	if !number.IsSet() && fp.SpecialVersion == fingerprint.SpecialVolumeAsIssue {
		number = fp.VolumeNumber
	}

	var out []float64
	for _, issue := range open {
		if !number.IsSet() || number.Contains(issue.CalculatedIssueNumber) {
			out = append(out, issue.CalculatedIssueNumber)
		}
	}
	return out
}

func overlaps(numbers []float64, covered map[float64]bool) bool {
	for _, n := range numbers {
		if covered[n] {
			return true
		}
	}
	return false
}

// AutoSearch searches the volume, auto-picks a cover of its open issues and
// falls back to one per-issue search for every open issue the volume
// results leave uncovered.
func (e *Engine) AutoSearch(ctx context.Context, volumeID int) ([]*Result, error) {
	volume, issues, err := e.load(ctx, volumeID)
	if err != nil {
		return nil, err
	}
	open, err := e.OpenIssues(ctx, volumeID)
	if err != nil {
		return nil, err
	}
	if len(open) == 0 {
		return nil, nil
	}

	results, err := e.search(ctx, volume, issues, nil)
	if err != nil {
		return nil, err
	}
	picked := AutoPick(volume, results, open)

	switch volume.SpecialVersion {
	case fingerprint.SpecialTPB, fingerprint.SpecialHardCover, fingerprint.SpecialOneShot:
		return picked, nil
	}

	covered := make(map[float64]bool)
	for _, result := range picked {
		for _, n := range coveredOpen(result.Fingerprint, open) {
			covered[n] = true
		}
	}

	for _, issue := range open {
		if covered[issue.CalculatedIssueNumber] {
			continue
		}
		issueResults, err := e.search(ctx, volume, issues, issue)
		if err != nil {
			log.Warn().Err(err).Str("issue", issue.IssueNumber).
				Msg("Per-issue auto search failed")
			continue
		}
		for _, result := range issueResults {
			if result.Match {
				picked = append(picked, result)
				break
			}
		}
	}
	return picked, nil
}

// AutoSearchIssue searches one issue and returns its best match, if any.
func (e *Engine) AutoSearchIssue(ctx context.Context, volumeID, issueID int) (*Result, error) {
	results, err := e.SearchIssue(ctx, volumeID, issueID)
	if err != nil {
		return nil, err
	}
	for _, result := range results {
		if result.Match {
			return result, nil
		}
	}
	return nil, nil
}
