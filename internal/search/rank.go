// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package search

import (
	"sort"
	"strconv"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/Casvt/Kapowarr-sub000/internal/fingerprint"
	"github.com/Casvt/Kapowarr-sub000/internal/matching"
	"github.com/Casvt/Kapowarr-sub000/internal/models"
)

// rankKey sorts ascending: matches first, then the closest series title,
// then volume/year fit, then issue fit, with the title edit distance as the
// final tie break.
type rankKey struct {
	notMatch      int
	wordDistance  int
	volumeYearFit int
	issueFit      float64
	editDistance  int
}

func (a rankKey) less(b rankKey) bool {
	if a.notMatch != b.notMatch {
		return a.notMatch < b.notMatch
	}
	if a.wordDistance != b.wordDistance {
		return a.wordDistance < b.wordDistance
	}
	if a.volumeYearFit != b.volumeYearFit {
		return a.volumeYearFit < b.volumeYearFit
	}
	if a.issueFit != b.issueFit {
		return a.issueFit < b.issueFit
	}
	return a.editDistance < b.editDistance
}

func rankOf(result *Result, volume *models.Volume, issues []*models.Issue, requested *models.Issue) rankKey {
	fp := result.Fingerprint
	key := rankKey{
		wordDistance:  wordSetDistance(volume.Title, fp.Series),
		volumeYearFit: volumeYearFit(fp, volume, issues, requested),
		editDistance: fuzzy.LevenshteinDistance(
			matching.NormalizeTitle(volume.Title), matching.NormalizeTitle(fp.Series)),
	}
	if !result.Match {
		key.notMatch = 1
	}
	if requested != nil {
		key.issueFit = issueFit(fp, requested)
	}
	return key
}

func sortResults(results []*Result) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].rank.less(results[j].rank)
	})
}

// wordSetDistance counts the tokens of the result's series title that the
// query title does not contain.
func wordSetDistance(queryTitle, series string) int {
	queryTokens := make(map[string]bool)
	for _, token := range strings.Fields(matching.NormalizeTitle(queryTitle)) {
		queryTokens[token] = true
	}
	distance := 0
	for _, token := range strings.Fields(matching.NormalizeTitle(series)) {
		if !queryTokens[token] {
			distance++
		}
	}
	return distance
}

// volumeYearFit scores how well the release pins down the volume, from 0
// (volume number and year both confirm) to 3 (nothing does). A direct
// volume-number match saves 1, a direct year match 2, a fuzzy year match 1.
func volumeYearFit(fp fingerprint.Fingerprint, volume *models.Volume, issues []*models.Issue, requested *models.Issue) int {
	fit := 3
	if fp.VolumeNumber.IsSet() && matching.VolumeNumberMatches(volume, issues, fp.VolumeNumber) {
		fit--
	}
	switch {
	case fp.HasYear() && (fp.Year == volume.Year || fp.Year == issueYear(requested)):
		fit -= 2
	case fp.HasYear() && matching.YearsMatch(volume.Year, fp.Year, matching.VolumeEndYear(issues), false):
		fit--
	}
	if fit < 0 {
		fit = 0
	}
	return fit
}

func issueYear(issue *models.Issue) int {
	if issue == nil || len(issue.Date) < 4 {
		return 0
	}
	year, _ := strconv.Atoi(issue.Date[:4])
	return year
}

// issueFit scores how precisely the release addresses the requested issue:
// 0 for a direct hit, 1-1/span when the issue sits in a covered range, 2 for
// a special version without issue numbers, 3 otherwise.
func issueFit(fp fingerprint.Fingerprint, requested *models.Issue) float64 {
	n := requested.CalculatedIssueNumber
	switch {
	case fp.IssueNumber.IsSet() && !fp.IssueNumber.IsRange() && fp.IssueNumber.First() == n:
		return 0
	case fp.IssueNumber.IsRange() && fp.IssueNumber.Contains(n):
		return 1 - 1/fp.IssueNumber.Span()
	case !fp.IssueNumber.IsSet() && fp.SpecialVersion != fingerprint.SpecialNone:
		return 2
	default:
		return 3
	}
}
