// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package matching decides whether extracted fingerprints belong to a volume,
// an issue, a search result or a download group.
package matching

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/Casvt/Kapowarr-sub000/internal/fingerprint"
	"github.com/Casvt/Kapowarr-sub000/internal/models"
	"github.com/Casvt/Kapowarr-sub000/pkg/stringutils"
)

// droppedTokens are removed from titles before comparison. Multi-character
// tokens come first so the single characters cannot split them.
var droppedTokens = []string{
	"one-shot", "tpb",
	"/", "-", "–", "+", ",", ".", "!", ":", "‘", "’", "“", "”",
}

var (
	dropWordRe      = regexp.MustCompile(`(?i)\b(?:the|and)\b|&`)
	multiSpaceRe    = regexp.MustCompile(`\s+`)
	yearishDigitsRe = regexp.MustCompile(`^\d{4}$`)
)

// NormalizeTitle folds a title to ASCII, lowercases it, drops the fixed
// punctuation and word list, and collapses whitespace.
func NormalizeTitle(title string) string {
	t := strings.ToLower(stringutils.ToASCII(title))
	for _, token := range droppedTokens {
		t = strings.ReplaceAll(t, token, " ")
	}
	t = dropWordRe.ReplaceAllString(t, " ")
	t = multiSpaceRe.ReplaceAllString(t, " ")
	return strings.TrimSpace(t)
}

// TitlesMatch is the strict form: equality after normalization.
func TitlesMatch(reference, check string) bool {
	return NormalizeTitle(reference) == NormalizeTitle(check)
}

// TitleContains is the loose form: the normalized reference contains the
// normalized check.
func TitleContains(reference, check string) bool {
	ref := NormalizeTitle(reference)
	c := NormalizeTitle(check)
	if c == "" {
		return false
	}
	return strings.Contains(ref, c)
}

// VolumeTitlesMatch compares against both the title and the alt-title.
func VolumeTitlesMatch(volume *models.Volume, check string) bool {
	if TitlesMatch(volume.Title, check) {
		return true
	}
	return volume.AltTitle != "" && TitlesMatch(volume.AltTitle, check)
}

// YearsMatch is the tolerant year comparison: a-1 <= b <= end+1 where end
// defaults to a. With conservative set, an absent year on either side counts
// as a match.
func YearsMatch(a, b int, end int, conservative bool) bool {
	if a == 0 || b == 0 {
		return conservative
	}
	if end == 0 {
		end = a
	}
	return a-1 <= b && b <= end+1
}

// VolumeEndYear derives the volume's end year from its last issue date,
// conservatively: an unparseable or missing date yields 0 (unknown).
func VolumeEndYear(issues []*models.Issue) int {
	end := 0
	for _, issue := range issues {
		if len(issue.Date) < 4 {
			continue
		}
		if !yearishDigitsRe.MatchString(issue.Date[:4]) {
			continue
		}
		if year, err := strconv.Atoi(issue.Date[:4]); err == nil && year > end {
			end = year
		}
	}
	return end
}

// VolumeNumberMatches reports whether n identifies the volume: by its volume
// number, by its year (tolerant), or, for VOLUME_AS_ISSUE volumes, by every
// value of n existing as a calculated issue number.
func VolumeNumberMatches(volume *models.Volume, issues []*models.Issue, n fingerprint.Number) bool {
	if !n.IsSet() {
		return false
	}
	if !n.IsRange() && int(n.First()) == volume.VolumeNumber {
		return true
	}
	if !n.IsRange() && YearsMatch(volume.Year, int(n.First()), VolumeEndYear(issues), false) {
		return true
	}
	if volume.SpecialVersion == fingerprint.SpecialVolumeAsIssue {
		return allAreIssueNumbers(issues, n)
	}
	return false
}

func allAreIssueNumbers(issues []*models.Issue, n fingerprint.Number) bool {
	known := make(map[float64]bool, len(issues))
	for _, issue := range issues {
		known[issue.CalculatedIssueNumber] = true
	}
	for v := n.First(); v <= n.Last(); v++ {
		if !known[v] {
			return false
		}
	}
	return true
}

// SpecialVersionsCompatible decides whether a file's special version fits a
// volume's.
func SpecialVersionsCompatible(ref, check fingerprint.SpecialVersion, issueNumber fingerprint.Number) bool {
	if ref == check {
		return true
	}
	if (ref == fingerprint.SpecialCover || ref == fingerprint.SpecialMetadata) &&
		(check == fingerprint.SpecialCover || check == fingerprint.SpecialMetadata) {
		return true
	}
	if issueNumber.IsSet() && !issueNumber.IsRange() && issueNumber.First() == 1 &&
		(ref == fingerprint.SpecialOneShot || ref == fingerprint.SpecialHardCover) {
		return true
	}
	if ref == fingerprint.SpecialVolumeAsIssue &&
		(check == fingerprint.SpecialNormal || check == fingerprint.SpecialNone) {
		return true
	}
	if check == fingerprint.SpecialTPB {
		switch ref {
		case fingerprint.SpecialOneShot, fingerprint.SpecialHardCover, fingerprint.SpecialVolumeAsIssue:
			return true
		}
	}
	return false
}

// FolderExtractionFilter picks the useful files out of a downloaded archive
// or torrent payload: the series only has to contain-match and either the
// volume number or the year has to fit.
func FolderExtractionFilter(fp fingerprint.Fingerprint, volume *models.Volume, issues []*models.Issue) bool {
	if !TitleContains(volume.Title, fp.Series) && !VolumeTitlesMatch(volume, fp.Series) {
		return false
	}
	if fp.VolumeNumber.IsSet() && VolumeNumberMatches(volume, issues, fp.VolumeNumber) {
		return true
	}
	if YearsMatch(volume.Year, fp.Year, VolumeEndYear(issues), true) {
		return true
	}
	return false
}

// FileImportingFilter decides whether a scanned file belongs to a volume.
func FileImportingFilter(fp fingerprint.Fingerprint, volume *models.Volume, issues []*models.Issue) bool {
	if !VolumeTitlesMatch(volume, fp.Series) {
		return false
	}
	if !SpecialVersionsCompatible(volume.SpecialVersion, fp.SpecialVersion, fp.IssueNumber) {
		return false
	}
	yearOK := YearsMatch(volume.Year, fp.Year, VolumeEndYear(issues), true)
	volumeOK := !fp.VolumeNumber.IsSet() || VolumeNumberMatches(volume, issues, fp.VolumeNumber)
	return yearOK && volumeOK
}

// AggregatorGroupFilter decides whether a parsed download group belongs to a
// volume.
func AggregatorGroupFilter(fp fingerprint.Fingerprint, volume *models.Volume, issues []*models.Issue) bool {
	if !VolumeTitlesMatch(volume, fp.Series) {
		return false
	}
	if !SpecialVersionsCompatible(volume.SpecialVersion, fp.SpecialVersion, fp.IssueNumber) {
		return false
	}
	if fp.VolumeNumber.IsSet() && !VolumeNumberMatches(volume, issues, fp.VolumeNumber) {
		return false
	}
	if !YearsMatch(volume.Year, fp.Year, VolumeEndYear(issues), true) {
		return false
	}
	if fp.IssueNumber.IsSet() && volume.SpecialVersion != fingerprint.SpecialVolumeAsIssue {
		return anyIssueInRange(issues, fp.IssueNumber)
	}
	return true
}

func anyIssueInRange(issues []*models.Issue, n fingerprint.Number) bool {
	for _, issue := range issues {
		if n.Contains(issue.CalculatedIssueNumber) {
			return true
		}
	}
	return false
}

// SearchVerdict is the annotated result of matching one search release.
type SearchVerdict struct {
	Match  bool
	Reason string
}

// SearchResultMatch additionally consults the blocklist and the requested
// issue, producing the verdict attached to every search release.
func SearchResultMatch(
	fp fingerprint.Fingerprint,
	volume *models.Volume,
	issues []*models.Issue,
	requestedIssue *models.Issue,
	blocklisted bool,
) SearchVerdict {
	if blocklisted {
		return SearchVerdict{Reason: "link is blocklisted"}
	}
	if !VolumeTitlesMatch(volume, fp.Series) {
		return SearchVerdict{Reason: "title does not match"}
	}
	if !SpecialVersionsCompatible(volume.SpecialVersion, fp.SpecialVersion, fp.IssueNumber) {
		return SearchVerdict{Reason: "special version does not match"}
	}
	if fp.VolumeNumber.IsSet() && !VolumeNumberMatches(volume, issues, fp.VolumeNumber) {
		return SearchVerdict{Reason: "volume number does not match"}
	}
	if !YearsMatch(volume.Year, fp.Year, VolumeEndYear(issues), true) {
		return SearchVerdict{Reason: "year does not match"}
	}
	if requestedIssue != nil && fp.IssueNumber.IsSet() &&
		!fp.IssueNumber.Contains(requestedIssue.CalculatedIssueNumber) {
		return SearchVerdict{Reason: "issue number not covered"}
	}
	if fp.IssueNumber.IsSet() && volume.SpecialVersion != fingerprint.SpecialVolumeAsIssue &&
		!anyIssueInRange(issues, fp.IssueNumber) {
		return SearchVerdict{Reason: "no issue in range"}
	}
	return SearchVerdict{Match: true}
}
