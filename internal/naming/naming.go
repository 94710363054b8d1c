// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package naming renders volume-folder, file and empty-slot names from the
// configured templates.
package naming

import (
	"fmt"
	"math"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/Casvt/Kapowarr-sub000/internal/domain"
	"github.com/Casvt/Kapowarr-sub000/internal/fingerprint"
	"github.com/Casvt/Kapowarr-sub000/internal/models"
)

var (
	placeholderRe   = regexp.MustCompile(`\{([a-z_]+)\}`)
	illegalPathRe   = regexp.MustCompile(`[<>:"|?*\x00]`)
	cleanSeriesRe   = regexp.MustCompile(`[<>:"|?*\x00/\\]`)
	multiSpaceRe    = regexp.MustCompile(`\s+`)
	leadingNumberRe = regexp.MustCompile(`^(\d+[.\s]\s*)`)
)

// vars is the key dictionary a template is rendered against. Keys not in the
// map render as the empty string.
type vars map[string]string

func render(template string, v vars) string {
	return placeholderRe.ReplaceAllStringFunc(template, func(m string) string {
		key := m[1 : len(m)-1]
		return v[key]
	})
}

// SanitizePath makes a rendered path safe per OS rules: illegal characters
// are stripped and every component loses trailing dots and spaces. Path
// separators inside templates are honored.
func SanitizePath(p string) string {
	parts := strings.Split(filepath.ToSlash(p), "/")
	out := parts[:0]
	for _, part := range parts {
		part = illegalPathRe.ReplaceAllString(part, "")
		part = multiSpaceRe.ReplaceAllString(part, " ")
		part = strings.TrimRight(strings.TrimSpace(part), ". ")
		if part != "" {
			out = append(out, part)
		}
	}
	return filepath.FromSlash(strings.Join(out, "/"))
}

// CleanSeriesName is the series title with filesystem-hostile characters
// removed, for use in filenames.
func CleanSeriesName(title string) string {
	t := cleanSeriesRe.ReplaceAllString(title, "")
	return strings.TrimSpace(multiSpaceRe.ReplaceAllString(t, " "))
}

// padNumber renders a possibly fractional number with the integer part
// zero-padded to width.
func padNumber(n float64, width int) string {
	neg := ""
	if n < 0 {
		neg = "-"
		n = -n
	}
	whole := math.Floor(n)
	s := fmt.Sprintf("%s%0*d", neg, width, int(whole))
	if frac := n - whole; frac > 1e-9 {
		fs := strconv.FormatFloat(frac, 'f', -1, 64)
		s += strings.TrimPrefix(fs, "0")
	}
	return s
}

// FormatNumber renders a Number with padding; ranges render as a-b with both
// sides padded.
func FormatNumber(n fingerprint.Number, width int) string {
	if !n.IsSet() {
		return ""
	}
	if n.IsRange() {
		return padNumber(n.First(), width) + "-" + padNumber(n.Last(), width)
	}
	return padNumber(n.First(), width)
}

// SpecialVersionLabel renders a special version for filenames. The long form
// spells the edition out, the short form abbreviates.
func SpecialVersionLabel(sv fingerprint.SpecialVersion, long bool) string {
	switch sv {
	case fingerprint.SpecialTPB:
		return "TPB"
	case fingerprint.SpecialOneShot:
		if long {
			return "One-Shot"
		}
		return "OS"
	case fingerprint.SpecialHardCover:
		if long {
			return "Hard-Cover"
		}
		return "HC"
	default:
		return ""
	}
}

func volumeVars(s domain.NamingSettings, v *models.Volume) vars {
	kv := vars{
		"series_name":       v.Title,
		"clean_series_name": CleanSeriesName(v.Title),
		"volume_number":     padNumber(float64(v.VolumeNumber), s.VolumePadding),
		"publisher":         v.Publisher,
	}
	if v.ComicVineID != 0 {
		kv["comicvine_id"] = strconv.Itoa(v.ComicVineID)
	}
	if v.Year != 0 {
		kv["year"] = strconv.Itoa(v.Year)
	}
	return kv
}

// VolumeFolderName renders the relative volume folder under its root folder.
func VolumeFolderName(s domain.NamingSettings, v *models.Volume) string {
	return SanitizePath(render(s.VolumeFolderNaming, volumeVars(s, v)))
}

// FileName renders the filename (without extension) for a file covering the
// given issues. Template choice follows the volume's special version:
// collected editions use the special-version template, volume-as-issue
// volumes use the VAI template, plain issues the issue template.
func FileName(s domain.NamingSettings, v *models.Volume, issues []*models.Issue, covered fingerprint.Number) string {
	kv := volumeVars(s, v)

	switch v.SpecialVersion {
	case fingerprint.SpecialTPB, fingerprint.SpecialOneShot, fingerprint.SpecialHardCover:
		kv["special_version"] = SpecialVersionLabel(v.SpecialVersion, s.LongSpecialVersion)
		return SanitizePath(render(s.FileNamingSpecialVersion, kv))

	case fingerprint.SpecialVolumeAsIssue:
		kv["issue_number"] = FormatNumber(covered, s.IssuePadding)
		// VAI files always live directly in the volume folder.
		name := strings.ReplaceAll(render(s.FileNamingVAI, kv), "/", " ")
		return SanitizePath(name)

	default:
		kv["issue_number"] = FormatNumber(covered, s.IssuePadding)
		if len(issues) == 1 {
			issue := issues[0]
			kv["issue_title"] = issue.Title
			if issue.ComicVineID != 0 {
				kv["issue_comicvine_id"] = strconv.Itoa(issue.ComicVineID)
			}
			kv["issue_release_date"] = issue.Date
			if len(issue.Date) >= 4 {
				kv["issue_release_year"] = issue.Date[:4]
			}
		}
		return SanitizePath(render(s.FileNaming, kv))
	}
}

// EmptySlotName renders the placeholder name for an issue without a file.
func EmptySlotName(s domain.NamingSettings, v *models.Volume, issue *models.Issue) string {
	kv := volumeVars(s, v)
	kv["issue_number"] = FormatNumber(fingerprint.Single(issue.CalculatedIssueNumber), s.IssuePadding)
	kv["issue_title"] = issue.Title
	if issue.ComicVineID != 0 {
		kv["issue_comicvine_id"] = strconv.Itoa(issue.ComicVineID)
	}
	kv["issue_release_date"] = issue.Date
	if len(issue.Date) >= 4 {
		kv["issue_release_year"] = issue.Date[:4]
	}
	return SanitizePath(render(s.FileNamingEmpty, kv))
}

// knownKeys is the closed placeholder set per template.
var knownKeys = map[string][]string{
	"volume_folder_naming": {
		"series_name", "clean_series_name", "volume_number", "comicvine_id",
		"year", "publisher",
	},
	"file_naming": {
		"series_name", "clean_series_name", "volume_number", "comicvine_id",
		"year", "publisher", "special_version", "issue_comicvine_id",
		"issue_number", "issue_title", "issue_release_date", "issue_release_year",
	},
}

// ValidateTemplate checks that a template only uses known placeholders and
// that two distinct mock inputs render to distinct names. A template whose
// output collides across inputs would make files indistinguishable.
func ValidateTemplate(template, kind string) error {
	keys, ok := knownKeys[kind]
	if !ok {
		keys = knownKeys["file_naming"]
	}
	allowed := make(map[string]bool, len(keys))
	for _, k := range keys {
		allowed[k] = true
	}
	for _, m := range placeholderRe.FindAllStringSubmatch(template, -1) {
		if !allowed[m[1]] {
			return fmt.Errorf("unknown placeholder {%s}", m[1])
		}
	}

	a := mockRender(template, "Mock Series One", 1)
	b := mockRender(template, "Mock Series Two", 2)
	if a == b {
		return fmt.Errorf("template %q renders identically for different inputs", template)
	}
	if SanitizePath(a) == "" {
		return fmt.Errorf("template %q renders to an empty name", template)
	}
	return nil
}

func mockRender(template, series string, n int) string {
	kv := vars{
		"series_name":        series,
		"clean_series_name":  CleanSeriesName(series),
		"volume_number":      padNumber(float64(n), 2),
		"comicvine_id":       strconv.Itoa(100 + n),
		"year":               strconv.Itoa(2000 + n),
		"publisher":          "Mock Publisher",
		"special_version":    "TPB",
		"issue_comicvine_id": strconv.Itoa(200 + n),
		"issue_number":       padNumber(float64(n), 3),
		"issue_title":        fmt.Sprintf("Mock Issue %d", n),
		"issue_release_date": fmt.Sprintf("200%d-01-01", n),
		"issue_release_year": strconv.Itoa(2000 + n),
	}
	return render(template, kv)
}

// ValidateSettings validates every configured template.
func ValidateSettings(s domain.NamingSettings) error {
	checks := []struct {
		name, template, kind string
	}{
		{"volumeFolderNaming", s.VolumeFolderNaming, "volume_folder_naming"},
		{"fileNaming", s.FileNaming, "file_naming"},
		{"fileNamingEmpty", s.FileNamingEmpty, "file_naming"},
		{"fileNamingSpecialVersion", s.FileNamingSpecialVersion, "file_naming"},
		{"fileNamingVai", s.FileNamingVAI, "file_naming"},
	}
	for _, c := range checks {
		if err := ValidateTemplate(c.template, c.kind); err != nil {
			return fmt.Errorf("%s: %w", c.name, err)
		}
	}
	return nil
}

// Defaults returns the stock naming settings.
func Defaults() domain.NamingSettings {
	return domain.NamingSettings{
		VolumeFolderNaming:       "{series_name}/Volume {volume_number} ({year})",
		FileNaming:               "{series_name} ({year}) Volume {volume_number} Issue {issue_number}",
		FileNamingEmpty:          "{series_name} ({year}) Volume {volume_number} Issue {issue_number}",
		FileNamingSpecialVersion: "{series_name} ({year}) Volume {volume_number} {special_version}",
		FileNamingVAI:            "{series_name} ({year}) Volume {issue_number}",
		VolumePadding:            2,
		IssuePadding:             3,
		LongSpecialVersion:       false,
	}
}

// CleanupSeriesTitle strips leading list numbering and separator noise left
// over from extraction, for display purposes.
func CleanupSeriesTitle(title string) string {
	t := leadingNumberRe.ReplaceAllString(strings.TrimSpace(title), "")
	return strings.TrimSpace(multiSpaceRe.ReplaceAllString(t, " "))
}
