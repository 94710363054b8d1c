// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package naming

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Casvt/Kapowarr-sub000/internal/fingerprint"
	"github.com/Casvt/Kapowarr-sub000/internal/matching"
	"github.com/Casvt/Kapowarr-sub000/internal/models"
)

func testVolume() *models.Volume {
	return &models.Volume{
		ID:           1,
		ComicVineID:  4050,
		Title:        "Batman",
		Year:         1940,
		Publisher:    "DC Comics",
		VolumeNumber: 2,
	}
}

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "005", FormatNumber(fingerprint.Single(5), 3))
	assert.Equal(t, "011-025", FormatNumber(fingerprint.NewRange(11, 25), 3))
	assert.Equal(t, "001.5", FormatNumber(fingerprint.Single(1.5), 3))
	assert.Equal(t, "-1", FormatNumber(fingerprint.Single(-1), 1))
	assert.Equal(t, "", FormatNumber(fingerprint.Number{}, 3))
}

func TestVolumeFolderName(t *testing.T) {
	s := Defaults()
	got := VolumeFolderName(s, testVolume())
	assert.Equal(t, filepath.FromSlash("Batman/Volume 02 (1940)"), got)
}

func TestVolumeFolderNameMissingYear(t *testing.T) {
	s := Defaults()
	v := testVolume()
	v.Year = 0
	// The empty {year} leaves bare parentheses which survive sanitization,
	// but the trailing space inside them is collapsed.
	got := VolumeFolderName(s, v)
	assert.Equal(t, filepath.FromSlash("Batman/Volume 02 ()"), got)
}

func TestFileNameNormalIssue(t *testing.T) {
	s := Defaults()
	issue := &models.Issue{
		ComicVineID:           9001,
		CalculatedIssueNumber: 5,
		Title:                 "The Joker Returns",
		Date:                  "1941-02-01",
	}
	got := FileName(s, testVolume(), []*models.Issue{issue}, fingerprint.Single(5))
	assert.Equal(t, "Batman (1940) Volume 02 Issue 005", got)
}

func TestFileNameRange(t *testing.T) {
	s := Defaults()
	got := FileName(s, testVolume(), nil, fingerprint.NewRange(11, 25))
	assert.Equal(t, "Batman (1940) Volume 02 Issue 011-025", got)
}

func TestFileNameSpecialVersion(t *testing.T) {
	s := Defaults()
	v := testVolume()
	v.SpecialVersion = fingerprint.SpecialHardCover

	got := FileName(s, v, nil, fingerprint.Number{})
	assert.Equal(t, "Batman (1940) Volume 02 HC", got)

	s.LongSpecialVersion = true
	got = FileName(s, v, nil, fingerprint.Number{})
	assert.Equal(t, "Batman (1940) Volume 02 Hard-Cover", got)
}

func TestFileNameVolumeAsIssue(t *testing.T) {
	s := Defaults()
	v := testVolume()
	v.Title = "Monster"
	v.Year = 2018
	v.SpecialVersion = fingerprint.SpecialVolumeAsIssue

	got := FileName(s, v, nil, fingerprint.Single(5))
	assert.Equal(t, "Monster (2018) Volume 005", got)
	assert.NotContains(t, got, string(filepath.Separator))
}

func TestSanitizePath(t *testing.T) {
	assert.Equal(t, filepath.FromSlash("Batman/Issue 5"),
		SanitizePath(`Bat<man>/Issue: 5?`))
	assert.Equal(t, "Weird Tales",
		SanitizePath("Weird Tales. "))
}

func TestCleanSeriesName(t *testing.T) {
	assert.Equal(t, "Batman Beyond", CleanSeriesName(`Batman: Beyond?`))
	assert.Equal(t, "AkaKiss", CleanSeriesName(`Aka/Kiss`))
}

func TestValidateSettings(t *testing.T) {
	require.NoError(t, ValidateSettings(Defaults()))

	s := Defaults()
	s.FileNaming = "{bogus_key}"
	assert.Error(t, ValidateSettings(s))

	s = Defaults()
	s.FileNaming = "static name"
	assert.Error(t, ValidateSettings(s), "constant templates collide across inputs")
}

// Rendered names must round-trip through the extractor.
func TestRenderExtractRoundTrip(t *testing.T) {
	s := Defaults()
	v := testVolume()

	name := FileName(s, v, nil, fingerprint.NewRange(11, 25)) + ".cbz"
	fp := fingerprint.Extract(name, fingerprint.Options{})

	assert.True(t, matching.TitlesMatch(v.Title, fp.Series))
	assert.Equal(t, v.Year, fp.Year)
	assert.Equal(t, fingerprint.Single(float64(v.VolumeNumber)), fp.VolumeNumber)
	assert.Equal(t, fingerprint.NewRange(11, 25), fp.IssueNumber)
}
