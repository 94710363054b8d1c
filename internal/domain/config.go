// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config represents the application configuration
type Config struct {
	Version string

	Host          string `toml:"host" mapstructure:"host"`
	Port          int    `toml:"port" mapstructure:"port"`
	BaseURL       string `toml:"baseUrl" mapstructure:"baseUrl"`
	LogLevel      string `toml:"logLevel" mapstructure:"logLevel"`
	LogPath       string `toml:"logPath" mapstructure:"logPath"`
	LogMaxSize    int    `toml:"logMaxSize" mapstructure:"logMaxSize"`
	LogMaxBackups int    `toml:"logMaxBackups" mapstructure:"logMaxBackups"`
	DataDir       string `toml:"dataDir" mapstructure:"dataDir"`

	MetricsEnabled bool `toml:"metricsEnabled" mapstructure:"metricsEnabled"`

	// ComicVineAPIKey authenticates the external metadata catalogue client.
	ComicVineAPIKey string `toml:"comicvineApiKey" mapstructure:"comicvineApiKey"`

	// AggregatorBaseURL is the release-aggregator site queried for downloads.
	AggregatorBaseURL string `toml:"aggregatorBaseUrl" mapstructure:"aggregatorBaseUrl"`

	// FlareSolverrURL enables the pluggable challenge solver when non-empty.
	FlareSolverrURL string `toml:"flaresolverrUrl" mapstructure:"flaresolverrUrl"`

	Download DownloadSettings `toml:"download" mapstructure:"download"`
	Naming   NamingSettings   `toml:"naming" mapstructure:"naming"`
}

// DownloadSettings is the dynamic settings surface consumed by the queue,
// the resolver and the post-processor.
type DownloadSettings struct {
	DownloadFolder          string          `toml:"downloadFolder" mapstructure:"downloadFolder"`
	ServicePreference       []SourceKind    `toml:"servicePreference" mapstructure:"servicePreference"`
	FormatPreference        []string        `toml:"formatPreference" mapstructure:"formatPreference"`
	Convert                 bool            `toml:"convert" mapstructure:"convert"`
	ExtractIssueRanges      bool            `toml:"extractIssueRanges" mapstructure:"extractIssueRanges"`
	RenameDownloadedFiles   bool            `toml:"renameDownloadedFiles" mapstructure:"renameDownloadedFiles"`
	SeedingHandling         SeedingHandling `toml:"seedingHandling" mapstructure:"seedingHandling"`
	DeleteCompletedTorrents bool            `toml:"deleteCompletedTorrents" mapstructure:"deleteCompletedTorrents"`
}

// NamingSettings holds the naming templates and padding widths.
type NamingSettings struct {
	VolumeFolderNaming       string `toml:"volumeFolderNaming" mapstructure:"volumeFolderNaming"`
	FileNaming               string `toml:"fileNaming" mapstructure:"fileNaming"`
	FileNamingEmpty          string `toml:"fileNamingEmpty" mapstructure:"fileNamingEmpty"`
	FileNamingSpecialVersion string `toml:"fileNamingSpecialVersion" mapstructure:"fileNamingSpecialVersion"`
	FileNamingVAI            string `toml:"fileNamingVai" mapstructure:"fileNamingVai"`
	VolumePadding            int    `toml:"volumePadding" mapstructure:"volumePadding"`
	IssuePadding             int    `toml:"issuePadding" mapstructure:"issuePadding"`
	LongSpecialVersion       bool   `toml:"longSpecialVersion" mapstructure:"longSpecialVersion"`
}

// Validate checks the static bounds of the settings surface. Template
// validation happens in the naming engine, folder containment in
// ValidateFolders once root folders are known.
func (c *Config) Validate() error {
	if c.Download.DownloadFolder == "" {
		return errors.New("downloadFolder is required")
	}
	if err := validateServicePreference(c.Download.ServicePreference); err != nil {
		return err
	}
	if c.Naming.VolumePadding < 1 || c.Naming.VolumePadding > 3 {
		return fmt.Errorf("volumePadding must be within [1,3], got %d", c.Naming.VolumePadding)
	}
	if c.Naming.IssuePadding < 1 || c.Naming.IssuePadding > 4 {
		return fmt.Errorf("issuePadding must be within [1,4], got %d", c.Naming.IssuePadding)
	}
	switch c.Download.SeedingHandling {
	case SeedingComplete, SeedingCopy:
	default:
		return fmt.Errorf("seedingHandling must be %q or %q", SeedingComplete, SeedingCopy)
	}
	return nil
}

// ValidateFolders checks that the download folder exists and does not overlap
// any library root folder in either direction.
func (c *Config) ValidateFolders(rootFolders []string) error {
	info, err := os.Stat(c.Download.DownloadFolder)
	if err != nil {
		return fmt.Errorf("downloadFolder %q: %w", c.Download.DownloadFolder, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("downloadFolder %q is not a directory", c.Download.DownloadFolder)
	}
	for _, root := range rootFolders {
		if FolderContains(root, c.Download.DownloadFolder) || FolderContains(c.Download.DownloadFolder, root) {
			return fmt.Errorf("downloadFolder %q overlaps root folder %q", c.Download.DownloadFolder, root)
		}
	}
	return nil
}

func validateServicePreference(pref []SourceKind) error {
	if len(pref) != len(SourceKinds) {
		return fmt.Errorf("servicePreference must contain exactly the %d supported sources", len(SourceKinds))
	}
	seen := make(map[SourceKind]bool, len(pref))
	for _, kind := range pref {
		seen[kind] = true
	}
	for _, kind := range SourceKinds {
		if !seen[kind] {
			return fmt.Errorf("servicePreference is missing source %q", kind)
		}
	}
	return nil
}

// FolderContains reports whether sub is parent itself or located inside it.
func FolderContains(parent, sub string) bool {
	parent = filepath.Clean(parent)
	sub = filepath.Clean(sub)
	if parent == sub {
		return true
	}
	rel, err := filepath.Rel(parent, sub)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// ServiceRank returns a lookup from source kind to its position in the
// configured service preference. Kinds absent from the preference sort last.
func (s DownloadSettings) ServiceRank() map[SourceKind]int {
	rank := make(map[SourceKind]int, len(SourceKinds))
	for _, kind := range SourceKinds {
		rank[kind] = len(SourceKinds)
	}
	for i, kind := range s.ServicePreference {
		rank[kind] = i
	}
	return rank
}
