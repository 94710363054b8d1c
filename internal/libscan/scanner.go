// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package libscan walks volume folders and maps files to catalogue issues.
package libscan

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/Casvt/Kapowarr-sub000/internal/domain"
	"github.com/Casvt/Kapowarr-sub000/internal/fingerprint"
	"github.com/Casvt/Kapowarr-sub000/internal/matching"
	"github.com/Casvt/Kapowarr-sub000/internal/models"
)

// scannableExtensions is the set of file types the scanner considers.
var scannableExtensions = map[string]bool{
	".png": true, ".jpeg": true, ".jpg": true, ".webp": true, ".gif": true,
	".cbz": true, ".zip": true, ".rar": true, ".cbr": true, ".7zip": true,
	".7z": true, ".cb7": true, ".cbt": true, ".epub": true, ".pdf": true,
	".xml": true, ".json": true,
}

// Scannable reports whether a path has a recognized extension.
func Scannable(path string) bool {
	lower := strings.ToLower(path)
	if strings.HasSuffix(lower, ".tar.gz") {
		return true
	}
	return scannableExtensions[filepath.Ext(lower)]
}

// Scanner links on-disk files to the issues they cover.
type Scanner struct {
	volumes *models.VolumeStore
	files   *models.FilesStore
}

func New(volumes *models.VolumeStore, files *models.FilesStore) *Scanner {
	return &Scanner{volumes: volumes, files: files}
}

// ScanVolume walks the volume folder and rebuilds the file-to-issue links.
// With a non-empty filepathFilter only those files are (re)considered;
// their previous links are removed first. Scanning is idempotent.
func (s *Scanner) ScanVolume(ctx context.Context, volumeID int, filepathFilter []string) error {
	volume, err := s.volumes.Get(ctx, volumeID)
	if err != nil {
		return err
	}
	issues, err := s.volumes.Issues(ctx, volumeID)
	if err != nil {
		return err
	}

	filter := make(map[string]bool, len(filepathFilter))
	for _, p := range filepathFilter {
		filter[filepath.Clean(p)] = true
	}

	var candidates []string
	err = filepath.WalkDir(volume.Folder, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !Scannable(path) {
			return nil
		}
		if len(filter) > 0 && !filter[filepath.Clean(path)] {
			return nil
		}
		candidates = append(candidates, path)
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("walk %q: %w", volume.Folder, err)
	}

	for _, path := range candidates {
		if err := s.scanFile(ctx, volume, issues, path); err != nil {
			return err
		}
	}

	if len(filter) == 0 {
		if err := s.unlinkMissing(ctx, volumeID); err != nil {
			return err
		}
	}

	removed, err := s.files.GC(ctx)
	if err != nil {
		return err
	}
	log.Debug().
		Int("volumeID", volumeID).
		Int("files", len(candidates)).
		Int64("orphansRemoved", removed).
		Msg("Volume scan finished")
	return nil
}

func (s *Scanner) scanFile(ctx context.Context, volume *models.Volume, issues []*models.Issue, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return nil
	}

	fp := fingerprint.Extract(path, fingerprint.Options{AssumeVolumeNumber: true})

	// Cover and metadata sidecars attach to the volume itself; they only
	// have to match the series, not the volume's special version.
	general := fp.SpecialVersion == fingerprint.SpecialCover ||
		fp.SpecialVersion == fingerprint.SpecialMetadata
	if general {
		if !matching.VolumeTitlesMatch(volume, fp.Series) {
			return nil
		}
	} else if !matching.FileImportingFilter(fp, volume, issues) {
		log.Trace().Str("path", path).Str("series", fp.Series).Msg("File does not match volume")
		return nil
	}

	file, err := s.files.Upsert(ctx, path, info.Size())
	if err != nil {
		return err
	}
	if err := s.files.UnlinkFile(ctx, file.ID); err != nil {
		return err
	}

	if general {
		fileType := domain.GeneralFileCover
		if fp.SpecialVersion == fingerprint.SpecialMetadata {
			fileType = domain.GeneralFileMetadata
		}
		return s.files.LinkVolume(ctx, file.ID, volume.ID, fileType)
	}

	targets := coveredIssues(volume, issues, fp)
	for _, issue := range targets {
		if err := s.files.LinkIssue(ctx, file.ID, issue.ID); err != nil {
			return err
		}
	}
	if len(targets) == 0 {
		log.Trace().Str("path", path).Msg("No issue covers file")
	}
	return nil
}

// coveredIssues maps a matched fingerprint to the issues its file covers.
func coveredIssues(volume *models.Volume, issues []*models.Issue, fp fingerprint.Fingerprint) []*models.Issue {
	if !fp.IssueNumber.IsSet() {
		// Whole-volume file (TPB, one-shot, hard-cover): every monitored
		// issue. Unmonitored issues keep their missing state.
		var out []*models.Issue
		for _, issue := range issues {
			if issue.Monitored {
				out = append(out, issue)
			}
		}
		return out
	}
	var out []*models.Issue
	for _, issue := range issues {
		if fp.IssueNumber.Contains(issue.CalculatedIssueNumber) {
			out = append(out, issue)
		}
	}
	return out
}

// unlinkMissing drops links for previously-known files that no longer exist.
func (s *Scanner) unlinkMissing(ctx context.Context, volumeID int) error {
	known, err := s.files.FilesOfVolume(ctx, volumeID)
	if err != nil {
		return err
	}
	for _, f := range known {
		if _, err := os.Stat(f.Filepath); err == nil {
			continue
		}
		log.Debug().Str("path", f.Filepath).Msg("Unlinking vanished file")
		if err := s.files.UnlinkFile(ctx, f.ID); err != nil {
			return err
		}
	}
	return nil
}
