// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package libscan

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/Casvt/Kapowarr-sub000/internal/domain"
	"github.com/Casvt/Kapowarr-sub000/internal/fingerprint"
	"github.com/Casvt/Kapowarr-sub000/internal/models"
	"github.com/Casvt/Kapowarr-sub000/internal/naming"
	"github.com/Casvt/Kapowarr-sub000/pkg/fsutil"
)

// Rename is one proposed file move.
type Rename struct {
	FileID int    `json:"-"`
	From   string `json:"from"`
	To     string `json:"to"`
}

// ProposedRenames computes the target path of every file of a volume under
// the naming settings, returning only files whose path would change.
func (s *Scanner) ProposedRenames(ctx context.Context, volumeID int, settings domain.NamingSettings) ([]Rename, error) {
	volume, err := s.volumes.Get(ctx, volumeID)
	if err != nil {
		return nil, err
	}
	issues, err := s.volumes.Issues(ctx, volumeID)
	if err != nil {
		return nil, err
	}
	issuesByID := make(map[int]*models.Issue, len(issues))
	for _, issue := range issues {
		issuesByID[issue.ID] = issue
	}

	files, err := s.files.FilesOfVolume(ctx, volumeID)
	if err != nil {
		return nil, err
	}
	general, err := s.files.GeneralFilesOfVolume(ctx, volumeID)
	if err != nil {
		return nil, err
	}

	var renames []Rename
	for _, f := range files {
		var target string
		if fileType, ok := general[f.ID]; ok {
			target = filepath.Join(volume.Folder, string(fileType)+extensionOf(f.Filepath))
		} else {
			linked, err := s.files.IssuesOfFile(ctx, f.ID)
			if err != nil {
				return nil, err
			}
			covered, linkedIssues := coveredRange(linked, issuesByID)
			if !covered.IsSet() && volume.SpecialVersion == fingerprint.SpecialNone {
				continue
			}
			name := naming.FileName(settings, volume, linkedIssues, covered)
			target = filepath.Join(volume.Folder, name+extensionOf(f.Filepath))
		}
		if filepath.Clean(target) == filepath.Clean(f.Filepath) {
			continue
		}
		renames = append(renames, Rename{FileID: f.ID, From: f.Filepath, To: target})
	}
	return renames, nil
}

// ApplyRenames performs the moves and updates the stored paths, preserving
// all issue links. Emptied directories are cleaned up.
func (s *Scanner) ApplyRenames(ctx context.Context, volumeID int, renames []Rename) error {
	volume, err := s.volumes.Get(ctx, volumeID)
	if err != nil {
		return err
	}
	for _, r := range renames {
		log.Info().Str("from", r.From).Str("to", r.To).Msg("Renaming file")
		if err := fsutil.MoveFile(r.From, r.To); err != nil {
			return err
		}
		if err := s.files.Rename(ctx, r.FileID, r.To); err != nil {
			return err
		}
		fsutil.DeleteEmptyParents(filepath.Dir(r.From), volume.Folder)
	}
	return nil
}

func coveredRange(linkedIDs []int, issuesByID map[int]*models.Issue) (fingerprint.Number, []*models.Issue) {
	var linked []*models.Issue
	var covered fingerprint.Number
	for _, id := range linkedIDs {
		issue, ok := issuesByID[id]
		if !ok {
			continue
		}
		linked = append(linked, issue)
		n := issue.CalculatedIssueNumber
		if !covered.IsSet() {
			covered = fingerprint.Single(n)
		} else if n < covered.First() {
			covered = fingerprint.NewRange(n, covered.Last())
		} else if n > covered.Last() {
			covered = fingerprint.NewRange(covered.First(), n)
		}
	}
	return covered, linked
}

// extensionOf preserves compound archive extensions.
func extensionOf(path string) string {
	lower := strings.ToLower(path)
	if strings.HasSuffix(lower, ".tar.gz") {
		return path[len(path)-len(".tar.gz"):]
	}
	return filepath.Ext(path)
}
