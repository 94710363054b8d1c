// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package postprocess

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mholt/archives"
	"github.com/rs/zerolog/log"

	"github.com/Casvt/Kapowarr-sub000/internal/fingerprint"
	"github.com/Casvt/Kapowarr-sub000/internal/libscan"
	"github.com/Casvt/Kapowarr-sub000/internal/matching"
	"github.com/Casvt/Kapowarr-sub000/internal/models"
)

// extractArchives unpacks imported archives whose contents are separate
// issues of the volume. Plain zip and rar containers are always considered;
// comic archives only when issue-range extraction is enabled and the archive
// spans a range. Returns the imported paths with extracted files substituted
// for their archives.
func (p *Processor) extractArchives(ctx context.Context, volume *models.Volume, issues []*models.Issue, paths []string) []string {
	extractRanges := p.settings().Download.ExtractIssueRanges

	var out []string
	for _, path := range paths {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".zip", ".rar":
			out = append(out, p.extractOne(ctx, volume, issues, path, false)...)
		case ".cbz", ".cbr":
			fp := fingerprint.Extract(path, fingerprint.Options{})
			if extractRanges && fp.IssueNumber.IsRange() {
				out = append(out, p.extractOne(ctx, volume, issues, path, true)...)
			} else {
				out = append(out, path)
			}
		default:
			out = append(out, path)
		}
	}
	return out
}

// extractOne unpacks the entries of one archive that belong to the volume.
// With requireMultiple the archive is kept whole unless it holds more than
// one issue; otherwise a lone relevant entry still replaces the archive.
func (p *Processor) extractOne(ctx context.Context, volume *models.Volume, issues []*models.Issue, archivePath string, requireMultiple bool) []string {
	extracted, err := extractRelevant(ctx, archivePath, func(name string) bool {
		if !libscan.Scannable(name) {
			return false
		}
		fp := fingerprint.Extract(name, fingerprint.Options{AssumeVolumeNumber: true})
		return matching.FolderExtractionFilter(fp, volume, issues)
	})
	if err != nil {
		log.Warn().Err(err).Str("archive", archivePath).Msg("Could not extract archive")
		return []string{archivePath}
	}

	keep := len(extracted) == 0 || (requireMultiple && len(extracted) < 2)
	if keep {
		for _, path := range extracted {
			os.Remove(path)
		}
		return []string{archivePath}
	}

	log.Info().Str("archive", archivePath).Int("files", len(extracted)).
		Msg("Extracted issues from archive")
	os.Remove(archivePath)
	return extracted
}

// extractRelevant streams the archive once and writes the entries accepted
// by keep next to it. Entry paths inside the archive are flattened.
func extractRelevant(ctx context.Context, archivePath string, keep func(name string) bool) ([]string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	format, stream, err := archives.Identify(ctx, archivePath, f)
	if err != nil {
		return nil, err
	}
	extractor, ok := format.(archives.Extractor)
	if !ok {
		return nil, nil
	}

	destDir := filepath.Dir(archivePath)
	var extracted []string
	err = extractor.Extract(ctx, stream, func(ctx context.Context, file archives.FileInfo) error {
		if file.IsDir() || !keep(file.NameInArchive) {
			return nil
		}
		src, err := file.Open()
		if err != nil {
			return err
		}
		defer src.Close()

		dst := filepath.Join(destDir, filepath.Base(file.NameInArchive))
		out, err := os.Create(dst)
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, src); err != nil {
			out.Close()
			os.Remove(dst)
			return err
		}
		if err := out.Close(); err != nil {
			return err
		}
		extracted = append(extracted, dst)
		return nil
	})
	if err != nil {
		return extracted, err
	}
	return extracted, nil
}
