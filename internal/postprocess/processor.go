// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package postprocess runs the per-terminal-state action chains that settle
// a finished download: history, imports into the library, blocklisting and
// cleanup.
package postprocess

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/Casvt/Kapowarr-sub000/internal/domain"
	"github.com/Casvt/Kapowarr-sub000/internal/libscan"
	"github.com/Casvt/Kapowarr-sub000/internal/models"
	"github.com/Casvt/Kapowarr-sub000/internal/queue"
	"github.com/Casvt/Kapowarr-sub000/pkg/fsutil"
)

// Processor implements queue.PostProcessor.
type Processor struct {
	history   *models.HistoryStore
	blocklist *models.BlocklistStore
	volumes   *models.VolumeStore
	scanner   *libscan.Scanner
	// settings returns the live configuration; read per chain run.
	settings func() *domain.Config
}

func New(
	history *models.HistoryStore,
	blocklist *models.BlocklistStore,
	volumes *models.VolumeStore,
	scanner *libscan.Scanner,
	settings func() *domain.Config,
) *Processor {
	return &Processor{
		history:   history,
		blocklist: blocklist,
		volumes:   volumes,
		scanner:   scanner,
		settings:  settings,
	}
}

// Process runs the action chain for the state the download settled in.
func (p *Processor) Process(ctx context.Context, item *queue.Item, state domain.DownloadState, runErr error) {
	log.Debug().Int("id", item.ID).Str("state", string(state)).
		Msg("Post-processing download")

	switch state {
	case domain.StateImporting:
		if item.Kind.External() && item.Copied {
			p.completeCopied(item)
		} else {
			p.succeed(ctx, item, moveImport)
		}
	case domain.StateSeeding:
		// Copy-while-seeding: import a copy, leave the payload seeding.
		p.succeed(ctx, item, copyImport)
	case domain.StateCanceled, domain.StateShutdown:
		p.deleteFiles(item)
	case domain.StateFailed:
		p.recordHistory(ctx, item, false)
		if reason, permanent := queue.PermanentFailure(runErr); permanent {
			p.blocklistItem(ctx, item, reason)
		}
		p.deleteFiles(item)
	}
}

// importMode selects whether the payload is moved into the library or copied
// while the original keeps seeding.
type importMode int

const (
	moveImport importMode = iota
	copyImport
)

// succeed runs the success chain: history, import into the volume folder,
// scan, convert, scan again.
func (p *Processor) succeed(ctx context.Context, item *queue.Item, mode importMode) {
	p.recordHistory(ctx, item, true)

	volume, err := p.volumes.Get(ctx, item.Row.VolumeID)
	if err != nil {
		log.Error().Err(err).Int("volumeID", item.Row.VolumeID).
			Msg("Cannot import download, volume gone")
		p.deleteFiles(item)
		return
	}

	imported, err := p.importFiles(item, volume, mode)
	if err != nil {
		log.Error().Err(err).Int("id", item.ID).Msg("Importing download files failed")
		return
	}
	if len(imported) == 0 {
		return
	}

	issues, err := p.volumes.Issues(ctx, volume.ID)
	if err != nil {
		log.Error().Err(err).Int("volumeID", volume.ID).Msg("Could not load issues")
		return
	}
	imported = p.extractArchives(ctx, volume, issues, imported)

	if err := p.scanner.ScanVolume(ctx, volume.ID, imported); err != nil {
		log.Error().Err(err).Int("volumeID", volume.ID).Msg("Post-import scan failed")
	}
	p.renameImported(ctx, volume.ID)

	if converted := p.convertFiles(ctx, volume.ID, imported); len(converted) > 0 {
		if err := p.scanner.ScanVolume(ctx, volume.ID, nil); err != nil {
			log.Error().Err(err).Int("volumeID", volume.ID).Msg("Post-convert scan failed")
		}
	}
}

// importFiles brings the payload into the volume folder, replacing existing
// destination files. Directories are flattened one level into the folder.
func (p *Processor) importFiles(item *queue.Item, volume *models.Volume, mode importMode) ([]string, error) {
	if item.Download == nil {
		return nil, nil
	}
	if err := os.MkdirAll(volume.Folder, 0o755); err != nil {
		return nil, err
	}

	var imported []string
	for _, src := range item.Download.Files() {
		info, err := os.Stat(src)
		if err != nil {
			log.Warn().Str("path", src).Msg("Download file vanished before import")
			continue
		}

		if info.IsDir() {
			paths, err := p.importDir(src, volume.Folder, mode)
			if err != nil {
				return imported, err
			}
			imported = append(imported, paths...)
			continue
		}

		dst := filepath.Join(volume.Folder, filepath.Base(src))
		if err := transfer(src, dst, mode); err != nil {
			return imported, err
		}
		imported = append(imported, dst)
	}
	return imported, nil
}

// importDir moves or copies the scannable files of a payload directory into
// the volume folder.
func (p *Processor) importDir(dir, dest string, mode importMode) ([]string, error) {
	var imported []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if !libscan.Scannable(path) {
			return nil
		}
		dst := filepath.Join(dest, filepath.Base(path))
		if err := transfer(path, dst, mode); err != nil {
			return err
		}
		imported = append(imported, dst)
		return nil
	})
	if err != nil {
		return imported, err
	}
	if mode == moveImport {
		os.RemoveAll(dir)
	}
	return imported, nil
}

func transfer(src, dst string, mode importMode) error {
	if mode == copyImport {
		return fsutil.CopyFile(src, dst)
	}
	return fsutil.MoveFile(src, dst)
}

// renameImported applies the naming templates to the volume when enabled.
func (p *Processor) renameImported(ctx context.Context, volumeID int) {
	cfg := p.settings()
	if !cfg.Download.RenameDownloadedFiles {
		return
	}
	renames, err := p.scanner.ProposedRenames(ctx, volumeID, cfg.Naming)
	if err != nil {
		log.Error().Err(err).Int("volumeID", volumeID).Msg("Could not propose renames")
		return
	}
	if err := p.scanner.ApplyRenames(ctx, volumeID, renames); err != nil {
		log.Error().Err(err).Int("volumeID", volumeID).Msg("Could not apply renames")
	}
}

// completeCopied settles a copy-handled torrent that finished seeding: the
// library copy is already imported, only the original payload remains.
func (p *Processor) completeCopied(item *queue.Item) {
	if p.settings().Download.DeleteCompletedTorrents {
		p.deleteFiles(item)
	}
}

func (p *Processor) recordHistory(ctx context.Context, item *queue.Item, success bool) {
	title := item.Row.WebTitle
	if item.Download != nil && item.Download.Title() != "" {
		title = item.Download.Title()
	}
	entry := &models.HistoryEntry{
		WebLink:      item.Row.WebLink,
		WebTitle:     item.Row.WebTitle,
		WebSubTitle:  item.Row.WebSubTitle,
		DownloadLink: item.Row.DownloadLink,
		Source:       item.Row.Source,
		Title:        title,
		VolumeID:     item.Row.VolumeID,
		IssueID:      item.Row.IssueID,
		Success:      success,
	}
	if err := p.history.Add(ctx, entry); err != nil {
		log.Error().Err(err).Int("id", item.ID).Msg("Could not record download history")
	}
}

func (p *Processor) blocklistItem(ctx context.Context, item *queue.Item, reason domain.BlocklistReason) {
	_, err := p.blocklist.Add(ctx, &models.BlocklistEntry{
		VolumeID:     item.Row.VolumeID,
		IssueID:      item.Row.IssueID,
		WebLink:      item.Row.WebLink,
		WebTitle:     item.Row.WebTitle,
		WebSubTitle:  item.Row.WebSubTitle,
		DownloadLink: item.Row.DownloadLink,
		Source:       item.Row.Source,
		Reason:       reason,
	})
	if err != nil {
		log.Error().Err(err).Int("id", item.ID).Msg("Could not blocklist download link")
	}
}

// deleteFiles removes the download's on-disk remains and empty parents up to
// the download folder.
func (p *Processor) deleteFiles(item *queue.Item) {
	if item.Download == nil {
		return
	}
	downloadFolder := p.settings().Download.DownloadFolder
	for _, path := range item.Download.Files() {
		if err := os.RemoveAll(path); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Could not delete download file")
			continue
		}
		fsutil.DeleteEmptyParents(path, downloadFolder)
	}
}
