// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

// DownloadState is the lifecycle state of a queued download.
type DownloadState string

const (
	StateQueued      DownloadState = "queued"
	StateDownloading DownloadState = "downloading"
	StateSeeding     DownloadState = "seeding"
	StateImporting   DownloadState = "importing"
	StateFailed      DownloadState = "failed"
	StateCanceled    DownloadState = "canceled"
	StateShutdown    DownloadState = "shutting_down"
)

// Terminal reports whether the state ends the download's time in the queue.
func (s DownloadState) Terminal() bool {
	switch s {
	case StateImporting, StateFailed, StateCanceled, StateShutdown:
		return true
	}
	return false
}

// SourceKind identifies where a download link points to.
type SourceKind string

const (
	SourceMega            SourceKind = "mega"
	SourceMegaFolder      SourceKind = "mega_folder"
	SourceMediaFire       SourceKind = "mediafire"
	SourceMediaFireFolder SourceKind = "mediafire_folder"
	SourceWeTransfer      SourceKind = "wetransfer"
	SourcePixelDrain      SourceKind = "pixeldrain"
	SourcePixelDrainFolder SourceKind = "pixeldrain_folder"
	SourceDirect          SourceKind = "direct"
	SourceTorrent         SourceKind = "torrent"
	SourceUsenet          SourceKind = "usenet"
)

// SourceKinds is the full supported set, in the default service preference
// order. Settings validation requires service_preference to be a permutation
// of exactly this set.
var SourceKinds = []SourceKind{
	SourceMega,
	SourceMegaFolder,
	SourceMediaFire,
	SourceMediaFireFolder,
	SourceWeTransfer,
	SourcePixelDrain,
	SourcePixelDrainFolder,
	SourceDirect,
	SourceTorrent,
	SourceUsenet,
}

// External reports whether transfers for this kind are owned by an external
// client (torrent or usenet) rather than by the queue's own worker.
func (k SourceKind) External() bool {
	return k == SourceTorrent || k == SourceUsenet
}

// BlocklistReason explains why a link or article was blocklisted.
type BlocklistReason string

const (
	ReasonLinkBroken         BlocklistReason = "link_broken"
	ReasonSourceNotSupported BlocklistReason = "source_not_supported"
	ReasonNoWorkingLinks     BlocklistReason = "no_working_links"
	ReasonAddedByUser        BlocklistReason = "added_by_user"
)

// SeedingHandling selects what happens to torrent payloads that finish
// downloading while the torrent is still seeding.
type SeedingHandling string

const (
	// SeedingComplete waits for seeding to finish before moving files.
	SeedingComplete SeedingHandling = "complete"
	// SeedingCopy copies files into the library while seeding continues.
	SeedingCopy SeedingHandling = "copy"
)

// GeneralFileType classifies volume-level files that are not issue content.
type GeneralFileType string

const (
	GeneralFileCover    GeneralFileType = "cover"
	GeneralFileMetadata GeneralFileType = "metadata"
)
