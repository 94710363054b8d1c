// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package fingerprint distills free-form comic filenames and titles into a
// structured value object used for matching, naming and importing.
package fingerprint

// SpecialVersion describes a volume shape other than plain numbered issues.
type SpecialVersion string

const (
	// SpecialNone means no special version was determined (absent).
	SpecialNone SpecialVersion = ""
	// SpecialNormal marks an explicitly plain numbered run.
	SpecialNormal SpecialVersion = "normal"
	// SpecialTPB is a trade paperback (collected edition).
	SpecialTPB SpecialVersion = "tpb"
	// SpecialOneShot is a single standalone issue.
	SpecialOneShot SpecialVersion = "one-shot"
	// SpecialHardCover is a collected hardcover edition.
	SpecialHardCover SpecialVersion = "hard-cover"
	// SpecialVolumeAsIssue marks runs whose issues are titled "Volume N".
	SpecialVolumeAsIssue SpecialVersion = "volume-as-issue"
	// SpecialCover marks a cover image file.
	SpecialCover SpecialVersion = "cover"
	// SpecialMetadata marks a metadata sidecar file (comicinfo.xml etc).
	SpecialMetadata SpecialVersion = "metadata"
)

// Fingerprint is the structured information extracted from one title or path.
type Fingerprint struct {
	Series         string
	Year           int // 0 when absent
	VolumeNumber   Number
	IssueNumber    Number
	SpecialVersion SpecialVersion
	Annual         bool
}

// HasYear reports whether a year was found.
func (f Fingerprint) HasYear() bool { return f.Year > 0 }
