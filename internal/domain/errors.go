// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrVolumeNotFound is returned when a volume id has no row.
	ErrVolumeNotFound = errors.New("volume not found")
	// ErrIssueNotFound is returned when an issue lookup comes up empty.
	// During scans it is skipped silently; user-driven paths surface it.
	ErrIssueNotFound = errors.New("issue not found")
	// ErrDownloadNotFound is returned for unknown queue ids.
	ErrDownloadNotFound = errors.New("download not found")
)

// LinkBrokenError marks a link that cannot produce a working download.
// The reason decides the blocklist entry written for it.
type LinkBrokenError struct {
	Reason BlocklistReason // ReasonLinkBroken or ReasonSourceNotSupported
	Link   string
	Err    error
}

func (e *LinkBrokenError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("link broken (%s): %s: %v", e.Reason, e.Link, e.Err)
	}
	return fmt.Sprintf("link broken (%s): %s", e.Reason, e.Link)
}

func (e *LinkBrokenError) Unwrap() error { return e.Err }

// NewLinkBroken builds a LinkBrokenError with ReasonLinkBroken.
func NewLinkBroken(link string, err error) *LinkBrokenError {
	return &LinkBrokenError{Reason: ReasonLinkBroken, Link: link, Err: err}
}

// NewSourceNotSupported builds a LinkBrokenError with ReasonSourceNotSupported.
func NewSourceNotSupported(link string, err error) *LinkBrokenError {
	return &LinkBrokenError{Reason: ReasonSourceNotSupported, Link: link, Err: err}
}

// DownloadLimitReachedError means the service throttled us. The link itself is
// still valid, so it must never be blocklisted.
type DownloadLimitReachedError struct {
	Source SourceKind
}

func (e *DownloadLimitReachedError) Error() string {
	return fmt.Sprintf("download limit reached on %s", e.Source)
}

// ClientNotWorkingError wraps external-client auth or transport failures.
// The affected download fails; the queue itself stays healthy.
type ClientNotWorkingError struct {
	Desc string
	Err  error
}

func (e *ClientNotWorkingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("external client not working: %s: %v", e.Desc, e.Err)
	}
	return fmt.Sprintf("external client not working: %s", e.Desc)
}

func (e *ClientNotWorkingError) Unwrap() error { return e.Err }

// PageFailureReason classifies a failed aggregator article page.
type PageFailureReason string

const (
	PageBroken         PageFailureReason = "broken"
	PageNoWorkingLinks PageFailureReason = "no_working_links"
	PageLimitReached   PageFailureReason = "limit_reached"
	PageNoMatches      PageFailureReason = "no_matches"
)

// FailedPageError reports that an aggregator article could not be used.
// Broken and NoWorkingLinks imply blocklisting the article; LimitReached and
// NoMatches leave it alone.
type FailedPageError struct {
	Reason PageFailureReason
	Link   string
	Err    error
}

func (e *FailedPageError) Error() string {
	return fmt.Sprintf("aggregator page failed (%s): %s", e.Reason, e.Link)
}

func (e *FailedPageError) Unwrap() error { return e.Err }
