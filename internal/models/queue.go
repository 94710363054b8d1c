// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"fmt"
	"time"

	"github.com/Casvt/Kapowarr-sub000/internal/database"
	"github.com/Casvt/Kapowarr-sub000/internal/domain"
)

// QueueRow is the persisted slice of a download: just enough to rebuild the
// download on restart by re-resolving its link.
type QueueRow struct {
	ID            int
	VolumeID      int
	IssueID       int
	CoveredIssues string
	Source        domain.SourceKind
	SourceName    string
	WebLink       string
	WebTitle      string
	WebSubTitle   string
	DownloadLink  string
	ExternalID    string
}

type QueueStore struct {
	db *database.DB
}

func NewQueueStore(db *database.DB) *QueueStore {
	return &QueueStore{db: db}
}

func (s *QueueStore) Add(ctx context.Context, row *QueueRow) error {
	res, err := s.db.Conn().ExecContext(ctx, `
		INSERT INTO download_queue (volume_id, issue_id, covered_issues, source,
			source_name, web_link, web_title, web_sub_title, download_link, external_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.VolumeID, nullableInt(row.IssueID), nullableString(row.CoveredIssues),
		string(row.Source), row.SourceName, nullableString(row.WebLink),
		nullableString(row.WebTitle), nullableString(row.WebSubTitle),
		row.DownloadLink, nullableString(row.ExternalID))
	if err != nil {
		return fmt.Errorf("add queue row: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	row.ID = int(id)
	return nil
}

func (s *QueueStore) SetExternalID(ctx context.Context, id int, externalID string) error {
	_, err := s.db.Conn().ExecContext(ctx,
		"UPDATE download_queue SET external_id = ? WHERE id = ?", externalID, id)
	return err
}

func (s *QueueStore) Delete(ctx context.Context, id int) error {
	_, err := s.db.Conn().ExecContext(ctx, "DELETE FROM download_queue WHERE id = ?", id)
	return err
}

// List returns all persisted queue rows in insertion order.
func (s *QueueStore) List(ctx context.Context) ([]*QueueRow, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `
		SELECT id, volume_id, COALESCE(issue_id, 0), COALESCE(covered_issues, ''),
			source, source_name, COALESCE(web_link, ''), COALESCE(web_title, ''),
			COALESCE(web_sub_title, ''), download_link, COALESCE(external_id, '')
		FROM download_queue ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list queue rows: %w", err)
	}
	defer rows.Close()

	var out []*QueueRow
	for rows.Next() {
		var r QueueRow
		var source string
		if err := rows.Scan(&r.ID, &r.VolumeID, &r.IssueID, &r.CoveredIssues,
			&source, &r.SourceName, &r.WebLink, &r.WebTitle, &r.WebSubTitle,
			&r.DownloadLink, &r.ExternalID); err != nil {
			return nil, err
		}
		r.Source = domain.SourceKind(source)
		out = append(out, &r)
	}
	return out, rows.Err()
}

// HistoryEntry is one line of download history.
type HistoryEntry struct {
	ID           int
	WebLink      string
	WebTitle     string
	WebSubTitle  string
	DownloadLink string
	Source       domain.SourceKind
	Title        string
	VolumeID     int
	IssueID      int
	Success      bool
	DownloadedAt time.Time
}

type HistoryStore struct {
	db *database.DB
}

func NewHistoryStore(db *database.DB) *HistoryStore {
	return &HistoryStore{db: db}
}

func (s *HistoryStore) Add(ctx context.Context, entry *HistoryEntry) error {
	if entry.DownloadedAt.IsZero() {
		entry.DownloadedAt = time.Now()
	}
	res, err := s.db.Conn().ExecContext(ctx, `
		INSERT INTO download_history (web_link, web_title, web_sub_title,
			download_link, source, title, volume_id, issue_id, success, downloaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullableString(entry.WebLink), nullableString(entry.WebTitle),
		nullableString(entry.WebSubTitle), nullableString(entry.DownloadLink),
		string(entry.Source), entry.Title, nullableInt(entry.VolumeID),
		nullableInt(entry.IssueID), entry.Success, entry.DownloadedAt.Unix())
	if err != nil {
		return fmt.Errorf("add history entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	entry.ID = int(id)
	return nil
}

func (s *HistoryStore) List(ctx context.Context, limit int) ([]*HistoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Conn().QueryContext(ctx, `
		SELECT id, COALESCE(web_link, ''), COALESCE(web_title, ''),
			COALESCE(web_sub_title, ''), COALESCE(download_link, ''),
			COALESCE(source, ''), COALESCE(title, ''), COALESCE(volume_id, 0),
			COALESCE(issue_id, 0), success, downloaded_at
		FROM download_history ORDER BY downloaded_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var source string
		var at int64
		if err := rows.Scan(&e.ID, &e.WebLink, &e.WebTitle, &e.WebSubTitle,
			&e.DownloadLink, &source, &e.Title, &e.VolumeID, &e.IssueID,
			&e.Success, &at); err != nil {
			return nil, err
		}
		e.Source = domain.SourceKind(source)
		e.DownloadedAt = time.Unix(at, 0)
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *HistoryStore) Clear(ctx context.Context) error {
	_, err := s.db.Conn().ExecContext(ctx, "DELETE FROM download_history")
	return err
}
