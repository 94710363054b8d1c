// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Casvt/Kapowarr-sub000/internal/database"
	"github.com/Casvt/Kapowarr-sub000/internal/domain"
)

// BlocklistEntry records a link or article that must not be tried again.
type BlocklistEntry struct {
	ID           int
	VolumeID     int
	IssueID      int
	WebLink      string
	WebTitle     string
	WebSubTitle  string
	DownloadLink string
	Source       domain.SourceKind
	Reason       domain.BlocklistReason
	AddedAt      time.Time
}

type BlocklistStore struct {
	db *database.DB
}

func NewBlocklistStore(db *database.DB) *BlocklistStore {
	return &BlocklistStore{db: db}
}

// Add inserts an entry. Adding a duplicate download link (or web link for
// entries without one) is a no-op returning the original entry.
func (s *BlocklistStore) Add(ctx context.Context, entry *BlocklistEntry) (*BlocklistEntry, error) {
	if entry.AddedAt.IsZero() {
		entry.AddedAt = time.Now()
	}

	if existing, err := s.find(ctx, entry.WebLink, entry.DownloadLink); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	res, err := s.db.Conn().ExecContext(ctx, `
		INSERT OR IGNORE INTO blocklist (volume_id, issue_id, web_link, web_title,
			web_sub_title, download_link, source, reason, added_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullableInt(entry.VolumeID), nullableInt(entry.IssueID),
		nullableString(entry.WebLink), nullableString(entry.WebTitle),
		nullableString(entry.WebSubTitle), nullableString(entry.DownloadLink),
		string(entry.Source), string(entry.Reason), entry.AddedAt.Unix())
	if err != nil {
		return nil, fmt.Errorf("add blocklist entry: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil && id > 0 {
		entry.ID = int(id)
	}
	return entry, nil
}

// Contains reports whether a link (download link or web link) is blocklisted.
func (s *BlocklistStore) Contains(ctx context.Context, link string) (bool, error) {
	if link == "" {
		return false, nil
	}
	var n int
	err := s.db.Conn().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM blocklist WHERE download_link = ? OR web_link = ?",
		link, link).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("blocklist lookup: %w", err)
	}
	return n > 0, nil
}

func (s *BlocklistStore) find(ctx context.Context, webLink, downloadLink string) (*BlocklistEntry, error) {
	var row *sql.Row
	if downloadLink != "" {
		row = s.db.Conn().QueryRowContext(ctx,
			"SELECT "+blocklistColumns+" FROM blocklist WHERE download_link = ?", downloadLink)
	} else if webLink != "" {
		row = s.db.Conn().QueryRowContext(ctx,
			"SELECT "+blocklistColumns+" FROM blocklist WHERE web_link = ? AND download_link IS NULL", webLink)
	} else {
		return nil, nil
	}
	entry, err := scanBlocklistEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return entry, err
}

func (s *BlocklistStore) List(ctx context.Context) ([]*BlocklistEntry, error) {
	rows, err := s.db.Conn().QueryContext(ctx,
		"SELECT "+blocklistColumns+" FROM blocklist ORDER BY added_at DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*BlocklistEntry
	for rows.Next() {
		entry, err := scanBlocklistEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *BlocklistStore) Delete(ctx context.Context, id int) error {
	_, err := s.db.Conn().ExecContext(ctx, "DELETE FROM blocklist WHERE id = ?", id)
	return err
}

const blocklistColumns = `id, COALESCE(volume_id, 0), COALESCE(issue_id, 0),
	COALESCE(web_link, ''), COALESCE(web_title, ''), COALESCE(web_sub_title, ''),
	COALESCE(download_link, ''), COALESCE(source, ''), reason, added_at`

func scanBlocklistEntry(row interface{ Scan(...any) error }) (*BlocklistEntry, error) {
	var entry BlocklistEntry
	var source, reason string
	var addedAt int64
	err := row.Scan(&entry.ID, &entry.VolumeID, &entry.IssueID, &entry.WebLink,
		&entry.WebTitle, &entry.WebSubTitle, &entry.DownloadLink, &source, &reason, &addedAt)
	if err != nil {
		return nil, err
	}
	entry.Source = domain.SourceKind(source)
	entry.Reason = domain.BlocklistReason(reason)
	entry.AddedAt = time.Unix(addedAt, 0)
	return &entry, nil
}

func nullableInt(v int) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
