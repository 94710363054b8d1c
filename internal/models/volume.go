// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package models holds the persisted entities and their SQL stores.
package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Casvt/Kapowarr-sub000/internal/database"
	"github.com/Casvt/Kapowarr-sub000/internal/domain"
	"github.com/Casvt/Kapowarr-sub000/internal/fingerprint"
)

// Volume is one catalogue entry: a sequenced multi-issue publication.
type Volume struct {
	ID                   int
	ComicVineID          int
	Title                string
	AltTitle             string
	Year                 int
	Publisher            string
	VolumeNumber         int
	Description          string
	Monitored            bool
	Folder               string
	RootFolderID         int
	SpecialVersion       fingerprint.SpecialVersion
	SpecialVersionLocked bool
	LastCVFetch          int64
}

// Issue is one numbered unit within a volume.
type Issue struct {
	ID                    int
	VolumeID              int
	ComicVineID           int
	IssueNumber           string
	CalculatedIssueNumber float64
	Title                 string
	Date                  string
	Description           string
	Monitored             bool
}

// VolumeStore accesses volumes, their issues and root folders.
type VolumeStore struct {
	db *database.DB
}

func NewVolumeStore(db *database.DB) *VolumeStore {
	return &VolumeStore{db: db}
}

const volumeColumns = `id, comicvine_id, title, COALESCE(alt_title, ''), COALESCE(year, 0),
	COALESCE(publisher, ''), volume_number, COALESCE(description, ''), monitored,
	folder, root_folder, special_version, special_version_locked, last_cv_fetch`

func scanVolume(row interface{ Scan(...any) error }) (*Volume, error) {
	var v Volume
	err := row.Scan(&v.ID, &v.ComicVineID, &v.Title, &v.AltTitle, &v.Year,
		&v.Publisher, &v.VolumeNumber, &v.Description, &v.Monitored,
		&v.Folder, &v.RootFolderID, &v.SpecialVersion, &v.SpecialVersionLocked, &v.LastCVFetch)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *VolumeStore) Get(ctx context.Context, id int) (*Volume, error) {
	row := s.db.Conn().QueryRowContext(ctx,
		"SELECT "+volumeColumns+" FROM volumes WHERE id = ?", id)
	v, err := scanVolume(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrVolumeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get volume %d: %w", id, err)
	}
	return v, nil
}

func (s *VolumeStore) List(ctx context.Context) ([]*Volume, error) {
	rows, err := s.db.Conn().QueryContext(ctx,
		"SELECT "+volumeColumns+" FROM volumes ORDER BY title, volume_number")
	if err != nil {
		return nil, fmt.Errorf("list volumes: %w", err)
	}
	defer rows.Close()

	var volumes []*Volume
	for rows.Next() {
		v, err := scanVolume(rows)
		if err != nil {
			return nil, err
		}
		volumes = append(volumes, v)
	}
	return volumes, rows.Err()
}

// Create inserts a volume row. The folder must already satisfy the root
// folder containment invariants; ValidateFolder enforces them.
func (s *VolumeStore) Create(ctx context.Context, v *Volume) error {
	res, err := s.db.Conn().ExecContext(ctx, `
		INSERT INTO volumes (comicvine_id, title, alt_title, year, publisher,
			volume_number, description, monitored, folder, root_folder,
			special_version, special_version_locked, last_cv_fetch)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ComicVineID, v.Title, v.AltTitle, v.Year, v.Publisher,
		v.VolumeNumber, v.Description, v.Monitored, v.Folder, v.RootFolderID,
		string(v.SpecialVersion), v.SpecialVersionLocked, v.LastCVFetch)
	if err != nil {
		return fmt.Errorf("create volume: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	v.ID = int(id)
	return nil
}

func (s *VolumeStore) Update(ctx context.Context, v *Volume) error {
	_, err := s.db.Conn().ExecContext(ctx, `
		UPDATE volumes SET title = ?, alt_title = ?, year = ?, publisher = ?,
			volume_number = ?, description = ?, monitored = ?, folder = ?,
			root_folder = ?, special_version = ?, special_version_locked = ?,
			last_cv_fetch = ?
		WHERE id = ?`,
		v.Title, v.AltTitle, v.Year, v.Publisher, v.VolumeNumber, v.Description,
		v.Monitored, v.Folder, v.RootFolderID, string(v.SpecialVersion),
		v.SpecialVersionLocked, v.LastCVFetch, v.ID)
	if err != nil {
		return fmt.Errorf("update volume %d: %w", v.ID, err)
	}
	return nil
}

func (s *VolumeStore) Delete(ctx context.Context, id int) error {
	_, err := s.db.Conn().ExecContext(ctx, "DELETE FROM volumes WHERE id = ?", id)
	return err
}

// ValidateFolder checks the volume folder invariants: inside its root folder,
// outside the download folder and every other root folder.
func (s *VolumeStore) ValidateFolder(ctx context.Context, v *Volume, downloadFolder string) error {
	roots, err := s.RootFolders(ctx)
	if err != nil {
		return err
	}
	var own *RootFolder
	for _, root := range roots {
		if root.ID == v.RootFolderID {
			own = root
		}
	}
	if own == nil {
		return fmt.Errorf("volume %d references unknown root folder %d", v.ID, v.RootFolderID)
	}
	if !domain.FolderContains(own.Folder, v.Folder) {
		return fmt.Errorf("volume folder %q is not inside root folder %q", v.Folder, own.Folder)
	}
	if domain.FolderContains(downloadFolder, v.Folder) || domain.FolderContains(v.Folder, downloadFolder) {
		return fmt.Errorf("volume folder %q overlaps the download folder", v.Folder)
	}
	for _, root := range roots {
		if root.ID == v.RootFolderID {
			continue
		}
		if domain.FolderContains(root.Folder, v.Folder) || domain.FolderContains(v.Folder, root.Folder) {
			return fmt.Errorf("volume folder %q overlaps root folder %q", v.Folder, root.Folder)
		}
	}
	return nil
}

// Issues returns the volume's issues ordered by calculated number.
func (s *VolumeStore) Issues(ctx context.Context, volumeID int) ([]*Issue, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `
		SELECT id, volume_id, comicvine_id, issue_number, calculated_issue_number,
			COALESCE(title, ''), COALESCE(date, ''), COALESCE(description, ''), monitored
		FROM issues WHERE volume_id = ? ORDER BY calculated_issue_number`, volumeID)
	if err != nil {
		return nil, fmt.Errorf("issues of volume %d: %w", volumeID, err)
	}
	defer rows.Close()

	var issues []*Issue
	for rows.Next() {
		var i Issue
		if err := rows.Scan(&i.ID, &i.VolumeID, &i.ComicVineID, &i.IssueNumber,
			&i.CalculatedIssueNumber, &i.Title, &i.Date, &i.Description, &i.Monitored); err != nil {
			return nil, err
		}
		issues = append(issues, &i)
	}
	return issues, rows.Err()
}

func (s *VolumeStore) GetIssue(ctx context.Context, issueID int) (*Issue, error) {
	var i Issue
	err := s.db.Conn().QueryRowContext(ctx, `
		SELECT id, volume_id, comicvine_id, issue_number, calculated_issue_number,
			COALESCE(title, ''), COALESCE(date, ''), COALESCE(description, ''), monitored
		FROM issues WHERE id = ?`, issueID).
		Scan(&i.ID, &i.VolumeID, &i.ComicVineID, &i.IssueNumber,
			&i.CalculatedIssueNumber, &i.Title, &i.Date, &i.Description, &i.Monitored)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrIssueNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get issue %d: %w", issueID, err)
	}
	return &i, nil
}

func (s *VolumeStore) CreateIssue(ctx context.Context, i *Issue) error {
	res, err := s.db.Conn().ExecContext(ctx, `
		INSERT INTO issues (volume_id, comicvine_id, issue_number,
			calculated_issue_number, title, date, description, monitored)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		i.VolumeID, i.ComicVineID, i.IssueNumber, i.CalculatedIssueNumber,
		i.Title, i.Date, i.Description, i.Monitored)
	if err != nil {
		return fmt.Errorf("create issue: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	i.ID = int(id)
	return nil
}

// RootFolder is one library root.
type RootFolder struct {
	ID     int
	Folder string
}

func (s *VolumeStore) RootFolders(ctx context.Context) ([]*RootFolder, error) {
	rows, err := s.db.Conn().QueryContext(ctx, "SELECT id, folder FROM root_folders ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list root folders: %w", err)
	}
	defer rows.Close()

	var folders []*RootFolder
	for rows.Next() {
		var rf RootFolder
		if err := rows.Scan(&rf.ID, &rf.Folder); err != nil {
			return nil, err
		}
		folders = append(folders, &rf)
	}
	return folders, rows.Err()
}

func (s *VolumeStore) AddRootFolder(ctx context.Context, folder string) (*RootFolder, error) {
	res, err := s.db.Conn().ExecContext(ctx,
		"INSERT INTO root_folders (folder) VALUES (?)", folder)
	if err != nil {
		return nil, fmt.Errorf("add root folder: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &RootFolder{ID: int(id), Folder: folder}, nil
}
