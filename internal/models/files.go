// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Casvt/Kapowarr-sub000/internal/database"
	"github.com/Casvt/Kapowarr-sub000/internal/domain"
)

// File is one on-disk artifact. A file may cover many issues (ranges, TPBs)
// and an issue may have many files.
type File struct {
	ID       int
	Filepath string
	Size     int64
}

// FilesStore accesses files and their links to issues and volumes.
type FilesStore struct {
	db *database.DB
}

func NewFilesStore(db *database.DB) *FilesStore {
	return &FilesStore{db: db}
}

// Upsert inserts the file or returns the existing row for its path.
func (s *FilesStore) Upsert(ctx context.Context, filepath string, size int64) (*File, error) {
	var f File
	err := s.db.Conn().QueryRowContext(ctx,
		"SELECT id, filepath, size FROM files WHERE filepath = ?", filepath).
		Scan(&f.ID, &f.Filepath, &f.Size)
	switch {
	case err == nil:
		if f.Size != size {
			if _, err := s.db.Conn().ExecContext(ctx,
				"UPDATE files SET size = ? WHERE id = ?", size, f.ID); err != nil {
				return nil, fmt.Errorf("update file size: %w", err)
			}
			f.Size = size
		}
		return &f, nil
	case errors.Is(err, sql.ErrNoRows):
		res, err := s.db.Conn().ExecContext(ctx,
			"INSERT INTO files (filepath, size) VALUES (?, ?)", filepath, size)
		if err != nil {
			return nil, fmt.Errorf("insert file: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, err
		}
		return &File{ID: int(id), Filepath: filepath, Size: size}, nil
	default:
		return nil, fmt.Errorf("lookup file %q: %w", filepath, err)
	}
}

func (s *FilesStore) GetByPath(ctx context.Context, filepath string) (*File, error) {
	var f File
	err := s.db.Conn().QueryRowContext(ctx,
		"SELECT id, filepath, size FROM files WHERE filepath = ?", filepath).
		Scan(&f.ID, &f.Filepath, &f.Size)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// Rename updates the stored path, preserving all issue links.
func (s *FilesStore) Rename(ctx context.Context, id int, newPath string) error {
	_, err := s.db.Conn().ExecContext(ctx,
		"UPDATE files SET filepath = ? WHERE id = ?", newPath, id)
	return err
}

func (s *FilesStore) LinkIssue(ctx context.Context, fileID, issueID int) error {
	_, err := s.db.Conn().ExecContext(ctx,
		"INSERT OR IGNORE INTO issues_files (file_id, issue_id) VALUES (?, ?)", fileID, issueID)
	return err
}

func (s *FilesStore) LinkVolume(ctx context.Context, fileID, volumeID int, fileType domain.GeneralFileType) error {
	_, err := s.db.Conn().ExecContext(ctx,
		"INSERT OR IGNORE INTO volume_files (file_id, volume_id, file_type) VALUES (?, ?, ?)",
		fileID, volumeID, string(fileType))
	return err
}

// UnlinkFile removes all issue and volume links for a file.
func (s *FilesStore) UnlinkFile(ctx context.Context, fileID int) error {
	if _, err := s.db.Conn().ExecContext(ctx,
		"DELETE FROM issues_files WHERE file_id = ?", fileID); err != nil {
		return err
	}
	_, err := s.db.Conn().ExecContext(ctx,
		"DELETE FROM volume_files WHERE file_id = ?", fileID)
	return err
}

// IssuesOfFile returns the issue ids a file is linked to.
func (s *FilesStore) IssuesOfFile(ctx context.Context, fileID int) ([]int, error) {
	rows, err := s.db.Conn().QueryContext(ctx,
		"SELECT issue_id FROM issues_files WHERE file_id = ? ORDER BY issue_id", fileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanInts(rows)
}

// FilesOfIssue returns the files linked to an issue.
func (s *FilesStore) FilesOfIssue(ctx context.Context, issueID int) ([]*File, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `
		SELECT f.id, f.filepath, f.size FROM files f
		JOIN issues_files link ON link.file_id = f.id
		WHERE link.issue_id = ? ORDER BY f.filepath`, issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFiles(rows)
}

// FilesOfVolume returns every file linked to any of the volume's issues plus
// its general (cover/metadata) files.
func (s *FilesStore) FilesOfVolume(ctx context.Context, volumeID int) ([]*File, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `
		SELECT DISTINCT f.id, f.filepath, f.size FROM files f
		LEFT JOIN issues_files link ON link.file_id = f.id
		LEFT JOIN issues i ON i.id = link.issue_id
		LEFT JOIN volume_files vf ON vf.file_id = f.id
		WHERE i.volume_id = ? OR vf.volume_id = ?
		ORDER BY f.filepath`, volumeID, volumeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFiles(rows)
}

// GeneralFilesOfVolume returns the volume-level cover/metadata files.
func (s *FilesStore) GeneralFilesOfVolume(ctx context.Context, volumeID int) (map[int]domain.GeneralFileType, error) {
	rows, err := s.db.Conn().QueryContext(ctx,
		"SELECT file_id, file_type FROM volume_files WHERE volume_id = ?", volumeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int]domain.GeneralFileType)
	for rows.Next() {
		var id int
		var ft string
		if err := rows.Scan(&id, &ft); err != nil {
			return nil, err
		}
		out[id] = domain.GeneralFileType(ft)
	}
	return out, rows.Err()
}

func (s *FilesStore) Delete(ctx context.Context, fileID int) error {
	_, err := s.db.Conn().ExecContext(ctx, "DELETE FROM files WHERE id = ?", fileID)
	return err
}

// GC deletes orphan file rows: files linked to no issue and no volume. Every
// mutation path funnels orphan cleanup through here.
func (s *FilesStore) GC(ctx context.Context) (int64, error) {
	res, err := s.db.Conn().ExecContext(ctx, `
		DELETE FROM files WHERE id NOT IN (SELECT file_id FROM issues_files)
			AND id NOT IN (SELECT file_id FROM volume_files)`)
	if err != nil {
		return 0, fmt.Errorf("files gc: %w", err)
	}
	return res.RowsAffected()
}

func scanFiles(rows *sql.Rows) ([]*File, error) {
	var files []*File
	for rows.Next() {
		var f File
		if err := rows.Scan(&f.ID, &f.Filepath, &f.Size); err != nil {
			return nil, err
		}
		files = append(files, &f)
	}
	return files, rows.Err()
}

func scanInts(rows *sql.Rows) ([]int, error) {
	var out []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
