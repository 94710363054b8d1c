// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package fsutil provides filesystem utilities for moving library files.
package fsutil

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// MoveFile moves a file, replacing an existing destination. A rename across
// filesystems falls back to copy-and-delete. Permission errors while copying
// file modes are logged as warnings; the move counts as complete once the
// payload is transferred.
func MoveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create destination dir: %w", err)
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	} else if !isCrossDevice(err) {
		// Replace an existing destination explicitly; some platforms
		// refuse the overwrite in rename itself.
		if removeErr := os.Remove(dst); removeErr == nil {
			if err := os.Rename(src, dst); err == nil {
				return nil
			}
		}
	}
	if err := CopyFile(src, dst); err != nil {
		return err
	}
	if err := os.Remove(src); err != nil {
		return fmt.Errorf("remove source after copy: %w", err)
	}
	return nil
}

// CopyFile copies a file, replacing an existing destination.
func CopyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create destination dir: %w", err)
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("copy %s: %w", filepath.Base(src), err)
	}
	if err := out.Close(); err != nil {
		return err
	}

	if err := os.Chmod(dst, info.Mode()); err != nil {
		log.Warn().Err(err).Str("path", dst).Msg("Could not copy file mode")
	}
	return nil
}

// MoveTree moves a directory tree into dst, merging with existing content
// and replacing existing files. Empty source directories are cleaned up.
func MoveTree(src, dst string) error {
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		return MoveFile(path, filepath.Join(dst, rel))
	})
	if err != nil {
		return err
	}
	return os.RemoveAll(src)
}

// CopyTree copies a directory tree into dst, replacing existing files.
func CopyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		return CopyFile(path, filepath.Join(dst, rel))
	})
}

// DeleteEmptyParents removes empty directories from path up to (excluding)
// stop.
func DeleteEmptyParents(path, stop string) {
	stop = filepath.Clean(stop)
	for dir := filepath.Clean(path); dir != stop && len(dir) > len(stop); dir = filepath.Dir(dir) {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
	}
}

func isCrossDevice(err error) bool {
	var linkErr *os.LinkError
	if errors.As(err, &linkErr) {
		return errors.Is(linkErr.Err, errCrossDevice)
	}
	return false
}
