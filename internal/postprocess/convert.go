// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package postprocess

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mholt/archives"
	"github.com/rs/zerolog/log"
)

// convertFunc turns a file into another format, returning the new path. The
// original is consumed.
type convertFunc func(ctx context.Context, path, target string) (string, error)

// converters maps a source extension to the target formats it can reach.
// Rar-based formats can only be read, so conversions out of them repack.
var converters = map[string]map[string]convertFunc{
	"zip": {"cbz": renameExt},
	"rar": {"cbr": renameExt, "cbz": repackAsZip},
	"cbr": {"cbz": repackAsZip},
	"7z":  {"cb7": renameExt, "cbz": repackAsZip},
	"cb7": {"cbz": repackAsZip},
}

// convertFiles converts imported files towards the configured format
// preference and returns the produced paths.
func (p *Processor) convertFiles(ctx context.Context, volumeID int, paths []string) []string {
	cfg := p.settings()
	if !cfg.Download.Convert {
		return nil
	}

	var converted []string
	for _, path := range paths {
		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
		target := preferredTarget(ext, cfg.Download.FormatPreference)
		if target == "" {
			continue
		}
		out, err := converters[ext][target](ctx, path, target)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Str("target", target).
				Msg("Conversion failed")
			continue
		}
		log.Debug().Int("volumeID", volumeID).Str("from", path).Str("to", out).
			Msg("Converted file")
		converted = append(converted, out)
	}
	return converted
}

// preferredTarget picks the most preferred reachable format, or empty when
// the file is already in a format at least as preferred as any reachable one.
func preferredTarget(ext string, preference []string) string {
	for _, format := range preference {
		if format == ext {
			return ""
		}
		if _, ok := converters[ext][format]; ok {
			return format
		}
	}
	return ""
}

func renameExt(_ context.Context, path, target string) (string, error) {
	out := strings.TrimSuffix(path, filepath.Ext(path)) + "." + target
	if err := os.Rename(path, out); err != nil {
		return "", err
	}
	return out, nil
}

// repackAsZip extracts the archive and re-archives its contents as zip.
func repackAsZip(ctx context.Context, path, target string) (string, error) {
	workDir, err := os.MkdirTemp(filepath.Dir(path), ".repack-*")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(workDir)

	if err := extractAll(ctx, path, workDir); err != nil {
		return "", err
	}

	files, err := archives.FilesFromDisk(ctx, nil, map[string]string{workDir: ""})
	if err != nil {
		return "", err
	}

	outPath := strings.TrimSuffix(path, filepath.Ext(path)) + "." + target
	out, err := os.Create(outPath)
	if err != nil {
		return "", err
	}
	if err := (archives.Zip{}).Archive(ctx, out, files); err != nil {
		out.Close()
		os.Remove(outPath)
		return "", fmt.Errorf("repack %q: %w", path, err)
	}
	if err := out.Close(); err != nil {
		return "", err
	}

	os.Remove(path)
	return outPath, nil
}

// extractAll unpacks every regular entry of an archive into dest, keeping
// the entry paths.
func extractAll(ctx context.Context, archivePath, dest string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	format, stream, err := archives.Identify(ctx, archivePath, f)
	if err != nil {
		return err
	}
	extractor, ok := format.(archives.Extractor)
	if !ok {
		return fmt.Errorf("%q is not an extractable archive", archivePath)
	}

	return extractor.Extract(ctx, stream, func(ctx context.Context, file archives.FileInfo) error {
		target := filepath.Join(dest, filepath.FromSlash(file.NameInArchive))
		if file.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		src, err := file.Open()
		if err != nil {
			return err
		}
		defer src.Close()

		out, err := os.Create(target)
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, src); err != nil {
			out.Close()
			return err
		}
		return out.Close()
	})
}
