// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package libscan

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Casvt/Kapowarr-sub000/internal/database"
	"github.com/Casvt/Kapowarr-sub000/internal/domain"
	"github.com/Casvt/Kapowarr-sub000/internal/fingerprint"
	"github.com/Casvt/Kapowarr-sub000/internal/models"
	"github.com/Casvt/Kapowarr-sub000/internal/naming"
)

type fixture struct {
	db      *database.DB
	volumes *models.VolumeStore
	files   *models.FilesStore
	scanner *Scanner
	volume  *models.Volume
	issues  []*models.Issue
}

func newFixture(t *testing.T, issueCount int) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	volumes := models.NewVolumeStore(db)
	files := models.NewFilesStore(db)

	root, err := volumes.AddRootFolder(ctx, t.TempDir())
	require.NoError(t, err)

	volume := &models.Volume{
		ComicVineID:  4050,
		Title:        "Batman",
		Year:         1940,
		VolumeNumber: 1,
		Monitored:    true,
		Folder:       filepath.Join(root.Folder, "Batman"),
		RootFolderID: root.ID,
	}
	require.NoError(t, os.MkdirAll(volume.Folder, 0o755))
	require.NoError(t, volumes.Create(ctx, volume))

	var issues []*models.Issue
	for i := 1; i <= issueCount; i++ {
		issue := &models.Issue{
			VolumeID:              volume.ID,
			ComicVineID:           9000 + i,
			IssueNumber:           fmt.Sprintf("%d", i),
			CalculatedIssueNumber: float64(i),
			Date:                  fmt.Sprintf("1940-%02d-01", i),
			Monitored:             true,
		}
		require.NoError(t, volumes.CreateIssue(ctx, issue))
		issues = append(issues, issue)
	}

	return &fixture{
		db:      db,
		volumes: volumes,
		files:   files,
		scanner: New(volumes, files),
		volume:  volume,
		issues:  issues,
	}
}

func (f *fixture) touch(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(f.volume.Folder, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("payload"), 0o644))
	return path
}

func TestScannable(t *testing.T) {
	assert.True(t, Scannable("Batman 001.cbz"))
	assert.True(t, Scannable("Batman 001.CBR"))
	assert.True(t, Scannable("archive.tar.gz"))
	assert.True(t, Scannable("ComicInfo.xml"))
	assert.False(t, Scannable("notes.txt"))
	assert.False(t, Scannable("movie.mkv"))
}

func TestScanVolumeLinksSingleIssue(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	path := f.touch(t, "Batman (1940) Volume 1 Issue 3.cbz")
	require.NoError(t, f.scanner.ScanVolume(ctx, f.volume.ID, nil))

	file, err := f.files.GetByPath(ctx, path)
	require.NoError(t, err)
	require.NotNil(t, file)

	linked, err := f.files.IssuesOfFile(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{f.issues[2].ID}, linked)
}

func TestScanVolumeLinksRange(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	path := f.touch(t, "Batman (1940) Volume 1 Issue 2-4.cbz")
	require.NoError(t, f.scanner.ScanVolume(ctx, f.volume.ID, nil))

	file, err := f.files.GetByPath(ctx, path)
	require.NoError(t, err)
	require.NotNil(t, file)

	linked, err := f.files.IssuesOfFile(ctx, file.ID)
	require.NoError(t, err)
	assert.Len(t, linked, 3)
}

func TestScanVolumeWholeVolumeFileLinksMonitoredOnly(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()

	f.volume.SpecialVersion = fingerprint.SpecialTPB
	require.NoError(t, f.volumes.Update(ctx, f.volume))

	unmonitored := &models.Issue{
		VolumeID:              f.volume.ID,
		ComicVineID:           9099,
		IssueNumber:           "4",
		CalculatedIssueNumber: 4,
		Date:                  "1940-04-01",
		Monitored:             false,
	}
	require.NoError(t, f.volumes.CreateIssue(ctx, unmonitored))

	path := f.touch(t, "Batman (1940) TPB.cbz")
	require.NoError(t, f.scanner.ScanVolume(ctx, f.volume.ID, nil))

	file, err := f.files.GetByPath(ctx, path)
	require.NoError(t, err)
	require.NotNil(t, file)

	linked, err := f.files.IssuesOfFile(ctx, file.ID)
	require.NoError(t, err)
	assert.Len(t, linked, 3)
	assert.NotContains(t, linked, unmonitored.ID)
}

func TestScanVolumeGeneralFiles(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	cover := f.touch(t, "cover.jpg")
	meta := f.touch(t, "ComicInfo.xml")
	require.NoError(t, f.scanner.ScanVolume(ctx, f.volume.ID, nil))

	general, err := f.files.GeneralFilesOfVolume(ctx, f.volume.ID)
	require.NoError(t, err)
	require.Len(t, general, 2)

	coverFile, err := f.files.GetByPath(ctx, cover)
	require.NoError(t, err)
	assert.Equal(t, domain.GeneralFileCover, general[coverFile.ID])

	metaFile, err := f.files.GetByPath(ctx, meta)
	require.NoError(t, err)
	assert.Equal(t, domain.GeneralFileMetadata, general[metaFile.ID])
}

func TestScanVolumeSkipsForeignSeries(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	path := f.touch(t, "Superman (1939) Volume 1 Issue 1.cbz")
	require.NoError(t, f.scanner.ScanVolume(ctx, f.volume.ID, nil))

	file, err := f.files.GetByPath(ctx, path)
	require.NoError(t, err)
	assert.Nil(t, file, "non-matching file must not be recorded")
}

func TestScanVolumeIdempotent(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	f.touch(t, "Batman (1940) Volume 1 Issue 1.cbz")
	f.touch(t, "Batman (1940) Volume 1 Issue 2-3.cbz")

	require.NoError(t, f.scanner.ScanVolume(ctx, f.volume.ID, nil))
	first, err := f.files.FilesOfVolume(ctx, f.volume.ID)
	require.NoError(t, err)

	require.NoError(t, f.scanner.ScanVolume(ctx, f.volume.ID, nil))
	second, err := f.files.FilesOfVolume(ctx, f.volume.ID)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestScanVolumeUnlinksVanished(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()

	path := f.touch(t, "Batman (1940) Volume 1 Issue 1.cbz")
	require.NoError(t, f.scanner.ScanVolume(ctx, f.volume.ID, nil))

	require.NoError(t, os.Remove(path))
	require.NoError(t, f.scanner.ScanVolume(ctx, f.volume.ID, nil))

	file, err := f.files.GetByPath(ctx, path)
	require.NoError(t, err)
	assert.Nil(t, file, "orphan row must be garbage collected")
}

func TestScanVolumeFilepathFilter(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	kept := f.touch(t, "Batman (1940) Volume 1 Issue 1.cbz")
	other := f.touch(t, "Batman (1940) Volume 1 Issue 2.cbz")
	require.NoError(t, f.scanner.ScanVolume(ctx, f.volume.ID, nil))

	// A filtered rescan only reconsiders the named file.
	require.NoError(t, f.scanner.ScanVolume(ctx, f.volume.ID, []string{kept}))

	for _, path := range []string{kept, other} {
		file, err := f.files.GetByPath(ctx, path)
		require.NoError(t, err)
		require.NotNil(t, file)
		linked, err := f.files.IssuesOfFile(ctx, file.ID)
		require.NoError(t, err)
		assert.Len(t, linked, 1)
	}
}

func TestProposedAndApplyRenames(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	f.touch(t, "batman chapter 3.cbz")
	require.NoError(t, f.scanner.ScanVolume(ctx, f.volume.ID, nil))

	settings := naming.Defaults()
	renames, err := f.scanner.ProposedRenames(ctx, f.volume.ID, settings)
	require.NoError(t, err)
	require.Len(t, renames, 1)
	assert.Equal(t,
		filepath.Join(f.volume.Folder, "Batman (1940) Volume 01 Issue 003.cbz"),
		renames[0].To)

	require.NoError(t, f.scanner.ApplyRenames(ctx, f.volume.ID, renames))
	assert.NoFileExists(t, renames[0].From)
	assert.FileExists(t, renames[0].To)

	// Links survive the rename and a rescan is stable.
	file, err := f.files.GetByPath(ctx, renames[0].To)
	require.NoError(t, err)
	require.NotNil(t, file)
	linked, err := f.files.IssuesOfFile(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{f.issues[2].ID}, linked)
}

func TestCoveredRangeHelper(t *testing.T) {
	byID := map[int]*models.Issue{
		1: {ID: 1, CalculatedIssueNumber: 2},
		2: {ID: 2, CalculatedIssueNumber: 5},
		3: {ID: 3, CalculatedIssueNumber: 3},
	}
	covered, linked := coveredRange([]int{1, 2, 3}, byID)
	assert.Equal(t, fingerprint.NewRange(2, 5), covered)
	assert.Len(t, linked, 3)
}
