// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package postprocess

import (
	"archive/zip"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Casvt/Kapowarr-sub000/internal/database"
	"github.com/Casvt/Kapowarr-sub000/internal/domain"
	"github.com/Casvt/Kapowarr-sub000/internal/downloader"
	"github.com/Casvt/Kapowarr-sub000/internal/libscan"
	"github.com/Casvt/Kapowarr-sub000/internal/models"
	"github.com/Casvt/Kapowarr-sub000/internal/naming"
	"github.com/Casvt/Kapowarr-sub000/internal/queue"
)

// stubDownload satisfies downloader.Download with fixed files.
type stubDownload struct {
	files []string
	title string
}

func (s *stubDownload) Run(context.Context) error      { return nil }
func (s *stubDownload) Stop(domain.DownloadState)      {}
func (s *stubDownload) Status() downloader.Status      { return downloader.Status{} }
func (s *stubDownload) Files() []string                { return s.files }
func (s *stubDownload) Title() string                  { return s.title }

var _ downloader.Download = (*stubDownload)(nil)

type fixture struct {
	db        *database.DB
	volumes   *models.VolumeStore
	files     *models.FilesStore
	history   *models.HistoryStore
	blocklist *models.BlocklistStore
	processor *Processor
	volume    *models.Volume
	download  string
	config    *domain.Config
}

func newFixture(t *testing.T, issueCount int) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	volumes := models.NewVolumeStore(db)
	files := models.NewFilesStore(db)
	history := models.NewHistoryStore(db)
	blocklist := models.NewBlocklistStore(db)

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

	for i := 1; i <= issueCount; i++ {
		require.NoError(t, volumes.CreateIssue(ctx, &models.Issue{
			VolumeID:              volume.ID,
			ComicVineID:           9000 + i,
			IssueNumber:           fmt.Sprintf("%d", i),
			CalculatedIssueNumber: float64(i),
			Date:                  fmt.Sprintf("1940-%02d-01", i),
			Monitored:             true,
		}))
	}

	cfg := &domain.Config{
		Download: domain.DownloadSettings{
			DownloadFolder:  t.TempDir(),
			SeedingHandling: domain.SeedingComplete,
		},
		Naming: naming.Defaults(),
	}

	f := &fixture{
		db:        db,
		volumes:   volumes,
		files:     files,
		history:   history,
		blocklist: blocklist,
		volume:    volume,
		download:  cfg.Download.DownloadFolder,
		config:    cfg,
	}
	f.processor = New(history, blocklist, volumes, libscan.New(volumes, files),
		func() *domain.Config { return f.config })
	return f
}

func (f *fixture) item(files ...string) *queue.Item {
	return &queue.Item{
		ID:   1,
		Kind: domain.SourceDirect,
		Row: &models.QueueRow{
			ID:           1,
			VolumeID:     f.volume.ID,
			Source:       domain.SourceDirect,
			SourceName:   "aggregator",
			WebLink:      "https://aggregator.example/batman-011",
			WebTitle:     "Batman #011",
			DownloadLink: "https://files.example/batman-011.cbz",
		},
		Download: &stubDownload{files: files, title: "Batman #011"},
	}
}

func (f *fixture) downloaded(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(f.download, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("payload"), 0o644))
	return path
}

func writeZip(t *testing.T, path string, entries map[string][]byte) {
	t.Helper()
	out, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(out)
	for name, data := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, out.Close())
}

func TestSuccessImportsIntoVolumeFolder(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	src := f.downloaded(t, "Batman (1940) Volume 1 Issue 3.cbz")
	f.processor.Process(ctx, f.item(src), domain.StateImporting, nil)

	// Moved out of the download folder into the library.
	assert.NoFileExists(t, src)
	imported := filepath.Join(f.volume.Folder, "Batman (1940) Volume 1 Issue 3.cbz")
	assert.FileExists(t, imported)

	file, err := f.files.GetByPath(ctx, imported)
	require.NoError(t, err)
	require.NotNil(t, file)

	entries, err := f.history.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Success)
	assert.Equal(t, f.volume.ID, entries[0].VolumeID)
}

func TestSuccessRenamesWhenEnabled(t *testing.T) {
	f := newFixture(t, 25)
	f.config.Download.RenameDownloadedFiles = true
	ctx := context.Background()

	src := f.downloaded(t, "batman chapter 3.cbz")
	f.processor.Process(ctx, f.item(src), domain.StateImporting, nil)

	assert.FileExists(t, filepath.Join(f.volume.Folder,
		"Batman (1940) Volume 01 Issue 003.cbz"))
}

func TestFailedRecordsHistory(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	src := f.downloaded(t, "partial.cbz")
	f.processor.Process(ctx, f.item(src), domain.StateFailed,
		&domain.ClientNotWorkingError{Desc: "poll download"})

	assert.NoFileExists(t, src)

	entries, err := f.history.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Success)

	// Transient failure: nothing blocklisted.
	blocked, err := f.blocklist.Contains(ctx, "https://files.example/batman-011.cbz")
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestPermanentFailureBlocklists(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	src := f.downloaded(t, "partial.cbz")
	f.processor.Process(ctx, f.item(src), domain.StateFailed,
		domain.NewLinkBroken("https://files.example/batman-011.cbz", nil))

	blocked, err := f.blocklist.Contains(ctx, "https://files.example/batman-011.cbz")
	require.NoError(t, err)
	assert.True(t, blocked)
}

func TestCanceledDeletesFilesOnly(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	src := f.downloaded(t, "partial.cbz")
	f.processor.Process(ctx, f.item(src), domain.StateCanceled, nil)

	assert.NoFileExists(t, src)
	entries, err := f.history.List(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCopyWhileSeedingKeepsOriginal(t *testing.T) {
	f := newFixture(t, 5)
	f.config.Download.SeedingHandling = domain.SeedingCopy
	f.config.Download.DeleteCompletedTorrents = true
	ctx := context.Background()

	src := f.downloaded(t, "Batman (1940) Volume 1 Issue 3.cbz")
	item := f.item(src)
	item.Kind = domain.SourceTorrent

	f.processor.Process(ctx, item, domain.StateSeeding, nil)

	// The library got a copy; the payload keeps seeding.
	assert.FileExists(t, src)
	assert.FileExists(t, filepath.Join(f.volume.Folder, "Batman (1940) Volume 1 Issue 3.cbz"))

	// Seeding finished: the original payload is deleted.
	item.Copied = true
	f.processor.Process(ctx, item, domain.StateImporting, nil)
	assert.NoFileExists(t, src)
}

func TestTorrentPayloadFolderImport(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	payload := filepath.Join(f.download, "Batman Vol 1")
	require.NoError(t, os.MkdirAll(payload, 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(payload, "Batman (1940) Volume 1 Issue 2.cbz"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(
		filepath.Join(payload, "release-notes.txt"), []byte("x"), 0o644))

	item := f.item(payload)
	item.Kind = domain.SourceTorrent
	f.processor.Process(ctx, item, domain.StateImporting, nil)

	assert.FileExists(t, filepath.Join(f.volume.Folder, "Batman (1940) Volume 1 Issue 2.cbz"))
	assert.NoFileExists(t, filepath.Join(f.volume.Folder, "release-notes.txt"))
	assert.NoDirExists(t, payload)
}

func TestExtractArchiveOfIssues(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	archive := filepath.Join(f.download, "Batman Vol. 1 Issues 1-3.zip")
	writeZip(t, archive, map[string][]byte{
		"Batman (1940) Volume 1 Issue 1.cbz": []byte("one"),
		"Batman (1940) Volume 1 Issue 2.cbz": []byte("two"),
		"Batman (1940) Volume 1 Issue 3.cbz": []byte("three"),
		"scan-info.nfo":                      []byte("junk"),
	})

	f.processor.Process(ctx, f.item(archive), domain.StateImporting, nil)

	for i := 1; i <= 3; i++ {
		assert.FileExists(t, filepath.Join(f.volume.Folder,
			fmt.Sprintf("Batman (1940) Volume 1 Issue %d.cbz", i)))
	}
	assert.NoFileExists(t, filepath.Join(f.volume.Folder, "Batman Vol. 1 Issues 1-3.zip"))
}

func TestArchiveOfOtherSeriesStaysWhole(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	archive := filepath.Join(f.download, "Batman (1940) Volume 1 Issue 3.zip")
	writeZip(t, archive, map[string][]byte{
		"p001.jpg": []byte("page"),
		"p002.jpg": []byte("page"),
	})

	f.processor.Process(ctx, f.item(archive), domain.StateImporting, nil)

	// Pages don't match the volume, so the archive itself is the issue.
	assert.FileExists(t, filepath.Join(f.volume.Folder, "Batman (1940) Volume 1 Issue 3.zip"))
}

func TestConvertTowardsPreference(t *testing.T) {
	f := newFixture(t, 5)
	f.config.Download.Convert = true
	f.config.Download.FormatPreference = []string{"cbz"}
	ctx := context.Background()

	archive := filepath.Join(f.download, "Batman (1940) Volume 1 Issue 3.zip")
	writeZip(t, archive, map[string][]byte{
		"p001.jpg": []byte("page"),
	})

	f.processor.Process(ctx, f.item(archive), domain.StateImporting, nil)

	assert.FileExists(t, filepath.Join(f.volume.Folder, "Batman (1940) Volume 1 Issue 3.cbz"))
	assert.NoFileExists(t, filepath.Join(f.volume.Folder, "Batman (1940) Volume 1 Issue 3.zip"))
}

func TestPreferredTarget(t *testing.T) {
	assert.Equal(t, "cbz", preferredTarget("zip", []string{"cbz", "cbr"}))
	assert.Equal(t, "cbz", preferredTarget("cbr", []string{"cbz", "cbr"}))
	// Already the most preferred reachable format.
	assert.Equal(t, "", preferredTarget("cbz", []string{"cbz", "cbr"}))
	// cbr before cbz: the cbr file stays.
	assert.Equal(t, "", preferredTarget("cbr", []string{"cbr", "cbz"}))
	// No converter out of pdf.
	assert.Equal(t, "", preferredTarget("pdf", []string{"cbz"}))
}
