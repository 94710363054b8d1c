// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package queue

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Casvt/Kapowarr-sub000/internal/aggregator"
	"github.com/Casvt/Kapowarr-sub000/internal/database"
	"github.com/Casvt/Kapowarr-sub000/internal/domain"
	"github.com/Casvt/Kapowarr-sub000/internal/downloader"
	"github.com/Casvt/Kapowarr-sub000/internal/models"
	"github.com/Casvt/Kapowarr-sub000/internal/resolver"
)

type intakeFixture struct {
	intake    *Intake
	queue     *Queue
	store     *models.QueueStore
	blocklist *models.BlocklistStore
	volume    *models.Volume
}

func newIntakeFixture(t *testing.T, serverURL string, preference []domain.SourceKind) *intakeFixture {
	t.Helper()
	ctx := context.Background()

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	volumes := models.NewVolumeStore(db)
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
	require.NoError(t, volumes.Create(ctx, volume))
	for i := 1; i <= 2; i++ {
		require.NoError(t, volumes.CreateIssue(ctx, &models.Issue{
			VolumeID:              volume.ID,
			ComicVineID:           9000 + i,
			IssueNumber:           fmt.Sprintf("%d", i),
			CalculatedIssueNumber: float64(i),
			Date:                  "1940-05-01",
			Monitored:             true,
		}))
	}

	downloadFolder := t.TempDir()
	settings := func() domain.DownloadSettings {
		return domain.DownloadSettings{
			DownloadFolder:    downloadFolder,
			ServicePreference: preference,
			SeedingHandling:   domain.SeedingComplete,
		}
	}

	store := models.NewQueueStore(db)
	q := New(Config{
		Store:        store,
		Resolver:     resolver.New(models.NewCredentialStore(db)),
		MegaAPI:      downloader.NewMegaAPI(models.NewCredentialStore(db)),
		Torrent:      &scripted{statuses: []downloader.ExternalStatus{{State: domain.StateDownloading}}},
		Post:         &recorder{},
		Settings:     settings,
		PollInterval: time.Hour,
	})

	client := aggregator.NewClient(serverURL, nil)
	return &intakeFixture{
		intake:    NewIntake(client, q, volumes, blocklist, settings),
		queue:     q,
		store:     store,
		blocklist: blocklist,
		volume:    volume,
	}
}

func intakeArticle(groups ...string) string {
	page := "<html><body><div class=\"post-contents\">"
	for _, g := range groups {
		page += g
	}
	return page + "</div></body></html>"
}

func intakeGroup(title string, links ...string) string {
	g := fmt.Sprintf("<p><strong>%s</strong><br>Language : English | Size : 100 MB</p>", title)
	for _, link := range links {
		g += link
	}
	return g + "<hr>"
}

func button(href, text string) string {
	return fmt.Sprintf(`<div class="aio-button-center"><a href=%q>%s</a></div>`, href, text)
}

func TestGrabEnqueuesPreferredLink(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/article", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, intakeArticle(intakeGroup(
			"Batman Vol. 1 #1-2 (1940)",
			button(srv.URL+"/file.torrent", "Torrent"),
			button(srv.URL+"/payload", "Main Download Link"),
		)))
	})

	f := newIntakeFixture(t, srv.URL, []domain.SourceKind{domain.SourceDirect, domain.SourceTorrent})
	items, err := f.intake.Grab(context.Background(), f.volume.ID, 0, srv.URL+"/article", "Batman Vol. 1 #1-2")
	require.NoError(t, err)
	require.Len(t, items, 1)

	assert.Equal(t, domain.SourceDirect, items[0].Kind)
	assert.Equal(t, srv.URL+"/payload", items[0].Row.DownloadLink)

	rows, err := f.store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestGrabFallsBackAndBlocklistsBrokenLink(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	// The torrent link serves an HTML page instead of a torrent file, which
	// resolution treats as a broken link.
	mux.HandleFunc("/file.torrent", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>not a torrent</html>")
	})
	mux.HandleFunc("/article", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, intakeArticle(intakeGroup(
			"Batman Vol. 1 #1-2 (1940)",
			button(srv.URL+"/file.torrent", "Torrent"),
			button(srv.URL+"/payload", "Main Download Link"),
		)))
	})

	f := newIntakeFixture(t, srv.URL, []domain.SourceKind{domain.SourceTorrent, domain.SourceDirect})
	items, err := f.intake.Grab(context.Background(), f.volume.ID, 0, srv.URL+"/article", "Batman Vol. 1 #1-2")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, domain.SourceDirect, items[0].Kind)

	blocked, err := f.blocklist.Contains(context.Background(), srv.URL+"/file.torrent")
	require.NoError(t, err)
	assert.True(t, blocked, "broken torrent link should be blocklisted")

	blocked, err = f.blocklist.Contains(context.Background(), srv.URL+"/article")
	require.NoError(t, err)
	assert.False(t, blocked, "article itself stays usable")
}

func TestGrabSkipsBlocklistedLink(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	torrentHits := 0
	mux.HandleFunc("/file.torrent", func(w http.ResponseWriter, r *http.Request) {
		torrentHits++
	})
	mux.HandleFunc("/article", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, intakeArticle(intakeGroup(
			"Batman Vol. 1 #1-2 (1940)",
			button(srv.URL+"/file.torrent", "Torrent"),
			button(srv.URL+"/payload", "Main Download Link"),
		)))
	})

	f := newIntakeFixture(t, srv.URL, []domain.SourceKind{domain.SourceTorrent, domain.SourceDirect})

	// The preferred torrent link was blocklisted on an earlier attempt.
	_, err := f.blocklist.Add(context.Background(), &models.BlocklistEntry{
		VolumeID:     f.volume.ID,
		DownloadLink: srv.URL + "/file.torrent",
		Source:       domain.SourceTorrent,
		Reason:       domain.ReasonLinkBroken,
	})
	require.NoError(t, err)

	items, err := f.intake.Grab(context.Background(), f.volume.ID, 0, srv.URL+"/article", "Batman Vol. 1 #1-2")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, domain.SourceDirect, items[0].Kind)
	assert.Zero(t, torrentHits, "blocklisted link must not be fetched again")
}

func TestGrabBlocklistsArticleWithoutUsableGroups(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/article", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, intakeArticle(intakeGroup(
			"Robin (1993) #1-10",
			button(srv.URL+"/payload", "Main Download Link"),
		)))
	})

	f := newIntakeFixture(t, srv.URL, []domain.SourceKind{domain.SourceDirect})
	_, err := f.intake.Grab(context.Background(), f.volume.ID, 0, srv.URL+"/article", "Robin (1993)")

	var broken *domain.LinkBrokenError
	require.ErrorAs(t, err, &broken)

	blocked, blErr := f.blocklist.Contains(context.Background(), srv.URL+"/article")
	require.NoError(t, blErr)
	assert.True(t, blocked, "article without usable groups is blocklisted")

	rows, listErr := f.store.List(context.Background())
	require.NoError(t, listErr)
	assert.Empty(t, rows)
}
