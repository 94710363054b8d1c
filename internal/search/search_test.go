// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package search

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Casvt/Kapowarr-sub000/internal/aggregator"
	"github.com/Casvt/Kapowarr-sub000/internal/database"
	"github.com/Casvt/Kapowarr-sub000/internal/fingerprint"
	"github.com/Casvt/Kapowarr-sub000/internal/models"
)

type fixture struct {
	engine    *Engine
	volumes   *models.VolumeStore
	files     *models.FilesStore
	blocklist *models.BlocklistStore
	volume    *models.Volume
	issues    []*models.Issue
}

// newFixture builds a Batman (1940) volume with issueCount issues and an
// engine pointed at the given aggregator server.
func newFixture(t *testing.T, serverURL string, issueCount int) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	volumes := models.NewVolumeStore(db)
	files := models.NewFilesStore(db)
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

	var issues []*models.Issue
	for i := 1; i <= issueCount; i++ {
		issue := &models.Issue{
			VolumeID:              volume.ID,
			ComicVineID:           9000 + i,
			IssueNumber:           fmt.Sprintf("%d", i),
			CalculatedIssueNumber: float64(i),
			Date:                  fmt.Sprintf("1940-%02d-01", (i%12)+1),
			Monitored:             true,
		}
		require.NoError(t, volumes.CreateIssue(ctx, issue))
		issues = append(issues, issue)
	}

	client := aggregator.NewClient(serverURL, nil)
	return &fixture{
		engine:    NewEngine(client, volumes, files, blocklist),
		volumes:   volumes,
		files:     files,
		blocklist: blocklist,
		volume:    volume,
		issues:    issues,
	}
}

func article(href, title string) string {
	return fmt.Sprintf(`<article><h1 class="post-title"><a href=%q>%s</a></h1></article>`, href, title)
}

func page(articles ...string) string {
	return "<html><body>" + strings.Join(articles, "") + "</body></html>"
}

// release builds a Result the way the engine would annotate it.
func release(title string, match bool) *Result {
	return &Result{
		Release: &aggregator.Release{
			Link:         "https://example.com/" + strings.ReplaceAll(title, " ", "-"),
			DisplayTitle: title,
			Source:       "aggregator",
			Fingerprint:  fingerprint.ExtractTitle(title, fingerprint.Options{FixYear: true}),
		},
		Match: match,
	}
}

func TestSearchVolumeRanksMatchesFirst(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, page(
			article("https://example.com/robin", "Robin (1993) #1-10"),
			article("https://example.com/batman-11-25", "Batman Vol. 1 #11-25 (1940)"),
			article("https://example.com/batman-beyond", "Batman Beyond (1999) #1-5"),
		))
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL, 30)
	results, err := f.engine.SearchVolume(context.Background(), f.volume.ID)
	require.NoError(t, err)
	require.NotEmpty(t, results)

	assert.Equal(t, "https://example.com/batman-11-25", results[0].Link)
	assert.True(t, results[0].Match)

	// Wrong series sorts after the match, with a reason attached.
	for _, r := range results[1:] {
		assert.False(t, r.Match)
		assert.NotEmpty(t, r.Reason)
	}
}

func TestSearchMarksBlocklistedResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, page(article("https://example.com/batman", "Batman Vol. 1 #1-10 (1940)")))
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL, 10)
	_, err := f.blocklist.Add(context.Background(), &models.BlocklistEntry{
		WebLink: "https://example.com/batman",
		Reason:  "link_broken",
	})
	require.NoError(t, err)

	results, err := f.engine.SearchVolume(context.Background(), f.volume.ID)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.False(t, results[0].Match)
	assert.Equal(t, "link is blocklisted", results[0].Reason)
}

func TestSearchIssueRanksDirectHitFirst(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, page(
			article("https://example.com/batman-1-20", "Batman Vol. 1 #1-20 (1940)"),
			article("https://example.com/batman-11", "Batman Vol. 1 #11 (1940)"),
		))
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL, 30)
	results, err := f.engine.SearchIssue(context.Background(), f.volume.ID, f.issues[10].ID)
	require.NoError(t, err)
	require.Len(t, results, 2)

	// The direct issue hit beats the covering range.
	assert.Equal(t, "https://example.com/batman-11", results[0].Link)
	assert.Equal(t, "https://example.com/batman-1-20", results[1].Link)
}

func TestWordSetDistance(t *testing.T) {
	assert.Equal(t, 0, wordSetDistance("Batman", "Batman"))
	assert.Equal(t, 1, wordSetDistance("Batman", "Batman Beyond"))
	assert.Equal(t, 0, wordSetDistance("Batman Beyond", "Batman"))
	assert.Equal(t, 2, wordSetDistance("Batman", "Detective Comics Batman"))
}

func TestIssueFit(t *testing.T) {
	issue := &models.Issue{CalculatedIssueNumber: 11}

	direct := fingerprint.Fingerprint{IssueNumber: fingerprint.Single(11)}
	assert.Equal(t, 0.0, issueFit(direct, issue))

	ranged := fingerprint.Fingerprint{IssueNumber: fingerprint.NewRange(1, 20)}
	assert.InDelta(t, 1-1.0/20, issueFit(ranged, issue), 1e-9)

	tpb := fingerprint.Fingerprint{SpecialVersion: fingerprint.SpecialTPB}
	assert.Equal(t, 2.0, issueFit(tpb, issue))

	other := fingerprint.Fingerprint{IssueNumber: fingerprint.Single(12)}
	assert.Equal(t, 3.0, issueFit(other, issue))
}

func TestAutoPickBuildsNonOverlappingCover(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()
	f := newFixture(t, srv.URL, 30)

	results := []*Result{
		release("Batman Vol. 1 #1-15 (1940)", true),
		release("Batman Vol. 1 #10-20 (1940)", true), // overlaps the first
		release("Batman Vol. 1 #16-30 (1940)", true),
		release("Robin (1993) #1-10", false),
	}

	picked := AutoPick(f.volume, results, f.issues)
	require.Len(t, picked, 2)
	assert.Equal(t, "Batman Vol. 1 #1-15 (1940)", picked[0].DisplayTitle)
	assert.Equal(t, "Batman Vol. 1 #16-30 (1940)", picked[1].DisplayTitle)
}

func TestAutoPickSpecialVersionTakesFirstMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()
	f := newFixture(t, srv.URL, 1)
	f.volume.SpecialVersion = fingerprint.SpecialTPB

	results := []*Result{
		release("Batman (1940) TPB", true),
		release("Batman (1940) TPB alternate scan", true),
	}
	picked := AutoPick(f.volume, results, f.issues)
	require.Len(t, picked, 1)
	assert.Equal(t, "Batman (1940) TPB", picked[0].DisplayTitle)
}

func TestOpenIssuesSkipsFilled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()
	f := newFixture(t, srv.URL, 3)
	ctx := context.Background()

	// Give issue 2 a file.
	path := filepath.Join(t.TempDir(), "Batman (1940) Volume 1 Issue 2.cbz")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	file, err := f.files.Upsert(ctx, path, 1)
	require.NoError(t, err)
	require.NoError(t, f.files.LinkIssue(ctx, file.ID, f.issues[1].ID))

	open, err := f.engine.OpenIssues(ctx, f.volume.ID)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, 1.0, open[0].CalculatedIssueNumber)
	assert.Equal(t, 3.0, open[1].CalculatedIssueNumber)
}

func TestAutoSearchFallsBackToIssueSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("s")
		switch {
		case strings.Contains(query, "#3"):
			fmt.Fprint(w, page(article("https://example.com/batman-3", "Batman Vol. 1 #3 (1940)")))
		case strings.Contains(query, "#"):
			fmt.Fprint(w, page())
		default:
			fmt.Fprint(w, page(article("https://example.com/batman-1-2", "Batman Vol. 1 #1-2 (1940)")))
		}
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL, 3)
	picked, err := f.engine.AutoSearch(context.Background(), f.volume.ID)
	require.NoError(t, err)
	require.Len(t, picked, 2)
	assert.Equal(t, "https://example.com/batman-1-2", picked[0].Link)
	assert.Equal(t, "https://example.com/batman-3", picked[1].Link)
}

func TestAutoSearchNothingOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no search expected when every issue has a file")
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL, 1)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "Batman (1940) Volume 1 Issue 1.cbz")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	file, err := f.files.Upsert(ctx, path, 1)
	require.NoError(t, err)
	require.NoError(t, f.files.LinkIssue(ctx, file.ID, f.issues[0].ID))

	picked, err := f.engine.AutoSearch(ctx, f.volume.ID)
	require.NoError(t, err)
	assert.Empty(t, picked)
}
