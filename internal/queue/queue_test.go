// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package queue

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Casvt/Kapowarr-sub000/internal/database"
	"github.com/Casvt/Kapowarr-sub000/internal/domain"
	"github.com/Casvt/Kapowarr-sub000/internal/downloader"
	"github.com/Casvt/Kapowarr-sub000/internal/models"
	"github.com/Casvt/Kapowarr-sub000/internal/resolver"
)

// recorder captures post-processing invocations.
type recorder struct {
	mu    sync.Mutex
	calls []recordedCall
}

type recordedCall struct {
	ID     int
	State  domain.DownloadState
	RunErr error
}

func (r *recorder) Process(_ context.Context, item *Item, state domain.DownloadState, runErr error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, recordedCall{ID: item.ID, State: state, RunErr: runErr})
}

func (r *recorder) snapshot() []recordedCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedCall(nil), r.calls...)
}

// scripted is an external client whose Status walks a fixed list of replies.
type scripted struct {
	mu       sync.Mutex
	statuses []downloader.ExternalStatus
	pos      int
	removed  bool
	delFiles bool
}

func (s *scripted) Add(context.Context, string, string, string) (string, error) {
	return "ext-1", nil
}

func (s *scripted) Status(context.Context, string) (downloader.ExternalStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := s.statuses[s.pos]
	if s.pos < len(s.statuses)-1 {
		s.pos++
	}
	return status, nil
}

func (s *scripted) Remove(_ context.Context, _ string, deleteFiles bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = true
	s.delFiles = deleteFiles
	return nil
}

type fixture struct {
	queue    *Queue
	store    *models.QueueStore
	post     *recorder
	torrent  *scripted
	download string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	downloadFolder := t.TempDir()
	post := &recorder{}
	torrent := &scripted{statuses: []downloader.ExternalStatus{{State: domain.StateDownloading}}}

	store := models.NewQueueStore(db)
	q := New(Config{
		Store:    store,
		Resolver: resolver.New(models.NewCredentialStore(db)),
		MegaAPI:  downloader.NewMegaAPI(models.NewCredentialStore(db)),
		Torrent:  torrent,
		Post:     post,
		Settings: func() domain.DownloadSettings {
			return domain.DownloadSettings{
				DownloadFolder:  downloadFolder,
				SeedingHandling: domain.SeedingComplete,
			}
		},
		PollInterval: 10 * time.Millisecond,
	})
	return &fixture{queue: q, store: store, post: post, torrent: torrent, download: downloadFolder}
}

func waitForCalls(t *testing.T, post *recorder, n int) []recordedCall {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(post.snapshot()) >= n
	}, 5*time.Second, 10*time.Millisecond)
	return post.snapshot()
}

func TestDirectDownloadLifecycle(t *testing.T) {
	payload := make([]byte, 64<<10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="batman 011.cbz"`)
		w.Write(payload)
	}))
	defer srv.Close()

	f := newFixture(t)
	f.queue.Start(context.Background())
	defer f.queue.Shutdown()

	var events []Event
	var eventsMu sync.Mutex
	f.queue.Subscribe(NotifierFunc(func(e Event) {
		eventsMu.Lock()
		events = append(events, e)
		eventsMu.Unlock()
	}))

	item, err := f.queue.Enqueue(context.Background(), Request{
		VolumeID:     1,
		Source:       domain.SourceDirect,
		WebTitle:     "Batman #011",
		DownloadLink: srv.URL + "/file",
	})
	require.NoError(t, err)

	calls := waitForCalls(t, f.post, 1)
	assert.Equal(t, item.ID, calls[0].ID)
	assert.Equal(t, domain.StateImporting, calls[0].State)

	// Payload landed in the download folder under the served name.
	data, err := os.ReadFile(filepath.Join(f.download, "batman 011.cbz"))
	require.NoError(t, err)
	assert.Len(t, data, len(payload))

	// Row dequeued, queue empty.
	rows, err := f.store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Empty(t, f.queue.List())

	eventsMu.Lock()
	defer eventsMu.Unlock()
	var kinds []EventKind
	for _, e := range events {
		kinds = append(kinds, e.Kind)
	}
	assert.Contains(t, kinds, EventQueueEnded)
}

func TestDirectDownloadsRunInOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	f := newFixture(t)
	f.queue.Start(context.Background())
	defer f.queue.Shutdown()

	var ids []int
	for i := 0; i < 3; i++ {
		item, err := f.queue.Enqueue(context.Background(), Request{
			VolumeID:      1,
			Source:        domain.SourceDirect,
			WebTitle:      fmt.Sprintf("Issue %d", i+1),
			DownloadLink:  fmt.Sprintf("%s/file-%d", srv.URL, i),
			PreferredBody: fmt.Sprintf("Issue %03d", i+1),
		})
		require.NoError(t, err)
		ids = append(ids, item.ID)
	}

	calls := waitForCalls(t, f.post, 3)
	for i, call := range calls {
		assert.Equal(t, ids[i], call.ID)
		assert.Equal(t, domain.StateImporting, call.State)
	}
}

func TestCancelQueuedDownload(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Write([]byte("payload"))
	}))
	defer srv.Close()
	defer close(release)

	f := newFixture(t)
	f.queue.Start(context.Background())
	defer f.queue.Shutdown()

	first, err := f.queue.Enqueue(context.Background(), Request{
		VolumeID: 1, Source: domain.SourceDirect, DownloadLink: srv.URL + "/a",
	})
	require.NoError(t, err)
	second, err := f.queue.Enqueue(context.Background(), Request{
		VolumeID: 1, Source: domain.SourceDirect, DownloadLink: srv.URL + "/b",
	})
	require.NoError(t, err)

	// The worker is blocked on the first download; the second is queued.
	require.NoError(t, f.queue.Cancel(second.ID))

	calls := waitForCalls(t, f.post, 1)
	assert.Equal(t, second.ID, calls[0].ID)
	assert.Equal(t, domain.StateCanceled, calls[0].State)

	assert.ErrorIs(t, f.queue.Cancel(second.ID), domain.ErrDownloadNotFound)
	_ = first
}

func TestCancelRunningDownloadStartsNext(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/blocked" {
			w.Header().Set("Content-Length", "1048576")
			w.(http.Flusher).Flush()
			<-block
			return
		}
		w.Write([]byte("payload"))
	}))
	defer srv.Close()
	defer close(block)

	f := newFixture(t)
	f.queue.Start(context.Background())
	defer f.queue.Shutdown()

	first, err := f.queue.Enqueue(context.Background(), Request{
		VolumeID: 1, Source: domain.SourceDirect, DownloadLink: srv.URL + "/blocked",
	})
	require.NoError(t, err)
	second, err := f.queue.Enqueue(context.Background(), Request{
		VolumeID: 1, Source: domain.SourceDirect, DownloadLink: srv.URL + "/ok",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snapshot, err := f.queue.Get(first.ID)
		return err == nil && snapshot.State == domain.StateDownloading
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, f.queue.Cancel(first.ID))

	calls := waitForCalls(t, f.post, 2)
	assert.Equal(t, first.ID, calls[0].ID)
	assert.Equal(t, domain.StateCanceled, calls[0].State)
	assert.Equal(t, second.ID, calls[1].ID)
	assert.Equal(t, domain.StateImporting, calls[1].State)
}

func TestTorrentSeedingComplete(t *testing.T) {
	f := newFixture(t)
	f.torrent.statuses = []downloader.ExternalStatus{
		{State: domain.StateDownloading, Progress: 50},
		{State: domain.StateSeeding, Progress: 100},
		{State: domain.StateImporting, Progress: 100},
	}

	f.queue.Start(context.Background())
	defer f.queue.Shutdown()

	item, err := f.queue.Enqueue(context.Background(), Request{
		VolumeID:      1,
		Source:        domain.SourceTorrent,
		DownloadLink:  "magnet:?xt=urn:btih:c12fe1c06bb254907e355b8473d4c9f3e1d2b6f0",
		PreferredBody: "Batman Vol 1",
	})
	require.NoError(t, err)

	calls := waitForCalls(t, f.post, 1)
	assert.Equal(t, item.ID, calls[0].ID)
	assert.Equal(t, domain.StateImporting, calls[0].State)
}

func TestTorrentSeedingCopy(t *testing.T) {
	f := newFixture(t)
	downloadFolder := f.download
	f.queue.settings = func() domain.DownloadSettings {
		return domain.DownloadSettings{
			DownloadFolder:  downloadFolder,
			SeedingHandling: domain.SeedingCopy,
		}
	}
	f.torrent.statuses = []downloader.ExternalStatus{
		{State: domain.StateSeeding, Progress: 100},
		{State: domain.StateSeeding, Progress: 100},
		{State: domain.StateImporting, Progress: 100},
	}

	f.queue.Start(context.Background())
	defer f.queue.Shutdown()

	_, err := f.queue.Enqueue(context.Background(), Request{
		VolumeID:     1,
		Source:       domain.SourceTorrent,
		DownloadLink: "magnet:?xt=urn:btih:c12fe1c06bb254907e355b8473d4c9f3e1d2b6f0",
	})
	require.NoError(t, err)

	calls := waitForCalls(t, f.post, 2)
	// Copied once while seeding, then the completed chain.
	assert.Equal(t, domain.StateSeeding, calls[0].State)
	assert.Equal(t, domain.StateImporting, calls[1].State)
}

func TestEnqueueUnsupportedSource(t *testing.T) {
	f := newFixture(t)
	f.queue.Start(context.Background())
	defer f.queue.Shutdown()

	_, err := f.queue.Enqueue(context.Background(), Request{
		VolumeID:     1,
		Source:       domain.SourceKind("getcomics_folder"),
		DownloadLink: "https://example.com/folder",
	})
	var linkBroken *domain.LinkBrokenError
	require.ErrorAs(t, err, &linkBroken)
	assert.Equal(t, domain.ReasonSourceNotSupported, linkBroken.Reason)
	assert.Empty(t, f.queue.List())
}

func TestEnqueueUsenetWithoutClient(t *testing.T) {
	f := newFixture(t)
	f.queue.Start(context.Background())
	defer f.queue.Shutdown()

	_, err := f.queue.Enqueue(context.Background(), Request{
		VolumeID:     1,
		Source:       domain.SourceUsenet,
		DownloadLink: "https://indexer.example/get/1.nzb",
	})
	var notWorking *domain.ClientNotWorkingError
	require.ErrorAs(t, err, &notWorking)
}

func TestRestoreRebuildsQueue(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.store.Add(context.Background(), &models.QueueRow{
		VolumeID:     1,
		Source:       domain.SourceDirect,
		SourceName:   "aggregator",
		DownloadLink: "https://example.com/file.cbz",
		WebTitle:     "Batman #011",
	}))
	require.NoError(t, f.store.Add(context.Background(), &models.QueueRow{
		VolumeID:     1,
		Source:       domain.SourceKind("getcomics_folder"),
		SourceName:   "aggregator",
		DownloadLink: "https://example.com/folder",
	}))

	require.NoError(t, f.queue.Restore(context.Background()))

	// The unresolvable row ran the failed chain and was dequeued.
	calls := f.post.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, domain.StateFailed, calls[0].State)

	rows, err := f.store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "https://example.com/file.cbz", rows[0].DownloadLink)

	snapshots := f.queue.List()
	require.Len(t, snapshots, 1)
	assert.Equal(t, domain.StateQueued, snapshots[0].State)
}

func TestRestoreRebindsExternalID(t *testing.T) {
	f := newFixture(t)
	f.torrent.statuses = []downloader.ExternalStatus{
		{State: domain.StateImporting, Progress: 100},
	}

	row := &models.QueueRow{
		VolumeID:     1,
		Source:       domain.SourceTorrent,
		SourceName:   "aggregator",
		DownloadLink: "magnet:?xt=urn:btih:c12fe1c06bb254907e355b8473d4c9f3e1d2b6f0",
		ExternalID:   "ext-1",
	}
	require.NoError(t, f.store.Add(context.Background(), row))

	require.NoError(t, f.queue.Restore(context.Background()))
	f.queue.Start(context.Background())
	defer f.queue.Shutdown()

	calls := waitForCalls(t, f.post, 1)
	assert.Equal(t, domain.StateImporting, calls[0].State)
}

func TestShutdownKeepsRows(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1048576")
		w.(http.Flusher).Flush()
		<-block
	}))
	defer srv.Close()
	defer close(block)

	f := newFixture(t)
	f.queue.Start(context.Background())

	item, err := f.queue.Enqueue(context.Background(), Request{
		VolumeID: 1, Source: domain.SourceDirect, DownloadLink: srv.URL + "/file",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snapshot, err := f.queue.Get(item.ID)
		return err == nil && snapshot.State == domain.StateDownloading
	}, 5*time.Second, 10*time.Millisecond)

	f.queue.Shutdown()

	calls := f.post.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, domain.StateShutdown, calls[0].State)

	// The row survives for the next start.
	rows, err := f.store.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestPermanentFailure(t *testing.T) {
	reason, ok := PermanentFailure(domain.NewLinkBroken("https://x", nil))
	assert.True(t, ok)
	assert.Equal(t, domain.ReasonLinkBroken, reason)

	reason, ok = PermanentFailure(domain.NewSourceNotSupported("https://x", nil))
	assert.True(t, ok)
	assert.Equal(t, domain.ReasonSourceNotSupported, reason)

	_, ok = PermanentFailure(&domain.DownloadLimitReachedError{Source: domain.SourcePixelDrain})
	assert.False(t, ok)

	_, ok = PermanentFailure(nil)
	assert.False(t, ok)
}
