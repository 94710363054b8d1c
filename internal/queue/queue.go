// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package queue implements the download queue actor: a single FIFO of
// downloads with one active direct slot, eager external delegation and a
// fixed-cadence poller for delegated downloads.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Casvt/Kapowarr-sub000/internal/domain"
	"github.com/Casvt/Kapowarr-sub000/internal/downloader"
	"github.com/Casvt/Kapowarr-sub000/internal/models"
	"github.com/Casvt/Kapowarr-sub000/internal/resolver"
)

// defaultPollInterval is the cadence at which external clients are polled.
const defaultPollInterval = 5 * time.Second

// Item is one entry of the queue: the persisted row plus the live download.
// Download is nil when the link could not be resolved (restore failures).
type Item struct {
	ID       int
	Row      *models.QueueRow
	Kind     domain.SourceKind
	PureLink string
	Download downloader.Download

	// Copied marks a seeding torrent whose payload was already copied to
	// the library under the copy seeding handling.
	Copied bool

	running  bool
	finished bool
}

// Request describes a download to enqueue, typically one chosen link of a
// search result.
type Request struct {
	VolumeID      int
	IssueID       int
	CoveredIssues string
	Source        domain.SourceKind
	SourceName    string
	WebLink       string
	WebTitle      string
	WebSubTitle   string
	DownloadLink  string
	// PreferredBody is the rendered filename body from the naming engine,
	// empty when no matching issue or volume was found.
	PreferredBody string
}

// PostProcessor runs the per-terminal-state action chain for a finished
// download. Implementations must handle a nil item.Download. runErr is the
// error Run returned, used to tell permanent link failures apart.
type PostProcessor interface {
	Process(ctx context.Context, item *Item, state domain.DownloadState, runErr error)
}

// Snapshot is a point-in-time view of one queue entry.
type Snapshot struct {
	ID           int                  `json:"id"`
	VolumeID     int                  `json:"volume_id"`
	IssueID      int                  `json:"issue_id,omitempty"`
	Source       domain.SourceKind    `json:"source"`
	Title        string               `json:"title"`
	WebLink      string               `json:"web_link,omitempty"`
	DownloadLink string               `json:"download_link"`
	State        domain.DownloadState `json:"state"`
	Size         int64                `json:"size"`
	Progress     float64              `json:"progress"`
	Speed        float64              `json:"speed"`
}

// Config wires the queue's collaborators.
type Config struct {
	Store    *models.QueueStore
	Resolver *resolver.Resolver
	MegaAPI  *downloader.MegaAPI
	// Torrent and Usenet are the configured external clients; nil when
	// none is configured, which fails downloads of that kind.
	Torrent downloader.ExternalClient
	Usenet  downloader.ExternalClient
	Post    PostProcessor
	// Settings returns the current download settings; called per download
	// so runtime changes apply without a restart.
	Settings     func() domain.DownloadSettings
	PollInterval time.Duration
}

// Queue is the download queue actor. Mutations go through its methods; a
// worker drains the direct slot and a poller mirrors external downloads.
type Queue struct {
	store    *models.QueueStore
	resolver *resolver.Resolver
	megaAPI  *downloader.MegaAPI
	torrent  downloader.ExternalClient
	usenet   downloader.ExternalClient
	post     PostProcessor
	settings func() domain.DownloadSettings

	pollInterval time.Duration

	mu          sync.Mutex
	items       []*Item
	subscribers []Notifier

	// postMu serializes post-processing so the library is written to by
	// one download at a time.
	postMu sync.Mutex

	wake   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config) *Queue {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	return &Queue{
		store:        cfg.Store,
		resolver:     cfg.Resolver,
		megaAPI:      cfg.MegaAPI,
		torrent:      cfg.Torrent,
		usenet:       cfg.Usenet,
		post:         cfg.Post,
		settings:     cfg.Settings,
		pollInterval: cfg.PollInterval,
		wake:         make(chan struct{}, 1),
	}
}

// Subscribe registers a notifier for queue events.
func (q *Queue) Subscribe(n Notifier) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.subscribers = append(q.subscribers, n)
}

func (q *Queue) emit(kind EventKind, data any) {
	q.mu.Lock()
	subs := append([]Notifier(nil), q.subscribers...)
	q.mu.Unlock()
	for _, n := range subs {
		n.Notify(Event{Kind: kind, Data: data})
	}
}

// Start launches the direct worker and the external poller.
func (q *Queue) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel

	q.wg.Add(2)
	go q.worker(ctx)
	go q.poller(ctx)
}

// Enqueue resolves the link, persists the row and appends the download.
// External downloads start immediately; direct downloads wait for the slot.
// Resolution failures are returned to the caller for blocklisting.
func (q *Queue) Enqueue(ctx context.Context, req Request) (*Item, error) {
	resolved, err := q.resolver.Resolve(ctx, req.Source, req.DownloadLink)
	if err != nil {
		return nil, err
	}

	dl, err := q.buildDownload(resolved, req)
	if err != nil {
		return nil, err
	}

	row := &models.QueueRow{
		VolumeID:      req.VolumeID,
		IssueID:       req.IssueID,
		CoveredIssues: req.CoveredIssues,
		Source:        req.Source,
		SourceName:    req.SourceName,
		WebLink:       req.WebLink,
		WebTitle:      req.WebTitle,
		WebSubTitle:   req.WebSubTitle,
		DownloadLink:  req.DownloadLink,
	}
	if err := q.store.Add(ctx, row); err != nil {
		return nil, err
	}

	item := &Item{
		ID:       row.ID,
		Row:      row,
		Kind:     resolved.Kind,
		PureLink: resolved.PureLink,
		Download: dl,
	}

	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()

	log.Info().Int("id", item.ID).Str("source", string(item.Kind)).
		Str("title", dl.Title()).Msg("Added download to queue")
	q.emit(EventQueueAdded, q.snapshotOf(item))

	if item.Kind.External() {
		q.startExternal(item)
	} else {
		q.wakeWorker()
	}
	return item, nil
}

// buildDownload constructs the client for a resolved link.
func (q *Queue) buildDownload(resolved *resolver.Resolved, req Request) (downloader.Download, error) {
	folder := q.settings().DownloadFolder
	title := req.WebTitle
	if req.WebSubTitle != "" {
		title = fmt.Sprintf("%s: %s", title, req.WebSubTitle)
	}

	switch resolved.Kind {
	case domain.SourceMega:
		return downloader.NewMega(resolved.PureLink, folder, req.PreferredBody, title, q.megaAPI)
	case domain.SourceMegaFolder, domain.SourceMediaFireFolder:
		return nil, domain.NewSourceNotSupported(resolved.PureLink,
			fmt.Errorf("folder shares of %s are not supported", resolved.Kind))
	case domain.SourceTorrent:
		if q.torrent == nil {
			return nil, &domain.ClientNotWorkingError{Desc: "no torrent client configured"}
		}
		return downloader.NewExternal(q.torrent, resolved.PureLink, folder, req.PreferredBody, title), nil
	case domain.SourceUsenet:
		if q.usenet == nil {
			return nil, &domain.ClientNotWorkingError{Desc: "no usenet client configured"}
		}
		return downloader.NewExternal(q.usenet, resolved.PureLink, folder, req.PreferredBody, title), nil
	default:
		// Cloud services resolve to a plain streamable link.
		d := downloader.NewDirect(resolved.PureLink, folder, req.PreferredBody, title, resolved.Kind)
		if resolved.APIKey != "" {
			d = d.WithAPIKey(resolved.APIKey)
		}
		return d, nil
	}
}

// startExternal hands the link to the external client right away; progress
// arrives via the poller.
func (q *Queue) startExternal(item *Item) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := item.Download.Run(ctx); err != nil {
			log.Error().Err(err).Int("id", item.ID).Msg("External download failed to start")
			q.finish(item, domain.StateFailed, err)
			return
		}
		if ext, ok := item.Download.(*downloader.External); ok {
			if err := q.store.SetExternalID(ctx, item.ID, ext.ExternalID()); err != nil {
				log.Warn().Err(err).Int("id", item.ID).Msg("Could not persist external id")
			}
		}
	}()
}

// Restore rebuilds the queue from persisted rows by re-resolving each link.
// Rows that no longer resolve run the failed chain and are removed.
func (q *Queue) Restore(ctx context.Context) error {
	rows, err := q.store.List(ctx)
	if err != nil {
		return err
	}

	for _, row := range rows {
		item := &Item{ID: row.ID, Row: row, Kind: row.Source}

		resolved, err := q.resolver.Resolve(ctx, row.Source, row.DownloadLink)
		if err == nil {
			item.Kind = resolved.Kind
			item.PureLink = resolved.PureLink
			item.Download, err = q.buildDownload(resolved, requestFromRow(row))
		}
		if err != nil {
			log.Warn().Err(err).Int("id", row.ID).Str("link", row.DownloadLink).
				Msg("Queued download no longer resolves")
			q.mu.Lock()
			q.items = append(q.items, item)
			q.mu.Unlock()
			q.finish(item, domain.StateFailed, err)
			continue
		}

		if ext, ok := item.Download.(*downloader.External); ok && row.ExternalID != "" {
			ext.SetExternalID(row.ExternalID)
		}

		q.mu.Lock()
		q.items = append(q.items, item)
		q.mu.Unlock()

		if item.Kind.External() {
			q.startExternal(item)
		}
	}

	q.wakeWorker()
	log.Info().Int("restored", len(rows)).Msg("Restored download queue")
	return nil
}

func requestFromRow(row *models.QueueRow) Request {
	return Request{
		VolumeID:      row.VolumeID,
		IssueID:       row.IssueID,
		CoveredIssues: row.CoveredIssues,
		Source:        row.Source,
		SourceName:    row.SourceName,
		WebLink:       row.WebLink,
		WebTitle:      row.WebTitle,
		WebSubTitle:   row.WebSubTitle,
		DownloadLink:  row.DownloadLink,
	}
}

// Cancel interrupts a download and runs its canceled chain. For a running
// direct download the worker finishes it at the next chunk boundary.
func (q *Queue) Cancel(id int) error {
	q.mu.Lock()
	var item *Item
	for _, it := range q.items {
		if it.ID == id && !it.finished {
			item = it
			break
		}
	}
	running := item != nil && item.running
	q.mu.Unlock()

	if item == nil {
		return domain.ErrDownloadNotFound
	}

	if item.Download != nil {
		item.Download.Stop(domain.StateCanceled)
	}
	if !running {
		q.finish(item, domain.StateCanceled, nil)
	}
	return nil
}

// Shutdown stops the workers, interrupts all downloads and runs the
// shutdown chain. Rows stay persisted for the next start.
func (q *Queue) Shutdown() {
	if q.cancel != nil {
		q.cancel()
	}

	q.mu.Lock()
	items := append([]*Item(nil), q.items...)
	q.mu.Unlock()

	for _, item := range items {
		if item.Download != nil {
			item.Download.Stop(domain.StateShutdown)
		}
	}

	q.wg.Wait()

	for _, item := range items {
		q.finish(item, domain.StateShutdown, nil)
	}
	log.Info().Msg("Download queue shut down")
}

// List snapshots the queue in FIFO order.
func (q *Queue) List() []Snapshot {
	q.mu.Lock()
	items := append([]*Item(nil), q.items...)
	q.mu.Unlock()

	out := make([]Snapshot, 0, len(items))
	for _, item := range items {
		out = append(out, q.snapshotOf(item))
	}
	return out
}

// Get snapshots one entry.
func (q *Queue) Get(id int) (Snapshot, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, item := range q.items {
		if item.ID == id {
			return q.snapshotOf(item), nil
		}
	}
	return Snapshot{}, domain.ErrDownloadNotFound
}

func (q *Queue) snapshotOf(item *Item) Snapshot {
	s := Snapshot{
		ID:           item.ID,
		VolumeID:     item.Row.VolumeID,
		IssueID:      item.Row.IssueID,
		Source:       item.Kind,
		WebLink:      item.Row.WebLink,
		DownloadLink: item.Row.DownloadLink,
		State:        domain.StateFailed,
	}
	if item.Download != nil {
		status := item.Download.Status()
		s.Title = item.Download.Title()
		s.State = status.State
		s.Size = status.Size
		s.Progress = status.Progress
		s.Speed = status.Speed
	}
	return s
}

func (q *Queue) wakeWorker() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// worker drains the direct slot: one non-external download at a time, in
// FIFO order.
func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		}

		for {
			item := q.claimNextDirect()
			if item == nil {
				break
			}
			q.runDirect(ctx, item)
			if ctx.Err() != nil {
				return
			}
		}
	}
}

// claimNextDirect picks the first queued non-external download and marks it
// running.
func (q *Queue) claimNextDirect() *Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, item := range q.items {
		if item.finished || item.running || item.Kind.External() || item.Download == nil {
			continue
		}
		if item.Download.Status().State != domain.StateQueued {
			continue
		}
		item.running = true
		return item
	}
	return nil
}

func (q *Queue) runDirect(ctx context.Context, item *Item) {
	log.Info().Int("id", item.ID).Str("title", item.Download.Title()).
		Msg("Starting download")

	err := item.Download.Run(ctx)
	state := item.Download.Status().State
	if err != nil {
		log.Error().Err(err).Int("id", item.ID).Msg("Download failed")
	}
	if !state.Terminal() {
		state = domain.StateFailed
	}
	if state == domain.StateShutdown {
		// The shutdown chain runs once from Shutdown.
		q.mu.Lock()
		item.running = false
		q.mu.Unlock()
		return
	}
	q.finish(item, state, err)
}

// poller mirrors external-client progress at a fixed cadence and drives
// seeding transitions.
func (q *Queue) poller(ctx context.Context) {
	defer q.wg.Done()
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.pollOnce(ctx)
		}
	}
}

func (q *Queue) pollOnce(ctx context.Context) {
	q.mu.Lock()
	var external []*Item
	for _, item := range q.items {
		if item.Kind.External() && !item.finished && item.Download != nil {
			external = append(external, item)
		}
	}
	q.mu.Unlock()

	for _, item := range external {
		ext, ok := item.Download.(*downloader.External)
		if !ok {
			continue
		}
		if err := ext.UpdateStatus(ctx); err != nil {
			log.Error().Err(err).Int("id", item.ID).Msg("External client poll failed")
			ext.Stop(domain.StateFailed)
			q.finish(item, domain.StateFailed, err)
			continue
		}

		switch state := ext.Status().State; state {
		case domain.StateSeeding:
			q.handleSeeding(item)
		case domain.StateImporting, domain.StateFailed:
			q.finish(item, state, nil)
		}
	}

	if snapshots := q.List(); len(snapshots) > 0 {
		q.emit(EventQueueStatus, snapshots)
	}
}

// handleSeeding runs the copy-while-seeding chain once when configured.
// Under the complete handling the download just keeps seeding.
func (q *Queue) handleSeeding(item *Item) {
	if q.settings().SeedingHandling != domain.SeedingCopy {
		return
	}
	q.mu.Lock()
	already := item.Copied
	item.Copied = true
	q.mu.Unlock()
	if already {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	q.postMu.Lock()
	defer q.postMu.Unlock()
	if q.post != nil {
		q.post.Process(ctx, item, domain.StateSeeding, nil)
	}
}

// finish runs the post-processing chain for a settled download exactly once,
// removes the row (except on shutdown) and drops the entry.
func (q *Queue) finish(item *Item, state domain.DownloadState, runErr error) {
	q.mu.Lock()
	if item.finished {
		q.mu.Unlock()
		return
	}
	item.finished = true
	q.mu.Unlock()

	snapshot := q.snapshotOf(item)
	snapshot.State = state

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	q.postMu.Lock()
	if q.post != nil {
		q.post.Process(ctx, item, state, runErr)
	}
	q.postMu.Unlock()

	if state != domain.StateShutdown {
		if err := q.store.Delete(ctx, item.ID); err != nil {
			log.Error().Err(err).Int("id", item.ID).Msg("Could not remove queue row")
		}
	}

	q.mu.Lock()
	for i, it := range q.items {
		if it == item {
			q.items = append(q.items[:i], q.items[i+1:]...)
			break
		}
	}
	q.mu.Unlock()

	log.Info().Int("id", item.ID).Str("state", string(state)).
		Msg("Download left the queue")
	q.emit(EventQueueEnded, snapshot)
	q.wakeWorker()
}

// PermanentFailure reports whether a run error means the link itself is dead
// and should be blocklisted. Throttling is explicitly not permanent.
func PermanentFailure(runErr error) (domain.BlocklistReason, bool) {
	var linkBroken *domain.LinkBrokenError
	if errors.As(runErr, &linkBroken) {
		return linkBroken.Reason, true
	}
	return "", false
}
