package notification

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/btouchard/beacon/internal/notify"
)

// API fetches notifications and posts read actions.
type API interface {
	Fetch(ctx context.Context, tok *oauth2.Token) ([]Record, error)
	MarkRead(ctx context.Context, tok *oauth2.Token, href string) error
}

// Dispatcher turns newly unread records into alerts and keeps the badge
// in sync. Defined consumer-side per Go convention.
type Dispatcher interface {
	Dispatch(ctx context.Context, newlyUnread []Record, unread int) ([]string, error)
	UpdateBadge(ctx context.Context, unread int)
	// Forget drops delivery bookkeeping for records that are no longer
	// unread. Alerts already delivered are left alone.
	Forget(ctx context.Context, ids []int64)
}

// SnapshotStore persists the last snapshot and the local read overlay
// across restarts.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap Snapshot) error
	LoadSnapshot(ctx context.Context) (Snapshot, bool, error)
	SaveLocalReads(ctx context.Context, ids []int64) error
	LoadLocalReads(ctx context.Context) ([]int64, error)
}

// Options configures a Synchronizer. Store and Events are optional.
type Options struct {
	Tokens     oauth2.TokenSource
	API        API
	Dispatcher Dispatcher
	Store      SnapshotStore
	Events     notify.Notifier
	Now        func() time.Time
}

// Synchronizer owns the notification snapshot. Every mutation goes through
// Poll or MarkRead under one mutex; network calls run outside it.
type Synchronizer struct {
	tokens     oauth2.TokenSource
	api        API
	dispatcher Dispatcher
	store      SnapshotStore
	events     notify.Notifier
	now        func() time.Time

	mu          sync.Mutex
	snapshot    Snapshot
	locallyRead map[int64]struct{}
	seq         uint64

	// outMu serializes badge pushes and overlay writes.
	outMu sync.Mutex

	group   singleflight.Group
	pending sync.WaitGroup
}

// NewSynchronizer creates a Synchronizer with an empty snapshot.
func NewSynchronizer(opts Options) *Synchronizer {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Synchronizer{
		tokens:      opts.Tokens,
		api:         opts.API,
		dispatcher:  opts.Dispatcher,
		store:       opts.Store,
		events:      opts.Events,
		now:         now,
		locallyRead: make(map[int64]struct{}),
	}
}

// Restore loads the persisted snapshot and local read overlay so the first
// poll after a restart diffs against what was already seen. It is a no-op
// once a poll succeeded.
func (s *Synchronizer) Restore(ctx context.Context) error {
	if s.store == nil {
		return nil
	}

	snap, ok, err := s.store.LoadSnapshot(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	reads, err := s.store.LoadLocalReads(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.snapshot.FetchedAt.IsZero() {
		return nil
	}

	for _, id := range reads {
		s.locallyRead[id] = struct{}{}
	}
	records := slices.Clone(snap.Records)
	for i := range records {
		if _, ok := s.locallyRead[records[i].ID]; ok {
			records[i].Read = true
		}
	}
	s.snapshot = NewSnapshot(records, snap.FetchedAt)

	slog.Info("notification snapshot restored",
		"records", len(s.snapshot.Records),
		"unread_count", s.snapshot.UnreadCount,
		"locally_read", len(s.locallyRead),
		"fetched_at", s.snapshot.FetchedAt)
	return nil
}

// Snapshot returns a copy of the current snapshot.
func (s *Synchronizer) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot.clone()
}

// Poll fetches the notification collection, replaces the snapshot and
// forwards newly unread records to the dispatcher. Concurrent callers share
// one in-flight poll. On error the snapshot is left untouched.
func (s *Synchronizer) Poll(ctx context.Context) (Snapshot, error) {
	v, err, _ := s.group.Do("poll", func() (any, error) {
		return s.poll(context.WithoutCancel(ctx))
	})
	if err != nil {
		return Snapshot{}, err
	}
	return v.(Snapshot).clone(), nil
}

func (s *Synchronizer) poll(ctx context.Context) (Snapshot, error) {
	// The token is captured once; a refresh completing mid-flight does not
	// affect this request.
	tok, err := s.tokens.Token()
	if err != nil {
		return Snapshot{}, &FetchError{Kind: KindUnauthenticated, Err: err}
	}

	records, err := s.api.Fetch(ctx, tok)
	if err != nil {
		var fe *FetchError
		if !errors.As(err, &fe) {
			err = &FetchError{Kind: KindNetwork, Err: err}
		}
		slog.Warn("notification poll failed", "error", err)
		return Snapshot{}, err
	}

	s.mu.Lock()
	for i := range records {
		s.applyLocalRead(&records[i])
	}
	s.pruneLocalReads(records)

	prev := s.snapshot
	next := NewSnapshot(records, s.now())
	newlyUnread := NewlyUnread(prev, next)
	settled := NoLongerUnread(prev, next)
	s.snapshot = next
	s.seq++
	seq := s.seq
	result := next.clone()
	s.mu.Unlock()

	slog.Info("notifications synchronized",
		"records", len(next.Records),
		"unread_count", next.UnreadCount,
		"newly_unread", len(newlyUnread))

	// Dispatch before persisting: a crash in between replays the alerts on
	// restart, and identical identifiers supersede instead of duplicating.
	s.outMu.Lock()
	if s.dispatcher != nil {
		if _, err := s.dispatcher.Dispatch(ctx, newlyUnread, next.UnreadCount); err != nil {
			slog.Warn("alert dispatch incomplete", "error", err)
		}
		if len(settled) > 0 {
			s.dispatcher.Forget(ctx, settled)
		}
	}
	s.flushState(ctx, next.UnreadCount)
	s.outMu.Unlock()

	if prev.UnreadCount != next.UnreadCount || prev.FetchedAt.IsZero() {
		s.emit(notify.Event{Type: notify.UnreadChanged, UnreadCount: next.UnreadCount, Seq: seq})
	}

	if s.store != nil {
		if err := s.store.SaveSnapshot(ctx, result); err != nil {
			slog.Warn("notification snapshot not persisted", "error", err)
		}
	}

	return result, nil
}

// applyLocalRead keeps locally read records read until the server agrees.
// Caller holds s.mu.
func (s *Synchronizer) applyLocalRead(r *Record) {
	if _, ok := s.locallyRead[r.ID]; !ok {
		return
	}
	if r.Read {
		delete(s.locallyRead, r.ID)
		return
	}
	r.Read = true
}

// pruneLocalReads forgets ids the server no longer returns. Caller holds s.mu.
func (s *Synchronizer) pruneLocalReads(records []Record) {
	if len(s.locallyRead) == 0 {
		return
	}
	present := make(map[int64]struct{}, len(records))
	for _, r := range records {
		present[r.ID] = struct{}{}
	}
	for id := range s.locallyRead {
		if _, ok := present[id]; !ok {
			delete(s.locallyRead, id)
		}
	}
}

// MarkRead marks a record read locally and reports whether anything
// changed. The server is told asynchronously; failures there are logged and
// not retried. Unknown or already read ids are a no-op.
func (s *Synchronizer) MarkRead(ctx context.Context, id int64) bool {
	s.mu.Lock()
	i, ok := s.snapshot.index(id)
	if !ok || s.snapshot.Records[i].Read {
		s.mu.Unlock()
		return false
	}
	s.snapshot.Records[i].Read = true
	if s.snapshot.UnreadCount > 0 {
		s.snapshot.UnreadCount--
	}
	s.locallyRead[id] = struct{}{}
	href := s.snapshot.Records[i].Links.ReadHref
	unread := s.snapshot.UnreadCount
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	slog.Info("notification marked read", "notification_id", id, "unread_count", unread)
	s.emit(notify.Event{Type: notify.UnreadChanged, UnreadCount: unread, NotificationID: id, Seq: seq})

	ctx = context.WithoutCancel(ctx)
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()

		s.outMu.Lock()
		s.flushState(ctx, -1)
		if s.dispatcher != nil {
			s.dispatcher.Forget(ctx, []int64{id})
		}
		s.outMu.Unlock()

		s.postRead(ctx, id, href)
	}()

	return true
}

// flushState pushes the unread count to the badge unless it equals sent,
// and persists the local read overlay. Both read the state at call time, so
// whichever flush runs last carries the latest count. Caller holds s.outMu.
func (s *Synchronizer) flushState(ctx context.Context, sent int) {
	s.mu.Lock()
	unread := s.snapshot.UnreadCount
	reads := slices.Sorted(maps.Keys(s.locallyRead))
	s.mu.Unlock()

	if s.dispatcher != nil && unread != sent {
		s.dispatcher.UpdateBadge(ctx, unread)
	}
	if s.store != nil {
		if err := s.store.SaveLocalReads(ctx, reads); err != nil {
			slog.Warn("local reads not persisted", "error", err)
		}
	}
}

func (s *Synchronizer) postRead(ctx context.Context, id int64, href string) {
	if href == "" {
		slog.Debug("notification has no read link", "notification_id", id)
		return
	}

	tok, err := s.tokens.Token()
	if err != nil {
		slog.Warn("mark read not sent", "notification_id", id, "error", err)
		return
	}

	if err := s.api.MarkRead(ctx, tok, href); err != nil {
		slog.Warn("mark read failed", "notification_id", id, "error", err)
		return
	}
	slog.Debug("mark read confirmed", "notification_id", id)
}

// Wait blocks until pending mark-read work, badge pushes included, has
// finished.
func (s *Synchronizer) Wait() {
	s.pending.Wait()
}

func (s *Synchronizer) emit(e notify.Event) {
	if s.events != nil {
		s.events.Notify(e)
	}
}
