package handlers

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btouchard/beacon/internal/auth"
	"github.com/btouchard/beacon/internal/notification"
	"github.com/btouchard/beacon/internal/notify"
	"github.com/btouchard/beacon/internal/scheduler"
	"github.com/btouchard/beacon/internal/store"
)

var testNow = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

type fakeInbox struct {
	mu     sync.Mutex
	snap   notification.Snapshot
	marked []int64
}

func (f *fakeInbox) Snapshot() notification.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeInbox) MarkRead(_ context.Context, id int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, r := range f.snap.Records {
		if r.ID == id && !r.Read {
			f.snap.Records[i].Read = true
			f.snap.UnreadCount--
			f.marked = append(f.marked, id)
			return true
		}
	}
	return false
}

type fakeSyncer struct {
	err    error
	runs   int
	status scheduler.Status
}

func (f *fakeSyncer) RunNow(context.Context) error {
	f.runs++
	return f.err
}

func (f *fakeSyncer) Status() scheduler.Status { return f.status }

type fakeSession struct {
	state   auth.State
	session *auth.Session
}

func (f fakeSession) State() auth.State      { return f.state }
func (f fakeSession) Current() *auth.Session { return f.session }

type fakeEvents struct {
	filter store.EventFilter
	events []store.Event
	err    error
}

func (f *fakeEvents) GetEvents(_ context.Context, filter store.EventFilter) ([]store.Event, error) {
	f.filter = filter
	return f.events, f.err
}

func newTestInbox() *fakeInbox {
	return &fakeInbox{snap: notification.NewSnapshot([]notification.Record{
		{ID: 1, Reason: notification.ReasonMentioned, Message: "Alice mentioned you", Resource: &notification.Resource{Type: "WorkPackage", ID: "1234", Name: "Fix login"}},
		{ID: 2, Reason: notification.ReasonWatched, Read: true, Message: "Status changed"},
		{ID: 3, Reason: notification.ReasonCommented, Message: "New comment"},
	}, testNow)}
}

func makeReq(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: args,
		},
	}
}

func textOf(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	require.NotEmpty(t, result.Content)
	return result.Content[0].(mcp.TextContent).Text
}

// --- ListNotifications ---

func TestListNotifications_ListsNewestFirst(t *testing.T) {
	t.Parallel()
	handler := ListNotifications(newTestInbox())

	result, err := handler(context.Background(), makeReq(map[string]any{}))
	require.NoError(t, err)

	text := textOf(t, result)
	assert.Contains(t, text, "Unread: 2 of 3")
	assert.Contains(t, text, "#1 [unread] mentioned: Alice mentioned you (WorkPackage 1234: Fix login)")
	assert.Contains(t, text, "#2 [read] watched")
	assert.Less(t, strings.Index(text, "#3"), strings.Index(text, "#1"))
}

func TestListNotifications_WhenUnreadOnly_HidesRead(t *testing.T) {
	t.Parallel()
	handler := ListNotifications(newTestInbox())

	result, err := handler(context.Background(), makeReq(map[string]any{"unread_only": true}))
	require.NoError(t, err)

	text := textOf(t, result)
	assert.NotContains(t, text, "#2")
	assert.Contains(t, text, "#1")
	assert.Contains(t, text, "#3")
}

func TestListNotifications_WhenLimit_Truncates(t *testing.T) {
	t.Parallel()
	handler := ListNotifications(newTestInbox())

	result, err := handler(context.Background(), makeReq(map[string]any{"limit": float64(1)}))
	require.NoError(t, err)

	text := textOf(t, result)
	assert.Contains(t, text, "#3")
	assert.NotContains(t, text, "#1 ")
}

func TestListNotifications_WhenNeverSynced_SaysSo(t *testing.T) {
	t.Parallel()
	handler := ListNotifications(&fakeInbox{})

	result, err := handler(context.Background(), makeReq(map[string]any{}))
	require.NoError(t, err)
	assert.Contains(t, textOf(t, result), "sync_now")
}

func TestListNotifications_WhenNothingUnread(t *testing.T) {
	t.Parallel()
	inbox := &fakeInbox{snap: notification.NewSnapshot([]notification.Record{
		{ID: 5, Reason: notification.ReasonWatched, Read: true},
	}, testNow)}
	handler := ListNotifications(inbox)

	result, err := handler(context.Background(), makeReq(map[string]any{"unread_only": true}))
	require.NoError(t, err)
	assert.Contains(t, textOf(t, result), "Nothing unread")
}

// --- MarkNotificationRead ---

func TestMarkNotificationRead_MarksAndReportsCount(t *testing.T) {
	t.Parallel()
	inbox := newTestInbox()
	handler := MarkNotificationRead(inbox)

	result, err := handler(context.Background(), makeReq(map[string]any{"id": float64(1)}))
	require.NoError(t, err)

	assert.False(t, result.IsError)
	assert.Contains(t, textOf(t, result), "Marked #1 as read. Unread: 1")
	assert.Equal(t, []int64{1}, inbox.marked)
}

func TestMarkNotificationRead_WhenAlreadyRead_IsNoop(t *testing.T) {
	t.Parallel()
	inbox := newTestInbox()
	handler := MarkNotificationRead(inbox)

	for _, id := range []float64{2, 99} {
		result, err := handler(context.Background(), makeReq(map[string]any{"id": id}))
		require.NoError(t, err)
		assert.False(t, result.IsError)
		assert.Contains(t, textOf(t, result), "unknown or already read")
	}
	assert.Empty(t, inbox.marked)
}

func TestMarkNotificationRead_WhenInvalidID_ReturnsError(t *testing.T) {
	t.Parallel()
	handler := MarkNotificationRead(newTestInbox())

	for name, args := range map[string]map[string]any{
		"missing":    {},
		"string":     {"id": "1"},
		"negative":   {"id": float64(-1)},
		"fractional": {"id": float64(1.5)},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			result, err := handler(context.Background(), makeReq(args))
			require.NoError(t, err)
			assert.True(t, result.IsError)
			assert.Contains(t, textOf(t, result), "positive integer")
		})
	}
}

// --- SyncNow ---

func TestSyncNow_ReportsSnapshot(t *testing.T) {
	t.Parallel()
	syncer := &fakeSyncer{}
	handler := SyncNow(syncer, newTestInbox())

	result, err := handler(context.Background(), makeReq(nil))
	require.NoError(t, err)

	assert.Equal(t, 1, syncer.runs)
	assert.False(t, result.IsError)
	assert.Contains(t, textOf(t, result), "Synchronized 3 notifications, 2 unread.")
}

func TestSyncNow_MapsErrors(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		err  error
		want string
	}{
		"no session":   {auth.ErrNoSession, "beacon login"},
		"unauthorized": {&auth.AuthError{Kind: auth.KindUnauthorized, StatusCode: 401}, "rejected"},
		"stopped":      {scheduler.ErrStopped, "shutting down"},
		"network":      {&notification.FetchError{Kind: notification.KindNetwork, Err: errors.New("connection reset")}, "connection reset"},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			handler := SyncNow(&fakeSyncer{err: tc.err}, newTestInbox())

			result, err := handler(context.Background(), makeReq(nil))
			require.NoError(t, err)
			assert.True(t, result.IsError)
			assert.Contains(t, textOf(t, result), tc.want)
		})
	}
}

// --- SessionStatus ---

func TestSessionStatus_WhenAuthenticated_ShowsExpiry(t *testing.T) {
	t.Parallel()
	session := fakeSession{
		state:   auth.StateAuthenticated,
		session: &auth.Session{AccessToken: "a", RefreshToken: "r", ExpiresAt: testNow.Add(90 * time.Minute)},
	}
	syncer := &fakeSyncer{status: scheduler.Status{
		Mode:      scheduler.Background,
		Cycles:    4,
		LastCycle: testNow.Add(-time.Minute),
		LastError: "network: connection reset",
	}}
	handler := sessionStatus(session, syncer, func() time.Time { return testNow })

	result, err := handler(context.Background(), makeReq(nil))
	require.NoError(t, err)

	text := textOf(t, result)
	assert.Contains(t, text, "Session: authenticated")
	assert.Contains(t, text, "expires in 1h30m0s")
	assert.Contains(t, text, "Refreshable: true")
	assert.Contains(t, text, "Mode: background")
	assert.Contains(t, text, "Cycles: 4")
	assert.Contains(t, text, "Last error: network: connection reset")
}

func TestSessionStatus_WhenExpired(t *testing.T) {
	t.Parallel()
	session := fakeSession{
		state:   auth.StateAuthenticated,
		session: &auth.Session{AccessToken: "a", ExpiresAt: testNow.Add(-2 * time.Minute)},
	}
	handler := sessionStatus(session, &fakeSyncer{}, func() time.Time { return testNow })

	result, err := handler(context.Background(), makeReq(nil))
	require.NoError(t, err)

	text := textOf(t, result)
	assert.Contains(t, text, "expired 2m0s ago")
	assert.Contains(t, text, "Refreshable: false")
}

func TestSessionStatus_WhenSignedOut(t *testing.T) {
	t.Parallel()
	handler := SessionStatus(fakeSession{state: auth.StateUnauthenticated}, &fakeSyncer{})

	result, err := handler(context.Background(), makeReq(nil))
	require.NoError(t, err)

	text := textOf(t, result)
	assert.Contains(t, text, "Session: unauthenticated")
	assert.NotContains(t, text, "expires")
	assert.Contains(t, text, "Mode: foreground")
}

// --- RecentEvents ---

func TestRecentEvents_FormatsEvents(t *testing.T) {
	t.Parallel()
	events := &fakeEvents{events: []store.Event{
		{Type: notify.AlertScheduled, NotificationID: 42, Message: "Alice mentioned you", CreatedAt: testNow},
		{Type: notify.UnreadChanged, UnreadCount: 3, CreatedAt: testNow.Add(-time.Minute)},
	}}
	handler := RecentEvents(events)

	result, err := handler(context.Background(), makeReq(map[string]any{}))
	require.NoError(t, err)

	text := textOf(t, result)
	assert.Contains(t, text, "alert.scheduled #42 Alice mentioned you")
	assert.Contains(t, text, "unread.changed unread=3")
	assert.Equal(t, defaultEventLimit, events.filter.Limit)
}

func TestRecentEvents_PassesFilters(t *testing.T) {
	t.Parallel()
	events := &fakeEvents{}
	handler := RecentEvents(events)

	result, err := handler(context.Background(), makeReq(map[string]any{
		"type":  notify.SyncFailed,
		"limit": float64(10000),
		"since": "2026-05-01T09:00:00Z",
	}))
	require.NoError(t, err)

	assert.Contains(t, textOf(t, result), "No events recorded")
	assert.Equal(t, notify.SyncFailed, events.filter.Type)
	assert.Equal(t, maxEventLimit, events.filter.Limit)
	assert.Equal(t, testNow.Add(-time.Hour), events.filter.Since)
}

func TestRecentEvents_WhenInvalidSince_ReturnsError(t *testing.T) {
	t.Parallel()
	handler := RecentEvents(&fakeEvents{})

	result, err := handler(context.Background(), makeReq(map[string]any{"since": "yesterday"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestRecentEvents_WhenStoreFails_ReturnsError(t *testing.T) {
	t.Parallel()
	handler := RecentEvents(&fakeEvents{err: errors.New("database is locked")})

	result, err := handler(context.Background(), makeReq(map[string]any{"type": "all"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, textOf(t, result), "database is locked")
}
