package notify

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	sessionID string
	method    string
	params    map[string]any
}

type fakeSender struct {
	mu         sync.Mutex
	direct     []sent
	broadcasts []sent
	failDirect bool
}

func (f *fakeSender) SendNotificationToSpecificClient(sessionID, method string, params map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDirect {
		return errors.New("session gone")
	}
	f.direct = append(f.direct, sent{sessionID, method, params})
	return nil
}

func (f *fakeSender) SendNotificationToAllClients(method string, params map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, sent{method: method, params: params})
}

func newTestNotifier(t *testing.T) (*MCPNotifier, *fakeSender, *time.Time) {
	t.Helper()
	sender := &fakeSender{}
	n := NewMCPNotifier(sender, time.Second)
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	n.now = func() time.Time { return now }
	n.afterFunc = func(time.Duration, func()) {}
	return n, sender, &now
}

func unreadCounts(f *fakeSender) []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []any
	for _, b := range f.broadcasts {
		out = append(out, b.params["data"].(map[string]any)["unread_count"])
	}
	return out
}

func TestMCPNotifier_AlertScheduledIsBroadcast(t *testing.T) {
	t.Parallel()
	n, sender, _ := newTestNotifier(t)

	n.Notify(Event{Type: AlertScheduled, NotificationID: 42, UnreadCount: 3, Message: "mentioned"})

	require.Len(t, sender.broadcasts, 1)
	msg := sender.broadcasts[0]
	assert.Equal(t, "notifications/message", msg.method)
	assert.Equal(t, "info", msg.params["level"])
	data := msg.params["data"].(map[string]any)
	assert.Equal(t, int64(42), data["notification_id"])
	assert.Equal(t, 3, data["unread_count"])
}

func TestMCPNotifier_SessionEndedIsWarning(t *testing.T) {
	t.Parallel()
	n, sender, _ := newTestNotifier(t)

	n.Notify(Event{Type: SessionEnded, Message: "refresh token rejected"})

	require.Len(t, sender.broadcasts, 1)
	assert.Equal(t, "warning", sender.broadcasts[0].params["level"])
	data := sender.broadcasts[0].params["data"].(map[string]any)
	assert.NotContains(t, data, "notification_id")
}

func TestMCPNotifier_UnreadChangedDebounced(t *testing.T) {
	t.Parallel()
	n, sender, now := newTestNotifier(t)

	n.Notify(Event{Type: UnreadChanged, UnreadCount: 2})
	n.Notify(Event{Type: UnreadChanged, UnreadCount: 3}) // inside the window
	*now = now.Add(2 * time.Second)
	n.Notify(Event{Type: UnreadChanged, UnreadCount: 3})
	*now = now.Add(2 * time.Second)
	n.Notify(Event{Type: UnreadChanged, UnreadCount: 3}) // same count

	require.Len(t, sender.broadcasts, 2)
	assert.Equal(t, 2, sender.broadcasts[0].params["data"].(map[string]any)["unread_count"])
	assert.Equal(t, 3, sender.broadcasts[1].params["data"].(map[string]any)["unread_count"])
}

func TestMCPNotifier_UnreadChangedInsideWindowIsFlushedLater(t *testing.T) {
	t.Parallel()
	n, sender, now := newTestNotifier(t)

	var (
		delay time.Duration
		flush func()
	)
	n.afterFunc = func(d time.Duration, f func()) { delay, flush = d, f }

	n.Notify(Event{Type: UnreadChanged, UnreadCount: 3, Seq: 1})
	*now = now.Add(100 * time.Millisecond)
	n.Notify(Event{Type: UnreadChanged, UnreadCount: 2, Seq: 2})

	assert.Equal(t, []any{3}, unreadCounts(sender), "held inside the window")
	require.NotNil(t, flush)
	assert.Equal(t, 900*time.Millisecond, delay, "flushes when the window closes")

	*now = now.Add(time.Hour)
	flush()
	assert.Equal(t, []any{3, 2}, unreadCounts(sender))

	flush()
	assert.Equal(t, []any{3, 2}, unreadCounts(sender), "nothing left to flush")
}

func TestMCPNotifier_UnreadChangedHeldCountRevertedIsDropped(t *testing.T) {
	t.Parallel()
	n, sender, now := newTestNotifier(t)

	var flush func()
	n.afterFunc = func(_ time.Duration, f func()) { flush = f }

	n.Notify(Event{Type: UnreadChanged, UnreadCount: 3, Seq: 1})
	n.Notify(Event{Type: UnreadChanged, UnreadCount: 2, Seq: 2})
	n.Notify(Event{Type: UnreadChanged, UnreadCount: 3, Seq: 3})

	*now = now.Add(time.Hour)
	require.NotNil(t, flush)
	flush()
	assert.Equal(t, []any{3}, unreadCounts(sender), "clients already hold the latest count")
}

func TestMCPNotifier_UnreadChangedStaleSeqIgnored(t *testing.T) {
	t.Parallel()
	n, sender, now := newTestNotifier(t)

	n.Notify(Event{Type: UnreadChanged, UnreadCount: 1, Seq: 5})
	*now = now.Add(time.Hour)
	n.Notify(Event{Type: UnreadChanged, UnreadCount: 4, Seq: 4}) // delivered late

	assert.Equal(t, []any{1}, unreadCounts(sender))
}

func TestMCPNotifier_UnreadChangedRealTimerConverges(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{}
	n := NewMCPNotifier(sender, 20*time.Millisecond)

	n.Notify(Event{Type: UnreadChanged, UnreadCount: 3, Seq: 1})
	n.Notify(Event{Type: UnreadChanged, UnreadCount: 2, Seq: 2})

	require.Eventually(t, func() bool {
		counts := unreadCounts(sender)
		return len(counts) == 2 && counts[1] == 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestMCPNotifier_TargetedFallsBackToBroadcast(t *testing.T) {
	t.Parallel()
	n, sender, _ := newTestNotifier(t)

	n.Notify(Event{Type: SyncFailed, MCPSessionID: "s1", Message: "boom"})
	assert.Len(t, sender.direct, 1)
	assert.Empty(t, sender.broadcasts)

	sender.failDirect = true
	n.Notify(Event{Type: SyncFailed, MCPSessionID: "s1", Message: "boom"})
	assert.Len(t, sender.broadcasts, 1)
}

func TestMCPNotifier_UnknownEventIgnored(t *testing.T) {
	t.Parallel()
	n, sender, _ := newTestNotifier(t)

	n.Notify(Event{Type: "unknown.event"})

	assert.Empty(t, sender.broadcasts)
	assert.Empty(t, sender.direct)
}

func TestHub_FansOutToAllNotifiers(t *testing.T) {
	t.Parallel()

	var wg sync.WaitGroup
	wg.Add(2)
	var mu sync.Mutex
	var got []string
	record := func(name string) Notifier {
		return NotifierFunc(func(e Event) {
			defer wg.Done()
			mu.Lock()
			got = append(got, name+":"+e.Type)
			mu.Unlock()
		})
	}

	hub := NewHub(record("a"))
	hub.Add(record("b"))
	hub.Notify(Event{Type: UnreadChanged})
	wg.Wait()

	assert.ElementsMatch(t, []string{"a:unread.changed", "b:unread.changed"}, got)
}
