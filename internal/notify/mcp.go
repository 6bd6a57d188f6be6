package notify

import (
	"log/slog"
	"sync"
	"time"
)

// MCPSender abstracts the mcp-go server notification methods.
// Defined consumer-side per Go convention.
type MCPSender interface {
	SendNotificationToSpecificClient(sessionID string, method string, params map[string]any) error
	SendNotificationToAllClients(method string, params map[string]any)
}

// MCPNotifier pushes engine events to connected MCP clients.
type MCPNotifier struct {
	sender   MCPSender
	debounce time.Duration
	now      func() time.Time

	// afterFunc schedules the trailing flush.
	afterFunc func(time.Duration, func())

	mu         sync.Mutex
	lastSeq    uint64
	lastUnread time.Time
	lastCount  int
	sentCount  bool
	pending    *Event
	flushing   bool
}

// NewMCPNotifier creates an MCPNotifier. Unread count changes are debounced;
// alert and session events are always sent immediately.
func NewMCPNotifier(sender MCPSender, debounce time.Duration) *MCPNotifier {
	if debounce <= 0 {
		debounce = 3 * time.Second
	}
	return &MCPNotifier{
		sender:    sender,
		debounce:  debounce,
		now:       time.Now,
		afterFunc: startTimer,
	}
}

func startTimer(d time.Duration, f func()) { time.AfterFunc(d, f) }

// Notify sends an MCP notification for the given event.
func (n *MCPNotifier) Notify(event Event) {
	switch event.Type {
	case UnreadChanged:
		n.sendUnread(event)
	case AlertScheduled:
		n.sendMessage(event, "info")
	case SessionEnded:
		n.resetUnread()
		n.sendMessage(event, "warning")
	case SyncFailed:
		n.sendMessage(event, "error")
	default:
		slog.Debug("mcp notifier: unknown event type", "type", event.Type)
	}
}

// sendUnread drops stale and repeated counts. A change inside the debounce
// window is held and flushed when the window closes, so clients always end
// on the latest count.
func (n *MCPNotifier) sendUnread(event Event) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if event.Seq != 0 {
		if event.Seq <= n.lastSeq {
			return
		}
		n.lastSeq = event.Seq
	}

	if n.sentCount && event.UnreadCount == n.lastCount {
		n.pending = nil
		return
	}

	now := n.now()
	if elapsed := now.Sub(n.lastUnread); n.sentCount && elapsed < n.debounce {
		n.pending = &event
		if !n.flushing {
			n.flushing = true
			n.afterFunc(n.debounce-elapsed, n.flushUnread)
		}
		return
	}

	n.sendUnreadLocked(event, now)
}

// flushUnread sends the count held back during the debounce window.
func (n *MCPNotifier) flushUnread() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.flushing = false
	event := n.pending
	if event == nil || (n.sentCount && event.UnreadCount == n.lastCount) {
		n.pending = nil
		return
	}
	n.sendUnreadLocked(*event, n.now())
}

// sendUnreadLocked sends under n.mu so counts reach clients in decision
// order.
func (n *MCPNotifier) sendUnreadLocked(event Event, now time.Time) {
	n.pending = nil
	n.sentCount = true
	n.lastCount = event.UnreadCount
	n.lastUnread = now
	n.sendMessage(event, "info")
}

func (n *MCPNotifier) resetUnread() {
	n.mu.Lock()
	n.sentCount = false
	n.pending = nil
	n.mu.Unlock()
}

func (n *MCPNotifier) sendMessage(event Event, level string) {
	data := map[string]any{
		"type":         event.Type,
		"unread_count": event.UnreadCount,
		"message":      event.Message,
	}
	if event.NotificationID != 0 {
		data["notification_id"] = event.NotificationID
	}

	params := map[string]any{
		"level":  level,
		"logger": "beacon",
		"data":   data,
	}

	n.send(event.MCPSessionID, "notifications/message", params)
}

// send dispatches to a specific client or broadcasts.
func (n *MCPNotifier) send(mcpSessionID, method string, params map[string]any) {
	if mcpSessionID != "" {
		if err := n.sender.SendNotificationToSpecificClient(mcpSessionID, method, params); err != nil {
			slog.Debug("mcp notification failed, falling back to broadcast",
				"session_id", mcpSessionID,
				"method", method,
				"error", err)
			n.sender.SendNotificationToAllClients(method, params)
		}
		return
	}
	n.sender.SendNotificationToAllClients(method, params)
}
