package notify

// Event types.
const (
	UnreadChanged  = "unread.changed"
	AlertScheduled = "alert.scheduled"
	SessionEnded   = "session.ended"
	SyncFailed     = "sync.failed"
)

// Event represents a state change of the synchronization engine.
type Event struct {
	Type           string
	UnreadCount    int
	NotificationID int64
	Message        string

	// Seq increases with every unread count mutation of its source. Zero
	// means unordered.
	Seq uint64

	// MCPSessionID targets a specific MCP client session.
	// Empty means broadcast to all.
	MCPSessionID string
}

// Notifier receives engine events.
type Notifier interface {
	Notify(event Event)
}

// Hub dispatches events to multiple notifiers.
type Hub struct {
	notifiers []Notifier
}

// NewHub creates a Hub with the given notifiers.
func NewHub(notifiers ...Notifier) *Hub {
	return &Hub{notifiers: notifiers}
}

// Add registers another notifier. It must be called before events flow.
func (h *Hub) Add(n Notifier) {
	h.notifiers = append(h.notifiers, n)
}

// Notify sends an event to all registered notifiers. Delivery is
// concurrent, so notifiers that care about order compare Event.Seq.
func (h *Hub) Notify(event Event) {
	for _, n := range h.notifiers {
		go n.Notify(event)
	}
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(Event)

func (f NotifierFunc) Notify(event Event) { f(event) }
