package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/btouchard/beacon/internal/notify"
)

// EventRecorder persists engine events to the audit trail.
type EventRecorder struct {
	store   Store
	timeout time.Duration
}

// NewEventRecorder creates a notifier that writes every event to s.
func NewEventRecorder(s Store) *EventRecorder {
	return &EventRecorder{store: s, timeout: 5 * time.Second}
}

func (r *EventRecorder) Notify(event notify.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	e := &Event{
		Type:           event.Type,
		NotificationID: event.NotificationID,
		UnreadCount:    event.UnreadCount,
		Message:        event.Message,
	}
	if err := r.store.AddEvent(ctx, e); err != nil {
		slog.Warn("failed to record event", "type", event.Type, "error", err)
	}
}
