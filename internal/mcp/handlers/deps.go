package handlers

import (
	"context"

	"github.com/btouchard/beacon/internal/auth"
	"github.com/btouchard/beacon/internal/notification"
	"github.com/btouchard/beacon/internal/scheduler"
	"github.com/btouchard/beacon/internal/store"
)

// Inbox exposes the synchronized notification state.
type Inbox interface {
	Snapshot() notification.Snapshot
	MarkRead(ctx context.Context, id int64) bool
}

// Syncer runs and reports synchronization cycles.
type Syncer interface {
	RunNow(ctx context.Context) error
	Status() scheduler.Status
}

// SessionInfo reports the OpenProject session without exposing tokens.
type SessionInfo interface {
	State() auth.State
	Current() *auth.Session
}

// EventLister reads the persisted event trail.
type EventLister interface {
	GetEvents(ctx context.Context, f store.EventFilter) ([]store.Event, error)
}
