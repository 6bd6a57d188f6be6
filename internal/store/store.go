package store

import (
	"context"
	"time"

	"github.com/btouchard/beacon/internal/notification"
)

// Store is the persistence interface for Beacon.
type Store interface {
	// Notification snapshot
	SaveSnapshot(ctx context.Context, snap notification.Snapshot) error
	LoadSnapshot(ctx context.Context) (notification.Snapshot, bool, error)
	SaveLocalReads(ctx context.Context, ids []int64) error
	LoadLocalReads(ctx context.Context) ([]int64, error)

	// Published alert identifiers
	ClaimAlert(ctx context.Context, identifier string) (bool, error)
	ReleaseAlert(ctx context.Context, identifier string) error

	// Engine events
	AddEvent(ctx context.Context, e *Event) error
	GetEvents(ctx context.Context, f EventFilter) ([]Event, error)

	// Maintenance
	Cleanup(ctx context.Context, retention time.Duration) (int64, error)
	Close() error
}

// Event is a timestamped engine event kept as an audit trail.
type Event struct {
	ID             int64
	Type           string
	NotificationID int64
	UnreadCount    int
	Message        string
	CreatedAt      time.Time
}

// EventFilter specifies criteria for listing events.
type EventFilter struct {
	Type  string
	Limit int
	Since time.Time
}
