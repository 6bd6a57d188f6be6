package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/btouchard/beacon/internal/notification"
)

// timeFormat is fixed-width so lexical order matches time order.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, zero CGO).
type SQLiteStore struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) a SQLite database and runs migrations.
// The database file is created with 0600 permissions and its parent directory with 0700.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if !isMemory(path) {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}

		// Pre-create the file with restrictive permissions if it doesn't exist
		if _, err := os.Stat(path); os.IsNotExist(err) {
			f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0600)
			if err != nil {
				return nil, fmt.Errorf("creating database file: %w", err)
			}
			_ = f.Close()
		} else if err == nil {
			if err := os.Chmod(path, 0600); err != nil {
				return nil, fmt.Errorf("restricting database file permissions: %w", err)
			}
		}
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite handles one writer at a time
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

func isMemory(path string) bool {
	return path == ":memory:" || strings.HasPrefix(path, "file::memory:")
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	var current int
	if err := s.db.Get(&current, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for i := current; i < len(migrations); i++ {
		slog.Info("applying migration", "version", i+1)
		if _, err := s.db.Exec(migrations[i]); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_version (version) VALUES (?)", i+1); err != nil {
			return fmt.Errorf("recording migration %d: %w", i+1, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Notification snapshot ---

type notificationRow struct {
	ID           int64  `db:"id"`
	Reason       string `db:"reason"`
	IsRead       int    `db:"is_read"`
	Message      string `db:"message"`
	HasResource  int    `db:"has_resource"`
	ResourceType string `db:"resource_type"`
	ResourceID   string `db:"resource_id"`
	ResourceName string `db:"resource_name"`
	ReadHref     string `db:"read_href"`
	UnreadHref   string `db:"unread_href"`
	ResourceHref string `db:"resource_href"`
	ProjectHref  string `db:"project_href"`
	CreatedAt    string `db:"created_at"`
	UpdatedAt    string `db:"updated_at"`
}

func toRow(r notification.Record) notificationRow {
	row := notificationRow{
		ID:           r.ID,
		Reason:       string(r.Reason),
		IsRead:       boolToInt(r.Read),
		Message:      r.Message,
		ReadHref:     r.Links.ReadHref,
		UnreadHref:   r.Links.UnreadHref,
		ResourceHref: r.Links.ResourceHref,
		ProjectHref:  r.Links.ProjectHref,
		CreatedAt:    formatTime(r.CreatedAt),
		UpdatedAt:    formatTime(r.UpdatedAt),
	}
	if r.Resource != nil {
		row.HasResource = 1
		row.ResourceType = r.Resource.Type
		row.ResourceID = r.Resource.ID
		row.ResourceName = r.Resource.Name
	}
	return row
}

func (row notificationRow) record() notification.Record {
	r := notification.Record{
		ID:      row.ID,
		Reason:  notification.ParseReason(row.Reason),
		Read:    row.IsRead != 0,
		Message: row.Message,
		Links: notification.Links{
			ReadHref:     row.ReadHref,
			UnreadHref:   row.UnreadHref,
			ResourceHref: row.ResourceHref,
			ProjectHref:  row.ProjectHref,
		},
		CreatedAt: parseTime(row.CreatedAt),
		UpdatedAt: parseTime(row.UpdatedAt),
	}
	if row.HasResource != 0 {
		r.Resource = &notification.Resource{
			Type: row.ResourceType,
			ID:   row.ResourceID,
			Name: row.ResourceName,
		}
	}
	return r
}

// SaveSnapshot replaces the stored snapshot in one transaction.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap notification.Snapshot) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM notifications"); err != nil {
		return fmt.Errorf("clearing notifications: %w", err)
	}

	if len(snap.Records) > 0 {
		stmt, err := tx.PrepareNamedContext(ctx, `INSERT INTO notifications (
			id, reason, is_read, message,
			has_resource, resource_type, resource_id, resource_name,
			read_href, unread_href, resource_href, project_href,
			created_at, updated_at
		) VALUES (
			:id, :reason, :is_read, :message,
			:has_resource, :resource_type, :resource_id, :resource_name,
			:read_href, :unread_href, :resource_href, :project_href,
			:created_at, :updated_at
		)`)
		if err != nil {
			return fmt.Errorf("preparing insert: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for _, r := range snap.Records {
			if _, err := stmt.ExecContext(ctx, toRow(r)); err != nil {
				return fmt.Errorf("inserting notification %d: %w", r.ID, err)
			}
		}
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO sync_state (id, fetched_at) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET fetched_at = excluded.fetched_at`,
		formatTime(snap.FetchedAt)); err != nil {
		return fmt.Errorf("updating sync state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot returns the stored snapshot. ok is false when no snapshot
// was ever saved.
func (s *SQLiteStore) LoadSnapshot(ctx context.Context) (notification.Snapshot, bool, error) {
	var fetchedAt string
	err := s.db.GetContext(ctx, &fetchedAt, "SELECT fetched_at FROM sync_state WHERE id = 1")
	if errors.Is(err, sql.ErrNoRows) {
		return notification.Snapshot{}, false, nil
	}
	if err != nil {
		return notification.Snapshot{}, false, fmt.Errorf("reading sync state: %w", err)
	}

	var rows []notificationRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT * FROM notifications ORDER BY id"); err != nil {
		return notification.Snapshot{}, false, fmt.Errorf("reading notifications: %w", err)
	}

	records := make([]notification.Record, len(rows))
	for i, row := range rows {
		records[i] = row.record()
	}

	return notification.NewSnapshot(records, parseTime(fetchedAt)), true, nil
}

// SaveLocalReads replaces the set of notifications read locally but not
// yet confirmed by the server.
func (s *SQLiteStore) SaveLocalReads(ctx context.Context, ids []int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM local_reads"); err != nil {
		return fmt.Errorf("clearing local reads: %w", err)
	}
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, "INSERT INTO local_reads (notification_id) VALUES (?)", id); err != nil {
			return fmt.Errorf("inserting local read %d: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing local reads: %w", err)
	}
	return nil
}

// LoadLocalReads returns the locally read notification ids in ascending order.
func (s *SQLiteStore) LoadLocalReads(ctx context.Context) ([]int64, error) {
	var ids []int64
	if err := s.db.SelectContext(ctx, &ids, "SELECT notification_id FROM local_reads ORDER BY notification_id"); err != nil {
		return nil, fmt.Errorf("reading local reads: %w", err)
	}
	return ids, nil
}

// --- Published alerts ---

// ClaimAlert records identifier as published. It returns false when the
// identifier was already recorded.
func (s *SQLiteStore) ClaimAlert(ctx context.Context, identifier string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "INSERT OR IGNORE INTO published_alerts (identifier, published_at) VALUES (?, ?)",
		identifier, formatTime(s.now()))
	if err != nil {
		return false, fmt.Errorf("claiming alert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claiming alert: %w", err)
	}
	return n == 1, nil
}

// ReleaseAlert forgets identifier. Unknown identifiers are a no-op.
func (s *SQLiteStore) ReleaseAlert(ctx context.Context, identifier string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM published_alerts WHERE identifier = ?", identifier); err != nil {
		return fmt.Errorf("releasing alert: %w", err)
	}
	return nil
}

// --- Events ---

type eventRow struct {
	ID             int64  `db:"id"`
	EventType      string `db:"event_type"`
	NotificationID int64  `db:"notification_id"`
	UnreadCount    int    `db:"unread_count"`
	Message        string `db:"message"`
	CreatedAt      string `db:"created_at"`
}

func (s *SQLiteStore) AddEvent(ctx context.Context, e *Event) error {
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO events (event_type, notification_id, unread_count, message, created_at) VALUES (?, ?, ?, ?, ?)`,
		e.Type, e.NotificationID, e.UnreadCount, e.Message, formatTime(createdAt))
	if err != nil {
		return fmt.Errorf("adding event: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		e.ID = id
	}
	e.CreatedAt = createdAt
	return nil
}

func (s *SQLiteStore) GetEvents(ctx context.Context, f EventFilter) ([]Event, error) {
	query := "SELECT id, event_type, notification_id, unread_count, message, created_at FROM events WHERE 1=1"
	var args []any

	if f.Type != "" {
		query += " AND event_type = ?"
		args = append(args, f.Type)
	}
	if !f.Since.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, formatTime(f.Since))
	}

	query += " ORDER BY created_at DESC, id DESC"

	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	var rows []eventRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("getting events: %w", err)
	}

	events := make([]Event, len(rows))
	for i, row := range rows {
		events[i] = Event{
			ID:             row.ID,
			Type:           row.EventType,
			NotificationID: row.NotificationID,
			UnreadCount:    row.UnreadCount,
			Message:        row.Message,
			CreatedAt:      parseTime(row.CreatedAt),
		}
	}
	return events, nil
}

// --- Maintenance ---

// Cleanup deletes events older than retention and returns how many went.
func (s *SQLiteStore) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := formatTime(s.now().Add(-retention))

	res, err := s.db.ExecContext(ctx, "DELETE FROM events WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleaning events: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// --- Helpers ---

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(timeFormat, s)
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
