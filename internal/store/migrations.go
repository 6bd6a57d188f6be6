package store

// migrations are applied in order; index i is schema version i+1.
var migrations = []string{
	`CREATE TABLE notifications (
		id            INTEGER PRIMARY KEY,
		reason        TEXT NOT NULL,
		is_read       INTEGER NOT NULL DEFAULT 0,
		message       TEXT NOT NULL DEFAULT '',
		has_resource  INTEGER NOT NULL DEFAULT 0,
		resource_type TEXT NOT NULL DEFAULT '',
		resource_id   TEXT NOT NULL DEFAULT '',
		resource_name TEXT NOT NULL DEFAULT '',
		read_href     TEXT NOT NULL DEFAULT '',
		unread_href   TEXT NOT NULL DEFAULT '',
		resource_href TEXT NOT NULL DEFAULT '',
		project_href  TEXT NOT NULL DEFAULT '',
		created_at    TEXT NOT NULL DEFAULT '',
		updated_at    TEXT NOT NULL DEFAULT ''
	);
	CREATE TABLE sync_state (
		id         INTEGER PRIMARY KEY CHECK (id = 1),
		fetched_at TEXT NOT NULL
	);`,

	`CREATE TABLE events (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type      TEXT NOT NULL,
		notification_id INTEGER NOT NULL DEFAULT 0,
		unread_count    INTEGER NOT NULL DEFAULT 0,
		message         TEXT NOT NULL DEFAULT '',
		created_at      TEXT NOT NULL
	);
	CREATE INDEX idx_events_created_at ON events(created_at);
	CREATE INDEX idx_events_type ON events(event_type);`,

	`CREATE TABLE local_reads (
		notification_id INTEGER PRIMARY KEY
	);
	CREATE TABLE published_alerts (
		identifier   TEXT PRIMARY KEY,
		published_at TEXT NOT NULL
	);`,
}
