package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/btouchard/beacon/internal/mcp/handlers"
	"github.com/btouchard/beacon/internal/notify"
)

func registerTools(s *server.MCPServer, deps *Deps) {
	// list_notifications: the last synchronized inbox
	s.AddTool(
		mcp.NewTool("list_notifications",
			mcp.WithDescription("List OpenProject notifications from the last synchronization, newest first."),
			mcp.WithBoolean("unread_only",
				mcp.Description("Only list unread notifications"),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of notifications to return (default: 20)"),
			),
		),
		handlers.ListNotifications(deps.Inbox),
	)

	// mark_notification_read: local flip plus background read_ian call
	s.AddTool(
		mcp.NewTool("mark_notification_read",
			mcp.WithDescription("Mark a notification as read. The unread count updates immediately; OpenProject is told in the background."),
			mcp.WithNumber("id",
				mcp.Required(),
				mcp.Description("Notification ID as shown by list_notifications"),
			),
		),
		handlers.MarkNotificationRead(deps.Inbox),
	)

	// sync_now: one cycle outside the timer cadence
	s.AddTool(
		mcp.NewTool("sync_now",
			mcp.WithDescription("Refresh the session if needed and poll OpenProject notifications now."),
		),
		handlers.SyncNow(deps.Sync, deps.Inbox),
	)

	// session_status: auth state and scheduler mode
	s.AddTool(
		mcp.NewTool("session_status",
			mcp.WithDescription("Show the OpenProject session state, token expiry and synchronization status."),
		),
		handlers.SessionStatus(deps.Session, deps.Sync),
	)

	// recent_events: persisted event trail
	s.AddTool(
		mcp.NewTool("recent_events",
			mcp.WithDescription("List recent synchronization events (unread changes, alerts, session and sync failures)."),
			mcp.WithString("type",
				mcp.Description("Filter by event type"),
				mcp.Enum("all", notify.UnreadChanged, notify.AlertScheduled, notify.SessionEnded, notify.SyncFailed),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of events to return (default: 20)"),
			),
			mcp.WithString("since",
				mcp.Description("RFC 3339 datetime, only events at or after this time"),
			),
		),
		handlers.RecentEvents(deps.Events),
	)
}
