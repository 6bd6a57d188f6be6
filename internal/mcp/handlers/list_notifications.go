package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/btouchard/beacon/internal/notification"
)

const (
	defaultListLimit = 20
	maxListLimit     = 200
)

// ListNotifications returns a handler that lists the last synchronized
// notifications, newest first.
func ListNotifications(inbox Inbox) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		unreadOnly, _ := args["unread_only"].(bool)
		limit := intArg(args, "limit", defaultListLimit, maxListLimit)

		snap := inbox.Snapshot()
		if snap.FetchedAt.IsZero() {
			return mcp.NewToolResultText("No notifications synchronized yet. Use sync_now to fetch them."), nil
		}

		var b strings.Builder
		fmt.Fprintf(&b, "Unread: %d of %d (synced %s)\n", snap.UnreadCount, len(snap.Records), snap.FetchedAt.Format(time.RFC3339))

		shown := 0
		for i := len(snap.Records) - 1; i >= 0 && shown < limit; i-- {
			r := snap.Records[i]
			if unreadOnly && r.Read {
				continue
			}
			if shown == 0 {
				b.WriteString("\n")
			}
			b.WriteString(formatRecord(r))
			b.WriteString("\n")
			shown++
		}

		if shown == 0 {
			if unreadOnly {
				b.WriteString("\nNothing unread.")
			} else {
				b.WriteString("\nInbox is empty.")
			}
		}

		return mcp.NewToolResultText(b.String()), nil
	}
}

func formatRecord(r notification.Record) string {
	state := "unread"
	if r.Read {
		state = "read"
	}

	line := fmt.Sprintf("- #%d [%s] %s", r.ID, state, r.Reason)
	if r.Message != "" {
		line += ": " + r.Message
	}
	if res := r.Resource; res != nil {
		switch {
		case res.Name != "":
			line += fmt.Sprintf(" (%s %s: %s)", res.Type, res.ID, res.Name)
		case res.ID != "":
			line += fmt.Sprintf(" (%s %s)", res.Type, res.ID)
		}
	}
	return line
}

// intArg reads a positive numeric argument, clamped to ceiling.
func intArg(args map[string]any, key string, def, ceiling int) int {
	n, ok := args[key].(float64)
	if !ok || n <= 0 {
		return def
	}
	if int(n) > ceiling {
		return ceiling
	}
	return int(n)
}
