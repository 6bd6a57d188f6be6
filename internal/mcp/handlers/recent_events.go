package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/btouchard/beacon/internal/notify"
	"github.com/btouchard/beacon/internal/store"
)

const (
	defaultEventLimit = 20
	maxEventLimit     = 500
)

// RecentEvents returns a handler that lists the persisted event trail.
func RecentEvents(events EventLister) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		f := store.EventFilter{
			Limit: intArg(args, "limit", defaultEventLimit, maxEventLimit),
		}
		if typ, _ := args["type"].(string); typ != "" && typ != "all" {
			f.Type = typ
		}
		if since, _ := args["since"].(string); since != "" {
			t, err := time.Parse(time.RFC3339, since)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("invalid since: %s", err)), nil
			}
			f.Since = t
		}

		list, err := events.GetEvents(ctx, f)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to read events: %s", err)), nil
		}
		if len(list) == 0 {
			return mcp.NewToolResultText("No events recorded."), nil
		}

		var b strings.Builder
		for _, e := range list {
			fmt.Fprintf(&b, "%s %s", e.CreatedAt.Format(time.RFC3339), e.Type)
			if e.NotificationID != 0 {
				fmt.Fprintf(&b, " #%d", e.NotificationID)
			}
			if e.Type == notify.UnreadChanged {
				fmt.Fprintf(&b, " unread=%d", e.UnreadCount)
			}
			if e.Message != "" {
				fmt.Fprintf(&b, " %s", e.Message)
			}
			b.WriteString("\n")
		}
		return mcp.NewToolResultText(b.String()), nil
	}
}
