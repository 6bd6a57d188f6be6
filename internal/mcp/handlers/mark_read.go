package handlers

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// MarkNotificationRead returns a handler that marks one notification as read.
// The server call happens in the background; the local state changes at once.
func MarkNotificationRead(inbox Inbox) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		raw, ok := args["id"].(float64)
		if !ok || raw <= 0 || raw != float64(int64(raw)) {
			return mcp.NewToolResultError("id must be a positive integer"), nil
		}
		id := int64(raw)

		if !inbox.MarkRead(ctx, id) {
			return mcp.NewToolResultText(fmt.Sprintf("Notification #%d is unknown or already read.", id)), nil
		}

		snap := inbox.Snapshot()
		return mcp.NewToolResultText(fmt.Sprintf("Marked #%d as read. Unread: %d", id, snap.UnreadCount)), nil
	}
}
