package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/btouchard/beacon/internal/auth"
	"github.com/btouchard/beacon/internal/scheduler"
)

// SyncNow returns a handler that runs one synchronization cycle immediately.
func SyncNow(syncer Syncer, inbox Inbox) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		err := syncer.RunNow(ctx)
		switch {
		case errors.Is(err, auth.ErrNoSession):
			return mcp.NewToolResultError("Not signed in to OpenProject. Run `beacon login` first."), nil
		case errors.Is(err, auth.ErrUnauthorized):
			return mcp.NewToolResultError("OpenProject rejected the session. Run `beacon login` again."), nil
		case errors.Is(err, scheduler.ErrStopped):
			return mcp.NewToolResultError("Synchronization is shutting down."), nil
		case err != nil:
			return mcp.NewToolResultError(fmt.Sprintf("Sync failed: %s", err)), nil
		}

		snap := inbox.Snapshot()
		return mcp.NewToolResultText(fmt.Sprintf("Synchronized %d notifications, %d unread.", len(snap.Records), snap.UnreadCount)), nil
	}
}
