package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/btouchard/beacon/internal/auth"
)

// SessionStatus returns a handler that reports the session and scheduler state.
func SessionStatus(session SessionInfo, syncer Syncer) server.ToolHandlerFunc {
	return sessionStatus(session, syncer, time.Now)
}

func sessionStatus(session SessionInfo, syncer Syncer, now func() time.Time) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var b strings.Builder

		state := session.State()
		fmt.Fprintf(&b, "Session: %s\n", state)
		if s := session.Current(); s != nil && state != auth.StateUnauthenticated {
			remaining := s.ExpiresAt.Sub(now()).Truncate(time.Second)
			if remaining > 0 {
				fmt.Fprintf(&b, "Access token expires in %s\n", remaining)
			} else {
				fmt.Fprintf(&b, "Access token expired %s ago\n", -remaining)
			}
			fmt.Fprintf(&b, "Refreshable: %t\n", s.CanRefresh())
		}

		st := syncer.Status()
		fmt.Fprintf(&b, "Mode: %s\n", st.Mode)
		fmt.Fprintf(&b, "Cycles: %d\n", st.Cycles)
		if !st.LastCycle.IsZero() {
			fmt.Fprintf(&b, "Last cycle: %s\n", st.LastCycle.Format(time.RFC3339))
		}
		if st.LastError != "" {
			fmt.Fprintf(&b, "Last error: %s\n", st.LastError)
		}

		return mcp.NewToolResultText(b.String()), nil
	}
}
