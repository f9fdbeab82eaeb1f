package mcp

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/influencer/internal/streaming"
	"github.com/rendis/influencer/pkg/schema"
)

// notifiedEvents are the run events worth pushing to a waiting client.
var notifiedEvents = []string{
	schema.EventRunSuspended,
	schema.EventRunCompleted,
	schema.EventRunFailed,
	schema.EventRunCancelled,
	schema.EventApprovalRequested,
}

func isTerminal(eventType string) bool {
	switch eventType {
	case schema.EventRunCompleted, schema.EventRunFailed, schema.EventRunCancelled:
		return true
	}
	return false
}

// RunNotifier pushes run notifications to whoever is watching the run.
type RunNotifier interface {
	Notify(ctx context.Context, runID string, payload map[string]any) error
}

// MCPNotifier implements RunNotifier with MCP log message notifications.
type MCPNotifier struct {
	mcpServer *server.MCPServer
	sessions  *SessionRegistry
}

// NewMCPNotifier creates a notifier that pushes to the session owning a run.
func NewMCPNotifier(mcpServer *server.MCPServer, sessions *SessionRegistry) *MCPNotifier {
	return &MCPNotifier{mcpServer: mcpServer, sessions: sessions}
}

// Notify sends payload to the run's session.
// Best-effort: returns nil if no session is watching the run.
func (n *MCPNotifier) Notify(_ context.Context, runID string, payload map[string]any) error {
	sessionID, ok := n.sessions.SessionFor(runID)
	if !ok {
		return nil
	}
	if event, _ := payload["event"].(string); isTerminal(event) {
		defer n.sessions.Forget(runID)
	}
	err := n.mcpServer.SendNotificationToSpecificClient(sessionID, "notifications/message", map[string]any{
		"level":  "info",
		"logger": ServerName,
		"data":   payload,
	})
	if errors.Is(err, server.ErrSessionNotFound) {
		// Session went away between lookup and send.
		n.sessions.Remove(sessionID)
		return nil
	}
	return err
}

// Forward relays run lifecycle and approval events from hub to n until ctx
// is cancelled. Events without a run ID are dropped.
func Forward(ctx context.Context, hub streaming.EventHub, n RunNotifier, logger *slog.Logger) error {
	ch, cancel, err := hub.Subscribe(ctx, streaming.EventFilter{EventTypes: notifiedEvents})
	if err != nil {
		return err
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if ev.RunID == "" {
				continue
			}
			payload := map[string]any{"run_id": ev.RunID, "event": ev.EventType}
			if ev.StepID != "" {
				payload["step_id"] = ev.StepID
			}
			if ev.ThreadID != "" {
				payload["thread_id"] = ev.ThreadID
			}
			if ev.Payload != nil {
				payload["payload"] = ev.Payload
			}
			if err := n.Notify(ctx, ev.RunID, payload); err != nil {
				logger.Warn("run notification failed", "run_id", ev.RunID, "event", ev.EventType, "error", err)
			}
		}
	}
}
