package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/influencer/internal/engine"
	"github.com/rendis/influencer/internal/influencer"
	"github.com/rendis/influencer/internal/logging"
)

// handleAPITool runs a registry tool. Validation and backend failures are
// returned as tool errors with the registry's message unmodified.
func (s *InfluencerServer) handleAPITool(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		if args == nil {
			args = map[string]any{}
		}
		out, err := s.registry.Call(ctx, name, args)
		if err != nil {
			logging.LogWith(ctx, s.logger).Warn("tool call failed", "tool", name, "error", err)
			return mcp.NewToolResultError(err.Error()), nil
		}
		return marshalResult(out)
	}
}

// handleRun starts the review workflow for a query.
func (s *InfluencerServer) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError("query is required"), nil
	}
	resourceID := req.GetString("resource_id", s.resourceID)
	threadID := req.GetString("thread_id", "")
	if threadID == "" {
		threadID = "thread-" + uuid.NewString()
	}

	result, runErr := s.executor.Start(ctx, influencer.WorkflowID, engine.StartRequest{
		Input:      influencer.Input(query, resourceID, threadID),
		ResourceID: resourceID,
		ThreadID:   threadID,
	})
	if runErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("workflow start failed: %v", runErr)), nil
	}
	s.captureSession(ctx, result.RunID)
	return marshalResult(result)
}

// handleResume answers the open checkpoint of a suspended run.
func (s *InfluencerServer) handleResume(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}
	stepID := req.GetString("step_id", "")
	if stepID == "" {
		view, statusErr := s.executor.Status(ctx, runID)
		if statusErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("status query failed: %v", statusErr)), nil
		}
		if view.Suspension == nil {
			return mcp.NewToolResultError(fmt.Sprintf("run %s is %s, not waiting for review", runID, view.Run.Status)), nil
		}
		stepID = view.Suspension.StepID
	}

	s.captureSession(ctx, runID)
	data := map[string]any{"userInput": req.GetString("user_input", "")}
	result, resumeErr := s.executor.Resume(ctx, runID, stepID, data)
	if resumeErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("resume failed: %v", resumeErr)), nil
	}
	return marshalResult(result)
}

// handleStatus returns the current state of a run.
func (s *InfluencerServer) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}

	view, statusErr := s.executor.Status(ctx, runID)
	if statusErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status query failed: %v", statusErr)), nil
	}
	return marshalResult(view)
}

// captureSession maps the run to the calling MCP session for notifications.
func (s *InfluencerServer) captureSession(ctx context.Context, runID string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Register(runID, session.SessionID())
	}
}

// marshalResult converts a value to a JSON tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
