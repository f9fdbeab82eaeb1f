package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/influencer/internal/engine"
	"github.com/rendis/influencer/internal/tools"
)

// ServerName is reported to MCP clients during initialization.
const ServerName = "mocked-x-mcp-server"

// ServerDeps holds the dependencies for creating an InfluencerServer.
// Executor is optional: without it only the posting-API tools are served.
type ServerDeps struct {
	Registry   *tools.Registry
	Executor   *engine.Executor
	Sessions   *SessionRegistry
	ResourceID string
	Version    string
	Logger     *slog.Logger
}

// InfluencerServer wraps an MCP server exposing the posting-API tools and,
// when an executor is wired, the review workflow.
type InfluencerServer struct {
	registry   *tools.Registry
	executor   *engine.Executor
	sessions   *SessionRegistry
	resourceID string
	logger     *slog.Logger
	mcpServer  *server.MCPServer
}

// NewInfluencerServer creates a server with every registry tool registered.
func NewInfluencerServer(deps ServerDeps) *InfluencerServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	sessions := deps.Sessions
	if sessions == nil {
		sessions = NewSessionRegistry()
	}
	resourceID := deps.ResourceID
	if resourceID == "" {
		resourceID = "user-123"
	}

	s := &InfluencerServer{
		registry:   deps.Registry,
		executor:   deps.Executor,
		sessions:   sessions,
		resourceID: resourceID,
		logger:     logger,
	}

	mcpSrv := server.NewMCPServer(
		ServerName,
		version,
		server.WithToolCapabilities(false),
		server.WithLogging(),
		server.WithRecovery(),
		server.WithInstructions("Mocked X API. fetch_tweets and read_tweet are read-only. create_tweet and repost_tweet publish content: get a human approval before calling them. influencer.run starts the review workflow, influencer.resume answers its checkpoints and influencer.status inspects a run."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *InfluencerServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *InfluencerServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// Sessions returns the run-to-session mapping used for notifications.
func (s *InfluencerServer) Sessions() *SessionRegistry {
	return s.sessions
}

func (s *InfluencerServer) tools() []server.ServerTool {
	var out []server.ServerTool
	if s.registry != nil {
		for _, t := range s.registry.Tools() {
			out = append(out, server.ServerTool{Tool: apiTool(t), Handler: s.handleAPITool(t.Name())})
		}
	}
	if s.executor != nil {
		out = append(out,
			server.ServerTool{Tool: runTool(), Handler: s.handleRun},
			server.ServerTool{Tool: resumeTool(), Handler: s.handleResume},
			server.ServerTool{Tool: statusTool(), Handler: s.handleStatus},
		)
	}
	return out
}

// --- Tool definitions ---

// apiTool publishes a registry tool with its own JSON Schema.
func apiTool(t tools.Tool) mcp.Tool {
	sch := t.Schema()
	tool := mcp.NewToolWithRawSchema(t.Name(), sch.Description, sch.InputSchema)
	publishes := tools.NeedsApproval(t)
	tool.Annotations = mcp.ToolAnnotation{
		ReadOnlyHint:    mcp.ToBoolPtr(!publishes),
		DestructiveHint: mcp.ToBoolPtr(publishes),
		OpenWorldHint:   mcp.ToBoolPtr(true),
	}
	return tool
}

func runTool() mcp.Tool {
	return mcp.NewTool("influencer.run",
		mcp.WithDescription("Start the discovery and drafting workflow; it suspends at the first review checkpoint"),
		mcp.WithString("query", mcp.Required(), mcp.Description("Topic or request for the discovery step")),
		mcp.WithString("resource_id", mcp.Description("Owner of the conversation memory (default: server resource)")),
		mcp.WithString("thread_id", mcp.Description("Conversation thread (default: a new thread)")),
	)
}

func resumeTool() mcp.Tool {
	return mcp.NewTool("influencer.resume",
		mcp.WithDescription("Answer the open review checkpoint of a suspended run. Empty user_input approves"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the suspended run")),
		mcp.WithString("step_id", mcp.Description("Checkpoint step (default: the open one)")),
		mcp.WithString("user_input", mcp.Description("Feedback to refine with; empty approves")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("influencer.status",
		mcp.WithDescription("Get run status, step states, the open checkpoint and the event history"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run to query")),
	)
}
