package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/influencer/internal/agent"
	"github.com/rendis/influencer/internal/engine"
	"github.com/rendis/influencer/internal/influencer"
	"github.com/rendis/influencer/internal/store"
	"github.com/rendis/influencer/internal/streaming"
	"github.com/rendis/influencer/internal/tools"
	"github.com/rendis/influencer/internal/validation"
	"github.com/rendis/influencer/internal/xapi/mock"
)

var testNow = time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry(validation.NewJSONSchemaValidator())
	client := mock.New(mock.WithSeed(5), mock.WithClock(func() time.Time { return testNow }), mock.WithLogger(quiet()))
	require.NoError(t, tools.RegisterBuiltins(reg, client, quiet()))
	return reg
}

type testEnv struct {
	server   *InfluencerServer
	executor *engine.Executor
	hub      *streaming.MemoryHub
}

// newWorkflowEnv wires the full stack with the offline model.
func newWorkflowEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "mcp.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	hub := streaming.NewMemoryHub()
	reg := newRegistry(t)
	ag := agent.New(agent.OfflineModel{}, reg, st, agent.Config{Hub: hub, Logger: quiet()})
	exec := engine.NewExecutor(st, store.NewEventLog(st), engine.ExecutorConfig{Hub: hub, Logger: quiet()})
	wf, err := influencer.New(ag)
	require.NoError(t, err)
	require.NoError(t, exec.Register(wf))

	srv := NewInfluencerServer(ServerDeps{Registry: reg, Executor: exec, Logger: quiet(), Version: "test"})
	return &testEnv{server: srv, executor: exec, hub: hub}
}

func rpc(t *testing.T, s *InfluencerServer, id int, method string, params map[string]any) []byte {
	t.Helper()
	ctx := context.Background()
	initMsg, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0", "id": 0, "method": "initialize",
		"params": map[string]any{
			"protocolVersion": "2025-03-26",
			"capabilities":    map[string]any{},
			"clientInfo":      map[string]any{"name": "test", "version": "1.0.0"},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, s.MCPServer().HandleMessage(ctx, initMsg))

	msg, err := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": id, "method": method, "params": params})
	require.NoError(t, err)
	resp := s.MCPServer().HandleMessage(ctx, msg)
	require.NotNil(t, resp)
	out, err := json.Marshal(resp)
	require.NoError(t, err)
	return out
}

// callTool invokes a tool through a full JSON-RPC round-trip.
func callTool(t *testing.T, s *InfluencerServer, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	raw := rpc(t, s, 1, "tools/call", map[string]any{"name": name, "arguments": args})

	var rpcResp struct {
		Result *mcp.CallToolResult `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(raw, &rpcResp))
	if rpcResp.Error != nil {
		t.Fatalf("JSON-RPC error: code=%d, msg=%s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	require.NotNil(t, rpcResp.Result)
	return rpcResp.Result
}

func extractText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	return mcp.GetTextFromContent(result.Content[0])
}

func extractJSON(t *testing.T, result *mcp.CallToolResult, target any) {
	t.Helper()
	require.False(t, result.IsError, extractText(t, result))
	require.NoError(t, json.Unmarshal([]byte(extractText(t, result)), target))
}

func TestNewInfluencerServer_Defaults(t *testing.T) {
	s := NewInfluencerServer(ServerDeps{})
	require.NotNil(t, s)
	assert.NotNil(t, s.mcpServer)
	assert.NotNil(t, s.logger)
	assert.NotNil(t, s.Sessions())
	assert.Equal(t, "user-123", s.resourceID)
	assert.Empty(t, s.mcpServer.ListTools())
}

func TestToolRegistration_APIOnly(t *testing.T) {
	s := NewInfluencerServer(ServerDeps{Registry: newRegistry(t)})

	tools := s.mcpServer.ListTools()
	require.Len(t, tools, 4)
	for _, name := range []string{"fetch_tweets", "read_tweet", "create_tweet", "repost_tweet"} {
		assert.NotNil(t, s.mcpServer.GetTool(name), "tool %s should be registered", name)
	}
	assert.Nil(t, s.mcpServer.GetTool("influencer.run"))
}

func TestToolRegistration_WithWorkflow(t *testing.T) {
	env := newWorkflowEnv(t)

	raw := rpc(t, env.server, 1, "tools/list", map[string]any{})
	var rpcResp struct {
		Result struct {
			Tools []struct {
				Name        string         `json:"name"`
				InputSchema map[string]any `json:"inputSchema"`
				Annotations struct {
					ReadOnlyHint    *bool `json:"readOnlyHint"`
					DestructiveHint *bool `json:"destructiveHint"`
				} `json:"annotations"`
			} `json:"tools"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(raw, &rpcResp))

	byName := map[string]int{}
	for i, tool := range rpcResp.Result.Tools {
		byName[tool.Name] = i
	}
	assert.Len(t, byName, 7)
	for _, name := range []string{"influencer.run", "influencer.resume", "influencer.status"} {
		assert.Contains(t, byName, name)
	}

	fetch := rpcResp.Result.Tools[byName["fetch_tweets"]]
	assert.Equal(t, "object", fetch.InputSchema["type"])
	assert.Contains(t, fetch.InputSchema["properties"], "maxResults")
	require.NotNil(t, fetch.Annotations.ReadOnlyHint)
	assert.True(t, *fetch.Annotations.ReadOnlyHint)

	create := rpcResp.Result.Tools[byName["create_tweet"]]
	require.NotNil(t, create.Annotations.DestructiveHint)
	assert.True(t, *create.Annotations.DestructiveHint)
}
