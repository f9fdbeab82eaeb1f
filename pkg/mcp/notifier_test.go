package mcp

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/influencer/internal/streaming"
	"github.com/rendis/influencer/pkg/schema"
)

// testNotifier captures notifications for testing.
type testNotifier struct {
	mu      sync.Mutex
	entries []map[string]any
}

func (n *testNotifier) Notify(_ context.Context, runID string, payload map[string]any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.entries = append(n.entries, payload)
	return nil
}

func (n *testNotifier) list() []map[string]any {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]map[string]any(nil), n.entries...)
}

func startForward(t *testing.T, hub streaming.EventHub, n RunNotifier) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, Forward(ctx, hub, n, quiet()))
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestForward_RelaysRunEvents(t *testing.T) {
	hub := streaming.NewMemoryHub()
	n := &testNotifier{}
	startForward(t, hub, n)
	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	ctx := context.Background()
	require.NoError(t, hub.Publish(ctx, streaming.StreamEvent{RunID: "run-1", StepID: "hitl-search-checkpoint", EventType: schema.EventRunSuspended, Payload: map[string]any{"step_id": "hitl-search-checkpoint"}}))
	require.NoError(t, hub.Publish(ctx, streaming.StreamEvent{RunID: "run-1", EventType: schema.EventStepStarted}))
	require.NoError(t, hub.Publish(ctx, streaming.StreamEvent{EventType: schema.EventApprovalRequested}))
	require.NoError(t, hub.Publish(ctx, streaming.StreamEvent{RunID: "run-1", EventType: schema.EventRunCompleted}))

	require.Eventually(t, func() bool { return len(n.list()) == 2 }, time.Second, 5*time.Millisecond)
	got := n.list()
	assert.Equal(t, "run-1", got[0]["run_id"])
	assert.Equal(t, schema.EventRunSuspended, got[0]["event"])
	assert.Equal(t, "hitl-search-checkpoint", got[0]["step_id"])
	assert.NotNil(t, got[0]["payload"])
	assert.Equal(t, schema.EventRunCompleted, got[1]["event"])
	_, hasPayload := got[1]["payload"]
	assert.False(t, hasPayload)
}

func TestMCPNotifier_NoSession(t *testing.T) {
	s := NewInfluencerServer(ServerDeps{Logger: quiet()})
	n := NewMCPNotifier(s.MCPServer(), s.Sessions())

	assert.NoError(t, n.Notify(context.Background(), "run-1", map[string]any{"event": schema.EventRunSuspended}))
}

func TestMCPNotifier_StaleSessionIsDropped(t *testing.T) {
	s := NewInfluencerServer(ServerDeps{Logger: quiet()})
	s.Sessions().Register("run-1", "gone")
	s.Sessions().Register("run-2", "gone")
	n := NewMCPNotifier(s.MCPServer(), s.Sessions())

	require.NoError(t, n.Notify(context.Background(), "run-1", map[string]any{"event": schema.EventRunSuspended}))
	assert.Equal(t, 0, s.Sessions().Len())
}
