package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/influencer/pkg/schema"
)

func newTestStore(t *testing.T) *LibSQLStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	s, err := NewLibSQLStore("file:" + dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() {
		_ = s.Close()
		_ = os.RemoveAll(dir)
	})
	return s
}

func seedRun(t *testing.T, s *LibSQLStore) *Run {
	t.Helper()
	r := &Run{
		ID:         uuid.New().String(),
		WorkflowID: "ai-influencer-workflow",
		ResourceID: "user-1",
		ThreadID:   "thread-" + uuid.New().String(),
		Status:     schema.RunStatusRunning,
		Input:      map[string]any{"query": "open source AI"},
	}
	require.NoError(t, s.CreateRun(context.Background(), r))
	return r
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	var se *schema.Error
	require.True(t, errors.As(err, &se), "expected *schema.Error, got %T", err)
	assert.Equal(t, code, se.Code)
}

// --- Runs ---

func TestCreateAndGetRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := seedRun(t, s)

	got, err := s.GetRun(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)
	assert.Equal(t, "ai-influencer-workflow", got.WorkflowID)
	assert.Equal(t, "user-1", got.ResourceID)
	assert.Equal(t, r.ThreadID, got.ThreadID)
	assert.Equal(t, schema.RunStatusRunning, got.Status)
	assert.Equal(t, "open source AI", got.Input["query"])
	assert.Nil(t, got.Snapshot)
	assert.Nil(t, got.StartedAt)
}

func TestGetRun_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetRun(context.Background(), "nonexistent")
	requireCode(t, err, schema.ErrCodeNotFound)
}

func TestUpdateRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := seedRun(t, s)

	status := schema.RunStatusSuspended
	step := "hitl-search-checkpoint"
	now := time.Now().UTC()
	require.NoError(t, s.UpdateRun(ctx, r.ID, RunUpdate{
		Status:      &status,
		CurrentStep: &step,
		Snapshot:    json.RawMessage(`{"cursor":1}`),
		StartedAt:   &now,
	}))

	got, err := s.GetRun(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusSuspended, got.Status)
	assert.Equal(t, step, got.CurrentStep)
	assert.JSONEq(t, `{"cursor":1}`, string(got.Snapshot))
	require.NotNil(t, got.StartedAt)
}

func TestUpdateRun_EmptyIsNoop(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.UpdateRun(context.Background(), "missing", RunUpdate{}))
}

func TestUpdateRun_NotFound(t *testing.T) {
	s := newTestStore(t)
	status := schema.RunStatusFailed
	err := s.UpdateRun(context.Background(), "missing", RunUpdate{Status: &status})
	requireCode(t, err, schema.ErrCodeNotFound)
}

func TestListRuns_Filters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r1 := seedRun(t, s)
	r2 := seedRun(t, s)
	_ = seedRun(t, s)

	suspended := schema.RunStatusSuspended
	require.NoError(t, s.UpdateRun(ctx, r1.ID, RunUpdate{Status: &suspended}))
	require.NoError(t, s.UpdateRun(ctx, r2.ID, RunUpdate{Status: &suspended}))

	all, err := s.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	onlySuspended, err := s.ListRuns(ctx, RunFilter{Status: &suspended})
	require.NoError(t, err)
	assert.Len(t, onlySuspended, 2)

	limited, err := s.ListRuns(ctx, RunFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	none, err := s.ListRuns(ctx, RunFilter{ResourceID: "someone-else"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

// --- Step state ---

func TestUpsertStepState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := seedRun(t, s)

	now := time.Now().UTC()
	ss := &StepState{
		RunID:     r.ID,
		StepID:    "discovery-step",
		Status:    schema.StepStatusRunning,
		Input:     json.RawMessage(`{"query":"AI"}`),
		StartedAt: &now,
	}
	require.NoError(t, s.UpsertStepState(ctx, ss))

	ss.Status = schema.StepStatusCompleted
	ss.Output = json.RawMessage(`{"agentResponse":"ok"}`)
	ss.Iteration = 2
	require.NoError(t, s.UpsertStepState(ctx, ss))

	got, err := s.GetStepState(ctx, r.ID, "discovery-step")
	require.NoError(t, err)
	assert.Equal(t, schema.StepStatusCompleted, got.Status)
	assert.Equal(t, 2, got.Iteration)
	assert.JSONEq(t, `{"agentResponse":"ok"}`, string(got.Output))

	list, err := s.ListStepStates(ctx, r.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = s.GetStepState(ctx, r.ID, "missing")
	requireCode(t, err, schema.ErrCodeNotFound)
}

// --- Suspensions ---

func TestSuspension_OpenAndResume(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := seedRun(t, s)

	sp := &Suspension{
		ID:      uuid.New().String(),
		RunID:   r.ID,
		StepID:  "hitl-search-checkpoint",
		Payload: json.RawMessage(`{"suspendResponse":"Please review the search results: x"}`),
	}
	require.NoError(t, s.CreateSuspension(ctx, sp))
	assert.Equal(t, SuspensionOpen, sp.Status)

	open, err := s.GetOpenSuspension(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, sp.ID, open.ID)
	assert.Equal(t, "hitl-search-checkpoint", open.StepID)
	assert.JSONEq(t, string(sp.Payload), string(open.Payload))

	require.NoError(t, s.CloseSuspension(ctx, sp.ID, SuspensionClose{
		Status:     SuspensionResumed,
		ResumeData: json.RawMessage(`{"userInput":""}`),
	}))

	_, err = s.GetOpenSuspension(ctx, r.ID)
	requireCode(t, err, schema.ErrCodeNotFound)

	all, err := s.ListSuspensions(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, SuspensionResumed, all[0].Status)
	assert.JSONEq(t, `{"userInput":""}`, string(all[0].ResumeData))
	assert.NotNil(t, all[0].ClosedAt)
}

func TestSuspension_OnlyOneOpenPerRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := seedRun(t, s)

	first := &Suspension{ID: uuid.New().String(), RunID: r.ID, StepID: "a", Payload: json.RawMessage(`{}`)}
	require.NoError(t, s.CreateSuspension(ctx, first))

	second := &Suspension{ID: uuid.New().String(), RunID: r.ID, StepID: "b", Payload: json.RawMessage(`{}`)}
	requireCode(t, s.CreateSuspension(ctx, second), schema.ErrCodeConflict)

	require.NoError(t, s.CloseSuspension(ctx, first.ID, SuspensionClose{Status: SuspensionResumed}))
	require.NoError(t, s.CreateSuspension(ctx, second), "closing the first frees the slot")
}

func TestCloseSuspension_Twice(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := seedRun(t, s)

	sp := &Suspension{ID: uuid.New().String(), RunID: r.ID, StepID: "a"}
	require.NoError(t, s.CreateSuspension(ctx, sp))
	require.NoError(t, s.CloseSuspension(ctx, sp.ID, SuspensionClose{Status: SuspensionCancelled}))

	requireCode(t, s.CloseSuspension(ctx, sp.ID, SuspensionClose{Status: SuspensionResumed}), schema.ErrCodeConflict)
	requireCode(t, s.CloseSuspension(ctx, "missing", SuspensionClose{Status: SuspensionResumed}), schema.ErrCodeNotFound)
	requireCode(t, s.CloseSuspension(ctx, sp.ID, SuspensionClose{Status: SuspensionOpen}), schema.ErrCodeValidation)
}

// --- Approvals ---

func TestApproval_Lifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := &Approval{
		ID:         uuid.New().String(),
		ThreadID:   "thread-1",
		ToolCallID: "call_1",
		ToolName:   "create_tweet",
		Arguments:  json.RawMessage(`{"text":"hello"}`),
	}
	require.NoError(t, s.CreateApproval(ctx, a))

	pending := schema.ApprovalPending
	list, err := s.ListApprovals(ctx, ApprovalFilter{ThreadID: "thread-1", Status: &pending})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "create_tweet", list[0].ToolName)

	require.NoError(t, s.DecideApproval(ctx, a.ID, ApprovalDecision{
		Status:    schema.ApprovalApproved,
		DecidedBy: "cli",
		Result:    json.RawMessage(`{"id":"1","text":"hello"}`),
	}))

	got, err := s.GetApproval(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.ApprovalApproved, got.Status)
	assert.Equal(t, "cli", got.DecidedBy)
	assert.NotNil(t, got.DecidedAt)
	assert.JSONEq(t, `{"id":"1","text":"hello"}`, string(got.Result))

	list, err = s.ListApprovals(ctx, ApprovalFilter{ThreadID: "thread-1", Status: &pending})
	require.NoError(t, err)
	assert.Empty(t, list)

	err = s.DecideApproval(ctx, a.ID, ApprovalDecision{Status: schema.ApprovalDeclined})
	requireCode(t, err, schema.ErrCodeConflict)
}

func TestDecideApproval_Invalid(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	requireCode(t, s.DecideApproval(ctx, "x", ApprovalDecision{Status: schema.ApprovalPending}), schema.ErrCodeValidation)
	requireCode(t, s.DecideApproval(ctx, "x", ApprovalDecision{Status: schema.ApprovalDeclined}), schema.ErrCodeNotFound)
}

// --- Messages ---

func TestMessages_WindowIsChronological(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, content := range []string{"one", "two", "three", "four"} {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		m := &Message{ThreadID: "t1", ResourceID: "r1", Role: role, Content: content}
		require.NoError(t, s.AppendMessage(ctx, m))
		assert.NotZero(t, m.ID)
	}
	require.NoError(t, s.AppendMessage(ctx, &Message{ThreadID: "t2", Role: "user", Content: "other"}))

	last, err := s.ListMessages(ctx, MessageFilter{ThreadID: "t1", Limit: 2})
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, "three", last[0].Content)
	assert.Equal(t, "four", last[1].Content)

	all, err := s.ListMessages(ctx, MessageFilter{ThreadID: "t1"})
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestMessages_ToolCallsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	calls := json.RawMessage(`[{"id":"call_1","name":"fetch_tweets","arguments":{"query":"AI"}}]`)
	require.NoError(t, s.AppendMessage(ctx, &Message{ThreadID: "t1", Role: "assistant", ToolCalls: calls}))
	require.NoError(t, s.AppendMessage(ctx, &Message{
		ThreadID: "t1", Role: "tool", ToolName: "fetch_tweets", ToolCallID: "call_1", Content: `{"tweets":[]}`,
	}))

	msgs, err := s.ListMessages(ctx, MessageFilter{ThreadID: "t1"})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.JSONEq(t, string(calls), string(msgs[0].ToolCalls))
	assert.Empty(t, msgs[0].Content)
	assert.Equal(t, "fetch_tweets", msgs[1].ToolName)
	assert.Equal(t, "call_1", msgs[1].ToolCallID)
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, s.Vacuum(context.Background()))
}

func TestSplitStatements(t *testing.T) {
	script := "-- header; with semicolon\nCREATE TABLE a (x INT);\n\n-- note\nCREATE INDEX i ON a(x);\n"
	stmts := splitStatements(script)
	require.Len(t, stmts, 2)
	assert.Equal(t, "CREATE TABLE a (x INT)", stmts[0])
	assert.Equal(t, "CREATE INDEX i ON a(x)", stmts[1])
}

func TestLoadMigrations_Ordered(t *testing.T) {
	ms, err := loadMigrations()
	require.NoError(t, err)
	require.NotEmpty(t, ms)
	assert.Equal(t, 1, ms[0].Version)
	assert.Equal(t, "initial_schema", ms[0].Name)
}
