package store

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/influencer/pkg/schema"
)

func newTestEventLog(t *testing.T) (*EventLog, *LibSQLStore) {
	t.Helper()
	s := newTestStore(t)
	return NewEventLog(s), s
}

func TestEventLog_AppendEvent_MonotonicSequence(t *testing.T) {
	el, s := newTestEventLog(t)
	ctx := context.Background()
	run := seedRun(t, s)

	for i := 0; i < 5; i++ {
		e := &Event{RunID: run.ID, StepID: "discovery-step", Type: schema.EventStepStarted}
		require.NoError(t, el.AppendEvent(ctx, e))
		assert.Equal(t, int64(i+1), e.Sequence, "sequence should be monotonic")
		assert.False(t, e.Timestamp.IsZero())
	}
}

func TestEventLog_ReplayEvents_CheckpointLifecycle(t *testing.T) {
	el, s := newTestEventLog(t)
	ctx := context.Background()
	run := seedRun(t, s)

	const ckpt = "hitl-search-checkpoint"
	sequence := []struct {
		stepID, typ, payload string
	}{
		{"discovery-step", schema.EventStepStarted, ""},
		{"discovery-step", schema.EventStepCompleted, `{"agentResponse":"found"}`},
		{ckpt, schema.EventStepStarted, ""},
		{ckpt, schema.EventStepSuspended, `{"suspendResponse":"Please review the search results: found"}`},
		{ckpt, schema.EventStepResumed, `{"userInput":"more AI"}`},
		{ckpt, schema.EventStepCompleted, `{"approved":false}`},
		{ckpt, schema.EventLoopIterStarted, ""},
		{ckpt, schema.EventStepStarted, ""},
		{ckpt, schema.EventStepSuspended, `{"suspendResponse":"again"}`},
	}
	for _, ev := range sequence {
		e := &Event{RunID: run.ID, StepID: ev.stepID, Type: ev.typ}
		if ev.payload != "" {
			e.Payload = json.RawMessage(ev.payload)
		}
		require.NoError(t, el.AppendEvent(ctx, e))
	}
	require.NoError(t, el.AppendEvent(ctx, &Event{RunID: run.ID, Type: schema.EventRunSuspended}))

	states, err := el.ReplayEvents(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, states, 2, "run-level events carry no step")

	disc := states["discovery-step"]
	assert.Equal(t, schema.StepStatusCompleted, disc.Status)
	assert.JSONEq(t, `{"agentResponse":"found"}`, string(disc.Output))
	assert.NotNil(t, disc.CompletedAt)

	cp := states[ckpt]
	assert.Equal(t, schema.StepStatusSuspended, cp.Status)
	assert.Equal(t, 1, cp.Iteration)
	assert.Nil(t, cp.Output)
	assert.Nil(t, cp.CompletedAt, "re-entry clears completion")
}

func TestEventLog_ReplayEvents_FailedAndSkipped(t *testing.T) {
	el, s := newTestEventLog(t)
	ctx := context.Background()
	run := seedRun(t, s)

	require.NoError(t, el.AppendEvent(ctx, &Event{RunID: run.ID, StepID: "a", Type: schema.EventStepStarted}))
	require.NoError(t, el.AppendEvent(ctx, &Event{RunID: run.ID, StepID: "a", Type: schema.EventStepFailed,
		Payload: json.RawMessage(`{"code":"STEP_FAILED"}`)}))
	require.NoError(t, el.AppendEvent(ctx, &Event{RunID: run.ID, StepID: "b", Type: schema.EventStepSkipped}))

	states, err := el.ReplayEvents(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.StepStatusFailed, states["a"].Status)
	assert.JSONEq(t, `{"code":"STEP_FAILED"}`, string(states["a"].Error))
	assert.Equal(t, schema.StepStatusSkipped, states["b"].Status)
}

func TestEventLog_ReplayEvents_EmptyRun(t *testing.T) {
	el, s := newTestEventLog(t)
	run := seedRun(t, s)

	states, err := el.ReplayEvents(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Empty(t, states)
}

func TestEventLog_ReplayEvents_SequenceGap(t *testing.T) {
	el, s := newTestEventLog(t)
	ctx := context.Background()
	run := seedRun(t, s)

	db := s.DB()
	_, err := db.ExecContext(ctx,
		`INSERT INTO events (run_id, step_id, event_type, timestamp, sequence) VALUES (?, 's1', 'step_started', CURRENT_TIMESTAMP, 1)`,
		run.ID)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx,
		`INSERT INTO events (run_id, step_id, event_type, timestamp, sequence) VALUES (?, 's1', 'step_completed', CURRENT_TIMESTAMP, 3)`,
		run.ID)
	require.NoError(t, err)

	_, err = el.ReplayEvents(ctx, run.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sequence gap")
}

func TestEventLog_ConcurrentAppend_DifferentRuns(t *testing.T) {
	el, s := newTestEventLog(t)
	ctx := context.Background()

	var runs []*Run
	for i := 0; i < 5; i++ {
		runs = append(runs, seedRun(t, s))
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 50)

	for _, run := range runs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				e := &Event{RunID: run.ID, StepID: "s1", Type: schema.EventStepStarted}
				if err := el.AppendEvent(ctx, e); err != nil {
					errCh <- err
					return
				}
			}
		}()
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Errorf("concurrent append error: %v", err)
	}

	for _, run := range runs {
		events, err := el.GetEvents(ctx, run.ID, 0)
		require.NoError(t, err)
		assert.Len(t, events, 10)
		for i, e := range events {
			assert.Equal(t, int64(i+1), e.Sequence)
		}
	}
}

func TestEventLog_RunScopedSequences(t *testing.T) {
	el, s := newTestEventLog(t)
	ctx := context.Background()

	r1 := seedRun(t, s)
	r2 := seedRun(t, s)

	require.NoError(t, el.AppendEvent(ctx, &Event{RunID: r1.ID, StepID: "s1", Type: schema.EventStepStarted}))
	require.NoError(t, el.AppendEvent(ctx, &Event{RunID: r1.ID, StepID: "s1", Type: schema.EventStepCompleted}))

	e := &Event{RunID: r2.ID, StepID: "s1", Type: schema.EventStepStarted}
	require.NoError(t, el.AppendEvent(ctx, e))
	assert.Equal(t, int64(1), e.Sequence, "second run should have its own sequence starting at 1")
}
