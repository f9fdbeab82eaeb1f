package store

import (
	"context"
	"fmt"

	"github.com/rendis/influencer/pkg/schema"
)

// EventLog is the append-only history of a run. Step states shown by
// status queries are folded from it rather than read from step_states, so
// a checkpoint's review rounds are visible even after the run moved on.
type EventLog struct {
	store *LibSQLStore
}

// NewEventLog wraps s.
func NewEventLog(s *LibSQLStore) *EventLog {
	return &EventLog{store: s}
}

// AppendEvent appends under the write lock; sequences are dense per run.
func (el *EventLog) AppendEvent(ctx context.Context, event *Event) error {
	return el.store.appendEvent(ctx, event, true)
}

// GetEvents returns events for a run with sequence > since, oldest first.
func (el *EventLog) GetEvents(ctx context.Context, runID string, since int64) ([]*Event, error) {
	return el.store.GetEvents(ctx, runID, since)
}

// ReplayEvents folds every event of a run into step states.
func (el *EventLog) ReplayEvents(ctx context.Context, runID string) (map[string]*StepState, error) {
	events, err := el.store.GetEvents(ctx, runID, 0)
	if err != nil {
		return nil, fmt.Errorf("get events for replay: %w", err)
	}
	return ReplayStepStates(runID, events)
}

// ReplayStepStates folds an ordered event stream into per-step states.
// A gap in the sequence means the history is incomplete and is an error.
func ReplayStepStates(runID string, events []*Event) (map[string]*StepState, error) {
	states := make(map[string]*StepState)
	for i, e := range events {
		if want := int64(i + 1); e.Sequence != want {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in run %s: expected %d, got %d", runID, want, e.Sequence)
		}
		if e.StepID == "" {
			continue
		}
		ss, ok := states[e.StepID]
		if !ok {
			ss = &StepState{RunID: runID, StepID: e.StepID, Status: schema.StepStatusPending}
			states[e.StepID] = ss
		}
		applyStepEvent(ss, e)
	}
	return states, nil
}

func applyStepEvent(ss *StepState, e *Event) {
	ts := e.Timestamp
	switch e.Type {
	case schema.EventStepStarted:
		ss.Status = schema.StepStatusRunning
		ss.StartedAt = &ts
		ss.CompletedAt = nil
		ss.Error = nil
	case schema.EventLoopIterStarted:
		// A review round was answered with feedback; the checkpoint runs again.
		ss.Iteration++
	case schema.EventStepSuspended:
		ss.Status = schema.StepStatusSuspended
		ss.Output = nil
	case schema.EventStepResumed:
		ss.Status = schema.StepStatusRunning
	case schema.EventStepCompleted:
		ss.Status = schema.StepStatusCompleted
		ss.CompletedAt = &ts
		ss.Output = e.Payload
		if ss.StartedAt != nil {
			ss.DurationMs = ts.Sub(*ss.StartedAt).Milliseconds()
		}
	case schema.EventStepFailed:
		ss.Status = schema.StepStatusFailed
		ss.CompletedAt = &ts
		ss.Error = e.Payload
	case schema.EventStepSkipped:
		ss.Status = schema.StepStatusSkipped
	}
}
