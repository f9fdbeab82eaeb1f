package engine

import (
	"context"
	"encoding/json"
	"slices"

	"github.com/rendis/influencer/internal/store"
	"github.com/rendis/influencer/pkg/schema"
)

// EventAppender is satisfied by the Store and EventLog; FSMs emit an event
// for every accepted transition.
type EventAppender interface {
	AppendEvent(ctx context.Context, event *store.Event) error
}

// ValidRunTransitions defines the allowed state transitions for runs.
var ValidRunTransitions = map[schema.RunStatus][]schema.RunStatus{
	schema.RunStatusPending:   {schema.RunStatusRunning, schema.RunStatusCancelled},
	schema.RunStatusRunning:   {schema.RunStatusSuspended, schema.RunStatusSuccess, schema.RunStatusFailed},
	schema.RunStatusSuspended: {schema.RunStatusRunning, schema.RunStatusCancelled, schema.RunStatusFailed},
	schema.RunStatusSuccess:   {},
	schema.RunStatusFailed:    {},
	schema.RunStatusCancelled: {},
}

// ValidStepTransitions defines the allowed state transitions for steps.
// completed -> running is loop re-entry.
var ValidStepTransitions = map[schema.StepStatus][]schema.StepStatus{
	schema.StepStatusPending:   {schema.StepStatusRunning, schema.StepStatusSkipped},
	schema.StepStatusRunning:   {schema.StepStatusCompleted, schema.StepStatusSuspended, schema.StepStatusFailed},
	schema.StepStatusSuspended: {schema.StepStatusRunning, schema.StepStatusSkipped, schema.StepStatusFailed},
	schema.StepStatusCompleted: {schema.StepStatusRunning},
	schema.StepStatusFailed:    {},
	schema.StepStatusSkipped:   {},
}

// RunFSM validates run lifecycle transitions and records them.
// The caller persists the new status on the run record.
type RunFSM struct {
	appender EventAppender
}

// NewRunFSM creates a RunFSM that emits events via the given appender.
func NewRunFSM(appender EventAppender) *RunFSM {
	return &RunFSM{appender: appender}
}

// Transition validates from -> to and appends the matching run event.
func (f *RunFSM) Transition(ctx context.Context, runID string, from, to schema.RunStatus, payload any) error {
	if !slices.Contains(ValidRunTransitions[from], to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid run transition: %s -> %s", from, to).
			WithDetails(map[string]any{"run_id": runID, "from": string(from), "to": string(to)})
	}

	raw, err := marshalPayload(payload)
	if err != nil {
		return err
	}
	event := &store.Event{RunID: runID, Type: runEventType(from, to), Payload: raw}
	if err := f.appender.AppendEvent(ctx, event); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "emit run event: %s", err.Error()).WithCause(err)
	}
	return nil
}

func runEventType(from, to schema.RunStatus) string {
	switch to {
	case schema.RunStatusRunning:
		if from == schema.RunStatusSuspended {
			return schema.EventRunResumed
		}
		return schema.EventRunStarted
	case schema.RunStatusSuspended:
		return schema.EventRunSuspended
	case schema.RunStatusSuccess:
		return schema.EventRunCompleted
	case schema.RunStatusFailed:
		return schema.EventRunFailed
	default:
		return schema.EventRunCancelled
	}
}

// StepFSM validates step lifecycle transitions and records them.
type StepFSM struct {
	appender EventAppender
}

// NewStepFSM creates a StepFSM that emits events via the given appender.
func NewStepFSM(appender EventAppender) *StepFSM {
	return &StepFSM{appender: appender}
}

// Transition validates from -> to and appends the matching step event.
// The payload becomes the event payload (output, suspend payload, or error).
func (f *StepFSM) Transition(ctx context.Context, runID, stepID string, from, to schema.StepStatus, payload any) error {
	if !slices.Contains(ValidStepTransitions[from], to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid step transition: %s -> %s", from, to).
			WithStep(stepID).
			WithDetails(map[string]any{"run_id": runID, "from": string(from), "to": string(to)})
	}

	raw, err := marshalPayload(payload)
	if err != nil {
		return err
	}
	event := &store.Event{RunID: runID, StepID: stepID, Type: stepEventType(from, to), Payload: raw}
	if err := f.appender.AppendEvent(ctx, event); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "emit step event: %s", err.Error()).
			WithStep(stepID).WithCause(err)
	}
	return nil
}

func stepEventType(from, to schema.StepStatus) string {
	switch to {
	case schema.StepStatusRunning:
		if from == schema.StepStatusSuspended {
			return schema.EventStepResumed
		}
		return schema.EventStepStarted
	case schema.StepStatusCompleted:
		return schema.EventStepCompleted
	case schema.StepStatusSuspended:
		return schema.EventStepSuspended
	case schema.StepStatusFailed:
		return schema.EventStepFailed
	default:
		return schema.EventStepSkipped
	}
}

// CanSkip reports whether a step in status s is still open and may be
// skipped by a cancel cascade.
func CanSkip(s schema.StepStatus) bool {
	return slices.Contains(ValidStepTransitions[s], schema.StepStatusSkipped)
}

func marshalPayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "marshal event payload").WithCause(err)
	}
	return raw, nil
}
