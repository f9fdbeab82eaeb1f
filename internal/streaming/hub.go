// Package streaming fans run and approval events out to live subscribers.
package streaming

import (
	"context"
	"time"
)

// StreamEvent is published as runs advance and posts wait for approval.
// Agent events carry the conversation thread; engine events carry the run.
type StreamEvent struct {
	RunID     string    `json:"run_id,omitempty"`
	StepID    string    `json:"step_id,omitempty"`
	ThreadID  string    `json:"thread_id,omitempty"`
	EventType string    `json:"event_type"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventFilter narrows a subscription. Empty fields match everything.
type EventFilter struct {
	RunID      string   `json:"run_id,omitempty"`
	ThreadID   string   `json:"thread_id,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

func (f EventFilter) matches(e StreamEvent) bool {
	if f.RunID != "" && f.RunID != e.RunID {
		return false
	}
	if f.ThreadID != "" && f.ThreadID != e.ThreadID {
		return false
	}
	if len(f.EventTypes) == 0 {
		return true
	}
	for _, t := range f.EventTypes {
		if t == e.EventType {
			return true
		}
	}
	return false
}

// EventHub is the publish side used by the engine and the agent, and the
// subscribe side used by notifiers.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}

// Nop is an EventHub that drops everything.
type Nop struct{}

func (Nop) Publish(ctx context.Context, _ StreamEvent) error { return ctx.Err() }

func (Nop) Subscribe(ctx context.Context, _ EventFilter) (<-chan StreamEvent, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	ch := make(chan StreamEvent)
	close(ch)
	return ch, func() {}, nil
}
