package agent

import (
	"context"
	"encoding/json"
	"slices"

	"github.com/rendis/influencer/internal/store"
	"github.com/rendis/influencer/pkg/schema"
)

// DefaultMemoryWindow is how many stored messages are recalled per turn.
const DefaultMemoryWindow = 40

// Memory scopes a conversation: Thread holds the messages, Resource owns the thread.
type Memory struct {
	Thread   string `json:"thread"`
	Resource string `json:"resource,omitempty"`
}

// MessageStore persists conversation threads.
type MessageStore interface {
	AppendMessage(ctx context.Context, msg *store.Message) error
	ListMessages(ctx context.Context, filter store.MessageFilter) ([]*store.Message, error)
}

// threadMemory loads and saves thread history, hiding noisy tool traffic on recall.
type threadMemory struct {
	store   MessageStore
	window  int
	exclude []string
}

func (m *threadMemory) recall(ctx context.Context, mem Memory) ([]Message, error) {
	rows, err := m.store.ListMessages(ctx, store.MessageFilter{
		ThreadID:   mem.Thread,
		ResourceID: mem.Resource,
		Limit:      m.window,
	})
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "load thread %q", mem.Thread).WithCause(err)
	}
	msgs := make([]Message, 0, len(rows))
	for _, r := range rows {
		msg := Message{
			Role:       r.Role,
			Content:    r.Content,
			ToolCallID: r.ToolCallID,
			ToolName:   r.ToolName,
		}
		if len(r.ToolCalls) > 0 {
			if err := json.Unmarshal(r.ToolCalls, &msg.ToolCalls); err != nil {
				return nil, schema.NewErrorf(schema.ErrCodeStore, "decode tool calls of message %d", r.ID).WithCause(err)
			}
		}
		msgs = append(msgs, msg)
	}
	return FilterToolCalls(msgs, m.exclude...), nil
}

func (m *threadMemory) save(ctx context.Context, mem Memory, msg Message) error {
	row := &store.Message{
		ThreadID:   mem.Thread,
		ResourceID: mem.Resource,
		Role:       msg.Role,
		Content:    msg.Content,
		ToolName:   msg.ToolName,
		ToolCallID: msg.ToolCallID,
	}
	if len(msg.ToolCalls) > 0 {
		raw, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return schema.NewError(schema.ErrCodeExecution, "encode tool calls").WithCause(err)
		}
		row.ToolCalls = raw
	}
	if err := m.store.AppendMessage(ctx, row); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "save message to thread %q", mem.Thread).WithCause(err)
	}
	return nil
}

// FilterToolCalls removes calls to the named tools and their results from history.
// Assistant turns left with neither text nor calls are dropped, as are tool
// results whose call is no longer present (the window may cut a call off).
func FilterToolCalls(msgs []Message, exclude ...string) []Message {
	known := make(map[string]bool)
	out := make([]Message, 0, len(msgs))
	for _, msg := range msgs {
		switch msg.Role {
		case RoleAssistant:
			if len(msg.ToolCalls) > 0 {
				kept := make([]ToolCall, 0, len(msg.ToolCalls))
				for _, c := range msg.ToolCalls {
					if slices.Contains(exclude, c.Name) {
						continue
					}
					kept = append(kept, c)
					known[c.ID] = true
				}
				msg.ToolCalls = kept
				if len(kept) == 0 {
					msg.ToolCalls = nil
					if msg.Content == "" {
						continue
					}
				}
			}
		case RoleTool:
			if slices.Contains(exclude, msg.ToolName) || !known[msg.ToolCallID] {
				continue
			}
		}
		out = append(out, msg)
	}
	return out
}
