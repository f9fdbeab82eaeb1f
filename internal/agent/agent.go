package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/influencer/internal/logging"
	"github.com/rendis/influencer/internal/store"
	"github.com/rendis/influencer/internal/streaming"
	"github.com/rendis/influencer/internal/tools"
	"github.com/rendis/influencer/pkg/schema"
)

// DefaultMaxSteps bounds the model turns of a single generation.
const DefaultMaxSteps = 8

// supersededReason is recorded when a new prompt arrives while posts are still pending.
const supersededReason = "superseded by a new message"

// Store is the persistence the agent needs: thread memory and approvals.
type Store interface {
	MessageStore
	CreateApproval(ctx context.Context, a *store.Approval) error
	GetApproval(ctx context.Context, id string) (*store.Approval, error)
	DecideApproval(ctx context.Context, id string, decision store.ApprovalDecision) error
	ListApprovals(ctx context.Context, filter store.ApprovalFilter) ([]*store.Approval, error)
}

// Config tunes an Agent. Zero values pick the defaults.
type Config struct {
	Model        string
	Instructions string
	MaxSteps     int
	MemoryWindow int
	// ExcludeFromMemory lists tools whose calls are hidden from recalled history.
	ExcludeFromMemory []string
	Hub               streaming.EventHub
	Logger            *slog.Logger
}

// ToolResult is the outcome of one executed tool call.
type ToolResult struct {
	CallID string         `json:"call_id"`
	Name   string         `json:"name"`
	Args   map[string]any `json:"args,omitempty"`
	Result map[string]any `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// Response is what a generation produced.
type Response struct {
	Text        string            `json:"text"`
	ToolResults []ToolResult      `json:"tool_results,omitempty"`
	Pending     []*store.Approval `json:"pending,omitempty"`
	Steps       int               `json:"steps"`
}

// Agent drives a Model over the tool registry, keeping per-thread memory
// and holding posting calls until a human decides on them.
type Agent struct {
	model  Model
	tools  *tools.Registry
	store  Store
	memory *threadMemory
	hub    streaming.EventHub
	logger *slog.Logger
	cfg    Config
}

// New creates an Agent.
func New(model Model, registry *tools.Registry, st Store, cfg Config) *Agent {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Instructions == "" {
		cfg.Instructions = SystemPrompt
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	if cfg.MemoryWindow <= 0 {
		cfg.MemoryWindow = DefaultMemoryWindow
	}
	if cfg.ExcludeFromMemory == nil {
		cfg.ExcludeFromMemory = []string{"fetch_tweets", "read_tweet"}
	}
	hub := cfg.Hub
	if hub == nil {
		hub = streaming.Nop{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		model: model,
		tools: registry,
		store: st,
		memory: &threadMemory{
			store:   st,
			window:  cfg.MemoryWindow,
			exclude: cfg.ExcludeFromMemory,
		},
		hub:    hub,
		logger: logger.With("agent", Name),
		cfg:    cfg,
	}
}

// Generate answers prompt within the given thread.
// Pending posts left in the thread are declined first so the history stays consistent.
func (a *Agent) Generate(ctx context.Context, prompt string, mem Memory) (*Response, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "prompt is empty")
	}
	if mem.Thread == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "thread is required")
	}
	ctx = logging.WithMemory(ctx, mem.Thread, mem.Resource)

	stale, err := a.Pending(ctx, mem.Thread)
	if err != nil {
		return nil, err
	}
	for _, ap := range stale {
		if _, err := a.decline(ctx, ap, supersededReason); err != nil {
			return nil, err
		}
	}

	history, err := a.memory.recall(ctx, mem)
	if err != nil {
		return nil, err
	}
	user := Message{Role: RoleUser, Content: prompt}
	if err := a.memory.save(ctx, mem, user); err != nil {
		return nil, err
	}
	return a.run(ctx, mem, append(history, user))
}

// ApproveToolCall executes a held posting call and, once no other call of the
// thread is pending, lets the model continue from the result.
func (a *Agent) ApproveToolCall(ctx context.Context, approvalID string) (*Response, error) {
	ap, err := a.pendingApproval(ctx, approvalID)
	if err != nil {
		return nil, err
	}
	mem := Memory{Thread: ap.ThreadID, Resource: ap.ResourceID}
	ctx = logging.WithMemory(ctx, mem.Thread, mem.Resource)

	if err := a.store.DecideApproval(ctx, ap.ID, store.ApprovalDecision{
		Status:    schema.ApprovalApproved,
		DecidedBy: ap.ResourceID,
	}); err != nil {
		return nil, err
	}
	a.publish(ctx, schema.EventApprovalDecided, map[string]any{"approval_id": ap.ID, "status": schema.ApprovalApproved})

	var args map[string]any
	if err := json.Unmarshal(ap.Arguments, &args); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "decode arguments of approval %q", ap.ID).WithCause(err)
	}
	res, msg := a.invoke(ctx, ToolCall{ID: ap.ToolCallID, Name: ap.ToolName, Arguments: args})
	if err := a.memory.save(ctx, mem, msg); err != nil {
		return nil, err
	}
	logging.LogWith(ctx, a.logger).Info("approved tool call executed",
		"approval_id", ap.ID, "tool", ap.ToolName, "failed", res.Error != "")

	remaining, err := a.Pending(ctx, mem.Thread)
	if err != nil {
		return nil, err
	}
	if len(remaining) > 0 {
		return &Response{ToolResults: []ToolResult{res}, Pending: remaining}, nil
	}

	history, err := a.memory.recall(ctx, mem)
	if err != nil {
		return nil, err
	}
	resp, err := a.run(ctx, mem, history)
	if err != nil {
		return nil, err
	}
	resp.ToolResults = append([]ToolResult{res}, resp.ToolResults...)
	return resp, nil
}

// DeclineToolCall records that a held posting call will not run.
// The decline becomes the call's result; the model is not invoked again.
func (a *Agent) DeclineToolCall(ctx context.Context, approvalID, reason string) (*Response, error) {
	ap, err := a.pendingApproval(ctx, approvalID)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithMemory(ctx, ap.ThreadID, ap.ResourceID)

	res, err := a.decline(ctx, ap, reason)
	if err != nil {
		return nil, err
	}
	remaining, err := a.Pending(ctx, ap.ThreadID)
	if err != nil {
		return nil, err
	}
	return &Response{ToolResults: []ToolResult{res}, Pending: remaining}, nil
}

// Pending lists undecided approvals of a thread, oldest first.
func (a *Agent) Pending(ctx context.Context, threadID string) ([]*store.Approval, error) {
	status := schema.ApprovalPending
	list, err := a.store.ListApprovals(ctx, store.ApprovalFilter{ThreadID: threadID, Status: &status})
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "list pending approvals").WithCause(err)
	}
	return list, nil
}

// Tools returns the tool specs advertised to the model.
func (a *Agent) Tools() []ToolSpec {
	all := a.tools.Tools()
	specs := make([]ToolSpec, 0, len(all))
	for _, t := range all {
		s := t.Schema()
		specs = append(specs, ToolSpec{Name: t.Name(), Description: s.Description, Parameters: s.InputSchema})
	}
	return specs
}

// run performs model turns until the model answers without tool calls,
// a posting call needs approval, or MaxSteps is exhausted.
func (a *Agent) run(ctx context.Context, mem Memory, msgs []Message) (*Response, error) {
	log := logging.LogWith(ctx, a.logger)
	resp := &Response{}
	specs := a.Tools()

	for resp.Steps < a.cfg.MaxSteps {
		resp.Steps++

		req := &CompletionRequest{
			Model:    a.cfg.Model,
			Messages: append([]Message{{Role: RoleSystem, Content: a.cfg.Instructions}}, msgs...),
			Tools:    specs,
		}
		start := time.Now()
		comp, err := a.model.Complete(ctx, req)
		if err != nil {
			return nil, schema.NewError(schema.ErrCodeExecution, "model completion failed").WithCause(err)
		}
		log.Debug("model turn", "step", resp.Steps, "tool_calls", len(comp.Message.ToolCalls),
			"duration", time.Since(start), "finish_reason", comp.FinishReason)

		reply := comp.Message
		reply.Role = RoleAssistant
		for i := range reply.ToolCalls {
			if reply.ToolCalls[i].ID == "" {
				reply.ToolCalls[i].ID = "call_" + uuid.NewString()
			}
		}
		if err := a.memory.save(ctx, mem, reply); err != nil {
			return nil, err
		}
		msgs = append(msgs, reply)

		if len(reply.ToolCalls) == 0 {
			resp.Text = reply.Content
			return resp, nil
		}

		for _, call := range reply.ToolCalls {
			if t, err := a.tools.Get(call.Name); err == nil && tools.NeedsApproval(t) {
				ap, err := a.requestApproval(ctx, mem, call)
				if err != nil {
					return nil, err
				}
				resp.Pending = append(resp.Pending, ap)
				continue
			}
			res, msg := a.invoke(ctx, call)
			if err := a.memory.save(ctx, mem, msg); err != nil {
				return nil, err
			}
			msgs = append(msgs, msg)
			resp.ToolResults = append(resp.ToolResults, res)
		}

		if len(resp.Pending) > 0 {
			resp.Text = reply.Content
			return resp, nil
		}
	}
	return nil, schema.NewErrorf(schema.ErrCodeExecution, "agent did not finish within %d steps", a.cfg.MaxSteps).
		WithDetails(map[string]any{"max_steps": a.cfg.MaxSteps})
}

// invoke runs a tool call. Tool failures are reported to the model, not to the caller.
func (a *Agent) invoke(ctx context.Context, call ToolCall) (ToolResult, Message) {
	res := ToolResult{CallID: call.ID, Name: call.Name, Args: call.Arguments}
	var body any
	out, err := a.tools.Call(ctx, call.Name, call.Arguments)
	if err != nil {
		logging.LogWith(ctx, a.logger).Warn("tool call failed", "tool", call.Name, "error", err)
		res.Error = err.Error()
		body = map[string]any{"error": res.Error}
	} else {
		res.Result = out
		body = out
	}
	return res, Message{Role: RoleTool, ToolCallID: call.ID, ToolName: call.Name, Content: encode(body)}
}

func (a *Agent) requestApproval(ctx context.Context, mem Memory, call ToolCall) (*store.Approval, error) {
	args, err := json.Marshal(call.Arguments)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "encode arguments of %s", call.Name).WithCause(err)
	}
	ap := &store.Approval{
		ID:         uuid.NewString(),
		ThreadID:   mem.Thread,
		ResourceID: mem.Resource,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Arguments:  args,
		Status:     schema.ApprovalPending,
		CreatedAt:  time.Now().UTC(),
	}
	if err := a.store.CreateApproval(ctx, ap); err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "create approval").WithCause(err)
	}
	logging.LogWith(ctx, a.logger).Info("tool call awaits approval", "approval_id", ap.ID, "tool", call.Name)
	a.publish(ctx, schema.EventApprovalRequested, ap)
	return ap, nil
}

func (a *Agent) decline(ctx context.Context, ap *store.Approval, reason string) (ToolResult, error) {
	body := map[string]any{"declined": true}
	if reason != "" {
		body["reason"] = reason
	}
	result := encode(body)
	if err := a.store.DecideApproval(ctx, ap.ID, store.ApprovalDecision{
		Status:    schema.ApprovalDeclined,
		Reason:    reason,
		DecidedBy: ap.ResourceID,
		Result:    json.RawMessage(result),
	}); err != nil {
		return ToolResult{}, err
	}
	a.publish(ctx, schema.EventApprovalDecided, map[string]any{"approval_id": ap.ID, "status": schema.ApprovalDeclined})

	mem := Memory{Thread: ap.ThreadID, Resource: ap.ResourceID}
	msg := Message{Role: RoleTool, ToolCallID: ap.ToolCallID, ToolName: ap.ToolName, Content: result}
	if err := a.memory.save(ctx, mem, msg); err != nil {
		return ToolResult{}, err
	}
	logging.LogWith(ctx, a.logger).Info("tool call declined", "approval_id", ap.ID, "tool", ap.ToolName, "reason", reason)

	var args map[string]any
	if err := json.Unmarshal(ap.Arguments, &args); err != nil {
		logging.LogWith(ctx, a.logger).Warn("decode arguments of declined approval", "approval_id", ap.ID, "error", err)
	}
	return ToolResult{CallID: ap.ToolCallID, Name: ap.ToolName, Args: args, Error: "declined by user"}, nil
}

func (a *Agent) pendingApproval(ctx context.Context, id string) (*store.Approval, error) {
	ap, err := a.store.GetApproval(ctx, id)
	if err != nil {
		return nil, err
	}
	if ap.Status != schema.ApprovalPending {
		return nil, schema.NewErrorf(schema.ErrCodeConflict, "approval %q is already %s", id, ap.Status)
	}
	return ap, nil
}

func (a *Agent) publish(ctx context.Context, eventType string, payload any) {
	_ = a.hub.Publish(context.WithoutCancel(ctx), streaming.StreamEvent{
		RunID:     logging.RunID(ctx),
		StepID:    logging.StepID(ctx),
		ThreadID:  logging.ThreadID(ctx),
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	})
}

func encode(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return `{"error":"unencodable result"}`
	}
	return string(b)
}
