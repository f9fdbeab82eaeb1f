package store

import (
	"encoding/json"
	"time"

	"github.com/rendis/influencer/pkg/schema"
)

// Run is the persisted representation of a workflow run.
type Run struct {
	ID          string           `json:"id"`
	WorkflowID  string           `json:"workflow_id"`
	ResourceID  string           `json:"resource_id,omitempty"`
	ThreadID    string           `json:"thread_id,omitempty"`
	Status      schema.RunStatus `json:"status"`
	CurrentStep string           `json:"current_step,omitempty"`
	Input       map[string]any   `json:"input,omitempty"`
	Snapshot    json.RawMessage  `json:"snapshot,omitempty"`
	Output      json.RawMessage  `json:"output,omitempty"`
	Error       json.RawMessage  `json:"error,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Event is an immutable entry in the run event log.
type Event struct {
	ID        int64           `json:"id"`
	RunID     string          `json:"run_id"`
	StepID    string          `json:"step_id,omitempty"`
	Type      string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
}

// StepState is the materialized view of a step's current execution state.
type StepState struct {
	RunID       string            `json:"run_id"`
	StepID      string            `json:"step_id"`
	Status      schema.StepStatus `json:"status"`
	Input       json.RawMessage   `json:"input,omitempty"`
	Output      json.RawMessage   `json:"output,omitempty"`
	Error       json.RawMessage   `json:"error,omitempty"`
	Iteration   int               `json:"iteration"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	DurationMs  int64             `json:"duration_ms,omitempty"`
}

// Suspension statuses.
const (
	SuspensionOpen      = "open"
	SuspensionResumed   = "resumed"
	SuspensionCancelled = "cancelled"
)

// Suspension records a step that stopped to wait for external input.
type Suspension struct {
	ID         string          `json:"id"`
	RunID      string          `json:"run_id"`
	StepID     string          `json:"step_id"`
	Iteration  int             `json:"iteration"`
	Payload    json.RawMessage `json:"payload"`
	ResumeData json.RawMessage `json:"resume_data,omitempty"`
	Status     string          `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
	ClosedAt   *time.Time      `json:"closed_at,omitempty"`
}

// SuspensionClose closes an open suspension.
type SuspensionClose struct {
	Status     string          `json:"status"`
	ResumeData json.RawMessage `json:"resume_data,omitempty"`
}

// Approval is a posting tool call awaiting a human decision.
type Approval struct {
	ID         string                `json:"id"`
	ThreadID   string                `json:"thread_id"`
	ResourceID string                `json:"resource_id,omitempty"`
	ToolCallID string                `json:"tool_call_id"`
	ToolName   string                `json:"tool_name"`
	Arguments  json.RawMessage       `json:"arguments"`
	Status     schema.ApprovalStatus `json:"status"`
	Result     json.RawMessage       `json:"result,omitempty"`
	Reason     string                `json:"reason,omitempty"`
	DecidedBy  string                `json:"decided_by,omitempty"`
	DecidedAt  *time.Time            `json:"decided_at,omitempty"`
	CreatedAt  time.Time             `json:"created_at"`
}

// ApprovalDecision resolves a pending approval.
type ApprovalDecision struct {
	Status    schema.ApprovalStatus `json:"status"`
	Reason    string                `json:"reason,omitempty"`
	DecidedBy string                `json:"decided_by,omitempty"`
	Result    json.RawMessage       `json:"result,omitempty"`
}

// Message is one entry of an agent conversation thread.
type Message struct {
	ID         int64           `json:"id"`
	ThreadID   string          `json:"thread_id"`
	ResourceID string          `json:"resource_id,omitempty"`
	Role       string          `json:"role"` // system, user, assistant, tool
	Content    string          `json:"content,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolCalls  json.RawMessage `json:"tool_calls,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// --- Filter and update types ---

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status     *schema.RunStatus `json:"status,omitempty"`
	WorkflowID string            `json:"workflow_id,omitempty"`
	ResourceID string            `json:"resource_id,omitempty"`
	Since      *time.Time        `json:"since,omitempty"`
	Limit      int               `json:"limit,omitempty"`
	Offset     int               `json:"offset,omitempty"`
}

// RunUpdate specifies mutable fields of a run.
type RunUpdate struct {
	Status      *schema.RunStatus `json:"status,omitempty"`
	CurrentStep *string           `json:"current_step,omitempty"`
	Snapshot    json.RawMessage   `json:"snapshot,omitempty"`
	Output      json.RawMessage   `json:"output,omitempty"`
	Error       json.RawMessage   `json:"error,omitempty"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// EventFilter specifies criteria for listing events.
type EventFilter struct {
	RunID  string     `json:"run_id,omitempty"`
	StepID string     `json:"step_id,omitempty"`
	Since  *time.Time `json:"since,omitempty"`
	Limit  int        `json:"limit,omitempty"`
}

// ApprovalFilter specifies criteria for listing approvals.
type ApprovalFilter struct {
	ThreadID string                 `json:"thread_id,omitempty"`
	Status   *schema.ApprovalStatus `json:"status,omitempty"`
	Limit    int                    `json:"limit,omitempty"`
}

// MessageFilter selects the most recent messages of a thread.
type MessageFilter struct {
	ThreadID   string `json:"thread_id"`
	ResourceID string `json:"resource_id,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}
