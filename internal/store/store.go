package store

import "context"

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	UpdateRun(ctx context.Context, id string, update RunUpdate) error
	ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error)

	// Event Sourcing (append-only)
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, runID string, since int64) ([]*Event, error)
	GetEventsByType(ctx context.Context, eventType string, filter EventFilter) ([]*Event, error)

	// Step State (materialized view)
	UpsertStepState(ctx context.Context, state *StepState) error
	GetStepState(ctx context.Context, runID, stepID string) (*StepState, error)
	ListStepStates(ctx context.Context, runID string) ([]*StepState, error)

	// Suspensions
	CreateSuspension(ctx context.Context, s *Suspension) error
	GetOpenSuspension(ctx context.Context, runID string) (*Suspension, error)
	CloseSuspension(ctx context.Context, id string, close SuspensionClose) error
	ListSuspensions(ctx context.Context, runID string) ([]*Suspension, error)

	// Approvals
	CreateApproval(ctx context.Context, a *Approval) error
	GetApproval(ctx context.Context, id string) (*Approval, error)
	DecideApproval(ctx context.Context, id string, decision ApprovalDecision) error
	ListApprovals(ctx context.Context, filter ApprovalFilter) ([]*Approval, error)

	// Thread memory
	AppendMessage(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, filter MessageFilter) ([]*Message, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
