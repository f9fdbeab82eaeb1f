package engine

import (
	"context"
	"encoding/json"
	"log/slog"
)

// StepSchemas are the JSON Schemas guarding a step's boundaries.
// An empty schema disables validation for that boundary.
type StepSchemas struct {
	Input   json.RawMessage `json:"input,omitempty"`
	Output  json.RawMessage `json:"output,omitempty"`
	Suspend json.RawMessage `json:"suspend,omitempty"`
	Resume  json.RawMessage `json:"resume,omitempty"`
}

// Step is one node of a workflow.
type Step interface {
	ID() string
	Schemas() StepSchemas
	Execute(ctx context.Context, sc *StepContext) (StepResult, error)
}

// StepContext carries everything a step invocation needs.
type StepContext struct {
	RunID      string
	WorkflowID string
	StepID     string
	Iteration  int
	Input      map[string]any

	// ResumeData is nil on a first invocation and non-nil when the step
	// is re-entered through Resume.
	ResumeData map[string]any

	Logger *slog.Logger
}

// Resumed reports whether this invocation carries resume data.
func (sc *StepContext) Resumed() bool {
	return sc.ResumeData != nil
}

// Suspend builds a result that stops the run until Resume targets this step.
func (sc *StepContext) Suspend(payload map[string]any) StepResult {
	return Suspended(payload)
}

type resultKind uint8

const (
	kindOutput resultKind = iota
	kindSuspended
)

// StepResult is either an output or a suspension. The zero value is an
// empty output.
type StepResult struct {
	kind resultKind
	data map[string]any
}

// Output wraps a completed step's output.
func Output(out map[string]any) StepResult {
	return StepResult{kind: kindOutput, data: out}
}

// Suspended wraps a suspend payload shown to the human.
func Suspended(payload map[string]any) StepResult {
	return StepResult{kind: kindSuspended, data: payload}
}

// IsSuspended reports whether the step asked to suspend.
func (r StepResult) IsSuspended() bool { return r.kind == kindSuspended }

// Output returns the step output, or nil for a suspension.
func (r StepResult) Output() map[string]any {
	if r.kind != kindOutput {
		return nil
	}
	if r.data == nil {
		return map[string]any{}
	}
	return r.data
}

// SuspendPayload returns the suspend payload, or nil for an output.
func (r StepResult) SuspendPayload() map[string]any {
	if r.kind != kindSuspended {
		return nil
	}
	if r.data == nil {
		return map[string]any{}
	}
	return r.data
}

// StepFunc is the body of a function step.
type StepFunc func(ctx context.Context, sc *StepContext) (StepResult, error)

// StepConfig describes a function step for NewStep.
type StepConfig struct {
	ID      string
	Schemas StepSchemas
	Execute StepFunc
}

type funcStep struct {
	cfg StepConfig
}

// NewStep adapts a StepConfig to the Step interface.
func NewStep(cfg StepConfig) Step {
	return &funcStep{cfg: cfg}
}

func (s *funcStep) ID() string           { return s.cfg.ID }
func (s *funcStep) Schemas() StepSchemas { return s.cfg.Schemas }

func (s *funcStep) Execute(ctx context.Context, sc *StepContext) (StepResult, error) {
	return s.cfg.Execute(ctx, sc)
}
