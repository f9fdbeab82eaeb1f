package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/influencer/internal/logging"
	"github.com/rendis/influencer/internal/store"
	"github.com/rendis/influencer/internal/streaming"
	"github.com/rendis/influencer/internal/validation"
	"github.com/rendis/influencer/pkg/schema"
)

// EventLogger abstracts the event log operations needed by the executor.
// Satisfied by *store.EventLog and test mocks.
type EventLogger interface {
	EventAppender
	GetEvents(ctx context.Context, runID string, since int64) ([]*store.Event, error)
	ReplayEvents(ctx context.Context, runID string) (map[string]*store.StepState, error)
}

// ExecutorConfig holds configuration for the executor.
type ExecutorConfig struct {
	// MaxLoopIterations bounds DoUntil loops that set no bound of their own.
	// 0 means unbounded.
	MaxLoopIterations int
	Validator         validation.Validator
	Hub               streaming.EventHub
	Logger            *slog.Logger
	Now               func() time.Time
}

// StartRequest is the input to Start.
type StartRequest struct {
	Input      map[string]any `json:"input"`
	ResourceID string         `json:"resource_id,omitempty"`
	ThreadID   string         `json:"thread_id,omitempty"`
}

// StepView is the last known state of one step within a run.
type StepView struct {
	Status         schema.StepStatus `json:"status"`
	Iteration      int               `json:"iteration"`
	Output         map[string]any    `json:"output,omitempty"`
	SuspendPayload map[string]any    `json:"suspend_payload,omitempty"`
}

// RunResult is returned by Start and Resume with the run outcome so far.
type RunResult struct {
	RunID          string               `json:"run_id"`
	WorkflowID     string               `json:"workflow_id"`
	Status         schema.RunStatus     `json:"status"`
	Output         map[string]any       `json:"output,omitempty"`
	Error          *schema.Error        `json:"error,omitempty"`
	Suspended      []string             `json:"suspended,omitempty"`
	SuspendPayload map[string]any       `json:"suspend_payload,omitempty"`
	Steps          map[string]*StepView `json:"steps,omitempty"`
}

// RunView is a full snapshot of a run for querying.
type RunView struct {
	Run        *store.Run                  `json:"run"`
	Steps      map[string]*store.StepState `json:"steps,omitempty"`
	Suspension *store.Suspension           `json:"suspension,omitempty"`
	Events     []*store.Event              `json:"events,omitempty"`
}

// snapshot is the resumable position of a run, stored in Run.Snapshot.
type snapshot struct {
	Cursor    int                  `json:"cursor"`
	Iteration int                  `json:"iteration"`
	Input     map[string]any       `json:"input"`
	Steps     map[string]*StepView `json:"steps"`
}

// Executor runs registered workflows, persisting every transition so a
// suspended run can be resumed by any process sharing the store.
type Executor struct {
	store     store.Store
	eventLog  EventLogger
	events    *publishingAppender
	runFSM    *RunFSM
	stepFSM   *StepFSM
	validator validation.Validator
	logger    *slog.Logger
	now       func() time.Time
	maxLoop   int

	mu        sync.Mutex
	workflows map[string]*Workflow
	running   map[string]struct{}
}

// NewExecutor creates an Executor over the given store and event log.
func NewExecutor(s store.Store, el EventLogger, cfg ExecutorConfig) *Executor {
	if cfg.Validator == nil {
		cfg.Validator = validation.NewJSONSchemaValidator()
	}
	if cfg.Hub == nil {
		cfg.Hub = streaming.Nop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	appender := &publishingAppender{inner: el, hub: cfg.Hub}
	return &Executor{
		store:     s,
		eventLog:  el,
		events:    appender,
		runFSM:    NewRunFSM(appender),
		stepFSM:   NewStepFSM(appender),
		validator: cfg.Validator,
		logger:    cfg.Logger,
		now:       cfg.Now,
		maxLoop:   cfg.MaxLoopIterations,
		workflows: make(map[string]*Workflow),
		running:   make(map[string]struct{}),
	}
}

// publishingAppender mirrors every persisted event to the streaming hub.
type publishingAppender struct {
	inner EventAppender
	hub   streaming.EventHub
}

func (a *publishingAppender) AppendEvent(ctx context.Context, event *store.Event) error {
	if err := a.inner.AppendEvent(ctx, event); err != nil {
		return err
	}
	var payload any
	if len(event.Payload) > 0 {
		payload = event.Payload
	}
	// Best effort: subscribers never block or fail a run.
	_ = a.hub.Publish(context.WithoutCancel(ctx), streaming.StreamEvent{
		RunID:     event.RunID,
		StepID:    event.StepID,
		EventType: event.Type,
		Payload:   payload,
		Timestamp: event.Timestamp,
	})
	return nil
}

// Register makes a committed workflow available to Start and Resume.
func (e *Executor) Register(wf *Workflow) error {
	if wf == nil || !wf.committed {
		return schema.NewError(schema.ErrCodeValidation, "workflow must be committed before registering")
	}
	for _, raw := range []json.RawMessage{wf.inputSchema, wf.outputSchema} {
		if err := e.validator.Check(raw); err != nil {
			return schema.NewErrorf(schema.ErrCodeValidation, "workflow %q has an invalid schema", wf.id).WithCause(err)
		}
	}
	for _, n := range wf.nodes {
		s := n.step.Schemas()
		for _, raw := range []json.RawMessage{s.Input, s.Output, s.Suspend, s.Resume} {
			if err := e.validator.Check(raw); err != nil {
				return schema.NewErrorf(schema.ErrCodeValidation, "step %q has an invalid schema", n.step.ID()).
					WithStep(n.step.ID()).WithCause(err)
			}
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.workflows[wf.id]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "workflow %q already registered", wf.id)
	}
	e.workflows[wf.id] = wf
	return nil
}

// Workflow returns a registered workflow.
func (e *Executor) Workflow(id string) (*Workflow, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	wf, ok := e.workflows[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow %q is not registered", id)
	}
	return wf, nil
}

// claim marks a run as executing in this process.
func (e *Executor) claim(runID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.running[runID]; busy {
		return schema.NewErrorf(schema.ErrCodeConflict, "run %s is already executing", runID)
	}
	e.running[runID] = struct{}{}
	return nil
}

func (e *Executor) release(runID string) {
	e.mu.Lock()
	delete(e.running, runID)
	e.mu.Unlock()
}

// Start validates the input, creates a run, and executes it until it
// succeeds, fails, or suspends.
func (e *Executor) Start(ctx context.Context, workflowID string, req StartRequest) (*RunResult, error) {
	wf, err := e.Workflow(workflowID)
	if err != nil {
		return nil, err
	}
	input := req.Input
	if input == nil {
		input = map[string]any{}
	}
	if err := e.validator.Validate(workflowID+" input", input, wf.inputSchema); err != nil {
		return nil, err
	}

	now := e.now().UTC()
	run := &store.Run{
		ID:         uuid.New().String(),
		WorkflowID: workflowID,
		ResourceID: req.ResourceID,
		ThreadID:   req.ThreadID,
		Status:     schema.RunStatusPending,
		Input:      input,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := e.store.CreateRun(ctx, run); err != nil {
		return nil, storeErr("create run", err)
	}
	if err := e.claim(run.ID); err != nil {
		return nil, err
	}
	defer e.release(run.ID)

	ctx = e.runContext(ctx, run)
	e.logger.InfoContext(ctx, "run started", "workflow_id", workflowID)

	if err := e.runFSM.Transition(ctx, run.ID, schema.RunStatusPending, schema.RunStatusRunning, nil); err != nil {
		return nil, err
	}
	status := schema.RunStatusRunning
	if err := e.store.UpdateRun(ctx, run.ID, store.RunUpdate{Status: &status, StartedAt: &now}); err != nil {
		return nil, storeErr("update run status", err)
	}

	snap := &snapshot{Input: input, Steps: make(map[string]*StepView, len(wf.nodes))}
	for _, id := range wf.StepIDs() {
		snap.Steps[id] = &StepView{Status: schema.StepStatusPending}
		if err := e.store.UpsertStepState(ctx, &store.StepState{RunID: run.ID, StepID: id, Status: schema.StepStatusPending}); err != nil {
			return nil, storeErr("init step state "+id, err)
		}
	}

	return e.drive(ctx, wf, run, snap, nil)
}

// Resume re-enters the suspended step of a run with resumeData and
// continues execution. The run must be suspended on stepID.
func (e *Executor) Resume(ctx context.Context, runID, stepID string, resumeData map[string]any) (*RunResult, error) {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	wf, err := e.Workflow(run.WorkflowID)
	if err != nil {
		return nil, err
	}
	if err := e.claim(runID); err != nil {
		return nil, err
	}
	defer e.release(runID)

	// Re-read under the claim: another process may have moved the run.
	if run, err = e.store.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	if run.Status != schema.RunStatusSuspended {
		return nil, schema.NewErrorf(schema.ErrCodeConflict, "cannot resume run %s in status %s", runID, run.Status)
	}
	susp, err := e.store.GetOpenSuspension(ctx, runID)
	if err != nil {
		if schema.HasCode(err, schema.ErrCodeNotFound) {
			return nil, schema.NewErrorf(schema.ErrCodeConflict, "run %s has no open suspension", runID).WithCause(err)
		}
		return nil, err
	}
	if susp.StepID != stepID {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidTarget,
			"step %q is not suspended; run %s is waiting on %q", stepID, runID, susp.StepID).
			WithStep(stepID).
			WithDetails(map[string]any{"run_id": runID, "suspended_step": susp.StepID})
	}

	step, ok := wf.Step(stepID)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidTarget, "workflow %q has no step %q", wf.id, stepID).WithStep(stepID)
	}
	if resumeData == nil {
		resumeData = map[string]any{}
	}
	if err := e.validator.Validate(stepID+" resume data", resumeData, step.Schemas().Resume); err != nil {
		return nil, err
	}

	snap, err := decodeSnapshot(run.Snapshot)
	if err != nil {
		return nil, err
	}
	if snap.Cursor >= len(wf.nodes) || wf.nodes[snap.Cursor].step.ID() != stepID {
		return nil, schema.NewErrorf(schema.ErrCodeConflict,
			"run %s snapshot does not point at step %q", runID, stepID)
	}

	// The run leaves suspended before its suspension closes, so a failed
	// write leaves the run suspended with its suspension still open.
	ctx = e.runContext(ctx, run)
	if err := e.runFSM.Transition(ctx, runID, schema.RunStatusSuspended, schema.RunStatusRunning,
		map[string]any{"step_id": stepID}); err != nil {
		return nil, err
	}
	status := schema.RunStatusRunning
	if err := e.store.UpdateRun(ctx, runID, store.RunUpdate{Status: &status}); err != nil {
		return nil, storeErr("update run status", err)
	}
	rawResume, _ := json.Marshal(resumeData)
	if err := e.store.CloseSuspension(ctx, susp.ID, store.SuspensionClose{
		Status:     store.SuspensionResumed,
		ResumeData: rawResume,
	}); err != nil {
		e.resuspend(ctx, runID, stepID)
		return nil, storeErr("close suspension", err)
	}
	e.logger.InfoContext(ctx, "run resumed", "step_id", stepID, "iteration", snap.Iteration)

	return e.drive(ctx, wf, run, snap, resumeData)
}

// resuspend puts a run back in suspended after its suspension could not be
// closed. Best effort: a failure here is only logged.
func (e *Executor) resuspend(ctx context.Context, runID, stepID string) {
	ctx = context.WithoutCancel(ctx)
	status := schema.RunStatusSuspended
	if err := e.runFSM.Transition(ctx, runID, schema.RunStatusRunning, schema.RunStatusSuspended,
		map[string]any{"step_id": stepID}); err != nil {
		e.logger.ErrorContext(ctx, "resuspend run", "error", err)
	}
	if err := e.store.UpdateRun(ctx, runID, store.RunUpdate{Status: &status}); err != nil {
		e.logger.ErrorContext(ctx, "resuspend run", "error", err)
	}
}

// drive executes nodes from the snapshot cursor until the run finishes or
// suspends. resume is non-nil only for the first step it re-enters.
// A store error mid-run fails the run so it is never left running.
func (e *Executor) drive(ctx context.Context, wf *Workflow, run *store.Run, snap *snapshot, resume map[string]any) (*RunResult, error) {
	res, err := e.advance(ctx, wf, run, snap, resume)
	if err == nil {
		return res, nil
	}
	e.abort(ctx, wf, run, snap, err)
	return nil, err
}

// abort marks a run failed after advance returned an error, closing any
// suspension it opened. Best effort: the store may still be unavailable.
func (e *Executor) abort(ctx context.Context, wf *Workflow, run *store.Run, snap *snapshot, cause error) {
	ctx = context.WithoutCancel(ctx)
	var stepID string
	if snap.Cursor < len(wf.nodes) {
		stepID = wf.nodes[snap.Cursor].step.ID()
	}
	if susp, err := e.store.GetOpenSuspension(ctx, run.ID); err == nil {
		if err := e.store.CloseSuspension(ctx, susp.ID, store.SuspensionClose{Status: store.SuspensionCancelled}); err != nil {
			e.logger.ErrorContext(ctx, "close suspension of aborted run", "error", err)
		}
	}
	code := schema.ErrCodeStore
	var se *schema.Error
	if errors.As(cause, &se) {
		code = se.Code
	}
	runErr := schema.NewErrorf(code, "run aborted: %s", cause.Error()).WithCause(cause)
	if stepID != "" {
		runErr = runErr.WithStep(stepID)
	}
	if _, err := e.failRun(ctx, run, snap, stepID, runErr); err != nil {
		e.logger.ErrorContext(ctx, "fail aborted run", "error", err, "cause", cause)
	}
}

func (e *Executor) advance(ctx context.Context, wf *Workflow, run *store.Run, snap *snapshot, resume map[string]any) (*RunResult, error) {
	for snap.Cursor < len(wf.nodes) {
		n := wf.nodes[snap.Cursor]
		stepID := n.step.ID()
		schemas := n.step.Schemas()
		stepCtx := logging.WithStepID(ctx, stepID)
		view := snap.view(stepID)

		if err := e.stepTransition(stepCtx, run.ID, stepID, view, schema.StepStatusRunning, snap.Input, nil); err != nil {
			return nil, err
		}
		if err := e.saveSnapshot(stepCtx, run.ID, snap, stepID); err != nil {
			return nil, err
		}
		if err := e.validator.Validate(stepID+" input", snap.Input, schemas.Input); err != nil {
			return e.failStep(stepCtx, run, snap, stepID, err)
		}

		res, err := n.step.Execute(stepCtx, &StepContext{
			RunID:      run.ID,
			WorkflowID: wf.id,
			StepID:     stepID,
			Iteration:  snap.Iteration,
			Input:      snap.Input,
			ResumeData: resume,
			Logger:     logging.LogWith(stepCtx, e.logger),
		})
		resume = nil
		if err != nil {
			return e.failStep(stepCtx, run, snap, stepID, err)
		}

		if res.IsSuspended() {
			return e.suspend(stepCtx, run, snap, stepID, schemas, res.SuspendPayload())
		}

		out := res.Output()
		if err := e.validator.Validate(stepID+" output", out, schemas.Output); err != nil {
			return e.failStep(stepCtx, run, snap, stepID, err)
		}
		view.Output = out
		view.SuspendPayload = nil
		if err := e.stepTransition(stepCtx, run.ID, stepID, view, schema.StepStatusCompleted, nil, out); err != nil {
			return nil, err
		}

		if n.loop != nil {
			done, err := n.loop.until.Done(out, snap.Iteration)
			if err != nil {
				return e.failRun(stepCtx, run, snap, stepID, schema.NewErrorf(schema.ErrCodeExecution,
					"loop predicate %s at step %q: %s", n.loop.until, stepID, err.Error()).WithStep(stepID).WithCause(err))
			}
			if !done {
				snap.Iteration++
				if limit := e.loopLimit(n.loop); limit > 0 && snap.Iteration >= limit {
					return e.failRun(stepCtx, run, snap, stepID, schema.NewErrorf(schema.ErrCodeLoopLimit,
						"loop at step %q did not finish within %d iterations", stepID, limit).WithStep(stepID))
				}
				view.Iteration = snap.Iteration
				if err := e.appendEvent(stepCtx, run.ID, stepID, schema.EventLoopIterStarted,
					map[string]any{"iteration": snap.Iteration}); err != nil {
					return nil, err
				}
				snap.Input = out
				if err := e.saveSnapshot(stepCtx, run.ID, snap, stepID); err != nil {
					return nil, err
				}
				continue
			}
			if err := e.appendEvent(stepCtx, run.ID, stepID, schema.EventLoopCompleted,
				map[string]any{"iterations": snap.Iteration + 1}); err != nil {
				return nil, err
			}
		}

		snap.Cursor++
		snap.Iteration = 0
		snap.Input = out
		if err := e.saveSnapshot(ctx, run.ID, snap, ""); err != nil {
			return nil, err
		}
	}

	return e.complete(ctx, wf, run, snap)
}

func (e *Executor) loopLimit(l *loopSpec) int {
	if l.maxIterations > 0 {
		return l.maxIterations
	}
	return e.maxLoop
}

// stepTransition moves a step through the FSM and materializes its state.
func (e *Executor) stepTransition(ctx context.Context, runID, stepID string, view *StepView, to schema.StepStatus, input, payload map[string]any) error {
	var eventPayload any
	if payload != nil {
		eventPayload = payload
	}
	if err := e.stepFSM.Transition(ctx, runID, stepID, view.Status, to, eventPayload); err != nil {
		return err
	}
	view.Status = to

	now := e.now().UTC()
	ss, err := e.store.GetStepState(ctx, runID, stepID)
	if err != nil {
		if !schema.HasCode(err, schema.ErrCodeNotFound) {
			return storeErr("load step state", err)
		}
		ss = &store.StepState{RunID: runID, StepID: stepID}
	}
	ss.Status = to
	ss.Iteration = view.Iteration
	switch to {
	case schema.StepStatusRunning:
		if input != nil {
			ss.Input, _ = json.Marshal(input)
		}
		if ss.StartedAt == nil || ss.CompletedAt != nil {
			ss.StartedAt = &now
		}
		ss.CompletedAt = nil
		ss.Error = nil
	case schema.StepStatusCompleted:
		ss.Output, _ = json.Marshal(payload)
		ss.CompletedAt = &now
		if ss.StartedAt != nil {
			ss.DurationMs = now.Sub(*ss.StartedAt).Milliseconds()
		}
	case schema.StepStatusSuspended:
		ss.Output = nil
	case schema.StepStatusFailed:
		ss.Error, _ = json.Marshal(payload)
		ss.CompletedAt = &now
	}
	if err := e.store.UpsertStepState(ctx, ss); err != nil {
		return storeErr("upsert step state", err)
	}
	return nil
}

func (e *Executor) suspend(ctx context.Context, run *store.Run, snap *snapshot, stepID string, schemas StepSchemas, payload map[string]any) (*RunResult, error) {
	if err := e.validator.Validate(stepID+" suspend payload", payload, schemas.Suspend); err != nil {
		return e.failStep(ctx, run, snap, stepID, err)
	}
	view := snap.view(stepID)
	view.SuspendPayload = payload
	if err := e.stepTransition(ctx, run.ID, stepID, view, schema.StepStatusSuspended, nil, payload); err != nil {
		return nil, err
	}

	rawPayload, _ := json.Marshal(payload)
	susp := &store.Suspension{
		ID:        uuid.New().String(),
		RunID:     run.ID,
		StepID:    stepID,
		Iteration: snap.Iteration,
		Payload:   rawPayload,
		Status:    store.SuspensionOpen,
		CreatedAt: e.now().UTC(),
	}
	if err := e.store.CreateSuspension(ctx, susp); err != nil {
		return nil, err
	}
	if err := e.saveSnapshot(ctx, run.ID, snap, stepID); err != nil {
		return nil, err
	}
	if err := e.runFSM.Transition(ctx, run.ID, schema.RunStatusRunning, schema.RunStatusSuspended,
		map[string]any{"step_id": stepID, "suspension_id": susp.ID}); err != nil {
		return nil, err
	}
	status := schema.RunStatusSuspended
	if err := e.store.UpdateRun(ctx, run.ID, store.RunUpdate{Status: &status}); err != nil {
		return nil, storeErr("update run status", err)
	}
	e.logger.InfoContext(ctx, "run suspended", "iteration", snap.Iteration)

	return &RunResult{
		RunID:          run.ID,
		WorkflowID:     run.WorkflowID,
		Status:         schema.RunStatusSuspended,
		Suspended:      []string{stepID},
		SuspendPayload: payload,
		Steps:          snap.Steps,
	}, nil
}

func (e *Executor) complete(ctx context.Context, wf *Workflow, run *store.Run, snap *snapshot) (*RunResult, error) {
	out := snap.Input
	if err := e.validator.Validate(wf.id+" output", out, wf.outputSchema); err != nil {
		return e.failRun(ctx, run, snap, "", schema.NewErrorf(schema.ErrCodeExecution,
			"workflow %q produced an invalid output", wf.id).WithCause(err))
	}
	if err := e.runFSM.Transition(ctx, run.ID, schema.RunStatusRunning, schema.RunStatusSuccess, out); err != nil {
		return nil, err
	}
	rawOut, _ := json.Marshal(out)
	status := schema.RunStatusSuccess
	now := e.now().UTC()
	empty := ""
	if err := e.store.UpdateRun(ctx, run.ID, store.RunUpdate{
		Status:      &status,
		CurrentStep: &empty,
		Output:      rawOut,
		CompletedAt: &now,
	}); err != nil {
		return nil, storeErr("update run status", err)
	}
	e.logger.InfoContext(ctx, "run completed")

	return &RunResult{
		RunID:      run.ID,
		WorkflowID: run.WorkflowID,
		Status:     schema.RunStatusSuccess,
		Output:     out,
		Steps:      snap.Steps,
	}, nil
}

// failStep marks the step failed and fails the run with STEP_FAILED.
func (e *Executor) failStep(ctx context.Context, run *store.Run, snap *snapshot, stepID string, cause error) (*RunResult, error) {
	stepErr := schema.NewErrorf(schema.ErrCodeStepFailed, "step %q failed: %s", stepID, cause.Error()).
		WithStep(stepID).WithCause(cause)
	var se *schema.Error
	if errors.As(cause, &se) {
		stepErr = stepErr.WithDetails(map[string]any{"cause_code": se.Code})
	}

	if err := e.stepTransition(ctx, run.ID, stepID, snap.view(stepID), schema.StepStatusFailed, nil, errorPayload(stepErr)); err != nil {
		return nil, err
	}
	return e.failRun(ctx, run, snap, stepID, stepErr)
}

func (e *Executor) failRun(ctx context.Context, run *store.Run, snap *snapshot, stepID string, runErr *schema.Error) (*RunResult, error) {
	if err := e.runFSM.Transition(ctx, run.ID, schema.RunStatusRunning, schema.RunStatusFailed, errorPayload(runErr)); err != nil {
		return nil, err
	}
	rawErr, _ := json.Marshal(errorPayload(runErr))
	status := schema.RunStatusFailed
	now := e.now().UTC()
	if err := e.store.UpdateRun(ctx, run.ID, store.RunUpdate{
		Status:      &status,
		CurrentStep: &stepID,
		Error:       rawErr,
		CompletedAt: &now,
	}); err != nil {
		return nil, storeErr("update run status", err)
	}
	e.logger.WarnContext(ctx, "run failed", "code", runErr.Code, "error", runErr.Message)

	return &RunResult{
		RunID:      run.ID,
		WorkflowID: run.WorkflowID,
		Status:     schema.RunStatusFailed,
		Error:      runErr,
		Steps:      snap.Steps,
	}, nil
}

// Cancel terminates a pending or suspended run and skips its open steps.
func (e *Executor) Cancel(ctx context.Context, runID, reason string) error {
	if err := e.claim(runID); err != nil {
		return err
	}
	defer e.release(runID)

	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	ctx = e.runContext(ctx, run)

	cancelErr := schema.NewErrorf(schema.ErrCodeCancelled, "run cancelled: %s", reason)
	if err := e.runFSM.Transition(ctx, runID, run.Status, schema.RunStatusCancelled, map[string]any{"reason": reason}); err != nil {
		return err
	}

	if susp, err := e.store.GetOpenSuspension(ctx, runID); err == nil {
		if err := e.store.CloseSuspension(ctx, susp.ID, store.SuspensionClose{Status: store.SuspensionCancelled}); err != nil {
			return err
		}
	} else if !schema.HasCode(err, schema.ErrCodeNotFound) {
		return err
	}

	states, err := e.store.ListStepStates(ctx, runID)
	if err != nil {
		return storeErr("list step states", err)
	}
	for _, ss := range states {
		if !CanSkip(ss.Status) {
			continue
		}
		if err := e.stepFSM.Transition(ctx, runID, ss.StepID, ss.Status, schema.StepStatusSkipped, nil); err != nil {
			return err
		}
		ss.Status = schema.StepStatusSkipped
		if err := e.store.UpsertStepState(ctx, ss); err != nil {
			return storeErr("upsert step state", err)
		}
	}

	rawErr, _ := json.Marshal(errorPayload(cancelErr))
	status := schema.RunStatusCancelled
	now := e.now().UTC()
	if err := e.store.UpdateRun(ctx, runID, store.RunUpdate{
		Status:      &status,
		Error:       rawErr,
		CompletedAt: &now,
	}); err != nil {
		return storeErr("update run status", err)
	}
	e.logger.InfoContext(ctx, "run cancelled", "reason", reason)
	return nil
}

// Status returns the run record, step states rebuilt from the event log,
// the open suspension if any, and the event history.
func (e *Executor) Status(ctx context.Context, runID string) (*RunView, error) {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	steps, err := e.eventLog.ReplayEvents(ctx, runID)
	if err != nil {
		return nil, storeErr("replay events", err)
	}
	events, err := e.eventLog.GetEvents(ctx, runID, 0)
	if err != nil {
		return nil, storeErr("get events", err)
	}
	view := &RunView{Run: run, Steps: steps, Events: events}
	if run.Status == schema.RunStatusSuspended {
		susp, err := e.store.GetOpenSuspension(ctx, runID)
		if err != nil && !schema.HasCode(err, schema.ErrCodeNotFound) {
			return nil, err
		}
		view.Suspension = susp
	}
	return view, nil
}

// Runs lists runs matching filter, newest first.
func (e *Executor) Runs(ctx context.Context, filter store.RunFilter) ([]*store.Run, error) {
	runs, err := e.store.ListRuns(ctx, filter)
	if err != nil {
		return nil, storeErr("list runs", err)
	}
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].CreatedAt.After(runs[j].CreatedAt) })
	return runs, nil
}

// Suspended lists runs currently waiting on a human.
func (e *Executor) Suspended(ctx context.Context) ([]*store.Run, error) {
	status := schema.RunStatusSuspended
	return e.Runs(ctx, store.RunFilter{Status: &status})
}

func (e *Executor) runContext(ctx context.Context, run *store.Run) context.Context {
	ctx = logging.WithRunID(ctx, run.ID)
	return logging.WithMemory(ctx, run.ThreadID, run.ResourceID)
}

func (e *Executor) appendEvent(ctx context.Context, runID, stepID, typ string, payload any) error {
	raw, err := marshalPayload(payload)
	if err != nil {
		return err
	}
	if err := e.events.AppendEvent(ctx, &store.Event{RunID: runID, StepID: stepID, Type: typ, Payload: raw}); err != nil {
		return storeErr("append event", err)
	}
	return nil
}

func (e *Executor) saveSnapshot(ctx context.Context, runID string, snap *snapshot, currentStep string) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return schema.NewError(schema.ErrCodeExecution, "marshal run snapshot").WithCause(err)
	}
	if err := e.store.UpdateRun(ctx, runID, store.RunUpdate{Snapshot: raw, CurrentStep: &currentStep}); err != nil {
		return storeErr("save run snapshot", err)
	}
	return nil
}

func (s *snapshot) view(stepID string) *StepView {
	v, ok := s.Steps[stepID]
	if !ok {
		v = &StepView{Status: schema.StepStatusPending}
		s.Steps[stepID] = v
	}
	return v
}

func decodeSnapshot(raw json.RawMessage) (*snapshot, error) {
	snap := &snapshot{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, snap); err != nil {
			return nil, schema.NewError(schema.ErrCodeStore, "decode run snapshot").WithCause(err)
		}
	}
	if snap.Input == nil {
		snap.Input = map[string]any{}
	}
	if snap.Steps == nil {
		snap.Steps = map[string]*StepView{}
	}
	return snap, nil
}

func errorPayload(err *schema.Error) map[string]any {
	p := map[string]any{"code": err.Code, "message": err.Message}
	if err.StepID != "" {
		p["step_id"] = err.StepID
	}
	if len(err.Details) > 0 {
		p["details"] = err.Details
	}
	return p
}

func storeErr(op string, err error) error {
	var se *schema.Error
	if errors.As(err, &se) {
		return err
	}
	return schema.NewErrorf(schema.ErrCodeStore, "%s: %s", op, err.Error()).WithCause(err)
}
