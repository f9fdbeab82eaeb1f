package engine

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/rendis/influencer/internal/store"
	"github.com/rendis/influencer/pkg/schema"
)

// mockStore is a minimal in-memory Store for testing.
type mockStore struct {
	mu          sync.Mutex
	runs        map[string]*store.Run
	events      []*store.Event
	stepStates  map[string]map[string]*store.StepState // run_id -> step_id -> state
	suspensions []*store.Suspension
}

func newMockStore() *mockStore {
	return &mockStore{
		runs:       make(map[string]*store.Run),
		stepStates: make(map[string]map[string]*store.StepState),
	}
}

func notFound(what, id string) error {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s not found: %s", what, id)
}

func (m *mockStore) CreateRun(_ context.Context, run *store.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *run
	m.runs[run.ID] = &cp
	return nil
}

func (m *mockStore) GetRun(_ context.Context, id string) (*store.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, notFound("run", id)
	}
	cp := *r
	return &cp, nil
}

func (m *mockStore) UpdateRun(_ context.Context, id string, u store.RunUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return notFound("run", id)
	}
	if u.Status != nil {
		r.Status = *u.Status
	}
	if u.CurrentStep != nil {
		r.CurrentStep = *u.CurrentStep
	}
	if u.Snapshot != nil {
		r.Snapshot = u.Snapshot
	}
	if u.Output != nil {
		r.Output = u.Output
	}
	if u.Error != nil {
		r.Error = u.Error
	}
	if u.StartedAt != nil {
		r.StartedAt = u.StartedAt
	}
	if u.CompletedAt != nil {
		r.CompletedAt = u.CompletedAt
	}
	return nil
}

func (m *mockStore) ListRuns(_ context.Context, f store.RunFilter) ([]*store.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.Run
	for _, r := range m.runs {
		if f.Status != nil && r.Status != *f.Status {
			continue
		}
		if f.WorkflowID != "" && r.WorkflowID != f.WorkflowID {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockStore) AppendEvent(_ context.Context, e *store.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var seq int64
	for _, ev := range m.events {
		if ev.RunID == e.RunID {
			seq = ev.Sequence
		}
	}
	e.Sequence = seq + 1
	cp := *e
	m.events = append(m.events, &cp)
	return nil
}

func (m *mockStore) GetEvents(_ context.Context, runID string, since int64) ([]*store.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.Event
	for _, e := range m.events {
		if e.RunID == runID && e.Sequence > since {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockStore) GetEventsByType(_ context.Context, typ string, f store.EventFilter) ([]*store.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.Event
	for _, e := range m.events {
		if e.Type == typ && (f.RunID == "" || e.RunID == f.RunID) {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockStore) UpsertStepState(_ context.Context, ss *store.StepState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stepStates[ss.RunID] == nil {
		m.stepStates[ss.RunID] = make(map[string]*store.StepState)
	}
	cp := *ss
	m.stepStates[ss.RunID][ss.StepID] = &cp
	return nil
}

func (m *mockStore) GetStepState(_ context.Context, runID, stepID string) (*store.StepState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ss, ok := m.stepStates[runID][stepID]
	if !ok {
		return nil, notFound("step_state", runID+"/"+stepID)
	}
	cp := *ss
	return &cp, nil
}

func (m *mockStore) ListStepStates(_ context.Context, runID string) ([]*store.StepState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.StepState
	for _, ss := range m.stepStates[runID] {
		cp := *ss
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepID < out[j].StepID })
	return out, nil
}

func (m *mockStore) CreateSuspension(_ context.Context, s *store.Suspension) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.suspensions {
		if existing.RunID == s.RunID && existing.Status == store.SuspensionOpen {
			return schema.NewErrorf(schema.ErrCodeConflict, "run %s already has an open suspension", s.RunID)
		}
	}
	cp := *s
	m.suspensions = append(m.suspensions, &cp)
	return nil
}

func (m *mockStore) GetOpenSuspension(_ context.Context, runID string) (*store.Suspension, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.suspensions {
		if s.RunID == runID && s.Status == store.SuspensionOpen {
			cp := *s
			return &cp, nil
		}
	}
	return nil, notFound("open suspension for run", runID)
}

func (m *mockStore) CloseSuspension(_ context.Context, id string, sc store.SuspensionClose) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.suspensions {
		if s.ID != id {
			continue
		}
		if s.Status != store.SuspensionOpen {
			return schema.NewErrorf(schema.ErrCodeConflict, "suspension %s already closed", id)
		}
		s.Status = sc.Status
		s.ResumeData = sc.ResumeData
		return nil
	}
	return notFound("suspension", id)
}

func (m *mockStore) ListSuspensions(_ context.Context, runID string) ([]*store.Suspension, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.Suspension
	for _, s := range m.suspensions {
		if s.RunID == runID {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockStore) CreateApproval(context.Context, *store.Approval) error { return nil }
func (m *mockStore) GetApproval(_ context.Context, id string) (*store.Approval, error) {
	return nil, notFound("approval", id)
}
func (m *mockStore) DecideApproval(context.Context, string, store.ApprovalDecision) error { return nil }
func (m *mockStore) ListApprovals(context.Context, store.ApprovalFilter) ([]*store.Approval, error) {
	return nil, nil
}
func (m *mockStore) AppendMessage(context.Context, *store.Message) error { return nil }
func (m *mockStore) ListMessages(context.Context, store.MessageFilter) ([]*store.Message, error) {
	return nil, nil
}
func (m *mockStore) Migrate(context.Context) error { return nil }
func (m *mockStore) Vacuum(context.Context) error  { return nil }
func (m *mockStore) Close() error                  { return nil }

// mockEventLog serves the executor's event log needs from a mockStore.
type mockEventLog struct {
	store *mockStore
}

func (l *mockEventLog) AppendEvent(ctx context.Context, e *store.Event) error {
	return l.store.AppendEvent(ctx, e)
}

func (l *mockEventLog) GetEvents(ctx context.Context, runID string, since int64) ([]*store.Event, error) {
	return l.store.GetEvents(ctx, runID, since)
}

func (l *mockEventLog) ReplayEvents(ctx context.Context, runID string) (map[string]*store.StepState, error) {
	events, err := l.store.GetEvents(ctx, runID, 0)
	if err != nil {
		return nil, err
	}
	return store.ReplayStepStates(runID, events)
}

func (m *mockStore) eventTypes(runID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, e := range m.events {
		if e.RunID == runID {
			out = append(out, e.Type)
		}
	}
	return out
}

// flakyStore fails selected writes a fixed number of times before
// delegating to the wrapped mockStore.
type flakyStore struct {
	*mockStore
	failMu sync.Mutex
	fails  map[string]int
}

func newFlakyStore(inner *mockStore) *flakyStore {
	return &flakyStore{mockStore: inner, fails: make(map[string]int)}
}

func (f *flakyStore) failNext(op string, times int) {
	f.failMu.Lock()
	defer f.failMu.Unlock()
	f.fails[op] = times
}

func (f *flakyStore) trip(op string) error {
	f.failMu.Lock()
	defer f.failMu.Unlock()
	if f.fails[op] > 0 {
		f.fails[op]--
		return errors.New("transient disk error")
	}
	return nil
}

func (f *flakyStore) UpdateRun(ctx context.Context, id string, u store.RunUpdate) error {
	if u.Status != nil {
		if err := f.trip("UpdateRun:" + string(*u.Status)); err != nil {
			return err
		}
	}
	return f.mockStore.UpdateRun(ctx, id, u)
}

func (f *flakyStore) CloseSuspension(ctx context.Context, id string, sc store.SuspensionClose) error {
	if err := f.trip("CloseSuspension"); err != nil {
		return err
	}
	return f.mockStore.CloseSuspension(ctx, id, sc)
}

func (f *flakyStore) UpsertStepState(ctx context.Context, ss *store.StepState) error {
	if err := f.trip("UpsertStepState:" + ss.StepID + ":" + string(ss.Status)); err != nil {
		return err
	}
	return f.mockStore.UpsertStepState(ctx, ss)
}
