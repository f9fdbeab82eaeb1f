package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/influencer/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage (e.g. event log).
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Runs ---

const runColumns = `id, workflow_id, resource_id, thread_id, status, current_step, input, snapshot, output, error, created_at, started_at, completed_at, updated_at`

func (s *LibSQLStore) CreateRun(ctx context.Context, run *Run) error {
	input, err := marshalMapOrDefault(run.Input)
	if err != nil {
		return fmt.Errorf("marshal run input: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.WorkflowID, nullStr(run.ResourceID), nullStr(run.ThreadID),
		string(run.Status), nullStr(run.CurrentStep), string(input),
		nullRaw(run.Snapshot), nullRaw(run.Output), nullRaw(run.Error),
		timeOrNow(run.CreatedAt), nullTime(run.StartedAt), nullTime(run.CompletedAt), timeOrNow(run.UpdatedAt),
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	r := &Run{}
	var (
		resourceID, threadID, currentStep sql.NullString
		inputJSON                         string
		snapshot, output, errJSON         sql.NullString
		startedAt, completedAt            sql.NullTime
		status                            string
	)
	if err := row.Scan(&r.ID, &r.WorkflowID, &resourceID, &threadID, &status, &currentStep,
		&inputJSON, &snapshot, &output, &errJSON, &r.CreatedAt, &startedAt, &completedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.ResourceID = resourceID.String
	r.ThreadID = threadID.String
	r.CurrentStep = currentStep.String
	r.Status = schema.RunStatus(status)
	if inputJSON != "" {
		if err := json.Unmarshal([]byte(inputJSON), &r.Input); err != nil {
			return nil, fmt.Errorf("unmarshal run input: %w", err)
		}
	}
	r.Snapshot = rawOrNil(snapshot)
	r.Output = rawOrNil(output)
	r.Error = rawOrNil(errJSON)
	if startedAt.Valid {
		r.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		r.CompletedAt = &completedAt.Time
	}
	return r, nil
}

func (s *LibSQLStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("run", id)
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (s *LibSQLStore) UpdateRun(ctx context.Context, id string, update RunUpdate) error {
	var sets []string
	var args []any

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.CurrentStep != nil {
		sets = append(sets, "current_step = ?")
		args = append(args, nullStr(*update.CurrentStep))
	}
	if update.Snapshot != nil {
		sets = append(sets, "snapshot = ?")
		args = append(args, string(update.Snapshot))
	}
	if update.Output != nil {
		sets = append(sets, "output = ?")
		args = append(args, string(update.Output))
	}
	if update.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, string(update.Error))
	}
	if update.StartedAt != nil {
		sets = append(sets, "started_at = ?")
		args = append(args, *update.StartedAt)
	}
	if update.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, *update.CompletedAt)
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UTC(), id)

	query := fmt.Sprintf("UPDATE runs SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "run", id)
}

func (s *LibSQLStore) ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error) {
	var where []string
	var args []any

	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.ResourceID != "" {
		where = append(where, "resource_id = ?")
		args = append(args, filter.ResourceID)
	}
	if filter.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT ` + runColumns + ` FROM runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// --- Events ---

func (s *LibSQLStore) AppendEvent(ctx context.Context, event *Event) error {
	return s.appendEvent(ctx, event, false)
}

// appendEvent numbers the event within its run and inserts it. With
// writeLock the write lock is taken before the sequence is read, so
// concurrent appenders on one run cannot pick the same number.
func (s *LibSQLStore) appendEvent(ctx context.Context, event *Event, writeLock bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if writeLock {
		// BeginTx is deferred in WAL mode; a no-op write takes the lock.
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO schema_version (version, name) VALUES (-1, '_lock_noop')`); err != nil {
			return fmt.Errorf("acquire write lock: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM schema_version WHERE version = -1`); err != nil {
			return fmt.Errorf("release lock row: %w", err)
		}
	}

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE run_id = ?`, event.RunID,
	).Scan(&seq); err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq
	event.Timestamp = timeOrNow(event.Timestamp)

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO events (run_id, step_id, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.RunID, nullStr(event.StepID), event.Type, nullRaw(event.Payload), event.Timestamp, seq,
	); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

func (s *LibSQLStore) GetEvents(ctx context.Context, runID string, since int64) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, step_id, event_type, payload, timestamp, sequence
		 FROM events WHERE run_id = ? AND sequence > ? ORDER BY sequence ASC`,
		runID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *LibSQLStore) GetEventsByType(ctx context.Context, eventType string, filter EventFilter) ([]*Event, error) {
	where := []string{"event_type = ?"}
	args := []any{eventType}

	if filter.RunID != "" {
		where = append(where, "run_id = ?")
		args = append(args, filter.RunID)
	}
	if filter.StepID != "" {
		where = append(where, "step_id = ?")
		args = append(args, filter.StepID)
	}
	if filter.Since != nil {
		where = append(where, "timestamp >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT id, run_id, step_id, event_type, payload, timestamp, sequence FROM events WHERE ` +
		strings.Join(where, " AND ") + " ORDER BY timestamp DESC, id DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]*Event, error) {
	var events []*Event
	for rows.Next() {
		e := &Event{}
		var stepID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &stepID, &e.Type, &payload, &e.Timestamp, &e.Sequence); err != nil {
			return nil, err
		}
		e.StepID = stepID.String
		e.Payload = rawOrNil(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Step State ---

const stepStateColumns = `run_id, step_id, status, input, output, error, iteration, started_at, completed_at, duration_ms`

func (s *LibSQLStore) UpsertStepState(ctx context.Context, state *StepState) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO step_state (`+stepStateColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, step_id) DO UPDATE SET
		   status=excluded.status, input=excluded.input, output=excluded.output, error=excluded.error,
		   iteration=excluded.iteration, started_at=excluded.started_at, completed_at=excluded.completed_at,
		   duration_ms=excluded.duration_ms`,
		state.RunID, state.StepID, string(state.Status),
		nullRaw(state.Input), nullRaw(state.Output), nullRaw(state.Error),
		state.Iteration, nullTime(state.StartedAt), nullTime(state.CompletedAt), state.DurationMs,
	)
	return err
}

func scanStepState(row rowScanner) (*StepState, error) {
	ss := &StepState{}
	var status string
	var input, output, errJSON sql.NullString
	var startedAt, completedAt sql.NullTime
	if err := row.Scan(&ss.RunID, &ss.StepID, &status, &input, &output, &errJSON,
		&ss.Iteration, &startedAt, &completedAt, &ss.DurationMs); err != nil {
		return nil, err
	}
	ss.Status = schema.StepStatus(status)
	ss.Input = rawOrNil(input)
	ss.Output = rawOrNil(output)
	ss.Error = rawOrNil(errJSON)
	if startedAt.Valid {
		ss.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		ss.CompletedAt = &completedAt.Time
	}
	return ss, nil
}

func (s *LibSQLStore) GetStepState(ctx context.Context, runID, stepID string) (*StepState, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+stepStateColumns+` FROM step_state WHERE run_id = ? AND step_id = ?`, runID, stepID)
	ss, err := scanStepState(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("step_state", runID+"/"+stepID)
	}
	if err != nil {
		return nil, err
	}
	return ss, nil
}

func (s *LibSQLStore) ListStepStates(ctx context.Context, runID string) ([]*StepState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+stepStateColumns+` FROM step_state WHERE run_id = ? ORDER BY started_at ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []*StepState
	for rows.Next() {
		ss, err := scanStepState(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, ss)
	}
	return states, rows.Err()
}

// --- Suspensions ---

const suspensionColumns = `id, run_id, step_id, iteration, payload, resume_data, status, created_at, closed_at`

func (s *LibSQLStore) CreateSuspension(ctx context.Context, sp *Suspension) error {
	if sp.Status == "" {
		sp.Status = SuspensionOpen
	}
	payload := sp.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO suspensions (`+suspensionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sp.ID, sp.RunID, sp.StepID, sp.Iteration, string(payload), nullRaw(sp.ResumeData),
		sp.Status, timeOrNow(sp.CreatedAt), nullTime(sp.ClosedAt),
	)
	if err != nil && isUniqueViolation(err) {
		return schema.NewErrorf(schema.ErrCodeConflict, "run %q already has an open suspension", sp.RunID).WithCause(err)
	}
	return err
}

func scanSuspension(row rowScanner) (*Suspension, error) {
	sp := &Suspension{}
	var payload string
	var resume sql.NullString
	var closedAt sql.NullTime
	if err := row.Scan(&sp.ID, &sp.RunID, &sp.StepID, &sp.Iteration, &payload, &resume,
		&sp.Status, &sp.CreatedAt, &closedAt); err != nil {
		return nil, err
	}
	sp.Payload = json.RawMessage(payload)
	sp.ResumeData = rawOrNil(resume)
	if closedAt.Valid {
		sp.ClosedAt = &closedAt.Time
	}
	return sp, nil
}

func (s *LibSQLStore) GetOpenSuspension(ctx context.Context, runID string) (*Suspension, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+suspensionColumns+` FROM suspensions WHERE run_id = ? AND status = ?`, runID, SuspensionOpen)
	sp, err := scanSuspension(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("open suspension for run", runID)
	}
	if err != nil {
		return nil, err
	}
	return sp, nil
}

func (s *LibSQLStore) CloseSuspension(ctx context.Context, id string, sc SuspensionClose) error {
	if sc.Status == "" || sc.Status == SuspensionOpen {
		return schema.NewErrorf(schema.ErrCodeValidation, "invalid suspension close status %q", sc.Status)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE suspensions SET status = ?, resume_data = ?, closed_at = ? WHERE id = ? AND status = ?`,
		sc.Status, nullRaw(sc.ResumeData), time.Now().UTC(), id, SuspensionOpen,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var status string
		err := s.db.QueryRowContext(ctx, `SELECT status FROM suspensions WHERE id = ?`, id).Scan(&status)
		if err == sql.ErrNoRows {
			return storeNotFound("suspension", id)
		}
		if err != nil {
			return err
		}
		return schema.NewErrorf(schema.ErrCodeConflict, "suspension %q is already %s", id, status)
	}
	return nil
}

func (s *LibSQLStore) ListSuspensions(ctx context.Context, runID string) ([]*Suspension, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+suspensionColumns+` FROM suspensions WHERE run_id = ? ORDER BY created_at ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Suspension
	for rows.Next() {
		sp, err := scanSuspension(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sp)
	}
	return out, rows.Err()
}

// --- Approvals ---

const approvalColumns = `id, thread_id, resource_id, tool_call_id, tool_name, arguments, status, result, reason, decided_by, decided_at, created_at`

func (s *LibSQLStore) CreateApproval(ctx context.Context, a *Approval) error {
	if a.Status == "" {
		a.Status = schema.ApprovalPending
	}
	args := a.Arguments
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO approvals (`+approvalColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.ThreadID, nullStr(a.ResourceID), a.ToolCallID, a.ToolName, string(args),
		string(a.Status), nullRaw(a.Result), nullStr(a.Reason), nullStr(a.DecidedBy),
		nullTime(a.DecidedAt), timeOrNow(a.CreatedAt),
	)
	return err
}

func scanApproval(row rowScanner) (*Approval, error) {
	a := &Approval{}
	var resourceID, result, reason, decidedBy sql.NullString
	var args, status string
	var decidedAt sql.NullTime
	if err := row.Scan(&a.ID, &a.ThreadID, &resourceID, &a.ToolCallID, &a.ToolName, &args,
		&status, &result, &reason, &decidedBy, &decidedAt, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.ResourceID = resourceID.String
	a.Arguments = json.RawMessage(args)
	a.Status = schema.ApprovalStatus(status)
	a.Result = rawOrNil(result)
	a.Reason = reason.String
	a.DecidedBy = decidedBy.String
	if decidedAt.Valid {
		a.DecidedAt = &decidedAt.Time
	}
	return a, nil
}

func (s *LibSQLStore) GetApproval(ctx context.Context, id string) (*Approval, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+approvalColumns+` FROM approvals WHERE id = ?`, id)
	a, err := scanApproval(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("approval", id)
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (s *LibSQLStore) DecideApproval(ctx context.Context, id string, decision ApprovalDecision) error {
	if decision.Status != schema.ApprovalApproved && decision.Status != schema.ApprovalDeclined {
		return schema.NewErrorf(schema.ErrCodeValidation, "invalid approval decision %q", decision.Status)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE approvals SET status = ?, result = ?, reason = ?, decided_by = ?, decided_at = ?
		 WHERE id = ? AND status = ?`,
		string(decision.Status), nullRaw(decision.Result), nullStr(decision.Reason), nullStr(decision.DecidedBy),
		time.Now().UTC(), id, string(schema.ApprovalPending),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		existing, err := s.GetApproval(ctx, id)
		if err != nil {
			return err
		}
		return schema.NewErrorf(schema.ErrCodeConflict, "approval %q is already %s", id, existing.Status)
	}
	return nil
}

func (s *LibSQLStore) ListApprovals(ctx context.Context, filter ApprovalFilter) ([]*Approval, error) {
	var where []string
	var args []any

	if filter.ThreadID != "" {
		where = append(where, "thread_id = ?")
		args = append(args, filter.ThreadID)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}

	query := `SELECT ` + approvalColumns + ` FROM approvals`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Approval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// --- Thread memory ---

func (s *LibSQLStore) AppendMessage(ctx context.Context, msg *Message) error {
	msg.CreatedAt = timeOrNow(msg.CreatedAt)
	return s.db.QueryRowContext(ctx,
		`INSERT INTO messages (thread_id, resource_id, role, content, tool_name, tool_call_id, tool_calls, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		msg.ThreadID, nullStr(msg.ResourceID), msg.Role, nullStr(msg.Content),
		nullStr(msg.ToolName), nullStr(msg.ToolCallID), nullRaw(msg.ToolCalls), msg.CreatedAt,
	).Scan(&msg.ID)
}

// ListMessages returns the newest Limit messages of a thread in chronological order.
func (s *LibSQLStore) ListMessages(ctx context.Context, filter MessageFilter) ([]*Message, error) {
	where := []string{"thread_id = ?"}
	args := []any{filter.ThreadID}
	if filter.ResourceID != "" {
		where = append(where, "resource_id = ?")
		args = append(args, filter.ResourceID)
	}

	inner := `SELECT id, thread_id, resource_id, role, content, tool_name, tool_call_id, tool_calls, created_at
		FROM messages WHERE ` + strings.Join(where, " AND ") + ` ORDER BY id DESC`
	if filter.Limit > 0 {
		inner += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT * FROM (`+inner+`) ORDER BY id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		m := &Message{}
		var resourceID, content, toolName, toolCallID, toolCalls sql.NullString
		if err := rows.Scan(&m.ID, &m.ThreadID, &resourceID, &m.Role, &content,
			&toolName, &toolCallID, &toolCalls, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.ResourceID = resourceID.String
		m.Content = content.String
		m.ToolName = toolName.String
		m.ToolCallID = toolCallID.String
		m.ToolCalls = rawOrNil(toolCalls)
		out = append(out, m)
	}
	return out, rows.Err()
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.Error {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func isUniqueViolation(err error) bool {
	return strings.Contains(strings.ToUpper(err.Error()), "UNIQUE")
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func marshalMapOrDefault(m map[string]any) (json.RawMessage, error) {
	if len(m) == 0 {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(m)
}
