package engine

import (
	"encoding/json"
	"fmt"

	"github.com/rendis/influencer/internal/expressions"
	"github.com/rendis/influencer/pkg/schema"
)

// Until decides whether a DoUntil loop is finished after an iteration.
type Until interface {
	Done(output map[string]any, iteration int) (bool, error)
	String() string
}

type untilFunc struct {
	fn   func(output map[string]any) (bool, error)
	name string
}

func (u untilFunc) Done(output map[string]any, _ int) (bool, error) { return u.fn(output) }
func (u untilFunc) String() string                                  { return u.name }

// UntilFunc wraps a Go predicate over the step output.
func UntilFunc(fn func(output map[string]any) (bool, error)) Until {
	return untilFunc{fn: fn, name: "func"}
}

// UntilApproved finishes the loop once the output carries approved == true.
func UntilApproved() Until {
	return untilFunc{
		name: "approved == true",
		fn: func(out map[string]any) (bool, error) {
			approved, _ := out["approved"].(bool)
			return approved, nil
		},
	}
}

var predicates = expressions.NewExprEngine()

type untilExpr struct {
	source string
	pred   *expressions.Predicate
	err    error
}

// UntilExpr finishes the loop when the expr-lang expression is true.
// Output fields are top-level variables, and output and iteration are
// also bound, e.g. `approved == true || iteration >= 5`.
// Compile errors are reported by Commit.
func UntilExpr(expression string) Until {
	p, err := predicates.Compile(expression)
	return &untilExpr{source: expression, pred: p, err: err}
}

func (u *untilExpr) Done(output map[string]any, iteration int) (bool, error) {
	if u.err != nil {
		return false, u.err
	}
	env := make(map[string]any, len(output)+2)
	for k, v := range output {
		env[k] = v
	}
	env["output"] = output
	env["iteration"] = iteration
	return u.pred.Eval(env)
}

func (u *untilExpr) String() string { return u.source }

// LoopOption configures a DoUntil node.
type LoopOption func(*loopSpec)

// WithMaxIterations bounds how many times the loop body may run.
// 0 defers to ExecutorConfig.MaxLoopIterations.
func WithMaxIterations(n int) LoopOption {
	return func(l *loopSpec) { l.maxIterations = n }
}

type loopSpec struct {
	until         Until
	maxIterations int
}

type node struct {
	step Step
	loop *loopSpec
}

// Workflow is an ordered chain of steps and repeat-until loops.
// Build with NewWorkflow, then Commit before registering.
type Workflow struct {
	id           string
	inputSchema  json.RawMessage
	outputSchema json.RawMessage
	nodes        []node
	committed    bool
}

// NewWorkflow starts a workflow definition.
func NewWorkflow(id string) *Workflow {
	return &Workflow{id: id}
}

// WithInputSchema sets the schema the Start input must satisfy.
func (w *Workflow) WithInputSchema(s json.RawMessage) *Workflow {
	w.inputSchema = s
	return w
}

// WithOutputSchema sets the schema the final output must satisfy.
func (w *Workflow) WithOutputSchema(s json.RawMessage) *Workflow {
	w.outputSchema = s
	return w
}

// Then appends a step that runs once.
func (w *Workflow) Then(step Step) *Workflow {
	w.nodes = append(w.nodes, node{step: step})
	return w
}

// DoUntil appends a step that is re-run, fed its own output, until the
// predicate holds.
func (w *Workflow) DoUntil(step Step, until Until, opts ...LoopOption) *Workflow {
	l := &loopSpec{until: until}
	for _, opt := range opts {
		opt(l)
	}
	w.nodes = append(w.nodes, node{step: step, loop: l})
	return w
}

// Commit validates the definition and freezes it.
func (w *Workflow) Commit() (*Workflow, error) {
	if w.id == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow id is empty")
	}
	if len(w.nodes) == 0 {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "workflow %q has no steps", w.id)
	}
	seen := make(map[string]bool, len(w.nodes))
	for i, n := range w.nodes {
		if n.step == nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "workflow %q: node %d has no step", w.id, i)
		}
		id := n.step.ID()
		if id == "" {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "workflow %q: node %d has an empty step id", w.id, i)
		}
		if seen[id] {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "workflow %q: duplicate step id %q", w.id, id)
		}
		seen[id] = true
		if n.loop == nil {
			continue
		}
		if n.loop.until == nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "workflow %q: loop at %q has no predicate", w.id, id).WithStep(id)
		}
		if u, ok := n.loop.until.(*untilExpr); ok && u.err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "workflow %q: loop at %q: %s", w.id, id, u.err.Error()).
				WithStep(id).WithCause(u.err)
		}
		if n.loop.maxIterations < 0 {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "workflow %q: loop at %q has a negative bound", w.id, id).WithStep(id)
		}
	}
	w.committed = true
	return w, nil
}

// ID returns the workflow identifier.
func (w *Workflow) ID() string { return w.id }

// StepIDs returns step IDs in execution order.
func (w *Workflow) StepIDs() []string {
	ids := make([]string, len(w.nodes))
	for i, n := range w.nodes {
		ids[i] = n.step.ID()
	}
	return ids
}

// NodeInfo describes one node of a workflow.
type NodeInfo struct {
	StepID        string `json:"step_id"`
	Loop          bool   `json:"loop,omitempty"`
	Until         string `json:"until,omitempty"`
	MaxIterations int    `json:"max_iterations,omitempty"`
}

// Nodes returns the node chain in execution order.
func (w *Workflow) Nodes() []NodeInfo {
	out := make([]NodeInfo, len(w.nodes))
	for i, n := range w.nodes {
		out[i] = NodeInfo{StepID: n.step.ID()}
		if n.loop != nil {
			out[i].Loop = true
			out[i].Until = n.loop.until.String()
			out[i].MaxIterations = n.loop.maxIterations
		}
	}
	return out
}

// Step returns the step with the given ID.
func (w *Workflow) Step(id string) (Step, bool) {
	if i := w.index(id); i >= 0 {
		return w.nodes[i].step, true
	}
	return nil, false
}

func (w *Workflow) index(stepID string) int {
	for i, n := range w.nodes {
		if n.step.ID() == stepID {
			return i
		}
	}
	return -1
}

// Describe renders the node chain on one line.
func (w *Workflow) Describe() string {
	s := w.id + ":"
	for _, n := range w.nodes {
		if n.loop != nil {
			s += fmt.Sprintf(" -> until(%s){%s}", n.loop.until, n.step.ID())
			continue
		}
		s += " -> " + n.step.ID()
	}
	return s
}
