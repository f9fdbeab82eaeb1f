package tools

import (
	"context"
	"sort"
	"sync"

	"github.com/rendis/influencer/internal/validation"
	"github.com/rendis/influencer/pkg/schema"
)

// Registry is a thread-safe set of tools that validates every call.
type Registry struct {
	mu        sync.RWMutex
	tools     map[string]Tool
	validator validation.Validator
}

// NewRegistry creates an empty Registry.
func NewRegistry(v validation.Validator) *Registry {
	return &Registry{
		tools:     make(map[string]Tool),
		validator: v,
	}
}

// Register adds a tool. Returns error on duplicate name or a broken schema.
func (r *Registry) Register(t Tool) error {
	if t == nil {
		return schema.NewError(schema.ErrCodeValidation, "tool is nil")
	}
	name := t.Name()
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "tool name is empty")
	}
	s := t.Schema()
	for _, raw := range [][]byte{s.InputSchema, s.OutputSchema} {
		if err := r.validator.Check(raw); err != nil {
			return schema.NewErrorf(schema.ErrCodeValidation, "tool %q has an invalid schema", name).WithCause(err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "tool %q already registered", name)
	}
	r.tools[name] = t
	return nil
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "tool %q not registered", name)
	}
	return t, nil
}

// Has checks if a tool is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// List returns info for all registered tools, sorted by name.
func (r *Registry) List() []ToolInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ToolInfo, 0, len(r.tools))
	for _, t := range r.tools {
		infos = append(infos, ToolInfo{
			Name:             t.Name(),
			Description:      t.Schema().Description,
			RequiresApproval: NeedsApproval(t),
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}

// Tools returns the registered tools sorted by name.
func (r *Registry) Tools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Call validates args, runs the tool, and validates its result.
// Input validation errors are returned unmodified.
func (r *Registry) Call(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	t, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	s := t.Schema()
	if err := r.validator.Validate(name+" input", args, s.InputSchema); err != nil {
		return nil, err
	}

	out, err := t.Execute(ctx, args)
	if err != nil {
		return nil, err
	}

	if err := r.validator.Validate(name+" output", out, s.OutputSchema); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "tool %q returned a malformed result", name).WithCause(err)
	}
	return out, nil
}
