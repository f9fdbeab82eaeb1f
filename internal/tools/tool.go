// Package tools implements the schema-validated operations the agent can call.
package tools

import (
	"context"
	"encoding/json"
)

// Tool is a single backend operation with a JSON Schema contract.
type Tool interface {
	Name() string
	Schema() ToolSchema
	Execute(ctx context.Context, args map[string]any) (map[string]any, error)
}

// ApprovalRequired marks tools whose effects are visible to the outside world.
// Callers must obtain a human approval before executing them.
type ApprovalRequired interface {
	RequiresApproval() bool
}

// ToolSchema describes the input/output contract of a tool.
type ToolSchema struct {
	Description  string          `json:"description,omitempty"`
	InputSchema  json.RawMessage `json:"input_schema,omitempty"`
	OutputSchema json.RawMessage `json:"output_schema,omitempty"`
}

// ToolInfo is a summary of a registered tool for listing.
type ToolInfo struct {
	Name             string `json:"name"`
	Description      string `json:"description,omitempty"`
	RequiresApproval bool   `json:"requires_approval"`
}

// NeedsApproval reports whether t must be approved before it runs.
func NeedsApproval(t Tool) bool {
	a, ok := t.(ApprovalRequired)
	return ok && a.RequiresApproval()
}

// Param helpers used by all tool files.

func stringParam(m map[string]any, key, defaultVal string) string {
	s, ok := m[key].(string)
	if !ok {
		return defaultVal
	}
	return s
}

func boolParam(m map[string]any, key string, defaultVal bool) bool {
	b, ok := m[key].(bool)
	if !ok {
		return defaultVal
	}
	return b
}

func intParam(m map[string]any, key string, defaultVal int) int {
	switch n := m[key].(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return defaultVal
		}
		return int(i)
	default:
		return defaultVal
	}
}

// toMap converts a typed result into the generic shape tools return.
func toMap(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
