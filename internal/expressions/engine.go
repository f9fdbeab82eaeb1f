package expressions

import (
	"context"
	"encoding/json"
)

// Engine evaluates an expression against a JSON-shaped environment.
// Expr backs loop predicates, GoJQ backs output projections.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// normalize round-trips v through JSON so structs and typed slices become
// plain maps, slices, and float64 numbers.
func normalize(v any) (any, error) {
	switch v.(type) {
	case nil, map[string]any, []any, string, bool, float64:
		return v, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
