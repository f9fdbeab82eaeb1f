package validation

import "encoding/json"

// Validator checks documents crossing a step or tool boundary.
// Uses JSON Schema Draft 2020-12.
type Validator interface {
	// Validate checks doc against schema. subject names the boundary in error messages.
	Validate(subject string, doc any, schema json.RawMessage) error
	// Check compiles schema without validating anything, surfacing schema authoring errors early.
	Check(schema json.RawMessage) error
}
