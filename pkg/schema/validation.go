package schema

import (
	"fmt"
	"strings"
)

// ValidationIssue is a single schema violation at a JSON pointer location.
type ValidationIssue struct {
	Path    string `json:"path"`
	Keyword string `json:"keyword,omitempty"`
	Message string `json:"message"`
}

// ValidationResult aggregates violations for one document.
type ValidationResult struct {
	Subject string            `json:"subject,omitempty"`
	Issues  []ValidationIssue `json:"issues,omitempty"`
}

// Valid returns true if no issues were recorded.
func (r *ValidationResult) Valid() bool {
	return len(r.Issues) == 0
}

// Add appends an issue.
func (r *ValidationResult) Add(path, keyword, message string) {
	if path == "" {
		path = "/"
	}
	r.Issues = append(r.Issues, ValidationIssue{Path: path, Keyword: keyword, Message: message})
}

// ToError converts the result to an *Error if invalid, nil if valid.
func (r *ValidationResult) ToError() error {
	if r.Valid() {
		return nil
	}

	first := r.Issues[0]
	msg := fmt.Sprintf("%s: %s", first.Path, first.Message)
	if len(r.Issues) > 1 {
		parts := make([]string, 0, len(r.Issues))
		for _, is := range r.Issues {
			parts = append(parts, fmt.Sprintf("%s: %s", is.Path, is.Message))
		}
		msg = fmt.Sprintf("%d violations: %s", len(r.Issues), strings.Join(parts, "; "))
	}
	if r.Subject != "" {
		msg = r.Subject + ": " + msg
	}

	return NewError(ErrCodeValidation, msg).
		WithDetails(map[string]any{
			"issue_count": len(r.Issues),
			"issues":      r.Issues,
		})
}
