package validation

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/influencer/pkg/schema"
)

var tweetSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "text": {"type": "string", "minLength": 1, "maxLength": 280}
  },
  "required": ["text"],
  "additionalProperties": false
}`)

func requireValidationIssues(t *testing.T, err error) []schema.ValidationIssue {
	t.Helper()
	require.Error(t, err)
	var se *schema.Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, schema.ErrCodeValidation, se.Code)
	issues, ok := se.Details["issues"].([]schema.ValidationIssue)
	require.True(t, ok, "details should carry issues")
	return issues
}

func TestJSONSchemaValidator_ImplementsValidator(t *testing.T) {
	var _ Validator = NewJSONSchemaValidator()
}

func TestValidate_EmptySchemaAcceptsAnything(t *testing.T) {
	v := NewJSONSchemaValidator()
	assert.NoError(t, v.Validate("input", map[string]any{"anything": 1}, nil))
	assert.NoError(t, v.Validate("input", nil, json.RawMessage{}))
}

func TestValidate_Valid(t *testing.T) {
	v := NewJSONSchemaValidator()
	assert.NoError(t, v.Validate("create_tweet input", map[string]any{"text": "hello"}, tweetSchema))
}

func TestValidate_TextBoundaries(t *testing.T) {
	v := NewJSONSchemaValidator()

	assert.NoError(t, v.Validate("in", map[string]any{"text": strings.Repeat("a", 280)}, tweetSchema))
	assert.NoError(t, v.Validate("in", map[string]any{"text": strings.Repeat("é", 280)}, tweetSchema),
		"length is counted in code points")

	issues := requireValidationIssues(t, v.Validate("in", map[string]any{"text": strings.Repeat("a", 281)}, tweetSchema))
	require.Len(t, issues, 1)
	assert.Equal(t, "/text", issues[0].Path)
	assert.Equal(t, "maxLength", issues[0].Keyword)

	issues = requireValidationIssues(t, v.Validate("in", map[string]any{"text": ""}, tweetSchema))
	assert.Equal(t, "minLength", issues[0].Keyword)
}

func TestValidate_MissingRequired(t *testing.T) {
	v := NewJSONSchemaValidator()
	err := v.Validate("create_tweet input", map[string]any{}, tweetSchema)
	issues := requireValidationIssues(t, err)
	assert.Equal(t, "required", issues[0].Keyword)
	assert.Contains(t, err.Error(), "create_tweet input")
}

func TestValidate_NilMapIsEmptyObject(t *testing.T) {
	v := NewJSONSchemaValidator()
	var m map[string]any
	issues := requireValidationIssues(t, v.Validate("in", m, tweetSchema))
	assert.Equal(t, "required", issues[0].Keyword)
}

func TestValidate_UnknownFieldsRejected(t *testing.T) {
	v := NewJSONSchemaValidator()
	issues := requireValidationIssues(t, v.Validate("in", map[string]any{"text": "ok", "extra": true}, tweetSchema))
	assert.Equal(t, "additionalProperties", issues[0].Keyword)
}

func TestValidate_WrongType(t *testing.T) {
	v := NewJSONSchemaValidator()
	issues := requireValidationIssues(t, v.Validate("in", map[string]any{"text": 42}, tweetSchema))
	assert.Equal(t, "/text", issues[0].Path)
	assert.Equal(t, "type", issues[0].Keyword)
}

func TestValidate_NumericRange(t *testing.T) {
	v := NewJSONSchemaValidator()
	s := json.RawMessage(`{"type":"object","properties":{"maxResults":{"type":"integer","minimum":5,"maximum":20}}}`)

	assert.NoError(t, v.Validate("in", map[string]any{"maxResults": 5}, s))
	assert.NoError(t, v.Validate("in", map[string]any{"maxResults": 20}, s))
	requireValidationIssues(t, v.Validate("in", map[string]any{"maxResults": 4}, s))
	requireValidationIssues(t, v.Validate("in", map[string]any{"maxResults": 21}, s))
	requireValidationIssues(t, v.Validate("in", map[string]any{"maxResults": 7.5}, s))
}

func TestValidate_StructDocument(t *testing.T) {
	v := NewJSONSchemaValidator()
	doc := struct {
		Text string `json:"text"`
	}{Text: "from a struct"}
	assert.NoError(t, v.Validate("in", doc, tweetSchema))
}

func TestValidate_MultipleViolations(t *testing.T) {
	v := NewJSONSchemaValidator()
	s := json.RawMessage(`{
	  "type":"object",
	  "properties":{"a":{"type":"string"},"b":{"type":"integer"}},
	  "required":["a","b"]
	}`)
	issues := requireValidationIssues(t, v.Validate("in", map[string]any{"a": 1, "b": "x"}, s))
	assert.Len(t, issues, 2)
}

func TestValidate_InvalidSchema(t *testing.T) {
	v := NewJSONSchemaValidator()
	err := v.Validate("in", map[string]any{}, json.RawMessage(`{"type": 12}`))
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
	assert.Contains(t, err.Error(), "invalid schema")

	assert.Error(t, v.Check(json.RawMessage(`not json`)))
	assert.NoError(t, v.Check(tweetSchema))
	assert.NoError(t, v.Check(nil))
}

func TestValidate_SchemaCaching(t *testing.T) {
	v := NewJSONSchemaValidator()
	for i := 0; i < 3; i++ {
		require.NoError(t, v.Validate("in", map[string]any{"text": "x"}, tweetSchema))
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	assert.Len(t, v.cache, 1)
}

func TestValidate_Concurrent(t *testing.T) {
	v := NewJSONSchemaValidator()
	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			text := strings.Repeat("a", 1+i)
			if err := v.Validate("in", map[string]any{"text": text}, tweetSchema); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("unexpected error: %v", err)
	}
}
