package validation

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/rendis/influencer/pkg/schema"
)

// JSONSchemaValidator implements Validator using JSON Schema Draft 2020-12.
// Compiled schemas are cached by their source text. It is safe for concurrent use.
type JSONSchemaValidator struct {
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
	seq   int
}

// NewJSONSchemaValidator creates an empty validator.
func NewJSONSchemaValidator() *JSONSchemaValidator {
	return &JSONSchemaValidator{cache: make(map[string]*jsonschema.Schema)}
}

// Validate checks doc against rawSchema. An empty schema accepts anything.
// A nil doc is validated as an empty object.
func (v *JSONSchemaValidator) Validate(subject string, doc any, rawSchema json.RawMessage) error {
	if len(rawSchema) == 0 {
		return nil
	}

	compiled, err := v.getOrCompile(rawSchema)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s: invalid schema", subject).WithCause(err)
	}

	if m, ok := doc.(map[string]any); ok && m == nil {
		doc = map[string]any{}
	}
	if doc == nil {
		doc = map[string]any{}
	}

	value, err := toJSONValue(doc)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s: document is not JSON-serializable", subject).WithCause(err)
	}

	if err := compiled.Validate(value); err != nil {
		return toValidationError(subject, err)
	}
	return nil
}

// Check compiles rawSchema and caches it.
func (v *JSONSchemaValidator) Check(rawSchema json.RawMessage) error {
	if len(rawSchema) == 0 {
		return nil
	}
	_, err := v.getOrCompile(rawSchema)
	return err
}

func (v *JSONSchemaValidator) getOrCompile(rawSchema []byte) (*jsonschema.Schema, error) {
	key := string(rawSchema)

	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	// Fresh compiler and URL per schema so resources never collide.
	v.seq++
	url := fmt.Sprintf("influencer://schema/%d.json", v.seq)
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.cache[key] = compiled
	return compiled, nil
}

// toJSONValue round-trips a Go value through JSON so numbers become
// json.Number, which the jsonschema library requires.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

var printer = message.NewPrinter(language.English)

func toValidationError(subject string, err error) error {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s: %s", subject, err.Error())
	}

	res := &schema.ValidationResult{Subject: subject}
	collectViolations(verr, res)
	if res.Valid() {
		res.Add("/", "", verr.Error())
	}
	return res.ToError()
}

// collectViolations walks the ValidationError tree and records its leaves.
func collectViolations(verr *jsonschema.ValidationError, res *schema.ValidationResult) {
	if len(verr.Causes) == 0 {
		loc := "/" + strings.Join(verr.InstanceLocation, "/")
		if verr.ErrorKind == nil {
			res.Add(loc, "", verr.Error())
			return
		}
		res.Add(loc, strings.Join(verr.ErrorKind.KeywordPath(), "/"), verr.ErrorKind.LocalizedString(printer))
		return
	}
	for _, cause := range verr.Causes {
		collectViolations(cause, res)
	}
}
