// Package schemas holds the JSON Schemas that stage outputs must satisfy and
// validates model responses against them.
package schemas

import (
	"embed"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed stage/*.schema.json
var stageFS embed.FS

var (
	compileOnce sync.Once
	compiled    map[string]*gojsonschema.Schema
	compileErr  error
)

// ValidationError reports every field that failed schema validation.
type ValidationError struct {
	Stage  string
	Errors []FieldError
}

// FieldError is a single validation failure at a specific field path.
type FieldError struct {
	Field   string
	Message string
}

func (ve *ValidationError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "stage %s output failed validation:", ve.Stage)
	for _, fe := range ve.Errors {
		fmt.Fprintf(&sb, "\n  %s: %s", fe.Field, fe.Message)
	}
	return sb.String()
}

// Hints renders the field errors as a compact single-line list, suitable for
// embedding in a repair prompt.
func (ve *ValidationError) Hints() string {
	parts := make([]string, 0, len(ve.Errors))
	for _, fe := range ve.Errors {
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Field, fe.Message))
	}
	return strings.Join(parts, "; ")
}

func compileAll() {
	compiled = make(map[string]*gojsonschema.Schema)
	entries, err := stageFS.ReadDir("stage")
	if err != nil {
		compileErr = fmt.Errorf("read embedded schemas: %w", err)
		return
	}
	for _, entry := range entries {
		name := entry.Name()
		stageID := strings.TrimSuffix(name, ".schema.json")
		raw, err := stageFS.ReadFile("stage/" + name)
		if err != nil {
			compileErr = fmt.Errorf("read schema %s: %w", name, err)
			return
		}
		schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
		if err != nil {
			compileErr = fmt.Errorf("compile schema %s: %w", name, err)
			return
		}
		compiled[stageID] = schema
	}
}

// Has reports whether a schema exists for the stage.
func Has(stageID string) bool {
	compileOnce.Do(compileAll)
	if compileErr != nil {
		return false
	}
	_, ok := compiled[stageID]
	return ok
}

// Validate checks a stage's JSON output against its schema. A nil return
// means the payload conforms. Malformed JSON and schema violations both
// produce a *ValidationError.
func Validate(stageID string, payload []byte) error {
	compileOnce.Do(compileAll)
	if compileErr != nil {
		return compileErr
	}
	schema, ok := compiled[stageID]
	if !ok {
		return fmt.Errorf("no schema registered for stage %s", stageID)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return &ValidationError{
			Stage:  stageID,
			Errors: []FieldError{{Field: "(root)", Message: "response is not valid JSON: " + err.Error()}},
		}
	}
	if result.Valid() {
		return nil
	}

	ve := &ValidationError{Stage: stageID, Errors: make([]FieldError, 0, len(result.Errors()))}
	for _, desc := range result.Errors() {
		field := desc.Field()
		if field == "" {
			field = "(root)"
		}
		ve.Errors = append(ve.Errors, FieldError{Field: field, Message: desc.Description()})
	}
	return ve
}
