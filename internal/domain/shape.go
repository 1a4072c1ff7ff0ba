package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Shape validation errors. Shape failures surface through the same
// per-model failure path as any other call error.
var (
	// ErrInvalidJSON indicates a JSON-shaped response that is not valid JSON.
	ErrInvalidJSON = errors.New("response is not valid JSON")

	// ErrSchemaViolation indicates a response that parsed as JSON but
	// violates the configured JSON schema.
	ErrSchemaViolation = errors.New("response violates JSON schema")

	// ErrMissingSchema indicates a schema-shaped ResponseShape constructed
	// without a schema document.
	ErrMissingSchema = errors.New("response shape requires a schema document")
)

// ShapeKind identifies the expected form of a structured call's response.
type ShapeKind string

const (
	// ShapeText accepts any response content without validation.
	ShapeText ShapeKind = "text"

	// ShapeJSON requires the response content to be well-formed JSON.
	ShapeJSON ShapeKind = "json"

	// ShapeJSONSchema requires the response content to be well-formed JSON
	// that validates against an attached JSON-schema document.
	ShapeJSONSchema ShapeKind = "json_schema"
)

// String returns the string representation of the shape kind.
func (k ShapeKind) String() string { return string(k) }

// ResponseShape declares what a structured call expects back from every
// model. The executor validates each model's response content against the
// shape before reporting success; a violation becomes that model's failure
// and never disturbs the other models in the fan-out.
type ResponseShape struct {
	kind   ShapeKind
	schema []byte
}

// TextShape accepts any response content.
func TextShape() ResponseShape { return ResponseShape{kind: ShapeText} }

// JSONShape requires well-formed JSON response content.
func JSONShape() ResponseShape { return ResponseShape{kind: ShapeJSON} }

// JSONSchemaShape requires response content validating against the given
// JSON-schema document. Returns ErrMissingSchema for an empty document; the
// schema itself is compiled lazily at first validation.
func JSONSchemaShape(schema []byte) (ResponseShape, error) {
	if len(schema) == 0 {
		return ResponseShape{}, ErrMissingSchema
	}
	return ResponseShape{kind: ShapeJSONSchema, schema: schema}, nil
}

// Kind reports the expected response form.
func (s ResponseShape) Kind() ShapeKind {
	if s.kind == "" {
		return ShapeText
	}
	return s.kind
}

// Schema returns the attached JSON-schema document, or nil for non-schema shapes.
func (s ResponseShape) Schema() []byte { return s.schema }

// ValidateContent checks response content against the shape contract.
// Returns nil for conforming content, ErrInvalidJSON or ErrSchemaViolation
// (wrapped with detail) otherwise. The zero ResponseShape behaves as text.
func (s ResponseShape) ValidateContent(content string) error {
	switch s.Kind() {
	case ShapeText:
		return nil

	case ShapeJSON:
		if !json.Valid([]byte(content)) {
			return ErrInvalidJSON
		}
		return nil

	case ShapeJSONSchema:
		if len(s.schema) == 0 {
			return ErrMissingSchema
		}
		if !json.Valid([]byte(content)) {
			return ErrInvalidJSON
		}
		result, err := gojsonschema.Validate(
			gojsonschema.NewBytesLoader(s.schema),
			gojsonschema.NewStringLoader(content),
		)
		if err != nil {
			return fmt.Errorf("schema validation: %w", err)
		}
		if !result.Valid() {
			details := make([]string, 0, len(result.Errors()))
			for _, desc := range result.Errors() {
				details = append(details, desc.String())
			}
			return fmt.Errorf("%w: %s", ErrSchemaViolation, strings.Join(details, "; "))
		}
		return nil

	default:
		return fmt.Errorf("unknown response shape %q", s.kind)
	}
}
