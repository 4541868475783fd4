package utils

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/invopop/jsonschema"
	"github.com/xeipuuv/gojsonschema"
)

// GenerateJSONSchema reflects an object schema for the Go type of v. Fields
// are required only when tagged `jsonschema:"required"`, and properties not
// named by the type are allowed.
func GenerateJSONSchema(v interface{}) (json.RawMessage, error) {
	r := &jsonschema.Reflector{
		Anonymous:                  true,
		DoNotReference:             true,
		ExpandedStruct:             true,
		AllowAdditionalProperties:  true,
		RequiredFromJSONSchemaTags: true,
	}
	s := r.Reflect(v)
	if s == nil || s.Type != "object" {
		return json.RawMessage(`{"type":"object","properties":{}}`), nil
	}
	s.Version = ""

	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return data, nil
}

// Schema is a compiled JSON schema
type Schema struct {
	raw      json.RawMessage
	compiled *gojsonschema.Schema
}

// CompileSchema parses raw once so it can validate many documents
func CompileSchema(raw json.RawMessage) (*Schema, error) {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return &Schema{raw: raw, compiled: compiled}, nil
}

// Raw returns the schema document
func (s *Schema) Raw() json.RawMessage {
	return s.raw
}

// Violation describes one way a document fails its schema
type Violation struct {
	// Field is the dotted path of the offending value, "(root)" for the document
	Field string
	// Type is the gojsonschema error type, e.g. "required" or "invalid_type"
	Type string
	// Property names the missing property for "required" violations
	Property    string
	Description string
}

func (v Violation) String() string {
	if v.Field == "" || v.Field == "(root)" {
		return v.Description
	}
	return fmt.Sprintf("%s: %s", v.Field, v.Description)
}

// Validate checks a Go value (typically decoded JSON) against the schema
func (s *Schema) Validate(v interface{}) ([]Violation, error) {
	if v == nil {
		v = map[string]interface{}{}
	}
	result, err := s.compiled.Validate(gojsonschema.NewGoLoader(v))
	if err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}
	if result.Valid() {
		return nil, nil
	}

	violations := make([]Violation, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		viol := Violation{
			Field:       e.Field(),
			Type:        e.Type(),
			Description: e.Description(),
		}
		if p, ok := e.Details()["property"].(string); ok {
			viol.Property = p
		}
		violations = append(violations, viol)
	}
	sort.SliceStable(violations, func(i, j int) bool {
		return violations[i].Field < violations[j].Field
	})
	return violations, nil
}

// MapToStruct decodes a generic argument map into the struct pointed to by v
func MapToStruct(m map[string]interface{}, v interface{}) error {
	if m == nil {
		m = map[string]interface{}{}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal arguments: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w (data: %s)", err, string(data))
	}
	return nil
}
