// Package schema validates credential subjects against JSON Schemas.
package schema

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/pilacorp/go-identity-sdk/common/domainerrors"
)

// TypeJSONSchema is the credentialSchema type written into credentials.
const TypeJSONSchema = "JsonSchema"

// Schema is a compiled JSON Schema identified by ID.
type Schema struct {
	ID     string
	schema *gojsonschema.Schema
}

// Compile parses a JSON Schema document.
func Compile(id, document string) (*Schema, error) {
	if strings.TrimSpace(id) == "" {
		return nil, domainerrors.New(domainerrors.CodeInvalidConfig, "schema id is required")
	}

	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(document))
	if err != nil {
		return nil, &domainerrors.Error{Code: domainerrors.CodeInvalidConfig, Message: "invalid JSON schema " + id, Err: err}
	}
	return &Schema{ID: id, schema: s}, nil
}

// Load fetches and parses the JSON Schema at a URL (http, https or file).
func Load(url string) (*Schema, error) {
	s, err := gojsonschema.NewSchema(gojsonschema.NewReferenceLoader(url))
	if err != nil {
		return nil, &domainerrors.Error{Code: domainerrors.CodeInvalidConfig, Message: "failed to load JSON schema " + url, Err: err}
	}
	return &Schema{ID: url, schema: s}, nil
}

// Validate checks document against the schema. Violations fail with
// SchemaViolation listing every failed constraint.
func (s *Schema) Validate(document any) error {
	result, err := s.schema.Validate(gojsonschema.NewGoLoader(document))
	if err != nil {
		return &domainerrors.Error{Code: domainerrors.CodeSchemaViolation, Message: "failed to validate schema " + s.ID, Err: err}
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return domainerrors.Newf(domainerrors.CodeSchemaViolation, "credential subject violates schema %s: %s", s.ID, strings.Join(msgs, "; "))
}

// Reference is the credentialSchema entry written into a credential.
type Reference struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// Reference returns the credentialSchema entry for the schema.
func (s *Schema) Reference() Reference {
	return Reference{ID: s.ID, Type: TypeJSONSchema}
}

// String implements fmt.Stringer.
func (s *Schema) String() string {
	return fmt.Sprintf("schema(%s)", s.ID)
}
