package ingest

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"

	"github.com/cti/scanhub/internal/domain/scanning"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/meta_v1.json
var metaSchemaV1 []byte

const metaSchemaURL = "meta_v1.json"

// Validator checks normalized capture metadata against one compiled meta schema.
// It is immutable after construction and safe for concurrent use.
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles a draft-07 meta schema document.
func NewValidator(doc []byte) (*Validator, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft7
	if err := c.AddResource(metaSchemaURL, bytes.NewReader(doc)); err != nil {
		return nil, fmt.Errorf("load meta schema: %w", err)
	}
	schema, err := c.Compile(metaSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile meta schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// DefaultValidator compiles the embedded 1.0.0 meta schema.
func DefaultValidator() (*Validator, error) {
	return NewValidator(metaSchemaV1)
}

// LoadValidator compiles the schema at path, or the embedded one when path is empty.
func LoadValidator(path string) (*Validator, error) {
	if path == "" {
		return DefaultValidator()
	}
	doc, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read meta schema %s: %w", path, err)
	}
	return NewValidator(doc)
}

// Validate checks a decoded JSON document (maps, slices, json.Number, strings,
// bools, nil). Violations come back as *scanning.SchemaValidationError naming
// the innermost failing location.
func (v *Validator) Validate(doc any) error {
	err := v.schema.Validate(doc)
	if err == nil {
		return nil
	}

	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return &scanning.SchemaValidationError{Path: "/", Message: err.Error()}
	}
	leaf := innermost(verr)
	path := leaf.InstanceLocation
	if path == "" {
		path = "/"
	}
	return &scanning.SchemaValidationError{Path: path, Message: leaf.Message}
}

// innermost follows the first cause down to the violation that actually failed.
func innermost(e *jsonschema.ValidationError) *jsonschema.ValidationError {
	for len(e.Causes) > 0 {
		e = e.Causes[0]
	}
	return e
}
