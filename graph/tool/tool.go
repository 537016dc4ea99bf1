// Package tool wraps external callables (HTTP endpoints and test
// doubles) behind a uniform schema-validated invocation contract.
package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrInvalidInput is returned when arguments fail schema validation.
var ErrInvalidInput = errors.New("tool: input failed schema validation")

// ErrInvalidOutput is returned when a tool's response fails its output
// schema.
var ErrInvalidOutput = errors.New("tool: output failed schema validation")

// Tool is an invokable external capability. Input and output travel as
// JSON documents validated against the tool's schemas.
type Tool interface {
	// Name identifies the tool.
	Name() string

	// Invoke calls the tool with JSON-encoded arguments.
	Invoke(ctx context.Context, input json.RawMessage) (json.RawMessage, error)
}

// Schema is a compiled JSON Schema validator.
type Schema struct {
	compiled *jsonschema.Schema
	raw      string
}

// CompileSchema compiles a JSON Schema document (draft 2020-12 by
// default).
func CompileSchema(name, doc string) (*Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name+".json", strings.NewReader(doc)); err != nil {
		return nil, fmt.Errorf("tool: schema %s: %w", name, err)
	}
	compiled, err := c.Compile(name + ".json")
	if err != nil {
		return nil, fmt.Errorf("tool: compile schema %s: %w", name, err)
	}
	return &Schema{compiled: compiled, raw: doc}, nil
}

// MustCompileSchema panics on compile errors; for statically known
// schemas.
func MustCompileSchema(name, doc string) *Schema {
	s, err := CompileSchema(name, doc)
	if err != nil {
		panic(err)
	}
	return s
}

// Validate checks a JSON document against the schema.
func (s *Schema) Validate(doc json.RawMessage) error {
	if s == nil || s.compiled == nil {
		return nil
	}
	var v any
	if err := json.Unmarshal(doc, &v); err != nil {
		return fmt.Errorf("tool: parse document: %w", err)
	}
	if err := s.compiled.Validate(v); err != nil {
		return err
	}
	return nil
}

// Raw returns the schema source document.
func (s *Schema) Raw() string { return s.raw }
