// Package schemacap is the default schemas.validate capability,
// backed by santhosh-tekuri/jsonschema/v6, adapted from the teacher's
// jsonSchemaValidator (internal/contract/jsonschema.go): compile once
// at registration, validate many times per name.
package schemacap

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/flowcraft/orcd/internal/actionrun"
)

// Validator implements actionrun.SchemaValidator over a set of
// pre-compiled named schemas.
type Validator struct {
	mu      sync.RWMutex
	schemas map[string]*jsonschema.Schema
}

// New returns an empty Validator; call RegisterInline/RegisterFile to
// add named schemas before use.
func New() *Validator {
	return &Validator{schemas: map[string]*jsonschema.Schema{}}
}

var _ actionrun.SchemaValidator = (*Validator)(nil)

// RegisterInline compiles raw JSON Schema bytes under name.
func (v *Validator) RegisterInline(name string, raw []byte) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("schemacap: parse schema %q: %w", name, err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, doc); err != nil {
		return fmt.Errorf("schemacap: add resource %q: %w", name, err)
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		return fmt.Errorf("schemacap: compile %q: %w", name, err)
	}
	v.mu.Lock()
	v.schemas[name] = schema
	v.mu.Unlock()
	return nil
}

// RegisterFile reads and compiles a schema from a file path, keyed
// under name.
func (v *Validator) RegisterFile(name, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("schemacap: read %q: %w", path, err)
	}
	return v.RegisterInline(name, raw)
}

// Validate runs the named schema against value, mirroring
// actionrun.SchemaValidator. An unregistered name is itself a schema
// failure (a missing expect.schema reference is a config mistake, not
// a business failure).
func (v *Validator) Validate(name string, value any) error {
	v.mu.RLock()
	schema, ok := v.schemas[name]
	v.mu.RUnlock()
	if !ok {
		return fmt.Errorf("schemacap: schema %q is not registered", name)
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("schemacap: marshal value: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		return fmt.Errorf("schemacap: round-trip value: %w", err)
	}

	return schema.Validate(decoded)
}
