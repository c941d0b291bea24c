// Package jsonschema validates tool arguments against generated JSON Schemas.
package jsonschema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/kessel-b2b/aigate/internal/port/outbound"
)

const maxCachedSchemas = 1024

// Validator compiles schemas once per distinct document. Safe for concurrent use.
type Validator struct {
	mu      sync.RWMutex
	schemas map[uint64]*jsonschema.Schema
}

// NewValidator creates a Validator.
func NewValidator() *Validator {
	return &Validator{schemas: make(map[uint64]*jsonschema.Schema)}
}

// Validate checks args against schema. The returned error lists every
// violation.
func (v *Validator) Validate(schema, args map[string]any) error {
	sch, err := v.compile(schema)
	if err != nil {
		return err
	}
	if args == nil {
		args = map[string]any{}
	}
	// Round trip so instances carry the JSON types the validator expects.
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	if err := sch.Validate(inst); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

func (v *Validator) compile(schema map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	key := xxhash.Sum64(raw)

	v.mu.RLock()
	sch, ok := v.schemas[key]
	v.mu.RUnlock()
	if ok {
		return sch, nil
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	url := "mem://schema/" + strconv.FormatUint(key, 16) + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("schema compile error: %w", err)
	}
	sch, err = c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("schema compile error: %w", err)
	}

	v.mu.Lock()
	if len(v.schemas) >= maxCachedSchemas {
		clear(v.schemas)
	}
	v.schemas[key] = sch
	v.mu.Unlock()
	return sch, nil
}

var _ outbound.SchemaValidator = (*Validator)(nil)
