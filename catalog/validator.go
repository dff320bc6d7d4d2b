package catalog

import (
	"bytes"
	stdjson "encoding/json"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/goccy/go-json"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Validator validates event properties against JSON Schema definitions.
// Compiled schemas are cached by content hash.
type Validator struct {
	mu    sync.RWMutex
	cache map[uint64]*jsonschema.Schema
}

// NewValidator creates a new schema validator.
func NewValidator() *Validator {
	return &Validator{
		cache: make(map[uint64]*jsonschema.Schema),
	}
}

// Compile checks that schema is a valid JSON Schema and caches it.
func (v *Validator) Compile(schema any) error {
	_, err := v.compile(schema)
	return err
}

// Validate checks data against schema. A nil or empty schema accepts
// everything.
func (v *Validator) Validate(schema, data any) error {
	if isEmpty(schema) {
		return nil
	}

	compiled, err := v.compile(schema)
	if err != nil {
		return fmt.Errorf("schema compilation error: %w", err)
	}

	// Round-trip through JSON so numbers and nested values take the shapes
	// the validator expects regardless of how the caller built them.
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal instance: %w", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("unmarshal instance: %w", err)
	}
	return compiled.Validate(inst)
}

func (v *Validator) compile(schema any) (*jsonschema.Schema, error) {
	raw, err := schemaBytes(schema)
	if err != nil {
		return nil, err
	}
	key := xxhash.Sum64(raw)

	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	url := fmt.Sprintf("rewind://schema/%016x.json", key)
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.mu.Lock()
	v.cache[key] = compiled
	v.mu.Unlock()

	return compiled, nil
}

func schemaBytes(schema any) ([]byte, error) {
	switch s := schema.(type) {
	case stdjson.RawMessage:
		return s, nil
	case []byte:
		return s, nil
	default:
		raw, err := json.Marshal(schema)
		if err != nil {
			return nil, fmt.Errorf("marshal schema: %w", err)
		}
		return raw, nil
	}
}

func isEmpty(schema any) bool {
	switch s := schema.(type) {
	case nil:
		return true
	case stdjson.RawMessage:
		return len(bytes.TrimSpace(s)) == 0 || string(bytes.TrimSpace(s)) == "null"
	case []byte:
		return len(bytes.TrimSpace(s)) == 0
	default:
		return false
	}
}
