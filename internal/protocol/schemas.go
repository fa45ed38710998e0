package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

// Schemas for every client -> server message, compiled once at startup.
var schemas = mustCompileSchemas()

func mustCompileSchemas() map[string]*jsonschema.Schema {
	types := []string{
		TypeHello,
		TypeEntityAdded,
		TypeEntityModified,
		TypeEntityRemoved,
		TypeBlueprintAdded,
		TypeBlueprintModified,
	}
	out := make(map[string]*jsonschema.Schema, len(types))
	for _, t := range types {
		name := fmt.Sprintf("schemas/%s.schema.json", t)
		raw, err := schemaFS.ReadFile(name)
		if err != nil {
			panic(fmt.Sprintf("protocol: missing schema %s: %v", name, err))
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(name, bytes.NewReader(raw)); err != nil {
			panic(fmt.Sprintf("protocol: add schema %s: %v", name, err))
		}
		s, err := c.Compile(name)
		if err != nil {
			panic(fmt.Sprintf("protocol: compile schema %s: %v", name, err))
		}
		out[t] = s
	}
	return out
}

// HasSchema reports whether msgType is a validated client message type.
func HasSchema(msgType string) bool {
	_, ok := schemas[msgType]
	return ok
}

// Validate checks raw against the schema for msgType. Unknown types fail.
func Validate(msgType string, raw []byte) error {
	s, ok := schemas[msgType]
	if !ok {
		return fmt.Errorf("no schema for message type %q", msgType)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("decode %s: %w", msgType, err)
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("validate %s: %w", msgType, err)
	}
	return nil
}
