package registry

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/invopop/jsonschema"

	"github.com/hostbridge/mcp-host-go/mcp"
)

// NewTool builds a ToolDefinition whose input schema is derived from the
// typed argument struct A, so the declared shape always matches what the
// handler actually decodes. Unknown argument fields are rejected at call
// time to keep the advertised schema honest.
func NewTool[A any](name string, fn func(ctx context.Context, args A) (any, error), opts ...ToolOption) ToolDefinition {
	desc := mcp.Tool{
		Name:        name,
		InputSchema: reflectInputSchema[A](),
	}
	for _, opt := range opts {
		opt(&desc)
	}

	handler := func(ctx context.Context, raw map[string]any) (any, error) {
		var a A
		if len(raw) > 0 {
			b, err := json.Marshal(raw)
			if err != nil {
				return nil, err
			}
			dec := json.NewDecoder(bytes.NewReader(b))
			dec.DisallowUnknownFields()
			if err := dec.Decode(&a); err != nil {
				return nil, err
			}
		}
		return fn(ctx, a)
	}

	return ToolDefinition{Descriptor: desc, Handler: handler}
}

// reflectInputSchema reflects a Go struct type into the simplified MCP input
// schema. Non-object shapes fall back to a strict empty object.
func reflectInputSchema[A any]() mcp.ToolInputSchema {
	r := &jsonschema.Reflector{
		DoNotReference: true, // inline defs
		ExpandedStruct: true, // put struct at root
	}
	s := r.Reflect(new(A))
	if s == nil || s.Type != "object" {
		return mcp.ToolInputSchema{Type: "object", Properties: map[string]mcp.SchemaProperty{}}
	}

	props := make(map[string]mcp.SchemaProperty)
	if s.Properties != nil {
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			props[el.Key] = toSchemaProperty(el.Value)
		}
	}
	var required []string
	if len(s.Required) > 0 {
		required = append(required, s.Required...)
	}

	return mcp.ToolInputSchema{
		Type:       "object",
		Properties: props,
		Required:   required,
	}
}

// toSchemaProperty recursively maps a jsonschema node to the simplified MCP
// property shape.
func toSchemaProperty(s *jsonschema.Schema) mcp.SchemaProperty {
	if s == nil {
		return mcp.SchemaProperty{}
	}
	p := mcp.SchemaProperty{
		Type:        s.Type,
		Description: s.Description,
	}
	if len(s.Enum) > 0 {
		p.Enum = s.Enum
	}
	if s.Type == "array" && s.Items != nil {
		item := toSchemaProperty(s.Items)
		p.Items = &item
	}
	if s.Type == "object" && s.Properties != nil {
		m := make(map[string]mcp.SchemaProperty, s.Properties.Len())
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			m[el.Key] = toSchemaProperty(el.Value)
		}
		p.Properties = m
	}
	return p
}
