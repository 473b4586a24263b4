package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrUnknownModuleKind is returned when a kind is not part of the registry.
var ErrUnknownModuleKind = errors.New("unknown module kind")

const schemaBaseURL = "https://mplp-conform.local/schemas"

// Registry holds the module definitions of one ruleset. It is immutable after
// NewRegistry returns and safe for concurrent use.
type Registry struct {
	defs map[Kind]*ModuleDefinition
}

// NewRegistry validates the definitions and compiles a JSON Schema for each.
// Every kind of the closed set must be defined exactly once. The registry
// takes ownership of defs.
func NewRegistry(defs []*ModuleDefinition) (*Registry, error) {
	r := &Registry{defs: make(map[Kind]*ModuleDefinition, len(defs))}
	for _, d := range defs {
		if d == nil {
			return nil, errors.New("schema: nil module definition")
		}
		if !d.Kind.Valid() {
			return nil, fmt.Errorf("schema: %w: %q", ErrUnknownModuleKind, d.Kind)
		}
		if _, dup := r.defs[d.Kind]; dup {
			return nil, fmt.Errorf("schema: module %s defined twice", d.Kind)
		}
		d.addCommonFields()
		if err := d.check(); err != nil {
			return nil, fmt.Errorf("schema: %w", err)
		}
		r.defs[d.Kind] = d
	}
	for _, k := range kindOrder {
		if _, ok := r.defs[k]; !ok {
			return nil, fmt.Errorf("schema: module %s is not defined", k)
		}
	}
	for _, k := range kindOrder {
		if err := r.defs[k].compile(); err != nil {
			return nil, fmt.Errorf("schema: %w", err)
		}
	}
	return r, nil
}

// Get returns the definition for kind.
func (r *Registry) Get(kind Kind) (*ModuleDefinition, error) {
	d, ok := r.defs[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModuleKind, kind)
	}
	return d, nil
}

// Definitions returns all definitions in canonical kind order.
func (r *Registry) Definitions() []*ModuleDefinition {
	out := make([]*ModuleDefinition, 0, len(r.defs))
	for _, k := range kindOrder {
		out = append(out, r.defs[k])
	}
	return out
}

func (d *ModuleDefinition) compile() error {
	doc := map[string]any{
		"$schema":     "https://json-schema.org/draft/2020-12/schema",
		"$id":         d.schemaURL(),
		"title":       string(d.Kind),
		"type":        "object",
		"properties":  propertiesOf(d.Fields, d.Shapes),
		"required":    append([]string(nil), d.Required...),
		"description": d.Description,
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("module %s: marshal schema: %w", d.Kind, err)
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(d.schemaURL(), strings.NewReader(string(raw))); err != nil {
		return fmt.Errorf("module %s: schema load failed: %w", d.Kind, err)
	}
	compiled, err := c.Compile(d.schemaURL())
	if err != nil {
		return fmt.Errorf("module %s: schema compile failed: %w", d.Kind, err)
	}
	d.compiled = compiled
	d.document = doc
	return nil
}

func (d *ModuleDefinition) schemaURL() string {
	return fmt.Sprintf("%s/%s.schema.json", schemaBaseURL, strings.ToLower(string(d.Kind)))
}

func propertiesOf(fields map[string]FieldSpec, shapes map[string]Shape) map[string]any {
	props := make(map[string]any, len(fields))
	for name, f := range fields {
		props[name] = fieldSchema(f, shapes)
	}
	return props
}

func fieldSchema(f FieldSpec, shapes map[string]Shape) map[string]any {
	out := map[string]any{}
	switch f.Type {
	case TypeAny:
		return out
	case TypeArray:
		out["type"] = "array"
		if f.Items != "" {
			out["items"] = fieldSchema(FieldSpec{Type: f.Items, Shape: f.Shape, Enum: f.Enum}, shapes)
		}
		return out
	case TypeObject:
		out["type"] = "object"
		if f.Shape != "" {
			shape := shapes[f.Shape]
			out["properties"] = propertiesOf(shape.Fields, shapes)
			req := append([]string(nil), shape.Required...)
			sort.Strings(req)
			out["required"] = req
		}
		return out
	default:
		out["type"] = string(f.Type)
	}
	if len(f.Enum) > 0 {
		enum := make([]any, len(f.Enum))
		for i, e := range f.Enum {
			enum[i] = e
		}
		out["enum"] = enum
	}
	return out
}
