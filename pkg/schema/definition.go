package schema

import (
	"fmt"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// FieldType is the declared JSON type of a module field.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeInteger FieldType = "integer"
	TypeNumber  FieldType = "number"
	TypeBoolean FieldType = "boolean"
	TypeObject  FieldType = "object"
	TypeArray   FieldType = "array"
	TypeAny     FieldType = "any"
)

func (t FieldType) valid() bool {
	switch t {
	case TypeString, TypeInteger, TypeNumber, TypeBoolean, TypeObject, TypeArray, TypeAny:
		return true
	}
	return false
}

// Common fields carried by every artifact regardless of kind.
const (
	FieldID            = "id"
	FieldKind          = "kind"
	FieldStatus        = "status"
	FieldStatusHistory = "status_history"
)

// FieldSpec declares one field of a module or nested shape.
type FieldSpec struct {
	Type FieldType `yaml:"type" json:"type"`
	// Shape names a nested object shape for objects, or for array elements
	// when Items is "object".
	Shape string `yaml:"shape,omitempty" json:"shape,omitempty"`
	// Items is the element type for arrays.
	Items FieldType `yaml:"items,omitempty" json:"items,omitempty"`
	Enum  []string  `yaml:"enum,omitempty" json:"enum,omitempty"`
	// Ref marks the field as a reference to another artifact of this kind.
	Ref Kind `yaml:"ref,omitempty" json:"ref,omitempty"`
}

// Shape is a nested object schema, e.g. a Context's "root" or a Plan step.
type Shape struct {
	Fields   map[string]FieldSpec `yaml:"fields" json:"fields"`
	Required []string             `yaml:"required" json:"required"`
}

// Reference is a declared reference field and the kind it must point at.
type Reference struct {
	Field  string
	Target Kind
}

// ModuleDefinition is the immutable schema of one module kind.
type ModuleDefinition struct {
	Kind        Kind                 `yaml:"-" json:"kind"`
	Description string               `yaml:"description" json:"description,omitempty"`
	Fields      map[string]FieldSpec `yaml:"fields" json:"fields"`
	Required    []string             `yaml:"required" json:"required"`
	Shapes      map[string]Shape     `yaml:"shapes,omitempty" json:"shapes,omitempty"`
	StatusEnum  []string             `yaml:"status_enum" json:"status_enum"`
	Initial     string               `yaml:"initial,omitempty" json:"initial,omitempty"`
	Transitions map[string][]string  `yaml:"transitions" json:"transitions"`

	compiled *jsonschema.Schema
	document map[string]any
}

// Optional returns the declared fields that are not required, sorted.
func (d *ModuleDefinition) Optional() []string {
	req := make(map[string]bool, len(d.Required))
	for _, r := range d.Required {
		req[r] = true
	}
	var out []string
	for name := range d.Fields {
		if !req[name] {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// References returns the declared reference fields sorted by name.
func (d *ModuleDefinition) References() []Reference {
	var out []Reference
	for name, f := range d.Fields {
		if f.Ref != "" {
			out = append(out, Reference{Field: name, Target: f.Ref})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Field < out[j].Field })
	return out
}

// HasStatus reports whether status is a member of the status enumeration.
func (d *ModuleDefinition) HasStatus(status string) bool {
	for _, s := range d.StatusEnum {
		if s == status {
			return true
		}
	}
	return false
}

// JSONSchema returns the generated JSON Schema document for this module.
func (d *ModuleDefinition) JSONSchema() map[string]any {
	return d.document
}

// addCommonFields injects id, kind, status and status_history.
func (d *ModuleDefinition) addCommonFields() {
	if d.Fields == nil {
		d.Fields = make(map[string]FieldSpec)
	}
	d.Fields[FieldID] = FieldSpec{Type: TypeString}
	d.Fields[FieldKind] = FieldSpec{Type: TypeString}
	d.Fields[FieldStatus] = FieldSpec{Type: TypeString, Enum: d.StatusEnum}
	d.Fields[FieldStatusHistory] = FieldSpec{Type: TypeArray, Items: TypeString, Enum: d.StatusEnum}

	seen := make(map[string]bool, len(d.Required))
	for _, r := range d.Required {
		seen[r] = true
	}
	for _, r := range []string{FieldID, FieldKind, FieldStatus} {
		if !seen[r] {
			d.Required = append(d.Required, r)
		}
	}
	sort.Strings(d.Required)
}

// check enforces the registry load-time invariants for one definition.
func (d *ModuleDefinition) check() error {
	if len(d.StatusEnum) == 0 {
		return fmt.Errorf("module %s: status enumeration is empty", d.Kind)
	}
	statuses := make(map[string]bool, len(d.StatusEnum))
	for _, s := range d.StatusEnum {
		if statuses[s] {
			return fmt.Errorf("module %s: duplicate status %q", d.Kind, s)
		}
		statuses[s] = true
	}
	if d.Initial != "" && !statuses[d.Initial] {
		return fmt.Errorf("module %s: initial status %q is not declared", d.Kind, d.Initial)
	}
	for from, tos := range d.Transitions {
		if !statuses[from] {
			return fmt.Errorf("module %s: transition from undeclared status %q", d.Kind, from)
		}
		for _, to := range tos {
			if !statuses[to] {
				return fmt.Errorf("module %s: transition %s -> %s targets undeclared status", d.Kind, from, to)
			}
		}
	}
	if err := checkFields(d.Kind, "", d.Fields, d.Required, d.Shapes); err != nil {
		return err
	}
	for name, shape := range d.Shapes {
		if err := checkFields(d.Kind, name, shape.Fields, shape.Required, d.Shapes); err != nil {
			return err
		}
	}
	return checkShapeCycles(d.Kind, d.Shapes)
}

// checkShapeCycles rejects shapes that contain themselves; generated
// schemas inline every shape.
func checkShapeCycles(kind Kind, shapes map[string]Shape) error {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(shapes))
	var visit func(name string) error
	visit = func(name string) error {
		switch color[name] {
		case grey:
			return fmt.Errorf("module %s: shape %q is recursive", kind, name)
		case black:
			return nil
		}
		color[name] = grey
		for _, f := range shapes[name].Fields {
			if f.Shape != "" {
				if err := visit(f.Shape); err != nil {
					return err
				}
			}
		}
		color[name] = black
		return nil
	}
	names := make([]string, 0, len(shapes))
	for name := range shapes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := visit(name); err != nil {
			return err
		}
	}
	return nil
}

func checkFields(kind Kind, shape string, fields map[string]FieldSpec, required []string, shapes map[string]Shape) error {
	where := string(kind)
	if shape != "" {
		where = fmt.Sprintf("%s.%s", kind, shape)
	}
	for _, r := range required {
		if _, ok := fields[r]; !ok {
			return fmt.Errorf("module %s: required field %q is not declared", where, r)
		}
	}
	for name, f := range fields {
		if !f.Type.valid() {
			return fmt.Errorf("module %s: field %q has unknown type %q", where, name, f.Type)
		}
		if f.Type == TypeArray && f.Items != "" && !f.Items.valid() {
			return fmt.Errorf("module %s: field %q has unknown item type %q", where, name, f.Items)
		}
		if f.Shape != "" {
			if _, ok := shapes[f.Shape]; !ok {
				return fmt.Errorf("module %s: field %q uses undeclared shape %q", where, name, f.Shape)
			}
		}
		if f.Ref != "" {
			if !f.Ref.Valid() {
				return fmt.Errorf("module %s: field %q references unknown kind %q", where, name, f.Ref)
			}
			if shape != "" {
				return fmt.Errorf("module %s: reference field %q must be top-level", where, name)
			}
		}
	}
	return nil
}
