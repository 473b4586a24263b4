package schema

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Violation codes reported by Validate.
const (
	CodeMissingField  = "missing_field"
	CodeTypeMismatch  = "type_mismatch"
	CodeInvalidStatus = "invalid_status"
	CodeInvalidValue  = "invalid_value"
)

// FieldError is one schema failure inside a document.
type FieldError struct {
	Code    string `json:"code"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s at %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks a decoded JSON document against the module schema. The
// document must come from encoding/json (numbers as float64 or json.Number).
// The returned errors are sorted by field then code.
func (d *ModuleDefinition) Validate(doc any) []FieldError {
	if d.compiled == nil {
		return []FieldError{{Code: CodeTypeMismatch, Message: "module schema not compiled"}}
	}
	err := d.compiled.Validate(doc)
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return []FieldError{{Code: CodeTypeMismatch, Message: err.Error()}}
	}

	var out []FieldError
	for _, leaf := range leaves(ve) {
		out = append(out, d.classify(leaf, doc)...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Field != out[j].Field {
			return out[i].Field < out[j].Field
		}
		return out[i].Code < out[j].Code
	})
	return dedupe(out)
}

func leaves(ve *jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*jsonschema.ValidationError{ve}
	}
	var out []*jsonschema.ValidationError
	for _, c := range ve.Causes {
		out = append(out, leaves(c)...)
	}
	return out
}

func (d *ModuleDefinition) classify(ve *jsonschema.ValidationError, doc any) []FieldError {
	path := pointerSegments(ve.InstanceLocation)
	keyword := lastSegment(ve.KeywordLocation)

	switch keyword {
	case "required":
		present := objectAt(doc, path)
		var out []FieldError
		for _, name := range d.requiredAt(path) {
			if _, ok := present[name]; ok {
				continue
			}
			out = append(out, FieldError{
				Code:    CodeMissingField,
				Field:   renderPath(append(append([]string(nil), path...), name)),
				Message: "required field is missing",
			})
		}
		if len(out) == 0 {
			out = append(out, FieldError{Code: CodeMissingField, Field: renderPath(path), Message: ve.Message})
		}
		return out
	case "enum":
		code := CodeInvalidValue
		if len(path) > 0 && (path[0] == FieldStatus || path[0] == FieldStatusHistory) {
			code = CodeInvalidStatus
		}
		return []FieldError{{Code: code, Field: renderPath(path), Message: ve.Message}}
	default:
		return []FieldError{{Code: CodeTypeMismatch, Field: renderPath(path), Message: ve.Message}}
	}
}

// requiredAt resolves the required list of the object shape found at path.
func (d *ModuleDefinition) requiredAt(path []string) []string {
	fields, required := d.Fields, d.Required
	for i := 0; i < len(path); i++ {
		f, ok := fields[path[i]]
		if !ok || f.Shape == "" {
			return nil
		}
		switch {
		case f.Type == TypeObject:
		case f.Type == TypeArray && f.Items == TypeObject:
			i++ // skip the element index
		default:
			return nil
		}
		shape := d.Shapes[f.Shape]
		fields, required = shape.Fields, shape.Required
	}
	return required
}

func objectAt(doc any, path []string) map[string]any {
	cur := doc
	for _, seg := range path {
		switch v := cur.(type) {
		case map[string]any:
			cur = v[seg]
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil
			}
			cur = v[idx]
		default:
			return nil
		}
	}
	m, _ := cur.(map[string]any)
	return m
}

func pointerSegments(ptr string) []string {
	ptr = strings.TrimPrefix(ptr, "#")
	if ptr == "" || ptr == "/" {
		return nil
	}
	parts := strings.Split(strings.TrimPrefix(ptr, "/"), "/")
	for i, p := range parts {
		p = strings.ReplaceAll(p, "~1", "/")
		parts[i] = strings.ReplaceAll(p, "~0", "~")
	}
	return parts
}

func lastSegment(ptr string) string {
	segs := pointerSegments(ptr)
	if len(segs) == 0 {
		return ""
	}
	return segs[len(segs)-1]
}

// renderPath turns ["steps","0","step_id"] into "steps[0].step_id".
func renderPath(path []string) string {
	var b strings.Builder
	for _, seg := range path {
		if _, err := strconv.Atoi(seg); err == nil {
			b.WriteString("[" + seg + "]")
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(seg)
	}
	return b.String()
}

func dedupe(in []FieldError) []FieldError {
	if len(in) < 2 {
		return in
	}
	out := in[:1]
	for _, e := range in[1:] {
		last := out[len(out)-1]
		if e.Code == last.Code && e.Field == last.Field {
			continue
		}
		out = append(out, e)
	}
	return out
}
