// Package constraint evaluates the normative module constraints of a ruleset
// against an artifact graph and emits one evidence record per
// (artifact, constraint) pair.
package constraint

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/Mindburn-Labs/mplp-conform/pkg/evidence"
	"github.com/Mindburn-Labs/mplp-conform/pkg/schema"
)

// Definition is the declarative form of a constraint as it appears in a
// ruleset file. Exactly one of Builtin, CEL or Oracle must be set.
type Definition struct {
	ID       string            `yaml:"id" json:"id"`
	Module   schema.Kind       `yaml:"module" json:"module"`
	Severity evidence.Severity `yaml:"severity" json:"severity"`
	Rule     string            `yaml:"rule" json:"rule"`
	Code     string            `yaml:"code,omitempty" json:"code,omitempty"`
	Builtin  string            `yaml:"builtin,omitempty" json:"builtin,omitempty"`
	CEL      string            `yaml:"cel,omitempty" json:"cel,omitempty"`
	Oracle   string            `yaml:"oracle,omitempty" json:"oracle,omitempty"`
	Params   map[string]any    `yaml:"params,omitempty" json:"params,omitempty"`
}

// Constraint is a compiled Definition.
type Constraint struct {
	Definition
	builtin BuiltinFunc
	program cel.Program
}

// Kind returns the predicate flavour: "builtin", "cel" or "oracle".
func (c *Constraint) Kind() string {
	switch {
	case c.builtin != nil:
		return "builtin"
	case c.program != nil:
		return "cel"
	default:
		return "oracle"
	}
}

// Table is the ordered, compiled constraint set of one ruleset.
type Table struct {
	ordered []*Constraint
	byID    map[string]*Constraint
	byKind  map[schema.Kind][]*Constraint
}

// NewTable compiles defs. Builtins are resolved by name and CEL expressions
// compiled once; any unknown builtin or invalid expression fails the load.
func NewTable(defs []Definition) (*Table, error) {
	env, err := newCELEnv()
	if err != nil {
		return nil, err
	}
	t := &Table{
		byID:   make(map[string]*Constraint, len(defs)),
		byKind: make(map[schema.Kind][]*Constraint),
	}
	for _, d := range defs {
		c, err := compile(env, d)
		if err != nil {
			return nil, err
		}
		if _, dup := t.byID[d.ID]; dup {
			return nil, fmt.Errorf("constraint %s: defined twice", d.ID)
		}
		t.byID[d.ID] = c
		t.ordered = append(t.ordered, c)
		t.byKind[d.Module] = append(t.byKind[d.Module], c)
	}
	return t, nil
}

func compile(env *cel.Env, d Definition) (*Constraint, error) {
	if d.ID == "" {
		return nil, fmt.Errorf("constraint: missing id")
	}
	if !d.Module.Valid() {
		return nil, fmt.Errorf("constraint %s: %w: %q", d.ID, schema.ErrUnknownModuleKind, d.Module)
	}
	if !d.Severity.Valid() {
		return nil, fmt.Errorf("constraint %s: invalid severity %q", d.ID, d.Severity)
	}
	set := 0
	for _, s := range []string{d.Builtin, d.CEL, d.Oracle} {
		if s != "" {
			set++
		}
	}
	if set != 1 {
		return nil, fmt.Errorf("constraint %s: exactly one of builtin, cel or oracle is required", d.ID)
	}
	if d.Code == "" {
		d.Code = evidence.ReasonConstraintViolation
		if d.Severity == evidence.SeverityMustNot {
			d.Code = evidence.ReasonForbiddenCondition
		}
	}

	c := &Constraint{Definition: d}
	switch {
	case d.Builtin != "":
		fn, ok := builtins[d.Builtin]
		if !ok {
			return nil, fmt.Errorf("constraint %s: unknown builtin %q", d.ID, d.Builtin)
		}
		c.builtin = fn
	case d.CEL != "":
		prg, err := compileCEL(env, d.CEL)
		if err != nil {
			return nil, fmt.Errorf("constraint %s: %w", d.ID, err)
		}
		c.program = prg
	}
	return c, nil
}

// All returns every constraint in table order.
func (t *Table) All() []*Constraint {
	return append([]*Constraint(nil), t.ordered...)
}

// ForKind returns the constraints registered for kind in table order.
func (t *Table) ForKind(kind schema.Kind) []*Constraint {
	return t.byKind[kind]
}

// Get returns the constraint with id.
func (t *Table) Get(id string) (*Constraint, bool) {
	c, ok := t.byID[id]
	return c, ok
}

// Len returns the number of constraints.
func (t *Table) Len() int { return len(t.ordered) }
