// Package flow runs Golden Flow scenarios: end-to-end behavioural checks
// over a whole artifact graph.
package flow

import (
	"errors"
	"fmt"
	"sort"

	"github.com/Mindburn-Labs/mplp-conform/pkg/schema"
)

// ErrUnknownScenario is returned for a scenario id not in the catalog.
var ErrUnknownScenario = errors.New("unknown scenario")

// Witness describes the artifact that proves a step happened.
type Witness struct {
	Module schema.Kind `yaml:"module" json:"module"`
	// Statuses match the current status or any status_history entry. Empty
	// matches any status.
	Statuses []string `yaml:"statuses,omitempty" json:"statuses,omitempty"`
	// Field, when set, must be present and non-empty.
	Field string `yaml:"field,omitempty" json:"field,omitempty"`
	// Segment, for Trace witnesses, names a segment label that must exist.
	Segment string `yaml:"segment,omitempty" json:"segment,omitempty"`
}

// Step is one ordered stage of a flow.
type Step struct {
	Name    string  `yaml:"name" json:"name"`
	Desc    string  `yaml:"desc" json:"desc"`
	Witness Witness `yaml:"witness" json:"witness"`
}

// ScopeEntry binds a module constraint to the flow's normative scope.
type ScopeEntry struct {
	Module     schema.Kind `yaml:"module" json:"module"`
	Constraint string      `yaml:"constraint" json:"constraint"`
	Rule       string      `yaml:"rule" json:"rule"`
}

// EvidenceMatch selects failed records. Empty lists match anything.
type EvidenceMatch struct {
	Codes   []string      `yaml:"codes,omitempty" json:"codes,omitempty"`
	Modules []schema.Kind `yaml:"modules,omitempty" json:"modules,omitempty"`
	Rules   []string      `yaml:"rules,omitempty" json:"rules,omitempty"`
}

// FailureCondition is a named way a flow can fail. Exactly one of Evidence
// or Builtin is set.
type FailureCondition struct {
	ID       string         `yaml:"id" json:"id"`
	Text     string         `yaml:"text" json:"text"`
	Evidence *EvidenceMatch `yaml:"evidence,omitempty" json:"evidence,omitempty"`
	Builtin  string         `yaml:"builtin,omitempty" json:"builtin,omitempty"`
}

// Scenario is a Golden Flow definition.
type Scenario struct {
	ID                string             `yaml:"id" json:"id"`
	Title             string             `yaml:"title" json:"title"`
	Description       string             `yaml:"description,omitempty" json:"description,omitempty"`
	KeyModules        []schema.Kind      `yaml:"key_modules" json:"key_modules"`
	NormativeScope    []ScopeEntry       `yaml:"normative_scope" json:"normative_scope"`
	FailureConditions []FailureCondition `yaml:"failure_conditions" json:"failure_conditions"`
	Steps             []Step             `yaml:"steps" json:"steps"`
}

// Catalog is the immutable set of scenarios of one ruleset.
type Catalog struct {
	byID map[string]*Scenario
	ids  []string
}

// NewCatalog validates scenarios. known reports whether a constraint id
// exists; it may be nil to skip that check.
func NewCatalog(scenarios []Scenario, known func(constraintID string) bool) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]*Scenario, len(scenarios))}
	for i := range scenarios {
		s := scenarios[i]
		if err := s.check(known); err != nil {
			return nil, err
		}
		if _, dup := c.byID[s.ID]; dup {
			return nil, fmt.Errorf("scenario %s: defined twice", s.ID)
		}
		c.byID[s.ID] = &s
		c.ids = append(c.ids, s.ID)
	}
	sort.Strings(c.ids)
	return c, nil
}

func (s *Scenario) check(known func(string) bool) error {
	if s.ID == "" {
		return errors.New("scenario: missing id")
	}
	for _, k := range s.KeyModules {
		if !k.Valid() {
			return fmt.Errorf("scenario %s: key module: %w: %q", s.ID, schema.ErrUnknownModuleKind, k)
		}
	}
	names := make(map[string]bool, len(s.Steps))
	for _, st := range s.Steps {
		if st.Name == "" {
			return fmt.Errorf("scenario %s: step without name", s.ID)
		}
		if names[st.Name] {
			return fmt.Errorf("scenario %s: step %s defined twice", s.ID, st.Name)
		}
		names[st.Name] = true
		if !st.Witness.Module.Valid() {
			return fmt.Errorf("scenario %s: step %s: %w: %q", s.ID, st.Name, schema.ErrUnknownModuleKind, st.Witness.Module)
		}
		if st.Witness.Segment != "" && st.Witness.Module != schema.KindTrace {
			return fmt.Errorf("scenario %s: step %s: segment witness requires module Trace", s.ID, st.Name)
		}
	}
	for _, fc := range s.FailureConditions {
		if (fc.Evidence == nil) == (fc.Builtin == "") {
			return fmt.Errorf("scenario %s: failure condition %s: exactly one of evidence or builtin is required", s.ID, fc.ID)
		}
		if fc.Builtin != "" {
			if _, ok := failureBuiltins[fc.Builtin]; !ok {
				return fmt.Errorf("scenario %s: failure condition %s: unknown builtin %q", s.ID, fc.ID, fc.Builtin)
			}
		}
	}
	for _, sc := range s.NormativeScope {
		if !sc.Module.Valid() {
			return fmt.Errorf("scenario %s: scope: %w: %q", s.ID, schema.ErrUnknownModuleKind, sc.Module)
		}
		if known != nil && !known(sc.Constraint) {
			return fmt.Errorf("scenario %s: scope names unknown constraint %q", s.ID, sc.Constraint)
		}
	}
	return nil
}

// Get returns the scenario with id.
func (c *Catalog) Get(id string) (*Scenario, error) {
	s, ok := c.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScenario, id)
	}
	return s, nil
}

// IDs returns every scenario id, sorted.
func (c *Catalog) IDs() []string {
	return append([]string(nil), c.ids...)
}

// All returns every scenario in id order.
func (c *Catalog) All() []*Scenario {
	out := make([]*Scenario, 0, len(c.ids))
	for _, id := range c.ids {
		out = append(out, c.byID[id])
	}
	return out
}
