// Package lifecycle enforces per-module status transition tables.
package lifecycle

import (
	"fmt"
	"sort"

	"github.com/Mindburn-Labs/mplp-conform/pkg/schema"
)

// ImmutableArtifactError is returned for any mutation of an artifact whose
// status is terminal.
type ImmutableArtifactError struct {
	ArtifactID string
	Kind       schema.Kind
	Status     string
	Operation  string
}

func (e *ImmutableArtifactError) Error() string {
	id := e.ArtifactID
	if id == "" {
		id = "<unnamed>"
	}
	return fmt.Sprintf("immutable artifact: %s %s is terminal (%s); %s refused", e.Kind, id, e.Status, e.Operation)
}

// IllegalTransitionError is returned when a transition is not in the table.
type IllegalTransitionError struct {
	ArtifactID string
	Kind       schema.Kind
	From       string
	To         string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal transition: %s %s %s -> %s", e.Kind, e.ArtifactID, e.From, e.To)
}

type table struct {
	edges    map[string]map[string]bool
	terminal map[string]bool
	statuses []string
}

// Machine answers transition questions for every kind of a registry.
type Machine struct {
	tables map[schema.Kind]*table
}

// New builds a machine from the transition tables in reg. A status is
// terminal exactly when it has no outgoing transitions.
func New(reg *schema.Registry) *Machine {
	m := &Machine{tables: make(map[schema.Kind]*table)}
	for _, def := range reg.Definitions() {
		t := &table{
			edges:    make(map[string]map[string]bool),
			terminal: make(map[string]bool),
			statuses: append([]string(nil), def.StatusEnum...),
		}
		for from, tos := range def.Transitions {
			if len(tos) == 0 {
				continue
			}
			t.edges[from] = make(map[string]bool, len(tos))
			for _, to := range tos {
				t.edges[from][to] = true
			}
		}
		for _, s := range def.StatusEnum {
			if len(t.edges[s]) == 0 {
				t.terminal[s] = true
			}
		}
		m.tables[def.Kind] = t
	}
	return m
}

// IsLegalTransition reports whether from -> to appears in the table of kind.
func (m *Machine) IsLegalTransition(kind schema.Kind, from, to string) bool {
	t, ok := m.tables[kind]
	if !ok {
		return false
	}
	return t.edges[from][to]
}

// IsTerminal reports whether status has no outgoing transitions.
func (m *Machine) IsTerminal(kind schema.Kind, status string) bool {
	t, ok := m.tables[kind]
	if !ok {
		return false
	}
	return t.terminal[status]
}

// TerminalStatuses lists the terminal statuses of kind, sorted.
func (m *Machine) TerminalStatuses(kind schema.Kind) []string {
	t, ok := m.tables[kind]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(t.terminal))
	for s := range t.terminal {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Check validates a transition of an unnamed artifact. See Guard.
func (m *Machine) Check(kind schema.Kind, from, to string) error {
	return m.Guard("", kind, from, to)
}

// Guard validates the transition of artifact id. Terminality is checked
// first: a terminal artifact yields *ImmutableArtifactError even when the
// target would be illegal anyway.
func (m *Machine) Guard(id string, kind schema.Kind, from, to string) error {
	if m.IsTerminal(kind, from) {
		return &ImmutableArtifactError{ArtifactID: id, Kind: kind, Status: from, Operation: "transition to " + to}
	}
	if !m.IsLegalTransition(kind, from, to) {
		return &IllegalTransitionError{ArtifactID: id, Kind: kind, From: from, To: to}
	}
	return nil
}

// GuardMutation refuses any mutation of a terminal artifact.
func (m *Machine) GuardMutation(id string, kind schema.Kind, status, operation string) error {
	if m.IsTerminal(kind, status) {
		return &ImmutableArtifactError{ArtifactID: id, Kind: kind, Status: status, Operation: operation}
	}
	return nil
}
