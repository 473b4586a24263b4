package artifact

import (
	"fmt"
	"sort"

	"github.com/Mindburn-Labs/mplp-conform/pkg/lifecycle"
	"github.com/Mindburn-Labs/mplp-conform/pkg/schema"
)

// Graph is the linked set of artifacts of one pack. Every reference in the
// graph resolves to an artifact of the expected kind.
//
// Reads are safe for concurrent use. Mutations are not, and must not run
// while an evaluation reads the graph.
type Graph struct {
	machine   *lifecycle.Machine
	byID      map[string]*Artifact
	ordered   []*Artifact
	referrers map[string][]*Artifact
}

func newGraph(machine *lifecycle.Machine, artifacts []*Artifact) *Graph {
	g := &Graph{
		machine:   machine,
		byID:      make(map[string]*Artifact, len(artifacts)),
		referrers: make(map[string][]*Artifact),
	}
	for _, a := range artifacts {
		g.byID[a.ID] = a
		g.ordered = append(g.ordered, a)
	}
	sort.SliceStable(g.ordered, func(i, j int) bool {
		oi, oj := g.ordered[i].Kind.Order(), g.ordered[j].Kind.Order()
		if oi != oj {
			return oi < oj
		}
		return g.ordered[i].ID < g.ordered[j].ID
	})
	for _, a := range g.ordered {
		for _, r := range a.Refs {
			g.referrers[r.TargetID] = append(g.referrers[r.TargetID], a)
		}
	}
	return g
}

// Get returns the artifact with id.
func (g *Graph) Get(id string) (*Artifact, bool) {
	a, ok := g.byID[id]
	return a, ok
}

// Has reports whether at least one artifact of kind is present.
func (g *Graph) Has(kind schema.Kind) bool {
	for _, a := range g.ordered {
		if a.Kind == kind {
			return true
		}
	}
	return false
}

// All returns every artifact ordered by kind then id.
func (g *Graph) All() []*Artifact {
	out := make([]*Artifact, len(g.ordered))
	copy(out, g.ordered)
	return out
}

// OfKind returns the artifacts of kind ordered by id.
func (g *Graph) OfKind(kind schema.Kind) []*Artifact {
	var out []*Artifact
	for _, a := range g.ordered {
		if a.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}

// Len returns the number of artifacts.
func (g *Graph) Len() int { return len(g.ordered) }

// Resolve follows the reference stored in field of a.
func (g *Graph) Resolve(a *Artifact, field string) (*Artifact, bool) {
	id := a.RefTarget(field)
	if id == "" {
		return nil, false
	}
	return g.Get(id)
}

// Referrers returns the artifacts holding a reference to id, ordered by kind
// then id.
func (g *Graph) Referrers(id string) []*Artifact {
	return append([]*Artifact(nil), g.referrers[id]...)
}

// ReferrersOfKind filters Referrers by kind.
func (g *Graph) ReferrersOfKind(id string, kind schema.Kind) []*Artifact {
	var out []*Artifact
	for _, a := range g.referrers[id] {
		if a.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}

// Transition moves artifact id to status to and records it in the history.
// A terminal artifact yields *lifecycle.ImmutableArtifactError.
func (g *Graph) Transition(id, to string) error {
	a, err := g.mustGet(id)
	if err != nil {
		return err
	}
	if err := g.machine.Guard(a.ID, a.Kind, a.Status, to); err != nil {
		return err
	}
	if len(a.History) == 0 {
		a.History = []string{a.Status}
	}
	a.History = append(a.History, to)
	a.Status = to
	a.Fields[schema.FieldStatus] = to
	hist := make([]any, len(a.History))
	for i, h := range a.History {
		hist[i] = h
	}
	a.Fields[schema.FieldStatusHistory] = hist
	return nil
}

// SetField replaces one payload field. Common fields (id, kind, status,
// status_history) cannot be set this way.
func (g *Graph) SetField(id, name string, value any) error {
	a, err := g.mustGet(id)
	if err != nil {
		return err
	}
	if err := g.machine.GuardMutation(a.ID, a.Kind, a.Status, "set "+name); err != nil {
		return err
	}
	switch name {
	case schema.FieldID, schema.FieldKind, schema.FieldStatus, schema.FieldStatusHistory:
		return fmt.Errorf("artifact %s: field %q is managed by the lifecycle", id, name)
	}
	prev, had := a.Fields[name]
	a.Fields[name] = value
	p, err := decodePayload(a.Kind, a.Fields)
	if err != nil {
		if had {
			a.Fields[name] = prev
		} else {
			delete(a.Fields, name)
		}
		return err
	}
	a.Payload = p
	return nil
}

// AppendSegment adds a segment to a Trace.
func (g *Graph) AppendSegment(traceID string, seg TraceSegment) error {
	a, err := g.mustGet(traceID)
	if err != nil {
		return err
	}
	if a.Kind != schema.KindTrace {
		return fmt.Errorf("artifact %s is a %s, not a Trace", traceID, a.Kind)
	}
	if err := g.machine.GuardMutation(a.ID, a.Kind, a.Status, "append segment"); err != nil {
		return err
	}
	segments, _ := a.Fields["segments"].([]any)
	entry := map[string]any{
		"segment_id": seg.SegmentID,
		"label":      seg.Label,
	}
	if seg.StepID != "" {
		entry["step_id"] = seg.StepID
	}
	if seg.StartedAt != "" {
		entry["started_at"] = seg.StartedAt
	}
	if seg.Status != "" {
		entry["status"] = seg.Status
	}
	a.Fields["segments"] = append(segments, entry)
	a.Trace().Segments = append(a.Trace().Segments, seg)
	return nil
}

func (g *Graph) mustGet(id string) (*Artifact, error) {
	a, ok := g.byID[id]
	if !ok {
		return nil, fmt.Errorf("artifact %q not found", id)
	}
	return a, nil
}
