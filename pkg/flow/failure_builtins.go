package flow

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Mindburn-Labs/mplp-conform/pkg/artifact"
	"github.com/Mindburn-Labs/mplp-conform/pkg/schema"
)

// GovernancePermission marks a Role able to intervene in a collaboration.
const GovernancePermission = "governance.intervene"

// DriftSegment and RecoverySegment are the trace labels that record drift.
const (
	DriftSegment    = "drift_detected"
	RecoverySegment = "drift_recovered"
)

// trigger is the result of a failure predicate.
type trigger struct {
	fired    bool
	reason   string
	subjects []string
}

type failureFunc func(g *artifact.Graph) trigger

var failureBuiltins = map[string]failureFunc{
	"plan_without_steps":            planWithoutSteps,
	"trace_missing_for_plan":        traceMissingForPlan,
	"execution_without_approval":    executionWithoutApproval,
	"executed_despite_rejection":    executedDespiteRejection,
	"unassigned_plan_roles":         unassignedPlanRoles,
	"drift_unrecovered":             driftUnrecovered,
	"drift_unrecorded":              driftUnrecorded,
	"governance_role_absent":        governanceRoleAbsent,
	"extension_not_enabled_in_core": extensionNotEnabledInCore,
	"network_node_unassigned":       networkNodeUnassigned,
}

// FailureBuiltins lists the named failure predicates, sorted.
func FailureBuiltins() []string {
	out := make([]string, 0, len(failureBuiltins))
	for name := range failureBuiltins {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func fired(reason string, subjects ...string) trigger {
	return trigger{fired: true, reason: reason, subjects: subjects}
}

func planWithoutSteps(g *artifact.Graph) trigger {
	var ids []string
	for _, p := range g.OfKind(schema.KindPlan) {
		if len(p.Plan().Steps) == 0 {
			ids = append(ids, p.ID)
		}
	}
	if len(ids) > 0 {
		return fired("plans without steps: "+strings.Join(ids, ", "), ids...)
	}
	return trigger{}
}

func traceMissingForPlan(g *artifact.Graph) trigger {
	var ids []string
	for _, p := range g.OfKind(schema.KindPlan) {
		if !p.HasStatus("in_progress", "completed", "failed") {
			continue
		}
		if len(tracesForPlan(g, p)) == 0 {
			ids = append(ids, p.ID)
		}
	}
	if len(ids) > 0 {
		return fired("executed plans without a trace: "+strings.Join(ids, ", "), ids...)
	}
	return trigger{}
}

// tracesForPlan returns the traces recording plan p: those naming it by
// plan_id, plus traces in the plan's context that name no plan at all.
func tracesForPlan(g *artifact.Graph, p *artifact.Artifact) []*artifact.Artifact {
	out := g.ReferrersOfKind(p.ID, schema.KindTrace)
	ctxID := p.RefTarget("context_id")
	if ctxID == "" {
		return out
	}
	for _, t := range g.ReferrersOfKind(ctxID, schema.KindTrace) {
		if t.RefTarget("plan_id") == "" {
			out = append(out, t)
		}
	}
	return out
}

func confirmsFor(g *artifact.Graph, planID, status string) []*artifact.Artifact {
	var out []*artifact.Artifact
	for _, c := range g.ReferrersOfKind(planID, schema.KindConfirm) {
		if c.RefTarget("plan_id") == planID && c.Status == status {
			out = append(out, c)
		}
	}
	return out
}

func executionWithoutApproval(g *artifact.Graph) trigger {
	var ids []string
	for _, p := range g.OfKind(schema.KindPlan) {
		if !p.HasStatus("in_progress", "completed") {
			continue
		}
		if len(confirmsFor(g, p.ID, "approved")) == 0 {
			ids = append(ids, p.ID)
		}
	}
	if len(ids) > 0 {
		return fired("plans executed without an approved confirm: "+strings.Join(ids, ", "), ids...)
	}
	return trigger{}
}

func executedDespiteRejection(g *artifact.Graph) trigger {
	var ids []string
	for _, p := range g.OfKind(schema.KindPlan) {
		if !p.HasStatus("in_progress", "completed") {
			continue
		}
		if len(confirmsFor(g, p.ID, "rejected")) > 0 && len(confirmsFor(g, p.ID, "approved")) == 0 {
			ids = append(ids, p.ID)
		}
	}
	if len(ids) > 0 {
		return fired("plans executed after rejection: "+strings.Join(ids, ", "), ids...)
	}
	return trigger{}
}

func isRole(g *artifact.Graph, id string) bool {
	a, ok := g.Get(id)
	return ok && a.Kind == schema.KindRole
}

func unassignedPlanRoles(g *artifact.Graph) trigger {
	var bad []string
	for _, p := range g.OfKind(schema.KindPlan) {
		for _, s := range p.Plan().Steps {
			if s.AgentRole == "" || !isRole(g, s.AgentRole) {
				bad = append(bad, p.ID+"/"+s.StepID)
			}
		}
	}
	if len(bad) > 0 {
		return fired("steps without a resolvable agent role: "+strings.Join(bad, ", "), bad...)
	}
	return trigger{}
}

func hasSegment(t *artifact.Artifact, label string) bool {
	for _, s := range t.Trace().Segments {
		if s.Label == label {
			return true
		}
	}
	return false
}

// driftUnrecovered fires when a trace recorded drift but neither a
// superseding plan nor a recovery segment exists.
func driftUnrecovered(g *artifact.Graph) trigger {
	superseded := make(map[string]bool)
	for _, p := range g.OfKind(schema.KindPlan) {
		if id := p.Plan().SupersedesPlanID; id != "" {
			superseded[id] = true
		}
	}
	var ids []string
	for _, t := range g.OfKind(schema.KindTrace) {
		if !hasSegment(t, DriftSegment) || hasSegment(t, RecoverySegment) {
			continue
		}
		if planID := t.RefTarget("plan_id"); planID == "" || !superseded[planID] {
			ids = append(ids, t.ID)
		}
	}
	if len(ids) > 0 {
		return fired("drift detected without recovery in traces: "+strings.Join(ids, ", "), ids...)
	}
	return trigger{}
}

// driftUnrecorded fires when a trace ran undeclared steps without recording
// a drift segment.
func driftUnrecorded(g *artifact.Graph) trigger {
	var ids []string
	for _, t := range g.OfKind(schema.KindTrace) {
		plan, ok := g.Resolve(t, "plan_id")
		if !ok || hasSegment(t, DriftSegment) {
			continue
		}
		declared := make(map[string]bool)
		for _, id := range plan.Plan().StepIDs() {
			declared[id] = true
		}
		for _, s := range t.Trace().Segments {
			if s.StepID != "" && !declared[s.StepID] {
				ids = append(ids, t.ID)
				break
			}
		}
	}
	if len(ids) > 0 {
		return fired("undeclared steps executed without a drift record: "+strings.Join(ids, ", "), ids...)
	}
	return trigger{}
}

func governanceRoleAbsent(g *artifact.Graph) trigger {
	for _, r := range g.OfKind(schema.KindRole) {
		if r.Status == "revoked" {
			continue
		}
		for _, p := range r.Role().Permissions {
			if p == GovernancePermission {
				return trigger{}
			}
		}
	}
	return fired(fmt.Sprintf("no role grants %s", GovernancePermission))
}

func extensionNotEnabledInCore(g *artifact.Graph) trigger {
	enabled := make(map[string]bool)
	for _, c := range g.OfKind(schema.KindCore) {
		for _, e := range c.Core().Extensions {
			enabled[e] = true
		}
	}
	var ids []string
	for _, e := range g.OfKind(schema.KindExtension) {
		if e.Status == "active" && !enabled[e.Extension().Name] {
			ids = append(ids, e.ID)
		}
	}
	if len(ids) > 0 {
		return fired("active extensions not enabled by core: "+strings.Join(ids, ", "), ids...)
	}
	return trigger{}
}

func networkNodeUnassigned(g *artifact.Graph) trigger {
	var bad []string
	for _, n := range g.OfKind(schema.KindNetwork) {
		for _, node := range n.Network().Nodes {
			if node.AgentRole == "" || !isRole(g, node.AgentRole) {
				bad = append(bad, n.ID+"/"+node.NodeID)
			}
		}
	}
	if len(bad) > 0 {
		return fired("network nodes without a resolvable role: "+strings.Join(bad, ", "), bad...)
	}
	return trigger{}
}
