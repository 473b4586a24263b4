package constraint

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/Mindburn-Labs/mplp-conform/pkg/artifact"
	"github.com/Mindburn-Labs/mplp-conform/pkg/evidence"
	"github.com/Mindburn-Labs/mplp-conform/pkg/schema"
)

// Input is what a builtin predicate sees.
type Input struct {
	Artifact *artifact.Artifact
	Graph    *artifact.Graph
	Params   map[string]any
}

// Finding is the result of a predicate. For MUST and SHOULD constraints
// Holds means the requirement is met; for MUST-NOT constraints it means the
// forbidden condition was observed.
type Finding struct {
	Holds   bool
	Code    string // overrides the constraint code when set
	Reason  string
	Related []string
}

// BuiltinFunc is a named Go predicate. Builtins are pure functions of the
// graph.
type BuiltinFunc func(in Input) Finding

var builtins = map[string]BuiltinFunc{
	"context.root_complete":                 contextRootComplete,
	"plan.has_steps":                        planHasSteps,
	"plan.step_ids_unique":                  planStepIDsUnique,
	"plan.dependencies_resolve":             planDependenciesResolve,
	"plan.steps_dag":                        planStepsDAG,
	"plan.executing_under_inactive_context": planExecutingUnderInactiveContext,
	"constraints_inherited":                 constraintsInherited,
	"same_context":                          sameContext,
	"confirm.target_resolves":               confirmTargetResolves,
	"confirm.decision_consistent":           confirmDecisionConsistent,
	"trace.execution_order":                 traceExecutionOrder,
	"trace.steps_declared":                  traceStepsDeclared,
	"trace.status_drift":                    traceStatusDrift,
	"role.permissions_nonempty":             rolePermissionsNonEmpty,
	"role.name_unique":                      roleNameUnique,
	"dialog.messages_from_participants":     dialogMessagesFromParticipants,
	"collab.participants_min":               collabParticipantsMin,
	"collab.participant_roles_resolve":      collabParticipantRolesResolve,
	"extension.version_semver":              extensionVersionSemver,
	"core.protocol_version_supported":       coreProtocolVersionSupported,
	"core.modules_known":                    coreModulesKnown,
	"network.nodes_unique":                  networkNodesUnique,
	"network.topology_size":                 networkTopologySize,
}

// Builtins lists the registered builtin predicate names, sorted.
func Builtins() []string {
	out := make([]string, 0, len(builtins))
	for name := range builtins {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func holds() Finding { return Finding{Holds: true} }

func violated(code, reason string, related ...string) Finding {
	return Finding{Holds: false, Code: code, Reason: reason, Related: related}
}

// --- Context ---

func contextRootComplete(in Input) Finding {
	c := in.Artifact.Context()
	if c == nil {
		return holds()
	}
	var missing []string
	if strings.TrimSpace(c.Root.Domain) == "" {
		missing = append(missing, "root.domain")
	}
	if strings.TrimSpace(c.Root.Environment) == "" {
		missing = append(missing, "root.environment")
	}
	if len(missing) > 0 {
		return violated("", "context root is incomplete: "+strings.Join(missing, ", "), missing...)
	}
	return holds()
}

// --- Plan ---

func planHasSteps(in Input) Finding {
	p := in.Artifact.Plan()
	if p == nil || len(p.Steps) > 0 {
		return holds()
	}
	return violated("", "plan declares no steps")
}

func planStepIDsUnique(in Input) Finding {
	p := in.Artifact.Plan()
	if p == nil {
		return holds()
	}
	seen := make(map[string]bool, len(p.Steps))
	var dups []string
	for _, s := range p.Steps {
		if seen[s.StepID] {
			dups = append(dups, s.StepID)
		}
		seen[s.StepID] = true
	}
	if len(dups) > 0 {
		return violated(evidence.ReasonDuplicateStep, "duplicate step ids: "+strings.Join(dups, ", "), dups...)
	}
	return holds()
}

func planDependenciesResolve(in Input) Finding {
	p := in.Artifact.Plan()
	if p == nil {
		return holds()
	}
	ids := make(map[string]bool, len(p.Steps))
	for _, s := range p.Steps {
		ids[s.StepID] = true
	}
	var unknown []string
	for _, s := range p.Steps {
		for _, dep := range s.Dependencies {
			if !ids[dep] {
				unknown = append(unknown, s.StepID+"->"+dep)
			}
		}
	}
	if len(unknown) > 0 {
		return violated(evidence.ReasonUnknownDependency, "dependencies on undeclared steps: "+strings.Join(unknown, ", "), unknown...)
	}
	return holds()
}

// planStepsDAG runs a three-colour depth-first search over the step
// dependency graph. Dependencies on undeclared steps are ignored here;
// plan.dependencies_resolve reports them.
func planStepsDAG(in Input) Finding {
	p := in.Artifact.Plan()
	if p == nil {
		return holds()
	}
	if cycle := FindCycle(p.Steps); len(cycle) > 0 {
		return violated(evidence.ReasonCyclicDependency, "dependency cycle: "+strings.Join(cycle, " -> "), cycle...)
	}
	return holds()
}

// FindCycle returns one dependency cycle among steps, first node repeated
// at the end, or nil when the steps form a DAG. The search visits steps and
// dependencies in declaration order so the reported cycle is stable.
func FindCycle(steps []artifact.PlanStep) []string {
	const (
		white = iota
		grey
		black
	)
	deps := make(map[string][]string, len(steps))
	for _, s := range steps {
		deps[s.StepID] = append(deps[s.StepID], s.Dependencies...)
	}
	color := make(map[string]int, len(steps))
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = grey
		stack = append(stack, id)
		for _, dep := range deps[id] {
			if _, declared := deps[dep]; !declared {
				continue
			}
			switch color[dep] {
			case grey:
				for i, s := range stack {
					if s == dep {
						cycle = append(append([]string(nil), stack[i:]...), dep)
						break
					}
				}
				return true
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return false
	}
	for _, s := range steps {
		if color[s.StepID] == white && visit(s.StepID) {
			return cycle
		}
	}
	return nil
}

// planExecutingUnderInactiveContext describes the forbidden condition: a
// plan in progress while its Context is not active.
func planExecutingUnderInactiveContext(in Input) Finding {
	if in.Artifact.Status != "in_progress" {
		return Finding{Holds: false}
	}
	ctx, ok := in.Graph.Resolve(in.Artifact, "context_id")
	if !ok || ctx.Status == "active" {
		return Finding{Holds: false}
	}
	return Finding{
		Holds:   true,
		Reason:  fmt.Sprintf("plan is in_progress while context %s is %s", ctx.ID, ctx.Status),
		Related: []string{ctx.ID},
	}
}

// --- Shared ---

func stringList(v any) []string {
	items, _ := v.([]any)
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// constraintsInherited requires every constraint of the parent Context to
// appear in the artifact's own constraints list.
func constraintsInherited(in Input) Finding {
	ctx, ok := in.Graph.Resolve(in.Artifact, "context_id")
	if !ok {
		return holds()
	}
	own := make(map[string]bool)
	for _, c := range stringList(in.Artifact.Fields["constraints"]) {
		own[c] = true
	}
	var missing []string
	for _, c := range stringList(ctx.Fields["constraints"]) {
		if !own[c] {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return violated(evidence.ReasonConstraintInheritanceViolation,
			fmt.Sprintf("does not inherit constraints of context %s: %s", ctx.ID, strings.Join(missing, ", ")),
			append([]string{ctx.ID}, missing...)...)
	}
	return holds()
}

// sameContext requires an artifact bound to a Plan to share that Plan's
// Context.
func sameContext(in Input) Finding {
	plan, ok := in.Graph.Resolve(in.Artifact, "plan_id")
	if !ok {
		return holds()
	}
	mine := in.Artifact.RefTarget("context_id")
	theirs := plan.RefTarget("context_id")
	if mine != "" && theirs != "" && mine != theirs {
		return violated(evidence.ReasonContextMismatch,
			fmt.Sprintf("context %s differs from plan %s context %s", mine, plan.ID, theirs),
			plan.ID, mine, theirs)
	}
	return holds()
}

// --- Confirm ---

func confirmTargetResolves(in Input) Finding {
	c := in.Artifact.Confirm()
	if c == nil {
		return holds()
	}
	if c.TargetType == "plan" && c.PlanID == "" {
		return violated("", "confirm targets a plan but names no plan_id")
	}
	return holds()
}

func confirmDecisionConsistent(in Input) Finding {
	c := in.Artifact.Confirm()
	if c == nil {
		return holds()
	}
	var approved, rejected int
	for _, d := range c.Decisions {
		switch d.Status {
		case "approved":
			approved++
		case "rejected":
			rejected++
		}
	}
	switch in.Artifact.Status {
	case "approved":
		if approved == 0 || rejected > 0 {
			return violated(evidence.ReasonDecisionMismatch,
				fmt.Sprintf("status approved with %d approving and %d rejecting decisions", approved, rejected))
		}
	case "rejected":
		if rejected == 0 {
			return violated(evidence.ReasonDecisionMismatch, "status rejected without a rejecting decision")
		}
	}
	return holds()
}

// --- Trace ---

func executedSegments(t *artifact.TracePayload) []artifact.TraceSegment {
	var out []artifact.TraceSegment
	for _, s := range t.Segments {
		if s.Status == "pending" || s.Status == "skipped" {
			continue
		}
		out = append(out, s)
	}
	return out
}

// ExecutionOrder sorts segments by started_at when every segment carries a
// valid RFC 3339 timestamp; otherwise segment order is kept. Ties keep
// segment order.
func ExecutionOrder(segments []artifact.TraceSegment) []artifact.TraceSegment {
	out := append([]artifact.TraceSegment(nil), segments...)
	times := make([]time.Time, len(out))
	for i, s := range out {
		ts, err := time.Parse(time.RFC3339Nano, s.StartedAt)
		if err != nil {
			return out
		}
		times[i] = ts
	}
	idx := make([]int, len(out))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return times[idx[a]].Before(times[idx[b]]) })
	sorted := make([]artifact.TraceSegment, len(out))
	for i, j := range idx {
		sorted[i] = out[j]
	}
	return sorted
}

// traceExecutionOrder checks that the executed steps form a valid
// topological order of the plan's dependency DAG.
func traceExecutionOrder(in Input) Finding {
	t := in.Artifact.Trace()
	plan, ok := in.Graph.Resolve(in.Artifact, "plan_id")
	if t == nil || !ok {
		return holds()
	}
	deps := make(map[string][]string)
	for _, s := range plan.Plan().Steps {
		deps[s.StepID] = s.Dependencies
	}
	done := make(map[string]bool)
	var broken []string
	for _, seg := range ExecutionOrder(executedSegments(t)) {
		if seg.StepID == "" {
			continue
		}
		for _, dep := range deps[seg.StepID] {
			if !done[dep] {
				broken = append(broken, seg.StepID+"<-"+dep)
			}
		}
		done[seg.StepID] = true
	}
	if len(broken) > 0 {
		return violated(evidence.ReasonExecutionOrderViolation,
			"steps executed before their dependencies: "+strings.Join(broken, ", "),
			append([]string{plan.ID}, broken...)...)
	}
	return holds()
}

func traceStepsDeclared(in Input) Finding {
	t := in.Artifact.Trace()
	plan, ok := in.Graph.Resolve(in.Artifact, "plan_id")
	if t == nil || !ok {
		return holds()
	}
	declared := make(map[string]bool)
	for _, id := range plan.Plan().StepIDs() {
		declared[id] = true
	}
	var undeclared []string
	for _, seg := range t.Segments {
		if seg.StepID != "" && !declared[seg.StepID] {
			undeclared = append(undeclared, seg.StepID)
		}
	}
	if len(undeclared) > 0 {
		return violated(evidence.ReasonUndeclaredStep,
			fmt.Sprintf("trace ran steps not declared by plan %s: %s", plan.ID, strings.Join(undeclared, ", ")),
			append([]string{plan.ID}, undeclared...)...)
	}
	return holds()
}

// traceStatusDrift flags a trace whose status contradicts its plan: a
// running or finished trace for a plan that never started, or a finished
// plan whose trace never ran.
func traceStatusDrift(in Input) Finding {
	plan, ok := in.Graph.Resolve(in.Artifact, "plan_id")
	if !ok {
		return holds()
	}
	started := plan.HasStatus("in_progress", "completed", "failed")
	switch {
	case (in.Artifact.Status == "running" || in.Artifact.Status == "completed") && !started:
		return violated(evidence.ReasonStateDrift,
			fmt.Sprintf("trace is %s but plan %s is %s", in.Artifact.Status, plan.ID, plan.Status), plan.ID)
	case plan.Status == "completed" && in.Artifact.Status == "pending":
		return violated(evidence.ReasonStateDrift,
			fmt.Sprintf("plan %s is completed but trace is pending", plan.ID), plan.ID)
	}
	return holds()
}

// --- Role ---

func rolePermissionsNonEmpty(in Input) Finding {
	r := in.Artifact.Role()
	if r == nil || len(r.Permissions) > 0 {
		return holds()
	}
	return violated("", "role grants no permissions")
}

func roleNameUnique(in Input) Finding {
	r := in.Artifact.Role()
	if r == nil {
		return holds()
	}
	var clash []string
	for _, other := range in.Graph.OfKind(schema.KindRole) {
		if other.ID != in.Artifact.ID && other.Role().Name == r.Name {
			clash = append(clash, other.ID)
		}
	}
	if len(clash) > 0 {
		return violated("", fmt.Sprintf("role name %q is also used by %s", r.Name, strings.Join(clash, ", ")), clash...)
	}
	return holds()
}

// --- Dialog ---

func dialogMessagesFromParticipants(in Input) Finding {
	d := in.Artifact.Dialog()
	if d == nil {
		return holds()
	}
	members := make(map[string]bool, len(d.Participants))
	for _, p := range d.Participants {
		members[p] = true
	}
	var strangers []string
	for _, m := range d.Messages {
		if !members[m.Role] {
			strangers = append(strangers, m.Role)
		}
	}
	if len(strangers) > 0 {
		return violated("", "messages from non-participants: "+strings.Join(strangers, ", "), strangers...)
	}
	return holds()
}

// --- Collab ---

func collabParticipantsMin(in Input) Finding {
	c := in.Artifact.Collab()
	if c == nil {
		return holds()
	}
	least := paramInt(in.Params, "min", 2)
	if len(c.Participants) < least {
		return violated("", fmt.Sprintf("collaboration has %d participants, need at least %d", len(c.Participants), least))
	}
	return holds()
}

func collabParticipantRolesResolve(in Input) Finding {
	c := in.Artifact.Collab()
	if c == nil {
		return holds()
	}
	var unresolved []string
	for _, p := range c.Participants {
		role, ok := in.Graph.Get(p.RoleID)
		if !ok || role.Kind != schema.KindRole {
			unresolved = append(unresolved, p.RoleID)
		}
	}
	if len(unresolved) > 0 {
		return violated(evidence.ReasonUnresolvedRole, "participant roles not found: "+strings.Join(unresolved, ", "), unresolved...)
	}
	return holds()
}

// --- Extension ---

func extensionVersionSemver(in Input) Finding {
	e := in.Artifact.Extension()
	if e == nil {
		return holds()
	}
	if _, err := semver.StrictNewVersion(e.Version); err != nil {
		return violated(evidence.ReasonInvalidVersion, fmt.Sprintf("version %q is not semantic: %v", e.Version, err))
	}
	return holds()
}

// --- Core ---

func coreProtocolVersionSupported(in Input) Finding {
	c := in.Artifact.Core()
	if c == nil {
		return holds()
	}
	rng := paramString(in.Params, "range", ">= 1.0.0, < 2.0.0")
	constraint, err := semver.NewConstraint(rng)
	if err != nil {
		return violated(evidence.ReasonPredicateError, fmt.Sprintf("bad supported range %q: %v", rng, err))
	}
	v, err := semver.NewVersion(c.ProtocolVersion)
	if err != nil {
		return violated(evidence.ReasonUnsupportedProtocolVersion, fmt.Sprintf("protocol version %q is not a version", c.ProtocolVersion))
	}
	if !constraint.Check(v) {
		return violated(evidence.ReasonUnsupportedProtocolVersion,
			fmt.Sprintf("protocol version %s outside supported range %s", v, rng))
	}
	return holds()
}

func coreModulesKnown(in Input) Finding {
	c := in.Artifact.Core()
	if c == nil {
		return holds()
	}
	var unknown []string
	for _, m := range c.Modules {
		if _, ok := schema.ParseKind(m); !ok {
			unknown = append(unknown, m)
		}
	}
	if len(unknown) > 0 {
		return violated(evidence.ReasonUnknownModule, "unknown modules: "+strings.Join(unknown, ", "), unknown...)
	}
	return holds()
}

// --- Network ---

func networkNodesUnique(in Input) Finding {
	n := in.Artifact.Network()
	if n == nil {
		return holds()
	}
	seen := make(map[string]bool, len(n.Nodes))
	var dups []string
	for _, node := range n.Nodes {
		if seen[node.NodeID] {
			dups = append(dups, node.NodeID)
		}
		seen[node.NodeID] = true
	}
	if len(dups) > 0 {
		return violated(evidence.ReasonDuplicateNode, "duplicate node ids: "+strings.Join(dups, ", "), dups...)
	}
	return holds()
}

func networkTopologySize(in Input) Finding {
	n := in.Artifact.Network()
	if n == nil {
		return holds()
	}
	switch {
	case n.Topology == "single_node" && len(n.Nodes) != 1:
		return violated("", fmt.Sprintf("single_node topology with %d nodes", len(n.Nodes)))
	case n.Topology != "single_node" && len(n.Nodes) < 2:
		return violated("", fmt.Sprintf("%s topology with %d nodes", n.Topology, len(n.Nodes)))
	}
	return holds()
}

func paramInt(params map[string]any, key string, def int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

func paramString(params map[string]any, key, def string) string {
	if s, ok := params[key].(string); ok && s != "" {
		return s
	}
	return def
}
