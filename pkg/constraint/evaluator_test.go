package constraint_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/mplp-conform/pkg/artifact"
	"github.com/Mindburn-Labs/mplp-conform/pkg/constraint"
	"github.com/Mindburn-Labs/mplp-conform/pkg/evidence"
	"github.com/Mindburn-Labs/mplp-conform/pkg/ruleset"
	"github.com/Mindburn-Labs/mplp-conform/pkg/schema"
)

const ctxDoc = `{"id":"ctx-1","kind":"Context","status":"active","title":"Quarterly report",
	"root":{"domain":"finance","environment":"production"},"constraints":["pii.redact"]}`

func planDoc(status, steps string) string {
	return fmt.Sprintf(`{"id":"plan-1","kind":"Plan","status":%q,"context_id":"ctx-1","title":"Report",
		"objective":"Produce the report","constraints":["pii.redact"],"steps":%s}`, status, steps)
}

const dagSteps = `[{"step_id":"s1","description":"collect"},{"step_id":"s2","description":"write","dependencies":["s1"]}]`

func build(t *testing.T, raw ...string) (*ruleset.Ruleset, *artifact.Graph) {
	t.Helper()
	cat, err := ruleset.Builtin()
	require.NoError(t, err)
	rs, err := cat.Get("1.0.0")
	require.NoError(t, err)

	docs := make([]artifact.Document, len(raw))
	for i, r := range raw {
		docs[i] = artifact.Document{Path: fmt.Sprintf("doc-%02d.json", i), Raw: []byte(r)}
	}
	res, err := artifact.NewIngester(rs.Schemas, rs.Lifecycle).Ingest(context.Background(), docs)
	require.NoError(t, err)
	require.Empty(t, res.Violations)
	return rs, res.Graph
}

func evaluate(t *testing.T, rs *ruleset.Ruleset, g *artifact.Graph, opts ...constraint.EvaluatorOption) map[string]evidence.Record {
	t.Helper()
	recs, err := constraint.NewEvaluator(rs.Constraints, opts...).Evaluate(context.Background(), g)
	require.NoError(t, err)
	out := make(map[string]evidence.Record, len(recs))
	for _, r := range recs {
		out[r.Subject+"/"+r.Rule] = r
	}
	return out
}

func TestEvaluate_OneRecordPerPair(t *testing.T) {
	rs, g := build(t, ctxDoc, planDoc("draft", dagSteps))
	recs, err := constraint.NewEvaluator(rs.Constraints).Evaluate(context.Background(), g)
	require.NoError(t, err)

	want := len(rs.Constraints.ForKind(schema.KindContext)) + len(rs.Constraints.ForKind(schema.KindPlan))
	require.Len(t, recs, want)
	assert.Equal(t, "ctx-1", recs[0].Subject)
	assert.Equal(t, "plan-1", recs[len(recs)-1].Subject)

	for _, r := range recs {
		if r.Rule == "plan.addresses_intent" {
			assert.Equal(t, evidence.OutcomeIndeterminate, r.Outcome)
			assert.Equal(t, evidence.ReasonOracleUnavailable, r.Code)
			continue
		}
		assert.Equal(t, evidence.OutcomePass, r.Outcome, "%s: %s", r.Rule, r.Reason)
	}

	only, err := constraint.NewEvaluator(rs.Constraints).Evaluate(context.Background(), g, schema.KindContext)
	require.NoError(t, err)
	assert.Len(t, only, len(rs.Constraints.ForKind(schema.KindContext)))
}

func TestEvaluate_CyclicPlanRejected(t *testing.T) {
	cyclic := `[{"step_id":"s1","description":"a","dependencies":["s2"]},{"step_id":"s2","description":"b","dependencies":["s1"]}]`
	rs, g := build(t, ctxDoc, planDoc("draft", cyclic))

	rec := evaluate(t, rs, g)["plan-1/plan.steps_dag"]
	assert.Equal(t, evidence.OutcomeFail, rec.Outcome)
	assert.Equal(t, evidence.ReasonCyclicDependency, rec.Code)
	assert.Equal(t, []string{"s1", "s2", "s1"}, rec.Related)
	assert.True(t, rec.Blocking())
}

func TestFindCycle(t *testing.T) {
	assert.Nil(t, constraint.FindCycle([]artifact.PlanStep{
		{StepID: "a"}, {StepID: "b", Dependencies: []string{"a"}}, {StepID: "c", Dependencies: []string{"a", "b", "missing"}},
	}))
	assert.Equal(t, []string{"a", "a"}, constraint.FindCycle([]artifact.PlanStep{{StepID: "a", Dependencies: []string{"a"}}}))
	assert.Equal(t, []string{"b", "c", "b"}, constraint.FindCycle([]artifact.PlanStep{
		{StepID: "a", Dependencies: []string{"b"}},
		{StepID: "b", Dependencies: []string{"c"}},
		{StepID: "c", Dependencies: []string{"b"}},
	}))
}

func TestEvaluate_ExecutionOrder(t *testing.T) {
	// Segment order lists s1 first, but timestamps put s2 before s1.
	trace := `{"id":"trace-1","kind":"Trace","status":"running","context_id":"ctx-1","plan_id":"plan-1","segments":[
		{"segment_id":"g1","label":"collect","step_id":"s1","started_at":"2025-01-01T10:05:00Z"},
		{"segment_id":"g2","label":"write","step_id":"s2","started_at":"2025-01-01T10:00:00Z"}]}`
	rs, g := build(t, ctxDoc, planDoc("in_progress", dagSteps), trace)

	rec := evaluate(t, rs, g)["trace-1/trace.execution_order"]
	assert.Equal(t, evidence.OutcomeFail, rec.Outcome)
	assert.Equal(t, evidence.ReasonExecutionOrderViolation, rec.Code)
	assert.Contains(t, rec.Related, "s2<-s1")
}

func TestExecutionOrder_FallsBackToSegmentOrder(t *testing.T) {
	segs := []artifact.TraceSegment{
		{SegmentID: "a", StartedAt: "2025-01-01T10:05:00Z"},
		{SegmentID: "b"},
	}
	got := constraint.ExecutionOrder(segs)
	assert.Equal(t, "a", got[0].SegmentID)

	segs[1].StartedAt = "2025-01-01T10:00:00Z"
	got = constraint.ExecutionOrder(segs)
	assert.Equal(t, "b", got[0].SegmentID)
}

func TestEvaluate_SeveritySemantics(t *testing.T) {
	// s9 is not declared by the plan: a SHOULD failure, recorded but not blocking.
	trace := `{"id":"trace-1","kind":"Trace","status":"running","context_id":"ctx-1","plan_id":"plan-1","segments":[
		{"segment_id":"g1","label":"collect","step_id":"s1"},
		{"segment_id":"g2","label":"improvise","step_id":"s9"}]}`
	rs, g := build(t, ctxDoc, planDoc("in_progress", dagSteps), trace)
	recs := evaluate(t, rs, g)

	should := recs["trace-1/trace.steps_declared"]
	assert.Equal(t, evidence.OutcomeFail, should.Outcome)
	assert.Equal(t, evidence.SeverityShould, should.Severity)
	assert.Equal(t, evidence.ReasonUndeclaredStep, should.Code)
	assert.False(t, should.Blocking())

	for key, r := range recs {
		assert.False(t, r.Blocking(), "unexpected blocking failure %s: %s", key, r.Reason)
	}
}

func TestEvaluate_MustNot(t *testing.T) {
	suspended := `{"id":"ctx-1","kind":"Context","status":"suspended","title":"t",
		"root":{"domain":"finance","environment":"production"},"constraints":["pii.redact"]}`

	rs, g := build(t, suspended, planDoc("in_progress", dagSteps))
	rec := evaluate(t, rs, g)["plan-1/plan.executing_under_inactive_context"]
	assert.Equal(t, evidence.OutcomeFail, rec.Outcome)
	assert.Equal(t, evidence.SeverityMustNot, rec.Severity)
	assert.Equal(t, evidence.ReasonForbiddenCondition, rec.Code)
	assert.True(t, rec.Blocking())

	rs, g = build(t, ctxDoc, planDoc("in_progress", dagSteps))
	rec = evaluate(t, rs, g)["plan-1/plan.executing_under_inactive_context"]
	assert.Equal(t, evidence.OutcomePass, rec.Outcome)
}

func TestEvaluate_ConstraintInheritance(t *testing.T) {
	plan := `{"id":"plan-1","kind":"Plan","status":"draft","context_id":"ctx-1","title":"t","objective":"o","steps":` + dagSteps + `}`
	rs, g := build(t, ctxDoc, plan)

	rec := evaluate(t, rs, g)["plan-1/plan.constraints_inherited"]
	assert.Equal(t, evidence.OutcomeFail, rec.Outcome)
	assert.Equal(t, evidence.ReasonConstraintInheritanceViolation, rec.Code)
	assert.Equal(t, []string{"ctx-1", "pii.redact"}, rec.Related)
}

func TestEvaluate_Oracle(t *testing.T) {
	rs, g := build(t, ctxDoc, planDoc("draft", dagSteps))

	var asked constraint.Question
	oracle := constraint.OracleFunc(func(_ context.Context, q constraint.Question) (constraint.Judgment, error) {
		asked = q
		return constraint.Judgment{Holds: false, Reason: "objective ignores context title"}, nil
	})
	rec := evaluate(t, rs, g, constraint.WithOracle(oracle))["plan-1/plan.addresses_intent"]
	assert.Equal(t, evidence.OutcomeFail, rec.Outcome)
	assert.Equal(t, "objective ignores context title", rec.Reason)
	assert.Equal(t, "intent_alignment", asked.Oracle)
	require.NotNil(t, asked.Context)
	assert.Equal(t, "ctx-1", asked.Context.ID)

	failing := constraint.OracleFunc(func(context.Context, constraint.Question) (constraint.Judgment, error) {
		return constraint.Judgment{}, fmt.Errorf("model offline")
	})
	rec = evaluate(t, rs, g, constraint.WithOracle(failing))["plan-1/plan.addresses_intent"]
	assert.Equal(t, evidence.OutcomeIndeterminate, rec.Outcome)
}

func TestEvaluate_CELAndVersions(t *testing.T) {
	ext := `{"id":"ext-1","kind":"Extension","status":"active","name":"Audit Logger","version":"1.2","extension_type":"policy"}`
	core := `{"id":"core-1","kind":"Core","status":"running","protocol_version":"2.1.0","modules":["Context","Plan","Ledger"]}`
	rs, g := build(t, ext, core)
	recs := evaluate(t, rs, g)

	assert.Equal(t, evidence.OutcomeFail, recs["ext-1/extension.name_namespaced"].Outcome)
	assert.Equal(t, evidence.ReasonInvalidVersion, recs["ext-1/extension.version_semver"].Code)
	assert.Equal(t, evidence.ReasonUnsupportedProtocolVersion, recs["core-1/core.protocol_version_supported"].Code)
	assert.Equal(t, []string{"Ledger"}, recs["core-1/core.modules_known"].Related)
}

func TestEvaluate_Cancelled(t *testing.T) {
	rs, g := build(t, ctxDoc)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := constraint.NewEvaluator(rs.Constraints).Evaluate(ctx, g)
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewTable_Rejects(t *testing.T) {
	base := constraint.Definition{ID: "x", Module: schema.KindPlan, Severity: evidence.SeverityMust, Builtin: "plan.has_steps"}
	tests := map[string][]constraint.Definition{
		"duplicate id":     {base, base},
		"unknown builtin":  {{ID: "x", Module: schema.KindPlan, Severity: evidence.SeverityMust, Builtin: "nope"}},
		"two predicates":   {{ID: "x", Module: schema.KindPlan, Severity: evidence.SeverityMust, Builtin: "plan.has_steps", CEL: "true"}},
		"no predicate":     {{ID: "x", Module: schema.KindPlan, Severity: evidence.SeverityMust}},
		"bad severity":     {{ID: "x", Module: schema.KindPlan, Severity: "MAY", Builtin: "plan.has_steps"}},
		"unknown module":   {{ID: "x", Module: "Budget", Severity: evidence.SeverityMust, Builtin: "plan.has_steps"}},
		"invalid cel":      {{ID: "x", Module: schema.KindPlan, Severity: evidence.SeverityMust, CEL: "artifact.("}},
	}
	for name, defs := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := constraint.NewTable(defs)
			require.Error(t, err)
		})
	}

	tbl, err := constraint.NewTable([]constraint.Definition{base})
	require.NoError(t, err)
	c, _ := tbl.Get("x")
	assert.Equal(t, "builtin", c.Kind())
	assert.Equal(t, evidence.ReasonConstraintViolation, c.Code)
	assert.Contains(t, constraint.Builtins(), "plan.steps_dag")
}
