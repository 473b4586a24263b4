package artifact_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/mplp-conform/pkg/artifact"
	"github.com/Mindburn-Labs/mplp-conform/pkg/evidence"
	"github.com/Mindburn-Labs/mplp-conform/pkg/lifecycle"
	"github.com/Mindburn-Labs/mplp-conform/pkg/ruleset"
	"github.com/Mindburn-Labs/mplp-conform/pkg/schema"
)

const (
	contextDoc = `{"id":"ctx-1","kind":"Context","status":"active","status_history":["draft","active"],
		"title":"Quarterly report","root":{"domain":"finance","environment":"production"},"constraints":["pii.redact"]}`
	planDoc = `{"id":"plan-1","kind":"Plan","status":"in_progress","context_id":"ctx-1","title":"Report",
		"objective":"Produce the report","constraints":["pii.redact"],
		"steps":[{"step_id":"s1","description":"collect","agent_role":"role-1","order_index":1},
		         {"step_id":"s2","description":"write","dependencies":["s1"],"order_index":2}]}`
	traceDoc = `{"id":"trace-1","kind":"Trace","status":"running","context_id":"ctx-1","plan_id":"plan-1",
		"segments":[{"segment_id":"g1","label":"collect","step_id":"s1","started_at":"2025-01-01T10:00:00Z","status":"completed"}]}`
)

func ingester(t *testing.T) *artifact.Ingester {
	t.Helper()
	cat, err := ruleset.Builtin()
	require.NoError(t, err)
	rs, err := cat.Get("1.0.0")
	require.NoError(t, err)
	return artifact.NewIngester(rs.Schemas, rs.Lifecycle, artifact.WithConcurrency(2))
}

func docs(pairs ...string) []artifact.Document {
	out := make([]artifact.Document, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, artifact.Document{Path: pairs[i], Raw: []byte(pairs[i+1])})
	}
	return out
}

func TestIngest_LinksGraph(t *testing.T) {
	res, err := ingester(t).Ingest(context.Background(), docs(
		"trace.json", traceDoc,
		"plan.json", planDoc,
		"context.json", contextDoc,
	))
	require.NoError(t, err)
	require.Empty(t, res.Violations)
	require.NotNil(t, res.Graph)

	g := res.Graph
	assert.Equal(t, 3, g.Len())
	assert.Equal(t, []string{"context.json", "plan.json", "trace.json"},
		[]string{res.Artifacts[0].Source, res.Artifacts[1].Source, res.Artifacts[2].Source})

	all := g.All()
	assert.Equal(t, schema.KindContext, all[0].Kind)
	assert.Equal(t, schema.KindTrace, all[2].Kind)

	plan, ok := g.Get("plan-1")
	require.True(t, ok)
	require.NotNil(t, plan.Plan())
	assert.Equal(t, []string{"s1", "s2"}, plan.Plan().StepIDs())
	assert.Equal(t, 2, plan.Plan().Steps[1].OrderIndex)

	ctx, ok := g.Resolve(plan, "context_id")
	require.True(t, ok)
	assert.Equal(t, "ctx-1", ctx.ID)
	assert.Equal(t, "finance", ctx.Context().Root.Domain)

	referrers := g.Referrers("ctx-1")
	require.Len(t, referrers, 2)
	assert.Equal(t, "plan-1", referrers[0].ID)
	assert.Len(t, g.ReferrersOfKind("plan-1", schema.KindTrace), 1)
}

func TestIngest_SchemaViolationsAccumulate(t *testing.T) {
	res, err := ingester(t).Ingest(context.Background(), docs(
		"a-malformed.json", `{"id":`,
		"b-unknown.json", `{"id":"x","kind":"Budget","status":"active"}`,
		"c-context.json", `{"id":"ctx-1","kind":"Context","status":"active","title":"t","root":{"domain":"finance"}}`,
		"d-plan.json", `{"id":"plan-1","kind":"Plan","status":"exploded","context_id":"ctx-1","title":"t","objective":"o","steps":[]}`,
	))
	require.NoError(t, err)
	assert.Nil(t, res.Graph)
	require.Len(t, res.Violations, 4)

	got := make([][3]string, len(res.Violations))
	for i, v := range res.Violations {
		assert.Equal(t, evidence.ReasonSchemaViolation, v.Code)
		got[i] = [3]string{v.Document, v.Reason, v.Field}
	}
	want := [][3]string{
		{"a-malformed.json", artifact.ReasonMalformedDocument, ""},
		{"b-unknown.json", artifact.ReasonUnknownKind, "kind"},
		{"c-context.json", schema.CodeMissingField, "root.environment"},
		{"d-plan.json", schema.CodeInvalidStatus, "status"},
	}
	assert.Equal(t, want, got)
}

func TestIngest_ReferenceIntegrity(t *testing.T) {
	role := `{"id":"role-1","kind":"Role","status":"active","name":"writer","permissions":["write"]}`
	dangling := `{"id":"plan-1","kind":"Plan","status":"draft","context_id":"ctx-missing","title":"t","objective":"o","steps":[]}`
	wrongKind := `{"id":"plan-2","kind":"Plan","status":"draft","context_id":"role-1","title":"t","objective":"o","steps":[]}`

	res, err := ingester(t).Ingest(context.Background(), docs(
		"role.json", role,
		"plan-1.json", dangling,
		"plan-2.json", wrongKind,
	))
	require.NoError(t, err)
	assert.Nil(t, res.Graph)
	require.Len(t, res.Violations, 2)
	assert.Equal(t, evidence.ReasonDanglingReference, res.Violations[0].Code)
	assert.Equal(t, "plan-1", res.Violations[0].ArtifactID)
	assert.Equal(t, "context_id", res.Violations[0].Field)
	assert.Equal(t, evidence.ReasonReferenceKindMismatch, res.Violations[1].Code)
	assert.Equal(t, "plan-2", res.Violations[1].ArtifactID)
}

func TestIngest_DuplicateArtifact(t *testing.T) {
	res, err := ingester(t).Ingest(context.Background(), docs(
		"a.json", contextDoc,
		"b.json", contextDoc,
	))
	require.NoError(t, err)
	require.Len(t, res.Violations, 1)
	assert.Equal(t, evidence.ReasonDuplicateArtifact, res.Violations[0].Code)
	assert.Equal(t, "b.json", res.Violations[0].Document)
}

func TestIngest_StatusHistoryReplay(t *testing.T) {
	illegal := `{"id":"ctx-1","kind":"Context","status":"active","status_history":["draft","suspended","active"],
		"title":"t","root":{"domain":"d","environment":"test"}}`
	mismatch := `{"id":"ctx-2","kind":"Context","status":"suspended","status_history":["draft","active"],
		"title":"t","root":{"domain":"d","environment":"test"}}`

	res, err := ingester(t).Ingest(context.Background(), docs("a.json", illegal, "b.json", mismatch))
	require.NoError(t, err)
	require.Len(t, res.Violations, 2)
	assert.Equal(t, artifact.ReasonIllegalTransition, res.Violations[0].Reason)
	assert.Equal(t, "status_history[1]", res.Violations[0].Field)
	assert.Equal(t, artifact.ReasonHistoryMismatch, res.Violations[1].Reason)
}

func TestIngest_MutationAfterTerminalIsFatal(t *testing.T) {
	doc := `{"id":"plan-9","kind":"Plan","status":"in_progress","status_history":["approved","in_progress","completed","in_progress"],
		"context_id":"ctx-1","title":"t","objective":"o","steps":[]}`

	_, err := ingester(t).Ingest(context.Background(), docs("context.json", contextDoc, "plan.json", doc))
	require.Error(t, err)
	var immutable *lifecycle.ImmutableArtifactError
	require.True(t, errors.As(err, &immutable))
	assert.Equal(t, "plan-9", immutable.ArtifactID)
	assert.Equal(t, "completed", immutable.Status)
}

func TestIngest_Idempotent(t *testing.T) {
	in := ingester(t)
	first, err := in.Ingest(context.Background(), docs("context.json", contextDoc, "plan.json", planDoc, "trace.json", traceDoc))
	require.NoError(t, err)
	second, err := in.Ingest(context.Background(), docs("trace.json", traceDoc, "context.json", contextDoc, "plan.json", planDoc))
	require.NoError(t, err)

	ids := func(r *artifact.Result) []string {
		var out []string
		for _, a := range r.Graph.All() {
			out = append(out, a.String()+"@"+a.Status)
		}
		return out
	}
	if diff := cmp.Diff(ids(first), ids(second)); diff != "" {
		t.Fatalf("re-ingestion differs (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(first.Graph.All()[1].Fields, second.Graph.All()[1].Fields); diff != "" {
		t.Fatalf("fields differ (-first +second):\n%s", diff)
	}
}

func TestIngest_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ingester(t).Ingest(ctx, docs("context.json", contextDoc))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestGraph_Mutations(t *testing.T) {
	res, err := ingester(t).Ingest(context.Background(), docs("context.json", contextDoc, "plan.json", planDoc, "trace.json", traceDoc))
	require.NoError(t, err)
	g := res.Graph

	require.NoError(t, g.AppendSegment("trace-1", artifact.TraceSegment{SegmentID: "g2", Label: "write", StepID: "s2"}))
	trace, _ := g.Get("trace-1")
	assert.Len(t, trace.Trace().Segments, 2)

	require.NoError(t, g.SetField("plan-1", "title", "Revised report"))
	plan, _ := g.Get("plan-1")
	assert.Equal(t, "Revised report", plan.Plan().Title)
	require.Error(t, g.SetField("plan-1", "status", "draft"))

	require.NoError(t, g.Transition("plan-1", "completed"))
	assert.Equal(t, []string{"in_progress", "completed"}, plan.History)

	var immutable *lifecycle.ImmutableArtifactError
	require.ErrorAs(t, g.Transition("plan-1", "in_progress"), &immutable)
	require.ErrorAs(t, g.SetField("plan-1", "title", "again"), &immutable)

	var illegal *lifecycle.IllegalTransitionError
	require.ErrorAs(t, g.Transition("trace-1", "pending"), &illegal)

	require.NoError(t, g.Transition("trace-1", "completed"))
	require.ErrorAs(t, g.AppendSegment("trace-1", artifact.TraceSegment{SegmentID: "g3", Label: "late"}), &immutable)
}
