package flow

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/Mindburn-Labs/mplp-conform/pkg/artifact"
	"github.com/Mindburn-Labs/mplp-conform/pkg/evidence"
	"github.com/Mindburn-Labs/mplp-conform/pkg/schema"
)

// Result is the outcome of one scenario.
type Result struct {
	ScenarioID        string   `json:"scenarioId"`
	Title             string   `json:"title"`
	Pass              bool     `json:"pass"`
	MissingModules    []string `json:"missingModules,omitempty"`
	MissingSteps      []string `json:"missingSteps,omitempty"`
	OrderViolations   []string `json:"orderViolations,omitempty"`
	FailureConditions []string `json:"failureConditions,omitempty"`
	ScopeViolations   []string `json:"scopeViolations,omitempty"`

	// Records is this scenario's private evidence buffer.
	Records []evidence.Record `json:"-"`
}

// Runner evaluates scenarios from a catalog. It is safe for concurrent use.
type Runner struct {
	catalog *Catalog
	limit   int
	logger  *slog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithConcurrency bounds how many scenarios RunAll evaluates at once.
func WithConcurrency(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.limit = n
		}
	}
}

// NewRunner creates a runner for catalog.
func NewRunner(catalog *Catalog, opts ...RunnerOption) *Runner {
	r := &Runner{
		catalog: catalog,
		limit:   4,
		logger:  slog.Default().With("component", "flow"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run evaluates one scenario against g. records are the schema and
// constraint records of the same run; failure conditions and the normative
// scope are judged from them.
func (r *Runner) Run(ctx context.Context, scenarioID string, g *artifact.Graph, records []evidence.Record) (*Result, error) {
	s, err := r.catalog.Get(scenarioID)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &Result{ScenarioID: s.ID, Title: s.Title}
	var log evidence.Log
	emit := func(rec evidence.Record) {
		rec.Source = evidence.SourceScenario
		rec.Scenario = s.ID
		if rec.Severity == "" {
			rec.Severity = evidence.SeverityMust
		}
		log.Append(rec)
	}

	// 1. Key modules.
	for _, k := range s.KeyModules {
		rec := evidence.Record{Rule: "module:" + string(k), Module: k, Outcome: evidence.OutcomePass}
		if !g.Has(k) {
			res.MissingModules = append(res.MissingModules, string(k))
			rec.Outcome = evidence.OutcomeFail
			rec.Code = evidence.ReasonMissingRequiredModule
			rec.Reason = fmt.Sprintf("no %s artifact in pack", k)
		}
		emit(rec)
	}

	// 2. Step witnesses, then declared order of traced steps.
	for _, st := range s.Steps {
		rec := evidence.Record{Rule: "step:" + st.Name, Module: st.Witness.Module, Outcome: evidence.OutcomePass}
		if w := findWitness(g, st.Witness); w != nil {
			rec.Subject = w.ID
		} else {
			res.MissingSteps = append(res.MissingSteps, st.Name)
			rec.Outcome = evidence.OutcomeFail
			rec.Code = evidence.ReasonMissingStep
			rec.Reason = describeWitness(st.Witness)
		}
		emit(rec)
	}
	res.OrderViolations = stepOrderViolations(g, s.Steps)
	orderRec := evidence.Record{Rule: "step_order", Module: schema.KindTrace, Outcome: evidence.OutcomePass}
	if len(res.OrderViolations) > 0 {
		orderRec.Outcome = evidence.OutcomeFail
		orderRec.Code = evidence.ReasonStepOrderViolation
		orderRec.Reason = strings.Join(res.OrderViolations, "; ")
	}
	emit(orderRec)

	// 3. Every failure condition, all triggered ones reported.
	for _, fc := range s.FailureConditions {
		rec := evidence.Record{Rule: fc.ID, Outcome: evidence.OutcomePass}
		var t trigger
		if fc.Builtin != "" {
			t = failureBuiltins[fc.Builtin](g)
		} else {
			t = matchEvidence(*fc.Evidence, records)
		}
		if t.fired {
			res.FailureConditions = append(res.FailureConditions, fc.ID)
			rec.Outcome = evidence.OutcomeFail
			rec.Code = evidence.ReasonFailureConditionTriggered
			rec.Reason = fc.Text + ": " + t.reason
			rec.Related = t.subjects
		}
		emit(rec)
	}

	// Normative scope: any blocking failure of an in-scope constraint.
	for _, sc := range s.NormativeScope {
		rec := evidence.Record{Rule: "scope:" + sc.Constraint, Module: sc.Module, Outcome: evidence.OutcomePass}
		var subjects []string
		for _, cr := range evidence.Filter(records, func(r evidence.Record) bool {
			return r.Source == evidence.SourceConstraint && r.Rule == sc.Constraint && r.Blocking()
		}) {
			subjects = append(subjects, cr.Subject)
		}
		if len(subjects) > 0 {
			res.ScopeViolations = append(res.ScopeViolations, sc.Constraint)
			rec.Outcome = evidence.OutcomeFail
			rec.Code = evidence.ReasonNormativeScopeViolation
			rec.Reason = sc.Rule
			rec.Related = subjects
		}
		emit(rec)
	}

	res.Records = log.Records()
	res.Pass = len(res.MissingModules) == 0 &&
		len(res.MissingSteps) == 0 &&
		len(res.OrderViolations) == 0 &&
		len(res.FailureConditions) == 0 &&
		len(res.ScopeViolations) == 0

	r.logger.DebugContext(ctx, "scenario evaluated", "scenario", s.ID, "pass", res.Pass)
	return res, nil
}

// RunAll evaluates scenarios concurrently. Results come back in scenario id
// order regardless of completion order.
func (r *Runner) RunAll(ctx context.Context, ids []string, g *artifact.Graph, records []evidence.Record) ([]*Result, error) {
	ordered := dedupeSorted(ids)
	for _, id := range ordered {
		if _, err := r.catalog.Get(id); err != nil {
			return nil, err
		}
	}

	results := make([]*Result, len(ordered))
	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(r.limit)
	for i, id := range ordered {
		i, id := i, id
		eg.Go(func() error {
			res, err := r.Run(egctx, id, g, records)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func dedupeSorted(ids []string) []string {
	out := append([]string(nil), ids...)
	sort.Strings(out)
	n := 0
	for i, id := range out {
		if i > 0 && id == out[n-1] {
			continue
		}
		out[n] = id
		n++
	}
	return out[:n]
}

// Merge concatenates per-scenario buffers in result order.
func Merge(results []*Result) []evidence.Record {
	var out []evidence.Record
	for _, res := range results {
		out = append(out, res.Records...)
	}
	return out
}

func findWitness(g *artifact.Graph, w Witness) *artifact.Artifact {
	for _, a := range g.OfKind(w.Module) {
		if len(w.Statuses) > 0 && !a.HasStatus(w.Statuses...) {
			continue
		}
		if w.Field != "" && !present(a.Fields[w.Field]) {
			continue
		}
		if w.Segment != "" && !hasSegment(a, w.Segment) {
			continue
		}
		return a
	}
	return nil
}

func present(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	return true
}

func describeWitness(w Witness) string {
	parts := []string{"no " + string(w.Module)}
	if len(w.Statuses) > 0 {
		parts = append(parts, "with status in ["+strings.Join(w.Statuses, ", ")+"]")
	}
	if w.Field != "" {
		parts = append(parts, "with field "+w.Field)
	}
	if w.Segment != "" {
		parts = append(parts, "with segment "+w.Segment)
	}
	return strings.Join(parts, " ")
}

// stepOrderViolations checks, per trace, that segment labels naming flow
// steps appear in declared step order. Only segment order counts.
func stepOrderViolations(g *artifact.Graph, steps []Step) []string {
	index := make(map[string]int, len(steps))
	for i, st := range steps {
		index[st.Name] = i
	}
	var out []string
	for _, t := range g.OfKind(schema.KindTrace) {
		seen := make(map[string]bool)
		last, lastName := -1, ""
		for _, seg := range t.Trace().Segments {
			i, ok := index[seg.Label]
			if !ok || seen[seg.Label] {
				continue
			}
			seen[seg.Label] = true
			if i < last {
				out = append(out, fmt.Sprintf("%s: %s recorded after %s", t.ID, seg.Label, lastName))
				continue
			}
			last, lastName = i, seg.Label
		}
	}
	return out
}

func matchEvidence(m EvidenceMatch, records []evidence.Record) trigger {
	var subjects []string
	var codes []string
	for _, r := range evidence.Filter(records, evidence.Record.Failed) {
		if len(m.Codes) > 0 && !contains(m.Codes, r.Code) {
			continue
		}
		if len(m.Modules) > 0 && !containsKind(m.Modules, r.Module) {
			continue
		}
		if len(m.Rules) > 0 && !contains(m.Rules, r.Rule) {
			continue
		}
		subjects = append(subjects, r.Subject)
		if !contains(codes, r.Code) {
			codes = append(codes, r.Code)
		}
	}
	if len(subjects) == 0 {
		return trigger{}
	}
	return fired("matched "+strings.Join(codes, ", "), subjects...)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsKind(list []schema.Kind, k schema.Kind) bool {
	for _, v := range list {
		if v == k {
			return true
		}
	}
	return false
}
