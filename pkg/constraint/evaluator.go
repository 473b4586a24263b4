package constraint

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Mindburn-Labs/mplp-conform/pkg/artifact"
	"github.com/Mindburn-Labs/mplp-conform/pkg/evidence"
	"github.com/Mindburn-Labs/mplp-conform/pkg/schema"
)

// Evaluator applies a Table to artifact graphs. It holds no per-run state
// and is safe for concurrent use.
type Evaluator struct {
	table  *Table
	oracle Oracle
	logger *slog.Logger
}

// EvaluatorOption configures an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithOracle binds semantic constraints to o. Without an oracle they are
// recorded as indeterminate.
func WithOracle(o Oracle) EvaluatorOption {
	return func(e *Evaluator) { e.oracle = o }
}

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) EvaluatorOption {
	return func(e *Evaluator) { e.logger = l }
}

// NewEvaluator creates an evaluator for t.
func NewEvaluator(t *Table, opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{
		table:  t,
		logger: slog.Default().With("component", "constraint"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate emits exactly one record per (artifact, constraint) pair, with
// artifacts in kind-then-id order and constraints in table order. When kinds
// is non-empty only artifacts of those kinds are evaluated.
func (e *Evaluator) Evaluate(ctx context.Context, g *artifact.Graph, kinds ...schema.Kind) ([]evidence.Record, error) {
	want := make(map[schema.Kind]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}
	var log evidence.Log
	for _, a := range g.All() {
		if len(want) > 0 && !want[a.Kind] {
			continue
		}
		for _, c := range e.table.ForKind(a.Kind) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			rec, err := e.EvaluateOne(ctx, c, a, g)
			if err != nil {
				return nil, err
			}
			log.Append(rec)
		}
	}
	out := log.Records()
	failed := evidence.Filter(out, evidence.Record.Failed)
	e.logger.DebugContext(ctx, "constraints evaluated", "records", log.Len(), "failed", len(failed))
	return out, nil
}

// EvaluateOne evaluates a single constraint against one artifact. The only
// errors returned are context cancellations; predicate failures become
// records.
func (e *Evaluator) EvaluateOne(ctx context.Context, c *Constraint, a *artifact.Artifact, g *artifact.Graph) (evidence.Record, error) {
	rec := evidence.Record{
		Source:   evidence.SourceConstraint,
		Rule:     c.ID,
		Module:   c.Module,
		Severity: c.Severity,
		Subject:  a.ID,
	}

	var f Finding
	switch {
	case c.builtin != nil:
		f = c.builtin(Input{Artifact: a, Graph: g, Params: c.Params})
		if f.Code == evidence.ReasonPredicateError {
			return fail(rec, f.Code, f.Reason, f.Related), nil
		}
	case c.program != nil:
		holds, err := evalCEL(ctx, c.program, map[string]any{
			"artifact": celValue(a.Fields),
			"context":  celValue(contextFields(a, g)),
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return rec, ctxErr
			}
			return fail(rec, evidence.ReasonPredicateError, err.Error(), nil), nil
		}
		f = Finding{Holds: holds}
	default:
		if e.oracle == nil {
			rec.Outcome = evidence.OutcomeIndeterminate
			rec.Code = evidence.ReasonOracleUnavailable
			rec.Reason = fmt.Sprintf("no %s oracle configured", c.Oracle)
			return rec, nil
		}
		var ctxArtifact *artifact.Artifact
		if a.Kind == schema.KindContext {
			ctxArtifact = a
		} else if r, ok := g.Resolve(a, "context_id"); ok {
			ctxArtifact = r
		}
		j, err := e.oracle.Judge(ctx, Question{
			Oracle:       c.Oracle,
			ConstraintID: c.ID,
			Rule:         c.Rule,
			Artifact:     a,
			Context:      ctxArtifact,
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return rec, ctxErr
			}
			rec.Outcome = evidence.OutcomeIndeterminate
			rec.Code = evidence.ReasonOracleUnavailable
			rec.Reason = err.Error()
			return rec, nil
		}
		f = Finding{Holds: j.Holds, Reason: j.Reason}
	}

	satisfied := f.Holds
	if c.Severity == evidence.SeverityMustNot {
		satisfied = !f.Holds
	}
	if satisfied {
		rec.Outcome = evidence.OutcomePass
		return rec, nil
	}
	code := c.Code
	if f.Code != "" {
		code = f.Code
	}
	reason := f.Reason
	if reason == "" {
		reason = c.Rule
	}
	return fail(rec, code, reason, f.Related), nil
}

func fail(rec evidence.Record, code, reason string, related []string) evidence.Record {
	rec.Outcome = evidence.OutcomeFail
	rec.Code = code
	rec.Reason = reason
	if len(related) > 0 {
		rec.Related = append([]string(nil), related...)
	}
	return rec
}

func contextFields(a *artifact.Artifact, g *artifact.Graph) map[string]any {
	if a.Kind == schema.KindContext {
		return a.Fields
	}
	if c, ok := g.Resolve(a, "context_id"); ok {
		return c.Fields
	}
	return map[string]any{}
}
