// Package conform is the evaluation entry point. An Engine runs a pack
// through ingestion, constraint evaluation and Golden Flow scenarios under an
// explicitly named ruleset version and seals the result into a verdict.
package conform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Mindburn-Labs/mplp-conform/pkg/artifact"
	"github.com/Mindburn-Labs/mplp-conform/pkg/constraint"
	"github.com/Mindburn-Labs/mplp-conform/pkg/evidence"
	"github.com/Mindburn-Labs/mplp-conform/pkg/flow"
	"github.com/Mindburn-Labs/mplp-conform/pkg/lifecycle"
	"github.com/Mindburn-Labs/mplp-conform/pkg/observability"
	"github.com/Mindburn-Labs/mplp-conform/pkg/pack"
	"github.com/Mindburn-Labs/mplp-conform/pkg/ruleset"
	"github.com/Mindburn-Labs/mplp-conform/pkg/verdict"
)

// SchemaRule is the rule name carried by every L1 record.
const SchemaRule = "document"

// Engine evaluates packs against a catalog of rulesets. It holds no
// per-evaluation state and is safe for concurrent use.
type Engine struct {
	catalog             *ruleset.Catalog
	oracle              constraint.Oracle
	obs                 *observability.Provider
	logger              *slog.Logger
	ingestConcurrency   int
	scenarioConcurrency int
}

// Option configures an Engine.
type Option func(*Engine)

// WithOracle binds semantic constraints to an external judgment source.
func WithOracle(o constraint.Oracle) Option {
	return func(e *Engine) { e.oracle = o }
}

// WithObservability records spans and RED metrics through p.
func WithObservability(p *observability.Provider) Option {
	return func(e *Engine) { e.obs = p }
}

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithConcurrency bounds document validation and scenario fan-out.
func WithConcurrency(ingest, scenarios int) Option {
	return func(e *Engine) {
		e.ingestConcurrency = ingest
		e.scenarioConcurrency = scenarios
	}
}

// NewEngine creates a conformance engine over catalog.
func NewEngine(catalog *ruleset.Catalog, opts ...Option) *Engine {
	e := &Engine{
		catalog: catalog,
		logger:  slog.Default().With("component", "conform"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Catalog returns the rulesets the engine resolves versions against.
func (e *Engine) Catalog() *ruleset.Catalog { return e.catalog }

// EvaluateOptions narrows an evaluation.
type EvaluateOptions struct {
	// Scenarios overrides the scenario set. When empty the manifest's
	// scenarios are used, and when those are empty every scenario in the
	// ruleset is targeted.
	Scenarios []string
}

// Evaluate runs the full pipeline and returns the sealed verdict. Pack
// integrity failures, unknown ruleset versions or scenarios, immutable
// artifact violations and cancellation are returned as errors; every other
// finding is evidence inside the verdict.
func (e *Engine) Evaluate(ctx context.Context, p *pack.Pack, version string, opts *EvaluateOptions) (v *verdict.Verdict, err error) {
	if opts == nil {
		opts = &EvaluateOptions{}
	}
	ctx, done := e.obs.TrackOperation(ctx, "conform.evaluate", attribute.String("mplpc.ruleset", version))
	defer func() { done(err) }()

	rs, err := e.catalog.Get(version)
	if err != nil {
		return nil, err
	}
	if err := p.Verify(); err != nil {
		return nil, err
	}
	digest, err := p.Digest()
	if err != nil {
		return nil, err
	}

	ingester := artifact.NewIngester(rs.Schemas, rs.Lifecycle, e.ingestOptions()...)
	res, err := ingester.Ingest(ctx, p.Documents())
	if err != nil {
		return nil, fmt.Errorf("%s: ingest: %w", p.ID(), err)
	}

	in := verdict.Input{
		PackID:         p.ID(),
		PackDigest:     digest,
		RulesetVersion: rs.Version.String(),
		SchemaRecords:  SchemaRecords(res),
	}

	if res.Graph != nil {
		evalOpts := []constraint.EvaluatorOption{constraint.WithLogger(e.logger.With("phase", "constraint"))}
		if e.oracle != nil {
			evalOpts = append(evalOpts, constraint.WithOracle(e.oracle))
		}
		in.ConstraintRecords, err = constraint.NewEvaluator(rs.Constraints, evalOpts...).Evaluate(ctx, res.Graph)
		if err != nil {
			return nil, fmt.Errorf("%s: constraints: %w", p.ID(), err)
		}

		targets := e.resolveScenarios(rs, p, opts)
		runner := flow.NewRunner(rs.Scenarios, flow.WithConcurrency(e.scenarioConcurrency))
		in.Scenarios, err = runner.RunAll(ctx, targets, res.Graph, in.ConstraintRecords)
		if err != nil {
			return nil, fmt.Errorf("%s: scenarios: %w", p.ID(), err)
		}
	}

	v, err = verdict.Aggregate(in)
	if err != nil {
		return nil, err
	}

	level := v.HighestLevel()
	e.obs.RecordVerdict(ctx, level, v.Conformant())
	e.logger.InfoContext(ctx, "evaluation complete",
		"pack_id", v.PackID,
		"ruleset", v.RulesetVersion,
		"level", level,
		"conformant", v.Conformant(),
		"records", len(v.Evidence),
		"verdict_id", v.VerdictID,
	)
	return v, nil
}

func (e *Engine) ingestOptions() []artifact.Option {
	opts := []artifact.Option{artifact.WithLogger(e.logger.With("phase", "ingest"))}
	if e.ingestConcurrency > 0 {
		opts = append(opts, artifact.WithConcurrency(e.ingestConcurrency))
	}
	return opts
}

// resolveScenarios returns the scenario ids to run based on options.
func (e *Engine) resolveScenarios(rs *ruleset.Ruleset, p *pack.Pack, opts *EvaluateOptions) []string {
	if len(opts.Scenarios) > 0 {
		return opts.Scenarios
	}
	if ids := p.Scenarios(); len(ids) > 0 {
		return ids
	}
	return rs.Scenarios.IDs()
}

// SchemaRecords converts an ingestion result into L1 evidence: one failed
// record per violation and one passing record per document that produced no
// violation.
func SchemaRecords(res *artifact.Result) []evidence.Record {
	failed := make(map[string]bool, len(res.Violations))
	records := make([]evidence.Record, 0, len(res.Violations)+len(res.Artifacts))
	for _, v := range res.Violations {
		failed[v.Document] = true
		rec := evidence.Record{
			Source:   evidence.SourceSchema,
			Rule:     SchemaRule,
			Module:   v.Kind,
			Severity: evidence.SeverityMust,
			Subject:  v.Document,
			Outcome:  evidence.OutcomeFail,
			Code:     v.Code,
			Reason:   violationReason(v),
		}
		if v.ArtifactID != "" {
			rec.Related = []string{v.ArtifactID}
		}
		records = append(records, rec)
	}
	for _, a := range res.Artifacts {
		if failed[a.Source] {
			continue
		}
		records = append(records, evidence.Record{
			Source:   evidence.SourceSchema,
			Rule:     SchemaRule,
			Module:   a.Kind,
			Severity: evidence.SeverityMust,
			Subject:  a.Source,
			Related:  []string{a.ID},
			Outcome:  evidence.OutcomePass,
		})
	}
	evidence.Sort(records)
	return records
}

func violationReason(v *artifact.Violation) string {
	parts := make([]string, 0, 3)
	for _, s := range []string{v.Reason, v.Field, v.Message} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ": ")
}

// IsFatal reports whether err aborted an evaluation before a verdict could
// be issued because of the pack itself, as opposed to a configuration or
// runtime problem.
func IsFatal(err error) bool {
	var immutable *lifecycle.ImmutableArtifactError
	return errors.Is(err, pack.ErrIntegrity) || errors.As(err, &immutable)
}

// Evaluate runs p against the built-in rulesets.
func Evaluate(ctx context.Context, p *pack.Pack, version string) (*verdict.Verdict, error) {
	catalog, err := ruleset.Builtin()
	if err != nil {
		return nil, err
	}
	return NewEngine(catalog).Evaluate(ctx, p, version, nil)
}
