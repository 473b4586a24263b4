package artifact

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/Mindburn-Labs/mplp-conform/pkg/evidence"
	"github.com/Mindburn-Labs/mplp-conform/pkg/lifecycle"
	"github.com/Mindburn-Labs/mplp-conform/pkg/schema"
)

// Result is the outcome of one ingestion.
type Result struct {
	// Graph is nil whenever Violations is non-empty.
	Graph *Graph
	// Violations are sorted by document, artifact, field and code.
	Violations []*Violation
	// Artifacts lists every document that passed per-document validation,
	// in document path order, whether or not the graph could be linked.
	Artifacts []*Artifact
}

// Ingester validates documents against a registry and links them.
type Ingester struct {
	reg     *schema.Registry
	machine *lifecycle.Machine
	limit   int
	logger  *slog.Logger
}

// Option configures an Ingester.
type Option func(*Ingester)

// WithConcurrency bounds the number of documents validated at once.
func WithConcurrency(n int) Option {
	return func(i *Ingester) {
		if n > 0 {
			i.limit = n
		}
	}
}

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(i *Ingester) { i.logger = l }
}

// NewIngester creates an ingester bound to one ruleset's registry and
// lifecycle tables.
func NewIngester(reg *schema.Registry, machine *lifecycle.Machine, opts ...Option) *Ingester {
	i := &Ingester{
		reg:     reg,
		machine: machine,
		limit:   8,
		logger:  slog.Default().With("component", "artifact.ingest"),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

type docResult struct {
	artifact   *Artifact
	violations []*Violation
	fatal      error
}

// Ingest parses and validates every document, then resolves references
// across the whole set. Documents are processed in path order so the result
// is independent of input order and scheduling.
//
// The returned error is non-nil only for cancellation or a fatal
// *lifecycle.ImmutableArtifactError found while replaying a status history.
func (i *Ingester) Ingest(ctx context.Context, docs []Document) (*Result, error) {
	sorted := make([]Document, len(docs))
	copy(sorted, docs)
	sort.SliceStable(sorted, func(a, b int) bool { return sorted[a].Path < sorted[b].Path })

	results := make([]docResult, len(sorted))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.limit)
	for idx := range sorted {
		idx := idx
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[idx] = i.parse(sorted[idx])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}

	res := &Result{}
	for _, r := range results {
		if r.fatal != nil {
			return nil, r.fatal
		}
		res.Violations = append(res.Violations, r.violations...)
		if r.artifact != nil {
			res.Artifacts = append(res.Artifacts, r.artifact)
		}
	}

	// Barrier passed: every document is parsed, references can be resolved.
	byID := make(map[string]*Artifact, len(res.Artifacts))
	for _, a := range res.Artifacts {
		if first, dup := byID[a.ID]; dup {
			res.Violations = append(res.Violations, &Violation{
				Code:       evidence.ReasonDuplicateArtifact,
				Document:   a.Source,
				ArtifactID: a.ID,
				Kind:       a.Kind,
				Field:      schema.FieldID,
				Message:    fmt.Sprintf("id already defined by %s", first.Source),
			})
			continue
		}
		byID[a.ID] = a
	}
	for _, a := range res.Artifacts {
		for _, ref := range a.Refs {
			target, ok := byID[ref.TargetID]
			switch {
			case !ok:
				res.Violations = append(res.Violations, &Violation{
					Code:       evidence.ReasonDanglingReference,
					Document:   a.Source,
					ArtifactID: a.ID,
					Kind:       a.Kind,
					Field:      ref.Field,
					Message:    fmt.Sprintf("%s %q not found in pack", ref.Expected, ref.TargetID),
				})
			case target.Kind != ref.Expected:
				res.Violations = append(res.Violations, &Violation{
					Code:       evidence.ReasonReferenceKindMismatch,
					Document:   a.Source,
					ArtifactID: a.ID,
					Kind:       a.Kind,
					Field:      ref.Field,
					Message:    fmt.Sprintf("%q is a %s, expected %s", ref.TargetID, target.Kind, ref.Expected),
				})
			}
		}
	}

	sort.SliceStable(res.Violations, func(a, b int) bool { return res.Violations[a].less(res.Violations[b]) })
	if len(res.Violations) > 0 {
		i.logger.InfoContext(ctx, "ingestion rejected pack",
			"documents", len(sorted),
			"violations", len(res.Violations),
		)
		return res, nil
	}
	res.Graph = newGraph(i.machine, res.Artifacts)
	return res, nil
}

func (i *Ingester) parse(doc Document) docResult {
	schemaViolation := func(reason, field, msg string) *Violation {
		return &Violation{Code: evidence.ReasonSchemaViolation, Reason: reason, Document: doc.Path, Field: field, Message: msg}
	}

	dec := json.NewDecoder(bytes.NewReader(doc.Raw))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return docResult{violations: []*Violation{schemaViolation(ReasonMalformedDocument, "", err.Error())}}
	}
	if dec.More() {
		return docResult{violations: []*Violation{schemaViolation(ReasonMalformedDocument, "", "trailing data after JSON value")}}
	}
	fields, ok := raw.(map[string]any)
	if !ok {
		return docResult{violations: []*Violation{schemaViolation(ReasonMalformedDocument, "", "document is not a JSON object")}}
	}

	kindStr, _ := fields[schema.FieldKind].(string)
	kind, ok := schema.ParseKind(kindStr)
	if !ok {
		return docResult{violations: []*Violation{schemaViolation(ReasonUnknownKind, schema.FieldKind, fmt.Sprintf("unknown module kind %q", kindStr))}}
	}
	def, err := i.reg.Get(kind)
	if err != nil {
		return docResult{violations: []*Violation{schemaViolation(ReasonUnknownKind, schema.FieldKind, err.Error())}}
	}

	id, _ := fields[schema.FieldID].(string)
	if errs := def.Validate(raw); len(errs) > 0 {
		out := make([]*Violation, 0, len(errs))
		for _, fe := range errs {
			v := schemaViolation(fe.Code, fe.Field, fe.Message)
			v.ArtifactID, v.Kind = id, kind
			out = append(out, v)
		}
		return docResult{violations: out}
	}

	payload, err := decodePayload(kind, fields)
	if err != nil {
		v := schemaViolation(ReasonPayloadDecode, "", err.Error())
		v.ArtifactID, v.Kind = id, kind
		return docResult{violations: []*Violation{v}}
	}

	a := &Artifact{
		ID:      id,
		Kind:    kind,
		Status:  fields[schema.FieldStatus].(string),
		Fields:  fields,
		Payload: payload,
		Source:  doc.Path,
	}
	if hist, ok := fields[schema.FieldStatusHistory].([]any); ok {
		for _, h := range hist {
			a.History = append(a.History, h.(string))
		}
	}
	for _, ref := range def.References() {
		if target, ok := fields[ref.Field].(string); ok && target != "" {
			a.Refs = append(a.Refs, Ref{Field: ref.Field, TargetID: target, Expected: ref.Target})
		}
	}

	violations, fatal := i.replay(a)
	if fatal != nil {
		return docResult{fatal: fatal}
	}
	return docResult{artifact: a, violations: violations}
}

// replay walks the status history through the lifecycle tables.
func (i *Ingester) replay(a *Artifact) ([]*Violation, error) {
	if len(a.History) == 0 {
		return nil, nil
	}
	var out []*Violation
	for n := 1; n < len(a.History); n++ {
		from, to := a.History[n-1], a.History[n]
		err := i.machine.Guard(a.ID, a.Kind, from, to)
		var immutable *lifecycle.ImmutableArtifactError
		switch {
		case err == nil:
		case errors.As(err, &immutable):
			return nil, fmt.Errorf("%s: %w", a.Source, immutable)
		default:
			out = append(out, &Violation{
				Code:       evidence.ReasonSchemaViolation,
				Reason:     ReasonIllegalTransition,
				Document:   a.Source,
				ArtifactID: a.ID,
				Kind:       a.Kind,
				Field:      fmt.Sprintf("%s[%d]", schema.FieldStatusHistory, n),
				Message:    err.Error(),
			})
		}
	}
	if last := a.History[len(a.History)-1]; last != a.Status {
		out = append(out, &Violation{
			Code:       evidence.ReasonSchemaViolation,
			Reason:     ReasonHistoryMismatch,
			Document:   a.Source,
			ArtifactID: a.ID,
			Kind:       a.Kind,
			Field:      schema.FieldStatusHistory,
			Message:    fmt.Sprintf("history ends in %q but status is %q", last, a.Status),
		})
	}
	return out, nil
}
