// Package artifact ingests evidence-pack documents into a linked graph of
// typed MPLP artifacts.
package artifact

import (
	"fmt"

	"github.com/Mindburn-Labs/mplp-conform/pkg/schema"
)

// Document is one raw JSON file of an evidence pack.
type Document struct {
	Path string
	Raw  []byte
}

// Ref is a resolved-or-pending reference from one artifact to another.
type Ref struct {
	Field    string      `json:"field"`
	TargetID string      `json:"target_id"`
	Expected schema.Kind `json:"expected"`
}

// Artifact is one validated MPLP module instance.
type Artifact struct {
	ID      string         `json:"id"`
	Kind    schema.Kind    `json:"kind"`
	Status  string         `json:"status"`
	History []string       `json:"status_history,omitempty"`
	Fields  map[string]any `json:"fields"`
	Payload Payload        `json:"-"`
	Refs    []Ref          `json:"refs,omitempty"`
	Source  string         `json:"source"`
}

// RefTarget returns the id referenced by field, or "".
func (a *Artifact) RefTarget(field string) string {
	for _, r := range a.Refs {
		if r.Field == field {
			return r.TargetID
		}
	}
	return ""
}

// HasStatus reports whether the artifact is, or ever was, in one of statuses.
func (a *Artifact) HasStatus(statuses ...string) bool {
	for _, s := range statuses {
		if a.Status == s {
			return true
		}
		for _, h := range a.History {
			if h == s {
				return true
			}
		}
	}
	return false
}

func (a *Artifact) String() string {
	return fmt.Sprintf("%s/%s", a.Kind, a.ID)
}

// Typed accessors. They return nil when the artifact is of another kind.

func (a *Artifact) Context() *ContextPayload     { p, _ := a.Payload.(*ContextPayload); return p }
func (a *Artifact) Plan() *PlanPayload           { p, _ := a.Payload.(*PlanPayload); return p }
func (a *Artifact) Confirm() *ConfirmPayload     { p, _ := a.Payload.(*ConfirmPayload); return p }
func (a *Artifact) Trace() *TracePayload         { p, _ := a.Payload.(*TracePayload); return p }
func (a *Artifact) Role() *RolePayload           { p, _ := a.Payload.(*RolePayload); return p }
func (a *Artifact) Dialog() *DialogPayload       { p, _ := a.Payload.(*DialogPayload); return p }
func (a *Artifact) Collab() *CollabPayload       { p, _ := a.Payload.(*CollabPayload); return p }
func (a *Artifact) Extension() *ExtensionPayload { p, _ := a.Payload.(*ExtensionPayload); return p }
func (a *Artifact) Core() *CorePayload           { p, _ := a.Payload.(*CorePayload); return p }
func (a *Artifact) Network() *NetworkPayload     { p, _ := a.Payload.(*NetworkPayload); return p }

// Violation is a structural problem found during ingestion. Violations are
// accumulated; none of them stops the remaining documents from being read.
type Violation struct {
	Code       string      `json:"code"`
	Reason     string      `json:"reason,omitempty"`
	Document   string      `json:"document"`
	ArtifactID string      `json:"artifact_id,omitempty"`
	Kind       schema.Kind `json:"kind,omitempty"`
	Field      string      `json:"field,omitempty"`
	Message    string      `json:"message"`
}

func (v *Violation) Error() string {
	if v.Reason != "" {
		return fmt.Sprintf("%s(%s) %s %s: %s", v.Code, v.Reason, v.Document, v.Field, v.Message)
	}
	return fmt.Sprintf("%s %s %s: %s", v.Code, v.Document, v.Field, v.Message)
}

func (v *Violation) less(o *Violation) bool {
	switch {
	case v.Document != o.Document:
		return v.Document < o.Document
	case v.ArtifactID != o.ArtifactID:
		return v.ArtifactID < o.ArtifactID
	case v.Field != o.Field:
		return v.Field < o.Field
	case v.Code != o.Code:
		return v.Code < o.Code
	case v.Reason != o.Reason:
		return v.Reason < o.Reason
	}
	return v.Message < o.Message
}

// Schema violation reasons.
const (
	ReasonMalformedDocument = "malformed_document"
	ReasonUnknownKind       = "unknown_kind"
	ReasonIllegalTransition = "illegal_transition"
	ReasonHistoryMismatch   = "history_mismatch"
	ReasonPayloadDecode     = "payload_decode"
)
