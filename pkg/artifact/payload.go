package artifact

import (
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/Mindburn-Labs/mplp-conform/pkg/schema"
)

// Payload is the typed view of an artifact's fields. Exactly one concrete
// type exists per module kind.
type Payload interface {
	ModuleKind() schema.Kind
}

type ContextRoot struct {
	Domain      string `mapstructure:"domain" json:"domain"`
	Environment string `mapstructure:"environment" json:"environment"`
	EntryPoint  string `mapstructure:"entry_point" json:"entry_point,omitempty"`
}

type ContextPayload struct {
	Title       string      `mapstructure:"title" json:"title"`
	Summary     string      `mapstructure:"summary" json:"summary,omitempty"`
	Root        ContextRoot `mapstructure:"root" json:"root"`
	OwnerRole   string      `mapstructure:"owner_role" json:"owner_role,omitempty"`
	Constraints []string    `mapstructure:"constraints" json:"constraints,omitempty"`
}

type PlanStep struct {
	StepID       string   `mapstructure:"step_id" json:"step_id"`
	Description  string   `mapstructure:"description" json:"description"`
	Dependencies []string `mapstructure:"dependencies" json:"dependencies,omitempty"`
	AgentRole    string   `mapstructure:"agent_role" json:"agent_role,omitempty"`
	OrderIndex   int      `mapstructure:"order_index" json:"order_index,omitempty"`
}

type PlanPayload struct {
	ContextID        string     `mapstructure:"context_id" json:"context_id"`
	Title            string     `mapstructure:"title" json:"title"`
	Objective        string     `mapstructure:"objective" json:"objective"`
	Steps            []PlanStep `mapstructure:"steps" json:"steps"`
	Constraints      []string   `mapstructure:"constraints" json:"constraints,omitempty"`
	SupersedesPlanID string     `mapstructure:"supersedes_plan_id" json:"supersedes_plan_id,omitempty"`
}

// StepIDs returns the step ids in declaration order.
func (p *PlanPayload) StepIDs() []string {
	out := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		out[i] = s.StepID
	}
	return out
}

type ConfirmDecision struct {
	DecisionID    string `mapstructure:"decision_id" json:"decision_id"`
	Status        string `mapstructure:"status" json:"status"`
	DecidedByRole string `mapstructure:"decided_by_role" json:"decided_by_role,omitempty"`
	Reason        string `mapstructure:"reason" json:"reason,omitempty"`
}

type ConfirmPayload struct {
	ContextID       string            `mapstructure:"context_id" json:"context_id"`
	PlanID          string            `mapstructure:"plan_id" json:"plan_id,omitempty"`
	TargetType      string            `mapstructure:"target_type" json:"target_type"`
	RequestedByRole string            `mapstructure:"requested_by_role" json:"requested_by_role"`
	Decisions       []ConfirmDecision `mapstructure:"decisions" json:"decisions,omitempty"`
	Reason          string            `mapstructure:"reason" json:"reason,omitempty"`
}

type TraceSegment struct {
	SegmentID string `mapstructure:"segment_id" json:"segment_id"`
	Label     string `mapstructure:"label" json:"label"`
	StepID    string `mapstructure:"step_id" json:"step_id,omitempty"`
	StartedAt string `mapstructure:"started_at" json:"started_at,omitempty"`
	Status    string `mapstructure:"status" json:"status,omitempty"`
}

type TracePayload struct {
	ContextID string         `mapstructure:"context_id" json:"context_id"`
	PlanID    string         `mapstructure:"plan_id" json:"plan_id,omitempty"`
	Segments  []TraceSegment `mapstructure:"segments" json:"segments"`
}

type RolePayload struct {
	Name        string   `mapstructure:"name" json:"name"`
	Description string   `mapstructure:"description" json:"description,omitempty"`
	Permissions []string `mapstructure:"permissions" json:"permissions"`
	ContextID   string   `mapstructure:"context_id" json:"context_id,omitempty"`
}

type DialogMessage struct {
	Role    string `mapstructure:"role" json:"role"`
	Content string `mapstructure:"content" json:"content"`
}

type DialogPayload struct {
	ContextID    string          `mapstructure:"context_id" json:"context_id,omitempty"`
	Participants []string        `mapstructure:"participants" json:"participants"`
	Messages     []DialogMessage `mapstructure:"messages" json:"messages,omitempty"`
}

type CollabParticipant struct {
	ParticipantID string `mapstructure:"participant_id" json:"participant_id"`
	RoleID        string `mapstructure:"role_id" json:"role_id"`
	Kind          string `mapstructure:"kind" json:"kind,omitempty"`
}

type CollabPayload struct {
	ContextID    string              `mapstructure:"context_id" json:"context_id"`
	PlanID       string              `mapstructure:"plan_id" json:"plan_id,omitempty"`
	Mode         string              `mapstructure:"mode" json:"mode"`
	Participants []CollabParticipant `mapstructure:"participants" json:"participants"`
	Constraints  []string            `mapstructure:"constraints" json:"constraints,omitempty"`
}

type ExtensionPayload struct {
	Name          string         `mapstructure:"name" json:"name"`
	Version       string         `mapstructure:"version" json:"version"`
	ExtensionType string         `mapstructure:"extension_type" json:"extension_type"`
	ContextID     string         `mapstructure:"context_id" json:"context_id,omitempty"`
	Config        map[string]any `mapstructure:"config" json:"config,omitempty"`
}

type CorePayload struct {
	ProtocolVersion string   `mapstructure:"protocol_version" json:"protocol_version"`
	Modules         []string `mapstructure:"modules" json:"modules"`
	Extensions      []string `mapstructure:"extensions" json:"extensions,omitempty"`
	ContextID       string   `mapstructure:"context_id" json:"context_id,omitempty"`
}

type NetworkNode struct {
	NodeID    string `mapstructure:"node_id" json:"node_id"`
	AgentRole string `mapstructure:"agent_role" json:"agent_role,omitempty"`
}

type NetworkPayload struct {
	ContextID   string        `mapstructure:"context_id" json:"context_id"`
	Topology    string        `mapstructure:"topology" json:"topology"`
	Nodes       []NetworkNode `mapstructure:"nodes" json:"nodes"`
	Constraints []string      `mapstructure:"constraints" json:"constraints,omitempty"`
}

func (*ContextPayload) ModuleKind() schema.Kind   { return schema.KindContext }
func (*PlanPayload) ModuleKind() schema.Kind      { return schema.KindPlan }
func (*ConfirmPayload) ModuleKind() schema.Kind   { return schema.KindConfirm }
func (*TracePayload) ModuleKind() schema.Kind     { return schema.KindTrace }
func (*RolePayload) ModuleKind() schema.Kind      { return schema.KindRole }
func (*DialogPayload) ModuleKind() schema.Kind    { return schema.KindDialog }
func (*CollabPayload) ModuleKind() schema.Kind    { return schema.KindCollab }
func (*ExtensionPayload) ModuleKind() schema.Kind { return schema.KindExtension }
func (*CorePayload) ModuleKind() schema.Kind      { return schema.KindCore }
func (*NetworkPayload) ModuleKind() schema.Kind   { return schema.KindNetwork }

func newPayload(kind schema.Kind) (Payload, error) {
	switch kind {
	case schema.KindContext:
		return &ContextPayload{}, nil
	case schema.KindPlan:
		return &PlanPayload{}, nil
	case schema.KindConfirm:
		return &ConfirmPayload{}, nil
	case schema.KindTrace:
		return &TracePayload{}, nil
	case schema.KindRole:
		return &RolePayload{}, nil
	case schema.KindDialog:
		return &DialogPayload{}, nil
	case schema.KindCollab:
		return &CollabPayload{}, nil
	case schema.KindExtension:
		return &ExtensionPayload{}, nil
	case schema.KindCore:
		return &CorePayload{}, nil
	case schema.KindNetwork:
		return &NetworkPayload{}, nil
	}
	return nil, fmt.Errorf("%w: %q", schema.ErrUnknownModuleKind, kind)
}

// decodePayload maps raw fields onto the typed payload of kind. Unknown
// fields are ignored; they stay available through Artifact.Fields.
func decodePayload(kind schema.Kind, fields map[string]any) (Payload, error) {
	p, err := newPayload(kind)
	if err != nil {
		return nil, err
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "mapstructure",
		Result:  p,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(fields); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", kind, err)
	}
	return p, nil
}
